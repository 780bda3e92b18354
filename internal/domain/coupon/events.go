package coupon

import (
	"context"
	"time"
)

// EventType names a committed lifecycle change.
type EventType string

const (
	EventIssued   EventType = "coupon.issued"
	EventApproved EventType = "coupon.approved"
	EventRejected EventType = "coupon.rejected"
	EventRedeemed EventType = "coupon.redeemed"
	EventScanned  EventType = "coupon.scanned"
)

// Event is emitted after the transaction producing it has committed.
type Event struct {
	Type   EventType
	At     time.Time
	Coupon Coupon
	// Actor is the role that caused the change, empty for anonymous scans
	// and redemptions.
	Actor string
}

// EventSink receives lifecycle events. Publish errors never undo the
// committed change; the service only logs them.
type EventSink interface {
	Publish(ctx context.Context, e Event) error
}

type nopSink struct{}

func (nopSink) Publish(context.Context, Event) error { return nil }
