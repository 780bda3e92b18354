package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// DefaultIssueWindow is the rolling window during which an owner may hold
// only one newly issued coupon.
const DefaultIssueWindow = 7 * 24 * time.Hour

// Decision is the outcome of a throttle check.
type Decision struct {
	Allowed       bool
	NextAllowedAt time.Time
}

// Throttle limits issuance to one coupon per owner per rolling window.
type Throttle struct {
	Window time.Duration
}

// Decide applies the window to the owner's most recent coupon, which may
// be nil.
func (t Throttle) Decide(latest *Coupon, now time.Time) Decision {
	if latest == nil {
		return Decision{Allowed: true}
	}
	next := latest.CreatedAt.Add(t.Window)
	if !now.Before(next) {
		return Decision{Allowed: true}
	}
	return Decision{NextAllowedAt: next}
}

// MayIssue looks up the owner's latest coupon inside the window. It must be
// called in the same transaction that inserts the new coupon, after
// Tx.LockOwner.
func (t Throttle) MayIssue(ctx context.Context, tx Tx, ownerID int64, now time.Time) (Decision, error) {
	latest, err := tx.LatestSince(ctx, ownerID, now.Add(-t.Window))
	switch {
	case errors.Is(err, ErrNotFound):
		return Decision{Allowed: true}, nil
	case err != nil:
		return Decision{}, errors.Wrap(err, "latest coupon")
	}
	return t.Decide(latest, now), nil
}
