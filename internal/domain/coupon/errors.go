package coupon

import (
	"fmt"
	"time"

	"github.com/go-faster/errors"
)

var (
	// ErrNotAuthorized is returned when the actor's role may not perform an operation.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrNotFound is returned for unknown coupon codes or ids.
	ErrNotFound = errors.New("coupon not found")
	// ErrInvalidInput is returned for malformed identifiers.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidTransition is returned when a review targets a non-pending coupon.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrDuplicateCode is returned by Tx.Insert when the code is taken.
	ErrDuplicateCode = errors.New("coupon code already exists")
	// ErrCodeSpaceExhausted is returned when every generation attempt collided.
	ErrCodeSpaceExhausted = errors.New("could not generate a unique coupon code")
)

// DeniedError is returned when the issuance throttle rejects a request.
type DeniedError struct {
	OwnerID       int64
	NextAllowedAt time.Time
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("owner %d may request a new coupon at %s",
		e.OwnerID, e.NextAllowedAt.Format(time.RFC3339))
}

// TransitionError describes a rejected status change.
type TransitionError struct {
	Code string
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("coupon %s: cannot move from %s to %s", e.Code, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// Redemption failure reasons, phrased for end users.
const (
	ReasonNotFound    = "Coupon not found"
	ReasonNotActive   = "Coupon not active"
	ReasonAlreadyUsed = "Coupon already used"
)

// RedemptionError is returned when a coupon cannot be redeemed. It is an
// expected outcome, not a fault: Reason is safe to show to the caller.
type RedemptionError struct {
	Code   string
	Reason string
}

func (e *RedemptionError) Error() string {
	return fmt.Sprintf("redeem %s: %s", e.Code, e.Reason)
}

// Unwrap lets errors.Is(err, ErrNotFound) match unknown codes.
func (e *RedemptionError) Unwrap() error {
	if e.Reason == ReasonNotFound {
		return ErrNotFound
	}
	return nil
}
