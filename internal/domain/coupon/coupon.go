// Package coupon implements the coupon lifecycle: rate-limited issuance,
// review (approve/reject), redemption and the scan audit log.
package coupon

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/carrykaro/coupon-service/internal/domain/auth"
)

// Status is a coupon lifecycle state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusUsed     Status = "used"
)

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusUsed || s == StatusRejected
}

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusUsed:
		return true
	default:
		return false
	}
}

func (s Status) String() string { return string(s) }

// Coupon is a discount offer identified by a unique code.
//
// Code, Discount, OwnerID and CreatedAt are fixed at creation.
type Coupon struct {
	ID       int64
	Code     string
	Discount int
	Status   Status
	OwnerID  int64

	CreatedAt time.Time
	// ApprovedBy is empty until the coupon is approved.
	ApprovedBy auth.Role
	ApprovedAt *time.Time
	UsedAt     *time.Time

	ScannedCount int
}

// Savings is the result of pricing a subtotal with a coupon.
type Savings struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Total    decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

// Apply computes the discount the coupon grants on subtotal. Amounts are
// rounded to 2 decimal places and the total never goes below zero.
func (c *Coupon) Apply(subtotal decimal.Decimal) Savings {
	if subtotal.IsNegative() {
		subtotal = decimal.Zero
	}
	discount := subtotal.Mul(decimal.NewFromInt(int64(c.Discount))).Div(hundred).Round(2)
	total := subtotal.Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	return Savings{
		Subtotal: subtotal.Round(2),
		Discount: discount,
		Total:    total.Round(2),
	}
}

// ScanEntry is one audit record of a coupon being viewed.
type ScanEntry struct {
	ID       int64
	CouponID int64
	// UserAgent and SourceAddress are empty when the request did not carry them.
	UserAgent     string
	SourceAddress string
	ScannedAt     time.Time
}

// Tx is a unit of work against the coupon store. Implementations must make
// every method observe and produce state inside one database transaction.
type Tx interface {
	// LockOwner serializes issuance for ownerID until the transaction ends.
	LockOwner(ctx context.Context, ownerID int64) error
	// LatestSince returns the most recent coupon of ownerID created at or
	// after since, or ErrNotFound.
	LatestSince(ctx context.Context, ownerID int64, since time.Time) (*Coupon, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	// Insert persists c and sets c.ID. Returns ErrDuplicateCode when the
	// code is already taken.
	Insert(ctx context.Context, c *Coupon) error
	// GetByCode and GetByID lock the returned row for the rest of the
	// transaction. They return ErrNotFound for unknown keys.
	GetByCode(ctx context.Context, code string) (*Coupon, error)
	GetByID(ctx context.Context, id int64) (*Coupon, error)
	// Update writes the mutable fields of c.
	Update(ctx context.Context, c *Coupon) error
	// IncrementScans bumps scanned_count and returns the new value.
	IncrementScans(ctx context.Context, couponID int64) (int, error)
	AppendScan(ctx context.Context, e *ScanEntry) error
}

// Repository is the persistent coupon store.
type Repository interface {
	// InTx runs fn inside a transaction, committing when fn returns nil.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// List returns every coupon, newest first.
	List(ctx context.Context) ([]Coupon, error)
	// ListByOwner returns the coupons of ownerID, newest first.
	ListByOwner(ctx context.Context, ownerID int64) ([]Coupon, error)
	// ScanLog returns the entries of couponID, newest first.
	ScanLog(ctx context.Context, couponID int64) ([]ScanEntry, error)
	// DeleteByOwner removes all coupons of ownerID together with their scan
	// entries and returns the number of coupons removed.
	DeleteByOwner(ctx context.Context, ownerID int64) (int64, error)
	// Codes streams every issued code.
	Codes(ctx context.Context, fn func(code string) error) error
}
