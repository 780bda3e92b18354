package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carrykaro/coupon-service/internal/domain/auth"
	"github.com/carrykaro/coupon-service/internal/domain/coupon"
)

const (
	couponColumns = `id, code, discount, status, owner_id, created_at,
		approved_by, approved_at, used_at, scanned_count`

	lockOwnerSQL = `SELECT pg_advisory_xact_lock($1)`

	latestSinceSQL = `SELECT ` + couponColumns + ` FROM coupons
		WHERE owner_id = $1 AND created_at >= $2
		ORDER BY created_at DESC LIMIT 1`

	codeExistsSQL = `SELECT EXISTS (SELECT 1 FROM coupons WHERE code = $1)`

	insertCouponSQL = `INSERT INTO coupons (code, discount, status, owner_id, created_at)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`

	getByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1 FOR UPDATE`
	getByIDSQL   = `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1 FOR UPDATE`

	updateCouponSQL = `UPDATE coupons
		SET status = $2, approved_by = $3, approved_at = $4, used_at = $5
		WHERE id = $1`

	incrementScansSQL = `UPDATE coupons SET scanned_count = scanned_count + 1
		WHERE id = $1 RETURNING scanned_count`

	appendScanSQL = `INSERT INTO scan_log (coupon_id, user_agent, source_address, scanned_at)
		VALUES ($1, $2, $3, $4) RETURNING id`

	listSQL        = `SELECT ` + couponColumns + ` FROM coupons ORDER BY created_at DESC, id DESC`
	listByOwnerSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC`

	scanLogSQL = `SELECT id, coupon_id, user_agent, source_address, scanned_at
		FROM scan_log WHERE coupon_id = $1 ORDER BY scanned_at DESC, id DESC`

	deleteByOwnerSQL = `DELETE FROM coupons WHERE owner_id = $1`
	codesSQL         = `SELECT code FROM coupons`

	uniqueViolation = "23505"
)

var (
	_ coupon.Repository = (*CouponRepository)(nil)
	_ coupon.Tx         = (*couponTx)(nil)
)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
//
// Issuance serializes per owner with a transaction-scoped advisory lock, and
// lifecycle transitions lock the coupon row with SELECT ... FOR UPDATE.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// InTx runs fn in a read-committed transaction.
func (r *CouponRepository) InTx(ctx context.Context, fn func(ctx context.Context, tx coupon.Tx) error) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &couponTx{tx: tx})
	})
}

// List returns every coupon, newest first.
func (r *CouponRepository) List(ctx context.Context) ([]coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, listSQL)
	if err != nil {
		return nil, fmt.Errorf("listing coupons: %w", err)
	}
	out, err := pgx.CollectRows(rows, scanCoupon)
	if err != nil {
		return nil, fmt.Errorf("listing coupons: %w", err)
	}
	return out, nil
}

// ListByOwner returns the coupons of ownerID, newest first.
func (r *CouponRepository) ListByOwner(ctx context.Context, ownerID int64) ([]coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, listByOwnerSQL, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing coupons of owner %d: %w", ownerID, err)
	}
	out, err := pgx.CollectRows(rows, scanCoupon)
	if err != nil {
		return nil, fmt.Errorf("listing coupons of owner %d: %w", ownerID, err)
	}
	return out, nil
}

// ScanLog returns the audit entries of couponID, newest first.
func (r *CouponRepository) ScanLog(ctx context.Context, couponID int64) ([]coupon.ScanEntry, error) {
	rows, err := r.pool.Query(ctx, scanLogSQL, couponID)
	if err != nil {
		return nil, fmt.Errorf("reading scan log of coupon %d: %w", couponID, err)
	}
	out, err := pgx.CollectRows(rows, scanEntry)
	if err != nil {
		return nil, fmt.Errorf("reading scan log of coupon %d: %w", couponID, err)
	}
	return out, nil
}

// DeleteByOwner removes the owner's coupons. Scan entries follow through the
// ON DELETE CASCADE foreign key.
func (r *CouponRepository) DeleteByOwner(ctx context.Context, ownerID int64) (int64, error) {
	tag, err := r.pool.Exec(ctx, deleteByOwnerSQL, ownerID)
	if err != nil {
		return 0, fmt.Errorf("deleting coupons of owner %d: %w", ownerID, err)
	}
	return tag.RowsAffected(), nil
}

// Codes streams every issued code to fn.
func (r *CouponRepository) Codes(ctx context.Context, fn func(code string) error) error {
	rows, err := r.pool.Query(ctx, codesSQL)
	if err != nil {
		return fmt.Errorf("streaming codes: %w", err)
	}
	defer rows.Close()

	var code string
	for rows.Next() {
		if err := rows.Scan(&code); err != nil {
			return fmt.Errorf("scanning code: %w", err)
		}
		if err := fn(code); err != nil {
			return err
		}
	}
	return rows.Err()
}

type couponTx struct {
	tx pgx.Tx
}

func (t *couponTx) LockOwner(ctx context.Context, ownerID int64) error {
	if _, err := t.tx.Exec(ctx, lockOwnerSQL, ownerID); err != nil {
		return fmt.Errorf("locking owner %d: %w", ownerID, err)
	}
	return nil
}

func (t *couponTx) LatestSince(ctx context.Context, ownerID int64, since time.Time) (*coupon.Coupon, error) {
	rows, err := t.tx.Query(ctx, latestSinceSQL, ownerID, since)
	if err != nil {
		return nil, fmt.Errorf("finding latest coupon of owner %d: %w", ownerID, err)
	}
	return collectOne(rows, fmt.Sprintf("latest coupon of owner %d", ownerID))
}

func (t *couponTx) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	if err := t.tx.QueryRow(ctx, codeExistsSQL, code).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking code %q: %w", code, err)
	}
	return exists, nil
}

func (t *couponTx) Insert(ctx context.Context, c *coupon.Coupon) error {
	err := t.tx.QueryRow(ctx, insertCouponSQL,
		c.Code, c.Discount, string(c.Status), c.OwnerID, c.CreatedAt,
	).Scan(&c.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return coupon.ErrDuplicateCode
		}
		return fmt.Errorf("inserting coupon %q: %w", c.Code, err)
	}
	return nil
}

func (t *couponTx) GetByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := t.tx.Query(ctx, getByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return collectOne(rows, fmt.Sprintf("coupon by code %q", code))
}

func (t *couponTx) GetByID(ctx context.Context, id int64) (*coupon.Coupon, error) {
	rows, err := t.tx.Query(ctx, getByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("finding coupon %d: %w", id, err)
	}
	return collectOne(rows, fmt.Sprintf("coupon %d", id))
}

func (t *couponTx) Update(ctx context.Context, c *coupon.Coupon) error {
	var approvedBy *string
	if c.ApprovedBy != "" {
		s := c.ApprovedBy.String()
		approvedBy = &s
	}
	tag, err := t.tx.Exec(ctx, updateCouponSQL, c.ID, string(c.Status), approvedBy, c.ApprovedAt, c.UsedAt)
	if err != nil {
		return fmt.Errorf("updating coupon %q: %w", c.Code, err)
	}
	if tag.RowsAffected() == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

func (t *couponTx) IncrementScans(ctx context.Context, couponID int64) (int, error) {
	var n int
	err := t.tx.QueryRow(ctx, incrementScansSQL, couponID).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, coupon.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("incrementing scans of coupon %d: %w", couponID, err)
	}
	return n, nil
}

func (t *couponTx) AppendScan(ctx context.Context, e *coupon.ScanEntry) error {
	err := t.tx.QueryRow(ctx, appendScanSQL,
		e.CouponID, nullable(e.UserAgent), nullable(e.SourceAddress), e.ScannedAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("appending scan of coupon %d: %w", e.CouponID, err)
	}
	return nil
}

func collectOne(rows pgx.Rows, what string) (*coupon.Coupon, error) {
	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding %s: %w", what, err)
	}
	return &c, nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c          coupon.Coupon
		status     string
		approvedBy *string
	)
	err := row.Scan(
		&c.ID, &c.Code, &c.Discount, &status, &c.OwnerID, &c.CreatedAt,
		&approvedBy, &c.ApprovedAt, &c.UsedAt, &c.ScannedCount,
	)
	if err != nil {
		return c, err
	}
	c.Status = coupon.Status(status)
	if approvedBy != nil {
		c.ApprovedBy = auth.Role(*approvedBy)
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.ApprovedAt = utcPtr(c.ApprovedAt)
	c.UsedAt = utcPtr(c.UsedAt)
	return c, nil
}

func scanEntry(row pgx.CollectableRow) (coupon.ScanEntry, error) {
	var (
		e         coupon.ScanEntry
		userAgent *string
		address   *string
	)
	if err := row.Scan(&e.ID, &e.CouponID, &userAgent, &address, &e.ScannedAt); err != nil {
		return e, err
	}
	if userAgent != nil {
		e.UserAgent = *userAgent
	}
	if address != nil {
		e.SourceAddress = *address
	}
	e.ScannedAt = e.ScannedAt.UTC()
	return e, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
