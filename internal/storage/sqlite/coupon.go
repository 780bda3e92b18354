package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-faster/errors"

	"github.com/carrykaro/coupon-service/internal/domain/auth"
	"github.com/carrykaro/coupon-service/internal/domain/coupon"
)

const (
	couponColumns = `id, code, discount, status, owner_id, created_at,
		approved_by, approved_at, used_at, scanned_count`

	latestSinceSQL = `SELECT ` + couponColumns + ` FROM coupons
		WHERE owner_id = ? AND created_at >= ?
		ORDER BY created_at DESC LIMIT 1`

	codeExistsSQL   = `SELECT EXISTS (SELECT 1 FROM coupons WHERE code = ?)`
	insertCouponSQL = `INSERT INTO coupons (code, discount, status, owner_id, created_at)
		VALUES (?, ?, ?, ?, ?)`

	getByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE code = ?`
	getByIDSQL   = `SELECT ` + couponColumns + ` FROM coupons WHERE id = ?`

	updateCouponSQL = `UPDATE coupons
		SET status = ?, approved_by = ?, approved_at = ?, used_at = ?
		WHERE id = ?`

	incrementScansSQL = `UPDATE coupons SET scanned_count = scanned_count + 1
		WHERE id = ? RETURNING scanned_count`

	appendScanSQL = `INSERT INTO scan_log (coupon_id, user_agent, source_address, scanned_at)
		VALUES (?, ?, ?, ?)`

	listSQL        = `SELECT ` + couponColumns + ` FROM coupons ORDER BY created_at DESC, id DESC`
	listByOwnerSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE owner_id = ?
		ORDER BY created_at DESC, id DESC`

	scanLogSQL = `SELECT id, coupon_id, user_agent, source_address, scanned_at
		FROM scan_log WHERE coupon_id = ? ORDER BY scanned_at DESC, id DESC`

	deleteByOwnerSQL = `DELETE FROM coupons WHERE owner_id = ?`
	codesSQL         = `SELECT code FROM coupons`
)

var (
	_ coupon.Repository = (*CouponRepository)(nil)
	_ coupon.Tx         = (*couponTx)(nil)
)

// CouponRepository implements coupon.Repository on SQLite.
type CouponRepository struct {
	db *sql.DB
}

// NewCouponRepository returns a CouponRepository using conn.
func NewCouponRepository(conn *sql.DB) *CouponRepository {
	return &CouponRepository{db: conn}
}

// InTx runs fn in a transaction, rolling back when fn fails.
func (r *CouponRepository) InTx(ctx context.Context, fn func(ctx context.Context, tx coupon.Tx) error) (rerr error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rerr != nil {
			_ = tx.Rollback()
		}
	}()

	if err := fn(ctx, &couponTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// List returns every coupon, newest first.
func (r *CouponRepository) List(ctx context.Context) ([]coupon.Coupon, error) {
	rows, err := r.db.QueryContext(ctx, listSQL)
	if err != nil {
		return nil, fmt.Errorf("listing coupons: %w", err)
	}
	return collectCoupons(rows)
}

// ListByOwner returns the coupons of ownerID, newest first.
func (r *CouponRepository) ListByOwner(ctx context.Context, ownerID int64) ([]coupon.Coupon, error) {
	rows, err := r.db.QueryContext(ctx, listByOwnerSQL, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing coupons of owner %d: %w", ownerID, err)
	}
	return collectCoupons(rows)
}

// ScanLog returns the audit entries of couponID, newest first.
func (r *CouponRepository) ScanLog(ctx context.Context, couponID int64) ([]coupon.ScanEntry, error) {
	rows, err := r.db.QueryContext(ctx, scanLogSQL, couponID)
	if err != nil {
		return nil, fmt.Errorf("reading scan log of coupon %d: %w", couponID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []coupon.ScanEntry
	for rows.Next() {
		var (
			e         coupon.ScanEntry
			userAgent sql.NullString
			address   sql.NullString
			scannedAt int64
		)
		if err := rows.Scan(&e.ID, &e.CouponID, &userAgent, &address, &scannedAt); err != nil {
			return nil, fmt.Errorf("scanning scan entry: %w", err)
		}
		e.UserAgent = userAgent.String
		e.SourceAddress = address.String
		e.ScannedAt = fromMicros(scannedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteByOwner removes the owner's coupons. Scan entries follow through the
// ON DELETE CASCADE foreign key.
func (r *CouponRepository) DeleteByOwner(ctx context.Context, ownerID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, deleteByOwnerSQL, ownerID)
	if err != nil {
		return 0, fmt.Errorf("deleting coupons of owner %d: %w", ownerID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deleting coupons of owner %d: %w", ownerID, err)
	}
	return n, nil
}

// Codes streams every issued code to fn. The codes are buffered first, so fn
// may call back into the repository.
func (r *CouponRepository) Codes(ctx context.Context, fn func(code string) error) error {
	rows, err := r.db.QueryContext(ctx, codesSQL)
	if err != nil {
		return fmt.Errorf("streaming codes: %w", err)
	}
	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scanning code: %w", err)
		}
		codes = append(codes, code)
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, code := range codes {
		if err := fn(code); err != nil {
			return err
		}
	}
	return nil
}

type couponTx struct {
	tx *sql.Tx
}

// LockOwner is a no-op: the single connection already serializes writers.
func (t *couponTx) LockOwner(context.Context, int64) error { return nil }

func (t *couponTx) LatestSince(ctx context.Context, ownerID int64, since time.Time) (*coupon.Coupon, error) {
	row := t.tx.QueryRowContext(ctx, latestSinceSQL, ownerID, toMicros(since))
	c, err := scanCoupon(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, coupon.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding latest coupon of owner %d: %w", ownerID, err)
	}
	return c, nil
}

func (t *couponTx) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	if err := t.tx.QueryRowContext(ctx, codeExistsSQL, code).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking code %q: %w", code, err)
	}
	return exists, nil
}

func (t *couponTx) Insert(ctx context.Context, c *coupon.Coupon) error {
	res, err := t.tx.ExecContext(ctx, insertCouponSQL,
		c.Code, c.Discount, string(c.Status), c.OwnerID, toMicros(c.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return coupon.ErrDuplicateCode
		}
		return fmt.Errorf("inserting coupon %q: %w", c.Code, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("inserting coupon %q: %w", c.Code, err)
	}
	c.ID = id
	return nil
}

func (t *couponTx) GetByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	c, err := scanCoupon(t.tx.QueryRowContext(ctx, getByCodeSQL, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, coupon.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return c, nil
}

func (t *couponTx) GetByID(ctx context.Context, id int64) (*coupon.Coupon, error) {
	c, err := scanCoupon(t.tx.QueryRowContext(ctx, getByIDSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, coupon.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding coupon %d: %w", id, err)
	}
	return c, nil
}

func (t *couponTx) Update(ctx context.Context, c *coupon.Coupon) error {
	res, err := t.tx.ExecContext(ctx, updateCouponSQL,
		string(c.Status), nullString(c.ApprovedBy.String()),
		nullMicros(c.ApprovedAt), nullMicros(c.UsedAt), c.ID,
	)
	if err != nil {
		return fmt.Errorf("updating coupon %q: %w", c.Code, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating coupon %q: %w", c.Code, err)
	}
	if n == 0 {
		return coupon.ErrNotFound
	}
	return nil
}

func (t *couponTx) IncrementScans(ctx context.Context, couponID int64) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, incrementScansSQL, couponID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, coupon.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("incrementing scans of coupon %d: %w", couponID, err)
	}
	return n, nil
}

func (t *couponTx) AppendScan(ctx context.Context, e *coupon.ScanEntry) error {
	res, err := t.tx.ExecContext(ctx, appendScanSQL,
		e.CouponID, nullString(e.UserAgent), nullString(e.SourceAddress), toMicros(e.ScannedAt),
	)
	if err != nil {
		return fmt.Errorf("appending scan of coupon %d: %w", e.CouponID, err)
	}
	if e.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("appending scan of coupon %d: %w", e.CouponID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCoupon(row rowScanner) (*coupon.Coupon, error) {
	var (
		c          coupon.Coupon
		status     string
		createdAt  int64
		approvedBy sql.NullString
		approvedAt sql.NullInt64
		usedAt     sql.NullInt64
	)
	err := row.Scan(
		&c.ID, &c.Code, &c.Discount, &status, &c.OwnerID, &createdAt,
		&approvedBy, &approvedAt, &usedAt, &c.ScannedCount,
	)
	if err != nil {
		return nil, err
	}
	c.Status = coupon.Status(status)
	c.CreatedAt = fromMicros(createdAt)
	c.ApprovedBy = auth.Role(approvedBy.String)
	c.ApprovedAt = ptrMicros(approvedAt)
	c.UsedAt = ptrMicros(usedAt)
	return &c, nil
}

func collectCoupons(rows *sql.Rows) ([]coupon.Coupon, error) {
	defer func() { _ = rows.Close() }()

	var out []coupon.Coupon
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning coupon: %w", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating coupons: %w", err)
	}
	return out, nil
}
