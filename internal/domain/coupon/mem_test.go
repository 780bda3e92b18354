package coupon

import (
	"context"
	"slices"
	"sync"
	"time"
)

// memRepo is an in-memory Repository. InTx holds a single mutex for the
// whole transaction and restores a snapshot when fn fails.
type memRepo struct {
	mu      sync.Mutex
	coupons []Coupon
	scans   []ScanEntry
	nextID  int64
	nextSID int64

	// failInsert makes the next n inserts report ErrDuplicateCode.
	failInsert int
	locked     []int64
}

var _ Repository = (*memRepo)(nil)

func newMemRepo() *memRepo {
	return &memRepo{}
}

func (r *memRepo) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	coupons := slices.Clone(r.coupons)
	scans := slices.Clone(r.scans)
	nextID, nextSID := r.nextID, r.nextSID

	if err := fn(ctx, memTx{r}); err != nil {
		r.coupons, r.scans = coupons, scans
		r.nextID, r.nextSID = nextID, nextSID
		return err
	}
	return nil
}

func (r *memRepo) List(context.Context) ([]Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := slices.Clone(r.coupons)
	slices.Reverse(out)
	return out, nil
}

func (r *memRepo) ListByOwner(_ context.Context, ownerID int64) ([]Coupon, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Coupon
	for i := len(r.coupons) - 1; i >= 0; i-- {
		if r.coupons[i].OwnerID == ownerID {
			out = append(out, r.coupons[i])
		}
	}
	return out, nil
}

func (r *memRepo) ScanLog(_ context.Context, couponID int64) ([]ScanEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ScanEntry
	for i := len(r.scans) - 1; i >= 0; i-- {
		if r.scans[i].CouponID == couponID {
			out = append(out, r.scans[i])
		}
	}
	return out, nil
}

func (r *memRepo) DeleteByOwner(_ context.Context, ownerID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := map[int64]bool{}
	r.coupons = slices.DeleteFunc(r.coupons, func(c Coupon) bool {
		if c.OwnerID == ownerID {
			removed[c.ID] = true
			return true
		}
		return false
	})
	r.scans = slices.DeleteFunc(r.scans, func(e ScanEntry) bool { return removed[e.CouponID] })
	return int64(len(removed)), nil
}

func (r *memRepo) Codes(_ context.Context, fn func(string) error) error {
	r.mu.Lock()
	codes := make([]string, 0, len(r.coupons))
	for _, c := range r.coupons {
		codes = append(codes, c.Code)
	}
	r.mu.Unlock()
	for _, c := range codes {
		if err := fn(c); err != nil {
			return err
		}
	}
	return nil
}

func (r *memRepo) byCode(code string) *Coupon {
	for i := range r.coupons {
		if r.coupons[i].Code == code {
			return &r.coupons[i]
		}
	}
	return nil
}

func (r *memRepo) byID(id int64) *Coupon {
	for i := range r.coupons {
		if r.coupons[i].ID == id {
			return &r.coupons[i]
		}
	}
	return nil
}

// memTx runs with memRepo.mu held.
type memTx struct{ r *memRepo }

func (t memTx) LockOwner(_ context.Context, ownerID int64) error {
	t.r.locked = append(t.r.locked, ownerID)
	return nil
}

func (t memTx) LatestSince(_ context.Context, ownerID int64, since time.Time) (*Coupon, error) {
	var latest *Coupon
	for i := range t.r.coupons {
		c := &t.r.coupons[i]
		if c.OwnerID != ownerID || c.CreatedAt.Before(since) {
			continue
		}
		if latest == nil || c.CreatedAt.After(latest.CreatedAt) {
			latest = c
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	out := *latest
	return &out, nil
}

func (t memTx) CodeExists(_ context.Context, code string) (bool, error) {
	return t.r.byCode(code) != nil, nil
}

func (t memTx) Insert(_ context.Context, c *Coupon) error {
	if t.r.failInsert > 0 {
		t.r.failInsert--
		return ErrDuplicateCode
	}
	if t.r.byCode(c.Code) != nil {
		return ErrDuplicateCode
	}
	t.r.nextID++
	c.ID = t.r.nextID
	t.r.coupons = append(t.r.coupons, *c)
	return nil
}

func (t memTx) GetByCode(_ context.Context, code string) (*Coupon, error) {
	c := t.r.byCode(code)
	if c == nil {
		return nil, ErrNotFound
	}
	out := *c
	return &out, nil
}

func (t memTx) GetByID(_ context.Context, id int64) (*Coupon, error) {
	c := t.r.byID(id)
	if c == nil {
		return nil, ErrNotFound
	}
	out := *c
	return &out, nil
}

func (t memTx) Update(_ context.Context, c *Coupon) error {
	cur := t.r.byID(c.ID)
	if cur == nil {
		return ErrNotFound
	}
	cur.Status = c.Status
	cur.ApprovedBy = c.ApprovedBy
	cur.ApprovedAt = c.ApprovedAt
	cur.UsedAt = c.UsedAt
	return nil
}

func (t memTx) IncrementScans(_ context.Context, couponID int64) (int, error) {
	cur := t.r.byID(couponID)
	if cur == nil {
		return 0, ErrNotFound
	}
	cur.ScannedCount++
	return cur.ScannedCount, nil
}

func (t memTx) AppendScan(_ context.Context, e *ScanEntry) error {
	t.r.nextSID++
	e.ID = t.r.nextSID
	t.r.scans = append(t.r.scans, *e)
	return nil
}

// fixedGenerator returns codes from a list, cycling on the last one.
type fixedGenerator struct {
	mu    sync.Mutex
	codes []string
	i     int
}

func (g *fixedGenerator) Generate() (string, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	code := g.codes[min(g.i, len(g.codes)-1)]
	g.i++
	return code, 20
}

// recordingSink collects published events.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *recordingSink) Publish(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func (s *recordingSink) types() []EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}
