package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/carrykaro/coupon-service/internal/domain/auth"
)

const (
	instrumentationName = "github.com/carrykaro/coupon-service/internal/domain/coupon"
	defaultMaxAttempts  = 5
)

// Option configures a Service.
type Option func(*Service)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithGenerator replaces the code generator.
func WithGenerator(g Generator) Option {
	return func(s *Service) { s.gen = g }
}

// WithIssueWindow sets the throttle window.
func WithIssueWindow(d time.Duration) Option {
	return func(s *Service) { s.throttle.Window = d }
}

// WithMaxAttempts bounds how many codes are tried before giving up.
func WithMaxAttempts(n int) Option {
	return func(s *Service) { s.maxAttempts = n }
}

// WithCodeIndex lets the issuer skip existence queries for codes the index
// has never seen.
func WithCodeIndex(x *CodeIndex) Option {
	return func(s *Service) { s.index = x }
}

// WithEventSink sets the receiver of committed lifecycle events.
func WithEventSink(sink EventSink) Option {
	return func(s *Service) { s.events = sink }
}

// WithLegacyTransitions restores the original, permissive rules: reviews
// apply to coupons in any state, and redemption checks "not approved" before
// "already used", so a used coupon reports as not active.
func WithLegacyTransitions(on bool) Option {
	return func(s *Service) { s.legacy = on }
}

// WithTracerProvider sets the provider used for operation spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracerProvider = tp }
}

// WithMeterProvider sets the provider used for operation counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meterProvider = mp }
}

// Service is the coupon lifecycle engine. Every state change runs as a
// single transaction against the Repository.
type Service struct {
	repo        Repository
	gen         Generator
	throttle    Throttle
	index       *CodeIndex
	events      EventSink
	now         func() time.Time
	legacy      bool
	maxAttempts int

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	tracer         trace.Tracer
	ops            metric.Int64Counter
}

// NewService creates a Service backed by repo.
func NewService(repo Repository, opts ...Option) (*Service, error) {
	s := &Service{
		repo:           repo,
		gen:            NewRandomGenerator(nil),
		throttle:       Throttle{Window: DefaultIssueWindow},
		events:         nopSink{},
		now:            time.Now,
		maxAttempts:    defaultMaxAttempts,
		tracerProvider: tracenoop.NewTracerProvider(),
		meterProvider:  metricnoop.NewMeterProvider(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.maxAttempts < 1 {
		s.maxAttempts = 1
	}
	if s.throttle.Window <= 0 {
		return nil, errors.Errorf("issue window must be positive, got %s", s.throttle.Window)
	}

	s.tracer = s.tracerProvider.Tracer(instrumentationName)
	ops, err := s.meterProvider.Meter(instrumentationName).Int64Counter("coupon.operations",
		metric.WithDescription("Coupon core operations by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create operations counter")
	}
	s.ops = ops

	return s, nil
}

func (s *Service) clock() time.Time {
	// Stores keep microsecond precision.
	return s.now().UTC().Truncate(time.Microsecond)
}

// Create issues a new pending coupon for ownerID, or returns *DeniedError
// when the owner already received one inside the window.
func (s *Service) Create(ctx context.Context, ownerID int64) (_ *Coupon, rerr error) {
	ctx, span := s.tracer.Start(ctx, "coupon.Create",
		trace.WithAttributes(attribute.Int64("coupon.owner_id", ownerID)))
	defer func() { s.finish(ctx, span, "create", rerr) }()

	if ownerID <= 0 {
		return nil, errors.Wrapf(ErrInvalidInput, "owner id %d", ownerID)
	}

	now := s.clock()
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		c, err := s.issue(ctx, ownerID, now)
		if errors.Is(err, ErrDuplicateCode) {
			// Lost an insert race on the code; the unique constraint caught it.
			zctx.From(ctx).Debug("Coupon code collision, retrying", zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, err
		}

		if s.index != nil {
			s.index.Add(c.Code)
		}
		s.publish(ctx, EventIssued, c, "")
		return c, nil
	}
	return nil, ErrCodeSpaceExhausted
}

func (s *Service) issue(ctx context.Context, ownerID int64, now time.Time) (*Coupon, error) {
	var c *Coupon
	err := s.repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.LockOwner(ctx, ownerID); err != nil {
			return errors.Wrap(err, "lock owner")
		}

		d, err := s.throttle.MayIssue(ctx, tx, ownerID, now)
		if err != nil {
			return err
		}
		if !d.Allowed {
			return &DeniedError{OwnerID: ownerID, NextAllowedAt: d.NextAllowedAt}
		}

		code, discount, err := s.candidate(ctx, tx)
		if err != nil {
			return err
		}

		c = &Coupon{
			Code:      code,
			Discount:  discount,
			Status:    StatusPending,
			OwnerID:   ownerID,
			CreatedAt: now,
		}
		if err := tx.Insert(ctx, c); err != nil {
			return errors.Wrap(err, "insert coupon")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// candidate draws codes until one is not present in the store.
func (s *Service) candidate(ctx context.Context, tx Tx) (string, int, error) {
	for range s.maxAttempts {
		code, discount := s.gen.Generate()
		if s.index != nil && !s.index.MaybeContains(code) {
			return code, discount, nil
		}
		exists, err := tx.CodeExists(ctx, code)
		if err != nil {
			return "", 0, errors.Wrap(err, "check code")
		}
		if !exists {
			return code, discount, nil
		}
	}
	return "", 0, ErrCodeSpaceExhausted
}

// Approve moves a pending coupon to approved, recording the reviewer role.
func (s *Service) Approve(ctx context.Context, code string, actor auth.Actor) (*Coupon, error) {
	return s.review(ctx, "approve", code, actor, StatusApproved)
}

// Reject moves a pending coupon to rejected.
func (s *Service) Reject(ctx context.Context, code string, actor auth.Actor) (*Coupon, error) {
	return s.review(ctx, "reject", code, actor, StatusRejected)
}

func (s *Service) review(ctx context.Context, op, code string, actor auth.Actor, to Status) (_ *Coupon, rerr error) {
	ctx, span := s.tracer.Start(ctx, "coupon."+op, trace.WithAttributes(
		attribute.String("coupon.code", code),
		attribute.String("actor.role", actor.Role.String()),
	))
	defer func() { s.finish(ctx, span, op, rerr) }()

	if !actor.Role.CanReview() {
		return nil, ErrNotAuthorized
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, errors.Wrap(ErrInvalidInput, "empty code")
	}

	now := s.clock()
	var out *Coupon
	err := s.repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		c, err := tx.GetByCode(ctx, code)
		if err != nil {
			return err
		}
		if !s.legacy && c.Status != StatusPending {
			return &TransitionError{Code: c.Code, From: c.Status, To: to}
		}

		c.Status = to
		if to == StatusApproved {
			c.ApprovedBy = actor.Role
			c.ApprovedAt = &now
		}
		if err := tx.Update(ctx, c); err != nil {
			return errors.Wrap(err, "update coupon")
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	typ := EventApproved
	if to == StatusRejected {
		typ = EventRejected
	}
	s.publish(ctx, typ, out, actor.Role.String())
	return out, nil
}

// Redeem marks an approved coupon as used. Expected failures are returned
// as *RedemptionError carrying a user-facing reason.
func (s *Service) Redeem(ctx context.Context, code string) (_ *Coupon, rerr error) {
	ctx, span := s.tracer.Start(ctx, "coupon.Redeem",
		trace.WithAttributes(attribute.String("coupon.code", code)))
	defer func() { s.finish(ctx, span, "redeem", rerr) }()

	code = strings.TrimSpace(code)
	if code == "" {
		return nil, &RedemptionError{Reason: ReasonNotFound}
	}

	now := s.clock()
	var out *Coupon
	err := s.repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		c, err := tx.GetByCode(ctx, code)
		if errors.Is(err, ErrNotFound) {
			return &RedemptionError{Code: code, Reason: ReasonNotFound}
		}
		if err != nil {
			return err
		}
		if reason := s.redeemBlocker(c.Status); reason != "" {
			return &RedemptionError{Code: code, Reason: reason}
		}

		c.Status = StatusUsed
		c.UsedAt = &now
		if err := tx.Update(ctx, c); err != nil {
			return errors.Wrap(err, "update coupon")
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, EventRedeemed, out, "")
	return out, nil
}

// redeemBlocker returns why a coupon in status st cannot be redeemed, or ""
// when it can.
func (s *Service) redeemBlocker(st Status) string {
	if s.legacy {
		// The "already used" check sits after "not approved" and never fires.
		if st != StatusApproved {
			return ReasonNotActive
		}
		return ""
	}
	switch st {
	case StatusApproved:
		return ""
	case StatusUsed:
		return ReasonAlreadyUsed
	default:
		return ReasonNotActive
	}
}

// View returns the coupon with the given code and records the view in the
// scan log.
func (s *Service) View(ctx context.Context, code, userAgent, sourceAddress string) (_ *Coupon, rerr error) {
	ctx, span := s.tracer.Start(ctx, "coupon.View",
		trace.WithAttributes(attribute.String("coupon.code", code)))
	defer func() { s.finish(ctx, span, "view", rerr) }()

	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrNotFound
	}

	var out *Coupon
	err := s.repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		c, err := tx.GetByCode(ctx, code)
		if err != nil {
			return err
		}
		if err := s.recordView(ctx, tx, c, userAgent, sourceAddress); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, EventScanned, out, "")
	return out, nil
}

// RecordView appends a scan entry for couponID and increments its scan
// counter, both in one transaction.
func (s *Service) RecordView(ctx context.Context, couponID int64, userAgent, sourceAddress string) (_ *Coupon, rerr error) {
	ctx, span := s.tracer.Start(ctx, "coupon.RecordView",
		trace.WithAttributes(attribute.Int64("coupon.id", couponID)))
	defer func() { s.finish(ctx, span, "record_view", rerr) }()

	if couponID <= 0 {
		return nil, errors.Wrapf(ErrInvalidInput, "coupon id %d", couponID)
	}

	var out *Coupon
	err := s.repo.InTx(ctx, func(ctx context.Context, tx Tx) error {
		c, err := tx.GetByID(ctx, couponID)
		if err != nil {
			return err
		}
		if err := s.recordView(ctx, tx, c, userAgent, sourceAddress); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, EventScanned, out, "")
	return out, nil
}

func (s *Service) recordView(ctx context.Context, tx Tx, c *Coupon, userAgent, sourceAddress string) error {
	n, err := tx.IncrementScans(ctx, c.ID)
	if err != nil {
		return errors.Wrap(err, "increment scans")
	}
	if err := tx.AppendScan(ctx, &ScanEntry{
		CouponID:      c.ID,
		UserAgent:     userAgent,
		SourceAddress: sourceAddress,
		ScannedAt:     s.clock(),
	}); err != nil {
		return errors.Wrap(err, "append scan")
	}
	c.ScannedCount = n
	return nil
}

// ListCoupons returns every coupon for staff and only the actor's own
// coupons for plain users, newest first.
func (s *Service) ListCoupons(ctx context.Context, actor auth.Actor) ([]Coupon, error) {
	if actor.Role.IsStaff() {
		out, err := s.repo.List(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "list coupons")
		}
		return out, nil
	}
	out, err := s.repo.ListByOwner(ctx, actor.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "list coupons of owner %d", actor.ID)
	}
	return out, nil
}

// ScanLog returns the audit entries of a coupon. Staff only.
func (s *Service) ScanLog(ctx context.Context, actor auth.Actor, couponID int64) ([]ScanEntry, error) {
	if !actor.Role.IsStaff() {
		return nil, ErrNotAuthorized
	}
	if couponID <= 0 {
		return nil, errors.Wrapf(ErrInvalidInput, "coupon id %d", couponID)
	}
	out, err := s.repo.ScanLog(ctx, couponID)
	if err != nil {
		return nil, errors.Wrap(err, "scan log")
	}
	return out, nil
}

// DeleteOwnerCoupons removes every coupon of ownerID along with its scan
// entries. Admin only.
func (s *Service) DeleteOwnerCoupons(ctx context.Context, actor auth.Actor, ownerID int64) (int64, error) {
	if !actor.Role.IsAdmin() {
		return 0, ErrNotAuthorized
	}
	if ownerID <= 0 {
		return 0, errors.Wrapf(ErrInvalidInput, "owner id %d", ownerID)
	}
	n, err := s.repo.DeleteByOwner(ctx, ownerID)
	if err != nil {
		return 0, errors.Wrapf(err, "delete coupons of owner %d", ownerID)
	}
	zctx.From(ctx).Info("Deleted owner coupons", zap.Int64("owner_id", ownerID), zap.Int64("count", n))
	return n, nil
}

func (s *Service) publish(ctx context.Context, typ EventType, c *Coupon, actor string) {
	e := Event{Type: typ, At: s.clock(), Coupon: *c, Actor: actor}
	if err := s.events.Publish(ctx, e); err != nil {
		zctx.From(ctx).Warn("Publish coupon event",
			zap.String("type", string(typ)),
			zap.String("code", c.Code),
			zap.Error(err),
		)
	}
}

func (s *Service) finish(ctx context.Context, span trace.Span, op string, err error) {
	outcome := Outcome(err)
	s.ops.Add(ctx, 1, metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
	if outcome == "error" {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Outcome classifies err for metrics and logs.
func Outcome(err error) string {
	var (
		denied     *DeniedError
		redemption *RedemptionError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &denied):
		return "denied"
	case errors.As(err, &redemption):
		return "redemption_failed"
	case errors.Is(err, ErrNotAuthorized):
		return "not_authorized"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	default:
		return "error"
	}
}
