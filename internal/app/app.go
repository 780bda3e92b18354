package app

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/carrykaro/coupon-service/internal/domain/auth"
	"github.com/carrykaro/coupon-service/internal/domain/coupon"
	"github.com/carrykaro/coupon-service/internal/events"
	"github.com/carrykaro/coupon-service/internal/handler"
	"github.com/carrykaro/coupon-service/internal/storage/postgres"
	"github.com/carrykaro/coupon-service/internal/storage/sqlite"
	"github.com/carrykaro/coupon-service/pkg/health"
	"github.com/carrykaro/coupon-service/pkg/httpmiddleware"
)

// store bundles the repositories of one database driver.
type store struct {
	coupons coupon.Repository
	apikeys auth.Repository
	ping    func(ctx context.Context) error
	close   func()
}

func openStore(ctx context.Context, cfg DatabaseConfig) (*store, error) {
	switch cfg.Driver {
	case DriverSQLite:
		conn, err := sqlite.Open(ctx, cfg.Path)
		if err != nil {
			return nil, errors.Wrap(err, "open sqlite")
		}
		if err := sqlite.RunMigrations(ctx, conn); err != nil {
			_ = conn.Close()
			return nil, errors.Wrap(err, "run migrations")
		}
		return &store{
			coupons: sqlite.NewCouponRepository(conn),
			apikeys: sqlite.NewAPIKeyRepository(conn),
			ping:    conn.PingContext,
			close:   func() { _ = conn.Close() },
		}, nil
	default:
		pool, err := postgres.NewPool(ctx, cfg.URL)
		if err != nil {
			return nil, errors.Wrap(err, "create db pool")
		}
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, errors.Wrap(err, "run migrations")
		}
		return &store{
			coupons: postgres.NewCouponRepository(pool),
			apikeys: postgres.NewAPIKeyRepository(pool),
			ping:    pool.Ping,
			close:   pool.Close,
		}, nil
	}
}

// rateLimitKey buckets authenticated requests by actor and the rest by
// client address.
func rateLimitKey(r *http.Request) string {
	if a, ok := auth.ActorFromContext(r.Context()); ok {
		return "actor:" + strconv.FormatInt(a.ID, 10)
	}
	return httpmiddleware.ClientIP(r)
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("driver", cfg.Database.Driver),
	)

	st, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer st.close()

	index := coupon.NewCodeIndex(cfg.Issuance.BloomCapacity, cfg.Issuance.BloomFPR)
	n, err := index.Warm(ctx, st.coupons)
	if err != nil {
		return errors.Wrap(err, "warm code index")
	}
	lg.Info("Code index warmed", zap.Int("codes", n))

	opts := []coupon.Option{
		coupon.WithIssueWindow(cfg.Issuance.Window),
		coupon.WithMaxAttempts(cfg.Issuance.MaxAttempts),
		coupon.WithCodeIndex(index),
		coupon.WithLegacyTransitions(cfg.Lifecycle.Legacy),
		coupon.WithTracerProvider(m.TracerProvider()),
		coupon.WithMeterProvider(m.MeterProvider()),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		w := events.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer func() {
			if err := w.Close(); err != nil {
				lg.Warn("Close kafka writer", zap.Error(err))
			}
		}()
		opts = append(opts, coupon.WithEventSink(events.NewKafkaSink(w)))
		lg.Info("Publishing lifecycle events",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic),
		)
	}
	svc, err := coupon.NewService(st.coupons, opts...)
	if err != nil {
		return errors.Wrap(err, "create coupon service")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck(cfg.Database.Driver, 5*time.Second, health.PingCheck(st.ping))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc", time.Second, health.GCMaxPauseCheck(time.Second))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	h := handler.NewHandler(svc)
	securityHandler := handler.NewSecurityHandler(st.apikeys, []byte(cfg.APIKeyPepper))
	api := h.Routes(securityHandler,
		httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
			Max:     cfg.RateLimit.Max,
			Window:  cfg.RateLimit.Window,
			KeyFunc: rateLimitKey,
		}),
	)

	// Mux: health endpoints + API routes on one server.
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/", api)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			otelhttp.NewMiddleware("coupon-api",
				otelhttp.WithTracerProvider(m.TracerProvider()),
				otelhttp.WithMeterProvider(m.MeterProvider()),
			),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
