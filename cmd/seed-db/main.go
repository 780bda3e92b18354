// Command seed-db registers an API key for an actor.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/carrykaro/coupon-service/internal/domain/auth"
	"github.com/carrykaro/coupon-service/internal/storage/postgres"
	"github.com/carrykaro/coupon-service/internal/storage/sqlite"
)

type options struct {
	driver       string
	databaseURL  string
	sqlitePath   string
	apiKey       string
	apiKeyPepper string
	keyName      string
	actorID      int64
	role         string
}

func main() {
	var opts options

	flag.StringVar(&opts.driver, "driver", "postgres", "store driver: postgres or sqlite")
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.sqlitePath, "sqlite-path", "coupons.db", "SQLite database file")
	flag.StringVar(&opts.apiKey, "api-key", "", "API key to seed (or COUPON_SEED_API_KEY env)")
	flag.StringVar(&opts.apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or COUPON_API_KEY_PEPPER env)")
	flag.StringVar(&opts.keyName, "name", "Default admin key", "human readable key name")
	flag.Int64Var(&opts.actorID, "actor-id", 1, "actor the key authenticates as")
	flag.StringVar(&opts.role, "role", "admin", "actor role: admin, sponsor, vendor or user")
	flag.Parse()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.driver == "postgres" && opts.databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if opts.apiKey == "" {
		opts.apiKey = os.Getenv("COUPON_SEED_API_KEY")
	}
	if opts.apiKey == "" {
		slog.Error("API key is required: set --api-key or COUPON_SEED_API_KEY")
		os.Exit(1)
	}
	if opts.apiKeyPepper == "" {
		opts.apiKeyPepper = os.Getenv("COUPON_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, opts options) error {
	role, err := auth.ParseRole(opts.role)
	if err != nil {
		return err
	}
	if opts.actorID <= 0 {
		return errors.Errorf("actor id must be positive, got %d", opts.actorID)
	}

	slog.Info("connecting to database", slog.String("driver", opts.driver))

	keys, closeStore, err := openKeys(ctx, opts)
	if err != nil {
		return err
	}
	defer closeStore()

	return seedAPIKey(ctx, keys, opts.apiKey, opts.apiKeyPepper, auth.APIKeyInfo{
		ID:    "seed-" + role.String(),
		Name:  opts.keyName,
		Actor: auth.Actor{ID: opts.actorID, Role: role},
	})
}

func openKeys(ctx context.Context, opts options) (auth.Repository, func(), error) {
	switch opts.driver {
	case "sqlite":
		conn, err := sqlite.Open(ctx, opts.sqlitePath)
		if err != nil {
			return nil, nil, errors.Wrap(err, "open sqlite")
		}
		slog.Info("running migrations")
		if err := sqlite.RunMigrations(ctx, conn); err != nil {
			_ = conn.Close()
			return nil, nil, errors.Wrap(err, "run migrations")
		}
		return sqlite.NewAPIKeyRepository(conn), func() { _ = conn.Close() }, nil
	case "postgres":
		pool, err := postgres.NewPool(ctx, opts.databaseURL)
		if err != nil {
			return nil, nil, errors.Wrap(err, "connect to database")
		}
		slog.Info("running migrations")
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, errors.Wrap(err, "run migrations")
		}
		return postgres.NewAPIKeyRepository(pool), pool.Close, nil
	default:
		return nil, nil, errors.Errorf("unknown driver %q", opts.driver)
	}
}

func seedAPIKey(ctx context.Context, keys auth.Repository, apiKey, pepper string, info auth.APIKeyInfo) error {
	slog.Info("seeding API key", slog.String("role", info.Actor.Role.String()))

	info.KeyHash = auth.HashKey([]byte(pepper), apiKey)
	if err := keys.CreateAPIKey(ctx, info); err != nil {
		return errors.Wrapf(err, "upsert API key %s", info.ID)
	}

	slog.Info("upserted API key",
		slog.String("id", info.ID),
		slog.String("name", info.Name),
		slog.Int64("actor_id", info.Actor.ID),
	)
	return nil
}
