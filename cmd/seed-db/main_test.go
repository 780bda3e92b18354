package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carrykaro/coupon-service/internal/domain/auth"
	"github.com/carrykaro/coupon-service/internal/storage/sqlite"
)

func TestRun_SQLite(t *testing.T) {
	ctx := context.Background()
	opts := options{
		driver:       "sqlite",
		sqlitePath:   filepath.Join(t.TempDir(), "coupons.db"),
		apiKey:       "secret",
		apiKeyPepper: "pepper",
		keyName:      "vendor key",
		actorID:      9,
		role:         "Vendor",
	}
	require.NoError(t, run(ctx, opts))
	// Seeding again rebinds the same key.
	require.NoError(t, run(ctx, opts))

	conn, err := sqlite.Open(ctx, opts.sqlitePath)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	info, err := sqlite.NewAPIKeyRepository(conn).FindByHash(ctx, auth.HashKey([]byte("pepper"), "secret"))
	require.NoError(t, err)
	assert.Equal(t, auth.Actor{ID: 9, Role: auth.RoleVendor}, info.Actor)
	assert.Equal(t, "vendor key", info.Name)
}

func TestRun_Invalid(t *testing.T) {
	ctx := context.Background()
	base := options{driver: "sqlite", sqlitePath: filepath.Join(t.TempDir(), "x.db"), apiKey: "k", actorID: 1, role: "admin"}

	bad := base
	bad.role = "root"
	require.ErrorIs(t, run(ctx, bad), auth.ErrUnknownRole)

	bad = base
	bad.actorID = 0
	require.Error(t, run(ctx, bad))

	bad = base
	bad.driver = "mysql"
	require.ErrorContains(t, run(ctx, bad), "unknown driver")
}
