package app

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carrykaro/coupon-service/internal/domain/auth"
	"github.com/carrykaro/coupon-service/internal/domain/coupon"
)

func TestOpenStore_SQLite(t *testing.T) {
	ctx := context.Background()
	st, err := openStore(ctx, DatabaseConfig{
		Driver: DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "coupons.db"),
	})
	require.NoError(t, err)
	defer st.close()

	require.NoError(t, st.ping(ctx))

	svc, err := coupon.NewService(st.coupons)
	require.NoError(t, err)
	c, err := svc.Create(ctx, 7)
	require.NoError(t, err)

	index := coupon.NewCodeIndex(1000, 0.01)
	n, err := index.Warm(ctx, st.coupons)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, index.MaybeContains(c.Code))

	_, err = st.apikeys.FindByHash(ctx, auth.HashKey([]byte("p"), "missing"))
	require.ErrorIs(t, err, auth.ErrKeyNotFound)
}

func TestRateLimitKey(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/coupons", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", rateLimitKey(r))

	r = r.WithContext(auth.WithActor(r.Context(), auth.Actor{ID: 42, Role: auth.RoleUser}))
	assert.Equal(t, "actor:42", rateLimitKey(r))
}
