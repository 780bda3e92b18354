package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{in: "admin", want: RoleAdmin},
		{in: "Sponsor", want: RoleSponsor},
		{in: " vendor ", want: RoleVendor},
		{in: "user", want: RoleUser},
		{in: "", wantErr: true},
		{in: "superuser", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRole(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUnknownRole)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRole_CanReview(t *testing.T) {
	assert.True(t, RoleAdmin.CanReview())
	assert.True(t, RoleSponsor.CanReview())
	assert.True(t, RoleVendor.CanReview())
	assert.False(t, RoleUser.CanReview())
	assert.False(t, Role("guest").CanReview())
}

func TestActorContext(t *testing.T) {
	_, ok := ActorFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithActor(context.Background(), Actor{ID: 7, Role: RoleVendor})
	a, ok := ActorFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, int64(7), a.ID)
	assert.Equal(t, RoleVendor, a.Role)
}

func TestHashKey(t *testing.T) {
	a := HashKey([]byte("pepper"), "secret")
	assert.Len(t, a, 64)
	assert.Equal(t, a, HashKey([]byte("pepper"), "secret"))
	assert.NotEqual(t, a, HashKey([]byte("other"), "secret"))
	assert.NotEqual(t, a, HashKey([]byte("pepper"), "secret2"))
}
