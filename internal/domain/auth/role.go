// Package auth models the identities that call into the coupon core.
//
// Authentication itself happens outside the core: by the time an Actor reaches
// the lifecycle service, its ID and Role are trusted.
package auth

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
)

// Role is the closed set of user roles.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleSponsor Role = "sponsor"
	RoleVendor  Role = "vendor"
	RoleUser    Role = "user"
)

// ErrUnknownRole is returned by ParseRole for strings outside the role set.
var ErrUnknownRole = errors.New("unknown role")

// ParseRole converts a case-insensitive role name.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleSponsor, RoleVendor, RoleUser:
		return r, nil
	default:
		return "", errors.Wrapf(ErrUnknownRole, "%q", s)
	}
}

// CanReview reports whether the role may approve or reject coupons.
func (r Role) CanReview() bool {
	switch r {
	case RoleAdmin, RoleSponsor, RoleVendor:
		return true
	case RoleUser:
		return false
	default:
		return false
	}
}

// IsStaff reports whether the role sees every coupon rather than only its own.
func (r Role) IsStaff() bool {
	return r.CanReview()
}

// IsAdmin reports whether the role may perform destructive maintenance.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin
}

func (r Role) String() string { return string(r) }

// Actor is the authenticated caller of a core operation.
type Actor struct {
	ID   int64
	Role Role
}

type actorKey struct{}

// WithActor stores the actor in ctx.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFromContext returns the actor stored by WithActor.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}
