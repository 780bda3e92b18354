package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-faster/errors"

	"github.com/carrykaro/coupon-service/internal/domain/auth"
)

const (
	findAPIKeySQL = `SELECT id, key_hash, name, actor_id, role
		FROM api_keys WHERE key_hash = ? AND active = 1`

	createAPIKeySQL = `INSERT INTO api_keys (id, key_hash, name, actor_id, role, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (key_hash) DO UPDATE
		SET name = excluded.name, actor_id = excluded.actor_id, role = excluded.role, active = 1`
)

var _ auth.Repository = (*APIKeyRepository)(nil)

// APIKeyRepository provides API key lookups on SQLite.
type APIKeyRepository struct {
	db *sql.DB
}

// NewAPIKeyRepository returns an APIKeyRepository using conn.
func NewAPIKeyRepository(conn *sql.DB) *APIKeyRepository {
	return &APIKeyRepository{db: conn}
}

// FindByHash looks up an active API key by its HMAC-SHA256 hash.
func (r *APIKeyRepository) FindByHash(ctx context.Context, hash string) (*auth.APIKeyInfo, error) {
	var (
		info auth.APIKeyInfo
		role string
	)
	err := r.db.QueryRowContext(ctx, findAPIKeySQL, hash).
		Scan(&info.ID, &info.KeyHash, &info.Name, &info.Actor.ID, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding api key by hash: %w", err)
	}
	if info.Actor.Role, err = auth.ParseRole(role); err != nil {
		return nil, fmt.Errorf("api key %s: %w", info.ID, err)
	}
	return &info, nil
}

// CreateAPIKey registers a key, or rebinds an existing key with the same hash.
func (r *APIKeyRepository) CreateAPIKey(ctx context.Context, info auth.APIKeyInfo) error {
	_, err := r.db.ExecContext(ctx, createAPIKeySQL,
		info.ID, info.KeyHash, info.Name, info.Actor.ID, info.Actor.Role.String(),
		toMicros(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("creating api key %q: %w", info.Name, err)
	}
	return nil
}
