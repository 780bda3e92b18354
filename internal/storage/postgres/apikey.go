package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carrykaro/coupon-service/internal/domain/auth"
)

const (
	findAPIKeySQL = `SELECT id, key_hash, name, actor_id, role
		FROM api_keys WHERE key_hash = $1 AND active = TRUE`

	createAPIKeySQL = `INSERT INTO api_keys (id, key_hash, name, actor_id, role)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key_hash) DO UPDATE
		SET name = EXCLUDED.name, actor_id = EXCLUDED.actor_id, role = EXCLUDED.role, active = TRUE`
)

var _ auth.Repository = (*APIKeyRepository)(nil)

// APIKeyRepository provides API key lookups backed by PostgreSQL.
type APIKeyRepository struct {
	pool *pgxpool.Pool
}

// NewAPIKeyRepository returns an APIKeyRepository that uses the given pool.
func NewAPIKeyRepository(pool *pgxpool.Pool) *APIKeyRepository {
	return &APIKeyRepository{pool: pool}
}

// FindByHash looks up an active API key by its HMAC-SHA256 hash.
// Returns an error wrapping auth.ErrKeyNotFound when no matching key exists.
func (r *APIKeyRepository) FindByHash(ctx context.Context, hash string) (*auth.APIKeyInfo, error) {
	rows, err := r.pool.Query(ctx, findAPIKeySQL, hash)
	if err != nil {
		return nil, fmt.Errorf("finding api key by hash: %w", err)
	}
	info, err := pgx.CollectExactlyOneRow(rows, scanAPIKey)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrKeyNotFound
		}
		return nil, fmt.Errorf("finding api key by hash: %w", err)
	}
	return &info, nil
}

// CreateAPIKey registers a key, or rebinds an existing key with the same hash.
func (r *APIKeyRepository) CreateAPIKey(ctx context.Context, info auth.APIKeyInfo) error {
	_, err := r.pool.Exec(ctx, createAPIKeySQL,
		info.ID, info.KeyHash, info.Name, info.Actor.ID, info.Actor.Role.String(),
	)
	if err != nil {
		return fmt.Errorf("creating api key %q: %w", info.Name, err)
	}
	return nil
}

func scanAPIKey(row pgx.CollectableRow) (auth.APIKeyInfo, error) {
	var (
		info auth.APIKeyInfo
		role string
	)
	if err := row.Scan(&info.ID, &info.KeyHash, &info.Name, &info.Actor.ID, &role); err != nil {
		return info, err
	}
	r, err := auth.ParseRole(role)
	if err != nil {
		return info, err
	}
	info.Actor.Role = r
	return info, nil
}
