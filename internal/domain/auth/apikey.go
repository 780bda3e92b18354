package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/go-faster/errors"
)

// ErrKeyNotFound is returned when no active API key matches a hash.
var ErrKeyNotFound = errors.New("api key not found")

// APIKeyInfo holds the identity bound to a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Actor   Actor
}

// Repository provides lookup and registration of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
	CreateAPIKey(ctx context.Context, info APIKeyInfo) error
}

// HashKey returns the hex HMAC-SHA256 of key under pepper. Only hashes are
// stored.
func HashKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}
