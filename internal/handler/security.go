package handler

import (
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/carrykaro/coupon-service/internal/domain/auth"
)

// HeaderAPIKey carries the caller's API key.
const HeaderAPIKey = "api_key"

// SecurityHandler authenticates API requests via HMAC-SHA256 hashed API keys
// and stores the bound auth.Actor in the request context.
type SecurityHandler struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewSecurityHandler creates a SecurityHandler with the given API key
// repository and HMAC pepper.
func NewSecurityHandler(apikeys auth.Repository, pepper []byte) *SecurityHandler {
	return &SecurityHandler{
		apikeys: apikeys,
		pepper:  pepper,
	}
}

// Authenticate rejects requests without a valid key with 401.
func (s *SecurityHandler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := s.actor(r)
		if err != nil {
			if !errors.Is(err, auth.ErrKeyNotFound) {
				zctx.From(r.Context()).Warn("API key lookup failed", zap.Error(err))
			}
			writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithActor(r.Context(), actor)))
	})
}

func (s *SecurityHandler) actor(r *http.Request) (auth.Actor, error) {
	key := r.Header.Get(HeaderAPIKey)
	if key == "" {
		return auth.Actor{}, auth.ErrKeyNotFound
	}

	hash := auth.HashKey(s.pepper, key)
	info, err := s.apikeys.FindByHash(r.Context(), hash)
	if err != nil {
		return auth.Actor{}, err
	}

	computed, _ := hex.DecodeString(hash)
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(computed, stored) != 1 {
		return auth.Actor{}, auth.ErrKeyNotFound
	}
	return info.Actor, nil
}
