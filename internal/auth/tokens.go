package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultTokenTTL is how long issued tokens stay valid.
const DefaultTokenTTL = 24 * time.Hour

// Tokens issues and validates opaque bearer tokens. Expired tokens are
// purged by the cache janitor.
type Tokens struct {
	ttl   time.Duration
	store *cache.Cache
}

// NewTokens creates a token store. A non-positive ttl uses DefaultTokenTTL.
func NewTokens(ttl time.Duration) *Tokens {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	cleanup := ttl / 2
	if cleanup > time.Hour {
		cleanup = time.Hour
	}
	return &Tokens{ttl: ttl, store: cache.New(ttl, cleanup)}
}

// Issue creates a new random token.
func (t *Tokens) Issue() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	token := hex.EncodeToString(b)
	t.store.Set(token, struct{}{}, cache.DefaultExpiration)
	return token, nil
}

// Valid reports whether token was issued and has not expired or been revoked.
func (t *Tokens) Valid(token string) bool {
	if token == "" {
		return false
	}
	_, ok := t.store.Get(token)
	return ok
}

// Revoke invalidates a token.
func (t *Tokens) Revoke(token string) {
	t.store.Delete(token)
}

// Count returns the number of stored tokens, including expired ones the
// janitor has not purged yet.
func (t *Tokens) Count() int {
	return t.store.ItemCount()
}
