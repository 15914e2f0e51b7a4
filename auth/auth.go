// Package auth covers both credential surfaces: tenant API keys on the
// data plane and the static bearer token on the admin plane.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/limitforge/limitforge/policy"
	"github.com/limitforge/limitforge/store"
)

var (
	ErrMissingAPIKey     = errors.New("missing api key")
	ErrInvalidAPIKey     = errors.New("invalid api key")
	ErrMissingAdminToken = errors.New("missing admin token")
	ErrInvalidAdminToken = errors.New("invalid admin token")
)

// HashAPIKey returns the hex HMAC-SHA256 of raw under salt. Keys are
// stored and looked up by this hash only.
func HashAPIKey(salt, raw string) string {
	mac := hmac.New(sha256.New, []byte(salt))
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

// GenerateAPIKey returns a fresh random key for handing to a tenant.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return "lf_" + base64.RawURLEncoding.EncodeToString(buf), nil
}

// VerifyAdminToken checks an Authorization header against the
// configured admin bearer token.
func VerifyAdminToken(authHeader, want string) error {
	if authHeader == "" {
		return ErrMissingAdminToken
	}
	const prefix = "bearer "
	if len(authHeader) < len(prefix) || !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ErrMissingAdminToken
	}
	got := strings.TrimSpace(authHeader[len(prefix):])
	if !hmac.Equal([]byte(got), []byte(want)) {
		return ErrInvalidAdminToken
	}
	return nil
}

// Identity is a verified API key: who it belongs to and which key row
// it was.
type Identity struct {
	TenantID uuid.UUID
	KeyID    uuid.UUID
}

// Verifier authenticates data-plane API keys. Positive verifications
// are cached in the counter store for a minute, keyed by hash, so the
// hot path usually skips Postgres entirely. Only positives are cached:
// a revoked key stays usable for at most the cache TTL, a bad key
// always pays the database round trip.
type Verifier struct {
	policies policy.Store
	counters store.Store
	salt     string
	cacheTTL time.Duration
}

// NewVerifier builds a Verifier over the policy store and counter
// store.
func NewVerifier(policies policy.Store, counters store.Store, salt string) *Verifier {
	return &Verifier{
		policies: policies,
		counters: counters,
		salt:     salt,
		cacheTTL: time.Minute,
	}
}

// Verify resolves a raw API key to its identity.
func (v *Verifier) Verify(ctx context.Context, raw string) (*Identity, error) {
	if raw == "" {
		return nil, ErrMissingAPIKey
	}
	hash := HashAPIKey(v.salt, raw)
	cacheKey := "api_key:" + hash

	if cached, err := v.counters.Get(ctx, cacheKey); err == nil {
		if id, ok := parseIdentity(cached); ok {
			return id, nil
		}
	}

	key, err := v.policies.APIKeyByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, policy.ErrAPIKeyNotFound) {
			return nil, ErrInvalidAPIKey
		}
		return nil, err
	}

	id := &Identity{TenantID: key.TenantID, KeyID: key.ID}
	// Best effort; verification already succeeded.
	_ = v.counters.Set(ctx, cacheKey, id.TenantID.String()+"|"+id.KeyID.String(), v.cacheTTL)
	return id, nil
}

func parseIdentity(s string) (*Identity, bool) {
	tenantStr, keyStr, ok := strings.Cut(s, "|")
	if !ok {
		return nil, false
	}
	tenantID, err := uuid.Parse(tenantStr)
	if err != nil {
		return nil, false
	}
	keyID, err := uuid.Parse(keyStr)
	if err != nil {
		return nil, false
	}
	return &Identity{TenantID: tenantID, KeyID: keyID}, true
}
