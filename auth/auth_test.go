package auth

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/limitforge/limitforge/policy"
	"github.com/limitforge/limitforge/store/memory"
)

func TestHashAPIKey(t *testing.T) {
	tests := []struct {
		salt string
		raw  string
		want string
	}{
		{"change-me-salt", "demo-raw-key", "117fee49455f1e8e1230e360843a518b5a8a827c28602330301931b97a4fa270"},
		{"pepper", "lf_test_key", "8741b8d6b4c5b0ef5e0d391bca477443c1d7ad15535dd5a7c08e2e03c80adf11"},
	}
	for _, tt := range tests {
		if got := HashAPIKey(tt.salt, tt.raw); got != tt.want {
			t.Errorf("HashAPIKey(%q, %q) = %q, want %q", tt.salt, tt.raw, got, tt.want)
		}
	}

	if HashAPIKey("salt-a", "key") == HashAPIKey("salt-b", "key") {
		t.Error("different salts must produce different hashes")
	}
}

func TestGenerateAPIKey(t *testing.T) {
	a, err := GenerateAPIKey()
	require.NoError(t, err)
	b, err := GenerateAPIKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(a, "lf_"))
	assert.NotEqual(t, a, b)
	assert.GreaterOrEqual(t, len(a), 40)
}

func TestVerifyAdminToken(t *testing.T) {
	const want = "s3cret"

	assert.NoError(t, VerifyAdminToken("Bearer s3cret", want))
	assert.NoError(t, VerifyAdminToken("bearer s3cret", want))
	assert.ErrorIs(t, VerifyAdminToken("", want), ErrMissingAdminToken)
	assert.ErrorIs(t, VerifyAdminToken("s3cret", want), ErrMissingAdminToken)
	assert.ErrorIs(t, VerifyAdminToken("Bearer wrong", want), ErrInvalidAdminToken)
}

type fakeKeyStore struct {
	policy.Store

	keys  map[string]*policy.APIKey
	calls int
}

func (f *fakeKeyStore) APIKeyByHash(_ context.Context, keyHash string) (*policy.APIKey, error) {
	f.calls++
	k, ok := f.keys[keyHash]
	if !ok {
		return nil, policy.ErrAPIKeyNotFound
	}
	return k, nil
}

func TestVerify(t *testing.T) {
	ctx := context.Background()
	const salt = "pepper"
	const raw = "lf_test_key"

	key := &policy.APIKey{ID: uuid.New(), TenantID: uuid.New(), Active: true}
	st := &fakeKeyStore{keys: map[string]*policy.APIKey{
		HashAPIKey(salt, raw): key,
	}}
	counters := memory.New()
	defer counters.Close()

	v := NewVerifier(st, counters, salt)

	id, err := v.Verify(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, key.TenantID, id.TenantID)
	assert.Equal(t, key.ID, id.KeyID)
	assert.Equal(t, 1, st.calls)

	// Second verification is served from the counter-store cache.
	id, err = v.Verify(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, key.TenantID, id.TenantID)
	assert.Equal(t, 1, st.calls)
}

func TestVerify_Rejections(t *testing.T) {
	ctx := context.Background()
	st := &fakeKeyStore{keys: map[string]*policy.APIKey{}}
	counters := memory.New()
	defer counters.Close()

	v := NewVerifier(st, counters, "pepper")

	_, err := v.Verify(ctx, "")
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = v.Verify(ctx, "lf_unknown")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)

	// Misses are not cached: every bad key pays the lookup.
	_, _ = v.Verify(ctx, "lf_unknown")
	assert.Equal(t, 2, st.calls)
}
