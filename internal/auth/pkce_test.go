package auth_test

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombii/better-ccflare/internal/auth"
)

func TestGeneratePKCE(t *testing.T) {
	codes, err := auth.GeneratePKCE()
	require.NoError(t, err)

	t.Run("verifier encodes 32 random bytes", func(t *testing.T) {
		raw, err := base64.RawURLEncoding.DecodeString(codes.Verifier)
		require.NoError(t, err)
		assert.Len(t, raw, 32)
		assert.Len(t, codes.Verifier, 43)
	})

	t.Run("challenge is S256 of the verifier string", func(t *testing.T) {
		sum := sha256.Sum256([]byte(codes.Verifier))
		assert.Equal(t, base64.RawURLEncoding.EncodeToString(sum[:]), codes.Challenge)
	})

	t.Run("no padding characters", func(t *testing.T) {
		assert.NotContains(t, codes.Verifier, "=")
		assert.NotContains(t, codes.Challenge, "=")
	})
}

func TestGeneratePKCEUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for range 100 {
		codes, err := auth.GeneratePKCE()
		require.NoError(t, err)

		_, dup := seen[codes.Verifier]
		require.False(t, dup, "verifier repeated")
		seen[codes.Verifier] = struct{}{}
	}
}
