package identity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veriflow-io/identity"
)

func TestHashPassword(t *testing.T) {
	t.Run("hashes and verifies", func(t *testing.T) {
		hash, err := identity.HashPassword("sup3rs3cret")
		require.NoError(t, err)
		assert.NotEqual(t, "sup3rs3cret", hash)

		assert.NoError(t, identity.ComparePasswordAndHash("sup3rs3cret", hash))
	})

	t.Run("rejects empty passwords", func(t *testing.T) {
		_, err := identity.HashPassword("")
		assert.Error(t, err)
	})

	t.Run("wrong password fails with the uniform credential error", func(t *testing.T) {
		hash, err := identity.HashPassword("sup3rs3cret")
		require.NoError(t, err)

		err = identity.ComparePasswordAndHash("nope", hash)
		assert.ErrorIs(t, err, identity.ErrMismatchedHashAndPassword)
	})
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "who@example.com", identity.NormalizeEmail("  Who@Example.COM "))
}
