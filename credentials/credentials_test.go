package credentials_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/jrsteele09/go-pairing-server/credentials"
)

func TestBcryptVerifier(t *testing.T) {
	v := credentials.NewBcryptVerifier(bcrypt.MinCost)

	t.Run("hash and verify", func(t *testing.T) {
		hash, err := v.Hash("teamwork1")
		require.NoError(t, err)
		require.NotNil(t, hash)
		require.NotContains(t, *hash, "teamwork1")

		require.True(t, v.Verify("teamwork1", hash))
		require.False(t, v.Verify("teamwork2", hash))
		require.False(t, v.Verify("", hash))
	})

	t.Run("salted", func(t *testing.T) {
		a, err := v.Hash("teamwork1")
		require.NoError(t, err)
		b, err := v.Hash("teamwork1")
		require.NoError(t, err)
		require.NotEqual(t, *a, *b)
	})

	t.Run("empty passphrase stores no hash", func(t *testing.T) {
		hash, err := v.Hash("")
		require.NoError(t, err)
		require.Nil(t, hash)

		require.True(t, v.Verify("", nil))
		require.True(t, v.Verify("anything goes", nil))
	})

	t.Run("over long passphrase is rejected by bcrypt", func(t *testing.T) {
		_, err := v.Hash(strings.Repeat("x", 73))
		require.Error(t, err)
	})
}

func TestNewBcryptVerifierClampsCost(t *testing.T) {
	require.Equal(t, bcrypt.DefaultCost, credentials.NewBcryptVerifier(0).Cost())
	require.Equal(t, bcrypt.MinCost, credentials.NewBcryptVerifier(1).Cost())
	require.Equal(t, bcrypt.MaxCost, credentials.NewBcryptVerifier(99).Cost())
	require.Equal(t, 12, credentials.NewBcryptVerifier(12).Cost())
}
