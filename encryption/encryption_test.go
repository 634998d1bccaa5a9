package encryption

import (
	"testing"

	"github.com/fernet/fernet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framer-cd/framer/domain"
)

func newTestSealer(t *testing.T) *Sealer {
	t.Helper()
	var key fernet.Key
	require.NoError(t, key.Generate())
	sealer, err := NewSealer(key.Encode())
	require.NoError(t, err)
	return sealer
}

func TestNewSealer(t *testing.T) {
	_, err := NewSealer("")
	assert.Error(t, err)

	_, err = NewSealer("invalid-key")
	assert.Error(t, err)
}

func TestSealOpen(t *testing.T) {
	sealer := newTestSealer(t)

	sealed, err := sealer.Seal("ghp_secret")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "ghp_secret")

	opened, err := sealer.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "ghp_secret", opened)

	empty, err := sealer.Seal("")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestOpen_WrongKey(t *testing.T) {
	sealed, err := newTestSealer(t).Seal("secret")
	require.NoError(t, err)

	_, err = newTestSealer(t).Open(sealed)
	assert.ErrorContains(t, err, "invalid or expired")

	_, err = newTestSealer(t).Open("%%%")
	assert.ErrorContains(t, err, "invalid token format")
}

func TestSealGitAuth(t *testing.T) {
	sealer := newTestSealer(t)

	authType, sealed, err := sealer.SealGitAuth(&domain.GitAuthConfig{
		SSHAuth: &domain.GitSSHAuthConfig{PrivateKey: "-----BEGIN KEY-----", User: "git"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ssh", authType)

	auth, err := sealer.OpenGitAuth(authType, sealed)
	require.NoError(t, err)
	require.NotNil(t, auth.SSHAuth)
	assert.Nil(t, auth.HTTPAuth)
	assert.Equal(t, "git", auth.SSHAuth.User)

	authType, sealed, err = sealer.SealGitAuth(nil)
	require.NoError(t, err)
	assert.Empty(t, authType)
	assert.Empty(t, sealed)

	auth, err = sealer.OpenGitAuth("", "")
	require.NoError(t, err)
	assert.Nil(t, auth)
}
