package localgit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framer-cd/framer/domain"
	"github.com/framer-cd/framer/git"
)

func newProvider(t *testing.T) *Provider {
	t.Helper()
	return New(git.NewGitService(git.Options{Timeout: time.Minute}), t.TempDir(), "main")
}

func TestCreateRepository(t *testing.T) {
	p := newProvider(t)

	handle, err := p.CreateRepository(context.Background(), "bakery-1a2b3c", "A bakery site")

	require.NoError(t, err)
	assert.Equal(t, "bakery-1a2b3c", handle.Name)
	assert.Equal(t, "main", handle.DefaultBranch)
	assert.True(t, p.git.IsRepository(handle.CloneURL))

	description, err := os.ReadFile(filepath.Join(handle.CloneURL, "description"))
	require.NoError(t, err)
	assert.Equal(t, "A bakery site\n", string(description))
}

func TestCreateRepository_Idempotent(t *testing.T) {
	p := newProvider(t)
	first, err := p.CreateRepository(context.Background(), "bakery-1a2b3c", "")
	require.NoError(t, err)

	second, err := p.CreateRepository(context.Background(), "bakery-1a2b3c", "")

	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCreateRepository_InvalidName(t *testing.T) {
	p := newProvider(t)

	for _, name := range []string{"", "../escape", "Upper Case", "a/b"} {
		_, err := p.CreateRepository(context.Background(), name, "")
		require.Error(t, err, name)
		assert.Equal(t, domain.KindValidation, domain.KindOf(err), name)
	}
}

func TestGetRepository(t *testing.T) {
	p := newProvider(t)
	created, err := p.CreateRepository(context.Background(), "bakery-1a2b3c", "")
	require.NoError(t, err)

	found, err := p.GetRepository(context.Background(), "bakery-1a2b3c")
	require.NoError(t, err)
	assert.Equal(t, created, found)

	_, err = p.GetRepository(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
