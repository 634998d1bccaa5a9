package git

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framer-cd/framer/domain"
)

func newTestService() *GitService {
	return NewGitService(Options{Timeout: time.Minute, CloneDepth: 1})
}

func newBareRemote(t *testing.T, s *GitService) domain.Remote {
	t.Helper()
	path := filepath.Join(t.TempDir(), "remote.git")
	require.NoError(t, s.InitBare(path, "main"))
	return domain.Remote{URL: path, Branch: "main"}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestIsLocalURL(t *testing.T) {
	assert.True(t, IsLocalURL("file:///srv/remotes/app.git"))
	assert.True(t, IsLocalURL("/srv/remotes/app.git"))
	assert.False(t, IsLocalURL("https://github.com/org/app.git"))
	assert.False(t, IsLocalURL("git@github.com:org/app.git"))
}

func TestClone_EmptyRemoteInitializesLocally(t *testing.T) {
	ctx := context.Background()
	s := newTestService()
	remote := newBareRemote(t, s)
	dir := filepath.Join(t.TempDir(), "tree")

	require.NoError(t, s.Clone(ctx, remote, dir))
	assert.True(t, s.IsRepository(dir))

	head, err := s.HeadCommit(dir)
	require.NoError(t, err)
	assert.Empty(t, head)

	writeFile(t, dir, "index.html", "<h1>hello</h1>\n")
	hash, committed, err := s.CommitAll(dir, "initial", false)
	require.NoError(t, err)
	assert.True(t, committed)
	require.NoError(t, s.Push(ctx, dir, remote))

	remoteHead, err := s.BranchHead(remote.URL, "main")
	require.NoError(t, err)
	assert.Equal(t, hash, remoteHead)
}

func TestCommitAll_CleanTree(t *testing.T) {
	ctx := context.Background()
	s := newTestService()
	remote := newBareRemote(t, s)
	dir := filepath.Join(t.TempDir(), "tree")
	require.NoError(t, s.Clone(ctx, remote, dir))

	writeFile(t, dir, "a.txt", "a\n")
	_, _, err := s.CommitAll(dir, "add a", false)
	require.NoError(t, err)

	_, committed, err := s.CommitAll(dir, "nothing", false)
	require.NoError(t, err)
	assert.False(t, committed)

	_, committed, err = s.CommitAll(dir, "marker", true)
	require.NoError(t, err)
	assert.True(t, committed)

	head, err := s.HeadCommit(dir)
	require.NoError(t, err)
	count, err := s.CommitCount(dir, head)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestPush_RejectedWhenRemoteMovedAhead(t *testing.T) {
	ctx := context.Background()
	s := newTestService()
	remote := newBareRemote(t, s)

	first := filepath.Join(t.TempDir(), "first")
	require.NoError(t, s.Clone(ctx, remote, first))
	writeFile(t, first, "a.txt", "a\n")
	_, _, err := s.CommitAll(first, "a", false)
	require.NoError(t, err)
	require.NoError(t, s.Push(ctx, first, remote))

	second := filepath.Join(t.TempDir(), "second")
	require.NoError(t, s.Clone(ctx, remote, second))

	writeFile(t, first, "b.txt", "b\n")
	_, _, err = s.CommitAll(first, "b", false)
	require.NoError(t, err)
	require.NoError(t, s.Push(ctx, first, remote))

	writeFile(t, second, "c.txt", "c\n")
	_, _, err = s.CommitAll(second, "c", false)
	require.NoError(t, err)
	err = s.Push(ctx, second, remote)
	assert.ErrorIs(t, err, ErrRejected)

	require.NoError(t, s.Fetch(ctx, second, remote))
	remoteHead, err := s.RemoteCommit(second, "main")
	require.NoError(t, err)
	head, err := s.ResetToRemote(second, "main")
	require.NoError(t, err)
	assert.Equal(t, remoteHead, head)

	_, err = os.Stat(filepath.Join(second, "c.txt"))
	assert.True(t, os.IsNotExist(err), "reset removes files the remote does not have")
	_, err = os.Stat(filepath.Join(second, "b.txt"))
	assert.NoError(t, err)
}

func TestChangedPathsAndReadFileAt(t *testing.T) {
	ctx := context.Background()
	s := newTestService()
	remote := newBareRemote(t, s)
	dir := filepath.Join(t.TempDir(), "tree")
	require.NoError(t, s.Clone(ctx, remote, dir))

	writeFile(t, dir, "keep.txt", "keep\n")
	writeFile(t, dir, "gone.txt", "gone\n")
	base, _, err := s.CommitAll(dir, "base", false)
	require.NoError(t, err)

	writeFile(t, dir, "keep.txt", "changed\n")
	writeFile(t, dir, "src/new.txt", "new\n")
	require.NoError(t, os.Remove(filepath.Join(dir, "gone.txt")))
	head, _, err := s.CommitAll(dir, "change", false)
	require.NoError(t, err)

	paths, err := s.ChangedPaths(dir, base, head)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"keep.txt", "gone.txt", "src/new.txt"}, paths)

	all, err := s.ChangedPaths(dir, "", base)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"keep.txt", "gone.txt"}, all)

	content, exists, err := s.ReadFileAt(dir, base, "keep.txt")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, "keep\n", content)

	_, exists, err = s.ReadFileAt(dir, head, "gone.txt")
	require.NoError(t, err)
	assert.False(t, exists)

	ancestor, err := s.IsAncestor(dir, base, head)
	require.NoError(t, err)
	assert.True(t, ancestor)
	ancestor, err = s.IsAncestor(dir, head, base)
	require.NoError(t, err)
	assert.False(t, ancestor)
}

func TestFetch_MissingRemoteBranchIsNotAnError(t *testing.T) {
	ctx := context.Background()
	s := newTestService()
	remote := newBareRemote(t, s)
	dir := filepath.Join(t.TempDir(), "tree")
	require.NoError(t, s.Clone(ctx, remote, dir))

	assert.NoError(t, s.Fetch(ctx, dir, remote))
	head, err := s.RemoteCommit(dir, "main")
	require.NoError(t, err)
	assert.Empty(t, head)
}

func TestHeadCommit_InvalidRepo(t *testing.T) {
	_, err := newTestService().HeadCommit(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
