// Package git provides Git repository operations including clone, fetch, commit, push and authentication.
package git

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"

	"github.com/framer-cd/framer/domain"
)

const remoteName = "origin"

var (
	// ErrRejected is returned when the remote refuses a push that is not a fast-forward
	ErrRejected = errors.New("push rejected: non-fast-forward")
)

// Options configures the git service
type Options struct {
	Timeout     time.Duration
	CloneDepth  int
	AuthorName  string
	AuthorEmail string
}

type GitService struct {
	opts Options
}

func NewGitService(opts Options) *GitService {
	if opts.AuthorName == "" {
		opts.AuthorName = "framer"
	}
	if opts.AuthorEmail == "" {
		opts.AuthorEmail = "framer@localhost"
	}
	return &GitService{opts: opts}
}

// IsLocalURL reports whether url points at a repository on the local filesystem
func IsLocalURL(url string) bool {
	if strings.HasPrefix(url, "file://") {
		return true
	}
	return !strings.Contains(url, "://") && !strings.Contains(url, "@")
}

func (s *GitService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opts.Timeout)
}

// createAuthMethod creates a transport.AuthMethod from GitAuthConfig
func (s *GitService) createAuthMethod(auth *domain.GitAuthConfig) (transport.AuthMethod, error) {
	if auth == nil {
		return nil, nil
	}

	if auth.HTTPAuth != nil {
		return &http.BasicAuth{
			Username: auth.HTTPAuth.Username,
			Password: auth.HTTPAuth.Password,
		}, nil
	}

	if auth.SSHAuth != nil {
		user := auth.SSHAuth.User
		if user == "" {
			user = "git"
		}
		return ssh.NewPublicKeys(user, []byte(auth.SSHAuth.PrivateKey), "")
	}

	return nil, nil
}

// Clone clones the remote branch into dir. Local remotes are cloned in full,
// others with the configured depth. An empty remote yields a fresh local
// repository with origin configured.
func (s *GitService) Clone(ctx context.Context, remote domain.Remote, dir string) error {
	slog.Info("Cloning repository", "layer", "git", "git_url", remote.URL, "git_branch", remote.Branch, "working_dir", dir)

	authMethod, err := s.createAuthMethod(remote.Auth)
	if err != nil {
		return fmt.Errorf("failed to create auth method: %w", err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	cloneOptions := &git.CloneOptions{
		URL:           remote.URL,
		RemoteName:    remoteName,
		SingleBranch:  true,
		Auth:          authMethod,
		ReferenceName: plumbing.NewBranchReferenceName(remote.Branch),
	}
	if s.opts.CloneDepth > 0 && !IsLocalURL(remote.URL) {
		cloneOptions.Depth = s.opts.CloneDepth
	}

	_, err = git.PlainCloneContext(ctx, dir, false, cloneOptions)
	if errors.Is(err, transport.ErrEmptyRemoteRepository) {
		slog.Debug("Remote repository is empty, initializing locally", "layer", "git", "git_url", remote.URL)
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("failed to clear working directory: %w", err)
		}
		return s.initEmpty(dir, remote)
	}
	if err != nil {
		slog.Error("Service operation failed",
			"layer", "git",
			"operation", "git_clone",
			"git_url", remote.URL,
			"git_branch", remote.Branch,
			"working_dir", dir,
			"error", err)
		return fmt.Errorf("failed to clone repository: %w", err)
	}
	return nil
}

func (s *GitService) initEmpty(dir string, remote domain.Remote) error {
	repo, err := git.PlainInitWithOptions(dir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName(remote.Branch)},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	if _, err := repo.CreateRemote(&config.RemoteConfig{Name: remoteName, URLs: []string{remote.URL}}); err != nil {
		return fmt.Errorf("failed to configure remote: %w", err)
	}
	return nil
}

// InitBare creates a bare repository whose HEAD points at branch
func (s *GitService) InitBare(path, branch string) error {
	_, err := git.PlainInitWithOptions(path, &git.PlainInitOptions{
		Bare:        true,
		InitOptions: git.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName(branch)},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize bare repository: %w", err)
	}
	return nil
}

// IsRepository reports whether path holds a git repository
func (s *GitService) IsRepository(path string) bool {
	_, err := git.PlainOpen(path)
	return err == nil
}

// Fetch updates the remote tracking branch. A missing remote branch is not an error.
func (s *GitService) Fetch(ctx context.Context, dir string, remote domain.Remote) error {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return err
	}

	authMethod, err := s.createAuthMethod(remote.Auth)
	if err != nil {
		return fmt.Errorf("failed to create auth method: %w", err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err = repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: remoteName,
		Auth:       authMethod,
		RefSpecs:   []config.RefSpec{trackingRefSpec(remote.Branch)},
	})
	var noMatch git.NoMatchingRefSpecError
	switch {
	case err == nil:
		slog.Debug("Repository fetched successfully", "layer", "git", "git_branch", remote.Branch, "working_dir", dir)
		return nil
	case errors.Is(err, git.NoErrAlreadyUpToDate),
		errors.Is(err, transport.ErrEmptyRemoteRepository),
		errors.As(err, &noMatch):
		return nil
	default:
		slog.Error("Service operation failed",
			"layer", "git",
			"operation", "git_fetch",
			"git_branch", remote.Branch,
			"working_dir", dir,
			"error", err)
		return fmt.Errorf("failed to fetch: %w", err)
	}
}

func trackingRefSpec(branch string) config.RefSpec {
	return config.RefSpec(fmt.Sprintf("+refs/heads/%s:refs/remotes/%s/%s", branch, remoteName, branch))
}

// HeadCommit returns the commit HEAD points at, or "" for an unborn branch
func (s *GitService) HeadCommit(dir string) (string, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return "", err
	}
	ref, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return ref.Hash().String(), nil
}

// RemoteCommit returns the last fetched commit of the remote branch, or "" when it does not exist
func (s *GitService) RemoteCommit(dir, branch string) (string, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return "", err
	}
	ref, err := repo.Reference(plumbing.NewRemoteReferenceName(remoteName, branch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return ref.Hash().String(), nil
}

// Status returns the worktree status; only changed paths are present
func (s *GitService) Status(dir string) (git.Status, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return nil, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return nil, err
	}
	return worktree.Status()
}

// CommitAll stages every change including deletions and commits it. Without
// allowEmpty a clean tree produces no commit and committed is false.
func (s *GitService) CommitAll(dir, message string, allowEmpty bool) (hash string, committed bool, err error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return "", false, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return "", false, err
	}

	if err := worktree.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", false, fmt.Errorf("failed to stage changes: %w", err)
	}

	status, err := worktree.Status()
	if err != nil {
		return "", false, fmt.Errorf("failed to get worktree status: %w", err)
	}
	if status.IsClean() && !allowEmpty {
		return "", false, nil
	}

	signature := &object.Signature{Name: s.opts.AuthorName, Email: s.opts.AuthorEmail, When: time.Now()}
	commit, err := worktree.Commit(message, &git.CommitOptions{
		Author:            signature,
		Committer:         signature,
		AllowEmptyCommits: allowEmpty,
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to commit: %w", err)
	}
	return commit.String(), true, nil
}

// Push pushes the local branch. A non-fast-forward refusal wraps ErrRejected.
func (s *GitService) Push(ctx context.Context, dir string, remote domain.Remote) error {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return err
	}

	authMethod, err := s.createAuthMethod(remote.Auth)
	if err != nil {
		return fmt.Errorf("failed to create auth method: %w", err)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	branchRef := plumbing.NewBranchReferenceName(remote.Branch)
	err = repo.PushContext(ctx, &git.PushOptions{
		RemoteName: remoteName,
		Auth:       authMethod,
		RefSpecs:   []config.RefSpec{config.RefSpec(fmt.Sprintf("%s:%s", branchRef, branchRef))},
	})
	switch {
	case err == nil, errors.Is(err, git.NoErrAlreadyUpToDate):
		return nil
	case isRejection(err):
		return fmt.Errorf("%w: %v", ErrRejected, err)
	default:
		return fmt.Errorf("failed to push: %w", err)
	}
}

func isRejection(err error) bool {
	if errors.Is(err, git.ErrNonFastForwardUpdate) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "non-fast-forward") || strings.Contains(msg, "rejected")
}

// ResetToRemote moves the local branch to the fetched remote head and makes
// the worktree match it exactly, untracked files included. It returns the
// new head, or "" when the remote branch does not exist yet.
func (s *GitService) ResetToRemote(dir, branch string) (string, error) {
	remoteHead, err := s.RemoteCommit(dir, branch)
	if err != nil || remoteHead == "" {
		return "", err
	}
	return remoteHead, s.ResetHard(dir, branch, remoteHead)
}

// ResetHard points branch at hash, checks it out and removes untracked files
func (s *GitService) ResetHard(dir, branch, hash string) error {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return err
	}

	branchRef := plumbing.NewBranchReferenceName(branch)
	target := plumbing.NewHash(hash)
	if err := repo.Storer.SetReference(plumbing.NewHashReference(branchRef, target)); err != nil {
		return fmt.Errorf("failed to move branch: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, branchRef)); err != nil {
		return fmt.Errorf("failed to update HEAD: %w", err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return err
	}
	if err := worktree.Reset(&git.ResetOptions{Commit: target, Mode: git.HardReset}); err != nil {
		return fmt.Errorf("failed to reset to %s: %w", hash, err)
	}
	if err := worktree.Clean(&git.CleanOptions{Dir: true}); err != nil {
		return fmt.Errorf("failed to clean worktree: %w", err)
	}
	return nil
}

// IsAncestor reports whether ancestor is reachable from descendant
func (s *GitService) IsAncestor(dir, ancestor, descendant string) (bool, error) {
	if ancestor == "" {
		return true, nil
	}
	if ancestor == descendant {
		return true, nil
	}
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return false, err
	}
	a, err := repo.CommitObject(plumbing.NewHash(ancestor))
	if err != nil {
		return false, err
	}
	d, err := repo.CommitObject(plumbing.NewHash(descendant))
	if err != nil {
		return false, err
	}
	return a.IsAncestor(d)
}

// ChangedPaths lists paths that differ between the trees of two commits.
// An empty hash stands for the empty tree.
func (s *GitService) ChangedPaths(dir, from, to string) ([]string, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return nil, err
	}

	toTree, err := commitTree(repo, to)
	if err != nil {
		return nil, err
	}
	fromTree, err := commitTree(repo, from)
	if err != nil {
		return nil, err
	}

	changes, err := object.DiffTree(fromTree, toTree)
	if err != nil {
		return nil, fmt.Errorf("failed to diff trees: %w", err)
	}

	paths := make([]string, 0, len(changes))
	for _, change := range changes {
		name := change.To.Name
		if name == "" {
			name = change.From.Name
		}
		paths = append(paths, name)
	}
	return paths, nil
}

func commitTree(repo *git.Repository, hash string) (*object.Tree, error) {
	if hash == "" {
		return nil, nil
	}
	commit, err := repo.CommitObject(plumbing.NewHash(hash))
	if err != nil {
		return nil, err
	}
	return commit.Tree()
}

// ReadFileAt returns the content of path at commit hash; exists is false when absent
func (s *GitService) ReadFileAt(dir, hash, path string) (content string, exists bool, err error) {
	if hash == "" {
		return "", false, nil
	}
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return "", false, err
	}
	commit, err := repo.CommitObject(plumbing.NewHash(hash))
	if err != nil {
		return "", false, err
	}
	file, err := commit.File(filepath.ToSlash(path))
	if errors.Is(err, object.ErrFileNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	content, err = file.Contents()
	if err != nil {
		return "", false, err
	}
	return content, true, nil
}

// CommitCount counts commits reachable from hash
func (s *GitService) CommitCount(dir, hash string) (int, error) {
	if hash == "" {
		return 0, nil
	}
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return 0, err
	}
	iter, err := repo.Log(&git.LogOptions{From: plumbing.NewHash(hash)})
	if err != nil {
		return 0, err
	}
	count := 0
	err = iter.ForEach(func(*object.Commit) error {
		count++
		return nil
	})
	return count, err
}

// BranchHead returns the head commit of branch in any repository, bare ones included
func (s *GitService) BranchHead(path, branch string) (string, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return "", err
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return ref.Hash().String(), nil
}
