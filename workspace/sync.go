package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/framer-cd/framer/domain"
	"github.com/framer-cd/framer/git"
	"github.com/framer-cd/framer/metrics"
)

// WorkingTree is a freshly prepared local clone
type WorkingTree struct {
	Path   string
	Remote domain.Remote
	Head   string
}

// Manager prepares working trees and keeps them in sync with their remotes
type Manager struct {
	git    *git.GitService
	locker *Locker
	now    func() time.Time
}

func NewManager(gitService *git.GitService, locker *Locker) *Manager {
	return &Manager{git: gitService, locker: locker, now: time.Now}
}

// Locker returns the locker guarding the trees of this manager
func (m *Manager) Locker() *Locker {
	return m.locker
}

// IsReady reports whether path holds a working tree
func (m *Manager) IsReady(path string) bool {
	return m.git.IsRepository(path)
}

// Head returns the commit checked out at path, empty when nothing was committed yet
func (m *Manager) Head(path string) (string, error) {
	return m.git.HeadCommit(path)
}

// EnsureReady discards whatever is at path and clones remote into it
func (m *Manager) EnsureReady(ctx context.Context, path string, remote domain.Remote) (*WorkingTree, error) {
	if path == "" || filepath.Clean(path) == string(filepath.Separator) {
		return nil, fmt.Errorf("refusing to prepare working tree at %q", path)
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("failed to remove existing working tree: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace directory: %w", err)
	}

	if err := m.git.Clone(ctx, remote, path); err != nil {
		return nil, domain.Transient("clone", err)
	}

	head, err := m.git.HeadCommit(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cloned head: %w", err)
	}
	m.touch(path)

	slog.Info("Working tree ready", "layer", "workspace", "path", path, "head", head)
	return &WorkingTree{Path: path, Remote: remote, Head: head}, nil
}

// SafePull brings path up to the remote head while keeping uncommitted
// changes. Changes that conflict with the remote lose to it. It returns false,
// never an error, when the tree could not be synchronized.
func (m *Manager) SafePull(ctx context.Context, path string, remote domain.Remote) (ok bool) {
	defer m.recoverInto("safe_pull", path, &ok)
	defer func() { metrics.ObserveSync("pull", ok) }()

	if err := m.git.Fetch(ctx, path, remote); err != nil {
		m.logFailure("safe_pull_fetch", path, err)
		return false
	}

	head, err := m.git.HeadCommit(path)
	if err != nil {
		m.logFailure("safe_pull_head", path, err)
		return false
	}
	remoteHead, err := m.git.RemoteCommit(path, remote.Branch)
	if err != nil {
		m.logFailure("safe_pull_remote_head", path, err)
		return false
	}
	if remoteHead == "" || remoteHead == head {
		return true
	}

	if ff, err := m.git.IsAncestor(path, head, remoteHead); err == nil && !ff {
		slog.Warn("Local history diverged from remote, remote wins",
			"layer", "workspace",
			"path", path,
			"local_head", head,
			"remote_head", remoteHead)
	}

	stash, err := m.stashUncommitted(path, head)
	if err != nil {
		m.logFailure("safe_pull_stash", path, err)
		return false
	}

	if err := m.git.ResetHard(path, remote.Branch, remoteHead); err != nil {
		m.logFailure("safe_pull_reset", path, err)
		return false
	}

	if err := m.reapply(path, remoteHead, stash); err != nil {
		m.logFailure("safe_pull_restore", path, err)
		return false
	}

	m.touch(path)
	return true
}

// SafePush commits every change in path and pushes it. A clean tree with
// nothing to push succeeds without a new commit.
func (m *Manager) SafePush(ctx context.Context, path string, remote domain.Remote, message string) bool {
	return m.push(ctx, path, remote, message, false)
}

// SafePushMarker is SafePush that records a commit even when nothing changed
func (m *Manager) SafePushMarker(ctx context.Context, path string, remote domain.Remote, message string) bool {
	return m.push(ctx, path, remote, message, true)
}

func (m *Manager) push(ctx context.Context, path string, remote domain.Remote, message string, allowEmpty bool) (ok bool) {
	defer m.recoverInto("safe_push", path, &ok)
	defer func() { metrics.ObserveSync("push", ok) }()

	base, err := m.git.RemoteCommit(path, remote.Branch)
	if err != nil {
		m.logFailure("safe_push_base", path, err)
		return false
	}

	if _, _, err := m.git.CommitAll(path, message, allowEmpty); err != nil {
		m.logFailure("safe_push_commit", path, err)
		return false
	}

	head, err := m.git.HeadCommit(path)
	if err != nil {
		m.logFailure("safe_push_head", path, err)
		return false
	}
	if head == "" || head == base {
		return true
	}

	err = m.git.Push(ctx, path, remote)
	if err == nil {
		m.refreshTracking(ctx, path, remote)
		m.touch(path)
		return true
	}
	if !errors.Is(err, git.ErrRejected) {
		m.logFailure("safe_push", path, err)
		return false
	}

	slog.Info("Push rejected, reapplying local changes on the remote head", "layer", "workspace", "path", path)
	if m.rebaseAndPush(ctx, path, remote, message, allowEmpty, base, head) {
		m.touch(path)
		return true
	}

	// The local diff is discarded; the tree is left at the remote head
	if err := m.git.Fetch(ctx, path, remote); err == nil {
		if _, err := m.git.ResetToRemote(path, remote.Branch); err != nil {
			m.logFailure("safe_push_reset", path, err)
		}
	}
	return false
}

// rebaseAndPush replays the files changed between base and head onto the
// freshly fetched remote head and pushes once more.
func (m *Manager) rebaseAndPush(ctx context.Context, path string, remote domain.Remote, message string, allowEmpty bool, base, head string) bool {
	paths, err := m.git.ChangedPaths(path, base, head)
	if err != nil {
		m.logFailure("safe_push_diff", path, err)
		return false
	}

	changes := make([]stashedFile, 0, len(paths))
	for _, p := range paths {
		baseVersion, err := m.committedVersion(path, base, p)
		if err != nil {
			m.logFailure("safe_push_diff", path, err)
			return false
		}
		localVersion, err := m.committedVersion(path, head, p)
		if err != nil {
			m.logFailure("safe_push_diff", path, err)
			return false
		}
		changes = append(changes, stashedFile{path: p, base: baseVersion, local: localVersion})
	}

	if err := m.git.Fetch(ctx, path, remote); err != nil {
		m.logFailure("safe_push_fetch", path, err)
		return false
	}
	remoteHead, err := m.git.ResetToRemote(path, remote.Branch)
	if err != nil {
		m.logFailure("safe_push_reset", path, err)
		return false
	}

	if err := m.reapply(path, remoteHead, changes); err != nil {
		m.logFailure("safe_push_reapply", path, err)
		return false
	}
	if _, _, err := m.git.CommitAll(path, message, allowEmpty); err != nil {
		m.logFailure("safe_push_commit", path, err)
		return false
	}
	if err := m.git.Push(ctx, path, remote); err != nil {
		m.logFailure("safe_push_retry", path, err)
		return false
	}
	m.refreshTracking(ctx, path, remote)
	return true
}

// stashedFile is a changed path with its version before and after the local edit
type stashedFile struct {
	path  string
	base  version
	local version
}

// stashUncommitted snapshots every uncommitted change relative to head
func (m *Manager) stashUncommitted(path, head string) ([]stashedFile, error) {
	status, err := m.git.Status(path)
	if err != nil {
		return nil, err
	}

	stash := make([]stashedFile, 0, len(status))
	for p := range status {
		baseVersion, err := m.committedVersion(path, head, p)
		if err != nil {
			return nil, err
		}
		localVersion, err := readWorking(path, p)
		if err != nil {
			return nil, err
		}
		stash = append(stash, stashedFile{path: p, base: baseVersion, local: localVersion})
	}
	return stash, nil
}

// reapply merges stashed changes over the tree currently checked out at head
func (m *Manager) reapply(path, head string, stash []stashedFile) error {
	for _, file := range stash {
		remoteVersion, err := m.committedVersion(path, head, file.path)
		if err != nil {
			return err
		}

		merged, conflict := mergeFile(file.base, file.local, remoteVersion)
		if conflict {
			slog.Warn("Conflicting change, keeping remote version",
				"layer", "workspace",
				"path", path,
				"file", file.path)
		}
		if err := writeWorking(path, file.path, merged); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) committedVersion(path, commit, file string) (version, error) {
	content, exists, err := m.git.ReadFileAt(path, commit, file)
	if err != nil {
		return version{}, err
	}
	return version{content: content, exists: exists}, nil
}

func (m *Manager) refreshTracking(ctx context.Context, path string, remote domain.Remote) {
	if err := m.git.Fetch(ctx, path, remote); err != nil {
		slog.Warn("Failed to refresh remote tracking branch", "layer", "workspace", "path", path, "error", err)
	}
}

func (m *Manager) touch(path string) {
	now := m.now()
	if err := os.Chtimes(path, now, now); err != nil {
		slog.Debug("Failed to touch working tree", "layer", "workspace", "path", path, "error", err)
	}
}

func (m *Manager) logFailure(operation, path string, err error) {
	slog.Error("Sync operation failed",
		"layer", "workspace",
		"operation", operation,
		"path", path,
		"error", err)
}

func (m *Manager) recoverInto(operation, path string, ok *bool) {
	if r := recover(); r != nil {
		m.logFailure(operation, path, fmt.Errorf("panic: %v", r))
		*ok = false
	}
}

func readWorking(root, file string) (version, error) {
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(file)))
	if errors.Is(err, os.ErrNotExist) {
		return version{}, nil
	}
	if err != nil {
		return version{}, err
	}
	return version{content: string(data), exists: true}, nil
}

func writeWorking(root, file string, v version) error {
	full := filepath.Join(root, filepath.FromSlash(file))
	if !v.exists {
		if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, []byte(v.content), 0o644)
}
