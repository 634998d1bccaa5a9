// Package workspace manages local working trees: advisory locking, fresh
// clones, conflict-tolerant pull and push, and cleanup of old trees.
package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/framer-cd/framer/domain"
	"github.com/framer-cd/framer/metrics"
)

const markerSuffix = ".lock"

// ErrLockTimeout is returned when a lock did not clear within the wait budget
var ErrLockTimeout = errors.New("timed out waiting for working tree lock")

// LockInfo is the content of a lock marker
type LockInfo struct {
	AcquiredAt time.Time `json:"acquired_at"`
	Holder     string    `json:"holder"`
	Token      string    `json:"token"`
}

// LockOptions configures a Locker
type LockOptions struct {
	// StaleAfter is the age after which a marker is ignored and removed
	StaleAfter time.Duration
	// WaitTimeout bounds how long Acquire waits for the marker to clear
	WaitTimeout time.Duration
	// PollInterval is the fixed delay between checks while waiting
	PollInterval time.Duration
	// Holder identifies this process in the marker
	Holder string
}

// Locker implements advisory, cross-process locking of working trees with
// marker files next to them. A marker older than StaleAfter is treated as
// abandoned: the next checker removes it and may acquire the lock even if
// its holder is still running.
type Locker struct {
	opts LockOptions
	now  func() time.Time
}

func NewLocker(opts LockOptions) *Locker {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 30 * time.Minute
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = 5 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.Holder == "" {
		host, _ := os.Hostname()
		opts.Holder = fmt.Sprintf("%s:%d", host, os.Getpid())
	}
	return &Locker{opts: opts, now: time.Now}
}

// MarkerPath returns the marker file guarding the tree at path
func MarkerPath(path string) string {
	return filepath.Clean(path) + markerSuffix
}

// IsInUse reports whether a fresh marker guards path. A stale marker is removed.
func (l *Locker) IsInUse(path string) (bool, error) {
	marker := MarkerPath(path)
	info, err := l.readMarker(marker)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	age := l.now().Sub(info.AcquiredAt)
	if age < l.opts.StaleAfter {
		return true, nil
	}

	slog.Warn("Removing stale working tree lock",
		"layer", "workspace",
		"path", path,
		"holder", info.Holder,
		"age", age.Round(time.Second).String())
	if err := removeIfToken(marker, info.Token); err != nil {
		return false, fmt.Errorf("failed to remove stale lock: %w", err)
	}
	return false, nil
}

// MarkInUse writes a fresh marker for path, replacing any existing one
func (l *Locker) MarkInUse(path string) error {
	_, err := l.writeMarker(path, func(tmp, marker string) error {
		return os.Rename(tmp, marker)
	})
	return err
}

// ClearInUse removes the marker for path; a missing marker is not an error
func (l *Locker) ClearInUse(path string) error {
	err := os.Remove(MarkerPath(path))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear lock: %w", err)
	}
	return nil
}

// WaitForClear polls at the fixed interval until path is not in use or timeout passes
func (l *Locker) WaitForClear(ctx context.Context, path string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		inUse, err := l.IsInUse(path)
		if err != nil {
			return err
		}
		if !inUse {
			return nil
		}
		if err := l.sleep(ctx); err != nil {
			return err
		}
	}
}

// Acquire waits for path to clear and takes its lock. Exactly one of several
// concurrent acquirers wins each time the marker is absent.
func (l *Locker) Acquire(ctx context.Context, path string) (*Lock, error) {
	started := l.now()
	waitCtx, cancel := context.WithTimeout(ctx, l.opts.WaitTimeout)
	defer cancel()

	for {
		if err := l.WaitForClear(waitCtx, path, l.opts.WaitTimeout); err != nil {
			metrics.ObserveLockWait(false, l.now().Sub(started))
			return nil, err
		}
		info, err := l.writeMarker(path, linkExclusive)
		if err == nil {
			metrics.ObserveLockWait(true, l.now().Sub(started))
			slog.Debug("Working tree lock acquired", "layer", "workspace", "path", path, "token", info.Token)
			return &Lock{path: path, token: info.Token}, nil
		}
		// Another acquirer installed its marker first
		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}
	}
}

// WithLock runs fn while holding the lock for path. The lock is released
// whatever fn returns; onRelease, when set, gets the release time once the
// marker is gone.
func (l *Locker) WithLock(ctx context.Context, path string, fn func(ctx context.Context) error, onRelease func(releasedAt time.Time)) error {
	lock, err := l.Acquire(ctx, path)
	if err != nil {
		return err
	}
	defer func() {
		releasedAt := l.now()
		if err := lock.Release(); err != nil {
			slog.Error("Failed to release working tree lock",
				"layer", "workspace",
				"operation", "release_lock",
				"path", path,
				"error", err)
			return
		}
		if onRelease != nil {
			onRelease(releasedAt)
		}
	}()
	return fn(ctx)
}

// sleep waits one poll interval. A deadline maps to ErrLockTimeout; an
// external cancellation is returned as is.
func (l *Locker) sleep(ctx context.Context) error {
	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return domain.NewError(domain.KindLockContention, "acquire_lock", ErrLockTimeout)
		}
		return ctx.Err()
	case <-time.After(l.opts.PollInterval):
		return nil
	}
}

// writeMarker writes the marker content to a temp file in the same
// directory and installs it with place.
func (l *Locker) writeMarker(path string, place func(tmp, marker string) error) (LockInfo, error) {
	marker := MarkerPath(path)
	info := LockInfo{AcquiredAt: l.now().UTC(), Holder: l.opts.Holder, Token: uuid.NewString()}

	data, err := json.Marshal(info)
	if err != nil {
		return info, err
	}
	if err := os.MkdirAll(filepath.Dir(marker), 0o755); err != nil {
		return info, fmt.Errorf("failed to create lock directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(marker), filepath.Base(marker)+".*.tmp")
	if err != nil {
		return info, fmt.Errorf("failed to create lock file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return info, fmt.Errorf("failed to write lock file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return info, fmt.Errorf("failed to write lock file: %w", err)
	}
	return info, place(tmpName, marker)
}

// linkExclusive installs tmp as marker only when no marker exists
func linkExclusive(tmp, marker string) error {
	if err := os.Link(tmp, marker); err != nil {
		if errors.Is(err, os.ErrExist) {
			return os.ErrExist
		}
		return fmt.Errorf("failed to create lock: %w", err)
	}
	return nil
}

func (l *Locker) readMarker(marker string) (LockInfo, error) {
	var info LockInfo
	data, err := os.ReadFile(marker)
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal(data, &info); err != nil || info.AcquiredAt.IsZero() {
		// Unreadable markers age by modification time
		stat, statErr := os.Stat(marker)
		if statErr != nil {
			return info, statErr
		}
		info.AcquiredAt = stat.ModTime()
	}
	return info, nil
}

// removeIfToken deletes marker only while it still carries token. The marker
// is first moved aside so a lock taken between the read and the removal is
// put back instead of deleted.
func removeIfToken(marker, token string) error {
	aside := fmt.Sprintf("%s.%s.reap", marker, uuid.NewString())
	if err := os.Rename(marker, aside); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer os.Remove(aside)

	data, err := os.ReadFile(aside)
	if err != nil {
		return err
	}
	var info LockInfo
	if json.Unmarshal(data, &info) == nil && info.Token != token {
		// Not the marker we meant to remove; restore it unless the slot was taken again
		if err := os.Link(aside, marker); err != nil && !errors.Is(err, os.ErrExist) {
			return err
		}
	}
	return nil
}

// Lock is a held working tree lock
type Lock struct {
	path  string
	token string
}

// Path returns the guarded working tree
func (lk *Lock) Path() string {
	return lk.path
}

// Release removes the marker if it still belongs to this lock. A holder that
// was preempted after the staleness threshold leaves its successor's marker alone.
func (lk *Lock) Release() error {
	if err := removeIfToken(MarkerPath(lk.path), lk.token); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	slog.Debug("Working tree lock released", "layer", "workspace", "path", lk.path)
	return nil
}
