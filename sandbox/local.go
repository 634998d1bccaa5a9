package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LocalProvider runs sandbox commands as process groups directly in the tree directory
type LocalProvider struct {
	gracePeriod time.Duration
}

func NewLocalProvider(gracePeriod time.Duration) *LocalProvider {
	return &LocalProvider{gracePeriod: gracePeriod}
}

func (p *LocalProvider) Start(ctx context.Context, dir string) (Sandbox, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat sandbox directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("sandbox path is not a directory: %s", dir)
	}
	return &localSandbox{
		id:          "local-" + uuid.NewString()[:8],
		dir:         dir,
		gracePeriod: p.gracePeriod,
		running:     make(map[*exec.Cmd]struct{}),
	}, nil
}

type localSandbox struct {
	id          string
	dir         string
	gracePeriod time.Duration

	mu         sync.Mutex
	running    map[*exec.Cmd]struct{}
	terminated bool
}

var errTerminated = errors.New("sandbox terminated")

func (s *localSandbox) ID() string {
	return s.id
}

func (s *localSandbox) Exec(ctx context.Context, script string) (ExecResult, error) {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return ExecResult{}, errTerminated
	}
	s.mu.Unlock()
	return runScript(ctx, s.dir, script, nil, s.gracePeriod, s.track)
}

func (s *localSandbox) track(cmd *exec.Cmd, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if running {
		s.running[cmd] = struct{}{}
	} else {
		delete(s.running, cmd)
	}
}

// Terminate kills every command still running in the sandbox
func (s *localSandbox) Terminate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminated = true
	for cmd := range s.running {
		killGroup(cmd)
	}
	return nil
}
