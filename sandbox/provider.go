package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/framer-cd/framer/config"
)

// ExecResult is the captured outcome of one command inside a sandbox
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Output returns stdout and stderr joined for log storage
func (r ExecResult) Output() string {
	switch {
	case r.Stderr == "":
		return r.Stdout
	case r.Stdout == "":
		return r.Stderr
	default:
		return r.Stdout + "\n" + r.Stderr
	}
}

// Sandbox is an isolated environment with a working tree mounted in it
type Sandbox interface {
	ID() string
	Exec(ctx context.Context, script string) (ExecResult, error)
	Terminate(ctx context.Context) error
}

// Provider starts sandboxes for a working tree directory
type Provider interface {
	Start(ctx context.Context, dir string) (Sandbox, error)
}

// NewProvider returns the sandbox provider selected in the configuration
func NewProvider(cfg config.SandboxConfig) (Provider, error) {
	switch cfg.Provider {
	case config.SandboxDocker:
		return NewDockerProvider(cfg)
	case config.SandboxLocal, "":
		return NewLocalProvider(cfg.GracePeriod), nil
	default:
		return nil, fmt.Errorf("unknown sandbox provider: %s", cfg.Provider)
	}
}

// terminate tears a sandbox down; failures are logged and never returned
func terminate(ctx context.Context, sb Sandbox) {
	if err := sb.Terminate(context.WithoutCancel(ctx)); err != nil {
		slog.Warn("Failed to terminate sandbox",
			"layer", "sandbox",
			"operation", "terminate",
			"sandbox_id", sb.ID(),
			"error", err)
	}
}
