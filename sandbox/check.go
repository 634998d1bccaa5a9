package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// errorMarkers are output fragments that mean a build failed even when it exited 0
var errorMarkers = []string{
	"failed to compile",
	"build failed",
	"error ts",
	"syntaxerror",
	"module not found",
	"npm err!",
}

// BuildCheck is the outcome of installing and building a tree inside a sandbox
type BuildCheck struct {
	HasErrors bool
	Logs      string
}

// CheckBuild runs the install and build commands in sb. A command that cannot
// be run at all counts as a failed build with the error in the logs.
func (s *Supervisor) CheckBuild(ctx context.Context, sb Sandbox) BuildCheck {
	var logs strings.Builder
	for _, step := range []struct{ name, script string }{
		{"install", s.commands.Install},
		{"build", s.commands.Build},
	} {
		if strings.TrimSpace(step.script) == "" {
			continue
		}

		fmt.Fprintf(&logs, "$ %s\n", step.script)
		result, err := sb.Exec(ctx, step.script)
		logs.WriteString(result.Output())
		if err != nil {
			fmt.Fprintf(&logs, "\n%s could not run: %v\n", step.name, err)
			slog.Warn("Build check step could not run",
				"layer", "sandbox",
				"operation", "check_build",
				"step", step.name,
				"sandbox_id", sb.ID(),
				"error", err)
			return BuildCheck{HasErrors: true, Logs: logs.String()}
		}

		if result.ExitCode != 0 || hasErrorMarker(result.Output()) {
			fmt.Fprintf(&logs, "\n%s exited with code %d\n", step.name, result.ExitCode)
			slog.Info("Build check found errors",
				"layer", "sandbox",
				"step", step.name,
				"exit_code", result.ExitCode)
			return BuildCheck{HasErrors: true, Logs: logs.String()}
		}
		logs.WriteString("\n")
	}
	return BuildCheck{Logs: logs.String()}
}

// Session keeps one sandbox on a tree so every check of that tree runs in
// the same environment
type Session struct {
	supervisor *Supervisor
	sb         Sandbox
}

// OpenSession starts a sandbox on dir. The caller must Close the session.
func (s *Supervisor) OpenSession(ctx context.Context, provider Provider, dir string) (*Session, error) {
	sb, err := provider.Start(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to start sandbox: %w", err)
	}
	slog.Debug("Build sandbox started", "layer", "sandbox", "sandbox_id", sb.ID(), "dir", dir)
	return &Session{supervisor: s, sb: sb}, nil
}

// Check installs and builds the tree in the session's sandbox
func (ss *Session) Check(ctx context.Context) BuildCheck {
	return ss.supervisor.CheckBuild(ctx, ss.sb)
}

// Close tears the sandbox down, also when ctx is already cancelled
func (ss *Session) Close(ctx context.Context) {
	terminate(ctx, ss.sb)
}

func hasErrorMarker(output string) bool {
	lower := strings.ToLower(output)
	for _, marker := range errorMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
