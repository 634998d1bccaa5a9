// Package sandbox runs untrusted work in supervised child processes and
// disposable build sandboxes.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/framer-cd/framer/domain"
	"github.com/framer-cd/framer/metrics"
)

// ReportFDEnv names the environment variable telling a child which descriptor to report on
const ReportFDEnv = "FRAMER_REPORT_FD"

// reportFD is the descriptor number of the first ExtraFiles entry in the child
const reportFD = 3

const maxReportSize = 4 * 1024 * 1024

// Target is a child process to run under supervision
type Target struct {
	Name    string
	Command string
	Args    []string
	Dir     string
	Env     []string
	Stdin   []byte
}

// Policy bounds a supervised run
type Policy struct {
	MaxRetries  int
	RetryDelay  time.Duration
	Timeout     time.Duration
	GracePeriod time.Duration
}

// Report is what a child writes to its report descriptor before exiting
type Report struct {
	Success bool            `json:"success"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Result is the outcome of a successful supervised run
type Result struct {
	Report   Report
	Attempts int
	Stdout   string
	Stderr   string
}

// FailureKind classifies why an attempt did not produce a successful report
type FailureKind string

const (
	FailureTimeout  FailureKind = "timeout"
	FailureFailed   FailureKind = "failed"
	FailureNoResult FailureKind = "no_result"
)

// ExecError is returned when every attempt failed. Kind reflects the last attempt.
type ExecError struct {
	Target   string
	Kind     FailureKind
	Attempts int
	Stderr   string
	Err      error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s %s after %d attempt(s): %v", e.Target, e.Kind, e.Attempts, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// ErrorKind maps the failure to the pipeline error kinds
func (e *ExecError) ErrorKind() domain.ErrorKind {
	if e.Kind == FailureTimeout {
		return domain.KindTimeout
	}
	return domain.KindBuild
}

// BuildCommands are the shell commands a build check runs inside a sandbox
type BuildCommands struct {
	Install string
	Build   string
}

// Supervisor runs targets as isolated child processes with deadlines and retries
type Supervisor struct {
	commands BuildCommands
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewSupervisor(commands BuildCommands) *Supervisor {
	return &Supervisor{commands: commands, sleep: sleepContext}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run executes target until one attempt reports success or MaxRetries attempts
// have been made. Each attempt is a new process group killed at its deadline.
func (s *Supervisor) Run(ctx context.Context, target Target, policy Policy) (*Result, error) {
	attempts := policy.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var last *ExecError
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := s.sleep(ctx, policy.RetryDelay); err != nil {
				return nil, fmt.Errorf("%s interrupted: %w", target.Name, err)
			}
		}

		result, failure := s.attempt(ctx, target, policy)
		if failure == nil {
			metrics.SupervisorAttempts.WithLabelValues(target.Name, "success").Inc()
			result.Attempts = attempt
			return result, nil
		}

		metrics.SupervisorAttempts.WithLabelValues(target.Name, string(failure.Kind)).Inc()
		failure.Attempts = attempt
		last = failure

		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s interrupted: %w", target.Name, ctx.Err())
		}

		slog.Warn("Supervised attempt failed",
			"layer", "sandbox",
			"target", target.Name,
			"attempt", attempt,
			"max_attempts", attempts,
			"kind", failure.Kind,
			"error", failure.Err)
	}
	return nil, last
}

func (s *Supervisor) attempt(ctx context.Context, target Target, policy Policy) (*Result, *ExecError) {
	fail := func(kind FailureKind, stderr string, err error) *ExecError {
		return &ExecError{Target: target.Name, Kind: kind, Stderr: stderr, Err: err}
	}

	attemptCtx := ctx
	if policy.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, policy.Timeout)
		defer cancel()
	}

	reportReader, reportWriter, err := os.Pipe()
	if err != nil {
		return nil, fail(FailureFailed, "", fmt.Errorf("failed to create report pipe: %w", err))
	}
	defer reportReader.Close()

	cmd := exec.CommandContext(attemptCtx, target.Command, target.Args...)
	cmd.Dir = target.Dir
	cmd.Env = append(cmd.Environ(), target.Env...)
	cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%d", ReportFDEnv, reportFD))
	cmd.Stdin = bytes.NewReader(target.Stdin)
	cmd.ExtraFiles = []*os.File{reportWriter}
	var stdout, stderr tailBuffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	isolate(cmd, policy.GracePeriod)

	if err := cmd.Start(); err != nil {
		reportWriter.Close()
		return nil, fail(FailureFailed, "", fmt.Errorf("failed to start %s: %w", target.Command, err))
	}
	// Only the child holds the write end now, so EOF means every writer exited
	reportWriter.Close()

	reportCh := make(chan []byte, 1)
	go func() {
		data, _ := io.ReadAll(io.LimitReader(reportReader, maxReportSize))
		reportCh <- data
	}()

	waitErr := cmd.Wait()

	var data []byte
	select {
	case data = <-reportCh:
	case <-time.After(policy.GracePeriod + time.Second):
		// A leftover grandchild still holds the descriptor
		killGroup(cmd)
		reportReader.Close()
		data = <-reportCh
	}

	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, fail(FailureTimeout, stderr.String(), fmt.Errorf("exceeded %s deadline", policy.Timeout))
	}
	if ctx.Err() != nil {
		return nil, fail(FailureFailed, stderr.String(), ctx.Err())
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fail(FailureNoResult, stderr.String(), fmt.Errorf("process exited with code %d without a report", exitCode(waitErr)))
	}

	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fail(FailureNoResult, stderr.String(), fmt.Errorf("unreadable report: %w", err))
	}
	if !report.Success {
		msg := report.Error
		if msg == "" {
			msg = "child reported failure"
		}
		return nil, fail(FailureFailed, stderr.String(), errors.New(msg))
	}
	if code := exitCode(waitErr); code != 0 {
		return nil, fail(FailureFailed, stderr.String(), fmt.Errorf("process exited with code %d", code))
	}

	return &Result{Report: report, Stdout: stdout.String(), Stderr: stderr.String()}, nil
}
