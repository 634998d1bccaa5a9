package sandbox

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// maxCapture bounds how much output of a process is kept in memory
const maxCapture = 256 * 1024

// tailBuffer keeps the last maxCapture bytes written to it
type tailBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Write(p)
	if over := b.buf.Len() - maxCapture; over > 0 {
		b.buf.Next(over)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// isolate puts cmd in its own process group. Cancelling its context sends
// SIGTERM to the whole group and SIGKILL after the grace period, so children
// spawned by the command do not outlive it.
func isolate(cmd *exec.Cmd, gracePeriod time.Duration) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if gracePeriod <= 0 {
		cmd.Cancel = func() error {
			return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		cmd.WaitDelay = time.Second
		return
	}

	cmd.Cancel = func() error {
		group := -cmd.Process.Pid
		if err := syscall.Kill(group, syscall.SIGTERM); err != nil {
			return syscall.Kill(group, syscall.SIGKILL)
		}
		go func() {
			time.Sleep(gracePeriod)
			// ESRCH from an exited group is harmless
			_ = syscall.Kill(group, syscall.SIGKILL)
		}()
		return nil
	}
	// Wait gives up on inherited pipes shortly after the group is killed
	cmd.WaitDelay = gracePeriod + time.Second
}

// exitCode extracts the exit status of a finished command; -1 means it did not exit normally
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// killGroup terminates a running process group immediately
func killGroup(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}

// runScript runs script with sh in dir and captures its output
func runScript(ctx context.Context, dir, script string, stdin []byte, gracePeriod time.Duration, track func(*exec.Cmd, bool)) (ExecResult, error) {
	started := time.Now()
	cmd := exec.CommandContext(ctx, "sh", "-c", script)
	cmd.Dir = dir
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr tailBuffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	isolate(cmd, gracePeriod)

	if err := cmd.Start(); err != nil {
		return ExecResult{}, err
	}
	if track != nil {
		track(cmd, true)
		defer track(cmd, false)
	}

	err := cmd.Wait()
	result := ExecResult{
		ExitCode: exitCode(err),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(started),
	}
	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	if result.ExitCode == -1 && err != nil {
		return result, err
	}
	return result, nil
}
