package sandbox

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shTarget(name, script string) Target {
	return Target{Name: name, Command: "sh", Args: []string{"-c", script}}
}

func fastPolicy() Policy {
	return Policy{MaxRetries: 3, RetryDelay: 10 * time.Millisecond, Timeout: 5 * time.Second, GracePeriod: 200 * time.Millisecond}
}

func TestSupervisorRun_Success(t *testing.T) {
	s := NewSupervisor(BuildCommands{})

	result, err := s.Run(context.Background(), shTarget("ok", `echo '{"success":true,"payload":{"files":2}}' >&3; echo done`), fastPolicy())

	require.NoError(t, err)
	assert.True(t, result.Report.Success)
	assert.Equal(t, 1, result.Attempts)
	assert.Contains(t, result.Stdout, "done")

	var payload map[string]int
	require.NoError(t, json.Unmarshal(result.Report.Payload, &payload))
	assert.Equal(t, 2, payload["files"])
}

func TestSupervisorRun_ReceivesStdinAndEnv(t *testing.T) {
	s := NewSupervisor(BuildCommands{})
	target := shTarget("stdin", `read line; printf '{"success":true,"payload":"%s-%s"}' "$line" "$GREETING" >&3`)
	target.Stdin = []byte("hello\n")
	target.Env = []string{"GREETING=world"}

	result, err := s.Run(context.Background(), target, fastPolicy())

	require.NoError(t, err)
	assert.JSONEq(t, `"hello-world"`, string(result.Report.Payload))
}

func TestSupervisorRun_RetriesUntilSuccess(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "attempted")
	s := NewSupervisor(BuildCommands{})
	target := shTarget("flaky", `if [ -f "`+marker+`" ]; then echo '{"success":true}' >&3; else touch "`+marker+`"; exit 1; fi`)

	result, err := s.Run(context.Background(), target, fastPolicy())

	require.NoError(t, err)
	assert.Equal(t, 2, result.Attempts)
}

func TestSupervisorRun_Timeout(t *testing.T) {
	s := NewSupervisor(BuildCommands{})
	policy := Policy{MaxRetries: 2, RetryDelay: 10 * time.Millisecond, Timeout: 200 * time.Millisecond, GracePeriod: 100 * time.Millisecond}

	started := time.Now()
	_, err := s.Run(context.Background(), shTarget("slow", `sleep 30 & sleep 30`), policy)
	elapsed := time.Since(started)

	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, FailureTimeout, execErr.Kind)
	assert.Equal(t, 2, execErr.Attempts)
	assert.Less(t, elapsed, 10*time.Second)
}

func TestSupervisorRun_NoReport(t *testing.T) {
	s := NewSupervisor(BuildCommands{})
	policy := fastPolicy()
	policy.MaxRetries = 1

	_, err := s.Run(context.Background(), shTarget("silent", `echo working; exit 0`), policy)

	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, FailureNoResult, execErr.Kind)
	assert.Equal(t, 1, execErr.Attempts)
}

func TestSupervisorRun_ReportedFailure(t *testing.T) {
	s := NewSupervisor(BuildCommands{})

	_, err := s.Run(context.Background(), shTarget("failing", `echo '{"success":false,"error":"model refused"}' >&3; echo oops >&2; exit 1`), fastPolicy())

	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, FailureFailed, execErr.Kind)
	assert.Equal(t, 3, execErr.Attempts)
	assert.Contains(t, execErr.Error(), "model refused")
	assert.Contains(t, execErr.Stderr, "oops")
}

func TestSupervisorRun_SuccessReportWithNonZeroExit(t *testing.T) {
	s := NewSupervisor(BuildCommands{})
	policy := fastPolicy()
	policy.MaxRetries = 1

	_, err := s.Run(context.Background(), shTarget("liar", `echo '{"success":true}' >&3; exit 4`), policy)

	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, FailureFailed, execErr.Kind)
	assert.Contains(t, execErr.Error(), "code 4")
}

func TestSupervisorRun_RetryDelaySeparatesAttempts(t *testing.T) {
	s := NewSupervisor(BuildCommands{})
	policy := Policy{MaxRetries: 3, RetryDelay: 150 * time.Millisecond, Timeout: 5 * time.Second}

	started := time.Now()
	_, err := s.Run(context.Background(), shTarget("always-fails", `exit 1`), policy)

	require.Error(t, err)
	assert.GreaterOrEqual(t, time.Since(started), 300*time.Millisecond)
}

func TestSupervisorRun_ParentCancelStopsRetries(t *testing.T) {
	s := NewSupervisor(BuildCommands{})
	ctx, cancel := context.WithCancel(context.Background())
	var slept int
	s.sleep = func(ctx context.Context, d time.Duration) error {
		slept++
		cancel()
		return ctx.Err()
	}

	_, err := s.Run(ctx, shTarget("fails", `exit 1`), fastPolicy())

	require.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "interrupted")
	assert.Equal(t, 1, slept)
}

func TestSupervisorRun_MissingCommand(t *testing.T) {
	s := NewSupervisor(BuildCommands{})
	policy := fastPolicy()
	policy.MaxRetries = 1

	_, err := s.Run(context.Background(), Target{Name: "missing", Command: "/nonexistent/framer-tool"}, policy)

	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, FailureFailed, execErr.Kind)
}
