package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// WorkerOutput is the payload a worker reports on success
type WorkerOutput struct {
	Output   string        `json:"output"`
	Duration time.Duration `json:"duration"`
}

// ReportWriterFromEnv opens the report descriptor announced by the supervisor
func ReportWriterFromEnv() (*os.File, error) {
	value := os.Getenv(ReportFDEnv)
	if value == "" {
		return nil, fmt.Errorf("%s is not set", ReportFDEnv)
	}
	fd, err := strconv.Atoi(value)
	if err != nil || fd < 3 {
		return nil, fmt.Errorf("invalid %s: %q", ReportFDEnv, value)
	}
	return os.NewFile(uintptr(fd), "report"), nil
}

// WriteReport encodes a report for the supervisor
func WriteReport(w io.Writer, report Report) error {
	return json.NewEncoder(w).Encode(report)
}

// RunWorker is the child side of a supervised run. It runs tool with sh in dir,
// feeds it stdin and writes exactly one report to w describing the outcome.
func RunWorker(ctx context.Context, tool, dir string, stdin io.Reader, w io.Writer, gracePeriod time.Duration) error {
	if strings.TrimSpace(tool) == "" {
		_ = WriteReport(w, Report{Error: "no generator command configured"})
		return fmt.Errorf("no generator command configured")
	}

	input, err := io.ReadAll(stdin)
	if err != nil {
		_ = WriteReport(w, Report{Error: err.Error()})
		return fmt.Errorf("failed to read worker input: %w", err)
	}

	result, err := runScript(ctx, dir, tool, input, gracePeriod, nil)
	if err != nil {
		_ = WriteReport(w, Report{Error: err.Error()})
		return fmt.Errorf("failed to run generator: %w", err)
	}
	if result.ExitCode != 0 {
		msg := fmt.Sprintf("generator exited with code %d: %s", result.ExitCode, lastLines(result.Stderr, 20))
		_ = WriteReport(w, Report{Error: msg})
		return fmt.Errorf("%s", msg)
	}

	payload, err := json.Marshal(WorkerOutput{Output: result.Stdout, Duration: result.Duration})
	if err != nil {
		_ = WriteReport(w, Report{Error: err.Error()})
		return fmt.Errorf("failed to encode worker output: %w", err)
	}
	if err := WriteReport(w, Report{Success: true, Payload: payload}); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
