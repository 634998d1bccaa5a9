// Package utils provides helpers shared by framer CLI commands.
package utils

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/framer-cd/framer/app"
	"github.com/framer-cd/framer/cmd/output"
	"github.com/framer-cd/framer/domain"
	"github.com/framer-cd/framer/setup"
)

var current *app.App

// SetApp installs the application the commands operate on
func SetApp(a *app.App) {
	current = a
}

// App returns the application initialized by the root command
func App() *app.App {
	return current
}

// CommandError prints a user-facing message for err and returns an error
// that makes cobra exit non-zero without printing it again.
func CommandError(cmd *cobra.Command, operation string, err error) error {
	slog.Error("Command failed", "layer", "cmd", "operation", operation, "error", err)
	_ = output.FprintError(cmd, "Error: %s failed: %s", operation, setup.FormatErrorForUser(err))
	return fmt.Errorf("%s failed: %w", operation, err)
}

// ParseID parses a UUID argument naming the kind of object it identifies
func ParseID(kind, input string) (uuid.UUID, error) {
	id, err := uuid.Parse(input)
	if err != nil {
		slog.Warn("Invalid UUID provided", "layer", "cmd", "kind", kind, "input", input)
		return uuid.Nil, fmt.Errorf("invalid %s ID '%s': must be a valid UUID", kind, input)
	}
	return id, nil
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// WaitForBuilds blocks until every scheduled build poll returned or ctx is
// cancelled, then prints the newest build of the project.
func WaitForBuilds(ctx context.Context, cmd *cobra.Command, projectID *uuid.UUID) error {
	a := App()
	builds, err := a.Poller()
	if err != nil {
		return err
	}

	_ = output.FprintPlain(cmd, "Waiting for the build to finish...")
	done := make(chan struct{})
	go func() {
		builds.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		builds.Stop()
		return output.FprintWarning(cmd, "Stopped waiting; run 'framer poll <build-id>' to resume tracking")
	}

	if projectID == nil {
		return nil
	}
	list, err := a.Repos.Builds.ListByProjectID(context.WithoutCancel(ctx), *projectID)
	if err != nil || len(list) == 0 {
		return err
	}
	out, err := output.PrintBuildList(list[:1])
	if err != nil {
		return err
	}
	return output.FprintPlain(cmd, "%s", out)
}

// PrintJob prints the outcome of a finished job
func PrintJob(cmd *cobra.Command, job *domain.Job) error {
	out, err := output.PrintJobDetails(job, nil)
	if err != nil {
		return err
	}
	return output.FprintPlain(cmd, "%s", out)
}
