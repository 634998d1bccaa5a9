// Package poller tracks submitted builds until the deployment provider reports a terminal state.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/framer-cd/framer/domain"
	"github.com/framer-cd/framer/metrics"
	"github.com/framer-cd/framer/repository"
)

// StatusSource looks deployments up at the deployment provider
type StatusSource interface {
	GetDeployment(ctx context.Context, deploymentID string) (domain.DeploymentState, error)
	FindDeploymentByCommit(ctx context.Context, projectID, commitHash string) (domain.DeploymentState, error)
}

// Options bounds the polling budget
type Options struct {
	Interval    time.Duration
	MaxAttempts int
}

// Outcome is the final recorded state of a polled build
type Outcome struct {
	Status       domain.BuildStatus
	DeploymentID string
	Attempts     int
	Reason       string
}

type Poller struct {
	source   StatusSource
	builds   repository.BuildRepository
	projects repository.ProjectRepository
	logs     repository.LogRepository
	opts     Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPoller(source StatusSource, repos *repository.Repositories, opts Options) *Poller {
	if opts.MaxAttempts < 0 {
		opts.MaxAttempts = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		source:   source,
		builds:   repos.Builds,
		projects: repos.Projects,
		logs:     repos.Logs,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Schedule polls buildID in the background; Wait blocks until every scheduled poll returned
func (p *Poller) Schedule(buildID uuid.UUID) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if _, err := p.PollBuild(p.ctx, buildID); err != nil {
			slog.Error("Build polling failed",
				"layer", "poller",
				"operation", "poll_build",
				"build_id", buildID,
				"error", err)
		}
	}()
}

func (p *Poller) Wait() {
	p.wg.Wait()
}

// Stop cancels scheduled polls and waits for them to return
func (p *Poller) Stop() {
	p.cancel()
	p.wg.Wait()
}

// PollBuild checks the build once and, unless that is terminal, keeps polling
// every Interval for at most MaxAttempts more checks. A build already terminal
// is checked exactly once and never rewritten.
func (p *Poller) PollBuild(ctx context.Context, buildID uuid.UUID) (*Outcome, error) {
	build, err := p.builds.FindByID(ctx, buildID)
	if err != nil {
		return nil, fmt.Errorf("failed to load build %s: %w", buildID, err)
	}
	project, err := p.projects.FindByID(ctx, build.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load project for build %s: %w", buildID, err)
	}

	slog.Debug("Polling build",
		"layer", "poller",
		"build_id", build.ID,
		"commit", build.CommitHash,
		"deployment_id", build.DeploymentID,
		"status", build.Status.String())

	if build.Status.IsTerminal() {
		return p.recheck(ctx, build, project)
	}

	attempts := 1
	if done, err := p.check(ctx, build, project, attempts); err != nil {
		return nil, err
	} else if done {
		return p.finish(ctx, build, attempts, "")
	}

	if p.opts.MaxAttempts == 0 {
		return p.timeout(ctx, build, attempts)
	}

	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	for polls := 1; polls <= p.opts.MaxAttempts; polls++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("polling build %s interrupted: %w", build.ID, ctx.Err())
		case <-ticker.C:
		}

		attempts++
		done, err := p.check(ctx, build, project, attempts)
		if err != nil {
			return nil, err
		}
		if done {
			return p.finish(ctx, build, attempts, "")
		}
	}

	return p.timeout(ctx, build, attempts)
}

// recheck fetches a terminal build's status once and leaves the stored build
// and project untouched. The stored outcome is returned whatever the answer.
func (p *Poller) recheck(ctx context.Context, build *domain.Build, project *domain.Project) (*Outcome, error) {
	state, err := p.fetch(ctx, build, project)
	switch {
	case err != nil && ctx.Err() != nil:
		return nil, fmt.Errorf("polling build %s interrupted: %w", build.ID, ctx.Err())
	case err != nil:
		metrics.BuildPolls.WithLabelValues("error").Inc()
		slog.Warn("Build status check failed",
			"layer", "poller",
			"operation", "recheck",
			"build_id", build.ID,
			"error", err)
	default:
		metrics.BuildPolls.WithLabelValues("terminal").Inc()
		slog.Debug("Build already finished",
			"layer", "poller",
			"build_id", build.ID,
			"status", build.Status.String(),
			"provider_state", state.State)
	}

	return &Outcome{
		Status:       build.Status,
		DeploymentID: build.DeploymentID,
		Attempts:     1,
		Reason:       build.Data["reason"],
	}, nil
}

// check fetches the current status once and persists any change. Provider
// errors are logged and count as a miss; only datastore errors are returned.
func (p *Poller) check(ctx context.Context, build *domain.Build, project *domain.Project, attempt int) (bool, error) {
	state, err := p.fetch(ctx, build, project)
	if err != nil {
		if ctx.Err() != nil {
			return false, fmt.Errorf("polling build %s interrupted: %w", build.ID, ctx.Err())
		}
		metrics.BuildPolls.WithLabelValues("error").Inc()
		slog.Warn("Build status check failed",
			"layer", "poller",
			"operation", "check",
			"build_id", build.ID,
			"attempt", attempt,
			"error", err)
		p.log(ctx, build.ID, fmt.Sprintf("status check %d failed: %v", attempt, err))
		return false, nil
	}

	status, known := MapDeploymentState(state.State)
	if !known || state.ID == "" {
		metrics.BuildPolls.WithLabelValues("miss").Inc()
		return false, nil
	}

	changed := false
	if build.DeploymentID == "" {
		build.DeploymentID = state.ID
		changed = true
	}
	if build.Data == nil {
		build.Data = map[string]string{}
	}
	if build.Data["state"] != state.State {
		build.Data["state"] = state.State
		changed = true
	}
	if state.Error != "" && build.Data["error"] != state.Error {
		build.Data["error"] = state.Error
		changed = true
	}

	if status.IsTerminal() {
		metrics.BuildPolls.WithLabelValues("terminal").Inc()
		build.Status = status
		return true, nil
	}

	metrics.BuildPolls.WithLabelValues("pending").Inc()
	if build.Status != status {
		build.Status = status
		changed = true
	}
	if changed {
		if err := p.builds.Update(ctx, build); err != nil {
			return false, fmt.Errorf("failed to update build %s: %w", build.ID, err)
		}
	}
	return false, nil
}

func (p *Poller) fetch(ctx context.Context, build *domain.Build, project *domain.Project) (domain.DeploymentState, error) {
	if build.DeploymentID != "" {
		return p.source.GetDeployment(ctx, build.DeploymentID)
	}
	return p.source.FindDeploymentByCommit(ctx, project.DeploymentProjectID, build.CommitHash)
}

// timeout fails the build after attempts checks without a terminal answer
func (p *Poller) timeout(ctx context.Context, build *domain.Build, attempts int) (*Outcome, error) {
	reason := fmt.Sprintf("polling timed out after %d attempts", attempts)
	build.Status = domain.BuildStatusFailed
	if build.Data == nil {
		build.Data = map[string]string{}
	}
	build.Data["reason"] = reason
	return p.finish(ctx, build, attempts, reason)
}

// finish persists the terminal build and moves the project to its deployment status
func (p *Poller) finish(ctx context.Context, build *domain.Build, attempts int, reason string) (*Outcome, error) {
	if err := p.builds.Update(ctx, build); err != nil {
		return nil, fmt.Errorf("failed to update build %s: %w", build.ID, err)
	}

	projectStatus := domain.ProjectStatusDeployed
	if build.Status != domain.BuildStatusSuccess {
		projectStatus = domain.ProjectStatusDeployFailed
	}
	if err := p.projects.UpdateStatus(ctx, build.ProjectID, projectStatus); err != nil {
		return nil, fmt.Errorf("failed to update project status: %w", err)
	}

	metrics.BuildOutcomes.WithLabelValues(build.Status.String()).Inc()
	msg := fmt.Sprintf("build %s finished with status %s", build.CommitHash, build.Status)
	if reason != "" {
		msg += ": " + reason
	} else if build.Error() != "" {
		msg += ": " + build.Error()
	}
	p.log(ctx, build.ID, msg)

	slog.Info("Build finished",
		"layer", "poller",
		"build_id", build.ID,
		"status", build.Status.String(),
		"deployment_id", build.DeploymentID,
		"attempts", attempts)

	return &Outcome{
		Status:       build.Status,
		DeploymentID: build.DeploymentID,
		Attempts:     attempts,
		Reason:       reason,
	}, nil
}

func (p *Poller) log(ctx context.Context, buildID uuid.UUID, text string) {
	entry := &domain.LogEntry{SubjectID: buildID, Source: domain.LogSourcePoller, Text: text}
	if err := p.logs.Append(context.WithoutCancel(ctx), entry); err != nil {
		slog.Warn("Failed to append poller log", "layer", "poller", "build_id", buildID, "error", err)
	}
}

// MapDeploymentState translates a provider deployment state to a build status
func MapDeploymentState(state string) (domain.BuildStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(state)) {
	case "QUEUED", "INITIALIZING", "PENDING", "SUBMITTED":
		return domain.BuildStatusQueued, true
	case "BUILDING", "DEPLOYING", "RUNNING":
		return domain.BuildStatusBuilding, true
	case "READY", "SUCCESS", "SUCCEEDED", "DEPLOYED":
		return domain.BuildStatusSuccess, true
	case "ERROR", "FAILED", "CANCELED", "CANCELLED":
		return domain.BuildStatusFailed, true
	default:
		return domain.BuildStatusUnknown, false
	}
}
