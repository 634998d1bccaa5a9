// Package setup drives the resumable setup pipeline that takes a prompt to a deployed project.
package setup

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/framer-cd/framer/domain"
	"github.com/framer-cd/framer/metrics"
)

// transitions lists the states each state may move to
var transitions = map[domain.SetupState][]domain.SetupState{
	domain.StateInit:              {domain.StateValidating, domain.StateFailed},
	domain.StateValidating:        {domain.StateRepoSetup, domain.StateFailed},
	domain.StateRepoSetup:         {domain.StateDeployTargetSetup, domain.StateFailed},
	domain.StateDeployTargetSetup: {domain.StateCodeUpdate, domain.StateFailed},
	domain.StateCodeUpdate:        {domain.StateMetadataUpdate, domain.StateFailed},
	domain.StateMetadataUpdate:    {domain.StateDomainSetup, domain.StateFailed},
	domain.StateDomainSetup:       {domain.StateNotification, domain.StateFailed},
	domain.StateNotification:      {domain.StateComplete, domain.StateFailed},
	domain.StateComplete:          {},
	domain.StateFailed:            {},
}

// CanTransition reports whether the machine may move from one state to another
func CanTransition(from, to domain.SetupState) bool {
	return slices.Contains(transitions[from], to)
}

// successor returns the non-failure state following from
func successor(from domain.SetupState) (domain.SetupState, bool) {
	for _, to := range transitions[from] {
		if to != domain.StateFailed {
			return to, true
		}
	}
	return from, false
}

// Machine runs one setup job through its states
type Machine struct {
	svc   *Service
	job   *domain.Job
	sctx  *domain.SetupContext
	state domain.SetupState
}

// State returns the state the machine is in
func (m *Machine) State() domain.SetupState {
	return m.state
}

func (m *Machine) Job() *domain.Job {
	return m.job
}

func (m *Machine) Context() *domain.SetupContext {
	return m.sctx
}

// AdvanceSetup performs one transition of machine and returns the state it reached
func AdvanceSetup(ctx context.Context, machine *Machine) (domain.SetupState, error) {
	return machine.Advance(ctx)
}

// Advance runs the stage owned by the next state and moves there. A stage
// error moves the machine to FAILED, which like COMPLETE is final.
func (m *Machine) Advance(ctx context.Context) (domain.SetupState, error) {
	if m.state.IsTerminal() {
		return m.state, nil
	}

	next, ok := successor(m.state)
	if !ok || !CanTransition(m.state, next) {
		return m.fail(ctx, m.state, domain.NewError(domain.KindInternal, "advance",
			fmt.Errorf("no transition from %s", m.state)))
	}

	if m.job.Status == domain.JobStatusPending {
		m.job.Status = domain.JobStatusRunning
	}

	if next != domain.StateComplete && m.sctx.IsCompleted(next) {
		m.state = next
		m.log(ctx, domain.LogSourceSetup, fmt.Sprintf("%s skipped (completed in an earlier run)", next))
		metrics.StageTransitions.WithLabelValues(next.String(), "skipped").Inc()
		if err := m.persist(ctx); err != nil {
			return m.fail(ctx, next, err)
		}
		return next, nil
	}

	if err := ctx.Err(); err != nil {
		return m.fail(ctx, next, err)
	}

	slog.Debug("Entering setup stage", "layer", "setup", "job_id", m.job.ID, "state", next.String())
	started := time.Now()
	err := m.runStage(ctx, next)
	metrics.StageDuration.WithLabelValues(next.String()).Observe(time.Since(started).Seconds())
	if err != nil {
		return m.fail(ctx, next, err)
	}

	m.state = next
	m.sctx.MarkCompleted(next)
	if next == domain.StateComplete {
		m.job.Status = domain.JobStatusCompleted
	}
	m.log(ctx, domain.LogSourceSetup, fmt.Sprintf("%s completed", next))
	metrics.StageTransitions.WithLabelValues(next.String(), "ok").Inc()

	if err := m.persist(ctx); err != nil {
		return m.fail(ctx, next, err)
	}
	return next, nil
}

// Run advances until the machine reaches COMPLETE or FAILED
func (m *Machine) Run(ctx context.Context) (domain.SetupState, error) {
	for !m.state.IsTerminal() {
		if _, err := m.Advance(ctx); err != nil {
			return m.state, err
		}
	}
	return m.state, nil
}

func (m *Machine) runStage(ctx context.Context, state domain.SetupState) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = domain.NewError(domain.KindInternal, state.String(), fmt.Errorf("stage panicked: %v", r))
		}
	}()

	stage, ok := stages[state]
	if !ok {
		return domain.NewError(domain.KindInternal, state.String(), fmt.Errorf("no stage registered"))
	}
	return stage(ctx, m)
}

// fail records err against the state in progress and persists the job as failed.
// Persistence uses a context that survives cancellation of ctx.
func (m *Machine) fail(ctx context.Context, inProgress domain.SetupState, err error) (domain.SetupState, error) {
	reason := err.Error()
	if ctx.Err() != nil && !strings.HasPrefix(reason, "interrupted:") {
		reason = "interrupted: " + reason
	}
	if strings.TrimSpace(reason) == "" {
		reason = "unknown error"
	}

	m.sctx.LastError = reason
	m.sctx.FailedState = inProgress
	m.state = domain.StateFailed
	m.job.Status = domain.JobStatusFailed
	m.job.Data.Error = reason
	m.job.Data.Detail = map[string]any{
		"kind":  domain.KindOf(err).String(),
		"state": inProgress.String(),
	}

	slog.Error("Setup stage failed",
		"layer", "setup",
		"operation", strings.ToLower(inProgress.String()),
		"job_id", m.job.ID,
		"project_id", m.sctx.ProjectID,
		"error", err)
	metrics.StageTransitions.WithLabelValues(inProgress.String(), "failed").Inc()

	persistCtx := context.WithoutCancel(ctx)
	m.log(persistCtx, domain.LogSourceSetup, fmt.Sprintf("%s failed: %s", inProgress, reason))
	if perr := m.persist(persistCtx); perr != nil {
		slog.Error("Failed to persist failed job", "layer", "setup", "job_id", m.job.ID, "error", perr)
	}
	if m.sctx.ProjectID != uuid.Nil {
		if perr := m.svc.repos.Projects.UpdateStatus(persistCtx, m.sctx.ProjectID, domain.ProjectStatusFailed); perr != nil {
			slog.Error("Failed to mark project failed", "layer", "setup", "project_id", m.sctx.ProjectID, "error", perr)
		}
	}
	return domain.StateFailed, err
}

// persist writes status, state and the serialized context of the job
func (m *Machine) persist(ctx context.Context) error {
	data, err := m.sctx.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode setup context: %w", err)
	}
	m.job.State = m.state
	m.job.Data.Context = data
	if m.sctx.ProjectID != uuid.Nil {
		id := m.sctx.ProjectID
		m.job.ProjectID = &id
	}
	if err := m.svc.repos.Jobs.Update(ctx, m.job); err != nil {
		return fmt.Errorf("failed to persist job: %w", err)
	}
	return nil
}

func (m *Machine) log(ctx context.Context, source, text string) {
	m.svc.appendLog(ctx, m.job.ID, source, text)
}
