package setup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/framer-cd/framer/domain"
	"github.com/framer-cd/framer/repository"
	"github.com/framer-cd/framer/retry"
	"github.com/framer-cd/framer/workspace"
)

// Deps are the collaborators of the setup pipeline
type Deps struct {
	Repos        *repository.Repositories
	Workspace    *workspace.Manager
	Repositories RepositoryProvider
	Deployments  DeploymentProvider
	Notifier     Notifier
	Generator    Generator
	Checker      BuildChecker
	Scheduler    BuildScheduler
}

// Options configures the setup pipeline
type Options struct {
	WorkspaceDir string
	Retry        retry.Policy
}

// Service creates, runs and resumes setup and update jobs
type Service struct {
	repos        *repository.Repositories
	workspace    *workspace.Manager
	repositories RepositoryProvider
	deployments  DeploymentProvider
	notifier     Notifier
	generator    Generator
	checker      BuildChecker
	scheduler    BuildScheduler
	opts         Options
}

func NewService(deps Deps, opts Options) *Service {
	return &Service{
		repos:        deps.Repos,
		workspace:    deps.Workspace,
		repositories: deps.Repositories,
		deployments:  deps.Deployments,
		notifier:     deps.Notifier,
		generator:    deps.Generator,
		checker:      deps.Checker,
		scheduler:    deps.Scheduler,
		opts:         opts,
	}
}

// NewSetup creates a pending setup job for input and a machine positioned at INIT
func (s *Service) NewSetup(ctx context.Context, input domain.SetupInput) (*Machine, error) {
	job := domain.NewJob(domain.JobTypeSetup)
	sctx := domain.NewSetupContext(input)
	sctx.JobID = job.ID
	return s.newMachine(ctx, &job, sctx)
}

// Start creates a setup job for input and runs it to a terminal state
func (s *Service) Start(ctx context.Context, input domain.SetupInput) (*domain.Job, error) {
	machine, err := s.NewSetup(ctx, input)
	if err != nil {
		return nil, err
	}
	_, err = machine.Run(ctx)
	return machine.Job(), err
}

func (s *Service) newMachine(ctx context.Context, job *domain.Job, sctx *domain.SetupContext) (*Machine, error) {
	data, err := sctx.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to encode setup context: %w", err)
	}
	job.Data.Context = data
	if sctx.ProjectID != uuid.Nil {
		id := sctx.ProjectID
		job.ProjectID = &id
	}
	if err := s.repos.Jobs.Create(ctx, job); err != nil {
		slog.Error("Service operation failed",
			"layer", "setup",
			"operation", "create_job",
			"job_type", job.Type.String(),
			"error", err)
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return &Machine{svc: s, job: job, sctx: sctx, state: domain.StateInit}, nil
}

// Restore decodes a persisted setup context and reattaches it to its remote repository
func (s *Service) Restore(ctx context.Context, data []byte) (*domain.SetupContext, error) {
	sctx, err := domain.UnmarshalSetupContext(data)
	if err != nil {
		return nil, err
	}
	if sctx.Repository.Name != "" {
		handle, err := s.repositories.GetRepository(ctx, sctx.Repository.Name)
		if err != nil {
			return nil, domain.Transient("get_repository", fmt.Errorf("failed to reattach repository %s: %w", sctx.Repository.Name, err))
		}
		sctx.Repository = handle
	}
	return sctx, nil
}

// Resume runs a failed setup job again as a retry job. States completed by
// the failed run are skipped so their side effects are not repeated.
func (s *Service) Resume(ctx context.Context, jobID uuid.UUID) (*domain.Job, error) {
	failed, err := s.repos.Jobs.FindByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", jobID, err)
	}
	if failed.Status != domain.JobStatusFailed {
		return nil, domain.NewError(domain.KindValidation, "resume",
			fmt.Errorf("job %s is %s, only failed jobs can be resumed", jobID, failed.Status))
	}
	if failed.Type != domain.JobTypeSetup && failed.Type != domain.JobTypeRetry {
		return nil, domain.NewError(domain.KindValidation, "resume",
			fmt.Errorf("job %s is a %s job, only setup jobs can be resumed", jobID, failed.Type))
	}

	sctx, err := s.Restore(ctx, failed.Data.Context)
	if err != nil {
		return nil, err
	}
	previous := sctx.LastError
	sctx.LastError = ""
	sctx.FailedState = domain.StateInit

	job := domain.NewJob(domain.JobTypeRetry)
	sctx.JobID = job.ID
	job.Data.Detail = map[string]any{"resumed_from": failed.ID.String(), "previous_error": previous}

	machine, err := s.newMachine(ctx, &job, sctx)
	if err != nil {
		return nil, err
	}
	s.appendLog(ctx, job.ID, domain.LogSourceSetup, fmt.Sprintf("resuming failed job %s", failed.ID))

	if sctx.ProjectID != uuid.Nil {
		status := domain.ProjectStatusCreated
		if sctx.IsCompleted(domain.StateDeployTargetSetup) {
			status = domain.ProjectStatusDeploying
		}
		if err := s.repos.Projects.UpdateStatus(ctx, sctx.ProjectID, status); err != nil {
			return nil, fmt.Errorf("failed to reset project status: %w", err)
		}
	}

	_, err = machine.Run(ctx)
	return machine.Job(), err
}

// withTreeLock runs fn while holding the lock of the working tree at path.
// The lock is released whatever fn returns.
func (s *Service) withTreeLock(ctx context.Context, jobID uuid.UUID, path string, fn func(ctx context.Context) error) error {
	locker := s.workspace.Locker()
	if busy, err := locker.IsInUse(path); err == nil && busy {
		s.appendLog(ctx, jobID, domain.LogSourceLock, "working tree in use, waiting for lock")
	}

	return locker.WithLock(ctx, path, func(ctx context.Context) error {
		s.appendLog(ctx, jobID, domain.LogSourceLock, "lock acquired")
		return fn(ctx)
	}, func(releasedAt time.Time) {
		s.appendLogAt(context.WithoutCancel(ctx), jobID, domain.LogSourceLock, "lock released", releasedAt)
	})
}

func (s *Service) appendLog(ctx context.Context, subjectID uuid.UUID, source, text string) {
	s.appendLogAt(ctx, subjectID, source, text, time.Now())
}

// appendLogAt records a log entry; failures are logged and never returned
func (s *Service) appendLogAt(ctx context.Context, subjectID uuid.UUID, source, text string, at time.Time) {
	entry := &domain.LogEntry{SubjectID: subjectID, Source: source, Text: text, CreatedAt: at}
	if err := s.repos.Logs.Append(context.WithoutCancel(ctx), entry); err != nil {
		slog.Warn("Failed to append log entry",
			"layer", "setup",
			"subject_id", subjectID,
			"source", source,
			"error", err)
	}
}

func (s *Service) retryPolicy() retry.Policy {
	return s.opts.Retry
}
