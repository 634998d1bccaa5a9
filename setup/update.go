package setup

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/framer-cd/framer/domain"
	"github.com/framer-cd/framer/retry"
)

// Updater regenerates the code of an existing project from a new prompt
type Updater struct {
	svc *Service
}

func (s *Service) Updater() *Updater {
	return &Updater{svc: s}
}

// Run executes a code_update job: the locked code update of the setup pipeline
// applied to an existing project.
func (u *Updater) Run(ctx context.Context, projectID uuid.UUID, prompt string) (*domain.Job, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, domain.NewError(domain.KindValidation, "update", fmt.Errorf("prompt is required"))
	}
	project, err := u.svc.repos.Projects.FindByID(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load project %s: %w", projectID, err)
	}

	job := domain.NewJob(domain.JobTypeCodeUpdate)
	job.ProjectID = &project.ID
	job.Status = domain.JobStatusRunning
	job.State = domain.StateCodeUpdate
	job.Data.Detail = map[string]any{"prompt": prompt}
	if err := u.svc.repos.Jobs.Create(ctx, &job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	err = u.svc.withTreeLock(ctx, job.ID, project.WorkingDir, func(ctx context.Context) error {
		u.svc.appendLog(ctx, job.ID, domain.LogSourceUpdate, "code update started")
		build, err := u.svc.runCodeUpdate(ctx, job.ID, project, prompt)
		if err != nil {
			return err
		}
		job.Data.Detail["build_id"] = build.ID.String()
		job.Data.Detail["commit"] = build.CommitHash
		return nil
	})
	return u.svc.finishJob(ctx, &job, domain.LogSourceUpdate, err)
}

// Redeployer starts a new deployment of a project's current branch
type Redeployer struct {
	svc *Service
}

func (s *Service) Redeployer() *Redeployer {
	return &Redeployer{svc: s}
}

// Run executes a deploy job and schedules polling of the resulting build
func (r *Redeployer) Run(ctx context.Context, projectID uuid.UUID) (*domain.Job, error) {
	project, err := r.svc.repos.Projects.FindByID(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load project %s: %w", projectID, err)
	}

	job := domain.NewJob(domain.JobTypeDeploy)
	job.ProjectID = &project.ID
	job.Status = domain.JobStatusRunning
	job.Data.Detail = map[string]any{}
	if err := r.svc.repos.Jobs.Create(ctx, &job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	err = r.deploy(ctx, &job, project)
	return r.svc.finishJob(ctx, &job, domain.LogSourceDeploy, err)
}

func (r *Redeployer) deploy(ctx context.Context, job *domain.Job, project *domain.Project) error {
	if project.DeploymentProjectID == "" {
		return domain.NewError(domain.KindValidation, "deploy", fmt.Errorf("project %s has no deployment target", project.Name))
	}

	commit, err := r.latestCommit(ctx, project)
	if err != nil {
		return err
	}

	var state domain.DeploymentState
	err = retry.Do(ctx, "trigger_deployment", r.svc.retryPolicy(), func(ctx context.Context) error {
		var err error
		state, err = r.svc.deployments.TriggerDeployment(ctx, project.DeploymentProjectID, project.Remote().Branch)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to trigger deployment: %w", err)
	}

	build := domain.NewBuild(project.ID, commit)
	build.DeploymentID = state.ID
	if err := r.svc.repos.Builds.Create(ctx, &build); err != nil {
		return fmt.Errorf("failed to create build: %w", err)
	}
	if err := r.svc.repos.Projects.UpdateStatus(ctx, project.ID, domain.ProjectStatusDeploying); err != nil {
		return fmt.Errorf("failed to update project status: %w", err)
	}
	if r.svc.scheduler != nil {
		r.svc.scheduler.Schedule(build.ID)
	}

	job.Data.Detail["build_id"] = build.ID.String()
	job.Data.Detail["deployment_id"] = state.ID
	r.svc.appendLog(ctx, job.ID, domain.LogSourceDeploy, fmt.Sprintf("deployment %s triggered for %s", state.ID, shortHash(commit)))
	return nil
}

// latestCommit returns the commit of the newest build, falling back to the tree head
func (r *Redeployer) latestCommit(ctx context.Context, project *domain.Project) (string, error) {
	builds, err := r.svc.repos.Builds.ListByProjectID(ctx, project.ID)
	if err != nil {
		return "", fmt.Errorf("failed to list builds: %w", err)
	}
	if len(builds) > 0 {
		return builds[0].CommitHash, nil
	}
	if r.svc.workspace.IsReady(project.WorkingDir) {
		head, err := r.svc.workspace.Head(project.WorkingDir)
		if err == nil && head != "" {
			return head, nil
		}
	}
	return "", domain.NewError(domain.KindValidation, "deploy", fmt.Errorf("project %s has no pushed code", project.Name))
}

// finishJob persists the outcome of a single-stage job
func (s *Service) finishJob(ctx context.Context, job *domain.Job, source string, err error) (*domain.Job, error) {
	persistCtx := context.WithoutCancel(ctx)
	if err != nil {
		reason := err.Error()
		if ctx.Err() != nil && !strings.HasPrefix(reason, "interrupted:") {
			reason = "interrupted: " + reason
		}
		job.Status = domain.JobStatusFailed
		job.Data.Error = reason
		job.Data.Detail["kind"] = domain.KindOf(err).String()
		s.appendLog(persistCtx, job.ID, source, "failed: "+reason)
		slog.Error("Job failed",
			"layer", "setup",
			"operation", job.Type.String(),
			"job_id", job.ID,
			"error", err)
	} else {
		job.Status = domain.JobStatusCompleted
		s.appendLog(persistCtx, job.ID, source, "completed")
	}

	if perr := s.repos.Jobs.Update(persistCtx, job); perr != nil {
		slog.Error("Failed to persist job", "layer", "setup", "job_id", job.ID, "error", perr)
		if err == nil {
			err = fmt.Errorf("failed to persist job: %w", perr)
		}
	}
	return job, err
}
