package setup

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"github.com/framer-cd/framer/domain"
	"github.com/framer-cd/framer/retry"
)

// MetadataFileName is the file in every project tree describing the project
const MetadataFileName = "framer.json"

const maxNameLength = 40

type stageFunc func(ctx context.Context, m *Machine) error

// stages maps each state to the stage that produces it
var stages = map[domain.SetupState]stageFunc{
	domain.StateValidating:        validate,
	domain.StateRepoSetup:         setupRepository,
	domain.StateDeployTargetSetup: setupDeployTarget,
	domain.StateCodeUpdate:        updateCode,
	domain.StateMetadataUpdate:    updateMetadata,
	domain.StateDomainSetup:       setupDomain,
	domain.StateNotification:      notify,
	domain.StateComplete:          complete,
}

// DeriveProjectName turns a name hint, or the prompt when there is none, into a
// unique slug such as "coffee-shop-landing-3f9a1c".
func DeriveProjectName(hint, prompt string) string {
	base := strings.TrimSpace(hint)
	if base == "" {
		words := strings.Fields(prompt)
		if len(words) > 5 {
			words = words[:5]
		}
		base = strings.Join(words, " ")
	}
	name := slug.Make(base)
	if len(name) > maxNameLength {
		name = strings.TrimRight(name[:maxNameLength], "-")
	}
	if name == "" {
		name = "frame"
	}
	return name + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
}

func validate(ctx context.Context, m *Machine) error {
	input := m.sctx.Input
	input.Prompt = strings.TrimSpace(input.Prompt)
	input.UserID = strings.TrimSpace(input.UserID)
	input.ProjectName = strings.TrimSpace(input.ProjectName)
	if err := input.Validate(); err != nil {
		return err
	}
	m.sctx.Input = input
	m.sctx.UserID = input.UserID

	name := DeriveProjectName(input.ProjectName, input.Prompt)
	project := domain.NewProject(input.UserID, name)
	project.WorkingDir = filepath.Join(m.svc.opts.WorkspaceDir, name)
	project.Metadata["prompt"] = input.Prompt
	if input.Description != "" {
		project.Metadata["description"] = input.Description
	}
	if err := m.svc.repos.Projects.Create(ctx, &project); err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}

	m.sctx.ProjectName = name
	m.sctx.ProjectID = project.ID
	m.log(ctx, domain.LogSourceSetup, fmt.Sprintf("project %s created for user %s", name, input.UserID))
	return nil
}

func setupRepository(ctx context.Context, m *Machine) error {
	project, err := m.project(ctx)
	if err != nil {
		return err
	}

	var handle domain.RepositoryHandle
	err = retry.Do(ctx, "create_repository", m.svc.retryPolicy(), func(ctx context.Context) error {
		var err error
		handle, err = m.svc.repositories.CreateRepository(ctx, m.sctx.ProjectName, m.sctx.Input.Description)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to create repository: %w", err)
	}
	if handle.DefaultBranch == "" {
		handle.DefaultBranch = domain.DefaultBranch
	}

	project.RepoName = handle.Name
	project.RepoURL = handle.CloneURL
	project.GitBranch = handle.DefaultBranch
	if err := m.svc.repos.Projects.Update(ctx, project); err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}

	m.sctx.Repository = handle
	m.log(ctx, domain.LogSourceSetup, fmt.Sprintf("repository %s created at %s", handle.Name, handle.CloneURL))
	return nil
}

func setupDeployTarget(ctx context.Context, m *Machine) error {
	project, err := m.project(ctx)
	if err != nil {
		return err
	}

	var deploymentProjectID string
	err = retry.Do(ctx, "create_deployment_project", m.svc.retryPolicy(), func(ctx context.Context) error {
		var err error
		deploymentProjectID, err = m.svc.deployments.CreateProject(ctx, m.sctx.ProjectName, m.sctx.Repository)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to create deployment project: %w", err)
	}

	project.DeploymentProjectID = deploymentProjectID
	project.Status = domain.ProjectStatusDeploying
	if err := m.svc.repos.Projects.Update(ctx, project); err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}

	m.sctx.Deployment.ProjectID = deploymentProjectID
	m.log(ctx, domain.LogSourceDeploy, fmt.Sprintf("deployment project %s created", deploymentProjectID))
	return nil
}

func updateCode(ctx context.Context, m *Machine) error {
	project, err := m.project(ctx)
	if err != nil {
		return err
	}

	return m.svc.withTreeLock(ctx, m.job.ID, project.WorkingDir, func(ctx context.Context) error {
		build, err := m.svc.runCodeUpdate(ctx, m.job.ID, project, m.sctx.Input.Prompt)
		if err != nil {
			return err
		}
		m.sctx.CommitHash = build.CommitHash
		m.sctx.BuildID = build.ID
		return nil
	})
}

// projectMetadata is the content of the metadata file in a project tree
type projectMetadata struct {
	Name         string    `json:"name"`
	Owner        string    `json:"owner"`
	Prompt       string    `json:"prompt"`
	Repository   string    `json:"repository"`
	DeploymentID string    `json:"deployment_id,omitempty"`
	FrontendURL  string    `json:"frontend_url,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func readMetadata(dir string) (projectMetadata, error) {
	var meta projectMetadata
	data, err := os.ReadFile(filepath.Join(dir, MetadataFileName))
	if os.IsNotExist(err) {
		return meta, nil
	}
	if err != nil {
		return meta, fmt.Errorf("failed to read %s: %w", MetadataFileName, err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("failed to decode %s: %w", MetadataFileName, err)
	}
	return meta, nil
}

func writeMetadata(dir string, meta projectMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", MetadataFileName, err)
	}
	if err := os.WriteFile(filepath.Join(dir, MetadataFileName), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", MetadataFileName, err)
	}
	return nil
}

func updateMetadata(ctx context.Context, m *Machine) error {
	project, err := m.project(ctx)
	if err != nil {
		return err
	}

	return m.svc.withTreeLock(ctx, m.job.ID, project.WorkingDir, func(ctx context.Context) error {
		if err := m.svc.syncTree(ctx, project); err != nil {
			return err
		}

		meta, err := readMetadata(project.WorkingDir)
		if err != nil {
			return err
		}
		meta.Name = project.Name
		meta.Owner = project.OwnerID
		meta.Prompt = m.sctx.Input.Prompt
		meta.Repository = m.sctx.Repository.WebURL
		if meta.Repository == "" {
			meta.Repository = project.RepoURL
		}
		meta.DeploymentID = project.DeploymentProjectID
		meta.UpdatedAt = time.Now().UTC()
		if err := writeMetadata(project.WorkingDir, meta); err != nil {
			return err
		}

		if !m.svc.workspace.SafePush(ctx, project.WorkingDir, project.Remote(), "Update project metadata") {
			return domain.Transient("push_metadata", fmt.Errorf("failed to push project metadata"))
		}

		project.Metadata["repository"] = meta.Repository
		project.Metadata["deployment_id"] = meta.DeploymentID
		project.Metadata["updated_at"] = meta.UpdatedAt.Format(time.RFC3339)
		if err := m.svc.repos.Projects.Update(ctx, project); err != nil {
			return fmt.Errorf("failed to update project: %w", err)
		}
		m.log(ctx, domain.LogSourceWorktree, fmt.Sprintf("%s pushed", MetadataFileName))
		return nil
	})
}

func setupDomain(ctx context.Context, m *Machine) error {
	project, err := m.project(ctx)
	if err != nil {
		return err
	}

	var url string
	err = retry.Do(ctx, "assign_domain", m.svc.retryPolicy(), func(ctx context.Context) error {
		var err error
		url, err = m.svc.deployments.AssignDomain(ctx, project.DeploymentProjectID, project.Name)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to assign domain: %w", err)
	}

	err = m.svc.withTreeLock(ctx, m.job.ID, project.WorkingDir, func(ctx context.Context) error {
		if err := m.svc.syncTree(ctx, project); err != nil {
			return err
		}
		meta, err := readMetadata(project.WorkingDir)
		if err != nil {
			return err
		}
		meta.FrontendURL = url
		meta.UpdatedAt = time.Now().UTC()
		if err := writeMetadata(project.WorkingDir, meta); err != nil {
			return err
		}
		if !m.svc.workspace.SafePushMarker(ctx, project.WorkingDir, project.Remote(), "Assign domain "+url) {
			return domain.Transient("push_domain", fmt.Errorf("failed to push domain assignment"))
		}
		return nil
	})
	if err != nil {
		return err
	}

	project.DeploymentURL = url
	if err := m.svc.repos.Projects.Update(ctx, project); err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	m.sctx.FrontendURL = url
	m.log(ctx, domain.LogSourceDeploy, fmt.Sprintf("domain %s assigned", url))
	return nil
}

func notify(ctx context.Context, m *Machine) error {
	title := fmt.Sprintf("%s is ready", m.sctx.ProjectName)
	body := fmt.Sprintf("Your project %s is being deployed to %s", m.sctx.ProjectName, m.sctx.FrontendURL)
	if err := m.svc.notifier.Notify(ctx, m.sctx.Recipient(), title, body); err != nil {
		m.log(ctx, domain.LogSourceNotify, fmt.Sprintf("notification to %s failed: %v", m.sctx.Recipient(), err))
		return nil
	}
	m.log(ctx, domain.LogSourceNotify, fmt.Sprintf("notified %s", m.sctx.Recipient()))
	return nil
}

func complete(ctx context.Context, m *Machine) error {
	m.log(ctx, domain.LogSourceSetup, fmt.Sprintf("setup of %s finished", m.sctx.ProjectName))
	return nil
}

// project loads the project the job works on
func (m *Machine) project(ctx context.Context) (*domain.Project, error) {
	if m.sctx.ProjectID == uuid.Nil {
		return nil, domain.NewError(domain.KindInternal, "load_project", fmt.Errorf("job has no project"))
	}
	project, err := m.svc.repos.Projects.FindByID(ctx, m.sctx.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load project %s: %w", m.sctx.ProjectID, err)
	}
	if project.Metadata == nil {
		project.Metadata = map[string]string{}
	}
	return project, nil
}
