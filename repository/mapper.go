package repository

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"

	"github.com/framer-cd/framer/db"
	"github.com/framer-cd/framer/domain"
)

// CredentialSealer encrypts git credentials before they reach the database
type CredentialSealer interface {
	SealGitAuth(auth *domain.GitAuthConfig) (authType string, sealed string, err error)
	OpenGitAuth(authType, sealed string) (*domain.GitAuthConfig, error)
}

type ProjectMapper struct {
	sealer CredentialSealer
}

func NewProjectMapper(sealer CredentialSealer) *ProjectMapper {
	return &ProjectMapper{sealer: sealer}
}

func (m *ProjectMapper) ToDomain(p *db.ProjectModel) *domain.Project {
	status, err := domain.ParseProjectStatus(p.Status)
	if err != nil {
		status = domain.ProjectStatusUnknown
	}

	var gitAuth *domain.GitAuthConfig
	if p.GitAuthType != nil && p.GitAuthCredentials != nil && m.sealer != nil {
		gitAuth, err = m.sealer.OpenGitAuth(*p.GitAuthType, *p.GitAuthCredentials)
		if err != nil {
			// The project stays usable for public remotes; this happens when the key changed
			slog.Error("Failed to decrypt Git authentication",
				"layer", "repository",
				"project_id", p.ID,
				"project_name", p.Name,
				"auth_type", *p.GitAuthType,
				"error", err)
			gitAuth = nil
		}
	}

	metadata := map[string]string{}
	maps.Copy(metadata, p.Metadata)

	return &domain.Project{
		ID:                  p.ID,
		OwnerID:             p.OwnerID,
		Name:                p.Name,
		RepoName:            p.RepoName,
		RepoURL:             p.RepoURL,
		GitBranch:           p.GitBranch,
		GitAuth:             gitAuth,
		WorkingDir:          p.WorkingDir,
		DeploymentProjectID: p.DeploymentProjectID,
		DeploymentURL:       p.DeploymentURL,
		Status:              status,
		Metadata:            metadata,
		CreatedAt:           p.CreatedAt,
		UpdatedAt:           p.UpdatedAt,
	}
}

// ToModel fails when credentials are present but can not be sealed, so plaintext never lands in the database
func (m *ProjectMapper) ToModel(p *domain.Project) (*db.ProjectModel, error) {
	branch := p.GitBranch
	if branch == "" {
		branch = domain.DefaultBranch
	}

	model := &db.ProjectModel{
		BaseModel: db.BaseModel{
			ID:        p.ID,
			CreatedAt: p.CreatedAt,
			UpdatedAt: p.UpdatedAt,
		},
		OwnerID:             p.OwnerID,
		Name:                p.Name,
		RepoName:            p.RepoName,
		RepoURL:             p.RepoURL,
		GitBranch:           branch,
		WorkingDir:          p.WorkingDir,
		DeploymentProjectID: p.DeploymentProjectID,
		DeploymentURL:       p.DeploymentURL,
		Status:              p.Status.String(),
		Metadata:            p.Metadata,
	}
	if model.Metadata == nil {
		model.Metadata = map[string]string{}
	}

	if p.GitAuth == nil {
		return model, nil
	}
	if m.sealer == nil {
		return nil, fmt.Errorf("project %s has git credentials but no sealer is configured", p.Name)
	}

	authType, sealed, err := m.sealer.SealGitAuth(p.GitAuth)
	if err != nil {
		return nil, fmt.Errorf("failed to seal git credentials: %w", err)
	}
	if authType != "" && sealed != "" {
		model.GitAuthType = &authType
		model.GitAuthCredentials = &sealed
	}
	return model, nil
}

type JobMapper struct{}

func (m *JobMapper) ToDomain(j *db.JobModel) *domain.Job {
	status, err := domain.ParseJobStatus(j.Status)
	if err != nil {
		status = domain.JobStatusUnknown
	}

	state, err := domain.ParseSetupState(j.State)
	if err != nil {
		slog.Warn("Job has an unknown state",
			"layer", "repository",
			"job_id", j.ID,
			"state", j.State)
		state = domain.StateFailed
	}

	var data domain.JobData
	if j.Data != "" {
		if err := json.Unmarshal([]byte(j.Data), &data); err != nil {
			slog.Error("Failed to decode job data",
				"layer", "repository",
				"job_id", j.ID,
				"error", err)
		}
	}

	return &domain.Job{
		ID:        j.ID,
		ProjectID: j.ProjectID,
		Type:      domain.JobType(j.Type),
		Status:    status,
		State:     state,
		Data:      data,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

func (m *JobMapper) ToModel(j *domain.Job) (*db.JobModel, error) {
	if !j.Type.IsValid() {
		return nil, fmt.Errorf("invalid job type: %q", j.Type)
	}

	data, err := json.Marshal(j.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode job data: %w", err)
	}

	state, err := j.State.MarshalText()
	if err != nil {
		return nil, err
	}

	return &db.JobModel{
		BaseModel: db.BaseModel{
			ID:        j.ID,
			CreatedAt: j.CreatedAt,
			UpdatedAt: j.UpdatedAt,
		},
		ProjectID: j.ProjectID,
		Type:      j.Type.String(),
		Status:    j.Status.String(),
		State:     string(state),
		Data:      string(data),
	}, nil
}

type BuildMapper struct{}

func (m *BuildMapper) ToDomain(b *db.BuildModel) *domain.Build {
	status, err := domain.ParseBuildStatus(b.Status)
	if err != nil {
		status = domain.BuildStatusUnknown
	}

	data := map[string]string{}
	maps.Copy(data, b.Data)

	return &domain.Build{
		ID:           b.ID,
		ProjectID:    b.ProjectID,
		CommitHash:   b.CommitHash,
		Status:       status,
		DeploymentID: b.DeploymentID,
		Data:         data,
		CreatedAt:    b.CreatedAt,
		UpdatedAt:    b.UpdatedAt,
	}
}

func (m *BuildMapper) ToModel(b *domain.Build) *db.BuildModel {
	data := b.Data
	if data == nil {
		data = map[string]string{}
	}
	return &db.BuildModel{
		BaseModel: db.BaseModel{
			ID:        b.ID,
			CreatedAt: b.CreatedAt,
			UpdatedAt: b.UpdatedAt,
		},
		ProjectID:    b.ProjectID,
		CommitHash:   b.CommitHash,
		Status:       b.Status.String(),
		DeploymentID: b.DeploymentID,
		Data:         data,
	}
}
