package setup

import (
	"context"

	"github.com/google/uuid"

	"github.com/framer-cd/framer/domain"
	"github.com/framer-cd/framer/sandbox"
)

// RepositoryProvider creates and looks up the remote repositories projects live in
type RepositoryProvider interface {
	CreateRepository(ctx context.Context, name, description string) (domain.RepositoryHandle, error)
	GetRepository(ctx context.Context, name string) (domain.RepositoryHandle, error)
}

// DeploymentProvider builds and hosts project repositories
type DeploymentProvider interface {
	CreateProject(ctx context.Context, name string, repo domain.RepositoryHandle) (string, error)
	GetDeployment(ctx context.Context, deploymentID string) (domain.DeploymentState, error)
	FindDeploymentByCommit(ctx context.Context, projectID, commitHash string) (domain.DeploymentState, error)
	TriggerDeployment(ctx context.Context, projectID, ref string) (domain.DeploymentState, error)
	AssignDomain(ctx context.Context, projectID, name string) (string, error)
}

// Notifier delivers a message to a recipient
type Notifier interface {
	Notify(ctx context.Context, recipient, title, body string) error
}

// GenerationRequest is what the code generator is asked to do in a working tree
type GenerationRequest struct {
	Dir         string `json:"-"`
	ProjectName string `json:"project_name"`
	Prompt      string `json:"prompt"`
	BuildLogs   string `json:"build_logs,omitempty"`
	Corrective  bool   `json:"corrective,omitempty"`
}

// Generator changes the files of a working tree according to a prompt
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) error
}

// BuildChecker opens a sandbox on a working tree for installing and building it
type BuildChecker interface {
	Open(ctx context.Context, dir string) (BuildSession, error)
}

// BuildSession checks one tree repeatedly inside the same sandbox
type BuildSession interface {
	Check(ctx context.Context) sandbox.BuildCheck
	Close(ctx context.Context)
}

// BuildScheduler starts asynchronous status polling for a build
type BuildScheduler interface {
	Schedule(buildID uuid.UUID)
}
