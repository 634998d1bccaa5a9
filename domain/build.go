package domain

import (
	"time"

	"github.com/google/uuid"
)

// Build is one deployment attempt tied to a commit
type Build struct {
	ID           uuid.UUID
	ProjectID    uuid.UUID
	CommitHash   string
	Status       BuildStatus
	DeploymentID string
	Data         map[string]string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Error returns the last observed error recorded on the build
func (b *Build) Error() string {
	if b.Data == nil {
		return ""
	}
	return b.Data["error"]
}

func NewBuild(projectID uuid.UUID, commitHash string) Build {
	return Build{
		ID:         uuid.New(),
		ProjectID:  projectID,
		CommitHash: commitHash,
		Status:     BuildStatusSubmitted,
		Data:       map[string]string{},
	}
}

// DeploymentState is the state reported by the deployment provider
type DeploymentState struct {
	ID    string
	State string
	Error string
}
