// Package repository provides the data access layer for projects, jobs, builds and logs.
package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/framer-cd/framer/domain"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = gorm.ErrRecordNotFound

// IsNotFound reports whether err means the record does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

type ProjectRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Project, error)
	FindByName(ctx context.Context, name string) (*domain.Project, error)
	Create(ctx context.Context, project *domain.Project) error
	Update(ctx context.Context, project *domain.Project) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.ProjectStatus) error
	List(ctx context.Context) ([]*domain.Project, error)
}

type JobRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	Create(ctx context.Context, job *domain.Job) error
	Update(ctx context.Context, job *domain.Job) error
	List(ctx context.Context, limit int) ([]*domain.Job, error)
	ListByProjectID(ctx context.Context, projectID uuid.UUID) ([]*domain.Job, error)
}

type BuildRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Build, error)
	Create(ctx context.Context, build *domain.Build) error
	Update(ctx context.Context, build *domain.Build) error
	ListByProjectID(ctx context.Context, projectID uuid.UUID) ([]*domain.Build, error)
}

type LogRepository interface {
	Append(ctx context.Context, entry *domain.LogEntry) error
	ListBySubjectID(ctx context.Context, subjectID uuid.UUID) ([]*domain.LogEntry, error)
}

// Repositories bundles every repository over one database
type Repositories struct {
	Projects ProjectRepository
	Jobs     JobRepository
	Builds   BuildRepository
	Logs     LogRepository
}

func New(db *gorm.DB, sealer CredentialSealer) *Repositories {
	return &Repositories{
		Projects: NewProjectRepository(db, sealer),
		Jobs:     NewJobRepository(db),
		Builds:   NewBuildRepository(db),
		Logs:     NewLogRepository(db),
	}
}
