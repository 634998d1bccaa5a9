// Package db provides database models and utilities for framer.
package db

import (
	"time"

	"github.com/google/uuid"
)

type BaseModel struct {
	ID        uuid.UUID `gorm:"type:char(36);primaryKey"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ProjectModel struct {
	BaseModel
	OwnerID             string            `gorm:"not null;index;check:owner_id <> ''"`
	Name                string            `gorm:"not null;unique;check:name <> ''"`
	RepoName            string            `gorm:"not null;default:''"`
	RepoURL             string            `gorm:"not null;default:''"`
	GitBranch           string            `gorm:"not null;check:git_branch <> ''"`
	GitAuthType         *string           `gorm:"type:varchar(20)"` // "http" or "ssh"
	GitAuthCredentials  *string           `gorm:"type:text"`        // fernet token of the JSON credentials
	WorkingDir          string            `gorm:"not null;default:''"`
	DeploymentProjectID string            `gorm:"not null;default:''"`
	DeploymentURL       string            `gorm:"not null;default:''"`
	Status              string            `gorm:"not null;check:status <> ''"` // created, deploying, deployed, failed, deploy_failed
	Metadata            map[string]string `gorm:"type:text;serializer:json"`

	Jobs   []JobModel   `gorm:"foreignKey:ProjectID"`
	Builds []BuildModel `gorm:"foreignKey:ProjectID"`
}

func (ProjectModel) TableName() string {
	return "projects"
}

type JobModel struct {
	BaseModel
	ProjectID *uuid.UUID `gorm:"type:char(36);index"`
	Type      string     `gorm:"not null;check:type <> ''"`   // setup, code_update, deploy, retry
	Status    string     `gorm:"not null;check:status <> ''"` // pending, running, completed, failed
	State     string     `gorm:"not null;check:state <> ''"`  // last setup state
	Data      string     `gorm:"type:text;not null;default:'{}'"`
}

func (JobModel) TableName() string {
	return "jobs"
}

type BuildModel struct {
	BaseModel
	ProjectID    uuid.UUID         `gorm:"type:char(36);not null;index"`
	CommitHash   string            `gorm:"not null;default:''"`
	Status       string            `gorm:"not null;check:status <> ''"` // submitted, queued, building, success, failed
	DeploymentID string            `gorm:"not null;default:''"`
	Data         map[string]string `gorm:"type:text;serializer:json"`

	Project ProjectModel `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE"`
}

func (BuildModel) TableName() string {
	return "builds"
}

// LogModel is append-only; it has no UpdatedAt
type LogModel struct {
	ID        uuid.UUID `gorm:"type:char(36);primaryKey"`
	SubjectID uuid.UUID `gorm:"type:char(36);not null;index"`
	Source    string    `gorm:"not null;check:source <> ''"`
	Text      string    `gorm:"type:text;not null"`
	CreatedAt time.Time
}

func (LogModel) TableName() string {
	return "logs"
}

type MigrationModel struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"not null;unique"`
	AppliedAt time.Time
}

func (MigrationModel) TableName() string {
	return "migrations"
}
