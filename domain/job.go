package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Job is one execution of a pipeline
type Job struct {
	ID        uuid.UUID
	ProjectID *uuid.UUID
	Type      JobType
	Status    JobStatus
	State     SetupState
	Data      JobData
	CreatedAt time.Time
	UpdatedAt time.Time
}

// JobData is the persisted payload of a job. Context is the serialized
// SetupContext; Detail carries opaque error detail.
type JobData struct {
	Context json.RawMessage `json:"context,omitempty"`
	Error   string          `json:"error,omitempty"`
	Detail  map[string]any  `json:"detail,omitempty"`
}

func NewJob(jobType JobType) Job {
	return Job{
		ID:     uuid.New(),
		Type:   jobType,
		Status: JobStatusPending,
		State:  StateInit,
	}
}

// LogEntry is an append-only message attributed to a job or build
type LogEntry struct {
	ID        uuid.UUID
	SubjectID uuid.UUID
	Source    string
	Text      string
	CreatedAt time.Time
}

// Log sources
const (
	LogSourceSetup    = "setup"
	LogSourceUpdate   = "update"
	LogSourceDeploy   = "deploy"
	LogSourceSandbox  = "sandbox"
	LogSourceBuild    = "build"
	LogSourcePoller   = "poller"
	LogSourceLock     = "lock"
	LogSourceNotify   = "notify"
	LogSourceWorktree = "worktree"
)
