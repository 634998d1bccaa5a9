package domain

import "fmt"

// ProjectStatus represents the lifecycle status of a generated project
type ProjectStatus int

const (
	ProjectStatusUnknown ProjectStatus = iota
	ProjectStatusCreated
	ProjectStatusDeploying
	ProjectStatusDeployed
	ProjectStatusFailed
	ProjectStatusDeployFailed
)

func (s ProjectStatus) String() string {
	switch s {
	case ProjectStatusCreated:
		return "created"
	case ProjectStatusDeploying:
		return "deploying"
	case ProjectStatusDeployed:
		return "deployed"
	case ProjectStatusFailed:
		return "failed"
	case ProjectStatusDeployFailed:
		return "deploy_failed"
	default:
		return "unknown"
	}
}

func ParseProjectStatus(s string) (ProjectStatus, error) {
	switch s {
	case "created":
		return ProjectStatusCreated, nil
	case "deploying":
		return ProjectStatusDeploying, nil
	case "deployed":
		return ProjectStatusDeployed, nil
	case "failed":
		return ProjectStatusFailed, nil
	case "deploy_failed":
		return ProjectStatusDeployFailed, nil
	case "unknown":
		return ProjectStatusUnknown, nil
	default:
		return ProjectStatusUnknown, fmt.Errorf("invalid project status: %q", s)
	}
}

// JobStatus represents the execution status of a pipeline job
type JobStatus int

const (
	JobStatusUnknown JobStatus = iota
	JobStatusPending
	JobStatusRunning
	JobStatusCompleted
	JobStatusFailed
)

func (s JobStatus) String() string {
	switch s {
	case JobStatusPending:
		return "pending"
	case JobStatusRunning:
		return "running"
	case JobStatusCompleted:
		return "completed"
	case JobStatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transition happens from this status
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

func ParseJobStatus(s string) (JobStatus, error) {
	switch s {
	case "pending":
		return JobStatusPending, nil
	case "running":
		return JobStatusRunning, nil
	case "completed":
		return JobStatusCompleted, nil
	case "failed":
		return JobStatusFailed, nil
	case "unknown":
		return JobStatusUnknown, nil
	default:
		return JobStatusUnknown, fmt.Errorf("invalid job status: %q", s)
	}
}

// JobType identifies which pipeline a job executes
type JobType string

const (
	JobTypeSetup      JobType = "setup"
	JobTypeCodeUpdate JobType = "code_update"
	JobTypeDeploy     JobType = "deploy"
	JobTypeRetry      JobType = "retry"
)

// String implements the Stringer interface
func (t JobType) String() string {
	return string(t)
}

// IsValid checks if the JobType is valid
func (t JobType) IsValid() bool {
	switch t {
	case JobTypeSetup, JobTypeCodeUpdate, JobTypeDeploy, JobTypeRetry:
		return true
	default:
		return false
	}
}

// ParseJobType parses a string into a JobType
func ParseJobType(s string) (JobType, error) {
	jobType := JobType(s)
	if !jobType.IsValid() {
		return "", fmt.Errorf("invalid job type: %s", s)
	}
	return jobType, nil
}

// BuildStatus represents the state of one deployment attempt
type BuildStatus int

const (
	BuildStatusUnknown BuildStatus = iota
	BuildStatusSubmitted
	BuildStatusQueued
	BuildStatusBuilding
	BuildStatusSuccess
	BuildStatusFailed
)

func (s BuildStatus) String() string {
	switch s {
	case BuildStatusSubmitted:
		return "submitted"
	case BuildStatusQueued:
		return "queued"
	case BuildStatusBuilding:
		return "building"
	case BuildStatusSuccess:
		return "success"
	case BuildStatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the build reached success or failed
func (s BuildStatus) IsTerminal() bool {
	return s == BuildStatusSuccess || s == BuildStatusFailed
}

func ParseBuildStatus(s string) (BuildStatus, error) {
	switch s {
	case "submitted":
		return BuildStatusSubmitted, nil
	case "queued":
		return BuildStatusQueued, nil
	case "building":
		return BuildStatusBuilding, nil
	case "success":
		return BuildStatusSuccess, nil
	case "failed":
		return BuildStatusFailed, nil
	case "unknown":
		return BuildStatusUnknown, nil
	default:
		return BuildStatusUnknown, fmt.Errorf("invalid build status: %q", s)
	}
}
