package domain

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// SetupState is one state of the setup state machine
type SetupState int

const (
	StateInit SetupState = iota
	StateValidating
	StateRepoSetup
	StateDeployTargetSetup
	StateCodeUpdate
	StateMetadataUpdate
	StateDomainSetup
	StateNotification
	StateComplete
	StateFailed
)

var setupStateNames = map[SetupState]string{
	StateInit:              "INIT",
	StateValidating:        "VALIDATING",
	StateRepoSetup:         "REPO_SETUP",
	StateDeployTargetSetup: "DEPLOY_TARGET_SETUP",
	StateCodeUpdate:        "CODE_UPDATE",
	StateMetadataUpdate:    "METADATA_UPDATE",
	StateDomainSetup:       "DOMAIN_SETUP",
	StateNotification:      "NOTIFICATION",
	StateComplete:          "COMPLETE",
	StateFailed:            "FAILED",
}

func (s SetupState) String() string {
	if name, ok := setupStateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsTerminal reports whether the machine stops in this state
func (s SetupState) IsTerminal() bool {
	return s == StateComplete || s == StateFailed
}

func ParseSetupState(s string) (SetupState, error) {
	for state, name := range setupStateNames {
		if name == s {
			return state, nil
		}
	}
	return StateInit, fmt.Errorf("invalid setup state: %q", s)
}

// MarshalText encodes the state by name so persisted contexts stay readable
func (s SetupState) MarshalText() ([]byte, error) {
	name, ok := setupStateNames[s]
	if !ok {
		return nil, fmt.Errorf("invalid setup state: %d", int(s))
	}
	return []byte(name), nil
}

func (s *SetupState) UnmarshalText(text []byte) error {
	state, err := ParseSetupState(string(text))
	if err != nil {
		return err
	}
	*s = state
	return nil
}

// SetupInput is the payload a setup job is created from
type SetupInput struct {
	Prompt      string `json:"prompt"`
	UserID      string `json:"user_id"`
	ProjectName string `json:"project_name,omitempty"`
	Description string `json:"description,omitempty"`
	Recipient   string `json:"recipient,omitempty"`
}

// Validate checks the required fields of the input
func (in SetupInput) Validate() error {
	if strings.TrimSpace(in.Prompt) == "" {
		return NewError(KindValidation, "validate_input", fmt.Errorf("prompt is required"))
	}
	if strings.TrimSpace(in.UserID) == "" {
		return NewError(KindValidation, "validate_input", fmt.Errorf("user id is required"))
	}
	return nil
}

// DeploymentInfo is what the deployment provider told us about the project
type DeploymentInfo struct {
	ProjectID    string `json:"project_id,omitempty"`
	DeploymentID string `json:"deployment_id,omitempty"`
}

// SetupContext is the resumable state carried between setup transitions
type SetupContext struct {
	Input          SetupInput       `json:"input"`
	UserID         string           `json:"user_id"`
	ProjectName    string           `json:"project_name,omitempty"`
	ProjectID      uuid.UUID        `json:"project_id"`
	JobID          uuid.UUID        `json:"job_id"`
	Repository     RepositoryHandle `json:"repository"`
	Deployment     DeploymentInfo   `json:"deployment"`
	FrontendURL    string           `json:"frontend_url,omitempty"`
	CommitHash     string           `json:"commit_hash,omitempty"`
	BuildID        uuid.UUID        `json:"build_id"`
	LastError      string           `json:"last_error,omitempty"`
	FailedState    SetupState       `json:"failed_state,omitempty"`
	CompletedSteps []SetupState     `json:"completed_steps"`
}

func NewSetupContext(input SetupInput) *SetupContext {
	return &SetupContext{
		Input:          input,
		UserID:         strings.TrimSpace(input.UserID),
		CompletedSteps: []SetupState{},
	}
}

// MarkCompleted records a finished state once
func (c *SetupContext) MarkCompleted(state SetupState) {
	if !c.IsCompleted(state) {
		c.CompletedSteps = append(c.CompletedSteps, state)
	}
}

// IsCompleted reports whether a state finished in this or an earlier run
func (c *SetupContext) IsCompleted(state SetupState) bool {
	return slices.Contains(c.CompletedSteps, state)
}

// Recipient returns who gets the completion notification
func (c *SetupContext) Recipient() string {
	if c.Input.Recipient != "" {
		return c.Input.Recipient
	}
	return c.UserID
}

// Marshal serializes the context for persistence
func (c *SetupContext) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// UnmarshalSetupContext decodes a context persisted by Marshal
func UnmarshalSetupContext(data []byte) (*SetupContext, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("setup context is empty")
	}
	var c SetupContext
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to decode setup context: %w", err)
	}
	if c.CompletedSteps == nil {
		c.CompletedSteps = []SetupState{}
	}
	return &c, nil
}
