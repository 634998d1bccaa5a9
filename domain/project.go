// Package domain provides core domain types and entities for framer.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultBranch is the branch used for generated repositories
const DefaultBranch = "main"

// GitAuthConfig holds Git authentication configuration for a project
type GitAuthConfig struct {
	HTTPAuth *GitHTTPAuthConfig
	SSHAuth  *GitSSHAuthConfig
}

// GitHTTPAuthConfig for HTTP basic authentication (GitHub tokens, etc.)
type GitHTTPAuthConfig struct {
	Username string // "token" for GitHub
	Password string // actual token/password
}

// GitSSHAuthConfig for passwordless SSH key authentication
type GitSSHAuthConfig struct {
	PrivateKey string // PEM-encoded private key as string
	User       string // SSH user (default: "git")
}

// GitAuthType represents the Git authentication method type
type GitAuthType string

const (
	GitAuthTypeHTTP GitAuthType = "http"
	GitAuthTypeSSH  GitAuthType = "ssh"
)

// String implements the Stringer interface
func (a GitAuthType) String() string {
	return string(a)
}

// IsValid checks if the GitAuthType is valid
func (a GitAuthType) IsValid() bool {
	switch a {
	case GitAuthTypeHTTP, GitAuthTypeSSH:
		return true
	default:
		return false
	}
}

// ParseGitAuthType parses a string into a GitAuthType
func ParseGitAuthType(s string) (GitAuthType, error) {
	authType := GitAuthType(s)
	if !authType.IsValid() {
		return "", fmt.Errorf("invalid auth type: %s", s)
	}
	return authType, nil
}

// Project is one generated application
type Project struct {
	ID                  uuid.UUID
	OwnerID             string
	Name                string
	RepoName            string
	RepoURL             string
	GitBranch           string
	GitAuth             *GitAuthConfig
	WorkingDir          string
	DeploymentProjectID string
	DeploymentURL       string
	Status              ProjectStatus
	Metadata            map[string]string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Remote returns the remote the project's working tree tracks
func (p *Project) Remote() Remote {
	branch := p.GitBranch
	if branch == "" {
		branch = DefaultBranch
	}
	return Remote{URL: p.RepoURL, Branch: branch, Auth: p.GitAuth}
}

func NewProject(ownerID, name string) Project {
	return Project{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Name:      name,
		GitBranch: DefaultBranch,
		Status:    ProjectStatusCreated,
		Metadata:  map[string]string{},
	}
}

// Remote identifies the remote side of a working tree
type Remote struct {
	URL    string
	Branch string
	Auth   *GitAuthConfig
}

// RepositoryHandle is what the repository provider returns for a created repository
type RepositoryHandle struct {
	Name          string `json:"name"`
	CloneURL      string `json:"clone_url"`
	WebURL        string `json:"web_url,omitempty"`
	DefaultBranch string `json:"default_branch"`
}

// IsZero reports whether no repository is attached
func (h RepositoryHandle) IsZero() bool {
	return h.Name == "" && h.CloneURL == ""
}
