// Package localgit hosts project repositories as bare git repositories on local disk.
package localgit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gosimple/slug"

	"github.com/framer-cd/framer/domain"
	"github.com/framer-cd/framer/git"
)

// ErrNotFound is returned when no repository with the requested name exists
var ErrNotFound = errors.New("repository not found")

// Provider creates bare repositories under a root directory
type Provider struct {
	git    *git.GitService
	root   string
	branch string
}

func New(gitService *git.GitService, root, branch string) *Provider {
	if branch == "" {
		branch = domain.DefaultBranch
	}
	return &Provider{git: gitService, root: root, branch: branch}
}

func (p *Provider) path(name string) string {
	return filepath.Join(p.root, name+".git")
}

func (p *Provider) handle(name string) domain.RepositoryHandle {
	path := p.path(name)
	return domain.RepositoryHandle{
		Name:          name,
		CloneURL:      path,
		WebURL:        "file://" + path,
		DefaultBranch: p.branch,
	}
}

func validName(name string) bool {
	return name != "" && slug.IsSlug(name) && !strings.Contains(name, "..")
}

// CreateRepository initialises a bare repository. Creating an existing
// repository returns it unchanged so a retried call is harmless.
func (p *Provider) CreateRepository(ctx context.Context, name, description string) (domain.RepositoryHandle, error) {
	if !validName(name) {
		return domain.RepositoryHandle{}, domain.NewError(domain.KindValidation, "create_repository",
			fmt.Errorf("invalid repository name: %q", name))
	}

	path := p.path(name)
	if p.git.IsRepository(path) {
		slog.Info("Repository already exists", "layer", "localgit", "name", name, "path", path)
		return p.handle(name), nil
	}

	if err := p.git.InitBare(path, p.branch); err != nil {
		return domain.RepositoryHandle{}, fmt.Errorf("failed to create repository %s: %w", name, err)
	}
	if description != "" {
		if err := os.WriteFile(filepath.Join(path, "description"), []byte(description+"\n"), 0o644); err != nil {
			slog.Warn("Failed to write repository description", "layer", "localgit", "name", name, "error", err)
		}
	}

	slog.Info("Repository created", "layer", "localgit", "name", name, "path", path)
	return p.handle(name), nil
}

func (p *Provider) GetRepository(ctx context.Context, name string) (domain.RepositoryHandle, error) {
	if !validName(name) || !p.git.IsRepository(p.path(name)) {
		return domain.RepositoryHandle{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return p.handle(name), nil
}
