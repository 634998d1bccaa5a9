// Package app wires configuration, storage, providers and pipelines into one application.
package app

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gorm.io/gorm"

	"github.com/framer-cd/framer/config"
	"github.com/framer-cd/framer/db"
	"github.com/framer-cd/framer/encryption"
	"github.com/framer-cd/framer/git"
	"github.com/framer-cd/framer/notify"
	"github.com/framer-cd/framer/poller"
	"github.com/framer-cd/framer/provider/deployapi"
	"github.com/framer-cd/framer/provider/localgit"
	"github.com/framer-cd/framer/repository"
	"github.com/framer-cd/framer/retry"
	"github.com/framer-cd/framer/sandbox"
	"github.com/framer-cd/framer/setup"
	"github.com/framer-cd/framer/workspace"
)

// Version is set at build time via -ldflags
var Version = "dev"

// ErrDeploymentsNotConfigured is returned by pipelines that need the deployment API
var ErrDeploymentsNotConfigured = errors.New("deployment api is not configured (set deploy.api_url or FRAMER_DEPLOY_API_URL)")

// App holds the long-lived components of one framer process
type App struct {
	Config     *config.Config
	DB         *gorm.DB
	Repos      *repository.Repositories
	Git        *git.GitService
	Workspace  *workspace.Manager
	Remotes    *localgit.Provider
	Supervisor *sandbox.Supervisor

	deployments *deployapi.Client
	poller      *poller.Poller
	setup       *setup.Service
}

// New initializes storage and every component that does not need the deployment API
func New(cfg *config.Config) (*App, error) {
	for _, dir := range []string{cfg.DataDir, cfg.TmpDir, cfg.WorkspaceDir, cfg.RemotesDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	database, err := db.InitDB(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	sealer, err := encryption.NewSealer(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize encryption: %w", err)
	}

	gitService := git.NewGitService(git.Options{
		Timeout:     cfg.Git.Timeout,
		CloneDepth:  cfg.Git.CloneDepth,
		AuthorName:  cfg.Git.AuthorName,
		AuthorEmail: cfg.Git.AuthorEmail,
	})
	locker := workspace.NewLocker(workspace.LockOptions{
		StaleAfter:   cfg.Lock.StaleAfter,
		WaitTimeout:  cfg.Lock.WaitTimeout,
		PollInterval: cfg.Lock.PollInterval,
	})

	a := &App{
		Config:    cfg,
		DB:        database,
		Repos:     repository.New(database, sealer),
		Git:       gitService,
		Workspace: workspace.NewManager(gitService, locker),
		Remotes:   localgit.New(gitService, cfg.RemotesDir, ""),
		Supervisor: sandbox.NewSupervisor(sandbox.BuildCommands{
			Install: cfg.Sandbox.InstallCommand,
			Build:   cfg.Sandbox.BuildCommand,
		}),
	}

	if cfg.Deploy.APIURL != "" {
		a.deployments, err = deployapi.NewClient(deployapi.Config{
			BaseURL: cfg.Deploy.APIURL,
			Token:   cfg.Deploy.APIToken,
			Timeout: cfg.Deploy.Timeout,
		})
		if err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Poller returns the build poller, creating it on first use
func (a *App) Poller() (*poller.Poller, error) {
	if a.deployments == nil {
		return nil, ErrDeploymentsNotConfigured
	}
	if a.poller == nil {
		a.poller = poller.NewPoller(a.deployments, a.Repos, poller.Options{
			Interval:    a.Config.Poller.Interval,
			MaxAttempts: a.Config.Poller.MaxAttempts,
		})
	}
	return a.poller, nil
}

// Setup returns the setup service, creating it on first use
func (a *App) Setup() (*setup.Service, error) {
	if a.setup != nil {
		return a.setup, nil
	}
	if strings.TrimSpace(a.Config.Sandbox.GeneratorCommand) == "" {
		return nil, fmt.Errorf("generator command is not configured (set sandbox.generator_command or FRAMER_GENERATOR_COMMAND)")
	}
	builds, err := a.Poller()
	if err != nil {
		return nil, err
	}
	provider, err := sandbox.NewProvider(a.Config.Sandbox)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sandbox provider: %w", err)
	}
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate framer executable: %w", err)
	}

	policy := sandbox.Policy{
		MaxRetries:  a.Config.Sandbox.MaxRetries,
		RetryDelay:  a.Config.Sandbox.RetryDelay,
		Timeout:     a.Config.Sandbox.Timeout,
		GracePeriod: a.Config.Sandbox.GracePeriod,
	}
	generator := setup.NewSupervisedGenerator(a.Supervisor, policy, self,
		"worker", "--tool", a.Config.Sandbox.GeneratorCommand, "--grace-period", a.Config.Sandbox.GracePeriod.String())

	a.setup = setup.NewService(setup.Deps{
		Repos:        a.Repos,
		Workspace:    a.Workspace,
		Repositories: a.Remotes,
		Deployments:  a.deployments,
		Notifier:     notify.New(a.Config.Notify.WebhookURL, a.Config.Notify.Timeout),
		Generator:    generator,
		Checker:      setup.NewSandboxChecker(a.Supervisor, provider),
		Scheduler:    builds,
	}, setup.Options{
		WorkspaceDir: a.Config.WorkspaceDir,
		Retry: retry.Policy{
			MaxAttempts: a.Config.Retry.MaxAttempts,
			Delay:       a.Config.Retry.Delay,
		},
	})
	return a.setup, nil
}

// Close stops background polls and closes the database
func (a *App) Close() error {
	if a.poller != nil {
		a.poller.Stop()
	}
	sqlDB, err := a.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to access database handle: %w", err)
	}
	return sqlDB.Close()
}
