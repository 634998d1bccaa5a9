// Package config loads framer configuration from defaults, an optional YAML file,
// FRAMER_* environment variables and command line overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/fernet/fernet-go"
	"gopkg.in/yaml.v3"
)

const (
	ConfigFileName    = "framer.yaml"
	KeyFileName       = "encryption.key"
	DatabaseFileName  = "framer.db"
	WorkspaceDirName  = "trees"
	RemotesDirName    = "remotes"
	TmpDirName        = "tmp"
	SandboxLocal      = "local"
	SandboxDocker     = "docker"
	defaultDataFolder = "framer"
)

// EnvProvider abstracts environment variable access for testing
type EnvProvider interface {
	Getenv(key string) string
	UserHomeDir() (string, error)
}

// DefaultEnvProvider implements EnvProvider using real OS functions
type DefaultEnvProvider struct{}

func (p *DefaultEnvProvider) Getenv(key string) string {
	return os.Getenv(key)
}

func (p *DefaultEnvProvider) UserHomeDir() (string, error) {
	return os.UserHomeDir()
}

// GetDefaultDataDir returns the default data directory following the XDG base directory layout
func GetDefaultDataDir() string {
	return getDefaultDataDirWithEnv(&DefaultEnvProvider{})
}

func getDefaultDataDirWithEnv(env EnvProvider) string {
	if xdgDataHome := env.Getenv("XDG_DATA_HOME"); xdgDataHome != "" {
		return filepath.Join(xdgDataHome, defaultDataFolder)
	}

	homeDir, _ := env.UserHomeDir()
	return filepath.Join(homeDir, ".local", "share", defaultDataFolder)
}

// LockConfig controls the advisory working tree lock
type LockConfig struct {
	StaleAfter   time.Duration `yaml:"stale_after"`
	WaitTimeout  time.Duration `yaml:"wait_timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// GitConfig controls clone and sync behaviour
type GitConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	CloneDepth  int           `yaml:"clone_depth"`
	KeepTrees   int           `yaml:"keep_trees"`
	AuthorName  string        `yaml:"author_name"`
	AuthorEmail string        `yaml:"author_email"`
}

// SandboxConfig controls supervised execution and build checks
type SandboxConfig struct {
	Provider         string        `yaml:"provider"`
	DockerHost       string        `yaml:"docker_host"`
	DockerImage      string        `yaml:"docker_image"`
	InstallCommand   string        `yaml:"install_command"`
	BuildCommand     string        `yaml:"build_command"`
	GeneratorCommand string        `yaml:"generator_command"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
	Timeout          time.Duration `yaml:"timeout"`
	GracePeriod      time.Duration `yaml:"grace_period"`
}

// PollerConfig controls build status polling
type PollerConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// RetryConfig controls in-place retries of transient provider failures
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Delay       time.Duration `yaml:"delay"`
}

// DeployConfig points at the deployment provider API
type DeployConfig struct {
	APIURL   string        `yaml:"api_url"`
	APIToken string        `yaml:"api_token"`
	Timeout  time.Duration `yaml:"timeout"`
}

// NotifyConfig selects how completion notifications are delivered
type NotifyConfig struct {
	WebhookURL string        `yaml:"webhook_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

// Config holds configuration for all components
type Config struct {
	// Core paths
	DataDir      string `yaml:"-"`
	DatabasePath string `yaml:"database_path"`
	WorkspaceDir string `yaml:"workspace_dir"`
	RemotesDir   string `yaml:"remotes_dir"`
	TmpDir       string `yaml:"-"`

	// Logging
	LogLevel     string `yaml:"log_level"`
	LogFormat    string `yaml:"log_format"`
	ColorEnabled bool   `yaml:"color_enabled"`

	// HTTP server
	HTTPHost string `yaml:"http_host"`
	HTTPPort int    `yaml:"http_port"`

	// Encryption
	EncryptionKey string `yaml:"-"`

	Lock    LockConfig    `yaml:"lock"`
	Git     GitConfig     `yaml:"git"`
	Sandbox SandboxConfig `yaml:"sandbox"`
	Poller  PollerConfig  `yaml:"poller"`
	Retry   RetryConfig   `yaml:"retry"`
	Deploy  DeployConfig  `yaml:"deploy"`
	Notify  NotifyConfig  `yaml:"notify"`

	env EnvProvider
}

// NewConfigForCLI creates a new configuration for CLI usage with optional data directory override
func NewConfigForCLI(cliDataDir string) (*Config, error) {
	return newConfigWithEnv(&DefaultEnvProvider{}, cliDataDir)
}

// NewConfigForCLIWithEnv creates a new configuration with custom environment provider (for testing)
func NewConfigForCLIWithEnv(env EnvProvider, cliDataDir string) (*Config, error) {
	return newConfigWithEnv(env, cliDataDir)
}

func newConfigWithEnv(env EnvProvider, cliDataDir string) (*Config, error) {
	c := &Config{env: env}

	c.setDefaults()

	// The data directory has to be known before the config file can be found
	if v := env.Getenv("FRAMER_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if cliDataDir != "" {
		c.DataDir = cliDataDir
	}

	if err := c.loadFromFile(filepath.Join(c.DataDir, ConfigFileName)); err != nil {
		return nil, err
	}

	c.loadFromEnv()

	if cliDataDir != "" {
		c.DataDir = cliDataDir
	}

	c.derivePaths()

	if c.EncryptionKey == "" {
		key, err := c.loadOrCreateKey()
		if err != nil {
			return nil, err
		}
		c.EncryptionKey = key
	}

	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return c, nil
}

// setDefaults sets sensible default values
func (c *Config) setDefaults() {
	c.DataDir = getDefaultDataDirWithEnv(c.env)
	c.LogLevel = "info"
	c.LogFormat = "text"
	c.ColorEnabled = true
	c.HTTPHost = "127.0.0.1"
	c.HTTPPort = 8080

	c.Lock = LockConfig{
		StaleAfter:   30 * time.Minute,
		WaitTimeout:  5 * time.Minute,
		PollInterval: 2 * time.Second,
	}
	c.Git = GitConfig{
		Timeout:     5 * time.Minute,
		CloneDepth:  1,
		KeepTrees:   20,
		AuthorName:  "framer",
		AuthorEmail: "framer@localhost",
	}
	c.Sandbox = SandboxConfig{
		Provider:       SandboxLocal,
		DockerHost:     "unix:///var/run/docker.sock",
		DockerImage:    "node:20-alpine",
		InstallCommand: "npm install",
		BuildCommand:   "npm run build",
		MaxRetries:     3,
		RetryDelay:     5 * time.Second,
		Timeout:        10 * time.Minute,
		GracePeriod:    10 * time.Second,
	}
	c.Poller = PollerConfig{
		Interval:    10 * time.Second,
		MaxAttempts: 30,
	}
	c.Retry = RetryConfig{
		MaxAttempts: 3,
		Delay:       2 * time.Second,
	}
	c.Deploy.Timeout = 30 * time.Second
	c.Notify.Timeout = 10 * time.Second
}

// loadFromFile overlays values from the YAML config file when it exists
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// loadFromEnv loads configuration from environment variables
func (c *Config) loadFromEnv() {
	c.envString("FRAMER_DATA_DIR", &c.DataDir)
	c.envString("FRAMER_DATABASE_PATH", &c.DatabasePath)
	c.envString("FRAMER_WORKSPACE_DIR", &c.WorkspaceDir)
	c.envString("FRAMER_REMOTES_DIR", &c.RemotesDir)
	c.envString("FRAMER_LOG_LEVEL", &c.LogLevel)
	c.envString("FRAMER_LOG_FORMAT", &c.LogFormat)
	c.envBool("FRAMER_COLOR_ENABLED", &c.ColorEnabled)
	c.envString("FRAMER_HTTP_HOST", &c.HTTPHost)
	c.envInt("FRAMER_HTTP_PORT", &c.HTTPPort)
	c.envString("FRAMER_ENCRYPTION_KEY", &c.EncryptionKey)

	c.envDuration("FRAMER_LOCK_STALE_AFTER", &c.Lock.StaleAfter)
	c.envDuration("FRAMER_LOCK_WAIT_TIMEOUT", &c.Lock.WaitTimeout)
	c.envDuration("FRAMER_LOCK_POLL_INTERVAL", &c.Lock.PollInterval)

	c.envDuration("FRAMER_GIT_TIMEOUT", &c.Git.Timeout)
	c.envInt("FRAMER_GIT_CLONE_DEPTH", &c.Git.CloneDepth)
	c.envInt("FRAMER_GIT_KEEP_TREES", &c.Git.KeepTrees)
	c.envString("FRAMER_GIT_AUTHOR_NAME", &c.Git.AuthorName)
	c.envString("FRAMER_GIT_AUTHOR_EMAIL", &c.Git.AuthorEmail)

	c.envString("FRAMER_SANDBOX_PROVIDER", &c.Sandbox.Provider)
	c.envString("FRAMER_DOCKER_HOST", &c.Sandbox.DockerHost)
	c.envString("FRAMER_DOCKER_IMAGE", &c.Sandbox.DockerImage)
	c.envString("FRAMER_INSTALL_COMMAND", &c.Sandbox.InstallCommand)
	c.envString("FRAMER_BUILD_COMMAND", &c.Sandbox.BuildCommand)
	c.envString("FRAMER_GENERATOR_COMMAND", &c.Sandbox.GeneratorCommand)
	c.envInt("FRAMER_SANDBOX_MAX_RETRIES", &c.Sandbox.MaxRetries)
	c.envDuration("FRAMER_SANDBOX_RETRY_DELAY", &c.Sandbox.RetryDelay)
	c.envDuration("FRAMER_SANDBOX_TIMEOUT", &c.Sandbox.Timeout)
	c.envDuration("FRAMER_SANDBOX_GRACE_PERIOD", &c.Sandbox.GracePeriod)

	c.envDuration("FRAMER_POLL_INTERVAL", &c.Poller.Interval)
	c.envInt("FRAMER_POLL_MAX_ATTEMPTS", &c.Poller.MaxAttempts)

	c.envInt("FRAMER_RETRY_MAX_ATTEMPTS", &c.Retry.MaxAttempts)
	c.envDuration("FRAMER_RETRY_DELAY", &c.Retry.Delay)

	c.envString("FRAMER_DEPLOY_API_URL", &c.Deploy.APIURL)
	c.envString("FRAMER_DEPLOY_API_TOKEN", &c.Deploy.APIToken)
	c.envDuration("FRAMER_DEPLOY_TIMEOUT", &c.Deploy.Timeout)

	c.envString("FRAMER_NOTIFY_WEBHOOK_URL", &c.Notify.WebhookURL)
}

func (c *Config) envString(key string, dst *string) {
	if v := c.env.Getenv(key); v != "" {
		*dst = v
	}
}

func (c *Config) envBool(key string, dst *bool) {
	if v := c.env.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func (c *Config) envInt(key string, dst *int) {
	if v := c.env.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}

func (c *Config) envDuration(key string, dst *time.Duration) {
	if v := c.env.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// derivePaths calculates dependent paths from the base DataDir
func (c *Config) derivePaths() {
	c.TmpDir = filepath.Join(c.DataDir, TmpDirName)
	if c.WorkspaceDir == "" {
		c.WorkspaceDir = filepath.Join(c.DataDir, WorkspaceDirName)
	}
	if c.RemotesDir == "" {
		c.RemotesDir = filepath.Join(c.DataDir, RemotesDirName)
	}
	if c.DatabasePath == "" {
		c.DatabasePath = filepath.Join(c.DataDir, DatabaseFileName)
	}
}

// loadOrCreateKey reads the encryption key file in the data directory,
// generating it on first use.
func (c *Config) loadOrCreateKey() (string, error) {
	path := filepath.Join(c.DataDir, KeyFileName)

	data, err := os.ReadFile(path)
	if err == nil {
		return strings.TrimSpace(string(data)), nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("failed to read encryption key file: %w", err)
	}

	var key fernet.Key
	if err := key.Generate(); err != nil {
		return "", fmt.Errorf("failed to generate encryption key: %w", err)
	}
	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(key.Encode()+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("failed to write encryption key file: %w", err)
	}
	return key.Encode(), nil
}

// validate ensures configuration values are valid
func (c *Config) validate() error {
	if !slices.Contains([]string{"debug", "info", "warning", "error", "silent"}, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warning, error or silent)", c.LogLevel)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.LogFormat)
	}
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d (must be 1-65535)", c.HTTPPort)
	}

	if c.Lock.StaleAfter <= 0 || c.Lock.WaitTimeout <= 0 || c.Lock.PollInterval <= 0 {
		return fmt.Errorf("lock durations must be positive")
	}
	if c.Git.Timeout <= 0 {
		return fmt.Errorf("git timeout must be positive, got: %v", c.Git.Timeout)
	}
	if c.Git.CloneDepth < 0 {
		return fmt.Errorf("git clone depth cannot be negative, got: %d", c.Git.CloneDepth)
	}
	if c.Git.KeepTrees < 1 {
		return fmt.Errorf("keep trees must be at least 1, got: %d", c.Git.KeepTrees)
	}

	if c.Sandbox.Provider != SandboxLocal && c.Sandbox.Provider != SandboxDocker {
		return fmt.Errorf("invalid sandbox provider: %s (must be %s or %s)", c.Sandbox.Provider, SandboxLocal, SandboxDocker)
	}
	if c.Sandbox.MaxRetries < 1 {
		return fmt.Errorf("sandbox max retries must be at least 1, got: %d", c.Sandbox.MaxRetries)
	}
	if c.Sandbox.Timeout <= 0 {
		return fmt.Errorf("sandbox timeout must be positive, got: %v", c.Sandbox.Timeout)
	}
	if c.Sandbox.RetryDelay < 0 || c.Sandbox.GracePeriod < 0 {
		return fmt.Errorf("sandbox delays cannot be negative")
	}

	if c.Poller.Interval <= 0 {
		return fmt.Errorf("poll interval must be positive, got: %v", c.Poller.Interval)
	}
	if c.Poller.MaxAttempts < 1 {
		return fmt.Errorf("poll max attempts must be at least 1, got: %d", c.Poller.MaxAttempts)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be at least 1, got: %d", c.Retry.MaxAttempts)
	}

	if _, err := fernet.DecodeKey(c.EncryptionKey); err != nil {
		return fmt.Errorf("invalid encryption key: %w", err)
	}

	return nil
}
