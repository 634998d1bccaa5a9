package app

import (
	"context"
	"testing"

	"github.com/fernet/fernet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framer-cd/framer/config"
)

type mapEnv map[string]string

func (e mapEnv) Getenv(key string) string { return e[key] }

func (e mapEnv) UserHomeDir() (string, error) { return e["HOME"], nil }

func newConfig(t *testing.T, extra map[string]string) *config.Config {
	t.Helper()
	var key fernet.Key
	require.NoError(t, key.Generate())
	env := mapEnv{"HOME": t.TempDir(), "FRAMER_ENCRYPTION_KEY": key.Encode()}
	for k, v := range extra {
		env[k] = v
	}
	cfg, err := config.NewConfigForCLIWithEnv(env, t.TempDir())
	require.NoError(t, err)
	return cfg
}

func TestNew_WithoutDeploymentAPI(t *testing.T) {
	a, err := New(newConfig(t, nil))
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	projects, err := a.Repos.Projects.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, projects)

	_, err = a.Poller()
	assert.ErrorIs(t, err, ErrDeploymentsNotConfigured)
}

func TestSetup_RequiresGeneratorCommand(t *testing.T) {
	a, err := New(newConfig(t, map[string]string{"FRAMER_DEPLOY_API_URL": "http://127.0.0.1:1"}))
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	_, err = a.Setup()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generator command is not configured")
}

func TestSetup_WiresPipeline(t *testing.T) {
	a, err := New(newConfig(t, map[string]string{
		"FRAMER_DEPLOY_API_URL":    "http://127.0.0.1:1",
		"FRAMER_GENERATOR_COMMAND": "true",
	}))
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	svc, err := a.Setup()
	require.NoError(t, err)
	again, err := a.Setup()
	require.NoError(t, err)
	assert.Same(t, svc, again)

	p, err := a.Poller()
	require.NoError(t, err)
	assert.NotNil(t, p)
}
