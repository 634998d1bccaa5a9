package setup

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCmdSetup_Flags(t *testing.T) {
	cmd := NewCmdSetup()

	assert.Equal(t, "setup", cmd.Use)
	for _, name := range []string{"prompt", "name", "description", "user", "notify", "detach"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "missing flag %s", name)
	}
	prompt := cmd.Flags().Lookup("prompt")
	require.NotNil(t, prompt)
	assert.Equal(t, []string{"true"}, prompt.Annotations[cobra.BashCompOneRequiredFlag])
}

func TestNewCmdSetup_DefaultUser(t *testing.T) {
	t.Setenv("USER", "alice")
	cmd := NewCmdSetup()

	assert.Equal(t, "alice", cmd.Flags().Lookup("user").DefValue)
}

func TestNewCmdResume_RequiresJobID(t *testing.T) {
	cmd := NewCmdResume()

	assert.Error(t, cmd.Args(cmd, nil))
	assert.NoError(t, cmd.Args(cmd, []string{"id"}))
}
