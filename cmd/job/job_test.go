package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCmdJob(t *testing.T) {
	cmd := NewCmdJob()

	assert.Equal(t, "job", cmd.Use)
	assert.False(t, cmd.Runnable())

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.ElementsMatch(t, []string{"list", "show"}, names)
}

func TestNewCmdJobList_LimitFlag(t *testing.T) {
	cmd := NewCmdJobList()

	flag := cmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "n", flag.Shorthand)
	assert.Equal(t, "20", flag.DefValue)
}
