package project

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCmdProject(t *testing.T) {
	cmd := NewCmdProject()

	assert.Equal(t, "project", cmd.Use)
	assert.Nil(t, cmd.RunE)
	assert.False(t, cmd.Runnable(), "Parent project command should not be directly runnable")

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.ElementsMatch(t, []string{"list", "show"}, names)
}

func TestNewCmdProjectShow_RequiresOneArg(t *testing.T) {
	cmd := NewCmdProjectShow()

	assert.Error(t, cmd.Args(cmd, nil))
	assert.NoError(t, cmd.Args(cmd, []string{"id"}))
}
