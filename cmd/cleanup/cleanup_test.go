package cleanup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCmdCleanup(t *testing.T) {
	cmd := NewCmdCleanup()

	assert.Equal(t, "cleanup", cmd.Use)
	keep := cmd.Flags().Lookup("keep")
	require.NotNil(t, keep)
	assert.Equal(t, "k", keep.Shorthand)
	assert.Equal(t, "0", keep.DefValue)
}
