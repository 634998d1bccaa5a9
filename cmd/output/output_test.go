package output

import (
	"bytes"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framer-cd/framer/domain"
)

func plainColors(t *testing.T) {
	t.Helper()
	original := color.NoColor
	color.NoColor = true
	InitColors(true)
	t.Cleanup(func() {
		color.NoColor = original
		maybeColorize = nil
	})
}

func TestNoColorFlag(t *testing.T) {
	flag := &noColorFlag{}
	assert.False(t, flag.IsSet())
	assert.Equal(t, "false", flag.String())
	assert.Equal(t, "bool", flag.Type())
	assert.True(t, flag.IsBoolFlag())

	require.NoError(t, flag.Set("anything"))
	assert.True(t, flag.IsSet())
	assert.Equal(t, "true", flag.String())
}

func TestPrintMessage_Plain(t *testing.T) {
	plainColors(t)

	assert.Equal(t, "hello world\n", PrintMessage(Plain, "hello %s", "world"))
	assert.Equal(t, "failed: 3\n", PrintMessage(Error, "failed: %d", 3))
}

func TestFprint_UsesCommandStreams(t *testing.T) {
	plainColors(t)
	cmd := &cobra.Command{}
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)

	require.NoError(t, FprintSuccess(cmd, "done"))
	require.NoError(t, FprintError(cmd, "broken"))
	require.NoError(t, FprintWarning(cmd, "careful"))

	assert.Equal(t, "done\n", stdout.String())
	assert.Equal(t, "broken\ncareful\n", stderr.String())
}

func TestPrintProjectList(t *testing.T) {
	plainColors(t)

	out, err := PrintProjectList(nil)
	require.NoError(t, err)
	assert.Equal(t, "No projects found.\n", out)

	project := domain.NewProject("user-1", "bakery-1a2b3c")
	project.Status = domain.ProjectStatusDeployed
	project.DeploymentURL = "https://bakery.example.com"
	project.CreatedAt = time.Now()

	out, err = PrintProjectList([]*domain.Project{&project})
	require.NoError(t, err)
	assert.Contains(t, out, "bakery-1a2b3c")
	assert.Contains(t, out, "deployed")
	assert.Contains(t, out, "https://bakery.example.com")
}

func TestPrintProjectDetails_WithBuilds(t *testing.T) {
	plainColors(t)
	project := domain.NewProject("user-1", "bakery-1a2b3c")
	project.Metadata["frontend_url"] = "https://bakery.example.com"
	build := domain.NewBuild(project.ID, "0123456789abcdef")

	out, err := PrintProjectDetails(&project, []*domain.Build{&build})
	require.NoError(t, err)
	assert.Contains(t, out, "Frontend URL")
	assert.Contains(t, out, "Builds:")
	assert.Contains(t, out, "01234567")
	assert.NotContains(t, out, "0123456789abcdef")
}

func TestPrintJobDetails_IncludesLogs(t *testing.T) {
	plainColors(t)
	job := domain.NewJob(domain.JobTypeSetup)
	job.Status = domain.JobStatusFailed
	job.Data.Error = "deployment provider unavailable"
	logs := []*domain.LogEntry{
		{ID: uuid.New(), SubjectID: job.ID, Source: domain.LogSourceLock, Text: "lock acquired", CreatedAt: time.Now()},
	}

	out, err := PrintJobDetails(&job, logs)
	require.NoError(t, err)
	assert.Contains(t, out, "deployment provider unavailable")
	assert.Contains(t, out, "[lock] lock acquired")
}

func TestPrintJobList_Empty(t *testing.T) {
	plainColors(t)

	out, err := PrintJobList(nil)
	require.NoError(t, err)
	assert.Equal(t, "No jobs found.\n", out)
}
