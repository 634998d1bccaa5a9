package setup

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framer-cd/framer/domain"
	"github.com/framer-cd/framer/sandbox"
)

var pipeline = []domain.SetupState{
	domain.StateInit,
	domain.StateValidating,
	domain.StateRepoSetup,
	domain.StateDeployTargetSetup,
	domain.StateCodeUpdate,
	domain.StateMetadataUpdate,
	domain.StateDomainSetup,
	domain.StateNotification,
	domain.StateComplete,
}

func TestCanTransition(t *testing.T) {
	for i, from := range pipeline[:len(pipeline)-1] {
		assert.True(t, CanTransition(from, pipeline[i+1]), "%s -> %s", from, pipeline[i+1])
		assert.True(t, CanTransition(from, domain.StateFailed), "%s -> FAILED", from)
		assert.False(t, CanTransition(from, from), "%s -> itself", from)
		if i+2 < len(pipeline) {
			assert.False(t, CanTransition(from, pipeline[i+2]), "%s skipping ahead", from)
		}
		if i > 0 {
			assert.False(t, CanTransition(from, pipeline[i-1]), "%s moving back", from)
		}
	}
	for _, terminal := range []domain.SetupState{domain.StateComplete, domain.StateFailed} {
		for _, to := range append(pipeline, domain.StateFailed) {
			assert.False(t, CanTransition(terminal, to), "%s -> %s", terminal, to)
		}
	}
}

func assertNoLockMarkers(t *testing.T, dir string) {
	t.Helper()
	markers, err := filepath.Glob(filepath.Join(dir, "*.lock"))
	require.NoError(t, err)
	assert.Empty(t, markers)
}

func TestAdvanceSetup_ReachesCompleteInEightTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	machine, err := f.svc.NewSetup(ctx, validInput())
	require.NoError(t, err)

	transitions := 0
	var visited []domain.SetupState
	for !machine.State().IsTerminal() {
		state, err := AdvanceSetup(ctx, machine)
		require.NoError(t, err)
		visited = append(visited, state)
		transitions++
		require.LessOrEqual(t, transitions, 8)
	}

	assert.Equal(t, 8, transitions)
	assert.Equal(t, pipeline[1:], visited)

	job, err := f.repos.Jobs.FindByID(ctx, machine.Job().ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, domain.StateComplete, job.State)
	require.NotNil(t, job.ProjectID)

	assertNoLockMarkers(t, f.workDir)

	sctx, err := domain.UnmarshalSetupContext(job.Data.Context)
	require.NoError(t, err)
	assert.Equal(t, "a landing page for a bakery", sctx.Input.Prompt)
	assert.True(t, strings.HasPrefix(sctx.ProjectName, "bakery-"))
	assert.NotEmpty(t, sctx.CommitHash)
	assert.Equal(t, "https://"+sctx.ProjectName+".example.app", sctx.FrontendURL)
	assert.Len(t, sctx.CompletedSteps, 8)

	project, err := f.repos.Projects.FindByID(ctx, *job.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectStatusDeploying, project.Status)
	assert.Equal(t, sctx.FrontendURL, project.DeploymentURL)
	assert.Equal(t, "prj_"+sctx.ProjectName, project.DeploymentProjectID)

	// The remote carries the generated page and the metadata file with the domain
	head, err := f.git.BranchHead(project.RepoURL, "main")
	require.NoError(t, err)
	page, exists, err := f.git.ReadFileAt(project.RepoURL, head, "index.html")
	require.NoError(t, err)
	require.True(t, exists)
	assert.Contains(t, page, "a landing page for a bakery")

	raw, exists, err := f.git.ReadFileAt(project.RepoURL, head, MetadataFileName)
	require.NoError(t, err)
	require.True(t, exists)
	var meta projectMetadata
	require.NoError(t, json.Unmarshal([]byte(raw), &meta))
	assert.Equal(t, project.Name, meta.Name)
	assert.Equal(t, sctx.FrontendURL, meta.FrontendURL)

	builds, err := f.repos.Builds.ListByProjectID(ctx, project.ID)
	require.NoError(t, err)
	require.Len(t, builds, 1)
	assert.Equal(t, sctx.CommitHash, builds[0].CommitHash)
	assert.Equal(t, []string{builds[0].ID.String()}, []string{f.scheduler.builds[0].String()})
	assert.Len(t, f.notifier.titles, 1)

	// Advancing a terminal machine is a no-op
	state, err := AdvanceSetup(ctx, machine)
	require.NoError(t, err)
	assert.Equal(t, domain.StateComplete, state)
}

func TestAdvance_StageErrorRecordsStateInProgress(t *testing.T) {
	f := newFixture(t)
	f.deployments.createErr = []error{errBoom}
	ctx := context.Background()

	job, err := f.svc.Start(ctx, validInput())

	require.ErrorIs(t, err, errBoom)
	stored, err := f.repos.Jobs.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
	assert.Equal(t, domain.StateFailed, stored.State)
	assert.NotEmpty(t, stored.Data.Error)
	assert.Equal(t, "DEPLOY_TARGET_SETUP", stored.Data.Detail["state"])

	sctx, err := domain.UnmarshalSetupContext(stored.Data.Context)
	require.NoError(t, err)
	assert.Equal(t, domain.StateDeployTargetSetup, sctx.FailedState)
	assert.Contains(t, sctx.LastError, "boom")
	assert.True(t, sctx.IsCompleted(domain.StateRepoSetup))
	assert.False(t, sctx.IsCompleted(domain.StateDeployTargetSetup))

	project, err := f.repos.Projects.FindByID(ctx, sctx.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectStatusFailed, project.Status)

	// Errors of an unclassified kind are not retried
	assert.Equal(t, 1, f.deployments.createCalls)
}

func TestAdvance_ValidationFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.svc.Start(ctx, domain.SetupInput{Prompt: "   ", UserID: "user-1"})

	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	assert.Equal(t, "prompt is required", FormatErrorForUser(err))

	stored, findErr := f.repos.Jobs.FindByID(ctx, job.ID)
	require.NoError(t, findErr)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
	assert.Nil(t, stored.ProjectID)
	assert.Equal(t, "validation", stored.Data.Detail["kind"])
	assert.Contains(t, stored.Data.Error, "prompt is required")

	projects, err := f.repos.Projects.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, projects)
}

func TestAdvance_TransientProviderErrorIsRetried(t *testing.T) {
	f := newFixture(t)
	f.deployments.createErr = []error{domain.Transient("create_project", errBoom)}

	job, err := f.svc.Start(context.Background(), validInput())

	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, 2, f.deployments.createCalls)
}

func TestAdvance_NotificationFailureDoesNotFailJob(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errBoom

	job, err := f.svc.Start(context.Background(), validInput())

	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.NotNil(t, findLog(f.logs(t, job.ID), "notification to user-1 failed: boom"))
}

func TestResume_SkipsCompletedStates(t *testing.T) {
	f := newFixture(t)
	f.deployments.assignErr = errBoom
	ctx := context.Background()

	failed, err := f.svc.Start(ctx, validInput())
	require.Error(t, err)
	assert.Equal(t, domain.JobStatusFailed, failed.Status)
	assertNoLockMarkers(t, f.workDir)

	f.deployments.assignErr = nil
	resumed, err := f.svc.Resume(ctx, failed.ID)

	require.NoError(t, err)
	assert.Equal(t, domain.JobTypeRetry, resumed.Type)
	assert.Equal(t, domain.JobStatusCompleted, resumed.Status)
	assert.Equal(t, domain.StateComplete, resumed.State)
	assert.Len(t, f.deployments.projects, 1)
	assert.Len(t, f.generator.calls, 1)
	assert.Len(t, f.scheduler.builds, 1)

	entries := f.logs(t, resumed.ID)
	assert.NotNil(t, findLog(entries, "REPO_SETUP skipped (completed in an earlier run)"))
	assert.NotNil(t, findLog(entries, "CODE_UPDATE skipped (completed in an earlier run)"))
	assert.NotNil(t, findLog(entries, "DOMAIN_SETUP completed"))

	project, err := f.repos.Projects.FindByID(ctx, *resumed.ProjectID)
	require.NoError(t, err)
	assert.NotEmpty(t, project.DeploymentURL)
}

func TestResume_RejectsJobsThatDidNotFail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job, err := f.svc.Start(ctx, validInput())
	require.NoError(t, err)

	_, err = f.svc.Resume(ctx, job.ID)

	require.Error(t, err)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestRestore_ReattachesRepository(t *testing.T) {
	f := newFixture(t)
	handle, err := f.remotes.CreateRepository(context.Background(), "bakery-1a2b3c", "")
	require.NoError(t, err)

	sctx := domain.NewSetupContext(validInput())
	sctx.Repository = domain.RepositoryHandle{Name: "bakery-1a2b3c"}
	data, err := sctx.Marshal()
	require.NoError(t, err)

	restored, err := f.svc.Restore(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, handle, restored.Repository)

	sctx.Repository = domain.RepositoryHandle{Name: "missing-repo"}
	data, err = sctx.Marshal()
	require.NoError(t, err)
	_, err = f.svc.Restore(context.Background(), data)
	assert.Error(t, err)
}

func TestRun_InterruptReleasesLockAndPersistsReason(t *testing.T) {
	f := newFixture(t)
	f.generator.delay = 10 * time.Second
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(300 * time.Millisecond)
		cancel()
	}()
	job, err := f.svc.Start(ctx, validInput())

	require.Error(t, err)
	stored, err := f.repos.Jobs.FindByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
	assert.True(t, strings.HasPrefix(stored.Data.Error, "interrupted:"), stored.Data.Error)
	assertNoLockMarkers(t, f.workDir)
}

func TestCodeUpdate_CorrectiveGenerationRunsOnce(t *testing.T) {
	f := newFixture(t)
	f.checker.results = []sandbox.BuildCheck{
		{HasErrors: true, Logs: "Failed to compile: index.html"},
		{HasErrors: false, Logs: "compiled"},
	}

	job, err := f.svc.Start(context.Background(), validInput())

	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, job.Status)
	assert.Equal(t, 1, f.generator.correctiveCalls())
	require.Len(t, f.checker.checks, 2)
	assert.True(t, f.checker.checks[0].HasErrors)
	assert.False(t, f.checker.checks[1].HasErrors)
	require.Len(t, f.generator.calls, 2)
	assert.Equal(t, "Failed to compile: index.html", f.generator.calls[1].req.BuildLogs)

	// Both checks ran in the same sandbox
	assert.Equal(t, 1, f.checker.opens)
	assert.Equal(t, 1, f.checker.closes)
}

func TestCodeUpdate_SandboxStartFailureIsTransient(t *testing.T) {
	f := newFixture(t)
	f.checker.openErr = errors.New("failed to start sandbox: docker daemon not running")

	job, err := f.svc.Start(context.Background(), validInput())

	require.Error(t, err)
	assert.Equal(t, domain.KindTransient, domain.KindOf(err))
	assert.Empty(t, f.generator.calls)
	assert.Empty(t, f.checker.checks)
	assert.Equal(t, 0, f.checker.closes)

	stored, findErr := f.repos.Jobs.FindByID(context.Background(), job.ID)
	require.NoError(t, findErr)
	assert.Equal(t, "CODE_UPDATE", stored.Data.Detail["state"])
	assert.Equal(t, "transient", stored.Data.Detail["kind"])
	assertNoLockMarkers(t, f.workDir)
}

func TestCodeUpdate_BuildStillFailingFailsStage(t *testing.T) {
	f := newFixture(t)
	f.checker.results = []sandbox.BuildCheck{{HasErrors: true, Logs: "Failed to compile"}}

	job, err := f.svc.Start(context.Background(), validInput())

	require.Error(t, err)
	assert.Equal(t, domain.KindBuild, domain.KindOf(err))
	assert.Equal(t, 1, f.generator.correctiveCalls())
	assert.Empty(t, f.scheduler.builds)

	stored, err := f.repos.Jobs.FindByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "CODE_UPDATE", stored.Data.Detail["state"])
	assertNoLockMarkers(t, f.workDir)
}

func TestCommitMessage(t *testing.T) {
	assert.Equal(t, "Generate: a bakery site", commitMessage("  a bakery\n site "))

	long := strings.Repeat("a", 59) + "é and more words"
	msg := commitMessage(long)
	assert.True(t, utf8.ValidString(msg))
	assert.Equal(t, "Generate: "+strings.Repeat("a", 59)+"é...", msg)

	cjk := commitMessage(strings.Repeat("店", 80))
	assert.True(t, utf8.ValidString(cjk))
	assert.Equal(t, "Generate: "+strings.Repeat("店", 60)+"...", cjk)
}

func TestDeriveProjectName(t *testing.T) {
	name := DeriveProjectName("My Bakery!", "ignored")
	assert.Regexp(t, `^my-bakery-[0-9a-f]{6}$`, name)

	name = DeriveProjectName("", "A landing page for a neighbourhood coffee shop")
	assert.Regexp(t, `^a-landing-page-for-a-[0-9a-f]{6}$`, name)

	name = DeriveProjectName("", "!!!")
	assert.Regexp(t, `^frame-[0-9a-f]{6}$`, name)

	assert.NotEqual(t, DeriveProjectName("x", ""), DeriveProjectName("x", ""))
}

func TestResume_ResetsProjectStatus(t *testing.T) {
	f := newFixture(t)
	f.deployments.assignErr = errBoom
	ctx := context.Background()
	failed, err := f.svc.Start(ctx, validInput())
	require.Error(t, err)

	project, err := f.repos.Projects.FindByID(ctx, *failed.ProjectID)
	require.NoError(t, err)
	require.Equal(t, domain.ProjectStatusFailed, project.Status)

	f.deployments.assignErr = nil
	_, err = f.svc.Resume(ctx, failed.ID)
	require.NoError(t, err)

	project, err = f.repos.Projects.FindByID(ctx, *failed.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectStatusDeploying, project.Status)
}
