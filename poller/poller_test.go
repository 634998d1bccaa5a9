package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/framer-cd/framer/db"
	"github.com/framer-cd/framer/domain"
	"github.com/framer-cd/framer/repository"
)

type response struct {
	state domain.DeploymentState
	err   error
}

// scriptedSource replays responses in order and repeats the last one
type scriptedSource struct {
	mu        sync.Mutex
	responses []response
	byID      int
	byCommit  int
}

func (s *scriptedSource) next() (domain.DeploymentState, error) {
	idx := s.byID + s.byCommit - 1
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	r := s.responses[idx]
	return r.state, r.err
}

func (s *scriptedSource) GetDeployment(ctx context.Context, deploymentID string) (domain.DeploymentState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID++
	return s.next()
}

func (s *scriptedSource) FindDeploymentByCommit(ctx context.Context, projectID, commitHash string) (domain.DeploymentState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byCommit++
	return s.next()
}

func (s *scriptedSource) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byID + s.byCommit
}

func setup(t *testing.T) (*repository.Repositories, *domain.Build) {
	t.Helper()
	database, err := db.InitDatabase(db.DBConfig{Path: db.MemoryPath, LogLevel: logger.Silent})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrateAll(database))
	repos := repository.New(database, nil)

	ctx := context.Background()
	project := domain.NewProject("user-1", "bakery-1a2b3c")
	project.DeploymentProjectID = "prj_1"
	project.Status = domain.ProjectStatusDeploying
	require.NoError(t, repos.Projects.Create(ctx, &project))

	build := domain.NewBuild(project.ID, "abc123")
	require.NoError(t, repos.Builds.Create(ctx, &build))
	return repos, &build
}

func state(id, s string) response {
	return response{state: domain.DeploymentState{ID: id, State: s}}
}

func fast(maxAttempts int) Options {
	return Options{Interval: time.Millisecond, MaxAttempts: maxAttempts}
}

func TestPollBuild_TerminalOnFirstCheck(t *testing.T) {
	repos, build := setup(t)
	source := &scriptedSource{responses: []response{state("dpl_1", "READY")}}
	p := NewPoller(source, repos, fast(30))

	outcome, err := p.PollBuild(context.Background(), build.ID)

	require.NoError(t, err)
	assert.Equal(t, domain.BuildStatusSuccess, outcome.Status)
	assert.Equal(t, 1, outcome.Attempts)
	assert.Equal(t, 1, source.byCommit)

	stored, err := repos.Builds.FindByID(context.Background(), build.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BuildStatusSuccess, stored.Status)
	assert.Equal(t, "dpl_1", stored.DeploymentID)

	project, err := repos.Projects.FindByID(context.Background(), build.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectStatusDeployed, project.Status)
}

func TestPollBuild_PollsByDeploymentIDOnceKnown(t *testing.T) {
	repos, build := setup(t)
	source := &scriptedSource{responses: []response{
		state("dpl_1", "QUEUED"),
		state("dpl_1", "BUILDING"),
		{state: domain.DeploymentState{ID: "dpl_1", State: "ERROR", Error: "missing module"}},
	}}
	p := NewPoller(source, repos, fast(30))

	outcome, err := p.PollBuild(context.Background(), build.ID)

	require.NoError(t, err)
	assert.Equal(t, domain.BuildStatusFailed, outcome.Status)
	assert.Equal(t, 3, outcome.Attempts)
	assert.Equal(t, 1, source.byCommit)
	assert.Equal(t, 2, source.byID)

	stored, err := repos.Builds.FindByID(context.Background(), build.ID)
	require.NoError(t, err)
	assert.Equal(t, "missing module", stored.Error())

	project, err := repos.Projects.FindByID(context.Background(), build.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectStatusDeployFailed, project.Status)
}

func TestPollBuild_BudgetExhausted(t *testing.T) {
	repos, build := setup(t)
	source := &scriptedSource{responses: []response{state("dpl_1", "BUILDING")}}
	p := NewPoller(source, repos, fast(5))

	outcome, err := p.PollBuild(context.Background(), build.ID)

	require.NoError(t, err)
	assert.Equal(t, domain.BuildStatusFailed, outcome.Status)
	assert.Equal(t, "polling timed out after 6 attempts", outcome.Reason)
	assert.Equal(t, 6, outcome.Attempts)
	assert.Equal(t, 6, source.calls())

	stored, err := repos.Builds.FindByID(context.Background(), build.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BuildStatusFailed, stored.Status)
	assert.Equal(t, "polling timed out after 6 attempts", stored.Data["reason"])
}

func TestPollBuild_NoExtraAttemptsAllowed(t *testing.T) {
	repos, build := setup(t)
	source := &scriptedSource{responses: []response{state("dpl_1", "BUILDING")}}
	p := NewPoller(source, repos, fast(0))

	outcome, err := p.PollBuild(context.Background(), build.ID)

	require.NoError(t, err)
	assert.Equal(t, domain.BuildStatusFailed, outcome.Status)
	assert.Equal(t, 1, outcome.Attempts)
	assert.Equal(t, "polling timed out after 1 attempts", outcome.Reason)
	assert.Equal(t, 1, source.calls())
}

func TestPollBuild_ErrorsCountAsMisses(t *testing.T) {
	repos, build := setup(t)
	source := &scriptedSource{responses: []response{
		{err: errors.New("502 bad gateway")},
		{err: errors.New("502 bad gateway")},
		state("dpl_1", "READY"),
	}}
	p := NewPoller(source, repos, fast(30))

	outcome, err := p.PollBuild(context.Background(), build.ID)

	require.NoError(t, err)
	assert.Equal(t, domain.BuildStatusSuccess, outcome.Status)
	assert.Equal(t, 3, outcome.Attempts)

	entries, err := repos.Logs.ListBySubjectID(context.Background(), build.ID)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, domain.LogSourcePoller, entries[0].Source)
	assert.Contains(t, entries[0].Text, "502 bad gateway")
}

func TestPollBuild_TerminalBuildCheckedOnce(t *testing.T) {
	ctx := context.Background()
	repos, build := setup(t)
	build.Status = domain.BuildStatusSuccess
	build.DeploymentID = "dpl_1"
	build.Data = map[string]string{"state": "READY"}
	require.NoError(t, repos.Builds.Update(ctx, build))
	before, err := repos.Builds.FindByID(ctx, build.ID)
	require.NoError(t, err)

	source := &scriptedSource{responses: []response{
		state("dpl_1", "BUILDING"),
		state("dpl_1", "ERROR"),
	}}
	p := NewPoller(source, repos, fast(30))

	for range 2 {
		outcome, err := p.PollBuild(ctx, build.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.BuildStatusSuccess, outcome.Status)
		assert.Equal(t, 1, outcome.Attempts)
	}
	assert.Equal(t, 2, source.calls())

	stored, err := repos.Builds.FindByID(ctx, build.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BuildStatusSuccess, stored.Status)
	assert.Equal(t, before.Data, stored.Data)
	assert.True(t, before.UpdatedAt.Equal(stored.UpdatedAt))

	project, err := repos.Projects.FindByID(ctx, build.ProjectID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProjectStatusDeploying, project.Status)

	entries, err := repos.Logs.ListBySubjectID(ctx, build.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPollBuild_Cancelled(t *testing.T) {
	repos, build := setup(t)
	source := &scriptedSource{responses: []response{state("dpl_1", "BUILDING")}}
	p := NewPoller(source, repos, Options{Interval: time.Hour, MaxAttempts: 30})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := p.PollBuild(ctx, build.ID)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	stored, err := repos.Builds.FindByID(context.Background(), build.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BuildStatusBuilding, stored.Status)
}

func TestSchedule_Wait(t *testing.T) {
	repos, build := setup(t)
	source := &scriptedSource{responses: []response{state("dpl_1", "QUEUED"), state("dpl_1", "READY")}}
	p := NewPoller(source, repos, fast(30))

	p.Schedule(build.ID)
	p.Wait()

	stored, err := repos.Builds.FindByID(context.Background(), build.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BuildStatusSuccess, stored.Status)
}

func TestMapDeploymentState(t *testing.T) {
	tests := []struct {
		in    string
		want  domain.BuildStatus
		known bool
	}{
		{"QUEUED", domain.BuildStatusQueued, true},
		{"building", domain.BuildStatusBuilding, true},
		{"READY", domain.BuildStatusSuccess, true},
		{"CANCELED", domain.BuildStatusFailed, true},
		{"", domain.BuildStatusUnknown, false},
		{"weird", domain.BuildStatusUnknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, known := MapDeploymentState(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.known, known)
		})
	}
}
