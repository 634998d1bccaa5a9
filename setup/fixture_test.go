package setup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/framer-cd/framer/db"
	"github.com/framer-cd/framer/domain"
	"github.com/framer-cd/framer/git"
	"github.com/framer-cd/framer/provider/localgit"
	"github.com/framer-cd/framer/repository"
	"github.com/framer-cd/framer/retry"
	"github.com/framer-cd/framer/sandbox"
	"github.com/framer-cd/framer/workspace"
)

type fakeDeployments struct {
	mu          sync.Mutex
	projects    []string
	domains     []string
	triggers    []string
	createErr   []error
	assignErr   error
	createCalls int
}

func (f *fakeDeployments) CreateProject(ctx context.Context, name string, repo domain.RepositoryHandle) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if len(f.createErr) > 0 {
		err := f.createErr[0]
		f.createErr = f.createErr[1:]
		if err != nil {
			return "", err
		}
	}
	f.projects = append(f.projects, name)
	return "prj_" + name, nil
}

func (f *fakeDeployments) GetDeployment(ctx context.Context, id string) (domain.DeploymentState, error) {
	return domain.DeploymentState{ID: id, State: "READY"}, nil
}

func (f *fakeDeployments) FindDeploymentByCommit(ctx context.Context, projectID, sha string) (domain.DeploymentState, error) {
	return domain.DeploymentState{ID: "dpl_" + sha[:7], State: "READY"}, nil
}

func (f *fakeDeployments) TriggerDeployment(ctx context.Context, projectID, ref string) (domain.DeploymentState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers = append(f.triggers, projectID+"@"+ref)
	return domain.DeploymentState{ID: fmt.Sprintf("dpl_%d", len(f.triggers)), State: "QUEUED"}, nil
}

func (f *fakeDeployments) AssignDomain(ctx context.Context, projectID, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.assignErr != nil {
		return "", f.assignErr
	}
	f.domains = append(f.domains, name)
	return "https://" + name + ".example.app", nil
}

type call struct {
	req     GenerationRequest
	started time.Time
}

// fakeGenerator writes an index page for the prompt into the tree
type fakeGenerator struct {
	mu    sync.Mutex
	calls []call
	delay time.Duration
	err   error
}

func (g *fakeGenerator) Generate(ctx context.Context, req GenerationRequest) error {
	g.mu.Lock()
	g.calls = append(g.calls, call{req: req, started: time.Now()})
	n := len(g.calls)
	g.mu.Unlock()

	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if g.err != nil {
		return g.err
	}
	content := fmt.Sprintf("<h1>%s</h1>\n<!-- generation %d -->\n", req.Prompt, n)
	return os.WriteFile(filepath.Join(req.Dir, "index.html"), []byte(content), 0o644)
}

func (g *fakeGenerator) correctiveCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if c.req.Corrective {
			n++
		}
	}
	return n
}

// fakeChecker replays results across sessions and repeats the last one
type fakeChecker struct {
	mu      sync.Mutex
	results []sandbox.BuildCheck
	checks  []sandbox.BuildCheck
	openErr error
	opens   int
	closes  int
}

func (c *fakeChecker) Open(ctx context.Context, dir string) (BuildSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opens++
	if c.openErr != nil {
		return nil, c.openErr
	}
	return &fakeSession{checker: c}, nil
}

type fakeSession struct {
	checker *fakeChecker
}

func (s *fakeSession) Check(ctx context.Context) sandbox.BuildCheck {
	c := s.checker
	c.mu.Lock()
	defer c.mu.Unlock()
	result := sandbox.BuildCheck{Logs: "ok"}
	if len(c.results) > 0 {
		idx := min(len(c.checks), len(c.results)-1)
		result = c.results[idx]
	}
	c.checks = append(c.checks, result)
	return result
}

func (s *fakeSession) Close(ctx context.Context) {
	s.checker.mu.Lock()
	defer s.checker.mu.Unlock()
	s.checker.closes++
}

type recordingNotifier struct {
	mu     sync.Mutex
	titles []string
	err    error
}

func (n *recordingNotifier) Notify(ctx context.Context, recipient, title, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, recipient+": "+title)
	return n.err
}

type recordingScheduler struct {
	mu     sync.Mutex
	builds []uuid.UUID
}

func (s *recordingScheduler) Schedule(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.builds = append(s.builds, id)
}

type fixture struct {
	svc         *Service
	repos       *repository.Repositories
	git         *git.GitService
	remotes     *localgit.Provider
	deployments *fakeDeployments
	generator   *fakeGenerator
	checker     *fakeChecker
	notifier    *recordingNotifier
	scheduler   *recordingScheduler
	workDir     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	database, err := db.InitDatabase(db.DBConfig{Path: db.MemoryPath, LogLevel: logger.Silent})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrateAll(database))

	root := t.TempDir()
	g := git.NewGitService(git.Options{Timeout: time.Minute, CloneDepth: 1, AuthorName: "framer", AuthorEmail: "framer@test"})
	locker := workspace.NewLocker(workspace.LockOptions{
		StaleAfter:   30 * time.Minute,
		WaitTimeout:  30 * time.Second,
		PollInterval: 20 * time.Millisecond,
		Holder:       "test",
	})

	f := &fixture{
		repos:       repository.New(database, nil),
		git:         g,
		remotes:     localgit.New(g, filepath.Join(root, "remotes"), "main"),
		deployments: &fakeDeployments{},
		generator:   &fakeGenerator{},
		checker:     &fakeChecker{},
		notifier:    &recordingNotifier{},
		scheduler:   &recordingScheduler{},
		workDir:     filepath.Join(root, "trees"),
	}
	f.svc = NewService(Deps{
		Repos:        f.repos,
		Workspace:    workspace.NewManager(g, locker),
		Repositories: f.remotes,
		Deployments:  f.deployments,
		Notifier:     f.notifier,
		Generator:    f.generator,
		Checker:      f.checker,
		Scheduler:    f.scheduler,
	}, Options{
		WorkspaceDir: f.workDir,
		Retry:        retry.Policy{MaxAttempts: 3, Delay: time.Millisecond},
	})
	return f
}

func validInput() domain.SetupInput {
	return domain.SetupInput{Prompt: "  a landing page for a bakery  ", UserID: "user-1", ProjectName: "Bakery"}
}

func (f *fixture) logs(t *testing.T, subject uuid.UUID) []*domain.LogEntry {
	t.Helper()
	entries, err := f.repos.Logs.ListBySubjectID(context.Background(), subject)
	require.NoError(t, err)
	return entries
}

func findLog(entries []*domain.LogEntry, text string) *domain.LogEntry {
	for _, e := range entries {
		if e.Text == text {
			return e
		}
	}
	return nil
}

var errBoom = errors.New("boom")
