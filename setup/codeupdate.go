package setup

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/framer-cd/framer/domain"
)

const maxCommitSubject = 60

// runCodeUpdate regenerates the project tree for prompt and pushes the result.
// The caller holds the tree lock. A build that still fails after one
// corrective generation fails the update.
func (s *Service) runCodeUpdate(ctx context.Context, jobID uuid.UUID, project *domain.Project, prompt string) (*domain.Build, error) {
	tree, err := s.workspace.EnsureReady(ctx, project.WorkingDir, project.Remote())
	if err != nil {
		return nil, fmt.Errorf("failed to prepare working tree: %w", err)
	}
	s.appendLog(ctx, jobID, domain.LogSourceWorktree, fmt.Sprintf("working tree ready at %s", shortHash(tree.Head)))

	// Every build check of this update runs in one sandbox on the shared tree
	session, err := s.checker.Open(ctx, tree.Path)
	if err != nil {
		s.appendLog(ctx, jobID, domain.LogSourceSandbox, fmt.Sprintf("sandbox failed to start: %v", err))
		return nil, domain.Transient("start_sandbox", err)
	}
	defer session.Close(ctx)

	req := GenerationRequest{Dir: tree.Path, ProjectName: project.Name, Prompt: prompt}

	// An empty repository has nothing to build yet
	if tree.Head != "" {
		if before := session.Check(ctx); before.HasErrors {
			s.appendLog(ctx, jobID, domain.LogSourceBuild, "existing code does not build, passing errors to the generator")
			req.BuildLogs = before.Logs
		}
	}

	if err := s.generate(ctx, jobID, req); err != nil {
		return nil, err
	}

	after := session.Check(ctx)
	if after.HasErrors {
		s.appendLog(ctx, jobID, domain.LogSourceBuild, "generated code does not build, running one corrective generation")
		corrective := req
		corrective.BuildLogs = after.Logs
		corrective.Corrective = true
		if err := s.generate(ctx, jobID, corrective); err != nil {
			return nil, err
		}

		if after = session.Check(ctx); after.HasErrors {
			s.appendLog(ctx, jobID, domain.LogSourceBuild, tail(after.Logs, 4000))
			return nil, domain.NewError(domain.KindBuild, "check_build", fmt.Errorf("build still fails after corrective generation"))
		}
	}
	s.appendLog(ctx, jobID, domain.LogSourceBuild, "build check passed")

	if !s.workspace.SafePush(ctx, tree.Path, tree.Remote, commitMessage(prompt)) {
		return nil, domain.Transient("push_code", fmt.Errorf("failed to push generated code"))
	}

	head, err := s.workspace.Head(tree.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pushed head: %w", err)
	}
	if head == "" {
		return nil, domain.NewError(domain.KindBuild, "push_code", fmt.Errorf("generator produced no files"))
	}
	s.appendLog(ctx, jobID, domain.LogSourceWorktree, fmt.Sprintf("pushed %s", shortHash(head)))

	build := domain.NewBuild(project.ID, head)
	if err := s.repos.Builds.Create(ctx, &build); err != nil {
		return nil, fmt.Errorf("failed to create build: %w", err)
	}
	if s.scheduler != nil {
		s.scheduler.Schedule(build.ID)
	}

	slog.Info("Code update pushed",
		"layer", "setup",
		"project_id", project.ID,
		"commit", head,
		"build_id", build.ID)
	return &build, nil
}

func (s *Service) generate(ctx context.Context, jobID uuid.UUID, req GenerationRequest) error {
	if err := s.generator.Generate(ctx, req); err != nil {
		s.appendLog(ctx, jobID, domain.LogSourceSandbox, fmt.Sprintf("generation failed: %v", err))
		return fmt.Errorf("failed to generate code: %w", err)
	}
	if req.Corrective {
		s.appendLog(ctx, jobID, domain.LogSourceSandbox, "corrective generation finished")
	} else {
		s.appendLog(ctx, jobID, domain.LogSourceSandbox, "generation finished")
	}
	return nil
}

// syncTree brings the project tree up to date, cloning it when missing
func (s *Service) syncTree(ctx context.Context, project *domain.Project) error {
	if !s.workspace.IsReady(project.WorkingDir) {
		if _, err := s.workspace.EnsureReady(ctx, project.WorkingDir, project.Remote()); err != nil {
			return fmt.Errorf("failed to prepare working tree: %w", err)
		}
		return nil
	}
	if !s.workspace.SafePull(ctx, project.WorkingDir, project.Remote()) {
		return domain.Transient("pull", fmt.Errorf("failed to pull %s", project.Name))
	}
	return nil
}

// commitMessage cuts the prompt to maxCommitSubject characters, never inside a rune
func commitMessage(prompt string) string {
	subject := strings.Join(strings.Fields(prompt), " ")
	if runes := []rune(subject); len(runes) > maxCommitSubject {
		subject = strings.TrimSpace(string(runes[:maxCommitSubject])) + "..."
	}
	return "Generate: " + subject
}

func shortHash(hash string) string {
	if hash == "" {
		return "(empty)"
	}
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
