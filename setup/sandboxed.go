package setup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/framer-cd/framer/domain"
	"github.com/framer-cd/framer/sandbox"
)

// SupervisedGenerator runs the code generation tool as a supervised child process
type SupervisedGenerator struct {
	supervisor *sandbox.Supervisor
	policy     sandbox.Policy
	command    string
	args       []string
}

// NewSupervisedGenerator runs command with args followed by "--dir <tree>" for every request
func NewSupervisedGenerator(supervisor *sandbox.Supervisor, policy sandbox.Policy, command string, args ...string) *SupervisedGenerator {
	return &SupervisedGenerator{supervisor: supervisor, policy: policy, command: command, args: args}
}

func (g *SupervisedGenerator) Generate(ctx context.Context, req GenerationRequest) error {
	stdin, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode generation request: %w", err)
	}

	args := append(append([]string{}, g.args...), "--dir", req.Dir)
	_, err = g.supervisor.Run(ctx, sandbox.Target{
		Name:    "generator",
		Command: g.command,
		Args:    args,
		Dir:     req.Dir,
		Stdin:   stdin,
	}, g.policy)
	var execErr *sandbox.ExecError
	if errors.As(err, &execErr) {
		return domain.NewError(execErr.ErrorKind(), "generate", err)
	}
	return err
}

// SandboxChecker checks builds inside sandboxes started by a provider
type SandboxChecker struct {
	supervisor *sandbox.Supervisor
	provider   sandbox.Provider
}

func NewSandboxChecker(supervisor *sandbox.Supervisor, provider sandbox.Provider) *SandboxChecker {
	return &SandboxChecker{supervisor: supervisor, provider: provider}
}

func (c *SandboxChecker) Open(ctx context.Context, dir string) (BuildSession, error) {
	session, err := c.supervisor.OpenSession(ctx, c.provider, dir)
	if err != nil {
		return nil, err
	}
	return session, nil
}
