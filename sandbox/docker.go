package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/framer-cd/framer/config"
)

// ContainerWorkdir is where the working tree is mounted inside a docker sandbox
const ContainerWorkdir = "/workspace"

// dockerAPI is the subset of the Docker SDK client used by the docker provider
type dockerAPI interface {
	ImageInspect(ctx context.Context, imageID string, opts ...client.ImageInspectOption) (image.InspectResponse, error)
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, options container.ExecAttachOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// DockerProvider runs each sandbox as a long-lived container with the tree bind-mounted
type DockerProvider struct {
	cli   dockerAPI
	image string
}

// NewDockerProvider creates a provider talking to the configured Docker daemon
func NewDockerProvider(cfg config.SandboxConfig) (*DockerProvider, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.DockerHost != "" {
		opts = append(opts, client.WithHost(cfg.DockerHost))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return &DockerProvider{cli: cli, image: cfg.DockerImage}, nil
}

func (p *DockerProvider) ensureImage(ctx context.Context) error {
	if _, err := p.cli.ImageInspect(ctx, p.image); err == nil {
		return nil
	}

	slog.Info("Pulling sandbox image", "layer", "sandbox", "image", p.image)
	reader, err := p.cli.ImagePull(ctx, p.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", p.image, err)
	}
	defer func() {
		if closeErr := reader.Close(); closeErr != nil {
			slog.Debug("Failed to close image pull reader", "error", closeErr)
		}
	}()

	// Must consume the reader completely for the pull operation to finish
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to complete image pull for %s: %w", p.image, err)
	}
	return nil
}

func (p *DockerProvider) Start(ctx context.Context, dir string) (Sandbox, error) {
	if err := p.ensureImage(ctx); err != nil {
		return nil, err
	}

	name := "framer-sandbox-" + uuid.NewString()[:8]
	resp, err := p.cli.ContainerCreate(ctx, &container.Config{
		Image:      p.image,
		Cmd:        []string{"sleep", "infinity"},
		WorkingDir: ContainerWorkdir,
		Labels:     map[string]string{"framer.sandbox": "true"},
	}, &container.HostConfig{
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: dir,
			Target: ContainerWorkdir,
		}},
	}, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox container: %w", err)
	}

	sb := &dockerSandbox{cli: p.cli, id: resp.ID}
	if err := p.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		terminate(ctx, sb)
		return nil, fmt.Errorf("failed to start sandbox container: %w", err)
	}

	slog.Debug("Sandbox container started",
		"layer", "sandbox",
		"container_id", resp.ID,
		"container_name", name,
		"dir", dir)
	return sb, nil
}

type dockerSandbox struct {
	cli dockerAPI
	id  string
}

func (s *dockerSandbox) ID() string {
	return s.id
}

func (s *dockerSandbox) Exec(ctx context.Context, script string) (ExecResult, error) {
	started := time.Now()
	created, err := s.cli.ContainerExecCreate(ctx, s.id, container.ExecOptions{
		Cmd:          []string{"sh", "-c", script},
		WorkingDir:   ContainerWorkdir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return ExecResult{}, fmt.Errorf("failed to create exec: %w", err)
	}

	attach, err := s.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, fmt.Errorf("failed to attach exec: %w", err)
	}
	defer attach.Close()

	// Demultiplex the attached stream; closing the connection unblocks the copy on cancel
	var stdout, stderr bytes.Buffer
	copied := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader)
		copied <- err
	}()
	select {
	case err = <-copied:
	case <-ctx.Done():
		attach.Close()
		<-copied
		return ExecResult{ExitCode: -1, Stdout: stdout.String(), Stderr: stderr.String(), Duration: time.Since(started)}, ctx.Err()
	}
	if err != nil {
		return ExecResult{}, fmt.Errorf("failed to read exec output: %w", err)
	}

	inspect, err := s.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return ExecResult{}, fmt.Errorf("failed to inspect exec: %w", err)
	}

	return ExecResult{
		ExitCode: inspect.ExitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(started),
	}, nil
}

// Terminate force-removes the container and everything running in it
func (s *dockerSandbox) Terminate(ctx context.Context) error {
	if err := s.cli.ContainerRemove(ctx, s.id, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("failed to remove sandbox container %s: %w", s.id, err)
	}
	return nil
}
