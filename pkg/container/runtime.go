// Package container wraps the Docker engine API for the lab runtime: the
// isolated shell container's lifecycle and in-container command execution
// for the check scheduler and the healthcheck gate.
package container

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
)

// stopTimeout is how long docker stop waits before escalating to SIGKILL.
const stopTimeout = 5 * time.Second

// Runtime drives one lab container through the Docker daemon.
type Runtime struct {
	cli     *client.Client
	image   string
	workdir string
	mounts  []string // bind specs, "host:container" form
}

// NewRuntime connects to the Docker daemon using the standard environment
// (DOCKER_HOST etc.) with API version negotiation.
func NewRuntime(imageRef, workdir string, binds []string) (*Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("connect to docker daemon: %w", err)
	}
	return &Runtime{
		cli:     cli,
		image:   imageRef,
		workdir: workdir,
		mounts:  binds,
	}, nil
}

// Close releases the client connection.
func (r *Runtime) Close() error { return r.cli.Close() }

// EnsureImage pulls the lab image when it is not present locally.
func (r *Runtime) EnsureImage(ctx context.Context) error {
	_, err := r.cli.ImageInspect(ctx, r.image)
	if err == nil {
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return fmt.Errorf("inspect image %s: %w", r.image, err)
	}

	slog.Info("Pulling lab image", "image", r.image)
	rc, err := r.cli.ImagePull(ctx, r.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", r.image, err)
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("pull image %s: %w", r.image, err)
	}
	return nil
}

// Start creates and starts the container detached. The container keeps a
// TTY with stdin open so the student shell attachment has somewhere to
// live. Returns the container ID.
func (r *Runtime) Start(ctx context.Context, name string) (string, error) {
	hostCfg := &container.HostConfig{
		Binds:      r.mounts,
		AutoRemove: false,
	}
	cfg := &container.Config{
		Image:      r.image,
		Tty:        true,
		OpenStdin:  true,
		WorkingDir: r.workdir,
	}

	created, err := r.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}

	if err := r.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		// Best-effort cleanup of the half-created container.
		_ = r.cli.ContainerRemove(context.Background(), created.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("start container: %w", err)
	}

	slog.Info("Lab container started", "container_id", created.ID[:12], "image", r.image)
	return created.ID, nil
}

// ExecResult is the outcome of one in-container command.
type ExecResult struct {
	ExitCode int
	Stdout   []byte
}

// Exec runs a command inside the container, bounded by timeout, and
// returns the exit code and captured stdout. A spawn failure (as opposed
// to the command running and exiting non-zero) comes back as an error.
func (r *Runtime) Exec(ctx context.Context, containerID string, cmd []string, timeout time.Duration) (*ExecResult, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	created, err := r.cli.ContainerExecCreate(execCtx, containerID, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create exec: %w", err)
	}

	attach, err := r.cli.ContainerExecAttach(execCtx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("attach exec: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil && execCtx.Err() == nil {
		return nil, fmt.Errorf("read exec output: %w", err)
	}
	if execCtx.Err() != nil {
		return nil, fmt.Errorf("exec timed out after %s: %w", timeout, execCtx.Err())
	}

	inspect, err := r.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return nil, fmt.Errorf("inspect exec: %w", err)
	}

	return &ExecResult{ExitCode: inspect.ExitCode, Stdout: stdout.Bytes()}, nil
}

// Healthcheck verifies the container's initial filesystem: the given files
// must exist and the given commands must succeed, all within timeout.
func (r *Runtime) Healthcheck(ctx context.Context, containerID string, files, cmds []string, timeout time.Duration) error {
	hcCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for _, f := range files {
		res, err := r.Exec(hcCtx, containerID, []string{"test", "-e", f}, timeout)
		if err != nil {
			return fmt.Errorf("healthcheck file %s: %w", f, err)
		}
		if res.ExitCode != 0 {
			return fmt.Errorf("healthcheck file %s: missing", f)
		}
	}

	for _, c := range cmds {
		res, err := r.Exec(hcCtx, containerID, []string{"sh", "-c", c}, timeout)
		if err != nil {
			return fmt.Errorf("healthcheck command %q: %w", c, err)
		}
		if res.ExitCode != 0 {
			return fmt.Errorf("healthcheck command %q: exit %d", c, res.ExitCode)
		}
	}
	return nil
}

// Stop stops and removes the container. Best-effort and idempotent: a
// container that is already gone is not an error.
func (r *Runtime) Stop(ctx context.Context, containerID string) error {
	seconds := int(stopTimeout.Seconds())
	if err := r.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &seconds}); err != nil {
		if !errdefs.IsNotFound(err) {
			slog.Warn("Failed to stop container", "container_id", containerID, "error", err)
		}
	}
	if err := r.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}

// Running reports whether the container exists and is running.
func (r *Runtime) Running(ctx context.Context, containerID string) bool {
	inspect, err := r.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return false
	}
	return inspect.State != nil && inspect.State.Running
}
