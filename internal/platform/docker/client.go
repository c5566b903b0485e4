package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/dontdude/imgcap/internal/domain"
)

// Options selects the captioning image and how it is invoked.
type Options struct {
	// Image is a container image that prints a caption for the URL passed as its last argument.
	Image string
	// Command is prepended to the URL; empty uses the image's entrypoint arguments.
	Command []string
	// MemoryMB caps the container's memory; zero leaves it unlimited.
	MemoryMB int64
}

// imagePuller is the part of the Docker client used to fetch the captioning image.
type imagePuller interface {
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
}

// Captioner runs an ephemeral container per image and returns its standard output.
type Captioner struct {
	cli    *client.Client
	puller imagePuller
	opts   Options
	logger *slog.Logger

	// pullMu guards pulled, which is set only after a successful pull.
	pullMu sync.Mutex
	pulled bool
}

// Check if Captioner implements domain.Captioner
var _ domain.Captioner = (*Captioner)(nil)

// NewCaptioner connects to the Docker daemon from the environment and pings it, so a worker
// without Docker fails at startup rather than on its first job.
func NewCaptioner(ctx context.Context, opts Options, logger *slog.Logger) (*Captioner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to connect to docker daemon: %w", err)
	}

	c := &Captioner{cli: cli, puller: cli, opts: opts, logger: logger}
	// Pull under the startup context so a slow registry does not eat into the first job's timeout.
	// A failure here is retried on the next Caption.
	if err := c.pull(ctx); err != nil {
		logger.Warn("Initial image pull failed, will retry", "image", opts.Image, "error", err)
	}

	logger.Info("Docker captioner initialized", "image", opts.Image)
	return c, nil
}

// pull fetches the image until one attempt succeeds. Failed attempts are not remembered.
func (c *Captioner) pull(ctx context.Context) error {
	c.pullMu.Lock()
	defer c.pullMu.Unlock()
	if c.pulled {
		return nil
	}

	c.logger.Info("Pulling image", "image", c.opts.Image)
	reader, err := c.puller.ImagePull(ctx, c.opts.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	// Drain the response body to ensure the pull completes properly.
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}

	c.pulled = true
	return nil
}

// Caption runs the image with sourceURL as its final argument.
// A non-zero exit status is an error carrying the container's stderr.
func (c *Captioner) Caption(ctx context.Context, sourceURL string) (string, error) {
	if err := c.pull(ctx); err != nil {
		return "", err
	}

	cmd := append(append([]string(nil), c.opts.Command...), sourceURL)
	resp, err := c.cli.ContainerCreate(ctx, &container.Config{
		Image: c.opts.Image,
		Cmd:   cmd,
	}, &container.HostConfig{
		Resources: container.Resources{
			Memory: c.opts.MemoryMB * 1024 * 1024,
		},
	}, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	defer func() {
		// Remove even if ctx has expired.
		rmCtx := context.WithoutCancel(ctx)
		if err := c.cli.ContainerRemove(rmCtx, resp.ID, container.RemoveOptions{Force: true}); err != nil {
			c.logger.Warn("Failed to remove container", "containerID", resp.ID, "error", err)
		}
	}()

	if err := c.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("failed to start container: %w", err)
	}

	statusCh, errCh := c.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	var exitCode int64
	select {
	case err := <-errCh:
		return "", fmt.Errorf("failed waiting for container: %w", err)
	case status := <-statusCh:
		exitCode = status.StatusCode
	}

	logs, err := c.cli.ContainerLogs(ctx, resp.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", fmt.Errorf("failed to read container logs: %w", err)
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return "", fmt.Errorf("failed to demultiplex container logs: %w", err)
	}

	if exitCode != 0 {
		return "", fmt.Errorf("captioner exited with status %d: %s", exitCode, strings.TrimSpace(stderr.String()))
	}

	caption := strings.TrimSpace(stdout.String())
	if caption == "" {
		return "", fmt.Errorf("captioner produced no output")
	}
	return caption, nil
}

// Close releases the Docker client.
func (c *Captioner) Close() error {
	return c.cli.Close()
}
