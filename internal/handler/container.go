package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"
)

// ContainerRunInput is the executor input for container_run schedules.
// The image must already be present on the host.
type ContainerRunInput struct {
	Image string   `json:"image"`
	Cmd   []string `json:"cmd,omitempty"`
	Env   []string `json:"env,omitempty"`
}

// ContainerRunHandler runs a one-shot container to completion and captures
// its output. The container is removed afterwards.
type ContainerRunHandler struct {
	logger *zap.Logger
	docker client.APIClient
}

// NewContainerRunHandler creates a handler bound to the local Docker daemon.
func NewContainerRunHandler(logger *zap.Logger) (*ContainerRunHandler, error) {
	docker, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	return &ContainerRunHandler{
		logger: logger,
		docker: docker,
	}, nil
}

// Execute creates, starts and waits for the container. A non-zero exit
// code reports the container's stderr as the failure reason.
func (h *ContainerRunHandler) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in ContainerRunInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("failed to unmarshal input: %w", err)
	}
	if in.Image == "" {
		return nil, fmt.Errorf("image is required")
	}

	h.logger.Info("Running container",
		zap.String("image", in.Image),
		zap.Strings("cmd", in.Cmd))

	created, err := h.docker.ContainerCreate(ctx, &container.Config{
		Image: in.Image,
		Cmd:   in.Cmd,
		Env:   in.Env,
	}, nil, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}
	id := created.ID

	defer func() {
		if err := h.docker.ContainerRemove(context.Background(), id, container.RemoveOptions{Force: true}); err != nil {
			h.logger.Warn("Failed to remove container",
				zap.String("container_id", id),
				zap.Error(err))
		}
	}()

	if err := h.docker.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	statusCh, errCh := h.docker.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	var exitCode int64
	select {
	case err := <-errCh:
		if err != nil {
			return nil, fmt.Errorf("failed to wait for container: %w", err)
		}
	case status := <-statusCh:
		exitCode = status.StatusCode
	}

	stdout, stderr, err := h.collectOutput(ctx, id)
	if err != nil {
		return nil, err
	}

	if exitCode != 0 {
		msg := strings.TrimSpace(stderr)
		if msg == "" {
			msg = strings.TrimSpace(stdout)
		}
		return nil, fmt.Errorf("container exited with code %d: %s", exitCode, msg)
	}

	result, err := json.Marshal(map[string]interface{}{
		"exit_code": exitCode,
		"output":    stdout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return result, nil
}

// collectOutput demultiplexes the container's log stream.
func (h *ContainerRunHandler) collectOutput(ctx context.Context, id string) (string, string, error) {
	reader, err := h.docker.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to get container logs: %w", err)
	}
	defer reader.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, reader); err != nil {
		return "", "", fmt.Errorf("failed to read container logs: %w", err)
	}
	return stdout.String(), stderr.String(), nil
}
