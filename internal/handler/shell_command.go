package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ShellCommandInput is the executor input for shell_command schedules.
type ShellCommandInput struct {
	Command        string            `json:"command"`
	Args           []string          `json:"args,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	WorkingDir     string            `json:"working_dir,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
}

// ShellCommandHandler runs a command and captures its combined output.
type ShellCommandHandler struct {
	logger *zap.Logger
}

// NewShellCommandHandler creates a new shell command handler.
func NewShellCommandHandler(logger *zap.Logger) *ShellCommandHandler {
	return &ShellCommandHandler{
		logger: logger,
	}
}

// Execute runs the command. A non-zero exit reports the trimmed output as
// the failure reason.
func (h *ShellCommandHandler) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in ShellCommandInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("failed to unmarshal input: %w", err)
	}
	if in.Command == "" {
		return nil, fmt.Errorf("command is required")
	}

	cmdCtx := ctx
	if in.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		cmdCtx, cancel = context.WithTimeout(ctx, time.Duration(in.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	cmd := exec.CommandContext(cmdCtx, in.Command, in.Args...)
	if in.WorkingDir != "" {
		cmd.Dir = in.WorkingDir
	}
	if len(in.Env) > 0 {
		env := os.Environ()
		for k, v := range in.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}

	h.logger.Info("Executing shell command",
		zap.String("command", in.Command),
		zap.Strings("args", in.Args))

	output, err := cmd.CombinedOutput()
	if err != nil {
		if cmdCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("command timed out after %ds", in.TimeoutSeconds)
		}
		msg := strings.TrimSpace(string(output))
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("command failed: %s", msg)
	}

	result, err := json.Marshal(map[string]string{
		"output": string(output),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return result, nil
}
