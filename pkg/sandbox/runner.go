package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Result is the outcome of a finished subprocess
type Result struct {
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Runner executes a validated request. Implementations must never pass the
// argument vector through a shell.
type Runner interface {
	Run(ctx context.Context, req ExecutionRequest) (Result, error)
}

// ExecRunner runs requests as direct child processes
type ExecRunner struct{}

// Run executes the request, honouring the context deadline
func (ExecRunner) Run(ctx context.Context, req ExecutionRequest) (Result, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, req.Program, req.Args...)
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err == nil {
		return result, nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return result, fmt.Errorf("%w: command timeout", ErrExecutionFailed)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		msg := strings.TrimSpace(result.Stderr)
		if msg == "" {
			msg = exitErr.Error()
		}
		return result, fmt.Errorf("%w: %s", ErrExecutionFailed, msg)
	}

	return result, fmt.Errorf("%w: %v", ErrExecutionFailed, err)
}
