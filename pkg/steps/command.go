package steps

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"
)

const (
	shell = "sh"

	// ExitCodeTimeout is reported for a step killed by its timeout.
	ExitCodeTimeout = -1
	// ExitCodeNotRun is reported for a step whose process could not be started.
	ExitCodeNotRun = -1

	waitDelay = 5 * time.Second
)

type commandStep struct {
	name    string
	run     string
	timeout time.Duration
}

// NewCommandStep creates a step that runs command with `sh -c`.
func NewCommandStep(name, command string, timeout time.Duration) Step {
	return &commandStep{name: name, run: command, timeout: timeout}
}

func (s *commandStep) Name() string { return s.name }

func (s *commandStep) Run(ctx context.Context, sctx StepContext) (*StepResult, error) {
	runCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	slog.Debug("running command", "step", s.name, "run", s.run, "dir", sctx.WorkDir)

	cmd := exec.CommandContext(runCtx, shell, "-c", s.run)
	cmd.Dir = sctx.WorkDir
	cmd.Env = sctx.Env
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	var out bytes.Buffer
	var w io.Writer = &out
	if sctx.Output != nil {
		w = io.MultiWriter(&out, sctx.Output)
	}
	cmd.Stdout = w
	cmd.Stderr = w

	err := cmd.Run()

	if ctx.Err() != nil {
		return nil, fmt.Errorf("step %q interrupted: %w", s.name, ctx.Err())
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		fmt.Fprintf(&out, "\nstep %q timed out after %s\n", s.name, s.timeout)
		return &StepResult{ExitCode: ExitCodeTimeout, Output: out.Bytes(), TimedOut: true}, nil
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("step %q could not run: %w", s.name, err)
		}
		return &StepResult{ExitCode: exitErr.ExitCode(), Output: out.Bytes()}, nil
	}

	return &StepResult{Output: out.Bytes()}, nil
}
