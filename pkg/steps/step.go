package steps

import (
	"context"
	"io"
)

// StepContext provides the runtime context for a step.
type StepContext struct {
	WorkDir string
	Env     []string  // complete environment, KEY=VALUE
	Output  io.Writer // optional live copy of the captured output
}

// StepResult holds the outcome of a step that ran to completion.
// A non-zero ExitCode is a failed step, not an error.
type StepResult struct {
	ExitCode int
	Output   []byte // combined stdout and stderr
	TimedOut bool
}

// Step is the interface all pipeline steps implement.
// Run returns an error only when the step could not be executed at all
// or ctx was cancelled.
type Step interface {
	Name() string
	Run(ctx context.Context, sctx StepContext) (*StepResult, error)
}
