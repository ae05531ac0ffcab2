package processing

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/systemstart/pushgate/pkg/api"
	"github.com/systemstart/pushgate/pkg/steps"
)

// LogSaver persists the captured output of a step and returns where it went.
type LogSaver interface {
	SaveLog(runID string, index int, name string, output []byte) (string, error)
}

// Task is a step bound to its resolved environment and failure policy.
type Task struct {
	Step            steps.Step
	Env             []string
	ContinueOnError bool
}

// BuildTasks turns the pipeline's step list into tasks for prep, in order.
func BuildTasks(p *api.Pipeline, prep *Prepared) ([]Task, error) {
	built, err := steps.NewSteps(p)
	if err != nil {
		return nil, err
	}

	tasks := make([]Task, len(built))
	for i, cfg := range p.Steps {
		overrides, err := cfg.Environment(prep.Env())
		if err != nil {
			return nil, err
		}
		tasks[i] = Task{
			Step:            built[i],
			Env:             prep.Environ(overrides),
			ContinueOnError: cfg.ContinueOnError,
		}
	}
	return tasks, nil
}

// Runner executes tasks sequentially and stops at the first failure.
type Runner struct {
	Logs   LogSaver  // optional
	Output io.Writer // optional live copy of step output
}

// RunSteps executes tasks in order and moves run to a terminal status:
// Failed at the first non-zero exit of a task without ContinueOnError,
// Cancelled when ctx is done, Succeeded otherwise (including no tasks).
func (r *Runner) RunSteps(ctx context.Context, prep *Prepared, tasks []Task, run *api.Run) error {
	if err := run.Start(); err != nil {
		return err
	}

	for i, task := range tasks {
		name := task.Step.Name()
		if ctx.Err() != nil {
			return finishCancelled(run, fmt.Sprintf("cancelled before step %q", name))
		}

		slog.Info("running step", "run", run.ID(), "step", name, "index", i)
		result, err := r.runTask(ctx, prep, task, i)
		if err != nil && ctx.Err() != nil {
			slog.Warn("step interrupted", "run", run.ID(), "step", name, "error", err)
			return finishCancelled(run, fmt.Sprintf("cancelled during step %q", name))
		}

		r.saveLog(run, &result)
		if recErr := run.Record(result); recErr != nil {
			return recErr
		}

		if result.Succeeded() {
			slog.Info("step succeeded", "run", run.ID(), "step", name,
				"duration", result.FinishedAt.Sub(result.StartedAt))
			continue
		}

		if task.ContinueOnError {
			slog.Warn("step failed, continuing", "run", run.ID(), "step", name, "exitCode", result.ExitCode)
			continue
		}

		reason := fmt.Sprintf("step %q exited with status %d", name, result.ExitCode)
		if err != nil {
			reason = err.Error()
		}
		slog.Error("step failed", "run", run.ID(), "step", name, "exitCode", result.ExitCode)
		return run.Finish(api.StatusFailed, reason)
	}

	return run.Finish(api.StatusSucceeded, "")
}

// runTask executes one task. A step that could not be started is reported as
// a failed result with exit code -1 alongside the error.
func (r *Runner) runTask(ctx context.Context, prep *Prepared, task Task, index int) (api.StepResult, error) {
	result := api.StepResult{
		Index:     index,
		Name:      task.Step.Name(),
		StartedAt: time.Now().UTC(),
	}

	res, err := task.Step.Run(ctx, steps.StepContext{
		WorkDir: prep.WorkDir,
		Env:     task.Env,
		Output:  r.Output,
	})
	result.FinishedAt = time.Now().UTC()

	switch {
	case err != nil:
		result.ExitCode = steps.ExitCodeNotRun
		result.Output = []byte(err.Error() + "\n")
	case res == nil:
		result.ExitCode = steps.ExitCodeNotRun
	default:
		result.ExitCode = res.ExitCode
		result.Output = res.Output
	}
	return result, err
}

func (r *Runner) saveLog(run *api.Run, result *api.StepResult) {
	if r.Logs == nil {
		return
	}
	path, err := r.Logs.SaveLog(run.ID(), result.Index, result.Name, result.Output)
	if err != nil {
		slog.Warn("saving step log failed", "run", run.ID(), "step", result.Name, "error", err)
		return
	}
	result.LogPath = path
}

func finishCancelled(run *api.Run, reason string) error {
	slog.Warn("run cancelled", "run", run.ID(), "reason", reason)
	return run.Finish(api.StatusCancelled, reason)
}
