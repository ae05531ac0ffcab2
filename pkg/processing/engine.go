package processing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/systemstart/pushgate/pkg/api"
	"github.com/systemstart/pushgate/pkg/toolchain"
	"github.com/systemstart/pushgate/pkg/workspace"
)

// Recorder keeps the terminal record of every run.
type Recorder interface {
	Append(rec api.Record) error
}

// Engine executes runs end to end: workspace, preparation, steps, cache save
// and history. Runs executed by one Engine share nothing but the cache.
type Engine struct {
	WorkRoot    string   // parent of run workspaces; system temp dir when empty
	Source      string   // tree copied into each workspace; the pipeline's dir when empty
	Exclude     []string // defaults to workspace.DefaultExclude
	Cache       Cache    // nil disables caching
	Provisioner toolchain.Provisioner
	Logs        LogSaver
	History     Recorder
	Output      io.Writer
	BaseEnv     map[string]string // defaults to the host environment
}

// Execute drives run through its whole lifecycle and returns its final state.
// The cache writer runs exactly once whatever the outcome.
func (e *Engine) Execute(ctx context.Context, run *api.Run, p *api.Pipeline) api.Record {
	slog.Info("executing run", "run", run.ID(), "pipeline", p.Name, "event", run.Snapshot().Event.ID)

	if err := run.Start(); err != nil {
		slog.Error("starting run failed", "run", run.ID(), "error", err)
		return run.Snapshot()
	}
	e.run(ctx, run, p)

	rec := run.Snapshot()
	if e.History != nil {
		if err := e.History.Append(rec); err != nil {
			slog.Error("appending run to history failed", "run", rec.ID, "error", err)
		}
	}

	slog.Info("run finished", "run", rec.ID, "status", rec.Status, "steps", len(rec.Steps), "reason", rec.Reason)
	return rec
}

func (e *Engine) run(ctx context.Context, run *api.Run, p *api.Pipeline) {
	if err := ctx.Err(); err != nil {
		e.fail(ctx, run, fmt.Errorf("cancelled before start: %w", err))
		e.writeCache(ctx, run, p, "")
		return
	}

	ws, err := workspace.Acquire(e.WorkRoot, e.source(p), e.exclude())
	if err != nil {
		e.fail(ctx, run, fmt.Errorf("acquiring workspace: %w", err))
		e.writeCache(ctx, run, p, "")
		return
	}
	defer func() {
		if err := ws.Release(); err != nil {
			slog.Warn("releasing workspace failed", "run", run.ID(), "error", err)
		}
	}()

	if err := e.runIn(ctx, run, p, ws.Dir); err != nil {
		e.fail(ctx, run, err)
	}
	e.writeCache(ctx, run, p, ws.Dir)
}

func (e *Engine) runIn(ctx context.Context, run *api.Run, p *api.Pipeline, workDir string) error {
	preparer := &Preparer{Cache: e.Cache, Provisioner: e.Provisioner, BaseEnv: e.baseEnv()}
	prep, err := preparer.Prepare(ctx, run, p, workDir)
	if err != nil {
		return err
	}

	tasks, err := BuildTasks(p, prep)
	if err != nil {
		return fmt.Errorf("building steps: %w", err)
	}

	runner := &Runner{Logs: e.Logs, Output: e.Output}
	return runner.RunSteps(ctx, prep, tasks, run)
}

// fail finishes a run that did not reach its steps, or whose bookkeeping broke.
func (e *Engine) fail(ctx context.Context, run *api.Run, err error) {
	if run.Status().IsTerminal() {
		slog.Error("run bookkeeping failed", "run", run.ID(), "error", err)
		return
	}

	status := api.StatusFailed
	if ctx.Err() != nil {
		status = api.StatusCancelled
	}

	var perr *toolchain.ProvisioningError
	if errors.As(err, &perr) {
		slog.Error("toolchain provisioning failed", "run", run.ID(), "toolchain", perr.Toolchain, "error", perr.Err)
	} else {
		slog.Error("run failed before steps", "run", run.ID(), "error", err)
	}

	if finErr := run.Finish(status, err.Error()); finErr != nil {
		slog.Error("finishing run failed", "run", run.ID(), "error", finErr)
	}
}

// writeCache saves the workspace state under the run's key. It ignores
// cancellation so a cancelled run still saves.
func (e *Engine) writeCache(ctx context.Context, run *api.Run, p *api.Pipeline, workDir string) {
	ctx = context.WithoutCancel(ctx)
	key := run.CacheKey()

	switch {
	case e.Cache == nil || !p.Cache.Enabled():
		slog.Debug("caching disabled, nothing saved", "run", run.ID())
	case workDir == "":
		slog.Info("no workspace, nothing saved", "run", run.ID())
	case key == "":
		slog.Info("no cache key for run, nothing saved", "run", run.ID())
	default:
		if err := e.Cache.Save(ctx, key, workDir, p.Cache.Paths); err != nil {
			slog.Warn("saving cache failed", "run", run.ID(), "key", key, "error", err)
		}
	}
}

func (e *Engine) source(p *api.Pipeline) string {
	if e.Source != "" {
		return e.Source
	}
	return p.Dir
}

func (e *Engine) exclude() []string {
	if e.Exclude == nil {
		return workspace.DefaultExclude
	}
	return e.Exclude
}

func (e *Engine) baseEnv() map[string]string {
	if e.BaseEnv == nil {
		return EnvMap(os.Environ())
	}
	return e.BaseEnv
}
