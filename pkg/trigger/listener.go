// Package trigger turns push notifications into pipeline runs.
package trigger

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/systemstart/pushgate/pkg/api"
)

const (
	DefaultMaxRuns   = 2
	DefaultQueueSize = 64
)

var (
	// ErrClosed is returned by OnEvent after Close.
	ErrClosed = errors.New("listener closed")
	// ErrUnknownRun is returned for a run id the listener never issued.
	ErrUnknownRun = errors.New("unknown run")
)

// Executor runs one pipeline run to completion.
type Executor interface {
	Execute(ctx context.Context, run *api.Run, p *api.Pipeline) api.Record
}

// PipelineLoader returns the pipeline definition to run for an event.
type PipelineLoader func() (*api.Pipeline, error)

type job struct {
	run      *api.Run
	pipeline *api.Pipeline
	ctx      context.Context
}

type entry struct {
	run    *api.Run
	cancel context.CancelFunc
}

// Listener starts one run per push event. At most maxRuns execute at once;
// further runs wait in Pending.
type Listener struct {
	exec  Executor
	load  PipelineLoader
	ctx   context.Context
	group *errgroup.Group
	queue chan job

	mu     sync.RWMutex // guards closed and sends on queue
	closed bool

	runsMu sync.Mutex
	runs   map[string]*entry
}

// NewListener starts maxRuns workers bound to ctx.
func NewListener(ctx context.Context, exec Executor, load PipelineLoader, maxRuns int) *Listener {
	if maxRuns <= 0 {
		maxRuns = DefaultMaxRuns
	}
	l := &Listener{
		exec:  exec,
		load:  load,
		ctx:   ctx,
		group: &errgroup.Group{},
		queue: make(chan job, DefaultQueueSize),
		runs:  make(map[string]*entry),
	}
	l.group.SetLimit(maxRuns)
	for range maxRuns {
		l.group.Go(l.work)
	}
	return l
}

func (l *Listener) work() error {
	for j := range l.queue {
		rec := l.exec.Execute(j.ctx, j.run, j.pipeline)
		l.release(rec.ID)
	}
	return nil
}

// OnEvent allocates a Pending run for event and queues it. It returns as soon
// as the run is queued; every push produces a run.
func (l *Listener) OnEvent(ctx context.Context, event api.Event) (*api.Run, error) {
	p, err := l.load()
	if err != nil {
		return nil, fmt.Errorf("loading pipeline: %w", err)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return nil, ErrClosed
	}

	run := api.NewRun(p.Name, event)
	runCtx, cancel := context.WithCancel(l.ctx)
	l.register(run, cancel)

	if err := ctx.Err(); err != nil {
		return l.abandon(runCtx, cancel, run, p, err)
	}
	select {
	case l.queue <- job{run: run, pipeline: p, ctx: runCtx}:
	case <-ctx.Done():
		return l.abandon(runCtx, cancel, run, p, ctx.Err())
	}

	slog.Info("run queued", "run", run.ID(), "event", event.ID, "ref", event.Ref, "commit", event.Commit)
	return run, nil
}

// abandon finishes a run that was never queued. It still goes through the
// executor so the cancelled run is recorded like any other.
func (l *Listener) abandon(runCtx context.Context, cancel context.CancelFunc, run *api.Run, p *api.Pipeline, cause error) (*api.Run, error) {
	cancel()
	slog.Info("run not queued", "run", run.ID(), "error", cause)
	rec := l.exec.Execute(runCtx, run, p)
	l.release(rec.ID)
	return run, cause
}

// Cancel stops a queued or running run. It is a no-op for a finished run.
func (l *Listener) Cancel(id string) error {
	l.runsMu.Lock()
	defer l.runsMu.Unlock()
	e, ok := l.runs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRun, id)
	}
	if e.cancel != nil {
		slog.Info("cancelling run", "run", id)
		e.cancel()
	}
	return nil
}

// Get returns the run with id.
func (l *Listener) Get(id string) (*api.Run, bool) {
	l.runsMu.Lock()
	defer l.runsMu.Unlock()
	e, ok := l.runs[id]
	if !ok {
		return nil, false
	}
	return e.run, true
}

// Runs returns snapshots of every run issued by the listener, oldest first.
func (l *Listener) Runs() []api.Record {
	l.runsMu.Lock()
	out := make([]api.Record, 0, len(l.runs))
	for _, e := range l.runs {
		out = append(out, e.run.Snapshot())
	}
	l.runsMu.Unlock()

	slices.SortFunc(out, func(a, b api.Record) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out
}

// Close stops accepting events. Queued runs still execute.
func (l *Listener) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	close(l.queue)
}

// Wait blocks until every queued run has finished. Call Close first.
func (l *Listener) Wait() error {
	return l.group.Wait()
}

func (l *Listener) register(run *api.Run, cancel context.CancelFunc) {
	l.runsMu.Lock()
	defer l.runsMu.Unlock()
	l.runs[run.ID()] = &entry{run: run, cancel: cancel}
}

// release drops the cancel func of a finished run but keeps its state.
func (l *Listener) release(id string) {
	l.runsMu.Lock()
	defer l.runsMu.Unlock()
	if e, ok := l.runs[id]; ok && e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}
