package api

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// ErrRunTerminal is returned when mutating a Run that has already finished.
var ErrRunTerminal = errors.New("run is terminal")

const EventPush = "push"

// Event is the trigger notification that starts a run. Nothing beyond
// "a push occurred" is consumed; the fields are kept for reporting.
type Event struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Ref        string    `json:"ref,omitempty"`
	Commit     string    `json:"commit,omitempty"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// NewPushEvent returns a push event stamped with a fresh id and the current time.
func NewPushEvent(ref, commit string) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       EventPush,
		Ref:        ref,
		Commit:     commit,
		ReceivedAt: time.Now().UTC(),
	}
}

// StepResult is the outcome of one executed step.
type StepResult struct {
	Index      int       `json:"index"`
	Name       string    `json:"name"`
	ExitCode   int       `json:"exitCode"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	LogPath    string    `json:"logPath,omitempty"`
	Output     []byte    `json:"-"`
}

// Succeeded reports whether the step exited with status 0.
func (r StepResult) Succeeded() bool { return r.ExitCode == 0 }

// Record is an immutable view of a Run.
type Record struct {
	ID         string       `json:"id"`
	Pipeline   string       `json:"pipeline,omitempty"`
	Event      Event        `json:"event"`
	Status     Status       `json:"status"`
	Steps      []StepResult `json:"steps"`
	CacheKey   string       `json:"cacheKey,omitempty"`
	CacheHit   bool         `json:"cacheHit"`
	Reason     string       `json:"reason,omitempty"`
	CreatedAt  time.Time    `json:"createdAt"`
	StartedAt  *time.Time   `json:"startedAt,omitempty"`
	FinishedAt *time.Time   `json:"finishedAt,omitempty"`
}

// Run is one execution of a pipeline. It is safe for concurrent use;
// once terminal it rejects every mutation.
type Run struct {
	mu  sync.Mutex
	rec Record
}

// NewRun allocates a pending run for event.
func NewRun(pipeline string, event Event) *Run {
	return &Run{rec: Record{
		ID:        uuid.NewString(),
		Pipeline:  pipeline,
		Event:     event,
		Status:    StatusPending,
		Steps:     []StepResult{},
		CreatedAt: time.Now().UTC(),
	}}
}

func (r *Run) ID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rec.ID
}

func (r *Run) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rec.Status
}

func (r *Run) CacheKey() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rec.CacheKey
}

// Results returns a copy of the recorded step results in execution order.
func (r *Run) Results() []StepResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.rec.Steps)
}

// Snapshot returns a copy of the run state.
func (r *Run) Snapshot() Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.rec
	rec.Steps = slices.Clone(r.rec.Steps)
	return rec
}

// Start moves a pending run to running. Calling it on a running run is a no-op.
func (r *Run) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.rec.Status {
	case StatusRunning:
		return nil
	case StatusPending:
		now := time.Now().UTC()
		r.rec.Status = StatusRunning
		r.rec.StartedAt = &now
		return nil
	default:
		return fmt.Errorf("start %s: %w", r.rec.ID, ErrRunTerminal)
	}
}

// SetCache records the cache key in use and whether it was restored.
func (r *Run) SetCache(key string, hit bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rec.Status.IsTerminal() {
		return fmt.Errorf("set cache %s: %w", r.rec.ID, ErrRunTerminal)
	}
	r.rec.CacheKey = key
	r.rec.CacheHit = hit
	return nil
}

// Record appends a step result.
func (r *Run) Record(res StepResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rec.Status.IsTerminal() {
		return fmt.Errorf("record step %q on %s: %w", res.Name, r.rec.ID, ErrRunTerminal)
	}
	r.rec.Steps = append(r.rec.Steps, res)
	return nil
}

// Finish moves the run to a terminal status. reason is empty on success.
func (r *Run) Finish(status Status, reason string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("finish with non-terminal status %q", status)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rec.Status.IsTerminal() {
		return fmt.Errorf("finish %s: %w", r.rec.ID, ErrRunTerminal)
	}
	now := time.Now().UTC()
	if r.rec.StartedAt == nil {
		r.rec.StartedAt = &now
	}
	r.rec.FinishedAt = &now
	r.rec.Status = status
	r.rec.Reason = reason
	return nil
}
