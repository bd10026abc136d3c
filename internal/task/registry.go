// Package task runs long operations as cancelable tasks and keeps the
// registry of tasks currently in flight.
package task

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle position of a task.
type State string

const (
	StateQueued  State = "queued"
	StateRunning State = "running"
)

// Progress is a point-in-time view of how far a task has come.
type Progress struct {
	Done    int64  `json:"done"`
	Total   int64  `json:"total"`
	Message string `json:"message,omitempty"`
}

// Fraction returns Done/Total, or zero when the total is unknown.
func (p Progress) Fraction() float64 {
	if p.Total <= 0 {
		return 0
	}
	return float64(p.Done) / float64(p.Total)
}

// Info describes an active task.
type Info struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	State    State     `json:"state"`
	Started  time.Time `json:"started"`
	Progress Progress  `json:"progress"`
}

// Task is the handle a running function uses to report progress and to
// observe cancellation through its context.
type Task struct {
	id      uuid.UUID
	name    string
	started time.Time
	cancel  context.CancelFunc

	running atomic.Bool
	done    atomic.Int64
	total   atomic.Int64
	message atomic.Pointer[string]
}

func newTask(name string, started time.Time, cancel context.CancelFunc) *Task {
	return &Task{id: uuid.New(), name: name, started: started, cancel: cancel}
}

func (t *Task) ID() uuid.UUID { return t.id }
func (t *Task) Name() string  { return t.name }

// SetTotal sets the number of work units.
func (t *Task) SetTotal(n int64) { t.total.Store(n) }

// Advance marks n more units as done.
func (t *Task) Advance(n int64) { t.done.Add(n) }

// SetMessage replaces the progress message.
func (t *Task) SetMessage(msg string) { t.message.Store(&msg) }

// Progress returns the current progress.
func (t *Task) Progress() Progress {
	p := Progress{Done: t.done.Load(), Total: t.total.Load()}
	if msg := t.message.Load(); msg != nil {
		p.Message = *msg
	}
	return p
}

func (t *Task) info() Info {
	state := StateQueued
	if t.running.Load() {
		state = StateRunning
	}
	return Info{ID: t.id, Name: t.name, State: state, Started: t.started, Progress: t.Progress()}
}

// Registry tracks active tasks. Executors add a task when it is submitted
// and remove it when it finishes, whatever the outcome.
type Registry struct {
	mu    sync.RWMutex
	tasks map[uuid.UUID]*Task
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[uuid.UUID]*Task)}
}

// Add registers t.
func (r *Registry) Add(t *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[t.id] = t
}

// Remove forgets the task with id; unknown ids are ignored.
func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, id)
}

// Active lists registered tasks by start time.
func (r *Registry) Active() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t.info())
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b Info) int {
		return cmp.Or(a.Started.Compare(b.Started), cmp.Compare(a.ID.String(), b.ID.String()))
	})
	return out
}

// Len returns the number of active tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// Cancel requests cancellation of the task with id. It reports whether the
// task was active.
func (r *Registry) Cancel(id uuid.UUID) bool {
	r.mu.RLock()
	t, ok := r.tasks[id]
	r.mu.RUnlock()
	if ok && t.cancel != nil {
		t.cancel()
	}
	return ok
}
