package workqueue

import (
	"container/list"
	"sync/atomic"

	"github.com/google/uuid"
)

// NoColor tags items that do not take part in workqueue flushes (barriers).
const NoColor = -1

// WorkFunc is the callback of a work item. It receives the item itself so one
// function can serve many items.
type WorkFunc func(w *Work)

// Outcome is the result of cancelling a work item.
type Outcome int

const (
	// NotFound means the item was not pending: idle, or already running.
	NotFound Outcome = iota
	// RemovedPending means the item was pending and will not run for that submission.
	RemovedPending
)

func (o Outcome) String() string {
	if o == RemovedPending {
		return "removed_pending"
	}
	return "not_found"
}

// Work is a reusable unit of deferred work. The zero value is not usable; call
// NewWork or Init. A Work must not be re-initialised while pending.
type Work struct {
	fn       WorkFunc
	name     string
	internal bool

	pending atomic.Bool
	// cwq is the queue the item was last submitted to.
	cwq atomic.Pointer[cpuWorkqueue]
	// linked is the queue whose pending list holds the item; set and cleared
	// under that queue's lock.
	linked atomic.Pointer[cpuWorkqueue]
	// elem and color are guarded by the lock of the linked queue.
	elem  *list.Element
	color int

	delayed *DelayedWork
}

// WorkOption configures a Work.
type WorkOption func(*Work)

// WithWorkName sets the name used in logs, history and metrics.
func WithWorkName(name string) WorkOption {
	return func(w *Work) { w.name = name }
}

// NewWork returns an idle work item running fn.
func NewWork(fn WorkFunc, opts ...WorkOption) *Work {
	w := &Work{}
	w.Init(fn, opts...)
	return w
}

// Init (re)initialises an idle work item.
func (w *Work) Init(fn WorkFunc, opts ...WorkOption) {
	w.fn = fn
	w.name = ""
	w.color = NoColor
	for _, opt := range opts {
		opt(w)
	}
	if w.name == "" {
		w.name = "work-" + uuid.NewString()[:8]
	}
}

// Name returns the item name.
func (w *Work) Name() string { return w.name }

// Pending reports whether the item is queued, or armed as delayed work, and
// has not started yet.
func (w *Work) Pending() bool { return w.pending.Load() }

func (w *Work) workqueueName() string {
	if cwq := w.cwq.Load(); cwq != nil {
		return cwq.wq.name
	}
	return ""
}
