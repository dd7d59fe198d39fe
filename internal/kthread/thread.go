// Package kthread provides the dedicated execution contexts that workqueue
// workers run on: named goroutines optionally locked to an OS thread and pinned
// to a CPU, with cooperative stop and an optional freezer.
//
// A Thread is created stopped, may be bound to a CPU, and then started. Stop
// requests termination, runs the caller's wake function so a parked thread
// notices, and joins.
package kthread

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/aatumaykin/deferq/internal/logger"
)

var (
	// ErrTooManyThreads is returned by Create when the id allocator is exhausted.
	ErrTooManyThreads = errors.New("kthread: too many threads")
	// ErrInvalidCPU is returned when binding to a CPU that does not exist.
	ErrInvalidCPU = errors.New("kthread: invalid cpu")
)

// Func is the body of a thread. It should return once t.ShouldStop() is true.
type Func func(t *Thread)

// Thread is a single dedicated execution context.
type Thread struct {
	name    string
	cpu     int
	id      int
	bound   bool
	fn      Func
	alloc   *IDAllocator
	freezer *Freezer
	logger  *logger.Logger

	started    atomic.Bool
	shouldStop atomic.Bool
	done       chan struct{}
}

// Option configures a Thread at creation time.
type Option func(*Thread)

// WithAllocator overrides the package-wide id allocator.
func WithAllocator(a *IDAllocator) Option {
	return func(t *Thread) {
		t.alloc = a
	}
}

// WithFreezer makes the thread freezable through f.
func WithFreezer(f *Freezer) Option {
	return func(t *Thread) {
		t.freezer = f
	}
}

// WithLogger sets the logger used for affinity failures.
func WithLogger(l *logger.Logger) Option {
	return func(t *Thread) {
		t.logger = l
	}
}

// Create allocates a thread named "<prefix>/<cpu>:<id>" without starting it.
func Create(prefix string, cpu int, fn Func, opts ...Option) (*Thread, error) {
	if fn == nil {
		return nil, errors.New("kthread: nil thread function")
	}

	t := &Thread{
		cpu:    cpu,
		fn:     fn,
		alloc:  defaultAllocator,
		logger: logger.Nop(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	id, err := t.alloc.Get(cpu)
	if err != nil {
		return nil, err
	}
	t.id = id
	t.name = fmt.Sprintf("%s/%d:%d", prefix, cpu, id)
	return t, nil
}

// Bind pins the thread to cpu once it starts. Must be called before Start,
// with the cpu the thread was created for.
func (t *Thread) Bind(cpu int) error {
	if cpu != t.cpu {
		return fmt.Errorf("%w: %s was created for cpu %d, not %d", ErrInvalidCPU, t.name, t.cpu, cpu)
	}
	if cpu < 0 || cpu >= runtime.NumCPU() {
		return fmt.Errorf("%w: %d (have %d)", ErrInvalidCPU, cpu, runtime.NumCPU())
	}
	if t.started.Load() {
		return fmt.Errorf("kthread: bind %s after start", t.name)
	}
	t.bound = true
	return nil
}

// Start launches the thread body. Calling it twice is a no-op.
func (t *Thread) Start() {
	if !t.started.CompareAndSwap(false, true) {
		return
	}
	go t.run()
}

func (t *Thread) run() {
	defer t.release()

	if t.bound {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		if err := setAffinity(t.cpu); err != nil {
			t.logger.Warn("failed to set cpu affinity", logger.Field{Key: "thread", Value: t.name},
				logger.Field{Key: "cpu", Value: t.cpu}, logger.Field{Key: "error", Value: err})
		}
	}

	t.fn(t)
}

func (t *Thread) release() {
	t.alloc.Put(t.cpu, t.id)
	close(t.done)
}

// ShouldStop reports whether Stop has been requested.
func (t *Thread) ShouldStop() bool {
	return t.shouldStop.Load()
}

// Stop requests termination, calls wake so a parked body can observe the
// request, and blocks until the body returns. A thread that was never started
// is released without running.
func (t *Thread) Stop(wake func()) {
	t.shouldStop.Store(true)

	if t.started.CompareAndSwap(false, true) {
		t.release()
		return
	}

	if t.freezer != nil {
		t.freezer.kick()
	}
	if wake != nil {
		wake()
	}
	<-t.done
}

// TryToFreeze parks the thread while its freezer is frozen. It returns true if
// the thread was parked.
func (t *Thread) TryToFreeze() bool {
	if t.freezer == nil {
		return false
	}
	return t.freezer.refrigerate(t)
}

// Freezing reports whether the thread should enter the freezer.
func (t *Thread) Freezing() bool {
	return t.freezer != nil && t.freezer.Frozen()
}

// Done is closed once the thread body has returned.
func (t *Thread) Done() <-chan struct{} {
	return t.done
}

func (t *Thread) Name() string { return t.name }
func (t *Thread) ID() int      { return t.id }
func (t *Thread) CPU() int     { return t.cpu }
func (t *Thread) Bound() bool  { return t.bound }
