package workqueue

import (
	"runtime"
	"strings"

	"github.com/aatumaykin/deferq/internal/kthread"
	"github.com/aatumaykin/deferq/internal/logger"
	"k8s.io/utils/clock"
)

const (
	// MaxFlushColors is the largest supported color space.
	MaxFlushColors = 16
	// DefaultHistoryLen is the number of executed work names remembered.
	DefaultHistoryLen = 20
)

// Mode selects the queue layout and worker behaviour of a Workqueue.
type Mode uint8

const (
	// ModeSingleThread uses one shared queue instead of one per CPU.
	ModeSingleThread Mode = 1 << iota
	// ModeFreezable lets workers park in a freezer between items.
	ModeFreezable
)

// ModePerCPU is the default: one queue and worker per CPU.
const ModePerCPU Mode = 0

func (m Mode) SingleThread() bool { return m&ModeSingleThread != 0 }
func (m Mode) Freezable() bool    { return m&ModeFreezable != 0 }

func (m Mode) String() string {
	parts := []string{"per_cpu"}
	if m.SingleThread() {
		parts[0] = "single_thread"
	}
	if m.Freezable() {
		parts = append(parts, "freezable")
	}
	return strings.Join(parts, "|")
}

// Option configures a Workqueue.
type Option func(*options)

type options struct {
	mode       Mode
	cpus       int
	bindCPUs   bool
	colors     int
	historyLen int
	logger     *logger.Logger
	clock      clock.WithDelayedExecution
	observer   Observer
	freezer    *kthread.Freezer
	allocator  *kthread.IDAllocator
	panicHook  func(w *Work, r any)
}

func defaultOptions() options {
	return options{
		mode:       ModePerCPU,
		cpus:       runtime.NumCPU(),
		colors:     MaxFlushColors,
		historyLen: DefaultHistoryLen,
		logger:     logger.Nop(),
		clock:      clock.RealClock{},
		observer:   nopObserver{},
	}
}

func (o *options) validate() error {
	if o.cpus < 1 {
		return invalidOption("cpus must be >= 1, got %d", o.cpus)
	}
	if o.colors < 2 || o.colors > MaxFlushColors || o.colors&(o.colors-1) != 0 {
		return invalidOption("flush colors must be a power of two in [2, %d], got %d", MaxFlushColors, o.colors)
	}
	if o.historyLen < 0 {
		return invalidOption("history length must be >= 0, got %d", o.historyLen)
	}
	if o.bindCPUs && !o.mode.SingleThread() && o.cpus > runtime.NumCPU() {
		return invalidOption("cannot bind %d queues to %d cpus", o.cpus, runtime.NumCPU())
	}
	if o.logger == nil || o.clock == nil || o.observer == nil {
		return invalidOption("logger, clock and observer must not be nil")
	}
	return nil
}

// WithMode sets the layout flags.
func WithMode(m Mode) Option {
	return func(o *options) { o.mode = m }
}

// WithCPUs sets the number of per-CPU queues. Ignored in single-thread mode.
func WithCPUs(n int) Option {
	return func(o *options) { o.cpus = n }
}

// WithBindCPUs pins each per-CPU worker to its CPU.
func WithBindCPUs(bind bool) Option {
	return func(o *options) { o.bindCPUs = bind }
}

// WithFlushColors sets the size of the flush color space.
func WithFlushColors(n int) Option {
	return func(o *options) { o.colors = n }
}

// WithHistory sets how many executed work names are kept. Zero disables it.
func WithHistory(n int) Option {
	return func(o *options) { o.historyLen = n }
}

// WithLogger sets the structured logger.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock sets the clock that arms delayed-work timers.
func WithClock(c clock.WithDelayedExecution) Option {
	return func(o *options) { o.clock = c }
}

// WithObserver installs instrumentation hooks.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithFreezer sets the freezer used by freezable workqueues.
func WithFreezer(f *kthread.Freezer) Option {
	return func(o *options) { o.freezer = f }
}

// WithThreadAllocator sets the id allocator for worker threads.
func WithThreadAllocator(a *kthread.IDAllocator) Option {
	return func(o *options) { o.allocator = a }
}

// WithPanicHook is called with the work and the recovered value before a
// panicking callback brings the process down.
func WithPanicHook(fn func(w *Work, r any)) Option {
	return func(o *options) { o.panicHook = fn }
}
