package workqueue

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/aatumaykin/deferq/internal/kthread"
	"github.com/aatumaykin/deferq/internal/logger"
)

// WorkerState describes what a worker is doing.
type WorkerState int32

const (
	WorkerIdle WorkerState = iota
	WorkerRunning
	WorkerFrozen
	WorkerStopped
)

func (s WorkerState) String() string {
	switch s {
	case WorkerIdle:
		return "idle"
	case WorkerRunning:
		return "running"
	case WorkerFrozen:
		return "frozen"
	default:
		return "stopped"
	}
}

type worker struct {
	cwq    *cpuWorkqueue
	thread *kthread.Thread
	logger *logger.Logger

	current  *Work // guarded by cwq.mu
	st       atomic.Int32
	executed atomic.Uint64
}

func newWorker(cwq *cpuWorkqueue, o *options) (*worker, error) {
	wk := &worker{cwq: cwq}
	wk.st.Store(int32(WorkerIdle))

	topts := []kthread.Option{kthread.WithLogger(o.logger)}
	if o.allocator != nil {
		topts = append(topts, kthread.WithAllocator(o.allocator))
	}
	if o.mode.Freezable() {
		topts = append(topts, kthread.WithFreezer(cwq.wq.freezer))
	}

	t, err := kthread.Create(cwq.wq.name, cwq.cpu, wk.run, topts...)
	if err != nil {
		return nil, err
	}
	if o.bindCPUs && !o.mode.SingleThread() {
		if err := t.Bind(cwq.cpu); err != nil {
			t.Stop(nil)
			return nil, err
		}
	}

	wk.thread = t
	wk.logger = cwq.wq.logger.With(logger.Field{Key: "worker", Value: t.Name()})
	return wk, nil
}

func (wk *worker) state() WorkerState { return WorkerState(wk.st.Load()) }

func (wk *worker) stop() {
	wk.thread.Stop(wk.cwq.wake)
	wk.st.Store(int32(WorkerStopped))
}

func (wk *worker) run(t *kthread.Thread) {
	cwq := wk.cwq
	wk.logger.Debug("worker started", logger.Field{Key: "bound", Value: t.Bound()})

	for {
		cwq.mu.Lock()
		for !t.Freezing() && !t.ShouldStop() && cwq.worklist.Len() == 0 {
			wk.st.Store(int32(WorkerIdle))
			cwq.moreWork.Wait()
		}
		cwq.mu.Unlock()

		if t.Freezing() {
			wk.st.Store(int32(WorkerFrozen))
			t.TryToFreeze()
		}
		if t.ShouldStop() {
			break
		}
		wk.runWorkqueue()
	}

	wk.logger.Debug("worker stopped", logger.Field{Key: "executed", Value: wk.executed.Load()})
}

// runWorkqueue drains the list in order, stepping out early to let a
// freezable worker park.
func (wk *worker) runWorkqueue() {
	cwq := wk.cwq
	cwq.mu.Lock()
	for cwq.worklist.Len() > 0 {
		if wk.thread.Freezing() {
			break
		}
		w := cwq.worklist.Front().Value.(*Work)
		wk.processOne(w)
	}
	cwq.mu.Unlock()
}

// processOne runs w. Called and returns with cwq.mu held; the callback itself
// runs unlocked.
func (wk *worker) processOne(w *Work) {
	cwq := wk.cwq
	wq := cwq.wq

	fn, name, internal, color := w.fn, w.name, w.internal, w.color
	wk.current = w
	cwq.unlink(w)
	cwq.mu.Unlock()

	wk.st.Store(int32(WorkerRunning))
	w.pending.Store(false)

	start := time.Now()
	wk.execute(w, fn, name)
	elapsed := time.Since(start)

	if !internal {
		wk.executed.Add(1)
		wq.history.record(name)
		wq.observer.WorkExecuted(wq.name, elapsed)
		if wk.logger.Enabled(slog.LevelDebug) {
			wk.logger.Debug("work executed",
				logger.Field{Key: "work", Value: name},
				logger.Field{Key: "duration", Value: elapsed})
		}
	}

	cwq.mu.Lock()
	wk.current = nil
	cwq.decInFlight(color)
}

func (wk *worker) execute(w *Work, fn WorkFunc, name string) {
	defer func() {
		if r := recover(); r != nil {
			wk.logger.Error("work function panicked", fmt.Errorf("panic: %v", r),
				logger.Field{Key: "work", Value: name},
				logger.Field{Key: "stack", Value: string(debug.Stack())})
			if hook := wk.cwq.wq.panicHook; hook != nil {
				hook(w, r)
			}
			panic(r)
		}
	}()
	fn(w)
}
