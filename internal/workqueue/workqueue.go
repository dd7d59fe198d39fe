package workqueue

import (
	"container/list"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aatumaykin/deferq/internal/kthread"
	"github.com/aatumaykin/deferq/internal/logger"
	"k8s.io/utils/clock"
)

// Workqueue is a named set of queues with one worker each.
type Workqueue struct {
	name      string
	mode      Mode
	cwqs      []*cpuWorkqueue
	nrColors  int
	logger    *logger.Logger
	clock     clock.WithDelayedExecution
	observer  Observer
	freezer   *kthread.Freezer
	panicHook func(w *Work, r any)
	history   *history
	registry  *Registry

	rr    atomic.Uint64
	dying atomic.Bool

	// flush state, guarded by flushMu
	flushMu         sync.Mutex
	workColor       int
	flushColor      int
	flusherQueue    *list.List
	flusherOverflow *list.List

	nrCwqsToFlush atomic.Int32
	firstFlusher  atomic.Pointer[flusher]
}

// New creates a workqueue and starts its workers. If any worker cannot be
// created the partially built workqueue is torn down and an error returned.
func New(name string, opts ...Option) (*Workqueue, error) {
	name, err := NormalizeName(name)
	if err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.validate(); err != nil {
		return nil, err
	}

	n := o.cpus
	if o.mode.SingleThread() {
		n = 1
	}

	wq := &Workqueue{
		name:            name,
		mode:            o.mode,
		cwqs:            make([]*cpuWorkqueue, n),
		nrColors:        o.colors,
		logger:          o.logger.Named("workqueue").With(logger.Field{Key: "workqueue", Value: name}),
		clock:           o.clock,
		observer:        o.observer,
		freezer:         o.freezer,
		panicHook:       o.panicHook,
		history:         newHistory(o.historyLen),
		flushColor:      0,
		workColor:       0,
		flusherQueue:    list.New(),
		flusherOverflow: list.New(),
	}
	if o.mode.Freezable() && wq.freezer == nil {
		wq.freezer = kthread.NewFreezer()
	}
	for cpu := range wq.cwqs {
		wq.cwqs[cpu] = newCPUWorkqueue(wq, cpu)
	}

	for _, cwq := range wq.cwqs {
		wk, err := newWorker(cwq, &o)
		if err != nil {
			wq.stopWorkers()
			return nil, fmt.Errorf("workqueue %s: create worker for queue %d: %w", name, cwq.cpu, err)
		}
		cwq.mu.Lock()
		cwq.worker = wk
		cwq.mu.Unlock()
		wk.thread.Start()
	}

	wq.logger.Info("workqueue created",
		logger.Field{Key: "mode", Value: o.mode.String()},
		logger.Field{Key: "queues", Value: n},
		logger.Field{Key: "colors", Value: o.colors})
	return wq, nil
}

func (wq *Workqueue) Name() string   { return wq.name }
func (wq *Workqueue) Mode() Mode     { return wq.mode }
func (wq *Workqueue) NumQueues() int { return len(wq.cwqs) }

// Freezer returns the freezer of a freezable workqueue, nil otherwise.
func (wq *Workqueue) Freezer() *kthread.Freezer { return wq.freezer }

func (wq *Workqueue) nextColor(c int) int { return (c + 1) % wq.nrColors }

func (wq *Workqueue) cwqFor(cpu int) *cpuWorkqueue {
	if wq.mode.SingleThread() {
		return wq.cwqs[0]
	}
	if cpu < 0 || cpu >= len(wq.cwqs) {
		panic(fmt.Sprintf("workqueue %s: queue %d out of range [0, %d)", wq.name, cpu, len(wq.cwqs)))
	}
	return wq.cwqs[cpu]
}

func (wq *Workqueue) pickCPU() int {
	if len(wq.cwqs) == 1 {
		return 0
	}
	return int(wq.rr.Add(1) % uint64(len(wq.cwqs)))
}

// Queue submits w to one of the queues. It returns false if w was already
// pending, in which case nothing changes.
func (wq *Workqueue) Queue(w *Work) bool {
	return wq.QueueOn(wq.pickCPU(), w)
}

// QueueOn submits w to queue cpu. In single-thread mode cpu is ignored.
func (wq *Workqueue) QueueOn(cpu int, w *Work) bool {
	cwq := wq.cwqFor(cpu)
	if !w.pending.CompareAndSwap(false, true) {
		return false
	}
	return cwq.queueWork(w)
}

// QueueDelayed submits d after delay. A non-positive delay queues immediately.
func (wq *Workqueue) QueueDelayed(d *DelayedWork, delay time.Duration) bool {
	return wq.QueueDelayedOn(wq.pickCPU(), d, delay)
}

// QueueDelayedOn submits d to queue cpu after delay.
func (wq *Workqueue) QueueDelayedOn(cpu int, d *DelayedWork, delay time.Duration) bool {
	if delay <= 0 {
		return wq.QueueOn(cpu, &d.Work)
	}
	cwq := wq.cwqFor(cpu)
	if !d.pending.CompareAndSwap(false, true) {
		return false
	}
	if wq.dying.Load() {
		d.pending.Store(false)
		return false
	}
	d.arm(cwq, wq.clock, delay)
	return true
}

// Destroy flushes the workqueue, stops its workers and unregisters it.
// Submissions racing with Destroy are dropped. Destroy is idempotent.
func (wq *Workqueue) Destroy() {
	if !wq.dying.CompareAndSwap(false, true) {
		return
	}
	if wq.registry != nil {
		wq.registry.unregister(wq)
	}

	wq.Flush()
	wq.stopWorkers()

	for _, cwq := range wq.cwqs {
		cwq.mu.Lock()
		for color, n := range cwq.nrInFlight {
			if n != 0 {
				cwq.mu.Unlock()
				bug("workqueue %s destroyed with %d items of color %d in flight on queue %d", wq.name, n, color, cwq.cpu)
			}
		}
		cwq.mu.Unlock()
	}
	wq.logger.Info("workqueue destroyed")
}

func (wq *Workqueue) stopWorkers() {
	for _, cwq := range wq.cwqs {
		cwq.mu.Lock()
		wk := cwq.worker
		cwq.mu.Unlock()
		if wk == nil {
			continue
		}
		wk.stop()

		cwq.mu.Lock()
		cwq.worker = nil
		cwq.mu.Unlock()
	}
}

// Stats is a snapshot of a workqueue.
type Stats struct {
	Name   string
	Mode   Mode
	Queues []QueueStats
}

// Pending is the total number of listed items across queues.
func (s Stats) Pending() int {
	total := 0
	for _, q := range s.Queues {
		total += q.Pending
	}
	return total
}

// Executed is the total number of callbacks run across queues.
func (s Stats) Executed() uint64 {
	var total uint64
	for _, q := range s.Queues {
		total += q.Executed
	}
	return total
}

func (wq *Workqueue) Stats() Stats {
	st := Stats{Name: wq.name, Mode: wq.mode, Queues: make([]QueueStats, 0, len(wq.cwqs))}
	for _, cwq := range wq.cwqs {
		st.Queues = append(st.Queues, cwq.stats())
	}
	return st
}

// History returns the names of recently executed items, newest first.
func (wq *Workqueue) History() []string {
	return wq.history.snapshot()
}
