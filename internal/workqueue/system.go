package workqueue

import (
	"fmt"
	"time"

	"github.com/aatumaykin/deferq/internal/kthread"
)

// SystemName is the name of the shared workqueue.
const SystemName = "events"

// System is the shared workqueue for callers that do not need their own.
type System struct {
	wq *Workqueue
}

// NewSystem creates the shared "events" workqueue.
func NewSystem(opts ...Option) (*System, error) {
	wq, err := New(SystemName, opts...)
	if err != nil {
		return nil, err
	}
	return &System{wq: wq}, nil
}

func (s *System) Workqueue() *Workqueue { return s.wq }

func (s *System) Schedule(w *Work) bool { return s.wq.Queue(w) }

func (s *System) ScheduleOn(cpu int, w *Work) bool { return s.wq.QueueOn(cpu, w) }

func (s *System) ScheduleDelayed(d *DelayedWork, delay time.Duration) bool {
	return s.wq.QueueDelayed(d, delay)
}

func (s *System) ScheduleDelayedOn(cpu int, d *DelayedWork, delay time.Duration) bool {
	return s.wq.QueueDelayedOn(cpu, d, delay)
}

// FlushScheduled waits for everything scheduled on the shared workqueue.
func (s *System) FlushScheduled() { s.wq.Flush() }

// ScheduleOnEachCPU runs fn once on every queue of the shared workqueue and
// waits for all of them.
func (s *System) ScheduleOnEachCPU(fn WorkFunc) { s.wq.ScheduleOnEachCPU(fn) }

func (s *System) Destroy() { s.wq.Destroy() }

// ScheduleOnEachCPU runs fn once on every queue and waits for all runs to
// finish. It must not be called from a callback of wq.
func (wq *Workqueue) ScheduleOnEachCPU(fn WorkFunc) {
	works := make([]*Work, len(wq.cwqs))
	for cpu := range wq.cwqs {
		works[cpu] = NewWork(fn, WithWorkName(fmt.Sprintf("%s-each-%d", wq.name, cpu)))
		wq.QueueOn(cpu, works[cpu])
	}
	for _, w := range works {
		w.Flush()
	}
}

// WorkOnCPU runs fn on a dedicated thread bound to cpu and returns its error.
func WorkOnCPU(cpu int, fn func() error) error {
	var err error
	t, cerr := kthread.Create("work_on_cpu", cpu, func(*kthread.Thread) { err = fn() })
	if cerr != nil {
		return cerr
	}
	if berr := t.Bind(cpu); berr != nil {
		t.Stop(nil)
		return berr
	}
	t.Start()
	<-t.Done()
	return err
}
