package workqueue

import (
	"runtime"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"
)

// DelayedWork is a Work that is queued once a timer expires. The queue is
// chosen when the timer is armed.
type DelayedWork struct {
	Work

	seq    atomic.Uint64
	armed  atomic.Uint64 // seq of the live timer, 0 when disarmed
	firing atomic.Int32  // fire handlers between the armed CAS and the link
	timer  atomic.Pointer[timerHandle]
	target atomic.Pointer[cpuWorkqueue]
}

type timerHandle struct {
	t clock.Timer
}

// NewDelayedWork returns an idle delayed work item running fn.
func NewDelayedWork(fn WorkFunc, opts ...WorkOption) *DelayedWork {
	d := &DelayedWork{}
	d.Init(fn, opts...)
	return d
}

// Init (re)initialises an idle delayed work item.
func (d *DelayedWork) Init(fn WorkFunc, opts ...WorkOption) {
	d.Work.Init(fn, opts...)
	d.Work.delayed = d
}

// arm starts the timer. The caller owns the pending bit.
func (d *DelayedWork) arm(cwq *cpuWorkqueue, clk clock.WithDelayedExecution, delay time.Duration) {
	if d.armed.Load() != 0 || d.linked.Load() != nil {
		bug("delayed work %s armed twice", d.name)
	}
	seq := d.seq.Add(1)
	d.target.Store(cwq)
	d.cwq.Store(cwq)
	d.armed.Store(seq)
	t := clk.AfterFunc(delay, func() { d.fire(seq) })
	d.timer.Store(&timerHandle{t: t})
}

func (d *DelayedWork) fire(seq uint64) {
	d.firing.Add(1)
	defer d.firing.Add(-1)

	if !d.armed.CompareAndSwap(seq, 0) {
		return
	}
	d.target.Load().queueWork(&d.Work)
}

// delTimer disarms a live timer. On success the caller owns the pending bit;
// a timer that already fired is left alone.
func (d *DelayedWork) delTimer() bool {
	seq := d.armed.Load()
	if seq == 0 || !d.armed.CompareAndSwap(seq, 0) {
		return false
	}
	if h := d.timer.Load(); h != nil {
		h.t.Stop()
	}
	return true
}

// Flush queues the item immediately if its timer is still armed and then
// waits for it like Work.Flush. A timer that is firing concurrently is waited
// for until the item is on its queue.
func (d *DelayedWork) Flush() bool {
	for {
		if d.delTimer() {
			d.target.Load().queueWork(&d.Work)
			break
		}
		if d.firing.Load() == 0 {
			break
		}
		runtime.Gosched()
	}
	return d.Work.Flush()
}
