package workqueue

import (
	"container/list"
	"sync"

	"github.com/aatumaykin/deferq/internal/logger"
)

// cpuWorkqueue is one queue of a Workqueue: a pending list drained by a single
// worker, plus the per-queue half of the flush color bookkeeping.
type cpuWorkqueue struct {
	mu       sync.Mutex
	moreWork *sync.Cond
	worklist *list.List
	wq       *Workqueue
	cpu      int
	worker   *worker

	workColor  int
	flushColor int
	nrInFlight []int
}

func newCPUWorkqueue(wq *Workqueue, cpu int) *cpuWorkqueue {
	cwq := &cpuWorkqueue{
		worklist:   list.New(),
		wq:         wq,
		cpu:        cpu,
		workColor:  0,
		flushColor: -1,
		nrInFlight: make([]int, wq.nrColors),
	}
	cwq.moreWork = sync.NewCond(&cwq.mu)
	return cwq
}

// link records that e on this queue's list holds w. Caller holds cwq.mu.
func (cwq *cpuWorkqueue) link(w *Work, e *list.Element) {
	w.elem = e
	w.cwq.Store(cwq)
	w.linked.Store(cwq)
	cwq.moreWork.Signal()
}

// unlink removes w from the list. Caller holds cwq.mu.
func (cwq *cpuWorkqueue) unlink(w *Work) {
	cwq.worklist.Remove(w.elem)
	w.elem = nil
	w.linked.Store(nil)
}

// queueWork appends w with the current work color. The caller owns the
// pending bit. Returns false, releasing the bit, if the workqueue is dying.
func (cwq *cpuWorkqueue) queueWork(w *Work) bool {
	wq := cwq.wq
	if wq.dying.Load() {
		w.pending.Store(false)
		wq.logger.Warn("work dropped, workqueue is being destroyed",
			logger.Field{Key: "work", Value: w.name})
		return false
	}

	cwq.mu.Lock()
	if w.linked.Load() != nil {
		cwq.mu.Unlock()
		bug("work %s queued while already linked", w.name)
	}
	color := cwq.workColor
	cwq.nrInFlight[color]++
	w.color = color
	cwq.link(w, cwq.worklist.PushBack(w))
	cwq.mu.Unlock()

	wq.observer.WorkQueued(wq.name)
	return true
}

// decInFlight retires one item of color. When it was the last in-flight item
// of the color being flushed on this queue, the queue stops taking part in the
// flush, and the last such queue releases the first flusher. Caller holds
// cwq.mu.
func (cwq *cpuWorkqueue) decInFlight(color int) {
	if color == NoColor {
		return
	}
	cwq.nrInFlight[color]--
	if cwq.nrInFlight[color] < 0 {
		bug("negative in-flight count for color %d on %s/%d", color, cwq.wq.name, cwq.cpu)
	}

	if cwq.flushColor != color || cwq.nrInFlight[color] > 0 {
		return
	}
	cwq.flushColor = -1

	if cwq.wq.nrCwqsToFlush.Add(-1) == 0 {
		cwq.wq.firstFlusher.Load().complete(true)
	}
}

// barrier is colorless internal work that closes done when it runs.
type barrier struct {
	work Work
	done chan struct{}
}

func newBarrier() *barrier {
	b := &barrier{done: make(chan struct{})}
	b.work.fn = func(*Work) { close(b.done) }
	b.work.name = "barrier"
	b.work.internal = true
	b.work.color = NoColor
	b.work.pending.Store(true)
	return b
}

// insertBarrier links b right after the element after, or at the head of the
// list when after is nil. Caller holds cwq.mu.
func (cwq *cpuWorkqueue) insertBarrier(b *barrier, after *list.Element) {
	var e *list.Element
	if after == nil {
		e = cwq.worklist.PushFront(&b.work)
	} else {
		e = cwq.worklist.InsertAfter(&b.work, after)
	}
	cwq.link(&b.work, e)
}

// waitOnCPUWork waits for w if it is the item currently running here.
func (cwq *cpuWorkqueue) waitOnCPUWork(w *Work) {
	var b *barrier

	cwq.mu.Lock()
	if cwq.worker != nil && cwq.worker.current == w {
		b = newBarrier()
		cwq.insertBarrier(b, nil)
	}
	cwq.mu.Unlock()

	if b != nil {
		<-b.done
	}
}

func (cwq *cpuWorkqueue) wake() {
	cwq.mu.Lock()
	cwq.moreWork.Broadcast()
	cwq.mu.Unlock()
}

// QueueStats is a snapshot of one queue.
type QueueStats struct {
	CPU        int
	Pending    int
	InFlight   []int
	WorkColor  int
	FlushColor int
	Worker     string
	State      WorkerState
	Current    string
	Executed   uint64
}

func (cwq *cpuWorkqueue) stats() QueueStats {
	cwq.mu.Lock()
	defer cwq.mu.Unlock()

	st := QueueStats{
		CPU:        cwq.cpu,
		Pending:    cwq.worklist.Len(),
		InFlight:   append([]int(nil), cwq.nrInFlight...),
		WorkColor:  cwq.workColor,
		FlushColor: cwq.flushColor,
		State:      WorkerStopped,
	}
	if wk := cwq.worker; wk != nil {
		st.Worker = wk.thread.Name()
		st.State = wk.state()
		st.Executed = wk.executed.Load()
		if wk.current != nil {
			st.Current = wk.current.name
		}
	}
	return st
}
