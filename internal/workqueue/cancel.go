package workqueue

import (
	"container/list"
	"runtime"
)

// tryGrabPending takes ownership of the pending bit. It returns 0 if the item
// was idle, 1 if it was taken off a pending list, and -1 if it is in a
// transient state (being queued or armed) and the caller should retry.
func (w *Work) tryGrabPending() int {
	if w.pending.CompareAndSwap(false, true) {
		return 0
	}

	cwq := w.cwq.Load()
	if cwq == nil {
		return -1
	}

	ret := -1
	cwq.mu.Lock()
	if w.linked.Load() == cwq {
		cwq.unlink(w)
		cwq.decInFlight(w.color)
		ret = 1
	}
	cwq.mu.Unlock()

	if ret == 1 {
		cwq.wq.observer.WorkCancelled(cwq.wq.name, true)
	}
	return ret
}

func (w *Work) grab(wait bool) int {
	for {
		var ret int
		if d := w.delayed; d != nil && d.delTimer() {
			ret = 1
			if cwq := d.target.Load(); cwq != nil {
				cwq.wq.observer.WorkCancelled(cwq.wq.name, false)
			}
		} else {
			ret = w.tryGrabPending()
		}
		if wait {
			w.waitOnWork()
		}
		if ret >= 0 {
			return ret
		}
		runtime.Gosched()
	}
}

// Cancel removes w from its pending list or disarms its timer. A callback that
// is already running is not waited for.
func (w *Work) Cancel() Outcome {
	ret := w.grab(false)
	w.pending.Store(false)
	if ret == 1 {
		return RemovedPending
	}
	return NotFound
}

// CancelSync is Cancel followed by waiting for a running callback of w. On
// return w is idle and its callback is not running on any queue, unless w is
// re-queued concurrently.
func (w *Work) CancelSync() Outcome {
	ret := w.grab(true)
	w.cwq.Store(nil)
	w.pending.Store(false)
	if ret == 1 {
		return RemovedPending
	}
	return NotFound
}

// waitOnWork waits for w on every queue of the workqueue it was last queued on.
func (w *Work) waitOnWork() {
	cwq := w.cwq.Load()
	if cwq == nil {
		return
	}
	for _, c := range cwq.wq.cwqs {
		c.waitOnCPUWork(w)
	}
}

// Flush waits until w, as queued before the call, has finished running. It
// returns false if w was neither pending on its queue nor running.
func (w *Work) Flush() bool {
	cwq := w.cwq.Load()
	if cwq == nil {
		return false
	}

	cwq.mu.Lock()
	var after *list.Element
	if w.linked.Load() == cwq {
		after = w.elem
	} else if cwq.worker == nil || cwq.worker.current != w {
		cwq.mu.Unlock()
		return false
	}
	b := newBarrier()
	cwq.insertBarrier(b, after)
	cwq.mu.Unlock()

	<-b.done
	return true
}
