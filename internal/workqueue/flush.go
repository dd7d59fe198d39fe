package workqueue

import (
	"container/list"
	"time"

	"github.com/aatumaykin/deferq/internal/logger"
)

type flusher struct {
	color int
	done  chan struct{}
	elem  *list.Element
	// leader is set before done is closed when this flusher must cascade.
	leader bool
}

func newFlusher() *flusher {
	return &flusher{color: -1, done: make(chan struct{})}
}

func (f *flusher) complete(leader bool) {
	f.leader = leader
	close(f.done)
}

// prepCwqs arms the queues for flushColor (if >= 0) and moves their work color
// to workColor (if >= 0). Caller holds flushMu. With flushColor >= 0 it
// reports whether any queue had items of that color in flight; when all armed
// queues drain before it returns, the first flusher is released here.
func (wq *Workqueue) prepCwqs(flushColor, workColor int) bool {
	if flushColor >= 0 {
		if wq.nrCwqsToFlush.Load() != 0 {
			bug("flush of color %d prepared while another is active", flushColor)
		}
		wq.nrCwqsToFlush.Store(1)
	}

	wait := false
	for _, cwq := range wq.cwqs {
		cwq.mu.Lock()
		if flushColor >= 0 {
			if cwq.flushColor != -1 {
				cwq.mu.Unlock()
				bug("queue %d already flushing color %d", cwq.cpu, cwq.flushColor)
			}
			if cwq.nrInFlight[flushColor] > 0 {
				cwq.flushColor = flushColor
				wq.nrCwqsToFlush.Add(1)
				wait = true
			}
		}
		if workColor >= 0 {
			if workColor != wq.nextColor(cwq.workColor) {
				cwq.mu.Unlock()
				bug("queue %d work color %d cannot advance to %d", cwq.cpu, cwq.workColor, workColor)
			}
			cwq.workColor = workColor
		}
		cwq.mu.Unlock()
	}

	if flushColor >= 0 && wq.nrCwqsToFlush.Add(-1) == 0 && wait {
		wq.firstFlusher.Load().complete(true)
	}
	return wait
}

// Flush blocks until every item queued before the call has finished. Items
// queued while Flush waits are not waited for.
func (wq *Workqueue) Flush() {
	start := time.Now()
	defer func() { wq.observer.Flushed(wq.name, time.Since(start)) }()

	f := newFlusher()

	wq.flushMu.Lock()
	next := wq.nextColor(wq.workColor)
	if next != wq.flushColor {
		if wq.flusherOverflow.Len() != 0 {
			wq.flushMu.Unlock()
			bug("flush color available with overflow flushers waiting")
		}
		f.color = wq.workColor
		wq.workColor = next

		if wq.firstFlusher.Load() == nil {
			if wq.flushColor != f.color {
				wq.flushMu.Unlock()
				bug("first flusher color %d, flush color %d", f.color, wq.flushColor)
			}
			wq.firstFlusher.Store(f)
			if !wq.prepCwqs(wq.flushColor, wq.workColor) {
				// nothing in flight
				wq.flushColor = next
				wq.firstFlusher.Store(nil)
				wq.flushMu.Unlock()
				return
			}
		} else {
			f.elem = wq.flusherQueue.PushBack(f)
			wq.prepCwqs(-1, wq.workColor)
		}
	} else {
		// every color is claimed; share a color with the next batch
		f.elem = wq.flusherOverflow.PushBack(f)
	}
	wq.flushMu.Unlock()

	<-f.done
	if !f.leader {
		return
	}
	wq.cascade(f)
}

// cascade is run by the first flusher once its color has drained: it releases
// the flushers sharing that color, hands a fresh color to overflow flushers
// and makes the next waiting flusher the first one.
func (wq *Workqueue) cascade(f *flusher) {
	wq.flushMu.Lock()
	defer wq.flushMu.Unlock()

	wq.firstFlusher.Store(nil)
	if f.elem != nil || wq.flushColor != f.color {
		bug("first flusher of color %d out of sync (flush color %d)", f.color, wq.flushColor)
	}

	for {
		for e := wq.flusherQueue.Front(); e != nil; {
			next := e.Next()
			nf := e.Value.(*flusher)
			if nf.color != wq.flushColor {
				break
			}
			wq.flusherQueue.Remove(e)
			nf.elem = nil
			nf.complete(false)
			e = next
		}

		if wq.flusherOverflow.Len() != 0 && wq.flushColor != wq.nextColor(wq.workColor) {
			bug("overflow flushers waiting with free colors")
		}
		wq.flushColor = wq.nextColor(wq.flushColor)

		if wq.flusherOverflow.Len() != 0 {
			for e := wq.flusherOverflow.Front(); e != nil; e = wq.flusherOverflow.Front() {
				of := wq.flusherOverflow.Remove(e).(*flusher)
				of.color = wq.workColor
				of.elem = wq.flusherQueue.PushBack(of)
			}
			wq.workColor = wq.nextColor(wq.workColor)
			wq.prepCwqs(-1, wq.workColor)
		}

		if wq.flusherQueue.Len() == 0 {
			if wq.flushColor != wq.workColor {
				bug("flush queue empty with flush color %d, work color %d", wq.flushColor, wq.workColor)
			}
			break
		}
		if wq.flushColor == wq.workColor {
			bug("flushers waiting with no color in flight")
		}

		nf := wq.flusherQueue.Remove(wq.flusherQueue.Front()).(*flusher)
		nf.elem = nil
		if nf.color != wq.flushColor {
			bug("next flusher color %d, flush color %d", nf.color, wq.flushColor)
		}

		wq.firstFlusher.Store(nf)
		if wq.prepCwqs(wq.flushColor, -1) {
			wq.logger.Debug("flush handed over", logger.Field{Key: "color", Value: nf.color})
			break
		}
		// that color had already drained
		wq.firstFlusher.Store(nil)
		nf.complete(false)
	}
}

// FlushPhase is the state of the flush machinery.
type FlushPhase int

const (
	FlushIdle FlushPhase = iota
	FlushDraining
)

func (p FlushPhase) String() string {
	if p == FlushDraining {
		return "draining"
	}
	return "idle"
}

// FlushState is a snapshot of the flush machinery. When idle, WorkColor equals
// FlushColor and no flusher waits.
type FlushState struct {
	Phase      FlushPhase
	WorkColor  int
	FlushColor int
	Waiting    int
	Overflow   int
}

func (wq *Workqueue) FlushState() FlushState {
	wq.flushMu.Lock()
	defer wq.flushMu.Unlock()

	st := FlushState{
		Phase:      FlushIdle,
		WorkColor:  wq.workColor,
		FlushColor: wq.flushColor,
		Waiting:    wq.flusherQueue.Len(),
		Overflow:   wq.flusherOverflow.Len(),
	}
	if wq.firstFlusher.Load() != nil {
		st.Phase = FlushDraining
	}
	return st
}
