package workqueue

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertFlushIdle(t *testing.T, wq *Workqueue) {
	t.Helper()
	st := wq.FlushState()
	assert.Equal(t, FlushIdle, st.Phase)
	assert.Equal(t, st.WorkColor, st.FlushColor)
	assert.Zero(t, st.Waiting)
	assert.Zero(t, st.Overflow)
}

func TestFlush_Empty(t *testing.T) {
	wq := newTestWorkqueue(t, "flush-empty", WithCPUs(2))

	wq.Flush()
	wq.Flush()
	assertFlushIdle(t, wq)
	assert.Equal(t, 2, wq.FlushState().WorkColor, "each flush advances the color")
}

func TestFlush_WaitsForPriorWork(t *testing.T) {
	wq := newTestWorkqueue(t, "flush-prior", WithCPUs(4))

	var runs atomic.Int32
	for i := 0; i < 1000; i++ {
		wq.Queue(NewWork(func(*Work) {
			if i%100 == 0 {
				time.Sleep(time.Millisecond)
			}
			runs.Add(1)
		}))
	}
	wq.Flush()
	assert.Equal(t, int32(1000), runs.Load())
	assertFlushIdle(t, wq)
}

func TestFlush_DoesNotWaitForLaterWork(t *testing.T) {
	wq := newTestWorkqueue(t, "flush-later", WithMode(ModeSingleThread))
	first := newBlocker()
	first.queue(t, wq, 0)

	flushed := make(chan struct{})
	go func() {
		wq.Flush()
		close(flushed)
	}()
	require.Eventually(t, func() bool { return wq.FlushState().Phase == FlushDraining }, waitFor, time.Millisecond)

	later := newBlocker()
	require.True(t, wq.Queue(later.work))

	close(first.release)
	select {
	case <-flushed:
	case <-time.After(waitFor):
		t.Fatal("flush waited for work queued after it started")
	}

	<-later.started
	close(later.release)
	wq.Flush()
	assertFlushIdle(t, wq)
}

func TestFlush_ConcurrentFlushersShareColors(t *testing.T) {
	wq := newTestWorkqueue(t, "flush-many", WithCPUs(2), WithFlushColors(4))
	b := newBlocker()
	b.queue(t, wq, 0)

	var returned atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wq.Flush()
			returned.Add(1)
		}()
	}

	require.Eventually(t, func() bool {
		st := wq.FlushState()
		return st.Waiting+st.Overflow == 7
	}, waitFor, time.Millisecond)
	st := wq.FlushState()
	assert.Equal(t, FlushDraining, st.Phase)
	assert.Equal(t, 2, st.Waiting, "four colors leave room for three flushers")
	assert.Equal(t, 5, st.Overflow)
	assert.Zero(t, returned.Load())

	close(b.release)
	wg.Wait()
	assert.Equal(t, int32(8), returned.Load())
	assertFlushIdle(t, wq)
}

func TestFlush_OverflowWithTwoColors(t *testing.T) {
	wq := newTestWorkqueue(t, "flush-overflow", WithMode(ModeSingleThread), WithFlushColors(2))
	b := newBlocker()
	b.queue(t, wq, 0)

	var returned atomic.Int32
	var wg sync.WaitGroup
	flush := func() {
		defer wg.Done()
		wq.Flush()
		returned.Add(1)
	}

	wg.Add(1)
	go flush()
	require.Eventually(t, func() bool { return wq.FlushState().Phase == FlushDraining }, waitFor, time.Millisecond)

	wg.Add(2)
	go flush()
	go flush()
	require.Eventually(t, func() bool { return wq.FlushState().Overflow == 2 }, waitFor, time.Millisecond)

	// queued after the overflow flushers; they share the next color with it
	var runs atomic.Int32
	wq.Queue(counterWork(&runs))

	close(b.release)
	wg.Wait()
	assert.Equal(t, int32(3), returned.Load())
	assert.Equal(t, int32(1), runs.Load())
	assertFlushIdle(t, wq)
}

// Every item whose Queue call returned before Flush was called must have run
// by the time Flush returns, while producers keep going.
func TestFlush_ConcurrentProducers(t *testing.T) {
	wq := newTestWorkqueue(t, "flush-producers", WithCPUs(4), WithFlushColors(4))

	type item struct {
		work *Work
		done atomic.Bool
	}

	var mu sync.Mutex
	var queued []*item
	stop := make(chan struct{})
	var wg sync.WaitGroup

	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < 5000; n++ {
				select {
				case <-stop:
					return
				default:
				}
				it := &item{}
				it.work = NewWork(func(*Work) { it.done.Store(true) })
				wq.Queue(it.work)
				mu.Lock()
				queued = append(queued, it)
				mu.Unlock()
			}
		}()
	}

	var flushers sync.WaitGroup
	var violations atomic.Int32
	for f := 0; f < 3; f++ {
		flushers.Add(1)
		go func() {
			defer flushers.Done()
			for i := 0; i < 20; i++ {
				mu.Lock()
				snapshot := append([]*item(nil), queued...)
				mu.Unlock()

				wq.Flush()
				for _, it := range snapshot {
					if !it.done.Load() {
						violations.Add(1)
					}
				}
			}
		}()
	}

	flushers.Wait()
	close(stop)
	wg.Wait()
	wq.Flush()

	assert.Zero(t, violations.Load())
	mu.Lock()
	for _, it := range queued {
		assert.True(t, it.done.Load())
	}
	mu.Unlock()
	assertFlushIdle(t, wq)
}

func TestFlush_FromCallbackOfOtherWorkqueue(t *testing.T) {
	target := newTestWorkqueue(t, "flush-target", WithCPUs(2))
	caller := newTestWorkqueue(t, "flush-caller", WithMode(ModeSingleThread))

	var runs atomic.Int32
	for i := 0; i < 10; i++ {
		target.Queue(counterWork(&runs))
	}

	var seen atomic.Int32
	w := NewWork(func(*Work) {
		target.Flush()
		seen.Store(runs.Load())
	})
	caller.Queue(w)
	caller.Flush()
	assert.Equal(t, int32(10), seen.Load())
}
