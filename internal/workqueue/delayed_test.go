package workqueue

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

func newDelayedCounter(runs *atomic.Int32) *DelayedWork {
	return NewDelayedWork(func(*Work) { runs.Add(1) }, WithWorkName("delayed"))
}

func TestDelayed_FiresAfterDelay(t *testing.T) {
	fc := testingclock.NewFakeClock(time.Now())
	wq := newTestWorkqueue(t, "delayed", WithCPUs(2), WithClock(fc))

	var runs atomic.Int32
	d := newDelayedCounter(&runs)
	require.True(t, wq.QueueDelayed(d, 10*time.Second))
	assert.False(t, wq.QueueDelayed(d, time.Second), "already pending")
	assert.False(t, wq.Queue(&d.Work), "already pending")
	assert.True(t, d.Pending())
	assert.True(t, fc.HasWaiters())

	fc.Step(5 * time.Second)
	wq.Flush()
	assert.Zero(t, runs.Load())

	fc.Step(5 * time.Second)
	wq.Flush()
	assert.Equal(t, int32(1), runs.Load())
	assert.False(t, d.Pending())
	assert.False(t, fc.HasWaiters())
}

func TestDelayed_ZeroDelayQueuesNow(t *testing.T) {
	fc := testingclock.NewFakeClock(time.Now())
	wq := newTestWorkqueue(t, "delayed-zero", WithMode(ModeSingleThread), WithClock(fc))

	var runs atomic.Int32
	d := newDelayedCounter(&runs)
	require.True(t, wq.QueueDelayed(d, 0))
	assert.False(t, fc.HasWaiters())
	wq.Flush()
	assert.Equal(t, int32(1), runs.Load())
}

func TestDelayed_CancelBeforeFire(t *testing.T) {
	fc := testingclock.NewFakeClock(time.Now())
	wq := newTestWorkqueue(t, "delayed-cancel", WithCPUs(2), WithClock(fc))

	var runs atomic.Int32
	d := newDelayedCounter(&runs)
	require.True(t, wq.QueueDelayedOn(1, d, time.Minute))

	assert.Equal(t, RemovedPending, d.Cancel())
	assert.False(t, d.Pending())
	assert.False(t, fc.HasWaiters())

	fc.Step(2 * time.Minute)
	wq.Flush()
	assert.Zero(t, runs.Load())

	// re-arm after cancel
	require.True(t, wq.QueueDelayed(d, time.Minute))
	fc.Step(time.Minute)
	wq.Flush()
	assert.Equal(t, int32(1), runs.Load())
}

func TestDelayed_CancelSyncAfterFire(t *testing.T) {
	fc := testingclock.NewFakeClock(time.Now())
	wq := newTestWorkqueue(t, "delayed-sync", WithMode(ModeSingleThread), WithClock(fc))
	b := newBlocker()
	b.queue(t, wq, 0)

	var runs atomic.Int32
	d := newDelayedCounter(&runs)
	require.True(t, wq.QueueDelayed(d, time.Second))
	fc.Step(time.Second)

	// the timer fired and the item sits behind the blocker
	assert.Equal(t, 1, wq.Stats().Pending())
	assert.Equal(t, RemovedPending, d.CancelSync())

	close(b.release)
	wq.Flush()
	assert.Zero(t, runs.Load())
}

func TestDelayed_Flush(t *testing.T) {
	fc := testingclock.NewFakeClock(time.Now())
	wq := newTestWorkqueue(t, "delayed-flush", WithCPUs(2), WithClock(fc))

	var runs atomic.Int32
	d := newDelayedCounter(&runs)
	require.True(t, wq.QueueDelayed(d, time.Hour))

	assert.True(t, d.Flush(), "armed timer is short-circuited")
	assert.Equal(t, int32(1), runs.Load())
	assert.False(t, fc.HasWaiters())

	assert.False(t, d.Flush(), "nothing left to wait for")
}

func TestDelayed_FlushWaitsForFiringTimer(t *testing.T) {
	fc := testingclock.NewFakeClock(time.Now())
	wq := newTestWorkqueue(t, "delayed-firing", WithMode(ModeSingleThread), WithClock(fc))

	var runs atomic.Int32
	d := newDelayedCounter(&runs)
	require.True(t, wq.QueueDelayed(d, time.Hour))
	seq := d.armed.Load()
	cwq := d.target.Load()

	// the queue lock stops the handler after it disarmed the timer and
	// before it links the item
	cwq.mu.Lock()
	go d.fire(seq)
	require.Eventually(t, func() bool { return d.armed.Load() == 0 }, waitFor, time.Millisecond)

	flushed := make(chan struct{})
	go func() {
		d.Flush()
		close(flushed)
	}()

	select {
	case <-flushed:
		cwq.mu.Unlock()
		t.Fatal("Flush returned before the fired item was queued")
	case <-time.After(50 * time.Millisecond):
	}
	cwq.mu.Unlock()

	select {
	case <-flushed:
	case <-time.After(waitFor):
		t.Fatal("Flush did not return")
	}
	assert.Equal(t, int32(1), runs.Load())
	assert.False(t, d.Pending())
}

func TestDelayed_QueueAfterDestroy(t *testing.T) {
	fc := testingclock.NewFakeClock(time.Now())
	wq, err := New("delayed-dead", WithClock(fc), WithCPUs(1))
	require.NoError(t, err)
	wq.Destroy()

	var runs atomic.Int32
	d := newDelayedCounter(&runs)
	assert.False(t, wq.QueueDelayed(d, time.Second))
	assert.False(t, d.Pending())
	assert.False(t, fc.HasWaiters())
}

func TestDelayed_RealClock(t *testing.T) {
	wq := newTestWorkqueue(t, "delayed-real", WithCPUs(2))

	var runs atomic.Int32
	d := newDelayedCounter(&runs)
	start := time.Now()
	require.True(t, wq.QueueDelayed(d, 20*time.Millisecond))

	assert.Eventually(t, func() bool { return runs.Load() == 1 }, waitFor, time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}
