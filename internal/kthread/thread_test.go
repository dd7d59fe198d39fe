package kthread

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// parker is a minimal park/unpark loop in the shape workers use.
type parker struct {
	mu   sync.Mutex
	cond *sync.Cond
	jobs int
	ran  atomic.Int32
}

func newParker() *parker {
	p := &parker{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

func (p *parker) loop(t *Thread) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		for p.jobs == 0 && !t.ShouldStop() {
			p.cond.Wait()
		}
		if t.ShouldStop() {
			return
		}
		p.jobs--
		p.ran.Add(1)
	}
}

func (p *parker) wake() {
	p.mu.Lock()
	p.cond.Broadcast()
	p.mu.Unlock()
}

func (p *parker) push() {
	p.mu.Lock()
	p.jobs++
	p.cond.Signal()
	p.mu.Unlock()
}

func TestCreate_NamesAndIDs(t *testing.T) {
	alloc := NewIDAllocator(4)
	noop := func(*Thread) {}

	a, err := Create("events", 0, noop, WithAllocator(alloc))
	require.NoError(t, err)
	b, err := Create("events", 0, noop, WithAllocator(alloc))
	require.NoError(t, err)

	assert.Equal(t, "events/0:0", a.Name())
	assert.Equal(t, "events/0:1", b.Name())
	assert.Equal(t, 2, alloc.InUse(0))

	a.Stop(nil)
	b.Stop(nil)
	assert.Equal(t, 0, alloc.InUse(0))
}

func TestCreate_Exhausted(t *testing.T) {
	alloc := NewIDAllocator(1)
	noop := func(*Thread) {}

	first, err := Create("wq", 0, noop, WithAllocator(alloc))
	require.NoError(t, err)
	defer first.Stop(nil)

	_, err = Create("wq", 0, noop, WithAllocator(alloc))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTooManyThreads))

	other, err := Create("wq", 1, noop, WithAllocator(alloc))
	require.NoError(t, err, "limit is per cpu")
	other.Stop(nil)
}

func TestCreate_NilFunc(t *testing.T) {
	_, err := Create("wq", 0, nil)
	assert.Error(t, err)
}

func TestThread_StartStop(t *testing.T) {
	p := newParker()
	th, err := Create("wq", 0, p.loop, WithAllocator(NewIDAllocator(2)))
	require.NoError(t, err)

	th.Start()
	th.Start()

	for i := 0; i < 5; i++ {
		p.push()
	}
	assert.Eventually(t, func() bool { return p.ran.Load() == 5 }, 2*time.Second, time.Millisecond)

	th.Stop(p.wake)
	select {
	case <-th.Done():
	default:
		t.Fatal("Stop returned before the thread exited")
	}
	assert.True(t, th.ShouldStop())
}

func TestThread_StopWithoutStart(t *testing.T) {
	alloc := NewIDAllocator(1)
	var ran atomic.Bool
	th, err := Create("wq", 0, func(*Thread) { ran.Store(true) }, WithAllocator(alloc))
	require.NoError(t, err)

	th.Stop(nil)
	th.Start()

	<-th.Done()
	assert.False(t, ran.Load())
	assert.Equal(t, 0, alloc.InUse(0))
}

func TestThread_Bind(t *testing.T) {
	alloc := NewIDAllocator(2)
	cpuSeen := make(chan int, 1)
	th, err := Create("bound", 0, func(t *Thread) { cpuSeen <- t.CPU() }, WithAllocator(alloc))
	require.NoError(t, err)

	err = th.Bind(runtime.NumCPU())
	assert.True(t, errors.Is(err, ErrInvalidCPU))

	require.NoError(t, th.Bind(0))
	assert.True(t, th.Bound())
	th.Start()
	assert.Equal(t, 0, <-cpuSeen)
	th.Stop(nil)

	assert.Error(t, th.Bind(0), "bind after start")
}

func TestThread_BindOtherCPU(t *testing.T) {
	alloc := NewIDAllocator(1)
	th, err := Create("bound", 0, func(*Thread) {}, WithAllocator(alloc))
	require.NoError(t, err)

	err = th.Bind(1)
	assert.True(t, errors.Is(err, ErrInvalidCPU))
	assert.False(t, th.Bound())
	assert.Equal(t, 0, th.CPU())

	th.Stop(nil)
	assert.Equal(t, 0, alloc.InUse(0))
	assert.Equal(t, 0, alloc.InUse(1))
}

func TestFreezer_ParksAndThaws(t *testing.T) {
	f := NewFreezer()
	var passes atomic.Int32
	gate := make(chan struct{})

	th, err := Create("frozen", 0, func(t *Thread) {
		for !t.ShouldStop() {
			<-gate
			t.TryToFreeze()
			passes.Add(1)
		}
	}, WithAllocator(NewIDAllocator(1)), WithFreezer(f))
	require.NoError(t, err)
	th.Start()

	f.Freeze()
	assert.True(t, th.Freezing())
	gate <- struct{}{}
	assert.Eventually(t, func() bool { return f.Parked() == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, int32(0), passes.Load())

	f.Thaw()
	assert.Eventually(t, func() bool { return passes.Load() == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, 0, f.Parked())

	f.Freeze()
	gate <- struct{}{}
	assert.Eventually(t, func() bool { return f.Parked() == 1 }, 2*time.Second, time.Millisecond)

	// Stop must get a frozen thread out of the freezer.
	close(gate)
	th.Stop(nil)
	assert.Equal(t, 0, f.Parked())
	assert.True(t, f.Frozen())
}

func TestTryToFreeze_NoFreezer(t *testing.T) {
	th, err := Create("plain", 0, func(*Thread) {}, WithAllocator(NewIDAllocator(1)))
	require.NoError(t, err)
	defer th.Stop(nil)

	assert.False(t, th.Freezing())
	assert.False(t, th.TryToFreeze())
}
