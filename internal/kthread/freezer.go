package kthread

import "sync"

// Freezer parks freezable threads between units of work. Freeze only takes
// effect when a thread reaches TryToFreeze; work already running is not
// interrupted.
type Freezer struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frozen bool
	parked int
}

// NewFreezer returns a thawed freezer.
func NewFreezer() *Freezer {
	f := &Freezer{}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Freeze makes threads park at their next TryToFreeze.
func (f *Freezer) Freeze() {
	f.mu.Lock()
	f.frozen = true
	f.mu.Unlock()
}

// Thaw releases all parked threads.
func (f *Freezer) Thaw() {
	f.mu.Lock()
	f.frozen = false
	f.cond.Broadcast()
	f.mu.Unlock()
}

// Frozen reports whether the freezer is engaged.
func (f *Freezer) Frozen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frozen
}

// Parked returns the number of threads currently parked.
func (f *Freezer) Parked() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.parked
}

func (f *Freezer) refrigerate(t *Thread) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.frozen || t.ShouldStop() {
		return false
	}

	f.parked++
	for f.frozen && !t.ShouldStop() {
		f.cond.Wait()
	}
	f.parked--
	return true
}

// kick wakes parked threads so they can re-check their stop flag.
func (f *Freezer) kick() {
	f.mu.Lock()
	f.cond.Broadcast()
	f.mu.Unlock()
}
