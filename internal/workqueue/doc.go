// Package workqueue is a deferred-work execution engine.
//
// Callers hand small units of work (Work) to a Workqueue. Each Workqueue owns
// one or more queues; every queue has an ordered pending list and exactly one
// dedicated worker thread that runs items in submission order. Work can be
// submitted after a delay (DelayedWork), cancelled before it starts, and
// flushed: Flush blocks until everything submitted before the call has
// finished, while producers keep submitting concurrently.
//
// # Quick Start
//
//	wq, err := workqueue.New("events", workqueue.WithLogger(log))
//	if err != nil {
//	    return err
//	}
//	defer wq.Destroy()
//
//	w := workqueue.NewWork(func(*workqueue.Work) {
//	    refreshCache()
//	}, workqueue.WithWorkName("refresh-cache"))
//
//	wq.Queue(w) // false if w is already pending
//	wq.Flush()  // refreshCache has returned
//
// # Queues
//
// In the default per-CPU mode a Workqueue has one queue per CPU (or per
// WithCPUs shard). Queue spreads items over the queues round-robin; QueueOn
// targets one queue. Items on the same queue run strictly in FIFO order, items
// on different queues run in parallel with no relative ordering. With
// ModeSingleThread every item lands on the single queue.
//
// # Flushing
//
// Every queued item is tagged with the workqueue's current work color. Flush
// claims that color, advances the work color so that new submissions fall
// outside its wait set, and waits until no item of the claimed color is in
// flight on any queue. Concurrent flushes are coalesced: each claims the next
// color and is released by the flusher that retires its color. When all colors
// are claimed, further flushers wait on an overflow list and later share a
// single fresh color.
//
// # Cancellation
//
// Work.Cancel removes a pending item so that it never starts. Work.CancelSync
// additionally waits for a callback that has already started. Work.Flush waits
// for one item rather than the whole workqueue. Both use barrier items: internal
// colorless work inserted right behind the item of interest.
//
// # Callbacks
//
// Callbacks run without any queue lock held, so they may queue further work,
// cancel or flush other items and flush other workqueues. A callback must not
// flush its own workqueue or CancelSync itself; both wait on the callback that
// is making the call. A panic in a callback is logged and then re-raised: it
// terminates the process.
package workqueue
