//go:build !linux

package kthread

// setAffinity is a no-op where the platform offers no per-thread affinity call;
// the goroutine still stays locked to one OS thread.
func setAffinity(cpu int) error {
	return nil
}
