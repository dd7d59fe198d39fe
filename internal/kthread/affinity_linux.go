//go:build linux

package kthread

import "golang.org/x/sys/unix"

// setAffinity pins the calling OS thread to cpu.
func setAffinity(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	return unix.SchedSetaffinity(0, &set)
}
