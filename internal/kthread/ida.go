package kthread

import (
	"fmt"
	"sync"
)

// DefaultMaxThreadsPerCPU bounds the ids handed out per CPU by the default
// allocator.
const DefaultMaxThreadsPerCPU = 1024

var defaultAllocator = NewIDAllocator(DefaultMaxThreadsPerCPU)

// IDAllocator hands out the lowest free thread id per CPU, up to a limit.
type IDAllocator struct {
	mu    sync.Mutex
	limit int
	used  map[int]map[int]struct{}
}

// NewIDAllocator creates an allocator that allows at most limit live ids per CPU.
func NewIDAllocator(limit int) *IDAllocator {
	return &IDAllocator{
		limit: limit,
		used:  make(map[int]map[int]struct{}),
	}
}

// Get reserves an id on cpu.
func (a *IDAllocator) Get(cpu int) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ids := a.used[cpu]
	if ids == nil {
		ids = make(map[int]struct{})
		a.used[cpu] = ids
	}
	for id := 0; id < a.limit; id++ {
		if _, taken := ids[id]; !taken {
			ids[id] = struct{}{}
			return id, nil
		}
	}
	return -1, fmt.Errorf("%w: cpu %d has %d live threads", ErrTooManyThreads, cpu, a.limit)
}

// Put releases an id obtained from Get.
func (a *IDAllocator) Put(cpu, id int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if ids := a.used[cpu]; ids != nil {
		delete(ids, id)
		if len(ids) == 0 {
			delete(a.used, cpu)
		}
	}
}

// InUse returns the number of live ids on cpu.
func (a *IDAllocator) InUse(cpu int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.used[cpu])
}
