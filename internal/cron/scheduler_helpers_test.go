package cron

import (
	"context"
	"sync"

	"github.com/aatumaykin/deferq/internal/logger"
)

// testLogger creates a test logger instance
func testLogger() *logger.Logger {
	log, err := logger.New(logger.Config{
		Level:  "debug",
		Format: "text",
		Output: "stdout",
	})
	if err != nil {
		panic(err)
	}
	return log
}

// stopScheduler stops a scheduler and ignores the error (for use in defer in tests)
func stopScheduler(s *Scheduler) {
	_ = s.Stop()
}

// recordingExecutor counts runs per job and can block them.
type recordingExecutor struct {
	mu      sync.Mutex
	runs    map[string]int
	gate    chan struct{}
	err     error
	entered chan string
	ran     chan string
}

func newRecordingExecutor() *recordingExecutor {
	return &recordingExecutor{
		runs:    make(map[string]int),
		entered: make(chan string, 100),
		ran:     make(chan string, 100),
	}
}

func (r *recordingExecutor) Execute(ctx context.Context, job Job) ([]byte, error) {
	r.entered <- job.ID
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	r.mu.Lock()
	r.runs[job.ID]++
	r.mu.Unlock()
	r.ran <- job.ID
	return []byte("ok"), r.err
}

func (r *recordingExecutor) count(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[id]
}
