// Package cron provides types and helper functions for cron jobs.
package cron

import (
	"errors"
	"time"

	"github.com/aatumaykin/deferq/internal/retry"
	"github.com/google/uuid"
)

var (
	ErrJobNotFound       = errors.New("cron: job not found")
	ErrJobExists         = errors.New("cron: job already exists")
	ErrUnknownWorkqueue  = errors.New("cron: unknown workqueue")
	ErrSchedulerStarted  = errors.New("cron: scheduler already started")
	ErrSchedulerStopped  = errors.New("cron: scheduler not started")
	ErrInvalidExpression = errors.New("cron: invalid cron expression")
)

// JobType represents the type of a cron job
type JobType string

const (
	// JobTypeRecurring is a repeating job that runs on a schedule
	JobTypeRecurring JobType = "recurring"
	// JobTypeOneshot runs once, Delay after the scheduler starts
	JobTypeOneshot JobType = "oneshot"
)

// Job represents a scheduled job. Each run is a work item queued on Workqueue.
type Job struct {
	ID        string        `json:"id"`                // Unique job identifier
	Type      JobType       `json:"type"`              // recurring or oneshot; inferred when empty
	Workqueue string        `json:"workqueue"`         // Target workqueue name
	Schedule  string        `json:"schedule"`          // Cron expression (e.g., "*/5 * * * * *")
	Delay     time.Duration `json:"delay,omitempty"`   // Delay for oneshot jobs
	Command   string        `json:"command"`           // Shell command to run
	Timeout   time.Duration `json:"timeout,omitempty"` // Per-run timeout, zero for none

	// Retries is the number of extra runs after a retryable failure, spaced by
	// exponential backoff starting at RetryBackoff.
	Retries      int           `json:"retries,omitempty"`
	RetryBackoff time.Duration `json:"retry_backoff,omitempty"`
}

func (j Job) retryPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: j.Retries + 1, InitialBackoff: j.RetryBackoff}
}

// Status is the runtime state of a job.
type Status struct {
	Job       Job
	Runs      int64
	Coalesced int64
	Retries   int64
	LastRun   time.Time
	LastError error
}

// normalize fills the ID and infers the type.
func (j Job) normalize() Job {
	if j.ID == "" {
		j.ID = generateJobID()
	}
	if j.Type == "" {
		if j.Schedule != "" {
			j.Type = JobTypeRecurring
		} else {
			j.Type = JobTypeOneshot
		}
	}
	return j
}

// generateJobID generates a unique job ID
func generateJobID() string {
	return "job-" + uuid.NewString()
}
