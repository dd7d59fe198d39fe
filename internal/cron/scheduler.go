// Package cron provides a cron scheduler that turns schedules into deferred
// work. It uses robfig/cron/v3 for the timing; each tick queues the job's work
// item on its workqueue, where the job command runs. A tick that finds the
// previous run still pending coalesces with it.
package cron

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aatumaykin/deferq/internal/logger"
	"github.com/aatumaykin/deferq/internal/workqueue"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// Workqueues resolves workqueue names; *workqueue.Registry implements it.
type Workqueues interface {
	Lookup(name string) (*workqueue.Workqueue, bool)
}

type entry struct {
	job  Job
	wq   *workqueue.Workqueue
	work *workqueue.DelayedWork

	mu      sync.Mutex
	status  Status
	attempt int
}

func (e *entry) snapshot() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.status
	st.Job = e.job
	return st
}

// Scheduler manages cron job scheduling and execution
type Scheduler struct {
	cron     *cron.Cron
	logger   *logger.Logger
	queues   Workqueues
	executor Executor
	parser   cron.Parser // Parser for validating cron expressions
	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
	mu       sync.RWMutex

	// Job registry for tracking jobs by ID
	jobs        map[string]*entry
	jobEntryIDs map[string]cron.EntryID // Job.ID -> cron.EntryID
}

// NewScheduler creates a new cron scheduler instance
func NewScheduler(log *logger.Logger, queues Workqueues, executor Executor) *Scheduler {
	if log == nil {
		log = logger.Nop()
	}
	if executor == nil {
		executor = ShellExecutor{}
	}
	parser := newParser()
	return &Scheduler{
		cron:        cron.New(cron.WithParser(parser)),
		logger:      log.Named("cron"),
		queues:      queues,
		executor:    executor,
		parser:      parser,
		ctx:         context.Background(),
		jobs:        make(map[string]*entry),
		jobEntryIDs: make(map[string]cron.EntryID),
	}
}

// Start starts the cron loop and arms the oneshot jobs.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrSchedulerStarted
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true

	s.cron.Start()
	for _, e := range s.jobs {
		if e.job.Type == JobTypeOneshot {
			s.armOneshot(e)
		}
	}
	s.logger.Info("cron scheduler started", logger.Field{Key: "jobs", Value: len(s.jobs)})
	return nil
}

// Stop stops the cron loop, cancels running commands and waits until no job
// work is pending or running.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrSchedulerStopped
	}
	s.started = false
	s.cancel()
	entries := make([]*entry, 0, len(s.jobs))
	for _, e := range s.jobs {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	<-s.cron.Stop().Done()

	var g errgroup.Group
	for _, e := range entries {
		g.Go(func() error {
			e.work.CancelSync()
			return nil
		})
	}
	err := g.Wait()

	s.logger.Info("cron scheduler stopped")
	return err
}

// IsStarted returns true if the scheduler is started
func (s *Scheduler) IsStarted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// AddJob adds a job and returns its ID.
func (s *Scheduler) AddJob(job Job) (string, error) {
	job = job.normalize()
	if err := validateJobFields(job, s.parser); err != nil {
		return "", err
	}

	wq, ok := s.queues.Lookup(job.Workqueue)
	if !ok {
		return "", fmt.Errorf("%w: %s (job %s)", ErrUnknownWorkqueue, job.Workqueue, job.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return "", fmt.Errorf("%w: %s", ErrJobExists, job.ID)
	}

	e := &entry{job: job, wq: wq}
	e.work = workqueue.NewDelayedWork(s.runFunc(e), workqueue.WithWorkName("cron:"+job.ID))

	switch job.Type {
	case JobTypeRecurring:
		entryID, err := s.cron.AddFunc(job.Schedule, func() { s.tick(e) })
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrInvalidExpression, err)
		}
		s.jobEntryIDs[job.ID] = entryID
		s.logger.Info("cron job added",
			logger.Field{Key: "job_id", Value: job.ID},
			logger.Field{Key: "schedule", Value: job.Schedule},
			logger.Field{Key: "workqueue", Value: job.Workqueue},
			logger.Field{Key: "entry_id", Value: entryID})
	case JobTypeOneshot:
		if s.started {
			s.armOneshot(e)
		}
		s.logger.Info("cron job added",
			logger.Field{Key: "job_id", Value: job.ID},
			logger.Field{Key: "job_type", Value: job.Type},
			logger.Field{Key: "delay", Value: job.Delay})
	}

	s.jobs[job.ID] = e
	return job.ID, nil
}

// RemoveJob removes a job and waits for its run, if any, to finish.
func (s *Scheduler) RemoveJob(jobID string) error {
	s.mu.Lock()
	e, exists := s.jobs[jobID]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if entryID, ok := s.jobEntryIDs[jobID]; ok {
		s.cron.Remove(entryID)
		delete(s.jobEntryIDs, jobID)
	}
	delete(s.jobs, jobID)
	s.mu.Unlock()

	e.work.CancelSync()
	s.logger.Info("cron job removed", logger.Field{Key: "job_id", Value: jobID})
	return nil
}

// ListJobs returns all jobs sorted by ID
func (s *Scheduler) ListJobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]Job, 0, len(s.jobs))
	for _, e := range s.jobs {
		jobs = append(jobs, e.job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs
}

// GetJob retrieves a specific job by ID
func (s *Scheduler) GetJob(jobID string) (Job, error) {
	st, err := s.Status(jobID)
	return st.Job, err
}

// Status returns the runtime state of a job.
func (s *Scheduler) Status(jobID string) (Status, error) {
	s.mu.RLock()
	e, exists := s.jobs[jobID]
	s.mu.RUnlock()
	if !exists {
		return Status{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return e.snapshot(), nil
}

// Trigger queues a run of the job now, as a schedule tick would. It returns
// false if a run was already pending.
func (s *Scheduler) Trigger(jobID string) (bool, error) {
	s.mu.RLock()
	e, exists := s.jobs[jobID]
	s.mu.RUnlock()
	if !exists {
		return false, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return s.tick(e), nil
}

func (s *Scheduler) tick(e *entry) bool {
	if e.wq.Queue(&e.work.Work) {
		return true
	}
	e.mu.Lock()
	e.status.Coalesced++
	e.mu.Unlock()
	s.logger.Debug("cron tick coalesced with pending run", logger.Field{Key: "job_id", Value: e.job.ID})
	return false
}

// armOneshot queues a oneshot job after its delay. Caller holds s.mu.
func (s *Scheduler) armOneshot(e *entry) {
	if !e.wq.QueueDelayed(e.work, e.job.Delay) {
		s.logger.Warn("oneshot job not armed", logger.Field{Key: "job_id", Value: e.job.ID})
	}
}

func (s *Scheduler) runFunc(e *entry) workqueue.WorkFunc {
	return func(*workqueue.Work) {
		s.mu.RLock()
		ctx := s.ctx
		s.mu.RUnlock()

		if e.job.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, e.job.Timeout)
			defer cancel()
		}

		start := time.Now()
		out, err := s.executor.Execute(ctx, e.job)
		elapsed := time.Since(start)

		e.mu.Lock()
		e.status.Runs++
		e.status.LastRun = start
		e.status.LastError = err
		e.attempt++
		attempt := e.attempt
		backoff, again := e.job.retryPolicy().Next(attempt, err)
		if again {
			e.status.Retries++
		} else {
			e.attempt = 0
		}
		e.mu.Unlock()

		fields := []logger.Field{
			{Key: "job_id", Value: e.job.ID},
			{Key: "duration", Value: elapsed},
			{Key: "output", Value: string(out)},
		}
		if err == nil {
			s.logger.Info("cron job executed", fields...)
			return
		}
		s.logger.Error("cron job failed", err, append(fields, logger.Field{Key: "attempt", Value: attempt})...)

		// retries only while running; false means a tick is already pending
		if again && s.IsStarted() {
			if e.wq.QueueDelayed(e.work, backoff) {
				s.logger.Info("cron job retry scheduled",
					logger.Field{Key: "job_id", Value: e.job.ID},
					logger.Field{Key: "backoff", Value: backoff})
			}
		}
	}
}
