package config

import (
	"fmt"
	"time"

	"github.com/aatumaykin/deferq/internal/cron"
	"github.com/aatumaykin/deferq/internal/logger"
	"github.com/aatumaykin/deferq/internal/stress"
	"github.com/aatumaykin/deferq/internal/workqueue"
)

// ParseMode converts a mode name and the freezable flag to workqueue.Mode.
// An empty name means per_cpu.
func ParseMode(name string, freezable bool) (workqueue.Mode, error) {
	var m workqueue.Mode
	switch name {
	case "", "per_cpu":
		m = workqueue.ModePerCPU
	case "single_thread":
		m = workqueue.ModeSingleThread
	default:
		return 0, fmt.Errorf("unknown mode %q (expected: per_cpu, single_thread)", name)
	}
	if freezable {
		m |= workqueue.ModeFreezable
	}
	return m, nil
}

// Logger returns the logger configuration.
func (l LoggingConfig) Logger() logger.Config {
	return logger.Config{Level: l.Level, Format: l.Format, Output: l.Output}
}

// Options converts the entry to workqueue options. Zero values keep the
// engine defaults; history -1 disables the execution history.
func (w WorkqueueConfig) Options() ([]workqueue.Option, error) {
	mode, err := ParseMode(w.Mode, w.Freezable)
	if err != nil {
		return nil, err
	}
	opts := []workqueue.Option{workqueue.WithMode(mode)}
	if w.CPUs > 0 {
		opts = append(opts, workqueue.WithCPUs(w.CPUs))
	}
	if w.BindCPUs {
		opts = append(opts, workqueue.WithBindCPUs(true))
	}
	if w.FlushColors > 0 {
		opts = append(opts, workqueue.WithFlushColors(w.FlushColors))
	}
	switch {
	case w.History > 0:
		opts = append(opts, workqueue.WithHistory(w.History))
	case w.History < 0:
		opts = append(opts, workqueue.WithHistory(0))
	}
	return opts, nil
}

// Job converts the entry to a cron job.
func (j JobConfig) Job() cron.Job {
	return cron.Job{
		ID:        j.ID,
		Workqueue: j.Workqueue,
		Schedule:  j.Schedule,
		Delay:     time.Duration(j.DelaySeconds) * time.Second,
		Command:   j.Command,
		Timeout:   time.Duration(j.TimeoutSeconds) * time.Second,

		Retries:      j.Retries,
		RetryBackoff: time.Duration(j.RetryBackoffSeconds) * time.Second,
	}
}

// Config converts the section to a stress scenario.
func (s StressConfig) Config() stress.Config {
	return stress.Config{
		Producers:    s.Producers,
		Flushers:     s.Flushers,
		Items:        s.Items,
		Rate:         s.Rate,
		Burst:        s.Burst,
		WorkDuration: time.Duration(s.WorkDurationMs) * time.Millisecond,
	}
}

// Options returns the options of the workqueue the stress scenario runs on.
func (s StressConfig) Options() ([]workqueue.Option, error) {
	return WorkqueueConfig{Mode: s.Mode, FlushColors: s.FlushColors}.Options()
}
