package config

import (
	"fmt"
	"strings"

	"github.com/aatumaykin/deferq/internal/cron"
	"github.com/aatumaykin/deferq/internal/logger"
	"github.com/aatumaykin/deferq/internal/workqueue"
)

// ValidationError представляет ошибку валидации с указанием поля
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func fieldError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Validate проверяет валидность конфигурации и возвращает все найденные ошибки
func (c *Config) Validate() []error {
	var errs []error

	// Проверка logging config
	if c.Logging.Level == "" {
		errs = append(errs, fieldError("logging.level", "is required"))
	} else if _, ok := logger.ParseLevel(c.Logging.Level); !ok {
		errs = append(errs, fieldError("logging.level", "invalid value %q (expected: debug, info, warn, error)", c.Logging.Level))
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	case "":
		errs = append(errs, fieldError("logging.format", "is required"))
	default:
		errs = append(errs, fieldError("logging.format", "invalid value %q (expected: json, text)", c.Logging.Format))
	}

	if c.Logging.Output == "" {
		errs = append(errs, fieldError("logging.output", "is required"))
	}

	// Проверка metrics
	if c.Metrics.Enabled {
		if c.Metrics.Listen == "" {
			errs = append(errs, fieldError("metrics.listen", "is required when metrics are enabled"))
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			errs = append(errs, fieldError("metrics.path", "must start with /, got %q", c.Metrics.Path))
		}
	}

	// Проверка workqueues
	names := make(map[string]bool, len(c.Workqueues))
	for i, wq := range c.Workqueues {
		errs = append(errs, wq.validate(fmt.Sprintf("workqueues[%d]", i), names)...)
	}

	// Проверка jobs
	ids := make(map[string]bool, len(c.Jobs))
	for i, job := range c.Jobs {
		errs = append(errs, job.validate(fmt.Sprintf("jobs[%d]", i), names, ids)...)
	}

	return errs
}

func (w WorkqueueConfig) validate(prefix string, names map[string]bool) []error {
	var errs []error

	name, err := workqueue.NormalizeName(w.Name)
	switch {
	case err != nil:
		errs = append(errs, fieldError(prefix+".name", "%v", err))
	case names[name]:
		errs = append(errs, fieldError(prefix+".name", "duplicate workqueue %q", name))
	default:
		names[name] = true
	}

	if _, err := ParseMode(w.Mode, w.Freezable); err != nil {
		errs = append(errs, fieldError(prefix+".mode", "%v", err))
	}
	if w.CPUs < 0 {
		errs = append(errs, fieldError(prefix+".cpus", "must be >= 0, got %d", w.CPUs))
	}
	if c := w.FlushColors; c != 0 && (c < 2 || c > workqueue.MaxFlushColors || c&(c-1) != 0) {
		errs = append(errs, fieldError(prefix+".flush_colors", "must be a power of two in [2, %d], got %d", workqueue.MaxFlushColors, c))
	}
	if w.History < -1 {
		errs = append(errs, fieldError(prefix+".history", "must be >= -1, got %d", w.History))
	}
	return errs
}

func (j JobConfig) validate(prefix string, workqueues, ids map[string]bool) []error {
	var errs []error

	if j.ID != "" {
		if ids[j.ID] {
			errs = append(errs, fieldError(prefix+".id", "duplicate job %q", j.ID))
		}
		ids[j.ID] = true
	}

	if name, err := workqueue.NormalizeName(j.Workqueue); err != nil {
		errs = append(errs, fieldError(prefix+".workqueue", "%v", err))
	} else if !workqueues[name] {
		errs = append(errs, fieldError(prefix+".workqueue", "unknown workqueue %q", j.Workqueue))
	}

	if j.Command == "" {
		errs = append(errs, fieldError(prefix+".command", "is required"))
	}

	switch {
	case j.Schedule != "" && j.DelaySeconds != 0:
		errs = append(errs, fieldError(prefix+".schedule", "cannot be combined with delay_seconds"))
	case j.Schedule != "":
		if err := cron.ValidateSchedule(j.Schedule); err != nil {
			errs = append(errs, fieldError(prefix+".schedule", "%v", err))
		}
	case j.DelaySeconds < 0:
		errs = append(errs, fieldError(prefix+".delay_seconds", "must be >= 0, got %d", j.DelaySeconds))
	}

	if j.TimeoutSeconds < 0 {
		errs = append(errs, fieldError(prefix+".timeout_seconds", "must be >= 0, got %d", j.TimeoutSeconds))
	}
	if j.Retries < 0 {
		errs = append(errs, fieldError(prefix+".retries", "must be >= 0, got %d", j.Retries))
	}
	if j.RetryBackoffSeconds < 0 {
		errs = append(errs, fieldError(prefix+".retry_backoff_seconds", "must be >= 0, got %d", j.RetryBackoffSeconds))
	}
	return errs
}
