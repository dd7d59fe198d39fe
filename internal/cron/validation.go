// Package cron provides cron expression validation logic.
package cron

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// newParser accepts an optional leading seconds field and descriptors such
// as @hourly or @every 1m.
func newParser() cron.Parser {
	return cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

// ValidateSchedule reports whether expression is a schedule AddJob accepts.
func ValidateSchedule(expression string) error {
	return validateCronExpression(expression, newParser())
}

// validateCronExpression validates a cron expression using the cron parser
func validateCronExpression(expression string, parser cron.Parser) error {
	_, err := parser.Parse(expression)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidExpression, err)
	}
	return nil
}

// validateJobFields validates job fields based on job type
func validateJobFields(job Job, parser cron.Parser) error {
	if job.Workqueue == "" {
		return fmt.Errorf("job %s: workqueue is required", job.ID)
	}
	if job.Command == "" {
		return fmt.Errorf("job %s: command is required", job.ID)
	}
	if job.Timeout < 0 {
		return fmt.Errorf("job %s: timeout must be >= 0", job.ID)
	}
	if job.Retries < 0 || job.RetryBackoff < 0 {
		return fmt.Errorf("job %s: retries and retry backoff must be >= 0", job.ID)
	}

	switch job.Type {
	case JobTypeOneshot:
		// Oneshot jobs should not have schedule field
		if job.Schedule != "" {
			return fmt.Errorf("job %s: oneshot jobs cannot have schedule field", job.ID)
		}
		if job.Delay < 0 {
			return fmt.Errorf("job %s: delay must be >= 0", job.ID)
		}
	case JobTypeRecurring:
		if job.Schedule == "" {
			return fmt.Errorf("job %s: %w: empty schedule", job.ID, ErrInvalidExpression)
		}
		if job.Delay != 0 {
			return fmt.Errorf("job %s: recurring jobs cannot have delay", job.ID)
		}
		if err := validateCronExpression(job.Schedule, parser); err != nil {
			return fmt.Errorf("job %s: %w", job.ID, err)
		}
	default:
		return fmt.Errorf("job %s: unknown job type %q", job.ID, job.Type)
	}
	return nil
}
