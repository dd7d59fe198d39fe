// Package cron provides job execution logic for cron scheduler.
package cron

import (
	"context"
	"os/exec"
)

// Executor runs the command of a job.
type Executor interface {
	Execute(ctx context.Context, job Job) ([]byte, error)
}

// ShellExecutor runs commands through a shell with -c.
type ShellExecutor struct {
	Shell string
}

// Execute runs job.Command and returns its combined output.
func (e ShellExecutor) Execute(ctx context.Context, job Job) ([]byte, error) {
	shell := e.Shell
	if shell == "" {
		shell = "/bin/sh"
	}
	return exec.CommandContext(ctx, shell, "-c", job.Command).CombinedOutput()
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, job Job) ([]byte, error)

func (f ExecutorFunc) Execute(ctx context.Context, job Job) ([]byte, error) {
	return f(ctx, job)
}
