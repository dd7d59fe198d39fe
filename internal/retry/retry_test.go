package retry

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"wrapped canceled", fmt.Errorf("run: %w", context.Canceled), false},
		{"deadline", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("run: %w", context.DeadlineExceeded), true},
		{"timeout text", errors.New("dial tcp: i/o timeout"), true},
		{"connection reset", errors.New("read: Connection Reset by peer"), true},
		{"rate limited", errors.New("429 Too Many Requests"), true},
		{"unknown", errors.New("permission denied"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestIsRetryable_ExitStatus(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs /bin/sh")
	}

	tests := []struct {
		script string
		want   bool
	}{
		{"exit 1", true},
		{"exit 126", false},
		{"exit 127", false},
	}

	for _, tt := range tests {
		t.Run(tt.script, func(t *testing.T) {
			err := exec.Command("/bin/sh", "-c", tt.script).Run()
			require.Error(t, err)
			assert.Equal(t, tt.want, IsRetryable(err))
		})
	}
}

func TestBackoff(t *testing.T) {
	p := Policy{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{100, time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt %d", tt.attempt), func(t *testing.T) {
			assert.Equal(t, tt.want, p.Backoff(tt.attempt))
		})
	}
}

func TestBackoffDefaults(t *testing.T) {
	var p Policy
	assert.Equal(t, defaultInitialBackoff, p.Backoff(1))
	assert.Equal(t, defaultMaxBackoff, p.Backoff(64))
}

func TestNext(t *testing.T) {
	p := Policy{MaxAttempts: 3, InitialBackoff: time.Second, MaxBackoff: time.Minute}
	failure := context.DeadlineExceeded

	d, ok := p.Next(1, failure)
	assert.True(t, ok)
	assert.Equal(t, time.Second, d)

	d, ok = p.Next(2, failure)
	assert.True(t, ok)
	assert.Equal(t, 2*time.Second, d)

	_, ok = p.Next(3, failure)
	assert.False(t, ok, "attempts exhausted")

	_, ok = p.Next(1, context.Canceled)
	assert.False(t, ok, "not retryable")

	_, ok = Policy{}.Next(1, failure)
	assert.False(t, ok, "zero policy never retries")
}
