package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aatumaykin/deferq/internal/config"
	"github.com/aatumaykin/deferq/internal/logger"
	"github.com/aatumaykin/deferq/internal/workqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
[logging]
level = "error"
format = "text"
output = "stderr"

[metrics]
enabled = true
listen = "127.0.0.1:0"
namespace = "deferq_test"

[[workqueues]]
name = "events"
cpus = 2

[[workqueues]]
name = "jobs"
mode = "single_thread"

[[jobs]]
id = "hello"
workqueue = "jobs"
command = "true"

[stress]
producers = 2
flushers = 2
items = 200
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "deferq.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// execute runs the root command with args and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath, envFile, logLevel = "", filepath.Join(t.TempDir(), "none.env"), ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--env-file", envFile))
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := rootCmd.Execute()
	return out.String(), err
}

func TestCommandStructure(t *testing.T) {
	found := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		found[cmd.Name()] = true
	}
	for _, expected := range []string{"version", "config", "serve", "stress"} {
		assert.True(t, found[expected], "command %q not registered", expected)
	}

	found = make(map[string]bool)
	for _, cmd := range configCmd.Commands() {
		found[cmd.Name()] = true
	}
	assert.True(t, found["validate"])
	assert.True(t, found["show"])
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version: ")
	assert.Contains(t, out, "Go Version: ")
}

func TestConfigValidate(t *testing.T) {
	out, err := execute(t, "config", "validate", writeConfig(t, testConfig))
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid: 2 workqueues, 1 jobs")

	bad := strings.Replace(testConfig, `mode = "single_thread"`, `mode = "sideways"`, 1)
	_, err = execute(t, "config", "validate", writeConfig(t, bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workqueues[1].mode")
}

func TestConfigValidateDefaults(t *testing.T) {
	out, err := execute(t, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "1 workqueues, 0 jobs")
}

func TestConfigShow(t *testing.T) {
	path := writeConfig(t, testConfig)

	out, err := execute(t, "config", "show", path)
	require.NoError(t, err)
	assert.Contains(t, out, "[[workqueues]]")

	out, err = execute(t, "config", "show", "--format", "yaml", path)
	require.NoError(t, err)
	assert.Contains(t, out, "workqueues:")
	assert.Contains(t, out, "name: events")

	_, err = execute(t, "config", "show", "--format", "ini", path)
	assert.Error(t, err)
}

func TestLogLevelOverride(t *testing.T) {
	_, err := execute(t, "config", "validate", "--log-level", "verbose")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}

func TestStressCommand(t *testing.T) {
	path := writeConfig(t, testConfig)

	out, err := execute(t, "stress", "--config", path, "--items", "300", "--mode", "single_thread", "--flush-colors", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Items:             300")
	assert.Contains(t, out, "single_thread")
	assert.Contains(t, out, "Result:            OK")
}

func TestServer(t *testing.T) {
	cfg, err := config.Parse([]byte(testConfig), "toml")
	require.NoError(t, err)
	require.Empty(t, cfg.Validate())

	s, err := newServer(cfg, logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{"events", "jobs"}, s.queues.Names())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.run(ctx) }()

	// the oneshot job runs as soon as the scheduler starts
	require.Eventually(t, func() bool {
		st, err := s.scheduler.Status("hello")
		return err == nil && st.Runs == 1
	}, 5*time.Second, 10*time.Millisecond)

	wq, ok := s.queues.Lookup("events")
	require.True(t, ok)
	wq.Queue(workqueue.NewWork(func(*workqueue.Work) {}))
	wq.Flush()

	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `deferq_test_workqueue_executed_total{workqueue="events"} 1`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")

	rec = httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, "OK", rec.Body.String())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
	assert.Empty(t, s.queues.Names())
}

func TestServerRejectsUnknownWorkqueue(t *testing.T) {
	cfg := config.Default()
	cfg.Jobs = []config.JobConfig{{ID: "x", Workqueue: "missing", Command: "true"}}

	_, err := newServer(cfg, logger.Nop())
	assert.Error(t, err)
}
