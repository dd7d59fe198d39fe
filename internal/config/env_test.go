package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnv(t *testing.T) {
	t.Setenv("DEFERQ_ENV_KEEP", "process")
	// registered so t restores the environment afterwards
	t.Setenv("DEFERQ_ENV_PLAIN", "")
	t.Setenv("DEFERQ_ENV_QUOTED", "")
	t.Setenv("DEFERQ_ENV_EXPORTED", "")
	os.Unsetenv("DEFERQ_ENV_PLAIN")
	os.Unsetenv("DEFERQ_ENV_QUOTED")
	os.Unsetenv("DEFERQ_ENV_EXPORTED")

	path := filepath.Join(t.TempDir(), ".env")
	content := `# comment

DEFERQ_ENV_PLAIN=one
DEFERQ_ENV_QUOTED="two words"
export DEFERQ_ENV_EXPORTED='three'
DEFERQ_ENV_KEEP=file
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	require.NoError(t, LoadEnv(path))

	assert.Equal(t, "one", os.Getenv("DEFERQ_ENV_PLAIN"))
	assert.Equal(t, "two words", os.Getenv("DEFERQ_ENV_QUOTED"))
	assert.Equal(t, "three", os.Getenv("DEFERQ_ENV_EXPORTED"))
	assert.Equal(t, "process", os.Getenv("DEFERQ_ENV_KEEP"))
}

func TestLoadEnvMalformed(t *testing.T) {
	t.Setenv("DEFERQ_ENV_OK", "set")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("DEFERQ_ENV_OK=1\nnot a pair\n"), 0o600))

	err := LoadEnv(path)
	assert.ErrorContains(t, err, ":2: expected KEY=VALUE")
}

func TestLoadEnvOptional(t *testing.T) {
	assert.NoError(t, LoadEnvOptional(filepath.Join(t.TempDir(), "absent.env")))
	assert.Error(t, LoadEnv(filepath.Join(t.TempDir(), "absent.env")))
}
