package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	logger, flush, err := New(Config{Level: "debug", File: path})
	require.NoError(t, err)

	logger.Debugw("step", "time", 1.5)
	logger.Infow("done", "states", 3)
	flush()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"msg":"step"`)
	assert.Contains(t, string(raw), `"states":3`)
}

func TestNewLevelFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	logger, flush, err := New(Config{Level: "warn", File: path})
	require.NoError(t, err)
	logger.Infow("hidden")
	logger.Warnw("shown")
	flush()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "hidden")
	assert.Contains(t, string(raw), "shown")
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, _, err := New(Config{Level: "chatty"})
	assert.Error(t, err)
}
