package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estimator-go/binlog"
	"estimator-go/estimation"
)

func TestWriteResultPutsPositionsFirst(t *testing.T) {
	t.Parallel()
	set := binlog.NewStateDataSet()
	set.Append(estimation.SolveTime, binlog.StateData{Timestamp: 1, Mean: []float64{0.01}, StdDev: []float64{0}})
	set.Append(estimation.Velocity, binlog.StateData{Timestamp: 1, Mean: []float64{0, 0, 0}})
	set.Append(estimation.Position, binlog.StateData{Timestamp: 1, Mean: []float64{1, 2, 3}})
	set.Append(estimation.Position, binlog.StateData{Timestamp: 2, Mean: []float64{4, 5, 6}})

	path := filepath.Join(t.TempDir(), "result.txt")
	require.NoError(t, writeResult(path, set))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "Position 1 "))
	assert.True(t, strings.HasPrefix(lines[1], "Position 2 "))
	assert.True(t, strings.HasPrefix(lines[2], "Velocity "))
	assert.True(t, strings.HasPrefix(lines[3], "SolveTime "))

	got, err := binlog.ReadStateFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Len(estimation.Position))
	assert.Zero(t, got.Len(estimation.Orientation))
}
