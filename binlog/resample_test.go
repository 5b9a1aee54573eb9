package binlog

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fix(ts, x, std float64) SensorData {
	return SensorData{Type: GNSSPoint3, Timestamp: ts, Mean: []float64{x, 0, 0}, StdDev: []float64{std, std, std}}
}

func TestAverageMeasurement(t *testing.T) {
	t.Parallel()

	_, outcome := AverageMeasurement(nil)
	assert.Equal(t, OutcomeEmpty, outcome)
	assert.Equal(t, "empty", outcome.String())

	single := fix(1, 5, 2)
	got, outcome := AverageMeasurement([]SensorData{single})
	assert.Equal(t, OutcomeOK, outcome)
	assert.Equal(t, single, got)

	got, outcome = AverageMeasurement([]SensorData{fix(1, 1, 1), fix(2, 2, 1), fix(3, 6, 1), fix(4, 3, 1)})
	require.Equal(t, OutcomeOK, outcome)
	assert.Equal(t, GNSSPoint3, got.Type)
	assert.InDelta(t, 2.5, got.Timestamp, 1e-12)
	assert.InDeltaSlice(t, []float64{3, 0, 0}, got.Mean, 1e-12)
	assert.InDeltaSlice(t, []float64{0.5, 0.5, 0.5}, got.StdDev, 1e-12)

	got, _ = AverageMeasurement([]SensorData{fix(0, 0, 1), fix(1, 0, 2)})
	assert.InDelta(t, 1/math.Sqrt(1.25), got.StdDev[0], 1e-12)
}

func TestSampleDown(t *testing.T) {
	t.Parallel()

	_, outcome := SampleDown(nil, 1)
	assert.Equal(t, OutcomeEmpty, outcome)

	var in []SensorData
	for i := 0; i < 10; i++ {
		in = append(in, fix(float64(i)*0.25, float64(i), 1))
	}
	out, outcome := SampleDown(in, 1)
	require.Equal(t, OutcomeOK, outcome)

	// groups close at 1, 2 and at the last record 2.25
	require.Len(t, out, 3)
	assert.Equal(t, []float64{1, 2, 2.25}, []float64{out[0].Timestamp, out[1].Timestamp, out[2].Timestamp})
	assert.InDelta(t, 2, out[0].Mean[0], 1e-12)
	assert.InDelta(t, 1/math.Sqrt(5), out[0].StdDev[0], 1e-12)
	assert.InDelta(t, 6.5, out[1].Mean[0], 1e-12)
	assert.Equal(t, 9.0, out[2].Mean[0])

	for i := 1; i < len(out); i++ {
		assert.Greater(t, out[i].Timestamp, out[i-1].Timestamp)
	}
	assert.Equal(t, 0.0, in[0].Mean[0], "input records are not modified")
}
