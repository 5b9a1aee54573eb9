package binlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRecords = `# recorded sensors
gnss 2.0 4027893 307045 4919475 0.5 0.5 1.0
gnss 1.0 4027890 307040 4919470 0.5 0.5 1.0

imu 1.5 0.01 0.02 9.81 0 0 0.001 0.1 0.1 0.1 0.01 0.01 0.01
pseudorange3 1.0 21000000 15600000 7540000 20140000 3
pseudorange3 1.0 22000000 18760000 2750000 18610000 3
odom3 1.5 1.0 0 0 0 0 0.1 0.1 0.1 0.1 0.1 0.1 0.1
`

func parseString(t *testing.T, s string) *SensorDataSet {
	t.Helper()
	p := NewSensorParser("")
	require.NoError(t, p.ParseFrom(strings.NewReader(s)))
	return p.Data
}

func TestParseSensorRecords(t *testing.T) {
	t.Parallel()
	p := NewSensorParser("")
	require.NoError(t, p.ParseFrom(strings.NewReader(sampleRecords)))
	data := p.Data

	assert.Equal(t, 2, p.Skipped)
	assert.Equal(t, []SensorType{GNSSPoint3, Pseudorange3, IMU, Odom3}, data.Types())
	assert.Equal(t, 2, data.Count(GNSSPoint3))
	assert.Equal(t, 2, data.Count(Pseudorange3))

	gnss := data.All(GNSSPoint3)
	assert.Equal(t, 1.0, gnss[0].Timestamp, "records are sorted by time")
	assert.Equal(t, []float64{4027890, 307040, 4919470}, gnss[0].Mean)
	assert.Equal(t, []float64{0.5, 0.5, 1.0}, gnss[0].StdDev)
	assert.Equal(t, []float64{0.25, 0.25, 1.0}, gnss[0].Variance())

	pr := data.At(Pseudorange3, 1.0)
	require.Len(t, pr, 2)
	assert.Equal(t, 21000000.0, pr[0].Mean[0], "equal timestamps keep input order")
	assert.Equal(t, []float64{3}, pr[0].StdDev)
}

func TestParseSensorRecordsMeanDoesNotAliasStdDev(t *testing.T) {
	t.Parallel()
	data := parseString(t, "gnss 1 1 2 3 0.1 0.2 0.3\n")
	d := data.All(GNSSPoint3)[0]
	d.Mean = append(d.Mean, 99)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, d.StdDev)
}

func TestParseSensorErrorsCarryLineNumber(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"unknown type":    "# header\nlidar 1 2 3\n",
		"too few fields":  "# header\ngnss 1 2 3 0.1 0.1\n",
		"bad number":      "# header\ngnss 1 2 x 3 0.1 0.1 0.1\n",
		"zero deviation":  "# header\ngnss 1 2 3 4 0.1 0 0.1\n",
		"negative stddev": "# header\npseudorange3 1 2 3 4 5 -1\n",
	}
	for name, input := range cases {
		input := input
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			err := NewSensorParser("").ParseFrom(strings.NewReader(input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "line 2")
		})
	}
}

func TestReadSensorFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "records.txt")
	require.NoError(t, os.WriteFile(path, []byte(sampleRecords), 0o644))

	data, err := ReadSensorFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, data.Count(IMU))

	_, err = ReadSensorFile(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestSensorDataSetQueries(t *testing.T) {
	t.Parallel()
	data := parseString(t, `
gnss 1 0 0 0 1 1 1
gnss 2 0 0 0 1 1 1
gnss 2 1 1 1 1 1 1
gnss 3 0 0 0 1 1 1
gnss 4 0 0 0 1 1 1
`)

	assert.Len(t, data.Between(GNSSPoint3, 1, 3), 3, "(1, 3]")
	assert.Len(t, data.Within(GNSSPoint3, 1, 3), 4, "[1, 3]")
	assert.Empty(t, data.Between(GNSSPoint3, 3, 1))
	assert.Len(t, data.At(GNSSPoint3, 2), 2)
	assert.Empty(t, data.At(GNSSPoint3, 2.5))
	assert.Equal(t, []float64{1, 2, 3, 4}, data.Timestamps(GNSSPoint3))

	next, ok := data.NextTimestamp(GNSSPoint3, 2)
	require.True(t, ok)
	assert.Equal(t, 3.0, next)
	_, ok = data.NextTimestamp(GNSSPoint3, 4)
	assert.False(t, ok)

	first, ok := data.First(GNSSPoint3)
	require.True(t, ok)
	assert.Equal(t, 1.0, first)
	last, ok := data.Last(GNSSPoint3)
	require.True(t, ok)
	assert.Equal(t, 4.0, last)
	_, ok = data.First(IMU)
	assert.False(t, ok)
}

func TestParseSensorType(t *testing.T) {
	t.Parallel()
	for _, typ := range []SensorType{GNSSPoint3, Pseudorange3, IMU, Odom3} {
		got, err := ParseSensorType(strings.ToUpper(typ.String()))
		require.NoError(t, err)
		assert.Equal(t, typ, got)
	}
	_, err := ParseSensorType("uwb")
	assert.Error(t, err)
}
