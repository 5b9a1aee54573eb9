package estimation

import (
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/require"

	"estimator-go/binlog"
	"estimator-go/config"
	"estimator-go/fusion"
	"estimator-go/frame"
)

var origin = r3.Vector{X: 4177536.0, Y: 855997.0, Z: 4727000.0}

// ecef maps a point of the plane at origin to ECEF.
func ecef(t *testing.T, local r3.Vector) []float64 {
	t.Helper()
	c := frame.NewTangentPlaneConverter()
	c.Initialize(origin)
	g, err := c.ToGlobal(local)
	require.NoError(t, err)
	return []float64{g.X, g.Y, g.Z}
}

func addGNSS(t *testing.T, data *binlog.SensorDataSet, ts float64, local r3.Vector) {
	t.Helper()
	require.NoError(t, data.Add(binlog.SensorData{
		Type: binlog.GNSSPoint3, Timestamp: ts, Mean: ecef(t, local), StdDev: []float64{0.5, 0.5, 0.5},
	}))
}

// addStationaryIMU adds level samples at rate Hz in [from, to].
func addStationaryIMU(t *testing.T, data *binlog.SensorDataSet, from, to, rate float64) {
	t.Helper()
	n := int((to-from)*rate + 0.5)
	for i := 0; i <= n; i++ {
		require.NoError(t, data.Add(binlog.SensorData{
			Type:      binlog.IMU,
			Timestamp: from + float64(i)/rate,
			Mean:      []float64{0, 0, fusion.Gravity, 0, 0, 0},
			StdDev:    []float64{0.01, 0.01, 0.01, 0.001, 0.001, 0.001},
		}))
	}
}

func addOdom(t *testing.T, data *binlog.SensorDataSet, ts, forward, yawRate float64) {
	t.Helper()
	require.NoError(t, data.Add(binlog.SensorData{
		Type:      binlog.Odom3,
		Timestamp: ts,
		Mean:      []float64{forward, 0, 0, 0, 0, yawRate},
		StdDev:    []float64{0.1, 0.1, 0.1, 0.01, 0.01, 0.01},
	}))
}

func gnssOnly() *config.Config {
	cfg := config.Default()
	cfg.Solution.Window = 0
	return cfg
}

func odomOnly() *config.Config {
	cfg := config.Default()
	cfg.GNSS.Active = false
	cfg.Odom.Active = true
	cfg.Solution.Window = 0
	return cfg
}
