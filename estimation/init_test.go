package estimation

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"estimator-go/binlog"
	"estimator-go/config"
	"estimator-go/fusion"
)

func TestInitGNSSSeedsFrameAndPosition(t *testing.T) {
	t.Parallel()
	data := binlog.NewSensorDataSet()
	addGNSS(t, data, 1, r3.Vector{})
	addGNSS(t, data, 2, r3.Vector{X: 1})

	e := NewEstimator(gnssOnly(), data, zaptest.NewLogger(t).Sugar())
	assert.Equal(t, Uninitialized, e.InitState())
	require.NoError(t, e.Init(1))
	assert.Equal(t, Initialized, e.InitState())

	o, err := e.Frame().Origin()
	require.NoError(t, err)
	assert.InDelta(t, 0, o.Sub(origin).Norm(), 1e-6)

	pos, ok := e.Graph().State(fusion.Key(Position, 1))
	require.True(t, ok)
	assert.False(t, pos.Frozen, "a gnss anchored start stays free")
	assert.Equal(t, []float64{0.1, 0.1, 0.1}, pos.StdDev)
	assert.Zero(t, e.Graph().NumFactors())

	assert.ErrorIs(t, e.Init(1), ErrAlreadyInitialized)
}

func TestInitGNSSWithoutFix(t *testing.T) {
	t.Parallel()
	data := binlog.NewSensorDataSet()
	e := NewEstimator(gnssOnly(), data, nil)
	assert.Error(t, e.Init(0))
	assert.Equal(t, Uninitialized, e.InitState())
	assert.Zero(t, e.Graph().NumStates())
	assert.False(t, e.Frame().IsInitialized())

	// a failed init can be retried once the fix is there
	addGNSS(t, data, 0, r3.Vector{})
	require.NoError(t, e.Init(0))
	assert.Equal(t, Initialized, e.InitState())
	assert.Equal(t, 1, e.Graph().NumStates())
	assert.True(t, e.Frame().IsInitialized())
}

func TestInitFallbackUsesPriorDeviation(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.GNSS.Active = false
	cfg.Prior.Active = true
	cfg.Prior.Parameter = []float64{0, 0, 0, 2, 3, 4}

	e := NewEstimator(cfg, binlog.NewSensorDataSet(), nil)
	require.NoError(t, e.Init(5))

	g := e.Graph()
	assert.Equal(t, 1, g.NumStates())
	assert.Zero(t, g.NumFreeStates())
	pos, ok := g.State(fusion.Key(Position, 5))
	require.True(t, ok)
	assert.True(t, pos.Frozen)
	assert.Equal(t, []float64{0, 0, 0}, pos.Mean)

	require.Equal(t, 1, g.NumFactors())
	f, _ := g.Factor(0)
	assert.Equal(t, fusion.FactorPrior, f.Kind)
	assert.InDeltaSlice(t, []float64{2, 3, 4}, f.Noise.StdDev(), 1e-12)
	assert.False(t, e.Frame().IsInitialized())
}

func TestInitFallbackWithoutPrior(t *testing.T) {
	t.Parallel()
	e := NewEstimator(odomOnly(), binlog.NewSensorDataSet(), nil)
	require.NoError(t, e.Init(0))

	g := e.Graph()
	assert.Equal(t, 2, g.NumStates(), "position and orientation")
	assert.Equal(t, 1, g.NumFreeStates(), "only the origin anchor is frozen")
	pos, ok := g.State(fusion.Key(Position, 0))
	require.True(t, ok)
	assert.True(t, pos.Frozen)
	yaw, ok := g.State(fusion.Key(Orientation, 0))
	require.True(t, ok)
	assert.False(t, yaw.Frozen)
	stats := g.Stats()
	assert.Equal(t, 2, stats.FactorsByKind[fusion.FactorPrior])
	for _, id := range g.FactorsOf(fusion.Key(Position, 0)) {
		f, _ := g.Factor(id)
		assert.InDeltaSlice(t, []float64{1, 1, 1}, f.Noise.StdDev(), 1e-12)
	}
}

func TestInitIMUEstimatesBias(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.GNSS.Active = false
	cfg.IMU.Active = true
	data := binlog.NewSensorDataSet()
	addStationaryIMU(t, data, 0, 3, 100)

	e := NewEstimator(cfg, data, nil)
	require.NoError(t, e.Init(0))

	g := e.Graph()
	assert.Equal(t, 4, g.NumStates())
	assert.Equal(t, 3, g.NumFreeStates(), "velocity, orientation and bias stay free")
	pos, ok := g.State(fusion.Key(Position, 0))
	require.True(t, ok)
	assert.True(t, pos.Frozen)
	assert.Equal(t, 4, g.Stats().FactorsByKind[fusion.FactorPrior])

	bias, ok := g.State(fusion.Key(IMUBias, 0))
	require.True(t, ok)
	assert.InDeltaSlice(t, make([]float64, 6), bias.Mean, 1e-9)
	for _, s := range bias.StdDev {
		assert.GreaterOrEqual(t, s, fusion.MinStdDev)
	}
	_, ok = g.State(fusion.Key(Velocity, 0))
	assert.True(t, ok)
	_, ok = g.State(fusion.Key(Orientation, 0))
	assert.True(t, ok)
}

func TestInitPseudorange(t *testing.T) {
	t.Parallel()
	cfg := gnssOnly()
	cfg.GNSS.Type = config.GNSSPseudorange
	data := binlog.NewSensorDataSet()
	const clock = 85.0
	receiver := []float64{origin.X, origin.Y, origin.Z}
	for _, s := range [][3]float64{
		{15600e3, 7540e3, 20140e3},
		{18760e3, 2750e3, 18610e3},
		{17610e3, 14630e3, 13480e3},
		{19170e3, 610e3, 18390e3},
		{10000e3, -12000e3, 21000e3},
		{22000e3, 9000e3, 8000e3},
	} {
		d := math.Sqrt(fusion.Pow2(s[0]-receiver[0]) + fusion.Pow2(s[1]-receiver[1]) + fusion.Pow2(s[2]-receiver[2]))
		require.NoError(t, data.Add(binlog.SensorData{
			Type: binlog.Pseudorange3, Mean: []float64{d + clock, s[0], s[1], s[2]}, StdDev: []float64{3},
		}))
	}

	e := NewEstimator(cfg, data, nil)
	require.NoError(t, e.Init(0))
	o, err := e.Frame().Origin()
	require.NoError(t, err)
	assert.InDelta(t, 0, o.Sub(origin).Norm(), 0.1)
	clk, err := e.Graph().Mean(fusion.Key(ClockError, 0))
	require.NoError(t, err)
	assert.InDelta(t, clock, clk[0], 0.1)

	require.NoError(t, e.Measure(-1, 0))
	assert.Equal(t, 6, e.Graph().Stats().FactorsByKind[fusion.FactorPseudorange])
	assert.Zero(t, e.Graph().Stats().FactorsByKind[fusion.FactorClockDrift])

	e.Graph().Solve(fusion.ThoroughOptions())
	pos, _ := e.Graph().Mean(fusion.Key(Position, 0))
	assert.InDelta(t, 0, r3.Vector{X: pos[0], Y: pos[1], Z: pos[2]}.Norm(), 0.1)
}

func TestStepsRequireInit(t *testing.T) {
	t.Parallel()
	e := NewEstimator(gnssOnly(), binlog.NewSensorDataSet(), nil)
	assert.Error(t, e.Predict(0, 1))
	assert.Error(t, e.Measure(0, 1))
}

func TestInitStateString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "initialized", Initialized.String())
	assert.Equal(t, "InitState(7)", InitState(7).String())
}
