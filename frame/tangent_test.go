package frame

import (
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estimator-go/binlog"
)

var munich = r3.Vector{X: 4177536.0, Y: 855997.0, Z: 4727000.0}

func TestConverterRequiresInitialize(t *testing.T) {
	t.Parallel()
	c := NewTangentPlaneConverter()
	assert.False(t, c.IsInitialized())

	_, err := c.ToLocal(munich)
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = c.ToGlobal(r3.Vector{})
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = c.Origin()
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestConverterFirstInitializeWins(t *testing.T) {
	t.Parallel()
	c := NewTangentPlaneConverter()
	require.True(t, c.Initialize(munich))
	assert.False(t, c.Initialize(munich.Add(r3.Vector{X: 1000})))

	origin, err := c.Origin()
	require.NoError(t, err)
	assert.Equal(t, munich, origin)

	local, err := c.ToLocal(munich)
	require.NoError(t, err)
	assert.InDelta(t, 0, local.Norm(), 1e-9)
}

func TestConverterRoundTrip(t *testing.T) {
	t.Parallel()
	c := NewTangentPlaneConverter()
	c.Initialize(munich)

	for _, p := range []r3.Vector{
		{X: 10, Y: -20, Z: 3},
		{X: -1500, Y: 2500, Z: -40},
		{},
	} {
		g, err := c.ToGlobal(p)
		require.NoError(t, err)
		back, err := c.ToLocal(g)
		require.NoError(t, err)
		assert.InDelta(t, 0, back.Sub(p).Norm(), 1e-6, "%v", p)
	}
}

func TestConverterAxesPointEastNorthUp(t *testing.T) {
	t.Parallel()
	c := NewTangentPlaneConverter()
	c.Initialize(munich)
	lon0, lat0, h0 := Geodetic(munich)

	up, _ := c.ToGlobal(r3.Vector{Z: 100})
	lon, lat, h := Geodetic(up)
	assert.InDelta(t, h0+100, h, 1e-2)
	assert.InDelta(t, lon0, lon, 1e-7)
	assert.InDelta(t, lat0, lat, 1e-7)

	east, _ := c.ToGlobal(r3.Vector{X: 100})
	lon, _, _ = Geodetic(east)
	assert.Greater(t, lon, lon0)

	north, _ := c.ToGlobal(r3.Vector{Y: 100})
	_, lat, _ = Geodetic(north)
	assert.Greater(t, lat, lat0)
}

func TestConvertAllToGlobal(t *testing.T) {
	t.Parallel()
	newSet := func() *binlog.StateDataSet {
		set := binlog.NewStateDataSet()
		set.Append("Position", binlog.StateData{Timestamp: 1, Mean: []float64{0, 0, 0}, StdDev: []float64{1, 1, 1}})
		set.Append("Position", binlog.StateData{Timestamp: 2, Mean: []float64{5, 0, 0}, StdDev: []float64{1, 1, 1}})
		set.Append("Orientation", binlog.StateData{Timestamp: 1, Mean: []float64{0.5}})
		return set
	}

	// before Initialize nothing changes
	set := newSet()
	NewTangentPlaneConverter().ConvertAllToGlobal(set, "Position")
	assert.Equal(t, newSet().Series("Position"), set.Series("Position"))

	c := NewTangentPlaneConverter()
	c.Initialize(munich)
	set = newSet()
	local := set.Series("Position")[1].Mean
	c.ConvertAllToGlobal(set, "Position")
	c.ConvertAllToGlobal(set, "Orientation")

	first := set.Series("Position")[0]
	assert.InDeltaSlice(t, []float64{munich.X, munich.Y, munich.Z}, first.Mean, 1e-6)
	assert.Equal(t, []float64{1, 1, 1}, first.StdDev)
	assert.Equal(t, []float64{5, 0, 0}, local, "the converted series gets new slices")
	assert.Equal(t, []float64{0.5}, set.Series("Orientation")[0].Mean)
}
