package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"estimator-go/fusion"
)

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.GNSS.Active)
	assert.Equal(t, GNSSPoint3, cfg.GNSS.Type)
	assert.Equal(t, ModeFilter, cfg.Solution.Mode)

	thorough, err := cfg.Solver.Thorough.Options()
	require.NoError(t, err)
	assert.Equal(t, fusion.ThoroughOptions(), thorough)
	incremental, err := cfg.Solver.Incremental.Options()
	require.NoError(t, err)
	assert.Equal(t, fusion.IncrementalOptions(), incremental)
}

func TestParseOverridesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Parse([]byte(`
gnss:
  type: Pseudorange3
  loss: huber
  loss_param: 1.5
imu:
  active: true
  bias_window: 5
prior:
  active: true
  parameter: [1, 2, 3, 0.5, 0.5, 2]
solution:
  window: 0
  mode: SMOOTHER
solver:
  incremental:
    method: lbfgs
`))
	require.NoError(t, err)

	assert.Equal(t, GNSSPseudorange, cfg.GNSS.Type)
	assert.Equal(t, fusion.Loss{Kind: fusion.LossHuber, Param: 1.5}, cfg.GNSSLoss())
	assert.Equal(t, 0.1, cfg.GNSS.ClockDrift, "unset keys keep their default")
	assert.True(t, cfg.IMU.Active)
	assert.Equal(t, 5.0, cfg.IMU.BiasWindow)
	assert.Equal(t, [2]float64{1e-3, 1e-4}, cfg.IMU.BiasDrift)
	assert.Equal(t, []float64{1, 2, 3, 0.5, 0.5, 2}, cfg.Prior.Parameter)
	assert.Zero(t, cfg.Solution.Window)
	assert.Equal(t, ModeSmoother, cfg.Solution.Mode)
	assert.Equal(t, "lbfgs", cfg.Solver.Incremental.Method)
	assert.Equal(t, fusion.IncrementalMaxIterations, cfg.Solver.Incremental.MaxIterations)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.GNSS.Type = "rtk"
	cfg.GNSS.Loss = "cauchy"
	cfg.Odom = Odom{Active: true, Type: "odom9"}
	cfg.Prior = Prior{Active: true, Type: Prior3, Parameter: []float64{0, 0, 0, 1, 0, 1}}
	cfg.Solution.Window = -1
	cfg.Solution.Mode = "batch"
	cfg.Solver.Thorough.MaxIterations = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 7)
	assert.Contains(t, err.Error(), "gnss.type")
	assert.Contains(t, err.Error(), "solver.thorough")
}

func TestValidateInactiveSensorsAreIgnored(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.GNSS = GNSS{Active: false, Type: "bogus"}
	cfg.IMU = IMU{Active: false}
	cfg.Prior = Prior{Active: false, Parameter: nil}
	assert.NoError(t, cfg.Validate())

	cfg.IMU.Active = true
	assert.Len(t, multierr.Errors(cfg.Validate()), 2)
}

func TestLoadAndMarshalRoundTrip(t *testing.T) {
	t.Parallel()
	want := Default()
	want.Odom.Active = true
	want.Odom.Type = Odom4
	want.Input = "records.txt"

	b, err := want.Marshal()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, b, 0o644))

	got, err := Load(path)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
	_, err = Parse([]byte("gnss: [unclosed"))
	assert.Error(t, err)
}
