// Package estimation drives an incremental factor graph over a recorded
// sensor data set: initialization, per-step prediction and measurement,
// solve scheduling and result extraction.
package estimation

import (
	"math"

	"go.uber.org/zap"

	"estimator-go/binlog"
	"estimator-go/config"
	"estimator-go/fusion"
	"estimator-go/frame"
)

// State series created by the estimator.
const (
	Position    = "Position"
	Velocity    = "Velocity"
	Orientation = "Orientation"
	IMUBias     = "IMUBias"
	ClockError  = "ClockError"
	// SolveTime holds one entry per step with the iteration summary.
	SolveTime = "SolveTime"
)

// OutputStates lists the estimated series in export order.
var OutputStates = []string{Position, Velocity, Orientation, IMUBias, ClockError}

var stateTypes = map[string]fusion.StateType{
	Position:    fusion.Point3,
	Velocity:    fusion.Velocity3,
	Orientation: fusion.Angle,
	IMUBias:     fusion.IMUBias,
	ClockError:  fusion.ClockError,
}

// Estimator owns the graph and the local frame of one run. It is used from
// a single goroutine.
type Estimator struct {
	cfg    *config.Config
	data   *binlog.SensorDataSet
	graph  *fusion.FactorGraph
	frame  *frame.TangentPlaneConverter
	logger *zap.SugaredLogger

	init      InitState
	timeFirst float64
}

func NewEstimator(cfg *config.Config, data *binlog.SensorDataSet, logger *zap.SugaredLogger) *Estimator {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Estimator{
		cfg:    cfg,
		data:   data,
		graph:  fusion.NewFactorGraph(),
		frame:  frame.NewTangentPlaneConverter(),
		logger: logger,
	}
}

func (e *Estimator) Graph() *fusion.FactorGraph           { return e.graph }
func (e *Estimator) Frame() *frame.TangentPlaneConverter { return e.frame }
func (e *Estimator) InitState() InitState                { return e.init }

// ensureState returns the key of name at t, creating the state with the
// mean from seed when it does not exist yet. Motion models that share a
// state create it once.
func (e *Estimator) ensureState(name string, t float64, seed []float64) (fusion.StateKey, bool, error) {
	key := fusion.Key(name, t)
	if e.graph.HasState(key) {
		return key, false, nil
	}
	opts := []fusion.StateOption{}
	if seed != nil {
		opts = append(opts, fusion.WithMean(seed...))
	}
	key, err := e.graph.AddState(name, stateTypes[name], t, opts...)
	return key, err == nil, err
}

// latestMean returns the mean of the newest state called name at or
// before t, or nil.
func (e *Estimator) latestMean(name string, t float64) []float64 {
	if v, ok := e.graph.Latest(name, t); ok {
		return v.Mean
	}
	return nil
}

// previous returns the newest state called name strictly before t.
func (e *Estimator) previous(name string, t float64) (fusion.StateVariable, bool) {
	v, ok := e.graph.Latest(name, math.Nextafter(t, math.Inf(-1)))
	return v, ok
}

func (e *Estimator) addFactor(kind fusion.FactorKind, keys []fusion.StateKey, payload any, noise *fusion.NoiseModel) error {
	_, err := e.graph.AddFactor(kind, keys, payload, noise)
	return err
}

// stdFloor keeps integrated deviations away from zero.
func stdFloor(std ...float64) []float64 {
	out := make([]float64, len(std))
	for i, s := range std {
		out[i] = math.Max(s, fusion.MinStdDev)
	}
	return out
}
