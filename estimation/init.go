package estimation

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"

	"estimator-go/binlog"
	"estimator-go/config"
	"estimator-go/frame"
	"estimator-go/fusion"
)

// InitState is the initialization phase of an Estimator.
type InitState int

const (
	Uninitialized InitState = iota
	Initializing
	Initialized
)

func (s InitState) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Initialized:
		return "initialized"
	default:
		return fmt.Sprintf("InitState(%d)", int(s))
	}
}

var ErrAlreadyInitialized = errors.New("estimator already initialized")

const (
	// gnssSeedStdDev is the deviation recorded on states seeded from the
	// first absolute fix.
	gnssSeedStdDev = 0.1
	// fallbackStdDev is the deviation of the origin prior when no position
	// prior is configured.
	fallbackStdDev = 1.0

	initVelocityStdDev = 0.1
	initYawStdDev      = math.Pi
	initAccBiasStdDev  = 0.1
	initGyroBiasStdDev = 0.01
)

// Init creates the first states at t. GNSS seeds the local frame and the
// first position; without GNSS the position is anchored at the origin by
// a prior and frozen. An active IMU adds bias estimation over the
// configured window, otherwise active odometry adds a yaw prior. A failed
// Init leaves the estimator uninitialized with an empty graph.
func (e *Estimator) Init(t float64) (err error) {
	if e.init != Uninitialized {
		return ErrAlreadyInitialized
	}
	e.init = Initializing
	e.timeFirst = t
	defer func() {
		if err != nil {
			e.reset()
		}
	}()

	anchored := e.cfg.GNSS.Active
	if anchored {
		if err := e.initGNSS(t); err != nil {
			return errors.Wrap(err, "init gnss")
		}
	} else if err := e.initFallback(t); err != nil {
		return errors.Wrap(err, "init origin prior")
	}

	if e.cfg.IMU.Active {
		if err := e.initIMU(t, e.cfg.IMU.BiasWindow); err != nil {
			return errors.Wrap(err, "init imu")
		}
	} else if e.cfg.Odom.Active {
		if err := e.initOdom(t); err != nil {
			return errors.Wrap(err, "init odometry")
		}
	}

	e.init = Initialized
	e.logger.Infow("graph initialized", "time", t, "gnss", anchored,
		"states", e.graph.NumStates(), "factors", e.graph.NumFactors())
	return nil
}

// reset drops everything a partial Init created.
func (e *Estimator) reset() {
	e.graph = fusion.NewFactorGraph()
	e.frame = frame.NewTangentPlaneConverter()
	e.init = Uninitialized
	e.timeFirst = 0
}

func (e *Estimator) initGNSS(t float64) error {
	switch e.cfg.GNSS.Type {
	case config.GNSSPseudorange:
		recs := e.data.At(binlog.Pseudorange3, t)
		ranges := make([]fusion.PseudorangeMeasurement, len(recs))
		for i, d := range recs {
			ranges[i] = pseudorange(d)
		}
		pos, clock, err := fusion.Bancroft(ranges)
		if err != nil {
			return err
		}
		e.frame.Initialize(r3.Vector{X: pos[0], Y: pos[1], Z: pos[2]})
		if _, err := e.graph.AddState(ClockError, fusion.ClockError, t,
			fusion.WithMean(clock), fusion.WithStdDev(gnssSeedStdDev)); err != nil {
			return err
		}
	default:
		recs := e.data.At(binlog.GNSSPoint3, t)
		if len(recs) == 0 {
			return errors.Errorf("no gnss fix at %v", t)
		}
		m := recs[0].Mean
		e.frame.Initialize(r3.Vector{X: m[0], Y: m[1], Z: m[2]})
	}
	_, err := e.graph.AddState(Position, fusion.Point3, t,
		fusion.WithStdDev(gnssSeedStdDev, gnssSeedStdDev, gnssSeedStdDev))
	return err
}

// initIMU estimates the sensor biases from the samples in [t, t+window],
// assuming the platform is level and at rest.
func (e *Estimator) initIMU(t, window float64) error {
	samples := e.data.Within(binlog.IMU, t, t+window)
	bias := make([]float64, 6)
	std := []float64{initAccBiasStdDev, initAccBiasStdDev, initAccBiasStdDev,
		initGyroBiasStdDev, initGyroBiasStdDev, initGyroBiasStdDev}
	if len(samples) > 1 {
		col := make([]float64, len(samples))
		for j := 0; j < 6; j++ {
			for i, d := range samples {
				col[i] = d.Mean[j]
			}
			mean, sd := stat.MeanStdDev(col, nil)
			bias[j] = mean
			std[j] = math.Max(sd/math.Sqrt(float64(len(col))), fusion.MinStdDev)
		}
		bias[2] -= fusion.Gravity
	} else {
		e.logger.Warnw("too few imu samples for bias estimation", "time", t, "window", window, "samples", len(samples))
	}

	biasKey, err := e.graph.AddState(IMUBias, fusion.IMUBias, t, fusion.WithMean(bias...), fusion.WithStdDev(std...))
	if err != nil {
		return err
	}
	if err := e.addFactor(fusion.FactorPrior, []fusion.StateKey{biasKey},
		fusion.PriorMeasurement{StateType: fusion.IMUBias, Mean: bias},
		fusion.MustGaussianDiagonal(std...)); err != nil {
		return err
	}

	velKey, err := e.graph.AddState(Velocity, fusion.Velocity3, t)
	if err != nil {
		return err
	}
	still, err := fusion.NewSharedDiagonal(3, initVelocityStdDev)
	if err != nil {
		return err
	}
	if err := e.addFactor(fusion.FactorPrior, []fusion.StateKey{velKey},
		fusion.PriorMeasurement{StateType: fusion.Velocity3, Mean: []float64{0, 0, 0}}, still); err != nil {
		return err
	}

	yawKey, _, err := e.ensureState(Orientation, t, nil)
	if err != nil {
		return err
	}
	e.logger.Debugw("imu bias estimated", "samples", len(samples), "bias", bias)
	return e.addFactor(fusion.FactorPrior, []fusion.StateKey{yawKey},
		fusion.PriorMeasurement{StateType: fusion.Angle, Mean: []float64{0}},
		fusion.MustGaussianDiagonal(initYawStdDev))
}

func (e *Estimator) initOdom(t float64) error {
	yawKey, _, err := e.ensureState(Orientation, t, nil)
	if err != nil {
		return err
	}
	return e.addFactor(fusion.FactorPrior, []fusion.StateKey{yawKey},
		fusion.PriorMeasurement{StateType: fusion.Angle, Mean: []float64{0}},
		fusion.MustGaussianDiagonal(initYawStdDev))
}

// initFallback anchors the trajectory at the origin and freezes it. It runs
// before any other state of the first timestamp exists, so the anchor is
// the only state the window catches.
func (e *Estimator) initFallback(t float64) error {
	std := []float64{fallbackStdDev, fallbackStdDev, fallbackStdDev}
	if e.cfg.Prior.Active && len(e.cfg.Prior.Parameter) == 6 {
		std = append([]float64(nil), e.cfg.Prior.Parameter[3:]...)
	}
	noise, err := fusion.NewGaussianDiagonal(std)
	if err != nil {
		return err
	}
	key, _, err := e.ensureState(Position, t, []float64{0, 0, 0})
	if err != nil {
		return err
	}
	if err := e.addFactor(fusion.FactorPrior, []fusion.StateKey{key},
		fusion.PriorMeasurement{StateType: fusion.Point3, Mean: []float64{0, 0, 0}}, noise); err != nil {
		return err
	}
	// the window cutoff is exclusive, so anchor it just past t
	frozen := e.graph.SetAllConstantOutsideWindow(0, math.Nextafter(t, math.Inf(1)))
	e.logger.Debugw("origin anchored", "time", t, "frozen", frozen)
	return nil
}

func pseudorange(d binlog.SensorData) fusion.PseudorangeMeasurement {
	return fusion.PseudorangeMeasurement{
		Range:     d.Mean[0],
		Satellite: [3]float64{d.Mean[1], d.Mean[2], d.Mean[3]},
	}
}
