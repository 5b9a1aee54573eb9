package estimation

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"estimator-go/binlog"
	"estimator-go/config"
	"estimator-go/fusion"
)

// Measure adds the absolute observations stamped tnow and, when a
// position prior is configured, a height prior on the tnow position.
func (e *Estimator) Measure(told, tnow float64) error {
	if e.init != Initialized {
		return errors.New("measure before init")
	}
	if e.cfg.GNSS.Active {
		var err error
		switch e.cfg.GNSS.Type {
		case config.GNSSPseudorange:
			err = e.measurePseudorange(told, tnow)
		default:
			err = e.measurePoint(tnow)
		}
		if err != nil {
			return errors.Wrap(err, "gnss")
		}
	}
	if e.cfg.Prior.Active && e.cfg.Prior.Type == config.Prior3 {
		if err := e.measureHeight(tnow); err != nil {
			return errors.Wrap(err, "height prior")
		}
	}
	return nil
}

func (e *Estimator) measurePoint(tnow float64) error {
	recs := e.data.At(binlog.GNSSPoint3, tnow)
	if len(recs) == 0 {
		return nil
	}
	loss := e.cfg.GNSSLoss()
	for i, d := range recs {
		local, err := e.frame.ToLocal(r3.Vector{X: d.Mean[0], Y: d.Mean[1], Z: d.Mean[2]})
		if err != nil {
			return err
		}
		fix := []float64{local.X, local.Y, local.Z}
		seed := e.latestMean(Position, tnow)
		if i == 0 && !e.graph.HasState(fusion.Key(Position, tnow)) {
			seed = fix
		}
		key, _, err := e.ensureState(Position, tnow, seed)
		if err != nil {
			return err
		}
		noise, err := fusion.NewGaussianDiagonal(d.StdDev)
		if err != nil {
			return err
		}
		if err := e.addFactor(fusion.FactorGNSSPosition, []fusion.StateKey{key},
			fusion.PriorMeasurement{StateType: fusion.Point3, Mean: fix}, noise.WithLoss(loss)); err != nil {
			return err
		}
	}
	return nil
}

func (e *Estimator) measurePseudorange(told, tnow float64) error {
	recs := e.data.At(binlog.Pseudorange3, tnow)
	if len(recs) == 0 {
		return nil
	}
	pKey, _, err := e.ensureState(Position, tnow, e.latestMean(Position, tnow))
	if err != nil {
		return err
	}
	prevClock, hadClock := e.previous(ClockError, tnow)
	cKey, _, err := e.ensureState(ClockError, tnow, e.latestMean(ClockError, tnow))
	if err != nil {
		return err
	}

	loss := e.cfg.GNSSLoss()
	for _, d := range recs {
		m := pseudorange(d)
		sat, err := e.frame.ToLocal(r3.Vector{X: m.Satellite[0], Y: m.Satellite[1], Z: m.Satellite[2]})
		if err != nil {
			return err
		}
		m.Satellite = [3]float64{sat.X, sat.Y, sat.Z}
		noise, err := fusion.NewGaussianDiagonal(d.StdDev)
		if err != nil {
			return err
		}
		if err := e.addFactor(fusion.FactorPseudorange, []fusion.StateKey{pKey, cKey}, m, noise.WithLoss(loss)); err != nil {
			return err
		}
	}

	if hadClock {
		dt := tnow - prevClock.Key.Timestamp
		walk, err := fusion.NewGaussianDiagonal(stdFloor(e.cfg.GNSS.ClockDrift * math.Sqrt(dt)))
		if err != nil {
			return err
		}
		if err := e.addFactor(fusion.FactorClockDrift, []fusion.StateKey{prevClock.Key, cKey}, fusion.RandomWalk{}, walk); err != nil {
			return err
		}
	} else {
		e.logger.Debugw("first clock state", "time", tnow, "told", told)
	}
	return nil
}

// measureHeight pins the height of the tnow position to the configured
// value, centred on the current horizontal estimate.
func (e *Estimator) measureHeight(tnow float64) error {
	key, _, err := e.ensureState(Position, tnow, e.latestMean(Position, tnow))
	if err != nil {
		return err
	}
	mean, err := e.graph.Mean(key)
	if err != nil {
		return err
	}
	p := e.cfg.Prior.Parameter
	mean[2] = p[2]
	noise, err := fusion.NewGaussianDiagonal(p[3:6])
	if err != nil {
		return err
	}
	return e.addFactor(fusion.FactorPrior, []fusion.StateKey{key},
		fusion.PriorMeasurement{StateType: fusion.Point3, Mean: mean}, noise)
}
