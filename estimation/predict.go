package estimation

import (
	"math"

	"github.com/pkg/errors"

	"estimator-go/binlog"
	"estimator-go/config"
	"estimator-go/fusion"
)

const (
	defaultAccStdDev  = 0.1
	defaultGyroStdDev = 0.01
	// odomGapStdDev is the velocity deviation assumed over an interval
	// without odometry records.
	odomGapStdDev = 1.0
)

// Predict adds the motion model factors of every active motion sensor
// from the newest earlier states (normally those at told) to tnow and
// creates the tnow states they constrain.
func (e *Estimator) Predict(told, tnow float64) error {
	if e.init != Initialized {
		return errors.New("predict before init")
	}
	if !(tnow > told) {
		return errors.Errorf("predict needs tnow > told, got %v <= %v", tnow, told)
	}
	if e.cfg.IMU.Active {
		if err := e.predictIMU(tnow); err != nil {
			return errors.Wrap(err, "imu")
		}
	}
	if e.cfg.Odom.Active {
		if err := e.predictOdom(tnow); err != nil {
			return errors.Wrap(err, "odometry")
		}
	}
	return nil
}

func (e *Estimator) predictIMU(tnow float64) error {
	p0, okP := e.previous(Position, tnow)
	v0, okV := e.previous(Velocity, tnow)
	y0, okY := e.previous(Orientation, tnow)
	b0, okB := e.previous(IMUBias, tnow)
	if !okP || !okV || !okY || !okB {
		return errors.Errorf("missing inertial states before %v", tnow)
	}

	recs := e.data.Between(binlog.IMU, p0.Key.Timestamp, tnow)
	m := fusion.IMUMeasurement{T0: p0.Key.Timestamp, T1: tnow, Samples: make([]fusion.IMUSample, len(recs))}
	for i, d := range recs {
		m.Samples[i] = fusion.IMUSample{
			Timestamp: d.Timestamp,
			Acc:       [3]float64{d.Mean[0], d.Mean[1], d.Mean[2]},
			Gyro:      [3]float64{d.Mean[3], d.Mean[4], d.Mean[5]},
		}
	}
	p, v, yaw := fusion.PredictIMU(m, p0.Mean, v0.Mean, y0.Mean[0], b0.Mean)

	pKey, _, err := e.ensureState(Position, tnow, p[:])
	if err != nil {
		return err
	}
	vKey, _, err := e.ensureState(Velocity, tnow, v[:])
	if err != nil {
		return err
	}
	yKey, _, err := e.ensureState(Orientation, tnow, []float64{yaw})
	if err != nil {
		return err
	}
	bKey, _, err := e.ensureState(IMUBias, tnow, b0.Mean)
	if err != nil {
		return err
	}

	accStd, gyroStd := defaultAccStdDev, defaultGyroStdDev
	if avg, out := binlog.AverageMeasurement(recs); out == binlog.OutcomeOK {
		// per-sample deviation, not the fused one
		accStd = avg.StdDev[0] * math.Sqrt(float64(len(recs)))
		gyroStd = avg.StdDev[5] * math.Sqrt(float64(len(recs)))
	}
	dt := m.T1 - m.T0
	ps, vs, ys := 0.5*accStd*dt*dt, accStd*dt, gyroStd*dt
	noise, err := fusion.NewGaussianDiagonal(stdFloor(ps, ps, ps, vs, vs, vs, ys))
	if err != nil {
		return err
	}
	if err := e.addFactor(fusion.FactorIMU,
		[]fusion.StateKey{p0.Key, v0.Key, y0.Key, b0.Key, pKey, vKey, yKey}, m, noise); err != nil {
		return err
	}

	sq := math.Sqrt(dt)
	acc, gyro := e.cfg.IMU.BiasDrift[0]*sq, e.cfg.IMU.BiasDrift[1]*sq
	walk, err := fusion.NewGaussianDiagonal(stdFloor(acc, acc, acc, gyro, gyro, gyro))
	if err != nil {
		return err
	}
	return e.addFactor(fusion.FactorBiasRandomWalk, []fusion.StateKey{b0.Key, bKey}, fusion.RandomWalk{}, walk)
}

func (e *Estimator) predictOdom(tnow float64) error {
	p0, okP := e.previous(Position, tnow)
	if !okP {
		return errors.Errorf("missing pose states before %v", tnow)
	}
	y0, okY := e.graph.State(fusion.Key(Orientation, p0.Key.Timestamp))
	if !okY {
		return errors.Errorf("missing orientation at %v", p0.Key.Timestamp)
	}
	dt := tnow - p0.Key.Timestamp
	recs := e.data.Between(binlog.Odom3, p0.Key.Timestamp, tnow)
	avg, out := binlog.AverageMeasurement(recs)

	m := fusion.OdometryMeasurement{Dt: dt, Planar: e.cfg.Odom.Type == config.Odom2}
	var noise *fusion.NoiseModel
	var err error
	if out == binlog.OutcomeEmpty {
		// hold the pose over the gap
		e.logger.Debugw("no odometry in interval", "from", p0.Key.Timestamp, "to", tnow)
		noise, err = fusion.NewSharedDiagonal(4, math.Max(odomGapStdDev*dt, fusion.MinStdDev))
	} else {
		m.Velocity = [3]float64{avg.Mean[0], avg.Mean[1], avg.Mean[2]}
		m.YawRate = avg.Mean[5]
		// the averaged deviation is the deviation of the mean velocity
		n := math.Sqrt(float64(len(recs)))
		vx, vy, vz := avg.StdDev[0]*n, avg.StdDev[1]*n, avg.StdDev[2]*n
		if m.Planar {
			vy, vz = vx, vx
		}
		wz := avg.StdDev[5] * n
		noise, err = fusion.NewGaussianDiagonal(stdFloor(vx*dt, vy*dt, vz*dt, wz*dt))
	}
	if err != nil {
		return err
	}
	p, yaw := fusion.PredictOdometry(m, p0.Mean, y0.Mean[0])

	pKey, _, err := e.ensureState(Position, tnow, p[:])
	if err != nil {
		return err
	}
	yKey, _, err := e.ensureState(Orientation, tnow, []float64{yaw})
	if err != nil {
		return err
	}
	return e.addFactor(fusion.FactorOdometry, []fusion.StateKey{p0.Key, y0.Key, pKey, yKey}, m, noise)
}
