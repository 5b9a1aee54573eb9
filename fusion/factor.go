package fusion

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// FactorKind is the closed set of residual types the graph understands.
type FactorKind int

const (
	FactorPrior FactorKind = iota
	FactorGNSSPosition
	FactorPseudorange
	FactorClockDrift
	FactorOdometry
	FactorIMU
	FactorBiasRandomWalk
)

// FactorKinds lists every kind in declaration order.
var FactorKinds = []FactorKind{
	FactorPrior, FactorGNSSPosition, FactorPseudorange, FactorClockDrift,
	FactorOdometry, FactorIMU, FactorBiasRandomWalk,
}

func (k FactorKind) String() string {
	switch k {
	case FactorPrior:
		return "Prior"
	case FactorGNSSPosition:
		return "GNSSPosition"
	case FactorPseudorange:
		return "Pseudorange"
	case FactorClockDrift:
		return "ClockDrift"
	case FactorOdometry:
		return "Odometry"
	case FactorIMU:
		return "IMUPreintegration"
	case FactorBiasRandomWalk:
		return "BiasRandomWalk"
	default:
		return fmt.Sprintf("FactorKind(%d)", int(k))
	}
}

// PriorMeasurement is the payload of FactorPrior and FactorGNSSPosition.
// StateType selects which state it constrains.
type PriorMeasurement struct {
	StateType StateType
	Mean      []float64
}

// PseudorangeMeasurement is one satellite range; Satellite is given in the
// same frame as the position state.
type PseudorangeMeasurement struct {
	Range     float64
	Satellite [3]float64
}

// RandomWalk is the payload of FactorClockDrift and FactorBiasRandomWalk.
type RandomWalk struct{}

// OdometryMeasurement is a body-frame velocity and yaw rate held over Dt.
// Planar odometry ignores the lateral and vertical velocity.
type OdometryMeasurement struct {
	Velocity [3]float64
	YawRate  float64
	Dt       float64
	Planar   bool
}

// IMUSample is one raw inertial sample.
type IMUSample struct {
	Timestamp float64
	Acc       [3]float64
	Gyro      [3]float64
}

// IMUMeasurement holds the raw samples in (T0, T1].
type IMUMeasurement struct {
	T0, T1  float64
	Samples []IMUSample
}

// Factor is an immutable residual block over a fixed set of states.
type Factor struct {
	ID    int
	Kind  FactorKind
	Keys  []StateKey
	Noise *NoiseModel
	model model
}

// Dim is the residual dimension.
func (f *Factor) Dim() int { return f.model.dim() }

// Residual evaluates the unweighted residual for the given state means.
func (f *Factor) Residual(x ...[]float64) []float64 {
	r := make([]float64, f.model.dim())
	f.model.residual(r, x)
	return r
}

// model is implemented by every factor payload.
type model interface {
	signature() []StateType
	dim() int
	residual(r []float64, x [][]float64)
}

// jacobianModel is implemented by models with analytic derivatives. jac[i]
// is dim × signature()[i].Dim().
type jacobianModel interface {
	model
	jacobian(jac []*mat.Dense, x [][]float64)
}

func newModel(kind FactorKind, payload any) (model, error) {
	switch kind {
	case FactorPrior, FactorGNSSPosition:
		p, ok := payload.(PriorMeasurement)
		if !ok {
			break
		}
		if kind == FactorGNSSPosition && p.StateType != Point3 {
			return nil, errors.Wrapf(ErrFactorSignature, "%s needs a %s state", kind, Point3)
		}
		if len(p.Mean) != p.StateType.Dim() {
			return nil, errors.Wrapf(ErrFactorSignature, "%s mean has %d components, %s needs %d",
				kind, len(p.Mean), p.StateType, p.StateType.Dim())
		}
		return &priorModel{typ: p.StateType, mean: append([]float64(nil), p.Mean...)}, nil
	case FactorPseudorange:
		if p, ok := payload.(PseudorangeMeasurement); ok {
			return &pseudorangeModel{m: p}, nil
		}
	case FactorClockDrift:
		if _, ok := payload.(RandomWalk); ok {
			return &randomWalkModel{typ: ClockError}, nil
		}
	case FactorBiasRandomWalk:
		if _, ok := payload.(RandomWalk); ok {
			return &randomWalkModel{typ: IMUBias}, nil
		}
	case FactorOdometry:
		if p, ok := payload.(OdometryMeasurement); ok {
			return &odometryModel{m: p}, nil
		}
	case FactorIMU:
		if p, ok := payload.(IMUMeasurement); ok {
			if p.T1 < p.T0 {
				return nil, errors.Errorf("imu interval ends before it starts: %v < %v", p.T1, p.T0)
			}
			return &imuModel{m: p}, nil
		}
	default:
		return nil, errors.Errorf("unknown factor kind %d", int(kind))
	}
	return nil, errors.Errorf("%s cannot take payload %T", kind, payload)
}

type priorModel struct {
	typ  StateType
	mean []float64
}

func (m *priorModel) signature() []StateType { return []StateType{m.typ} }
func (m *priorModel) dim() int               { return m.typ.Dim() }

func (m *priorModel) residual(r []float64, x [][]float64) {
	for i := range r {
		r[i] = x[0][i] - m.mean[i]
	}
	if m.typ == Angle {
		r[0] = WrapAngle(r[0])
	}
}

func (m *priorModel) jacobian(jac []*mat.Dense, _ [][]float64) {
	for i := 0; i < m.dim(); i++ {
		jac[0].Set(i, i, 1)
	}
}

type pseudorangeModel struct {
	m PseudorangeMeasurement
}

func (m *pseudorangeModel) signature() []StateType { return []StateType{Point3, ClockError} }
func (m *pseudorangeModel) dim() int               { return 1 }

func (m *pseudorangeModel) geometric(p []float64) (d float64, los [3]float64) {
	for i := 0; i < 3; i++ {
		los[i] = p[i] - m.m.Satellite[i]
	}
	d = math.Sqrt(los[0]*los[0] + los[1]*los[1] + los[2]*los[2])
	return d, los
}

func (m *pseudorangeModel) residual(r []float64, x [][]float64) {
	d, _ := m.geometric(x[0])
	r[0] = d + x[1][0] - m.m.Range
}

func (m *pseudorangeModel) jacobian(jac []*mat.Dense, x [][]float64) {
	d, los := m.geometric(x[0])
	if d > 0 {
		for i := 0; i < 3; i++ {
			jac[0].Set(0, i, los[i]/d)
		}
	}
	jac[1].Set(0, 0, 1)
}

type randomWalkModel struct {
	typ StateType
}

func (m *randomWalkModel) signature() []StateType { return []StateType{m.typ, m.typ} }
func (m *randomWalkModel) dim() int               { return m.typ.Dim() }

func (m *randomWalkModel) residual(r []float64, x [][]float64) {
	for i := range r {
		r[i] = x[1][i] - x[0][i]
	}
}

func (m *randomWalkModel) jacobian(jac []*mat.Dense, _ [][]float64) {
	for i := 0; i < m.dim(); i++ {
		jac[0].Set(i, i, -1)
		jac[1].Set(i, i, 1)
	}
}

// odometryModel predicts p1, yaw1 from p0, yaw0 with a body velocity
// rotated by yaw0.
type odometryModel struct {
	m OdometryMeasurement
}

func (m *odometryModel) signature() []StateType {
	return []StateType{Point3, Angle, Point3, Angle}
}
func (m *odometryModel) dim() int { return 4 }

func (m *odometryModel) body() [3]float64 {
	v := m.m.Velocity
	if m.m.Planar {
		v[1], v[2] = 0, 0
	}
	return v
}

func (m *odometryModel) residual(r []float64, x [][]float64) {
	p0, yaw0, p1, yaw1 := x[0], x[1][0], x[2], x[3][0]
	v := rotZ(yaw0, m.body())
	for i := 0; i < 3; i++ {
		r[i] = p1[i] - (p0[i] + v[i]*m.m.Dt)
	}
	r[3] = WrapAngle(yaw1 - (yaw0 + m.m.YawRate*m.m.Dt))
}

func (m *odometryModel) jacobian(jac []*mat.Dense, x [][]float64) {
	yaw0 := x[1][0]
	b := m.body()
	s, c := math.Sincos(yaw0)
	for i := 0; i < 3; i++ {
		jac[0].Set(i, i, -1)
		jac[2].Set(i, i, 1)
	}
	// d(R(yaw) v)/dyaw
	jac[1].Set(0, 0, -(-s*b[0]-c*b[1])*m.m.Dt)
	jac[1].Set(1, 0, -(c*b[0]-s*b[1])*m.m.Dt)
	jac[1].Set(3, 0, -1)
	jac[3].Set(3, 0, 1)
}

// imuModel integrates raw samples on a level platform. Samples are held
// constant over the interval ending at their timestamp; the last sample
// is held up to T1.
type imuModel struct {
	m IMUMeasurement
}

func (m *imuModel) signature() []StateType {
	return []StateType{Point3, Velocity3, Angle, IMUBias, Point3, Velocity3, Angle}
}
func (m *imuModel) dim() int { return 7 }

func (m *imuModel) integrate(p0, v0 []float64, yaw0 float64, bias []float64) (p, v [3]float64, yaw float64) {
	copy(p[:], p0)
	copy(v[:], v0)
	yaw = yaw0
	t := m.m.T0
	step := func(s IMUSample, dt float64) {
		if dt <= 0 {
			return
		}
		ab := [3]float64{s.Acc[0] - bias[0], s.Acc[1] - bias[1], s.Acc[2] - bias[2]}
		aw := rotZ(yaw, ab)
		aw[2] -= Gravity
		for i := 0; i < 3; i++ {
			p[i] += v[i]*dt + 0.5*aw[i]*dt*dt
			v[i] += aw[i] * dt
		}
		yaw += (s.Gyro[2] - bias[5]) * dt
	}
	for _, s := range m.m.Samples {
		if s.Timestamp <= m.m.T0 || s.Timestamp > m.m.T1 {
			continue
		}
		step(s, s.Timestamp-t)
		t = s.Timestamp
	}
	if n := len(m.m.Samples); n > 0 && t < m.m.T1 {
		step(m.m.Samples[n-1], m.m.T1-t)
		t = m.m.T1
	}
	if t < m.m.T1 {
		for i := 0; i < 3; i++ {
			p[i] += v[i] * (m.m.T1 - t)
		}
	}
	return p, v, yaw
}

func (m *imuModel) residual(r []float64, x [][]float64) {
	p, v, yaw := m.integrate(x[0], x[1], x[2][0], x[3])
	for i := 0; i < 3; i++ {
		r[i] = x[4][i] - p[i]
		r[3+i] = x[5][i] - v[i]
	}
	r[6] = WrapAngle(x[6][0] - yaw)
}

// PredictIMU integrates the samples of m starting from the given state.
func PredictIMU(m IMUMeasurement, p0, v0 []float64, yaw0 float64, bias []float64) (p, v [3]float64, yaw float64) {
	p, v, yaw = (&imuModel{m: m}).integrate(p0, v0, yaw0, bias)
	return p, v, WrapAngle(yaw)
}

// PredictOdometry applies m to the pose p0, yaw0.
func PredictOdometry(m OdometryMeasurement, p0 []float64, yaw0 float64) (p [3]float64, yaw float64) {
	om := &odometryModel{m: m}
	v := rotZ(yaw0, om.body())
	for i := 0; i < 3; i++ {
		p[i] = p0[i] + v[i]*m.Dt
	}
	return p, WrapAngle(yaw0 + m.YawRate*m.Dt)
}

// rotZ rotates v by yaw around the vertical axis.
func rotZ(yaw float64, v [3]float64) [3]float64 {
	s, c := math.Sincos(yaw)
	return [3]float64{c*v[0] - s*v[1], s*v[0] + c*v[1], v[2]}
}
