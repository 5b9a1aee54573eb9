package fusion

import (
	"fmt"
	"math"
)

// StateType is the semantic type of a state variable. It fixes the
// dimension of the variable's mean.
type StateType int

const (
	Point3 StateType = iota
	Velocity3
	Angle
	IMUBias
	ClockError
)

// Dim returns the number of components of the type.
func (t StateType) Dim() int {
	switch t {
	case Point3, Velocity3:
		return 3
	case Angle, ClockError:
		return 1
	case IMUBias:
		return 6
	default:
		return 0
	}
}

func (t StateType) String() string {
	switch t {
	case Point3:
		return "Point3"
	case Velocity3:
		return "Velocity3"
	case Angle:
		return "Angle"
	case IMUBias:
		return "IMUBias"
	case ClockError:
		return "ClockError"
	default:
		return fmt.Sprintf("StateType(%d)", int(t))
	}
}

// StateKey identifies a state variable. It is unique within a graph.
type StateKey struct {
	Name      string
	Timestamp float64
	Index     int
}

// Key is shorthand for the key of the first instance of name at t.
func Key(name string, t float64) StateKey {
	return StateKey{Name: name, Timestamp: t}
}

func (k StateKey) String() string {
	if k.Index == 0 {
		return fmt.Sprintf("%s@%.6f", k.Name, k.Timestamp)
	}
	return fmt.Sprintf("%s@%.6f#%d", k.Name, k.Timestamp, k.Index)
}

// less orders keys by time, then index.
func (k StateKey) less(o StateKey) bool {
	if k.Timestamp != o.Timestamp {
		return k.Timestamp < o.Timestamp
	}
	return k.Index < o.Index
}

// StateVariable is an estimated quantity. Only Mean and the free→frozen
// transition change after creation.
type StateVariable struct {
	Key    StateKey
	Type   StateType
	Mean   []float64
	StdDev []float64
	Frozen bool
}

func (v *StateVariable) clone() StateVariable {
	out := *v
	out.Mean = append([]float64(nil), v.Mean...)
	out.StdDev = append([]float64(nil), v.StdDev...)
	return out
}

// normalize keeps angles inside (-pi, pi].
func (v *StateVariable) normalize() {
	if v.Type == Angle {
		v.Mean[0] = WrapAngle(v.Mean[0])
	}
}

// StateOption customises AddState.
type StateOption func(*StateVariable)

// WithMean sets the initial mean. The slice is copied.
func WithMean(mean ...float64) StateOption {
	return func(v *StateVariable) {
		v.Mean = append([]float64(nil), mean...)
	}
}

// WithIndex sets the instance index of the key.
func WithIndex(i int) StateOption {
	return func(v *StateVariable) { v.Key.Index = i }
}

// WithStdDev attaches the initial uncertainty of the state. It is kept as
// metadata for the output and never enters the optimization.
func WithStdDev(std ...float64) StateOption {
	return func(v *StateVariable) {
		v.StdDev = append([]float64(nil), std...)
	}
}

// WrapAngle maps a to (-pi, pi].
func WrapAngle(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a <= 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}
