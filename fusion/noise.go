package fusion

import (
	"math"
	"strings"

	"github.com/pkg/errors"
)

// LossKind selects the robust loss applied to the squared whitened residual.
type LossKind int

const (
	LossNone LossKind = iota
	LossHuber
	LossCauchy
	LossDCS
)

func (k LossKind) String() string {
	switch k {
	case LossHuber:
		return "huber"
	case LossCauchy:
		return "cauchy"
	case LossDCS:
		return "dcs"
	default:
		return "gaussian"
	}
}

// Loss is a robust loss rho(s) over the squared norm s of a whitened residual.
type Loss struct {
	Kind  LossKind
	Param float64
}

// ParseLoss maps a config name onto a Loss. Param must be positive for
// every robust kind.
func ParseLoss(name string, param float64) (Loss, error) {
	var kind LossKind
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "gaussian", "none":
		return Loss{Kind: LossNone}, nil
	case "huber":
		kind = LossHuber
	case "cauchy":
		kind = LossCauchy
	case "dcs":
		kind = LossDCS
	default:
		return Loss{}, errors.Errorf("unknown loss %q", name)
	}
	if param <= 0 || math.IsNaN(param) {
		return Loss{}, errors.Errorf("loss %q needs a positive parameter, got %v", name, param)
	}
	return Loss{Kind: kind, Param: param}, nil
}

// Rho evaluates the loss and its first derivative at s >= 0.
func (l Loss) Rho(s float64) (rho, drho float64) {
	switch l.Kind {
	case LossHuber:
		d2 := l.Param * l.Param
		if s <= d2 {
			return s, 1
		}
		r := math.Sqrt(s)
		return 2*l.Param*r - d2, l.Param / r
	case LossCauchy:
		c2 := l.Param * l.Param
		return c2 * math.Log1p(s/c2), 1 / (1 + s/c2)
	case LossDCS:
		phi := l.Param
		if s <= phi {
			return s, 1
		}
		return phi * (3*s - phi) / (s + phi), 4 * phi * phi / Pow2(s+phi)
	default:
		return s, 1
	}
}

// NoiseModel is a diagonal square-root information matrix with an optional
// robust loss. It is immutable.
type NoiseModel struct {
	sqrtInfo []float64
	loss     Loss
}

// NewGaussianDiagonal builds a noise model from per-component standard
// deviations.
func NewGaussianDiagonal(stdDev []float64) (*NoiseModel, error) {
	if len(stdDev) == 0 {
		return nil, errors.New("noise model needs at least one component")
	}
	info := make([]float64, len(stdDev))
	for i, s := range stdDev {
		if !(s > 0) || math.IsInf(s, 0) {
			return nil, errors.Errorf("standard deviation %d must be positive and finite, got %v", i, s)
		}
		info[i] = 1 / s
	}
	return &NoiseModel{sqrtInfo: info}, nil
}

// NewSharedDiagonal builds a dim-dimensional model with one shared deviation.
func NewSharedDiagonal(dim int, stdDev float64) (*NoiseModel, error) {
	std := make([]float64, dim)
	for i := range std {
		std[i] = stdDev
	}
	return NewGaussianDiagonal(std)
}

// MustGaussianDiagonal is NewGaussianDiagonal for constant inputs.
func MustGaussianDiagonal(stdDev ...float64) *NoiseModel {
	n, err := NewGaussianDiagonal(stdDev)
	if err != nil {
		panic(err)
	}
	return n
}

// WithLoss returns a copy of n using loss l.
func (n *NoiseModel) WithLoss(l Loss) *NoiseModel {
	info := make([]float64, len(n.sqrtInfo))
	copy(info, n.sqrtInfo)
	return &NoiseModel{sqrtInfo: info, loss: l}
}

func (n *NoiseModel) Dim() int   { return len(n.sqrtInfo) }
func (n *NoiseModel) Loss() Loss { return n.loss }

// SqrtInformation returns a copy of the diagonal.
func (n *NoiseModel) SqrtInformation() []float64 {
	out := make([]float64, len(n.sqrtInfo))
	copy(out, n.sqrtInfo)
	return out
}

// StdDev returns the per-component standard deviations.
func (n *NoiseModel) StdDev() []float64 {
	out := make([]float64, len(n.sqrtInfo))
	for i, w := range n.sqrtInfo {
		out[i] = 1 / w
	}
	return out
}

// whiten scales r in place by the square-root information.
func (n *NoiseModel) whiten(r []float64) {
	for i := range r {
		r[i] *= n.sqrtInfo[i]
	}
}

// cost returns ½·rho(‖r‖²) and rho'(‖r‖²) for an already whitened residual.
func (n *NoiseModel) cost(rw []float64) (cost, weight float64) {
	s := 0.0
	for _, v := range rw {
		s += v * v
	}
	rho, drho := n.loss.Rho(s)
	return 0.5 * rho, drho
}
