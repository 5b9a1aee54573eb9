package fusion

import (
	"math"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// SolverMethod names the minimizer used by Solve.
type SolverMethod string

const (
	MethodNewton SolverMethod = "newton"
	MethodLBFGS  SolverMethod = "lbfgs"
	MethodBFGS   SolverMethod = "bfgs"
)

// ParseSolverMethod accepts the config spelling of a method.
func ParseSolverMethod(s string) (SolverMethod, error) {
	switch m := SolverMethod(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return MethodNewton, nil
	case MethodNewton, MethodLBFGS, MethodBFGS:
		return m, nil
	default:
		return "", errors.Errorf("unknown solver method %q", s)
	}
}

// SolverOptions bounds one call to Solve. Fixed options make a run
// deterministic.
type SolverOptions struct {
	Method            SolverMethod
	MaxIterations     int
	FunctionTolerance float64
	GradientTolerance float64
}

// ThoroughOptions is used for forced solves.
func ThoroughOptions() SolverOptions {
	return SolverOptions{
		Method:            MethodNewton,
		MaxIterations:     ThoroughMaxIterations,
		FunctionTolerance: ThoroughFunctionTol,
		GradientTolerance: ThoroughGradientTol,
	}
}

// IncrementalOptions is used between forced solves.
func IncrementalOptions() SolverOptions {
	return SolverOptions{
		Method:            MethodNewton,
		MaxIterations:     IncrementalMaxIterations,
		FunctionTolerance: IncrementalFunctionTol,
		GradientTolerance: IncrementalGradientTol,
	}
}

// SolveSummary reports the outcome of one Solve. A solve that did not
// converge still updated the free states with the best point found.
type SolveSummary struct {
	FreeStates      int
	ActiveFactors   int
	Iterations      int
	FuncEvaluations int
	InitialCost     float64
	FinalCost       float64
	Status          string
	Converged       bool
	Err             error
	Duration        time.Duration
}

// Solve minimises the robust cost over all free states. Factors touching
// only frozen states are constant and skipped. Frozen means are never
// written.
func (g *FactorGraph) Solve(opts SolverOptions) SolveSummary {
	start := time.Now()
	p := g.newProblem()
	sum := SolveSummary{FreeStates: len(p.free), ActiveFactors: len(p.factors)}
	if p.n == 0 {
		sum.Status = "NoFreeStates"
		sum.Converged = true
		sum.Duration = time.Since(start)
		return sum
	}
	x0 := p.pack()
	sum.InitialCost = p.cost(x0)

	settings := &optimize.Settings{
		MajorIterations:   maxInt(opts.MaxIterations, 1),
		GradientThreshold: opts.GradientTolerance,
		Converger: &optimize.FunctionConverge{
			Absolute:   opts.FunctionTolerance,
			Relative:   opts.FunctionTolerance,
			Iterations: 2,
		},
	}
	problem := optimize.Problem{Func: p.cost, Grad: p.grad, Hess: p.hess}
	var method optimize.Method
	switch opts.Method {
	case MethodLBFGS:
		method = &optimize.LBFGS{}
	case MethodBFGS:
		method = &optimize.BFGS{}
	default:
		method = &optimize.Newton{}
	}

	res, err := optimize.Minimize(problem, x0, settings, method)
	sum.Err = err
	if res == nil {
		sum.Status = "Failure"
		sum.FinalCost = sum.InitialCost
		sum.Duration = time.Since(start)
		return sum
	}
	x := res.X
	if f := res.F; math.IsNaN(f) || f > sum.InitialCost {
		// keep the starting point when the minimizer ended somewhere worse
		x = x0
		sum.FinalCost = sum.InitialCost
	} else {
		sum.FinalCost = f
	}
	p.unpack(x)
	sum.Iterations = res.Stats.MajorIterations
	sum.FuncEvaluations = res.Stats.FuncEvaluations
	sum.Status = res.Status.String()
	switch res.Status {
	case optimize.GradientThreshold, optimize.FunctionConvergence, optimize.StepConvergence, optimize.Success:
		sum.Converged = err == nil
	}
	sum.Duration = time.Since(start)
	return sum
}

// Cost evaluates the current total robust cost of all factors.
func (g *FactorGraph) Cost() float64 {
	total := 0.0
	for _, f := range g.factors {
		x := make([][]float64, len(f.Keys))
		for i, k := range f.Keys {
			x[i] = g.states[k].Mean
		}
		r := f.Residual(x...)
		f.Noise.whiten(r)
		c, _ := f.Noise.cost(r)
		total += c
	}
	return total
}

// problem is the packed view of the free states used by one Solve.
type problem struct {
	g       *FactorGraph
	free    []*StateVariable
	offset  map[StateKey]int
	factors []*Factor
	n       int
}

func (g *FactorGraph) newProblem() *problem {
	p := &problem{g: g, offset: make(map[StateKey]int, len(g.free))}
	seen := make(map[int]bool)
	for _, k := range g.free {
		v := g.states[k]
		p.offset[k] = p.n
		p.n += v.Type.Dim()
		p.free = append(p.free, v)
		for _, id := range g.factorsOf[k] {
			if !seen[id] {
				seen[id] = true
				p.factors = append(p.factors, g.factors[id])
			}
		}
	}
	return p
}

func (p *problem) pack() []float64 {
	x := make([]float64, 0, p.n)
	for _, v := range p.free {
		x = append(x, v.Mean...)
	}
	return x
}

func (p *problem) unpack(x []float64) {
	for _, v := range p.free {
		o := p.offset[v.Key]
		copy(v.Mean, x[o:o+v.Type.Dim()])
		v.normalize()
	}
}

// blocks returns the state values a factor sees at x.
func (p *problem) blocks(f *Factor, x []float64) [][]float64 {
	out := make([][]float64, len(f.Keys))
	for i, k := range f.Keys {
		if o, ok := p.offset[k]; ok {
			out[i] = x[o : o+p.g.states[k].Type.Dim()]
		} else {
			out[i] = p.g.states[k].Mean
		}
	}
	return out
}

func (p *problem) cost(x []float64) float64 {
	total := 0.0
	for _, f := range p.factors {
		r := make([]float64, f.model.dim())
		f.model.residual(r, p.blocks(f, x))
		f.Noise.whiten(r)
		c, _ := f.Noise.cost(r)
		total += c
	}
	return total
}

// linearize returns the whitened residual, the whitened Jacobian blocks and
// the robust weight of one factor.
func (p *problem) linearize(f *Factor, x []float64) ([]float64, []*mat.Dense, float64) {
	xs := p.blocks(f, x)
	sig := f.model.signature()
	m := f.model.dim()
	r := make([]float64, m)
	f.model.residual(r, xs)
	jac := make([]*mat.Dense, len(sig))
	for i, t := range sig {
		jac[i] = mat.NewDense(m, t.Dim(), nil)
	}
	if jm, ok := f.model.(jacobianModel); ok {
		jm.jacobian(jac, xs)
	} else {
		numericJacobian(f.model, xs, jac)
	}
	info := f.Noise.sqrtInfo
	for i := range r {
		r[i] *= info[i]
	}
	for _, j := range jac {
		_, c := j.Dims()
		for i := 0; i < m; i++ {
			for k := 0; k < c; k++ {
				j.Set(i, k, j.At(i, k)*info[i])
			}
		}
	}
	_, w := f.Noise.cost(r)
	return r, jac, w
}

func (p *problem) grad(grad, x []float64) {
	for i := range grad {
		grad[i] = 0
	}
	for _, f := range p.factors {
		r, jac, w := p.linearize(f, x)
		for b, k := range f.Keys {
			o, ok := p.offset[k]
			if !ok {
				continue
			}
			_, c := jac[b].Dims()
			for col := 0; col < c; col++ {
				s := 0.0
				for row := range r {
					s += jac[b].At(row, col) * r[row]
				}
				grad[o+col] += w * s
			}
		}
	}
}

// hess fills the Gauss-Newton approximation JᵀWJ weighted by the robust
// loss derivative.
func (p *problem) hess(h *mat.SymDense, x []float64) {
	for i := 0; i < p.n; i++ {
		for j := i; j < p.n; j++ {
			h.SetSym(i, j, 0)
		}
	}
	for _, f := range p.factors {
		_, jac, w := p.linearize(f, x)
		for a, ka := range f.Keys {
			oa, ok := p.offset[ka]
			if !ok {
				continue
			}
			for b, kb := range f.Keys {
				ob, ok := p.offset[kb]
				if !ok {
					continue
				}
				var jtj mat.Dense
				jtj.Mul(jac[a].T(), jac[b])
				ra, cb := jtj.Dims()
				for i := 0; i < ra; i++ {
					for j := 0; j < cb; j++ {
						if oa+i <= ob+j {
							h.SetSym(oa+i, ob+j, h.At(oa+i, ob+j)+w*jtj.At(i, j))
						}
					}
				}
			}
		}
	}
}

// numericJacobian differentiates a model without analytic derivatives by
// central differences over the concatenated state blocks.
func numericJacobian(m model, xs [][]float64, jac []*mat.Dense) {
	var flat []float64
	for _, b := range xs {
		flat = append(flat, b...)
	}
	split := func(v []float64) [][]float64 {
		out := make([][]float64, len(xs))
		o := 0
		for i, b := range xs {
			out[i] = v[o : o+len(b)]
			o += len(b)
		}
		return out
	}
	full := mat.NewDense(m.dim(), len(flat), nil)
	fd.Jacobian(full, func(y, v []float64) {
		m.residual(y, split(v))
	}, flat, &fd.JacobianSettings{Formula: fd.Central, Step: jacobianStep})
	o := 0
	for i, b := range xs {
		jac[i].Copy(full.Slice(0, m.dim(), o, o+len(b)))
		o += len(b)
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
