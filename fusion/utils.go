package fusion

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Pinv computes the Moore-Penrose pseudo-inverse via SVD.
func Pinv(a mat.Matrix) (*mat.Dense, error) {
	r, c := a.Dims()
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, errors.New("svd factorization failed")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	s := svd.Values(nil)

	maxS := 0.0
	if len(s) > 0 {
		maxS = s[0]
	}
	// eps * max(rows, cols) * largest singular value
	tol := 1e-15 * float64(maxInt(r, c)) * maxS

	sigInv := mat.NewDense(len(s), len(s), nil)
	for i, val := range s {
		if val > tol {
			sigInv.Set(i, i, 1.0/val)
		}
	}
	var tmp, res mat.Dense
	tmp.Mul(&v, sigInv)
	res.Mul(&tmp, u.T())
	return &res, nil
}

// Bancroft solves the single-epoch pseudorange equations in closed form
// (Bancroft 1985). Satellite positions and ranges are in metres in an
// earth-centred frame; the returned clock error is in metres. Needs at
// least four ranges.
func Bancroft(ranges []PseudorangeMeasurement) (pos [3]float64, clock float64, err error) {
	n := len(ranges)
	if n < 4 {
		return pos, 0, errors.Errorf("bancroft needs 4 pseudoranges, got %d", n)
	}
	a := mat.NewDense(n, 4, nil)
	r := mat.NewVecDense(n, nil)
	ones := mat.NewVecDense(n, nil)
	for i, m := range ranges {
		s := m.Satellite
		a.Set(i, 0, s[0])
		a.Set(i, 1, s[1])
		a.Set(i, 2, s[2])
		a.Set(i, 3, m.Range)
		r.SetVec(i, 0.5*(Pow2(s[0])+Pow2(s[1])+Pow2(s[2])-Pow2(m.Range)))
		ones.SetVec(i, 1)
	}
	b, err := Pinv(a)
	if err != nil {
		return pos, 0, err
	}
	var u, v mat.VecDense
	u.MulVec(b, ones)
	v.MulVec(b, r)

	e := lorentz(&u, &u)
	f := lorentz(&u, &v) - 1
	gg := lorentz(&v, &v)
	disc := f*f - e*gg
	if disc < 0 || e == 0 {
		return pos, 0, errors.New("bancroft has no real solution")
	}
	best := math.Inf(1)
	for _, lam := range []float64{(-f + math.Sqrt(disc)) / e, (-f - math.Sqrt(disc)) / e} {
		var cand [4]float64
		for i := range cand {
			cand[i] = lam*u.AtVec(i) + v.AtVec(i)
		}
		// the root closer to the earth's surface is the receiver
		res := math.Abs(earthRadius - math.Sqrt(Pow2(cand[0])+Pow2(cand[1])+Pow2(cand[2])))
		if res < best {
			best = res
			pos = [3]float64{cand[0], cand[1], cand[2]}
			// the fourth component carries the negated clock error
			clock = -cand[3]
		}
	}
	return pos, clock, nil
}

const earthRadius = 6378137.0

// lorentz is the Minkowski inner product <a,b> = a1b1 + a2b2 + a3b3 - a4b4.
func lorentz(a, b *mat.VecDense) float64 {
	return a.AtVec(0)*b.AtVec(0) + a.AtVec(1)*b.AtVec(1) + a.AtVec(2)*b.AtVec(2) - a.AtVec(3)*b.AtVec(3)
}
