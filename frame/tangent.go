// Package frame converts between the earth-centred earth-fixed frame and a
// local east-north-up tangent plane.
package frame

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/wroge/wgs84"
	"gonum.org/v1/gonum/mat"

	"estimator-go/binlog"
)

var ErrNotInitialized = errors.New("tangent plane not initialized")

var ecefToLonLat = wgs84.Transform(wgs84.WGS84().XYZ(), wgs84.WGS84().LonLat())

// Geodetic returns longitude and latitude in degrees and ellipsoidal height
// in metres of an ECEF point.
func Geodetic(ecef r3.Vector) (lon, lat, height float64) {
	return ecefToLonLat(ecef.X, ecef.Y, ecef.Z)
}

// TangentPlaneConverter maps ECEF points into the ENU frame at a fixed
// origin. The origin is set once; later Initialize calls are ignored.
type TangentPlaneConverter struct {
	initialized bool
	origin      r3.Vector
	rot         *mat.Dense // ECEF -> ENU
}

func NewTangentPlaneConverter() *TangentPlaneConverter {
	return &TangentPlaneConverter{}
}

// Initialize places the origin at ecef. It reports whether this call set
// the origin.
func (c *TangentPlaneConverter) Initialize(ecef r3.Vector) bool {
	if c.initialized {
		return false
	}
	lon, lat, _ := Geodetic(ecef)
	sl, cl := math.Sincos(lon * math.Pi / 180)
	sp, cp := math.Sincos(lat * math.Pi / 180)
	c.rot = mat.NewDense(3, 3, []float64{
		-sl, cl, 0,
		-sp * cl, -sp * sl, cp,
		cp * cl, cp * sl, sp,
	})
	c.origin = ecef
	c.initialized = true
	return true
}

func (c *TangentPlaneConverter) IsInitialized() bool { return c.initialized }

// Origin returns the ECEF origin of the plane.
func (c *TangentPlaneConverter) Origin() (r3.Vector, error) {
	if !c.initialized {
		return r3.Vector{}, ErrNotInitialized
	}
	return c.origin, nil
}

// ToLocal maps an ECEF point into the plane.
func (c *TangentPlaneConverter) ToLocal(ecef r3.Vector) (r3.Vector, error) {
	if !c.initialized {
		return r3.Vector{}, ErrNotInitialized
	}
	return c.apply(c.rot, ecef.Sub(c.origin)), nil
}

// ToGlobal maps a point of the plane back to ECEF.
func (c *TangentPlaneConverter) ToGlobal(enu r3.Vector) (r3.Vector, error) {
	if !c.initialized {
		return r3.Vector{}, ErrNotInitialized
	}
	return c.apply(c.rot.T(), enu).Add(c.origin), nil
}

func (c *TangentPlaneConverter) apply(m mat.Matrix, v r3.Vector) r3.Vector {
	var out mat.VecDense
	out.MulVec(m, mat.NewVecDense(3, []float64{v.X, v.Y, v.Z}))
	return r3.Vector{X: out.AtVec(0), Y: out.AtVec(1), Z: out.AtVec(2)}
}

// ConvertAllToGlobal rewrites the first three mean components of every
// entry of series name from the plane to ECEF. It does nothing before
// Initialize. Deviations stay in the local axes.
func (c *TangentPlaneConverter) ConvertAllToGlobal(set *binlog.StateDataSet, name string) {
	if !c.initialized {
		return
	}
	for i, d := range set.Series(name) {
		if len(d.Mean) < 3 {
			continue
		}
		g, _ := c.ToGlobal(r3.Vector{X: d.Mean[0], Y: d.Mean[1], Z: d.Mean[2]})
		mean := append([]float64(nil), d.Mean...)
		mean[0], mean[1], mean[2] = g.X, g.Y, g.Z
		set.Series(name)[i].Mean = mean
	}
}
