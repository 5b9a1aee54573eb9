package fusion

// Physical constants used by the motion and observation models.
const (
	Gravity      = 9.80665
	SpeedOfLight = 299792458.0
)

// Solver defaults. The thorough profile is used for forced solves, the
// incremental profile for every other step.
const (
	ThoroughMaxIterations    = 100
	ThoroughFunctionTol      = 1e-10
	ThoroughGradientTol      = 1e-9
	IncrementalMaxIterations = 10
	IncrementalFunctionTol   = 1e-6
	IncrementalGradientTol   = 1e-6
)

// Lower bound for standard deviations derived from integrated sensor noise.
const MinStdDev = 1e-4

// Step used by finite-difference Jacobians.
const jacobianStep = 1e-6

// Pow2 returns squared value.
func Pow2(x float64) float64 { return x * x }
