// Package config holds the run configuration of the estimator.
package config

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"estimator-go/fusion"
)

// GNSS observation types.
const (
	GNSSPoint3      = "point3"
	GNSSPseudorange = "pseudorange3"
)

// Odometry models.
const (
	Odom2 = "odom2" // planar: forward speed and yaw rate
	Odom4 = "odom4" // 3D translation and yaw rate
)

// Prior types.
const Prior3 = "prior3"

// Output modes.
const (
	ModeFilter   = "filter"
	ModeSmoother = "smoother"
)

type GNSS struct {
	Active bool   `yaml:"active"`
	Type   string `yaml:"type"`
	// Loss is the robust loss on GNSS factors: gaussian, huber, cauchy, dcs.
	Loss      string  `yaml:"loss"`
	LossParam float64 `yaml:"loss_param"`
	// ClockDrift is the random-walk deviation of the receiver clock in
	// metres per square-root second.
	ClockDrift float64 `yaml:"clock_drift"`
}

type IMU struct {
	Active bool `yaml:"active"`
	// BiasWindow is the length in seconds of the initial bias estimation.
	BiasWindow float64 `yaml:"bias_window"`
	// BiasDrift is the random-walk deviation of accel and gyro biases.
	BiasDrift [2]float64 `yaml:"bias_drift"`
}

type Odom struct {
	Active bool   `yaml:"active"`
	Type   string `yaml:"type"`
}

type Prior struct {
	Active bool   `yaml:"active"`
	Type   string `yaml:"type"`
	// Parameter is [x y z σx σy σz].
	Parameter []float64 `yaml:"parameter"`
}

type Solution struct {
	// Window is the length in seconds of the free state window. Zero keeps
	// every state free.
	Window float64 `yaml:"window"`
	Mode   string  `yaml:"mode"`
}

type SolverProfile struct {
	Method            string  `yaml:"method"`
	MaxIterations     int     `yaml:"max_iterations"`
	FunctionTolerance float64 `yaml:"function_tolerance"`
	GradientTolerance float64 `yaml:"gradient_tolerance"`
}

type Solver struct {
	Thorough    SolverProfile `yaml:"thorough"`
	Incremental SolverProfile `yaml:"incremental"`
}

type Config struct {
	GNSS     GNSS     `yaml:"gnss"`
	IMU      IMU      `yaml:"imu"`
	Odom     Odom     `yaml:"odom"`
	Prior    Prior    `yaml:"prior"`
	Solution Solution `yaml:"solution"`
	Solver   Solver   `yaml:"solver"`
	Input    string   `yaml:"input"`
	Output   string   `yaml:"output"`
}

// Default is a GNSS point-fix run with a 10 s window.
func Default() *Config {
	thorough := fusion.ThoroughOptions()
	incremental := fusion.IncrementalOptions()
	return &Config{
		GNSS: GNSS{Active: true, Type: GNSSPoint3, Loss: "gaussian", ClockDrift: 0.1},
		IMU:  IMU{BiasWindow: 2.0, BiasDrift: [2]float64{1e-3, 1e-4}},
		Odom: Odom{Type: Odom2},
		Prior: Prior{
			Type:      Prior3,
			Parameter: []float64{0, 0, 0, 1, 1, 1},
		},
		Solution: Solution{Window: 10, Mode: ModeFilter},
		Solver: Solver{
			Thorough: SolverProfile{
				Method:            string(thorough.Method),
				MaxIterations:     thorough.MaxIterations,
				FunctionTolerance: thorough.FunctionTolerance,
				GradientTolerance: thorough.GradientTolerance,
			},
			Incremental: SolverProfile{
				Method:            string(incremental.Method),
				MaxIterations:     incremental.MaxIterations,
				FunctionTolerance: incremental.FunctionTolerance,
				GradientTolerance: incremental.GradientTolerance,
			},
		},
	}
}

// Load reads a YAML file on top of Default and validates the result.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	return Parse(b)
}

// Parse decodes YAML on top of Default and validates the result.
func Parse(b []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Marshal renders cfg as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

func (c *Config) normalize() {
	c.GNSS.Type = strings.ToLower(c.GNSS.Type)
	c.Odom.Type = strings.ToLower(c.Odom.Type)
	c.Prior.Type = strings.ToLower(c.Prior.Type)
	c.Solution.Mode = strings.ToLower(c.Solution.Mode)
}

// Validate reports every inconsistency at once.
func (c *Config) Validate() error {
	var err error
	if c.GNSS.Active {
		switch c.GNSS.Type {
		case GNSSPoint3, GNSSPseudorange:
		default:
			err = multierr.Append(err, errors.Errorf("gnss.type %q is not %s or %s", c.GNSS.Type, GNSSPoint3, GNSSPseudorange))
		}
		if _, e := fusion.ParseLoss(c.GNSS.Loss, c.GNSS.LossParam); e != nil {
			err = multierr.Append(err, errors.Wrap(e, "gnss.loss"))
		}
		if c.GNSS.Type == GNSSPseudorange && !(c.GNSS.ClockDrift > 0) {
			err = multierr.Append(err, errors.New("gnss.clock_drift must be positive"))
		}
	}
	if c.IMU.Active {
		if !(c.IMU.BiasWindow > 0) {
			err = multierr.Append(err, errors.New("imu.bias_window must be positive"))
		}
		if !(c.IMU.BiasDrift[0] > 0) || !(c.IMU.BiasDrift[1] > 0) {
			err = multierr.Append(err, errors.New("imu.bias_drift must be positive"))
		}
	}
	if c.Odom.Active && c.Odom.Type != Odom2 && c.Odom.Type != Odom4 {
		err = multierr.Append(err, errors.Errorf("odom.type %q is not %s or %s", c.Odom.Type, Odom2, Odom4))
	}
	if c.Prior.Active {
		if c.Prior.Type != Prior3 {
			err = multierr.Append(err, errors.Errorf("prior.type %q is not %s", c.Prior.Type, Prior3))
		}
		if len(c.Prior.Parameter) != 6 {
			err = multierr.Append(err, errors.Errorf("prior.parameter needs 6 values, got %d", len(c.Prior.Parameter)))
		} else {
			for _, s := range c.Prior.Parameter[3:] {
				if !(s > 0) {
					err = multierr.Append(err, errors.New("prior.parameter deviations must be positive"))
					break
				}
			}
		}
	}
	if c.Solution.Window < 0 {
		err = multierr.Append(err, errors.New("solution.window must not be negative"))
	}
	if c.Solution.Mode != ModeFilter && c.Solution.Mode != ModeSmoother {
		err = multierr.Append(err, errors.Errorf("solution.mode %q is not %s or %s", c.Solution.Mode, ModeFilter, ModeSmoother))
	}
	if _, e := c.Solver.Thorough.Options(); e != nil {
		err = multierr.Append(err, errors.Wrap(e, "solver.thorough"))
	}
	if _, e := c.Solver.Incremental.Options(); e != nil {
		err = multierr.Append(err, errors.Wrap(e, "solver.incremental"))
	}
	return err
}

// Options converts a profile into solver options.
func (p SolverProfile) Options() (fusion.SolverOptions, error) {
	m, err := fusion.ParseSolverMethod(p.Method)
	if err != nil {
		return fusion.SolverOptions{}, err
	}
	if p.MaxIterations <= 0 {
		return fusion.SolverOptions{}, errors.Errorf("max_iterations must be positive, got %d", p.MaxIterations)
	}
	if p.FunctionTolerance < 0 || p.GradientTolerance < 0 {
		return fusion.SolverOptions{}, errors.New("tolerances must not be negative")
	}
	return fusion.SolverOptions{
		Method:            m,
		MaxIterations:     p.MaxIterations,
		FunctionTolerance: p.FunctionTolerance,
		GradientTolerance: p.GradientTolerance,
	}, nil
}

// GNSSLoss returns the robust loss of GNSS factors.
func (c *Config) GNSSLoss() fusion.Loss {
	l, _ := fusion.ParseLoss(c.GNSS.Loss, c.GNSS.LossParam)
	return l
}
