package estimation

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"estimator-go/binlog"
	"estimator-go/config"
	"estimator-go/fusion"
)

var ErrNoTimestamps = errors.New("no timestamps in the primary sensor stream")

// PrimarySensor returns the stream whose timestamps define the steps:
// GNSS, else odometry, else IMU.
func PrimarySensor(cfg *config.Config) (binlog.SensorType, bool) {
	switch {
	case cfg.GNSS.Active && cfg.GNSS.Type == config.GNSSPseudorange:
		return binlog.Pseudorange3, true
	case cfg.GNSS.Active:
		return binlog.GNSSPoint3, true
	case cfg.Odom.Active:
		return binlog.Odom3, true
	case cfg.IMU.Active:
		return binlog.IMU, true
	default:
		return 0, false
	}
}

// TimeRange returns the first and last timestamp of the primary stream.
func TimeRange(cfg *config.Config, data *binlog.SensorDataSet) (first, last float64, err error) {
	typ, ok := PrimarySensor(cfg)
	if !ok {
		return 0, 0, errors.Wrap(ErrNoTimestamps, "no sensor is active")
	}
	first, ok = data.First(typ)
	if !ok {
		return 0, 0, errors.Wrapf(ErrNoTimestamps, "no %s records", typ)
	}
	last, _ = data.Last(typ)
	return first, last, nil
}

// NextTimestamp returns the primary timestamp following t.
func NextTimestamp(cfg *config.Config, data *binlog.SensorDataSet, t float64) (float64, bool) {
	typ, ok := PrimarySensor(cfg)
	if !ok {
		return 0, false
	}
	return data.NextTimestamp(typ, t)
}

// Options tune a Run. The zero value is usable.
type Options struct {
	Logger   *zap.SugaredLogger
	Clock    clock.Clock
	Reporter ProgressReporter
	RunID    string
	// LocalOutput receives the position series in the local frame before
	// it is converted to ECEF.
	LocalOutput string
}

// Result is the output of a Run. Position is in ECEF when GNSS set up the
// local frame.
type Result struct {
	States    *binlog.StateDataSet
	Local     []binlog.StateData
	Summaries []IterationSummary
	Graph     *fusion.FactorGraph
}

// Run processes data from the first to the last primary timestamp. Every
// step predicts, measures and solves; context cancellation is honoured
// between steps.
func Run(ctx context.Context, cfg *config.Config, data *binlog.SensorDataSet, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	thorough, err := cfg.Solver.Thorough.Options()
	if err != nil {
		return nil, errors.Wrap(err, "thorough solver")
	}
	incremental, err := cfg.Solver.Incremental.Options()
	if err != nil {
		return nil, errors.Wrap(err, "incremental solver")
	}

	first, last, err := TimeRange(cfg, data)
	if err != nil {
		return nil, err
	}
	est := NewEstimator(cfg, data, logger)
	if err := est.Init(first); err != nil {
		return nil, err
	}
	sched := Scheduler{First: first, Last: last}
	res := &Result{States: binlog.NewStateDataSet(), Graph: est.graph}

	told, tnow := first-1, first
	for {
		if err := ctx.Err(); err != nil {
			return res, errors.Wrapf(err, "stopped at %v", tnow)
		}
		sum, err := est.step(clk, told, tnow, sched.Force(told, tnow), thorough, incremental)
		if err != nil {
			return res, errors.Wrapf(err, "step %v", tnow)
		}
		est.record(res.States, tnow)
		res.States.Append(SolveTime, sum.StateData())
		res.Summaries = append(res.Summaries, sum)
		if opts.Reporter != nil {
			p := Progress{RunID: opts.RunID, Percent: 100, Timestamp: tnow, Summary: sum}
			if last > first {
				p.Percent = (tnow - first) / (last - first) * 100
			}
			if v, ok := est.graph.State(fusion.Key(Position, tnow)); ok {
				p.Position = v.Mean
			}
			opts.Reporter.Progress(p)
		}

		next, ok := NextTimestamp(cfg, data, tnow)
		if !ok || tnow >= last {
			break
		}
		told, tnow = tnow, next
	}

	start := clk.Now()
	final := IterationSummary{Timestamp: tnow, Forced: true}
	final.apply(est.graph.Solve(thorough))
	final.FreeStates = est.graph.NumFreeStates()
	final.Factors = est.graph.NumFactors()
	final.DurationTotal = clk.Since(start)
	res.Summaries = append(res.Summaries, final)
	logger.Infow("final solve", "status", final.Status, "cost", final.FinalCost, "iterations", final.Iterations)

	if cfg.Solution.Mode == config.ModeSmoother {
		est.recordAll(res.States)
	} else {
		est.refreshLast(res.States, tnow)
	}

	if cfg.GNSS.Active && est.frame.IsInitialized() {
		res.Local = lo.Map(res.States.Series(Position), func(d binlog.StateData, _ int) binlog.StateData {
			d.Mean = append([]float64(nil), d.Mean...)
			return d
		})
		if opts.LocalOutput != "" {
			if err := binlog.WriteStateFile(opts.LocalOutput, Position, res.States, false); err != nil {
				return res, errors.Wrap(err, "write local positions")
			}
		}
		est.frame.ConvertAllToGlobal(res.States, Position)
	}
	return res, nil
}

// step runs predict, measure, the scheduled solve and the window freeze of
// one timestamp.
func (e *Estimator) step(clk clock.Clock, told, tnow float64, force bool, thorough, incremental fusion.SolverOptions) (IterationSummary, error) {
	sum := IterationSummary{Timestamp: tnow, Forced: force}
	start := clk.Now()

	if tnow > e.timeFirst {
		if err := e.Predict(told, tnow); err != nil {
			return sum, errors.Wrap(err, "predict")
		}
	}
	mark := clk.Now()
	sum.DurationPredict = mark.Sub(start)

	if err := e.Measure(told, tnow); err != nil {
		return sum, errors.Wrap(err, "measure")
	}
	sum.DurationMeasure = clk.Since(mark)

	opts := incremental
	if force {
		opts = thorough
	}
	solved := e.graph.Solve(opts)
	sum.apply(solved)
	if w := e.cfg.Solution.Window; w > 0 {
		if n := e.graph.SetAllConstantOutsideWindow(w, tnow); n > 0 {
			e.logger.Debugw("states frozen", "time", tnow, "count", n)
		}
	}
	sum.FreeStates = e.graph.NumFreeStates()
	sum.Factors = e.graph.NumFactors()
	sum.DurationTotal = clk.Since(start)
	if !sum.Converged {
		e.logger.Debugw("solve did not converge", "time", tnow, "status", sum.Status, "err", solved.Err)
	}
	return sum, nil
}

func stateData(v fusion.StateVariable) binlog.StateData {
	return binlog.StateData{Timestamp: v.Key.Timestamp, Mean: v.Mean, StdDev: v.StdDev}
}

// record appends the tnow estimate of every output series.
func (e *Estimator) record(set *binlog.StateDataSet, tnow float64) {
	for _, name := range OutputStates {
		if v, ok := e.graph.State(fusion.Key(name, tnow)); ok {
			set.Append(name, stateData(v))
		}
	}
}

// refreshLast replaces the tnow entries with the current estimate.
func (e *Estimator) refreshLast(set *binlog.StateDataSet, tnow float64) {
	for _, name := range OutputStates {
		series := set.Series(name)
		if n := len(series); n > 0 && series[n-1].Timestamp == tnow {
			if v, ok := e.graph.State(fusion.Key(name, tnow)); ok {
				series[n-1] = stateData(v)
			}
		}
	}
}

// recordAll replaces every output series with the full smoothed history.
func (e *Estimator) recordAll(set *binlog.StateDataSet) {
	for _, name := range OutputStates {
		states := e.graph.States(name)
		if len(states) == 0 {
			continue
		}
		set.Replace(name, lo.Map(states, func(v fusion.StateVariable, _ int) binlog.StateData {
			return stateData(v)
		}))
	}
}
