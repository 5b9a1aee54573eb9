package estimation

import (
	"time"

	"estimator-go/binlog"
	"estimator-go/fusion"
)

// IterationSummary records what one step of the loop did. It is only
// observational.
type IterationSummary struct {
	Timestamp       float64
	Forced          bool
	DurationPredict time.Duration
	DurationMeasure time.Duration
	DurationSolve   time.Duration
	DurationTotal   time.Duration
	Iterations      int
	FuncEvaluations int
	InitialCost     float64
	FinalCost       float64
	Status          string
	Converged       bool
	FreeStates      int
	Factors         int
}

func (s *IterationSummary) apply(sum fusion.SolveSummary) {
	s.DurationSolve = sum.Duration
	s.Iterations = sum.Iterations
	s.FuncEvaluations = sum.FuncEvaluations
	s.InitialCost = sum.InitialCost
	s.FinalCost = sum.FinalCost
	s.Status = sum.Status
	s.Converged = sum.Converged
	s.FreeStates = sum.FreeStates
}

// StateData stores the summary as a SolveTime entry: the mean is the total
// duration in seconds, everything else goes to the metadata.
func (s IterationSummary) StateData() binlog.StateData {
	return binlog.StateData{
		Timestamp: s.Timestamp,
		Mean:      []float64{s.DurationTotal.Seconds()},
		StdDev:    []float64{0},
		Meta: map[string]float64{
			"predict":     s.DurationPredict.Seconds(),
			"measure":     s.DurationMeasure.Seconds(),
			"solve":       s.DurationSolve.Seconds(),
			"iterations":  float64(s.Iterations),
			"evaluations": float64(s.FuncEvaluations),
			"cost":        s.FinalCost,
			"forced":      boolFloat(s.Forced),
			"converged":   boolFloat(s.Converged),
			"free":        float64(s.FreeStates),
		},
	}
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
