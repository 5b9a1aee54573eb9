package estimation

import (
	"math"

	"go.uber.org/zap"
)

// Progress is sent once per processed step.
type Progress struct {
	RunID     string           `json:"run_id"`
	Percent   float64          `json:"percent"`
	Timestamp float64          `json:"timestamp"`
	Position  []float64        `json:"position,omitempty"`
	Summary   IterationSummary `json:"summary"`
}

// ProgressReporter receives progress from the loop goroutine. It must not
// retain Position.
type ProgressReporter interface {
	Progress(p Progress)
}

// LogReporter logs every tenth of the run.
type LogReporter struct {
	logger *zap.SugaredLogger
	next   float64
}

func NewLogReporter(logger *zap.SugaredLogger) *LogReporter {
	return &LogReporter{logger: logger}
}

func (r *LogReporter) Progress(p Progress) {
	if p.Percent < r.next {
		return
	}
	r.logger.Infow("progress",
		"percent", math.Floor(p.Percent),
		"time", p.Timestamp,
		"free", p.Summary.FreeStates,
		"cost", p.Summary.FinalCost,
		"status", p.Summary.Status)
	r.next = (math.Floor(p.Percent/10) + 1) * 10
}

// MultiReporter fans progress out to several reporters.
type MultiReporter []ProgressReporter

func (m MultiReporter) Progress(p Progress) {
	for _, r := range m {
		r.Progress(p)
	}
}
