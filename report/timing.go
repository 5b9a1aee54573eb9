package report

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/montanaflynn/stats"

	"estimator-go/estimation"
)

// TimingStats summarises one duration column in milliseconds.
type TimingStats struct {
	Mean, Median, P95, Max float64
}

// Timings computes statistics of every duration of the summaries.
func Timings(sums []estimation.IterationSummary) map[string]TimingStats {
	cols := map[string][]float64{}
	for _, s := range sums {
		cols["predict"] = append(cols["predict"], ms(s.DurationPredict))
		cols["measure"] = append(cols["measure"], ms(s.DurationMeasure))
		cols["solve"] = append(cols["solve"], ms(s.DurationSolve))
		cols["total"] = append(cols["total"], ms(s.DurationTotal))
	}
	out := make(map[string]TimingStats, len(cols))
	for name, v := range cols {
		var ts TimingStats
		ts.Mean, _ = stats.Mean(v)
		ts.Median, _ = stats.Median(v)
		ts.P95, _ = stats.Percentile(v, 95)
		ts.Max, _ = stats.Max(v)
		out[name] = ts
	}
	return out
}

// WriteTimingTable renders step counts and duration statistics.
func WriteTimingTable(w io.Writer, sums []estimation.IterationSummary) {
	forced, converged := 0, 0
	for _, s := range sums {
		if s.Forced {
			forced++
		}
		if s.Converged {
			converged++
		}
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle(fmt.Sprintf("%d steps, %d forced, %d converged", len(sums), forced, converged))
	t.AppendHeader(table.Row{"phase", "mean [ms]", "median [ms]", "p95 [ms]", "max [ms]"})
	timings := Timings(sums)
	for _, name := range []string{"predict", "measure", "solve", "total"} {
		ts := timings[name]
		t.AppendRow(table.Row{name, f3(ts.Mean), f3(ts.Median), f3(ts.P95), f3(ts.Max)})
	}
	t.Render()
}

func ms(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

func f3(v float64) string { return fmt.Sprintf("%.3f", v) }
