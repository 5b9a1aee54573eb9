package binlog

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Outcome reports whether a resampling call had input to work on.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeEmpty
)

func (o Outcome) String() string {
	if o == OutcomeEmpty {
		return "empty"
	}
	return "ok"
}

// AverageMeasurement fuses records of one type into a single record. The
// mean and timestamp are plain averages; the variance is the inverse of the
// summed information. Type and any field not averaged come from the last
// record. A single record is returned unchanged.
func AverageMeasurement(in []SensorData) (SensorData, Outcome) {
	switch len(in) {
	case 0:
		return SensorData{}, OutcomeEmpty
	case 1:
		return in[0], OutcomeOK
	}
	last := in[len(in)-1]
	out := SensorData{
		Type:   last.Type,
		Mean:   make([]float64, len(last.Mean)),
		StdDev: make([]float64, len(last.StdDev)),
	}
	ts := make([]float64, len(in))
	info := make([]float64, len(last.StdDev))
	for i, d := range in {
		ts[i] = d.Timestamp
		floats.Add(out.Mean, d.Mean)
		for j, v := range d.Variance() {
			info[j] += 1 / v
		}
	}
	floats.Scale(1/float64(len(in)), out.Mean)
	out.Timestamp = stat.Mean(ts, nil)
	for j, w := range info {
		out.StdDev[j] = 1 / math.Sqrt(w)
	}
	return out, OutcomeOK
}

// SampleDown groups time-ordered records into periods of sampleTime and
// averages every group. A group closes at the first record at or past the
// period end, or at the last record; the output is stamped with the
// timestamp of the group's last record.
func SampleDown(in []SensorData, sampleTime float64) ([]SensorData, Outcome) {
	if len(in) == 0 {
		return nil, OutcomeEmpty
	}
	next := in[0].Timestamp + sampleTime
	tmax := in[len(in)-1].Timestamp

	var out, window []SensorData
	for _, d := range in {
		window = append(window, d)
		if d.Timestamp >= next || d.Timestamp == tmax {
			avg, _ := AverageMeasurement(window)
			avg.Timestamp = window[len(window)-1].Timestamp
			out = append(out, avg)
			window = window[:0]
			next += sampleTime
		}
	}
	return out, OutcomeOK
}
