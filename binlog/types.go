package binlog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// SensorType tags the modality that produced a measurement.
type SensorType int

const (
	GNSSPoint3 SensorType = iota
	Pseudorange3
	IMU
	Odom3
)

var sensorNames = map[SensorType]string{
	GNSSPoint3:   "gnss",
	Pseudorange3: "pseudorange3",
	IMU:          "imu",
	Odom3:        "odom3",
}

// ParseSensorType maps the record-file name of a sensor onto its type.
func ParseSensorType(s string) (SensorType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, name := range sensorNames {
		if name == s {
			return t, nil
		}
	}
	return 0, errors.Errorf("unknown sensor type %q", s)
}

func (t SensorType) String() string {
	if name, ok := sensorNames[t]; ok {
		return name
	}
	return fmt.Sprintf("sensor(%d)", int(t))
}

// MeanDim is the number of mean components of a record.
func (t SensorType) MeanDim() int {
	switch t {
	case GNSSPoint3:
		return 3
	case Pseudorange3:
		return 4
	case IMU, Odom3:
		return 6
	default:
		return 0
	}
}

// StdDim is the number of standard deviations of a record. Pseudoranges
// carry one deviation for the range; satellite positions are exact.
func (t SensorType) StdDim() int {
	switch t {
	case Pseudorange3:
		return 1
	default:
		return t.MeanDim()
	}
}

// SensorData is one measurement. The covariance is diagonal.
type SensorData struct {
	Type      SensorType
	Timestamp float64
	Mean      []float64
	StdDev    []float64
}

// Variance returns the diagonal of the covariance.
func (d SensorData) Variance() []float64 {
	return lo.Map(d.StdDev, func(s float64, _ int) float64 { return s * s })
}

func (d SensorData) validate() error {
	if len(d.Mean) != d.Type.MeanDim() {
		return errors.Errorf("%s record at %v has %d mean values, want %d", d.Type, d.Timestamp, len(d.Mean), d.Type.MeanDim())
	}
	if len(d.StdDev) != d.Type.StdDim() {
		return errors.Errorf("%s record at %v has %d deviations, want %d", d.Type, d.Timestamp, len(d.StdDev), d.Type.StdDim())
	}
	for _, s := range d.StdDev {
		if !(s > 0) {
			return errors.Errorf("%s record at %v has non-positive deviation %v", d.Type, d.Timestamp, s)
		}
	}
	return nil
}

// SensorDataSet holds measurements grouped by type, each group sorted by
// timestamp. Records with equal timestamps keep their input order.
type SensorDataSet struct {
	data map[SensorType][]SensorData
}

func NewSensorDataSet() *SensorDataSet {
	return &SensorDataSet{data: make(map[SensorType][]SensorData)}
}

// Add validates and inserts d.
func (s *SensorDataSet) Add(d SensorData) error {
	if err := d.validate(); err != nil {
		return err
	}
	list := s.data[d.Type]
	i := sort.Search(len(list), func(i int) bool { return list[i].Timestamp > d.Timestamp })
	list = append(list, SensorData{})
	copy(list[i+1:], list[i:])
	list[i] = d
	s.data[d.Type] = list
	return nil
}

// Types returns the types with at least one record.
func (s *SensorDataSet) Types() []SensorType {
	types := lo.Filter(lo.Keys(s.data), func(t SensorType, _ int) bool { return len(s.data[t]) > 0 })
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

func (s *SensorDataSet) Count(t SensorType) int { return len(s.data[t]) }

// All returns every record of type t.
func (s *SensorDataSet) All(t SensorType) []SensorData { return s.data[t] }

// At returns the records of type t stamped exactly ts.
func (s *SensorDataSet) At(t SensorType, ts float64) []SensorData {
	list := s.data[t]
	from := sort.Search(len(list), func(i int) bool { return list[i].Timestamp >= ts })
	to := sort.Search(len(list), func(i int) bool { return list[i].Timestamp > ts })
	return list[from:to]
}

// Between returns the records of type t in (t0, t1].
func (s *SensorDataSet) Between(t SensorType, t0, t1 float64) []SensorData {
	list := s.data[t]
	from := sort.Search(len(list), func(i int) bool { return list[i].Timestamp > t0 })
	to := sort.Search(len(list), func(i int) bool { return list[i].Timestamp > t1 })
	if to < from {
		return nil
	}
	return list[from:to]
}

// Within returns the records of type t in [t0, t1].
func (s *SensorDataSet) Within(t SensorType, t0, t1 float64) []SensorData {
	list := s.data[t]
	from := sort.Search(len(list), func(i int) bool { return list[i].Timestamp >= t0 })
	to := sort.Search(len(list), func(i int) bool { return list[i].Timestamp > t1 })
	if to < from {
		return nil
	}
	return list[from:to]
}

// First returns the earliest timestamp of type t.
func (s *SensorDataSet) First(t SensorType) (float64, bool) {
	list := s.data[t]
	if len(list) == 0 {
		return 0, false
	}
	return list[0].Timestamp, true
}

// Last returns the latest timestamp of type t.
func (s *SensorDataSet) Last(t SensorType) (float64, bool) {
	list := s.data[t]
	if len(list) == 0 {
		return 0, false
	}
	return list[len(list)-1].Timestamp, true
}

// Timestamps returns the distinct timestamps of type t in ascending order.
func (s *SensorDataSet) Timestamps(t SensorType) []float64 {
	var out []float64
	for _, d := range s.data[t] {
		if n := len(out); n == 0 || out[n-1] != d.Timestamp {
			out = append(out, d.Timestamp)
		}
	}
	return out
}

// NextTimestamp returns the smallest timestamp of type t strictly after ts.
func (s *SensorDataSet) NextTimestamp(t SensorType, ts float64) (float64, bool) {
	list := s.data[t]
	i := sort.Search(len(list), func(i int) bool { return list[i].Timestamp > ts })
	if i == len(list) {
		return 0, false
	}
	return list[i].Timestamp, true
}

// StateData is one estimate of a named state series.
type StateData struct {
	Timestamp float64
	Mean      []float64
	StdDev    []float64
	Meta      map[string]float64
}

// StateDataSet holds estimated series keyed by state name.
type StateDataSet struct {
	series map[string][]StateData
}

func NewStateDataSet() *StateDataSet {
	return &StateDataSet{series: make(map[string][]StateData)}
}

// Append adds d to the end of series name.
func (s *StateDataSet) Append(name string, d StateData) {
	s.series[name] = append(s.series[name], d)
}

// Replace sets series name to data.
func (s *StateDataSet) Replace(name string, data []StateData) {
	s.series[name] = data
}

// Series returns the stored slice of series name. Elements may be modified
// in place.
func (s *StateDataSet) Series(name string) []StateData { return s.series[name] }

// Names returns the series names, sorted.
func (s *StateDataSet) Names() []string {
	names := lo.Keys(s.series)
	sort.Strings(names)
	return names
}

// Len returns the number of entries of series name.
func (s *StateDataSet) Len(name string) int { return len(s.series[name]) }
