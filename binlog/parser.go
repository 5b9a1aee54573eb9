package binlog

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Sensor record files hold one measurement per line:
//
//	<type> <timestamp> <mean...> <stddev...>
//
// The number of mean and deviation columns is fixed by the type. Blank
// lines and lines starting with '#' are skipped.

// SensorParser reads a sensor record file.
type SensorParser struct {
	Path string

	Data *SensorDataSet
	// Skipped counts comment and blank lines.
	Skipped int
}

func NewSensorParser(path string) *SensorParser {
	return &SensorParser{Path: path}
}

// Parse reads the whole file into p.Data.
func (p *SensorParser) Parse() error {
	f, err := os.Open(p.Path)
	if err != nil {
		return errors.Wrap(err, "open sensor file")
	}
	defer f.Close()
	return p.ParseFrom(f)
}

// ParseFrom reads records from r into p.Data.
func (p *SensorParser) ParseFrom(r io.Reader) error {
	p.Data = NewSensorDataSet()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			p.Skipped++
			continue
		}
		d, err := parseSensorLine(strings.Fields(text))
		if err != nil {
			return errors.Wrapf(err, "line %d", line)
		}
		if err := p.Data.Add(d); err != nil {
			return errors.Wrapf(err, "line %d", line)
		}
	}
	return errors.Wrap(sc.Err(), "scan sensor file")
}

func parseSensorLine(fields []string) (SensorData, error) {
	typ, err := ParseSensorType(fields[0])
	if err != nil {
		return SensorData{}, err
	}
	want := 2 + typ.MeanDim() + typ.StdDim()
	if len(fields) != want {
		return SensorData{}, errors.Errorf("%s record needs %d fields, got %d", typ, want, len(fields))
	}
	vals, err := parseFloats(fields[1:])
	if err != nil {
		return SensorData{}, err
	}
	n := typ.MeanDim()
	return SensorData{
		Type:      typ,
		Timestamp: vals[0],
		Mean:      vals[1 : 1+n : 1+n],
		StdDev:    vals[1+n:],
	}, nil
}

func parseFloats(fields []string) ([]float64, error) {
	out := make([]float64, len(fields))
	for i, s := range fields {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "field %d", i+2)
		}
		out[i] = v
	}
	return out, nil
}

// ReadSensorFile parses the sensor record file at path.
func ReadSensorFile(path string) (*SensorDataSet, error) {
	p := NewSensorParser(path)
	if err := p.Parse(); err != nil {
		return nil, err
	}
	return p.Data, nil
}
