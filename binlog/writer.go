package binlog

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// State files hold one estimate per line:
//
//	<name> <timestamp> <dim> <mean...> <stddev...> [key=value...]
//
// Missing deviations are written as zeros.

// StateWriter appends state records to a file.
type StateWriter struct {
	mu sync.Mutex
	w  *bufio.Writer
	c  io.Closer
}

// NewStateWriter creates (or, with appendMode, extends) the file at path.
func NewStateWriter(path string, appendMode bool) (*StateWriter, error) {
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if appendMode {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open state file")
	}
	return &StateWriter{w: bufio.NewWriter(f), c: f}, nil
}

// Write appends one record of series name.
func (sw *StateWriter) Write(name string, d StateData) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	std := make([]float64, len(d.Mean))
	copy(std, d.StdDev)
	line := name + " " + formatFloat(d.Timestamp) + " " + strconv.Itoa(len(d.Mean))
	if len(d.Mean) > 0 {
		line += " " + joinFloats(d.Mean) + " " + joinFloats(std)
	}
	if meta := encodeMeta(d.Meta); meta != "" {
		line += " " + meta
	}
	_, err := sw.w.WriteString(line + "\n")
	return err
}

// Close flushes buffered records and closes the file.
func (sw *StateWriter) Close() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return multierr.Append(sw.w.Flush(), sw.c.Close())
}

// WriteStateFile writes series name of set to path.
func WriteStateFile(path, name string, set *StateDataSet, appendMode bool) (err error) {
	sw, err := NewStateWriter(path, appendMode)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, sw.Close()) }()
	for _, d := range set.Series(name) {
		if err := sw.Write(name, d); err != nil {
			return err
		}
	}
	return nil
}

// ReadStateFile parses a file written by StateWriter.
func ReadStateFile(path string) (*StateDataSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open state file")
	}
	defer f.Close()

	set := NewStateDataSet()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		name, d, err := parseStateLine(fields)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		set.Append(name, d)
	}
	return set, errors.Wrap(sc.Err(), "scan state file")
}

func parseStateLine(fields []string) (string, StateData, error) {
	if len(fields) < 3 {
		return "", StateData{}, errors.Errorf("state record needs at least 3 fields, got %d", len(fields))
	}
	dim, err := strconv.Atoi(fields[2])
	if err != nil || dim < 0 {
		return "", StateData{}, errors.Errorf("bad dimension %q", fields[2])
	}
	if len(fields) < 3+2*dim {
		return "", StateData{}, errors.Errorf("state record of dimension %d needs %d fields, got %d", dim, 3+2*dim, len(fields))
	}
	vals, err := parseFloats(append([]string{fields[1]}, fields[3:3+2*dim]...))
	if err != nil {
		return "", StateData{}, err
	}
	d := StateData{Timestamp: vals[0], Mean: vals[1 : 1+dim : 1+dim], StdDev: vals[1+dim:]}
	if d.Meta, err = decodeMeta(strings.Join(fields[3+2*dim:], " ")); err != nil {
		return "", StateData{}, err
	}
	return fields[0], d, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 17, 64)
}

// WriteSensorFile writes every record of set in the sensor record format,
// grouped by type.
func WriteSensorFile(path string, set *SensorDataSet) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create sensor file")
	}
	w := bufio.NewWriter(f)
	defer func() { err = multierr.Combine(err, w.Flush(), f.Close()) }()
	for _, t := range set.Types() {
		for _, d := range set.All(t) {
			line := t.String() + " " + formatFloat(d.Timestamp) + " " + joinFloats(d.Mean) + " " + joinFloats(d.StdDev) + "\n"
			if _, err := w.WriteString(line); err != nil {
				return err
			}
		}
	}
	return nil
}
