package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"estimator-go/binlog"
	"estimator-go/logging"
)

func main() {
	app := &cli.App{
		Name:  "resample",
		Usage: "average sensor records into fixed periods",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Required: true},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Required: true},
			&cli.StringSliceFlag{Name: "type", Usage: "sensor types to resample; others are copied (default all but pseudorange3)"},
			&cli.Float64Flag{Name: "period", Value: 1.0, Usage: "sample period in seconds"},
			&cli.StringFlag{Name: "log-level", Value: "info"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "resample:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	logger, flush, err := logging.New(logging.Config{Level: c.String("log-level")})
	if err != nil {
		return err
	}
	defer flush()

	period := c.Float64("period")
	if !(period > 0) {
		return errors.Errorf("period must be positive, got %v", period)
	}
	in, err := binlog.ReadSensorFile(c.String("input"))
	if err != nil {
		return err
	}

	selected := map[binlog.SensorType]bool{}
	for _, name := range c.StringSlice("type") {
		t, err := binlog.ParseSensorType(name)
		if err != nil {
			return err
		}
		selected[t] = true
	}

	out := binlog.NewSensorDataSet()
	for _, t := range in.Types() {
		records := in.All(t)
		// pseudoranges of different satellites must not be mixed
		if selected[t] || (len(selected) == 0 && t != binlog.Pseudorange3) {
			var outcome binlog.Outcome
			records, outcome = binlog.SampleDown(records, period)
			logger.Infow("resampled", "type", t.String(), "in", in.Count(t), "out", len(records), "outcome", outcome.String())
		}
		for _, d := range records {
			if err := out.Add(d); err != nil {
				return err
			}
		}
	}
	return binlog.WriteSensorFile(c.String("output"), out)
}
