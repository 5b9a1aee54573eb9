package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"estimator-go/binlog"
	"estimator-go/config"
	"estimator-go/estimation"
	"estimator-go/logging"
	"estimator-go/report"
	"estimator-go/web"
)

func main() {
	app := &cli.App{
		Name:  "fuse",
		Usage: "estimate a trajectory from GNSS, IMU and odometry records",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML run configuration"},
			&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "sensor record file (overrides config)"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "state output file (overrides config)"},
			&cli.StringFlag{Name: "log-level", Value: "info"},
			&cli.StringFlag{Name: "log-file", Usage: "rotating JSON log file"},
			&cli.StringFlag{Name: "ws-addr", Usage: "serve live progress on this address, e.g. :8080"},
			&cli.StringFlag{Name: "web-dist", Usage: "static dashboard served next to the websocket"},
			&cli.StringFlag{Name: "db", Usage: "sqlite file storing every series of the run"},
			&cli.StringFlag{Name: "plot", Usage: "write the local trajectory to this image"},
			&cli.BoolFlag{Name: "report", Usage: "print graph and timing tables"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "fuse:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	logger, flush, err := logging.New(logging.Config{Level: c.String("log-level"), File: c.String("log-file")})
	if err != nil {
		return err
	}
	defer flush()

	cfg := config.Default()
	if path := c.String("config"); path != "" {
		if cfg, err = config.Load(path); err != nil {
			return err
		}
	}
	if v := c.String("input"); v != "" {
		cfg.Input = v
	}
	if v := c.String("output"); v != "" {
		cfg.Output = v
	}
	if cfg.Input == "" {
		return errors.New("no input file given")
	}

	data, err := binlog.ReadSensorFile(cfg.Input)
	if err != nil {
		return err
	}
	for _, t := range data.Types() {
		logger.Infow("sensor records", "type", t.String(), "count", data.Count(t))
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store *binlog.StateStore
	runID := uuid.NewString()
	if path := c.String("db"); path != "" {
		if store, err = binlog.OpenStateStore(path); err != nil {
			return err
		}
		defer store.Close()
		yml, _ := cfg.Marshal()
		if runID, err = store.StartRun(ctx, cfg.Input, string(yml)); err != nil {
			return err
		}
	}
	logger = logger.With("run", runID)

	reporters := estimation.MultiReporter{estimation.NewLogReporter(logger)}
	if addr := c.String("ws-addr"); addr != "" {
		srv := web.NewServer(logger)
		reporters = append(reporters, srv.Hub)
		srvCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := srv.Start(srvCtx, addr, c.String("web-dist")); err != nil {
				logger.Errorw("web server stopped", "error", err)
			}
		}()
	}

	opts := estimation.Options{Logger: logger, Reporter: reporters, RunID: runID}
	if cfg.Output != "" {
		opts.LocalOutput = cfg.Output + "_local"
	}
	res, err := estimation.Run(ctx, cfg, data, opts)
	if err != nil {
		return err
	}

	if cfg.Output != "" {
		if err := writeResult(cfg.Output, res.States); err != nil {
			return err
		}
		logger.Infow("result written", "path", cfg.Output, "positions", res.States.Len(estimation.Position))
	}
	if store != nil {
		if err := store.SaveSet(ctx, runID, res.States); err != nil {
			return err
		}
	}
	if path := c.String("plot"); path != "" {
		positions := res.Local
		if positions == nil {
			positions = res.States.Series(estimation.Position)
		}
		if err := report.PlotTrajectory(path, positions, nil); err != nil {
			logger.Warnw("plot failed", "error", err)
		}
	}
	if c.Bool("report") {
		res.Graph.Report(os.Stdout)
		report.WriteTimingTable(os.Stdout, res.Summaries)
	}
	logFinal(logger, res)
	return nil
}

// writeResult writes the position series first and appends every other
// non-empty series.
func writeResult(path string, set *binlog.StateDataSet) error {
	names := append([]string{}, estimation.OutputStates...)
	names = append(names, estimation.SolveTime)
	appendMode := false
	var err error
	for _, name := range names {
		if set.Len(name) == 0 {
			continue
		}
		err = multierr.Append(err, binlog.WriteStateFile(path, name, set, appendMode))
		appendMode = true
	}
	return err
}

func logFinal(logger *zap.SugaredLogger, res *estimation.Result) {
	stats := res.Graph.Stats()
	last := res.Summaries[len(res.Summaries)-1]
	logger.Infow("run finished",
		"steps", len(res.Summaries)-1,
		"states", stats.States,
		"frozen", stats.FrozenStates,
		"factors", stats.Factors,
		"final_cost", last.FinalCost,
		"status", last.Status)
}
