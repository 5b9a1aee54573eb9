package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"estimator-go/binlog"
	"estimator-go/estimation"
	"estimator-go/logging"
	"estimator-go/web"
)

// replay streams a finished run to websocket clients at recorded speed.
func main() {
	app := &cli.App{
		Name:  "replay",
		Usage: "replay an estimated trajectory to the live view",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "state file written by fuse"},
			&cli.StringFlag{Name: "db", Usage: "sqlite store written by fuse (instead of --input)"},
			&cli.StringFlag{Name: "run", Usage: "run id in --db; default is the newest run"},
			&cli.StringFlag{Name: "addr", Value: ":8080", Usage: "listen address"},
			&cli.StringFlag{Name: "web-dist", Usage: "static dashboard"},
			&cli.Float64Flag{Name: "speed", Value: 1.0, Usage: "replay speed multiplier (0 for max speed)"},
			&cli.StringFlag{Name: "log-level", Value: "info"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	logger, flush, err := logging.New(logging.Config{Level: c.String("log-level")})
	if err != nil {
		return err
	}
	defer flush()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()

	set, runID, err := load(ctx, c)
	if err != nil {
		return err
	}
	positions := set.Series(estimation.Position)
	if len(positions) == 0 {
		return errors.New("no positions to replay")
	}

	srv := web.NewServer(logger)
	go func() {
		if err := srv.Start(ctx, c.String("addr"), c.String("web-dist")); err != nil {
			logger.Errorw("web server stopped", "error", err)
			stop()
		}
	}()

	logger.Infow("replaying", "positions", len(positions), "run", runID, "addr", c.String("addr"))
	return replay(ctx, clock.New(), srv.Hub, runID, positions, c.Float64("speed"), logger)
}

func load(ctx context.Context, c *cli.Context) (*binlog.StateDataSet, string, error) {
	if path := c.String("db"); path != "" {
		store, err := binlog.OpenStateStore(path)
		if err != nil {
			return nil, "", err
		}
		defer store.Close()
		runID := c.String("run")
		if runID == "" {
			runs, err := store.Runs(ctx)
			if err != nil {
				return nil, "", err
			}
			if len(runs) == 0 {
				return nil, "", errors.Errorf("%s holds no runs", path)
			}
			runID = runs[len(runs)-1]
		}
		set, err := store.LoadSet(ctx, runID)
		return set, runID, err
	}
	path := c.String("input")
	if path == "" {
		return nil, "", errors.New("--input or --db required")
	}
	set, err := binlog.ReadStateFile(path)
	return set, path, err
}

// replay publishes one progress message per position, spaced by the
// recorded timestamps divided by speed.
func replay(ctx context.Context, clk clock.Clock, hub estimation.ProgressReporter, runID string,
	positions []binlog.StateData, speed float64, logger *zap.SugaredLogger) error {
	first := positions[0].Timestamp
	span := positions[len(positions)-1].Timestamp - first
	startReal := clk.Now()

	for i, d := range positions {
		if speed > 0 {
			target := time.Duration((d.Timestamp - first) / speed * float64(time.Second))
			if wait := target - clk.Since(startReal); wait > 0 {
				select {
				case <-clk.After(wait):
				case <-ctx.Done():
					return nil
				}
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		p := estimation.Progress{RunID: runID, Percent: 100, Timestamp: d.Timestamp, Position: d.Mean}
		if span > 0 {
			p.Percent = (d.Timestamp - first) / span * 100
		}
		hub.Progress(p)
		if (i+1)%1000 == 0 {
			logger.Infow("replay progress", "sent", i+1)
		}
	}
	logger.Infow("replay done", "sent", len(positions))
	return nil
}
