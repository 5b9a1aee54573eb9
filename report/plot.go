// Package report renders run results for humans.
package report

import (
	"image/color"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"estimator-go/binlog"
)

// PlotTrajectory draws the east-north track of positions and the raw
// fixes, if any, into a PNG (or any format plot supports by extension).
func PlotTrajectory(path string, positions, fixes []binlog.StateData) error {
	if len(positions) == 0 {
		return errors.New("no positions to plot")
	}
	p := plot.New()
	p.Title.Text = "Trajectory"
	p.X.Label.Text = "east [m]"
	p.Y.Label.Text = "north [m]"
	p.Add(plotter.NewGrid())

	if len(fixes) > 0 {
		sc, err := plotter.NewScatter(xy(fixes))
		if err != nil {
			return errors.Wrap(err, "fix scatter")
		}
		sc.GlyphStyle.Color = color.RGBA{R: 200, G: 200, B: 200, A: 255}
		sc.GlyphStyle.Radius = vg.Points(1.5)
		p.Add(sc)
		p.Legend.Add("fixes", sc)
	}

	line, err := plotter.NewLine(xy(positions))
	if err != nil {
		return errors.Wrap(err, "trajectory line")
	}
	line.Width = vg.Points(1)
	line.Color = color.RGBA{B: 200, A: 255}
	p.Add(line)
	p.Legend.Add("estimate", line)

	if err := p.Save(10*vg.Inch, 10*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "save %s", path)
	}
	return nil
}

func xy(data []binlog.StateData) plotter.XYs {
	pts := make(plotter.XYs, 0, len(data))
	for _, d := range data {
		if len(d.Mean) < 2 {
			continue
		}
		pts = append(pts, plotter.XY{X: d.Mean[0], Y: d.Mean[1]})
	}
	return pts
}
