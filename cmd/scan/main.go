package main

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/golang/geo/r3"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/montanaflynn/stats"
	"github.com/urfave/cli/v2"

	"estimator-go/binlog"
	"estimator-go/frame"
)

func main() {
	app := &cli.App{
		Name:      "scan",
		Usage:     "summarise a sensor record file",
		ArgsUsage: "<file>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("scan: exactly one sensor file required", 1)
			}
			data, err := binlog.ReadSensorFile(c.Args().First())
			if err != nil {
				return cli.Exit(fmt.Sprintf("scan: %v", err), 1)
			}
			scan(os.Stdout, data)
			return nil
		},
	}
	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

func scan(w io.Writer, data *binlog.SensorDataSet) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"type", "records", "epochs", "first", "last", "median dt", "max dt"})
	for _, typ := range data.Types() {
		ts := data.Timestamps(typ)
		first, _ := data.First(typ)
		last, _ := data.Last(typ)
		dts := make([]float64, 0, len(ts))
		for i := 1; i < len(ts); i++ {
			dts = append(dts, ts[i]-ts[i-1])
		}
		medDt, _ := stats.Median(dts)
		maxDt, _ := stats.Max(dts)
		t.AppendRow(table.Row{typ.String(), data.Count(typ), len(ts),
			fmt.Sprintf("%.3f", first), fmt.Sprintf("%.3f", last),
			fmt.Sprintf("%.3f", medDt), fmt.Sprintf("%.3f", maxDt)})
	}
	t.Render()

	fixes := data.All(binlog.GNSSPoint3)
	if len(fixes) == 0 {
		return
	}
	tp := frame.NewTangentPlaneConverter()
	tp.Initialize(vec(fixes[0].Mean))
	minE, maxE, minN, maxN := math.Inf(1), math.Inf(-1), math.Inf(1), math.Inf(-1)
	for _, d := range fixes {
		p, _ := tp.ToLocal(vec(d.Mean))
		minE, maxE = math.Min(minE, p.X), math.Max(maxE, p.X)
		minN, maxN = math.Min(minN, p.Y), math.Max(maxN, p.Y)
	}
	origin, _ := tp.Origin()
	lon, lat, h := frame.Geodetic(origin)
	fmt.Fprintf(w, "GNSS origin lon %.7f lat %.7f h %.2f: E[%.2f, %.2f] N[%.2f, %.2f]\n",
		lon, lat, h, minE, maxE, minN, maxN)
}

func vec(m []float64) r3.Vector { return r3.Vector{X: m[0], Y: m[1], Z: m[2]} }
