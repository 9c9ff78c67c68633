// Package report renders the metrics time series of a run as a PNG chart.
package report

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/talgya/econ-schelling/internal/metrics"
)

// ErrTooFewTicks is returned when a series is too short to plot.
var ErrTooFewTicks = errors.New("need at least two ticks to chart")

// ChartOptions sizes the output image.
type ChartOptions struct {
	Width  int
	Height int
	Title  string
}

// DefaultChartOptions returns a 1024×400 chart.
func DefaultChartOptions() ChartOptions {
	return ChartOptions{Width: 1024, Height: 400, Title: "Happy agents per tick"}
}

// WriteChart renders happy, total and unemployed counts against tick as PNG.
func WriteChart(w io.Writer, series []metrics.TickRecord, opts ChartOptions) error {
	if len(series) < 2 {
		return ErrTooFewTicks
	}

	n := len(series)
	ticks := make([]float64, n)
	happy := make([]float64, n)
	total := make([]float64, n)
	unemployed := make([]float64, n)
	yMax := 1.0
	for i, r := range series {
		ticks[i] = float64(r.Tick)
		happy[i] = float64(r.Happy)
		total[i] = float64(r.Total)
		unemployed[i] = float64(r.Unemployed)
		yMax = max(yMax, total[i], happy[i])
	}

	graph := chart.Chart{
		Title:  opts.Title,
		Width:  opts.Width,
		Height: opts.Height,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 20, Right: 20, Bottom: 20},
		},
		XAxis: chart.XAxis{
			Name:  "tick",
			Style: chart.Style{FontSize: 10.0},
			Range: &chart.ContinuousRange{Min: ticks[0], Max: ticks[n-1]},
			ValueFormatter: func(v any) string {
				return fmt.Sprintf("%d", int(v.(float64)))
			},
		},
		YAxis: chart.YAxis{
			Name:  "agents",
			Style: chart.Style{FontSize: 10.0},
			Range: &chart.ContinuousRange{Min: 0, Max: yMax * 1.05},
			ValueFormatter: func(v any) string {
				return fmt.Sprintf("%.0f", v.(float64))
			},
		},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name:    "total",
				XValues: ticks,
				YValues: total,
				Style:   chart.Style{StrokeColor: drawing.ColorFromHex("888888"), StrokeWidth: 2.0},
			},
			chart.ContinuousSeries{
				Name:    "happy",
				XValues: ticks,
				YValues: happy,
				Style:   chart.Style{StrokeColor: chart.ColorGreen, StrokeWidth: 3.0},
			},
			chart.ContinuousSeries{
				Name:    "unemployed",
				XValues: ticks,
				YValues: unemployed,
				Style:   chart.Style{StrokeColor: chart.ColorRed, StrokeWidth: 2.0},
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	if err := graph.Render(chart.PNG, w); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}

// SaveChart writes the chart to path. Nothing is written when rendering fails.
func SaveChart(path string, series []metrics.TickRecord, opts ChartOptions) error {
	var buf bytes.Buffer
	if err := WriteChart(&buf, series, opts); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write chart file: %w", err)
	}
	return nil
}
