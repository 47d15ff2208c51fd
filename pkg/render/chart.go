// Package render draws the walkthrough charts with go-chart and formats its
// tables for the console with lipgloss.
package render

import (
	"fmt"
	"io"
	"math"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/example/twoway-anova/pkg/diagnostics"
	"github.com/example/twoway-anova/pkg/explore"
)

// Format is an image encoding supported by the chart renderers.
type Format string

const (
	FormatPNG Format = "png"
	FormatSVG Format = "svg"
)

// ParseFormat accepts "png" or "svg".
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatPNG, FormatSVG:
		return Format(s), nil
	}
	return "", fmt.Errorf("unsupported chart format %q", s)
}

// Extension is the file extension including the dot.
func (f Format) Extension() string {
	return "." + string(f)
}

func (f Format) provider() (chart.RendererProvider, error) {
	switch f {
	case FormatPNG:
		return chart.PNG, nil
	case FormatSVG:
		return chart.SVG, nil
	}
	return nil, fmt.Errorf("unsupported chart format %q", f)
}

const (
	chartWidth  = 900
	chartHeight = 560
	// Horizontal offset between dodged series, in x-axis units.
	dodgeWidth = 0.25
)

var palette = []drawing.Color{
	chart.ColorBlue,
	chart.ColorOrange,
	chart.ColorGreen,
	chart.ColorRed,
	chart.ColorCyan,
	chart.ColorYellow,
}

func seriesStyle(col drawing.Color) chart.Style {
	return chart.Style{
		StrokeWidth: 2,
		StrokeColor: col,
		DotWidth:    5,
		DotColor:    col,
	}
}

// pointStyle renders points only, no connecting line.
func pointStyle(col drawing.Color) chart.Style {
	return chart.Style{
		StrokeWidth: chart.Disabled,
		DotWidth:    3,
		DotColor:    col,
	}
}

func lineStyle(col drawing.Color, dashed bool) chart.Style {
	s := chart.Style{StrokeWidth: 1, StrokeColor: col}
	if dashed {
		s.StrokeDashArray = []float64{5, 5}
	}
	return s
}

// MeanPlotOptions describes an interaction (or main-effect) plot.
type MeanPlotOptions struct {
	Title    string
	Response string              // y axis label
	XFactor  string              // factor on the x axis, the first level of each group
	Trace    string              // factor drawn as coloured series, empty for a single factor
	Groups   []explore.GroupMean // as returned by explore.GroupMeans
}

// MeanPlot draws group means joined by lines with vertical interval bars.
// With two factors the second becomes one coloured series per level, dodged
// horizontally so the bars do not overlap.
func MeanPlot(w io.Writer, format Format, opts MeanPlotOptions) error {
	if len(opts.Groups) == 0 {
		return fmt.Errorf("mean plot %q has no groups", opts.Title)
	}

	var xLevels, traces []string
	xIndex := make(map[string]int)
	traceIndex := make(map[string]int)
	for _, g := range opts.Groups {
		if _, ok := xIndex[g.Levels[0]]; !ok {
			xIndex[g.Levels[0]] = len(xLevels)
			xLevels = append(xLevels, g.Levels[0])
		}
		trace := opts.Response
		if len(g.Levels) > 1 {
			trace = g.Levels[1]
		}
		if _, ok := traceIndex[trace]; !ok {
			traceIndex[trace] = len(traces)
			traces = append(traces, trace)
		}
	}

	type seriesData struct{ xs, ys []float64 }
	data := make([]seriesData, len(traces))
	var bars []errorBar
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, g := range opts.Groups {
		trace := opts.Response
		if len(g.Levels) > 1 {
			trace = g.Levels[1]
		}
		t := traceIndex[trace]
		x := float64(xIndex[g.Levels[0]]+1) + dodge(t, len(traces))
		data[t].xs = append(data[t].xs, x)
		data[t].ys = append(data[t].ys, g.Mean)
		bars = append(bars, errorBar{x: x, lo: g.CI.LowerBound, hi: g.CI.UpperBound, color: palette[t%len(palette)]})
		lo = math.Min(lo, math.Min(g.CI.LowerBound, g.Mean))
		hi = math.Max(hi, math.Max(g.CI.UpperBound, g.Mean))
	}
	if hi-lo < 1e-9 {
		lo, hi = lo-1, hi+1
	}
	pad := (hi - lo) * 0.08

	series := make([]chart.Series, len(traces))
	for t, name := range traces {
		series[t] = chart.ContinuousSeries{
			Name:    name,
			Style:   seriesStyle(palette[t%len(palette)]),
			XValues: data[t].xs,
			YValues: data[t].ys,
		}
	}

	ticks := []chart.Tick{{Value: 0.5}}
	for i, label := range xLevels {
		ticks = append(ticks, chart.Tick{Value: float64(i + 1), Label: label})
	}
	ticks = append(ticks, chart.Tick{Value: float64(len(xLevels)) + 0.5})

	xRange := &chart.ContinuousRange{Min: 0.5, Max: float64(len(xLevels)) + 0.5}
	yRange := &chart.ContinuousRange{Min: lo - pad, Max: hi + pad}
	ch := chart.Chart{
		Title:      opts.Title,
		Width:      chartWidth,
		Height:     chartHeight,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 16, Bottom: 16}},
		XAxis:      chart.XAxis{Name: opts.XFactor, Range: xRange, Ticks: ticks},
		YAxis:      chart.YAxis{Name: "mean " + opts.Response, Range: yRange},
		Series:     series,
	}
	ch.Elements = []chart.Renderable{errorBars(xRange, yRange, bars)}
	if opts.Trace != "" {
		ch.Elements = append(ch.Elements, chart.Legend(&ch))
	}
	return renderChart(w, format, ch)
}

// dodge spreads n series symmetrically around an x position.
func dodge(i, n int) float64 {
	if n <= 1 {
		return 0
	}
	step := dodgeWidth / float64(n-1)
	return -dodgeWidth/2 + float64(i)*step
}

type errorBar struct {
	x, lo, hi float64
	color     drawing.Color
}

// errorBars draws the interval bars once the chart has fixed its ranges to
// the canvas.
func errorBars(xr, yr *chart.ContinuousRange, bars []errorBar) chart.Renderable {
	return func(r chart.Renderer, cb chart.Box, _ chart.Style) {
		const capHalf = 4
		for _, b := range bars {
			x := cb.Left + xr.Translate(b.x)
			top := cb.Bottom - yr.Translate(b.hi)
			bottom := cb.Bottom - yr.Translate(b.lo)

			lineStyle(b.color, false).WriteDrawingOptionsToRenderer(r)
			r.MoveTo(x, top)
			r.LineTo(x, bottom)
			r.MoveTo(x-capHalf, top)
			r.LineTo(x+capHalf, top)
			r.MoveTo(x-capHalf, bottom)
			r.LineTo(x+capHalf, bottom)
			r.Stroke()
		}
	}
}

// ResidualPlot draws residuals against fitted values with a dashed zero line.
func ResidualPlot(w io.Writer, format Format, title string, points []diagnostics.Point) error {
	if len(points) < 2 {
		return fmt.Errorf("residual plot needs at least two points, got %d", len(points))
	}
	xs, ys := split(points)
	minX, maxX := bounds(xs)

	ch := chart.Chart{
		Title:      title,
		Width:      chartWidth,
		Height:     chartHeight,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 16, Bottom: 16}},
		XAxis:      chart.XAxis{Name: "fitted values"},
		YAxis:      chart.YAxis{Name: "residuals"},
		Series: []chart.Series{
			chart.ContinuousSeries{Name: "residuals", Style: pointStyle(chart.ColorBlue), XValues: xs, YValues: ys},
			chart.ContinuousSeries{Name: "zero", Style: lineStyle(chart.ColorRed, true), XValues: []float64{minX, maxX}, YValues: []float64{0, 0}},
		},
	}
	return renderChart(w, format, ch)
}

// QQPlot draws standardized residuals against theoretical normal quantiles
// with the reference line y = x.
func QQPlot(w io.Writer, format Format, title string, points []diagnostics.Point) error {
	if len(points) < 2 {
		return fmt.Errorf("qq plot needs at least two points, got %d", len(points))
	}
	xs, ys := split(points)
	minX, maxX := bounds(xs)
	minY, maxY := bounds(ys)
	lo, hi := math.Min(minX, minY), math.Max(maxX, maxY)

	ch := chart.Chart{
		Title:      title,
		Width:      chartWidth,
		Height:     chartHeight,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 16, Bottom: 16}},
		XAxis:      chart.XAxis{Name: "theoretical quantiles"},
		YAxis:      chart.YAxis{Name: "standardized residuals"},
		Series: []chart.Series{
			chart.ContinuousSeries{Name: "residuals", Style: pointStyle(chart.ColorBlue), XValues: xs, YValues: ys},
			chart.ContinuousSeries{Name: "y = x", Style: lineStyle(chart.ColorRed, true), XValues: []float64{lo, hi}, YValues: []float64{lo, hi}},
		},
	}
	return renderChart(w, format, ch)
}

func renderChart(w io.Writer, format Format, ch chart.Chart) error {
	provider, err := format.provider()
	if err != nil {
		return err
	}
	if err := ch.Render(provider, w); err != nil {
		return fmt.Errorf("failed to render chart %q: %w", ch.Title, err)
	}
	return nil
}

func split(points []diagnostics.Point) ([]float64, []float64) {
	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	for i, p := range points {
		xs[i], ys[i] = p.X, p.Y
	}
	return xs, ys
}

func bounds(v []float64) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, x := range v {
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	return lo, hi
}
