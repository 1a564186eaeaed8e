package report

import (
	"bytes"
	"fmt"
	"image/color"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var classColors = []color.Color{
	color.RGBA{R: 220, G: 60, B: 60, A: 255},
	color.RGBA{R: 60, G: 120, B: 220, A: 255},
	color.RGBA{R: 160, G: 160, B: 160, A: 255},
	color.RGBA{R: 60, G: 180, B: 90, A: 255},
	color.RGBA{R: 230, G: 170, B: 40, A: 255},
}

// PlotProbabilities renders a stacked bar per tile showing the class
// probabilities and returns the PNG bytes.
func PlotProbabilities(title string, classes []string, records []Record) ([]byte, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no records to plot")
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Tile"
	p.Y.Label.Text = "Probability"
	p.Y.Min = 0
	p.Y.Max = 1
	p.Legend.Top = true

	names := make([]string, len(records))
	for i, rec := range records {
		names[i] = strconv.Itoa(i) + ":" + rec.Label
	}

	var below *plotter.BarChart
	for k, class := range classes {
		vals := make(plotter.Values, len(records))
		for i, rec := range records {
			if k < len(rec.Probs) {
				vals[i] = rec.Probs[k]
			}
		}
		bars, err := plotter.NewBarChart(vals, vg.Points(18))
		if err != nil {
			return nil, fmt.Errorf("bar chart for %s: %w", class, err)
		}
		bars.LineStyle.Width = vg.Length(0)
		bars.Color = classColors[k%len(classColors)]
		if below != nil {
			bars.StackOn(below)
		}
		p.Add(bars)
		p.Legend.Add(class, bars)
		below = bars
	}
	p.NominalX(names...)

	w, err := p.WriterTo(8*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return nil, fmt.Errorf("render plot: %w", err)
	}
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
