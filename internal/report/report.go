// Package report turns classifier output into labelled per-tile records and
// renders them as overlay text, a console table and a probability chart.
package report

import (
	"fmt"
	"image"
	"io"
	"strings"

	"github.com/ziziccc/embedded-prj3/internal/grid"
	"github.com/ziziccc/embedded-prj3/internal/imaging"
)

// Record is the decision for one included tile.
type Record struct {
	Tile       grid.Tile
	ClassIndex int
	Label      string
	Probs      []float64
}

// Confidence is the probability of the chosen class.
func (r Record) Confidence() float64 {
	if r.ClassIndex < 0 || r.ClassIndex >= len(r.Probs) {
		return 0
	}
	return r.Probs[r.ClassIndex]
}

// Reporter pairs probability rows with tiles under a decision policy.
type Reporter struct {
	classes []string
	policy  Policy
}

// New returns a Reporter. classes must be the table the classifier was
// validated against.
func New(classes []string, policy Policy) *Reporter {
	if policy == nil {
		policy = ArgmaxPolicy{}
	}
	return &Reporter{classes: append([]string(nil), classes...), policy: policy}
}

// Classes returns the class table.
func (r *Reporter) Classes() []string { return r.classes }

// Build returns one record per tile, keeping tile order.
func (r *Reporter) Build(tiles []grid.Tile, probs [][]float64) ([]Record, error) {
	if len(tiles) != len(probs) {
		return nil, fmt.Errorf("%d tiles but %d prediction rows", len(tiles), len(probs))
	}
	out := make([]Record, len(tiles))
	for i, t := range tiles {
		if len(probs[i]) != len(r.classes) {
			return nil, fmt.Errorf("prediction row %d has %d classes, want %d", i, len(probs[i]), len(r.classes))
		}
		idx := r.policy.Decide(probs[i])
		out[i] = Record{
			Tile:       t,
			ClassIndex: idx,
			Label:      r.classes[idx],
			Probs:      append([]float64(nil), probs[i]...),
		}
	}
	return out, nil
}

// Annotate writes each record's label onto the overlay.
func Annotate(overlay *image.RGBA, records []Record) {
	for _, rec := range records {
		x := rec.Tile.Bounds.Min.X + grid.LabelOffsetX
		y := rec.Tile.Bounds.Min.Y + grid.LabelOffsetY
		imaging.DrawText(overlay, x+1, y+1, rec.Label, imaging.Black)
		imaging.DrawTextOutlined(overlay, x, y, rec.Label, imaging.Green, imaging.Black)
	}
}

// Counts tallies records per label, including labels with no hits.
func Counts(classes []string, records []Record) map[string]int {
	out := make(map[string]int, len(classes))
	for _, c := range classes {
		out[c] = 0
	}
	for _, rec := range records {
		out[rec.Label]++
	}
	return out
}

// WriteTable prints the per-tile results as a fixed-width table.
func WriteTable(w io.Writer, classes []string, records []Record) error {
	var sb strings.Builder
	sb.WriteString("Idx | (row,col) | bbox(x0,y0,x1,y1)      | label  |")
	for _, c := range classes {
		fmt.Fprintf(&sb, " %6.6s", c)
	}
	sb.WriteByte('\n')
	for i, rec := range records {
		b := rec.Tile.Bounds
		fmt.Fprintf(&sb, "%3d | (%d,%d)     | (%4d,%3d)-(%4d,%3d) | %-6s |",
			i, rec.Tile.Row, rec.Tile.Col, b.Min.X, b.Min.Y, b.Max.X, b.Max.Y, rec.Label)
		for _, p := range rec.Probs {
			fmt.Fprintf(&sb, " %6.3f", p)
		}
		sb.WriteByte('\n')
	}
	_, err := io.WriteString(w, sb.String())
	return err
}
