// Package grid splits a raster into a fixed R×C layout of seat tiles and
// draws the per-tile overlay.
package grid

import (
	"fmt"
	"image"
	"image/color"
	"sort"
	"strconv"

	"github.com/ziziccc/embedded-prj3/internal/config"
	"github.com/ziziccc/embedded-prj3/internal/imaging"
	"github.com/ziziccc/embedded-prj3/internal/monitoring"
)

// Overlay geometry shared with the result labels.
const (
	BoxThickness = 2
	IndexOffsetY = 18
	LabelOffsetX = 5
	LabelOffsetY = 36
)

// Spec is the immutable grid layout.
type Spec struct {
	Rows    int
	Cols    int
	Exclude map[int]bool
	Fill    string
}

// SpecFromConfig builds a Spec from the grid configuration.
func SpecFromConfig(g config.GridConfig) Spec {
	ex := make(map[int]bool, len(g.ExcludeRows))
	for _, r := range g.ExcludeRows {
		ex[r] = true
	}
	return Spec{Rows: g.Rows, Cols: g.Cols, Exclude: ex, Fill: g.Fill}
}

// ExcludedRows returns the excluded row indices in ascending order.
func (s Spec) ExcludedRows() []int {
	rows := make([]int, 0, len(s.Exclude))
	for r, ok := range s.Exclude {
		if ok && r >= 0 && r < s.Rows {
			rows = append(rows, r)
		}
	}
	sort.Ints(rows)
	return rows
}

// IncludedCount is the number of tiles sent to the classifier.
func (s Spec) IncludedCount() int {
	return (s.Rows - len(s.ExcludedRows())) * s.Cols
}

// TileSize returns the tile dimensions for a raster of the given size.
// Remainder pixels at the right and bottom edges are not covered.
func (s Spec) TileSize(w, h int) (int, int) {
	return w / s.Cols, h / s.Rows
}

// EmptyGridError is returned when every row is excluded.
type EmptyGridError struct {
	Rows     int
	Excluded []int
}

func (e *EmptyGridError) Error() string {
	return fmt.Sprintf("no included cells: all %d rows excluded %v", e.Rows, e.Excluded)
}

// Tile is one grid cell.
type Tile struct {
	Row      int
	Col      int
	Bounds   image.Rectangle
	Included bool
	Index    int // position among included tiles, -1 when excluded
}

func (t Tile) String() string {
	return fmt.Sprintf("(%d,%d) %v", t.Row, t.Col, t.Bounds)
}

// Layout is the result of partitioning one raster.
type Layout struct {
	Tiles   []Tile // every cell, row-major
	Overlay *image.RGBA
	TileW   int
	TileH   int
}

// Included returns the included tiles in batch order.
func (l *Layout) Included() []Tile {
	out := make([]Tile, 0, len(l.Tiles))
	for _, t := range l.Tiles {
		if t.Included {
			out = append(out, t)
		}
	}
	return out
}

// Partition walks the grid row-major. Excluded rows get the fill treatment on
// the overlay; included tiles get an outline and their sequence number. The
// raster itself is not modified.
func Partition(raster *image.RGBA, spec Spec) (*Layout, error) {
	if spec.Rows <= 0 || spec.Cols <= 0 {
		return nil, fmt.Errorf("invalid grid %dx%d", spec.Rows, spec.Cols)
	}
	if spec.IncludedCount() == 0 {
		return nil, &EmptyGridError{Rows: spec.Rows, Excluded: spec.ExcludedRows()}
	}
	b := raster.Bounds()
	tw, th := spec.TileSize(b.Dx(), b.Dy())
	if tw == 0 || th == 0 {
		return nil, fmt.Errorf("raster %dx%d too small for %dx%d grid", b.Dx(), b.Dy(), spec.Rows, spec.Cols)
	}

	l := &Layout{
		Tiles:   make([]Tile, 0, spec.Rows*spec.Cols),
		Overlay: imaging.Clone(raster),
		TileW:   tw,
		TileH:   th,
	}
	included := 0
	for r := 0; r < spec.Rows; r++ {
		for c := 0; c < spec.Cols; c++ {
			x0, y0 := b.Min.X+c*tw, b.Min.Y+r*th
			t := Tile{Row: r, Col: c, Bounds: image.Rect(x0, y0, x0+tw, y0+th), Index: -1}
			if spec.Exclude[r] {
				drawExcluded(l.Overlay, t.Bounds, spec.Fill)
				l.Tiles = append(l.Tiles, t)
				continue
			}
			t.Included = true
			t.Index = included
			included++
			imaging.StrokeRect(l.Overlay, t.Bounds, imaging.Green, BoxThickness)
			imaging.DrawText(l.Overlay, x0+LabelOffsetX, y0+IndexOffsetY, strconv.Itoa(t.Index), imaging.Yellow)
			l.Tiles = append(l.Tiles, t)
		}
	}
	monitoring.Logf("grid %dx%d: tile %dx%d, included=%d excluded=%d (fill=%s)",
		spec.Rows, spec.Cols, tw, th, included, len(l.Tiles)-included, spec.Fill)
	return l, nil
}

func drawExcluded(img *image.RGBA, r image.Rectangle, fill string) {
	var solid color.Color
	switch fill {
	case config.FillBlack:
		solid = imaging.Black
	case config.FillWhite:
		solid = imaging.White
	case config.FillOutline:
		imaging.StrokeRect(img, r, imaging.Red, BoxThickness)
		imaging.DrawText(img, r.Min.X+LabelOffsetX, r.Min.Y+LabelOffsetY, "SKIP", imaging.Red)
		return
	default:
		return
	}
	imaging.FillRect(img, r, solid)
	imaging.StrokeRect(img, r, imaging.Gray, 1)
}
