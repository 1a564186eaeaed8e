package grid

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ziziccc/embedded-prj3/internal/config"
	"github.com/ziziccc/embedded-prj3/internal/imaging"
)

func solidRaster(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	imaging.FillRect(img, img.Bounds(), c)
	return img
}

var mid = color.RGBA{100, 100, 100, 255}

func TestPartition_DefaultLayout(t *testing.T) {
	raster := solidRaster(320, 240, mid)
	spec := SpecFromConfig(config.Default().Grid)

	l, err := Partition(raster, spec)
	if err != nil {
		t.Fatalf("Partition: %v", err)
	}
	if l.TileW != 80 || l.TileH != 80 {
		t.Errorf("tile = %dx%d, want 80x80", l.TileW, l.TileH)
	}
	if len(l.Tiles) != 12 {
		t.Fatalf("tiles = %d, want 12", len(l.Tiles))
	}

	var got []image.Point
	for _, tile := range l.Included() {
		got = append(got, image.Pt(tile.Row, tile.Col))
	}
	want := []image.Point{
		{0, 0}, {0, 1}, {0, 2}, {0, 3},
		{2, 0}, {2, 1}, {2, 2}, {2, 3},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("included order mismatch (-want +got):\n%s", diff)
	}
	for i, tile := range l.Included() {
		if tile.Index != i {
			t.Errorf("tile %v index = %d, want %d", tile, tile.Index, i)
		}
	}
	if b := l.Tiles[5].Bounds; b != image.Rect(80, 80, 160, 160) {
		t.Errorf("tile (1,1) bounds = %v", b)
	}
	if l.Tiles[5].Included || l.Tiles[5].Index != -1 {
		t.Errorf("row 1 should be excluded: %+v", l.Tiles[5])
	}
}

func TestPartition_IncludedCountInvariant(t *testing.T) {
	raster := solidRaster(320, 240, mid)
	tests := []struct {
		rows, cols int
		exclude    []int
	}{
		{3, 4, nil},
		{3, 4, []int{1}},
		{3, 4, []int{0, 2}},
		{4, 5, []int{3}},
		{1, 1, nil},
	}
	for _, tt := range tests {
		spec := SpecFromConfig(config.GridConfig{Rows: tt.rows, Cols: tt.cols, ExcludeRows: tt.exclude, Fill: config.FillNone})
		l, err := Partition(raster, spec)
		if err != nil {
			t.Fatalf("%dx%d exclude %v: %v", tt.rows, tt.cols, tt.exclude, err)
		}
		want := tt.rows*tt.cols - tt.cols*len(tt.exclude)
		if got := len(l.Included()); got != want {
			t.Errorf("%dx%d exclude %v: included = %d, want %d", tt.rows, tt.cols, tt.exclude, got, want)
		}
	}
}

func TestPartition_TruncatesRemainder(t *testing.T) {
	raster := solidRaster(322, 243, mid)
	l, err := Partition(raster, SpecFromConfig(config.GridConfig{Rows: 3, Cols: 4, Fill: config.FillNone}))
	if err != nil {
		t.Fatal(err)
	}
	last := l.Tiles[len(l.Tiles)-1]
	if last.Bounds != image.Rect(240, 162, 320, 243) {
		t.Errorf("last tile = %v", last.Bounds)
	}
	// The two remainder columns keep their original pixels.
	if got := l.Overlay.RGBAAt(321, 10); got != mid {
		t.Errorf("remainder pixel changed: %v", got)
	}
}

func TestPartition_AllRowsExcluded(t *testing.T) {
	raster := solidRaster(320, 240, mid)
	spec := SpecFromConfig(config.GridConfig{Rows: 2, Cols: 4, ExcludeRows: []int{0, 1}, Fill: config.FillBlack})

	_, err := Partition(raster, spec)
	var ee *EmptyGridError
	if !errors.As(err, &ee) {
		t.Fatalf("expected EmptyGridError, got %v", err)
	}
	if diff := cmp.Diff([]int{0, 1}, ee.Excluded); diff != "" {
		t.Errorf("excluded mismatch: %s", diff)
	}
}

func TestPartition_FillPolicies(t *testing.T) {
	raster := solidRaster(320, 240, mid)
	// Centre of tile (1,1) and a pixel on its border.
	centre := image.Pt(120, 120)
	border := image.Pt(80, 100)

	tests := []struct {
		fill   string
		centre color.RGBA
		border color.RGBA
	}{
		{config.FillBlack, imaging.Black, imaging.Gray},
		{config.FillWhite, imaging.White, imaging.Gray},
		{config.FillOutline, mid, imaging.Red},
		{config.FillNone, mid, mid},
	}
	for _, tt := range tests {
		t.Run(tt.fill, func(t *testing.T) {
			spec := SpecFromConfig(config.GridConfig{Rows: 3, Cols: 4, ExcludeRows: []int{1}, Fill: tt.fill})
			l, err := Partition(raster, spec)
			if err != nil {
				t.Fatal(err)
			}
			if got := l.Overlay.RGBAAt(centre.X, centre.Y); got != tt.centre {
				t.Errorf("centre = %v, want %v", got, tt.centre)
			}
			if got := l.Overlay.RGBAAt(border.X, border.Y); got != tt.border {
				t.Errorf("border = %v, want %v", got, tt.border)
			}
		})
	}
}

func TestPartition_LeavesRasterUntouched(t *testing.T) {
	raster := solidRaster(320, 240, mid)
	l, err := Partition(raster, SpecFromConfig(config.Default().Grid))
	if err != nil {
		t.Fatal(err)
	}
	if got := raster.RGBAAt(0, 0); got != mid {
		t.Errorf("raster modified: %v", got)
	}
	if got := l.Overlay.RGBAAt(0, 0); got != imaging.Green {
		t.Errorf("included tile outline missing: %v", got)
	}
}
