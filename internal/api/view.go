package api

import (
	"time"

	"github.com/ziziccc/embedded-prj3/internal/pipeline"
)

// TileView is one included tile in a JSON capture response.
type TileView struct {
	Index      int       `json:"index"`
	Row        int       `json:"row"`
	Col        int       `json:"col"`
	Bounds     [4]int    `json:"bbox"` // x0, y0, x1, y1
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	Probs      []float64 `json:"probs"`
}

// CaptureView is the JSON form of a capture result.
type CaptureView struct {
	ID         string     `json:"id"`
	Started    time.Time  `json:"started"`
	DurationMS float64    `json:"duration_ms"`
	FrameBytes int        `json:"frame_bytes"`
	Discarded  int        `json:"discarded"`
	Included   int        `json:"included"`
	Excluded   int        `json:"excluded"`
	Classes    []string   `json:"classes"`
	Tiles      []TileView `json:"tiles"`
}

// NewCaptureView flattens r for JSON.
func NewCaptureView(r *pipeline.Result) CaptureView {
	v := CaptureView{
		ID:         r.ID,
		Started:    r.Started,
		DurationMS: float64(r.Duration.Microseconds()) / 1000,
		FrameBytes: len(r.Frame),
		Discarded:  r.FrameStats.Discarded,
		Included:   r.Included,
		Excluded:   r.Excluded,
		Classes:    r.Classes,
		Tiles:      make([]TileView, 0, len(r.Records)),
	}
	for _, rec := range r.Records {
		b := rec.Tile.Bounds
		v.Tiles = append(v.Tiles, TileView{
			Index:      rec.Tile.Index,
			Row:        rec.Tile.Row,
			Col:        rec.Tile.Col,
			Bounds:     [4]int{b.Min.X, b.Min.Y, b.Max.X, b.Max.Y},
			Label:      rec.Label,
			Confidence: rec.Confidence(),
			Probs:      rec.Probs,
		})
	}
	return v
}
