package db

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"time"

	"github.com/ziziccc/embedded-prj3/internal/pipeline"
)

// ErrNotFound is returned when a capture ID is unknown.
var ErrNotFound = errors.New("capture not found")

// CaptureSummary is one row of the captures table.
type CaptureSummary struct {
	ID         string        `json:"id"`
	Started    time.Time     `json:"started"`
	Duration   time.Duration `json:"duration_ns"`
	FrameBytes int           `json:"frame_bytes"`
	Discarded  int           `json:"discarded"`
	Chunks     int           `json:"chunks"`
	Included   int           `json:"included"`
	Excluded   int           `json:"excluded"`
}

// Prediction is one stored tile decision.
type Prediction struct {
	Seq           int       `json:"seq"`
	Row           int       `json:"row"`
	Col           int       `json:"col"`
	X0            int       `json:"x0"`
	Y0            int       `json:"y0"`
	X1            int       `json:"x1"`
	Y1            int       `json:"y1"`
	Label         string    `json:"label"`
	Confidence    float64   `json:"confidence"`
	Probabilities []float64 `json:"probabilities"`
}

// CaptureDetail is a capture with its predictions in tile order.
type CaptureDetail struct {
	CaptureSummary
	Predictions []Prediction `json:"predictions"`
}

// Failure is one capture attempt that did not produce a result.
type Failure struct {
	At        time.Time `json:"at"`
	Retryable bool      `json:"retryable"`
	Message   string    `json:"message"`
}

// Consume stores a result. It makes DB a pipeline.Sink.
func (db *DB) Consume(r *pipeline.Result) error {
	var overlay []byte
	if r.Overlay != nil {
		var buf bytes.Buffer
		if err := png.Encode(&buf, r.Overlay); err != nil {
			return fmt.Errorf("encode overlay: %w", err)
		}
		overlay = buf.Bytes()
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO captures (capture_id, started_unix, duration_ms, frame_bytes, discarded, chunks, included, excluded, overlay_png)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Started.UnixNano(), float64(r.Duration.Microseconds())/1000, len(r.Frame),
		r.FrameStats.Discarded, r.FrameStats.Chunks, r.Included, r.Excluded, overlay)
	if err != nil {
		return fmt.Errorf("insert capture %s: %w", r.ID, err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO predictions (capture_id, seq, grid_row, grid_col, x0, y0, x1, y1, label, confidence, probabilities)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, rec := range r.Records {
		probs, err := json.Marshal(rec.Probs)
		if err != nil {
			return err
		}
		b := rec.Tile.Bounds
		if _, err := stmt.Exec(r.ID, i, rec.Tile.Row, rec.Tile.Col, b.Min.X, b.Min.Y, b.Max.X, b.Max.Y,
			rec.Label, rec.Confidence(), string(probs)); err != nil {
			return fmt.Errorf("insert prediction %d of %s: %w", i, r.ID, err)
		}
	}
	return tx.Commit()
}

// RecordFailure stores a failed capture attempt.
func (db *DB) RecordFailure(at time.Time, err error) error {
	_, execErr := db.Exec(`INSERT INTO capture_failures (occurred_unix, retryable, message) VALUES (?, ?, ?)`,
		at.UnixNano(), pipeline.Retryable(err), err.Error())
	return execErr
}

// RecentFailures returns up to limit failures, newest first.
func (db *DB) RecentFailures(limit int) ([]Failure, error) {
	rows, err := db.Query(`
		SELECT occurred_unix, retryable, message FROM capture_failures
		ORDER BY occurred_unix DESC, failure_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		var f Failure
		var at int64
		if err := rows.Scan(&at, &f.Retryable, &f.Message); err != nil {
			return nil, err
		}
		f.At = time.Unix(0, at).UTC()
		out = append(out, f)
	}
	return out, rows.Err()
}

const summaryColumns = `capture_id, started_unix, duration_ms, frame_bytes, discarded, chunks, included, excluded`

type scanner interface {
	Scan(dest ...any) error
}

func scanSummary(s scanner) (CaptureSummary, error) {
	var c CaptureSummary
	var started int64
	var ms float64
	if err := s.Scan(&c.ID, &started, &ms, &c.FrameBytes, &c.Discarded, &c.Chunks, &c.Included, &c.Excluded); err != nil {
		return c, err
	}
	c.Started = time.Unix(0, started).UTC()
	c.Duration = time.Duration(ms * float64(time.Millisecond))
	return c, nil
}

// RecentCaptures returns up to limit captures, newest first.
func (db *DB) RecentCaptures(limit int) ([]CaptureSummary, error) {
	rows, err := db.Query(`SELECT `+summaryColumns+` FROM captures ORDER BY started_unix DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CaptureSummary
	for rows.Next() {
		c, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Capture loads one capture and its predictions.
func (db *DB) Capture(id string) (*CaptureDetail, error) {
	sum, err := scanSummary(db.QueryRow(`SELECT `+summaryColumns+` FROM captures WHERE capture_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d := &CaptureDetail{CaptureSummary: sum, Predictions: []Prediction{}}

	rows, err := db.Query(`
		SELECT seq, grid_row, grid_col, x0, y0, x1, y1, label, confidence, probabilities
		FROM predictions WHERE capture_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var p Prediction
		var probs string
		if err := rows.Scan(&p.Seq, &p.Row, &p.Col, &p.X0, &p.Y0, &p.X1, &p.Y1, &p.Label, &p.Confidence, &probs); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(probs), &p.Probabilities); err != nil {
			return nil, fmt.Errorf("prediction %d of %s: %w", p.Seq, id, err)
		}
		d.Predictions = append(d.Predictions, p)
	}
	return d, rows.Err()
}

// OverlayPNG returns the stored overlay image of a capture.
func (db *DB) OverlayPNG(id string) ([]byte, error) {
	var data []byte
	err := db.QueryRow(`SELECT overlay_png FROM captures WHERE capture_id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrNotFound
	}
	return data, nil
}

// LabelCounts tallies labels over the newest limit captures.
func (db *DB) LabelCounts(limit int) (map[string]int, error) {
	rows, err := db.Query(`
		SELECT p.label, COUNT(*) FROM predictions p
		WHERE p.capture_id IN (SELECT capture_id FROM captures ORDER BY started_unix DESC LIMIT ?)
		GROUP BY p.label`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var label string
		var n int
		if err := rows.Scan(&label, &n); err != nil {
			return nil, err
		}
		out[label] = n
	}
	return out, rows.Err()
}

// LabelSeries is the per-capture label count history, oldest first, used by
// the occupancy chart.
type LabelSeries struct {
	Captures []CaptureSummary
	Counts   map[string][]int // label -> count per capture
}

// LabelHistory returns per-capture counts of each label in labels over the
// newest limit captures.
func (db *DB) LabelHistory(labels []string, limit int) (*LabelSeries, error) {
	recent, err := db.RecentCaptures(limit)
	if err != nil {
		return nil, err
	}
	s := &LabelSeries{Counts: make(map[string][]int, len(labels))}
	for i := len(recent) - 1; i >= 0; i-- {
		s.Captures = append(s.Captures, recent[i])
	}
	index := make(map[string]int, len(s.Captures))
	for i, c := range s.Captures {
		index[c.ID] = i
	}
	for _, l := range labels {
		s.Counts[l] = make([]int, len(s.Captures))
	}

	rows, err := db.Query(`
		SELECT p.capture_id, p.label, COUNT(*) FROM predictions p
		WHERE p.capture_id IN (SELECT capture_id FROM captures ORDER BY started_unix DESC LIMIT ?)
		GROUP BY p.capture_id, p.label`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id, label string
		var n int
		if err := rows.Scan(&id, &label, &n); err != nil {
			return nil, err
		}
		counts, ok := s.Counts[label]
		if !ok {
			continue
		}
		if i, ok := index[id]; ok {
			counts[i] = n
		}
	}
	return s, rows.Err()
}
