package db

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ziziccc/embedded-prj3/internal/camera"
	"github.com/ziziccc/embedded-prj3/internal/grid"
	"github.com/ziziccc/embedded-prj3/internal/pipeline"
	"github.com/ziziccc/embedded-prj3/internal/report"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(":memory:")
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

var base = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

// testResult builds a 2x2 capture with the second row excluded.
func testResult(id string, started time.Time, labels ...string) *pipeline.Result {
	tiles := []grid.Tile{
		{Row: 0, Col: 0, Bounds: image.Rect(0, 0, 160, 120), Included: true, Index: 0},
		{Row: 0, Col: 1, Bounds: image.Rect(160, 0, 320, 120), Included: true, Index: 1},
		{Row: 1, Col: 0, Bounds: image.Rect(0, 120, 160, 240), Index: -1},
		{Row: 1, Col: 1, Bounds: image.Rect(160, 120, 320, 240), Index: -1},
	}
	classes := []string{"EMPTY", "PERSON", "OBJECT"}
	var records []report.Record
	for i, l := range labels {
		probs := []float64{0.1, 0.1, 0.1}
		idx := 0
		for j, c := range classes {
			if c == l {
				idx = j
			}
		}
		probs[idx] = 0.8
		records = append(records, report.Record{Tile: tiles[i], ClassIndex: idx, Label: l, Probs: probs})
	}
	return &pipeline.Result{
		ID:         id,
		Started:    started,
		Duration:   1500 * time.Millisecond,
		Frame:      make([]byte, 4321),
		FrameStats: camera.Stats{Discarded: 4, Chunks: 9},
		Tiles:      tiles,
		Records:    records,
		Overlay:    image.NewRGBA(image.Rect(0, 0, 320, 240)),
		Included:   2,
		Excluded:   2,
		Classes:    classes,
	}
}

func TestNewDB_AppliesAllMigrations(t *testing.T) {
	db := newTestDB(t)

	version, dirty, err := db.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion: %v", err)
	}
	latest, err := LatestMigrationVersion()
	if err != nil {
		t.Fatalf("LatestMigrationVersion: %v", err)
	}
	if version != latest || dirty {
		t.Errorf("version %d dirty=%v, want %d clean", version, dirty, latest)
	}

	for _, table := range []string{"captures", "predictions", "capture_failures"} {
		var n int
		if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n); err != nil {
			t.Fatal(err)
		}
		if n != 1 {
			t.Errorf("table %s missing", table)
		}
	}
}

func TestPragmasApplied(t *testing.T) {
	db, err := NewDB(t.TempDir() + "/pragmas.db")
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	defer db.Close()

	var journal string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journal); err != nil {
		t.Fatal(err)
	}
	if journal != "wal" {
		t.Errorf("journal_mode = %s, want wal", journal)
	}
	var busy, fk int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&busy); err != nil {
		t.Fatal(err)
	}
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatal(err)
	}
	if busy != 5000 || fk != 1 {
		t.Errorf("busy_timeout=%d foreign_keys=%d", busy, fk)
	}
}

func TestMigrateDownAndUp(t *testing.T) {
	db := newTestDB(t)

	if err := db.MigrateDown(); err != nil {
		t.Fatalf("MigrateDown: %v", err)
	}
	v, _, _ := db.MigrateVersion()
	if v != 1 {
		t.Errorf("after down version = %d, want 1", v)
	}
	if err := db.MigrateUp(); err != nil {
		t.Fatalf("MigrateUp: %v", err)
	}
	if err := db.MigrateUp(); err != nil {
		t.Errorf("second MigrateUp should be a no-op: %v", err)
	}
}

func TestConsumeAndLoad(t *testing.T) {
	db := newTestDB(t)

	if err := db.Consume(testResult("a", base, "EMPTY", "PERSON")); err != nil {
		t.Fatalf("Consume: %v", err)
	}

	d, err := db.Capture("a")
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if d.FrameBytes != 4321 || d.Discarded != 4 || d.Chunks != 9 || d.Included != 2 || d.Excluded != 2 {
		t.Errorf("summary = %+v", d.CaptureSummary)
	}
	if !d.Started.Equal(base) {
		t.Errorf("started = %v, want %v", d.Started, base)
	}
	if d.Duration != 1500*time.Millisecond {
		t.Errorf("duration = %v", d.Duration)
	}
	if len(d.Predictions) != 2 {
		t.Fatalf("got %d predictions, want 2", len(d.Predictions))
	}
	p := d.Predictions[1]
	if p.Seq != 1 || p.Row != 0 || p.Col != 1 || p.X0 != 160 || p.X1 != 320 || p.Y1 != 120 {
		t.Errorf("prediction 1 = %+v", p)
	}
	if p.Label != "PERSON" || p.Confidence != 0.8 {
		t.Errorf("prediction 1 label %s conf %v", p.Label, p.Confidence)
	}
	if len(p.Probabilities) != 3 || p.Probabilities[1] != 0.8 {
		t.Errorf("probabilities = %v", p.Probabilities)
	}

	data, err := db.OverlayPNG("a")
	if err != nil {
		t.Fatalf("OverlayPNG: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("stored overlay is not a PNG: %v", err)
	}
	if img.Bounds().Dx() != 320 || img.Bounds().Dy() != 240 {
		t.Errorf("overlay size %v", img.Bounds())
	}
}

func TestConsume_DuplicateIDRollsBack(t *testing.T) {
	db := newTestDB(t)
	if err := db.Consume(testResult("a", base, "EMPTY")); err != nil {
		t.Fatal(err)
	}
	if err := db.Consume(testResult("a", base.Add(time.Minute), "PERSON", "PERSON")); err == nil {
		t.Fatal("expected duplicate capture ID to fail")
	}
	d, err := db.Capture("a")
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Predictions) != 1 || d.Predictions[0].Label != "EMPTY" {
		t.Errorf("first capture was modified: %+v", d.Predictions)
	}
}

func TestNotFound(t *testing.T) {
	db := newTestDB(t)
	if _, err := db.Capture("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Capture: got %v, want ErrNotFound", err)
	}
	if _, err := db.OverlayPNG("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("OverlayPNG: got %v, want ErrNotFound", err)
	}
}

func TestRecentCapturesAndCounts(t *testing.T) {
	db := newTestDB(t)
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(db.Consume(testResult("c1", base, "EMPTY", "EMPTY")))
	must(db.Consume(testResult("c2", base.Add(time.Minute), "PERSON", "EMPTY")))
	must(db.Consume(testResult("c3", base.Add(2*time.Minute), "PERSON", "OBJECT")))

	recent, err := db.RecentCaptures(2)
	must(err)
	if len(recent) != 2 || recent[0].ID != "c3" || recent[1].ID != "c2" {
		t.Errorf("recent = %+v", recent)
	}

	counts, err := db.LabelCounts(2)
	must(err)
	want := map[string]int{"PERSON": 2, "EMPTY": 1, "OBJECT": 1}
	for k, v := range want {
		if counts[k] != v {
			t.Errorf("counts[%s] = %d, want %d", k, counts[k], v)
		}
	}

	hist, err := db.LabelHistory([]string{"EMPTY", "PERSON"}, 10)
	must(err)
	if len(hist.Captures) != 3 || hist.Captures[0].ID != "c1" {
		t.Fatalf("history order = %+v", hist.Captures)
	}
	if got := hist.Counts["EMPTY"]; got[0] != 2 || got[1] != 1 || got[2] != 0 {
		t.Errorf("EMPTY series = %v", got)
	}
	if got := hist.Counts["PERSON"]; got[0] != 0 || got[1] != 1 || got[2] != 1 {
		t.Errorf("PERSON series = %v", got)
	}
	if _, ok := hist.Counts["OBJECT"]; ok {
		t.Error("unrequested label in history")
	}
}

func TestRecordFailure(t *testing.T) {
	db := newTestDB(t)
	if err := db.RecordFailure(base, camera.ErrFrameTimeout); err != nil {
		t.Fatal(err)
	}
	if err := db.RecordFailure(base.Add(time.Second), &camera.TransportError{Op: "write", Err: errors.New("gone")}); err != nil {
		t.Fatal(err)
	}
	fails, err := db.RecentFailures(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(fails) != 2 {
		t.Fatalf("got %d failures", len(fails))
	}
	if fails[0].Retryable || !strings.Contains(fails[0].Message, "gone") {
		t.Errorf("newest failure = %+v", fails[0])
	}
	if !fails[1].Retryable || !fails[1].At.Equal(base) {
		t.Errorf("oldest failure = %+v", fails[1])
	}
}

func TestAdminRoutes(t *testing.T) {
	db := newTestDB(t)
	if err := db.Consume(testResult("a", base, "EMPTY")); err != nil {
		t.Fatal(err)
	}
	mux := http.NewServeMux()
	if err := db.AttachAdminRoutes(mux); err != nil {
		t.Fatalf("AttachAdminRoutes: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("backup status = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/gzip" {
		t.Errorf("Content-Type = %s", ct)
	}
	if b := rec.Body.Bytes(); len(b) < 2 || b[0] != 0x1f || b[1] != 0x8b {
		t.Error("backup body is not gzip")
	}
}

func TestRunMigrateCommand(t *testing.T) {
	path := t.TempDir() + "/cli.db"
	var out strings.Builder

	if err := RunMigrateCommand([]string{"status"}, path, &out); err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out.String(), "Current version: 0") || !strings.Contains(out.String(), "pending") {
		t.Errorf("status output:\n%s", out.String())
	}

	out.Reset()
	if err := RunMigrateCommand([]string{"up"}, path, &out); err != nil {
		t.Fatalf("up: %v", err)
	}
	latest, _ := LatestMigrationVersion()
	if !strings.Contains(out.String(), fmt.Sprintf("Current version: %d", latest)) {
		t.Errorf("up output:\n%s", out.String())
	}

	out.Reset()
	if err := RunMigrateCommand([]string{"version", "1"}, path, &out); err != nil {
		t.Fatalf("version 1: %v", err)
	}
	if !strings.Contains(out.String(), "Current version: 1") {
		t.Errorf("version output:\n%s", out.String())
	}

	for _, args := range [][]string{nil, {"sideways"}, {"version"}, {"force", "x"}} {
		if err := RunMigrateCommand(args, path, &out); err == nil {
			t.Errorf("%v: expected error", args)
		}
	}
}
