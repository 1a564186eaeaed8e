package capturelog

import (
	"bytes"
	"image"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziziccc/embedded-prj3/internal/camera"
	"github.com/ziziccc/embedded-prj3/internal/fsutil"
	"github.com/ziziccc/embedded-prj3/internal/grid"
	"github.com/ziziccc/embedded-prj3/internal/pipeline"
	"github.com/ziziccc/embedded-prj3/internal/report"
	"github.com/ziziccc/embedded-prj3/internal/timeutil"
)

var epoch = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func sampleResult(id string) *pipeline.Result {
	tile := grid.Tile{Row: 2, Col: 3, Bounds: image.Rect(240, 160, 320, 240), Included: true, Index: 7}
	return &pipeline.Result{
		ID:         id,
		Started:    epoch,
		Duration:   850 * time.Millisecond,
		Frame:      []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x01, 0xFF, 0xD9},
		FrameStats: camera.Stats{Discarded: 4, Chunks: 3},
		Tiles:      []grid.Tile{tile},
		Records:    []report.Record{{Tile: tile, ClassIndex: 1, Label: "PERSON", Probs: []float64{0.2, 0.7, 0.1}}},
		Included:   8,
		Excluded:   4,
		Classes:    []string{"EMPTY", "PERSON", "OBJECT"},
	}
}

func TestWriteAndRead(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	clock := timeutil.NewMockClock(epoch)

	w, err := NewWriter(fs, "/logs", clock)
	require.NoError(t, err)
	assert.Equal(t, "/logs/20260301_080000_captures.bin", w.Name())

	require.NoError(t, w.Consume(sampleResult("a")))
	clock.Advance(time.Second)
	require.NoError(t, w.Consume(sampleResult("b")))
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Consume(sampleResult("c")), ErrClosed)
	assert.NoError(t, w.Close(), "second close is a no-op")

	w2, err := NewWriter(fs, "/logs", clock)
	require.NoError(t, err)
	assert.Equal(t, "/logs/20260301_080001_captures.bin", w2.Name())
	w3, err := NewWriter(fs, "/logs", clock)
	require.NoError(t, err)
	assert.Equal(t, "/logs/20260301_080001_2_captures.bin", w3.Name())

	data, err := fs.ReadFile(w.Name())
	require.NoError(t, err)
	assert.Equal(t, Magic, string(data[:len(Magic)]))

	recs, err := ReadAll(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, epoch, recs[0].Written)
	assert.Equal(t, epoch.Add(time.Second), recs[1].Written)

	e := recs[0].Entry
	assert.Equal(t, "a", e.ID)
	assert.Equal(t, epoch.UnixNano(), e.Started)
	assert.Equal(t, int64(850*time.Millisecond), e.DurationNS)
	assert.Equal(t, []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x01, 0xFF, 0xD9}, e.Frame)
	assert.Equal(t, 4, e.Discarded)
	assert.Equal(t, 8, e.Included)
	assert.Equal(t, []string{"EMPTY", "PERSON", "OBJECT"}, e.Classes)
	require.Len(t, e.Tiles, 1)
	assert.Equal(t, TileEntry{Row: 2, Col: 3, X0: 240, Y0: 160, X1: 320, Y1: 240, Label: "PERSON", Probs: []float64{0.2, 0.7, 0.1}}, e.Tiles[0])
}

func TestReader_TruncatedRecord(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	w, err := NewWriter(fs, "/logs", timeutil.NewMockClock(epoch))
	require.NoError(t, err)
	require.NoError(t, w.Consume(sampleResult("a")))
	require.NoError(t, w.Consume(sampleResult("b")))
	data, _ := fs.ReadFile(w.Name())

	lr, err := NewReader(bytes.NewReader(data[:len(data)-5]))
	require.NoError(t, err)
	rec, err := lr.Next()
	require.NoError(t, err)
	assert.Equal(t, "a", rec.Entry.ID)
	_, err = lr.Next()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	recs, err := ReadAll(bytes.NewReader(data[:len(data)-5]))
	assert.Error(t, err)
	assert.Len(t, recs, 1, "records before the damage are still returned")
}

func TestReader_Rejects(t *testing.T) {
	_, err := NewReader(bytes.NewReader([]byte("NOTALOG!")))
	assert.ErrorContains(t, err, "magic")

	_, err = NewReader(bytes.NewReader([]byte("SEAT")))
	assert.Error(t, err)

	huge := append([]byte(Magic), make([]byte, headerSize)...)
	huge[len(Magic)+8] = 0xFF
	huge[len(Magic)+11] = 0xFF
	lr, err := NewReader(bytes.NewReader(huge))
	require.NoError(t, err)
	_, err = lr.Next()
	assert.ErrorContains(t, err, "exceeds")
}

func TestEmptyLog(t *testing.T) {
	recs, err := ReadAll(bytes.NewReader([]byte(Magic)))
	require.NoError(t, err)
	assert.Empty(t, recs)
}
