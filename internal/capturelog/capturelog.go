// Package capturelog appends every capture to a binary log: the JPEG exactly
// as received plus the decisions made for it, so runs can be replayed and
// inspected offline.
//
// A log starts with an 8-byte magic. Each record is a 12-byte header (unix
// nanoseconds as uint64 LE, payload length as uint32 LE) followed by a CBOR
// encoded Entry.
package capturelog

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/ziziccc/embedded-prj3/internal/fsutil"
	"github.com/ziziccc/embedded-prj3/internal/pipeline"
	"github.com/ziziccc/embedded-prj3/internal/timeutil"
)

const Magic = "SEATLOG1"

const headerSize = 12

// ErrClosed is returned by Record after Close.
var ErrClosed = errors.New("capture log is closed")

// TileEntry is one included tile and its decision.
type TileEntry struct {
	Row   int       `cbor:"row"`
	Col   int       `cbor:"col"`
	X0    int       `cbor:"x0"`
	Y0    int       `cbor:"y0"`
	X1    int       `cbor:"x1"`
	Y1    int       `cbor:"y1"`
	Label string    `cbor:"label"`
	Probs []float64 `cbor:"probs"`
}

// Entry is the payload of one record.
type Entry struct {
	ID         string      `cbor:"id"`
	Started    int64       `cbor:"started"` // unix nanoseconds
	DurationNS int64       `cbor:"duration_ns"`
	Frame      []byte      `cbor:"frame"`
	Discarded  int         `cbor:"discarded"`
	Chunks     int         `cbor:"chunks"`
	Included   int         `cbor:"included"`
	Excluded   int         `cbor:"excluded"`
	Classes    []string    `cbor:"classes"`
	Tiles      []TileEntry `cbor:"tiles"`
}

// EntryFromResult flattens a pipeline result.
func EntryFromResult(r *pipeline.Result) Entry {
	e := Entry{
		ID:         r.ID,
		Started:    r.Started.UnixNano(),
		DurationNS: int64(r.Duration),
		Frame:      r.Frame,
		Discarded:  r.FrameStats.Discarded,
		Chunks:     r.FrameStats.Chunks,
		Included:   r.Included,
		Excluded:   r.Excluded,
		Classes:    r.Classes,
		Tiles:      make([]TileEntry, 0, len(r.Records)),
	}
	for _, rec := range r.Records {
		b := rec.Tile.Bounds
		e.Tiles = append(e.Tiles, TileEntry{
			Row: rec.Tile.Row, Col: rec.Tile.Col,
			X0: b.Min.X, Y0: b.Min.Y, X1: b.Max.X, Y1: b.Max.Y,
			Label: rec.Label, Probs: rec.Probs,
		})
	}
	return e
}

// Writer appends records to one log file.
type Writer struct {
	mu    sync.Mutex
	f     io.WriteCloser
	w     *bufio.Writer
	clock timeutil.Clock
	name  string
}

// NewWriter creates dir if needed and starts a new log named after the
// current time.
func NewWriter(fs fsutil.FileSystem, dir string, clock timeutil.Clock) (*Writer, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	stamp := clock.Now().Format("20060102_150405")
	name := filepath.Join(dir, stamp+"_captures.bin")
	for n := 2; fs.Exists(name); n++ {
		name = filepath.Join(dir, fmt.Sprintf("%s_%d_captures.bin", stamp, n))
	}
	f, err := fs.Append(name)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriterSize(f, 256*1024)
	if _, err := w.WriteString(Magic); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{f: f, w: w, clock: clock, name: name}, nil
}

// Name is the path of the log file.
func (lw *Writer) Name() string { return lw.name }

// Record appends one entry and flushes it.
func (lw *Writer) Record(e Entry) error {
	payload, err := cbor.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entry %s: %w", e.ID, err)
	}

	lw.mu.Lock()
	defer lw.mu.Unlock()
	if lw.w == nil {
		return ErrClosed
	}
	var header [headerSize]byte
	binary.LittleEndian.PutUint64(header[:8], uint64(lw.clock.Now().UnixNano()))
	binary.LittleEndian.PutUint32(header[8:], uint32(len(payload)))
	if _, err := lw.w.Write(header[:]); err != nil {
		return err
	}
	if _, err := lw.w.Write(payload); err != nil {
		return err
	}
	return lw.w.Flush()
}

// Consume records a pipeline result.
func (lw *Writer) Consume(r *pipeline.Result) error {
	return lw.Record(EntryFromResult(r))
}

func (lw *Writer) Close() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if lw.w == nil {
		return nil
	}
	err := lw.w.Flush()
	if cerr := lw.f.Close(); err == nil {
		err = cerr
	}
	lw.w = nil
	return err
}
