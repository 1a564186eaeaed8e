package capturelog

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// MaxPayload bounds a single record so a corrupt header cannot trigger a huge
// allocation.
const MaxPayload = 64 << 20

// Record is one decoded log record.
type Record struct {
	Written time.Time
	Entry   Entry
}

// Reader iterates the records of a log.
type Reader struct {
	r *bufio.Reader
	n int
}

// NewReader checks the magic and positions r at the first record.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if string(magic) != Magic {
		return nil, fmt.Errorf("unexpected capture log magic %q", magic)
	}
	return &Reader{r: br}, nil
}

// Next returns the next record, or io.EOF at a clean end of log. A record cut
// short by a crash is reported as io.ErrUnexpectedEOF.
func (lr *Reader) Next() (Record, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(lr.r, header[:]); err != nil {
		return Record{}, err
	}
	ts := int64(binary.LittleEndian.Uint64(header[:8]))
	size := binary.LittleEndian.Uint32(header[8:])
	if size > MaxPayload {
		return Record{}, fmt.Errorf("record %d: payload of %d bytes exceeds %d", lr.n, size, MaxPayload)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(lr.r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return Record{}, err
	}
	rec := Record{Written: time.Unix(0, ts).UTC()}
	if err := cbor.Unmarshal(payload, &rec.Entry); err != nil {
		return Record{}, fmt.Errorf("record %d: %w", lr.n, err)
	}
	lr.n++
	return rec, nil
}

// ReadAll collects every record until the end of the log.
func ReadAll(r io.Reader) ([]Record, error) {
	lr, err := NewReader(r)
	if err != nil {
		return nil, err
	}
	var out []Record
	for {
		rec, err := lr.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
