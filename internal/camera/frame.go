package camera

import (
	"bytes"
	"time"

	"github.com/ziziccc/embedded-prj3/internal/config"
	"github.com/ziziccc/embedded-prj3/internal/monitoring"
	"github.com/ziziccc/embedded-prj3/internal/timeutil"
)

// JPEG framing markers. A frame runs from the first start marker to the last
// end marker received before the stream goes quiet.
var (
	StartMarker = []byte{0xFF, 0xD8}
	EndMarker   = []byte{0xFF, 0xD9}
)

// State is the extractor's position in a single extraction.
type State int

const (
	StateSeeking State = iota
	StateAccumulating
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSeeking:
		return "seeking"
	case StateAccumulating:
		return "accumulating"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Reader is the read side of Link.
type Reader interface {
	Available() (int, error)
	Read(max int) ([]byte, error)
}

// Stats describes one extraction attempt.
type Stats struct {
	Received  int           // bytes pulled from the link
	Discarded int           // bytes dropped before the start marker
	Chunks    int           // non-empty reads
	Polls     int           // empty polls
	Duration  time.Duration // time from start to completion or failure
	Final     State
}

// Extractor pulls exactly one JPEG frame off a link. It is not safe for
// concurrent use, and each Extract call starts from a fresh state.
type Extractor struct {
	link  Reader
	clock timeutil.Clock

	overall   time.Duration
	interByte time.Duration
	poll      time.Duration
	minBytes  int
	maxBytes  int
	chunk     int
}

// NewExtractor builds an Extractor from the capture settings.
func NewExtractor(link Reader, cfg config.CaptureConfig, clock timeutil.Clock) *Extractor {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	chunk := cfg.ReadChunk
	if chunk <= 0 {
		chunk = 512
	}
	return &Extractor{
		link:      link,
		clock:     clock,
		overall:   cfg.GetOverallTimeout(),
		interByte: cfg.GetInterByteTimeout(),
		poll:      cfg.GetPollInterval(),
		minBytes:  cfg.MinFrameBytes,
		maxBytes:  cfg.MaxFrameBytes,
		chunk:     chunk,
	}
}

// Extract blocks until a frame is complete or a bound is hit. The returned
// frame begins with StartMarker and ends with EndMarker.
func (e *Extractor) Extract() ([]byte, Stats, error) {
	x := &extraction{state: StateSeeking, minBytes: e.minBytes, maxBytes: e.maxBytes}
	start := e.clock.Now()
	var lastRx time.Time

	for x.state == StateSeeking || x.state == StateAccumulating {
		now := e.clock.Now()
		if elapsed := now.Sub(start); elapsed > e.overall {
			x.fail(&FrameTimeoutError{
				Phase:    TimeoutOverall,
				Limit:    e.overall,
				Elapsed:  elapsed,
				Received: len(x.buf),
				Started:  x.state == StateAccumulating,
			})
			break
		}
		// The inter-byte clock only runs once the start marker is in.
		if x.state == StateAccumulating {
			if gap := now.Sub(lastRx); gap > e.interByte {
				x.fail(&FrameTimeoutError{
					Phase:    TimeoutInterByte,
					Limit:    e.interByte,
					Elapsed:  gap,
					Received: len(x.buf),
					Started:  true,
				})
				break
			}
		}

		n, err := e.link.Available()
		if err != nil {
			x.fail(&TransportError{Op: "read", Err: err})
			break
		}
		if n == 0 {
			x.stats.Polls++
			e.clock.Sleep(e.poll)
			continue
		}

		data, err := e.link.Read(max(n, e.chunk))
		if err != nil {
			x.fail(&TransportError{Op: "read", Err: err})
			break
		}
		if len(data) == 0 {
			x.stats.Polls++
			e.clock.Sleep(e.poll)
			continue
		}
		lastRx = now
		x.stats.Chunks++
		x.stats.Received += len(data)
		x.feed(data)
	}

	x.stats.Duration = e.clock.Since(start)
	x.stats.Final = x.state
	if x.err != nil {
		monitoring.Logf("frame extraction failed in %s: %v", x.stats.Duration, x.err)
		return nil, x.stats, x.err
	}
	return x.frame, x.stats, nil
}

// extraction holds the byte-level state of one Extract call. feed is pure so
// the marker logic can be driven without a clock.
type extraction struct {
	state    State
	buf      []byte
	frame    []byte
	err      error
	stats    Stats
	minBytes int
	maxBytes int
}

func (x *extraction) fail(err error) {
	x.state = StateFailed
	x.err = err
}

// feed appends a chunk and advances the state machine. Markers split across
// chunk boundaries are still found.
func (x *extraction) feed(chunk []byte) {
	switch x.state {
	case StateSeeking:
		x.buf = append(x.buf, chunk...)
		idx := bytes.Index(x.buf, StartMarker)
		if idx < 0 {
			// Keep only a possible split marker prefix; everything else is
			// noise from before the frame.
			keep := len(StartMarker) - 1
			if len(x.buf) > keep {
				x.stats.Discarded += len(x.buf) - keep
				x.buf = append(x.buf[:0], x.buf[len(x.buf)-keep:]...)
			}
			if len(x.buf) > 0 && x.buf[0] != StartMarker[0] {
				x.stats.Discarded += len(x.buf)
				x.buf = x.buf[:0]
			}
			return
		}
		x.stats.Discarded += idx
		x.buf = append([]byte(nil), x.buf[idx:]...)
		x.state = StateAccumulating
		x.complete(len(StartMarker))
	case StateAccumulating:
		prev := len(x.buf)
		x.buf = append(x.buf, chunk...)
		x.complete(max(len(StartMarker), prev-(len(EndMarker)-1)))
	}
}

// complete looks for the last end marker at or after from. Any end marker
// before from was already examined and rejected, so scanning only the tail
// still finds the last one in the whole buffer.
func (x *extraction) complete(from int) {
	if from < len(x.buf) {
		if idx := bytes.LastIndex(x.buf[from:], EndMarker); idx >= 0 {
			end := from + idx + len(EndMarker)
			frame := x.buf[:end]
			switch {
			case x.maxBytes > 0 && len(frame) > x.maxBytes:
				x.fail(&FrameOverflowError{Size: len(frame), Max: x.maxBytes})
			case len(frame) < x.minBytes:
				x.fail(&FrameTooSmallError{Size: len(frame), Min: x.minBytes})
			default:
				x.frame = frame
				x.state = StateDone
			}
			return
		}
	}
	if x.maxBytes > 0 && len(x.buf) > x.maxBytes {
		x.fail(&FrameOverflowError{Size: len(x.buf), Max: x.maxBytes})
	}
}
