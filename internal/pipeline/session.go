// Package pipeline runs one capture from trigger to labelled result.
package pipeline

import (
	"fmt"
	"image"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ziziccc/embedded-prj3/internal/camera"
	"github.com/ziziccc/embedded-prj3/internal/classifier"
	"github.com/ziziccc/embedded-prj3/internal/config"
	"github.com/ziziccc/embedded-prj3/internal/fsutil"
	"github.com/ziziccc/embedded-prj3/internal/grid"
	"github.com/ziziccc/embedded-prj3/internal/imaging"
	"github.com/ziziccc/embedded-prj3/internal/monitoring"
	"github.com/ziziccc/embedded-prj3/internal/preprocess"
	"github.com/ziziccc/embedded-prj3/internal/report"
	"github.com/ziziccc/embedded-prj3/internal/timeutil"
)

// Result is everything one capture produced.
type Result struct {
	ID       string
	Started  time.Time
	Duration time.Duration

	Frame      []byte // the JPEG as received
	FrameStats camera.Stats

	Tiles    []grid.Tile // all cells, row-major
	Records  []report.Record
	Overlay  *image.RGBA
	Included int
	Excluded int
	Classes  []string
}

// Sink receives every successful Result. Sink failures are logged and do
// not fail the capture.
type Sink interface {
	Consume(r *Result) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(r *Result) error

func (f SinkFunc) Consume(r *Result) error { return f(r) }

// FailureRecorder is implemented by sinks that also keep failed attempts.
type FailureRecorder interface {
	RecordFailure(at time.Time, err error) error
}

// Session owns one camera link and the processing chain behind it.
type Session struct {
	busy sync.Mutex

	cfg        config.Config
	link       camera.Link
	clock      timeutil.Clock
	commander  *camera.Commander
	extractor  *camera.Extractor
	decoder    imaging.Decoder
	spec       grid.Spec
	classifier classifier.Classifier
	reporter   *report.Reporter

	fs      fsutil.FileSystem
	sinks   []Sink
	newID func() string
}

// Option configures a Session.
type Option func(*Session)

// WithClock replaces the wall clock, for tests.
func WithClock(c timeutil.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithSinks registers result observers.
func WithSinks(sinks ...Sink) Option {
	return func(s *Session) { s.sinks = append(s.sinks, sinks...) }
}

// WithFileSystem sets where patch dumps and plots are written.
func WithFileSystem(fs fsutil.FileSystem) Option {
	return func(s *Session) { s.fs = fs }
}

// WithIDFunc overrides capture ID generation.
func WithIDFunc(f func() string) Option {
	return func(s *Session) { s.newID = f }
}

// NewSession wires the chain. The decoder and classifier are owned by the
// caller.
func NewSession(cfg config.Config, link camera.Link, dec imaging.Decoder, cls classifier.Classifier, opts ...Option) (*Session, error) {
	policy, err := report.PolicyFromConfig(cfg.Classifier)
	if err != nil {
		return nil, err
	}
	s := &Session{
		cfg:        cfg,
		link:       link,
		clock:      timeutil.RealClock{},
		decoder:    dec,
		spec:       grid.SpecFromConfig(cfg.Grid),
		classifier: cls,
		reporter:   report.New(cfg.Classifier.ClassNames, policy),
		fs:         fsutil.OSFileSystem{},
		newID:      uuid.NewString,
	}
	for _, o := range opts {
		o(s)
	}
	s.commander = camera.NewCommander(link, cfg.Capture, s.clock)
	s.extractor = camera.NewExtractor(link, cfg.Capture, s.clock)
	return s, nil
}

// Config returns the session configuration.
func (s *Session) Config() config.Config { return s.cfg }

// AddSink registers another observer. Not safe to call during a capture.
func (s *Session) AddSink(sink Sink) { s.sinks = append(s.sinks, sink) }

// SendRaw forwards a single command byte to the board. It shares the
// session's exclusivity with Capture.
func (s *Session) SendRaw(b byte) error {
	if !s.busy.TryLock() {
		return ErrBusy
	}
	defer s.busy.Unlock()
	return s.commander.SendRaw(b)
}

// Capture triggers the board and processes the frame it sends. It blocks
// until a result is ready or a stage fails; the extractor's timeouts bound
// the wait for bytes.
func (s *Session) Capture() (*Result, error) {
	if !s.busy.TryLock() {
		return nil, ErrBusy
	}
	defer s.busy.Unlock()

	res, err := s.capture()
	if err != nil {
		monitoring.Logf("capture failed (retryable=%t): %v", Retryable(err), err)
		at := s.clock.Now()
		for _, sink := range s.sinks {
			if fr, ok := sink.(FailureRecorder); ok {
				if ferr := fr.RecordFailure(at, err); ferr != nil {
					monitoring.Logf("sink %T: record failure: %v", sink, ferr)
				}
			}
		}
		return nil, err
	}
	for _, sink := range s.sinks {
		if err := sink.Consume(res); err != nil {
			monitoring.Logf("capture %s: sink %T: %v", res.ID, sink, err)
		}
	}
	return res, nil
}

func (s *Session) capture() (*Result, error) {
	res := &Result{
		ID:      s.newID(),
		Started: s.clock.Now(),
		Classes: s.cfg.Classifier.ClassNames,
	}
	monitoring.Logf("capture %s: sending 0x%02x", res.ID, s.cfg.Capture.Command)

	if err := s.commander.PrepareCapture(); err != nil {
		return nil, err
	}
	if err := s.commander.Trigger(); err != nil {
		return nil, err
	}

	frame, stats, err := s.extractor.Extract()
	res.FrameStats = stats
	if err != nil {
		return nil, fmt.Errorf("extract frame: %w", err)
	}
	res.Frame = frame
	monitoring.Logf("capture %s: frame %d bytes in %s (%d chunks, %d discarded)",
		res.ID, len(frame), stats.Duration, stats.Chunks, stats.Discarded)

	done := monitoring.Stage("decode")
	raster, err := s.decoder.Decode(frame)
	done()
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	layout, err := grid.Partition(raster, s.spec)
	if err != nil {
		return nil, fmt.Errorf("partition: %w", err)
	}
	included := layout.Included()
	res.Tiles = layout.Tiles
	res.Overlay = layout.Overlay
	res.Included = len(included)
	res.Excluded = len(layout.Tiles) - len(included)

	// The rescale answer is taken fresh for every capture.
	var popts []preprocess.Option
	if dir := s.cfg.Output.PatchDumpDir; dir != "" {
		popts = append(popts, preprocess.WithPatchDump(s.fs, dir))
	}
	pre := preprocess.New(s.cfg.Classifier.InputSize, s.classifier.RescalesInput(), popts...)
	batch, err := pre.Prepare(raster, included)
	if err != nil {
		return nil, fmt.Errorf("preprocess: %w", err)
	}

	done = monitoring.Stage("classify")
	probs, err := s.classifier.Predict(batch.Inputs())
	done()
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	if err := classifier.CheckOutput(probs, batch.Len(), len(s.cfg.Classifier.ClassNames)); err != nil {
		return nil, err
	}

	records, err := s.reporter.Build(included, probs)
	if err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}
	report.Annotate(res.Overlay, records)
	res.Records = records
	res.Duration = s.clock.Since(res.Started)

	var table strings.Builder
	_ = report.WriteTable(&table, s.cfg.Classifier.ClassNames, records)
	monitoring.Logf("capture %s: %d included, %d excluded\n%s", res.ID, res.Included, res.Excluded, table.String())

	if dir := s.cfg.Output.PlotDir; dir != "" {
		if err := s.writePlot(dir, res); err != nil {
			monitoring.Logf("capture %s: plot: %v", res.ID, err)
		}
	}
	return res, nil
}

func (s *Session) writePlot(dir string, res *Result) error {
	png, err := report.PlotProbabilities("capture "+res.ID, res.Classes, res.Records)
	if err != nil {
		return err
	}
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return s.fs.WriteFile(filepath.Join(dir, res.ID+".png"), png, 0o644)
}
