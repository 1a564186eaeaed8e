// Package api exposes the capture station over HTTP: trigger a capture, browse
// stored results, stream new results over a websocket and chart label
// history.
package api

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"image/png"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/ziziccc/embedded-prj3/internal/camera"
	"github.com/ziziccc/embedded-prj3/internal/config"
	"github.com/ziziccc/embedded-prj3/internal/db"
	"github.com/ziziccc/embedded-prj3/internal/fsutil"
	"github.com/ziziccc/embedded-prj3/internal/httputil"
	"github.com/ziziccc/embedded-prj3/internal/monitoring"
	"github.com/ziziccc/embedded-prj3/internal/pipeline"
	"github.com/ziziccc/embedded-prj3/internal/security"
	"github.com/ziziccc/embedded-prj3/internal/version"
)

const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// Capturer is the session the server triggers.
type Capturer interface {
	Capture() (*pipeline.Result, error)
	Config() config.Config
}

// Store is the read side of the capture database.
type Store interface {
	RecentCaptures(limit int) ([]db.CaptureSummary, error)
	Capture(id string) (*db.CaptureDetail, error)
	OverlayPNG(id string) ([]byte, error)
	LabelCounts(limit int) (map[string]int, error)
	LabelHistory(labels []string, limit int) (*db.LabelSeries, error)
	RecentFailures(limit int) ([]db.Failure, error)
}

type Server struct {
	capturer Capturer
	store    Store
	hub      *Hub
	fs       fsutil.FileSystem

	mu   sync.Mutex
	last *pipeline.Result
}

// Option configures a Server.
type Option func(*Server)

// WithStore enables the history endpoints.
func WithStore(st Store) Option {
	return func(s *Server) { s.store = st }
}

// WithHub mounts the websocket stream.
func WithHub(h *Hub) Option {
	return func(s *Server) { s.hub = h }
}

// WithFileSystem sets where plot images are read from.
func WithFileSystem(fs fsutil.FileSystem) Option {
	return func(s *Server) { s.fs = fs }
}

func NewServer(c Capturer, opts ...Option) *Server {
	s := &Server{capturer: c, fs: fsutil.OSFileSystem{}}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Consume remembers the newest result so it can be served without a
// database.
func (s *Server) Consume(r *pipeline.Result) error {
	s.mu.Lock()
	s.last = r
	s.mu.Unlock()
	return nil
}

func (s *Server) latest() *pipeline.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if f, ok := lrw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets the websocket upgrade pass through the middleware.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	lrw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

func statusCodeColor(code int) string {
	switch {
	case code >= 200 && code < 300:
		return colorBoldGreen + strconv.Itoa(code) + colorReset
	case code >= 300 && code < 400:
		return colorYellow + strconv.Itoa(code) + colorReset
	case code >= 400:
		return colorBoldRed + strconv.Itoa(code) + colorReset
	default:
		return strconv.Itoa(code)
	}
}

// LoggingMiddleware logs method, path, status and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf("[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/capture", s.handleCapture)
	mux.HandleFunc("/api/captures", s.handleListCaptures)
	mux.HandleFunc("GET /api/captures/{id}", s.handleGetCapture)
	mux.HandleFunc("GET /api/captures/{id}/overlay.png", s.handleOverlay)
	mux.HandleFunc("GET /api/captures/{id}/plot.png", s.handlePlot)
	mux.HandleFunc("/api/labels", s.handleLabels)
	mux.HandleFunc("/api/failures", s.handleFailures)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/debug/captures/chart", s.handleLabelChart)
	if s.hub != nil {
		mux.Handle("/ws", s.hub)
	}
	return mux
}

// StatusForError maps a capture error to an HTTP status: 409 while another
// capture runs, 504 when the board never finished a frame, 502 for other
// retryable transfer or decode problems and 500 for everything fatal.
func StatusForError(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, camera.ErrFrameTimeout):
		return http.StatusGatewayTimeout
	case pipeline.Retryable(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	res, err := s.capturer.Capture()
	if err != nil {
		httputil.WriteJSON(w, StatusForError(err), httputil.ErrorBody{
			Error:     err.Error(),
			Retryable: pipeline.Retryable(err) || errors.Is(err, pipeline.ErrBusy),
		})
		return
	}
	httputil.WriteJSONOK(w, NewCaptureView(res))
}

func queryLimit(r *http.Request, name string, def, max int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > max {
		return 0, fmt.Errorf("invalid '%s' parameter", name)
	}
	return n, nil
}

func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.store == nil {
		httputil.NotFound(w, "no capture database configured")
		return false
	}
	return true
}

func (s *Server) handleListCaptures(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if !s.requireStore(w) {
		return
	}
	limit, err := queryLimit(r, "limit", 20, 500)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	list, err := s.store.RecentCaptures(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to list captures: %v", err))
		return
	}
	if list == nil {
		list = []db.CaptureSummary{}
	}
	httputil.WriteJSONOK(w, list)
}

func (s *Server) handleGetCapture(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if last := s.latest(); last != nil && (id == "latest" || id == last.ID) {
		httputil.WriteJSONOK(w, NewCaptureView(last))
		return
	}
	if id == "latest" {
		httputil.NotFound(w, "no capture yet")
		return
	}
	if !s.requireStore(w) {
		return
	}
	d, err := s.store.Capture(id)
	if errors.Is(err, db.ErrNotFound) {
		httputil.NotFound(w, fmt.Sprintf("capture %s not found", id))
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, d)
}

func (s *Server) handleOverlay(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var data []byte
	if last := s.latest(); last != nil && last.Overlay != nil && (id == "latest" || id == last.ID) {
		var buf bytes.Buffer
		if err := png.Encode(&buf, last.Overlay); err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		data = buf.Bytes()
	} else {
		if !s.requireStore(w) {
			return
		}
		var err error
		data, err = s.store.OverlayPNG(id)
		if errors.Is(err, db.ErrNotFound) {
			httputil.NotFound(w, fmt.Sprintf("no overlay for capture %s", id))
			return
		}
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(data)
}

func (s *Server) handlePlot(w http.ResponseWriter, r *http.Request) {
	dir := s.capturer.Config().Output.PlotDir
	if dir == "" {
		httputil.NotFound(w, "probability plots are disabled")
		return
	}
	path := filepath.Join(dir, security.SanitizeFilename(r.PathValue("id"))+".png")
	if err := security.ValidatePathWithinDirectory(path, dir); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	data, err := s.fs.ReadFile(path)
	if err != nil {
		httputil.NotFound(w, "plot not found")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(data)
}

func (s *Server) handleLabels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if !s.requireStore(w) {
		return
	}
	limit, err := queryLimit(r, "captures", 50, 10000)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	counts, err := s.store.LabelCounts(limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, counts)
}

func (s *Server) handleFailures(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if !s.requireStore(w) {
		return
	}
	limit, err := queryLimit(r, "limit", 20, 500)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	list, err := s.store.RecentFailures(limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if list == nil {
		list = []db.Failure{}
	}
	httputil.WriteJSONOK(w, list)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.capturer.Config())
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, version.Current())
}
