// Package web serves the viewer API: a JSON snapshot of the loop, start/stop
// controls, notice dismissal, frame upload for publisher-fed capture, and a
// websocket that pushes bubble and session events as they happen.
//
// The package renders no markup; any page or overlay drawing the bubbles is
// expected to consume these endpoints.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MrWong99/adroast/internal/commentary"
	"github.com/MrWong99/adroast/internal/loop"
	"github.com/MrWong99/adroast/internal/observe"
	"github.com/MrWong99/adroast/internal/session"
	"github.com/MrWong99/adroast/pkg/frame"
)

// maxFrameBytes bounds a single uploaded frame.
const maxFrameBytes = 8 << 20

// FramePublisher accepts frames pushed by a capture client.
type FramePublisher interface {
	Publish(f *frame.Frame)
}

// StateResponse is the body of GET /api/state and the payload of the stream's
// snapshot message.
type StateResponse struct {
	Loop     loop.Status         `json:"loop"`
	Bubbles  []commentary.Bubble `json:"bubbles"`
	Pending  int                 `json:"pendingSentences"`
	Sessions []session.Record    `json:"sessions"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Server implements the viewer API on top of a [loop.Loop].
type Server struct {
	loop    *loop.Loop
	baseCtx context.Context
	frames  FramePublisher
	origins []string
	metrics *observe.Metrics
	now     func() time.Time
	ping    time.Duration
}

// Option configures a [Server].
type Option func(*Server)

// WithFramePublisher enables POST /api/frame, handing uploads to p.
func WithFramePublisher(p FramePublisher) Option {
	return func(s *Server) { s.frames = p }
}

// WithOriginPatterns allows websocket connections from the given host
// patterns in addition to same-origin ones.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = patterns }
}

// WithMetrics overrides the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithClock overrides the clock used to stamp uploaded frames.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithPingInterval sets how often idle stream connections are pinged.
// Default: 20s.
func WithPingInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.ping = d
		}
	}
}

// New returns a Server controlling l. baseCtx bounds every run started through
// POST /api/start; it should live as long as the process, not a request.
func New(baseCtx context.Context, l *loop.Loop, opts ...Option) *Server {
	s := &Server{
		loop:    l,
		baseCtx: baseCtx,
		metrics: observe.DefaultMetrics(),
		now:     time.Now,
		ping:    20 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register adds the viewer routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("POST /api/start", s.handleStart)
	mux.HandleFunc("POST /api/stop", s.handleStop)
	mux.HandleFunc("POST /api/notice/dismiss", s.handleDismiss)
	mux.HandleFunc("GET /api/sessions", s.handleSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleSession)
	mux.HandleFunc("GET /api/stream", s.handleStream)
	if s.frames != nil {
		mux.HandleFunc("POST /api/frame", s.handleFrame)
	}
}

// Snapshot assembles the current [StateResponse].
func (s *Server) Snapshot() StateResponse {
	return StateResponse{
		Loop:     s.loop.Status(),
		Bubbles:  s.loop.Presenter().Visible(),
		Pending:  s.loop.Presenter().Pending(),
		Sessions: s.loop.Ledger().History(),
	}
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (s *Server) handleStart(w http.ResponseWriter, _ *http.Request) {
	err := s.loop.Start(s.baseCtx)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, s.Snapshot())
	case errors.Is(err, loop.ErrBudgetExhausted):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Code: string(loop.StateLimitReached)})
	case errors.Is(err, loop.ErrNoSource):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Code: "no_source"})
	default:
		slog.Error("start loop", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.loop.Stop()
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (s *Server) handleDismiss(w http.ResponseWriter, _ *http.Request) {
	s.loop.DismissNotice()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.loop.Ledger().History())
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "session id must be an integer"})
		return
	}
	for _, rec := range s.loop.Ledger().History() {
		if rec.ID == id {
			writeJSON(w, http.StatusOK, rec)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, errorResponse{Error: "no such session"})
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxFrameBytes))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "frame too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	f, err := frame.Decode(data, s.now())
	if err != nil {
		writeJSON(w, http.StatusUnsupportedMediaType, errorResponse{Error: err.Error()})
		return
	}
	s.frames.Publish(f)
	w.WriteHeader(http.StatusAccepted)
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write json response", "err", err)
	}
}
