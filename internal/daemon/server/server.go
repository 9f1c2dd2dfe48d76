// Package server provides the HTTP API of the layoutsync daemon.
package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/grovetools/layoutsync/address"
	"github.com/grovetools/layoutsync/config"
	"github.com/grovetools/layoutsync/errors"
	"github.com/grovetools/layoutsync/internal/daemon/engine"
	"github.com/grovetools/layoutsync/layout"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// MaxWait caps the wait parameter of /api/areas.
const MaxWait = 5 * time.Minute

// RunningConfig is exposed via /api/config so clients can see what the daemon
// is actually running with.
type RunningConfig struct {
	Config    *config.Config `json:"config"`
	Sources   []string       `json:"sources"`
	Socket    string         `json:"socket"`
	StartedAt time.Time      `json:"started_at"`
}

// EventRequest is the body of POST /api/events.
type EventRequest struct {
	Sender address.Address         `json:"sender"`
	Event  layout.AreaChangedEvent `json:"event"`
}

// Server manages the daemon's HTTP server over a Unix socket.
type Server struct {
	logger        *logrus.Entry
	server        *http.Server
	engine        *engine.Engine
	runningConfig *RunningConfig
	gatherer      prometheus.Gatherer
	streamBuffer  int
}

// New creates a new Server instance.
func New(logger *logrus.Entry) *Server {
	return &Server{
		logger:       logger,
		streamBuffer: config.DefaultStreamBuffer,
	}
}

// SetEngine sets the engine the API serves.
func (s *Server) SetEngine(eng *engine.Engine) {
	s.engine = eng
	if eng != nil && eng.Config().Daemon.StreamBuffer > 0 {
		s.streamBuffer = eng.Config().Daemon.StreamBuffer
	}
}

// SetRunningConfig sets the running configuration for the server.
func (s *Server) SetRunningConfig(cfg *RunningConfig) {
	s.runningConfig = cfg
}

// SetGatherer enables /metrics.
func (s *Server) SetGatherer(g prometheus.Gatherer) {
	s.gatherer = g
}

// Handler builds the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/state", s.handleGetState)
	mux.HandleFunc("/api/areas", s.handleGetArea)
	mux.HandleFunc("/api/events", s.handlePostEvent)
	mux.HandleFunc("/api/stream", s.handleStream)
	mux.HandleFunc("/api/activities", s.handleGetActivities)
	mux.HandleFunc("/api/config", s.handleGetConfig)
	mux.HandleFunc("/ws", s.handleWebsocket)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// ListenAndServe starts the daemon on the given unix socket path.
// It blocks until the server stops or fails.
func (s *Server) ListenAndServe(socketPath string) error {
	if _, err := os.Stat(socketPath); err == nil {
		if err := os.Remove(socketPath); err != nil {
			return fmt.Errorf("failed to remove stale socket: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(socketPath), 0755); err != nil {
		return fmt.Errorf("failed to create socket directory: %w", err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}

	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.server = &http.Server{
		Handler: h2c.NewHandler(s.Handler(), &http2.Server{}),
	}

	s.logger.WithField("socket", socketPath).Info("Daemon listening")
	return s.server.Serve(listener)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) ready(w http.ResponseWriter) bool {
	if s.engine == nil {
		http.Error(w, "engine not initialized", http.StatusServiceUnavailable)
		return false
	}
	return true
}

// handleGetState returns the layout client's slots.
func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w) {
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Plugin().Snapshot())
}

// handleGetArea answers a get request. Exactly one of id, address or parent
// selects the control; parent requires area. wait holds the request until the
// area is populated or the wait elapses.
func (s *Server) handleGetArea(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w) {
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sel, err := selectorFromQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var wait time.Duration
	if raw := r.URL.Query().Get("wait"); raw != "" {
		wait, err = time.ParseDuration(raw)
		if err != nil || wait < 0 {
			writeError(w, errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("invalid wait %q", raw)))
			return
		}
		if wait > MaxWait {
			wait = MaxWait
		}
	}

	evt, err := s.engine.Get(r.Context(), sel, wait)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, layout.GetResponse{Event: evt})
}

func selectorFromQuery(r *http.Request) (layout.Selector, error) {
	q := r.URL.Query()
	id, addr, parent, area := q.Get("id"), q.Get("address"), q.Get("parent"), q.Get("area")

	set := 0
	for _, v := range []string{id, addr, parent} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return nil, errors.New(errors.ErrCodeInvalidInput, "exactly one of id, address or parent is required")
	}

	switch {
	case id != "":
		return layout.ByControlID(id), nil
	case addr != "":
		a, err := address.Parse(addr)
		if err != nil {
			return nil, err
		}
		return layout.ByControlAddress(a), nil
	default:
		p, err := address.Parse(parent)
		if err != nil {
			return nil, err
		}
		if area == "" {
			return nil, errors.New(errors.ErrCodeInvalidInput, "area is required with parent")
		}
		return layout.ByArea(p, area), nil
	}
}

// handlePostEvent posts an area changed event from the given sender.
func (s *Server) handlePostEvent(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w) {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid request body"))
		return
	}
	if _, err := address.Parse(string(req.Sender)); err != nil {
		writeError(w, err)
		return
	}
	if err := s.engine.PostEvent(req.Sender, req.Event); err != nil {
		writeError(w, err)
		return
	}

	s.logger.WithFields(logrus.Fields{"sender": req.Sender, "area": req.Event.Area}).Debug("Event posted")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// handleGetActivities returns tracked activities, newest first.
func (s *Server) handleGetActivities(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w) {
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Activities())
}

// handleGetConfig returns the running configuration as JSON.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.runningConfig == nil {
		http.Error(w, "config not initialized", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.runningConfig)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err as a coded JSON error.
func writeError(w http.ResponseWriter, err error) {
	var le *errors.LayoutError
	if !stderrors.As(err, &le) {
		le = errors.Wrap(err, errors.ErrCodeInternal, err.Error())
	}
	writeJSON(w, StatusFor(err), le)
}

// StatusFor maps an error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case stderrors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	switch errors.GetCode(err) {
	case errors.ErrCodeInvalidInput, errors.ErrCodeInvalidAddress, errors.ErrCodeNotSupported:
		return http.StatusBadRequest
	case errors.ErrCodeHubUnavailable, errors.ErrCodeDaemonNotRunning:
		return http.StatusServiceUnavailable
	case errors.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
