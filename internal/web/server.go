// Package web provides an HTTP status server for the drain-monitor daemon:
// an HTML page, the JSON status, a websocket stream of the same document,
// the operator clear-error command and the Prometheus endpoint.
package web

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/sweeney/drain-monitor/internal/control"
	"github.com/sweeney/drain-monitor/internal/status"
)

// Defaults.
const (
	DefaultPushInterval  = 1 * time.Second
	DefaultPingInterval  = 30 * time.Second
	DefaultCommandWait   = 2 * time.Second
	DefaultWriteDeadline = 5 * time.Second
)

// ClearRequest asks the control loop to clear an error. The loop answers on
// Reply, which must be buffered.
type ClearRequest struct {
	Reply chan ClearResult
}

// ClearResult is the control loop's answer to a ClearRequest.
type ClearResult struct {
	Transition control.Transition
	Cleared    bool
	Err        error
}

// Options configures optional parts of the server.
type Options struct {
	// Metrics is served at /metrics when set.
	Metrics http.Handler
	// Commands carries clear-error requests to the control loop. Without it
	// the endpoint answers 503.
	Commands chan<- ClearRequest
	// AccessLog receives Apache-style access lines when set.
	AccessLog io.Writer
	// OriginPatterns are the extra origins allowed to open /ws.
	OriginPatterns []string

	PushInterval time.Duration
	PingInterval time.Duration
	CommandWait  time.Duration
}

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	opts       Options
}

// New creates a Server that reads state from the given tracker.
func New(addr string, tracker *status.Tracker, opts Options) *Server {
	if opts.PushInterval <= 0 {
		opts.PushInterval = DefaultPushInterval
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.CommandWait <= 0 {
		opts.CommandWait = DefaultCommandWait
	}
	s := &Server{tracker: tracker, opts: opts}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.html", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.json", s.handleJSON).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/clear-error", s.handleClearError).Methods(http.MethodPost)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics).Methods(http.MethodGet)
	}

	var h http.Handler = handlers.RecoveryHandler(handlers.PrintRecoveryStack(true))(r)
	if opts.AccessLog != nil {
		h = handlers.LoggingHandler(opts.AccessLog, h)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the root handler. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if !s.tracker.Snapshot().Ready {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, "starting\n")
		return
	}
	io.WriteString(w, "ok\n")
}

type clearResponse struct {
	Cleared bool   `json:"cleared"`
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Warning string `json:"warning,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleClearError(w http.ResponseWriter, r *http.Request) {
	if s.opts.Commands == nil {
		writeJSON(w, http.StatusServiceUnavailable, clearResponse{Error: "control loop not attached"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.CommandWait)
	defer cancel()

	req := ClearRequest{Reply: make(chan ClearResult, 1)}
	select {
	case s.opts.Commands <- req:
	case <-ctx.Done():
		writeJSON(w, http.StatusServiceUnavailable, clearResponse{Error: "control loop busy"})
		return
	}

	var res ClearResult
	select {
	case res = <-req.Reply:
	case <-ctx.Done():
		writeJSON(w, http.StatusGatewayTimeout, clearResponse{Error: "no reply from control loop"})
		return
	}

	if !res.Cleared {
		writeJSON(w, http.StatusConflict, clearResponse{Error: "not in error state"})
		return
	}
	out := clearResponse{
		Cleared: true,
		From:    res.Transition.From.String(),
		To:      res.Transition.To.String(),
	}
	if res.Err != nil {
		out.Warning = res.Err.Error()
	}
	writeJSON(w, http.StatusOK, out)
}
