// Package web provides an HTTP status server for the solenoid controller
// daemon, with a websocket feed for live updates.
package web

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sweeney/solenoid-controller/internal/status"
)

// DefaultWSInterval is how often websocket clients receive a status frame.
const DefaultWSInterval = 250 * time.Millisecond

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	wsInterval time.Duration

	done     chan struct{}
	doneOnce sync.Once
}

// New creates a Server that reads state from the given tracker. A
// non-positive wsInterval selects DefaultWSInterval.
func New(addr string, tracker *status.Tracker, wsInterval time.Duration) *Server {
	if wsInterval <= 0 {
		wsInterval = DefaultWSInterval
	}
	s := &Server{
		tracker:    tracker,
		wsInterval: wsInterval,
		done:       make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/ws", s.handleWS)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler. Useful for tests.
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

// Shutdown gracefully shuts down the server and closes websocket streams.
func (s *Server) Shutdown(ctx context.Context) error {
	s.doneOnce.Do(func() { close(s.done) })
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}
