// internal/api/api.go
// HTTP surface of the service: the websocket relay endpoint, health and the
// session directory.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/erilali/vossync/internal/authority"
	"github.com/erilali/vossync/internal/hub"
	"github.com/erilali/vossync/internal/logger"
	"github.com/google/uuid"
)

const (
	version           = "1.0.0"
	readHeaderTimeout = 5 * time.Second
)

// StatusReporter is implemented by the network transports.
type StatusReporter interface {
	Status() string
}

// Server serves /ws, /health, /api/sessions and /api/sessions/{id}. Hub, Authority
// and Transport are each optional.
type Server struct {
	Hub       *hub.Hub
	Authority *authority.Authority
	Transport StatusReporter
	Logger    *logger.Logger

	srv *http.Server
}

func NewServer(addr string, h *hub.Hub, auth *authority.Authority, status StatusReporter, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	s := &Server{Hub: h, Authority: auth, Transport: status, Logger: log}
	s.srv = &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: readHeaderTimeout}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	if s.Hub != nil {
		mux.HandleFunc("/ws", s.Hub.ServeWs)
	}
	mux.HandleFunc("GET /health", s.health)
	mux.HandleFunc("GET /api/sessions", s.sessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.session)
	return mux
}

// ListenAndServe blocks until the server stops. It returns nil after Shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve is ListenAndServe on an already bound listener.
func (s *Server) Serve(ln net.Listener) error {
	s.Logger.Infof("Server started at %s", ln.Addr())
	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	health := map[string]interface{}{
		"status":  "ok",
		"version": version,
	}
	if s.Transport != nil {
		health["transport"] = s.Transport.Status()
	}
	if s.Hub != nil {
		health["relay"] = s.Hub.Stats()
	}
	if s.Authority != nil {
		health["authority"] = s.Authority.Stats()
	}
	writeJSON(w, http.StatusOK, health)
}

func (s *Server) sessions(w http.ResponseWriter, _ *http.Request) {
	if s.Authority == nil {
		http.Error(w, "session authority not running", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions":  s.Authority.Sessions(),
		"timestamp": time.Now(),
	})
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) {
	if s.Authority == nil {
		http.Error(w, "session authority not running", http.StatusServiceUnavailable)
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}
	state, err := s.Authority.Snapshot(id)
	if errors.Is(err, authority.ErrUnknownSession) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.Logger.Errorf("Snapshot %s: %v", id, err)
		http.Error(w, "error reading session", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
