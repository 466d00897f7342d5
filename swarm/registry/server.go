package registry

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"peerchat/datamodel/peer"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	log "github.com/sirupsen/logrus"
)

type registerRequest struct {
	Username string `json:"username"`
	Port     int    `json:"port"`
}

type keepAliveRequest struct {
	Username string `json:"username"`
}

type blockRequest struct {
	Blocker string `json:"blocker"`
	Blockee string `json:"blockee"`
}

type statusResponse struct {
	Success bool `json:"success"`
	Unknown bool `json:"unknown,omitempty"` // Heartbeat for a peer that must register again
}

// Server exposes a Registry over HTTP.
type Server struct {
	registry *Registry
	listener net.Listener
	mux      *http.ServeMux
}

func NewServer(registry *Registry, listener net.Listener) *Server {
	srv := &Server{
		registry: registry,
		listener: listener,
		mux:      http.NewServeMux(),
	}

	srv.mux.HandleFunc("POST /register", srv.handleRegister)
	srv.mux.HandleFunc("POST /keep_alive", srv.handleKeepAlive)
	srv.mux.HandleFunc("GET /users", srv.handleUsers)
	srv.mux.HandleFunc("POST /block", srv.handleBlock)
	srv.mux.Handle("GET /metrics", promhttp.HandlerFor(registry.metrics.Registry, promhttp.HandlerOpts{}))

	return srv
}

func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

// Serve runs the HTTP server until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	hs := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Infof("registry: context cancelled, shutting down listener %s", s.listener.Addr())
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hs.Shutdown(sctx); err != nil {
			log.Warnf("registry: shutdown error: %v", err)
		}
	}()

	log.Infof("registry: listening on %s", s.listener.Addr())
	err := hs.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return ctx.Err()
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debugf("registry: failed to write response: %v", err)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 64*1024)
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, statusResponse{Success: false})
		return
	}

	// The address is taken from the connection, only the port is announced
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		log.Errorf("registry: cannot parse remote address %q: %v", r.RemoteAddr, err)
		writeJSON(w, http.StatusBadRequest, statusResponse{Success: false})
		return
	}

	if err := s.registry.Register(req.Username, peer.Address{IP: host, Port: req.Port}); err != nil {
		writeJSON(w, http.StatusBadRequest, statusResponse{Success: false})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Success: true})
}

func (s *Server) handleKeepAlive(w http.ResponseWriter, r *http.Request) {
	var req keepAliveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, statusResponse{Success: false})
		return
	}

	if err := s.registry.Heartbeat(req.Username); err != nil {
		writeJSON(w, http.StatusGone, statusResponse{Success: false, Unknown: true})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Success: true})
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.ListLive())
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	var req blockRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, statusResponse{Success: false})
		return
	}

	if err := s.registry.Block(req.Blocker, req.Blockee); err != nil {
		writeJSON(w, http.StatusBadRequest, statusResponse{Success: false})
		return
	}
	log.Infof("registry: %s is now blocked by %v", req.Blockee, s.registry.BlockedBy(req.Blockee))
	writeJSON(w, http.StatusOK, statusResponse{Success: true})
}
