// Package status serves the HTTP introspection surface: a JSON snapshot
// of the stack and the prometheus metrics endpoint.
package status

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"roadway/internal/logging"
	"roadway/internal/metrics"
)

// PeerInfo is one remote's row in the snapshot.
type PeerInfo struct {
	ID       uint32 `json:"id"`
	Addr     string `json:"addr"`
	Accepted bool   `json:"accepted"`
	Endowed  bool   `json:"endowed"`
}

// Snapshot is what the service loop publishes after each cycle.
type Snapshot struct {
	Name         string     `json:"name"`
	UID          string     `json:"uid"`
	LocalID      uint32     `json:"local_id"`
	Addr         string     `json:"addr"`
	Accepted     bool       `json:"accepted"`
	Transactions int        `json:"transactions"`
	Peers        []PeerInfo `json:"peers"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Server exposes the snapshot over HTTP. The snapshot is written by the
// service loop and read by handler goroutines, so it sits behind a lock.
type Server struct {
	httpServer *http.Server

	mu   sync.RWMutex
	snap Snapshot
}

func NewServer(addr string) *Server {
	s := &Server{}
	r := mux.NewRouter()
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves in the background until Stop.
func (s *Server) Start() {
	log := logging.WithComponent("status")
	go func() {
		log.Info().Str("addr", s.httpServer.Addr).Msg("status server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("status server stopped")
		}
	}()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Update publishes a fresh snapshot.
func (s *Server) Update(snap Snapshot) {
	snap.UpdatedAt = time.Now().UTC()
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	snap := s.snap
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
