package statusserver

import (
	"encoding/json"
	"net"
	"net/http"

	"github.com/op/go-logging"
)

// Snapshotter is implemented by a running node to report its current
// status on demand.
type Snapshotter interface {
	Snapshot() Status
}

// Server answers /status and /ping over HTTP.
type Server struct {
	snap Snapshotter
	log  *logging.Logger
}

// New builds a Server backed by snap.
func New(snap Snapshotter, log *logging.Logger) *Server {
	return &Server{snap: snap, log: log}
}

// Serve registers the server's handlers on a fresh ServeMux and blocks
// serving listener, in the same shape as the daemon's HandleControlHTTP.
func (s *Server) Serve(listener net.Listener) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/ping", s.handlePing)
	return http.Serve(listener, mux)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.snap.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.log.Error("encoding status response:", err)
	}
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
