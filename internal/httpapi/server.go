// Package httpapi exposes the client's local ops endpoint: prometheus
// metrics, health and readiness, and read-only debug views of the live
// session and offer board.
package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-client/internal/conn"
	"github.com/example/ride-client/internal/models"
	"github.com/example/ride-client/internal/ride"
)

// ConnStater reports the transport state for readiness checks.
type ConnStater interface {
	State() conn.State
}

// SessionViewer is the read side of a rider session.
type SessionViewer interface {
	Snapshot() ride.Snapshot
}

// OfferViewer is the read side of a driver's offer board.
type OfferViewer interface {
	Offers() []models.RideOffer
}

// Geocoder resolves free-text addresses for the lookup route.
type Geocoder interface {
	Resolve(ctx context.Context, query string) (*models.ResolvedAddress, error)
}

type Server struct {
	Conn     ConnStater
	Session  SessionViewer // nil when running in driver role
	Board    OfferViewer   // nil when running in rider role
	Geocoder Geocoder

	mux    *mux.Router
	logger *slog.Logger
}

func NewServer(cs ConnStater, session SessionViewer, board OfferViewer, geo Geocoder, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{Conn: cs, Session: session, Board: board, Geocoder: geo, mux: mux.NewRouter(), logger: logger}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.HandleFunc("/ready", s.handleReady).Methods("GET")
	s.mux.HandleFunc("/debug/session", s.handleSession).Methods("GET")
	s.mux.HandleFunc("/debug/offers", s.handleOffers).Methods("GET")
	s.mux.HandleFunc("/debug/geocode", s.handleGeocode).Methods("GET")
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.Conn == nil || s.Conn.State() != conn.Connected {
		http.Error(w, "transport not connected", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if s.Session == nil {
		http.Error(w, "no rider session", http.StatusNotFound)
		return
	}
	snap := s.Session.Snapshot()
	writeJSON(w, map[string]any{
		"status":          snap.Status,
		"ride":            snap.Ride,
		"quote":           snap.Quote,
		"driver_location": snap.DriverLocation,
	})
}

func (s *Server) handleOffers(w http.ResponseWriter, r *http.Request) {
	if s.Board == nil {
		http.Error(w, "no offer board", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{"offers": s.Board.Offers()})
}

func (s *Server) handleGeocode(w http.ResponseWriter, r *http.Request) {
	if s.Geocoder == nil {
		http.Error(w, "geocoding not configured", http.StatusNotFound)
		return
	}
	q := r.URL.Query().Get("q")
	if q == "" {
		http.Error(w, "missing q parameter", http.StatusBadRequest)
		return
	}
	addr, err := s.Geocoder.Resolve(r.Context(), q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if addr == nil {
		http.Error(w, "no match", http.StatusNotFound)
		return
	}
	writeJSON(w, addr)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func newID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b)
}
