package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/corridor-matching/internal/auth"
	"github.com/example/corridor-matching/internal/config"
	"github.com/example/corridor-matching/internal/engine"
	"github.com/example/corridor-matching/internal/match"
	"github.com/example/corridor-matching/internal/models"
	"github.com/example/corridor-matching/internal/presence"
	"github.com/example/corridor-matching/internal/session"
)

// Server exposes the REST control surface and the live-channel handshake.
// REST mutations run through the same presence store paths as live-channel
// events, so validation and authorization rules are identical.
type Server struct {
	Store    *presence.Store
	Match    *match.Service
	Registry *session.Registry
	Engine   *engine.Engine
	Verifier auth.Verifier

	cfg    config.ServerConfig
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(cfg config.ServerConfig, logger *slog.Logger, store *presence.Store, matchSvc *match.Service, reg *session.Registry, eng *engine.Engine, verifier auth.Verifier) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		Store:    store,
		Match:    matchSvc,
		Registry: reg,
		Engine:   eng,
		Verifier: verifier,
		cfg:      cfg,
		logger:   logger,
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.Handle("/drivers/status", s.requireRole(models.RoleDriver, s.handleDriverStatus)).Methods("PUT")
	api.Handle("/drivers/nearby", s.requireRole(models.RoleDriver, s.handleNearbyPassengers)).Methods("GET")
	api.Handle("/drivers/active", s.requireAuth(s.handleActiveDrivers)).Methods("GET")
	api.Handle("/passengers/waiting", s.requireRole(models.RolePassenger, s.handleMarkWaiting)).Methods("POST")
	api.Handle("/passengers/waiting", s.requireRole(models.RolePassenger, s.handleCancelWaiting)).Methods("DELETE")
	api.Handle("/passengers/waiting", s.requireAuth(s.handleWaitingPassengers)).Methods("GET")

	s.mux.HandleFunc("/ws", s.handleWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS upgrades the live channel. A credential presented at handshake
// time is verified before the upgrade; an invalid one refuses the handshake.
// Without one the connection starts unauthenticated and must send an
// authenticate event.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	var ident *auth.Identity
	if token := bearerToken(r); token != "" {
		id, err := s.Verifier.Verify(token)
		if err != nil {
			http.Error(w, "authentication error: invalid token", http.StatusUnauthorized)
			return
		}
		ident = &id
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return // Upgrade already wrote the response
	}
	s.Engine.HandleConnection(conn, ident)
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
