// Package api exposes a bridge session over HTTP and streams its events to
// websocket clients.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/huesync/internal/eventbus"
	"github.com/dokzlo13/huesync/internal/hue"
	"github.com/dokzlo13/huesync/internal/ledger"
)

// SessionSource yields the active bridge session.
type SessionSource interface {
	Session() (*hue.Session, error)
}

// EventSource reads recorded events.
type EventSource interface {
	Recent(limit int) ([]*ledger.Entry, error)
	GetByType(eventType string, limit int) ([]*ledger.Entry, error)
}

// Server is the REST and websocket server.
type Server struct {
	addr     string
	sessions SessionSource
	events   EventSource
	router   *mux.Router
	hub      *Hub
}

const apiPrefix = "/api"

// NewServer creates a server. events may be nil, which disables GET /api/events.
func NewServer(host string, port int, sessions SessionSource, events EventSource) *Server {
	s := &Server{
		addr:     fmt.Sprintf("%s:%d", host, port),
		sessions: sessions,
		events:   events,
		router:   mux.NewRouter(),
		hub:      NewHub(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes registers full paths on the root router. Routes on a
// PathPrefix subrouter answer 404 instead of 405 on a method mismatch.
func (s *Server) setupRoutes() {
	api := s.router
	api.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
	})
	api.HandleFunc(apiPrefix+"/status", s.handleStatus).Methods("GET")

	api.HandleFunc(apiPrefix+"/lights", s.handleListLights).Methods("GET")
	api.HandleFunc(apiPrefix+"/lights/{id}", s.handleGetLight).Methods("GET")
	api.HandleFunc(apiPrefix+"/lights/{id}", s.handleDeleteLight).Methods("DELETE")
	api.HandleFunc(apiPrefix+"/lights/{id}/state", s.handleSetLightState).Methods("PUT")
	api.HandleFunc(apiPrefix+"/lights/{id}/name", s.handleRenameLight).Methods("PUT")
	api.HandleFunc(apiPrefix+"/lights/{id}/toggle", s.handleToggleLight).Methods("POST")
	api.HandleFunc(apiPrefix+"/lights/{id}/ramps/{kind}", s.handleStartRamp).Methods("POST")
	api.HandleFunc(apiPrefix+"/lights/{id}/ramps/{kind}", s.handleStopRamp).Methods("DELETE")

	api.HandleFunc(apiPrefix+"/groups", s.handleListGroups).Methods("GET")
	api.HandleFunc(apiPrefix+"/groups/{id}/name", s.handleRenameGroup).Methods("PUT")

	api.HandleFunc(apiPrefix+"/scenes", s.handleListScenes).Methods("GET")
	api.HandleFunc(apiPrefix+"/scenes", s.handleCreateScene).Methods("POST")
	api.HandleFunc(apiPrefix+"/scenes/{id}", s.handleUpdateScene).Methods("PUT")
	api.HandleFunc(apiPrefix+"/scenes/{id}", s.handleDeleteScene).Methods("DELETE")
	api.HandleFunc(apiPrefix+"/scenes/{id}/name", s.handleRenameScene).Methods("PUT")
	api.HandleFunc(apiPrefix+"/scenes/{id}/activate", s.handleActivateScene).Methods("POST")

	api.HandleFunc(apiPrefix+"/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc(apiPrefix+"/refresh", s.handleRefresh).Methods("POST")
	api.HandleFunc(apiPrefix+"/update/check", s.handleUpdateCheck).Methods("POST")
	api.HandleFunc(apiPrefix+"/update/apply", s.handleUpdateApply).Methods("POST")
	api.HandleFunc(apiPrefix+"/search", s.handleSearch).Methods("POST")
	api.HandleFunc(apiPrefix+"/events", s.handleEvents).Methods("GET")
	api.HandleFunc(apiPrefix+"/ws", s.handleWebSocket)
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// HandleEvent is an eventbus.Handler forwarding events to websocket clients.
func (s *Server) HandleEvent(event eventbus.Event) {
	s.hub.Broadcast(newEventMessage(event))
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	go s.hub.Run(ctx)

	server := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("API server shutdown error")
		}
	}()

	log.Info().Str("addr", s.addr).Msg("Starting API server")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
