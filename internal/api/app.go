package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/eventchat/internal/config"
	"github.com/npezzotti/eventchat/internal/database"
	"github.com/npezzotti/eventchat/internal/server"
)

type EventChatApp struct {
	log            *log.Logger
	db             database.EventChatRepository
	mux            *http.Server
	cs             *server.ChatServer
	signingKey     []byte
	allowedOrigins []string
}

func NewEventChatApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, db database.EventChatRepository, cfg *config.Config) *EventChatApp {
	s := &EventChatApp{
		log:            logger,
		db:             db,
		cs:             cs,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("GET /api/auth/user", s.authMiddleware(s.authUser))
	mux.HandleFunc("GET /api/events/{id}/messages", s.authMiddleware(s.getEventMessages))
	mux.HandleFunc("POST /api/events/{id}/messages", s.authMiddleware(s.postEventMessage))
	mux.HandleFunc("POST /api/events/{id}/messages/{messageId}/react", s.authMiddleware(s.reactToMessage))
	mux.HandleFunc("GET /api/events/{id}/presence", s.authMiddleware(s.getPresence))
	mux.HandleFunc("GET /api/notifications", s.authMiddleware(s.getNotifications))
	mux.HandleFunc("GET /api/notifications/count", s.authMiddleware(s.getUnreadNotificationCount))
	mux.HandleFunc("PATCH /api/notifications/{id}/read", s.authMiddleware(s.markNotificationRead))
	mux.HandleFunc("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *EventChatApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *EventChatApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
