package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-chatsync/internal/chat"
	"github.com/npezzotti/go-chatsync/internal/config"
	"github.com/npezzotti/go-chatsync/internal/server"
	"github.com/rs/zerolog"
)

type GoChatApp struct {
	log            zerolog.Logger
	svc            *chat.Service
	srv            *http.Server
	cs             *server.ChatServer
	signingKey     []byte
	allowedOrigins []string
}

func NewGoChatApp(mux *http.ServeMux, logger zerolog.Logger, cs *server.ChatServer, svc *chat.Service, cfg *config.Config) *GoChatApp {
	s := &GoChatApp{
		log:            logger.With().Str("component", "api").Logger(),
		svc:            svc,
		cs:             cs,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)

	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.Handle("GET /api/auth/session", s.authMiddleware(s.session))
	mux.Handle("POST /api/auth/logout", s.authMiddleware(s.logout))

	mux.Handle("POST /api/conversations", s.authMiddleware(s.createConversation))
	mux.Handle("GET /api/conversations", s.authMiddleware(s.listConversations))
	mux.Handle("GET /api/conversations/{id}", s.authMiddleware(s.getConversation))
	mux.Handle("POST /api/conversations/{id}/participants", s.authMiddleware(s.addParticipant))
	mux.Handle("DELETE /api/conversations/{id}/participants/{userId}", s.authMiddleware(s.removeParticipant))
	mux.Handle("GET /api/conversations/{id}/messages", s.authMiddleware(s.getMessages))
	mux.Handle("PUT /api/conversations/{id}/read", s.authMiddleware(s.markConversationRead))

	mux.Handle("POST /api/messages", s.authMiddleware(s.sendMessage))
	mux.Handle("GET /api/messages/unread", s.authMiddleware(s.unreadCount))
	mux.Handle("PUT /api/messages/{id}", s.authMiddleware(s.editMessage))
	mux.Handle("PUT /api/messages/{id}/read", s.authMiddleware(s.markMessageRead))
	mux.Handle("DELETE /api/messages/{id}", s.authMiddleware(s.deleteMessage))

	mux.Handle("GET /ws", http.HandlerFunc(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)
	h = s.accessLog(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *GoChatApp) Handler() http.Handler {
	return s.srv.Handler
}

func (s *GoChatApp) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("starting server")
	return s.srv.ListenAndServe()
}

func (s *GoChatApp) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
