package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/pigeon-chat/pigeon/internal/config"
	"github.com/pigeon-chat/pigeon/internal/database"
	"github.com/pigeon-chat/pigeon/internal/server"
	"github.com/teris-io/shortid"
)

type PigeonApp struct {
	log             *log.Logger
	db              database.Repository
	mux             *http.Server
	cs              *server.ChatServer
	signingKey      []byte
	allowedOrigins  []string
	generateShortId func() (string, error)
}

func NewPigeonApp(mux *http.ServeMux, logger *log.Logger, cs *server.ChatServer, db database.Repository, cfg *config.Config) *PigeonApp {
	s := &PigeonApp{
		log:             logger,
		db:              db,
		cs:              cs,
		signingKey:      cfg.SigningKey,
		allowedOrigins:  cfg.AllowedOrigins,
		generateShortId: shortid.Generate,
	}

	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.Handle("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.Handle("/api/account", s.authMiddleware(s.account))
	mux.Handle("GET /api/contacts", s.authMiddleware(s.listContacts))
	mux.Handle("POST /api/contacts", s.authMiddleware(s.requestContact))
	mux.Handle("PUT /api/contacts", s.authMiddleware(s.respondContact))
	mux.Handle("DELETE /api/contacts", s.authMiddleware(s.removeContact))
	mux.Handle("GET /api/contacts/pending", s.authMiddleware(s.listPendingContacts))
	mux.Handle("GET /api/contacts/search", s.authMiddleware(s.searchUsers))
	mux.Handle("GET /api/chats", s.authMiddleware(s.getChats))
	mux.Handle("POST /api/chats", s.authMiddleware(s.createChat))
	mux.Handle("PUT /api/chats", s.authMiddleware(s.updateChat))
	mux.Handle("DELETE /api/chats", s.authMiddleware(s.deleteChat))
	mux.Handle("GET /api/chats/info", s.authMiddleware(s.getChat))
	mux.Handle("/api/chats/members", s.authMiddleware(s.chatMembers))
	mux.Handle("GET /api/messages", s.authMiddleware(s.getMessages))
	mux.Handle("GET /api/messages/search", s.authMiddleware(s.searchMessages))
	mux.Handle("POST /api/messages", s.authMiddleware(s.postMessage))
	mux.Handle("PUT /api/messages", s.authMiddleware(s.updateMessage))
	mux.Handle("DELETE /api/messages", s.authMiddleware(s.deleteMessage))
	mux.Handle("POST /api/messages/read", s.authMiddleware(s.markMessageRead))
	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
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

func (s *PigeonApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *PigeonApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
