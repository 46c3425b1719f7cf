// Package api exposes the daemon over a local HTTP JSON API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/solchat-dev/solchat/internal/config"
	"github.com/solchat-dev/solchat/internal/conversation"
	"github.com/solchat-dev/solchat/internal/status"
	"github.com/solchat-dev/solchat/internal/store"
	"github.com/solchat-dev/solchat/internal/syncer"
	"github.com/solchat-dev/solchat/internal/syncindex"
	"go.uber.org/zap"
)

// SyncControl is the slice of the synchronizer the API drives.
type SyncControl interface {
	Sync(ctx context.Context) *syncer.Result
	State() syncer.State
	Stats() syncindex.Stats
	ClearCache() error
}

// Queuer enqueues an outgoing message.
type Queuer interface {
	Queue(to, content string) (string, error)
}

// Server serves the local HTTP API.
type Server struct {
	wallet  string
	db      *store.DB
	manager *conversation.Manager
	sender  Queuer
	sync    SyncControl
	machine *status.Machine
	logger  *zap.Logger
	cfg     config.API

	httpSrv  *http.Server
	listener net.Listener
}

// New creates the API server. sync and sender may be nil when content
// store credentials are not configured; the local endpoints still work.
func New(wallet string, db *store.DB, manager *conversation.Manager, sender Queuer, sync SyncControl, machine *status.Machine, cfg config.API, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		wallet:  wallet,
		db:      db,
		manager: manager,
		sender:  sender,
		sync:    sync,
		machine: machine,
		logger:  logger,
		cfg:     cfg,
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter().StrictSlash(true)
	v1 := r.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/status", s.handleStatus).Methods("GET")
	v1.HandleFunc("/sync", s.handleSync).Methods("POST")
	v1.HandleFunc("/sync/cache", s.handleClearCache).Methods("DELETE")

	v1.HandleFunc("/conversations", s.handleConversations).Methods("GET")
	v1.HandleFunc("/conversations/{contact}", s.handleConversation).Methods("GET")
	v1.HandleFunc("/conversations/{contact}/read", s.handleMarkRead).Methods("POST")
	v1.HandleFunc("/unread", s.handleUnread).Methods("GET")

	v1.HandleFunc("/messages", s.handleSendMessage).Methods("POST")
	v1.HandleFunc("/search", s.handleSearch).Methods("GET")

	v1.HandleFunc("/contacts", s.handleListContacts).Methods("GET")
	v1.HandleFunc("/contacts", s.handleUpsertContact).Methods("POST")
	v1.HandleFunc("/contacts/{address}", s.handleDeleteContact).Methods("DELETE")

	return r
}

// Start binds the configured listen address and begins serving.
func (s *Server) Start() error {
	handler := cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE"},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(s.Router())

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.ListenAddr, err)
	}
	s.listener = ln

	s.httpSrv = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", zap.Error(err))
		}
	}()
	s.logger.Info("api listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound listen address, empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}
