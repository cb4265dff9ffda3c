package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"guppyrelay/internal/config"
	"guppyrelay/internal/logging"
	"guppyrelay/internal/model"
	"guppyrelay/internal/registry"
	"guppyrelay/internal/router"
	"guppyrelay/internal/store"
)

// maxBodyBytes はREST書き込みリクエストのボディ上限 (1MB)
const maxBodyBytes = 1 << 20

// Directory is the user lookup the handlers need.
type Directory interface {
	Create(ctx context.Context, displayName string, publicKey []byte, email string) (model.User, error)
	FindByName(ctx context.Context, displayName string) (model.User, error)
	FindByID(ctx context.Context, id string) (model.User, error)
	List(ctx context.Context) ([]model.User, error)
}

// Handler holds application dependencies
type Handler struct {
	Config    config.Config
	Logger    logging.Logger
	Store     store.MessageStore
	Directory Directory
	Registry  *registry.Registry
	Router    *router.Router

	sessions *sessionSet
}

// New creates a new Handler with the given dependencies. The registry and
// the delivery router are built here so every session shares them.
func New(cfg config.Config, logger logging.Logger, st store.MessageStore, dir Directory, opts ...router.Option) *Handler {
	reg := registry.New()
	opts = append([]router.Option{router.WithLogger(logger.With("component", "router"))}, opts...)

	return &Handler{
		Config:    cfg,
		Logger:    logger,
		Store:     st,
		Directory: dir,
		Registry:  reg,
		Router:    router.New(st, reg, opts...),
		sessions:  newSessionSet(),
	}
}

// SetupRouter configures and returns the HTTP router
func (h *Handler) SetupRouter() *mux.Router {
	r := mux.NewRouter()

	// ユーザーディレクトリ
	r.HandleFunc("/users", h.ListUsers).Methods("GET")
	r.HandleFunc("/users", h.CreateUser).Methods("POST")
	r.HandleFunc("/users/{displayName}", h.GetUserByName).Methods("GET")

	// 履歴とREST送信
	r.HandleFunc("/chats", h.SendMessage).Methods("POST")
	r.HandleFunc("/chats/{userId}", h.GetChats).Methods("GET")
	r.HandleFunc("/chats/{userId}/conversation/{otherId}", h.GetConversation).Methods("GET")

	// WebSocket
	r.HandleFunc("/ws", h.HandleWebSocket).Methods("GET")

	r.HandleFunc("/healthz", h.Healthz).Methods("GET")
	r.HandleFunc("/stats", h.Stats).Methods("GET")

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
