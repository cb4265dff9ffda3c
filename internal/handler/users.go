package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"guppyrelay/internal/directory"
)

type createUserRequest struct {
	DisplayName string `json:"display_name"`
	PublicKey   []byte `json:"public_key"`
	Email       string `json:"email"`
}

// CreateUser handles POST /users
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	h.Logger.Debug(ctx, "[POST /users] Request received", "remote", r.RemoteAddr)

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Warn(ctx, "[POST /users] ❌ Bad Request", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.Directory.Create(ctx, req.DisplayName, req.PublicKey, req.Email)
	switch {
	case errors.Is(err, directory.ErrInvalidUser):
		h.Logger.Warn(ctx, "[POST /users] ❌ Bad Request", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, directory.ErrDuplicateName):
		h.Logger.Warn(ctx, "[POST /users] ❌ Conflict", "display_name", req.DisplayName)
		writeError(w, http.StatusConflict, "display name already taken")
		return
	case err != nil:
		h.Logger.Error(ctx, "[POST /users] ❌ Directory error", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	h.Logger.Info(ctx, "[POST /users] ✅ Created user", "id", user.ID, "display_name", user.DisplayName)
	writeJSON(w, http.StatusCreated, user)
}

// ListUsers handles GET /users
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	users, err := h.Directory.List(ctx)
	if err != nil {
		h.Logger.Error(ctx, "[GET /users] ❌ Directory error", "error", err)
		writeError(w, http.StatusInternalServerError, "Directory error")
		return
	}

	h.Logger.Debug(ctx, "[GET /users] ✅ Returned users", "count", len(users))
	writeJSON(w, http.StatusOK, users)
}

// GetUserByName handles GET /users/{displayName}
func (h *Handler) GetUserByName(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := mux.Vars(r)["displayName"]

	user, err := h.Directory.FindByName(ctx, name)
	if errors.Is(err, directory.ErrNotFound) {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		h.Logger.Error(ctx, "[GET /users/{displayName}] ❌ Directory error", "display_name", name, "error", err)
		writeError(w, http.StatusInternalServerError, "Directory error")
		return
	}

	writeJSON(w, http.StatusOK, user)
}
