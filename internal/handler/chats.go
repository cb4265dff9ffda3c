package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"guppyrelay/internal/directory"
	"guppyrelay/internal/model"
	"guppyrelay/internal/router"
	"guppyrelay/internal/store"
)

type sendRequest struct {
	SenderID    string `json:"sender_id"`
	RecipientID string `json:"recipient_id"`
	Ciphertext  []byte `json:"ciphertext"`
}

type sendResponse struct {
	Status      string        `json:"status"`
	MessageID   int64         `json:"message_id"`
	FanoutCount int           `json:"fanout_count"`
	Message     model.Message `json:"message"`
}

// SendMessage handles POST /chats
// WebSocketを使えないクライアント向け。WSと同じ Router.Route を通る
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Warn(ctx, "[POST /chats] ❌ Bad Request", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.SenderID != "" {
		if _, err := h.Directory.FindByID(ctx, req.SenderID); err != nil {
			if errors.Is(err, directory.ErrNotFound) {
				writeError(w, http.StatusNotFound, "Sender not found")
				return
			}
			h.Logger.Error(ctx, "[POST /chats] ❌ Directory error", "error", err)
			writeError(w, http.StatusInternalServerError, "Directory error")
			return
		}
	}

	out, err := h.Router.Route(ctx, model.Envelope{
		SenderID:    req.SenderID,
		RecipientID: req.RecipientID,
		Ciphertext:  req.Ciphertext,
	})
	if err != nil {
		if errors.Is(err, router.ErrInvalidEnvelope) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.Logger.Error(ctx, "[POST /chats] ❌ Rejected", "sender_id", req.SenderID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "Message could not be stored")
		return
	}

	h.Logger.Info(ctx, "[POST /chats] ✅ Delivered",
		"message_id", out.MessageID, "recipient_id", req.RecipientID, "fanout", out.FanoutCount)
	writeJSON(w, http.StatusCreated, sendResponse{
		Status:      out.Status.String(),
		MessageID:   out.MessageID,
		FanoutCount: out.FanoutCount,
		Message:     out.Message,
	})
}

// GetChats handles GET /chats/{userId}
func (h *Handler) GetChats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := mux.Vars(r)["userId"]

	msgs, err := h.Store.FindByParticipant(ctx, userID)
	if err != nil {
		h.writeStoreError(w, r, "[GET /chats/{userId}]", err)
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}

	writeJSON(w, http.StatusOK, msgs)
}

// GetConversation handles GET /chats/{userId}/conversation/{otherId}
func (h *Handler) GetConversation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)
	userID, otherID := vars["userId"], vars["otherId"]

	msgs, err := h.Store.FindByParticipant(ctx, userID)
	if err != nil {
		h.writeStoreError(w, r, "[GET /chats/{userId}/conversation/{otherId}]", err)
		return
	}

	// 並び順はストアのまま (timestamp, id)
	conv := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Between(userID, otherID) {
			conv = append(conv, m)
		}
	}

	writeJSON(w, http.StatusOK, conv)
}

func (h *Handler) writeStoreError(w http.ResponseWriter, r *http.Request, route string, err error) {
	h.Logger.Error(r.Context(), route+" ❌ Store error", "error", err)
	if errors.Is(err, store.ErrStorageFailure) {
		writeError(w, http.StatusServiceUnavailable, "Storage unavailable")
		return
	}
	writeError(w, http.StatusInternalServerError, "Store error")
}
