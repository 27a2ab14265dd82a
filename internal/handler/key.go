package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/llmportal/orchestrator/internal/middleware"
	"github.com/llmportal/orchestrator/internal/model"
)

// KeyManager is the key lifecycle surface used by KeyHandler.
type KeyManager interface {
	CreateKey(ctx context.Context, targetID string, caller model.Identity) (*model.APIKey, error)
	ListKeys(ctx context.Context, targetID string, caller model.Identity) (*model.KeyList, error)
	DeleteKey(ctx context.Context, targetID, keyID string, caller model.Identity) error
}

// KeyHandler handles HTTP requests for the keys of an account.
type KeyHandler struct {
	svc    KeyManager
	logger *slog.Logger
}

// NewKeyHandler creates a new KeyHandler.
func NewKeyHandler(svc KeyManager, logger *slog.Logger) *KeyHandler {
	return &KeyHandler{
		svc:    svc,
		logger: logger,
	}
}

// Create handles POST /api/v1/users/{userId}/keys.
// The response is the only place the key secret ever appears.
func (h *KeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	key, err := h.svc.CreateKey(r.Context(), middleware.PathParam(r, "userId"), caller)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, key)
}

// List handles GET /api/v1/users/{userId}/keys.
func (h *KeyHandler) List(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	keys, err := h.svc.ListKeys(r.Context(), middleware.PathParam(r, "userId"), caller)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

// Delete handles DELETE /api/v1/users/{userId}/keys/{keyId}.
func (h *KeyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	err := h.svc.DeleteKey(r.Context(), middleware.PathParam(r, "userId"), middleware.PathParam(r, "keyId"), caller)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
