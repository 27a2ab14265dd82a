package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/llmportal/orchestrator/internal/middleware"
	"github.com/llmportal/orchestrator/internal/model"
	"github.com/llmportal/orchestrator/internal/policy"
)

// AccountService is the provisioning surface used by UserHandler.
type AccountService interface {
	CreateUser(ctx context.Context, targetID string, caller model.Identity, overrides model.AccountOverrides) (*model.Account, error)
	GetUser(ctx context.Context, targetID string) (*model.Account, error)
}

// UserHandler handles HTTP requests for upstream accounts.
type UserHandler struct {
	svc    AccountService
	policy policy.Policy
	logger *slog.Logger
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(svc AccountService, p policy.Policy, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		svc:    svc,
		policy: p,
		logger: logger,
	}
}

// Create handles POST /api/v1/users.
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	var req model.CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}
	if err := middleware.ValidateUserID(req.UserID); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_USER_ID", "userId "+err.Error())
		return
	}

	account, err := h.svc.CreateUser(r.Context(), req.UserID, caller, model.AccountOverrides{
		MaxBudget:      req.MaxBudget,
		BudgetDuration: req.BudgetDuration,
	})
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	h.logger.Info("account_created",
		"user_id", account.AccountID,
		"caller", caller.EntityRef,
	)
	writeJSON(w, http.StatusCreated, account)
}

// Get handles GET /api/v1/users/{userId}. Only the owner or an admin may
// view an account.
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	targetID := middleware.PathParam(r, "userId")
	if !h.policy.CanActOn(caller, targetID) {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "You are not allowed to view this account")
		return
	}

	account, err := h.svc.GetUser(r.Context(), targetID)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}
