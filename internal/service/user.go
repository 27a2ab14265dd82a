package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/llmportal/orchestrator/internal/litellm"
	"github.com/llmportal/orchestrator/internal/metrics"
	"github.com/llmportal/orchestrator/internal/model"
	"github.com/llmportal/orchestrator/internal/policy"
)

// AccountClient is the part of the upstream client used for accounts.
type AccountClient interface {
	GetUserInfo(ctx context.Context, userID string) (*litellm.Result[litellm.UserInfoResponse], error)
	NewUser(ctx context.Context, body litellm.NewUserRequest) (*litellm.Result[litellm.NewUserResponse], error)
}

// UserDefaults are the budget settings applied when no override is given.
type UserDefaults struct {
	MaxBudget      float64
	BudgetDuration string
}

// UserService provisions upstream accounts for portal identities.
type UserService struct {
	client   AccountClient
	policy   policy.Policy
	defaults UserDefaults
	metrics  metrics.Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewUserService creates a new UserService.
func NewUserService(client AccountClient, p policy.Policy, defaults UserDefaults, recorder metrics.Recorder, logger *slog.Logger) *UserService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &UserService{
		client:   client,
		policy:   p,
		defaults: defaults,
		metrics:  recorder,
		logger:   logger.With("component", "user_service"),
		now:      time.Now,
	}
}

// EnsureExistsAndAuthorized gates the caller on plugin access and creates
// their account on first use. Losing a creation race to a concurrent
// request counts as success.
func (s *UserService) EnsureExistsAndAuthorized(ctx context.Context, caller model.Identity) error {
	if strings.TrimSpace(caller.EntityRef) == "" {
		return ErrUnauthenticated
	}
	if !s.policy.CanUsePlugin(caller) {
		return fmt.Errorf("%w: %s may not use this service", ErrNotAllowed, caller.EntityRef)
	}

	_, err := s.GetUser(ctx, caller.EntityRef)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}

	_, err = s.createAccount(ctx, caller.EntityRef, model.AccountOverrides{})
	switch {
	case err == nil:
		s.metrics.IncAccountProvisioned(metrics.SourceLazy)
		s.logger.Info("account created lazily", "user_id", caller.EntityRef)
		return nil
	case errors.Is(err, ErrConflict):
		s.logger.Debug("account already created by a concurrent request", "user_id", caller.EntityRef)
		return nil
	default:
		s.logger.Warn("lazy account creation failed", "user_id", caller.EntityRef, "error", err)
		return err
	}
}

// CreateUser explicitly creates the account for targetID.
// Only admins may override the budget defaults.
func (s *UserService) CreateUser(ctx context.Context, targetID string, caller model.Identity, overrides model.AccountOverrides) (*model.Account, error) {
	if strings.TrimSpace(targetID) == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrInvalidInput)
	}
	if !s.policy.CanActOn(caller, targetID) {
		return nil, fmt.Errorf("%w: cannot create account %s", ErrNotAllowed, targetID)
	}
	if !s.policy.IsAdmin(caller) {
		if overrides.MaxBudget != nil {
			return nil, fmt.Errorf("%w: only admins may override the max budget", ErrNotAllowed)
		}
		if overrides.BudgetDuration != nil {
			return nil, fmt.Errorf("%w: only admins may override the budget duration", ErrNotAllowed)
		}
	}

	if _, err := s.GetUser(ctx, targetID); err == nil {
		return nil, fmt.Errorf("%w: account %s", ErrConflict, targetID)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	account, err := s.createAccount(ctx, targetID, overrides)
	if err != nil {
		return nil, err
	}
	s.metrics.IncAccountProvisioned(metrics.SourceExplicit)
	s.logger.Info("account created", "user_id", targetID, "by", caller.EntityRef)
	return account, nil
}

// GetUser fetches the account for targetID. Callers gate access themselves.
func (s *UserService) GetUser(ctx context.Context, targetID string) (*model.Account, error) {
	res, err := s.client.GetUserInfo(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("%w: get account %s: %v", ErrInternal, targetID, err)
	}
	if res.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: account %s", ErrNotFound, targetID)
	}
	if !res.OK() {
		return nil, fmt.Errorf("%w: get account %s: response status %d", ErrInternal, targetID, res.StatusCode)
	}

	// The upstream answers unknown ids with a populated body; only a
	// nested user id proves the account exists.
	info := res.Data.UserInfo
	if info == nil || info.UserID == nil || *info.UserID == "" {
		return nil, fmt.Errorf("%w: account %s", ErrNotFound, targetID)
	}

	return &model.Account{
		AccountID:      *info.UserID,
		CreatedAt:      s.now().UTC(),
		MaxBudget:      deref(info.MaxBudget),
		BudgetDuration: deref(info.BudgetDuration),
		Spend:          deref(info.Spend),
	}, nil
}

func (s *UserService) createAccount(ctx context.Context, targetID string, overrides model.AccountOverrides) (*model.Account, error) {
	body := litellm.NewUserRequest{
		UserID:         targetID,
		MaxBudget:      s.defaults.MaxBudget,
		BudgetDuration: s.defaults.BudgetDuration,
		AutoCreateKey:  false,
	}
	if overrides.MaxBudget != nil {
		body.MaxBudget = *overrides.MaxBudget
	}
	if overrides.BudgetDuration != nil {
		body.BudgetDuration = *overrides.BudgetDuration
	}

	res, err := s.client.NewUser(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("%w: create account %s: %v", ErrInternal, targetID, err)
	}
	if isConflict(res.StatusCode, res.ErrorBody) {
		return nil, fmt.Errorf("%w: account %s", ErrConflict, targetID)
	}
	if !res.OK() {
		return nil, fmt.Errorf("%w: create account %s: response status %d", ErrInternal, targetID, res.StatusCode)
	}
	if res.Data.MaxBudget == nil {
		return nil, fmt.Errorf("%w: create account %s: response has no max budget", ErrInternal, targetID)
	}
	if res.Data.BudgetDuration == nil {
		return nil, fmt.Errorf("%w: create account %s: response has no budget duration", ErrInternal, targetID)
	}

	accountID := targetID
	if res.Data.UserID != nil && *res.Data.UserID != "" {
		accountID = *res.Data.UserID
	}
	return &model.Account{
		AccountID:      accountID,
		CreatedAt:      s.now().UTC(),
		MaxBudget:      *res.Data.MaxBudget,
		BudgetDuration: *res.Data.BudgetDuration,
		Spend:          deref(res.Data.Spend),
	}, nil
}

// isConflict recognizes the upstream's duplicate-user answers.
func isConflict(status int, body string) bool {
	if status == http.StatusConflict {
		return true
	}
	return status >= 400 && status < 500 && strings.Contains(strings.ToLower(body), "already exists")
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
