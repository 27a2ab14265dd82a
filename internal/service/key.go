package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/llmportal/orchestrator/internal/litellm"
	"github.com/llmportal/orchestrator/internal/metrics"
	"github.com/llmportal/orchestrator/internal/model"
	"github.com/llmportal/orchestrator/internal/policy"
)

// KeyClient is the part of the upstream client used for keys.
type KeyClient interface {
	GenerateKey(ctx context.Context, userID string) (*litellm.Result[litellm.GenerateKeyResponse], error)
	ListKeys(ctx context.Context, userID string, page int) (*litellm.Result[litellm.ListKeysResponse], error)
	KeyInfo(ctx context.Context, key string) (*litellm.Result[litellm.KeyInfoResponse], error)
	DeleteKeys(ctx context.Context, keys []string) (*litellm.Result[litellm.StatusResponse], error)
}

// KeyService manages the API keys of an account.
type KeyService struct {
	client  KeyClient
	policy  policy.Policy
	metrics metrics.Recorder
	logger  *slog.Logger
}

// NewKeyService creates a new KeyService.
func NewKeyService(client KeyClient, p policy.Policy, recorder metrics.Recorder, logger *slog.Logger) *KeyService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KeyService{
		client:  client,
		policy:  p,
		metrics: recorder,
		logger:  logger.With("component", "key_service"),
	}
}

// CreateKey issues a new key for targetID. The secret is only ever
// available in the returned value.
func (s *KeyService) CreateKey(ctx context.Context, targetID string, caller model.Identity) (*model.APIKey, error) {
	if !s.policy.CanActOn(caller, targetID) {
		return nil, fmt.Errorf("%w: cannot create a key for %s", ErrNotAllowed, targetID)
	}

	res, err := s.client.GenerateKey(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("%w: create key for %s: %v", ErrInternal, targetID, err)
	}
	if !res.OK() {
		return nil, fmt.Errorf("%w: create key for %s: response status %d", ErrInternal, targetID, res.StatusCode)
	}
	if res.Data.Token == nil || res.Data.Key == nil {
		return nil, fmt.Errorf("%w: create key for %s: response has no key", ErrInternal, targetID)
	}

	owner := targetID
	if res.Data.UserID != nil && *res.Data.UserID != "" {
		owner = *res.Data.UserID
	}

	s.metrics.IncKeyCreated()
	s.logger.Info("key created", "user_id", owner, "key_id", *res.Data.Token)

	return &model.APIKey{
		OwnerAccountID: owner,
		KeyID:          *res.Data.Token,
		KeySecret:      *res.Data.Key,
	}, nil
}

// ListKeys returns every key of targetID, following upstream pages until
// the reported current page reaches the total.
func (s *KeyService) ListKeys(ctx context.Context, targetID string, caller model.Identity) (*model.KeyList, error) {
	if !s.policy.CanActOn(caller, targetID) {
		return nil, fmt.Errorf("%w: cannot list keys of %s", ErrNotAllowed, targetID)
	}

	keys := make([]model.KeyView, 0)
	for page := 1; ; page++ {
		p, err := s.fetchKeyPage(ctx, targetID, page)
		if err != nil {
			return nil, err
		}
		keys = append(keys, p.Items...)
		if !p.HasMore() {
			break
		}
	}
	return &model.KeyList{Keys: keys}, nil
}

func (s *KeyService) fetchKeyPage(ctx context.Context, targetID string, page int) (*model.KeyPage, error) {
	res, err := s.client.ListKeys(ctx, targetID, page)
	if err != nil {
		return nil, fmt.Errorf("%w: list keys of %s: %v", ErrInternal, targetID, err)
	}
	if !res.OK() {
		return nil, fmt.Errorf("%w: list keys of %s: page %d: response status %d", ErrInternal, targetID, page, res.StatusCode)
	}

	items := make([]model.KeyView, 0, len(res.Data.Keys))
	for _, raw := range res.Data.Keys {
		view, err := decodeKeyView(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: list keys of %s: page %d: %v", ErrInternal, targetID, page, err)
		}
		items = append(items, view)
	}

	return &model.KeyPage{
		Items:       items,
		CurrentPage: res.Data.CurrentPage,
		TotalPages:  res.Data.TotalPages,
	}, nil
}

// decodeKeyView accepts a full key object or a bare token string.
func decodeKeyView(raw json.RawMessage) (model.KeyView, error) {
	var token string
	if err := json.Unmarshal(raw, &token); err == nil {
		return model.KeyView{"token": token}, nil
	}
	var view model.KeyView
	if err := json.Unmarshal(raw, &view); err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if view == nil {
		view = model.KeyView{}
	}
	return view, nil
}

// DeleteKey revokes keyID of targetID. A key owned by another account is
// reported as not found.
func (s *KeyService) DeleteKey(ctx context.Context, targetID, keyID string, caller model.Identity) error {
	if !s.policy.CanActOn(caller, targetID) {
		return fmt.Errorf("%w: cannot delete keys of %s", ErrNotAllowed, targetID)
	}
	if strings.TrimSpace(keyID) == "" {
		return fmt.Errorf("%w: key id is required", ErrInvalidInput)
	}
	if err := s.checkKeyOwner(ctx, targetID, keyID); err != nil {
		return err
	}

	res, err := s.client.DeleteKeys(ctx, []string{keyID})
	if err != nil {
		return fmt.Errorf("%w: delete key of %s: %v", ErrInternal, targetID, err)
	}
	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return fmt.Errorf("%w: key %s", ErrNotFound, keyID)
	default:
		return fmt.Errorf("%w: delete key of %s: response status %d", ErrInternal, targetID, res.StatusCode)
	}

	s.metrics.IncKeyDeleted()
	s.logger.Info("key deleted", "user_id", targetID, "key_id", keyID)
	return nil
}

func (s *KeyService) checkKeyOwner(ctx context.Context, targetID, keyID string) error {
	res, err := s.client.KeyInfo(ctx, keyID)
	if err != nil {
		return fmt.Errorf("%w: look up key of %s: %v", ErrInternal, targetID, err)
	}
	if res.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: key %s", ErrNotFound, keyID)
	}
	if !res.OK() {
		return fmt.Errorf("%w: look up key of %s: response status %d", ErrInternal, targetID, res.StatusCode)
	}
	if res.Data.Info == nil || res.Data.Info.UserID == nil || *res.Data.Info.UserID != targetID {
		s.logger.Warn("key owner mismatch", "user_id", targetID, "key_id", keyID)
		return fmt.Errorf("%w: key %s", ErrNotFound, keyID)
	}
	return nil
}
