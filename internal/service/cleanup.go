package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/llmportal/orchestrator/internal/litellm"
	"github.com/llmportal/orchestrator/internal/metrics"
	"github.com/llmportal/orchestrator/internal/model"
)

// DefaultCleanupBatchSize bounds how many accounts one delete call removes.
const DefaultCleanupBatchSize = 10

// Cleanup triggers.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// ErrGroupUnresolved means the allowed group could not be trusted, so
// the run deleted nothing.
var ErrGroupUnresolved = errors.New("allowed group could not be resolved")

// AccountDirectoryClient is the part of the upstream client used by cleanup.
type AccountDirectoryClient interface {
	ListAllUserIDs(ctx context.Context, pageSize int) ([]string, error)
	DeleteUsers(ctx context.Context, userIDs []string) (*litellm.Result[litellm.StatusResponse], error)
}

// Directory resolves portal users and groups.
// GetEntityByRef returns nil and no error when the entity does not exist.
type Directory interface {
	GetEntityByRef(ctx context.Context, ref string) (*model.Entity, error)
	ListEntities(ctx context.Context, filter model.EntityFilter) ([]model.Entity, error)
}

// CleanupService removes upstream accounts whose owners left the allowed group.
type CleanupService struct {
	client          AccountDirectoryClient
	directory       Directory
	allowedGroupRef string
	batchSize       int
	metrics         metrics.Recorder
	logger          *slog.Logger
	now             func() time.Time
}

// NewCleanupService creates a new CleanupService.
func NewCleanupService(client AccountDirectoryClient, directory Directory, allowedGroupRef string, batchSize int, recorder metrics.Recorder, logger *slog.Logger) *CleanupService {
	if batchSize <= 0 {
		batchSize = DefaultCleanupBatchSize
	}
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupService{
		client:          client,
		directory:       directory,
		allowedGroupRef: allowedGroupRef,
		batchSize:       batchSize,
		metrics:         recorder,
		logger:          logger.With("component", "cleanup"),
		now:             time.Now,
	}
}

// Run performs one reconciliation pass. The returned run is never nil.
// A failed batch is logged and counted; it does not stop the run.
func (s *CleanupService) Run(ctx context.Context, trigger string) (*model.CleanupRun, error) {
	run := &model.CleanupRun{
		ID:        ulid.Make().String(),
		Trigger:   trigger,
		StartedAt: s.now().UTC(),
	}
	logger := s.logger.With("run_id", run.ID, "trigger", trigger)
	logger.Info("cleanup started")

	err := s.reconcile(ctx, logger, run)
	switch {
	case err == nil:
	case errors.Is(err, ErrGroupUnresolved):
		run.Status = model.CleanupAborted
		run.Error = err.Error()
		err = nil
	default:
		run.Status = model.CleanupFailed
		run.Error = err.Error()
		logger.Error("cleanup failed", "error", err)
	}

	run.FinishedAt = s.now().UTC()
	s.metrics.IncCleanupRun(string(run.Status))
	logger.Info("cleanup finished",
		"status", run.Status,
		"candidates", run.Candidates,
		"deleted", run.Deleted,
		"failed_batches", run.FailedBatches,
	)
	return run, err
}

func (s *CleanupService) reconcile(ctx context.Context, logger *slog.Logger, run *model.CleanupRun) error {
	accountIDs, err := s.client.ListAllUserIDs(ctx, litellm.DefaultUserPageSize)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	run.Accounts = len(accountIDs)
	logger.Info("accounts listed", "count", len(accountIDs))
	if len(accountIDs) == 0 {
		run.Status = model.CleanupNoop
		return nil
	}

	members, err := s.groupMembers(ctx, logger)
	if err != nil {
		return err
	}
	run.Members = len(members)
	logger.Info("group members resolved", "group", s.allowedGroupRef, "count", len(members))

	toDelete := orphanedAccounts(accountIDs, members)
	run.Candidates = len(toDelete)
	if len(toDelete) == 0 {
		run.Status = model.CleanupNoop
		logger.Info("no accounts to clean up")
		return nil
	}
	logger.Info("accounts to delete", "count", len(toDelete), "user_ids", toDelete)

	for start := 0; start < len(toDelete); start += s.batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+s.batchSize, len(toDelete))
		batch := toDelete[start:end]
		if err := s.deleteBatch(ctx, batch); err != nil {
			run.FailedBatches++
			s.metrics.IncCleanupBatchFailed()
			logger.Error("batch delete failed", "size", len(batch), "error", err)
			continue
		}
		run.Deleted += len(batch)
		s.metrics.AddCleanupDeleted(len(batch))
		logger.Info("batch deleted", "size", len(batch))
	}

	run.Status = model.CleanupCompleted
	return nil
}

// groupMembers returns the normalized refs of users with a memberOf edge
// to the allowed group. Any doubt about the group itself is ErrGroupUnresolved.
func (s *CleanupService) groupMembers(ctx context.Context, logger *slog.Logger) (map[string]struct{}, error) {
	group, err := s.directory.GetEntityByRef(ctx, s.allowedGroupRef)
	if err != nil {
		logger.Error("group lookup failed", "group", s.allowedGroupRef, "error", err)
		return nil, fmt.Errorf("%w: %s: %v", ErrGroupUnresolved, s.allowedGroupRef, err)
	}
	if group == nil || !strings.EqualFold(group.Kind, model.KindGroup) {
		logger.Error("allowed group is missing or not a group", "group", s.allowedGroupRef)
		return nil, fmt.Errorf("%w: %s is not a group", ErrGroupUnresolved, s.allowedGroupRef)
	}

	users, err := s.directory.ListEntities(ctx, model.EntityFilter{Kind: model.KindUser})
	if err != nil {
		return nil, fmt.Errorf("list directory users: %w", err)
	}

	members := make(map[string]struct{})
	for _, user := range users {
		if user.HasRelation(model.RelationMemberOf, s.allowedGroupRef) {
			members[user.Ref()] = struct{}{}
		}
	}
	return members, nil
}

func (s *CleanupService) deleteBatch(ctx context.Context, batch []string) error {
	res, err := s.client.DeleteUsers(ctx, batch)
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("response status %d", res.StatusCode)
	}
	return nil
}

// orphanedAccounts returns the ids in accountIDs whose normalized form is
// not a member, preserving order and dropping duplicates and blanks.
func orphanedAccounts(accountIDs []string, members map[string]struct{}) []string {
	seen := make(map[string]struct{}, len(accountIDs))
	var out []string
	for _, id := range accountIDs {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := members[model.NormalizeEntityRef(id)]; !ok {
			out = append(out, id)
		}
	}
	return out
}
