package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/llmportal/orchestrator/internal/model"
)

// RequireEnv returns an environment variable or skips the test if missing.
func RequireEnv(t testing.TB, key string) string {
	t.Helper()
	value := os.Getenv(key)
	if value == "" {
		t.Skipf("%s not set", key)
	}
	return value
}

const advisoryLockID int64 = 420421

// AcquireDBLock grabs a global advisory lock to serialize DB tests.
func AcquireDBLock(ctx context.Context, pool *pgxpool.Pool) (func() error, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", advisoryLockID); err != nil {
		conn.Release()
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	unlock := func() error {
		defer conn.Release()
		if _, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", advisoryLockID); err != nil {
			return fmt.Errorf("release advisory lock: %w", err)
		}
		return nil
	}

	return unlock, nil
}

// Migrations lists the migration names in apply order.
var Migrations = []string{
	"000001_directory",
	"000002_cleanup_runs",
}

// ResetSchema drops and recreates every table by running all down
// migrations in reverse order, then all up migrations.
func ResetSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for i := len(Migrations) - 1; i >= 0; i-- {
		if err := ApplyMigration(ctx, pool, Migrations[i], "down"); err != nil {
			return err
		}
	}
	for _, name := range Migrations {
		if err := ApplyMigration(ctx, pool, name, "up"); err != nil {
			return err
		}
	}
	return nil
}

// ApplyMigration runs migrations/<name>.<direction>.sql.
func ApplyMigration(ctx context.Context, pool *pgxpool.Pool, name, direction string) error {
	root, err := ProjectRoot()
	if err != nil {
		return err
	}

	path := filepath.Join(root, "migrations", name+"."+direction+".sql")
	sql, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s migration %s: %w", direction, name, err)
	}
	if _, err := pool.Exec(ctx, string(sql)); err != nil {
		return fmt.Errorf("apply %s migration %s: %w", direction, name, err)
	}
	return nil
}

// ProjectRoot returns the project root directory.
func ProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("failed to resolve testutil path")
	}
	root := filepath.Clean(filepath.Join(filepath.Dir(filename), "..", ".."))
	return root, nil
}

// ============================================================================
// Test Data Factories
// ============================================================================

// NewTestUser creates a user entity, optionally a member of groups.
func NewTestUser(t testing.TB, name string, groupRefs ...string) model.Entity {
	t.Helper()
	user := model.Entity{
		Kind:     model.KindUser,
		Metadata: model.EntityMetadata{Name: name, Namespace: model.DefaultNamespace},
	}
	for _, ref := range groupRefs {
		user.Relations = append(user.Relations, model.Relation{Type: model.RelationMemberOf, TargetRef: ref})
	}
	return user
}

// NewTestGroup creates a group entity.
func NewTestGroup(t testing.TB, name string) model.Entity {
	t.Helper()
	return model.Entity{
		Kind:     model.KindGroup,
		Metadata: model.EntityMetadata{Name: name, Namespace: model.DefaultNamespace},
	}
}

// NewTestCleanupRun creates a finished run with sensible defaults.
func NewTestCleanupRun(t testing.TB, status model.CleanupStatus, startedAt time.Time) *model.CleanupRun {
	t.Helper()
	return &model.CleanupRun{
		ID:         ulid.Make().String(),
		Trigger:    "schedule",
		Status:     status,
		Accounts:   3,
		Members:    1,
		Candidates: 2,
		Deleted:    2,
		StartedAt:  startedAt.UTC(),
		FinishedAt: startedAt.Add(time.Second).UTC(),
	}
}
