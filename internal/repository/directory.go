package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/llmportal/orchestrator/internal/model"
)

const entitySelect = `
	SELECT e.kind, e.namespace, e.name,
		COALESCE(array_agg(r.type) FILTER (WHERE r.type IS NOT NULL), '{}'),
		COALESCE(array_agg(r.target_ref) FILTER (WHERE r.type IS NOT NULL), '{}')
	FROM entities e
	LEFT JOIN entity_relations r ON r.source_ref = e.ref
`

// GetEntityByRef retrieves a directory entity with its relations.
// Returns nil and no error when the entity does not exist.
func (r *Repository) GetEntityByRef(ctx context.Context, ref string) (*model.Entity, error) {
	query := entitySelect + `
		WHERE e.ref = $1
		GROUP BY e.ref, e.kind, e.namespace, e.name
	`

	entity, err := scanEntity(r.pool.QueryRow(ctx, query, model.NormalizeEntityRef(ref)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get entity %s: %w", ref, err)
	}
	return entity, nil
}

// ListEntities retrieves all entities matching filter, ordered by ref.
func (r *Repository) ListEntities(ctx context.Context, filter model.EntityFilter) ([]model.Entity, error) {
	query := entitySelect + `
		WHERE ($1::text = '' OR LOWER(e.kind) = LOWER($1::text))
		GROUP BY e.ref, e.kind, e.namespace, e.name
		ORDER BY e.ref
	`

	rows, err := r.pool.Query(ctx, query, filter.Kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()

	var entities []model.Entity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		entities = append(entities, *entity)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entities: %w", err)
	}

	return entities, nil
}

// UpsertEntity stores an entity and replaces its relations.
func (r *Repository) UpsertEntity(ctx context.Context, entity model.Entity) error {
	ref := entity.Ref()
	namespace := entity.Metadata.Namespace
	if namespace == "" {
		namespace = model.DefaultNamespace
	}

	types := make([]string, 0, len(entity.Relations))
	targets := make([]string, 0, len(entity.Relations))
	for _, rel := range entity.Relations {
		types = append(types, rel.Type)
		targets = append(targets, model.NormalizeEntityRef(rel.TargetRef))
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO entities (ref, kind, namespace, name, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (ref) DO UPDATE
		SET kind = EXCLUDED.kind, namespace = EXCLUDED.namespace, name = EXCLUDED.name, updated_at = NOW()
	`, ref, entity.Kind, namespace, entity.Metadata.Name)
	if err != nil {
		return fmt.Errorf("failed to upsert entity %s: %w", ref, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM entity_relations WHERE source_ref = $1`, ref); err != nil {
		return fmt.Errorf("failed to clear relations of %s: %w", ref, err)
	}

	if len(types) > 0 {
		_, err = tx.Exec(ctx, `
			INSERT INTO entity_relations (source_ref, type, target_ref)
			SELECT $1, t.type, t.target_ref
			FROM unnest($2::text[], $3::text[]) AS t(type, target_ref)
			ON CONFLICT DO NOTHING
		`, ref, pq.Array(types), pq.Array(targets))
		if err != nil {
			return fmt.Errorf("failed to insert relations of %s: %w", ref, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit entity %s: %w", ref, err)
	}
	return nil
}

// DeleteEntity removes an entity and its relations.
func (r *Repository) DeleteEntity(ctx context.Context, ref string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM entities WHERE ref = $1`, model.NormalizeEntityRef(ref))
	if err != nil {
		return fmt.Errorf("failed to delete entity %s: %w", ref, err)
	}
	return nil
}

func scanEntity(row pgx.Row) (*model.Entity, error) {
	var (
		entity  model.Entity
		types   []string
		targets []string
	)
	err := row.Scan(
		&entity.Kind,
		&entity.Metadata.Namespace,
		&entity.Metadata.Name,
		pq.Array(&types),
		pq.Array(&targets),
	)
	if err != nil {
		return nil, err
	}

	for i := range types {
		if i >= len(targets) {
			break
		}
		entity.Relations = append(entity.Relations, model.Relation{Type: types[i], TargetRef: targets[i]})
	}
	return &entity, nil
}
