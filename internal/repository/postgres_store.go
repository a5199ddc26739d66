package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rpattn/gist/internal/domain"
	"github.com/rpattn/gist/internal/registry"
)

// DBTX is the subset of pgxpool.Pool and pgx.Tx the store needs.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps records as JSONB documents in a single table and pushes
// filters, orders and windows down to SQL.
type PostgresStore struct {
	db       DBTX
	registry *registry.Registry
}

// NewPostgresStore creates a store over db.
func NewPostgresStore(db DBTX, reg *registry.Registry) *PostgresStore {
	return &PostgresStore{db: db, registry: reg}
}

// List implements EntityStore.
func (s *PostgresStore) List(ctx context.Context, q ListQuery) ([]domain.Record, error) {
	b := newSQLBuilder()
	where := b.where("e0", q.Type, q.Filters, q.Junction)
	if q.IDs != nil {
		where += " AND e0.id = ANY(" + b.arg(q.IDs) + ")"
	}
	order := b.orderBy("e0", q.Orders)
	stmt := fmt.Sprintf("SELECT e0.id, e0.properties FROM %s e0 WHERE %s %s", entitiesTable, where, order)
	if q.Limit > 0 {
		stmt += " LIMIT " + b.arg(q.Limit)
	}
	if q.Offset > 0 {
		stmt += " OFFSET " + b.arg(q.Offset)
	}

	rows, err := s.db.Query(ctx, stmt, b.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", q.Type.Name, err)
	}
	return scanRecords(rows, q.Type.Name)
}

// Count implements EntityStore.
func (s *PostgresStore) Count(ctx context.Context, q ListQuery) (int, error) {
	b := newSQLBuilder()
	where := b.where("e0", q.Type, q.Filters, q.Junction)
	if q.IDs != nil {
		where += " AND e0.id = ANY(" + b.arg(q.IDs) + ")"
	}
	stmt := fmt.Sprintf("SELECT COUNT(*) FROM %s e0 WHERE %s", entitiesTable, where)

	var total int64
	if err := s.db.QueryRow(ctx, stmt, b.args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", q.Type.Name, err)
	}
	return int(total), nil
}

// GetByIDs implements EntityStore.
func (s *PostgresStore) GetByIDs(ctx context.Context, entityType string, ids []string) ([]domain.Record, error) {
	if len(ids) == 0 {
		return []domain.Record{}, nil
	}
	rows, err := s.db.Query(ctx,
		`SELECT id, properties FROM `+entitiesTable+` WHERE entity_type = $1 AND id = ANY($2)`,
		entityType, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s by ids: %w", entityType, err)
	}
	return scanRecords(rows, entityType)
}

// Forest implements HierarchyStore.
func (s *PostgresStore) Forest(ctx context.Context, t *registry.EntityType) ([]domain.Record, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, properties FROM `+entitiesTable+` WHERE entity_type = $1 ORDER BY position`,
		t.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s forest: %w", t.Name, err)
	}
	return scanRecords(rows, t.Name)
}

// Put implements EntityWriter. Existing records keep their position.
func (s *PostgresStore) Put(ctx context.Context, rec domain.Record) error {
	t, err := s.registry.Describe(rec.Type)
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", rec.ID, err)
	}
	if rec.ID == "" {
		return fmt.Errorf("failed to store %s record: id is required", rec.Type)
	}

	var parent *domain.Record
	if parentID := t.Parent(rec); parentID != "" {
		found, err := s.GetByIDs(ctx, t.Name, []string{parentID})
		if err != nil {
			return fmt.Errorf("failed to load parent of %s: %w", rec.ID, err)
		}
		if len(found) == 1 {
			parent = &found[0]
		}
	}
	rec = Materialize(t, rec, parent)

	affected := []string{rec.ID, t.Parent(rec)}
	if _, derived := t.ChildrenProperty(); derived {
		previous, err := s.storedParent(ctx, t, rec.ID)
		if err != nil {
			return err
		}
		affected = append(affected, previous)
	}

	props := make(map[string]any, len(rec.Values))
	for k, v := range rec.Values {
		if k == registry.IDProperty || v == nil {
			continue
		}
		props[k] = v
	}
	payload, err := json.Marshal(props)
	if err != nil {
		return fmt.Errorf("failed to encode %s %s: %w", rec.Type, rec.ID, err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO `+entitiesTable+` (entity_type, id, properties)
		VALUES ($1, $2, $3)
		ON CONFLICT (entity_type, id)
		DO UPDATE SET properties = EXCLUDED.properties, updated_at = NOW()`,
		rec.Type, rec.ID, payload)
	if err != nil {
		return fmt.Errorf("failed to upsert %s %s: %w", rec.Type, rec.ID, err)
	}
	return s.deriveChildren(ctx, t, affected)
}

// storedParent returns the parent id the stored version of id names, or ""
// when the node is new or a root.
func (s *PostgresStore) storedParent(ctx context.Context, t *registry.EntityType, id string) (string, error) {
	var parent *string
	err := s.db.QueryRow(ctx,
		`SELECT properties ->> $3::text FROM `+entitiesTable+` WHERE entity_type = $1 AND id = $2`,
		t.Name, id, t.Hierarchy.ParentProperty).Scan(&parent)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load stored parent of %s: %w", id, err)
	}
	if parent == nil {
		return "", nil
	}
	return *parent, nil
}

// deriveChildren rebuilds the children association of the given nodes from
// the parent links of their siblings, in persisted order.
func (s *PostgresStore) deriveChildren(ctx context.Context, t *registry.EntityType, ids []string) error {
	children, ok := t.ChildrenProperty()
	if !ok {
		return nil
	}
	owners := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !slices.Contains(owners, id) {
			owners = append(owners, id)
		}
	}
	_, err := s.db.Exec(ctx, `
		UPDATE `+entitiesTable+` p
		SET properties = jsonb_set(p.properties, ARRAY[$3::text], COALESCE((
			SELECT jsonb_agg(c.id ORDER BY c.position)
			FROM `+entitiesTable+` c
			WHERE c.entity_type = p.entity_type AND c.properties ->> $4::text = p.id
		), '[]'::jsonb))
		WHERE p.entity_type = $1 AND p.id = ANY($2)`,
		t.Name, owners, children.Name, t.Hierarchy.ParentProperty)
	if err != nil {
		return fmt.Errorf("failed to derive %s of %s: %w", children.Name, t.Name, err)
	}
	return nil
}

func scanRecords(rows pgx.Rows, entityType string) ([]domain.Record, error) {
	defer rows.Close()

	out := make([]domain.Record, 0)
	for rows.Next() {
		var (
			id    string
			props []byte
		)
		if err := rows.Scan(&id, &props); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", entityType, err)
		}
		rec := domain.NewRecord(entityType, id)
		if len(props) > 0 {
			values := map[string]any{}
			if err := json.Unmarshal(props, &values); err != nil {
				return nil, fmt.Errorf("failed to decode %s %s: %w", entityType, id, err)
			}
			for k, v := range values {
				rec.Values[k] = normalizeJSON(v)
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to iterate %s rows: %w", entityType, err)
	}
	return out, nil
}

// normalizeJSON turns decoded JSON arrays of strings into []string, the shape
// association accessors expect.
func normalizeJSON(v any) any {
	list, ok := v.([]any)
	if !ok {
		return v
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return v
		}
		out = append(out, s)
	}
	return out
}
