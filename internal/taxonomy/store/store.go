package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/receipt-capture/internal/database"
	"github.com/dvloznov/receipt-capture/internal/taxonomy"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the SQL implementation of taxonomy.Repository.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a Store on db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

const entityColumns = `id, tenant_id, kind, name, name_key, color, is_default, is_ai_created, created_at, updated_at`

func scanEntity(row interface{ Scan(...any) error }) (*taxonomy.Entity, error) {
	var e taxonomy.Entity
	var color sql.NullString
	if err := row.Scan(&e.ID, &e.TenantID, &e.Kind, &e.Name, &e.NameKey, &color,
		&e.IsDefault, &e.IsAICreated, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Color = color.String
	return &e, nil
}

// FindOrCreate returns the entity whose name key matches name, following
// merge history, and creates it when there is none.
func (s *Store) FindOrCreate(ctx context.Context, tenantID string, kind taxonomy.Kind, name string, aiCreated bool) (*taxonomy.Entity, error) {
	if !kind.Valid() {
		return nil, taxonomy.ErrInvalidKind
	}
	clean := taxonomy.CleanName(name)
	key := taxonomy.NameKey(clean)
	if key == "" {
		return nil, taxonomy.ErrEmptyName
	}

	if e, err := s.findMerged(ctx, s.db, tenantID, kind, key); err == nil {
		return e, nil
	} else if !errors.Is(err, taxonomy.ErrNotFound) {
		return nil, err
	}

	if e, err := s.findByKey(ctx, s.db, tenantID, kind, key); err == nil {
		return e, nil
	} else if !errors.Is(err, taxonomy.ErrNotFound) {
		return nil, err
	}

	now := s.now()
	color := sql.NullString{}
	if kind != taxonomy.KindPaymentAccount {
		color = sql.NullString{String: taxonomy.DefaultColor, Valid: true}
	}

	// A concurrent insert of the same key wins; both callers read its row.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO taxonomy_entities (`+entityColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7, $8, $9)
		ON CONFLICT (tenant_id, kind, name_key) DO NOTHING
	`, uuid.NewString(), tenantID, string(kind), clean, key, color, aiCreated, now, now)
	if err != nil {
		return nil, fmt.Errorf("inserting %s %q: %w", kind, clean, err)
	}

	e, err := s.findByKey(ctx, s.db, tenantID, kind, key)
	if err != nil {
		return nil, fmt.Errorf("reading %s %q after insert: %w", kind, clean, err)
	}
	return e, nil
}

func (s *Store) findByKey(ctx context.Context, q querier, tenantID string, kind taxonomy.Kind, key string) (*taxonomy.Entity, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+entityColumns+`
		FROM taxonomy_entities
		WHERE tenant_id = $1 AND kind = $2 AND name_key = $3
	`, tenantID, string(kind), key)

	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, taxonomy.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding %s by name: %w", kind, err)
	}
	return e, nil
}

func (s *Store) findMerged(ctx context.Context, q querier, tenantID string, kind taxonomy.Kind, key string) (*taxonomy.Entity, error) {
	row := q.QueryRowContext(ctx, `
		SELECT e.id, e.tenant_id, e.kind, e.name, e.name_key, e.color, e.is_default, e.is_ai_created, e.created_at, e.updated_at
		FROM taxonomy_merges m
		JOIN taxonomy_entities e ON e.id = m.target_id
		WHERE m.tenant_id = $1 AND m.kind = $2 AND m.source_name_key = $3
	`, tenantID, string(kind), key)

	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, taxonomy.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading merge history: %w", err)
	}
	return e, nil
}

// Get returns one of the tenant's entities.
func (s *Store) Get(ctx context.Context, tenantID, id string) (*taxonomy.Entity, error) {
	return s.get(ctx, s.db, tenantID, id)
}

func (s *Store) get(ctx context.Context, q querier, tenantID, id string) (*taxonomy.Entity, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+entityColumns+`
		FROM taxonomy_entities
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)

	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, taxonomy.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting taxonomy entity: %w", err)
	}
	return e, nil
}

// List returns the tenant's entities of kind, defaults first, then by name.
func (s *Store) List(ctx context.Context, tenantID string, kind taxonomy.Kind) ([]*taxonomy.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entityColumns+`
		FROM taxonomy_entities
		WHERE tenant_id = $1 AND kind = $2
		ORDER BY is_default DESC, name_key ASC
	`, tenantID, string(kind))
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", kind, err)
	}
	defer rows.Close()

	var out []*taxonomy.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", kind, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Create adds a user-defined entity. A taken name returns ErrDuplicateName.
func (s *Store) Create(ctx context.Context, tenantID string, kind taxonomy.Kind, name, color string) (*taxonomy.Entity, error) {
	if !kind.Valid() {
		return nil, taxonomy.ErrInvalidKind
	}
	clean := taxonomy.CleanName(name)
	key := taxonomy.NameKey(clean)
	if key == "" {
		return nil, taxonomy.ErrEmptyName
	}
	if color == "" && kind != taxonomy.KindPaymentAccount {
		color = taxonomy.DefaultColor
	}

	now := s.now()
	e := &taxonomy.Entity{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Kind:      kind,
		Name:      clean,
		NameKey:   key,
		Color:     color,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO taxonomy_entities (`+entityColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, FALSE, $7, $8)
	`, e.ID, tenantID, string(kind), clean, key, nullString(color), now, now)
	if database.IsUniqueViolation(err) {
		return nil, taxonomy.ErrDuplicateName
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", kind, err)
	}

	if err := forgetMergedName(ctx, s.db, tenantID, kind, key); err != nil {
		return nil, err
	}

	return e, nil
}

// forgetMergedName drops history for a name the user has explicitly
// brought back.
func forgetMergedName(ctx context.Context, q querier, tenantID string, kind taxonomy.Kind, key string) error {
	_, err := q.ExecContext(ctx, `
		DELETE FROM taxonomy_merges
		WHERE tenant_id = $1 AND kind = $2 AND source_name_key = $3
	`, tenantID, string(kind), key)
	if err != nil {
		return fmt.Errorf("clearing merge history: %w", err)
	}
	return nil
}

// Rename changes the display name. Renaming clears the AI-created flag
// since the user has now vouched for the entity. Line items keep pointing at
// a renamed purpose.
func (s *Store) Rename(ctx context.Context, tenantID, id, name string) (*taxonomy.Entity, error) {
	clean := taxonomy.CleanName(name)
	key := taxonomy.NameKey(clean)
	if key == "" {
		return nil, taxonomy.ErrEmptyName
	}

	var out *taxonomy.Entity
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		e, err := s.get(ctx, tx, tenantID, id)
		if err != nil {
			return err
		}

		if e.Kind == taxonomy.KindPurpose && e.NameKey != key {
			if e.IsDefault {
				return taxonomy.ErrDefaultEntity
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE line_items SET purpose = $1
				WHERE purpose = $2 AND record_id IN (SELECT id FROM expense_records WHERE tenant_id = $3)
			`, key, e.NameKey, tenantID); err != nil {
				return fmt.Errorf("moving line items to renamed purpose: %w", err)
			}
		}

		now := s.now()
		_, err = tx.ExecContext(ctx, `
			UPDATE taxonomy_entities
			SET name = $1, name_key = $2, is_ai_created = FALSE, updated_at = $3
			WHERE id = $4
		`, clean, key, now, id)
		if database.IsUniqueViolation(err) {
			return taxonomy.ErrDuplicateName
		}
		if err != nil {
			return fmt.Errorf("renaming taxonomy entity: %w", err)
		}

		if err := forgetMergedName(ctx, tx, tenantID, e.Kind, key); err != nil {
			return err
		}

		e.Name, e.NameKey, e.IsAICreated, e.UpdatedAt = clean, key, false, now
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetColor changes an entity's display color.
func (s *Store) SetColor(ctx context.Context, tenantID, id, color string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE taxonomy_entities
		SET color = $1, updated_at = $2
		WHERE id = $3 AND tenant_id = $4
	`, nullString(color), s.now(), id, tenantID)
	if err != nil {
		return fmt.Errorf("updating color: %w", err)
	}
	return expectOne(res)
}

// Delete removes a non-default entity. References are cleared: line items
// lose their category, records lose their payment account and items using a
// deleted purpose fall back to personal.
func (s *Store) Delete(ctx context.Context, tenantID, id string) error {
	return database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		e, err := s.get(ctx, tx, tenantID, id)
		if err != nil {
			return err
		}
		if e.IsDefault {
			return taxonomy.ErrDefaultEntity
		}

		if err := clearReferences(ctx, tx, e); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM taxonomy_entities WHERE id = $1`, id); err != nil {
			return fmt.Errorf("deleting %s: %w", e.Kind, err)
		}
		return nil
	})
}

func clearReferences(ctx context.Context, tx *sql.Tx, e *taxonomy.Entity) error {
	var err error
	switch e.Kind {
	case taxonomy.KindCategory:
		_, err = tx.ExecContext(ctx, `
			UPDATE line_items SET category_id = NULL
			WHERE category_id = $1 AND record_id IN (SELECT id FROM expense_records WHERE tenant_id = $2)
		`, e.ID, e.TenantID)
	case taxonomy.KindPaymentAccount:
		_, err = tx.ExecContext(ctx, `
			UPDATE expense_records SET payment_account_id = NULL
			WHERE payment_account_id = $1 AND tenant_id = $2
		`, e.ID, e.TenantID)
	case taxonomy.KindPurpose:
		_, err = tx.ExecContext(ctx, `
			UPDATE line_items SET purpose = $1
			WHERE purpose = $2 AND record_id IN (SELECT id FROM expense_records WHERE tenant_id = $3)
		`, taxonomy.PurposePersonal, e.NameKey, e.TenantID)
	}
	if err != nil {
		return fmt.Errorf("clearing references to %s: %w", e.Kind, err)
	}
	return nil
}

// Merge runs in one transaction: any failure leaves sources, target and
// every reference untouched.
func (s *Store) Merge(ctx context.Context, tenantID string, kind taxonomy.Kind, sourceIDs []string, targetID string) error {
	if err := taxonomy.ValidateMerge(sourceIDs, targetID); err != nil {
		return err
	}

	return database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		target, err := s.get(ctx, tx, tenantID, targetID)
		if err != nil {
			return fmt.Errorf("merge target: %w", err)
		}
		if target.Kind != kind {
			return fmt.Errorf("%w: target is a %s, not a %s", taxonomy.ErrInvalidMerge, target.Kind, kind)
		}

		now := s.now()
		seen := make(map[string]bool, len(sourceIDs))
		for _, id := range sourceIDs {
			if seen[id] {
				continue
			}
			seen[id] = true

			src, err := s.get(ctx, tx, tenantID, id)
			if err != nil {
				return fmt.Errorf("merge source %s: %w", id, err)
			}
			if src.Kind != kind {
				return fmt.Errorf("%w: source %s is a %s", taxonomy.ErrInvalidMerge, id, src.Kind)
			}
			if src.IsDefault {
				return fmt.Errorf("merge source %q: %w", src.Name, taxonomy.ErrDefaultEntity)
			}

			if err := reassign(ctx, tx, src, target); err != nil {
				return err
			}

			// History pointing at the source now points at the target.
			if _, err := tx.ExecContext(ctx, `
				UPDATE taxonomy_merges SET target_id = $1 WHERE target_id = $2
			`, target.ID, src.ID); err != nil {
				return fmt.Errorf("redirecting merge history: %w", err)
			}

			if src.NameKey != target.NameKey {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO taxonomy_merges (tenant_id, kind, source_name_key, source_name, target_id, merged_at)
					VALUES ($1, $2, $3, $4, $5, $6)
					ON CONFLICT (tenant_id, kind, source_name_key)
					DO UPDATE SET target_id = EXCLUDED.target_id, source_name = EXCLUDED.source_name, merged_at = EXCLUDED.merged_at
				`, tenantID, string(kind), src.NameKey, src.Name, target.ID, now); err != nil {
					return fmt.Errorf("recording merge history: %w", err)
				}
			}

			if _, err := tx.ExecContext(ctx, `DELETE FROM taxonomy_entities WHERE id = $1`, src.ID); err != nil {
				return fmt.Errorf("deleting merged %s %q: %w", kind, src.Name, err)
			}
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE taxonomy_entities SET updated_at = $1 WHERE id = $2
		`, now, target.ID); err != nil {
			return fmt.Errorf("touching merge target: %w", err)
		}

		return nil
	})
}

func reassign(ctx context.Context, tx *sql.Tx, src, target *taxonomy.Entity) error {
	var err error
	switch src.Kind {
	case taxonomy.KindCategory:
		_, err = tx.ExecContext(ctx, `
			UPDATE line_items SET category_id = $1
			WHERE category_id = $2 AND record_id IN (SELECT id FROM expense_records WHERE tenant_id = $3)
		`, target.ID, src.ID, src.TenantID)
	case taxonomy.KindPaymentAccount:
		_, err = tx.ExecContext(ctx, `
			UPDATE expense_records SET payment_account_id = $1
			WHERE payment_account_id = $2 AND tenant_id = $3
		`, target.ID, src.ID, src.TenantID)
	case taxonomy.KindPurpose:
		_, err = tx.ExecContext(ctx, `
			UPDATE line_items SET purpose = $1
			WHERE purpose = $2 AND record_id IN (SELECT id FROM expense_records WHERE tenant_id = $3)
		`, target.NameKey, src.NameKey, src.TenantID)
	}
	if err != nil {
		return fmt.Errorf("reassigning %s %q: %w", src.Kind, src.Name, err)
	}
	return nil
}

// MergeHistory lists the names merged into entities of kind, newest first.
func (s *Store) MergeHistory(ctx context.Context, tenantID string, kind taxonomy.Kind) ([]taxonomy.MergeRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, source_name, source_name_key, target_id, merged_at
		FROM taxonomy_merges
		WHERE tenant_id = $1 AND kind = $2
		ORDER BY merged_at DESC, source_name_key ASC
	`, tenantID, string(kind))
	if err != nil {
		return nil, fmt.Errorf("listing merge history: %w", err)
	}
	defer rows.Close()

	var out []taxonomy.MergeRecord
	for rows.Next() {
		var m taxonomy.MergeRecord
		if err := rows.Scan(&m.Kind, &m.SourceName, &m.SourceNameKey, &m.TargetID, &m.MergedAt); err != nil {
			return nil, fmt.Errorf("scanning merge history: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Seed is idempotent; existing names are left as they are.
func (s *Store) Seed(ctx context.Context, tenantID string, defaults taxonomy.Defaults) error {
	now := s.now()
	return database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, kind := range taxonomy.Kinds {
			for _, seed := range defaults.Of(kind) {
				clean := taxonomy.CleanName(seed.Name)
				_, err := tx.ExecContext(ctx, `
					INSERT INTO taxonomy_entities (`+entityColumns+`)
					VALUES ($1, $2, $3, $4, $5, $6, TRUE, FALSE, $7, $8)
					ON CONFLICT (tenant_id, kind, name_key) DO NOTHING
				`, uuid.NewString(), tenantID, string(kind), clean, taxonomy.NameKey(clean), nullString(seed.Color), now, now)
				if err != nil {
					return fmt.Errorf("seeding %s %q: %w", kind, clean, err)
				}
			}
		}
		return nil
	})
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return taxonomy.ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}
