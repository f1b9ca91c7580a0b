package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/receipt-capture/internal/database"
	"github.com/dvloznov/receipt-capture/internal/receipt"
	"github.com/dvloznov/receipt-capture/internal/taxonomy"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the SQL implementation of receipt.Repository.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a Store on db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

const recordColumns = `id, tenant_id, merchant_name, total_amount, tax, currency, receipt_date, status, image_ref,
	payment_account_id, confidence, failure_reason, failure_detail, source, attempts, created_at, updated_at`

func scanRecord(row interface{ Scan(...any) error }) (*receipt.Record, error) {
	var (
		r              receipt.Record
		date, status   string
		paymentAccount sql.NullString
		confidence     sql.NullFloat64
		reason, detail sql.NullString
	)
	if err := row.Scan(&r.ID, &r.TenantID, &r.MerchantName, &r.TotalAmount, &r.Tax, &r.Currency, &date, &status,
		&r.ImageRef, &paymentAccount, &confidence, &reason, &detail, &r.Source, &r.Attempts, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}

	d, err := civil.ParseDate(date)
	if err != nil {
		return nil, fmt.Errorf("parsing receipt date %q: %w", date, err)
	}
	r.Date = d
	r.Status = receipt.Status(status)
	r.PaymentAccountID = paymentAccount.String
	if confidence.Valid {
		c := confidence.Float64
		r.Confidence = &c
	}
	r.FailureReason = receipt.FailureReason(reason.String)
	r.FailureDetail = detail.String
	r.Items = []receipt.LineItem{}
	return &r, nil
}

// Create inserts a placeholder record in processing status and returns its id.
func (s *Store) Create(ctx context.Context, tenantID string, draft receipt.Draft) (string, error) {
	if tenantID == "" {
		return "", fmt.Errorf("creating record: tenant is required")
	}

	id := uuid.NewString()
	now := s.now()
	source := draft.Source
	if source == "" {
		source = receipt.SourceAPI
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO expense_records (id, tenant_id, merchant_name, total_amount, currency, receipt_date, status, image_ref, source, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10, $11)
	`, id, tenantID, receipt.PlaceholderMerchant, decimal.Zero, draft.Currency, draft.CaptureDate.String(),
		string(receipt.StatusProcessing), draft.ImageRef, source, now, now)
	if err != nil {
		return "", fmt.Errorf("creating record: %w", err)
	}

	return id, nil
}

// Get returns a record with its line items.
func (s *Store) Get(ctx context.Context, tenantID, id string) (*receipt.Record, error) {
	return s.get(ctx, s.db, tenantID, id)
}

func (s *Store) get(ctx context.Context, q querier, tenantID, id string) (*receipt.Record, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM expense_records
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, id)

	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, receipt.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting record: %w", err)
	}

	if err := loadItems(ctx, q, []*receipt.Record{r}); err != nil {
		return nil, err
	}
	return r, nil
}

// List returns the tenant's records, newest first.
func (s *Store) List(ctx context.Context, tenantID string, filter receipt.ListFilter) ([]*receipt.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM expense_records WHERE tenant_id = $1`
	args := []any{tenantID}

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}

	query += " ORDER BY created_at DESC, id ASC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, max(filter.Offset, 0))
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	return s.queryRecords(ctx, query, args...)
}

// ListStale returns processing records of any tenant not updated since olderThan.
func (s *Store) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*receipt.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryRecords(ctx, `
		SELECT `+recordColumns+`
		FROM expense_records
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`, string(receipt.StatusProcessing), olderThan.UTC(), limit)
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]*receipt.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}

	var out []*receipt.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("listing records: %w", err)
	}
	// sqlite runs on a single connection; release it before loading items.
	rows.Close()

	if err := loadItems(ctx, s.db, out); err != nil {
		return nil, err
	}
	return out, nil
}

func loadItems(ctx context.Context, q querier, records []*receipt.Record) error {
	if len(records) == 0 {
		return nil
	}

	byID := make(map[string]*receipt.Record, len(records))
	placeholders := make([]string, len(records))
	args := make([]any, len(records))
	for i, r := range records {
		byID[r.ID] = r
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = r.ID
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, record_id, name, category_id, purpose, price, is_asset, confidence
		FROM line_items
		WHERE record_id IN (`+strings.Join(placeholders, ", ")+`)
		ORDER BY record_id, position
	`, args...)
	if err != nil {
		return fmt.Errorf("loading line items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			item       receipt.LineItem
			recordID   string
			category   sql.NullString
			confidence sql.NullFloat64
		)
		if err := rows.Scan(&item.ID, &recordID, &item.Name, &category, &item.Purpose, &item.Price, &item.IsAsset, &confidence); err != nil {
			return fmt.Errorf("scanning line item: %w", err)
		}
		item.CategoryID = category.String
		if confidence.Valid {
			c := confidence.Float64
			item.Confidence = &c
		}
		if r, ok := byID[recordID]; ok {
			r.Items = append(r.Items, item)
		}
	}
	return rows.Err()
}

// UpdateStatus moves a processing record to status.
func (s *Store) UpdateStatus(ctx context.Context, tenantID, id string, status receipt.Status, patch receipt.Patch) error {
	switch status {
	case receipt.StatusProcessing, receipt.StatusFailed:
	default:
		return fmt.Errorf("%w: %s is set by Finalize or Update", receipt.ErrInvalidStatus, status)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE expense_records
		SET status = $1, failure_reason = $2, failure_detail = $3, updated_at = $4
		WHERE tenant_id = $5 AND id = $6 AND status = $7
	`, string(status), nullString(string(patch.FailureReason)), nullString(patch.FailureDetail), s.now(),
		tenantID, id, string(receipt.StatusProcessing))
	if err != nil {
		return fmt.Errorf("updating record status: %w", err)
	}
	return s.checkTransition(ctx, s.db, res, tenantID, id)
}

// MarkFailed moves a processing record to failed.
func (s *Store) MarkFailed(ctx context.Context, tenantID, id string, reason receipt.FailureReason, detail string) error {
	return s.UpdateStatus(ctx, tenantID, id, receipt.StatusFailed, receipt.Patch{FailureReason: reason, FailureDetail: detail})
}

// Finalize writes the outcome and its items in one transaction.
func (s *Store) Finalize(ctx context.Context, tenantID, id string, outcome receipt.Outcome) error {
	return database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE expense_records
			SET merchant_name = $1, total_amount = $2, tax = $3, currency = $4, receipt_date = $5,
				payment_account_id = $6, confidence = $7, status = $8,
				failure_reason = NULL, failure_detail = NULL, updated_at = $9
			WHERE tenant_id = $10 AND id = $11 AND status = $12
		`, outcome.MerchantName, outcome.TotalAmount, outcome.Tax, outcome.Currency, outcome.Date.String(),
			nullString(outcome.PaymentAccountID), outcome.Confidence, string(receipt.StatusConfirmed), s.now(),
			tenantID, id, string(receipt.StatusProcessing))
		if err != nil {
			return fmt.Errorf("finalizing record: %w", err)
		}
		if err := s.checkTransition(ctx, tx, res, tenantID, id); err != nil {
			return err
		}

		return replaceItems(ctx, tx, id, outcome.Items)
	})
}

// Reopen moves a failed record back to processing for another run.
func (s *Store) Reopen(ctx context.Context, tenantID, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE expense_records
		SET status = $1, failure_reason = NULL, failure_detail = NULL, attempts = attempts + 1, updated_at = $2
		WHERE tenant_id = $3 AND id = $4 AND status = $5
	`, string(receipt.StatusProcessing), s.now(), tenantID, id, string(receipt.StatusFailed))
	if err != nil {
		return fmt.Errorf("reopening record: %w", err)
	}
	return s.checkTransition(ctx, s.db, res, tenantID, id)
}

// Update applies a hand edit from any status. A pipeline run still in
// flight loses its conditional write afterwards.
func (s *Store) Update(ctx context.Context, tenantID, id string, edit receipt.Edit) (*receipt.Record, error) {
	var out *receipt.Record
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE expense_records
			SET merchant_name = $1, total_amount = $2, tax = $3, currency = $4, receipt_date = $5,
				payment_account_id = $6, status = $7, failure_reason = NULL, failure_detail = NULL, updated_at = $8
			WHERE tenant_id = $9 AND id = $10
		`, edit.MerchantName, edit.TotalAmount, edit.Tax, edit.Currency, edit.Date.String(),
			nullString(edit.PaymentAccountID), string(receipt.StatusConfirmed), s.now(), tenantID, id)
		if err != nil {
			return fmt.Errorf("updating record: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("reading affected rows: %w", err)
		}
		if n == 0 {
			return receipt.ErrNotFound
		}

		if err := checkReferences(ctx, tx, tenantID, edit); err != nil {
			return err
		}
		if err := replaceItems(ctx, tx, id, edit.Items); err != nil {
			return err
		}

		out, err = s.get(ctx, tx, tenantID, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateImageRef swaps the image reference if it still equals from.
func (s *Store) UpdateImageRef(ctx context.Context, tenantID, id, from, to string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE expense_records
		SET image_ref = $1
		WHERE tenant_id = $2 AND id = $3 AND image_ref = $4
	`, to, tenantID, id, from)
	if err != nil {
		return fmt.Errorf("updating image reference: %w", err)
	}
	return s.checkTransition(ctx, s.db, res, tenantID, id)
}

// Delete removes a record and its line items.
func (s *Store) Delete(ctx context.Context, tenantID, id string) error {
	return database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM line_items WHERE record_id = $1`, id); err != nil {
			return fmt.Errorf("deleting line items: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM expense_records WHERE tenant_id = $1 AND id = $2`, tenantID, id)
		if err != nil {
			return fmt.Errorf("deleting record: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("reading affected rows: %w", err)
		}
		if n == 0 {
			return receipt.ErrNotFound
		}
		return nil
	})
}

// checkReferences makes sure every entity an edit points at belongs to
// tenantID. The built-in purposes need no row.
func checkReferences(ctx context.Context, tx *sql.Tx, tenantID string, edit receipt.Edit) error {
	if edit.PaymentAccountID != "" {
		if err := checkEntity(ctx, tx, tenantID, taxonomy.KindPaymentAccount, "id", edit.PaymentAccountID); err != nil {
			return fmt.Errorf("payment_account_id %q: %w", edit.PaymentAccountID, err)
		}
	}

	for i, item := range edit.Items {
		if item.CategoryID != "" {
			if err := checkEntity(ctx, tx, tenantID, taxonomy.KindCategory, "id", item.CategoryID); err != nil {
				return fmt.Errorf("items[%d].category_id %q: %w", i, item.CategoryID, err)
			}
		}
		switch item.Purpose {
		case taxonomy.PurposePersonal, taxonomy.PurposeBusiness:
		default:
			if err := checkEntity(ctx, tx, tenantID, taxonomy.KindPurpose, "name_key", item.Purpose); err != nil {
				return fmt.Errorf("items[%d].purpose %q: %w", i, item.Purpose, err)
			}
		}
	}
	return nil
}

// checkEntity looks an entity up by column, which is "id" or "name_key".
func checkEntity(ctx context.Context, tx *sql.Tx, tenantID string, kind taxonomy.Kind, column, value string) error {
	var one int
	err := tx.QueryRowContext(ctx, `
		SELECT 1 FROM taxonomy_entities
		WHERE tenant_id = $1 AND kind = $2 AND `+column+` = $3
	`, tenantID, string(kind), value).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return receipt.ErrInvalidReference
	}
	if err != nil {
		return fmt.Errorf("checking %s reference: %w", kind, err)
	}
	return nil
}

func replaceItems(ctx context.Context, tx *sql.Tx, recordID string, items []receipt.LineItem) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM line_items WHERE record_id = $1`, recordID); err != nil {
		return fmt.Errorf("clearing line items: %w", err)
	}

	for i, item := range items {
		id := item.ID
		if id == "" {
			id = uuid.NewString()
		}
		var confidence sql.NullFloat64
		if item.Confidence != nil {
			confidence = sql.NullFloat64{Float64: *item.Confidence, Valid: true}
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO line_items (id, record_id, position, name, category_id, purpose, price, is_asset, confidence)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, id, recordID, i, item.Name, nullString(item.CategoryID), item.Purpose, item.Price, item.IsAsset, confidence)
		if err != nil {
			return fmt.Errorf("inserting line item %d: %w", i, err)
		}
	}
	return nil
}

// checkTransition turns a conditional update that matched nothing into
// ErrNotFound or ErrStatusConflict.
func (s *Store) checkTransition(ctx context.Context, q querier, res sql.Result, tenantID, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n > 0 {
		return nil
	}

	var status string
	err = q.QueryRowContext(ctx, `
		SELECT status FROM expense_records WHERE tenant_id = $1 AND id = $2
	`, tenantID, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return receipt.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reading record status: %w", err)
	}
	return fmt.Errorf("%w: record is %s", receipt.ErrStatusConflict, status)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
