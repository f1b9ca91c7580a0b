// Package bigquery writes an audit trail of raw recognition output to
// BigQuery so extraction quality can be reviewed without touching the
// transactional store.
package bigquery

import (
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"

	"github.com/dvloznov/receipt-capture/internal/recognition"
	"github.com/dvloznov/receipt-capture/internal/tenant"
)

type ModelOutputRow struct {
	OutputID string `bigquery:"output_id"` // REQUIRED
	TenantID string `bigquery:"tenant_id"` // REQUIRED
	RecordID string `bigquery:"record_id"` // REQUIRED
	JobID    string `bigquery:"job_id"`    // REQUIRED

	ModelName string `bigquery:"model_name"` // REQUIRED

	RawJSON       bigquery.NullJSON   `bigquery:"raw_json"`       // REQUIRED (JSON)
	ExtractedText bigquery.NullString `bigquery:"extracted_text"` // NULLABLE

	CreatedTS bigquery.NullTimestamp `bigquery:"created_ts"` // REQUIRED
	Metadata  bigquery.NullJSON      `bigquery:"metadata"`   // NULLABLE
}

type outputMetadata struct {
	HomeCurrency string   `json:"home_currency"`
	ItemCount    int      `json:"item_count"`
	Confidence   *float64 `json:"confidence,omitempty"`
}

// NewModelOutputRow builds the audit row for one recognition result. The
// validated result goes to raw_json and the model's untouched text to
// extracted_text.
func NewModelOutputRow(tc tenant.Context, recordID, jobID string, res *recognition.Result, now time.Time) (*ModelOutputRow, error) {
	raw, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("marshal recognition result: %w", err)
	}
	meta, err := json.Marshal(outputMetadata{
		HomeCurrency: tc.HomeCurrency,
		ItemCount:    len(res.Items),
		Confidence:   res.Confidence,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	return &ModelOutputRow{
		OutputID:      uuid.NewString(),
		TenantID:      tc.ID,
		RecordID:      recordID,
		JobID:         jobID,
		ModelName:     res.Model,
		RawJSON:       bigquery.NullJSON{JSONVal: string(raw), Valid: true},
		ExtractedText: bigquery.NullString{StringVal: res.Raw, Valid: res.Raw != ""},
		CreatedTS:     bigquery.NullTimestamp{Timestamp: now.UTC(), Valid: true},
		Metadata:      bigquery.NullJSON{JSONVal: string(meta), Valid: true},
	}, nil
}
