package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/receipt-capture/internal/recognition"
	"github.com/dvloznov/receipt-capture/internal/tenant"
)

// ModelOutputSink inserts one row per recognition into
// project.dataset.table.
type ModelOutputSink struct {
	client *bigquery.Client
	table  string
	now    func() time.Time
}

// NewClient opens a BigQuery client for project.
func NewClient(ctx context.Context, project string) (*bigquery.Client, error) {
	client, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("bigquery client: %w", err)
	}
	return client, nil
}

func NewModelOutputSink(client *bigquery.Client, project, dataset, table string) *ModelOutputSink {
	return &ModelOutputSink{
		client: client,
		table:  TableName(project, dataset, table),
		now:    time.Now,
	}
}

// TableName returns the backquoted fully qualified table name.
func TableName(project, dataset, table string) string {
	return "`" + project + "." + dataset + "." + table + "`"
}

// RecordModelOutput uses DML INSERT to avoid streaming buffer issues.
func (s *ModelOutputSink) RecordModelOutput(ctx context.Context, tc tenant.Context, recordID, jobID string, res *recognition.Result) error {
	row, err := NewModelOutputRow(tc, recordID, jobID, res, s.now())
	if err != nil {
		return fmt.Errorf("RecordModelOutput: %w", err)
	}

	q := s.client.Query(`
		INSERT INTO ` + s.table + ` (
			output_id, tenant_id, record_id, job_id,
			model_name, raw_json, extracted_text,
			created_ts, metadata
		)
		VALUES (
			@output_id, @tenant_id, @record_id, @job_id,
			@model_name, PARSE_JSON(@raw_json), @extracted_text,
			@created_ts, PARSE_JSON(@metadata)
		)
	`)

	q.Parameters = []bigquery.QueryParameter{
		{Name: "output_id", Value: row.OutputID},
		{Name: "tenant_id", Value: row.TenantID},
		{Name: "record_id", Value: row.RecordID},
		{Name: "job_id", Value: row.JobID},
		{Name: "model_name", Value: row.ModelName},
		{Name: "raw_json", Value: row.RawJSON.JSONVal},
		{Name: "extracted_text", Value: row.ExtractedText},
		{Name: "created_ts", Value: row.CreatedTS},
		{Name: "metadata", Value: row.Metadata.JSONVal},
	}

	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("RecordModelOutput: running insert query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("RecordModelOutput: waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("RecordModelOutput: job error: %w", err)
	}

	return nil
}

// Close releases the underlying client.
func (s *ModelOutputSink) Close() error {
	return s.client.Close()
}
