// Package firestore keeps job state in a Firestore collection so the API and
// separately deployed workers see the same job list.
package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dvloznov/receipt-capture/internal/jobs"
)

const DefaultCollection = "receipt_jobs"

type Store struct {
	client     *firestore.Client
	collection string
}

// NewClient creates a Firestore client for projectID. FIRESTORE_EMULATOR_HOST
// is honored by the SDK.
func NewClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	return client, nil
}

// NewStore stores jobs as documents keyed by job id in collection.
func NewStore(client *firestore.Client, collection string) *Store {
	if collection == "" {
		collection = DefaultCollection
	}
	return &Store{client: client, collection: collection}
}

func (s *Store) doc(jobID string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(jobID)
}

func (s *Store) SaveJob(ctx context.Context, job *jobs.RecognizeReceiptJob) error {
	if job.JobID == "" {
		return fmt.Errorf("job ID is required")
	}
	if _, err := s.doc(job.JobID).Set(ctx, job); err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.JobID, err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, jobID string) (*jobs.RecognizeReceiptJob, error) {
	snap, err := s.doc(jobID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%w: %s", jobs.ErrJobNotFound, jobID)
		}
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}

	var job jobs.RecognizeReceiptJob
	if err := snap.DataTo(&job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", jobID, err)
	}
	return &job, nil
}

// ListJobs needs a composite index on the filtered fields plus created_at
// when more than one filter is set.
func (s *Store) ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.RecognizeReceiptJob, error) {
	q := s.client.Collection(s.collection).Query
	if filter.TenantID != "" {
		q = q.Where("tenant_id", "==", filter.TenantID)
	}
	if filter.RecordID != "" {
		q = q.Where("record_id", "==", filter.RecordID)
	}
	if filter.Status != "" {
		q = q.Where("status", "==", string(filter.Status))
	}
	q = q.OrderBy("created_at", firestore.Desc)
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	result := []*jobs.RecognizeReceiptJob{}
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list jobs: %w", err)
		}

		var job jobs.RecognizeReceiptJob
		if err := snap.DataTo(&job); err != nil {
			return nil, fmt.Errorf("failed to decode job %s: %w", snap.Ref.ID, err)
		}
		result = append(result, &job)
	}
	return result, nil
}

func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, st jobs.JobStatus, errorMsg string) error {
	updates := []firestore.Update{{Path: "status", Value: string(st)}}
	if errorMsg != "" {
		updates = append(updates, firestore.Update{Path: "error", Value: errorMsg})
	}

	if _, err := s.doc(jobID).Update(ctx, updates); err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: %s", jobs.ErrJobNotFound, jobID)
		}
		return fmt.Errorf("failed to update job %s: %w", jobID, err)
	}
	return nil
}

var _ jobs.JobStore = (*Store)(nil)
