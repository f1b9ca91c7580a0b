package firestore_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/receipt-capture/internal/jobs"
	jobstore "github.com/dvloznov/receipt-capture/internal/jobs/firestore"
)

// Runs against the Firestore emulator only.
func newStore(t *testing.T) *jobstore.Store {
	t.Helper()
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	ctx := context.Background()
	client, err := jobstore.NewClient(ctx, "receipt-capture-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return jobstore.NewStore(client, "jobs_"+uuid.NewString()[:8])
}

func TestStore_SaveGetUpdate(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	job := &jobs.RecognizeReceiptJob{
		JobID:     uuid.NewString(),
		TenantID:  "space-1",
		RecordID:  "rec-1",
		Status:    jobs.JobStatusPending,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, s.SaveJob(ctx, job))

	got, err := s.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, "rec-1", got.RecordID)

	require.NoError(t, s.UpdateJobStatus(ctx, job.JobID, jobs.JobStatusFailed, "boom"))
	got, err = s.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusFailed, got.Status)
	assert.Equal(t, "boom", got.Error)

	list, err := s.ListJobs(ctx, jobs.JobFilter{TenantID: "space-1"})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStore_NotFound(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)

	err = s.UpdateJobStatus(ctx, "missing", jobs.JobStatusFailed, "")
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)
}

func TestNewClient_RequiresProject(t *testing.T) {
	_, err := jobstore.NewClient(context.Background(), "")
	assert.Error(t, err)
}
