package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/receipt-capture/internal/jobs"
	"github.com/dvloznov/receipt-capture/internal/logger"
)

// SyncPublisher runs every published job to completion in the caller's
// goroutine, re-running it up to MaxRetries times. Short-lived processes
// use it so a capture is finished before they exit.
type SyncPublisher struct {
	mu      sync.RWMutex
	store   jobs.JobStore
	handler jobs.JobHandler
	log     zerolog.Logger
	closed  bool
}

// NewSyncPublisher returns a publisher without a handler; call SetHandler
// before publishing. store may be nil.
func NewSyncPublisher(store jobs.JobStore, log zerolog.Logger) *SyncPublisher {
	return &SyncPublisher{store: store, log: log}
}

func (p *SyncPublisher) SetHandler(h jobs.JobHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
}

// PublishRecognizeReceipt only fails when the job cannot be started. A job
// that fails every attempt is recorded as failed and returns nil.
func (p *SyncPublisher) PublishRecognizeReceipt(ctx context.Context, job *jobs.RecognizeReceiptJob) error {
	p.mu.RLock()
	handler, closed := p.handler, p.closed
	p.mu.RUnlock()

	if closed {
		return fmt.Errorf("publisher is closed")
	}
	if handler == nil {
		return fmt.Errorf("publisher has no handler")
	}

	prepare(job)
	log := jobLogger(p.log, job)
	hctx := logger.WithContext(ctx, log)

	for {
		job.Status = jobs.JobStatusRunning
		started := time.Now().UTC()
		job.StartedAt = &started
		saveJob(ctx, p.store, log, job)

		err := run(hctx, job, handler)

		completed := time.Now().UTC()
		job.CompletedAt = &completed
		if err == nil {
			job.Status = jobs.JobStatusCompleted
			job.Error = ""
			saveJob(ctx, p.store, log, job)
			return nil
		}

		job.Error = err.Error()
		if job.RetryCount >= job.MaxRetries || ctx.Err() != nil {
			job.Status = jobs.JobStatusFailed
			saveJob(ctx, p.store, log, job)
			log.Error().Err(err).Int("retries", job.RetryCount).Msg("Job failed permanently")
			return nil
		}

		job.RetryCount++
		job.Status = jobs.JobStatusRetrying
		saveJob(ctx, p.store, log, job)
		log.Warn().Err(err).Int("retry", job.RetryCount).Msg("Job failed, retrying")
	}
}

func (p *SyncPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

var _ jobs.Publisher = (*SyncPublisher)(nil)
