package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/receipt-capture/internal/logger"
	"github.com/dvloznov/receipt-capture/internal/receipt"
)

const (
	DefaultStaleAfter    = 15 * time.Minute
	DefaultSweepInterval = time.Minute
	defaultSweepBatch    = 100
)

// Sweeper fails records that have been processing for longer than
// staleAfter, which happens when a job is lost to a crash or restart.
type Sweeper struct {
	records    receipt.Repository
	staleAfter time.Duration
	interval   time.Duration
	batch      int
	now        func() time.Time
}

func NewSweeper(records receipt.Repository, staleAfter, interval time.Duration) *Sweeper {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		records:    records,
		staleAfter: staleAfter,
		interval:   interval,
		batch:      defaultSweepBatch,
		now:        time.Now,
	}
}

// SweepOnce fails one batch of stale records and returns how many it
// failed.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	log := logger.FromContext(ctx)
	cutoff := s.now().UTC().Add(-s.staleAfter)

	stale, err := s.records.ListStale(ctx, cutoff, s.batch)
	if err != nil {
		return 0, fmt.Errorf("list stale records: %w", err)
	}

	detail := fmt.Sprintf("still processing after %s", s.staleAfter)
	failed := 0
	for _, rec := range stale {
		err := s.records.MarkFailed(ctx, rec.TenantID, rec.ID, receipt.ReasonTimedOut, detail)
		if errors.Is(err, receipt.ErrStatusConflict) || errors.Is(err, receipt.ErrNotFound) {
			continue
		}
		if err != nil {
			return failed, fmt.Errorf("mark record %s timed out: %w", rec.ID, err)
		}
		failed++
		rlog := logger.ForRecord(log, rec.TenantID, rec.ID)
		rlog.Warn().
			Str("state", "failed").
			Str("failure_reason", string(receipt.ReasonTimedOut)).
			Time("updated_at", rec.UpdatedAt).
			Msg("Record timed out")
	}
	return failed, nil
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info().Dur("stale_after", s.staleAfter).Dur("interval", s.interval).Msg("Starting stale record sweeper")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Sweep failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
