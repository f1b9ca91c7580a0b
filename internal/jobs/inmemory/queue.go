package inmemory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/receipt-capture/internal/jobs"
	"github.com/dvloznov/receipt-capture/internal/logger"
)

const DefaultWorkers = 5

// Queue is an in-memory implementation of job publisher and consumer.
// Jobs are distributed over a buffered channel to a fixed set of workers.
// A process restart loses queued jobs; the stale sweeper fails the records
// they belonged to.
type Queue struct {
	jobChan   chan *jobs.RecognizeReceiptJob
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	store     jobs.JobStore
	workers   int
	backoff   time.Duration
	log       zerolog.Logger
	closed    bool
}

type Option func(*Queue)

// WithWorkers sets how many jobs run concurrently.
func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithBackoff sets the base delay before a failed job is re-enqueued. The
// delay grows linearly with the retry count.
func WithBackoff(d time.Duration) Option {
	return func(q *Queue) { q.backoff = d }
}

func WithLogger(log zerolog.Logger) Option {
	return func(q *Queue) { q.log = log }
}

// NewQueue creates a new in-memory job queue. bufferSize determines how many
// jobs can be queued before PublishRecognizeReceipt blocks. store may be nil.
func NewQueue(bufferSize int, store jobs.JobStore, opts ...Option) *Queue {
	q := &Queue{
		jobChan:   make(chan *jobs.RecognizeReceiptJob, bufferSize),
		closeChan: make(chan struct{}),
		store:     store,
		workers:   DefaultWorkers,
		backoff:   time.Second,
		log:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// PublishRecognizeReceipt implements the Publisher interface.
func (q *Queue) PublishRecognizeReceipt(ctx context.Context, job *jobs.RecognizeReceiptJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return fmt.Errorf("queue is closed")
	}

	prepare(job)

	if q.store != nil {
		if err := q.store.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("failed to save job: %w", err)
		}
	}

	// Workers own the queued copy; the caller keeps its job untouched.
	queued := *job
	select {
	case q.jobChan <- &queued:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return fmt.Errorf("queue is closed")
	}
}

// Start implements the Consumer interface. It returns immediately; the
// workers run until ctx is done or Stop is called.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return fmt.Errorf("queue is closed")
	}
	q.mu.RUnlock()

	q.log.Info().Int("workers", q.workers).Msg("Starting job workers")
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}

	return nil
}

func (q *Queue) worker(ctx context.Context, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case job := <-q.jobChan:
			if job == nil {
				return
			}
			q.processJob(ctx, job, handler)
		}
	}
}

// prepare fills in the fields a publisher owns.
func prepare(job *jobs.RecognizeReceiptJob) {
	if job.JobID == "" {
		job.JobID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = jobs.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.MaxRetries < 0 {
		job.MaxRetries = 0
	}
}

// run calls the handler, turning a panic into an error so one bad job does
// not take a worker down.
func run(ctx context.Context, job *jobs.RecognizeReceiptJob, handler jobs.JobHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panicked: %v", r)
		}
	}()
	return handler(ctx, job)
}

func jobLogger(log zerolog.Logger, job *jobs.RecognizeReceiptJob) zerolog.Logger {
	return log.With().
		Str("job_id", job.JobID).
		Str("tenant_id", job.TenantID).
		Str("record_id", job.RecordID).
		Logger()
}

func (q *Queue) processJob(ctx context.Context, job *jobs.RecognizeReceiptJob, handler jobs.JobHandler) {
	log := jobLogger(q.log, job)

	job.Status = jobs.JobStatusRunning
	now := time.Now().UTC()
	job.StartedAt = &now
	q.save(ctx, log, job)

	err := run(logger.WithContext(ctx, log), job, handler)

	completedAt := time.Now().UTC()
	job.CompletedAt = &completedAt

	if err != nil {
		job.Error = err.Error()

		if job.RetryCount < job.MaxRetries {
			job.RetryCount++
			job.Status = jobs.JobStatusRetrying
			backoff := time.Duration(job.RetryCount) * q.backoff
			q.save(ctx, log, job)

			// The re-run gets its own copy; this worker is done with job.
			next := *job
			next.Status = jobs.JobStatusPending
			next.StartedAt = nil
			next.CompletedAt = nil

			log.Warn().Err(err).Int("retry", next.RetryCount).Dur("backoff", backoff).Msg("Job failed, retrying")
			time.AfterFunc(backoff, func() {
				if err := q.PublishRecognizeReceipt(ctx, &next); err != nil {
					log.Error().Err(err).Msg("Failed to re-enqueue job")
				}
			})
			return
		}

		job.Status = jobs.JobStatusFailed
		log.Error().Err(err).Int("retries", job.RetryCount).Msg("Job failed permanently")
	} else {
		job.Status = jobs.JobStatusCompleted
		job.Error = ""
		log.Debug().Msg("Job completed")
	}

	q.save(ctx, log, job)
}

func (q *Queue) save(ctx context.Context, log zerolog.Logger, job *jobs.RecognizeReceiptJob) {
	saveJob(ctx, q.store, log, job)
}

func saveJob(ctx context.Context, store jobs.JobStore, log zerolog.Logger, job *jobs.RecognizeReceiptJob) {
	if store == nil {
		return
	}
	if err := store.SaveJob(ctx, job); err != nil {
		log.Warn().Err(err).Str("status", string(job.Status)).Msg("Failed to save job state")
	}
}

// Stop implements the Consumer interface.
// It stops the queue and waits for all in-flight jobs to complete.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements the Publisher interface.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
