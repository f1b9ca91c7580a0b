// Package pipeline runs a capture from raw image bytes to a confirmed or
// failed expense record. Capture does the synchronous half and returns as
// soon as the record exists; HandleJob does the rest on a worker.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/receipt-capture/internal/assetstore"
	"github.com/dvloznov/receipt-capture/internal/imaging"
	"github.com/dvloznov/receipt-capture/internal/jobs"
	"github.com/dvloznov/receipt-capture/internal/logger"
	"github.com/dvloznov/receipt-capture/internal/receipt"
	"github.com/dvloznov/receipt-capture/internal/recognition"
	"github.com/dvloznov/receipt-capture/internal/retry"
	"github.com/dvloznov/receipt-capture/internal/taxonomy"
	"github.com/dvloznov/receipt-capture/internal/tenant"
)

// Deps are the collaborators of an Orchestrator. Audit and Taxonomy are
// optional.
type Deps struct {
	Records    receipt.Repository
	Taxonomy   taxonomy.Repository
	Assets     assetstore.Store
	Normalizer Normalizer
	Recognizer recognition.Recognizer
	Reconciler Reconciler
	Publisher  jobs.Publisher
	Audit      AuditSink
}

type Orchestrator struct {
	records    receipt.Repository
	taxonomy   taxonomy.Repository
	assets     assetstore.Store
	normalizer Normalizer
	publisher  jobs.Publisher
	pipeline   *Pipeline

	normalize       imaging.Options
	recognition     retry.Policy
	defaultCurrency string
	maxJobRetries   int
	defaults        *taxonomy.Defaults
	seeded          sync.Map
	now             func() time.Time
}

type Option func(*Orchestrator)

func WithNormalizeOptions(opts imaging.Options) Option {
	return func(o *Orchestrator) { o.normalize = opts }
}

// WithRecognitionPolicy sets how transient recognition failures are retried
// within one job.
func WithRecognitionPolicy(p retry.Policy) Option {
	return func(o *Orchestrator) { o.recognition = p }
}

// WithDefaultCurrency is used for tenants without a home currency.
func WithDefaultCurrency(code string) Option {
	return func(o *Orchestrator) { o.defaultCurrency = code }
}

// WithMaxJobRetries bounds how often the queue re-runs a job whose handler
// returned an error. Zero turns re-runs off.
func WithMaxJobRetries(n int) Option {
	return func(o *Orchestrator) {
		if n >= 0 {
			o.maxJobRetries = n
		}
	}
}

// WithDefaults seeds each tenant's taxonomy before its first capture in
// this process.
func WithDefaults(d taxonomy.Defaults) Option {
	return func(o *Orchestrator) { o.defaults = &d }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func New(deps Deps, opts ...Option) (*Orchestrator, error) {
	switch {
	case deps.Records == nil:
		return nil, fmt.Errorf("pipeline: record repository is required")
	case deps.Assets == nil:
		return nil, fmt.Errorf("pipeline: asset store is required")
	case deps.Normalizer == nil:
		return nil, fmt.Errorf("pipeline: normalizer is required")
	case deps.Recognizer == nil:
		return nil, fmt.Errorf("pipeline: recognizer is required")
	case deps.Reconciler == nil:
		return nil, fmt.Errorf("pipeline: reconciler is required")
	case deps.Publisher == nil:
		return nil, fmt.Errorf("pipeline: job publisher is required")
	}

	o := &Orchestrator{
		records:       deps.Records,
		taxonomy:      deps.Taxonomy,
		assets:        deps.Assets,
		normalizer:    deps.Normalizer,
		publisher:     deps.Publisher,
		normalize:     imaging.DefaultOptions(),
		recognition:   retry.DefaultPolicy(),
		maxJobRetries: jobs.DefaultMaxRetries,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.defaults != nil && o.taxonomy == nil {
		return nil, fmt.Errorf("pipeline: seeding defaults needs a taxonomy repository")
	}

	o.pipeline = NewPipeline(
		&FetchImageStep{Assets: deps.Assets},
		&RecognizeStep{Recognizer: deps.Recognizer, Taxonomy: deps.Taxonomy, Policy: o.recognition},
		&AuditStep{Sink: deps.Audit},
		&ReconcileStep{Reconciler: deps.Reconciler},
		&FinalizeStep{Records: deps.Records},
		&PromoteImageStep{Assets: deps.Assets, Records: deps.Records},
	)
	return o, nil
}

type CaptureRequest struct {
	Image []byte
	// Source is one of the receipt.Source constants; empty means API.
	Source string
}

type CaptureResult struct {
	RecordID string         `json:"record_id"`
	JobID    string         `json:"job_id,omitempty"`
	ImageRef string         `json:"image_ref"`
	Status   receipt.Status `json:"status"`
	// FellBack is set when the original bytes were uploaded unnormalized.
	FellBack bool `json:"fell_back"`
	Bytes    int  `json:"bytes"`
}

// Capture normalizes and uploads the image, creates the record in
// processing status and queues recognition. An error means no record was
// created. Once the record exists Capture succeeds; if the job cannot be
// queued the record is failed straight away.
func (o *Orchestrator) Capture(ctx context.Context, tc tenant.Context, req CaptureRequest) (*CaptureResult, error) {
	if err := tc.Validate(); err != nil {
		return nil, err
	}
	if len(req.Image) == 0 {
		return nil, ErrEmptyImage
	}

	log := logger.FromContext(ctx).With().Str("tenant_id", tc.ID).Logger()
	o.seed(ctx, log, tc.ID)

	img := o.normalizer.Normalize(ctx, req.Image, o.normalize)
	now := o.now().UTC()

	log.Debug().Str("state", "uploading").Int("bytes", img.ByteSize()).Bool("fell_back", img.FellBack).Msg("Uploading image")
	uri, err := o.assets.UploadTemp(ctx, img.Data, assetstore.TempKey(tc.ID, now), img.MIMEType)
	if err != nil {
		log.Error().Err(err).Msg("Image upload failed")
		return nil, fmt.Errorf("upload image: %w", err)
	}

	currency := tc.HomeCurrency
	if currency == "" {
		currency = o.defaultCurrency
	}

	id, err := o.records.Create(ctx, tc.ID, receipt.NewDraft(uri, currency, req.Source, now))
	if err != nil {
		if delErr := o.assets.Delete(context.WithoutCancel(ctx), uri); delErr != nil {
			log.Warn().Err(delErr).Str("image_ref", uri).Msg("Failed to remove orphaned upload")
		}
		return nil, fmt.Errorf("create record: %w", err)
	}

	log = logger.ForRecord(log, tc.ID, id)
	result := &CaptureResult{
		RecordID: id,
		ImageRef: uri,
		Status:   receipt.StatusProcessing,
		FellBack: img.FellBack,
		Bytes:    img.ByteSize(),
	}

	job := &jobs.RecognizeReceiptJob{
		TenantID:     tc.ID,
		HomeCurrency: currency,
		RecordID:     id,
		ImageURI:     uri,
		MIMEType:     img.MIMEType,
		MaxRetries:   o.maxJobRetries,
	}
	if err := o.enqueue(ctx, log, tc, job); err != nil {
		result.Status = receipt.StatusFailed
		return result, nil
	}

	log.Info().Str("job_id", job.JobID).Str("state", "awaiting_recognition").Msg("Receipt captured")
	result.JobID = job.JobID
	return result, nil
}

// Retry reopens a failed record and queues recognition again.
func (o *Orchestrator) Retry(ctx context.Context, tc tenant.Context, recordID string) (*jobs.RecognizeReceiptJob, error) {
	if err := tc.Validate(); err != nil {
		return nil, err
	}

	rec, err := o.records.Get(ctx, tc.ID, recordID)
	if err != nil {
		return nil, err
	}
	if err := o.records.Reopen(ctx, tc.ID, recordID); err != nil {
		return nil, err
	}

	currency := tc.HomeCurrency
	if currency == "" {
		currency = rec.Currency
	}
	job := &jobs.RecognizeReceiptJob{
		TenantID:     tc.ID,
		HomeCurrency: currency,
		RecordID:     recordID,
		ImageURI:     rec.ImageRef,
		MaxRetries:   o.maxJobRetries,
	}

	log := logger.ForRecord(logger.FromContext(ctx), tc.ID, recordID)
	if err := o.enqueue(ctx, log, tc, job); err != nil {
		return nil, err
	}
	log.Info().Str("job_id", job.JobID).Int("attempt", rec.Attempts+1).Msg("Record queued for retry")
	return job, nil
}

// enqueue publishes job and fails the record when that is impossible, so
// it never stays processing without a job.
func (o *Orchestrator) enqueue(ctx context.Context, log zerolog.Logger, tc tenant.Context, job *jobs.RecognizeReceiptJob) error {
	err := o.publisher.PublishRecognizeReceipt(ctx, job)
	if err == nil {
		return nil
	}

	log.Error().Err(err).Str("failure_reason", string(receipt.ReasonRecognitionFailed)).Msg("Failed to queue recognition")
	detail := failureDetail(fmt.Errorf("queueing recognition: %w", err))
	if markErr := o.records.MarkFailed(context.WithoutCancel(ctx), tc.ID, job.RecordID, receipt.ReasonRecognitionFailed, detail); markErr != nil {
		log.Error().Err(markErr).Msg("Failed to mark record failed")
	}
	return fmt.Errorf("queue recognition: %w", err)
}

func (o *Orchestrator) seed(ctx context.Context, log zerolog.Logger, tenantID string) {
	if o.defaults == nil {
		return
	}
	if _, done := o.seeded.Load(tenantID); done {
		return
	}
	if err := o.taxonomy.Seed(ctx, tenantID, *o.defaults); err != nil {
		log.Warn().Err(err).Msg("Failed to seed default taxonomy")
		return
	}
	o.seeded.Store(tenantID, struct{}{})
}

// HandleJob is the jobs.JobHandler for recognition jobs. It returns an
// error only when the record could not be moved to a terminal state, which
// makes the queue run the job again.
func (o *Orchestrator) HandleJob(ctx context.Context, job jobs.Job) error {
	j, ok := job.(*jobs.RecognizeReceiptJob)
	if !ok {
		return fmt.Errorf("unsupported job type %s", job.GetType())
	}

	tc := tenant.New(j.TenantID, j.HomeCurrency)
	log := logger.ForRecord(logger.FromContext(ctx), tc.ID, j.RecordID).With().Str("job_id", j.JobID).Logger()
	ctx = logger.WithContext(ctx, log)

	rec, err := o.records.Get(ctx, tc.ID, j.RecordID)
	if errors.Is(err, receipt.ErrNotFound) {
		log.Info().Msg("Record deleted, skipping job")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load record %s: %w", j.RecordID, err)
	}
	if rec.Status != receipt.StatusProcessing {
		log.Info().Str("status", string(rec.Status)).Msg("Record is not processing, skipping job")
		return nil
	}

	log.Debug().Str("state", "awaiting_recognition").Msg("Recognizing receipt")
	state := &PipelineState{Job: j, Tenant: tc, Record: rec, MIMEType: j.MIMEType}
	err = o.pipeline.Execute(ctx, state)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		// Shutting down; the sweeper fails the record if no one picks it up.
		return err
	}
	return o.fail(ctx, log, tc, rec.ID, err)
}

func (o *Orchestrator) fail(ctx context.Context, log zerolog.Logger, tc tenant.Context, recordID string, cause error) error {
	reason := receipt.ReasonRecognitionFailed
	msg := "Recognition failed"
	var fe *FinalizeError
	if errors.As(cause, &fe) {
		reason = receipt.ReasonSavingFailed
		msg = "Saving recognized record failed"
	}

	log.Error().Err(cause).Str("state", "failed").Str("failure_reason", string(reason)).Msg(msg)

	err := o.records.MarkFailed(ctx, tc.ID, recordID, reason, failureDetail(cause))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, receipt.ErrStatusConflict), errors.Is(err, receipt.ErrNotFound):
		log.Info().Err(err).Msg("Record changed before it could be failed")
		return nil
	default:
		return fmt.Errorf("mark record %s failed: %w", recordID, err)
	}
}
