package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dvloznov/receipt-capture/internal/assetstore"
	"github.com/dvloznov/receipt-capture/internal/jobs"
	"github.com/dvloznov/receipt-capture/internal/logger"
	"github.com/dvloznov/receipt-capture/internal/receipt"
	"github.com/dvloznov/receipt-capture/internal/recognition"
	"github.com/dvloznov/receipt-capture/internal/reconcile"
	"github.com/dvloznov/receipt-capture/internal/retry"
	"github.com/dvloznov/receipt-capture/internal/taxonomy"
	"github.com/dvloznov/receipt-capture/internal/tenant"
)

// PipelineStep represents a single step of the background half of a capture.
type PipelineStep interface {
	Name() string
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps.
type PipelineState struct {
	Job        *jobs.RecognizeReceiptJob
	Tenant     tenant.Context
	Record     *receipt.Record
	Image      []byte
	MIMEType   string
	Result     *recognition.Result
	Reconciled *reconcile.Result

	// Done ends the run early without an error, for example when the user
	// edited the record while it was being recognized.
	Done bool
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs the steps until one fails or marks the state done.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for _, step := range p.steps {
		if state.Done {
			return nil
		}
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("step %s: %w", step.Name(), err)
		}
	}
	return nil
}

// FetchImageStep downloads the uploaded image.
type FetchImageStep struct {
	Assets assetstore.Store
}

func (s *FetchImageStep) Name() string { return "fetch_image" }

func (s *FetchImageStep) Execute(ctx context.Context, state *PipelineState) error {
	data, err := s.Assets.Fetch(ctx, state.Record.ImageRef)
	if err != nil {
		return err
	}
	state.Image = data
	if state.MIMEType == "" {
		state.MIMEType = http.DetectContentType(data)
	}
	return nil
}

// RecognizeStep calls the vision model, retrying transient failures under
// Policy.
type RecognizeStep struct {
	Recognizer recognition.Recognizer
	Taxonomy   taxonomy.Repository
	Policy     retry.Policy
}

func (s *RecognizeStep) Name() string { return "recognize" }

func (s *RecognizeStep) Execute(ctx context.Context, state *PipelineState) error {
	log := logger.FromContext(ctx)
	hints := s.hints(ctx, state.Tenant.ID)

	onRetry := func(attempt int, err error, pause time.Duration) {
		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("backoff", pause).
			Msg("Recognition failed temporarily, retrying")
	}

	return retry.Do(ctx, s.Policy, recognition.IsRetryable, onRetry, func(ctx context.Context) error {
		res, err := s.Recognizer.Recognize(ctx, state.Image, state.MIMEType, state.Tenant, hints)
		if err != nil {
			return err
		}
		state.Result = res
		return nil
	})
}

// hints lists the tenant's taxonomy names. A lookup failure only costs
// prompt quality.
func (s *RecognizeStep) hints(ctx context.Context, tenantID string) recognition.Hints {
	var hints recognition.Hints
	if s.Taxonomy == nil {
		return hints
	}

	log := logger.FromContext(ctx)
	for _, kind := range taxonomy.Kinds {
		entities, err := s.Taxonomy.List(ctx, tenantID, kind)
		if err != nil {
			log.Warn().Err(err).Str("kind", string(kind)).Msg("Failed to load taxonomy hints")
			continue
		}
		names := make([]string, 0, len(entities))
		for _, e := range entities {
			names = append(names, e.Name)
		}
		switch kind {
		case taxonomy.KindCategory:
			hints.Categories = names
		case taxonomy.KindPaymentAccount:
			hints.PaymentAccounts = names
		case taxonomy.KindPurpose:
			hints.Purposes = names
		}
	}
	return hints
}

// AuditStep stores the model output when a sink is configured.
type AuditStep struct {
	Sink AuditSink
}

func (s *AuditStep) Name() string { return "audit" }

func (s *AuditStep) Execute(ctx context.Context, state *PipelineState) error {
	if s.Sink == nil {
		return nil
	}
	if err := s.Sink.RecordModelOutput(ctx, state.Tenant, state.Record.ID, state.Job.JobID, state.Result); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Msg("Failed to store model output")
	}
	return nil
}

// ReconcileStep maps the result onto the tenant's taxonomy.
type ReconcileStep struct {
	Reconciler Reconciler
}

func (s *ReconcileStep) Name() string { return "reconcile" }

func (s *ReconcileStep) Execute(ctx context.Context, state *PipelineState) error {
	out, err := s.Reconciler.Reconcile(ctx, state.Tenant, state.Result, state.Record.Date)
	if err != nil {
		return &FinalizeError{RecordID: state.Record.ID, Err: err}
	}

	log := logger.FromContext(ctx)
	for _, fe := range out.FieldErrors {
		log.Warn().Err(fe.Err).Str("field", fe.Field).Str("value", fe.Value).Msg("Recognized field replaced by default")
	}
	state.Reconciled = out
	return nil
}

// FinalizeStep writes the outcome and confirms the record. Losing the
// conditional update means the record changed under us and the outcome is
// dropped.
type FinalizeStep struct {
	Records receipt.Repository
}

func (s *FinalizeStep) Name() string { return "finalize" }

func (s *FinalizeStep) Execute(ctx context.Context, state *PipelineState) error {
	err := s.Records.Finalize(ctx, state.Tenant.ID, state.Record.ID, state.Reconciled.Outcome)
	switch {
	case err == nil:
		log := logger.FromContext(ctx)
		log.Info().
			Str("state", "confirmed").
			Str("model", state.Result.Model).
			Int("items", len(state.Reconciled.Outcome.Items)).
			Float64("confidence", state.Reconciled.Outcome.Confidence).
			Msg("Record confirmed")
		return nil
	case errors.Is(err, receipt.ErrStatusConflict), errors.Is(err, receipt.ErrNotFound):
		log := logger.FromContext(ctx)
		log.Info().Err(err).Msg("Record changed during recognition, discarding outcome")
		state.Done = true
		return nil
	default:
		return &FinalizeError{RecordID: state.Record.ID, Err: err}
	}
}

// PromoteImageStep moves the image from its temporary key to the record's
// permanent key. Failures are logged and the record keeps the temporary
// reference.
type PromoteImageStep struct {
	Assets  assetstore.Store
	Records receipt.Repository
}

func (s *PromoteImageStep) Name() string { return "promote_image" }

func (s *PromoteImageStep) Execute(ctx context.Context, state *PipelineState) error {
	from := state.Record.ImageRef
	if !isTempURI(from) {
		return nil
	}

	log := logger.FromContext(ctx)
	to, err := s.Assets.Promote(ctx, from, state.Record.ID)
	if err != nil {
		log.Warn().Err(err).Str("image_ref", from).Msg("Failed to promote image")
		return nil
	}
	if err := s.Records.UpdateImageRef(ctx, state.Tenant.ID, state.Record.ID, from, to); err != nil {
		log.Error().Err(err).Str("from", from).Str("to", to).Msg("Image promoted but record not updated")
		return nil
	}
	state.Record.ImageRef = to
	return nil
}

func isTempURI(uri string) bool {
	_, _, key, err := assetstore.ParseURI(uri)
	return err == nil && assetstore.IsTempKey(key)
}
