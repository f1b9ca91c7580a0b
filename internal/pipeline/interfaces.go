package pipeline

import (
	"context"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/receipt-capture/internal/imaging"
	"github.com/dvloznov/receipt-capture/internal/recognition"
	"github.com/dvloznov/receipt-capture/internal/reconcile"
	"github.com/dvloznov/receipt-capture/internal/tenant"
)

// Normalizer prepares a captured image for upload. *imaging.Normalizer
// satisfies it.
type Normalizer interface {
	Normalize(ctx context.Context, source []byte, opts imaging.Options) imaging.NormalizedImage
}

// Reconciler turns a recognition result into a record outcome.
// *reconcile.Engine satisfies it.
type Reconciler interface {
	Reconcile(ctx context.Context, tc tenant.Context, res *recognition.Result, captureDate civil.Date) (*reconcile.Result, error)
}

// AuditSink keeps a copy of every model output. Failures are logged and
// never affect the record.
type AuditSink interface {
	RecordModelOutput(ctx context.Context, tc tenant.Context, recordID, jobID string, res *recognition.Result) error
}
