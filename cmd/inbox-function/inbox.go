package main

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/dvloznov/receipt-capture/internal/assetstore"
	"github.com/dvloznov/receipt-capture/internal/logger"
	"github.com/dvloznov/receipt-capture/internal/pipeline"
	"github.com/dvloznov/receipt-capture/internal/receipt"
	"github.com/dvloznov/receipt-capture/internal/tenant"
)

// storageObject is the payload of a storage object finalized event.
type storageObject struct {
	Bucket      string            `json:"bucket"`
	Name        string            `json:"name"`
	ContentType string            `json:"contentType"`
	Metadata    map[string]string `json:"metadata"`
}

type capturer interface {
	Capture(ctx context.Context, tc tenant.Context, req pipeline.CaptureRequest) (*pipeline.CaptureResult, error)
}

// objectReader reads and removes inbox objects. assetstore.Store satisfies it.
type objectReader interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
	Delete(ctx context.Context, uri string) error
}

// inbox captures images dropped under <prefix><space id>/ in one bucket.
// An optional home_currency object metadata entry sets the tenant currency.
type inbox struct {
	capture         capturer
	objects         objectReader
	scheme          string
	bucket          string
	prefix          string
	defaultCurrency string
}

// spaceOf extracts the space id from an inbox object name.
func spaceOf(name, prefix string) (string, bool) {
	rest, ok := strings.CutPrefix(name, prefix)
	if !ok {
		return "", false
	}
	space, file, ok := strings.Cut(rest, "/")
	if !ok || space == "" || file == "" || strings.HasSuffix(file, "/") {
		return "", false
	}
	return space, true
}

// process returns an error only when redelivering the event could help.
func (i *inbox) process(ctx context.Context, obj storageObject) error {
	log := logger.FromContext(ctx).With().Str("bucket", obj.Bucket).Str("object", obj.Name).Logger()

	if obj.Bucket != i.bucket {
		log.Warn().Str("inbox_bucket", i.bucket).Msg("Ignoring object outside the inbox bucket")
		return nil
	}
	space, ok := spaceOf(obj.Name, i.prefix)
	if !ok {
		log.Debug().Msg("Ignoring object outside a space folder")
		return nil
	}
	if obj.ContentType != "" && !strings.HasPrefix(obj.ContentType, "image/") {
		log.Warn().Str("content_type", obj.ContentType).Msg("Ignoring non-image object")
		return nil
	}

	currency := obj.Metadata["home_currency"]
	if currency == "" {
		currency = i.defaultCurrency
	}
	tc := tenant.New(space, currency)

	uri := assetstore.URI(i.scheme, obj.Bucket, obj.Name)
	data, err := i.objects.Fetch(ctx, uri)
	if errors.Is(err, assetstore.ErrObjectNotFound) {
		log.Info().Msg("Inbox object already gone")
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetching %s: %w", uri, err)
	}

	res, err := i.capture.Capture(logger.WithContext(ctx, log), tc, pipeline.CaptureRequest{Image: data, Source: receipt.SourceInbox})
	switch {
	case errors.Is(err, pipeline.ErrEmptyImage):
		log.Warn().Msg("Discarding empty inbox object")
	case err != nil:
		return fmt.Errorf("capturing %s: %w", path.Base(obj.Name), err)
	default:
		log.Info().
			Str("tenant_id", tc.ID).
			Str("record_id", res.RecordID).
			Str("state", string(res.Status)).
			Msg("Captured inbox receipt")
	}

	if err := i.objects.Delete(ctx, uri); err != nil {
		log.Warn().Err(err).Msg("Failed to remove inbox object")
	}
	return nil
}
