package assetstore

import (
	"context"
	"time"

	"github.com/dvloznov/receipt-capture/internal/logger"
	"github.com/dvloznov/receipt-capture/internal/retry"
)

type retryingStore struct {
	next   Store
	policy retry.Policy
}

// WithRetry wraps next so retryable StorageErrors get policy.Retries more
// attempts with backoff.
func WithRetry(next Store, policy retry.Policy) Store {
	return &retryingStore{next: next, policy: policy}
}

func (s *retryingStore) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	onRetry := func(attempt int, err error, pause time.Duration) {
		log := logger.FromContext(ctx)
		log.Warn().
			Err(err).
			Str("op", op).
			Int("attempt", attempt).
			Dur("backoff", pause).
			Msg("Retrying storage operation")
	}
	return retry.Do(ctx, s.policy, IsRetryable, onRetry, fn)
}

func (s *retryingStore) UploadTemp(ctx context.Context, data []byte, tempKey, contentType string) (string, error) {
	var uri string
	err := s.do(ctx, "upload", func(ctx context.Context) error {
		var err error
		uri, err = s.next.UploadTemp(ctx, data, tempKey, contentType)
		return err
	})
	return uri, err
}

func (s *retryingStore) Promote(ctx context.Context, tempURI, recordID string) (string, error) {
	var uri string
	err := s.do(ctx, "promote", func(ctx context.Context) error {
		var err error
		uri, err = s.next.Promote(ctx, tempURI, recordID)
		return err
	})
	return uri, err
}

func (s *retryingStore) Fetch(ctx context.Context, uri string) ([]byte, error) {
	var data []byte
	err := s.do(ctx, "fetch", func(ctx context.Context) error {
		var err error
		data, err = s.next.Fetch(ctx, uri)
		return err
	})
	return data, err
}

func (s *retryingStore) Delete(ctx context.Context, uri string) error {
	return s.do(ctx, "delete", func(ctx context.Context) error {
		return s.next.Delete(ctx, uri)
	})
}
