package assetstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantRetryable bool
		wantNotFound  bool
	}{
		{name: "service unavailable", err: &googleapi.Error{Code: 503}, wantRetryable: true},
		{name: "rate limited", err: &googleapi.Error{Code: 429}, wantRetryable: true},
		{name: "request timeout", err: &googleapi.Error{Code: 408}, wantRetryable: true},
		{name: "forbidden", err: &googleapi.Error{Code: 403}},
		{name: "unauthorized", err: &googleapi.Error{Code: 401}},
		{name: "precondition failed", err: &googleapi.Error{Code: 412}},
		{name: "wrapped api error", err: fmt.Errorf("writer: %w", &googleapi.Error{Code: 502}), wantRetryable: true},
		{name: "object missing", err: storage.ErrObjectNotExist, wantNotFound: true},
		{name: "network timeout", err: timeoutErr{}, wantRetryable: true},
		{name: "deadline", err: context.DeadlineExceeded, wantRetryable: true},
		{name: "canceled", err: context.Canceled},
		{name: "unknown", err: errors.New("boom")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("upload", "space-1/temp-1.jpg", tt.err)

			var se *StorageError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, "upload", se.Op)
			assert.Equal(t, tt.wantRetryable, se.Retryable)
			assert.Equal(t, tt.wantRetryable, IsRetryable(err))
			assert.Equal(t, tt.wantNotFound, errors.Is(err, ErrObjectNotFound))
		})
	}
}
