package assetstore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrObjectNotFound is wrapped by StorageError when the object is missing.
var ErrObjectNotFound = errors.New("object not found")

// StorageError is returned by every Store operation.
type StorageError struct {
	Op        string
	Key       string
	Retryable bool
	Err       error
}

func (e *StorageError) Error() string {
	kind := "permanent"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("storage %s %q (%s): %v", e.Op, e.Key, kind, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a StorageError worth another attempt.
func IsRetryable(err error) bool {
	var se *StorageError
	return errors.As(err, &se) && se.Retryable
}

// RetryableStatus classifies an HTTP status returned by an object store.
func RetryableStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return true
	default:
		return false
	}
}

// isTransportError covers failures below the HTTP layer.
func isTransportError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
