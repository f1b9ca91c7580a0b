package recognition

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// ParseError means the model answered but the answer does not have the
// expected shape. Retrying does not help.
type ParseError struct {
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return "recognition: unusable response: " + e.Reason
	}
	return fmt.Sprintf("recognition: field %q: %s", e.Field, e.Reason)
}

// TransientError wraps timeouts, rate limits and server or network
// failures. The call may succeed if repeated.
type TransientError struct {
	Model string
	Err   error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("recognition with %s failed temporarily: %v", e.Model, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError covers credential, permission and exhausted quota failures.
type FatalError struct {
	Model string
	Err   error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("recognition with %s failed: %v", e.Model, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a TransientError.
func IsRetryable(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

func apiError(err error) (*genai.APIError, bool) {
	var v genai.APIError
	if errors.As(err, &v) {
		return &v, true
	}
	var p *genai.APIError
	if errors.As(err, &p) && p != nil {
		return p, true
	}
	return nil, false
}

func isModelNotFound(err error) bool {
	apiErr, ok := apiError(err)
	return ok && apiErr.Code == http.StatusNotFound
}

// classify maps a GenerateContent error onto TransientError or FatalError.
func classify(model string, err error) error {
	if apiErr, ok := apiError(err); ok {
		switch {
		case apiErr.Code == http.StatusUnauthorized, apiErr.Code == http.StatusForbidden:
			return &FatalError{Model: model, Err: err}
		case apiErr.Code == http.StatusTooManyRequests:
			if quotaExhausted(apiErr) {
				return &FatalError{Model: model, Err: err}
			}
			return &TransientError{Model: model, Err: err}
		case apiErr.Code == http.StatusRequestTimeout, apiErr.Code >= 500:
			return &TransientError{Model: model, Err: err}
		default:
			// Remaining 4xx, including an invalid API key reported as 400.
			return &FatalError{Model: model, Err: err}
		}
	}

	// Deadlines, resets and other transport failures never reach the API.
	return &TransientError{Model: model, Err: err}
}

// quotaExhausted tells a spent quota apart from a short rate limit. Both
// come back as 429 RESOURCE_EXHAUSTED; only the former carries a
// QuotaFailure detail.
func quotaExhausted(apiErr *genai.APIError) bool {
	if apiErr.Status != "RESOURCE_EXHAUSTED" {
		return false
	}
	for _, d := range apiErr.Details {
		if t, ok := d["@type"].(string); ok && strings.HasSuffix(t, "google.rpc.QuotaFailure") {
			return true
		}
	}
	return strings.Contains(strings.ToLower(apiErr.Message), "quota")
}
