package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyImage is returned by Capture for a zero-length upload.
var ErrEmptyImage = errors.New("captured image is empty")

// FinalizeError means recognition succeeded but its outcome could not be
// stored. The record is failed with reason saving_failed.
type FinalizeError struct {
	RecordID string
	Err      error
}

func (e *FinalizeError) Error() string {
	return fmt.Sprintf("finalizing record %s: %v", e.RecordID, e.Err)
}

func (e *FinalizeError) Unwrap() error { return e.Err }

const maxFailureDetail = 500

// failureDetail is the message stored on a failed record.
func failureDetail(err error) string {
	msg := err.Error()
	if len(msg) > maxFailureDetail {
		msg = strings.ToValidUTF8(msg[:maxFailureDetail], "")
	}
	return msg
}
