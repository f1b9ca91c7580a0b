// Package receipt models expense records captured from receipt photos and
// the lifecycle they move through while being recognized.
package receipt

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Status is where a record is in its lifecycle.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusConfirmed  Status = "confirmed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusConfirmed, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether a pipeline run is over.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// FailureReason tells the user which part of the pipeline gave up.
type FailureReason string

const (
	ReasonRecognitionFailed FailureReason = "recognition_failed"
	ReasonSavingFailed      FailureReason = "saving_failed"
	ReasonTimedOut          FailureReason = "timed_out"
)

// PlaceholderMerchant is shown while a record is being recognized and kept
// on records that fail.
const PlaceholderMerchant = "Processing..."

// Capture sources.
const (
	SourceAPI   = "api"
	SourceCLI   = "cli"
	SourceInbox = "inbox"
)

var (
	ErrNotFound       = errors.New("expense record not found")
	ErrStatusConflict = errors.New("expense record is not in the expected status")
	ErrInvalidStatus  = errors.New("invalid status transition")

	// ErrInvalidReference is returned when an edit names a category,
	// purpose or payment account the tenant does not own.
	ErrInvalidReference = errors.New("unknown taxonomy reference")
)

// LineItem is one purchased item on a record.
type LineItem struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	CategoryID string          `json:"category_id,omitempty"`
	Purpose    string          `json:"purpose"`
	Price      decimal.Decimal `json:"price"`
	IsAsset    bool            `json:"is_asset"`
	Confidence *float64        `json:"confidence,omitempty"`
}

// Record is an expense record captured from one receipt image.
type Record struct {
	ID               string              `json:"id"`
	TenantID         string              `json:"tenant_id"`
	MerchantName     string              `json:"merchant_name"`
	TotalAmount      decimal.Decimal     `json:"total_amount"`
	Tax              decimal.NullDecimal `json:"tax"`
	Currency         string              `json:"currency"`
	Date             civil.Date          `json:"date"`
	Status           Status              `json:"status"`
	ImageRef         string              `json:"image_ref"`
	Items            []LineItem          `json:"items"`
	PaymentAccountID string              `json:"payment_account_id,omitempty"`
	Confidence       *float64            `json:"confidence,omitempty"`
	FailureReason    FailureReason       `json:"failure_reason,omitempty"`
	FailureDetail    string              `json:"failure_detail,omitempty"`
	Source           string              `json:"source"`
	Attempts         int                 `json:"attempts"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// Draft is what the synchronous capture step knows about a new record.
type Draft struct {
	ImageRef    string
	Currency    string
	CaptureDate civil.Date
	Source      string
}

// Outcome is the reconciled result written by Finalize.
type Outcome struct {
	MerchantName     string
	TotalAmount      decimal.Decimal
	Tax              decimal.NullDecimal
	Currency         string
	Date             civil.Date
	PaymentAccountID string
	Confidence       float64
	Items            []LineItem
}

// Patch carries the optional fields UpdateStatus may set alongside the
// status.
type Patch struct {
	FailureReason FailureReason
	FailureDetail string
}

// Edit is a user's hand correction. It replaces every editable field and
// confirms the record.
type Edit struct {
	MerchantName     string
	TotalAmount      decimal.Decimal
	Tax              decimal.NullDecimal
	Currency         string
	Date             civil.Date
	PaymentAccountID string
	Items            []LineItem
}

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	Status Status
	Limit  int
	Offset int
}

//go:generate mockgen -source=receipt.go -destination=repository_mock.go -package=receipt
type Repository interface {
	// Create inserts a processing record with placeholder fields.
	Create(ctx context.Context, tenantID string, draft Draft) (string, error)
	Get(ctx context.Context, tenantID, id string) (*Record, error)
	List(ctx context.Context, tenantID string, filter ListFilter) ([]*Record, error)
	// ListStale returns processing records, across tenants, untouched since
	// before olderThan.
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*Record, error)

	// UpdateStatus, Finalize and MarkFailed only apply while the record is
	// processing and return ErrStatusConflict otherwise.
	UpdateStatus(ctx context.Context, tenantID, id string, status Status, patch Patch) error
	Finalize(ctx context.Context, tenantID, id string, outcome Outcome) error
	MarkFailed(ctx context.Context, tenantID, id string, reason FailureReason, detail string) error

	// Reopen moves a failed record back to processing for a manual retry.
	Reopen(ctx context.Context, tenantID, id string) error
	Update(ctx context.Context, tenantID, id string, edit Edit) (*Record, error)
	// UpdateImageRef swaps the image reference if it still equals from.
	UpdateImageRef(ctx context.Context, tenantID, id, from, to string) error
	Delete(ctx context.Context, tenantID, id string) error
}

// NewDraft fills in the defaults of a capture made now.
func NewDraft(imageRef, currency, source string, now time.Time) Draft {
	if source == "" {
		source = SourceAPI
	}
	return Draft{
		ImageRef:    imageRef,
		Currency:    currency,
		CaptureDate: civil.DateOf(now),
		Source:      source,
	}
}
