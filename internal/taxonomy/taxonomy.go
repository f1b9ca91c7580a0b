// Package taxonomy holds the tenant-scoped categories, purposes and payment
// accounts that recognized receipts are reconciled against.
package taxonomy

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind tells the taxonomy tables apart.
type Kind string

const (
	KindCategory       Kind = "category"
	KindPurpose        Kind = "purpose"
	KindPaymentAccount Kind = "payment_account"
)

// Kinds lists every taxonomy kind.
var Kinds = []Kind{KindCategory, KindPurpose, KindPaymentAccount}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindCategory, KindPurpose, KindPaymentAccount:
		return true
	}
	return false
}

// ParseKind accepts the plural forms used in URLs as well.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "category", "categories":
		return KindCategory, nil
	case "purpose", "purposes":
		return KindPurpose, nil
	case "payment_account", "payment_accounts", "payment-accounts":
		return KindPaymentAccount, nil
	}
	return "", fmt.Errorf("unknown taxonomy kind %q", s)
}

// Built-in purpose keys.
const (
	PurposePersonal = "personal"
	PurposeBusiness = "business"
)

const DefaultColor = "#95A5A6"

var (
	ErrNotFound      = errors.New("taxonomy entity not found")
	ErrDefaultEntity = errors.New("default taxonomy entities cannot be deleted")
	ErrInvalidMerge  = errors.New("invalid merge")
	ErrDuplicateName = errors.New("an entity with this name already exists")
	ErrEmptyName     = errors.New("name must not be empty")
	ErrInvalidKind   = errors.New("invalid taxonomy kind")
)

// Entity is a category, purpose or payment account owned by a tenant.
type Entity struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	Kind        Kind      `json:"kind"`
	Name        string    `json:"name"`
	NameKey     string    `json:"-"`
	Color       string    `json:"color,omitempty"`
	IsDefault   bool      `json:"is_default"`
	IsAICreated bool      `json:"is_ai_created"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// MergeRecord remembers a name that was merged into another entity.
type MergeRecord struct {
	Kind          Kind      `json:"kind"`
	SourceName    string    `json:"source_name"`
	SourceNameKey string    `json:"-"`
	TargetID      string    `json:"target_id"`
	MergedAt      time.Time `json:"merged_at"`
}

//go:generate mockgen -source=taxonomy.go -destination=repository_mock.go -package=taxonomy
type Repository interface {
	// FindOrCreate returns the entity whose name matches case-insensitively,
	// following merge history, and creates it on a miss. Safe under
	// concurrent calls for the same name.
	FindOrCreate(ctx context.Context, tenantID string, kind Kind, name string, aiCreated bool) (*Entity, error)
	Get(ctx context.Context, tenantID, id string) (*Entity, error)
	List(ctx context.Context, tenantID string, kind Kind) ([]*Entity, error)
	Create(ctx context.Context, tenantID string, kind Kind, name, color string) (*Entity, error)
	Rename(ctx context.Context, tenantID, id, name string) (*Entity, error)
	SetColor(ctx context.Context, tenantID, id, color string) error
	Delete(ctx context.Context, tenantID, id string) error

	// Merge reassigns every reference of sourceIDs to targetID and deletes
	// the sources, all or nothing.
	Merge(ctx context.Context, tenantID string, kind Kind, sourceIDs []string, targetID string) error
	MergeHistory(ctx context.Context, tenantID string, kind Kind) ([]MergeRecord, error)

	// Seed inserts the defaults missing for tenantID.
	Seed(ctx context.Context, tenantID string, defaults Defaults) error
}

// ValidateMerge checks the shape of a merge request before any store work.
func ValidateMerge(sourceIDs []string, targetID string) error {
	if targetID == "" {
		return fmt.Errorf("%w: target is required", ErrInvalidMerge)
	}
	if len(sourceIDs) == 0 {
		return fmt.Errorf("%w: no source entities", ErrInvalidMerge)
	}
	for _, id := range sourceIDs {
		if id == targetID {
			return fmt.Errorf("%w: cannot merge an entity into itself", ErrInvalidMerge)
		}
	}
	return nil
}
