// Package reconcile maps the free text of a recognition result onto the
// tenant's taxonomy and produces the outcome a record is finalized with.
package reconcile

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/dvloznov/receipt-capture/internal/receipt"
	"github.com/dvloznov/receipt-capture/internal/recognition"
	"github.com/dvloznov/receipt-capture/internal/taxonomy"
	"github.com/dvloznov/receipt-capture/internal/tenant"
)

const (
	// DefaultConfidence is used when the model does not report one.
	DefaultConfidence = 0.8
	// FieldPenalty is taken off the record confidence for every field that
	// had to be defaulted.
	FieldPenalty = 0.1

	defaultConcurrency = 4
)

// FieldError records a field that could not be used as recognized and was
// replaced by a safe default.
type FieldError struct {
	Field string
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %s (%q): %v", e.Field, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// Resolver finds or creates taxonomy entities. taxonomy.Repository
// satisfies it.
type Resolver interface {
	FindOrCreate(ctx context.Context, tenantID string, kind taxonomy.Kind, name string, aiCreated bool) (*taxonomy.Entity, error)
}

// Result is the outcome to finalize with plus the fields that were defaulted.
type Result struct {
	Outcome     receipt.Outcome
	FieldErrors []*FieldError
}

// Engine reconciles recognition results against a tenant's taxonomy.
type Engine struct {
	resolver    Resolver
	concurrency int
}

// Option configures an Engine.
type Option func(*Engine)

// WithConcurrency bounds how many category lookups run at once.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// NewEngine creates an Engine resolving entities through resolver.
func NewEngine(resolver Resolver, opts ...Option) *Engine {
	e := &Engine{resolver: resolver, concurrency: defaultConcurrency}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reconcile never fails on bad field values; those become FieldErrors. An
// error is returned only when the taxonomy cannot be read or written.
// captureDate replaces a date that does not parse.
func (e *Engine) Reconcile(ctx context.Context, tc tenant.Context, res *recognition.Result, captureDate civil.Date) (*Result, error) {
	out := &Result{}
	fail := func(field, value string, err error) {
		out.FieldErrors = append(out.FieldErrors, &FieldError{Field: field, Value: value, Err: err})
	}

	categories, err := e.resolveCategories(ctx, tc.ID, res.Items)
	if err != nil {
		return nil, err
	}

	o := receipt.Outcome{
		MerchantName: res.MerchantName,
		Currency:     res.Currency,
		Items:        make([]receipt.LineItem, 0, len(res.Items)),
	}

	o.TotalAmount = amount(res.TotalAmount, "total_amount", fail)

	if res.Tax != nil {
		o.Tax = decimal.NewNullDecimal(amount(*res.Tax, "tax", fail))
	}

	if !validCurrency(o.Currency) {
		if o.Currency != "" {
			fail("currency", o.Currency, fmt.Errorf("not an ISO 4217 code"))
		}
		o.Currency = tc.HomeCurrency
	}

	o.Date = captureDate
	if d, err := civil.ParseDate(res.Date); err != nil {
		fail("date", res.Date, fmt.Errorf("not a YYYY-MM-DD date"))
	} else {
		o.Date = d
	}

	if res.PaymentAccountName != "" {
		account, err := e.resolver.FindOrCreate(ctx, tc.ID, taxonomy.KindPaymentAccount, res.PaymentAccountName, true)
		if err != nil {
			return nil, fmt.Errorf("resolving payment account %q: %w", res.PaymentAccountName, err)
		}
		o.PaymentAccountID = account.ID
	}

	for i, item := range res.Items {
		purpose, err := e.resolvePurpose(ctx, tc.ID, item.Purpose)
		if err != nil {
			return nil, err
		}

		li := receipt.LineItem{
			Name:       item.Name,
			CategoryID: categories[taxonomy.NameKey(item.CategoryName)],
			Purpose:    purpose,
			Price:      amount(item.Price, fmt.Sprintf("items[%d].price", i), fail),
			Confidence: item.Confidence,
		}
		if item.IsAsset != nil {
			li.IsAsset = *item.IsAsset
		}
		if li.Confidence == nil {
			c := DefaultConfidence
			li.Confidence = &c
		}
		o.Items = append(o.Items, li)
	}

	o.Confidence = DefaultConfidence
	if res.Confidence != nil {
		o.Confidence = clamp(*res.Confidence)
	}
	o.Confidence = clamp(o.Confidence - FieldPenalty*float64(len(out.FieldErrors)))

	out.Outcome = o
	return out, nil
}

// resolveCategories looks up every distinct category name once, in
// parallel, and returns entity ids keyed by name key.
func (e *Engine) resolveCategories(ctx context.Context, tenantID string, items []recognition.Item) (map[string]string, error) {
	names := make(map[string]string)
	for _, item := range items {
		if key := taxonomy.NameKey(item.CategoryName); key != "" {
			if _, ok := names[key]; !ok {
				names[key] = item.CategoryName
			}
		}
	}

	var (
		mu  sync.Mutex
		ids = make(map[string]string, len(names))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for key, name := range names {
		g.Go(func() error {
			entity, err := e.resolver.FindOrCreate(gctx, tenantID, taxonomy.KindCategory, name, false)
			if err != nil {
				return fmt.Errorf("resolving category %q: %w", name, err)
			}
			mu.Lock()
			ids[key] = entity.ID
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ids, nil
}

// resolvePurpose returns the purpose key stored on a line item. The two
// built-in purposes never need a lookup.
func (e *Engine) resolvePurpose(ctx context.Context, tenantID, name string) (string, error) {
	key := taxonomy.NameKey(name)
	switch key {
	case "", taxonomy.PurposePersonal:
		return taxonomy.PurposePersonal, nil
	case taxonomy.PurposeBusiness:
		return taxonomy.PurposeBusiness, nil
	}

	entity, err := e.resolver.FindOrCreate(ctx, tenantID, taxonomy.KindPurpose, name, true)
	if err != nil {
		return "", fmt.Errorf("resolving purpose %q: %w", name, err)
	}
	return entity.NameKey, nil
}

func amount(a recognition.Amount, field string, fail func(field, value string, err error)) decimal.Decimal {
	d, err := a.Decimal()
	if err != nil {
		fail(field, string(a), err)
		return decimal.Zero
	}
	return d.Round(2)
}

func validCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	return strings.Trim(code, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") == ""
}

func clamp(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
