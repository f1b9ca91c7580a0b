package tenant

import (
	"context"
	"errors"
	"strings"
)

// ErrMissing is returned when a request carries no tenant.
var ErrMissing = errors.New("tenant context is missing")

// Context identifies the space that owns records and taxonomy rows.
// It is always passed explicitly into pipeline and repository calls.
type Context struct {
	ID           string `json:"id"`
	HomeCurrency string `json:"home_currency"`
}

// New builds a Context, upper-casing the currency code.
func New(id, homeCurrency string) Context {
	return Context{
		ID:           strings.TrimSpace(id),
		HomeCurrency: strings.ToUpper(strings.TrimSpace(homeCurrency)),
	}
}

// Validate reports whether the tenant can be used for writes.
func (c Context) Validate() error {
	if c.ID == "" {
		return ErrMissing
	}
	return nil
}

type contextKey struct{}

// WithContext stores the tenant on ctx. Only the HTTP boundary uses this;
// pipeline code receives the tenant as an argument.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, contextKey{}, tc)
}

// FromContext returns the tenant stored by WithContext.
func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(contextKey{}).(Context)
	return tc, ok
}
