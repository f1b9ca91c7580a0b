// Package recognition turns a receipt image into candidate expense fields
// using a vision model.
package recognition

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/receipt-capture/internal/tenant"
)

// Amount is a numeric field exactly as the model wrote it. It is checked
// by the reconciler, which zeroes values that do not parse.
type Amount string

// Decimal parses a non-negative finite amount.
func (a Amount) Decimal() (decimal.Decimal, error) {
	s := strings.TrimSpace(string(a))
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("amount %q is not a number", s)
	}
	if f, _ := d.Float64(); math.IsInf(f, 0) {
		return decimal.Zero, fmt.Errorf("amount %q is not finite", s)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("amount %q is negative", s)
	}
	return d, nil
}

type Item struct {
	Name         string   `json:"name"`
	CategoryName string   `json:"category_name"`
	Price        Amount   `json:"price"`
	Purpose      string   `json:"purpose,omitempty"`
	IsAsset      *bool    `json:"is_asset,omitempty"`
	Confidence   *float64 `json:"confidence,omitempty"`
}

// Result is the validated shape of one model response. Optional fields
// are empty or nil when the model left them out.
type Result struct {
	MerchantName       string   `json:"merchant_name"`
	Date               string   `json:"date"`
	TotalAmount        Amount   `json:"total_amount"`
	Currency           string   `json:"currency,omitempty"`
	PaymentAccountName string   `json:"payment_account_name,omitempty"`
	Tax                *Amount  `json:"tax,omitempty"`
	Items              []Item   `json:"items"`
	Confidence         *float64 `json:"confidence,omitempty"`

	// Model is the model that produced the result and Raw its unparsed text.
	Model string `json:"-"`
	Raw   string `json:"-"`
}

// Hints are the tenant's existing taxonomy names, passed to the model so it
// reuses them instead of inventing near duplicates.
type Hints struct {
	Categories      []string
	PaymentAccounts []string
	Purposes        []string
}

//go:generate mockgen -source=recognition.go -destination=recognizer_mock.go -package=recognition
type Recognizer interface {
	Recognize(ctx context.Context, image []byte, mimeType string, tc tenant.Context, hints Hints) (*Result, error)
}
