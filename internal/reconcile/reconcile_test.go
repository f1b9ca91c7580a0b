package reconcile_test

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/dvloznov/receipt-capture/internal/database/databasetest"
	"github.com/dvloznov/receipt-capture/internal/reconcile"
	"github.com/dvloznov/receipt-capture/internal/recognition"
	"github.com/dvloznov/receipt-capture/internal/taxonomy"
	"github.com/dvloznov/receipt-capture/internal/taxonomy/store"
	"github.com/dvloznov/receipt-capture/internal/tenant"
)

var (
	space       = tenant.New("space-1", "CNY")
	captureDate = civil.Date{Year: 2024, Month: 3, Day: 5}
)

func cafeLuna() *recognition.Result {
	return &recognition.Result{
		MerchantName: "Cafe Luna",
		TotalAmount:  "12.5",
		Date:         "2024-03-01",
		Items: []recognition.Item{
			{Name: "Latte", CategoryName: "Food", Price: "5.5"},
			{Name: "Bagel", CategoryName: "food", Price: "7.0"},
		},
	}
}

func amountPtr(a recognition.Amount) *recognition.Amount { return &a }

func TestReconcile_CafeLunaCreatesOneCategory(t *testing.T) {
	ctx := context.Background()
	db := databasetest.New(t)
	tax := store.NewStore(db)

	res, err := reconcile.NewEngine(tax).Reconcile(ctx, space, cafeLuna(), captureDate)
	require.NoError(t, err)
	assert.Empty(t, res.FieldErrors)

	categories, err := tax.List(ctx, space.ID, taxonomy.KindCategory)
	require.NoError(t, err)
	require.Len(t, categories, 1)
	assert.Equal(t, "Food", categories[0].Name)

	o := res.Outcome
	assert.Equal(t, "Cafe Luna", o.MerchantName)
	assert.Equal(t, "CNY", o.Currency)
	assert.Equal(t, civil.Date{Year: 2024, Month: 3, Day: 1}, o.Date)
	assert.True(t, o.TotalAmount.Equal(decimal.RequireFromString("12.5")))
	assert.False(t, o.Tax.Valid)
	assert.InDelta(t, reconcile.DefaultConfidence, o.Confidence, 1e-9)

	require.Len(t, o.Items, 2)
	for _, item := range o.Items {
		assert.Equal(t, categories[0].ID, item.CategoryID)
		assert.Equal(t, taxonomy.PurposePersonal, item.Purpose)
		assert.False(t, item.IsAsset)
		require.NotNil(t, item.Confidence)
	}
	assert.True(t, o.Items[1].Price.Equal(decimal.RequireFromString("7")))
}

func TestReconcile_FieldErrorsLowerConfidence(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := taxonomy.NewMockRepository(ctrl)
	repo.EXPECT().
		FindOrCreate(gomock.Any(), space.ID, taxonomy.KindCategory, "Food", false).
		Return(&taxonomy.Entity{ID: "cat-food"}, nil)

	conf := 0.9
	in := &recognition.Result{
		MerchantName: "Corner Shop",
		TotalAmount:  "-3",
		Date:         "03/01/2024",
		Currency:     "EURO",
		Tax:          amountPtr("n/a"),
		Confidence:   &conf,
		Items: []recognition.Item{
			{Name: "Milk", CategoryName: "Food", Price: "abc"},
			{Name: "Bread", CategoryName: "Food", Price: "2.40"},
		},
	}

	res, err := reconcile.NewEngine(repo).Reconcile(context.Background(), space, in, captureDate)
	require.NoError(t, err)

	fields := make([]string, 0, len(res.FieldErrors))
	for _, fe := range res.FieldErrors {
		fields = append(fields, fe.Field)
	}
	assert.ElementsMatch(t, []string{"total_amount", "tax", "currency", "date", "items[0].price"}, fields)

	o := res.Outcome
	assert.True(t, o.TotalAmount.IsZero())
	require.True(t, o.Tax.Valid)
	assert.True(t, o.Tax.Decimal.IsZero())
	assert.Equal(t, "CNY", o.Currency)
	assert.Equal(t, captureDate, o.Date)
	assert.True(t, o.Items[0].Price.IsZero())
	assert.True(t, o.Items[1].Price.Equal(decimal.RequireFromString("2.4")))
	assert.InDelta(t, 0.4, o.Confidence, 1e-9)
}

func TestReconcile_ConfidenceFloor(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := taxonomy.NewMockRepository(ctrl)
	repo.EXPECT().FindOrCreate(gomock.Any(), gomock.Any(), taxonomy.KindCategory, gomock.Any(), false).
		Return(&taxonomy.Entity{ID: "cat"}, nil).AnyTimes()

	conf := 0.15
	in := &recognition.Result{
		MerchantName: "x",
		TotalAmount:  "bad",
		Date:         "bad",
		Confidence:   &conf,
		Items:        []recognition.Item{{Name: "a", CategoryName: "b", Price: "bad"}},
	}

	res, err := reconcile.NewEngine(repo).Reconcile(context.Background(), space, in, captureDate)
	require.NoError(t, err)
	assert.Zero(t, res.Outcome.Confidence)
}

func TestReconcile_PaymentAccountAndPurposes(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := taxonomy.NewMockRepository(ctrl)

	repo.EXPECT().FindOrCreate(gomock.Any(), space.ID, taxonomy.KindCategory, "Electronics", false).
		Return(&taxonomy.Entity{ID: "cat-el"}, nil)
	repo.EXPECT().FindOrCreate(gomock.Any(), space.ID, taxonomy.KindPaymentAccount, "Visa ****1234", true).
		Return(&taxonomy.Entity{ID: "acct-visa", IsAICreated: true}, nil)
	repo.EXPECT().FindOrCreate(gomock.Any(), space.ID, taxonomy.KindPurpose, "Reimbursable", true).
		Return(&taxonomy.Entity{ID: "pur-r", NameKey: "reimbursable"}, nil)

	asset := true
	in := &recognition.Result{
		MerchantName:       "Tech Mart",
		TotalAmount:        "300",
		Date:               "2024-03-01",
		Currency:           "USD",
		PaymentAccountName: "Visa ****1234",
		Items: []recognition.Item{
			{Name: "Monitor", CategoryName: "Electronics", Price: "200", Purpose: "Business", IsAsset: &asset},
			{Name: "Cable", CategoryName: "Electronics", Price: "40", Purpose: "Reimbursable"},
			{Name: "Mouse", CategoryName: "Electronics", Price: "60"},
		},
	}

	res, err := reconcile.NewEngine(repo, reconcile.WithConcurrency(1)).Reconcile(context.Background(), space, in, captureDate)
	require.NoError(t, err)

	o := res.Outcome
	assert.Equal(t, "acct-visa", o.PaymentAccountID)
	assert.Equal(t, "USD", o.Currency)
	assert.Equal(t, taxonomy.PurposeBusiness, o.Items[0].Purpose)
	assert.True(t, o.Items[0].IsAsset)
	assert.Equal(t, "reimbursable", o.Items[1].Purpose)
	assert.Equal(t, taxonomy.PurposePersonal, o.Items[2].Purpose)
}

func TestReconcile_RepositoryErrorAborts(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := taxonomy.NewMockRepository(ctrl)
	boom := errors.New("database is locked")
	repo.EXPECT().FindOrCreate(gomock.Any(), gomock.Any(), taxonomy.KindCategory, gomock.Any(), false).
		Return(nil, boom).AnyTimes()

	_, err := reconcile.NewEngine(repo).Reconcile(context.Background(), space, cafeLuna(), captureDate)
	assert.ErrorIs(t, err, boom)
}

func TestFieldError(t *testing.T) {
	inner := errors.New("not a number")
	fe := &reconcile.FieldError{Field: "tax", Value: "n/a", Err: inner}
	assert.ErrorIs(t, fe, inner)
	assert.Contains(t, fe.Error(), "tax")
}
