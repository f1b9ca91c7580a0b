package taxonomy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/receipt-capture/internal/taxonomy"
)

func TestNameKey(t *testing.T) {
	tests := []struct {
		a, b  string
		equal bool
	}{
		{"Food", "food", true},
		{"  Dining   Out ", "dining out", true},
		{"STRASSE", "straße", true},
		{"Visa ****1234", "visa *1234", true},
		{"Ｃａｓｈ", "cash", true},
		{"Grocery", "Groceries", false},
		{"Visa 1234", "Visa 5678", false},
	}

	for _, tt := range tests {
		t.Run(tt.a+"|"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.equal, taxonomy.NameKey(tt.a) == taxonomy.NameKey(tt.b))
		})
	}

	assert.Empty(t, taxonomy.NameKey("   "))
}

func TestCleanName(t *testing.T) {
	assert.Equal(t, "Dining Out", taxonomy.CleanName("  Dining \t Out\n"))
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]taxonomy.Kind{
		"categories":       taxonomy.KindCategory,
		"purpose":          taxonomy.KindPurpose,
		"payment-accounts": taxonomy.KindPaymentAccount,
		"payment_account":  taxonomy.KindPaymentAccount,
	} {
		got, err := taxonomy.ParseKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := taxonomy.ParseKind("merchants")
	assert.Error(t, err)
}

func TestValidateMerge(t *testing.T) {
	assert.NoError(t, taxonomy.ValidateMerge([]string{"a", "b"}, "c"))
	assert.ErrorIs(t, taxonomy.ValidateMerge(nil, "c"), taxonomy.ErrInvalidMerge)
	assert.ErrorIs(t, taxonomy.ValidateMerge([]string{"a"}, ""), taxonomy.ErrInvalidMerge)
	assert.ErrorIs(t, taxonomy.ValidateMerge([]string{"a", "c"}, "c"), taxonomy.ErrInvalidMerge)
}

func TestLoadDefaults(t *testing.T) {
	d, err := taxonomy.LoadDefaults()
	require.NoError(t, err)

	assert.Len(t, d.Categories, 11)
	assert.Len(t, d.Of(taxonomy.KindPurpose), 2)
	assert.NotEmpty(t, d.PaymentAccounts)
	assert.Equal(t, "Groceries", d.Categories[0].Name)
}

func TestParseDefaults_Invalid(t *testing.T) {
	tests := map[string]string{
		"duplicate category": "categories:\n  - name: Food\n  - name: food\npurposes:\n  - name: personal\n  - name: business\n",
		"missing purpose":    "purposes:\n  - name: personal\n",
		"empty name":         "categories:\n  - name: \"  \"\npurposes:\n  - name: personal\n  - name: business\n",
		"not yaml":           "categories: [",
	}

	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := taxonomy.ParseDefaults([]byte(doc))
			assert.Error(t, err)
		})
	}
}
