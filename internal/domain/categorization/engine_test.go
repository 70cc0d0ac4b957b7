package categorization

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/catalog"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/model"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/repository"
)

func debit(description string, amount string) model.Transaction {
	return model.Transaction{
		Description: description,
		Amount:      decimal.RequireFromString(amount),
		Direction:   model.DirectionDebit,
	}
}

func credit(description string, amount string) model.Transaction {
	tx := debit(description, amount)
	tx.Direction = model.DirectionCredit
	return tx
}

// ============================================================================
// Keyword engine
// ============================================================================

func TestKeywordEngine_Score(t *testing.T) {
	engine := NewKeywordEngine(catalog.MustDefault())
	require.Positive(t, engine.TermCount())

	tests := []struct {
		name     string
		tx       model.Transaction
		category string
		conf     float64
	}{
		{"fuel station", debit("ENGEN SANDTON", "850.00"), "Fuel", 0.65},
		{"telecoms", debit("TELKOM 0123456", "599.00"), "Telephone & Internet", 0.65},
		{"rent in range", debit("RENT MARCH", "8500.00"), "Rent", 0.75},
		{"rent below minimum", debit("RENT MARCH", "100.00"), "Rent", 0.5},
		{"income category paid out", debit("REFUND", "100.00"), "Refunds", 0.5},
		{"income category received", credit("REFUND", "100.00"), "Refunds", 0.65},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := engine.Score(tt.tx)
			assert.Equal(t, tt.category, r.Category)
			assert.InDelta(t, tt.conf, r.Confidence, 1e-9)
			assert.NotEmpty(t, r.Justification)
		})
	}
}

func TestKeywordEngine_WholeWordsOnly(t *testing.T) {
	engine := NewKeywordEngine(catalog.MustDefault())

	r := engine.Score(debit("SHELLFISH MARKET", "120.00"))
	assert.NotEqual(t, "Fuel", r.Category)
}

func TestKeywordEngine_CategoryHint(t *testing.T) {
	engine := NewKeywordEngine(catalog.MustDefault())

	t.Run("hint alone", func(t *testing.T) {
		tx := debit("ZXQW 8812", "75.00")
		tx.CategoryHint = "fuel"
		r := engine.Score(tx)
		assert.Equal(t, "Fuel", r.Category)
		assert.InDelta(t, 0.6, r.Confidence, 1e-9)
	})

	t.Run("hint agrees with keywords", func(t *testing.T) {
		tx := debit("ENGEN SANDTON", "850.00")
		tx.CategoryHint = "Fuel"
		r := engine.Score(tx)
		assert.InDelta(t, 0.75, r.Confidence, 1e-9)
	})

	t.Run("unknown hint ignored", func(t *testing.T) {
		tx := debit("ZXQW 8812", "75.00")
		tx.CategoryHint = "Gadgets"
		assert.False(t, engine.Score(tx).Found())
	})
}

func TestKeywordResult_Percent(t *testing.T) {
	assert.Equal(t, 65, KeywordResult{Confidence: 0.65}.Percent())
	assert.Equal(t, 0, KeywordResult{}.Percent())
}

// ============================================================================
// Tenant rules
// ============================================================================

func TestRuleMatcher(t *testing.T) {
	rm := NewRuleMatcher([]repository.AllocationRule{
		{Pattern: "engen", Category: "Travel", HitCount: 1},
		{Pattern: "engen sandton", Category: "Fuel", HitCount: 7},
		{Pattern: "", Category: "Ignored"},
		{Pattern: "acme", Category: "Office Supplies", HitCount: 3},
	})
	assert.Equal(t, 3, rm.Len())

	rule, ok := rm.Match("engen sandton 24h")
	require.True(t, ok)
	assert.Equal(t, "Fuel", rule.Category)

	rule, ok = rm.Match("engen rosebank")
	require.True(t, ok)
	assert.Equal(t, "Travel", rule.Category)

	_, ok = rm.Match("engenx rosebank")
	assert.False(t, ok)

	assert.Equal(t, []string{"Fuel", "Office Supplies"}, rm.TopCategories(2))

	var empty *RuleMatcher
	_, ok = empty.Match("engen")
	assert.False(t, ok)
	assert.Nil(t, empty.TopCategories(3))
}
