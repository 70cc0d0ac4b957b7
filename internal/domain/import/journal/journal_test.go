package journal

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/catalog"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/model"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func allocated(id, date, description, amount string, dir model.Direction, category string) model.AllocatedTransaction {
	return model.AllocatedTransaction{
		Transaction: model.Transaction{
			ID:          id,
			Date:        date,
			DateParsed:  date != "",
			Description: description,
			Amount:      d(amount),
			Direction:   dir,
		},
		SuggestedCategory: category,
	}
}

func newCreator(opts Options) *Creator {
	return NewCreator(catalog.MustDefault(), opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// ============================================================================
// Tax extraction
// ============================================================================

func TestExtractInclusiveTax(t *testing.T) {
	tests := []struct {
		gross, rate, tax, net string
	}{
		{"115.00", "0.15", "15.00", "100.00"},
		{"100.00", "0.15", "13.04", "86.96"},
		{"0.01", "0.15", "0.00", "0.01"},
		{"250.00", "0", "0", "250.00"},
	}
	for _, tt := range tests {
		t.Run(tt.gross+"@"+tt.rate, func(t *testing.T) {
			tax, net := ExtractInclusiveTax(d(tt.gross), d(tt.rate))
			assert.True(t, d(tt.tax).Equal(tax), "tax %s", tax)
			assert.True(t, d(tt.net).Equal(net), "net %s", net)
			assert.True(t, d(tt.gross).Equal(tax.Add(net)))
		})
	}
}

// ============================================================================
// Entries
// ============================================================================

func TestCreate_ClaimableExpenseThreeLines(t *testing.T) {
	c := newCreator(Options{ExtractTax: true})
	res := c.Create([]model.AllocatedTransaction{
		allocated("t1", "2025-02-03", "TELKOM", "115.00", model.DirectionDebit, "Telephone & Internet"),
	})
	require.Len(t, res.Entries, 1)
	e := res.Entries[0]

	assert.Equal(t, "2025-02-001", e.Number)
	_, err := uuid.Parse(e.ID)
	assert.NoError(t, err)
	assert.True(t, e.Balanced)
	require.Len(t, e.Lines, 3)

	assert.Equal(t, "6200", e.Lines[0].Account)
	assert.True(t, d("100.00").Equal(e.Lines[0].Debit))
	assert.Equal(t, "2200", e.Lines[1].Account)
	assert.True(t, d("15.00").Equal(e.Lines[1].Debit))
	assert.Equal(t, "1000", e.Lines[2].Account)
	assert.True(t, d("115.00").Equal(e.Lines[2].Credit))

	assert.True(t, d("15.00").Equal(res.Summary.VATInput))
	assert.True(t, res.Summary.VATOutput.IsZero())
}

func TestCreate_TaxDeniedTwoLines(t *testing.T) {
	c := newCreator(Options{ExtractTax: true})
	res := c.Create([]model.AllocatedTransaction{
		allocated("t1", "2025-02-15", "ENGEN SANDTON", "850.00", model.DirectionDebit, "Fuel"),
	})
	require.Len(t, res.Entries, 1)
	e := res.Entries[0]
	require.Len(t, e.Lines, 2)
	assert.Equal(t, "6100", e.Lines[0].Account)
	assert.True(t, d("850.00").Equal(e.Lines[0].Debit))
	assert.True(t, d("850.00").Equal(e.Lines[1].Credit))
	assert.True(t, res.Summary.VATInput.IsZero())
}

func TestCreate_SalesCredit(t *testing.T) {
	c := newCreator(Options{ExtractTax: true})
	res := c.Create([]model.AllocatedTransaction{
		allocated("t1", "2025-03-01", "INV 1001 ACME", "230.00", model.DirectionCredit, "Sales"),
	})
	require.Len(t, res.Entries, 1)
	e := res.Entries[0]
	require.Len(t, e.Lines, 3)

	assert.Equal(t, "1000", e.Lines[0].Account)
	assert.True(t, d("230.00").Equal(e.Lines[0].Debit))
	assert.True(t, d("200.00").Equal(e.Lines[1].Credit))
	assert.Equal(t, "2210", e.Lines[2].Account)
	assert.True(t, d("30.00").Equal(e.Lines[2].Credit))
	assert.True(t, d("30.00").Equal(res.Summary.VATOutput))
}

func TestCreate_DirectionDecidesBankSide(t *testing.T) {
	c := newCreator(Options{})
	res := c.Create([]model.AllocatedTransaction{
		// a refund paid out against a sales category still leaves the bank
		allocated("t1", "2025-03-02", "REFUND INV 1001", "50.00", model.DirectionDebit, "Sales"),
		allocated("t2", "2025-03-03", "INV 1002 ACME", "80.00", "", "Sales"),
		allocated("t3", "2025-03-04", "ENGEN SANDTON", "40.00", "", "Fuel"),
	})
	require.Len(t, res.Entries, 3)

	bankSide := func(e model.JournalEntry) string {
		for _, l := range e.Lines {
			if l.Account != "1000" {
				continue
			}
			if l.Debit.IsPositive() {
				return "debit"
			}
			return "credit"
		}
		return ""
	}
	assert.Equal(t, "credit", bankSide(res.Entries[0]))
	assert.Equal(t, "debit", bankSide(res.Entries[1]))
	assert.Equal(t, "credit", bankSide(res.Entries[2]))
}

func TestCreate_NoTaxExtraction(t *testing.T) {
	c := newCreator(Options{})
	res := c.Create([]model.AllocatedTransaction{
		allocated("t1", "2025-02-03", "TELKOM", "115.00", model.DirectionDebit, "Telephone & Internet"),
	})
	require.Len(t, res.Entries, 1)
	assert.Len(t, res.Entries[0].Lines, 2)
}

func TestCreate_TaxHint(t *testing.T) {
	c := newCreator(Options{ExtractTax: true})
	at := allocated("t1", "2025-02-03", "WALTONS", "120.00", model.DirectionDebit, "Office Supplies")
	hint := d("12.00")
	at.TaxHint = &hint

	res := c.Create([]model.AllocatedTransaction{at})
	require.Len(t, res.Entries, 1)
	assert.True(t, d("12.00").Equal(res.Entries[0].Lines[1].Debit))
	assert.True(t, d("108.00").Equal(res.Entries[0].Lines[0].Debit))
}

func TestCreate_ConfirmedCategoryWins(t *testing.T) {
	c := newCreator(Options{})
	at := allocated("t1", "2025-02-03", "TELKOM", "115.00", model.DirectionDebit, "Telephone & Internet")
	at.ConfirmedCategory = "Computer Expenses"

	res := c.Create([]model.AllocatedTransaction{at})
	require.Len(t, res.Entries, 1)
	assert.Equal(t, "Computer Expenses", res.Entries[0].Category)
	assert.Equal(t, "6650", res.Entries[0].Lines[0].Account)
}

func TestCreate_Skipped(t *testing.T) {
	c := newCreator(Options{})
	res := c.Create([]model.AllocatedTransaction{
		allocated("zero", "2025-02-03", "NOTHING", "0.00", model.DirectionDebit, "Fuel"),
		allocated("none", "2025-02-03", "QWZX", "10.00", model.DirectionDebit, ""),
	})
	assert.Empty(t, res.Entries)
	require.Len(t, res.Skipped, 2)
	assert.ErrorIs(t, res.Skipped[0].Err, ErrZeroAmount)
	assert.ErrorIs(t, res.Skipped[1].Err, ErrNoCategory)

	withSuspense := newCreator(Options{Suspense: true}).Create([]model.AllocatedTransaction{
		allocated("none", "2025-02-03", "QWZX", "10.00", model.DirectionDebit, ""),
	})
	require.Len(t, withSuspense.Entries, 1)
	assert.Equal(t, "9999", withSuspense.Entries[0].Lines[0].Account)
}

func TestCreate_IDsAndMonthlySummary(t *testing.T) {
	c := newCreator(Options{ExtractTax: true})
	res := c.Create([]model.AllocatedTransaction{
		allocated("a", "2025-01-30", "TELKOM", "115.00", model.DirectionDebit, "Telephone & Internet"),
		allocated("b", "2025-02-01", "TELKOM", "230.00", model.DirectionDebit, "Telephone & Internet"),
		allocated("c", "2025-01-31", "ACME", "345.00", model.DirectionCredit, "Sales"),
		allocated("d", "", "UNDATED", "10.00", model.DirectionDebit, "Fuel"),
	})
	require.Len(t, res.Entries, 4)

	numbers := make([]string, len(res.Entries))
	for i, e := range res.Entries {
		numbers[i] = e.Number
		assert.True(t, e.Balanced)
	}
	assert.Equal(t, []string{"2025-01-001", "2025-02-001", "2025-01-002", "0000-00-001"}, numbers)

	months := res.Summary.Months()
	require.Len(t, months, 3)
	jan := months[1]
	assert.Equal(t, "2025-01", jan.Period)
	assert.Equal(t, 2, jan.Entries)
	assert.True(t, d("15.00").Equal(jan.VATInput))
	assert.True(t, d("45.00").Equal(jan.VATOutput))
	assert.True(t, d("30.00").Equal(jan.NetVAT()))
	assert.True(t, d("345.00").Equal(jan.MoneyIn))
	assert.True(t, d("115.00").Equal(jan.MoneyOut))

	assert.True(t, d("45.00").Equal(res.Summary.VATInput))
	assert.Equal(t, 4, res.Summary.Entries)
	assert.Zero(t, res.Summary.Unbalanced)
}

func TestCreate_IDsUniqueAcrossBatches(t *testing.T) {
	c := newCreator(Options{ExtractTax: true})
	first := c.Create([]model.AllocatedTransaction{
		allocated("t1", "2025-02-03", "TELKOM", "115.00", model.DirectionDebit, "Telephone & Internet"),
	})
	second := c.Create([]model.AllocatedTransaction{
		allocated("t2", "2025-02-09", "ENGEN", "850.00", model.DirectionDebit, "Fuel"),
	})
	require.Len(t, first.Entries, 1)
	require.Len(t, second.Entries, 1)

	assert.Equal(t, first.Entries[0].Number, second.Entries[0].Number)
	assert.NotEqual(t, first.Entries[0].ID, second.Entries[0].ID)
}

func TestIsBalanced(t *testing.T) {
	e := model.JournalEntry{Lines: []model.JournalLine{
		{Account: "1", Debit: d("100.00")},
		{Account: "2", Credit: d("99.99")},
	}}
	assert.True(t, IsBalanced(e))

	e.Lines[1].Credit = d("99.98")
	assert.False(t, IsBalanced(e))
}

// ============================================================================
// Export
// ============================================================================

func TestExportCSV(t *testing.T) {
	c := newCreator(Options{ExtractTax: true})
	res := c.Create([]model.AllocatedTransaction{
		allocated("t1", "2025-02-03", "TELKOM", "115.00", model.DirectionDebit, "Telephone & Internet"),
	})

	var buf bytes.Buffer
	require.NoError(t, ExportCSV(&buf, res.Entries))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	id := res.Entries[0].ID
	assert.Equal(t, "entry_id,entry_number,date,reference,account,debit,credit,description,balanced", lines[0])
	assert.Equal(t, id+",2025-02-001,2025-02-03,,6200,100.00,,Telephone & Internet,true", lines[1])
	assert.Equal(t, id+",2025-02-001,2025-02-03,,1000,,115.00,TELKOM,true", lines[3])
}
