// Package testdata generates realistic bank statements for tests using gofakeit.
package testdata

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/model"
)

// StatementRow is one generated statement line. Amount is signed: money
// out is negative.
type StatementRow struct {
	Date        time.Time
	Description string
	Amount      decimal.Decimal
	Balance     decimal.Decimal
}

// Direction returns the direction the normalizer should derive.
func (r StatementRow) Direction() model.Direction {
	if r.Amount.IsNegative() {
		return model.DirectionDebit
	}
	return model.DirectionCredit
}

// StatementGenerator produces reproducible statements from a seed.
type StatementGenerator struct {
	faker   *gofakeit.Faker
	opening decimal.Decimal
}

// NewStatementGenerator creates a generator with a specific seed for reproducibility.
func NewStatementGenerator(seed int64) *StatementGenerator {
	return &StatementGenerator{
		faker:   gofakeit.New(seed),
		opening: decimal.NewFromInt(25000),
	}
}

// ============================================================================
// Descriptions
// ============================================================================

var debitMerchants = []string{
	"ENGEN", "SHELL", "SASOL", "TELKOM", "VODACOM", "WALTONS", "CHECKERS",
	"PICK N PAY", "WOOLWORTHS", "MAKRO", "INCREDIBLE CONNECTION", "BUILDERS WAREHOUSE",
}

var debitPrefixes = []string{"POS PURCHASE", "DEBIT ORDER", "CARD PURCHASE", "EFT PAYMENT"}

var creditDescriptions = []string{"INVOICE", "DEPOSIT", "EFT RECEIPT", "SALES"}

func (g *StatementGenerator) pick(list []string) string {
	return list[g.faker.Number(0, len(list)-1)]
}

// DebitDescription returns a card or debit-order style line.
func (g *StatementGenerator) DebitDescription() string {
	return fmt.Sprintf("%s %s %s %s",
		g.pick(debitPrefixes), g.pick(debitMerchants), strings.ToUpper(g.faker.City()), g.faker.DigitN(4))
}

// CreditDescription returns a customer payment line.
func (g *StatementGenerator) CreditDescription() string {
	return fmt.Sprintf("%s %s %s", g.pick(creditDescriptions), g.faker.DigitN(5), strings.ToUpper(g.faker.Company()))
}

// ============================================================================
// Statements
// ============================================================================

// Rows generates n chronologically ordered rows starting at start with a
// running balance. Roughly one row in four is a credit.
func (g *StatementGenerator) Rows(n int, start time.Time) []StatementRow {
	rows := make([]StatementRow, 0, n)
	balance := g.opening
	date := start
	for i := 0; i < n; i++ {
		date = date.AddDate(0, 0, g.faker.Number(0, 2))

		var row StatementRow
		if g.faker.Number(1, 4) == 1 {
			cents := int64(g.faker.Number(50000, 2500000))
			row = StatementRow{Description: g.CreditDescription(), Amount: decimal.New(cents, -2)}
		} else {
			cents := int64(g.faker.Number(1000, 500000))
			row = StatementRow{Description: g.DebitDescription(), Amount: decimal.New(-cents, -2)}
		}
		balance = balance.Add(row.Amount)
		row.Date, row.Balance = date, balance
		rows = append(rows, row)
	}
	return rows
}

// CSV renders rows as a Date,Description,Amount,Balance statement with ISO dates.
func CSV(rows []StatementRow) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"Date", "Description", "Amount", "Balance"})
	for _, r := range rows {
		_ = w.Write([]string{
			r.Date.Format(time.DateOnly),
			r.Description,
			r.Amount.StringFixed(2),
			r.Balance.StringFixed(2),
		})
	}
	w.Flush()
	return buf.Bytes()
}

// Grid renders rows as a parsed grid with a header row.
func Grid(rows []StatementRow) *model.RawGrid {
	grid := &model.RawGrid{Rows: [][]string{{"Date", "Description", "Amount", "Balance"}}}
	for _, r := range rows {
		grid.Rows = append(grid.Rows, []string{
			r.Date.Format(time.DateOnly),
			r.Description,
			r.Amount.StringFixed(2),
			r.Balance.StringFixed(2),
		})
	}
	return grid
}
