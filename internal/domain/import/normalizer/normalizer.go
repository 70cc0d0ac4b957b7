// Package normalizer converts grid rows into canonical transactions: it parses
// dates and locale-formatted amounts, applies the sign convention of the
// layout, drops total rows and scrubs merchant text for cross-tenant use.
package normalizer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/catalog"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/model"
)

var ErrNoAmountColumn = errors.New("layout has no amount, debit or credit column")

// Options carry the dialect detected in the file.
type Options struct {
	MonthFirst   bool
	DecimalComma bool
}

// Result is the output of one normalization pass.
type Result struct {
	Transactions []model.Transaction
	Errors       []model.RowError
	TotalRows    int // subtotal and balance-forward rows dropped
	SkippedRows  int // rows with nothing in them
}

// Normalizer is safe for concurrent use; it holds no per-import state.
type Normalizer struct {
	totals  []string
	dates   *DateParser
	amounts AmountParser
}

// New builds a normalizer from the catalogue's month names and total markers.
func New(cat *catalog.Catalog, opts Options) *Normalizer {
	return &Normalizer{
		totals:  cat.TotalKeywords(),
		dates:   NewDateParser(cat, opts.MonthFirst),
		amounts: NewAmountParser(opts.DecimalComma),
	}
}

// Normalize converts every row from layout.DataStart onward. Malformed rows
// are recorded in Result.Errors and excluded; the batch always continues.
func (n *Normalizer) Normalize(grid *model.RawGrid, layout *model.Layout) (*Result, error) {
	if !layout.HasSignedAmount() && !layout.HasDebitCredit() {
		return nil, ErrNoAmountColumn
	}

	result := &Result{}
	for i := layout.DataStart; i < grid.RowCount(); i++ {
		tx, rowErr, skip := n.row(grid, layout, i)
		switch {
		case rowErr != nil:
			result.Errors = append(result.Errors, *rowErr)
		case skip == skipTotal:
			result.TotalRows++
		case skip == skipEmpty:
			result.SkippedRows++
		default:
			result.Transactions = append(result.Transactions, tx)
		}
	}
	return result, nil
}

type skipReason int

const (
	keep skipReason = iota
	skipEmpty
	skipTotal
)

func (n *Normalizer) row(grid *model.RawGrid, layout *model.Layout, i int) (model.Transaction, *model.RowError, skipReason) {
	line := i + 1
	cell := func(role model.Role) string {
		idx, ok := layout.Column(role)
		if !ok {
			return ""
		}
		return grid.Cell(i, idx)
	}

	rawDate := cell(model.RoleDate)
	description := strings.Join(strings.Fields(cell(model.RoleDescription)), " ")
	rawAmount, rawDebit, rawCredit := cell(model.RoleAmount), cell(model.RoleDebit), cell(model.RoleCredit)

	if rawDate == "" && description == "" && rawAmount == "" && rawDebit == "" && rawCredit == "" {
		return model.Transaction{}, nil, skipEmpty
	}

	date, parsed := n.dates.Parse(rawDate)
	if n.isTotal(description, parsed) || n.isTotal(rawDate, false) {
		return model.Transaction{}, nil, skipTotal
	}

	rowErr := func(column, message, raw string) *model.RowError {
		return &model.RowError{Line: line, Column: column, Message: message, Raw: raw}
	}

	var (
		amount    decimal.Decimal
		direction model.Direction
	)
	if layout.HasSignedAmount() {
		signed, err := n.amounts.Parse(rawAmount)
		if err != nil {
			return model.Transaction{}, rowErr(string(model.RoleAmount), err.Error(), rawAmount), keep
		}
		amount = signed.Abs()
		direction = model.DirectionCredit
		if signed.IsNegative() {
			direction = model.DirectionDebit
		}
	} else {
		debit, err := n.optionalAmount(rawDebit)
		if err != nil {
			return model.Transaction{}, rowErr(string(model.RoleDebit), err.Error(), rawDebit), keep
		}
		credit, err := n.optionalAmount(rawCredit)
		if err != nil {
			return model.Transaction{}, rowErr(string(model.RoleCredit), err.Error(), rawCredit), keep
		}
		amount, direction = debit.Abs(), model.DirectionDebit
		if debit.IsZero() && !credit.IsZero() {
			amount, direction = credit.Abs(), model.DirectionCredit
		}
	}

	tx := model.Transaction{
		ID:           fmt.Sprintf("row-%d", line),
		SourceLine:   line,
		Date:         date,
		DateParsed:   parsed,
		Description:  description,
		Amount:       amount,
		Direction:    direction,
		Reference:    cell(model.RoleReference),
		CategoryHint: cell(model.RoleCategory),
	}
	if v, err := n.amounts.Parse(cell(model.RoleTax)); err == nil {
		abs := v.Abs()
		tx.TaxHint = &abs
	}
	if v, err := n.amounts.Parse(cell(model.RoleBalance)); err == nil {
		tx.Balance = &v
	}
	return tx, nil, keep
}

func (n *Normalizer) optionalAmount(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return n.amounts.Parse(raw)
}

// isTotal matches the bilingual total markers. Multi-word markers match
// anywhere; single words must lead the text of an undated row.
func (n *Normalizer) isTotal(text string, dated bool) bool {
	if text == "" {
		return false
	}
	folded := Fold(text)
	for _, kw := range n.totals {
		if strings.Contains(kw, " ") {
			if strings.Contains(folded, kw) {
				return true
			}
			continue
		}
		if folded == kw {
			return true
		}
		if !dated && hasWordPrefix(folded, kw) {
			return true
		}
	}
	return false
}

func hasWordPrefix(s, word string) bool {
	if !strings.HasPrefix(s, word) {
		return false
	}
	rest := s[len(word):]
	return rest == "" || strings.IndexAny(rest[:1], " :-") == 0
}
