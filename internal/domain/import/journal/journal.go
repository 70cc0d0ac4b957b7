// Package journal turns allocated bank transactions into balanced
// double-entry journal entries with inclusive tax extracted.
package journal

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/catalog"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/model"
)

var (
	ErrZeroAmount = errors.New("transaction amount is zero")
	ErrNoCategory = errors.New("transaction has no category")
)

// balanceTolerance is the largest debit/credit difference still considered
// balanced.
var balanceTolerance = decimal.RequireFromString("0.01")

// DefaultTaxRate is the standard inclusive VAT rate.
var DefaultTaxRate = decimal.RequireFromString("0.15")

// Options controls entry creation.
type Options struct {
	TaxRate    decimal.Decimal
	ExtractTax bool
	// Suspense books uncategorized transactions to the suspense account
	// instead of skipping them.
	Suspense bool
}

// MonthSummary aggregates one YYYY-MM period.
type MonthSummary struct {
	Period    string          `json:"period"`
	Entries   int             `json:"entries"`
	MoneyIn   decimal.Decimal `json:"moneyIn"`
	MoneyOut  decimal.Decimal `json:"moneyOut"`
	VATInput  decimal.Decimal `json:"vatInput"`
	VATOutput decimal.Decimal `json:"vatOutput"`
}

// NetVAT is output tax minus input tax for the period.
func (m MonthSummary) NetVAT() decimal.Decimal { return m.VATOutput.Sub(m.VATInput) }

// Summary holds running totals over a batch.
type Summary struct {
	Entries    int                      `json:"entries"`
	Unbalanced int                      `json:"unbalanced"`
	VATInput   decimal.Decimal          `json:"vatInput"`
	VATOutput  decimal.Decimal          `json:"vatOutput"`
	ByMonth    map[string]*MonthSummary `json:"byMonth"`
}

// Months returns the period summaries in chronological order.
func (s Summary) Months() []MonthSummary {
	out := make([]MonthSummary, 0, len(s.ByMonth))
	for _, m := range s.ByMonth {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out
}

// Skipped is a transaction for which no entry was created.
type Skipped struct {
	TransactionID string
	Line          int
	Err           error
}

// Result is the outcome of a batch.
type Result struct {
	Entries  []model.JournalEntry
	Skipped  []Skipped
	Warnings []model.Warning
	Summary  Summary
}

// Creator builds journal entries from allocated transactions.
type Creator struct {
	cat    *catalog.Catalog
	opts   Options
	logger *slog.Logger
}

// NewCreator creates a journal creator. A zero tax rate falls back to
// DefaultTaxRate.
func NewCreator(cat *catalog.Catalog, opts Options, logger *slog.Logger) *Creator {
	if opts.TaxRate.IsZero() {
		opts.TaxRate = DefaultTaxRate
	}
	return &Creator{cat: cat, opts: opts, logger: logger}
}

// ExtractInclusiveTax splits a tax-inclusive gross amount into tax and net,
// both rounded to cents: tax = gross*rate/(1+rate).
func ExtractInclusiveTax(gross, rate decimal.Decimal) (tax, net decimal.Decimal) {
	if rate.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, gross
	}
	tax = gross.Mul(rate).Div(decimal.NewFromInt(1).Add(rate)).Round(2)
	return tax, gross.Sub(tax)
}

// Create builds one entry per transaction. Each entry gets a fresh UUID and
// a "YYYY-MM-NNN" number, sequenced per period in input order within the
// batch. A transaction either yields a complete entry or is skipped.
func (c *Creator) Create(txs []model.AllocatedTransaction) *Result {
	res := &Result{Summary: Summary{ByMonth: make(map[string]*MonthSummary)}}
	seq := make(map[string]int)

	for _, at := range txs {
		entry, err := c.entry(at)
		if err != nil {
			res.Skipped = append(res.Skipped, Skipped{TransactionID: at.ID, Line: at.SourceLine, Err: err})
			continue
		}

		period := at.YearMonth()
		if period == "" {
			period = "0000-00"
		}
		seq[period]++
		entry.ID = uuid.NewString()
		entry.Number = fmt.Sprintf("%s-%03d", period, seq[period])

		if !entry.Balanced {
			res.Summary.Unbalanced++
			res.Warnings = append(res.Warnings, model.Warning{
				Line:    at.SourceLine,
				Kind:    model.WarnUnbalancedEntry,
				Message: fmt.Sprintf("journal %s does not balance", entry.Number),
			})
			c.logger.Warn("unbalanced journal entry", "entryID", entry.ID, "number", entry.Number, "transactionID", at.ID)
		}

		c.accumulate(&res.Summary, period, at, entry)
		res.Entries = append(res.Entries, entry)
	}

	res.Summary.Entries = len(res.Entries)
	return res
}

func (c *Creator) entry(at model.AllocatedTransaction) (model.JournalEntry, error) {
	gross := at.Amount.Abs().Round(2)
	if gross.IsZero() {
		return model.JournalEntry{}, ErrZeroAmount
	}

	category := at.Category()
	accounts := c.cat.Accounts()
	account := c.cat.AccountFor(category)
	if category == "" {
		if !c.opts.Suspense {
			return model.JournalEntry{}, ErrNoCategory
		}
		account = accounts.Suspense
	}

	moneyIn := c.moneyIn(at, category)
	tax, net := decimal.Zero, gross
	if c.opts.ExtractTax && c.cat.IsTaxClaimable(category) && !c.cat.IsTaxDenied(category) {
		tax, net = c.tax(at, gross)
	}

	description := strings.TrimSpace(at.Description)
	var lines []model.JournalLine
	if moneyIn {
		lines = append(lines, model.JournalLine{Account: accounts.Bank, Debit: gross, Description: description})
		lines = append(lines, model.JournalLine{Account: account, Credit: net, Description: category})
		if tax.IsPositive() {
			lines = append(lines, model.JournalLine{Account: accounts.TaxOutput, Credit: tax, Description: "VAT output"})
		}
	} else {
		lines = append(lines, model.JournalLine{Account: account, Debit: net, Description: category})
		if tax.IsPositive() {
			lines = append(lines, model.JournalLine{Account: accounts.TaxInput, Debit: tax, Description: "VAT input"})
		}
		lines = append(lines, model.JournalLine{Account: accounts.Bank, Credit: gross, Description: description})
	}

	entry := model.JournalEntry{
		TransactionID: at.ID,
		Date:          at.Date,
		Reference:     at.Reference,
		Description:   description,
		Category:      category,
		Lines:         lines,
	}
	entry.Balanced = IsBalanced(entry)
	return entry, nil
}

// moneyIn follows the bank direction; credit-like categories decide only
// when the direction is unknown.
func (c *Creator) moneyIn(at model.AllocatedTransaction, category string) bool {
	switch at.Direction {
	case model.DirectionCredit:
		return true
	case model.DirectionDebit:
		return false
	default:
		return c.cat.IsCreditLike(category)
	}
}

// tax prefers a tax amount supplied by the statement when it is plausible.
func (c *Creator) tax(at model.AllocatedTransaction, gross decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	if at.TaxHint != nil {
		hint := at.TaxHint.Abs().Round(2)
		if hint.IsPositive() && hint.LessThan(gross) {
			return hint, gross.Sub(hint)
		}
	}
	return ExtractInclusiveTax(gross, c.opts.TaxRate)
}

func (c *Creator) accumulate(s *Summary, period string, at model.AllocatedTransaction, entry model.JournalEntry) {
	m, ok := s.ByMonth[period]
	if !ok {
		m = &MonthSummary{Period: period}
		s.ByMonth[period] = m
	}
	m.Entries++

	accounts := c.cat.Accounts()
	for _, line := range entry.Lines {
		switch line.Account {
		case accounts.TaxInput:
			s.VATInput = s.VATInput.Add(line.Debit)
			m.VATInput = m.VATInput.Add(line.Debit)
		case accounts.TaxOutput:
			s.VATOutput = s.VATOutput.Add(line.Credit)
			m.VATOutput = m.VATOutput.Add(line.Credit)
		case accounts.Bank:
			m.MoneyIn = m.MoneyIn.Add(line.Debit)
			m.MoneyOut = m.MoneyOut.Add(line.Credit)
		}
	}
}

// IsBalanced reports whether debits equal credits within one cent.
func IsBalanced(e model.JournalEntry) bool {
	debit, credit := e.Totals()
	return debit.Sub(credit).Abs().LessThanOrEqual(balanceTolerance)
}
