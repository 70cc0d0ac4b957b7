// Package model holds the records passed between ingestion stages.
// Every stage produces a new value; nothing here is mutated after creation.
package model

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Direction encodes the sign of a transaction; amounts are always stored as magnitudes.
type Direction string

const (
	DirectionDebit  Direction = "debit"
	DirectionCredit Direction = "credit"
)

// Role is the semantic meaning assigned to a grid column.
type Role string

const (
	RoleDate        Role = "date"
	RoleDescription Role = "description"
	RoleDebit       Role = "debit"
	RoleCredit      Role = "credit"
	RoleAmount      Role = "amount"
	RoleBalance     Role = "balance"
	RoleReference   Role = "reference"
	RoleCategory    Role = "category"
	RoleTax         Role = "tax"
)

// Roles lists every role in the order the layout detector assigns them.
var Roles = []Role{
	RoleDate, RoleDescription, RoleDebit, RoleCredit, RoleAmount,
	RoleBalance, RoleReference, RoleCategory, RoleTax,
}

// FileType is the outcome of format detection.
type FileType string

const (
	FileTypeSpreadsheet FileType = "spreadsheet"
	FileTypeDelimited   FileType = "delimited"
	FileTypeUnsupported FileType = "unsupported"
)

// RawGrid is the rectangular-ish output of a table parser.
type RawGrid struct {
	Rows       [][]string
	SheetName  string
	SheetCount int
}

// RowCount returns the number of rows in the grid.
func (g *RawGrid) RowCount() int {
	if g == nil {
		return 0
	}
	return len(g.Rows)
}

// Cell returns the trimmed value at (row, col) or "" when out of range.
func (g *RawGrid) Cell(row, col int) string {
	if g == nil || row < 0 || row >= len(g.Rows) || col < 0 || col >= len(g.Rows[row]) {
		return ""
	}
	return strings.TrimSpace(g.Rows[row][col])
}

// Width returns the widest row length.
func (g *RawGrid) Width() int {
	width := 0
	if g == nil {
		return width
	}
	for _, row := range g.Rows {
		if len(row) > width {
			width = len(row)
		}
	}
	return width
}

// Layout describes where the header is and which column carries which role.
type Layout struct {
	HeaderRow  int // -1 when the grid has no header row
	DataStart  int
	Headers    []string
	Columns    map[Role]int
	Confidence int // 0-100
}

// Column returns the column index for a role.
func (l *Layout) Column(role Role) (int, bool) {
	if l == nil || l.Columns == nil {
		return -1, false
	}
	idx, ok := l.Columns[role]
	return idx, ok
}

// HasSignedAmount reports whether the layout uses a single signed amount column.
func (l *Layout) HasSignedAmount() bool {
	_, ok := l.Column(RoleAmount)
	return ok
}

// HasDebitCredit reports whether the layout uses a debit/credit column pair (or one half of it).
func (l *Layout) HasDebitCredit() bool {
	_, debit := l.Column(RoleDebit)
	_, credit := l.Column(RoleCredit)
	return debit || credit
}

// Transaction is the canonical record produced by the normalizer.
type Transaction struct {
	ID           string
	SourceLine   int
	Date         string // ISO-8601 when parsed, otherwise the raw cell value
	DateParsed   bool
	Description  string
	Amount       decimal.Decimal // always >= 0
	Direction    Direction
	Reference    string
	CategoryHint string
	TaxHint      *decimal.Decimal
	Balance      *decimal.Decimal
}

// Signed returns the amount with the direction applied (debit negative).
func (t Transaction) Signed() decimal.Decimal {
	if t.Direction == DirectionDebit {
		return t.Amount.Neg()
	}
	return t.Amount
}

// YearMonth returns the "YYYY-MM" period of a parsed date, or "" when unknown.
func (t Transaction) YearMonth() string {
	if !t.DateParsed || len(t.Date) < 7 {
		return ""
	}
	return t.Date[:7]
}

// Method identifies which cascade step produced a decision.
type Method string

const (
	MethodPrivateCodex  Method = "private_codex"
	MethodGlobalPattern Method = "global_pattern"
	MethodKeywordEngine Method = "keyword_engine"
	MethodLowConfidence Method = "low_confidence"
	MethodNoMatch       Method = "no_match"
	MethodUserConfirmed Method = "user_confirmed"
)

// Decision is the outcome of the allocation cascade for one transaction.
type Decision struct {
	Category          string
	Confidence        int // 0-100
	Method            Method
	Reasoning         string
	Alternatives      []string
	RequiresUserInput bool
}

// AllocatedTransaction wraps a transaction with its allocation outcome.
type AllocatedTransaction struct {
	Transaction
	SuggestedCategory string
	Confidence        int
	Method            Method
	Reasoning         string
	Alternatives      []string
	RequiresUserInput bool
	AutoConfirmed     bool
	ConfirmedCategory string
}

// Category returns the confirmed category when present, otherwise the suggestion.
func (a AllocatedTransaction) Category() string {
	if a.ConfirmedCategory != "" {
		return a.ConfirmedCategory
	}
	return a.SuggestedCategory
}

// NewAllocated wraps a transaction with a decision.
func NewAllocated(tx Transaction, d Decision) AllocatedTransaction {
	return AllocatedTransaction{
		Transaction:       tx,
		SuggestedCategory: d.Category,
		Confidence:        d.Confidence,
		Method:            d.Method,
		Reasoning:         d.Reasoning,
		Alternatives:      d.Alternatives,
		RequiresUserInput: d.RequiresUserInput,
	}
}

// JournalLine is one posting of a journal entry.
type JournalLine struct {
	Account     string          `csv:"account"`
	Debit       decimal.Decimal `csv:"debit"`
	Credit      decimal.Decimal `csv:"credit"`
	Description string          `csv:"description"`
}

// JournalEntry is a double-entry record for one allocated transaction.
// ID is globally unique; Number is the per-period sequence shown to users.
type JournalEntry struct {
	ID            string
	Number        string
	TransactionID string
	Date          string
	Reference     string
	Description   string
	Category      string
	Lines         []JournalLine
	Balanced      bool
}

// Totals returns the debit and credit sums of the entry.
func (e JournalEntry) Totals() (decimal.Decimal, decimal.Decimal) {
	debit, credit := decimal.Zero, decimal.Zero
	for _, line := range e.Lines {
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	return debit, credit
}

// RowError records a row excluded during parsing or normalization.
type RowError struct {
	Line    int
	Column  string
	Message string
	Raw     string
}

func (e RowError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return fmt.Sprintf("line %d, column %s: %s", e.Line, e.Column, e.Message)
}

// Warning is an advisory finding that never blocks an import.
type Warning struct {
	Line    int    `json:"line,omitempty"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Warning kinds.
const (
	WarnZeroAmount       = "zero_amount"
	WarnMissingDate      = "missing_date"
	WarnShortDescription = "short_description"
	WarnBalanceMismatch  = "balance_mismatch"
	WarnFuzzyDuplicate   = "fuzzy_duplicate"
	WarnUnbalancedEntry  = "unbalanced_entry"
	WarnLowConfidence    = "low_confidence"
	WarnLearningFailed   = "learning_failed"
)
