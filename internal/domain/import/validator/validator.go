// Package validator summarises a normalized batch and raises advisory
// warnings. Nothing here rejects a transaction.
package validator

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/model"
)

const minDescriptionLength = 3

// Epsilon is the tolerance used for every currency comparison.
var Epsilon = decimal.New(1, -2)

// Report holds counts, sums and warnings for one batch.
type Report struct {
	DebitCount  int             `json:"debit_count"`
	CreditCount int             `json:"credit_count"`
	DebitTotal  decimal.Decimal `json:"debit_total"`
	CreditTotal decimal.Decimal `json:"credit_total"`
	Net         decimal.Decimal `json:"net"`
	Balanced    bool            `json:"balanced"`
	Warnings    []model.Warning `json:"warnings,omitempty"`
}

// Validate computes the batch summary. A debit/credit mismatch is reported
// as information only; statements are not expected to self-balance.
func Validate(txs []model.Transaction) Report {
	r := Report{DebitTotal: decimal.Zero, CreditTotal: decimal.Zero}

	for _, tx := range txs {
		if tx.Direction == model.DirectionDebit {
			r.DebitCount++
			r.DebitTotal = r.DebitTotal.Add(tx.Amount)
		} else {
			r.CreditCount++
			r.CreditTotal = r.CreditTotal.Add(tx.Amount)
		}

		desc := strings.TrimSpace(tx.Description)
		if tx.Amount.IsZero() && desc != "" {
			r.Warnings = append(r.Warnings, model.Warning{
				Line: tx.SourceLine, Kind: model.WarnZeroAmount,
				Message: fmt.Sprintf("zero amount for %q", desc),
			})
		}
		switch {
		case tx.Date == "":
			r.Warnings = append(r.Warnings, model.Warning{
				Line: tx.SourceLine, Kind: model.WarnMissingDate, Message: "date is missing",
			})
		case !tx.DateParsed:
			r.Warnings = append(r.Warnings, model.Warning{
				Line: tx.SourceLine, Kind: model.WarnMissingDate,
				Message: fmt.Sprintf("date %q could not be parsed and was kept as is", tx.Date),
			})
		}
		if len([]rune(desc)) < minDescriptionLength {
			msg := "description is missing"
			if desc != "" {
				msg = fmt.Sprintf("description %q is too short", desc)
			}
			r.Warnings = append(r.Warnings, model.Warning{
				Line: tx.SourceLine, Kind: model.WarnShortDescription, Message: msg,
			})
		}
	}

	r.Net = r.CreditTotal.Sub(r.DebitTotal)
	r.Balanced = r.Net.Abs().LessThanOrEqual(Epsilon)
	if !r.Balanced {
		r.Warnings = append(r.Warnings, model.Warning{
			Kind: model.WarnBalanceMismatch,
			Message: fmt.Sprintf("debits %s and credits %s differ by %s",
				r.DebitTotal.StringFixed(2), r.CreditTotal.StringFixed(2), r.Net.Abs().StringFixed(2)),
		})
	}
	return r
}
