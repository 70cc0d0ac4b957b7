package journal

import (
	"fmt"
	"io"

	"github.com/gocarina/gocsv"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/model"
)

// csvLine is one flattened journal line.
type csvLine struct {
	EntryID     string `csv:"entry_id"`
	Number      string `csv:"entry_number"`
	Date        string `csv:"date"`
	Reference   string `csv:"reference"`
	Account     string `csv:"account"`
	Debit       string `csv:"debit"`
	Credit      string `csv:"credit"`
	Description string `csv:"description"`
	Balanced    bool   `csv:"balanced"`
}

// ExportCSV writes every line of every entry with a header row.
func ExportCSV(w io.Writer, entries []model.JournalEntry) error {
	rows := make([]*csvLine, 0, len(entries)*3)
	for _, e := range entries {
		for _, line := range e.Lines {
			rows = append(rows, &csvLine{
				EntryID:     e.ID,
				Number:      e.Number,
				Date:        e.Date,
				Reference:   e.Reference,
				Account:     line.Account,
				Debit:       amount(line.Debit.IsZero(), line.Debit.StringFixed(2)),
				Credit:      amount(line.Credit.IsZero(), line.Credit.StringFixed(2)),
				Description: line.Description,
				Balanced:    e.Balanced,
			})
		}
	}
	if err := gocsv.Marshal(rows, w); err != nil {
		return fmt.Errorf("failed to write journal csv: %w", err)
	}
	return nil
}

func amount(zero bool, s string) string {
	if zero {
		return ""
	}
	return s
}
