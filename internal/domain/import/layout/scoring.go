package layout

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/model"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/normalizer"
)

const textLengthScale = 20.0

// ColumnStats are the per-role scores of one column, each in [0,1].
type ColumnStats struct {
	Column    int
	Samples   int
	Date      float64
	Numeric   float64
	Text      float64
	Reference float64
	Mixed     bool // both positive and negative numbers were seen
}

func (d *Detector) score(grid *model.RawGrid, start, col int) ColumnStats {
	stats := ColumnStats{Column: col}

	var dates, numbers, alpha, refs, totalLen int
	var letterShare float64
	var positive, negative bool
	for row := start; row < grid.RowCount() && stats.Samples < sampleRows; row++ {
		v := grid.Cell(row, col)
		if v == "" {
			continue
		}
		stats.Samples++
		totalLen += len([]rune(v))

		if d.isDate(v) {
			dates++
		} else if n, ok := parseNumber(v); ok {
			numbers++
			switch {
			case n.IsNegative():
				negative = true
			case n.IsPositive():
				positive = true
			}
		}
		if hasLetter(v) {
			alpha++
			letterShare += letterRatio(v)
		}
		if looksLikeReference(v) {
			refs++
		}
	}
	if stats.Samples == 0 {
		return stats
	}

	n := float64(stats.Samples)
	stats.Date = float64(dates) / n
	stats.Numeric = float64(numbers) / n
	stats.Reference = float64(refs) / n
	avgLen := float64(totalLen) / n
	if alpha > 0 {
		stats.Text = 0.7*letterShare/n + 0.3*min(avgLen/textLengthScale, 1)
	}
	stats.Mixed = positive && negative
	return stats
}

// isDate accepts the date families of the normalizer, but a plain number only
// when it is a whole Excel serial.
func (d *Detector) isDate(v string) bool {
	if _, ok := d.dates.Parse(v); !ok {
		return false
	}
	if _, ok := parseNumber(v); !ok {
		return true
	}
	return normalizer.IsExcelSerial(v) && !strings.ContainsAny(v, ".,")
}

// isText reports whether a header candidate cell is prose rather than a value.
func (d *Detector) isText(v string) bool {
	if !hasLetter(v) || d.isDate(v) {
		return false
	}
	_, ok := parseNumber(v)
	return !ok
}

var currencyTokens = strings.NewReplacer("ZAR", "", "USD", "", "EUR", "", "GBP", "", "CR", "", "DR", "", "R", "", "$", "", "€", "", "£", "")

// parseNumber accepts amounts whose only extra characters are currency codes
// or a CR/DR marker, so neither "TELKOM 123" nor "15/02/2025" is a number.
func parseNumber(v string) (decimal.Decimal, bool) {
	rest := currencyTokens.Replace(strings.ToUpper(v))
	if strings.IndexFunc(rest, func(r rune) bool {
		return !unicode.IsDigit(r) && !unicode.IsSpace(r) && !strings.ContainsRune(".,-()'", r)
	}) >= 0 {
		return decimal.Zero, false
	}
	n, err := normalizer.ParseAmount(v)
	return n, err == nil
}

// letterRatio is the share of letters and spaces in v.
func letterRatio(v string) float64 {
	total, letters := 0, 0
	for _, r := range v {
		total++
		if unicode.IsLetter(r) || unicode.IsSpace(r) {
			letters++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(letters) / float64(total)
}

func hasLetter(v string) bool {
	return strings.IndexFunc(v, unicode.IsLetter) >= 0
}

// looksLikeReference matches single tokens that mix digits in, such as
// "INV-2025-001" or "000123".
func looksLikeReference(v string) bool {
	if strings.ContainsAny(v, " \t") || len(v) < 4 {
		return false
	}
	return strings.IndexFunc(v, unicode.IsDigit) >= 0 && !strings.ContainsAny(v, ".,")
}
