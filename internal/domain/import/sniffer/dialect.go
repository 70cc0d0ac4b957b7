package sniffer

import (
	"strings"
)

// Dialect is the regional numeral and date convention inferred from sample rows.
type Dialect struct {
	DecimalComma bool    // "1.234,56" or "1 234,56" style
	MonthFirst   bool    // MM/DD/YYYY dates were observed
	CurrencyHint string  // "ZAR", "EUR", "USD", "GBP" when a symbol was seen
	Confidence   float64 // 0.0-1.0
}

// DetectDialect inspects the amount and date columns of sample rows. Pass -1 for
// an unknown column. Dates default to day-first unless a row proves otherwise.
func DetectDialect(sampleRows [][]string, amountIdx, dateIdx int) Dialect {
	dialect := Dialect{Confidence: 0.5}

	commaHints, dotHints := 0, 0
	dayFirst, monthFirst := false, false

	for _, row := range sampleRows {
		if amountIdx >= 0 && amountIdx < len(row) {
			switch hint := amountHint(row[amountIdx]); {
			case hint > 0:
				commaHints++
			case hint < 0:
				dotHints++
			}
		}

		if dateIdx >= 0 && dateIdx < len(row) {
			switch dateOrder(row[dateIdx]) {
			case 1:
				dayFirst = true
			case -1:
				monthFirst = true
			}
		}

		if dialect.CurrencyHint == "" {
			for _, cell := range row {
				if hint := currencyHint(cell); hint != "" {
					dialect.CurrencyHint = hint
					break
				}
			}
		}
	}

	dialect.DecimalComma = commaHints > dotHints
	dialect.MonthFirst = monthFirst && !dayFirst

	if total := commaHints + dotHints; total > 0 {
		winning := max(commaHints, dotHints)
		dialect.Confidence = float64(winning) / float64(total)
	}

	return dialect
}

func currencyHint(cell string) string {
	switch {
	case strings.Contains(cell, "ZAR"), randPrefix(cell):
		return "ZAR"
	case strings.Contains(cell, "€"), strings.Contains(cell, "EUR"):
		return "EUR"
	case strings.Contains(cell, "£"), strings.Contains(cell, "GBP"):
		return "GBP"
	case strings.Contains(cell, "$"), strings.Contains(cell, "USD"):
		return "USD"
	}
	return ""
}

// randPrefix matches "R850.00", "R -850.00" and "-R850".
func randPrefix(cell string) bool {
	s := strings.TrimLeft(cell, "-( ")
	if !strings.HasPrefix(s, "R") {
		return false
	}
	s = strings.TrimLeft(s[1:], " -")
	return s != "" && s[0] >= '0' && s[0] <= '9'
}

// amountHint returns >0 for comma-decimal, <0 for dot-decimal, 0 when ambiguous.
func amountHint(val string) int {
	cleaned := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' || r == ',' || r == '.' {
			return r
		}
		return -1
	}, val)
	if cleaned == "" {
		return 0
	}

	lastComma := strings.LastIndex(cleaned, ",")
	lastDot := strings.LastIndex(cleaned, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			return 1
		}
		return -1
	case lastComma >= 0:
		if len(cleaned)-lastComma-1 <= 2 {
			return 1
		}
	case lastDot >= 0:
		if len(cleaned)-lastDot-1 <= 2 {
			return -1
		}
	}
	return 0
}

// dateOrder returns 1 when the first field must be a day, -1 when the second
// must be, 0 when the value cannot tell.
func dateOrder(val string) int {
	parts := strings.FieldsFunc(val, func(r rune) bool {
		return r == '/' || r == '-' || r == '.'
	})
	if len(parts) < 3 || len(parts[0]) == 4 {
		return 0
	}
	first, second := leadingInt(parts[0]), leadingInt(parts[1])
	switch {
	case first > 12 && first <= 31:
		return 1
	case second > 12 && second <= 31:
		return -1
	}
	return 0
}

func leadingInt(s string) int {
	n := 0
	for _, c := range strings.TrimSpace(s) {
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
	}
	return n
}
