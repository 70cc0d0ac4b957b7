package normalizer

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrEmptyAmount   = errors.New("amount is empty")
	ErrInvalidAmount = errors.New("invalid amount")
)

var (
	spaceGroupedPattern = regexp.MustCompile(`^\d{1,3}( \d{3})+([.,]\d+)?$`)
	commaGroupedPattern = regexp.MustCompile(`^\d{1,3}(,\d{3})+(\.\d+)?$`)
	dotGroupedPattern   = regexp.MustCompile(`^\d{1,3}(\.\d{3})+,\d+$`)
	dotGroupsOnly       = regexp.MustCompile(`^\d{1,3}(\.\d{3}){2,}$`)
	dotGroupOnce        = regexp.MustCompile(`^\d{1,3}\.\d{3}$`)
	bareCommaDecimal    = regexp.MustCompile(`^\d+,\d{1,2}$`)
	commaThousandsOnce  = regexp.MustCompile(`^\d{1,3},\d{3}$`)
)

// AmountParser converts locale-formatted numerals to decimals.
type AmountParser struct {
	decimalComma bool // resolves "1,234" and "1.234" for comma-decimal files
}

// NewAmountParser creates a parser. decimalComma should come from the file's
// detected dialect.
func NewAmountParser(decimalComma bool) AmountParser {
	return AmountParser{decimalComma: decimalComma}
}

// ParseAmount parses with the dot-decimal default.
func ParseAmount(s string) (decimal.Decimal, error) {
	return AmountParser{}.Parse(s)
}

// Parse returns the signed value of s. It accepts currency symbols, spaces,
// parentheses, leading or trailing minus, CR/DR suffixes and three grouping
// conventions: "1 234,56", "1,234.56" and "1.234,56".
func (p AmountParser) Parse(s string) (decimal.Decimal, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return decimal.Zero, ErrEmptyAmount
	}

	negative := false
	upper := strings.ToUpper(raw)
	switch {
	case strings.HasSuffix(upper, "DR"):
		negative = true
		upper = strings.TrimSuffix(upper, "DR")
	case strings.HasSuffix(upper, "CR"):
		upper = strings.TrimSuffix(upper, "CR")
	}

	// Keep digits, separators, signs and grouping spaces only.
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',', r == '-', r == '(', r == ')':
			return r
		case r == ' ', r == '\u00a0', r == '\u2009', r == '\u202f', r == '\'':
			return ' '
		}
		return -1
	}, upper)
	cleaned = strings.TrimSpace(cleaned)

	if strings.HasPrefix(cleaned, "(") && strings.HasSuffix(cleaned, ")") {
		negative = !negative
		cleaned = strings.TrimSpace(cleaned[1 : len(cleaned)-1])
	}
	switch {
	case strings.HasPrefix(cleaned, "-"):
		negative = !negative
		cleaned = strings.TrimSpace(cleaned[1:])
	case strings.HasSuffix(cleaned, "-"):
		negative = !negative
		cleaned = strings.TrimSpace(cleaned[:len(cleaned)-1])
	}
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	normalized := p.normalize(cleaned)
	value, err := decimal.NewFromString(normalized)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if negative {
		value = value.Neg()
	}
	return value, nil
}

// normalize rewrites an unsigned numeral to dot-decimal form.
func (p AmountParser) normalize(s string) string {
	switch {
	case spaceGroupedPattern.MatchString(s):
		return strings.ReplaceAll(strings.ReplaceAll(s, " ", ""), ",", ".")
	case p.decimalComma && commaThousandsOnce.MatchString(s):
		return strings.ReplaceAll(s, ",", ".")
	case commaGroupedPattern.MatchString(s):
		return strings.ReplaceAll(s, ",", "")
	case dotGroupedPattern.MatchString(s), dotGroupsOnly.MatchString(s),
		p.decimalComma && dotGroupOnce.MatchString(s):
		return strings.ReplaceAll(strings.ReplaceAll(s, ".", ""), ",", ".")
	case bareCommaDecimal.MatchString(s):
		return strings.ReplaceAll(s, ",", ".")
	}
	return strings.ReplaceAll(strings.ReplaceAll(s, ",", ""), " ", "")
}

// FormatAmount renders d with two decimals, comma grouping and a leading minus.
func FormatAmount(d decimal.Decimal) string {
	fixed := d.Abs().StringFixed(2)
	intPart, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	if d.IsNegative() && !d.Round(2).IsZero() {
		b.WriteByte('-')
	}
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	b.WriteByte('.')
	b.WriteString(frac)
	return b.String()
}
