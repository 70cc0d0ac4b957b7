package normalizer

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

const isoDate = "2006-01-02"

// Serial dates outside this window are treated as ordinary numbers.
const (
	excelSerialMin   = 30000
	excelSerialMax   = 60000
	excelEpochOffset = 25569
	secondsPerDay    = 86400
	twoDigitPivot    = 50
)

var (
	isoPrefixPattern = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})(?:$|[T\s])`)
	dmyPattern       = regexp.MustCompile(`^(\d{1,2})[/.\-](\d{1,2})[/.\-](\d{4})(?:$|\s)`)
	dmyShortPattern  = regexp.MustCompile(`^(\d{1,2})[/.\-](\d{1,2})[/.\-](\d{2})$`)
	ymdPattern       = regexp.MustCompile(`^(\d{4})[/.](\d{1,2})[/.](\d{1,2})(?:$|\s)`)
	dayMonthPattern  = regexp.MustCompile(`^(\d{1,2})[\s\-]+(\p{L}+)\.?[\s\-,]+(\d{2}|\d{4})$`)
	monthDayPattern  = regexp.MustCompile(`^(\p{L}+)\.?\s+(\d{1,2}),?\s+(\d{4})$`)
	serialPattern    = regexp.MustCompile(`^\d{5}(\.\d+)?$`)
)

// Layouts tried by the final generic pass.
var genericLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"20060102",
	"Mon, 02 Jan 2006",
	"Monday, 2 January 2006",
	"2 January 2006",
	"January 2, 2006",
	"Jan 2 2006",
	"02-Jan-06",
}

// MonthLookup resolves a month name or abbreviation to 1-12.
type MonthLookup interface {
	Month(name string) (int, bool)
}

// DateParser applies an ordered list of date rules.
type DateParser struct {
	months     MonthLookup
	monthFirst bool
}

// NewDateParser creates a parser. monthFirst flips DD/MM to MM/DD for files
// whose dialect proved month-first dates.
func NewDateParser(months MonthLookup, monthFirst bool) *DateParser {
	return &DateParser{months: months, monthFirst: monthFirst}
}

// Parse returns the ISO date for s. When no rule matches it returns s
// unchanged with ok=false.
func (p *DateParser) Parse(s string) (string, bool) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return "", false
	}

	if m := isoPrefixPattern.FindStringSubmatch(raw); m != nil {
		if d, ok := build(atoi(m[1]), atoi(m[2]), atoi(m[3])); ok {
			return d, true
		}
	}
	if m := dmyPattern.FindStringSubmatch(raw); m != nil {
		if d, ok := p.dayMonth(atoi(m[1]), atoi(m[2]), atoi(m[3])); ok {
			return d, true
		}
	}
	if m := dmyShortPattern.FindStringSubmatch(raw); m != nil {
		if d, ok := p.dayMonth(atoi(m[1]), atoi(m[2]), expandYear(atoi(m[3]))); ok {
			return d, true
		}
	}
	if m := ymdPattern.FindStringSubmatch(raw); m != nil {
		if d, ok := build(atoi(m[1]), atoi(m[2]), atoi(m[3])); ok {
			return d, true
		}
	}
	if d, ok := p.textual(raw); ok {
		return d, true
	}
	if d, ok := fromSerial(raw); ok {
		return d, true
	}
	for _, layout := range genericLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format(isoDate), true
		}
	}
	return raw, false
}

// dayMonth builds a date from the first two fields, honouring the dialect and
// falling back to the other order when the preferred one is impossible.
func (p *DateParser) dayMonth(first, second, year int) (string, bool) {
	day, month := first, second
	if p.monthFirst {
		day, month = second, first
	}
	if d, ok := build(year, month, day); ok {
		return d, true
	}
	return build(year, day, month)
}

func (p *DateParser) textual(raw string) (string, bool) {
	if p.months == nil {
		return "", false
	}
	if m := dayMonthPattern.FindStringSubmatch(raw); m != nil {
		if month, ok := p.months.Month(m[2]); ok {
			year := atoi(m[3])
			if len(m[3]) == 2 {
				year = expandYear(year)
			}
			return build(year, month, atoi(m[1]))
		}
	}
	if m := monthDayPattern.FindStringSubmatch(raw); m != nil {
		if month, ok := p.months.Month(m[1]); ok {
			return build(atoi(m[3]), month, atoi(m[2]))
		}
	}
	return "", false
}

// IsExcelSerial reports whether s is a number in the plausible serial window.
func IsExcelSerial(s string) bool {
	_, ok := fromSerial(strings.TrimSpace(s))
	return ok
}

func fromSerial(raw string) (string, bool) {
	if !serialPattern.MatchString(raw) {
		return "", false
	}
	serial, err := strconv.ParseFloat(raw, 64)
	if err != nil || serial < excelSerialMin || serial >= excelSerialMax {
		return "", false
	}
	seconds := int64((serial - excelEpochOffset) * secondsPerDay)
	return time.Unix(seconds, 0).UTC().Format(isoDate), true
}

func build(year, month, day int) (string, bool) {
	if month < 1 || month > 12 || day < 1 || day > 31 || year < 1900 || year > 2200 {
		return "", false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day {
		return "", false
	}
	return t.Format(isoDate), true
}

func expandYear(yy int) int {
	if yy < twoDigitPivot {
		return 2000 + yy
	}
	return 1900 + yy
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
