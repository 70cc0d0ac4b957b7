package normalizer

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Scrub patterns applied, in order, before a description leaves the tenant.
var (
	emailPattern     = regexp.MustCompile(`[\w.+\-]+@[\w\-]+(\.[\w\-]+)+`)
	phonePattern     = regexp.MustCompile(`\+?\d[\d\s\-()]{8,}\d`)
	longDigitPattern = regexp.MustCompile(`\d{10,}`)
	datePattern      = regexp.MustCompile(`\b\d{1,4}[/.\-]\d{1,2}(?:[/.\-]\d{2,4})?\b`)
	amountPattern    = regexp.MustCompile(`(?:\br\s?|[$€£])?\d[\d ,]*[.,]\d{2}\b`)
	refTokenPattern  = regexp.MustCompile(`\b(?:ref|reference|verwysing|inv|invoice|nr|no|id)[:#.]?\s*[\w\-/]*\d[\w\-/]*`)
	mixedPattern     = regexp.MustCompile(`\b[a-z]*\d[a-z\d\-]*\b`)
	starPattern      = regexp.MustCompile(`[*#]+`)
	spacePattern     = regexp.MustCompile(`\s+`)
)

// Channel prefixes banks put in front of the merchant name.
var channelPrefixes = []string{
	"pos purchase ", "pos ", "card purchase ", "purchase ", "aankoop ",
	"debit order ", "debietorder ", "payment to ", "payment ", "betaling ",
	"eft ", "ib payment ", "ib ", "fnb app payment to ", "magtape ", "acb ",
}

var accentFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fold lowercases s and strips diacritics.
func Fold(s string) string {
	folded, _, err := transform.String(accentFolder, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

// Anonymize removes anything that could identify an account holder or a
// single payment: emails, phone numbers, digit runs of ten or more,
// reference-like tokens, dates and amounts. What remains is the merchant text.
func Anonymize(description string) string {
	s := Fold(description)
	s = emailPattern.ReplaceAllString(s, " ")
	s = phonePattern.ReplaceAllString(s, " ")
	s = longDigitPattern.ReplaceAllString(s, " ")
	s = refTokenPattern.ReplaceAllString(s, " ")
	s = datePattern.ReplaceAllString(s, " ")
	s = amountPattern.ReplaceAllString(s, " ")
	s = mixedPattern.ReplaceAllString(s, " ")
	s = starPattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(spacePattern.ReplaceAllString(s, " "))
}

// MerchantKey reduces a description to the merchant name used for global
// patterns: anonymized, without channel prefixes, at most three words.
func MerchantKey(description string) string {
	s := cleanMerchantName(Anonymize(description))
	words := strings.Fields(s)
	if len(words) > 3 {
		words = words[:3]
	}
	return strings.Join(words, " ")
}

// NormalizeDescription folds s and removes the given noise tokens, keeping
// whole words only.
func NormalizeDescription(description string, noise []string) string {
	s := " " + spacePattern.ReplaceAllString(strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '&' {
			return r
		}
		return ' '
	}, Fold(description)), " ") + " "
	for _, token := range noise {
		s = strings.ReplaceAll(s, " "+token+" ", " ")
	}
	return strings.TrimSpace(s)
}

// cleanMerchantName strips a leading channel prefix and collapses spaces.
func cleanMerchantName(raw string) string {
	result := strings.TrimSpace(raw)
	for _, prefix := range channelPrefixes {
		if strings.HasPrefix(result, prefix) {
			result = result[len(prefix):]
			break
		}
	}
	return strings.TrimSpace(spacePattern.ReplaceAllString(result, " "))
}

// Amount buckets used to partition global patterns.
const (
	BucketSmall  = "<50"
	BucketMedium = "50-500"
	BucketLarge  = ">500"
	BucketAny    = "any"
)

var (
	bucketLow  = decimal.NewFromInt(50)
	bucketHigh = decimal.NewFromInt(500)
)

// AmountBucket places a magnitude in one of the concrete buckets.
func AmountBucket(amount decimal.Decimal) string {
	a := amount.Abs()
	switch {
	case a.LessThan(bucketLow):
		return BucketSmall
	case a.LessThanOrEqual(bucketHigh):
		return BucketMedium
	default:
		return BucketLarge
	}
}
