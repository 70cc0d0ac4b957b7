// Package dedupe finds transactions that were already imported. Exact key
// collisions are excluded; near misses are only reported.
package dedupe

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/model"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/normalizer"
	"github.com/FACorreiaa/ledger-ingest/pkg/money"
)

const (
	keyDescriptionRunes = 30
	fuzzyThreshold      = 0.7
)

var (
	relativeTolerance = decimal.New(1, -2) // 1%
	absoluteTolerance = decimal.NewFromInt(1)
)

// Key identifies a transaction for exact matching.
type Key string

// ExactKey is (date, amount in cents, direction, first 30 lowercased runes of
// the description).
func ExactKey(tx model.Transaction) Key {
	cents := money.ToMinor(tx.Amount, money.DefaultCurrency)
	desc := []rune(strings.ToLower(strings.TrimSpace(tx.Description)))
	if len(desc) > keyDescriptionRunes {
		desc = desc[:keyDescriptionRunes]
	}
	return Key(fmt.Sprintf("%s|%d|%s|%s", tx.Date, cents, tx.Direction, string(desc)))
}

// Index holds previously stored transactions.
type Index struct {
	exact  map[Key]struct{}
	byDate map[string][]model.Transaction
}

// NewIndex builds an index over existing transactions.
func NewIndex(existing []model.Transaction) *Index {
	ix := &Index{
		exact:  make(map[Key]struct{}, len(existing)),
		byDate: make(map[string][]model.Transaction),
	}
	for _, tx := range existing {
		ix.exact[ExactKey(tx)] = struct{}{}
		ix.byDate[tx.Date] = append(ix.byDate[tx.Date], tx)
	}
	return ix
}

// Len is the number of distinct keys indexed.
func (ix *Index) Len() int { return len(ix.exact) }

// Result partitions a batch.
type Result struct {
	Unique     []model.Transaction
	Duplicates []model.Transaction
	Warnings   []model.Warning
}

// Check excludes exact duplicates and flags fuzzy ones for review.
func (ix *Index) Check(txs []model.Transaction) Result {
	var res Result
	for _, tx := range txs {
		if _, dup := ix.exact[ExactKey(tx)]; dup {
			res.Duplicates = append(res.Duplicates, tx)
			continue
		}
		res.Unique = append(res.Unique, tx)
		if match, ok := ix.fuzzy(tx); ok {
			res.Warnings = append(res.Warnings, model.Warning{
				Line: tx.SourceLine,
				Kind: model.WarnFuzzyDuplicate,
				Message: fmt.Sprintf("possible duplicate of %s %q %s",
					match.Date, match.Description, match.Amount.StringFixed(2)),
			})
		}
	}
	return res
}

func (ix *Index) fuzzy(tx model.Transaction) (model.Transaction, bool) {
	for _, candidate := range ix.byDate[tx.Date] {
		if candidate.Direction != tx.Direction || !AmountsClose(candidate.Amount, tx.Amount) {
			continue
		}
		if Jaccard(candidate.Description, tx.Description) >= fuzzyThreshold {
			return candidate, true
		}
	}
	return model.Transaction{}, false
}

// AmountsClose reports whether a and b differ by at most 1% of the larger
// magnitude or by at most one currency unit.
func AmountsClose(a, b decimal.Decimal) bool {
	diff := a.Sub(b).Abs()
	if diff.LessThanOrEqual(absoluteTolerance) {
		return true
	}
	larger := decimal.Max(a.Abs(), b.Abs())
	return diff.LessThanOrEqual(larger.Mul(relativeTolerance))
}

// Jaccard is the word-set similarity of two descriptions in [0,1].
func Jaccard(a, b string) float64 {
	setA, setB := words(a), words(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}
	inter := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}

func words(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(normalizer.NormalizeDescription(s, nil)) {
		set[w] = struct{}{}
	}
	return set
}
