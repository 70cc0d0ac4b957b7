package categorization

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/cloudflare/ahocorasick"
	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/catalog"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/model"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/normalizer"
)

const (
	// UsableConfidence is the keyword score below which a match needs a human.
	UsableConfidence = 0.5

	baseConfidence   = 0.3
	perWeight        = 0.35
	maxKeywordConf   = 0.95
	amountBonus      = 0.1
	amountPenalty    = 0.15
	directionPenalty = 0.15
	hintBonus        = 0.1
	hintOnlyConf     = 0.6
	maxAlternatives  = 3
)

// KeywordResult is the keyword engine's verdict for one transaction.
type KeywordResult struct {
	Category      string
	Confidence    float64 // 0-1
	Justification string
	Matched       []string
	Alternatives  []string
}

// Found reports whether any category was produced.
func (r KeywordResult) Found() bool { return r.Category != "" }

// Percent converts the confidence to the 0-100 scale used by decisions.
func (r KeywordResult) Percent() int { return int(math.Round(r.Confidence * 100)) }

type termHit struct {
	category int
	weight   float64
}

// KeywordEngine scores descriptions against the catalogue keyword table with
// a single Aho-Corasick pass. Terms are padded with spaces so only whole
// words match.
type KeywordEngine struct {
	cat     *catalog.Catalog
	matcher *ahocorasick.Matcher
	terms   []string
	hits    [][]termHit
}

// NewKeywordEngine builds the matcher from the catalogue.
func NewKeywordEngine(cat *catalog.Catalog) *KeywordEngine {
	e := &KeywordEngine{cat: cat}

	index := make(map[string]int)
	for ci, category := range cat.Categories() {
		for _, kw := range category.Keywords {
			term := normalizer.NormalizeDescription(kw.Term, nil)
			if term == "" {
				continue
			}
			i, ok := index[term]
			if !ok {
				i = len(e.terms)
				index[term] = i
				e.terms = append(e.terms, term)
				e.hits = append(e.hits, nil)
			}
			e.hits[i] = append(e.hits[i], termHit{category: ci, weight: kw.Weight})
		}
	}

	padded := make([]string, len(e.terms))
	for i, term := range e.terms {
		padded[i] = " " + term + " "
	}
	if len(padded) > 0 {
		e.matcher = ahocorasick.NewStringMatcher(padded)
	}
	return e
}

// TermCount returns the number of distinct keyword terms.
func (e *KeywordEngine) TermCount() int { return len(e.terms) }

// Normalize folds the description and strips catalogue noise tokens.
func (e *KeywordEngine) Normalize(description string) string {
	return normalizer.NormalizeDescription(description, e.cat.NoiseTokens())
}

// Score classifies one transaction.
func (e *KeywordEngine) Score(tx model.Transaction) KeywordResult {
	normalized := e.Normalize(tx.Description)
	categories := e.cat.Categories()
	scores := make([]float64, len(categories))
	matched := make([][]string, len(categories))

	if e.matcher != nil && normalized != "" {
		for _, idx := range e.matcher.Match([]byte(" " + normalized + " ")) {
			for _, h := range e.hits[idx] {
				scores[h.category] += h.weight
				matched[h.category] = append(matched[h.category], e.terms[idx])
			}
		}
	}

	type ranked struct {
		index int
		score float64
	}
	var order []ranked
	for i, s := range scores {
		if s > 0 {
			order = append(order, ranked{i, s})
		}
	}
	sort.SliceStable(order, func(a, b int) bool { return order[a].score > order[b].score })

	hint, hasHint := e.hintCategory(tx.CategoryHint)

	if len(order) == 0 {
		if hasHint {
			return KeywordResult{
				Category:      hint,
				Confidence:    hintOnlyConf,
				Justification: fmt.Sprintf("category column says %q", tx.CategoryHint),
			}
		}
		return KeywordResult{}
	}

	best := categories[order[0].index]
	conf := baseConfidence + perWeight*order[0].score
	conf = min(conf, maxKeywordConf)

	reasons := []string{fmt.Sprintf("keywords %s", quoteAll(matched[order[0].index]))}

	if best.MinAmount > 0 || best.MaxAmount > 0 {
		if inRange(tx.Amount, best.MinAmount, best.MaxAmount) {
			conf += amountBonus
			reasons = append(reasons, "amount typical for category")
		} else {
			conf -= amountPenalty
			reasons = append(reasons, "amount unusual for category")
		}
	}
	if e.cat.IsCreditLike(best.Name) && tx.Direction == model.DirectionDebit {
		conf -= directionPenalty
		reasons = append(reasons, "money out for an income category")
	}
	if hasHint && strings.EqualFold(hint, best.Name) {
		conf += hintBonus
		reasons = append(reasons, "agrees with category column")
	}

	result := KeywordResult{
		Category:      best.Name,
		Confidence:    math.Max(0, math.Min(conf, maxKeywordConf)),
		Justification: strings.Join(reasons, "; "),
		Matched:       matched[order[0].index],
	}
	for _, r := range order[1:] {
		if len(result.Alternatives) == maxAlternatives {
			break
		}
		result.Alternatives = append(result.Alternatives, categories[r.index].Name)
	}
	return result
}

func (e *KeywordEngine) hintCategory(hint string) (string, bool) {
	if strings.TrimSpace(hint) == "" {
		return "", false
	}
	if c, ok := e.cat.Category(hint); ok {
		return c.Name, true
	}
	return "", false
}

func inRange(amount decimal.Decimal, lo, hi float64) bool {
	a := amount.Abs().InexactFloat64()
	if lo > 0 && a < lo {
		return false
	}
	if hi > 0 && a > hi {
		return false
	}
	return true
}

func quoteAll(terms []string) string {
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = "'" + t + "'"
	}
	return strings.Join(quoted, ", ")
}
