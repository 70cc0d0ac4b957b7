package categorization

import (
	"strings"
	"sync"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/normalizer"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/repository"
)

// maxFuzzyDistance bounds how far a merchant may drift from a stored pattern
// and still be considered the same merchant ("engen sandton" vs "engen sandtn").
const maxFuzzyDistance = 2

// PatternMatch is a global pattern selected for a merchant.
type PatternMatch struct {
	Pattern  repository.GlobalPattern
	Category string
	Share    float64
	Distance int
}

// PatternCache is an in-memory snapshot of the global pattern catalogue,
// replaced wholesale on refresh and patched on learning.
type PatternCache struct {
	mu       sync.RWMutex
	patterns map[string]repository.GlobalPattern
}

// NewPatternCache creates an empty cache
func NewPatternCache() *PatternCache {
	return &PatternCache{patterns: make(map[string]repository.GlobalPattern)}
}

// Replace swaps the whole snapshot
func (c *PatternCache) Replace(patterns []repository.GlobalPattern) {
	next := make(map[string]repository.GlobalPattern, len(patterns))
	for _, p := range patterns {
		next[p.PatternKey] = p
	}
	c.mu.Lock()
	c.patterns = next
	c.mu.Unlock()
}

// Put inserts or replaces one pattern
func (c *PatternCache) Put(p repository.GlobalPattern) {
	c.mu.Lock()
	c.patterns[p.PatternKey] = p
	c.mu.Unlock()
}

// Len returns the number of cached patterns
func (c *PatternCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.patterns)
}

// Match returns the most confident pattern for the merchant within the
// amount bucket (or the "any" bucket). A pattern matches when either string
// contains the other, or when the fuzzy subsequence match is within
// maxFuzzyDistance edits.
func (c *PatternCache) Match(merchant, bucket string) (*PatternMatch, bool) {
	merchant = strings.TrimSpace(merchant)
	if merchant == "" {
		return nil, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var best *PatternMatch
	for _, p := range c.patterns {
		if p.AmountRange != bucket && p.AmountRange != normalizer.BucketAny {
			continue
		}
		distance, ok := merchantDistance(merchant, p.MerchantPattern)
		if !ok {
			continue
		}
		category, share := p.TopCategory()
		candidate := &PatternMatch{Pattern: p, Category: category, Share: share, Distance: distance}
		if best == nil || better(candidate, best) {
			best = candidate
		}
	}
	return best, best != nil
}

func better(a, b *PatternMatch) bool {
	if a.Pattern.ConfidenceScore != b.Pattern.ConfidenceScore {
		return a.Pattern.ConfidenceScore > b.Pattern.ConfidenceScore
	}
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	if a.Pattern.TotalOccurrences != b.Pattern.TotalOccurrences {
		return a.Pattern.TotalOccurrences > b.Pattern.TotalOccurrences
	}
	return a.Pattern.PatternKey < b.Pattern.PatternKey
}

func merchantDistance(merchant, pattern string) (int, bool) {
	if pattern == "" {
		return 0, false
	}
	if strings.Contains(merchant, pattern) || (len(merchant) >= 4 && strings.Contains(pattern, merchant)) {
		return 0, true
	}
	if fuzzy.MatchFold(pattern, merchant) || fuzzy.MatchFold(merchant, pattern) {
		d := fuzzy.LevenshteinDistance(merchant, pattern)
		return d, d <= maxFuzzyDistance
	}
	d := fuzzy.LevenshteinDistance(merchant, pattern)
	return d, d <= maxFuzzyDistance && len(pattern) > 4*maxFuzzyDistance
}
