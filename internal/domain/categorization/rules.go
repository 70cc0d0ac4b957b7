package categorization

import (
	"sort"

	"github.com/cloudflare/ahocorasick"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/repository"
)

// RuleMatcher finds tenant allocation rules inside a normalized description.
type RuleMatcher struct {
	matcher *ahocorasick.Matcher
	rules   []repository.AllocationRule
}

// NewRuleMatcher compiles the rules. Empty patterns are skipped.
func NewRuleMatcher(rules []repository.AllocationRule) *RuleMatcher {
	rm := &RuleMatcher{}
	sorted := make([]repository.AllocationRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].HitCount > sorted[j].HitCount })

	var padded []string
	for _, r := range sorted {
		if r.Pattern == "" {
			continue
		}
		rm.rules = append(rm.rules, r)
		padded = append(padded, " "+r.Pattern+" ")
	}
	if len(padded) > 0 {
		rm.matcher = ahocorasick.NewStringMatcher(padded)
	}
	return rm
}

// Len returns the number of compiled rules.
func (rm *RuleMatcher) Len() int { return len(rm.rules) }

// Match returns the longest rule whose pattern occurs as whole words.
func (rm *RuleMatcher) Match(normalized string) (repository.AllocationRule, bool) {
	if rm == nil || rm.matcher == nil || normalized == "" {
		return repository.AllocationRule{}, false
	}
	best := -1
	for _, idx := range rm.matcher.Match([]byte(" " + normalized + " ")) {
		if best < 0 || len(rm.rules[idx].Pattern) > len(rm.rules[best].Pattern) {
			best = idx
		}
	}
	if best < 0 {
		return repository.AllocationRule{}, false
	}
	return rm.rules[best], true
}

// TopCategories returns up to n distinct rule categories, most used first.
func (rm *RuleMatcher) TopCategories(n int) []string {
	if rm == nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, r := range rm.rules {
		if len(out) == n {
			break
		}
		if !seen[r.Category] {
			seen[r.Category] = true
			out = append(out, r.Category)
		}
	}
	return out
}
