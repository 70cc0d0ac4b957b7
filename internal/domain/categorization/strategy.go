package categorization

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/codex"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/model"
)

// GlobalAcceptThreshold is the pattern confidence the cascade accepts.
const GlobalAcceptThreshold = 75

// DecisionContext carries one transaction through the cascade.
type DecisionContext struct {
	TenantID    uuid.UUID
	Transaction model.Transaction
	Normalized  string
	Merchant    string
	Bucket      string
	Question    string
}

// CodexContext is the private codex key for this decision.
func (d DecisionContext) CodexContext() codex.Context {
	return codex.Context{
		Merchant:     d.Merchant,
		Description:  d.Normalized,
		AmountBucket: d.Bucket,
		Question:     d.Question,
	}
}

// Strategy is one step of the allocation cascade.
type Strategy interface {
	Method() model.Method
	Attempt(ctx context.Context, in DecisionContext) (*model.Decision, bool)
}

// ============================================================================
// Private codex
// ============================================================================

type codexStrategy struct {
	codex *codex.Codex
}

func (s *codexStrategy) Method() model.Method { return model.MethodPrivateCodex }

func (s *codexStrategy) Attempt(ctx context.Context, in DecisionContext) (*model.Decision, bool) {
	cctx := in.CodexContext()
	hit, ok := s.codex.Lookup(ctx, in.TenantID, cctx)
	if !ok || hit.Confidence < cctx.Threshold() {
		return nil, false
	}
	return &model.Decision{
		Category:     hit.Category,
		Confidence:   hit.Confidence,
		Method:       model.MethodPrivateCodex,
		Reasoning:    fmt.Sprintf("learned from %d previous confirmations", hit.SuccessCount),
		Alternatives: hit.Alternatives,
	}, true
}

// ============================================================================
// Global pattern
// ============================================================================

type globalPatternStrategy struct {
	cache *PatternCache
}

func (s *globalPatternStrategy) Method() model.Method { return model.MethodGlobalPattern }

func (s *globalPatternStrategy) Attempt(_ context.Context, in DecisionContext) (*model.Decision, bool) {
	m, ok := s.cache.Match(in.Merchant, in.Bucket)
	if !ok || m.Pattern.ConfidenceScore < GlobalAcceptThreshold || m.Category == "" {
		return nil, false
	}

	dist := m.Pattern.Distribution
	alternatives := make([]string, 0, len(dist))
	for category := range dist {
		if category != m.Category {
			alternatives = append(alternatives, category)
		}
	}
	sort.Slice(alternatives, func(i, j int) bool {
		if dist[alternatives[i]] != dist[alternatives[j]] {
			return dist[alternatives[i]] > dist[alternatives[j]]
		}
		return alternatives[i] < alternatives[j]
	})
	if len(alternatives) > maxAlternatives {
		alternatives = alternatives[:maxAlternatives]
	}

	return &model.Decision{
		Category:   m.Category,
		Confidence: m.Pattern.ConfidenceScore,
		Method:     model.MethodGlobalPattern,
		Reasoning: fmt.Sprintf("%.0f%% of %d businesses file '%s' (%s) here",
			m.Share, m.Pattern.CompaniesContributed, m.Pattern.MerchantPattern, m.Pattern.AmountRange),
		Alternatives: alternatives,
	}, true
}

// ============================================================================
// Keyword engine
// ============================================================================

// RuleSource supplies compiled tenant rules.
type RuleSource func(ctx context.Context, tenantID uuid.UUID) *RuleMatcher

type keywordStrategy struct {
	engine *KeywordEngine
	rules  RuleSource
}

func (s *keywordStrategy) Method() model.Method { return model.MethodKeywordEngine }

func (s *keywordStrategy) Attempt(ctx context.Context, in DecisionContext) (*model.Decision, bool) {
	if s.rules != nil {
		if rule, ok := s.rules(ctx, in.TenantID).Match(in.Normalized); ok {
			return &model.Decision{
				Category:   rule.Category,
				Confidence: ruleConfidence,
				Method:     model.MethodKeywordEngine,
				Reasoning:  fmt.Sprintf("matches your rule '%s'", rule.Pattern),
			}, true
		}
	}

	r := s.engine.Score(in.Transaction)
	if !r.Found() || r.Confidence < UsableConfidence {
		return nil, false
	}
	return &model.Decision{
		Category:     r.Category,
		Confidence:   r.Percent(),
		Method:       model.MethodKeywordEngine,
		Reasoning:    r.Justification,
		Alternatives: r.Alternatives,
	}, true
}

// ============================================================================
// Low confidence
// ============================================================================

type lowConfidenceStrategy struct {
	engine *KeywordEngine
}

func (s *lowConfidenceStrategy) Method() model.Method { return model.MethodLowConfidence }

func (s *lowConfidenceStrategy) Attempt(_ context.Context, in DecisionContext) (*model.Decision, bool) {
	r := s.engine.Score(in.Transaction)
	if !r.Found() {
		return nil, false
	}
	return &model.Decision{
		Category:          r.Category,
		Confidence:        r.Percent(),
		Method:            model.MethodLowConfidence,
		Reasoning:         "weak match: " + r.Justification,
		Alternatives:      r.Alternatives,
		RequiresUserInput: true,
	}, true
}
