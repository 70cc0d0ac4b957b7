// Package categorization allocates transactions to ledger categories through
// an ordered cascade of strategies and learns from user confirmations.
package categorization

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/catalog"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/codex"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/model"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/normalizer"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/repository"
)

const ruleConfidence = 90

var ErrEmptyCategory = errors.New("confirmed category is required")

// Decider allocates a single transaction.
type Decider interface {
	Decide(ctx context.Context, tenantID uuid.UUID, tx model.Transaction) model.Decision
}

// Service runs the allocation cascade
type Service struct {
	store      repository.Store
	codex      *codex.Codex
	cat        *catalog.Catalog
	keywords   *KeywordEngine
	patterns   *PatternCache
	suggester  *Suggester
	strategies []Strategy
	logger     *slog.Logger

	// Compiled tenant rules, dropped whenever a tenant learns. A load only
	// fills the cache if the tenant's generation did not move meanwhile.
	ruleCache map[uuid.UUID]*RuleMatcher
	ruleGen   map[uuid.UUID]uint64
	cacheMu   sync.RWMutex
}

// NewService creates the cascade. cx may be nil, in which case the private
// codex step is skipped.
func NewService(store repository.Store, cx *codex.Codex, cat *catalog.Catalog, logger *slog.Logger) (*Service, error) {
	suggester, err := NewSuggester(cat)
	if err != nil {
		return nil, fmt.Errorf("failed to build suggester: %w", err)
	}

	s := &Service{
		store:     store,
		codex:     cx,
		cat:       cat,
		keywords:  NewKeywordEngine(cat),
		patterns:  NewPatternCache(),
		suggester: suggester,
		logger:    logger,
		ruleCache: make(map[uuid.UUID]*RuleMatcher),
		ruleGen:   make(map[uuid.UUID]uint64),
	}

	if cx != nil {
		s.strategies = append(s.strategies, &codexStrategy{codex: cx})
	}
	s.strategies = append(s.strategies,
		&globalPatternStrategy{cache: s.patterns},
		&keywordStrategy{engine: s.keywords, rules: s.rulesFor},
		&lowConfidenceStrategy{engine: s.keywords},
	)
	return s, nil
}

// Keywords exposes the deterministic engine for keyword-only allocation.
func (s *Service) Keywords() *KeywordEngine { return s.keywords }

// Patterns exposes the global pattern snapshot.
func (s *Service) Patterns() *PatternCache { return s.patterns }

// Close releases the suggestion index.
func (s *Service) Close() error { return s.suggester.Close() }

// RefreshPatterns reloads the global pattern snapshot from the store.
func (s *Service) RefreshPatterns(ctx context.Context) error {
	patterns, err := s.store.GetGlobalPatterns(ctx, "", "")
	if err != nil {
		return fmt.Errorf("failed to load global patterns: %w", err)
	}
	s.patterns.Replace(patterns)
	s.logger.Debug("global patterns refreshed", "count", len(patterns))
	return nil
}

// Context derives the cascade input for a transaction.
func (s *Service) Context(tenantID uuid.UUID, tx model.Transaction) DecisionContext {
	return DecisionContext{
		TenantID:    tenantID,
		Transaction: tx,
		Normalized:  s.keywords.Normalize(tx.Description),
		Merchant:    normalizer.MerchantKey(tx.Description),
		Bucket:      normalizer.AmountBucket(tx.Amount),
	}
}

// Decide runs the strategies in order and returns the first acceptable
// decision, or a request for user input with suggested alternatives.
func (s *Service) Decide(ctx context.Context, tenantID uuid.UUID, tx model.Transaction) model.Decision {
	return s.decide(ctx, s.Context(tenantID, tx))
}

// Ask classifies a free-text question, such as a category prompt answered
// earlier by the tenant.
func (s *Service) Ask(ctx context.Context, tenantID uuid.UUID, question string) model.Decision {
	in := s.Context(tenantID, model.Transaction{Description: question})
	in.Question = question
	return s.decide(ctx, in)
}

func (s *Service) decide(ctx context.Context, in DecisionContext) model.Decision {
	for _, strategy := range s.strategies {
		if d, ok := strategy.Attempt(ctx, in); ok {
			return *d
		}
	}
	return s.noMatch(ctx, in)
}

func (s *Service) noMatch(ctx context.Context, in DecisionContext) model.Decision {
	alternatives, err := s.suggester.Suggest(in.Normalized, maxAlternatives)
	if err != nil {
		s.logger.Warn("suggestion search failed", "error", err)
	}
	if len(alternatives) == 0 {
		if in.Transaction.Direction == model.DirectionCredit {
			for _, c := range s.cat.Categories() {
				if c.CreditLike && len(alternatives) < maxAlternatives {
					alternatives = append(alternatives, c.Name)
				}
			}
		} else {
			alternatives = s.rulesFor(ctx, in.TenantID).TopCategories(maxAlternatives)
		}
	}
	return model.Decision{
		Method:            model.MethodNoMatch,
		Reasoning:         "no rule, pattern or keyword matched",
		Alternatives:      alternatives,
		RequiresUserInput: true,
	}
}

// rulesFor returns the tenant's compiled rules, loading them on first use.
func (s *Service) rulesFor(ctx context.Context, tenantID uuid.UUID) *RuleMatcher {
	s.cacheMu.RLock()
	rm, ok := s.ruleCache[tenantID]
	gen := s.ruleGen[tenantID]
	s.cacheMu.RUnlock()
	if ok {
		return rm
	}

	rules, err := s.store.GetAllocationRules(ctx, tenantID)
	if err != nil {
		s.logger.Warn("failed to load allocation rules", "tenant", tenantID, "error", err)
		return NewRuleMatcher(nil)
	}
	rm = NewRuleMatcher(rules)

	s.cacheMu.Lock()
	if s.ruleGen[tenantID] == gen {
		s.ruleCache[tenantID] = rm
	}
	s.cacheMu.Unlock()
	return rm
}

func (s *Service) invalidateRules(tenantID uuid.UUID) {
	s.cacheMu.Lock()
	delete(s.ruleCache, tenantID)
	s.ruleGen[tenantID]++
	s.cacheMu.Unlock()
}

// ============================================================================
// Learning
// ============================================================================

// Feedback is a confirmed or corrected allocation.
type Feedback struct {
	TenantID    uuid.UUID
	Transaction model.Transaction
	Previous    model.Decision
	Category    string
	Question    string
}

// LearnResult reports what each learning step did.
type LearnResult struct {
	Correct bool
	Codex   codex.Outcome
	Rule    string
	Pattern *repository.GlobalPattern
}

// Learn updates the private codex, the tenant keyword rules and the
// anonymized global pattern, then writes an audit record. Step failures are
// logged and joined into the returned error; later steps still run.
func (s *Service) Learn(ctx context.Context, fb Feedback) (LearnResult, error) {
	category := strings.TrimSpace(fb.Category)
	if category == "" {
		return LearnResult{}, ErrEmptyCategory
	}
	if c, ok := s.cat.Category(category); ok {
		category = c.Name
	}

	in := s.Context(fb.TenantID, fb.Transaction)
	in.Question = fb.Question
	res := LearnResult{Correct: strings.EqualFold(fb.Previous.Category, category)}
	var errs []error

	if s.codex != nil {
		out, err := s.codex.Learn(ctx, fb.TenantID, in.CodexContext(), category)
		if err != nil {
			s.logger.Warn("codex learning failed", "tenant", fb.TenantID, "error", err)
			errs = append(errs, err)
		}
		res.Codex = out
	}

	if in.Normalized != "" && fb.Question == "" {
		if err := s.store.UpsertAllocationRule(ctx, fb.TenantID, in.Normalized, category); err != nil {
			s.logger.Warn("failed to upsert allocation rule", "tenant", fb.TenantID, "error", err)
			errs = append(errs, err)
		} else {
			res.Rule = in.Normalized
		}
		s.invalidateRules(fb.TenantID)
	}

	if in.Merchant != "" && fb.Question == "" {
		p, err := s.contribute(ctx, in, category, res.Codex.Created)
		if err != nil {
			s.logger.Warn("failed to update global pattern", "merchant", in.Merchant, "error", err)
			errs = append(errs, err)
		}
		res.Pattern = p
	}

	description := in.Normalized
	if fb.Question != "" {
		description = fb.Question
	}
	audit := &repository.LearningLog{
		TenantID:          fb.TenantID,
		TransactionID:     fb.Transaction.ID,
		Description:       description,
		PreviousCategory:  fb.Previous.Category,
		ConfirmedCategory: category,
		Method:            fb.Previous.Method,
		Correct:           res.Correct,
		ConfidenceBefore:  fb.Previous.Confidence,
		ConfidenceAfter:   res.Codex.ConfidenceAfter,
	}
	if err := s.store.AddLearningLog(ctx, audit); err != nil {
		s.logger.Warn("failed to write learning log", "tenant", fb.TenantID, "error", err)
		errs = append(errs, err)
	}

	return res, errors.Join(errs...)
}

// contribute merges one outcome into the anonymized global pattern for the
// merchant and amount bucket.
func (s *Service) contribute(ctx context.Context, in DecisionContext, category string, newCompany bool) (*repository.GlobalPattern, error) {
	existing, err := s.store.GetGlobalPatterns(ctx, in.Merchant, in.Bucket)
	if err != nil {
		return nil, err
	}

	p := &repository.GlobalPattern{
		PatternKey:      PatternKey(in.Merchant, in.Bucket),
		MerchantPattern: in.Merchant,
		AmountRange:     in.Bucket,
	}
	if len(existing) > 0 {
		*p = existing[0]
	}
	if newCompany || p.CompaniesContributed == 0 {
		p.CompaniesContributed++
	}
	MergeOutcome(p, category)

	if err := s.store.UpsertGlobalPattern(ctx, p); err != nil {
		return nil, err
	}
	s.patterns.Put(*p)
	return p, nil
}

// PatternKey identifies a global pattern.
func PatternKey(merchant, bucket string) string {
	return merchant + "|" + bucket
}

// MergeOutcome adds one occurrence of category to the distribution,
// re-normalizes it to sum to 100 and recomputes the confidence score.
func MergeOutcome(p *repository.GlobalPattern, category string) {
	counts := make(map[string]float64, len(p.Distribution)+1)
	for c, pct := range p.Distribution {
		counts[c] = pct / 100 * float64(p.TotalOccurrences)
	}
	counts[category]++
	p.TotalOccurrences++
	p.Distribution = Normalize(counts)

	_, share := p.TopCategory()
	spread := math.Min(1, 0.6+0.1*float64(p.CompaniesContributed))
	p.ConfidenceScore = int(math.Round(share * spread))
}

// Normalize scales counts to percentages rounded to two decimals that sum
// to exactly 100. The rounding remainder goes to the largest share.
func Normalize(counts map[string]float64) map[string]float64 {
	var total float64
	for _, n := range counts {
		total += n
	}
	out := make(map[string]float64, len(counts))
	if total <= 0 {
		return out
	}

	var (
		sum     float64
		largest string
	)
	for c, n := range counts {
		pct := math.Round(n/total*10000) / 100
		out[c] = pct
		sum += pct
		if largest == "" || pct > out[largest] || (pct == out[largest] && c < largest) {
			largest = c
		}
	}
	out[largest] = math.Round((out[largest]+100-sum)*100) / 100
	return out
}
