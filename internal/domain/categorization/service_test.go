package categorization

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/catalog"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/codex"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/model"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/repository"
)

func newTestService(t *testing.T, withCodex bool) (*Service, *repository.MemoryStore) {
	t.Helper()
	store := repository.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var cx *codex.Codex
	if withCodex {
		keys, err := codex.NewKeyRing(bytes.Repeat([]byte{3}, 32))
		require.NoError(t, err)
		cx = codex.New(store, keys, keys, logger)
	}

	svc, err := NewService(store, cx, catalog.MustDefault(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc, store
}

// ============================================================================
// Cascade
// ============================================================================

func TestService_Decide_KeywordEngine(t *testing.T) {
	svc, _ := newTestService(t, true)
	ctx := context.Background()

	d := svc.Decide(ctx, uuid.New(), debit("ENGEN SANDTON", "850.00"))
	assert.Equal(t, model.MethodKeywordEngine, d.Method)
	assert.Equal(t, "Fuel", d.Category)
	assert.Equal(t, 65, d.Confidence)
	assert.False(t, d.RequiresUserInput)
}

func TestService_Decide_LowConfidence(t *testing.T) {
	svc, _ := newTestService(t, true)

	// money out for an income category drops the score to the threshold edge
	d := svc.Decide(context.Background(), uuid.New(), debit("RECEIPT 99", "40.00"))
	assert.Equal(t, model.MethodLowConfidence, d.Method)
	assert.Equal(t, "Debtor Receipts", d.Category)
	assert.True(t, d.RequiresUserInput)
	assert.Less(t, d.Confidence, 50)
}

func TestService_Decide_NoMatch(t *testing.T) {
	svc, _ := newTestService(t, true)

	d := svc.Decide(context.Background(), uuid.New(), credit("QWZX 9911", "40.00"))
	assert.Equal(t, model.MethodNoMatch, d.Method)
	assert.Empty(t, d.Category)
	assert.True(t, d.RequiresUserInput)
	assert.NotEmpty(t, d.Alternatives)
}

func TestService_PrivateCodexOverridesKeywords(t *testing.T) {
	svc, store := newTestService(t, true)
	ctx := context.Background()
	tenant := uuid.New()
	tx := debit("TELKOM 0123456", "599.00")

	first := svc.Decide(ctx, tenant, tx)
	require.Equal(t, model.MethodKeywordEngine, first.Method)
	require.Equal(t, "Telephone & Internet", first.Category)

	previous := first
	for i := 0; i < 3; i++ {
		_, err := svc.Learn(ctx, Feedback{
			TenantID:    tenant,
			Transaction: tx,
			Previous:    previous,
			Category:    "Computer Expenses",
		})
		require.NoError(t, err)
		previous = svc.Decide(ctx, tenant, tx)
	}

	d := svc.Decide(ctx, tenant, tx)
	assert.Equal(t, model.MethodPrivateCodex, d.Method)
	assert.Equal(t, "Computer Expenses", d.Category)
	assert.Equal(t, 95, d.Confidence)

	// keyword engine alone still says telecoms
	assert.Equal(t, "Telephone & Internet", svc.Keywords().Score(tx).Category)

	logs := store.LearningLogs(tenant)
	require.Len(t, logs, 3)
	assert.False(t, logs[0].Correct)
	assert.Equal(t, "Telephone & Internet", logs[0].PreviousCategory)
	assert.True(t, logs[2].Correct)
	assert.Equal(t, 95, logs[2].ConfidenceAfter)

	// other tenants do not see the private entry
	other := svc.Decide(ctx, uuid.New(), tx)
	assert.NotEqual(t, model.MethodPrivateCodex, other.Method)
}

func TestService_LearnedRuleWithoutCodex(t *testing.T) {
	svc, _ := newTestService(t, false)
	ctx := context.Background()
	tenant := uuid.New()
	tx := debit("TELKOM 0123456", "599.00")

	res, err := svc.Learn(ctx, Feedback{TenantID: tenant, Transaction: tx, Category: "computer expenses"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Rule)

	d := svc.Decide(ctx, tenant, tx)
	assert.Equal(t, model.MethodKeywordEngine, d.Method)
	assert.Equal(t, "Computer Expenses", d.Category)
	assert.Equal(t, ruleConfidence, d.Confidence)
}

func TestService_GlobalPatternAcrossTenants(t *testing.T) {
	svc, store := newTestService(t, true)
	ctx := context.Background()
	tx := debit("ACME WIDGETS", "300.00")

	for i := 0; i < 2; i++ {
		res, err := svc.Learn(ctx, Feedback{TenantID: uuid.New(), Transaction: tx, Category: "Office Supplies"})
		require.NoError(t, err)
		require.NotNil(t, res.Pattern)
		assert.True(t, res.Codex.Created)
	}

	patterns, err := store.GetGlobalPatterns(ctx, "", "")
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, 2, patterns[0].CompaniesContributed)
	assert.Equal(t, 80, patterns[0].ConfidenceScore)

	d := svc.Decide(ctx, uuid.New(), tx)
	assert.Equal(t, model.MethodGlobalPattern, d.Method)
	assert.Equal(t, "Office Supplies", d.Category)
	assert.Equal(t, 80, d.Confidence)

	// a fresh process sees the same pattern after a refresh
	fresh, err := NewService(store, nil, catalog.MustDefault(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer fresh.Close()
	require.NoError(t, fresh.RefreshPatterns(ctx))
	assert.Equal(t, 1, fresh.Patterns().Len())
}

func TestService_Learn_EmptyCategory(t *testing.T) {
	svc, _ := newTestService(t, true)
	_, err := svc.Learn(context.Background(), Feedback{TenantID: uuid.New(), Category: "  "})
	assert.ErrorIs(t, err, ErrEmptyCategory)
}

func TestService_Ask(t *testing.T) {
	svc, _ := newTestService(t, true)
	ctx := context.Background()
	tenant := uuid.New()
	question := "where do I put the office coffee machine?"

	for i := 0; i < 2; i++ {
		_, err := svc.Learn(ctx, Feedback{TenantID: tenant, Category: "Repairs & Maintenance", Question: question})
		require.NoError(t, err)
	}

	d := svc.Ask(ctx, tenant, question)
	assert.Equal(t, model.MethodPrivateCodex, d.Method)
	assert.Equal(t, "Repairs & Maintenance", d.Category)
	assert.Equal(t, 90, d.Confidence)
}

// ============================================================================
// Rule cache
// ============================================================================

// gatedStore holds the first rule load open until release is closed.
type gatedStore struct {
	*repository.MemoryStore
	calls   atomic.Int32
	loaded  chan struct{}
	release chan struct{}
}

func (g *gatedStore) GetAllocationRules(ctx context.Context, tenantID uuid.UUID) ([]repository.AllocationRule, error) {
	rules, err := g.MemoryStore.GetAllocationRules(ctx, tenantID)
	if g.calls.Add(1) == 1 {
		close(g.loaded)
		<-g.release
	}
	return rules, err
}

func TestService_RulesReloadAfterConcurrentLearn(t *testing.T) {
	store := &gatedStore{
		MemoryStore: repository.NewMemoryStore(),
		loaded:      make(chan struct{}),
		release:     make(chan struct{}),
	}
	svc, err := NewService(store, nil, catalog.MustDefault(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	ctx := context.Background()
	tenant := uuid.New()
	tx := debit("TELKOM 0123456", "599.00")

	inflight := make(chan *RuleMatcher)
	go func() { inflight <- svc.rulesFor(ctx, tenant) }()
	<-store.loaded

	_, err = svc.Learn(ctx, Feedback{TenantID: tenant, Transaction: tx, Category: "Computer Expenses"})
	require.NoError(t, err)
	close(store.release)

	// the load that started before the rule was learned must not be cached
	assert.Equal(t, 0, (<-inflight).Len())
	assert.Equal(t, 1, svc.rulesFor(ctx, tenant).Len())

	d := svc.Decide(ctx, tenant, tx)
	assert.Equal(t, "Computer Expenses", d.Category)
	assert.Equal(t, ruleConfidence, d.Confidence)
}
