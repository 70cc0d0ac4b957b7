package repository

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type codexKey struct {
	tenant uuid.UUID
	hash   string
}

type ruleKey struct {
	tenant  uuid.UUID
	pattern string
}

// MemoryStore is an in-process Store used by the CLI and tests.
// Values are copied on the way in and out.
type MemoryStore struct {
	mu           sync.RWMutex
	rules        map[ruleKey]AllocationRule
	codex        map[codexKey]CodexEntry
	patterns     map[string]GlobalPattern
	transactions map[uuid.UUID]BankTransaction
	learning     []LearningLog
	imports      []ImportLog
	now          func() time.Time
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rules:        make(map[ruleKey]AllocationRule),
		codex:        make(map[codexKey]CodexEntry),
		patterns:     make(map[string]GlobalPattern),
		transactions: make(map[uuid.UUID]BankTransaction),
		now:          time.Now,
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) GetAllocationRules(_ context.Context, tenantID uuid.UUID) ([]AllocationRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []AllocationRule
	for k, r := range m.rules {
		if k.tenant == tenantID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].HitCount != out[j].HitCount {
			return out[i].HitCount > out[j].HitCount
		}
		return out[i].Pattern < out[j].Pattern
	})
	return out, nil
}

func (m *MemoryStore) UpsertAllocationRule(_ context.Context, tenantID uuid.UUID, pattern, category string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	k := ruleKey{tenantID, pattern}
	r, ok := m.rules[k]
	if !ok {
		r = AllocationRule{ID: uuid.New(), TenantID: tenantID, Pattern: pattern, CreatedAt: now}
	}
	r.Category = category
	r.HitCount++
	r.UpdatedAt = now
	m.rules[k] = r
	return nil
}

func (m *MemoryStore) GetCodexEntry(_ context.Context, tenantID uuid.UUID, contextHash string) (*CodexEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.codex[codexKey{tenantID, contextHash}]
	if !ok {
		return nil, ErrNotFound
	}
	e.Payload = slices.Clone(e.Payload)
	return &e, nil
}

func (m *MemoryStore) CreateCodexEntry(_ context.Context, e *CodexEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := codexKey{e.TenantID, e.ContextHash}
	if _, exists := m.codex[k]; exists {
		return ErrConflict
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.CreatedAt = m.now()
	e.UpdatedAt = e.CreatedAt

	stored := *e
	stored.Payload = slices.Clone(e.Payload)
	m.codex[k] = stored
	return nil
}

func (m *MemoryStore) UpdateCodexEntry(_ context.Context, e *CodexEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := codexKey{e.TenantID, e.ContextHash}
	existing, ok := m.codex[k]
	if !ok {
		return ErrNotFound
	}
	e.ID = existing.ID
	e.CreatedAt = existing.CreatedAt
	e.UpdatedAt = m.now()

	stored := *e
	stored.Payload = slices.Clone(e.Payload)
	m.codex[k] = stored
	return nil
}

func (m *MemoryStore) GetGlobalPatterns(_ context.Context, merchant, amountRange string) ([]GlobalPattern, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []GlobalPattern
	for _, p := range m.patterns {
		if merchant != "" && p.MerchantPattern != merchant {
			continue
		}
		if amountRange != "" && p.AmountRange != amountRange {
			continue
		}
		p.Distribution = maps.Clone(p.Distribution)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PatternKey < out[j].PatternKey })
	return out, nil
}

func (m *MemoryStore) UpsertGlobalPattern(_ context.Context, p *GlobalPattern) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p.UpdatedAt = m.now()
	stored := *p
	stored.Distribution = maps.Clone(p.Distribution)
	m.patterns[p.PatternKey] = stored
	return nil
}

func (m *MemoryStore) GetBankTransactions(_ context.Context, tenantID uuid.UUID, f TransactionFilter) ([]BankTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []BankTransaction
	for _, b := range m.transactions {
		if b.TenantID != tenantID {
			continue
		}
		if f.From != "" && strings.Compare(b.Date, f.From) < 0 {
			continue
		}
		if f.To != "" && strings.Compare(b.Date, f.To) > 0 {
			continue
		}
		if f.ImportID != uuid.Nil && b.ImportID != f.ImportID {
			continue
		}
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		if len(f.IDs) > 0 && !slices.Contains(f.IDs, b.ID) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].SourceLine < out[j].SourceLine
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) AddBankTransaction(_ context.Context, b *BankTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if _, exists := m.transactions[b.ID]; exists {
		return ErrConflict
	}
	if b.Status == "" {
		b.Status = StatusPending
	}
	b.CreatedAt = m.now()
	b.UpdatedAt = b.CreatedAt
	m.transactions[b.ID] = *b
	return nil
}

func (m *MemoryStore) UpdateBankTransaction(_ context.Context, b *BankTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.transactions[b.ID]
	if !ok || existing.TenantID != b.TenantID {
		return ErrNotFound
	}
	existing.Category = b.Category
	existing.Confidence = b.Confidence
	existing.Method = b.Method
	existing.Status = b.Status
	existing.UpdatedAt = m.now()
	m.transactions[b.ID] = existing
	*b = existing
	return nil
}

func (m *MemoryStore) AddLearningLog(_ context.Context, l *LearningLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	l.CreatedAt = m.now()
	m.learning = append(m.learning, *l)
	return nil
}

// LearningLogs returns a tenant's audit trail in insertion order.
func (m *MemoryStore) LearningLogs(tenantID uuid.UUID) []LearningLog {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []LearningLog
	for _, l := range m.learning {
		if l.TenantID == tenantID {
			out = append(out, l)
		}
	}
	return out
}

func (m *MemoryStore) AddImportLog(_ context.Context, l *ImportLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	l.CreatedAt = m.now()
	m.imports = append(m.imports, *l)
	return nil
}

func (m *MemoryStore) GetImportLogs(_ context.Context, tenantID uuid.UUID, limit int) ([]ImportLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	var out []ImportLog
	for i := len(m.imports) - 1; i >= 0 && len(out) < limit; i-- {
		if m.imports[i].TenantID == tenantID {
			out = append(out, m.imports[i])
		}
	}
	return out, nil
}
