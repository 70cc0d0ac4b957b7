// Package codex is the tenant-private store of learned allocations. Entries
// are encrypted with a per-tenant key and addressed by a keyed digest of the
// transaction context, so the store never sees descriptions or categories.
package codex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/repository"
)

const (
	AcceptThreshold   = 85
	QuestionThreshold = 80

	initialConfidence = 85
	rewardStep        = 5
	penaltyStep       = 10
	maxAlternatives   = 3
)

// Context is what a codex entry is keyed by. Question entries are keyed by
// the question text alone.
type Context struct {
	Merchant     string
	Description  string
	AmountBucket string
	Question     string
}

// IsQuestion reports whether this is a free-text question context.
func (c Context) IsQuestion() bool { return strings.TrimSpace(c.Question) != "" }

// Threshold is the confidence at which a hit is accepted.
func (c Context) Threshold() int {
	if c.IsQuestion() {
		return QuestionThreshold
	}
	return AcceptThreshold
}

func (c Context) String() string {
	if c.IsQuestion() {
		return "q|" + strings.ToLower(strings.Join(strings.Fields(c.Question), " "))
	}
	return strings.Join([]string{
		strings.ToLower(strings.TrimSpace(c.Merchant)),
		strings.ToLower(strings.Join(strings.Fields(c.Description), " ")),
		c.AmountBucket,
	}, "|")
}

// Suggestion is a decrypted codex hit.
type Suggestion struct {
	Category     string
	Alternatives []string
	Confidence   int
	TimesUsed    int
	SuccessCount int
	FailureCount int
}

// Outcome describes what Learn did to an entry.
type Outcome struct {
	Created          bool
	Correct          bool
	PreviousCategory string
	ConfidenceBefore int
	ConfidenceAfter  int
}

type payload struct {
	Category     string   `json:"category"`
	Alternatives []string `json:"alternatives,omitempty"`
}

// Codex wraps a repository.Store with encryption and per-key write ordering.
type Codex struct {
	store  repository.Store
	cipher Cipher
	hasher Hasher
	locks  *keyedMutex
	logger *slog.Logger
}

// New creates a codex. A *KeyRing serves as both cipher and hasher.
func New(store repository.Store, cipher Cipher, hasher Hasher, logger *slog.Logger) *Codex {
	return &Codex{
		store:  store,
		cipher: cipher,
		hasher: hasher,
		locks:  newKeyedMutex(),
		logger: logger,
	}
}

// Hash returns the context digest for a tenant.
func (c *Codex) Hash(tenantID uuid.UUID, cctx Context) string {
	return c.hasher.Hash(tenantID, cctx.String())
}

// Lookup returns the stored suggestion for the context. Missing entries,
// store errors and undecryptable payloads are all misses; the latter two
// are logged.
func (c *Codex) Lookup(ctx context.Context, tenantID uuid.UUID, cctx Context) (*Suggestion, bool) {
	hash := c.Hash(tenantID, cctx)

	entry, err := c.store.GetCodexEntry(ctx, tenantID, hash)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			c.logger.Warn("codex lookup failed", "tenant", tenantID, "error", err)
		}
		return nil, false
	}

	p, err := c.open(tenantID, entry)
	if err != nil {
		c.logger.Warn("codex entry unreadable, treating as miss",
			"tenant", tenantID, "contextHash", hash, "error", err)
		return nil, false
	}

	return &Suggestion{
		Category:     p.Category,
		Alternatives: p.Alternatives,
		Confidence:   entry.Confidence,
		TimesUsed:    entry.TimesUsed,
		SuccessCount: entry.SuccessCount,
		FailureCount: entry.FailureCount,
	}, true
}

// Learn records a confirmed category for the context. Writes for the same
// (tenant, context) are serialized. An entry that cannot be decrypted is not
// overwritten.
func (c *Codex) Learn(ctx context.Context, tenantID uuid.UUID, cctx Context, category string) (Outcome, error) {
	hash := c.Hash(tenantID, cctx)
	unlock := c.locks.Lock(tenantID.String() + "|" + hash)
	defer unlock()

	entry, err := c.store.GetCodexEntry(ctx, tenantID, hash)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return c.create(ctx, tenantID, hash, category)
	case err != nil:
		return Outcome{}, fmt.Errorf("failed to load codex entry: %w", err)
	}

	p, err := c.open(tenantID, entry)
	if err != nil {
		return Outcome{}, fmt.Errorf("refusing to overwrite codex entry: %w", err)
	}

	out := Outcome{
		PreviousCategory: p.Category,
		ConfidenceBefore: entry.Confidence,
		Correct:          strings.EqualFold(p.Category, category),
	}

	entry.TimesUsed++
	if out.Correct {
		entry.SuccessCount++
		entry.Confidence = clamp(entry.Confidence + rewardStep)
	} else {
		entry.FailureCount++
		entry.Confidence = clamp(entry.Confidence - penaltyStep)
		p.Alternatives = mergeAlternative(p.Alternatives, p.Category, category)
		p.Category = category
	}
	out.ConfidenceAfter = entry.Confidence

	if entry.Payload, err = c.seal(tenantID, p); err != nil {
		return Outcome{}, err
	}
	if err := c.store.UpdateCodexEntry(ctx, entry); err != nil {
		return Outcome{}, fmt.Errorf("failed to update codex entry: %w", err)
	}
	return out, nil
}

func (c *Codex) create(ctx context.Context, tenantID uuid.UUID, hash, category string) (Outcome, error) {
	sealed, err := c.seal(tenantID, payload{Category: category})
	if err != nil {
		return Outcome{}, err
	}
	entry := &repository.CodexEntry{
		TenantID:     tenantID,
		ContextHash:  hash,
		Payload:      sealed,
		Confidence:   initialConfidence,
		TimesUsed:    1,
		SuccessCount: 1,
	}
	if err := c.store.CreateCodexEntry(ctx, entry); err != nil {
		return Outcome{}, fmt.Errorf("failed to create codex entry: %w", err)
	}
	return Outcome{Created: true, Correct: true, ConfidenceAfter: initialConfidence}, nil
}

func (c *Codex) open(tenantID uuid.UUID, entry *repository.CodexEntry) (payload, error) {
	var p payload
	plain, err := c.cipher.Open(tenantID, entry.Payload)
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal(plain, &p); err != nil {
		return p, fmt.Errorf("%w: malformed payload", ErrDecrypt)
	}
	return p, nil
}

func (c *Codex) seal(tenantID uuid.UUID, p payload) ([]byte, error) {
	plain, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode codex payload: %w", err)
	}
	sealed, err := c.cipher.Seal(tenantID, plain)
	if err != nil {
		return nil, fmt.Errorf("failed to seal codex payload: %w", err)
	}
	return sealed, nil
}

func mergeAlternative(alts []string, previous, current string) []string {
	out := []string{previous}
	for _, a := range alts {
		if !strings.EqualFold(a, current) && !slices.Contains(out, a) {
			out = append(out, a)
		}
	}
	if len(out) > maxAlternatives {
		out = out[:maxAlternatives]
	}
	return out
}

func clamp(v int) int {
	return min(max(v, 0), 100)
}
