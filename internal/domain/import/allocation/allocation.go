// Package allocation runs the decision cascade over a batch of transactions
// and splits the outcome into auto-confirmed and review queues.
package allocation

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/categorization"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/model"
)

// DefaultThreshold is the confidence at or above which a decision is
// confirmed without review.
const DefaultThreshold = 85

// Decider allocates one transaction.
type Decider interface {
	Decide(ctx context.Context, tenantID uuid.UUID, tx model.Transaction) model.Decision
}

// Result is the partitioned outcome of a batch.
type Result struct {
	Allocated      []model.AllocatedTransaction
	NeedsReview    []model.AllocatedTransaction
	ByCategory     map[string]int
	ByMethod       map[model.Method]int
	MeanConfidence float64
}

// Total returns the number of allocated transactions in both queues.
func (r *Result) Total() int { return len(r.Allocated) + len(r.NeedsReview) }

// All returns every transaction, auto-confirmed first.
func (r *Result) All() []model.AllocatedTransaction {
	out := make([]model.AllocatedTransaction, 0, r.Total())
	out = append(out, r.Allocated...)
	return append(out, r.NeedsReview...)
}

// Allocator fans decisions out over a bounded worker pool.
type Allocator struct {
	decider   Decider
	threshold int
	workers   int
	logger    *slog.Logger
}

// NewAllocator creates an allocator. When decider is nil the keyword engine
// alone is used.
func NewAllocator(decider Decider, keywords *categorization.KeywordEngine, logger *slog.Logger) *Allocator {
	if decider == nil {
		decider = KeywordDecider{Engine: keywords}
	}
	return &Allocator{
		decider:   decider,
		threshold: DefaultThreshold,
		workers:   runtime.GOMAXPROCS(0),
		logger:    logger,
	}
}

// WithThreshold overrides the auto-confirm threshold. Values outside 0-100
// are ignored.
func (a *Allocator) WithThreshold(threshold int) *Allocator {
	if threshold >= 0 && threshold <= 100 {
		a.threshold = threshold
	}
	return a
}

// WithWorkers bounds how many decisions run at once
func (a *Allocator) WithWorkers(workers int) *Allocator {
	if workers > 0 {
		a.workers = workers
	}
	return a
}

// Threshold returns the auto-confirm threshold in use.
func (a *Allocator) Threshold() int { return a.threshold }

// Allocate decides every transaction, preserving input order within each
// queue. It fails only when ctx is done.
func (a *Allocator) Allocate(ctx context.Context, tenantID uuid.UUID, txs []model.Transaction) (*Result, error) {
	decisions := make([]model.Decision, len(txs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i := range txs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			decisions[i] = a.decider.Decide(gctx, tenantID, txs[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("allocation interrupted: %w", err)
	}

	res := &Result{
		ByCategory: make(map[string]int),
		ByMethod:   make(map[model.Method]int),
	}
	var confidenceSum int
	for i, d := range decisions {
		at := model.NewAllocated(txs[i], d)
		if d.Category != "" && !d.RequiresUserInput && d.Confidence >= a.threshold {
			at.AutoConfirmed = true
			at.ConfirmedCategory = d.Category
			res.Allocated = append(res.Allocated, at)
		} else {
			res.NeedsReview = append(res.NeedsReview, at)
		}
		if d.Category != "" {
			res.ByCategory[d.Category]++
		}
		res.ByMethod[d.Method]++
		confidenceSum += d.Confidence
	}
	if len(decisions) > 0 {
		res.MeanConfidence = float64(confidenceSum) / float64(len(decisions))
	}

	a.logger.Debug("batch allocated",
		"tenant", tenantID,
		"allocated", len(res.Allocated),
		"needsReview", len(res.NeedsReview),
		"meanConfidence", res.MeanConfidence)
	return res, nil
}

// KeywordDecider allocates with the deterministic keyword engine only.
type KeywordDecider struct {
	Engine *categorization.KeywordEngine
}

func (k KeywordDecider) Decide(_ context.Context, _ uuid.UUID, tx model.Transaction) model.Decision {
	r := k.Engine.Score(tx)
	switch {
	case !r.Found():
		return model.Decision{
			Method:            model.MethodNoMatch,
			Reasoning:         "no keyword matched",
			RequiresUserInput: true,
		}
	case r.Confidence < categorization.UsableConfidence:
		return model.Decision{
			Category:          r.Category,
			Confidence:        r.Percent(),
			Method:            model.MethodLowConfidence,
			Reasoning:         "weak match: " + r.Justification,
			Alternatives:      r.Alternatives,
			RequiresUserInput: true,
		}
	default:
		return model.Decision{
			Category:     r.Category,
			Confidence:   r.Percent(),
			Method:       model.MethodKeywordEngine,
			Reasoning:    r.Justification,
			Alternatives: r.Alternatives,
		}
	}
}
