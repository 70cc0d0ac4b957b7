// Package service runs the ingestion pipeline end to end: detection,
// parsing, normalization, duplicate screening, allocation, journals and
// persistence.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/categorization"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/allocation"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/bankformat"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/catalog"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/dedupe"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/journal"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/layout"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/model"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/repository"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/sniffer"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/validator"
	"github.com/FACorreiaa/ledger-ingest/pkg/metrics"
	"github.com/FACorreiaa/ledger-ingest/pkg/money"
	"github.com/FACorreiaa/ledger-ingest/pkg/storage"
)

// Config holds pipeline defaults.
type Config struct {
	Timeout     time.Duration
	Workers     int
	PreviewRows int
	TaxRate     decimal.Decimal
}

// DefaultConfig returns the defaults used when no configuration is supplied.
func DefaultConfig() Config {
	return Config{
		Timeout:     2 * time.Minute,
		PreviewRows: 10,
		TaxRate:     journal.DefaultTaxRate,
	}
}

// Options are per-upload switches. AutoConfirmThreshold is used as given,
// so zero auto-confirms every categorized row; start from DefaultOptions.
type Options struct {
	AutoConfirmThreshold int
	ExtractTax           bool
	CreateJournals       bool
	CheckDuplicates      bool
	Sheet                string
	Delimiter            rune
}

// DefaultOptions enables every stage with the standard threshold.
func DefaultOptions() Options {
	return Options{
		AutoConfirmThreshold: allocation.DefaultThreshold,
		ExtractTax:           true,
		CreateJournals:       true,
		CheckDuplicates:      true,
	}
}

// Summary aggregates an upload.
type Summary struct {
	TotalRows      int              `json:"totalRows"`
	Parsed         int              `json:"parsed"`
	Excluded       int              `json:"excluded"`
	Duplicates     int              `json:"duplicates"`
	Imported       int              `json:"imported"`
	AutoConfirmed  int              `json:"autoConfirmed"`
	NeedsReview    int              `json:"needsReview"`
	ByCategory     map[string]int   `json:"byCategory,omitempty"`
	ByMethod       map[string]int   `json:"byMethod,omitempty"`
	MeanConfidence float64          `json:"meanConfidence"`
	Balance        validator.Report `json:"balance"`
	Journal        *journal.Summary `json:"journal,omitempty"`
}

// Result is returned by Upload, including on failure.
type Result struct {
	Success      bool
	ImportID     uuid.UUID
	Diagnostics  Diagnostics
	Transactions []model.AllocatedTransaction
	Duplicates   []model.Transaction
	Journals     []model.JournalEntry
	Summary      Summary
	Errors       []string
	RowErrors    []model.RowError
	Warnings     []model.Warning
	Timings      Timings
}

// PreviewResult is the read-only view of an upload.
type PreviewResult struct {
	Diagnostics Diagnostics
	Sample      []model.Transaction
	Total       int
	RowErrors   []model.RowError
	Warnings    []model.Warning
	Balance     validator.Report
	Timings     Timings
}

// ImportService orchestrates the pipeline. It keeps no per-import state
// and is safe for concurrent use.
type ImportService struct {
	store       repository.Store
	cat         *catalog.Catalog
	layouts     *layout.Detector
	banks       *bankformat.Detector
	keywords    *categorization.KeywordEngine
	categorizer *categorization.Service // Optional: nil means keyword-only allocation, no learning
	archive     storage.Storage         // Optional: nil disables raw upload archiving
	metrics     *metrics.Metrics        // Optional
	tracer      trace.Tracer
	cfg         Config
	logger      *slog.Logger
}

// NewImportService creates a new import service
func NewImportService(store repository.Store, cat *catalog.Catalog, cfg Config, logger *slog.Logger) *ImportService {
	defaults := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.PreviewRows <= 0 {
		cfg.PreviewRows = defaults.PreviewRows
	}
	if cfg.TaxRate.IsZero() {
		cfg.TaxRate = defaults.TaxRate
	}
	return &ImportService{
		store:    store,
		cat:      cat,
		layouts:  layout.NewDetector(cat),
		banks:    bankformat.NewDetector(cat),
		keywords: categorization.NewKeywordEngine(cat),
		tracer:   otel.Tracer("github.com/FACorreiaa/ledger-ingest/import"),
		cfg:      cfg,
		logger:   logger,
	}
}

// WithCategorizationService enables the full decision cascade and learning
func (s *ImportService) WithCategorizationService(cs *categorization.Service) *ImportService {
	s.categorizer = cs
	return s
}

// WithStorage archives every raw upload under its import ID
func (s *ImportService) WithStorage(st storage.Storage) *ImportService {
	s.archive = st
	return s
}

// WithMetrics records pipeline metrics
func (s *ImportService) WithMetrics(m *metrics.Metrics) *ImportService {
	s.metrics = m
	return s
}

func (s *ImportService) allocator(threshold int) *allocation.Allocator {
	var decider allocation.Decider
	if s.categorizer != nil {
		decider = s.categorizer
	}
	return allocation.NewAllocator(decider, s.keywords, s.logger).
		WithThreshold(threshold).
		WithWorkers(s.cfg.Workers)
}

func (s *ImportService) journals(extractTax bool) *journal.Creator {
	return journal.NewCreator(s.cat, journal.Options{TaxRate: s.cfg.TaxRate, ExtractTax: extractTax}, s.logger)
}

// Preview runs detection and normalization only and returns the first
// transactions. Nothing is written.
func (s *ImportService) Preview(ctx context.Context, tenantID uuid.UUID, data []byte, filename string, opts Options) (*PreviewResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "ingest.Preview")
	defer span.End()

	res := &PreviewResult{Timings: make(Timings)}
	if opts.AutoConfirmThreshold < 0 || opts.AutoConfirmThreshold > 100 {
		return res, fmt.Errorf("%w: %d", ErrInvalidThreshold, opts.AutoConfirmThreshold)
	}

	p, err := s.prepare(ctx, res.Timings, data, filename, opts)
	res.Diagnostics = p.diag
	if p.normalized != nil {
		res.RowErrors = p.normalized.Errors
	}
	if err != nil {
		s.logger.Info("preview failed", "tenant", tenantID, "filename", filename, "stage", StageOf(err), "error", err)
		return res, err
	}

	txs := p.normalized.Transactions
	res.Total = len(txs)
	res.Sample = txs[:min(len(txs), s.cfg.PreviewRows)]
	res.Warnings = p.report.Warnings
	res.Balance = p.report
	span.SetAttributes(spanAttrs(p.diag, len(txs))...)
	return res, nil
}

// Upload runs the whole pipeline under the configured timeout. Fatal stage
// failures return a *PipelineError together with the partial Result; no
// state is stored in that case.
func (s *ImportService) Upload(ctx context.Context, tenantID uuid.UUID, data []byte, filename string, opts Options) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "ingest.Upload")
	defer span.End()

	started := time.Now()
	res := &Result{ImportID: uuid.New(), Timings: make(Timings)}
	logger := s.logger.With("tenant", tenantID, "importID", res.ImportID, "filename", filename)

	fail := func(err error) (*Result, error) {
		res.Success = false
		res.Journals = nil
		res.Errors = append(res.Errors, err.Error())
		s.metrics.ImportFinished("failure")
		logger.Warn("import failed", "stage", StageOf(err), "error", err, "duration", time.Since(started))
		return res, err
	}

	p, err := s.prepare(ctx, res.Timings, data, filename, opts)
	res.Diagnostics = p.diag
	if p.normalized != nil {
		res.RowErrors = p.normalized.Errors
		res.Summary.TotalRows = p.diag.RowCount
		res.Summary.Excluded = len(p.normalized.Errors)
		for _, re := range p.normalized.Errors {
			res.Errors = append(res.Errors, re.Error())
		}
	}
	if err != nil {
		return fail(err)
	}
	span.SetAttributes(spanAttrs(p.diag, len(p.normalized.Transactions))...)

	txs := p.normalized.Transactions
	res.Summary.Parsed = len(txs)
	res.Summary.Balance = p.report
	res.Warnings = append(res.Warnings, p.report.Warnings...)

	if opts.CheckDuplicates {
		err = s.stage(ctx, res.Timings, StageDedupe, func(ctx context.Context) error {
			checked, err := s.screenDuplicates(ctx, tenantID, txs)
			if err != nil {
				return err
			}
			txs, res.Duplicates = checked.Unique, checked.Duplicates
			res.Warnings = append(res.Warnings, checked.Warnings...)
			return nil
		})
		if err != nil {
			return fail(err)
		}
		res.Summary.Duplicates = len(res.Duplicates)
		s.metrics.Rows(string(StageDedupe), "duplicate", len(res.Duplicates))
	}

	// Stored rows carry their own IDs from here on.
	for i := range txs {
		txs[i].ID = uuid.NewString()
	}

	threshold := opts.AutoConfirmThreshold
	var allocated *allocation.Result
	err = s.stage(ctx, res.Timings, StageAllocate, func(ctx context.Context) error {
		var err error
		allocated, err = s.allocator(threshold).Allocate(ctx, tenantID, txs)
		return err
	})
	if err != nil {
		return fail(err)
	}
	s.summarizeAllocation(res, allocated)

	if opts.CreateJournals {
		_ = s.stage(ctx, res.Timings, StageJournal, func(context.Context) error {
			jr := s.journals(opts.ExtractTax).Create(allocated.Allocated)
			res.Journals = jr.Entries
			res.Warnings = append(res.Warnings, jr.Warnings...)
			res.Summary.Journal = &jr.Summary
			for _, sk := range jr.Skipped {
				res.Errors = append(res.Errors, fmt.Sprintf("line %d: journal skipped: %v", sk.Line, sk.Err))
			}
			return nil
		})
	}

	// Past this point work is stored, so an expired deadline aborts first.
	if err := ctx.Err(); err != nil {
		return fail(&PipelineError{Stage: StagePersist, Err: err})
	}

	err = s.stage(ctx, res.Timings, StagePersist, func(ctx context.Context) error {
		return s.persist(ctx, tenantID, res)
	})
	if err != nil {
		return fail(err)
	}

	if s.archive != nil {
		_ = s.stage(ctx, res.Timings, StageArchive, func(ctx context.Context) error {
			if _, err := s.archive.Put(ctx, tenantID, res.ImportID, filename, contentType(p.diag), bytes.NewReader(data)); err != nil {
				logger.Warn("failed to archive upload", "error", err)
			}
			return nil
		})
	}

	res.Success = true
	s.writeImportLog(ctx, &repository.ImportLog{
		TenantID:       tenantID,
		ImportID:       res.ImportID,
		Action:         repository.ActionImport,
		Filename:       filename,
		Format:         p.diag.Format,
		Bank:           p.diag.Bank,
		Fingerprint:    p.diag.Fingerprint,
		TotalRows:      res.Summary.TotalRows,
		ImportedCount:  res.Summary.Imported,
		DuplicateCount: res.Summary.Duplicates,
		ErrorCount:     res.Summary.Excluded,
		Success:        true,
		DurationMS:     time.Since(started).Milliseconds(),
	})

	s.metrics.ImportFinished("success")
	logger.Info("import completed",
		"imported", res.Summary.Imported,
		"duplicates", res.Summary.Duplicates,
		"autoConfirmed", res.Summary.AutoConfirmed,
		"needsReview", res.Summary.NeedsReview,
		"duration", time.Since(started))
	return res, nil
}

// screenDuplicates compares the batch with stored transactions in the same
// date range. Reversed transactions do not count.
func (s *ImportService) screenDuplicates(ctx context.Context, tenantID uuid.UUID, txs []model.Transaction) (dedupe.Result, error) {
	filter := repository.TransactionFilter{}
	for _, tx := range txs {
		if !tx.DateParsed {
			continue
		}
		if filter.From == "" || tx.Date < filter.From {
			filter.From = tx.Date
		}
		if tx.Date > filter.To {
			filter.To = tx.Date
		}
	}

	stored, err := s.store.GetBankTransactions(ctx, tenantID, filter)
	if err != nil {
		return dedupe.Result{}, fmt.Errorf("failed to load existing transactions: %w", err)
	}
	existing := make([]model.Transaction, 0, len(stored))
	for _, b := range stored {
		if b.Status != repository.StatusReversed {
			existing = append(existing, b.Transaction())
		}
	}
	return dedupe.NewIndex(existing).Check(txs), nil
}

func (s *ImportService) summarizeAllocation(res *Result, allocated *allocation.Result) {
	res.Transactions = allocated.All()
	res.Summary.AutoConfirmed = len(allocated.Allocated)
	res.Summary.NeedsReview = len(allocated.NeedsReview)
	res.Summary.ByCategory = allocated.ByCategory
	res.Summary.ByMethod = make(map[string]int, len(allocated.ByMethod))
	res.Summary.MeanConfidence = allocated.MeanConfidence
	for method, n := range allocated.ByMethod {
		res.Summary.ByMethod[string(method)] = n
		s.metrics.Decisions(string(method), n)
	}
	for _, at := range allocated.NeedsReview {
		if at.Method == model.MethodLowConfidence {
			res.Warnings = append(res.Warnings, model.Warning{
				Line:    at.SourceLine,
				Kind:    model.WarnLowConfidence,
				Message: fmt.Sprintf("%q needs review (%d%% %s)", at.Description, at.Confidence, at.SuggestedCategory),
			})
		}
	}
}

// persist stores every allocated transaction. The batch is not
// transactional: a failed row is reported and the rest continue. Only a
// cancelled context aborts.
func (s *ImportService) persist(ctx context.Context, tenantID uuid.UUID, res *Result) error {
	kept := res.Transactions[:0]
	for _, at := range res.Transactions {
		if err := ctx.Err(); err != nil {
			return err
		}
		id, err := uuid.Parse(at.ID)
		if err != nil {
			id = uuid.New()
			at.ID = id.String()
		}
		status := repository.StatusReview
		if at.AutoConfirmed {
			status = repository.StatusAllocated
		}
		bt := &repository.BankTransaction{
			ID:          id,
			TenantID:    tenantID,
			ImportID:    res.ImportID,
			SourceLine:  at.SourceLine,
			Date:        at.Date,
			Description: at.Description,
			AmountCents: money.ToMinor(at.Amount, money.DefaultCurrency),
			Direction:   at.Direction,
			Reference:   at.Reference,
			Category:    at.Category(),
			Confidence:  at.Confidence,
			Method:      at.Method,
			Status:      status,
		}
		if err := s.store.AddBankTransaction(ctx, bt); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			res.Errors = append(res.Errors, fmt.Sprintf("line %d: failed to store: %v", at.SourceLine, err))
			s.logger.Warn("failed to store transaction", "importID", res.ImportID, "line", at.SourceLine, "error", err)
			continue
		}
		kept = append(kept, at)
	}
	if failed := len(res.Transactions) - len(kept); failed > 0 {
		stored := make(map[string]bool, len(kept))
		for _, at := range kept {
			stored[at.ID] = true
		}
		journals := res.Journals[:0]
		for _, e := range res.Journals {
			if stored[e.TransactionID] {
				journals = append(journals, e)
			}
		}
		res.Journals = journals
	}
	res.Transactions = kept
	res.Summary.Imported = len(kept)
	s.metrics.Rows(string(StagePersist), "stored", len(kept))
	return nil
}

func (s *ImportService) writeImportLog(ctx context.Context, entry *repository.ImportLog) {
	if err := s.store.AddImportLog(ctx, entry); err != nil {
		s.logger.Warn("failed to write import log", "importID", entry.ImportID, "action", entry.Action, "error", err)
	}
}

func contentType(d Diagnostics) string {
	switch d.Kind {
	case sniffer.KindXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case sniffer.KindXLS:
		return "application/vnd.ms-excel"
	default:
		return "text/csv"
	}
}
