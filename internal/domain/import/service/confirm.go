package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/categorization"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/journal"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/model"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/repository"
	"github.com/FACorreiaa/ledger-ingest/pkg/storage"
)

// Confirmation is one user decision on a transaction.
type Confirmation struct {
	TransactionID     uuid.UUID
	ConfirmedCategory string
}

// ConfirmOptions control what happens after learning. A non-nil ImportID
// rejects transactions that belong to any other import.
type ConfirmOptions struct {
	ImportID       uuid.UUID
	CreateJournals bool
	ExtractTax     bool
}

// ConfirmResult reports a confirmation batch.
type ConfirmResult struct {
	Confirmed int
	Correct   int
	Journals  []model.JournalEntry
	Summary   *journal.Summary
	Errors    []string
	Warnings  []model.Warning
}

// Confirm applies user decisions: each transaction is relabelled, the
// cascade learns from it, and journals are optionally created for the
// confirmed subset. Per-item failures are reported, not returned.
func (s *ImportService) Confirm(ctx context.Context, tenantID uuid.UUID, confirmations []Confirmation, opts ConfirmOptions) (*ConfirmResult, error) {
	if len(confirmations) == 0 {
		return nil, ErrNoConfirmations
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "ingest.Confirm")
	defer span.End()

	started := time.Now()
	ids := make([]uuid.UUID, len(confirmations))
	for i, c := range confirmations {
		ids[i] = c.TransactionID
	}
	stored, err := s.store.GetBankTransactions(ctx, tenantID, repository.TransactionFilter{IDs: ids})
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	byID := make(map[uuid.UUID]repository.BankTransaction, len(stored))
	for _, b := range stored {
		byID[b.ID] = b
	}

	res := &ConfirmResult{}
	var confirmed []model.AllocatedTransaction
	importIDs := make(map[uuid.UUID]bool)

	for _, c := range confirmations {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		category := strings.TrimSpace(c.ConfirmedCategory)
		b, ok := byID[c.TransactionID]
		switch {
		case !ok:
			res.Errors = append(res.Errors, fmt.Sprintf("%s: transaction not found", c.TransactionID))
			continue
		case opts.ImportID != uuid.Nil && b.ImportID != opts.ImportID:
			res.Errors = append(res.Errors, fmt.Sprintf("%s: transaction not in import %s", c.TransactionID, opts.ImportID))
			continue
		case b.Status == repository.StatusReversed:
			res.Errors = append(res.Errors, fmt.Sprintf("%s: transaction was reversed", c.TransactionID))
			continue
		case category == "":
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", c.TransactionID, categorization.ErrEmptyCategory))
			continue
		}
		if known, ok := s.cat.Category(category); ok {
			category = known.Name
		}

		previous := model.Decision{Category: b.Category, Confidence: b.Confidence, Method: b.Method}
		tx := b.Transaction()

		if s.categorizer != nil {
			learned, err := s.categorizer.Learn(ctx, categorization.Feedback{
				TenantID:    tenantID,
				Transaction: tx,
				Previous:    previous,
				Category:    category,
			})
			if err != nil {
				res.Warnings = append(res.Warnings, model.Warning{
					Line:    b.SourceLine,
					Kind:    model.WarnLearningFailed,
					Message: err.Error(),
				})
			}
			if learned.Correct {
				res.Correct++
			}
			s.metrics.Confirmation(learned.Correct)
		} else if strings.EqualFold(previous.Category, category) {
			res.Correct++
		}

		b.Category = category
		b.Confidence = 100
		b.Method = model.MethodUserConfirmed
		b.Status = repository.StatusConfirmed
		if err := s.store.UpdateBankTransaction(ctx, &b); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: failed to update: %v", c.TransactionID, err))
			continue
		}

		at := model.NewAllocated(tx, previous)
		at.ConfirmedCategory = category
		confirmed = append(confirmed, at)
		importIDs[b.ImportID] = true
		res.Confirmed++
	}

	if opts.CreateJournals && len(confirmed) > 0 {
		jr := s.journals(opts.ExtractTax).Create(confirmed)
		res.Journals = jr.Entries
		res.Summary = &jr.Summary
		res.Warnings = append(res.Warnings, jr.Warnings...)
		for _, sk := range jr.Skipped {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: journal skipped: %v", sk.TransactionID, sk.Err))
		}
	}

	for importID := range importIDs {
		s.writeImportLog(ctx, &repository.ImportLog{
			TenantID:      tenantID,
			ImportID:      importID,
			Action:        repository.ActionConfirm,
			ImportedCount: res.Confirmed,
			ErrorCount:    len(res.Errors),
			Success:       len(res.Errors) == 0,
			Message:       fmt.Sprintf("%d confirmed, %d correct", res.Confirmed, res.Correct),
			DurationMS:    time.Since(started).Milliseconds(),
		})
	}

	s.logger.Info("confirmations applied",
		"tenant", tenantID,
		"confirmed", res.Confirmed,
		"correct", res.Correct,
		"errors", len(res.Errors))
	return res, nil
}

// UndoImport marks every transaction of an import as reversed, drops the
// archived upload and returns how many transactions were changed.
func (s *ImportService) UndoImport(ctx context.Context, tenantID, importID uuid.UUID) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "ingest.Undo")
	defer span.End()

	started := time.Now()
	txs, err := s.store.GetBankTransactions(ctx, tenantID, repository.TransactionFilter{ImportID: importID})
	if err != nil {
		return 0, fmt.Errorf("failed to load import transactions: %w", err)
	}
	if len(txs) == 0 {
		return 0, ErrImportNotFound
	}

	reversed, failed := 0, 0
	for i := range txs {
		if txs[i].Status == repository.StatusReversed {
			continue
		}
		txs[i].Status = repository.StatusReversed
		if err := s.store.UpdateBankTransaction(ctx, &txs[i]); err != nil {
			s.logger.Warn("failed to reverse transaction", "importID", importID, "transactionID", txs[i].ID, "error", err)
			failed++
			continue
		}
		reversed++
	}

	message := fmt.Sprintf("%d transactions reversed", reversed)
	if s.archive != nil {
		switch err := s.archive.Delete(ctx, tenantID, importID); {
		case err == nil:
			message += ", raw upload removed"
		case !errors.Is(err, storage.ErrNotFound):
			s.logger.Warn("failed to remove archived upload", "importID", importID, "error", err)
		}
	}

	s.writeImportLog(ctx, &repository.ImportLog{
		TenantID:      tenantID,
		ImportID:      importID,
		Action:        repository.ActionUndo,
		ImportedCount: reversed,
		ErrorCount:    failed,
		Success:       failed == 0,
		Message:       message,
		DurationMS:    time.Since(started).Milliseconds(),
	})
	s.logger.Info("import reversed", "tenant", tenantID, "importID", importID, "reversed", reversed, "failed", failed)

	if failed > 0 {
		return reversed, fmt.Errorf("failed to reverse %d of %d transactions", failed, len(txs))
	}
	return reversed, nil
}

// RawUpload opens the archived upload of an import. The caller closes the
// reader.
func (s *ImportService) RawUpload(ctx context.Context, tenantID, importID uuid.UUID) (io.ReadCloser, *storage.FileInfo, error) {
	if s.archive == nil {
		return nil, nil, ErrArchiveDisabled
	}
	rc, info, err := s.archive.Get(ctx, tenantID, importID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, ErrImportNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open archived upload: %w", err)
	}
	return rc, info, nil
}

// ImportLogs returns the tenant's most recent import log entries.
func (s *ImportService) ImportLogs(ctx context.Context, tenantID uuid.UUID, limit int) ([]repository.ImportLog, error) {
	logs, err := s.store.GetImportLogs(ctx, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load import logs: %w", err)
	}
	return logs, nil
}

// Transactions lists stored transactions for export and review.
func (s *ImportService) Transactions(ctx context.Context, tenantID uuid.UUID, filter repository.TransactionFilter) ([]repository.BankTransaction, error) {
	txs, err := s.store.GetBankTransactions(ctx, tenantID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	return txs, nil
}
