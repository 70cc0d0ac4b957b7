package handler

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/model"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/repository"
	importservice "github.com/FACorreiaa/ledger-ingest/internal/domain/import/service"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/validator"
)

type errorResponse struct {
	Error string `json:"error"`
	Stage string `json:"stage,omitempty"`
}

type transactionView struct {
	ID                string          `json:"id,omitempty"`
	Line              int             `json:"line"`
	Date              string          `json:"date"`
	Description       string          `json:"description"`
	Amount            decimal.Decimal `json:"amount"`
	Direction         model.Direction `json:"direction"`
	Reference         string          `json:"reference,omitempty"`
	Category          string          `json:"category,omitempty"`
	Confidence        int             `json:"confidence,omitempty"`
	Method            model.Method    `json:"method,omitempty"`
	Reasoning         string          `json:"reasoning,omitempty"`
	Alternatives      []string        `json:"alternatives,omitempty"`
	RequiresUserInput bool            `json:"requiresUserInput,omitempty"`
	AutoConfirmed     bool            `json:"autoConfirmed,omitempty"`
}

func newTransactionView(at model.AllocatedTransaction) transactionView {
	return transactionView{
		ID:                at.ID,
		Line:              at.SourceLine,
		Date:              at.Date,
		Description:       at.Description,
		Amount:            at.Amount,
		Direction:         at.Direction,
		Reference:         at.Reference,
		Category:          at.Category(),
		Confidence:        at.Confidence,
		Method:            at.Method,
		Reasoning:         at.Reasoning,
		Alternatives:      at.Alternatives,
		RequiresUserInput: at.RequiresUserInput,
		AutoConfirmed:     at.AutoConfirmed,
	}
}

type journalLineView struct {
	Account     string          `json:"account"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Description string          `json:"description,omitempty"`
}

type journalView struct {
	ID            string            `json:"id"`
	Number        string            `json:"number"`
	TransactionID string            `json:"transactionId"`
	Date          string            `json:"date"`
	Reference     string            `json:"reference,omitempty"`
	Category      string            `json:"category"`
	Lines         []journalLineView `json:"lines"`
	Balanced      bool              `json:"balanced"`
}

func journalViews(entries []model.JournalEntry) []journalView {
	views := make([]journalView, len(entries))
	for i, e := range entries {
		lines := make([]journalLineView, len(e.Lines))
		for j, l := range e.Lines {
			lines[j] = journalLineView(l)
		}
		views[i] = journalView{
			ID:            e.ID,
			Number:        e.Number,
			TransactionID: e.TransactionID,
			Date:          e.Date,
			Reference:     e.Reference,
			Category:      e.Category,
			Lines:         lines,
			Balanced:      e.Balanced,
		}
	}
	return views
}

type rowErrorView struct {
	Line    int    `json:"line"`
	Column  string `json:"column,omitempty"`
	Message string `json:"message"`
}

func rowErrors(errs []model.RowError) []rowErrorView {
	views := make([]rowErrorView, len(errs))
	for i, e := range errs {
		views[i] = rowErrorView{Line: e.Line, Column: e.Column, Message: e.Message}
	}
	return views
}

type uploadResponse struct {
	Success      bool                      `json:"success"`
	ImportID     uuid.UUID                 `json:"importId"`
	Stage        string                    `json:"stage,omitempty"`
	Diagnostics  importservice.Diagnostics `json:"diagnostics"`
	Summary      importservice.Summary     `json:"summary"`
	Transactions []transactionView         `json:"transactions"`
	Duplicates   []transactionView         `json:"duplicates,omitempty"`
	Journals     []journalView             `json:"journals,omitempty"`
	Errors       []string                  `json:"errors,omitempty"`
	RowErrors    []rowErrorView            `json:"rowErrors,omitempty"`
	Warnings     []model.Warning           `json:"warnings,omitempty"`
	TimingsMS    map[string]int64          `json:"timingsMs"`
}

func newUploadResponse(res *importservice.Result, err error) uploadResponse {
	out := uploadResponse{TimingsMS: make(map[string]int64)}
	if err != nil {
		out.Stage = string(importservice.StageOf(err))
	}
	if res == nil {
		out.Errors = []string{err.Error()}
		return out
	}

	out.Success = res.Success
	out.ImportID = res.ImportID
	out.Diagnostics = res.Diagnostics
	out.Summary = res.Summary
	out.Journals = journalViews(res.Journals)
	out.Errors = res.Errors
	out.RowErrors = rowErrors(res.RowErrors)
	out.Warnings = res.Warnings
	out.Transactions = make([]transactionView, len(res.Transactions))
	for i, at := range res.Transactions {
		out.Transactions[i] = newTransactionView(at)
	}
	for _, tx := range res.Duplicates {
		out.Duplicates = append(out.Duplicates, newTransactionView(model.AllocatedTransaction{Transaction: tx}))
	}
	for stage, d := range res.Timings {
		out.TimingsMS[string(stage)] = d.Milliseconds()
	}
	return out
}

type previewResponse struct {
	Diagnostics importservice.Diagnostics `json:"diagnostics"`
	Total       int                       `json:"total"`
	Sample      []transactionView         `json:"sample"`
	RowErrors   []rowErrorView            `json:"rowErrors,omitempty"`
	Warnings    []model.Warning           `json:"warnings,omitempty"`
	Balance     validator.Report          `json:"balance"`
}

type confirmResponse struct {
	Confirmed int             `json:"confirmed"`
	Correct   int             `json:"correct"`
	Journals  []journalView   `json:"journals,omitempty"`
	Errors    []string        `json:"errors,omitempty"`
	Warnings  []model.Warning `json:"warnings,omitempty"`
}

type importLogView struct {
	ImportID   uuid.UUID               `json:"importId"`
	Action     repository.ImportAction `json:"action"`
	Filename   string                  `json:"filename,omitempty"`
	Format     string                  `json:"format,omitempty"`
	Bank       string                  `json:"bank,omitempty"`
	TotalRows  int                     `json:"totalRows"`
	Imported   int                     `json:"imported"`
	Duplicates int                     `json:"duplicates"`
	Errors     int                     `json:"errors"`
	Success    bool                    `json:"success"`
	Message    string                  `json:"message,omitempty"`
	DurationMS int64                   `json:"durationMs"`
	CreatedAt  time.Time               `json:"createdAt"`
}

func newImportLogView(l repository.ImportLog) importLogView {
	return importLogView{
		ImportID:   l.ImportID,
		Action:     l.Action,
		Filename:   l.Filename,
		Format:     l.Format,
		Bank:       l.Bank,
		TotalRows:  l.TotalRows,
		Imported:   l.ImportedCount,
		Duplicates: l.DuplicateCount,
		Errors:     l.ErrorCount,
		Success:    l.Success,
		Message:    l.Message,
		DurationMS: l.DurationMS,
		CreatedAt:  l.CreatedAt,
	}
}
