package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/categorization"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/catalog"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/codex"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/model"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/repository"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/sniffer"
	"github.com/FACorreiaa/ledger-ingest/internal/testdata"
	"github.com/FACorreiaa/ledger-ingest/pkg/metrics"
	"github.com/FACorreiaa/ledger-ingest/pkg/storage"
)

const statement = "Date,Description,Amount,Balance\n" +
	"15/02/2025,ENGEN SANDTON,-850.00,10000.00\n" +
	"16/02/2025,TELKOM 0123456,-599.00,9401.00\n" +
	"17/02/2025,INVOICE 1001 ACME,1150.00,10551.00\n"

type fixture struct {
	svc    *ImportService
	store  *repository.MemoryStore
	tenant uuid.UUID
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cat := catalog.MustDefault()
	store := repository.NewMemoryStore()

	keys, err := codex.NewKeyRing(bytes.Repeat([]byte{9}, 32))
	require.NoError(t, err)
	cs, err := categorization.NewService(store, codex.New(store, keys, keys, logger), cat, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })

	archive, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	svc := NewImportService(store, cat, cfg, logger).
		WithCategorizationService(cs).
		WithStorage(archive).
		WithMetrics(metrics.New())
	return &fixture{svc: svc, store: store, tenant: uuid.New()}
}

func (f *fixture) stored(t *testing.T) []repository.BankTransaction {
	t.Helper()
	txs, err := f.store.GetBankTransactions(context.Background(), f.tenant, repository.TransactionFilter{})
	require.NoError(t, err)
	return txs
}

func find(txs []model.AllocatedTransaction, description string) (model.AllocatedTransaction, bool) {
	for _, at := range txs {
		if at.Description == description {
			return at, true
		}
	}
	return model.AllocatedTransaction{}, false
}

// ============================================================================
// Upload
// ============================================================================

func TestUpload_EndToEnd(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	opts := DefaultOptions()
	opts.AutoConfirmThreshold = 60

	res, err := f.svc.Upload(ctx, f.tenant, []byte(statement), "fnb_statement.csv", opts)
	require.NoError(t, err)
	require.True(t, res.Success)

	assert.Equal(t, string(model.FileTypeDelimited), res.Diagnostics.Format)
	assert.Equal(t, 0, res.Diagnostics.HeaderRow)
	assert.NotEmpty(t, res.Diagnostics.Fingerprint)
	assert.Equal(t, 3, res.Summary.Parsed)
	assert.Equal(t, 3, res.Summary.Imported)
	assert.Equal(t, 2, res.Summary.AutoConfirmed)
	assert.Equal(t, 1, res.Summary.NeedsReview)

	engen, ok := find(res.Transactions, "ENGEN SANDTON")
	require.True(t, ok)
	assert.Equal(t, "2025-02-15", engen.Date)
	assert.True(t, decimal.NewFromInt(850).Equal(engen.Amount))
	assert.Equal(t, model.DirectionDebit, engen.Direction)
	assert.Equal(t, "Fuel", engen.Category())
	assert.True(t, engen.AutoConfirmed)

	require.Len(t, res.Journals, 2)
	for _, e := range res.Journals {
		assert.True(t, e.Balanced)
		switch e.Category {
		case "Fuel":
			assert.Len(t, e.Lines, 2)
			assert.Equal(t, "2025-02-001", e.Number)
		case "Telephone & Internet":
			require.Len(t, e.Lines, 3)
			assert.True(t, decimal.RequireFromString("78.13").Equal(e.Lines[1].Debit))
		}
	}
	require.NotNil(t, res.Summary.Journal)
	assert.True(t, decimal.RequireFromString("78.13").Equal(res.Summary.Journal.VATInput))

	for _, stage := range []Stage{StageDetect, StageParse, StageLayout, StageNormalize, StageAllocate, StagePersist} {
		_, ok := res.Timings[stage]
		assert.True(t, ok, "missing timing for %s", stage)
	}

	stored := f.stored(t)
	require.Len(t, stored, 3)
	for _, b := range stored {
		assert.Equal(t, res.ImportID, b.ImportID)
	}

	rc, info, err := f.svc.RawUpload(ctx, f.tenant, res.ImportID)
	require.NoError(t, err)
	raw, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, statement, string(raw))
	assert.Equal(t, "statement.csv", info.Name)

	logs, err := f.svc.ImportLogs(ctx, f.tenant, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, repository.ActionImport, logs[0].Action)
	assert.Equal(t, 3, logs[0].ImportedCount)
}

func TestUpload_ExactDuplicatesExcluded(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	first, err := f.svc.Upload(ctx, f.tenant, []byte(statement), "statement.csv", DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 3, first.Summary.Imported)

	second, err := f.svc.Upload(ctx, f.tenant, []byte(statement), "statement.csv", DefaultOptions())
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.Equal(t, 3, second.Summary.Duplicates)
	assert.Zero(t, second.Summary.Imported)
	assert.Len(t, f.stored(t), 3)

	// other tenants are unaffected
	other, err := f.svc.Upload(ctx, uuid.New(), []byte(statement), "statement.csv", DefaultOptions())
	require.NoError(t, err)
	assert.Zero(t, other.Summary.Duplicates)
}

func TestUpload_GeneratedStatementRoundTrip(t *testing.T) {
	f := newFixture(t, Config{Workers: 4})
	ctx := context.Background()
	rows := testdata.NewStatementGenerator(7).Rows(120, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	data := testdata.CSV(rows)

	first, err := f.svc.Upload(ctx, f.tenant, data, "generated.csv", DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, len(rows), first.Summary.Parsed)
	assert.Equal(t, len(rows), first.Summary.Imported)
	assert.Equal(t, len(rows), first.Summary.AutoConfirmed+first.Summary.NeedsReview)
	for _, e := range first.Journals {
		assert.True(t, e.Balanced, "entry %s", e.ID)
	}

	second, err := f.svc.Upload(ctx, f.tenant, data, "generated.csv", DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, len(rows), second.Summary.Duplicates)
	assert.Zero(t, second.Summary.Imported)
}

func TestUpload_UnsupportedFormat(t *testing.T) {
	f := newFixture(t, Config{})

	res, err := f.svc.Upload(context.Background(), f.tenant, []byte("%PDF-1.7 binary"), "statement.pdf", DefaultOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, sniffer.ErrUnsupportedType)
	assert.Equal(t, StageDetect, StageOf(err))

	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Len(t, res.Errors, 1)
	assert.Contains(t, res.Timings, StageDetect)

	assert.Empty(t, f.stored(t))
	logs, err := f.svc.ImportLogs(context.Background(), f.tenant, 10)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestUpload_NoTransactions(t *testing.T) {
	f := newFixture(t, Config{})
	data := "Date,Description,Amount\n15/02/2025,ENGEN SANDTON,not-a-number\n"

	res, err := f.svc.Upload(context.Background(), f.tenant, []byte(data), "statement.csv", DefaultOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoTransactions)
	assert.Equal(t, StageNormalize, StageOf(err))
	assert.Len(t, res.RowErrors, 1)
	assert.Empty(t, f.stored(t))
}

func TestUpload_Timeout(t *testing.T) {
	f := newFixture(t, Config{Timeout: time.Nanosecond})

	res, err := f.svc.Upload(context.Background(), f.tenant, []byte(statement), "statement.csv", DefaultOptions())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.False(t, res.Success)
	assert.Empty(t, res.Journals)
	assert.Empty(t, f.stored(t))
}

func TestUpload_Threshold(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	opts := DefaultOptions()
	opts.AutoConfirmThreshold = 101
	res, err := f.svc.Upload(ctx, f.tenant, []byte(statement), "statement.csv", opts)
	assert.ErrorIs(t, err, ErrInvalidThreshold)
	assert.False(t, res.Success)
	assert.Empty(t, f.stored(t))

	opts.AutoConfirmThreshold = 0
	res, err = f.svc.Upload(ctx, f.tenant, []byte(statement), "statement.csv", opts)
	require.NoError(t, err)
	telkom, ok := find(res.Transactions, "TELKOM 0123456")
	require.True(t, ok)
	assert.True(t, telkom.AutoConfirmed)
	for _, at := range res.Transactions {
		if at.AutoConfirmed {
			assert.NotEmpty(t, at.Category())
		}
	}
}

// ============================================================================
// Preview
// ============================================================================

func TestPreview(t *testing.T) {
	f := newFixture(t, Config{PreviewRows: 2})

	res, err := f.svc.Preview(context.Background(), f.tenant, []byte(statement), "statement.csv", DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	require.Len(t, res.Sample, 2)
	assert.Equal(t, "2025-02-15", res.Sample[0].Date)
	assert.Equal(t, 1, res.Balance.CreditCount)
	assert.Equal(t, 2, res.Balance.DebitCount)

	assert.Empty(t, f.stored(t))
}

// ============================================================================
// Confirm and undo
// ============================================================================

func TestConfirm_LearnsAndJournals(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	res, err := f.svc.Upload(ctx, f.tenant, []byte(statement), "statement.csv", DefaultOptions())
	require.NoError(t, err)

	telkom, ok := find(res.Transactions, "TELKOM 0123456")
	require.True(t, ok)
	assert.False(t, telkom.AutoConfirmed)
	id := uuid.MustParse(telkom.ID)

	cr, err := f.svc.Confirm(ctx, f.tenant, []Confirmation{
		{TransactionID: id, ConfirmedCategory: "computer expenses"},
		{TransactionID: uuid.New(), ConfirmedCategory: "Fuel"},
	}, ConfirmOptions{CreateJournals: true, ExtractTax: true})
	require.NoError(t, err)

	assert.Equal(t, 1, cr.Confirmed)
	assert.Zero(t, cr.Correct)
	assert.Len(t, cr.Errors, 1)
	require.Len(t, cr.Journals, 1)
	assert.Equal(t, "Computer Expenses", cr.Journals[0].Category)
	assert.Len(t, cr.Journals[0].Lines, 3)

	stored, err := f.svc.Transactions(ctx, f.tenant, repository.TransactionFilter{IDs: []uuid.UUID{id}})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, repository.StatusConfirmed, stored[0].Status)
	assert.Equal(t, model.MethodUserConfirmed, stored[0].Method)
	assert.Equal(t, "Computer Expenses", stored[0].Category)

	logs := f.store.LearningLogs(f.tenant)
	require.Len(t, logs, 1)
	assert.Equal(t, "Telephone & Internet", logs[0].PreviousCategory)
}

func TestConfirm_ScopedToImport(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	first, err := f.svc.Upload(ctx, f.tenant, []byte(statement), "january.csv", DefaultOptions())
	require.NoError(t, err)
	other := "Date,Description,Amount,Balance\n20/03/2025,WOOLWORTHS ROSEBANK,-420.00,9000.00\n"
	second, err := f.svc.Upload(ctx, f.tenant, []byte(other), "march.csv", DefaultOptions())
	require.NoError(t, err)
	require.Len(t, second.Transactions, 1)
	foreign := uuid.MustParse(second.Transactions[0].ID)

	cr, err := f.svc.Confirm(ctx, f.tenant, []Confirmation{
		{TransactionID: foreign, ConfirmedCategory: "Groceries"},
	}, ConfirmOptions{ImportID: first.ImportID, CreateJournals: true})
	require.NoError(t, err)
	assert.Zero(t, cr.Confirmed)
	require.Len(t, cr.Errors, 1)
	assert.Contains(t, cr.Errors[0], "not in import")
	assert.Empty(t, cr.Journals)

	stored, err := f.svc.Transactions(ctx, f.tenant, repository.TransactionFilter{IDs: []uuid.UUID{foreign}})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.NotEqual(t, repository.StatusConfirmed, stored[0].Status)
	assert.Empty(t, f.store.LearningLogs(f.tenant))

	cr, err = f.svc.Confirm(ctx, f.tenant, []Confirmation{
		{TransactionID: foreign, ConfirmedCategory: "Groceries"},
	}, ConfirmOptions{ImportID: second.ImportID})
	require.NoError(t, err)
	assert.Equal(t, 1, cr.Confirmed)
}

func TestConfirm_Empty(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.svc.Confirm(context.Background(), f.tenant, nil, ConfirmOptions{})
	assert.ErrorIs(t, err, ErrNoConfirmations)
}

func TestUndoImport(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	res, err := f.svc.Upload(ctx, f.tenant, []byte(statement), "statement.csv", DefaultOptions())
	require.NoError(t, err)

	n, err := f.svc.UndoImport(ctx, f.tenant, res.ImportID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	for _, b := range f.stored(t) {
		assert.Equal(t, repository.StatusReversed, b.Status)
	}
	_, _, err = f.svc.RawUpload(ctx, f.tenant, res.ImportID)
	assert.ErrorIs(t, err, ErrImportNotFound)

	logs, err := f.svc.ImportLogs(ctx, f.tenant, 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, repository.ActionUndo, logs[0].Action)
	assert.Contains(t, logs[0].Message, "raw upload removed")

	// reversed rows no longer block a re-import
	again, err := f.svc.Upload(ctx, f.tenant, []byte(statement), "statement.csv", DefaultOptions())
	require.NoError(t, err)
	assert.Zero(t, again.Summary.Duplicates)
	assert.Equal(t, 3, again.Summary.Imported)

	_, err = f.svc.UndoImport(ctx, f.tenant, uuid.New())
	assert.ErrorIs(t, err, ErrImportNotFound)
}

func TestRawUpload_ArchiveDisabled(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewImportService(repository.NewMemoryStore(), catalog.MustDefault(), Config{}, logger)
	_, _, err := svc.RawUpload(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, ErrArchiveDisabled)
}
