package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/model"
)

// ============================================================================
// Allocation rules
// ============================================================================

func TestPostgresStore_GetAllocationRules(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	tenant := uuid.New()
	now := time.Now()

	mock.ExpectQuery(`SELECT id, tenant_id, pattern, category`).
		WithArgs(tenant).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "tenant_id", "pattern", "category", "hit_count", "created_at", "updated_at",
		}).
			AddRow(uuid.New(), tenant, "engen", "fuel", 4, now, now).
			AddRow(uuid.New(), tenant, "telkom", "telephone", 1, now, now))

	store := NewPostgresStore(mock)
	rules, err := store.GetAllocationRules(context.Background(), tenant)

	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "fuel", rules[0].Category)
	assert.Equal(t, 4, rules[0].HitCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertAllocationRule(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	tenant := uuid.New()

	mock.ExpectExec(`INSERT INTO allocation_rules`).
		WithArgs(pgxmock.AnyArg(), tenant, "engen sandton", "fuel").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	store := NewPostgresStore(mock)
	err = store.UpsertAllocationRule(context.Background(), tenant, "engen sandton", "fuel")

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ============================================================================
// Codex
// ============================================================================

func TestPostgresStore_GetCodexEntry(t *testing.T) {
	tenant := uuid.New()

	t.Run("found", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		now := time.Now()
		mock.ExpectQuery(`SELECT id, tenant_id, context_hash, payload`).
			WithArgs(tenant, "abc").
			WillReturnRows(pgxmock.NewRows([]string{
				"id", "tenant_id", "context_hash", "payload", "confidence", "times_used",
				"success_count", "failure_count", "created_at", "updated_at",
			}).AddRow(uuid.New(), tenant, "abc", []byte{1, 2, 3}, 95, 7, 6, 1, now, now))

		entry, err := NewPostgresStore(mock).GetCodexEntry(context.Background(), tenant, "abc")

		require.NoError(t, err)
		assert.Equal(t, 95, entry.Confidence)
		assert.Equal(t, []byte{1, 2, 3}, entry.Payload)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing maps to ErrNotFound", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`SELECT id, tenant_id, context_hash, payload`).
			WithArgs(tenant, "nope").
			WillReturnError(pgx.ErrNoRows)

		_, err = NewPostgresStore(mock).GetCodexEntry(context.Background(), tenant, "nope")

		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestPostgresStore_UpdateCodexEntry_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	e := &CodexEntry{TenantID: uuid.New(), ContextHash: "abc", Payload: []byte{9}, Confidence: 90}

	mock.ExpectExec(`UPDATE codex_entries`).
		WithArgs(e.TenantID, "abc", []byte{9}, 90, 0, 0, 0).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = NewPostgresStore(mock).UpdateCodexEntry(context.Background(), e)

	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ============================================================================
// Global patterns
// ============================================================================

func TestPostgresStore_GetGlobalPatterns(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	mock.ExpectQuery(`SELECT pattern_key, merchant_pattern`).
		WithArgs("engen", "").
		WillReturnRows(pgxmock.NewRows([]string{
			"pattern_key", "merchant_pattern", "amount_range", "distribution", "confidence_score",
			"companies_contributed", "total_occurrences", "updated_at",
		}).AddRow("engen|50-500", "engen", "50-500", []byte(`{"fuel":80,"travel":20}`), 64, 2, 10, now))

	patterns, err := NewPostgresStore(mock).GetGlobalPatterns(context.Background(), "engen", "")

	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, 80.0, patterns[0].Distribution["fuel"])
	category, share := patterns[0].TopCategory()
	assert.Equal(t, "fuel", category)
	assert.Equal(t, 80.0, share)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ============================================================================
// Bank transactions
// ============================================================================

func TestPostgresStore_GetBankTransactions_Filters(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	tenant := uuid.New()
	importID := uuid.New()
	now := time.Now()

	mock.ExpectQuery(`WHERE tenant_id = \$1 AND tx_date >= \$2 AND import_id = \$3 AND status = \$4`).
		WithArgs(tenant, "2025-02-01", importID, "allocated", 10).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "tenant_id", "import_id", "source_line", "tx_date", "description", "amount_cents", "direction",
			"reference", "category", "confidence", "method", "status", "created_at", "updated_at",
		}).AddRow(uuid.New(), tenant, importID, 2, "2025-02-15", "ENGEN SANDTON", int64(85000),
			model.DirectionDebit, "", "fuel", 90, model.MethodKeywordEngine, StatusAllocated, now, now))

	txs, err := NewPostgresStore(mock).GetBankTransactions(context.Background(), tenant, TransactionFilter{
		From:     "2025-02-01",
		ImportID: importID,
		Status:   StatusAllocated,
		Limit:    10,
	})

	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "850", txs[0].Amount().String())
	tx := txs[0].Transaction()
	assert.True(t, tx.DateParsed)
	assert.Equal(t, model.DirectionDebit, tx.Direction)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AddBankTransaction(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now()
	b := &BankTransaction{
		TenantID:    uuid.New(),
		ImportID:    uuid.New(),
		SourceLine:  2,
		Date:        "2025-02-15",
		Description: "ENGEN SANDTON",
		AmountCents: 85000,
		Direction:   model.DirectionDebit,
		Category:    "fuel",
		Confidence:  90,
		Method:      model.MethodKeywordEngine,
		Status:      StatusAllocated,
	}

	mock.ExpectQuery(`INSERT INTO bank_transactions`).
		WithArgs(pgxmock.AnyArg(), b.TenantID, b.ImportID, 2, "2025-02-15", "ENGEN SANDTON", int64(85000),
			"debit", "", "fuel", 90, "keyword_engine", "allocated").
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	err = NewPostgresStore(mock).AddBankTransaction(context.Background(), b)

	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, b.ID)
	assert.Equal(t, now, b.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateBankTransaction(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	b := &BankTransaction{
		ID: uuid.New(), TenantID: uuid.New(), Category: "fuel",
		Confidence: 100, Method: model.MethodUserConfirmed, Status: StatusConfirmed,
	}

	mock.ExpectExec(`UPDATE bank_transactions`).
		WithArgs(b.ID, b.TenantID, "fuel", 100, "user_confirmed", "confirmed").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, NewPostgresStore(mock).UpdateBankTransaction(context.Background(), b))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ============================================================================
// Logs
// ============================================================================

func TestPostgresStore_GetImportLogs_DefaultLimit(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	tenant := uuid.New()
	now := time.Now()

	mock.ExpectQuery(`FROM import_logs`).
		WithArgs(tenant, 50).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "tenant_id", "import_id", "action", "filename", "format", "bank", "fingerprint", "total_rows",
			"imported_count", "duplicate_count", "error_count", "success", "message", "duration_ms", "created_at",
		}).AddRow(uuid.New(), tenant, uuid.New(), ActionImport, "feb.csv", "delimited", "FNB", "ab12", 12,
			10, 1, 1, true, "", int64(42), now))

	logs, err := NewPostgresStore(mock).GetImportLogs(context.Background(), tenant, 0)

	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, ActionImport, logs[0].Action)
	assert.Equal(t, 10, logs[0].ImportedCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}
