package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock pools.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db DBTX
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(db DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

// GetAllocationRules fetches a tenant's rules, most used first
func (s *PostgresStore) GetAllocationRules(ctx context.Context, tenantID uuid.UUID) ([]AllocationRule, error) {
	query := `
		SELECT id, tenant_id, pattern, category, hit_count, created_at, updated_at
		FROM allocation_rules
		WHERE tenant_id = $1
		ORDER BY hit_count DESC, pattern ASC`

	rows, err := s.db.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query allocation rules: %w", err)
	}
	defer rows.Close()

	var rules []AllocationRule
	for rows.Next() {
		var r AllocationRule
		if err := rows.Scan(&r.ID, &r.TenantID, &r.Pattern, &r.Category, &r.HitCount, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan allocation rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// UpsertAllocationRule inserts the rule or repoints it at the new category
func (s *PostgresStore) UpsertAllocationRule(ctx context.Context, tenantID uuid.UUID, pattern, category string) error {
	query := `
		INSERT INTO allocation_rules (id, tenant_id, pattern, category, hit_count)
		VALUES ($1, $2, $3, $4, 1)
		ON CONFLICT (tenant_id, pattern)
		DO UPDATE SET category = EXCLUDED.category,
			hit_count = allocation_rules.hit_count + 1,
			updated_at = NOW()`

	if _, err := s.db.Exec(ctx, query, uuid.New(), tenantID, pattern, category); err != nil {
		return fmt.Errorf("failed to upsert allocation rule: %w", err)
	}
	return nil
}

// GetCodexEntry retrieves an entry by tenant and context hash
func (s *PostgresStore) GetCodexEntry(ctx context.Context, tenantID uuid.UUID, contextHash string) (*CodexEntry, error) {
	query := `
		SELECT id, tenant_id, context_hash, payload, confidence, times_used, success_count, failure_count, created_at, updated_at
		FROM codex_entries
		WHERE tenant_id = $1 AND context_hash = $2`

	e := &CodexEntry{}
	err := s.db.QueryRow(ctx, query, tenantID, contextHash).Scan(
		&e.ID,
		&e.TenantID,
		&e.ContextHash,
		&e.Payload,
		&e.Confidence,
		&e.TimesUsed,
		&e.SuccessCount,
		&e.FailureCount,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get codex entry: %w", err)
	}
	return e, nil
}

// CreateCodexEntry inserts a new entry
func (s *PostgresStore) CreateCodexEntry(ctx context.Context, e *CodexEntry) error {
	query := `
		INSERT INTO codex_entries (id, tenant_id, context_hash, payload, confidence, times_used, success_count, failure_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}

	err := s.db.QueryRow(ctx, query,
		e.ID,
		e.TenantID,
		e.ContextHash,
		e.Payload,
		e.Confidence,
		e.TimesUsed,
		e.SuccessCount,
		e.FailureCount,
	).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("failed to create codex entry: %w", err)
	}
	return nil
}

// UpdateCodexEntry replaces payload and counters of an existing entry
func (s *PostgresStore) UpdateCodexEntry(ctx context.Context, e *CodexEntry) error {
	query := `
		UPDATE codex_entries
		SET payload = $3, confidence = $4, times_used = $5, success_count = $6, failure_count = $7, updated_at = NOW()
		WHERE tenant_id = $1 AND context_hash = $2`

	tag, err := s.db.Exec(ctx, query,
		e.TenantID,
		e.ContextHash,
		e.Payload,
		e.Confidence,
		e.TimesUsed,
		e.SuccessCount,
		e.FailureCount,
	)
	if err != nil {
		return fmt.Errorf("failed to update codex entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetGlobalPatterns fetches patterns for a merchant, optionally within one amount range
func (s *PostgresStore) GetGlobalPatterns(ctx context.Context, merchant, amountRange string) ([]GlobalPattern, error) {
	query := `
		SELECT pattern_key, merchant_pattern, amount_range, distribution, confidence_score,
			companies_contributed, total_occurrences, updated_at
		FROM global_patterns
		WHERE ($1 = '' OR merchant_pattern = $1) AND ($2 = '' OR amount_range = $2)
		ORDER BY merchant_pattern, amount_range`

	rows, err := s.db.Query(ctx, query, merchant, amountRange)
	if err != nil {
		return nil, fmt.Errorf("failed to query global patterns: %w", err)
	}
	defer rows.Close()

	var patterns []GlobalPattern
	for rows.Next() {
		var (
			p    GlobalPattern
			dist []byte
		)
		if err := rows.Scan(
			&p.PatternKey,
			&p.MerchantPattern,
			&p.AmountRange,
			&dist,
			&p.ConfidenceScore,
			&p.CompaniesContributed,
			&p.TotalOccurrences,
			&p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan global pattern: %w", err)
		}
		if err := json.Unmarshal(dist, &p.Distribution); err != nil {
			return nil, fmt.Errorf("failed to decode distribution for %s: %w", p.PatternKey, err)
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

// UpsertGlobalPattern writes the full pattern state
func (s *PostgresStore) UpsertGlobalPattern(ctx context.Context, p *GlobalPattern) error {
	dist, err := json.Marshal(p.Distribution)
	if err != nil {
		return fmt.Errorf("failed to encode distribution: %w", err)
	}

	query := `
		INSERT INTO global_patterns (pattern_key, merchant_pattern, amount_range, distribution, confidence_score,
			companies_contributed, total_occurrences)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (pattern_key)
		DO UPDATE SET distribution = EXCLUDED.distribution,
			confidence_score = EXCLUDED.confidence_score,
			companies_contributed = EXCLUDED.companies_contributed,
			total_occurrences = EXCLUDED.total_occurrences,
			updated_at = NOW()`

	if _, err := s.db.Exec(ctx, query,
		p.PatternKey,
		p.MerchantPattern,
		p.AmountRange,
		dist,
		p.ConfidenceScore,
		p.CompaniesContributed,
		p.TotalOccurrences,
	); err != nil {
		return fmt.Errorf("failed to upsert global pattern: %w", err)
	}
	return nil
}

// GetBankTransactions lists a tenant's stored transactions
func (s *PostgresStore) GetBankTransactions(ctx context.Context, tenantID uuid.UUID, f TransactionFilter) ([]BankTransaction, error) {
	var (
		where = []string{"tenant_id = $1"}
		args  = []any{tenantID}
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.From != "" {
		add("tx_date >= $%d", f.From)
	}
	if f.To != "" {
		add("tx_date <= $%d", f.To)
	}
	if f.ImportID != uuid.Nil {
		add("import_id = $%d", f.ImportID)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if len(f.IDs) > 0 {
		add("id = ANY($%d)", f.IDs)
	}

	query := `
		SELECT id, tenant_id, import_id, source_line, tx_date, description, amount_cents, direction,
			reference, category, confidence, method, status, created_at, updated_at
		FROM bank_transactions
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY tx_date, source_line`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bank transactions: %w", err)
	}
	defer rows.Close()

	var out []BankTransaction
	for rows.Next() {
		var b BankTransaction
		if err := rows.Scan(
			&b.ID,
			&b.TenantID,
			&b.ImportID,
			&b.SourceLine,
			&b.Date,
			&b.Description,
			&b.AmountCents,
			&b.Direction,
			&b.Reference,
			&b.Category,
			&b.Confidence,
			&b.Method,
			&b.Status,
			&b.CreatedAt,
			&b.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan bank transaction: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// AddBankTransaction inserts a transaction
func (s *PostgresStore) AddBankTransaction(ctx context.Context, b *BankTransaction) error {
	query := `
		INSERT INTO bank_transactions (id, tenant_id, import_id, source_line, tx_date, description, amount_cents,
			direction, reference, category, confidence, method, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at`

	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.Status == "" {
		b.Status = StatusPending
	}

	err := s.db.QueryRow(ctx, query,
		b.ID,
		b.TenantID,
		b.ImportID,
		b.SourceLine,
		b.Date,
		b.Description,
		b.AmountCents,
		string(b.Direction),
		b.Reference,
		b.Category,
		b.Confidence,
		string(b.Method),
		string(b.Status),
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to add bank transaction: %w", err)
	}
	return nil
}

// UpdateBankTransaction updates allocation and status
func (s *PostgresStore) UpdateBankTransaction(ctx context.Context, b *BankTransaction) error {
	query := `
		UPDATE bank_transactions
		SET category = $3, confidence = $4, method = $5, status = $6, updated_at = NOW()
		WHERE id = $1 AND tenant_id = $2`

	tag, err := s.db.Exec(ctx, query,
		b.ID,
		b.TenantID,
		b.Category,
		b.Confidence,
		string(b.Method),
		string(b.Status),
	)
	if err != nil {
		return fmt.Errorf("failed to update bank transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	b.UpdatedAt = time.Now()
	return nil
}

// AddLearningLog appends an audit record
func (s *PostgresStore) AddLearningLog(ctx context.Context, l *LearningLog) error {
	query := `
		INSERT INTO learning_logs (id, tenant_id, transaction_id, description, previous_category, confirmed_category,
			method, correct, confidence_before, confidence_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`

	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}

	err := s.db.QueryRow(ctx, query,
		l.ID,
		l.TenantID,
		l.TransactionID,
		l.Description,
		l.PreviousCategory,
		l.ConfirmedCategory,
		string(l.Method),
		l.Correct,
		l.ConfidenceBefore,
		l.ConfidenceAfter,
	).Scan(&l.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add learning log: %w", err)
	}
	return nil
}

// AddImportLog appends an import log entry
func (s *PostgresStore) AddImportLog(ctx context.Context, l *ImportLog) error {
	query := `
		INSERT INTO import_logs (id, tenant_id, import_id, action, filename, format, bank, fingerprint, total_rows,
			imported_count, duplicate_count, error_count, success, message, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at`

	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}

	err := s.db.QueryRow(ctx, query,
		l.ID,
		l.TenantID,
		l.ImportID,
		string(l.Action),
		l.Filename,
		l.Format,
		l.Bank,
		l.Fingerprint,
		l.TotalRows,
		l.ImportedCount,
		l.DuplicateCount,
		l.ErrorCount,
		l.Success,
		l.Message,
		l.DurationMS,
	).Scan(&l.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add import log: %w", err)
	}
	return nil
}

// GetImportLogs lists a tenant's import log, newest first
func (s *PostgresStore) GetImportLogs(ctx context.Context, tenantID uuid.UUID, limit int) ([]ImportLog, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, tenant_id, import_id, action, filename, format, bank, fingerprint, total_rows,
			imported_count, duplicate_count, error_count, success, message, duration_ms, created_at
		FROM import_logs
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := s.db.Query(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query import logs: %w", err)
	}
	defer rows.Close()

	var logs []ImportLog
	for rows.Next() {
		var l ImportLog
		if err := rows.Scan(
			&l.ID,
			&l.TenantID,
			&l.ImportID,
			&l.Action,
			&l.Filename,
			&l.Format,
			&l.Bank,
			&l.Fingerprint,
			&l.TotalRows,
			&l.ImportedCount,
			&l.DuplicateCount,
			&l.ErrorCount,
			&l.Success,
			&l.Message,
			&l.DurationMS,
			&l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan import log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
