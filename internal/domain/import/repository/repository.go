// Package repository provides persistence for the ingestion pipeline.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/model"
	"github.com/FACorreiaa/ledger-ingest/pkg/money"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

// TransactionStatus is the lifecycle state of a stored bank transaction.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusAllocated TransactionStatus = "allocated"
	StatusReview    TransactionStatus = "review"
	StatusConfirmed TransactionStatus = "confirmed"
	StatusReversed  TransactionStatus = "reversed"
)

// AllocationRule maps a normalized description pattern to a category for one tenant.
type AllocationRule struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Pattern   string
	Category  string
	HitCount  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CodexEntry is a tenant-private learned allocation. Payload is ciphertext.
type CodexEntry struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	ContextHash  string
	Payload      []byte
	Confidence   int
	TimesUsed    int
	SuccessCount int
	FailureCount int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// GlobalPattern is the anonymized, cross-tenant outcome distribution for a merchant.
type GlobalPattern struct {
	PatternKey           string
	MerchantPattern      string
	AmountRange          string
	Distribution         map[string]float64
	ConfidenceScore      int
	CompaniesContributed int
	TotalOccurrences     int
	UpdatedAt            time.Time
}

// TopCategory returns the category with the largest share.
func (p GlobalPattern) TopCategory() (string, float64) {
	best, share := "", -1.0
	for category, pct := range p.Distribution {
		if pct > share || (pct == share && category < best) {
			best, share = category, pct
		}
	}
	if share < 0 {
		share = 0
	}
	return best, share
}

// BankTransaction is a stored, allocated transaction.
type BankTransaction struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	ImportID    uuid.UUID
	SourceLine  int
	Date        string
	Description string
	AmountCents int64
	Direction   model.Direction
	Reference   string
	Category    string
	Confidence  int
	Method      model.Method
	Status      TransactionStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Amount returns the magnitude as a decimal.
func (b BankTransaction) Amount() decimal.Decimal {
	return money.FromMinor(b.AmountCents, money.DefaultCurrency)
}

// Transaction converts the stored row back to a pipeline transaction.
func (b BankTransaction) Transaction() model.Transaction {
	_, err := time.Parse(time.DateOnly, b.Date)
	return model.Transaction{
		ID:          b.ID.String(),
		SourceLine:  b.SourceLine,
		Date:        b.Date,
		DateParsed:  err == nil,
		Description: b.Description,
		Amount:      b.Amount(),
		Direction:   b.Direction,
		Reference:   b.Reference,
	}
}

// TransactionFilter narrows GetBankTransactions. Zero values do not filter.
type TransactionFilter struct {
	From     string
	To       string
	ImportID uuid.UUID
	Status   TransactionStatus
	IDs      []uuid.UUID
	Limit    int
}

// LearningLog is the audit record written for every learn call.
type LearningLog struct {
	ID                uuid.UUID
	TenantID          uuid.UUID
	TransactionID     string
	Description       string
	PreviousCategory  string
	ConfirmedCategory string
	Method            model.Method
	Correct           bool
	ConfidenceBefore  int
	ConfidenceAfter   int
	CreatedAt         time.Time
}

// ImportAction distinguishes entries of the import log.
type ImportAction string

const (
	ActionImport  ImportAction = "import"
	ActionConfirm ImportAction = "confirm"
	ActionUndo    ImportAction = "undo"
)

// ImportLog records the outcome of one import operation.
type ImportLog struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	ImportID       uuid.UUID
	Action         ImportAction
	Filename       string
	Format         string
	Bank           string
	Fingerprint    string
	TotalRows      int
	ImportedCount  int
	DuplicateCount int
	ErrorCount     int
	Success        bool
	Message        string
	DurationMS     int64
	CreatedAt      time.Time
}

// Store is the persistence boundary of the pipeline.
type Store interface {
	GetAllocationRules(ctx context.Context, tenantID uuid.UUID) ([]AllocationRule, error)
	UpsertAllocationRule(ctx context.Context, tenantID uuid.UUID, pattern, category string) error

	GetCodexEntry(ctx context.Context, tenantID uuid.UUID, contextHash string) (*CodexEntry, error)
	CreateCodexEntry(ctx context.Context, entry *CodexEntry) error
	UpdateCodexEntry(ctx context.Context, entry *CodexEntry) error

	// GetGlobalPatterns returns every pattern when merchant is empty.
	GetGlobalPatterns(ctx context.Context, merchant, amountRange string) ([]GlobalPattern, error)
	UpsertGlobalPattern(ctx context.Context, pattern *GlobalPattern) error

	GetBankTransactions(ctx context.Context, tenantID uuid.UUID, filter TransactionFilter) ([]BankTransaction, error)
	AddBankTransaction(ctx context.Context, tx *BankTransaction) error
	UpdateBankTransaction(ctx context.Context, tx *BankTransaction) error

	AddLearningLog(ctx context.Context, entry *LearningLog) error
	AddImportLog(ctx context.Context, entry *ImportLog) error
	GetImportLogs(ctx context.Context, tenantID uuid.UUID, limit int) ([]ImportLog, error)
}
