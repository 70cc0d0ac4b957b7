package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/model"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/normalizer"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/parser"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/sniffer"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/validator"
)

const dialectSampleRows = 30

// Diagnostics describes what the detection stages found.
type Diagnostics struct {
	Format           string         `json:"format"`
	Kind             string         `json:"kind,omitempty"`
	FormatReason     string         `json:"formatReason,omitempty"`
	Delimiter        string         `json:"delimiter,omitempty"`
	Encoding         string         `json:"encoding,omitempty"`
	Sheets           []string       `json:"sheets,omitempty"`
	RowCount         int            `json:"rowCount"`
	SheetCount       int            `json:"sheetCount"`
	HeaderRow        int            `json:"headerRow"`
	Headers          []string       `json:"headers,omitempty"`
	Columns          map[string]int `json:"columns,omitempty"`
	LayoutConfidence int            `json:"layoutConfidence"`
	Bank             string         `json:"bank"`
	BankScore        int            `json:"bankScore,omitempty"`
	Fingerprint      string         `json:"fingerprint,omitempty"`
	DecimalComma     bool           `json:"decimalComma"`
	MonthFirst       bool           `json:"monthFirst"`
	Currency         string         `json:"currency,omitempty"`
}

// Timings records how long each stage took.
type Timings map[Stage]time.Duration

// Total sums every stage.
func (t Timings) Total() time.Duration {
	var total time.Duration
	for _, d := range t {
		total += d
	}
	return total
}

// prepared is the output of the read-only front half of the pipeline.
type prepared struct {
	diag       Diagnostics
	layout     *model.Layout
	normalized *normalizer.Result
	report     validator.Report
}

// stage runs fn inside a span, records its duration and wraps failures.
func (s *ImportService) stage(ctx context.Context, timings Timings, stage Stage, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "ingest."+string(stage))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	timings[stage] += elapsed
	s.metrics.StageDuration(string(stage), elapsed)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &PipelineError{Stage: stage, Err: err}
	}
	return nil
}

// prepare detects, parses, lays out, normalizes and validates the upload.
// It writes nothing.
func (s *ImportService) prepare(ctx context.Context, timings Timings, data []byte, filename string, opts Options) (*prepared, error) {
	p := &prepared{diag: Diagnostics{HeaderRow: -1, Bank: "undetected"}}

	err := s.stage(ctx, timings, StageDetect, func(context.Context) error {
		format, err := sniffer.DetectFormat(data, filename)
		p.diag.Format, p.diag.Kind, p.diag.FormatReason = string(format.Type), format.Kind, format.Reason
		return err
	})
	if err != nil {
		return p, err
	}

	var parsed *parser.Result
	err = s.stage(ctx, timings, StageParse, func(context.Context) error {
		var err error
		parsed, err = parser.Parse(data, filename, parser.Options{Sheet: opts.Sheet, Delimiter: opts.Delimiter})
		if parsed != nil {
			p.diag.Sheets, p.diag.Encoding = parsed.Sheets, parsed.Encoding
			p.diag.RowCount, p.diag.SheetCount = parsed.RowCount, parsed.SheetCount
			if parsed.Delimiter != 0 {
				p.diag.Delimiter = string(parsed.Delimiter)
			}
		}
		return err
	})
	if err != nil {
		return p, err
	}

	err = s.stage(ctx, timings, StageLayout, func(context.Context) error {
		layout, err := s.layouts.Detect(parsed.Grid)
		if err != nil {
			return err
		}
		p.layout = layout
		p.diag.HeaderRow, p.diag.Headers, p.diag.LayoutConfidence = layout.HeaderRow, layout.Headers, layout.Confidence
		p.diag.Columns = make(map[string]int, len(layout.Columns))
		for role, idx := range layout.Columns {
			p.diag.Columns[string(role)] = idx
		}
		if len(layout.Headers) > 0 {
			p.diag.Fingerprint = sniffer.Fingerprint(layout.Headers)
		}
		return nil
	})
	if err != nil {
		return p, err
	}

	_ = s.stage(ctx, timings, StageBank, func(ctx context.Context) error {
		if match, ok := s.banks.Detect(filename, parsed.Grid, p.layout); ok {
			p.diag.Bank, p.diag.BankScore = match.Bank, match.Score
		}
		return nil
	})

	err = s.stage(ctx, timings, StageNormalize, func(context.Context) error {
		dialect := detectDialect(parsed.Grid, p.layout)
		p.diag.DecimalComma, p.diag.MonthFirst, p.diag.Currency = dialect.DecimalComma, dialect.MonthFirst, dialect.CurrencyHint

		n := normalizer.New(s.cat, normalizer.Options{MonthFirst: dialect.MonthFirst, DecimalComma: dialect.DecimalComma})
		res, err := n.Normalize(parsed.Grid, p.layout)
		if err != nil {
			return err
		}
		p.normalized = res
		s.metrics.Rows(string(StageNormalize), "accepted", len(res.Transactions))
		s.metrics.Rows(string(StageNormalize), "excluded", len(res.Errors))
		if len(res.Transactions) == 0 {
			return fmt.Errorf("%w (%d rows excluded)", ErrNoTransactions, len(res.Errors))
		}
		return nil
	})
	if err != nil {
		return p, err
	}

	_ = s.stage(ctx, timings, StageValidate, func(ctx context.Context) error {
		p.report = validator.Validate(p.normalized.Transactions)
		return nil
	})

	return p, nil
}

// detectDialect samples the data rows under the detected layout.
func detectDialect(grid *model.RawGrid, layout *model.Layout) sniffer.Dialect {
	amountIdx := -1
	for _, role := range []model.Role{model.RoleAmount, model.RoleDebit, model.RoleCredit} {
		if idx, ok := layout.Column(role); ok {
			amountIdx = idx
			break
		}
	}
	dateIdx, ok := layout.Column(model.RoleDate)
	if !ok {
		dateIdx = -1
	}

	end := min(layout.DataStart+dialectSampleRows, grid.RowCount())
	var sample [][]string
	if layout.DataStart < end {
		sample = grid.Rows[layout.DataStart:end]
	}
	return sniffer.DetectDialect(sample, amountIdx, dateIdx)
}

func spanAttrs(d Diagnostics, rows int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("ingest.format", d.Format),
		attribute.String("ingest.bank", d.Bank),
		attribute.Int("ingest.rows", rows),
		attribute.Int("ingest.layout_confidence", d.LayoutConfidence),
	}
}
