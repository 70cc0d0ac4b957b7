// Package parser turns an uploaded statement into a RawGrid. It dispatches on
// the detected format to an xlsx, xls or delimited-text reader.
package parser

import (
	"errors"
	"fmt"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/model"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/sniffer"
)

var (
	ErrEmptyGrid     = errors.New("file contains no rows")
	ErrNoSheets      = errors.New("workbook has no sheets")
	ErrSheetNotFound = errors.New("sheet not found")
)

// Options control sheet selection and delimiter override.
type Options struct {
	Sheet      string // sheet name, takes precedence over SheetIndex
	SheetIndex int
	Delimiter  rune // 0 means auto-detect
}

// Result is a parsed grid plus what was learned while reading it.
type Result struct {
	Grid       *model.RawGrid
	Format     sniffer.Format
	Delimiter  rune
	Encoding   string
	Sheets     []string
	RowCount   int
	SheetCount int
}

// Parse detects the format and reads the buffer. Unsupported formats and
// empty results are terminal errors.
func Parse(data []byte, filename string, opts Options) (*Result, error) {
	format, err := sniffer.DetectFormat(data, filename)
	if err != nil {
		return &Result{Format: format}, fmt.Errorf("detect format: %w", err)
	}

	result := &Result{Format: format}

	switch {
	case format.Type == model.FileTypeDelimited:
		grid, used, encoding, err := NewDelimitedParser(opts.Delimiter).Parse(data)
		if err != nil {
			return result, err
		}
		result.Grid, result.Delimiter, result.Encoding = grid, used, encoding

	case format.Kind == sniffer.KindXLS:
		grid, sheets, err := NewXLSParser(opts.Sheet, opts.SheetIndex).Parse(data)
		result.Sheets = sheets
		if err != nil {
			return result, err
		}
		result.Grid = grid

	default:
		grid, sheets, err := NewExcelParser(opts.Sheet, opts.SheetIndex).Parse(data)
		result.Sheets = sheets
		if err != nil {
			return result, err
		}
		result.Grid = grid
	}

	result.RowCount = result.Grid.RowCount()
	result.SheetCount = result.Grid.SheetCount
	if result.RowCount == 0 {
		return result, ErrEmptyGrid
	}
	return result, nil
}
