package parser

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/model"
)

// ExcelParser reads OOXML workbooks.
type ExcelParser struct {
	sheet      string
	sheetIndex int
}

// NewExcelParser selects a sheet by name, or by index when name is empty.
func NewExcelParser(sheet string, sheetIndex int) *ExcelParser {
	return &ExcelParser{sheet: sheet, sheetIndex: sheetIndex}
}

// Parse reads the selected sheet. Date-formatted cells become ISO dates,
// numbers keep their raw string form and entirely empty rows are dropped.
func (p *ExcelParser) Parse(data []byte) (*model.RawGrid, []string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data), excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	sheetName, err := selectSheet(sheets, p.sheet, p.sheetIndex)
	if err != nil {
		return nil, sheets, err
	}

	rows, err := f.GetRows(sheetName, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, sheets, fmt.Errorf("failed to read sheet %s: %w", sheetName, err)
	}

	dates := newDateStyles(f)
	grid := &model.RawGrid{
		Rows:       make([][]string, 0, len(rows)),
		SheetName:  sheetName,
		SheetCount: len(sheets),
	}
	for r, row := range rows {
		out := make([]string, len(row))
		for c, value := range row {
			value = strings.TrimSpace(value)
			if iso, ok := dates.convert(sheetName, r, c, value); ok {
				value = iso
			}
			out[c] = value
		}
		if isBlankRow(out) {
			continue
		}
		grid.Rows = append(grid.Rows, out)
	}
	return grid, sheets, nil
}

func selectSheet(sheets []string, name string, index int) (string, error) {
	if len(sheets) == 0 {
		return "", ErrNoSheets
	}
	if name != "" {
		for _, s := range sheets {
			if strings.EqualFold(s, name) {
				return s, nil
			}
		}
		return "", fmt.Errorf("%w: %s", ErrSheetNotFound, name)
	}
	if index < 0 || index >= len(sheets) {
		return "", fmt.Errorf("%w: index %d", ErrSheetNotFound, index)
	}
	return sheets[index], nil
}

// dateStyles caches, per style ID, whether a cell style renders a date.
type dateStyles struct {
	f     *excelize.File
	cache map[int]bool
}

func newDateStyles(f *excelize.File) *dateStyles {
	return &dateStyles{f: f, cache: make(map[int]bool)}
}

func (d *dateStyles) convert(sheet string, row, col int, value string) (string, bool) {
	serial, err := strconv.ParseFloat(value, 64)
	if err != nil || serial <= 0 {
		return "", false
	}
	cell, err := excelize.CoordinatesToCellName(col+1, row+1)
	if err != nil {
		return "", false
	}
	styleID, err := d.f.GetCellStyle(sheet, cell)
	if err != nil || !d.isDate(styleID) {
		return "", false
	}
	t, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return "", false
	}
	return t.Format("2006-01-02"), true
}

func (d *dateStyles) isDate(styleID int) bool {
	if styleID == 0 {
		return false
	}
	if v, ok := d.cache[styleID]; ok {
		return v
	}
	style, err := d.f.GetStyle(styleID)
	result := err == nil && style != nil && isDateFormat(style.NumFmt, style.CustomNumFmt)
	d.cache[styleID] = result
	return result
}

// isDateFormat recognises the built-in date formats and custom format codes
// that contain day or year tokens outside quoted literals.
func isDateFormat(numFmt int, custom *string) bool {
	switch {
	case numFmt >= 14 && numFmt <= 17, numFmt == 22,
		numFmt >= 27 && numFmt <= 36, numFmt >= 50 && numFmt <= 58:
		return true
	}
	if custom == nil {
		return false
	}
	inQuote, inBracket := false, false
	for _, r := range strings.ToLower(*custom) {
		switch {
		case r == '"':
			inQuote = !inQuote
		case r == '[' && !inQuote:
			inBracket = true
		case r == ']' && !inQuote:
			inBracket = false
		case inQuote || inBracket:
		case r == 'd' || r == 'y':
			return true
		}
	}
	return false
}
