package parser

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/model"
)

// XLSParser reads legacy BIFF workbooks.
type XLSParser struct {
	sheet      string
	sheetIndex int
}

// NewXLSParser selects a sheet by name, or by index when name is empty.
func NewXLSParser(sheet string, sheetIndex int) *XLSParser {
	return &XLSParser{sheet: sheet, sheetIndex: sheetIndex}
}

// Parse reads the selected sheet. RK cells carrying a date style become ISO
// dates. Date-styled NUMBER cells keep their serial, which the normalizer
// converts when the column holds dates.
func (p *XLSParser) Parse(data []byte) (*model.RawGrid, []string, error) {
	book, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open XLS file: %w", err)
	}
	if book == nil {
		return nil, nil, fmt.Errorf("failed to open XLS file: no workbook stream")
	}

	sheets := make([]string, 0, book.NumSheets())
	for i := 0; i < book.NumSheets(); i++ {
		if s := book.GetSheet(i); s != nil {
			sheets = append(sheets, s.Name)
		}
	}

	name, err := selectSheet(sheets, p.sheet, p.sheetIndex)
	if err != nil {
		return nil, sheets, err
	}

	var sheet *xls.WorkSheet
	for i := 0; i < book.NumSheets(); i++ {
		if s := book.GetSheet(i); s != nil && s.Name == name {
			sheet = s
			break
		}
	}
	if sheet == nil {
		return nil, sheets, fmt.Errorf("%w: %s", ErrSheetNotFound, name)
	}

	// The library renders built-in date styles as "2006.01". Reading the
	// sheet a second time without XF records yields the underlying serials.
	styled := readXLSCells(sheet)
	xfs := book.Xfs
	book.Xfs = nil
	plain := readXLSCells(sheet)
	book.Xfs = xfs

	grid := &model.RawGrid{SheetName: name, SheetCount: len(sheets)}
	for r, row := range styled {
		out := make([]string, len(row))
		for c, value := range row {
			out[c] = strings.TrimSpace(value)
			if c >= len(plain[r]) || value == plain[r][c] {
				continue
			}
			if iso, ok := xlsDate(value, plain[r][c]); ok {
				out[c] = iso
			}
		}
		if isBlankRow(out) {
			continue
		}
		grid.Rows = append(grid.Rows, out)
	}
	return grid, sheets, nil
}

// readXLSCells returns every defined row, trimmed of trailing empty cells.
// Rows written without a ROW record report no width, so the widest row
// bounds all of them.
func readXLSCells(sheet *xls.WorkSheet) [][]string {
	width := 0
	for i := 0; i <= int(sheet.MaxRow); i++ {
		if row := sheetRow(sheet, i); row != nil && row.LastCol() > width {
			width = row.LastCol()
		}
	}

	rows := make([][]string, 0, int(sheet.MaxRow)+1)
	for i := 0; i <= int(sheet.MaxRow); i++ {
		row := sheetRow(sheet, i)
		if row == nil {
			continue
		}
		out := make([]string, width)
		last := 0
		for c := 0; c < width; c++ {
			out[c] = row.Col(c)
			if out[c] != "" {
				last = c + 1
			}
		}
		rows = append(rows, out[:last])
	}
	return rows
}

// sheetRow returns nil for rows the sheet never defined; WorkSheet.Row
// panics on them.
func sheetRow(sheet *xls.WorkSheet, i int) (row *xls.Row) {
	defer func() {
		if recover() != nil {
			row = nil
		}
	}()
	return sheet.Row(i)
}

// xlsDate converts a date-styled cell. User-defined styles arrive as RFC 3339
// timestamps; built-in styles lose the day, so the serial is used instead.
func xlsDate(styled, serial string) (string, bool) {
	if t, err := time.Parse(time.RFC3339, styled); err == nil {
		return t.Format("2006-01-02"), true
	}
	f, err := strconv.ParseFloat(serial, 64)
	if err != nil || f <= 0 {
		return "", false
	}
	t, err := excelize.ExcelDateToTime(f, false)
	if err != nil {
		return "", false
	}
	return t.Format("2006-01-02"), true
}
