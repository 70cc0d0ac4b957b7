package parser

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/model"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/sniffer"
)

// =============================================================================
// Delimited text
// =============================================================================

func TestDelimitedParser_Parse(t *testing.T) {
	t.Run("parses standard CSV", func(t *testing.T) {
		csv := "Date,Description,Amount\n15/02/2025,ENGEN SANDTON FUEL,-850.00\n16/02/2025,TELKOM FIBRE MONTHLY,-999.00\n"

		grid, delim, enc, err := NewDelimitedParser(0).Parse([]byte(csv))

		require.NoError(t, err)
		assert.Equal(t, ',', delim)
		assert.Equal(t, EncodingUTF8, enc)
		require.Equal(t, 3, grid.RowCount())
		assert.Equal(t, []string{"15/02/2025", "ENGEN SANDTON FUEL", "-850.00"}, grid.Rows[1])
	})

	t.Run("detects semicolons and keeps decimal commas", func(t *testing.T) {
		csv := "Datum;Beskrywing;Bedrag\n15/02/2025;ENGEN;-850,00\n16/02/2025;TELKOM;-999,00\n"

		grid, delim, _, err := NewDelimitedParser(0).Parse([]byte(csv))

		require.NoError(t, err)
		assert.Equal(t, ';', delim)
		assert.Equal(t, "-850,00", grid.Cell(1, 2))
	})

	t.Run("quoted fields with delimiters, escaped quotes and newlines", func(t *testing.T) {
		csv := "date,description,amount\r\n2025-02-15,\"Smith, Jones \"\"Attorneys\"\"\",-500\r\n2025-02-16,\"Line one\r\nLine two\",10\r\n"

		grid, _, _, err := NewDelimitedParser(',').Parse([]byte(csv))

		require.NoError(t, err)
		require.Equal(t, 3, grid.RowCount())
		assert.Equal(t, `Smith, Jones "Attorneys"`, grid.Cell(1, 1))
		assert.Equal(t, "Line one\nLine two", grid.Cell(2, 1))
		assert.Equal(t, "10", grid.Cell(2, 2))
	})

	t.Run("bare carriage returns end records", func(t *testing.T) {
		grid, _, _, err := NewDelimitedParser(',').Parse([]byte("a,b\r1,2\r3,4"))

		require.NoError(t, err)
		assert.Equal(t, [][]string{{"a", "b"}, {"1", "2"}, {"3", "4"}}, grid.Rows)
	})

	t.Run("strips byte-order mark and blank lines", func(t *testing.T) {
		grid, _, _, err := NewDelimitedParser(',').Parse([]byte("\xEF\xBB\xBFdate,amount\n\n,\n2025-01-01,5\n"))

		require.NoError(t, err)
		assert.Equal(t, [][]string{{"date", "amount"}, {"2025-01-01", "5"}}, grid.Rows)
	})

	t.Run("falls back to windows-1252", func(t *testing.T) {
		grid, _, enc, err := NewDelimitedParser(';').Parse([]byte("Caf\xe9;5\n"))

		require.NoError(t, err)
		assert.Equal(t, EncodingWin1252, enc)
		assert.Equal(t, "Café", grid.Cell(0, 0))
	})

	t.Run("decodes utf-16 with BOM", func(t *testing.T) {
		data := []byte{0xFF, 0xFE, 'a', 0, ',', 0, 'b', 0, '\n', 0, '1', 0, ',', 0, '2', 0}

		grid, _, enc, err := NewDelimitedParser(',').Parse(data)

		require.NoError(t, err)
		assert.Equal(t, EncodingUTF16, enc)
		assert.Equal(t, [][]string{{"a", "b"}, {"1", "2"}}, grid.Rows)
	})

	t.Run("quote in the middle of a field is literal", func(t *testing.T) {
		grid, _, _, err := NewDelimitedParser(',').Parse([]byte(`5" pipe,12`))

		require.NoError(t, err)
		assert.Equal(t, `5" pipe`, grid.Cell(0, 0))
	})
}

// =============================================================================
// Spreadsheets
// =============================================================================

func buildWorkbook(t *testing.T) []byte {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"Date", "Description", "Amount"}))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", "  ENGEN SANDTON FUEL "))
	require.NoError(t, f.SetCellValue("Sheet1", "C2", -850.5))
	// row 3 left empty
	require.NoError(t, f.SetSheetRow("Sheet1", "A4", &[]any{"2025-02-16", "TELKOM", 999}))

	_, err := f.NewSheet("February")
	require.NoError(t, err)
	require.NoError(t, f.SetSheetRow("February", "A1", &[]any{"only", "row"}))

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestExcelParser_Parse(t *testing.T) {
	data := buildWorkbook(t)

	t.Run("reads the first sheet", func(t *testing.T) {
		grid, sheets, err := NewExcelParser("", 0).Parse(data)

		require.NoError(t, err)
		assert.Equal(t, []string{"Sheet1", "February"}, sheets)
		assert.Equal(t, "Sheet1", grid.SheetName)
		assert.Equal(t, 2, grid.SheetCount)
		require.Equal(t, 3, grid.RowCount())
		assert.Equal(t, "2025-02-15", grid.Cell(1, 0))
		assert.Equal(t, "ENGEN SANDTON FUEL", grid.Cell(1, 1))
		assert.Equal(t, "-850.5", grid.Cell(1, 2))
		assert.Equal(t, "999", grid.Cell(2, 2))
	})

	t.Run("selects a sheet by name", func(t *testing.T) {
		grid, _, err := NewExcelParser("february", 0).Parse(data)

		require.NoError(t, err)
		assert.Equal(t, "February", grid.SheetName)
		assert.Equal(t, [][]string{{"only", "row"}}, grid.Rows)
	})

	t.Run("unknown sheet", func(t *testing.T) {
		_, _, err := NewExcelParser("March", 0).Parse(data)
		assert.ErrorIs(t, err, ErrSheetNotFound)

		_, _, err = NewExcelParser("", 7).Parse(data)
		assert.ErrorIs(t, err, ErrSheetNotFound)
	})
}

func TestIsDateFormat(t *testing.T) {
	custom := func(s string) *string { return &s }

	assert.True(t, isDateFormat(14, nil))
	assert.True(t, isDateFormat(22, nil))
	assert.False(t, isDateFormat(2, nil))
	assert.True(t, isDateFormat(164, custom("yyyy-mm-dd")))
	assert.False(t, isDateFormat(164, custom(`#,##0.00 "days"`)))
	assert.False(t, isDateFormat(164, custom("[Red]#,##0.00")))
}

// =============================================================================
// Legacy workbooks
// =============================================================================

func readFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile("testdata/" + name)
	require.NoError(t, err)
	return data
}

func TestXLSParser_Parse(t *testing.T) {
	data := readFixture(t, "statement.xls")

	t.Run("reads the first sheet", func(t *testing.T) {
		grid, sheets, err := NewXLSParser("", 0).Parse(data)

		require.NoError(t, err)
		assert.Equal(t, []string{"Statement", "Notes"}, sheets)
		assert.Equal(t, "Statement", grid.SheetName)
		assert.Equal(t, 2, grid.SheetCount)
		assert.Equal(t, [][]string{
			{"Date", "Description", "Amount"},
			{"2025-02-15", "ENGEN SANDTON FUEL", "-850.5"},
			{"2025-02-16", "SALARY ACME", "15000"},
			{"45706", "TELKOM", "-999"},
		}, grid.Rows)
	})

	t.Run("selects a sheet by name", func(t *testing.T) {
		grid, _, err := NewXLSParser("NOTES", 0).Parse(data)

		require.NoError(t, err)
		assert.Equal(t, "Notes", grid.SheetName)
		assert.Equal(t, [][]string{{"only", "row"}}, grid.Rows)
	})

	t.Run("unknown sheet", func(t *testing.T) {
		_, sheets, err := NewXLSParser("", 2).Parse(data)

		assert.ErrorIs(t, err, ErrSheetNotFound)
		assert.Len(t, sheets, 2)
	})
}

func TestXLSDate(t *testing.T) {
	tests := []struct {
		styled string
		serial string
		want   string
		ok     bool
	}{
		{"2025-02-15T00:00:00Z", "45703", "2025-02-15", true},
		{"2025.02", "45704", "2025-02-16", true},
		{"2025.02", "", "", false},
		{"2025.02", "-3", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.styled+"/"+tt.serial, func(t *testing.T) {
			got, ok := xlsDate(tt.styled, tt.serial)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

// =============================================================================
// Dispatch
// =============================================================================

func TestParse(t *testing.T) {
	t.Run("delimited", func(t *testing.T) {
		res, err := Parse([]byte("date|desc|amount\n2025-01-01|x|1\n2025-01-02|y|2\n"), "s.txt", Options{})

		require.NoError(t, err)
		assert.Equal(t, model.FileTypeDelimited, res.Format.Type)
		assert.Equal(t, '|', res.Delimiter)
		assert.Equal(t, 3, res.RowCount)
		assert.Equal(t, 1, res.SheetCount)
	})

	t.Run("xlsx", func(t *testing.T) {
		res, err := Parse(buildWorkbook(t), "statement.xlsx", Options{})

		require.NoError(t, err)
		assert.Equal(t, sniffer.KindXLSX, res.Format.Kind)
		assert.Equal(t, 3, res.RowCount)
		assert.Equal(t, 2, res.SheetCount)
	})

	t.Run("xls", func(t *testing.T) {
		res, err := Parse(readFixture(t, "statement.xls"), "statement.xls", Options{})

		require.NoError(t, err)
		assert.Equal(t, sniffer.KindXLS, res.Format.Kind)
		assert.Equal(t, 4, res.RowCount)
		assert.Equal(t, 2, res.SheetCount)
	})

	t.Run("unsupported", func(t *testing.T) {
		_, err := Parse([]byte("%PDF-1.4"), "statement.pdf", Options{})
		assert.ErrorIs(t, err, sniffer.ErrUnsupportedType)
	})

	t.Run("empty grid", func(t *testing.T) {
		_, err := Parse([]byte("\n\n ,\n"), "statement.csv", Options{})
		assert.ErrorIs(t, err, ErrEmptyGrid)
	})
}
