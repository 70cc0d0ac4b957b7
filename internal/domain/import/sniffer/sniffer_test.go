package sniffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/model"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		filename string
		wantType model.FileType
		wantKind string
		wantErr  error
	}{
		{
			name:     "xlsx container",
			data:     append([]byte("PK\x03\x04"), make([]byte, 32)...),
			filename: "statement.bin",
			wantType: model.FileTypeSpreadsheet,
			wantKind: KindXLSX,
		},
		{
			name:     "legacy xls container",
			data:     append([]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, make([]byte, 32)...),
			filename: "statement",
			wantType: model.FileTypeSpreadsheet,
			wantKind: KindXLS,
		},
		{
			name:     "pdf is rejected",
			data:     []byte("%PDF-1.7\n..."),
			filename: "statement.csv",
			wantType: model.FileTypeUnsupported,
			wantKind: KindPDF,
			wantErr:  ErrUnsupportedType,
		},
		{
			name:     "png is rejected",
			data:     []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A},
			filename: "scan.png",
			wantType: model.FileTypeUnsupported,
			wantKind: KindImage,
			wantErr:  ErrUnsupportedType,
		},
		{
			name:     "csv sample",
			data:     []byte("Date,Description,Amount\n2025-02-15,ENGEN,-850.00\n2025-02-16,TELKOM,-999.00\n"),
			filename: "export",
			wantType: model.FileTypeDelimited,
			wantKind: KindText,
		},
		{
			name:     "text posing as xls",
			data:     []byte("Datum\tBeskrywing\tBedrag\n15/02/2025\tENGEN\t-850,00\n16/02/2025\tTELKOM\t-999,00\n"),
			filename: "export.xls",
			wantType: model.FileTypeDelimited,
			wantKind: KindText,
		},
		{
			name:     "single-column csv falls back to extension",
			data:     []byte("amount\n10\n20\n"),
			filename: "amounts.csv",
			wantType: model.FileTypeDelimited,
			wantKind: KindText,
		},
		{
			name:     "prose is unsupported",
			data:     []byte("Dear customer, thank you.\nRegards"),
			filename: "letter",
			wantType: model.FileTypeUnsupported,
			wantErr:  ErrUnsupportedType,
		},
		{
			name:     "empty",
			data:     nil,
			filename: "a.csv",
			wantType: model.FileTypeUnsupported,
			wantErr:  ErrEmptyFile,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DetectFormat(tt.data, tt.filename)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantType, got.Type)
			assert.Equal(t, tt.wantKind, got.Kind)
		})
	}
}

func TestDetectDelimiter(t *testing.T) {
	t.Run("semicolon beats the comma inside decimals", func(t *testing.T) {
		lines := []string{
			"Datum;Beskrywing;Bedrag;Saldo",
			"15/02/2025;ENGEN;-850,00;1 150,00",
			"16/02/2025;TELKOM;-999,00;151,00",
		}
		assert.Equal(t, ';', DetectDelimiter(lines))
	})

	t.Run("quoted commas are ignored", func(t *testing.T) {
		lines := []string{
			"date|description|amount",
			`2025-02-15|"Smith, Jones and Co, attorneys"|-500`,
			"2025-02-16|Rent|-8000",
		}
		assert.Equal(t, '|', DetectDelimiter(lines))
	})

	t.Run("tab", func(t *testing.T) {
		lines := []string{"a\tb\tc", "1\t2\t3"}
		assert.Equal(t, '\t', DetectDelimiter(lines))
	})

	t.Run("defaults to comma", func(t *testing.T) {
		assert.Equal(t, ',', DetectDelimiter([]string{"one column"}))
	})
}

func TestSampleLines(t *testing.T) {
	lines := SampleLines([]byte("\xEF\xBB\xBFa,b\r\n\r\nc,d\re,f\n"), 10)
	assert.Equal(t, []string{"a,b", "c,d", "e,f"}, lines)
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint([]string{"Date", "Description", "Amount"})
	b := Fingerprint([]string{" date ", "DESCRIPTION", "amount!"})
	c := Fingerprint([]string{"Datum", "Beskrywing", "Bedrag"})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestDetectDialect(t *testing.T) {
	t.Run("comma decimal with day-first dates", func(t *testing.T) {
		rows := [][]string{
			{"15/02/2025", "ENGEN", "R -850,00"},
			{"16/02/2025", "TELKOM", "R -1 999,00"},
		}
		d := DetectDialect(rows, 2, 0)
		assert.True(t, d.DecimalComma)
		assert.False(t, d.MonthFirst)
		assert.Equal(t, "ZAR", d.CurrencyHint)
		assert.InDelta(t, 1.0, d.Confidence, 0.001)
	})

	t.Run("month-first dates", func(t *testing.T) {
		rows := [][]string{
			{"02/15/2025", "Coffee", "$4.50"},
			{"02/03/2025", "Lunch", "$12.00"},
		}
		d := DetectDialect(rows, 2, 0)
		assert.False(t, d.DecimalComma)
		assert.True(t, d.MonthFirst)
		assert.Equal(t, "USD", d.CurrencyHint)
	})

	t.Run("unknown columns", func(t *testing.T) {
		d := DetectDialect([][]string{{"x"}}, -1, -1)
		assert.False(t, d.DecimalComma)
		assert.InDelta(t, 0.5, d.Confidence, 0.001)
	})
}
