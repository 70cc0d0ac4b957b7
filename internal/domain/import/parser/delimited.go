package parser

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/model"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/sniffer"
)

// Text encodings reported in Result.Encoding.
const (
	EncodingUTF8    = "utf-8"
	EncodingUTF16   = "utf-16"
	EncodingWin1252 = "windows-1252"
)

const delimiterSampleLines = 10

// DelimitedParser reads delimiter-separated text into a RawGrid.
type DelimitedParser struct {
	delimiter rune // 0 means auto-detect
}

// NewDelimitedParser creates a parser. Pass 0 to detect the delimiter.
func NewDelimitedParser(delimiter rune) *DelimitedParser {
	return &DelimitedParser{delimiter: delimiter}
}

// Parse decodes the buffer, detects the delimiter when needed and scans every
// record. Entirely blank records are dropped.
func (p *DelimitedParser) Parse(data []byte) (*model.RawGrid, rune, string, error) {
	text, encoding, err := decodeText(data)
	if err != nil {
		return nil, 0, "", err
	}

	delimiter := p.delimiter
	if delimiter == 0 {
		delimiter = sniffer.DetectDelimiter(sniffer.SampleLines([]byte(text), delimiterSampleLines))
	}

	rows := scanRecords(text, delimiter)
	grid := &model.RawGrid{Rows: make([][]string, 0, len(rows)), SheetCount: 1}
	for _, row := range rows {
		if isBlankRow(row) {
			continue
		}
		grid.Rows = append(grid.Rows, row)
	}
	return grid, delimiter, encoding, nil
}

// decodeText returns UTF-8 text with any byte-order mark removed. Input that
// is neither valid UTF-8 nor BOM-marked UTF-16 is read as Windows-1252, which
// is how most legacy bank exports are written.
func decodeText(data []byte) (string, string, error) {
	switch {
	case bytes.HasPrefix(data, []byte{0xFF, 0xFE}), bytes.HasPrefix(data, []byte{0xFE, 0xFF}):
		decoded, _, err := transform.Bytes(unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder(), data)
		if err != nil {
			return "", "", fmt.Errorf("decode utf-16: %w", err)
		}
		return string(decoded), EncodingUTF16, nil
	case utf8.Valid(data):
		return strings.TrimPrefix(string(data), "\uFEFF"), EncodingUTF8, nil
	default:
		decoded, _, err := transform.Bytes(charmap.Windows1252.NewDecoder(), data)
		if err != nil {
			return "", "", fmt.Errorf("decode windows-1252: %w", err)
		}
		return string(decoded), EncodingWin1252, nil
	}
}

// scanRecords splits text into records. A field that opens with a quote runs
// until the matching quote; "" inside it is a literal quote, and delimiters
// and line breaks inside it are kept. CRLF, CR and LF all end a record.
func scanRecords(text string, delimiter rune) [][]string {
	var (
		records  [][]string
		record   []string
		field    strings.Builder
		inQuotes bool
		atStart  = true
	)

	endField := func() {
		record = append(record, strings.TrimSpace(field.String()))
		field.Reset()
		atStart = true
	}
	endRecord := func() {
		endField()
		records = append(records, record)
		record = nil
	}

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if inQuotes {
			switch {
			case r == '"' && i+1 < len(runes) && runes[i+1] == '"':
				field.WriteRune('"')
				i++
			case r == '"':
				inQuotes = false
			case r == '\r':
				if i+1 < len(runes) && runes[i+1] == '\n' {
					i++
				}
				field.WriteRune('\n')
			default:
				field.WriteRune(r)
			}
			continue
		}

		switch {
		case r == '"' && atStart && strings.TrimSpace(field.String()) == "":
			field.Reset()
			inQuotes = true
			atStart = false
		case r == delimiter:
			endField()
		case r == '\r':
			if i+1 < len(runes) && runes[i+1] == '\n' {
				i++
			}
			endRecord()
		case r == '\n':
			endRecord()
		default:
			field.WriteRune(r)
			if r != ' ' && r != '\t' {
				atStart = false
			}
		}
	}

	if field.Len() > 0 || len(record) > 0 || inQuotes {
		endRecord()
	}
	return records
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
