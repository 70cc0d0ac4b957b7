// Package sniffer classifies uploaded statement files and inspects delimited text
// for its delimiter, header fingerprint and regional dialect.
package sniffer

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/model"
)

// Container kinds reported in Format.Kind.
const (
	KindXLSX  = "xlsx"
	KindXLS   = "xls"
	KindText  = "text"
	KindPDF   = "pdf"
	KindImage = "image"
)

const (
	sampleBytes = 1024
	sampleLines = 10
)

// Candidate delimiters, in tie-break order.
var delimiters = []rune{',', ';', '\t', '|'}

var (
	ErrEmptyFile       = errors.New("file is empty")
	ErrUnsupportedType = errors.New("unsupported file type")
)

var (
	sigZip  = []byte("PK\x03\x04")
	sigOLE  = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
	sigPDF  = []byte("%PDF")
	sigPNG  = []byte{0x89, 'P', 'N', 'G'}
	sigJPEG = []byte{0xFF, 0xD8, 0xFF}
	sigGIF  = []byte("GIF8")
	sigTIFF = [][]byte{[]byte("II*\x00"), []byte("MM\x00*")}
)

// Format is the outcome of format detection.
type Format struct {
	Type      model.FileType
	Kind      string
	Delimiter rune   // set when the text sample already proved a delimiter
	Reason    string // how the decision was made
}

// DetectFormat classifies a buffer by container signature, then by filename
// extension, then by sampling the first kilobyte for delimiter structure.
func DetectFormat(data []byte, filename string) (Format, error) {
	if len(data) == 0 {
		return Format{Type: model.FileTypeUnsupported, Reason: "empty"}, ErrEmptyFile
	}

	switch {
	case bytes.HasPrefix(data, sigZip):
		return Format{Type: model.FileTypeSpreadsheet, Kind: KindXLSX, Reason: "zip container"}, nil
	case bytes.HasPrefix(data, sigOLE):
		return Format{Type: model.FileTypeSpreadsheet, Kind: KindXLS, Reason: "compound document"}, nil
	case bytes.HasPrefix(data, sigPDF):
		return unsupported(KindPDF, "pdf signature")
	case isImage(data):
		return unsupported(KindImage, "image signature")
	}

	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".pdf":
		return unsupported(KindPDF, "pdf extension")
	case ".png", ".jpg", ".jpeg", ".gif", ".tif", ".tiff", ".bmp", ".heic", ".webp":
		return unsupported(KindImage, "image extension")
	}

	delim, ok := sampleDelimiter(data)
	if ok {
		return Format{Type: model.FileTypeDelimited, Kind: KindText, Delimiter: delim, Reason: "delimiter sample"}, nil
	}

	switch ext {
	case ".csv", ".tsv", ".txt", ".psv":
		return Format{Type: model.FileTypeDelimited, Kind: KindText, Reason: "text extension"}, nil
	case ".xlsx", ".xlsm":
		return Format{Type: model.FileTypeSpreadsheet, Kind: KindXLSX, Reason: "spreadsheet extension"}, nil
	case ".xls":
		return Format{Type: model.FileTypeSpreadsheet, Kind: KindXLS, Reason: "spreadsheet extension"}, nil
	}

	return unsupported("", "no signature, extension or delimiter structure")
}

func unsupported(kind, reason string) (Format, error) {
	return Format{Type: model.FileTypeUnsupported, Kind: kind, Reason: reason}, ErrUnsupportedType
}

func isImage(data []byte) bool {
	if bytes.HasPrefix(data, sigPNG) || bytes.HasPrefix(data, sigJPEG) || bytes.HasPrefix(data, sigGIF) {
		return true
	}
	for _, sig := range sigTIFF {
		if bytes.HasPrefix(data, sig) {
			return true
		}
	}
	// BMP: "BM" followed by a size and four reserved zero bytes.
	if len(data) >= 14 && data[0] == 'B' && data[1] == 'M' {
		return data[6] == 0 && data[7] == 0 && data[8] == 0 && data[9] == 0
	}
	return false
}

// sampleDelimiter accepts a delimiter that occurs at least twice on at least
// two of the sampled lines.
func sampleDelimiter(data []byte) (rune, bool) {
	sample := data
	if len(sample) > sampleBytes {
		sample = sample[:sampleBytes]
	}
	if bytes.IndexByte(sample, 0) >= 0 {
		return 0, false
	}
	lines := SampleLines(sample, sampleLines)
	best := rune(0)
	bestLines := 0
	for _, d := range delimiters {
		hits := 0
		for _, line := range lines {
			if strings.Count(line, string(d)) >= 2 {
				hits++
			}
		}
		if hits >= 2 && hits > bestLines {
			best, bestLines = d, hits
		}
	}
	return best, best != 0
}

// SampleLines returns up to max non-empty lines with the BOM stripped and any
// line ending style normalized.
func SampleLines(data []byte, max int) []string {
	text := strings.TrimPrefix(string(data), "\uFEFF")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) >= max {
			break
		}
	}
	return lines
}

// DetectDelimiter picks the candidate whose per-line count is most consistent
// across the sampled lines: the lowest variance-to-mean ratio, weighted by the
// mean count. Quoted sections are ignored. Defaults to a comma.
func DetectDelimiter(lines []string) rune {
	best := ','
	bestScore := 0.0
	for _, d := range delimiters {
		counts := make([]float64, 0, len(lines))
		for _, line := range lines {
			counts = append(counts, float64(countUnquoted(line, d)))
		}
		score := consistency(counts)
		if score > bestScore {
			best, bestScore = d, score
		}
	}
	return best
}

func consistency(counts []float64) float64 {
	if len(counts) == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range counts {
		sum += c
	}
	mean := sum / float64(len(counts))
	if mean == 0 {
		return 0
	}
	variance := 0.0
	for _, c := range counts {
		variance += (c - mean) * (c - mean)
	}
	variance /= float64(len(counts))
	return mean / (1 + variance/mean)
}

func countUnquoted(line string, d rune) int {
	count := 0
	inQuotes := false
	for _, r := range line {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case r == d && !inQuotes:
			count++
		}
	}
	return count
}

// Fingerprint creates a stable hash from header names so repeat exports from
// the same source can be recognised.
func Fingerprint(headers []string) string {
	var normalized []string
	for _, h := range headers {
		clean := strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				return unicode.ToLower(r)
			}
			return -1
		}, h)
		if clean != "" {
			normalized = append(normalized, clean)
		}
	}

	joined := strings.Join(normalized, "|")
	hash := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(hash[:])
}
