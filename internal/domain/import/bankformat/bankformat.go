// Package bankformat recognises known statement exports. The result is
// informational and never changes how a file is processed.
package bankformat

import (
	"strings"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/catalog"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/model"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/normalizer"
)

const (
	filenamePoints    = 30
	headerPoints      = 25
	descriptionPoints = 10
	minScore          = 25
	sampleRows        = 5
)

// Match is a scored template.
type Match struct {
	Bank    string   `json:"bank"`
	Score   int      `json:"score"`
	Reasons []string `json:"reasons,omitempty"`
}

// Detector scores the catalogue's templates.
type Detector struct {
	templates []catalog.BankTemplate
}

func NewDetector(cat *catalog.Catalog) *Detector {
	return &Detector{templates: cat.BankTemplates()}
}

// Detect returns the best template scoring at least 25 points. Header patterns
// are looked up in the header row and the first sample rows.
func (d *Detector) Detect(filename string, grid *model.RawGrid, layout *model.Layout) (Match, bool) {
	name := normalizer.Fold(filename)
	cells := headerCells(grid, layout)

	var best Match
	for _, tpl := range d.templates {
		m := Match{Bank: tpl.Name}
		for _, p := range tpl.FilenamePatterns {
			if strings.Contains(name, normalizer.Fold(p)) {
				m.Score += filenamePoints
				m.Reasons = append(m.Reasons, "filename:"+p)
				break
			}
		}
		for _, p := range tpl.HeaderPatterns {
			if cells[normalizer.Fold(p)] {
				m.Score += headerPoints
				m.Reasons = append(m.Reasons, "header:"+p)
			}
		}
		for _, p := range tpl.DescriptionHeaders {
			if cells[normalizer.Fold(p)] {
				m.Score += descriptionPoints
				m.Reasons = append(m.Reasons, "description:"+p)
			}
		}
		if m.Score > best.Score {
			best = m
		}
	}

	if best.Score < minScore {
		return Match{}, false
	}
	return best, true
}

func headerCells(grid *model.RawGrid, layout *model.Layout) map[string]bool {
	cells := make(map[string]bool)
	add := func(v string) {
		if v = strings.TrimSpace(normalizer.Fold(v)); v != "" {
			cells[v] = true
		}
	}
	if layout != nil {
		for _, h := range layout.Headers {
			add(h)
		}
	}
	for r := 0; r < min(sampleRows, grid.RowCount()); r++ {
		for c := range grid.Rows[r] {
			add(grid.Cell(r, c))
		}
	}
	return cells
}
