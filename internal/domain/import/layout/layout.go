// Package layout infers where a statement's header is and which column holds
// which semantic role. Header keywords are tried first; columns they leave
// unassigned are classified from their values.
package layout

import (
	"errors"
	"sort"
	"strings"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/catalog"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/model"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/normalizer"
)

var ErrEmptyGrid = errors.New("grid has no rows")

const (
	headerScanRows    = 5
	sampleRows        = 50
	minRoleScore      = 0.6
	minTextScore      = 0.3
	headerTextRatio   = 0.6
	headerKeywordHits = 2
	bareTextRatio     = 0.8
	bareTextCells     = 3
)

// Confidence weights per role.
const (
	weightDate        = 25
	weightDescription = 25
	weightAmount      = 30
	weightHalfPair    = 15
	weightBalance     = 10
	weightReference   = 5
	weightCategory    = 5
)

// Detector is stateless after construction and safe for concurrent use.
type Detector struct {
	keywords map[model.Role][]string
	all      []string
	dates    *normalizer.DateParser
}

// NewDetector builds a detector from the catalogue's header keywords.
func NewDetector(cat *catalog.Catalog) *Detector {
	keywords := make(map[model.Role][]string, len(model.Roles))
	for _, role := range model.Roles {
		keywords[role] = cat.HeaderKeywords(role)
	}
	return &Detector{
		keywords: keywords,
		all:      cat.AllHeaderKeywords(),
		dates:    normalizer.NewDateParser(cat, false),
	}
}

// Detect finds the header row and assigns roles to columns.
func (d *Detector) Detect(grid *model.RawGrid) (*model.Layout, error) {
	if grid.RowCount() == 0 {
		return nil, ErrEmptyGrid
	}

	layout := &model.Layout{HeaderRow: -1, Columns: make(map[model.Role]int)}
	if idx := d.findHeader(grid); idx >= 0 {
		layout.HeaderRow = idx
		layout.DataStart = idx + 1
		layout.Headers = append([]string(nil), grid.Rows[idx]...)
		d.assignByHeader(layout)
	}

	d.assignByContent(grid, layout)
	resolveAmountRoles(layout)
	layout.Confidence = Confidence(layout)
	return layout, nil
}

// findHeader returns the first of the leading rows that reads like a header,
// or -1. Keyword-backed rows win over rows that are merely textual.
func (d *Detector) findHeader(grid *model.RawGrid) int {
	limit := min(headerScanRows, grid.RowCount())
	bare := -1
	for i := 0; i < limit; i++ {
		nonEmpty, text, hits := 0, 0, 0
		for c := range grid.Rows[i] {
			cell := grid.Cell(i, c)
			if cell == "" {
				continue
			}
			nonEmpty++
			if d.isText(cell) {
				text++
			}
			if containsAny(normalizer.Fold(cell), d.all) {
				hits++
			}
		}
		if nonEmpty == 0 {
			continue
		}
		ratio := float64(text) / float64(nonEmpty)
		if ratio >= headerTextRatio && hits >= headerKeywordHits {
			return i
		}
		if bare < 0 && ratio >= bareTextRatio && nonEmpty >= bareTextCells {
			bare = i
		}
	}
	return bare
}

// assignByHeader maps columns whose header contains a role keyword. Roles are
// tried in declaration order and an assigned role is never overwritten.
func (d *Detector) assignByHeader(layout *model.Layout) {
	assigned := make(map[int]bool)
	// Exact header matches first so "Amount" is not stolen by a longer header.
	for _, exact := range []bool{true, false} {
		for col, header := range layout.Headers {
			if assigned[col] {
				continue
			}
			h := normalizer.Fold(strings.TrimSpace(header))
			if h == "" {
				continue
			}
			for _, role := range model.Roles {
				if _, taken := layout.Columns[role]; taken {
					continue
				}
				if matchesRole(h, d.keywords[role], exact) {
					layout.Columns[role] = col
					assigned[col] = true
					break
				}
			}
		}
	}
}

func matchesRole(header string, keywords []string, exact bool) bool {
	for _, kw := range keywords {
		if exact && header == kw {
			return true
		}
		if !exact && strings.Contains(header, kw) {
			return true
		}
	}
	return false
}

// assignByContent scores every still-unassigned column.
func (d *Detector) assignByContent(grid *model.RawGrid, layout *model.Layout) {
	taken := make(map[int]bool, len(layout.Columns))
	for _, col := range layout.Columns {
		taken[col] = true
	}

	var stats []ColumnStats
	for col := 0; col < grid.Width(); col++ {
		if taken[col] {
			continue
		}
		s := d.score(grid, layout.DataStart, col)
		if s.Samples > 0 {
			stats = append(stats, s)
		}
	}

	has := func(role model.Role) bool { _, ok := layout.Columns[role]; return ok }
	assign := func(role model.Role, col int) {
		layout.Columns[role] = col
		taken[col] = true
	}

	if !has(model.RoleDate) {
		best, bestScore := -1, 0.0
		for _, s := range stats {
			if s.Date >= minRoleScore && s.Date > bestScore {
				best, bestScore = s.Column, s.Date
			}
		}
		if best >= 0 {
			assign(model.RoleDate, best)
		}
	}

	// Mixed signs mean a signed amount; one-signed columns fill debit, credit
	// and balance in column order.
	for _, s := range stats {
		if taken[s.Column] || s.Numeric < minRoleScore {
			continue
		}
		switch {
		case s.Mixed && !has(model.RoleAmount) && !has(model.RoleDebit) && !has(model.RoleCredit):
			assign(model.RoleAmount, s.Column)
		case s.Mixed:
			if !has(model.RoleBalance) {
				assign(model.RoleBalance, s.Column)
			}
		case !has(model.RoleAmount) && !has(model.RoleDebit):
			assign(model.RoleDebit, s.Column)
		case !has(model.RoleAmount) && !has(model.RoleCredit):
			assign(model.RoleCredit, s.Column)
		case !has(model.RoleBalance):
			assign(model.RoleBalance, s.Column)
		}
	}

	if !has(model.RoleDescription) {
		candidates := make([]ColumnStats, 0, len(stats))
		for _, s := range stats {
			if !taken[s.Column] && s.Text >= minTextScore {
				candidates = append(candidates, s)
			}
		}
		sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Text > candidates[j].Text })
		if len(candidates) > 0 {
			assign(model.RoleDescription, candidates[0].Column)
		}
	}

	if !has(model.RoleReference) {
		for _, s := range stats {
			if !taken[s.Column] && s.Reference >= minRoleScore {
				assign(model.RoleReference, s.Column)
				break
			}
		}
	}
}

// resolveAmountRoles keeps the amount roles consistent: a debit/credit pair
// wins over a signed amount, a signed amount wins over half a pair.
func resolveAmountRoles(layout *model.Layout) {
	_, hasAmount := layout.Columns[model.RoleAmount]
	_, hasDebit := layout.Columns[model.RoleDebit]
	_, hasCredit := layout.Columns[model.RoleCredit]
	if !hasAmount || (!hasDebit && !hasCredit) {
		return
	}
	if hasDebit && hasCredit {
		delete(layout.Columns, model.RoleAmount)
		return
	}
	delete(layout.Columns, model.RoleDebit)
	delete(layout.Columns, model.RoleCredit)
}

// Confidence is the weighted sum of the roles found, capped at 100.
func Confidence(layout *model.Layout) int {
	has := func(role model.Role) bool { _, ok := layout.Column(role); return ok }

	score := 0
	if has(model.RoleDate) {
		score += weightDate
	}
	if has(model.RoleDescription) {
		score += weightDescription
	}
	switch {
	case has(model.RoleAmount), has(model.RoleDebit) && has(model.RoleCredit):
		score += weightAmount
	case has(model.RoleDebit), has(model.RoleCredit):
		score += weightHalfPair
	}
	if has(model.RoleBalance) {
		score += weightBalance
	}
	if has(model.RoleReference) {
		score += weightReference
	}
	if has(model.RoleCategory) {
		score += weightCategory
	}
	return min(score, 100)
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
