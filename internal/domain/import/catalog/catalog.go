// Package catalog loads the static reference data used by the ingestion pipeline:
// header keywords, bank templates, the category chart and tax treatment lists.
// A Catalog is built once at startup and shared read-only between imports.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/model"
)

//go:embed catalog.yaml
var defaultCatalog []byte

var (
	ErrUnknownRole     = errors.New("catalog: unknown header role")
	ErrMissingAccounts = errors.New("catalog: bank account is required")
)

// Keyword is a weighted term in the category keyword table.
type Keyword struct {
	Term   string  `yaml:"term"`
	Weight float64 `yaml:"weight"`
}

// Category is one entry of the chart of accounts used for allocation.
type Category struct {
	Name       string    `yaml:"name"`
	Account    string    `yaml:"account"`
	CreditLike bool      `yaml:"credit_like"`
	MinAmount  float64   `yaml:"min_amount"`
	MaxAmount  float64   `yaml:"max_amount"`
	Keywords   []Keyword `yaml:"keywords"`
}

// BankTemplate describes a known statement export.
type BankTemplate struct {
	Name               string   `yaml:"name"`
	FilenamePatterns   []string `yaml:"filename_patterns"`
	HeaderPatterns     []string `yaml:"header_patterns"`
	DescriptionHeaders []string `yaml:"description_headers"`
}

// Accounts holds the fixed ledger accounts used by the journal creator.
type Accounts struct {
	Bank      string `yaml:"bank"`
	TaxInput  string `yaml:"tax_input"`
	TaxOutput string `yaml:"tax_output"`
	Suspense  string `yaml:"suspense"`
}

type document struct {
	HeaderKeywords map[string][]string `yaml:"header_keywords"`
	TotalKeywords  []string            `yaml:"total_keywords"`
	Months         map[string]int      `yaml:"months"`
	NoiseTokens    []string            `yaml:"noise_tokens"`
	BankTemplates  []BankTemplate      `yaml:"bank_templates"`
	Accounts       Accounts            `yaml:"accounts"`
	Categories     []Category          `yaml:"categories"`
	CreditLike     []string            `yaml:"credit_like_categories"`
	TaxClaimable   []string            `yaml:"tax_claimable_categories"`
	TaxDenied      []string            `yaml:"tax_denied_categories"`
}

// Catalog is the immutable, validated form of the reference data.
type Catalog struct {
	headerKeywords map[model.Role][]string
	totalKeywords  []string
	months         map[string]int
	noiseTokens    []string
	templates      []BankTemplate
	accounts       Accounts
	categories     []Category
	byName         map[string]*Category
	creditLike     map[string]bool
	taxClaimable   map[string]bool
	taxDenied      map[string]bool
}

// Default parses the embedded catalogue.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// MustDefault is Default for package-level test fixtures and wiring.
func MustDefault() *Catalog {
	c, err := Default()
	if err != nil {
		panic(err)
	}
	return c
}

// Load reads a catalogue from a YAML file, falling back to the embedded one when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a Catalog from YAML bytes.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if doc.Accounts.Bank == "" {
		return nil, ErrMissingAccounts
	}

	c := &Catalog{
		headerKeywords: make(map[model.Role][]string, len(doc.HeaderKeywords)),
		totalKeywords:  lowerAll(doc.TotalKeywords),
		months:         make(map[string]int, len(doc.Months)),
		noiseTokens:    lowerAll(doc.NoiseTokens),
		templates:      doc.BankTemplates,
		accounts:       doc.Accounts,
		categories:     doc.Categories,
		byName:         make(map[string]*Category, len(doc.Categories)),
		creditLike:     toSet(doc.CreditLike),
		taxClaimable:   toSet(doc.TaxClaimable),
		taxDenied:      toSet(doc.TaxDenied),
	}

	known := make(map[model.Role]bool, len(model.Roles))
	for _, r := range model.Roles {
		known[r] = true
	}
	for role, words := range doc.HeaderKeywords {
		r := model.Role(role)
		if !known[r] {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRole, role)
		}
		c.headerKeywords[r] = lowerAll(words)
	}
	for name, month := range doc.Months {
		c.months[strings.ToLower(name)] = month
	}
	for i := range c.categories {
		cat := &c.categories[i]
		for j := range cat.Keywords {
			cat.Keywords[j].Term = strings.ToLower(cat.Keywords[j].Term)
			if cat.Keywords[j].Weight <= 0 {
				cat.Keywords[j].Weight = 1
			}
		}
		c.byName[strings.ToLower(cat.Name)] = cat
		if cat.CreditLike {
			c.creditLike[strings.ToLower(cat.Name)] = true
		}
	}

	return c, nil
}

// HeaderKeywords returns the bilingual header keywords for a role.
func (c *Catalog) HeaderKeywords(role model.Role) []string {
	return c.headerKeywords[role]
}

// AllHeaderKeywords returns every header keyword regardless of role.
func (c *Catalog) AllHeaderKeywords() []string {
	var all []string
	for _, role := range model.Roles {
		all = append(all, c.headerKeywords[role]...)
	}
	return all
}

// TotalKeywords returns the subtotal/total row markers.
func (c *Catalog) TotalKeywords() []string { return c.totalKeywords }

// Month resolves a bilingual month name or abbreviation.
func (c *Catalog) Month(name string) (int, bool) {
	m, ok := c.months[strings.ToLower(strings.TrimSuffix(name, "."))]
	return m, ok
}

// NoiseTokens returns tokens stripped before keyword scoring.
func (c *Catalog) NoiseTokens() []string { return c.noiseTokens }

// BankTemplates returns the known statement templates.
func (c *Catalog) BankTemplates() []BankTemplate { return c.templates }

// Accounts returns the fixed ledger accounts.
func (c *Catalog) Accounts() Accounts { return c.accounts }

// Categories returns the category chart in declaration order.
func (c *Catalog) Categories() []Category { return c.categories }

// Category looks up a category by name, case-insensitively.
func (c *Catalog) Category(name string) (*Category, bool) {
	cat, ok := c.byName[strings.ToLower(strings.TrimSpace(name))]
	return cat, ok
}

// AccountFor returns the ledger account for a category, or the suspense account.
func (c *Catalog) AccountFor(category string) string {
	if cat, ok := c.Category(category); ok && cat.Account != "" {
		return cat.Account
	}
	return c.accounts.Suspense
}

// IsCreditLike reports whether money in this category flows into the bank.
func (c *Catalog) IsCreditLike(category string) bool {
	return c.creditLike[strings.ToLower(strings.TrimSpace(category))]
}

// IsTaxClaimable reports whether inclusive tax is extracted for a category.
// Denied takes precedence when a category appears on both lists.
func (c *Catalog) IsTaxClaimable(category string) bool {
	key := strings.ToLower(strings.TrimSpace(category))
	return c.taxClaimable[key] && !c.taxDenied[key]
}

// IsTaxDenied reports whether a category is on the tax-denied list.
func (c *Catalog) IsTaxDenied(category string) bool {
	return c.taxDenied[strings.ToLower(strings.TrimSpace(category))]
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func toSet(in []string) map[string]bool {
	set := make(map[string]bool, len(in))
	for _, s := range lowerAll(in) {
		set[s] = true
	}
	return set
}
