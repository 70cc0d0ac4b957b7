package categorization

import (
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/simple"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/catalog"
)

// SearchDocument is one category in the suggestion index
type SearchDocument struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Keywords   string `json:"keywords"`
	CreditLike bool   `json:"credit_like"`
	Type       string `json:"type"`
}

// Suggester proposes alternative categories for descriptions the cascade
// could not place, using an in-memory Bleve index over the category chart.
type Suggester struct {
	index   bleve.Index
	indexMu sync.RWMutex
}

// NewSuggester indexes every catalogue category
func NewSuggester(cat *catalog.Catalog) (*Suggester, error) {
	index, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	batch := index.NewBatch()
	for _, c := range cat.Categories() {
		terms := make([]string, 0, len(c.Keywords))
		for _, kw := range c.Keywords {
			terms = append(terms, kw.Term)
		}
		doc := SearchDocument{
			ID:         strings.ToLower(c.Name),
			Name:       c.Name,
			Keywords:   strings.Join(terms, " "),
			CreditLike: c.CreditLike,
			Type:       "category",
		}
		if err := batch.Index(doc.ID, doc); err != nil {
			return nil, fmt.Errorf("failed to index category %s: %w", c.Name, err)
		}
	}
	if err := index.Batch(batch); err != nil {
		return nil, fmt.Errorf("failed to execute batch index: %w", err)
	}

	return &Suggester{index: index}, nil
}

// buildIndexMapping analyses names and keywords as plain words
func buildIndexMapping() mapping.IndexMapping {
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = simple.Name

	keywordFieldMapping := bleve.NewTextFieldMapping()
	keywordFieldMapping.Analyzer = keyword.Name

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("name", textFieldMapping)
	docMapping.AddFieldMappingsAt("keywords", textFieldMapping)
	docMapping.AddFieldMappingsAt("type", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("credit_like", bleve.NewBooleanFieldMapping())

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = simple.Name
	return indexMapping
}

// Suggest returns up to limit category names for the text, best first.
// Typos of one edit are tolerated.
func (s *Suggester) Suggest(text string, limit int) ([]string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = maxAlternatives
	}

	s.indexMu.RLock()
	defer s.indexMu.RUnlock()

	nameQuery := bleve.NewMatchQuery(text)
	nameQuery.SetField("name")
	nameQuery.SetFuzziness(1)

	keywordQuery := bleve.NewMatchQuery(text)
	keywordQuery.SetField("keywords")
	keywordQuery.SetFuzziness(1)

	req := bleve.NewSearchRequest(bleve.NewDisjunctionQuery(nameQuery, keywordQuery))
	req.Size = limit
	req.Fields = []string{"name"}

	res, err := s.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	out := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		if name, ok := hit.Fields["name"].(string); ok {
			out = append(out, name)
		}
	}
	return out, nil
}

// DocumentCount returns the number of indexed categories
func (s *Suggester) DocumentCount() (uint64, error) {
	s.indexMu.RLock()
	defer s.indexMu.RUnlock()
	return s.index.DocCount()
}

// Close closes the index
func (s *Suggester) Close() error {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	if s.index != nil {
		return s.index.Close()
	}
	return nil
}
