// Package search maintains an in-memory full-text index over the summaries
// of completed runs so a student can find which document covered a concept.
package search

import (
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve"

	"github.com/studyforge/studyforge/internal/pipeline"
)

// indexedSection is the unit stored in the index, one per summary section.
type indexedSection struct {
	RunID  string `json:"run_id"`
	Source string `json:"source"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	Terms  string `json:"terms"`
}

// Hit is one search result.
type Hit struct {
	RunID  string  `json:"run_id"`
	Source string  `json:"source"`
	Title  string  `json:"title"`
	Score  float64 `json:"score"`
}

// Index wraps a memory-only bleve index of run summaries.
type Index struct {
	mu    sync.RWMutex
	bleve bleve.Index
	meta  map[string]indexedSection
}

// NewIndex creates an empty in-memory index.
func NewIndex() (*Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return &Index{bleve: idx, meta: make(map[string]indexedSection)}, nil
}

// IndexBundle adds every summary section of a completed run.
func (i *Index) IndexBundle(runID, source string, bundle *pipeline.StudyBundle) error {
	if bundle == nil || bundle.Summary == nil {
		return nil
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	for n, section := range bundle.Summary.Sections {
		doc := indexedSection{
			RunID:  runID,
			Source: source,
			Title:  section.Title,
			Body:   section.Body,
			Terms:  strings.Join(section.TermOrder, " "),
		}
		id := fmt.Sprintf("%s:%d", runID, n)
		if err := i.bleve.Index(id, doc); err != nil {
			return err
		}
		i.meta[id] = doc
	}
	return nil
}

// Query runs a match query and returns up to limit hits.
func (i *Index) Query(q string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}
	i.mu.RLock()
	defer i.mu.RUnlock()

	req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(q), limit, 0, false)
	res, err := i.bleve.Search(req)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(res.Hits))
	for _, h := range res.Hits {
		doc, ok := i.meta[h.ID]
		if !ok {
			continue
		}
		hits = append(hits, Hit{RunID: doc.RunID, Source: doc.Source, Title: doc.Title, Score: h.Score})
	}
	return hits, nil
}
