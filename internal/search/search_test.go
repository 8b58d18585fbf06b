package search

import (
	"testing"

	"github.com/studyforge/studyforge/internal/pipeline"
)

func sampleBundle() *pipeline.StudyBundle {
	return &pipeline.StudyBundle{
		Summary: &pipeline.Summary{Sections: []pipeline.SummarySection{
			{
				Title:     "Photosynthesis",
				Body:      "Plants convert light energy into chemical energy.",
				Terms:     map[string]string{"Chlorophyll": "pigment that absorbs light"},
				TermOrder: []string{"Chlorophyll"},
			},
			{
				Title: "Cell Division",
				Body:  "Mitosis splits one cell into two identical daughter cells.",
			},
		}},
	}
}

func TestIndexAndQuery(t *testing.T) {
	idx, err := NewIndex()
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	if err := idx.IndexBundle("run-1", "bio.pdf", sampleBundle()); err != nil {
		t.Fatalf("IndexBundle: %v", err)
	}

	hits, err := idx.Query("mitosis", 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if hits[0].RunID != "run-1" || hits[0].Title != "Cell Division" {
		t.Fatalf("unexpected hit %+v", hits[0])
	}
	if hits[0].Source != "bio.pdf" {
		t.Fatalf("unexpected source %q", hits[0].Source)
	}
}

func TestQueryByHighlightedTerm(t *testing.T) {
	idx, err := NewIndex()
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	if err := idx.IndexBundle("run-1", "bio.pdf", sampleBundle()); err != nil {
		t.Fatalf("IndexBundle: %v", err)
	}

	hits, err := idx.Query("chlorophyll", 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 1 || hits[0].Title != "Photosynthesis" {
		t.Fatalf("expected the photosynthesis section, got %+v", hits)
	}
}

func TestQueryNoMatches(t *testing.T) {
	idx, err := NewIndex()
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	if err := idx.IndexBundle("run-1", "bio.pdf", sampleBundle()); err != nil {
		t.Fatalf("IndexBundle: %v", err)
	}
	hits, err := idx.Query("astronomy", 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits, got %+v", hits)
	}
}

func TestIndexBundleSkipsNilSummary(t *testing.T) {
	idx, err := NewIndex()
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	if err := idx.IndexBundle("run-2", "x.pdf", &pipeline.StudyBundle{}); err != nil {
		t.Fatalf("IndexBundle: %v", err)
	}
	hits, err := idx.Query("anything", 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected empty index, got %+v", hits)
	}
}
