package search

import (
	"testing"
)

func sampleDocs() []Doc {
	return []Doc{
		{ID: "go-conc", Text: "Concurrency Patterns in Go\nGoroutines, channels and sync primitives\ngo concurrency"},
		{ID: "sql-basics", Text: "SQL Basics\nSelect, join and aggregate queries for beginners\nsql database"},
		{ID: "go-testing", Text: "Testing Go Services\nTable tests and fakes for http handlers\ngo testing"},
	}
}

func TestNewIndex_SkipsEmptyDocs(t *testing.T) {
	idx := NewIndex([]Doc{
		{ID: "", Text: "orphan text"},
		{ID: "blank", Text: "   "},
		{ID: "ok", Text: "usable document"},
	})
	res := idx.TopK("usable document", 5)
	if len(res) != 1 || res[0].ID != "ok" {
		t.Fatalf("expected only the usable doc, got %+v", res)
	}
}

func TestTopK_RanksByOverlap(t *testing.T) {
	idx := NewIndex(sampleDocs())

	res := idx.TopK("go concurrency channels", 3)
	if len(res) == 0 {
		t.Fatalf("expected results")
	}
	if res[0].ID != "go-conc" {
		t.Fatalf("expected go-conc first, got %s", res[0].ID)
	}
	for i := 1; i < len(res); i++ {
		if res[i].Score > res[i-1].Score {
			t.Fatalf("results not sorted by score: %+v", res)
		}
	}
}

func TestTopK_NoMatchReturnsNil(t *testing.T) {
	idx := NewIndex(sampleDocs())
	if res := idx.TopK("astrophysics", 3); res != nil {
		t.Fatalf("expected nil for no overlap, got %+v", res)
	}
	if res := idx.TopK("   ", 3); res != nil {
		t.Fatalf("expected nil for blank query, got %+v", res)
	}
}

func TestTopK_CapsAtK(t *testing.T) {
	idx := NewIndex(sampleDocs())
	res := idx.TopK("go", 1)
	if len(res) != 1 {
		t.Fatalf("expected 1 result, got %d", len(res))
	}
}

func TestTopK_DeterministicTieBreak(t *testing.T) {
	idx := NewIndex([]Doc{
		{ID: "b", Text: "identical tokens here"},
		{ID: "a", Text: "identical tokens here"},
	})
	res := idx.TopK("identical tokens", 2)
	if len(res) != 2 || res[0].ID != "a" || res[1].ID != "b" {
		t.Fatalf("tie break should order by id: %+v", res)
	}
}

func TestWithStopwords(t *testing.T) {
	idx := NewIndex(sampleDocs(), WithStopwords([]string{"go", "and", "for"}))
	res := idx.TopK("go", 5)
	if res != nil {
		t.Fatalf("stopword-only query should return nil, got %+v", res)
	}
}

func TestWithMaxDocs(t *testing.T) {
	idx := NewIndex(sampleDocs(), WithMaxDocs(1))
	if res := idx.TopK("testing services", 5); res != nil {
		t.Fatalf("doc beyond cap should not be indexed, got %+v", res)
	}
	if res := idx.TopK("concurrency", 5); len(res) != 1 {
		t.Fatalf("first doc should be indexed, got %+v", res)
	}
}

func TestTopK_DefaultK(t *testing.T) {
	idx := NewIndex(sampleDocs())
	res := idx.TopK("go sql testing concurrency", 0)
	if len(res) == 0 {
		t.Fatalf("k<=0 should fall back to a default, got none")
	}
}
