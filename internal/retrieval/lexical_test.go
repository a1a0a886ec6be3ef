package retrieval

import (
	"testing"

	"github.com/xxxsen/recall/internal/model"
)

func lexChunk(id, title, content string) model.NoteChunk {
	return model.NoteChunk{ID: id, NoteID: "note-" + id, UserID: "u1", Title: title, Content: content}
}

func TestSearchLexicalExactIdentifier(t *testing.T) {
	corpus := []model.NoteChunk{
		lexChunk("1", "Billing", "paid invoice-4471 to the vendor last week"),
		lexChunk("2", "Billing", "general notes on invoice processing and approvals"),
		lexChunk("3", "Travel", "flights and hotels for the conference"),
	}
	results := searchLexical(corpus, "invoice-4471", 1.2, 0.75, 10)
	if len(results) == 0 {
		t.Fatal("no results for exact identifier")
	}
	if results[0].Chunk.ID != "1" {
		t.Errorf("top result = %s, want 1", results[0].Chunk.ID)
	}
	for _, r := range results {
		if r.Chunk.ID == "3" {
			t.Errorf("unrelated chunk 3 should not match")
		}
	}
}

func TestSearchLexicalTitleContributes(t *testing.T) {
	corpus := []model.NoteChunk{
		lexChunk("1", "Kubernetes upgrade runbook", "step one drain the node"),
		lexChunk("2", "Groceries", "milk eggs bread"),
	}
	results := searchLexical(corpus, "kubernetes runbook", 1.2, 0.75, 10)
	if len(results) != 1 {
		t.Fatalf("results len = %d, want 1", len(results))
	}
	if results[0].Chunk.ID != "1" {
		t.Errorf("top result = %s, want 1", results[0].Chunk.ID)
	}
}

func TestSearchLexicalNoMatchesReturnsEmpty(t *testing.T) {
	corpus := []model.NoteChunk{
		lexChunk("1", "Billing", "paid the vendor"),
	}
	results := searchLexical(corpus, "zzzzzz", 1.2, 0.75, 10)
	if len(results) != 0 {
		t.Errorf("results len = %d, want 0", len(results))
	}
}

func TestSearchLexicalEmptyInputs(t *testing.T) {
	if got := searchLexical(nil, "query", 1.2, 0.75, 10); len(got) != 0 {
		t.Errorf("empty corpus should return nothing")
	}
	corpus := []model.NoteChunk{lexChunk("1", "t", "c")}
	if got := searchLexical(corpus, "   ", 1.2, 0.75, 10); len(got) != 0 {
		t.Errorf("empty query should return nothing")
	}
	if got := searchLexical(corpus, "c", 1.2, 0.75, 0); len(got) != 0 {
		t.Errorf("topN 0 should return nothing")
	}
}

func TestSearchLexicalCapsAtTopN(t *testing.T) {
	corpus := make([]model.NoteChunk, 0, 10)
	for i := 0; i < 10; i++ {
		corpus = append(corpus, lexChunk(string(rune('a'+i)), "note", "shared term payload"))
	}
	results := searchLexical(corpus, "payload", 1.2, 0.75, 3)
	if len(results) != 3 {
		t.Fatalf("results len = %d, want 3", len(results))
	}
	// equal scores fall back to id order
	if results[0].Chunk.ID != "a" || results[1].Chunk.ID != "b" || results[2].Chunk.ID != "c" {
		t.Errorf("tie order = %s %s %s", results[0].Chunk.ID, results[1].Chunk.ID, results[2].Chunk.ID)
	}
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"keeps hyphenated ids", "paid Invoice-4471 today", []string{"paid", "invoice-4471", "today"}},
		{"splits punctuation", "hello, world! (really)", []string{"hello", "world", "really"}},
		{"trims stray hyphens", "- leading and trailing -", []string{"leading", "and", "trailing"}},
		{"empty", "  ...  ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tokenize(tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("tokenize(%q) = %v, want %v", tt.input, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("tokenize(%q)[%d] = %q, want %q", tt.input, i, got[i], tt.want[i])
				}
			}
		})
	}
}
