package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/abelbrown/curiosity/internal/model"
)

const yamlInput = `
- id: t3_abc
  platform: Reddit
  text: "ELI5: what is RAG?"
  upvotes: 120
  comments: 14
  created_at: "2026-10-13T09:00:00Z"
  url: https://reddit.com/r/x/abc
- platform: hackernews
  text: "Ask HN: Is RAG dead?"
  upvotes: 40
  created_at: "2026-10-05"
- platform: quora
  text: What does retrieval augmented generation mean?
`

const jsonInput = `{"questions": [
  {"id": "1", "platform": "stackexchange", "text": "How do I chunk documents for RAG?", "upvotes": 5, "comments": 2, "views": 900, "created_at": "2026-10-14 08:30:00"}
]}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadFileYAML(t *testing.T) {
	qs, err := LoadFile(writeFile(t, "questions.yaml", yamlInput))
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if len(qs) != 3 {
		t.Fatalf("got %d questions, want 3", len(qs))
	}

	q := qs[0]
	if q.ExternalID != "t3_abc" || q.Platform != model.PlatformReddit || q.RawText != "ELI5: what is RAG?" {
		t.Errorf("unexpected first question %+v", q)
	}
	if q.Upvotes != 120 || q.Comments != 14 || q.Engagement() != 134 {
		t.Errorf("engagement not loaded: %+v", q)
	}
	if !q.CreatedAt.Equal(time.Date(2026, 10, 13, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("CreatedAt = %v", q.CreatedAt)
	}
	if q.Status != model.StatusPending || q.IngestedAt.IsZero() {
		t.Errorf("status/ingested not set: %+v", q)
	}

	if qs[1].ExternalID == "" {
		t.Error("missing id should be generated")
	}
	if !qs[2].CreatedAt.IsZero() {
		t.Errorf("missing created_at should stay zero, got %v", qs[2].CreatedAt)
	}
}

func TestLoadFileJSONEnvelope(t *testing.T) {
	qs, err := LoadFile(writeFile(t, "questions.json", jsonInput))
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if len(qs) != 1 {
		t.Fatalf("got %d questions, want 1", len(qs))
	}
	if qs[0].Platform != model.PlatformStackExchange || qs[0].Views != 900 {
		t.Errorf("unexpected question %+v", qs[0])
	}
	if !qs[0].CreatedAt.Equal(time.Date(2026, 10, 14, 8, 30, 0, 0, time.UTC)) {
		t.Errorf("CreatedAt = %v", qs[0].CreatedAt)
	}
}

func TestParseInvalidRecords(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"missing platform", `[{"text": "What is RAG?"}]`},
		{"missing text", `[{"platform": "reddit", "text": "  "}]`},
		{"negative comments", `[{"platform": "reddit", "text": "What?", "comments": -3}]`},
		{"bad time", `[{"platform": "reddit", "text": "What?", "created_at": "last tuesday"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.input)); !errors.Is(err, ErrInvalidRecord) {
				t.Errorf("Parse() error = %v, want ErrInvalidRecord", err)
			}
		})
	}

	if _, err := Parse([]byte("just a string")); err == nil {
		t.Error("non-list input should fail")
	}
}

func TestParseDownvotedRecord(t *testing.T) {
	qs, err := Parse([]byte(`[{"platform": "reddit", "text": "Why is this so unpopular?", "upvotes": -12, "comments": 4}]`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(qs) != 1 || qs[0].Upvotes != -12 {
		t.Fatalf("got %+v, want one question with upvotes -12", qs)
	}
	if qs[0].Engagement() != 0 {
		t.Errorf("Engagement() = %d, want 0", qs[0].Engagement())
	}
}

func TestGeneratedIDStable(t *testing.T) {
	a := generateID("quora", "", "What is RAG?")
	b := generateID("quora", "", "What is RAG?")
	c := generateID("reddit", "", "What is RAG?")
	if a != b {
		t.Error("same input should give same id")
	}
	if a == c {
		t.Error("platform should change the id")
	}
	if len(a) != 16 {
		t.Errorf("id length = %d, want 16", len(a))
	}
}

func TestFileSourceIngestSince(t *testing.T) {
	src := NewFileSource(writeFile(t, "questions.yaml", yamlInput))
	since := time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)

	qs, err := src.Ingest(context.Background(), since)
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	// The 2026-10-05 question is older than since; the undated one is kept.
	if len(qs) != 2 {
		t.Fatalf("got %d questions, want 2", len(qs))
	}
	if qs[0].ExternalID != "t3_abc" || qs[1].Platform != model.PlatformQuora {
		t.Errorf("unexpected questions %+v", qs)
	}
}

func TestFileSourceCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewFileSource("unused.yaml").Ingest(ctx, time.Time{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Ingest error = %v, want context.Canceled", err)
	}
}

func TestCollect(t *testing.T) {
	good := NewFileSource(writeFile(t, "a.yaml", yamlInput))
	other := NewFileSource(writeFile(t, "b.json", jsonInput))
	missing := NewFileSource(filepath.Join(t.TempDir(), "missing.yaml"))

	qs, err := Collect(context.Background(), time.Time{}, good, missing, other)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(qs) != 4 {
		t.Fatalf("got %d questions, want 4", len(qs))
	}
	if qs[3].Platform != model.PlatformStackExchange {
		t.Errorf("results should keep source order, last = %+v", qs[3])
	}

	if _, err := Collect(context.Background(), time.Time{}, missing); err == nil {
		t.Error("Collect should fail when every source fails")
	}
}
