package news

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

const testFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>search results</title>
  <item>
    <title>Anthropic releases new Claude model - Reuters</title>
    <link>https://example.com/claude</link>
    <description>The lab announced a new model on Tuesday.</description>
    <pubDate>Tue, 13 Oct 2026 10:00:00 GMT</pubDate>
  </item>
  <item>
    <title>Old Claude story - Archive</title>
    <link>https://example.com/old</link>
    <pubDate>Mon, 01 Jun 2026 10:00:00 GMT</pubDate>
  </item>
  <item>
    <title>Undated Claude piece</title>
    <link>https://example.com/undated</link>
  </item>
</channel>
</rss>`

func TestRSSSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		if !strings.Contains(q, `"Claude"`) || !strings.Contains(q, "after:2026-10-05") || !strings.Contains(q, "before:2026-10-20") {
			t.Errorf("q = %q", q)
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(testFeed))
	}))
	defer server.Close()

	s := NewRSSSearcher(rate.NewLimiter(rate.Inf, 1))
	s.SetEndpoint(server.URL)

	articles, err := s.Search(context.Background(), Query{
		Keywords: []string{"Claude"},
		From:     time.Date(2026, 10, 5, 0, 0, 0, 0, time.UTC),
		To:       time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(articles) != 2 {
		t.Fatalf("got %d articles, want 2 (out-of-window item dropped): %+v", len(articles), articles)
	}
	if articles[0].Title != "Anthropic releases new Claude model" || articles[0].Source != "Reuters" {
		t.Errorf("unexpected first article %+v", articles[0])
	}
	if articles[1].URL != "https://example.com/undated" || !articles[1].PublishedAt.IsZero() {
		t.Errorf("undated item should be kept with zero time: %+v", articles[1])
	}
}

func TestRSSSearchServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	s := NewRSSSearcher(rate.NewLimiter(rate.Inf, 1))
	s.SetEndpoint(server.URL)
	if _, err := s.Search(context.Background(), Query{Keywords: []string{"Claude"}}); err == nil {
		t.Error("expected error on 503")
	}
}

func TestSplitSource(t *testing.T) {
	tests := []struct {
		in, title, source string
	}{
		{"Big news - The Verge", "Big news", "The Verge"},
		{"A - B - Wired", "A - B", "Wired"},
		{"No publisher", "No publisher", ""},
	}
	for _, tt := range tests {
		title, source := splitSource(tt.in)
		if title != tt.title || source != tt.source {
			t.Errorf("splitSource(%q) = %q, %q", tt.in, title, source)
		}
	}
}
