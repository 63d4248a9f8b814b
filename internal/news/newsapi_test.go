package news

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/abelbrown/curiosity/internal/retry"
)

func newTestNewsAPI(url string) *NewsAPIClient {
	c := NewNewsAPIClient("test-key", rate.NewLimiter(rate.Inf, 1))
	c.SetEndpoint(url)
	return c
}

func TestNewsAPISearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "test-key" {
			t.Errorf("X-Api-Key = %q", r.Header.Get("X-Api-Key"))
		}
		q := r.URL.Query()
		if got := q.Get("q"); got != `"OpenAI" OR "Sora"` {
			t.Errorf("q = %q", got)
		}
		if q.Get("from") != "2026-10-05" || q.Get("to") != "2026-10-19" {
			t.Errorf("from/to = %q/%q", q.Get("from"), q.Get("to"))
		}
		if q.Get("sortBy") != "relevancy" || q.Get("pageSize") != "10" || q.Get("language") != "en" {
			t.Errorf("unexpected params: %v", q)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","totalResults":1,"articles":[
			{"source":{"id":null,"name":"The Verge"},"title":"OpenAI ships Sora","description":"Video model","url":"https://example.com/sora","publishedAt":"2026-10-13T09:30:00Z"}
		]}`))
	}))
	defer server.Close()

	c := newTestNewsAPI(server.URL)
	articles, err := c.Search(context.Background(), Query{
		Keywords: []string{"OpenAI", "Sora"},
		From:     time.Date(2026, 10, 5, 0, 0, 0, 0, time.UTC),
		To:       time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(articles) != 1 {
		t.Fatalf("got %d articles, want 1", len(articles))
	}
	a := articles[0]
	if a.Title != "OpenAI ships Sora" || a.Source != "The Verge" || a.URL != "https://example.com/sora" {
		t.Errorf("unexpected article %+v", a)
	}
	if !a.PublishedAt.Equal(time.Date(2026, 10, 13, 9, 30, 0, 0, time.UTC)) {
		t.Errorf("PublishedAt = %v", a.PublishedAt)
	}
}

func TestNewsAPISearchErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retryable bool
	}{
		{"rate limited", http.StatusTooManyRequests, `{"status":"error","code":"rateLimited"}`, true},
		{"server error", http.StatusBadGateway, `bad gateway`, true},
		{"bad key", http.StatusUnauthorized, `{"status":"error","code":"apiKeyInvalid"}`, false},
		{"error body with ok status", http.StatusOK, `{"status":"error","code":"parameterInvalid","message":"bad q"}`, false},
		{"malformed body", http.StatusOK, `{"status":`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := newTestNewsAPI(server.URL).Search(context.Background(), Query{Keywords: []string{"Claude"}})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := retry.IsRetryable(err); got != tt.retryable {
				t.Errorf("IsRetryable(%v) = %v, want %v", err, got, tt.retryable)
			}
		})
	}
}

func TestNewsAPIRequiresKey(t *testing.T) {
	c := NewNewsAPIClient("", nil)
	if _, err := c.Search(context.Background(), Query{Keywords: []string{"Claude"}}); err == nil {
		t.Error("expected error without API key")
	}
}

func TestOrQuery(t *testing.T) {
	got := orQuery([]string{"a", `b"c`, "d", "e", "f", "g"})
	want := `"a" OR "bc" OR "d" OR "e" OR "f"`
	if got != want {
		t.Errorf("orQuery() = %q, want %q", got, want)
	}
}

func TestNewSearcher(t *testing.T) {
	if s, err := NewSearcher("none", "", "", 1); err != nil || s != nil {
		t.Errorf("none: got %v, %v", s, err)
	}
	if s, err := NewSearcher("newsapi", "k", "", 1); err != nil || s == nil {
		t.Errorf("newsapi: got %v, %v", s, err)
	}
	if s, err := NewSearcher("rss", "", "http://localhost/rss", 0); err != nil || s == nil {
		t.Errorf("rss: got %v, %v", s, err)
	}
	if _, err := NewSearcher("bing", "", "", 1); err == nil {
		t.Error("unknown provider should fail")
	}
}
