package news

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/time/rate"

	"github.com/abelbrown/curiosity/internal/retry"
)

const googleNewsEndpoint = "https://news.google.com/rss/search"

// RSSSearcher searches Google News through its RSS endpoint. It needs no
// key, so it is the fallback when no NewsAPI key is configured.
type RSSSearcher struct {
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
}

// NewRSSSearcher creates a searcher.
func NewRSSSearcher(limiter *rate.Limiter) *RSSSearcher {
	return &RSSSearcher{
		endpoint: googleNewsEndpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
		limiter:  limiter,
	}
}

// SetEndpoint overrides the search URL.
func (s *RSSSearcher) SetEndpoint(endpoint string) {
	s.endpoint = endpoint
}

// Search implements Searcher. The date range goes into the query as
// after:/before: operators and is enforced again on the parsed items.
func (s *RSSSearcher) Search(ctx context.Context, q Query) ([]Article, error) {
	if len(q.Keywords) == 0 {
		return nil, nil
	}

	terms := orQuery(q.Keywords)
	if !q.From.IsZero() {
		terms += " after:" + q.From.UTC().Format(dateLayout)
	}
	if !q.To.IsZero() {
		terms += " before:" + q.To.UTC().AddDate(0, 0, 1).Format(dateLayout)
	}
	params := url.Values{}
	params.Set("q", terms)
	params.Set("hl", "en-US")
	params.Set("gl", "US")
	params.Set("ceid", "US:en")

	req, err := http.NewRequest(http.MethodGet, s.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("news: failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "curiosity/1.0")

	data, err := fetch(ctx, s.client, s.limiter, req, "rss")
	if err != nil {
		return nil, err
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(data))
	if err != nil {
		return nil, retry.Retryable(fmt.Errorf("news: failed to parse feed: %w", err))
	}

	articles := make([]Article, 0, len(feed.Items))
	for _, item := range feed.Items {
		var published time.Time
		if item.PublishedParsed != nil {
			published = *item.PublishedParsed
		} else if item.UpdatedParsed != nil {
			published = *item.UpdatedParsed
		}
		if !q.inWindow(published) {
			continue
		}
		title, source := splitSource(item.Title)
		if source == "" && item.Author != nil {
			source = item.Author.Name
		}
		articles = append(articles, Article{
			Title:       title,
			Description: item.Description,
			Source:      source,
			URL:         item.Link,
			PublishedAt: published,
		})
	}
	return articles, nil
}

// splitSource separates Google News' "Headline - Publisher" titles.
func splitSource(title string) (string, string) {
	i := strings.LastIndex(title, " - ")
	if i <= 0 {
		return title, ""
	}
	return strings.TrimSpace(title[:i]), strings.TrimSpace(title[i+3:])
}
