package news

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/abelbrown/curiosity/internal/retry"
)

const newsAPIEndpoint = "https://newsapi.org/v2/everything"

// NewsAPIClient searches newsapi.org.
type NewsAPIClient struct {
	apiKey   string
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
}

// NewNewsAPIClient creates a client. A nil limiter disables client-side
// rate limiting.
func NewNewsAPIClient(apiKey string, limiter *rate.Limiter) *NewsAPIClient {
	return &NewsAPIClient{
		apiKey:   apiKey,
		endpoint: newsAPIEndpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
		limiter:  limiter,
	}
}

// SetEndpoint overrides the search URL (for tests and proxies).
func (c *NewsAPIClient) SetEndpoint(endpoint string) {
	c.endpoint = endpoint
}

type newsAPIResponse struct {
	Status   string `json:"status"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Articles []struct {
		Source struct {
			Name string `json:"name"`
		} `json:"source"`
		Title       string `json:"title"`
		Description string `json:"description"`
		URL         string `json:"url"`
		PublishedAt string `json:"publishedAt"`
	} `json:"articles"`
}

// Search implements Searcher.
func (c *NewsAPIClient) Search(ctx context.Context, q Query) ([]Article, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("news: newsapi key not set")
	}
	if len(q.Keywords) == 0 {
		return nil, nil
	}

	params := url.Values{}
	params.Set("q", orQuery(q.Keywords))
	if !q.From.IsZero() {
		params.Set("from", q.From.UTC().Format(dateLayout))
	}
	if !q.To.IsZero() {
		params.Set("to", q.To.UTC().Format(dateLayout))
	}
	params.Set("sortBy", "relevancy")
	params.Set("pageSize", "10")
	params.Set("language", "en")

	req, err := http.NewRequest(http.MethodGet, c.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("news: failed to create request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	data, err := fetch(ctx, c.client, c.limiter, req, "newsapi")
	if err != nil {
		return nil, err
	}

	var result newsAPIResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, retry.Retryable(fmt.Errorf("news: failed to parse newsapi response: %w", err))
	}
	if result.Status == "error" {
		err := fmt.Errorf("news: newsapi error %s: %s", result.Code, result.Message)
		if result.Code == "rateLimited" {
			return nil, retry.Retryable(err)
		}
		return nil, err
	}

	articles := make([]Article, 0, len(result.Articles))
	for _, a := range result.Articles {
		published, _ := time.Parse(time.RFC3339, a.PublishedAt)
		articles = append(articles, Article{
			Title:       a.Title,
			Description: a.Description,
			Source:      a.Source.Name,
			URL:         a.URL,
			PublishedAt: published,
		})
	}
	return articles, nil
}

// orQuery joins up to maxQueryKeywords quoted keywords with OR.
func orQuery(keywords []string) string {
	if len(keywords) > maxQueryKeywords {
		keywords = keywords[:maxQueryKeywords]
	}
	quoted := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ReplaceAll(kw, `"`, "")
		quoted = append(quoted, `"`+kw+`"`)
	}
	return strings.Join(quoted, " OR ")
}
