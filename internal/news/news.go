// Package news finds articles that plausibly explain a curiosity spike.
//
// A Searcher queries an external news service for a keyword set inside a
// date window. The Correlator extracts keywords from a signal's canonical
// question, searches, and keeps the single most relevant article.
package news

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/abelbrown/curiosity/internal/retry"
)

// Article is one search hit.
type Article struct {
	Title       string
	Description string
	Source      string
	URL         string
	PublishedAt time.Time
}

// Query is a keyword search bounded to [From, To].
type Query struct {
	Keywords []string
	From     time.Time
	To       time.Time
}

// Searcher runs one search attempt. Errors worth retrying are marked with
// retry.Retryable.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Article, error)
}

// maxQueryKeywords bounds the OR-joined query.
const maxQueryKeywords = 5

const dateLayout = "2006-01-02"

// fetch makes one rate-limited GET and returns the body.
func fetch(ctx context.Context, client *http.Client, limiter *rate.Limiter, req *http.Request, service string) ([]byte, error) {
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("news: rate limiter wait failed: %w", err)
		}
	}

	resp, err := client.Do(req.WithContext(ctx))
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("news: request cancelled: %w", ctx.Err())
		}
		var netErr net.Error
		if errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, retry.Retryable(fmt.Errorf("news: %s request failed: %w", service, err))
		}
		return nil, fmt.Errorf("news: %s request failed: %w", service, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20))
	if err != nil {
		return nil, retry.Retryable(fmt.Errorf("news: failed to read response: %w", err))
	}
	if err := retry.Status(resp, data, "news: "+service); err != nil {
		return nil, err
	}
	return data, nil
}

// inWindow reports whether t falls inside the query's inclusive day range.
// Unknown times are kept.
func (q Query) inWindow(t time.Time) bool {
	if t.IsZero() {
		return true
	}
	if !q.From.IsZero() && t.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && !t.Before(q.To.AddDate(0, 0, 1)) {
		return false
	}
	return true
}

// NewSearcher builds the searcher for a configured provider. Provider
// "none" returns a nil Searcher, which disables correlation.
func NewSearcher(provider, apiKey, endpoint string, requestsPerSecond float64) (Searcher, error) {
	var limiter *rate.Limiter
	if requestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}

	switch provider {
	case "newsapi":
		c := NewNewsAPIClient(apiKey, limiter)
		if endpoint != "" {
			c.SetEndpoint(endpoint)
		}
		return c, nil
	case "rss":
		s := NewRSSSearcher(limiter)
		if endpoint != "" {
			s.SetEndpoint(endpoint)
		}
		return s, nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("news: unknown provider %q", provider)
	}
}
