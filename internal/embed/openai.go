package embed

import (
	"context"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// OpenAIEmbedder generates embeddings via the OpenAI embeddings API.
type OpenAIEmbedder struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
}

type openAIEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []indexed `json:"data"`
}

// NewOpenAIEmbedder creates an OpenAIEmbedder. An empty model selects
// text-embedding-3-small.
func NewOpenAIEmbedder(apiKey, model string) *OpenAIEmbedder {
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &OpenAIEmbedder{
		apiKey:   apiKey,
		model:    model,
		endpoint: "https://api.openai.com/v1/embeddings",
		client:   &http.Client{Timeout: 60 * time.Second},
		limiter:  rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
	}
}

// SetLimiter replaces the client-side rate limiter.
func (e *OpenAIEmbedder) SetLimiter(l *rate.Limiter) { e.limiter = l }

// SetEndpoint accepts either a full embeddings URL or an API base.
func (e *OpenAIEmbedder) SetEndpoint(url string) {
	if url == "" {
		return
	}
	url = strings.TrimRight(url, "/")
	if !strings.HasSuffix(url, "/embeddings") {
		url += "/v1/embeddings"
	}
	e.endpoint = url
}

// Available returns true if an API key is configured.
func (e *OpenAIEmbedder) Available() bool {
	return e.apiKey != ""
}

// Embed generates a vector embedding for one text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return first(vecs, "openai")
}

// EmbedBatch embeds texts in one request.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	data, err := postJSON(ctx, e.client, e.limiter, e.endpoint, e.apiKey, "openai", openAIEmbedRequest{
		Model: e.model,
		Input: texts,
	})
	if err != nil {
		return nil, err
	}

	var resp openAIEmbedResponse
	if err := decode(data, &resp); err != nil {
		return nil, err
	}
	return placeByIndex(len(texts), resp.Data), nil
}
