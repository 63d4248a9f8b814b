package embed

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// JinaEmbedder generates embeddings via the Jina AI API.
type JinaEmbedder struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
}

type jinaEmbedRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Task       string   `json:"task"`
	Dimensions int      `json:"dimensions"`
	Truncate   bool     `json:"truncate"`
}

type jinaEmbedResponse struct {
	Data []indexed `json:"data"`
}

// jinaTask is symmetric: questions are compared with each other, not
// with documents.
const jinaTask = "text-matching"

// NewJinaEmbedder creates a new JinaEmbedder with the given API key and model.
func NewJinaEmbedder(apiKey, model string) *JinaEmbedder {
	if model == "" {
		model = "jina-embeddings-v3"
	}
	return &JinaEmbedder{
		apiKey:   apiKey,
		model:    model,
		endpoint: "https://api.jina.ai/v1/embeddings",
		client:   &http.Client{Timeout: 60 * time.Second},
		limiter:  rate.NewLimiter(rate.Every(750*time.Millisecond), 1), // ~80 RPM
	}
}

// SetLimiter replaces the client-side rate limiter.
func (e *JinaEmbedder) SetLimiter(l *rate.Limiter) { e.limiter = l }

// SetEndpoint points the client at a different API base.
func (e *JinaEmbedder) SetEndpoint(url string) {
	if url != "" {
		e.endpoint = url
	}
}

// Available returns true if the Jina API key is configured.
func (e *JinaEmbedder) Available() bool {
	return e.apiKey != ""
}

// Embed generates a vector embedding for one text.
func (e *JinaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return first(vecs, "jina")
}

// EmbedBatch embeds texts in one request. Callers chunk large inputs.
func (e *JinaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	data, err := postJSON(ctx, e.client, e.limiter, e.endpoint, e.apiKey, "jina", jinaEmbedRequest{
		Model:      e.model,
		Input:      texts,
		Task:       jinaTask,
		Dimensions: 1024,
		Truncate:   true,
	})
	if err != nil {
		return nil, err
	}

	var resp jinaEmbedResponse
	if err := decode(data, &resp); err != nil {
		return nil, err
	}
	return placeByIndex(len(texts), resp.Data), nil
}
