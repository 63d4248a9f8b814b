// Package embed turns normalized question text into vectors via an
// external embedding service, and provides similarity helpers.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"

	"golang.org/x/time/rate"
	"gonum.org/v1/gonum/floats"

	"github.com/abelbrown/curiosity/internal/retry"
)

// Embedder generates vector embeddings from text.
type Embedder interface {
	// Available returns true if the embedding service is accessible.
	Available() bool
	// Embed generates a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BatchEmbedder extends Embedder with batch embedding support.
// When EmbedBatch returns nil error, the result slice has the same length
// as texts and result[i] corresponds to texts[i]. A nil result[i] is a
// per-item failure reported by the service.
//
// Implementations make a single attempt per call; errors that are worth
// retrying are marked with retry.Retryable.
type BatchEmbedder interface {
	Embedder
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// CosineSimilarity is the cosine of the angle between a and b, in [-1,1].
// It is 0 when the lengths differ or either vector is empty or zero.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	x, y := widen(a), widen(b)
	na, nb := floats.Norm(x, 2), floats.Norm(y, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(floats.Dot(x, y) / (na * nb))
}

// Centroid returns the element-wise mean of vecs. Vectors whose length
// differs from the first are skipped. Returns nil for no input.
func Centroid(vecs [][]float32) []float32 {
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return nil
	}
	dims := len(vecs[0])
	sum := make([]float64, dims)
	n := 0
	for _, v := range vecs {
		if len(v) != dims {
			continue
		}
		floats.Add(sum, widen(v))
		n++
	}
	floats.Scale(1/float64(n), sum)

	out := make([]float32, dims)
	for i, x := range sum {
		out[i] = float32(x)
	}
	return out
}

func widen(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// usable reports whether v can take part in similarity math.
func usable(v []float32) bool {
	if len(v) == 0 {
		return false
	}
	for _, x := range v {
		if x != 0 && !math.IsNaN(float64(x)) && !math.IsInf(float64(x), 0) {
			return true
		}
	}
	return false
}

// postJSON makes one rate-limited POST and returns the response body.
// Transient failures (429, 5xx, network errors) come back retryable.
func postJSON(ctx context.Context, client *http.Client, limiter *rate.Limiter, url, apiKey, service string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("embed: failed to marshal request: %w", err)
	}

	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("embed: rate limiter wait failed: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embed: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("embed: request cancelled: %w", ctx.Err())
		}
		var netErr net.Error
		if errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, retry.Retryable(fmt.Errorf("embed: %s request failed: %w", service, err))
		}
		return nil, fmt.Errorf("embed: %s request failed: %w", service, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, retry.Retryable(fmt.Errorf("embed: failed to read response: %w", err))
	}
	if err := retry.Status(resp, data, "embed: "+service); err != nil {
		return nil, err
	}
	return data, nil
}

// decode parses a successful body. A malformed body is treated as a
// truncated response and is retryable.
func decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return retry.Retryable(fmt.Errorf("embed: failed to parse response: %w", err))
	}
	return nil
}

// indexed is the {embedding, index} item shape shared by Jina and OpenAI.
type indexed struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

// placeByIndex aligns response items with the request. Missing or
// out-of-range indexes leave nil entries.
func placeByIndex(n int, items []indexed) [][]float32 {
	out := make([][]float32, n)
	for _, it := range items {
		if it.Index < 0 || it.Index >= n || !usable(it.Embedding) {
			continue
		}
		out[it.Index] = it.Embedding
	}
	return out
}

func first(vecs [][]float32, service string) ([]float32, error) {
	if len(vecs) == 0 || vecs[0] == nil {
		return nil, fmt.Errorf("embed: %s returned no embeddings", service)
	}
	return vecs[0], nil
}
