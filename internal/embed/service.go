package embed

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/abelbrown/curiosity/internal/logging"
	"github.com/abelbrown/curiosity/internal/otel"
	"github.com/abelbrown/curiosity/internal/retry"
)

// Service batches texts through a BatchEmbedder with bounded parallelism,
// per-batch retries and a content-hash cache.
type Service struct {
	provider    BatchEmbedder
	batchSize   int
	concurrency int
	policy      retry.Policy
	events      *otel.Logger

	mu    sync.Mutex
	cache map[[sha256.Size]byte][]float32
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithBatchSize sets how many texts go in one request.
func WithBatchSize(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithConcurrency bounds the number of batches in flight.
func WithConcurrency(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithRetry sets the per-batch retry policy.
func WithRetry(p retry.Policy) ServiceOption {
	return func(s *Service) { s.policy = p }
}

// WithEvents sets the run-event logger.
func WithEvents(l *otel.Logger) ServiceOption {
	return func(s *Service) { s.events = l }
}

// NewService wraps provider. Defaults: 25 texts per batch, 2 batches in
// flight, retry.Default().
func NewService(provider BatchEmbedder, opts ...ServiceOption) *Service {
	s := &Service{
		provider:    provider,
		batchSize:   25,
		concurrency: 2,
		policy:      retry.Default(),
		cache:       make(map[[sha256.Size]byte][]float32),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Available reports whether the underlying provider can be used.
func (s *Service) Available() bool {
	return s.provider != nil && s.provider.Available()
}

// EmbedAll returns one vector per text, aligned with texts. Entries for
// texts that could not be embedded (exhausted retries, permanent errors,
// per-item failures) are nil. The only error returned is the context's.
func (s *Service) EmbedAll(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	// Cache hits are filled directly; identical texts are embedded once.
	positions := make(map[[sha256.Size]byte][]int)
	var pending []string
	s.mu.Lock()
	for i, t := range texts {
		k := sha256.Sum256([]byte(t))
		if v, ok := s.cache[k]; ok {
			out[i] = v
			continue
		}
		if _, seen := positions[k]; !seen {
			pending = append(pending, t)
		}
		positions[k] = append(positions[k], i)
	}
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	var dims int
	var dimsMu sync.Mutex
	acceptDims := func(v []float32) bool {
		dimsMu.Lock()
		defer dimsMu.Unlock()
		if dims == 0 {
			dims = len(v)
		}
		return len(v) == dims
	}

	for start := 0; start < len(pending); start += s.batchSize {
		end := min(start+s.batchSize, len(pending))
		chunk := pending[start:end]
		batchStart := start

		g.Go(func() error {
			began := time.Now()
			var vecs [][]float32
			err := s.policy.Do(gctx, func(ctx context.Context) error {
				var err error
				vecs, err = s.provider.EmbedBatch(ctx, chunk)
				if err == nil && len(vecs) != len(chunk) {
					return retry.Retryable(fmt.Errorf("embed: got %d vectors for %d texts", len(vecs), len(chunk)))
				}
				return err
			})
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				logging.Warn("embedding batch failed", "start", batchStart, "size", len(chunk), "err", err)
				s.events.Emit(otel.Event{Level: otel.LevelWarn, Kind: otel.KindEmbedError, Comp: "embed", Count: len(chunk), Err: err.Error()})
				return nil
			}

			ok := 0
			s.mu.Lock()
			for i, v := range vecs {
				if v == nil || !usable(v) || !acceptDims(v) {
					continue
				}
				k := sha256.Sum256([]byte(chunk[i]))
				s.cache[k] = v
				ok++
			}
			s.mu.Unlock()

			s.events.Emit(otel.Event{Kind: otel.KindEmbedBatch, Comp: "embed", Count: ok, Dur: time.Since(began)})
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return out, err
	}

	s.mu.Lock()
	for k, idxs := range positions {
		v, ok := s.cache[k]
		if !ok {
			continue
		}
		for _, i := range idxs {
			out[i] = v
		}
	}
	s.mu.Unlock()

	for i := range out {
		if out[i] == nil {
			logging.Debug("question not embedded", "index", i, "reason", "embedding_failed")
		}
	}
	return out, nil
}

// NewProvider builds the BatchEmbedder for a configured provider name.
// requestsPerSecond <= 0 keeps the provider's default limit.
func NewProvider(provider, apiKey, model, endpoint string, requestsPerSecond float64) (BatchEmbedder, error) {
	var limiter *rate.Limiter
	if requestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}

	switch provider {
	case "jina":
		e := NewJinaEmbedder(apiKey, model)
		e.SetEndpoint(endpoint)
		if limiter != nil {
			e.SetLimiter(limiter)
		}
		return e, nil
	case "openai":
		e := NewOpenAIEmbedder(apiKey, model)
		e.SetEndpoint(endpoint)
		if limiter != nil {
			e.SetLimiter(limiter)
		}
		return e, nil
	case "ollama":
		return NewOllamaEmbedder(endpoint, model), nil
	default:
		return nil, fmt.Errorf("embed: unknown provider %q", provider)
	}
}
