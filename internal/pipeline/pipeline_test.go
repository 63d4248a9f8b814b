package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/abelbrown/curiosity/internal/cluster"
	"github.com/abelbrown/curiosity/internal/config"
	"github.com/abelbrown/curiosity/internal/model"
	"github.com/abelbrown/curiosity/internal/news"
	"github.com/abelbrown/curiosity/internal/otel"
	"github.com/abelbrown/curiosity/internal/retry"
	"github.com/abelbrown/curiosity/internal/signal"
	"github.com/abelbrown/curiosity/internal/store"
)

var week42 = model.Week{Year: 2026, Num: 42}

// fakeEmbedder maps topics to fixed directions so clustering is predictable.
type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	hook  func()
}

func (f *fakeEmbedder) Available() bool { return true }

func (f *fakeEmbedder) EmbedAll(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.hook != nil {
		f.hook()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = vectorFor(t, i)
	}
	return out, nil
}

func vectorFor(text string, i int) []float32 {
	jitter := float32(i%5) * 0.01
	l := strings.ToLower(text)
	switch {
	case strings.Contains(l, "kubernetes"):
		return []float32{1, jitter, 0, 0}
	case strings.Contains(l, "sourdough"):
		return []float32{0, 1, jitter, 0}
	case strings.Contains(l, "volcano"):
		return nil
	default:
		return []float32{0, 0, jitter, 1}
	}
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Embedding.Provider = "ollama"
	cfg.News.Provider = "none"
	return cfg
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func question(week model.Week, id string, p model.Platform, text string, upvotes int) model.Question {
	return model.Question{
		ExternalID: id,
		Platform:   p,
		RawText:    text,
		Upvotes:    upvotes,
		CreatedAt:  week.Start().Add(24 * time.Hour),
	}
}

func kubernetesQuestions(week model.Week) []model.Question {
	return []model.Question{
		question(week, "k1", model.PlatformReddit, "Why is Kubernetes networking so confusing?", 100),
		question(week, "k2", model.PlatformHackerNews, "Why is Kubernetes networking so confusing for beginners?", 50),
		question(week, "k3", model.PlatformQuora, "Why is Kubernetes networking this confusing?", 50),
	}
}

func sampleQuestions(week model.Week) []model.Question {
	qs := kubernetesQuestions(week)
	qs = append(qs,
		question(week, "s1", model.PlatformReddit, "How do I keep my sourdough starter alive?", 10),
		question(week, "s2", model.PlatformReddit, "Why does my sourdough starter smell like acetone?", 10),
		question(week, "s3", model.PlatformStackExchange, "What flour is best for a sourdough starter?", 10),
		question(week, "n1", model.PlatformQuora, "How do telescopes focus light so well?", 3),
		question(week, "x1", model.PlatformReddit, "lol", 1),
		question(week, "v1", model.PlatformHackerNews, "Can a volcano question fail to embed?", 2),
		question(week, "k1", model.PlatformReddit, "Why is Kubernetes networking so confusing?", 100),
	)
	return qs
}

func TestRunEndToEnd(t *testing.T) {
	st := openStore(t)
	events := otel.NewNullLogger()
	buf := otel.NewRingBuffer(64)
	events.SetRingBuffer(buf)

	var stages []Stage
	reporter := ReporterFunc(func(p Progress) { stages = append(stages, p.Stage) })

	p := New(testConfig(), st, &fakeEmbedder{}, WithEvents(events), WithReporter(reporter))
	res, err := p.Run(context.Background(), "acme", week42, sampleQuestions(week42))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.Run.Status != model.RunCompleted {
		t.Errorf("status = %s, want completed", res.Run.Status)
	}
	if res.Duplicates != 1 || res.Rejected != 1 || res.EmbeddingFailed != 1 || res.Noise != 1 {
		t.Errorf("dup/rejected/failed/noise = %d/%d/%d/%d, want 1/1/1/1",
			res.Duplicates, res.Rejected, res.EmbeddingFailed, res.Noise)
	}
	if res.Run.QuestionsIngested != 9 || res.Run.ClustersCreated != 2 || res.Run.SignalsDetected != 1 {
		t.Errorf("run counts = %+v", res.Run)
	}

	if len(res.Signals) != 2 {
		t.Fatalf("got %d signals, want 2", len(res.Signals))
	}
	top := res.Signals[0]
	if !strings.Contains(top.CanonicalQuestion, "Kubernetes") || top.FinalScore != 1.0 || top.Tier != model.TierBreakout {
		t.Errorf("unexpected top signal %+v", top)
	}
	if top.NoveltyScore != 1.0 || top.VelocityPct != 100 || top.PlatformCount != 3 {
		t.Errorf("new topic components wrong: %+v", top)
	}
	second := res.Signals[1]
	if second.IsSignal || second.PlatformCount != 2 || second.Tier != model.TierNoise {
		t.Errorf("unexpected second signal %+v", second)
	}
	if len(res.Detected()) != 1 {
		t.Errorf("Detected() = %d, want 1", len(res.Detected()))
	}

	// Persisted state matches.
	ctx := context.Background()
	run, err := st.GetRun(ctx, res.Run.ID)
	if err != nil || run.Status != model.RunCompleted || run.SignalsDetected != 1 {
		t.Errorf("stored run = %+v, %v", run, err)
	}
	stored, err := st.ListSignals(ctx, res.Run.ID)
	if err != nil || len(stored) != 2 {
		t.Fatalf("ListSignals = %d, %v", len(stored), err)
	}
	counts, err := st.QuestionStatusCounts(ctx, res.Run.ID)
	if err != nil {
		t.Fatalf("QuestionStatusCounts failed: %v", err)
	}
	want := map[model.QuestionStatus]int{
		model.StatusClustered:       6,
		model.StatusNoise:           1,
		model.StatusRejected:        1,
		model.StatusEmbeddingFailed: 1,
	}
	for status, n := range want {
		if counts[status] != n {
			t.Errorf("stored %s = %d, want %d", status, counts[status], n)
		}
	}

	if len(stages) == 0 || stages[0] != StageStart || stages[len(stages)-1] != StageDone {
		t.Errorf("stages = %v", stages)
	}

	events.Close()
	stats := buf.Stats()
	if stats[otel.KindRunStart] != 1 || stats[otel.KindRunComplete] != 1 || stats[otel.KindNormalizeReject] != 1 {
		t.Errorf("event stats = %v", stats)
	}
}

func TestRunTooFewQuestionsCompletes(t *testing.T) {
	st := openStore(t)
	p := New(testConfig(), st, &fakeEmbedder{})

	res, err := p.Run(context.Background(), "acme", week42, kubernetesQuestions(week42)[:2])
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Run.Status != model.RunCompleted {
		t.Errorf("status = %s, want completed", res.Run.Status)
	}
	if len(res.Clusters) != 0 || len(res.Signals) != 0 || res.Noise != 2 {
		t.Errorf("clusters/signals/noise = %d/%d/%d, want 0/0/2", len(res.Clusters), len(res.Signals), res.Noise)
	}
}

func TestRunUsesHistory(t *testing.T) {
	st := openStore(t)
	p := New(testConfig(), st, &fakeEmbedder{})
	ctx := context.Background()

	prev := week42.Prev()
	if _, err := p.Run(ctx, "acme", prev, kubernetesQuestions(prev)); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	res, err := p.Run(ctx, "acme", week42, kubernetesQuestions(week42))
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if len(res.Signals) != 1 {
		t.Fatalf("got %d signals, want 1", len(res.Signals))
	}
	sig := res.Signals[0]
	if sig.NoveltyScore != 0.3 {
		t.Errorf("NoveltyScore = %v, want 0.3 for a topic seen last week", sig.NoveltyScore)
	}
	if sig.VelocityPct != 0 {
		t.Errorf("VelocityPct = %v, want 0 (3 questions both weeks)", sig.VelocityPct)
	}

	// Another tenant has no history.
	other, err := p.Run(ctx, "globex", week42, kubernetesQuestions(week42))
	if err != nil {
		t.Fatalf("other tenant run failed: %v", err)
	}
	if other.Signals[0].NoveltyScore != 1.0 {
		t.Errorf("other tenant NoveltyScore = %v, want 1.0", other.Signals[0].NoveltyScore)
	}
}

func TestRunConfigErrorFailsRun(t *testing.T) {
	tests := []struct {
		name     string
		cfg      func() *config.Config
		embedder Embedder
		msg      string
	}{
		{"no embedder", testConfig, nil, "embedding provider"},
		{"bad threshold", func() *config.Config {
			cfg := testConfig()
			cfg.Clustering.SimilarityThreshold = 2
			return cfg
		}, &fakeEmbedder{}, "similarity_threshold"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := openStore(t)
			p := New(tt.cfg(), st, tt.embedder)

			res, err := p.Run(context.Background(), "acme", week42, kubernetesQuestions(week42))
			if !errors.Is(err, ErrConfig) {
				t.Fatalf("Run error = %v, want ErrConfig", err)
			}
			run, gerr := st.GetRun(context.Background(), res.Run.ID)
			if gerr != nil {
				t.Fatalf("GetRun failed: %v", gerr)
			}
			if run.Status != model.RunFailed || !strings.Contains(run.ErrorMessage, tt.msg) {
				t.Errorf("stored run = %s %q", run.Status, run.ErrorMessage)
			}
		})
	}
}

func TestRunLimitRefusesSecondRun(t *testing.T) {
	st := openStore(t)
	p := New(testConfig(), st, &fakeEmbedder{})
	ctx := context.Background()

	if _, err := p.Run(ctx, "acme", week42, kubernetesQuestions(week42)); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	res, err := p.Run(ctx, "acme", week42, kubernetesQuestions(week42))
	if !errors.Is(err, store.ErrRunLimit) {
		t.Errorf("second run error = %v, want ErrRunLimit", err)
	}
	if res != nil {
		t.Error("no result expected when the run cannot start")
	}
}

func TestRunCancelledDuringEmbedding(t *testing.T) {
	st := openStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := New(testConfig(), st, &fakeEmbedder{hook: cancel})
	res, err := p.Run(ctx, "acme", week42, sampleQuestions(week42))
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("Run error = %v, want ErrCancelled", err)
	}

	run, gerr := st.GetRun(context.Background(), res.Run.ID)
	if gerr != nil {
		t.Fatalf("GetRun failed: %v", gerr)
	}
	if run.Status != model.RunFailed || !strings.Contains(run.ErrorMessage, "cancelled") {
		t.Errorf("stored run = %s %q", run.Status, run.ErrorMessage)
	}
	signals, _ := st.ListSignals(context.Background(), res.Run.ID)
	if len(signals) != 0 {
		t.Errorf("no signals should be persisted, got %d", len(signals))
	}
}

// corruptEngine clusters normally, then corrupts one cluster's engagement.
type corruptEngine struct {
	inner   cluster.Engine
	corrupt int
}

func (e corruptEngine) Cluster(ctx context.Context, qs []model.Question) (cluster.Result, error) {
	r, err := e.inner.Cluster(ctx, qs)
	if err == nil && e.corrupt < len(r.Clusters) {
		r.Clusters[e.corrupt].TotalEngagement = -5
	}
	return r, err
}

func TestRunScoringFailurePersistsScoredSignals(t *testing.T) {
	st := openStore(t)
	cfg := testConfig()
	engine := corruptEngine{
		inner:   cluster.NewDensityEngine(cfg.Clustering.SimilarityThreshold, cfg.Clustering.MinClusterSize, cfg.Clustering.MinSamples),
		corrupt: 1,
	}

	p := New(cfg, st, &fakeEmbedder{}, WithEngine(engine))
	res, err := p.Run(context.Background(), "acme", week42, sampleQuestions(week42))
	if !errors.Is(err, signal.ErrInvalidComponent) {
		t.Fatalf("Run error = %v, want ErrInvalidComponent", err)
	}

	ctx := context.Background()
	run, gerr := st.GetRun(ctx, res.Run.ID)
	if gerr != nil {
		t.Fatalf("GetRun failed: %v", gerr)
	}
	if run.Status != model.RunFailed || !strings.Contains(run.ErrorMessage, "score") ||
		!strings.Contains(run.ErrorMessage, "cluster 1 engagement") {
		t.Errorf("stored run = %s %q", run.Status, run.ErrorMessage)
	}

	stored, err := st.ListSignals(ctx, res.Run.ID)
	if err != nil {
		t.Fatalf("ListSignals failed: %v", err)
	}
	if len(stored) != 1 || stored[0].ClusterIndex != 0 || !strings.Contains(stored[0].CanonicalQuestion, "Kubernetes") {
		t.Errorf("stored signals = %+v, want only the Kubernetes cluster", stored)
	}
}

type fakeSearcher struct {
	mu      sync.Mutex
	queries []news.Query
}

func (f *fakeSearcher) Search(ctx context.Context, q news.Query) ([]news.Article, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	return []news.Article{{
		Title:       "Kubernetes networking is confusing, survey finds",
		Source:      "The Register",
		URL:         "https://example.com/k8s",
		PublishedAt: week42.Start().Add(36 * time.Hour),
	}}, nil
}

func TestRunCorrelatesSpikingSignals(t *testing.T) {
	st := openStore(t)
	searcher := &fakeSearcher{}
	correlator := news.NewCorrelator(searcher,
		news.WithKnownEntities([]string{"Kubernetes"}),
		news.WithRetry(retry.Default().NoDelay()),
	)

	p := New(testConfig(), st, &fakeEmbedder{}, WithCorrelator(correlator))
	res, err := p.Run(context.Background(), "acme", week42, sampleQuestions(week42))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.NewsTriggers != 1 {
		t.Errorf("NewsTriggers = %d, want 1", res.NewsTriggers)
	}
	// Only the detected signal is searched.
	if len(searcher.queries) != 1 {
		t.Errorf("searches = %d, want 1", len(searcher.queries))
	}

	stored, err := st.ListSignals(context.Background(), res.Run.ID)
	if err != nil {
		t.Fatalf("ListSignals failed: %v", err)
	}
	if stored[0].NewsTrigger == nil || stored[0].NewsTrigger.Source != "The Register" {
		t.Errorf("top signal trigger = %+v", stored[0].NewsTrigger)
	}
	if stored[1].NewsTrigger != nil {
		t.Error("non-signal should have no trigger")
	}
}

func TestDedupe(t *testing.T) {
	qs := []model.Question{
		{ExternalID: "1", Platform: model.PlatformReddit, RawText: "a"},
		{ExternalID: "1", Platform: model.PlatformQuora, RawText: "b"},
		{ExternalID: "1", Platform: model.PlatformReddit, RawText: "c"},
	}
	out, dups := dedupe(qs)
	if len(out) != 2 || dups != 1 {
		t.Fatalf("dedupe = %d kept, %d dropped", len(out), dups)
	}
	if out[0].RawText != "a" {
		t.Error("first occurrence should win")
	}
}
