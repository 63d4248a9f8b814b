// Package pipeline runs one curiosity detection pass for a tenant-week:
// normalize, embed, cluster, score, correlate with news, persist.
//
// Stages run in order. Embedding and news lookups fan out internally;
// clustering and scoring are single deterministic passes over the whole
// run. A run's status is set exactly once through the store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abelbrown/curiosity/internal/cluster"
	"github.com/abelbrown/curiosity/internal/config"
	"github.com/abelbrown/curiosity/internal/embed"
	"github.com/abelbrown/curiosity/internal/history"
	"github.com/abelbrown/curiosity/internal/logging"
	"github.com/abelbrown/curiosity/internal/model"
	"github.com/abelbrown/curiosity/internal/news"
	"github.com/abelbrown/curiosity/internal/normalize"
	"github.com/abelbrown/curiosity/internal/otel"
	"github.com/abelbrown/curiosity/internal/signal"
)

var (
	// ErrCancelled is returned when the run's context ends mid-flight.
	ErrCancelled = errors.New("pipeline: run cancelled")
	// ErrConfig wraps configuration problems found at run start.
	ErrConfig = errors.New("pipeline: invalid configuration")
)

// Store is the persistence the pipeline needs. *store.Store implements it.
type Store interface {
	BeginRun(ctx context.Context, tenant string, week model.Week) (*model.Run, error)
	FinishRun(ctx context.Context, run *model.Run) error
	SaveQuestions(ctx context.Context, runID string, questions []model.Question) error
	SaveClusters(ctx context.Context, runID string, clusters []model.Cluster) error
	SaveSignals(ctx context.Context, runID string, signals []model.Signal) error
	PriorClusters(ctx context.Context, tenant string, before model.Week, weeks int) ([]model.PriorCluster, error)
}

// Embedder embeds a whole run's texts. *embed.Service implements it.
type Embedder interface {
	Available() bool
	EmbedAll(ctx context.Context, texts []string) ([][]float32, error)
}

// Result is what a run produced.
type Result struct {
	Run        *model.Run
	Questions  []model.Question // deduplicated, with final status
	Clusters   []model.Cluster
	Signals    []model.Signal // every scored cluster, best first
	WeirdPicks []model.Signal

	Duplicates      int
	Rejected        int
	EmbeddingFailed int
	Noise           int
	NewsTriggers    int
}

// Detected returns the signals that cleared the signal threshold.
func (r *Result) Detected() []model.Signal {
	var out []model.Signal
	for _, s := range r.Signals {
		if s.IsSignal {
			out = append(out, s)
		}
	}
	return out
}

// Pipeline wires the stages together.
type Pipeline struct {
	cfg        *config.Config
	store      Store
	embedder   Embedder
	engine     cluster.Engine
	normalizer *normalize.Normalizer
	correlator *news.Correlator
	events     *otel.Logger
	reporter   Reporter
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithEngine replaces the default density clustering.
func WithEngine(e cluster.Engine) Option {
	return func(p *Pipeline) { p.engine = e }
}

// WithCorrelator enables news correlation.
func WithCorrelator(c *news.Correlator) Option {
	return func(p *Pipeline) { p.correlator = c }
}

// WithEvents sets the run-event logger.
func WithEvents(l *otel.Logger) Option {
	return func(p *Pipeline) { p.events = l }
}

// WithReporter sets the progress reporter.
func WithReporter(r Reporter) Option {
	return func(p *Pipeline) { p.reporter = r }
}

// New creates a Pipeline. A nil embedder fails every run as a
// configuration error.
func New(cfg *config.Config, st Store, embedder Embedder, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:        cfg,
		store:      st,
		embedder:   embedder,
		engine:     cluster.NewDensityEngine(cfg.Clustering.SimilarityThreshold, cfg.Clustering.MinClusterSize, cfg.Clustering.MinSamples),
		normalizer: normalize.New(cfg.Normalizer.MinLength),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Build constructs the embedding service and news correlator described by
// cfg and returns a ready Pipeline. Provider construction problems are
// logged here and surface as a failed run.
func Build(cfg *config.Config, st Store, events *otel.Logger, opts ...Option) *Pipeline {
	policy := cfg.Retry.Policy()

	var embedder Embedder
	provider, err := embed.NewProvider(cfg.Embedding.Provider, cfg.Embedding.APIKey, cfg.Embedding.Model,
		cfg.Embedding.Endpoint, cfg.Embedding.RequestsPerSecond)
	if err != nil {
		logging.Error("embedding provider unavailable", "error", err)
	} else {
		embedder = embed.NewService(provider,
			embed.WithBatchSize(cfg.Embedding.BatchSize),
			embed.WithConcurrency(cfg.Embedding.Concurrency),
			embed.WithRetry(policy),
			embed.WithEvents(events),
		)
	}

	searcher, err := news.NewSearcher(cfg.News.Provider, cfg.News.APIKey, cfg.News.Endpoint, cfg.News.RequestsPerSecond)
	if err != nil {
		logging.Error("news searcher unavailable", "error", err)
	}
	correlator := news.NewCorrelator(searcher,
		news.WithKnownEntities(cfg.News.KnownEntities),
		news.WithLookbackDays(cfg.News.LookbackDays),
		news.WithMinRelevance(cfg.News.MinRelevance),
		news.WithConcurrency(cfg.News.Concurrency),
		news.WithRetry(policy),
		news.WithEvents(events),
	)

	base := []Option{WithCorrelator(correlator), WithEvents(events)}
	return New(cfg, st, embedder, append(base, opts...)...)
}

// Run executes one run for tenant and week over questions.
//
// The returned error is non-nil when the run could not start (for example
// store.ErrRunLimit) or ended failed; Result is non-nil whenever a run
// record was created.
func (p *Pipeline) Run(ctx context.Context, tenant string, week model.Week, questions []model.Question) (*Result, error) {
	run, err := p.store.BeginRun(ctx, tenant, week)
	if err != nil {
		return nil, fmt.Errorf("pipeline: begin run: %w", err)
	}
	res := &Result{Run: run}
	start := time.Now()

	logging.Info("run started", "run", run.ID, "tenant", tenant, "week", week, "questions", len(questions))
	p.emit(run, otel.Event{Kind: otel.KindRunStart, Comp: "pipeline", Count: len(questions)})
	p.report(Progress{Stage: StageStart, RunID: run.ID, Total: len(questions)})

	if err := p.validate(); err != nil {
		return res, p.fail(ctx, res, err)
	}

	// Dedupe and normalize.
	qs, dups := dedupe(questions)
	res.Duplicates = dups
	run.QuestionsIngested = len(qs)
	p.normalizeAll(run, qs)
	for _, q := range qs {
		if q.Status == model.StatusRejected {
			res.Rejected++
		}
	}
	res.Questions = qs
	p.report(Progress{Stage: StageNormalize, RunID: run.ID, Done: len(qs) - res.Rejected, Total: len(qs)})
	if ctx.Err() != nil {
		return res, p.cancelled(ctx, res)
	}

	// Embed.
	if err := p.embedAll(ctx, qs); err != nil {
		return res, p.cancelled(ctx, res)
	}
	for _, q := range qs {
		if q.Status == model.StatusEmbeddingFailed {
			res.EmbeddingFailed++
		}
	}
	p.report(Progress{Stage: StageEmbed, RunID: run.ID, Done: len(qs) - res.Rejected - res.EmbeddingFailed, Total: len(qs) - res.Rejected})
	if ctx.Err() != nil {
		return res, p.cancelled(ctx, res)
	}

	// Cluster: a synchronization point over the whole embedded set.
	clusterStart := time.Now()
	cr, err := p.engine.Cluster(ctx, qs)
	if err != nil {
		if ctx.Err() != nil {
			return res, p.cancelled(ctx, res)
		}
		return res, p.fail(ctx, res, fmt.Errorf("cluster: %w", err))
	}
	res.Clusters = cr.Clusters
	res.Noise = applyClusters(qs, cr)
	run.ClustersCreated = len(cr.Clusters)
	p.emit(run, otel.Event{Kind: otel.KindClusterComplete, Comp: "cluster", Count: len(cr.Clusters), Dur: time.Since(clusterStart),
		Extra: map[string]any{"noise": res.Noise}})
	p.report(Progress{Stage: StageCluster, RunID: run.ID, Done: len(cr.Clusters)})
	if ctx.Err() != nil {
		return res, p.cancelled(ctx, res)
	}

	// Score against history.
	priors, err := p.store.PriorClusters(ctx, tenant, week, p.cfg.Scoring.HistoryWeeks)
	if err != nil {
		if ctx.Err() != nil {
			return res, p.cancelled(ctx, res)
		}
		return res, p.fail(ctx, res, fmt.Errorf("load history: %w", err))
	}
	scorer := signal.Scorer{
		Threshold: p.cfg.Scoring.SignalThreshold,
		History:   history.NewMatcher(priors, p.cfg.Scoring.HistorySimilarity),
		Window:    week.Window(),
	}
	signals, scoreErr := scorer.ScoreAll(cr.Clusters)
	res.Signals = signals
	if scoreErr != nil {
		// Signals scored before the failure are kept.
		p.persist(ctx, res)
		return res, p.fail(ctx, res, fmt.Errorf("score: %w", scoreErr))
	}
	p.emit(run, otel.Event{Kind: otel.KindScoreComplete, Comp: "signal", Count: len(signals),
		Extra: map[string]any{"priors": len(priors)}})
	p.report(Progress{Stage: StageScore, RunID: run.ID, Done: countSignals(signals), Total: len(signals)})
	if ctx.Err() != nil {
		p.persist(ctx, res)
		return res, p.cancelled(ctx, res)
	}

	// News for spiking signals among the top max_signals.
	if p.correlator.Enabled() {
		top := signals
		if n := p.cfg.Scoring.MaxSignals; n > 0 && len(top) > n {
			top = top[:n]
		}
		spike := p.cfg.News.SpikeVelocityPct
		res.NewsTriggers = p.correlator.Correlate(ctx, top, week.Start(), func(s model.Signal) bool {
			return s.IsSignal && s.VelocityPct >= spike
		})
		p.report(Progress{Stage: StageNews, RunID: run.ID, Done: res.NewsTriggers})
	}
	res.WeirdPicks = signal.WeirdPicks(signals, p.cfg.Scoring.WeirdPicks)

	if err := p.persist(ctx, res); err != nil {
		return res, p.fail(ctx, res, err)
	}
	if ctx.Err() != nil {
		return res, p.cancelled(ctx, res)
	}

	run.Status = model.RunCompleted
	run.SignalsDetected = countSignals(signals)
	if err := p.store.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		return res, fmt.Errorf("pipeline: finish run: %w", err)
	}

	logging.Info("run complete", "run", run.ID, "clusters", run.ClustersCreated, "signals", run.SignalsDetected,
		"rejected", res.Rejected, "embedding_failed", res.EmbeddingFailed, "noise", res.Noise, "dur", time.Since(start))
	p.emit(run, otel.Event{Kind: otel.KindRunComplete, Comp: "pipeline", Count: run.SignalsDetected, Dur: time.Since(start)})
	p.report(Progress{Stage: StageDone, RunID: run.ID, Done: run.SignalsDetected})
	return res, nil
}

func (p *Pipeline) validate() error {
	if err := p.cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if p.embedder == nil || !p.embedder.Available() {
		return fmt.Errorf("%w: embedding provider %q is not available", ErrConfig, p.cfg.Embedding.Provider)
	}
	return nil
}

// dedupe drops repeated platform+external id pairs, keeping the first.
func dedupe(questions []model.Question) ([]model.Question, int) {
	seen := make(map[string]bool, len(questions))
	out := make([]model.Question, 0, len(questions))
	for _, q := range questions {
		k := q.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		q.Embedding = nil
		q.ClusterIndex = nil
		q.Status = model.StatusPending
		out = append(out, q)
	}
	if d := len(questions) - len(out); d > 0 {
		logging.Debug("duplicate questions dropped", "count", d)
		return out, d
	}
	return out, 0
}

func (p *Pipeline) normalizeAll(run *model.Run, qs []model.Question) {
	for i := range qs {
		text, err := p.normalizer.Normalize(qs[i].RawText, qs[i].Platform)
		if err != nil {
			qs[i].Status = model.StatusRejected
			logging.Debug("question rejected", "id", qs[i].Key(), "reason", string(model.StatusRejected))
			p.emit(run, otel.Event{Level: otel.LevelDebug, Kind: otel.KindNormalizeReject, Comp: "normalize",
				Platform: string(qs[i].Platform), Msg: qs[i].ExternalID})
			continue
		}
		qs[i].NormalizedText = text
	}
}

// embedAll fills embeddings for accepted questions. Items the service
// could not embed are marked embedding_failed. Returns only ctx errors.
func (p *Pipeline) embedAll(ctx context.Context, qs []model.Question) error {
	var idx []int
	var texts []string
	for i, q := range qs {
		if q.Status == model.StatusRejected {
			continue
		}
		idx = append(idx, i)
		texts = append(texts, q.NormalizedText)
	}
	if len(texts) == 0 {
		return nil
	}

	vecs, err := p.embedder.EmbedAll(ctx, texts)
	if err != nil {
		return err
	}
	for k, i := range idx {
		if k < len(vecs) && vecs[k] != nil {
			qs[i].Embedding = vecs[k]
			continue
		}
		qs[i].Status = model.StatusEmbeddingFailed
		logging.Warn("question not embedded", "id", qs[i].Key(), "reason", string(model.StatusEmbeddingFailed))
	}
	return nil
}

// applyClusters copies cluster membership back onto qs and returns the
// number of noise questions.
func applyClusters(qs []model.Question, cr cluster.Result) int {
	pos := make(map[string]int, len(qs))
	for i, q := range qs {
		pos[q.Key()] = i
	}
	for _, c := range cr.Clusters {
		for _, m := range c.Members {
			i, ok := pos[m.Key()]
			if !ok {
				continue
			}
			idx := c.Index
			qs[i].Status = model.StatusClustered
			qs[i].ClusterIndex = &idx
		}
	}
	for _, m := range cr.Noise {
		if i, ok := pos[m.Key()]; ok {
			qs[i].Status = model.StatusNoise
			qs[i].ClusterIndex = nil
			logging.Debug("question unclustered", "id", m.Key(), "reason", string(model.StatusNoise))
		}
	}
	return len(cr.Noise)
}

// persist writes questions, clusters and signals. Writes outlive a
// cancelled run context so that fully scored work is not lost.
func (p *Pipeline) persist(ctx context.Context, res *Result) error {
	ctx = context.WithoutCancel(ctx)
	runID := res.Run.ID

	steps := []struct {
		name string
		fn   func() error
	}{
		{"questions", func() error { return p.store.SaveQuestions(ctx, runID, res.Questions) }},
		{"clusters", func() error { return p.store.SaveClusters(ctx, runID, res.Clusters) }},
		{"signals", func() error { return p.store.SaveSignals(ctx, runID, res.Signals) }},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			logging.Error("persist failed", "run", runID, "what", s.name, "error", err)
			p.emit(res.Run, otel.Event{Level: otel.LevelError, Kind: otel.KindStoreError, Comp: "store", Msg: s.name, Err: err.Error()})
			return fmt.Errorf("persist %s: %w", s.name, err)
		}
	}
	p.report(Progress{Stage: StagePersist, RunID: runID, Done: len(res.Signals)})
	return nil
}

// fail marks the run failed with cause and returns cause.
func (p *Pipeline) fail(ctx context.Context, res *Result, cause error) error {
	run := res.Run
	run.Status = model.RunFailed
	run.ErrorMessage = cause.Error()
	run.SignalsDetected = countSignals(res.Signals)

	logging.Error("run failed", "run", run.ID, "error", cause)
	p.emit(run, otel.Event{Level: otel.LevelError, Kind: otel.KindRunFailed, Comp: "pipeline", Err: cause.Error()})
	p.report(Progress{Stage: StageFailed, RunID: run.ID, Err: cause})

	if err := p.store.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		return errors.Join(cause, fmt.Errorf("pipeline: finish run: %w", err))
	}
	return cause
}

func (p *Pipeline) cancelled(ctx context.Context, res *Result) error {
	return p.fail(ctx, res, fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx)))
}

func (p *Pipeline) emit(run *model.Run, e otel.Event) {
	e.RunID = run.ID
	e.Week = run.Week.String()
	p.events.Emit(e)
}

func (p *Pipeline) report(pr Progress) {
	if p.reporter != nil {
		p.reporter.Report(pr)
	}
}

func countSignals(signals []model.Signal) int {
	n := 0
	for _, s := range signals {
		if s.IsSignal {
			n++
		}
	}
	return n
}
