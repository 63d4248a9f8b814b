package news

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/abelbrown/curiosity/internal/logging"
	"github.com/abelbrown/curiosity/internal/model"
	"github.com/abelbrown/curiosity/internal/otel"
	"github.com/abelbrown/curiosity/internal/retry"
)

// Correlator defaults.
const (
	DefaultLookbackDays = 7
	DefaultMinRelevance = 0.3
	DefaultConcurrency  = 2
)

// Correlator attaches news triggers to spiking signals. Search failures
// never propagate: the trigger is left nil and a warning is recorded.
type Correlator struct {
	searcher     Searcher
	entities     []string
	lookbackDays int
	minRelevance float64
	concurrency  int
	policy       retry.Policy
	events       *otel.Logger
}

// Option configures a Correlator.
type Option func(*Correlator)

// WithKnownEntities sets the entity list used first during keyword extraction.
func WithKnownEntities(entities []string) Option {
	return func(c *Correlator) { c.entities = entities }
}

// WithLookbackDays sets how many days before the week start are searched.
func WithLookbackDays(n int) Option {
	return func(c *Correlator) {
		if n >= 0 {
			c.lookbackDays = n
		}
	}
}

// WithMinRelevance sets the relevance floor for a trigger.
func WithMinRelevance(v float64) Option {
	return func(c *Correlator) { c.minRelevance = v }
}

// WithConcurrency bounds concurrent searches in Correlate.
func WithConcurrency(n int) Option {
	return func(c *Correlator) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithRetry sets the per-search retry policy.
func WithRetry(p retry.Policy) Option {
	return func(c *Correlator) { c.policy = p }
}

// WithEvents sets the run-event logger.
func WithEvents(l *otel.Logger) Option {
	return func(c *Correlator) { c.events = l }
}

// NewCorrelator wraps searcher. A nil searcher yields a Correlator that
// never finds anything.
func NewCorrelator(searcher Searcher, opts ...Option) *Correlator {
	c := &Correlator{
		searcher:     searcher,
		lookbackDays: DefaultLookbackDays,
		minRelevance: DefaultMinRelevance,
		concurrency:  DefaultConcurrency,
		policy:       retry.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether searches will be attempted.
func (c *Correlator) Enabled() bool {
	return c != nil && c.searcher != nil
}

// FindTrigger searches for the article that best explains a spike in
// question during the week starting at weekStart. Returns nil when no
// keyword can be extracted (without searching), when nothing clears the
// relevance floor, or when the search fails.
func (c *Correlator) FindTrigger(ctx context.Context, question string, weekStart time.Time) *model.NewsTrigger {
	if !c.Enabled() {
		return nil
	}
	keywords := ExtractKeywords(question, c.entities)
	if len(keywords) == 0 {
		logging.Debug("news: no keywords, skipping", "question", question)
		return nil
	}

	q := Query{
		Keywords: keywords,
		From:     weekStart.AddDate(0, 0, -c.lookbackDays),
		To:       weekStart.AddDate(0, 0, 7),
	}
	query := orQuery(keywords)

	start := time.Now()
	var articles []Article
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		articles, err = c.searcher.Search(ctx, q)
		return err
	})
	if err != nil {
		logging.Warn("news: search failed, no trigger", "query", query, "error", err)
		c.events.Emit(otel.Event{
			Level: otel.LevelWarn,
			Kind:  otel.KindNewsError,
			Comp:  "news",
			Query: query,
			Err:   err.Error(),
			Dur:   time.Since(start),
		})
		return nil
	}

	best, score := c.best(question, articles)
	c.events.Emit(otel.Event{
		Kind:  otel.KindNewsSearch,
		Comp:  "news",
		Query: query,
		Count: len(articles),
		Dur:   time.Since(start),
		Extra: map[string]any{"matched": best != nil},
	})
	if best == nil {
		return nil
	}
	return &model.NewsTrigger{
		Headline:    best.Title,
		Source:      best.Source,
		URL:         best.URL,
		PublishedAt: best.PublishedAt,
		Relevance:   score,
	}
}

// best returns the highest-relevance article at or above the floor. Ties
// keep the searcher's order.
func (c *Correlator) best(question string, articles []Article) (*Article, float64) {
	var best *Article
	bestScore := -1.0
	for i := range articles {
		score := Relevance(question, articles[i])
		if score < c.minRelevance || score <= bestScore {
			continue
		}
		best, bestScore = &articles[i], score
	}
	if best == nil {
		return nil, 0
	}
	return best, bestScore
}

// Correlate fills NewsTrigger on every signal for which eligible returns
// true, running up to the configured number of searches at once. Signals
// are updated in place; the count of triggers found is returned. A
// cancelled context stops new searches while in-flight ones drain.
func (c *Correlator) Correlate(ctx context.Context, signals []model.Signal, weekStart time.Time, eligible func(model.Signal) bool) int {
	if !c.Enabled() {
		return 0
	}

	found := make([]bool, len(signals))
	g := new(errgroup.Group)
	g.SetLimit(c.concurrency)
	for i := range signals {
		if eligible != nil && !eligible(signals[i]) {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if t := c.FindTrigger(ctx, signals[i].CanonicalQuestion, weekStart); t != nil {
				signals[i].NewsTrigger = t
				found[i] = true
			}
			return nil
		})
	}
	_ = g.Wait()

	n := 0
	for _, ok := range found {
		if ok {
			n++
		}
	}
	return n
}
