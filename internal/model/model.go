// Package model defines the records that flow through a curiosity run:
// questions in, clusters in the middle, signals out.
package model

import (
	"fmt"
	"sort"
	"time"
)

// Platform tags the public site a question was scraped from.
type Platform string

const (
	PlatformReddit        Platform = "reddit"
	PlatformStackExchange Platform = "stackexchange"
	PlatformHackerNews    Platform = "hackernews"
	PlatformQuora         Platform = "quora"
)

// QuestionStatus records why a question did or did not end up in a cluster.
type QuestionStatus string

const (
	StatusPending         QuestionStatus = "pending"
	StatusRejected        QuestionStatus = "rejected"         // normalizer
	StatusEmbeddingFailed QuestionStatus = "embedding_failed" // embedder
	StatusNoise           QuestionStatus = "noise"            // clustering
	StatusClustered       QuestionStatus = "clustered"
)

// Question is one scraped item. Everything except the derived fields is
// immutable after ingestion.
type Question struct {
	ExternalID string
	Platform   Platform
	URL        string
	RawText    string

	Upvotes  int
	Comments int
	Views    int

	CreatedAt  time.Time // external creation time, zero if unknown
	IngestedAt time.Time

	// Derived during a run.
	NormalizedText string
	Embedding      []float32
	ClusterIndex   *int
	Status         QuestionStatus
}

// Engagement is the engagement figure used for scoring: upvotes plus
// comments, floored at zero. Downvoted posts carry negative upvotes.
func (q Question) Engagement() int {
	return max(0, q.Upvotes+q.Comments)
}

// Key identifies a question within a run.
func (q Question) Key() string {
	return string(q.Platform) + ":" + q.ExternalID
}

// Cluster is a group of semantically equivalent questions found in one run.
type Cluster struct {
	Index             int
	CanonicalQuestion string
	Centroid          []float32
	Members           []Question
	PlatformCounts    map[Platform]int
	TotalEngagement   int
	EarliestSeen      time.Time
	LatestSeen        time.Time
}

// MemberCount returns the number of questions in the cluster.
func (c Cluster) MemberCount() int {
	return len(c.Members)
}

// Platforms returns the platforms present in the cluster, sorted.
func (c Cluster) Platforms() []Platform {
	out := make([]Platform, 0, len(c.PlatformCounts))
	for p := range c.PlatformCounts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Tier is the discrete bucket assigned from a final score.
type Tier string

const (
	TierBreakout Tier = "breakout"
	TierStrong   Tier = "strong"
	TierSignal   Tier = "signal"
	TierNoise    Tier = "noise"
)

// NewsTrigger is a news article that plausibly explains a spike.
type NewsTrigger struct {
	Headline    string    `json:"headline"`
	Source      string    `json:"source"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`
	Relevance   float64   `json:"relevance_score"`
}

// Signal is the scored output for one cluster. Immutable once scored,
// except for the optional news trigger attached afterwards.
type Signal struct {
	ClusterIndex      int
	CanonicalQuestion string

	VelocityScore      float64
	CrossPlatformScore float64
	EngagementScore    float64
	NoveltyScore       float64
	WeirdnessBonus     float64

	FinalScore float64
	Tier       Tier
	IsSignal   bool

	VelocityPct     float64
	Platforms       []Platform
	PlatformCount   int
	QuestionCount   int
	TotalEngagement int
	SampleQuestions []string

	NewsTrigger *NewsTrigger
}

// PriorCluster is a cluster persisted by an earlier completed run, used
// for velocity and novelty lookups.
type PriorCluster struct {
	RunID             string
	Week              Week
	CanonicalQuestion string
	Centroid          []float32 // nil when not stored
	QuestionCount     int
}

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run is the execution context for one tenant-week.
type Run struct {
	ID                string
	Tenant            string
	Week              Week
	Status            RunStatus
	QuestionsIngested int
	ClustersCreated   int
	SignalsDetected   int
	StartedAt         time.Time
	CompletedAt       time.Time
	ErrorMessage      string
}

// Week identifies an ISO week, e.g. 2026-W42.
type Week struct {
	Year int
	Num  int
}

// WeekOf returns the ISO week containing t.
func WeekOf(t time.Time) Week {
	y, w := t.UTC().ISOWeek()
	return Week{Year: y, Num: w}
}

// ParseWeek parses the YYYY-Www form.
func ParseWeek(s string) (Week, error) {
	var w Week
	if _, err := fmt.Sscanf(s, "%d-W%d", &w.Year, &w.Num); err != nil {
		return Week{}, fmt.Errorf("model: invalid week %q: %w", s, err)
	}
	if w.Num < 1 || w.Num > 53 {
		return Week{}, fmt.Errorf("model: invalid week number in %q", s)
	}
	return w, nil
}

// String returns the YYYY-Www form.
func (w Week) String() string {
	return fmt.Sprintf("%04d-W%02d", w.Year, w.Num)
}

// Start returns Monday 00:00 UTC of the week.
func (w Week) Start() time.Time {
	// Jan 4th is always in ISO week 1.
	jan4 := time.Date(w.Year, time.January, 4, 0, 0, 0, 0, time.UTC)
	offset := int(jan4.Weekday()+6) % 7 // days since Monday
	week1 := jan4.AddDate(0, 0, -offset)
	return week1.AddDate(0, 0, (w.Num-1)*7)
}

// End returns the exclusive end of the week.
func (w Week) End() time.Time {
	return w.Start().AddDate(0, 0, 7)
}

// Prev returns the preceding week.
func (w Week) Prev() Week {
	return WeekOf(w.Start().AddDate(0, 0, -7))
}

// Before reports whether w precedes o.
func (w Week) Before(o Week) bool {
	if w.Year != o.Year {
		return w.Year < o.Year
	}
	return w.Num < o.Num
}

// Sub returns the week n weeks before w.
func (w Week) Sub(n int) Week {
	return WeekOf(w.Start().AddDate(0, 0, -7*n))
}

// Window returns the week as a time window.
func (w Week) Window() Window {
	return Window{Start: w.Start(), End: w.End()}
}

// Window is a half-open time interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window. Zero times are
// treated as unknown and always contained.
func (w Window) Contains(t time.Time) bool {
	if t.IsZero() {
		return true
	}
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && !t.Before(w.End) {
		return false
	}
	return true
}
