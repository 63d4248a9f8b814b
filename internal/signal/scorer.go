package signal

import (
	"errors"
	"fmt"
	"sort"

	"github.com/abelbrown/curiosity/internal/history"
	"github.com/abelbrown/curiosity/internal/model"
	"github.com/abelbrown/curiosity/internal/triangulate"
)

// ErrInvalidComponent aborts scoring when a component is NaN or out of range.
var ErrInvalidComponent = errors.New("signal: invalid component score")

// maxSamples is how many raw member texts a signal carries.
const maxSamples = 5

// HistoryLookup finds a topic in earlier runs. *history.Matcher implements it.
type HistoryLookup interface {
	Lookup(canonical string, centroid []float32) history.Match
}

// Scorer turns clusters into signals. The zero value scores every topic as
// new and uses the default signal threshold.
type Scorer struct {
	Threshold float64       // is-signal cutoff, default TierSignalMin
	History   HistoryLookup // nil means no prior runs
	Window    model.Window  // the run's time window for triangulation
}

func (s *Scorer) threshold() float64 {
	if s.Threshold > 0 {
		return s.Threshold
	}
	return TierSignalMin
}

// Score scores one cluster. maxEngagement is the largest total engagement
// among the run's clusters.
func (s *Scorer) Score(c model.Cluster, maxEngagement int) (model.Signal, error) {
	tri := triangulate.Triangulate(c, nil, s.Window)

	var match history.Match
	if s.History != nil {
		match = s.History.Lookup(c.CanonicalQuestion, c.Centroid)
	}

	velocity, pct := Velocity(c.MemberCount(), match.PriorCount)
	comp := Components{
		Velocity:      velocity,
		CrossPlatform: tri.Score,
		Engagement:    EngagementScore(c.TotalEngagement, maxEngagement),
		Novelty:       NoveltyScore(match.SeenBefore),
		Weirdness:     WeirdnessBonus(tri.Count, c.TotalEngagement, c.MemberCount()),
	}
	if bad := comp.Validate(); bad != "" {
		return model.Signal{}, fmt.Errorf("%w: cluster %d %s", ErrInvalidComponent, c.Index, bad)
	}

	final := Combine(comp)
	sig := model.Signal{
		ClusterIndex:       c.Index,
		CanonicalQuestion:  c.CanonicalQuestion,
		VelocityScore:      comp.Velocity,
		CrossPlatformScore: comp.CrossPlatform,
		EngagementScore:    comp.Engagement,
		NoveltyScore:       comp.Novelty,
		WeirdnessBonus:     comp.Weirdness,
		FinalScore:         final,
		Tier:               TierFor(final),
		IsSignal:           final >= s.threshold(),
		VelocityPct:        pct,
		Platforms:          tri.Platforms,
		PlatformCount:      tri.Count,
		QuestionCount:      c.MemberCount(),
		TotalEngagement:    c.TotalEngagement,
	}
	for i := 0; i < len(c.Members) && i < maxSamples; i++ {
		sig.SampleQuestions = append(sig.SampleQuestions, c.Members[i].RawText)
	}
	return sig, nil
}

// ScoreAll scores every cluster in one pass and returns signals ordered by
// final score, highest first. On an invalid component it stops and returns
// the signals scored so far together with ErrInvalidComponent.
func (s *Scorer) ScoreAll(clusters []model.Cluster) ([]model.Signal, error) {
	maxEngagement := 0
	for _, c := range clusters {
		maxEngagement = max(maxEngagement, c.TotalEngagement)
	}

	signals := make([]model.Signal, 0, len(clusters))
	var err error
	for _, c := range clusters {
		sig, serr := s.Score(c, maxEngagement)
		if serr != nil {
			err = serr
			break
		}
		signals = append(signals, sig)
	}
	Sort(signals)
	return signals, err
}

// Sort orders signals by final score descending, then cluster index.
func Sort(signals []model.Signal) {
	sort.SliceStable(signals, func(i, j int) bool {
		if signals[i].FinalScore != signals[j].FinalScore {
			return signals[i].FinalScore > signals[j].FinalScore
		}
		return signals[i].ClusterIndex < signals[j].ClusterIndex
	})
}

// WeirdPicks returns up to n non-signals with a positive weirdness bonus,
// ordered by bonus then final score.
func WeirdPicks(signals []model.Signal, n int) []model.Signal {
	var picks []model.Signal
	for _, s := range signals {
		if !s.IsSignal && s.WeirdnessBonus > 0 {
			picks = append(picks, s)
		}
	}
	sort.SliceStable(picks, func(i, j int) bool {
		if picks[i].WeirdnessBonus != picks[j].WeirdnessBonus {
			return picks[i].WeirdnessBonus > picks[j].WeirdnessBonus
		}
		return picks[i].FinalScore > picks[j].FinalScore
	})
	if n >= 0 && len(picks) > n {
		picks = picks[:n]
	}
	return picks
}
