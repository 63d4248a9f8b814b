// Package signal scores triangulated clusters into tiered signals.
package signal

import (
	"math"

	"github.com/abelbrown/curiosity/internal/model"
)

// Weights of the scored components. The weirdness bonus is added unweighted.
const (
	WeightVelocity      = 0.35
	WeightCrossPlatform = 0.25
	WeightEngagement    = 0.20
	WeightNovelty       = 0.20

	MaxWeirdnessBonus = 0.20
)

// Tier lower bounds, inclusive.
const (
	TierBreakoutMin = 0.85
	TierStrongMin   = 0.75
	TierSignalMin   = 0.70
)

// NewTopicVelocityPct is reported when no prior-period count exists.
const NewTopicVelocityPct = 100.0

// newTopicVelocity is the velocity score for a topic with no prior count.
const newTopicVelocity = 0.8

// weirdEngagementPerQuestion is the average engagement above which a
// cluster earns the smaller weirdness bonus.
const weirdEngagementPerQuestion = 50.0

// Components holds the five component scores of one signal.
type Components struct {
	Velocity      float64
	CrossPlatform float64
	Engagement    float64
	Novelty       float64
	Weirdness     float64
}

// VelocityPct is the percent change from prior to current question count.
// ok is false when there is no prior count to compare against.
func VelocityPct(current, prior int) (pct float64, ok bool) {
	if prior <= 0 {
		return 0, false
	}
	return float64(current-prior) / float64(prior) * 100, true
}

// VelocityScore maps a percent change onto [0,1]: +100% or more is 1.0,
// 0% is 0.5, -50% or less is 0.0, linear in between.
func VelocityScore(pct float64) float64 {
	switch {
	case math.IsNaN(pct):
		return math.NaN()
	case pct >= 100:
		return 1.0
	case pct >= 0:
		return 0.5 + pct/200
	case pct <= -50:
		return 0.0
	default:
		return 0.5 + pct/100
	}
}

// Velocity returns the velocity score and percentage for a topic, using
// the new-topic defaults when there is no prior count.
func Velocity(current, prior int) (score, pct float64) {
	pct, ok := VelocityPct(current, prior)
	if !ok {
		return newTopicVelocity, NewTopicVelocityPct
	}
	return VelocityScore(pct), pct
}

// EngagementScore is total divided by the run's maximum, capped at 1.
// Negative totals are corrupt input and yield a negative score.
func EngagementScore(total, max int) float64 {
	if max <= 0 {
		return 0
	}
	return math.Min(1.0, float64(total)/float64(max))
}

// NoveltyScore is 1.0 for a topic never seen before and 0.3 otherwise.
func NoveltyScore(seenBefore bool) float64 {
	if seenBefore {
		return 0.3
	}
	return 1.0
}

// WeirdnessBonus is +0.20 for 3 or more platforms, otherwise +0.10 when
// average engagement per question exceeds 50, otherwise 0.
func WeirdnessBonus(platforms, engagement, questions int) float64 {
	if platforms >= 3 {
		return MaxWeirdnessBonus
	}
	if questions > 0 && float64(engagement)/float64(questions) > weirdEngagementPerQuestion {
		return MaxWeirdnessBonus / 2
	}
	return 0
}

// sumPrecision is the rounding grid of WeightedSum. Tier and threshold
// boundaries are inclusive, so 0.75 must not come out as 0.7499999.
const sumPrecision = 1e9

// WeightedSum is the uncapped final score, rounded to 1e-9.
func WeightedSum(c Components) float64 {
	s := c.Velocity*WeightVelocity +
		c.CrossPlatform*WeightCrossPlatform +
		c.Engagement*WeightEngagement +
		c.Novelty*WeightNovelty +
		c.Weirdness
	return math.Round(s*sumPrecision) / sumPrecision
}

// Combine is WeightedSum capped to [0,1].
func Combine(c Components) float64 {
	return math.Max(0, math.Min(1, WeightedSum(c)))
}

// TierFor assigns the tier for a final score.
func TierFor(score float64) model.Tier {
	switch {
	case score >= TierBreakoutMin:
		return model.TierBreakout
	case score >= TierStrongMin:
		return model.TierStrong
	case score >= TierSignalMin:
		return model.TierSignal
	default:
		return model.TierNoise
	}
}

// Validate reports the first component outside its range, or "" if all
// are valid.
func (c Components) Validate() string {
	check := []struct {
		name string
		v    float64
		max  float64
	}{
		{"velocity", c.Velocity, 1},
		{"cross_platform", c.CrossPlatform, 1},
		{"engagement", c.Engagement, 1},
		{"novelty", c.Novelty, 1},
		{"weirdness", c.Weirdness, MaxWeirdnessBonus},
	}
	for _, k := range check {
		if math.IsNaN(k.v) || math.IsInf(k.v, 0) || k.v < 0 || k.v > k.max {
			return k.name
		}
	}
	return ""
}
