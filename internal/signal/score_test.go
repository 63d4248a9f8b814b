package signal

import (
	"math"
	"testing"

	"github.com/abelbrown/curiosity/internal/model"
)

const eps = 1e-9

func near(a, b float64) bool { return math.Abs(a-b) < eps }

func TestVelocityScore(t *testing.T) {
	tests := []struct {
		pct  float64
		want float64
	}{
		{250, 1.0},
		{150, 1.0},
		{100, 1.0},
		{80, 0.9},
		{50, 0.75},
		{0, 0.5},
		{-25, 0.25},
		{-50, 0.0},
		{-90, 0.0},
	}
	for _, tt := range tests {
		if got := VelocityScore(tt.pct); !near(got, tt.want) {
			t.Errorf("VelocityScore(%v) = %v, want %v", tt.pct, got, tt.want)
		}
	}
}

func TestVelocity(t *testing.T) {
	score, pct := Velocity(12, 0)
	if score != 0.8 || pct != 100 {
		t.Errorf("new topic velocity = (%v, %v), want (0.8, 100)", score, pct)
	}

	score, pct = Velocity(9, 5)
	if !near(pct, 80) || !near(score, 0.9) {
		t.Errorf("Velocity(9, 5) = (%v, %v), want (0.9, 80)", score, pct)
	}

	score, pct = Velocity(2, 8)
	if !near(pct, -75) || score != 0 {
		t.Errorf("Velocity(2, 8) = (%v, %v), want (0, -75)", score, pct)
	}
}

func TestEngagementScore(t *testing.T) {
	tests := []struct {
		total, max int
		want       float64
	}{
		{50, 100, 0.5},
		{100, 100, 1.0},
		{0, 100, 0.0},
		{10, 0, 0.0},
	}
	for _, tt := range tests {
		if got := EngagementScore(tt.total, tt.max); !near(got, tt.want) {
			t.Errorf("EngagementScore(%d, %d) = %v, want %v", tt.total, tt.max, got, tt.want)
		}
	}
}

func TestNoveltyScore(t *testing.T) {
	if NoveltyScore(false) != 1.0 || NoveltyScore(true) != 0.3 {
		t.Error("novelty must be binary 1.0 / 0.3")
	}
}

func TestWeirdnessBonus(t *testing.T) {
	tests := []struct {
		name                             string
		platforms, engagement, questions int
		want                             float64
	}{
		{"three platforms", 3, 0, 5, 0.20},
		{"four platforms high engagement", 4, 10000, 5, 0.20},
		{"high average engagement", 2, 510, 10, 0.10},
		{"exactly fifty is not enough", 1, 500, 10, 0.0},
		{"low engagement", 2, 100, 10, 0.0},
		{"no questions", 1, 100, 0, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WeirdnessBonus(tt.platforms, tt.engagement, tt.questions); !near(got, tt.want) {
				t.Errorf("WeirdnessBonus() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTierFor(t *testing.T) {
	tests := []struct {
		score float64
		want  model.Tier
	}{
		{1.0, model.TierBreakout},
		{0.85, model.TierBreakout},
		{0.8499, model.TierStrong},
		{0.75, model.TierStrong},
		{0.7499, model.TierSignal},
		{0.70, model.TierSignal},
		{0.6999, model.TierNoise},
		{0.0, model.TierNoise},
	}
	for _, tt := range tests {
		if got := TierFor(tt.score); got != tt.want {
			t.Errorf("TierFor(%v) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestCombineBoundedAndEqualsWeightedSum(t *testing.T) {
	values := []float64{0, 0.3, 0.5, 0.7, 1}
	bonuses := []float64{0, 0.1, 0.2}
	for _, v := range values {
		for _, x := range values {
			for _, e := range values {
				for _, n := range []float64{0.3, 1} {
					for _, w := range bonuses {
						c := Components{Velocity: v, CrossPlatform: x, Engagement: e, Novelty: n, Weirdness: w}
						sum := v*0.35 + x*0.25 + e*0.20 + n*0.20 + w
						if !near(WeightedSum(c), sum) {
							t.Fatalf("WeightedSum(%+v) = %v, want %v", c, WeightedSum(c), sum)
						}
						got := Combine(c)
						if got < 0 || got > 1 {
							t.Fatalf("Combine(%+v) = %v outside [0,1]", c, got)
						}
						if sum <= 1 && !near(got, sum) {
							t.Fatalf("Combine(%+v) = %v, want uncapped %v", c, got, sum)
						}
					}
				}
			}
		}
	}
}

func TestScenarioBreakout(t *testing.T) {
	c := Components{
		Velocity:      VelocityScore(150),
		CrossPlatform: 1.0,
		Engagement:    0.9,
		Novelty:       NoveltyScore(false),
		Weirdness:     WeirdnessBonus(3, 0, 10),
	}
	final := Combine(c)
	if final != 1.0 {
		t.Errorf("final = %v, want capped 1.0", final)
	}
	if TierFor(final) != model.TierBreakout {
		t.Errorf("tier = %q, want breakout", TierFor(final))
	}
	if final < TierSignalMin {
		t.Error("should be a signal")
	}
}

func TestScenarioSeenBeforeNoise(t *testing.T) {
	c := Components{
		Velocity:      VelocityScore(80),
		CrossPlatform: 0.7,
		Engagement:    0.6,
		Novelty:       NoveltyScore(true),
		Weirdness:     0,
	}
	final := Combine(c)
	if !near(final, 0.67) {
		t.Errorf("final = %v, want 0.67", final)
	}
	if TierFor(final) != model.TierNoise {
		t.Errorf("tier = %q, want noise", TierFor(final))
	}
	if final >= TierSignalMin {
		t.Error("should not be a signal")
	}
}

func TestComponentsValidate(t *testing.T) {
	good := Components{Velocity: 1, CrossPlatform: 0.7, Engagement: 0.2, Novelty: 0.3, Weirdness: 0.2}
	if bad := good.Validate(); bad != "" {
		t.Errorf("Validate() = %q for valid components", bad)
	}
	tests := []struct {
		c    Components
		want string
	}{
		{Components{Velocity: math.NaN()}, "velocity"},
		{Components{Engagement: -0.5}, "engagement"},
		{Components{Weirdness: 0.3}, "weirdness"},
		{Components{CrossPlatform: math.Inf(1)}, "cross_platform"},
	}
	for _, tt := range tests {
		if got := tt.c.Validate(); got != tt.want {
			t.Errorf("Validate(%+v) = %q, want %q", tt.c, got, tt.want)
		}
	}
}
