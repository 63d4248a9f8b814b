// Package history matches this run's clusters against topics from earlier
// runs of the same tenant.
package history

import (
	"strings"

	"github.com/coder/hnsw"

	"github.com/abelbrown/curiosity/internal/embed"
	"github.com/abelbrown/curiosity/internal/logging"
	"github.com/abelbrown/curiosity/internal/model"
)

// DefaultThreshold is the centroid similarity at which a prior topic counts
// as the same topic.
const DefaultThreshold = 0.85

// exactScanLimit is the history size above which candidates come from
// the HNSW graph instead of a full scan.
const exactScanLimit = 256

// searchK is how many graph candidates are re-verified per lookup.
const searchK = 16

// Match is the history of one topic.
type Match struct {
	SeenBefore bool
	PriorCount int    // question count in the most recent prior run, 0 if absent there
	PriorWeek  string // most recent week the topic was seen
}

// Matcher answers lookups against a fixed set of prior clusters.
type Matcher struct {
	threshold float64
	priors    []model.PriorCluster
	latest    model.Week
	hasLatest bool
	dims      int
	graph     *hnsw.Graph[int] // prior index -> centroid; nil for small histories
	byKey     map[string][]int
}

// NewMatcher indexes priors. threshold <= 0 uses DefaultThreshold.
func NewMatcher(priors []model.PriorCluster, threshold float64) *Matcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	m := &Matcher{
		threshold: threshold,
		priors:    priors,
		byKey:     make(map[string][]int),
	}

	withCentroid := 0
	for i, p := range priors {
		if !m.hasLatest || m.latest.Before(p.Week) {
			m.latest, m.hasLatest = p.Week, true
		}
		m.byKey[TopicKey(p.CanonicalQuestion)] = append(m.byKey[TopicKey(p.CanonicalQuestion)], i)
		if len(p.Centroid) > 0 {
			if m.dims == 0 {
				m.dims = len(p.Centroid)
			}
			withCentroid++
		}
	}

	if withCentroid > exactScanLimit {
		m.graph = m.buildGraph()
	}
	return m
}

func (m *Matcher) buildGraph() (g *hnsw.Graph[int]) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("HNSW panic recovered while indexing history", "error", r)
			g = nil
		}
	}()

	g = hnsw.NewGraph[int]()
	g.Distance = hnsw.CosineDistance
	g.M = 16
	g.EfSearch = 64
	for i, p := range m.priors {
		if len(p.Centroid) != m.dims {
			continue
		}
		g.Add(hnsw.MakeNode(i, p.Centroid))
	}
	return g
}

// Len returns the number of prior clusters.
func (m *Matcher) Len() int {
	return len(m.priors)
}

// Lookup finds prior clusters for a topic by centroid similarity, or by
// canonical-question key.
func (m *Matcher) Lookup(canonical string, centroid []float32) Match {
	var match Match
	if len(m.priors) == 0 {
		return match
	}

	bestSim := -1.0
	var mostRecent model.Week
	consider := func(i int, sim float64) {
		p := m.priors[i]
		if !match.SeenBefore || mostRecent.Before(p.Week) {
			mostRecent = p.Week
		}
		match.SeenBefore = true
		if m.hasLatest && p.Week == m.latest && sim > bestSim {
			bestSim = sim
			match.PriorCount = p.QuestionCount
		}
	}

	seen := make(map[int]bool)
	if key := TopicKey(canonical); key != "" {
		for _, i := range m.byKey[key] {
			seen[i] = true
			consider(i, 1.0)
		}
	}

	if len(centroid) > 0 {
		for _, i := range m.candidates(centroid) {
			if seen[i] {
				continue
			}
			p := m.priors[i]
			if len(p.Centroid) != len(centroid) {
				continue
			}
			sim := float64(embed.CosineSimilarity(centroid, p.Centroid))
			if sim >= m.threshold {
				seen[i] = true
				consider(i, sim)
			}
		}
	}

	if match.SeenBefore {
		match.PriorWeek = mostRecent.String()
	}
	return match
}

// candidates returns prior indexes worth verifying exactly.
func (m *Matcher) candidates(centroid []float32) (out []int) {
	if m.graph == nil || len(centroid) != m.dims {
		for i, p := range m.priors {
			if len(p.Centroid) > 0 {
				out = append(out, i)
			}
		}
		return out
	}

	defer func() {
		if r := recover(); r != nil {
			logging.Error("HNSW panic recovered in history lookup", "error", r)
			out = nil
		}
	}()
	for _, n := range m.graph.Search(centroid, searchK) {
		out = append(out, n.Key)
	}
	return out
}

// TopicKey is the fallback identity of a topic: the first 50 characters of
// the canonical question, lower-cased.
func TopicKey(canonical string) string {
	k := strings.ToLower(strings.TrimSpace(canonical))
	if r := []rune(k); len(r) > 50 {
		k = string(r[:50])
	}
	return strings.TrimSpace(k)
}
