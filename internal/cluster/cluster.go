// Package cluster groups embedded questions into topic clusters.
package cluster

import (
	"context"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/abelbrown/curiosity/internal/embed"
	"github.com/abelbrown/curiosity/internal/model"
)

// Engine groups questions by topic. Implementations must not use a fixed
// cluster count.
type Engine interface {
	Cluster(ctx context.Context, questions []model.Question) (Result, error)
}

// Result holds the clusters found in one run and the questions that did
// not join any of them.
type Result struct {
	Clusters []model.Cluster
	Noise    []model.Question
}

const (
	DefaultThreshold      = 0.85
	DefaultMinClusterSize = 3
	DefaultMinSamples     = 2
)

// tieEpsilon treats centroid distances this close as equal.
const tieEpsilon = 1e-9

// DensityEngine is DBSCAN over cosine similarity. Two questions are
// neighbours when their similarity is at least Threshold; a question with
// MinSamples neighbours (itself included) is a core point. Clusters with
// fewer than MinClusterSize members are returned as noise.
//
// With MinSamples <= 2 every neighbour pair is made of core points, so
// any two questions at or above Threshold always share a cluster.
type DensityEngine struct {
	Threshold      float64
	MinClusterSize int
	MinSamples     int
}

// NewDensityEngine returns a DensityEngine; zero values take the defaults.
func NewDensityEngine(threshold float64, minClusterSize, minSamples int) *DensityEngine {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if minClusterSize <= 0 {
		minClusterSize = DefaultMinClusterSize
	}
	if minSamples <= 0 {
		minSamples = DefaultMinSamples
	}
	return &DensityEngine{Threshold: threshold, MinClusterSize: minClusterSize, MinSamples: minSamples}
}

// Cluster implements Engine. Questions without an embedding are ignored.
// Fewer embedded questions than MinClusterSize gives an empty result.
func (e *DensityEngine) Cluster(ctx context.Context, questions []model.Question) (Result, error) {
	var pts []model.Question
	for _, q := range questions {
		if len(q.Embedding) > 0 {
			pts = append(pts, q)
		}
	}

	var res Result
	if len(pts) < e.MinClusterSize {
		res.Noise = markNoise(pts)
		return res, nil
	}

	neighbors, err := e.neighbors(ctx, pts)
	if err != nil {
		return Result{}, err
	}

	const unassigned = -1
	labels := make([]int, len(pts))
	for i := range labels {
		labels[i] = unassigned
	}
	isCore := func(i int) bool { return len(neighbors[i])+1 >= e.MinSamples }

	var groups [][]int
	for i := range pts {
		if labels[i] != unassigned || !isCore(i) {
			continue
		}
		id := len(groups)
		labels[i] = id
		members := []int{i}
		queue := []int{i}
		for len(queue) > 0 {
			p := queue[0]
			queue = queue[1:]
			if !isCore(p) {
				continue
			}
			for _, n := range neighbors[p] {
				if labels[n] != unassigned {
					continue
				}
				labels[n] = id
				members = append(members, n)
				queue = append(queue, n)
			}
		}
		sort.Ints(members)
		groups = append(groups, members)
	}

	var noiseIdx []int
	for _, g := range groups {
		if len(g) < e.MinClusterSize {
			noiseIdx = append(noiseIdx, g...)
			continue
		}
		res.Clusters = append(res.Clusters, build(pts, g))
	}
	for i, l := range labels {
		if l == unassigned {
			noiseIdx = append(noiseIdx, i)
		}
	}
	sort.Ints(noiseIdx)
	for _, i := range noiseIdx {
		res.Noise = append(res.Noise, pts[i])
	}
	res.Noise = markNoise(res.Noise)

	// Ordered by engagement, then size; stable keeps discovery order.
	sort.SliceStable(res.Clusters, func(a, b int) bool {
		ca, cb := res.Clusters[a], res.Clusters[b]
		if ca.TotalEngagement != cb.TotalEngagement {
			return ca.TotalEngagement > cb.TotalEngagement
		}
		return len(ca.Members) > len(cb.Members)
	})
	for i := range res.Clusters {
		res.Clusters[i].Index = i
		for j := range res.Clusters[i].Members {
			idx := i
			res.Clusters[i].Members[j].ClusterIndex = &idx
		}
	}
	return res, nil
}

// neighbors returns, for each point, the other points within Threshold.
func (e *DensityEngine) neighbors(ctx context.Context, pts []model.Question) ([][]int, error) {
	unit := make([][]float64, len(pts))
	for i, q := range pts {
		unit[i] = unitVector(q.Embedding)
	}

	out := make([][]int, len(pts))
	for i := range pts {
		if i%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for j := i + 1; j < len(pts); j++ {
			if len(unit[i]) != len(unit[j]) {
				continue
			}
			if floats.Dot(unit[i], unit[j]) >= e.Threshold {
				out[i] = append(out[i], j)
				out[j] = append(out[j], i)
			}
		}
	}
	return out, nil
}

// build aggregates one cluster from member indexes into pts (ascending).
func build(pts []model.Question, idx []int) model.Cluster {
	c := model.Cluster{PlatformCounts: make(map[model.Platform]int)}

	vecs := make([][]float32, len(idx))
	for k, i := range idx {
		vecs[k] = pts[i].Embedding
	}
	c.Centroid = embed.Centroid(vecs)

	best := -1
	bestDist := math.Inf(1)
	for _, i := range idx {
		q := pts[i]
		q.Status = model.StatusClustered
		c.Members = append(c.Members, q)
		c.PlatformCounts[q.Platform]++
		c.TotalEngagement += q.Engagement()

		if !q.CreatedAt.IsZero() {
			if c.EarliestSeen.IsZero() || q.CreatedAt.Before(c.EarliestSeen) {
				c.EarliestSeen = q.CreatedAt
			}
			if q.CreatedAt.After(c.LatestSeen) {
				c.LatestSeen = q.CreatedAt
			}
		}

		d := 1 - float64(embed.CosineSimilarity(q.Embedding, c.Centroid))
		switch {
		case best < 0 || d < bestDist-tieEpsilon:
			best, bestDist = i, d
		case math.Abs(d-bestDist) <= tieEpsilon && earlier(q.CreatedAt, pts[best].CreatedAt):
			best = i
		}
	}
	c.CanonicalQuestion = text(pts[best])
	return c
}

// earlier reports whether a precedes b; unknown times sort last.
func earlier(a, b time.Time) bool {
	if a.IsZero() {
		return false
	}
	return b.IsZero() || a.Before(b)
}

func text(q model.Question) string {
	if q.NormalizedText != "" {
		return q.NormalizedText
	}
	return q.RawText
}

func markNoise(qs []model.Question) []model.Question {
	for i := range qs {
		qs[i].Status = model.StatusNoise
		qs[i].ClusterIndex = nil
	}
	return qs
}

// unitVector converts v to float64 and scales it to length 1. A zero
// vector stays zero.
func unitVector(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	if norm := floats.Norm(out, 2); norm > 0 {
		floats.Scale(1/norm, out)
	}
	return out
}
