// Package triangulate measures cross-platform consensus for a cluster.
package triangulate

import (
	"sort"

	"github.com/abelbrown/curiosity/internal/model"
)

// Result is the consensus for one cluster.
type Result struct {
	Platforms []model.Platform // distinct, sorted
	Count     int
	Score     float64
}

// Score maps a distinct platform count onto the step function
// 3+ => 1.0, 2 => 0.7, otherwise 0.0.
func Score(platforms int) float64 {
	switch {
	case platforms >= 3:
		return 1.0
	case platforms == 2:
		return 0.7
	default:
		return 0.0
	}
}

// Triangulate counts distinct platforms among members created inside
// window. Members with an unknown creation time are counted. When members
// is nil the cluster's own members are used.
func Triangulate(c model.Cluster, members []model.Question, window model.Window) Result {
	if members == nil {
		members = c.Members
	}

	seen := make(map[model.Platform]bool)
	for _, m := range members {
		if m.Platform == "" || !window.Contains(m.CreatedAt) {
			continue
		}
		seen[m.Platform] = true
	}

	platforms := make([]model.Platform, 0, len(seen))
	for p := range seen {
		platforms = append(platforms, p)
	}
	sort.Slice(platforms, func(i, j int) bool { return platforms[i] < platforms[j] })

	return Result{
		Platforms: platforms,
		Count:     len(platforms),
		Score:     Score(len(platforms)),
	}
}
