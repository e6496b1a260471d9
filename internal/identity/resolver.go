// Package identity matches a freshly captured face against the enrolled
// member photos.
package identity

import (
	"context"
	"os"

	"gymkiosk/internal/metrics"
	"gymkiosk/internal/model"
)

// DefaultThreshold is the distance cutoff below which two faces count as
// the same identity.
const DefaultThreshold = 0.6

// Result is the outcome of a scan. Member is nil when nothing matched.
// Distance is nil when the accepting comparison was boolean-only.
type Result struct {
	Member   *model.Member
	Distance *float64
	Compared int
}

// Progress reports scan progress to the caller after each member.
type Progress func(done, total int)

// Resolver linearly scans enrolled members for the probe's owner.
type Resolver struct {
	matcher   Matcher
	threshold float64
}

// NewResolver builds a resolver over the given matcher.
func NewResolver(matcher Matcher, threshold float64) *Resolver {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Resolver{matcher: matcher, threshold: threshold}
}

// Resolve scans members in listing order. Members without a readable
// stored photo are skipped. The scan stops early at the first distance
// at or under the threshold, or immediately on a boolean-only positive
// verdict. Otherwise the smallest distance seen wins, subject to the
// same threshold. The tie-break is therefore scan-order dependent.
func (r *Resolver) Resolve(ctx context.Context, probePath string, members []model.Member, progress Progress) (Result, error) {
	var (
		best     *model.Member
		bestDist float64
		haveBest bool
		compared int
	)

	total := len(members)
	for i := range members {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if progress != nil {
			progress(i+1, total)
		}

		m := &members[i]
		if m.ImagePath == "" || !readable(m.ImagePath) {
			continue
		}

		cmp := r.matcher.Match(ctx, probePath, m.ImagePath)
		compared++
		metrics.FaceComparisons.Inc()

		if cmp.Distance == nil {
			if cmp.Match {
				metrics.Resolutions.WithLabelValues("match").Inc()
				return Result{Member: m, Compared: compared}, nil
			}
			continue
		}

		d := *cmp.Distance
		if !haveBest || d < bestDist {
			bestDist = d
			best = m
			haveBest = true
		}
		if d <= r.threshold {
			metrics.Resolutions.WithLabelValues("match").Inc()
			return Result{Member: m, Distance: &d, Compared: compared}, nil
		}
	}

	// The best seen still has to clear the threshold.
	if haveBest && bestDist <= r.threshold {
		metrics.Resolutions.WithLabelValues("match").Inc()
		return Result{Member: best, Distance: &bestDist, Compared: compared}, nil
	}

	metrics.Resolutions.WithLabelValues("no_match").Inc()
	return Result{Compared: compared}, nil
}

func readable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
