// Package vpsplit chooses vantage points and splits object sets by median
// distance, the step a metric tree runs when a node overflows.
//
// Objects are addressed by index in [0, n). All distance evaluations go
// through a distcache.PairCache, so repeated passes over the same subset
// (pivot selection, then partitioning, then recursive splits) evaluate each
// pair at most once.
package vpsplit

import (
	"errors"
	"slices"

	"github.com/hupe1980/mamstore/distcache"
)

// ErrNoCandidates is returned when there is nothing to choose from.
var ErrNoCandidates = errors.New("no vantage point candidates")

// DistFunc returns the distance between objects i and j.
type DistFunc func(i, j int) float32

// SelectVantagePoint returns the candidate whose distances to members have
// the largest variance. Ties go to the earliest candidate.
func SelectVantagePoint(candidates, members []int, dist DistFunc, cache *distcache.PairCache) (int, error) {
	if len(candidates) == 0 {
		return -1, ErrNoCandidates
	}

	best, bestVar := candidates[0], -1.0
	for _, c := range candidates {
		var sum, sumSq float64
		n := 0
		for _, m := range members {
			if m == c {
				continue
			}
			d := float64(cache.GetOrCompute(c, m, dist))
			sum += d
			sumSq += d * d
			n++
		}
		v := 0.0
		if n > 0 {
			mean := sum / float64(n)
			v = sumSq/float64(n) - mean*mean
		}
		if v > bestVar {
			best, bestVar = c, v
		}
	}
	return best, nil
}

// Split is the result of Partition.
type Split struct {
	Vantage int
	// Radius is the median distance from the vantage point. Inner members
	// are at distance <= Radius, outer members at >= Radius.
	Radius float32
	Inner  []int
	Outer  []int
}

// Partition splits members other than vp into two halves around the median
// distance from vp. Inner gets the extra member when the count is odd.
func Partition(vp int, members []int, dist DistFunc, cache *distcache.PairCache) Split {
	type item struct {
		idx int
		d   float32
	}
	items := make([]item, 0, len(members))
	for _, m := range members {
		if m == vp {
			continue
		}
		items = append(items, item{m, cache.GetOrCompute(vp, m, dist)})
	}
	slices.SortStableFunc(items, func(a, b item) int {
		switch {
		case a.d < b.d:
			return -1
		case a.d > b.d:
			return 1
		}
		return 0
	})

	s := Split{Vantage: vp}
	if len(items) == 0 {
		return s
	}
	k := (len(items) + 1) / 2
	s.Radius = items[k-1].d
	for i, it := range items {
		if i < k {
			s.Inner = append(s.Inner, it.idx)
		} else {
			s.Outer = append(s.Outer, it.idx)
		}
	}
	return s
}

// Bucketize splits members recursively until every group has at most
// maxGroup members. Each split uses the best of up to sample candidates.
// Vantage points stay in the group they were chosen from (the inner side).
func Bucketize(members []int, maxGroup, sample int, dist DistFunc, cache *distcache.PairCache) [][]int {
	if maxGroup < 2 {
		maxGroup = 2
	}
	if sample < 1 {
		sample = 1
	}

	var out [][]int
	var rec func(group []int)
	rec = func(group []int) {
		if len(group) <= maxGroup {
			out = append(out, group)
			return
		}
		candidates := group[:min(sample, len(group))]
		vp, _ := SelectVantagePoint(candidates, group, dist, cache)
		s := Partition(vp, group, dist, cache)
		rec(append([]int{vp}, s.Inner...))
		rec(s.Outer)
	}
	rec(slices.Clone(members))
	return out
}
