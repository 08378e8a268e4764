// Package distcache memoizes pairwise distances among n objects.
//
// The table stores one float32 per unordered pair, n*(n-1)/2 slots in
// total; the diagonal is not stored. Pair (i, j) with i < j lives at index
// j*(j-1)/2 + i.
package distcache

import (
	"fmt"
	"math"
	"sync/atomic"
)

// PairCache is a triangular memo table. It is not safe for concurrent
// writers; hit and miss counters are atomic.
type PairCache struct {
	n     int
	slots []float32

	set    int
	hits   atomic.Int64
	misses atomic.Int64
}

// New allocates a table for n objects with every pair unset.
func New(n int) *PairCache {
	if n < 0 {
		panic(fmt.Sprintf("distcache: negative object count %d", n))
	}
	slots := make([]float32, n*(n-1)/2)
	unset := float32(math.NaN())
	for i := range slots {
		slots[i] = unset
	}
	return &PairCache{n: n, slots: slots}
}

// N returns the number of objects.
func (c *PairCache) N() int { return c.n }

// Len returns the number of pairs that have been set.
func (c *PairCache) Len() int { return c.set }

// Slots returns the table size, n*(n-1)/2.
func (c *PairCache) Slots() int { return len(c.slots) }

func (c *PairCache) index(i, j int) int {
	if i < 0 || j < 0 || i >= c.n || j >= c.n {
		panic(fmt.Sprintf("distcache: pair (%d, %d) out of range for n=%d", i, j, c.n))
	}
	if i > j {
		i, j = j, i
	}
	return j*(j-1)/2 + i
}

// Get returns the distance of (i, j) and whether it was set. The diagonal
// is always (0, true).
func (c *PairCache) Get(i, j int) (float32, bool) {
	if i == j {
		_ = c.index(i, j)
		return 0, true
	}
	d := c.slots[c.index(i, j)]
	if math.IsNaN(float64(d)) {
		return 0, false
	}
	return d, true
}

// Set records the distance of (i, j). Setting the diagonal is a no-op and
// NaN is rejected since it marks unset slots.
func (c *PairCache) Set(i, j int, d float32) {
	if i == j {
		return
	}
	if math.IsNaN(float64(d)) {
		panic("distcache: NaN distance")
	}
	k := c.index(i, j)
	if math.IsNaN(float64(c.slots[k])) {
		c.set++
	}
	c.slots[k] = d
}

// GetOrCompute returns the cached distance of (i, j), calling compute and
// storing its result on a miss.
func (c *PairCache) GetOrCompute(i, j int, compute func(i, j int) float32) float32 {
	if d, ok := c.Get(i, j); ok {
		if i != j {
			c.hits.Add(1)
		}
		return d
	}
	c.misses.Add(1)
	d := compute(i, j)
	c.Set(i, j, d)
	return d
}

// Reset marks every pair unset.
func (c *PairCache) Reset() {
	unset := float32(math.NaN())
	for i := range c.slots {
		c.slots[i] = unset
	}
	c.set = 0
	c.hits.Store(0)
	c.misses.Store(0)
}

// Stats reports lookups served from the table and distance evaluations.
type Stats struct {
	Hits   int64
	Misses int64
	Set    int
	Slots  int
}

func (c *PairCache) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Set:    c.set,
		Slots:  len(c.slots),
	}
}
