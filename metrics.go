package mamstore

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// The cache events (RecordGet, RecordWriteBack, RecordEviction) are called
// with the cache lock held and must not block.
type MetricsCollector interface {
	// RecordGet is called for every cached page lookup.
	RecordGet(hit bool)

	// RecordWriteBack is called after a dirty page was written to the file.
	RecordWriteBack(err error)

	// RecordEviction is called when a page leaves the cache to make room.
	RecordEviction(dirty bool)

	// RecordAlloc is called after each GetNewPage.
	RecordAlloc(err error)

	// RecordDispose is called after each DisposePage.
	RecordDispose(err error)

	// RecordFlush is called after Flush and FlushClient.
	RecordFlush(duration time.Duration, err error)

	// RecordSnapshot is called after each Snapshot. bytes is the stored
	// (compressed) size.
	RecordSnapshot(duration time.Duration, bytes int64, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordGet(bool)                             {}
func (NoopMetricsCollector) RecordWriteBack(error)                      {}
func (NoopMetricsCollector) RecordEviction(bool)                        {}
func (NoopMetricsCollector) RecordAlloc(error)                          {}
func (NoopMetricsCollector) RecordDispose(error)                        {}
func (NoopMetricsCollector) RecordFlush(time.Duration, error)           {}
func (NoopMetricsCollector) RecordSnapshot(time.Duration, int64, error) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	CacheHits          atomic.Int64
	CacheMisses        atomic.Int64
	WriteBacks         atomic.Int64
	WriteBackErrors    atomic.Int64
	Evictions          atomic.Int64
	DirtyEvictions     atomic.Int64
	AllocCount         atomic.Int64
	AllocErrors        atomic.Int64
	DisposeCount       atomic.Int64
	DisposeErrors      atomic.Int64
	FlushCount         atomic.Int64
	FlushErrors        atomic.Int64
	FlushTotalNanos    atomic.Int64
	SnapshotCount      atomic.Int64
	SnapshotErrors     atomic.Int64
	SnapshotBytes      atomic.Int64
	SnapshotTotalNanos atomic.Int64
}

// RecordGet implements MetricsCollector.
func (b *BasicMetricsCollector) RecordGet(hit bool) {
	if hit {
		b.CacheHits.Add(1)
	} else {
		b.CacheMisses.Add(1)
	}
}

// RecordWriteBack implements MetricsCollector.
func (b *BasicMetricsCollector) RecordWriteBack(err error) {
	if err != nil {
		b.WriteBackErrors.Add(1)
		return
	}
	b.WriteBacks.Add(1)
}

// RecordEviction implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEviction(dirty bool) {
	b.Evictions.Add(1)
	if dirty {
		b.DirtyEvictions.Add(1)
	}
}

// RecordAlloc implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAlloc(err error) {
	b.AllocCount.Add(1)
	if err != nil {
		b.AllocErrors.Add(1)
	}
}

// RecordDispose implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDispose(err error) {
	b.DisposeCount.Add(1)
	if err != nil {
		b.DisposeErrors.Add(1)
	}
}

// RecordFlush implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFlush(duration time.Duration, err error) {
	b.FlushCount.Add(1)
	b.FlushTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.FlushErrors.Add(1)
	}
}

// RecordSnapshot implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSnapshot(duration time.Duration, bytes int64, err error) {
	b.SnapshotCount.Add(1)
	b.SnapshotTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SnapshotErrors.Add(1)
		return
	}
	b.SnapshotBytes.Add(bytes)
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		CacheHits:        b.CacheHits.Load(),
		CacheMisses:      b.CacheMisses.Load(),
		WriteBacks:       b.WriteBacks.Load(),
		WriteBackErrors:  b.WriteBackErrors.Load(),
		Evictions:        b.Evictions.Load(),
		DirtyEvictions:   b.DirtyEvictions.Load(),
		AllocCount:       b.AllocCount.Load(),
		AllocErrors:      b.AllocErrors.Load(),
		DisposeCount:     b.DisposeCount.Load(),
		DisposeErrors:    b.DisposeErrors.Load(),
		FlushCount:       b.FlushCount.Load(),
		FlushErrors:      b.FlushErrors.Load(),
		FlushAvgNanos:    avg(b.FlushTotalNanos.Load(), b.FlushCount.Load()),
		SnapshotCount:    b.SnapshotCount.Load(),
		SnapshotErrors:   b.SnapshotErrors.Load(),
		SnapshotBytes:    b.SnapshotBytes.Load(),
		SnapshotAvgNanos: avg(b.SnapshotTotalNanos.Load(), b.SnapshotCount.Load()),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	CacheHits        int64
	CacheMisses      int64
	WriteBacks       int64
	WriteBackErrors  int64
	Evictions        int64
	DirtyEvictions   int64
	AllocCount       int64
	AllocErrors      int64
	DisposeCount     int64
	DisposeErrors    int64
	FlushCount       int64
	FlushErrors      int64
	FlushAvgNanos    int64
	SnapshotCount    int64
	SnapshotErrors   int64
	SnapshotBytes    int64
	SnapshotAvgNanos int64
}

// HitRate returns the cache hit ratio, or 0 before the first lookup.
func (s BasicMetricsStats) HitRate() float64 {
	total := s.CacheHits + s.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(total)
}
