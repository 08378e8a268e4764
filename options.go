package mamstore

import (
	"log/slog"
	"runtime"

	"github.com/hupe1980/mamstore/internal/compress"
	"github.com/hupe1980/mamstore/internal/resource"
	"github.com/hupe1980/mamstore/page"
	"github.com/hupe1980/mamstore/pagecache"
	"github.com/hupe1980/mamstore/snapshot"
)

// Compression selects the chunk codec used by Snapshot.
type Compression = compress.Codec

const (
	CompressionNone = compress.None
	CompressionLZ4  = compress.LZ4
	CompressionZSTD = compress.ZSTD
)

type options struct {
	pageSize           uint32
	cacheCapacity      int
	memoryLimit        int64
	maxWorkers         int
	ioLimit            int64
	truncateOnClose    bool
	snapshotCodec      Compression
	snapshotChunkPages int
	metricsCollector   MetricsCollector
	logger             *Logger
}

// Option configures Create, Open and Restore.
type Option func(*options)

// WithPageSize sets the fixed page size. It must be a power of two between
// 128 and 65536 and must match the size the file was created with, which is
// not recorded in the file. Default: 4096.
func WithPageSize(size uint32) Option {
	return func(o *options) {
		o.pageSize = size
	}
}

// WithCacheCapacity sets the number of pages the write-back cache keeps
// resident. Default: 64.
func WithCacheCapacity(pages int) Option {
	return func(o *options) {
		o.cacheCapacity = pages
	}
}

// WithMemoryLimit bounds the bytes held by cached pages. When the budget is
// exhausted the cache evicts early and falls back to write-through.
// 0 means unlimited.
func WithMemoryLimit(bytes int64) Option {
	return func(o *options) {
		o.memoryLimit = bytes
	}
}

// WithMaxWorkers bounds the parallel chunk jobs of Snapshot and Restore.
// Default: GOMAXPROCS.
func WithMaxWorkers(n int) Option {
	return func(o *options) {
		o.maxWorkers = n
	}
}

// WithIOLimit throttles snapshot transfers to bytesPerSec. 0 means unlimited.
func WithIOLimit(bytesPerSec int64) Option {
	return func(o *options) {
		o.ioLimit = bytesPerSec
	}
}

// WithTruncateOnClose trims free pages at the end of the file on Close.
func WithTruncateOnClose(enabled bool) Option {
	return func(o *options) {
		o.truncateOnClose = enabled
	}
}

// WithSnapshotCompression sets the chunk codec used by Snapshot.
// Default: CompressionZSTD.
func WithSnapshotCompression(c Compression) Option {
	return func(o *options) {
		o.snapshotCodec = c
	}
}

// WithSnapshotChunkPages sets how many pages go into one snapshot chunk.
func WithSnapshotChunkPages(n int) Option {
	return func(o *options) {
		o.snapshotChunkPages = n
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &mamstore.BasicMetricsCollector{}
//	db, _ := mamstore.Open("index.pages", mamstore.WithMetricsCollector(metrics))
//	// ... use db ...
//	stats := metrics.GetStats()
//	fmt.Printf("hit rate: %.2f\n", stats.HitRate())
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := mamstore.NewJSONLogger(slog.LevelInfo)
//	db, _ := mamstore.Open("index.pages", mamstore.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		pageSize:           page.DefaultSize,
		cacheCapacity:      pagecache.DefaultCapacity,
		maxWorkers:         runtime.GOMAXPROCS(0),
		snapshotCodec:      CompressionZSTD,
		snapshotChunkPages: snapshot.DefaultChunkPages,
		metricsCollector:   NoopMetricsCollector{},
		logger:             NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	return o
}

func (o *options) resourceConfig() resource.Config {
	return resource.Config{
		MemoryLimitBytes:   o.memoryLimit,
		MaxWorkers:         int64(o.maxWorkers),
		IOLimitBytesPerSec: o.ioLimit,
	}
}
