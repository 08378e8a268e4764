package pagecache

import (
	"log/slog"

	"github.com/hupe1980/mamstore/internal/resource"
)

// DefaultCapacity is the number of resident pages when none is configured.
const DefaultCapacity = 64

// Metrics receives cache events. Implementations must be safe for
// concurrent use.
type Metrics interface {
	RecordGet(hit bool)
	RecordWriteBack(err error)
	RecordEviction(dirty bool)
}

type noopMetrics struct{}

func (noopMetrics) RecordGet(bool)        {}
func (noopMetrics) RecordWriteBack(error) {}
func (noopMetrics) RecordEviction(bool)   {}

// Options configures a Cache.
type Options struct {
	// Capacity is the maximum number of resident pages.
	Capacity int

	// Resource optionally bounds the bytes held by resident pages. One page
	// size is reserved per entry; several caches may share a controller.
	Resource *resource.Controller

	Logger  *slog.Logger
	Metrics Metrics
}

// DefaultOptions returns the defaults used by New.
func DefaultOptions() Options {
	return Options{
		Capacity: DefaultCapacity,
		Logger:   slog.New(slog.DiscardHandler),
		Metrics:  noopMetrics{},
	}
}
