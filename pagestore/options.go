package pagestore

import (
	"log/slog"

	"github.com/hupe1980/mamstore/internal/fs"
	"github.com/hupe1980/mamstore/page"
)

// Options configures a DiskStore.
type Options struct {
	// PageSize is the fixed page size. It is not recorded in the file and
	// must match on every Open. Defaults to page.DefaultSize.
	PageSize uint32

	// FileSystem opens the backing file. Defaults to fs.Default.
	FileSystem fs.FileSystem

	// Logger receives lifecycle and inconsistency messages.
	// Defaults to a logger that discards everything.
	Logger *slog.Logger

	// TruncateOnClose trims free pages at the end of the file on Close.
	TruncateOnClose bool
}

// DefaultOptions returns the defaults used by NewDiskStore.
func DefaultOptions() Options {
	return Options{
		PageSize:   page.DefaultSize,
		FileSystem: fs.Default,
		Logger:     slog.New(slog.DiscardHandler),
	}
}
