package snapshot

import (
	"log/slog"

	"github.com/hupe1980/mamstore/internal/compress"
	"github.com/hupe1980/mamstore/internal/fs"
	"github.com/hupe1980/mamstore/internal/resource"
)

// DefaultChunkPages is the number of pages per chunk.
const DefaultChunkPages = 256

// Options configures Export and Restore.
type Options struct {
	// ChunkPages is the number of pages per chunk. Defaults to DefaultChunkPages.
	ChunkPages int

	// Codec compresses chunks on export. Restore reads the codec from the
	// manifest. Defaults to compress.ZSTD.
	Codec compress.Codec

	// Resource bounds parallel chunk jobs and throttles transfer bytes.
	// Nil means one worker and no throttling.
	Resource *resource.Controller

	// Commit updates CURRENT after a successful export. Defaults to true.
	Commit bool

	// Overwrite lets Restore replace an existing file.
	Overwrite bool

	// FileSystem writes the restored file. Defaults to fs.Default.
	FileSystem fs.FileSystem

	// Logger defaults to a logger that discards everything.
	Logger *slog.Logger
}

// DefaultOptions returns the defaults used by Export and Restore.
func DefaultOptions() Options {
	return Options{
		ChunkPages: DefaultChunkPages,
		Codec:      compress.ZSTD,
		Commit:     true,
		FileSystem: fs.Default,
		Logger:     slog.New(slog.DiscardHandler),
	}
}

func buildOptions(optFns []func(*Options)) Options {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.ChunkPages <= 0 {
		opts.ChunkPages = DefaultChunkPages
	}
	if opts.FileSystem == nil {
		opts.FileSystem = fs.Default
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return opts
}
