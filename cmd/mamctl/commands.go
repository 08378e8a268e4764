package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hupe1980/mamstore"
	"github.com/hupe1980/mamstore/internal/compress"
	"github.com/hupe1980/mamstore/internal/resource"
	"github.com/hupe1980/mamstore/snapshot"
)

func runCreate(ctx context.Context, args []string, out io.Writer) error {
	var cf commonFlags
	fs := newFlagSet("create", &cf)
	pageSize := fs.Uint("page-size", 4096, "page size in bytes (power of two, 128..65536)")
	clients := fs.Int("clients", 0, "number of clients to register")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := needArgs(fs, 1, "<file>"); err != nil {
		return err
	}

	db, err := mamstore.Create(fs.Arg(0),
		mamstore.WithPageSize(uint32(*pageSize)),
		mamstore.WithLogLevel(cf.logLevel()),
	)
	if err != nil {
		return err
	}
	for range *clients {
		id, err := db.CreateClient(ctx)
		if err != nil {
			_ = db.Close()
			return err
		}
		fmt.Fprintf(out, "client %d\n", id)
	}
	return db.Close()
}

func runInspect(ctx context.Context, args []string, out io.Writer) error {
	var cf commonFlags
	fs := newFlagSet("inspect", &cf)
	pageSize := fs.Uint("page-size", 4096, "page size in bytes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := needArgs(fs, 1, "<file>"); err != nil {
		return err
	}

	db, err := mamstore.Open(fs.Arg(0),
		mamstore.WithPageSize(uint32(*pageSize)),
		mamstore.WithLogLevel(cf.logLevel()),
	)
	if err != nil {
		return err
	}
	defer db.Close()

	st := db.Stats().Store
	fmt.Fprintf(out, "path:       %s\n", db.Path())
	fmt.Fprintf(out, "page size:  %d\n", db.PageSize())
	fmt.Fprintf(out, "pages:      %d\n", st.PageCount)
	fmt.Fprintf(out, "free:       %d\n", st.FreePages)
	fmt.Fprintf(out, "system:     %d\n", st.SystemPages)
	fmt.Fprintf(out, "clean:      %t\n", !db.UncleanOpen())
	fmt.Fprintf(out, "clients:    %d\n", st.Clients)

	for _, id := range db.Clients() {
		c, err := db.OpenClient(id)
		if err != nil {
			return err
		}
		hdr, err := c.HeaderPageID()
		_ = c.Close()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "  client %d: header page %d\n", id, hdr)
	}
	return nil
}

func runVerify(ctx context.Context, args []string, out io.Writer) error {
	var cf commonFlags
	fs := newFlagSet("verify", &cf)
	pageSize := fs.Uint("page-size", 4096, "page size in bytes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := needArgs(fs, 1, "<file>"); err != nil {
		return err
	}

	db, err := mamstore.Open(fs.Arg(0),
		mamstore.WithPageSize(uint32(*pageSize)),
		mamstore.WithLogLevel(cf.logLevel()),
	)
	if err != nil {
		return err
	}
	defer db.Close()

	r, err := db.Verify(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "pages %d, free %d, system %d\n", r.PageCount, r.Free, r.System)
	for _, id := range db.Clients() {
		fmt.Fprintf(out, "  client %d: %d pages\n", id, r.Owned[id])
	}
	for _, p := range r.Problems {
		fmt.Fprintf(out, "problem: %s\n", p)
	}
	if !r.OK() {
		return fmt.Errorf("%d problems found", len(r.Problems))
	}
	fmt.Fprintln(out, "ok")
	return nil
}

func runBackup(ctx context.Context, args []string, out io.Writer) error {
	var cf commonFlags
	fs := newFlagSet("backup", &cf)
	pageSize := fs.Uint("page-size", 4096, "page size in bytes")
	codec := fs.String("codec", "zstd", "chunk compression (none, lz4, zstd)")
	chunkPages := fs.Int("chunk-pages", snapshot.DefaultChunkPages, "pages per chunk")
	ioLimit := fs.Int64("io-limit", 0, "upload limit in bytes per second (0: unlimited)")
	name := fs.String("name", "", "snapshot name (default: snap-<unix time>)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := needArgs(fs, 2, "<file> <location>"); err != nil {
		return err
	}
	c, err := compress.ParseCodec(*codec)
	if err != nil {
		return err
	}
	if *name == "" {
		*name = fmt.Sprintf("snap-%d", time.Now().Unix())
	}

	dst, err := openLocation(ctx, fs.Arg(1), &cf)
	if err != nil {
		return err
	}

	opts := []mamstore.Option{
		mamstore.WithPageSize(uint32(*pageSize)),
		mamstore.WithLogLevel(cf.logLevel()),
		mamstore.WithSnapshotCompression(c),
		mamstore.WithSnapshotChunkPages(*chunkPages),
		mamstore.WithIOLimit(*ioLimit),
	}
	if cf.workers > 0 {
		opts = append(opts, mamstore.WithMaxWorkers(cf.workers))
	}
	db, err := mamstore.Open(fs.Arg(0), opts...)
	if err != nil {
		return err
	}
	defer db.Close()

	m, err := db.Snapshot(ctx, dst, *name)
	if err != nil {
		return err
	}
	printManifest(out, m)
	return nil
}

func runRestore(ctx context.Context, args []string, out io.Writer) error {
	var cf commonFlags
	fs := newFlagSet("restore", &cf)
	name := fs.String("name", "", "snapshot name (default: CURRENT)")
	force := fs.Bool("force", false, "replace an existing file")
	ioLimit := fs.Int64("io-limit", 0, "download limit in bytes per second (0: unlimited)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := needArgs(fs, 2, "<location> <file>"); err != nil {
		return err
	}

	src, err := openLocation(ctx, fs.Arg(0), &cf)
	if err != nil {
		return err
	}
	rc := resource.NewController(resource.Config{
		MaxWorkers:         int64(max(cf.workers, 1)),
		IOLimitBytesPerSec: *ioLimit,
	})

	m, err := snapshot.Restore(ctx, src, *name, fs.Arg(1), func(o *snapshot.Options) {
		o.Overwrite = *force
		o.Resource = rc
		o.Logger = mamstore.NewTextLogger(cf.logLevel()).Logger
	})
	if err != nil {
		return err
	}
	printManifest(out, m)
	return nil
}

func runList(ctx context.Context, args []string, out io.Writer) error {
	var cf commonFlags
	fs := newFlagSet("list", &cf)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := needArgs(fs, 1, "<location>"); err != nil {
		return err
	}

	s, err := openLocation(ctx, fs.Arg(0), &cf)
	if err != nil {
		return err
	}
	names, err := snapshot.List(ctx, s)
	if err != nil {
		return err
	}
	current, err := snapshot.Latest(ctx, s)
	if err != nil && !errors.Is(err, snapshot.ErrNoSnapshot) {
		return err
	}
	for _, n := range names {
		marker := " "
		if n == current {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %s\n", marker, n)
	}
	return nil
}

func printManifest(out io.Writer, m *snapshot.Manifest) {
	fmt.Fprintf(out, "snapshot %s: %d pages of %d bytes, %d chunks, %s, %d -> %d bytes\n",
		m.Name, m.PageCount, m.PageSize, len(m.Chunks), m.Codec, m.RawBytes(), m.StoredBytes())
}
