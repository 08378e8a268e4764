package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/hupe1980/mamstore/blobstore"
	"github.com/hupe1980/mamstore/internal/compress"
	"github.com/hupe1980/mamstore/internal/hash"
	"github.com/hupe1980/mamstore/internal/resource"
	"golang.org/x/sync/errgroup"
)

// Latest returns the snapshot name recorded in CURRENT.
func Latest(ctx context.Context, s blobstore.Store) (string, error) {
	data, err := blobstore.ReadAll(ctx, s, blobstore.CurrentName)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return "", ErrNoSnapshot
		}
		return "", err
	}
	name := strings.TrimSpace(string(data))
	if name == "" {
		return "", ErrNoSnapshot
	}
	return name, nil
}

// ReadManifest loads and validates the manifest of a snapshot. An empty
// name means the one in CURRENT.
func ReadManifest(ctx context.Context, s blobstore.Store, name string) (*Manifest, error) {
	if name == "" {
		var err error
		if name, err = Latest(ctx, s); err != nil {
			return nil, err
		}
	}
	data, err := blobstore.ReadAll(ctx, s, manifestPath(name))
	if err != nil {
		return nil, fmt.Errorf("read manifest of %s: %w", name, err)
	}
	m := &Manifest{}
	if err := m.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("manifest of %s: %w", name, err)
	}
	return m, nil
}

// List returns the names of complete snapshots, sorted.
func List(ctx context.Context, s blobstore.Store) ([]string, error) {
	names, err := s.List(ctx, "")
	if err != nil {
		return nil, err
	}
	var out []string
	for _, n := range names {
		if snap, ok := strings.CutSuffix(n, "/"+manifestName); ok && !strings.Contains(snap, "/") {
			out = append(out, snap)
		}
	}
	return out, nil
}

// Delete removes a snapshot. The manifest goes first so a partial delete
// leaves an incomplete, ignored snapshot.
func Delete(ctx context.Context, s blobstore.Store, name string) error {
	m, err := ReadManifest(ctx, s, name)
	if err != nil {
		return err
	}
	if err := s.Delete(ctx, manifestPath(m.Name)); err != nil {
		return err
	}
	return cleanup(ctx, s, m)
}

// Restore writes the snapshot into a new page file at dstPath. An empty name
// means the one in CURRENT. Every chunk is checked against its CRC before
// the file is renamed into place.
func Restore(ctx context.Context, src blobstore.Store, name, dstPath string, optFns ...func(*Options)) (*Manifest, error) {
	opts := buildOptions(optFns)
	start := time.Now()

	m, err := ReadManifest(ctx, src, name)
	if err != nil {
		return nil, err
	}
	log := opts.Logger.With("snapshot", m.Name, "path", dstPath)

	if !opts.Overwrite {
		if _, err := opts.FileSystem.Stat(dstPath); err == nil {
			return nil, fmt.Errorf("restore %s: %w", dstPath, fs.ErrExist)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	tmpPath := dstPath + ".restore"
	f, err := opts.FileSystem.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*Manifest, error) {
		log.Warn("snapshot restore failed", "error", err)
		return nil, errors.Join(err, f.Close(), opts.FileSystem.Remove(tmpPath))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Resource.Workers())
	for i, c := range m.Chunks {
		g.Go(func() error {
			if err := opts.Resource.AcquireWorker(gctx); err != nil {
				return err
			}
			defer opts.Resource.ReleaseWorker()

			// Decoded chunks count against the memory budget until written.
			rawBytes := int64(c.Pages) * int64(m.PageSize)
			if err := opts.Resource.AcquireMemory(gctx, rawBytes); err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			defer opts.Resource.ReleaseMemory(rawBytes)

			raw, err := fetchChunk(gctx, src, c, m, opts)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			_, err = f.WriteAt(raw, int64(c.FirstPage)*int64(m.PageSize))
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return fail(err)
	}
	if err := f.Sync(); err != nil {
		return fail(err)
	}
	if err := f.Close(); err != nil {
		return nil, errors.Join(err, opts.FileSystem.Remove(tmpPath))
	}
	if err := opts.FileSystem.Rename(tmpPath, dstPath); err != nil {
		return nil, errors.Join(err, opts.FileSystem.Remove(tmpPath))
	}

	log.Info("snapshot restored",
		"pages", m.PageCount,
		"bytes", m.RawBytes(),
		"duration", time.Since(start),
	)
	return m, nil
}

func fetchChunk(ctx context.Context, src blobstore.Store, c ChunkInfo, m *Manifest, opts Options) ([]byte, error) {
	b, err := src.Open(ctx, c.Name)
	if err != nil {
		return nil, err
	}
	defer b.Close()

	if size := b.Size(); uint64(size) != c.Stored {
		return nil, fmt.Errorf("%w: %s is %d bytes, manifest says %d", ErrCorrupt, c.Name, size, c.Stored)
	}
	r, err := b.ReadRange(ctx, 0, b.Size())
	if err != nil {
		return nil, err
	}
	defer r.Close()

	block, err := io.ReadAll(resource.NewReader(ctx, r, opts.Resource))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", c.Name, err)
	}
	if uint64(len(block)) != c.Stored {
		return nil, fmt.Errorf("%w: %s read %d bytes, manifest says %d", ErrCorrupt, c.Name, len(block), c.Stored)
	}
	if hash.CRC32C(block) != c.CRC {
		return nil, fmt.Errorf("%w: %s checksum mismatch", ErrCorrupt, c.Name)
	}
	raw, err := compress.Decode(block, m.Codec)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, c.Name, err)
	}
	if want := int(c.Pages) * int(m.PageSize); len(raw) != want {
		return nil, fmt.Errorf("%w: %s decodes to %d bytes, want %d", ErrCorrupt, c.Name, len(raw), want)
	}
	return raw, nil
}
