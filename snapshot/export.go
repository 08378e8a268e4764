package snapshot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/mamstore/blobstore"
	"github.com/hupe1980/mamstore/internal/compress"
	"github.com/hupe1980/mamstore/internal/hash"
	"github.com/hupe1980/mamstore/page"
	"golang.org/x/sync/errgroup"
)

// Source is a page file that can be read page by page.
// *pagestore.DiskStore implements it.
type Source interface {
	PageSize() uint32
	ForEachPage(fn func(id page.PageID, data []byte) error) error
}

// Export copies every page of src into dst under name and returns the
// written manifest. The source is read in one pass; a DiskStore stays locked
// for the duration, which makes the copy point-in-time.
func Export(ctx context.Context, src Source, dst blobstore.Store, name string, optFns ...func(*Options)) (*Manifest, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	opts := buildOptions(optFns)
	log := opts.Logger.With("snapshot", name)

	if exists, err := manifestExists(ctx, dst, name); err != nil {
		return nil, err
	} else if exists {
		return nil, fmt.Errorf("%w: %s", ErrExists, name)
	}

	start := time.Now()
	pageSize := src.PageSize()
	chunkBytes := opts.ChunkPages * int(pageSize)

	m := &Manifest{
		Name:      name,
		CreatedAt: start.UTC(),
		PageSize:  pageSize,
		Codec:     opts.Codec,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Resource.Workers())

	var (
		buf    []byte
		first  uint32
		chunks []*ChunkInfo
	)
	flush := func() {
		idx := len(chunks)
		info := &ChunkInfo{
			Name:      chunkPath(name, idx),
			FirstPage: first,
			Pages:     uint32(len(buf) / int(pageSize)),
		}
		chunks = append(chunks, info)

		raw := buf
		buf = nil
		g.Go(func() error {
			if err := opts.Resource.AcquireWorker(gctx); err != nil {
				return err
			}
			defer opts.Resource.ReleaseWorker()

			stored, sum, err := putChunk(gctx, dst, info.Name, raw, opts)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", idx, err)
			}
			info.Stored = stored
			info.CRC = sum
			return nil
		})
	}

	err := src.ForEachPage(func(id page.PageID, data []byte) error {
		if err := gctx.Err(); err != nil {
			return err
		}
		if buf == nil {
			buf = make([]byte, 0, chunkBytes)
			first = uint32(id)
		}
		buf = append(buf, data...)
		m.PageCount++
		if len(buf) == chunkBytes {
			flush()
		}
		return nil
	})
	if err == nil && len(buf) > 0 {
		flush()
	}
	if gerr := g.Wait(); err == nil {
		err = gerr
	}
	for _, c := range chunks {
		m.Chunks = append(m.Chunks, *c)
	}
	if err != nil {
		log.Warn("snapshot export failed", "error", err)
		return nil, errors.Join(err, cleanup(context.WithoutCancel(ctx), dst, m))
	}

	data, err := m.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if err := putManifest(ctx, dst, name, data); err != nil {
		return nil, err
	}
	if opts.Commit {
		if err := dst.Put(ctx, blobstore.CurrentName, []byte(name)); err != nil {
			return nil, fmt.Errorf("commit %s: %w", name, err)
		}
	}

	log.Info("snapshot exported",
		"pages", m.PageCount,
		"chunks", len(m.Chunks),
		"raw_bytes", m.RawBytes(),
		"stored_bytes", m.StoredBytes(),
		"codec", m.Codec,
		"duration", time.Since(start),
	)
	return m, nil
}

func putChunk(ctx context.Context, dst blobstore.Store, name string, raw []byte, opts Options) (uint64, uint32, error) {
	block, err := compress.Encode(raw, opts.Codec)
	if err != nil {
		return 0, 0, err
	}
	if err := opts.Resource.WaitIO(ctx, len(block)); err != nil {
		return 0, 0, err
	}
	if err := dst.Put(ctx, name, block); err != nil {
		return 0, 0, err
	}
	return uint64(len(block)), hash.CRC32C(block), nil
}

func putManifest(ctx context.Context, dst blobstore.Store, name string, data []byte) error {
	p := manifestPath(name)
	if cp, ok := dst.(blobstore.ConditionalPutter); ok {
		err := cp.PutIfNotExists(ctx, p, data)
		if errors.Is(err, blobstore.ErrExists) {
			return fmt.Errorf("%w: %s", ErrExists, name)
		}
		return err
	}
	return dst.Put(ctx, p, data)
}

func manifestExists(ctx context.Context, s blobstore.Store, name string) (bool, error) {
	b, err := s.Open(ctx, manifestPath(name))
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, b.Close()
}

// cleanup removes the chunks of a failed export.
func cleanup(ctx context.Context, dst blobstore.Store, m *Manifest) error {
	var errs []error
	for _, c := range m.Chunks {
		if err := dst.Delete(ctx, c.Name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func checkName(name string) error {
	if name == "" || name == blobstore.CurrentName || strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("%w: snapshot name %q", blobstore.ErrInvalidName, name)
	}
	return nil
}
