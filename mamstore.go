package mamstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/mamstore/blobstore"
	"github.com/hupe1980/mamstore/internal/resource"
	"github.com/hupe1980/mamstore/page"
	"github.com/hupe1980/mamstore/pagecache"
	"github.com/hupe1980/mamstore/pagestore"
	"github.com/hupe1980/mamstore/snapshot"
)

// DB is a page file shared by several clients with a write-back cache in
// front of it.
type DB struct {
	mu     sync.RWMutex
	closed bool

	store *pagestore.DiskStore
	cache *pagecache.Cache
	pages pagestore.Store
	rc    *resource.Controller

	opts    options
	metrics MetricsCollector
	logger  *Logger
}

// Stats is a point-in-time view of the store and its cache.
type Stats struct {
	Store pagestore.DiskStats
	Cache pagecache.Stats

	// MemoryUsage is the number of bytes held by cached pages.
	MemoryUsage int64
	// MemoryLimit is the configured budget, 0 if unlimited.
	MemoryLimit int64
}

// Create initializes a new page file at path, replacing any existing
// content, and opens it.
func Create(path string, optFns ...Option) (*DB, error) {
	o := applyOptions(optFns)
	if !page.ValidSize(o.pageSize) {
		return nil, &ErrInvalidPageSize{PageSize: o.pageSize}
	}

	s := newDiskStore(path, &o)
	if err := s.Create(); err != nil {
		o.logger.WithPath(path).LogOpen(context.Background(), true, false, err)
		return nil, translateError(err)
	}
	return open(s, &o, true)
}

// Open opens an existing page file. The page size must match the one used
// by Create.
func Open(path string, optFns ...Option) (*DB, error) {
	o := applyOptions(optFns)
	if !page.ValidSize(o.pageSize) {
		return nil, &ErrInvalidPageSize{PageSize: o.pageSize}
	}
	return open(newDiskStore(path, &o), &o, false)
}

func newDiskStore(path string, o *options) *pagestore.DiskStore {
	return pagestore.NewDiskStore(path, func(so *pagestore.Options) {
		so.PageSize = o.pageSize
		so.Logger = o.logger.Logger
		so.TruncateOnClose = o.truncateOnClose
	})
}

func open(s *pagestore.DiskStore, o *options, created bool) (*DB, error) {
	log := o.logger.WithPath(s.Path())
	ctx := context.Background()

	if err := s.Open(); err != nil {
		log.LogOpen(ctx, created, false, err)
		return nil, translateError(err)
	}

	rc := resource.NewController(o.resourceConfig())
	cache := pagecache.New(s, func(co *pagecache.Options) {
		co.Capacity = o.cacheCapacity
		co.Resource = rc
		co.Logger = log.Logger
		co.Metrics = o.metricsCollector
	})

	db := &DB{
		store:   s,
		cache:   cache,
		pages:   &instrumentedStore{Store: cache, metrics: o.metricsCollector},
		rc:      rc,
		opts:    *o,
		metrics: o.metricsCollector,
		logger:  log,
	}
	log.LogOpen(ctx, created, s.UncleanOpen(), nil)
	return db, nil
}

// Path returns the page file path.
func (db *DB) Path() string { return db.store.Path() }

// PageSize returns the fixed page size.
func (db *DB) PageSize() uint32 { return db.store.PageSize() }

// UncleanOpen reports whether the previous session ended without Close.
func (db *DB) UncleanOpen() bool { return db.store.UncleanOpen() }

// CreateClient registers a new client with an empty header page.
func (db *DB) CreateClient(ctx context.Context) (page.ClientID, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return page.NoClient, ErrClosed
	}

	id, err := db.store.CreateClient()
	db.logger.LogCreateClient(ctx, id, err)
	return id, translateError(err)
}

// OpenClient starts a session for a registered client. Page traffic of the
// returned handle goes through the cache. Close the handle before closing
// the DB.
func (db *DB) OpenClient(id page.ClientID) (*pagestore.Client, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, ErrClosed
	}

	c, err := db.store.OpenClient(id)
	if err != nil {
		return nil, translateError(err)
	}
	return c.Via(db.pages), nil
}

// Clients returns the registered client ids in ascending order.
func (db *DB) Clients() []page.ClientID {
	return db.store.Clients()
}

// Flush writes every dirty cached page and syncs the file.
func (db *DB) Flush(ctx context.Context) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return ErrClosed
	}
	return db.flush(ctx, db.cache.FlushAll)
}

// FlushClient writes the dirty cached pages of one client and syncs the file.
func (db *DB) FlushClient(ctx context.Context, id page.ClientID) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return ErrClosed
	}
	return db.flush(ctx, func() error { return db.cache.Flush(id) })
}

func (db *DB) flush(ctx context.Context, fn func() error) error {
	start := time.Now()
	dirty := db.cache.Stats().Dirty

	err := fn()
	if err == nil {
		err = db.store.Sync()
	}

	d := time.Since(start)
	db.metrics.RecordFlush(d, err)
	db.logger.LogFlush(ctx, dirty, d, err)
	return translateError(err)
}

// Verify flushes the cache and checks the free list, the client chain and
// every page tag. Problems are reported, not repaired.
func (db *DB) Verify(ctx context.Context) (*pagestore.Report, error) {
	if err := db.Flush(ctx); err != nil {
		return nil, err
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	r, err := db.store.Verify()
	if err != nil {
		db.logger.LogVerify(ctx, 0, err)
		return nil, translateError(err)
	}
	db.logger.LogVerify(ctx, len(r.Problems), nil)
	return r, nil
}

// Snapshot flushes the cache and exports the page file to dst under name.
// On success CURRENT in dst names the new snapshot. Pages written while the
// export runs wait until it is done and are not part of it.
func (db *DB) Snapshot(ctx context.Context, dst blobstore.Store, name string) (*snapshot.Manifest, error) {
	if err := db.Flush(ctx); err != nil {
		return nil, err
	}

	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, ErrClosed
	}

	start := time.Now()
	m, err := snapshot.Export(ctx, db.store, dst, name, db.snapshotOptions)

	var stored int64
	chunks := 0
	if m != nil {
		stored = int64(m.StoredBytes())
		chunks = len(m.Chunks)
	}
	db.metrics.RecordSnapshot(time.Since(start), stored, err)
	db.logger.LogSnapshot(ctx, name, chunks, err)
	if err != nil {
		return nil, translateError(err)
	}
	return m, nil
}

func (db *DB) snapshotOptions(so *snapshot.Options) {
	so.Codec = db.opts.snapshotCodec
	so.ChunkPages = db.opts.snapshotChunkPages
	so.Resource = db.rc
	so.Logger = db.logger.Logger
}

// Stats returns counters for the store and the cache.
func (db *DB) Stats() Stats {
	return Stats{
		Store:       db.store.Stats(),
		Cache:       db.cache.Stats(),
		MemoryUsage: db.rc.MemoryUsage(),
		MemoryLimit: db.rc.MemoryLimit(),
	}
}

// Close writes back the cache and closes the page file. It fails with
// ErrClientsOpen, leaving the DB usable, while client sessions are open.
// If the write-back fails the file is closed anyway and the lost pages are
// reported in the returned error.
func (db *DB) Close() error {
	if db == nil {
		return nil
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	ctx := context.Background()

	if n := db.store.Stats().Sessions; n > 0 {
		err := fmt.Errorf("%w: %d", ErrClientsOpen, n)
		db.logger.LogClose(ctx, err)
		return err
	}

	var errs []error
	if err := db.cache.Purge(); err != nil {
		errs = append(errs, fmt.Errorf("write back cache: %w", err))
	}
	if err := db.store.Close(); err != nil {
		errs = append(errs, err)
	}
	db.closed = true

	err := translateError(errors.Join(errs...))
	db.logger.LogClose(ctx, err)
	return err
}

// Restore writes the snapshot name from src into a new page file at path.
// An empty name restores the snapshot CURRENT points to. The page size
// option is ignored; open the result with the manifest's page size.
func Restore(ctx context.Context, src blobstore.Store, name, path string, optFns ...Option) (*snapshot.Manifest, error) {
	o := applyOptions(optFns)
	rc := resource.NewController(o.resourceConfig())

	m, err := snapshot.Restore(ctx, src, name, path, func(so *snapshot.Options) {
		so.Resource = rc
		so.Logger = o.logger.Logger
	})
	if err != nil {
		o.logger.ErrorContext(ctx, "restore failed", "name", name, "path", path, "error", err)
		return nil, translateError(err)
	}
	o.logger.InfoContext(ctx, "restore completed",
		"name", m.Name,
		"path", path,
		"pages", m.PageCount,
	)
	return m, nil
}

// instrumentedStore records allocation and disposal metrics for the pages a
// client routes through the cache.
type instrumentedStore struct {
	pagestore.Store
	metrics MetricsCollector
}

func (s *instrumentedStore) GetNewPage(c page.ClientID) (*page.Page, error) {
	p, err := s.Store.GetNewPage(c)
	s.metrics.RecordAlloc(err)
	return p, err
}

func (s *instrumentedStore) DisposePage(c page.ClientID, p *page.Page) error {
	err := s.Store.DisposePage(c, p)
	s.metrics.RecordDispose(err)
	return err
}
