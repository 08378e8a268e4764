package pagecache

import (
	"container/list"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/mamstore/internal/resource"
	"github.com/hupe1980/mamstore/page"
	"github.com/hupe1980/mamstore/pagestore"
)

type key struct {
	client page.ClientID
	id     page.PageID
}

type entry struct {
	key   key
	page  *page.Page
	dirty bool
}

// Cache is an LRU write-back cache implementing pagestore.Store.
type Cache struct {
	mu        sync.Mutex
	inner     pagestore.Store
	capacity  int
	pageBytes int64
	items     map[key]*list.Element
	lru       *list.List // front = most recently used
	rc        *resource.Controller
	log       *slog.Logger
	metrics   Metrics

	hits       atomic.Int64
	misses     atomic.Int64
	evictions  atomic.Int64
	writeBacks atomic.Int64
}

var _ pagestore.Store = (*Cache)(nil)

// New wraps inner with a cache.
func New(inner pagestore.Store, optFns ...func(*Options)) *Cache {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}

	return &Cache{
		inner:     inner,
		capacity:  opts.Capacity,
		pageBytes: int64(inner.PageSize()),
		items:     make(map[key]*list.Element),
		lru:       list.New(),
		rc:        opts.Resource,
		log:       opts.Logger,
		metrics:   opts.Metrics,
	}
}

// Inner returns the wrapped store.
func (c *Cache) Inner() pagestore.Store { return c.inner }

// Capacity returns the maximum number of resident pages.
func (c *Cache) Capacity() int { return c.capacity }

func (c *Cache) GetPage(cl page.ClientID, id page.PageID) (*page.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key{cl, id}
	if el, ok := c.items[k]; ok {
		c.hits.Add(1)
		c.metrics.RecordGet(true)
		c.lru.MoveToFront(el)
		return el.Value.(*entry).page.Clone(), nil
	}
	c.misses.Add(1)
	c.metrics.RecordGet(false)

	// Make room first: a failed write-back must not cost the caller a
	// wasted read.
	reserved, err := c.reserveLocked()
	if err != nil {
		return nil, err
	}

	p, err := c.inner.GetPage(cl, id)
	if err != nil {
		if reserved {
			c.rc.ReleaseMemory(c.pageBytes)
		}
		return nil, err
	}
	// The cache keeps a copy, not a handle.
	_ = c.inner.ReleasePage(cl, p)

	if reserved {
		c.insertLocked(k, p.Clone(), false)
	}
	return p, nil
}

func (c *Cache) GetNewPage(cl page.ClientID) (*page.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, err := c.inner.GetNewPage(cl)
	if err != nil {
		return nil, err
	}
	_ = c.inner.ReleasePage(cl, p)

	// Insertion is best effort; the page already exists in the inner store.
	reserved, err := c.reserveLocked()
	if err != nil {
		c.log.Warn("new page not cached", "client", cl, "page", p.ID(), "error", err)
		return p, nil
	}
	if reserved {
		c.insertLocked(key{cl, p.ID()}, p.Clone(), false)
	}
	return p, nil
}

func (c *Cache) WritePage(cl page.ClientID, p *page.Page) error {
	if owner := p.Owner(); owner != cl {
		return &pagestore.PageError{
			Op: "write page", Client: cl, Page: p.ID(),
			Err: fmt.Errorf("%w: page tagged with client %d", pagestore.ErrOwnershipMismatch, owner),
		}
	}
	if p.Size() != uint32(c.pageBytes) {
		return &pagestore.PageError{
			Op: "write page", Client: cl, Page: p.ID(),
			Err: fmt.Errorf("%w: got %d, want %d", pagestore.ErrInvalidPageSize, p.Size(), c.pageBytes),
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	k := key{cl, p.ID()}
	if el, ok := c.items[k]; ok {
		e := el.Value.(*entry)
		_ = e.page.CopyFrom(p)
		e.dirty = true
		c.lru.MoveToFront(el)
		return nil
	}

	// A dirty entry for a page the client does not own could never be
	// written back, so validate against the inner store once.
	cur, err := c.inner.GetPage(cl, p.ID())
	if err != nil {
		return err
	}
	_ = c.inner.ReleasePage(cl, cur)

	reserved, err := c.reserveLocked()
	if err != nil {
		return err
	}
	if !reserved {
		// No budget left anywhere: write through.
		return c.writeBackLocked(cl, p)
	}
	c.insertLocked(k, p.Clone(), true)
	return nil
}

// DisposePage frees the page in the inner store and drops the cached copy
// without writing it back.
func (c *Cache) DisposePage(cl page.ClientID, p *page.Page) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.inner.DisposePage(cl, p); err != nil {
		return err
	}
	if el, ok := c.items[key{cl, p.ID()}]; ok {
		c.removeLocked(el)
	}
	return nil
}

// ReleasePage checks ownership and never performs I/O.
func (c *Cache) ReleasePage(cl page.ClientID, p *page.Page) error {
	if owner := p.Owner(); owner != cl {
		return &pagestore.PageError{
			Op: "release page", Client: cl, Page: p.ID(),
			Err: fmt.Errorf("%w: page tagged with client %d", pagestore.ErrOwnershipMismatch, owner),
		}
	}
	return nil
}

func (c *Cache) HeaderPageID(cl page.ClientID) (page.PageID, error) {
	return c.inner.HeaderPageID(cl)
}

func (c *Cache) PageCount(cl page.ClientID) (uint32, error) {
	return c.inner.PageCount(cl)
}

func (c *Cache) PageSize() uint32 { return c.inner.PageSize() }

// Flush writes back every dirty page of client cl. Entries stay resident.
func (c *Cache) Flush(cl page.ClientID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushLocked(func(k key) bool { return k.client == cl })
}

// FlushAll writes back every dirty page.
func (c *Cache) FlushAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushLocked(func(key) bool { return true })
}

// Invalidate flushes client cl and drops its entries. Entries whose write
// back failed stay resident and dirty.
func (c *Cache) Invalidate(cl page.ClientID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropLocked(func(k key) bool { return k.client == cl })
}

// Purge flushes and drops every entry.
func (c *Cache) Purge() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropLocked(func(key) bool { return true })
}

func (c *Cache) dropLocked(match func(key) bool) error {
	err := c.flushLocked(match)

	var drop []*list.Element
	for k, el := range c.items {
		if match(k) && !el.Value.(*entry).dirty {
			drop = append(drop, el)
		}
	}
	for _, el := range drop {
		c.removeLocked(el)
	}
	return err
}

// flushLocked writes matching dirty entries in page order and keeps going
// after a failure.
func (c *Cache) flushLocked(match func(key) bool) error {
	var dirty []*entry
	for k, el := range c.items {
		if e := el.Value.(*entry); e.dirty && match(k) {
			dirty = append(dirty, e)
		}
	}
	slices.SortFunc(dirty, func(a, b *entry) int {
		if a.key.client != b.key.client {
			return int(a.key.client) - int(b.key.client)
		}
		return int(a.key.id) - int(b.key.id)
	})

	var errs []error
	for _, e := range dirty {
		if err := c.writeBackLocked(e.key.client, e.page); err != nil {
			errs = append(errs, err)
			continue
		}
		e.dirty = false
	}
	return errors.Join(errs...)
}

func (c *Cache) writeBackLocked(cl page.ClientID, p *page.Page) error {
	err := c.inner.WritePage(cl, p)
	c.metrics.RecordWriteBack(err)
	if err == nil {
		c.writeBacks.Add(1)
	}
	return err
}

// reserveLocked makes room for one more entry. It reports false, without an
// error, when the shared memory budget is exhausted and this cache has
// nothing left to evict.
func (c *Cache) reserveLocked() (bool, error) {
	for c.lru.Len() >= c.capacity {
		if err := c.evictLocked(); err != nil {
			return false, err
		}
	}
	for !c.rc.TryAcquireMemory(c.pageBytes) {
		if c.lru.Len() == 0 {
			return false, nil
		}
		if err := c.evictLocked(); err != nil {
			return false, err
		}
	}
	return true, nil
}

// evictLocked removes the least recently used entry, writing it back first
// if it is dirty. On failure the victim is kept.
func (c *Cache) evictLocked() error {
	el := c.lru.Back()
	if el == nil {
		return nil
	}
	e := el.Value.(*entry)

	if e.dirty {
		if err := c.writeBackLocked(e.key.client, e.page); err != nil {
			c.log.Warn("eviction write-back failed",
				"client", e.key.client,
				"page", e.key.id,
				"error", err,
			)
			return fmt.Errorf("evict page %d of client %d: %w", e.key.id, e.key.client, err)
		}
	}

	c.removeLocked(el)
	c.evictions.Add(1)
	c.metrics.RecordEviction(e.dirty)
	c.log.Debug("page evicted", "client", e.key.client, "page", e.key.id, "dirty", e.dirty)
	return nil
}

func (c *Cache) insertLocked(k key, p *page.Page, dirty bool) {
	el := c.lru.PushFront(&entry{key: k, page: p, dirty: dirty})
	c.items[k] = el
}

func (c *Cache) removeLocked(el *list.Element) {
	e := el.Value.(*entry)
	c.lru.Remove(el)
	delete(c.items, e.key)
	c.rc.ReleaseMemory(c.pageBytes)
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits       int64
	Misses     int64
	Evictions  int64
	WriteBacks int64
	Resident   int
	Dirty      int
}

// HitRate returns hits / (hits + misses), or 0 before the first lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	dirty := 0
	for _, el := range c.items {
		if el.Value.(*entry).dirty {
			dirty++
		}
	}
	return Stats{
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Evictions:  c.evictions.Load(),
		WriteBacks: c.writeBacks.Load(),
		Resident:   len(c.items),
		Dirty:      dirty,
	}
}

// Contains reports whether the page is resident.
func (c *Cache) Contains(cl page.ClientID, id page.PageID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key{cl, id}]
	return ok
}

// IsDirty reports whether the page is resident with unwritten changes.
func (c *Cache) IsDirty(cl page.ClientID, id page.PageID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key{cl, id}]
	return ok && el.Value.(*entry).dirty
}
