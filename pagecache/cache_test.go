package pagecache

import (
	"errors"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/mamstore/internal/resource"
	"github.com/hupe1980/mamstore/page"
	"github.com/hupe1980/mamstore/pagestore"
)

var errInjected = errors.New("injected write failure")

// countingStore counts the calls that reach the wrapped store and can fail
// writes on demand.
type countingStore struct {
	pagestore.Store

	mu         sync.Mutex
	reads      int
	writes     int
	failWrites bool
}

func (s *countingStore) GetPage(c page.ClientID, id page.PageID) (*page.Page, error) {
	s.mu.Lock()
	s.reads++
	s.mu.Unlock()
	return s.Store.GetPage(c, id)
}

func (s *countingStore) WritePage(c page.ClientID, p *page.Page) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return errInjected
	}
	s.writes++
	return s.Store.WritePage(c, p)
}

func (s *countingStore) setFailWrites(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrites = v
}

func (s *countingStore) counts() (reads, writes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads, s.writes
}

func newTestCache(t *testing.T, capacity int, optFns ...func(*Options)) (*Cache, *countingStore, page.ClientID) {
	t.Helper()

	mem, err := pagestore.NewMemoryStore(128)
	require.NoError(t, err)
	cl, err := mem.CreateClient()
	require.NoError(t, err)

	inner := &countingStore{Store: mem}
	fns := append([]func(*Options){func(o *Options) { o.Capacity = capacity }}, optFns...)
	return New(inner, fns...), inner, cl
}

func TestCache_HitReturnsCopy(t *testing.T) {
	c, inner, cl := newTestCache(t, 4)

	p, err := c.GetNewPage(cl)
	require.NoError(t, err)

	got, err := c.GetPage(cl, p.ID())
	require.NoError(t, err)
	got.Body()[0] = 0xAA

	again, err := c.GetPage(cl, p.ID())
	require.NoError(t, err)
	assert.Zero(t, again.Body()[0])

	reads, _ := inner.counts()
	assert.Zero(t, reads)

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(0), stats.Misses)
	assert.Equal(t, 1.0, stats.HitRate())
}

func TestCache_DirtyEvictionIsPersisted(t *testing.T) {
	c, inner, cl := newTestCache(t, 2)

	a, err := c.GetNewPage(cl)
	require.NoError(t, err)
	b, err := c.GetNewPage(cl)
	require.NoError(t, err)

	copy(a.Body(), "dirty a")
	require.NoError(t, c.WritePage(cl, a))
	assert.True(t, c.IsDirty(cl, a.ID()))

	// x evicts b (clean), then reading b evicts a (dirty).
	x, err := c.GetNewPage(cl)
	require.NoError(t, err)
	_, err = c.GetPage(cl, x.ID())
	require.NoError(t, err)
	_, writes := inner.counts()
	assert.Zero(t, writes)

	_, err = c.GetPage(cl, b.ID())
	require.NoError(t, err)
	_, writes = inner.counts()
	assert.Equal(t, 1, writes)
	assert.False(t, c.Contains(cl, a.ID()))

	stored, err := inner.Store.GetPage(cl, a.ID())
	require.NoError(t, err)
	assert.Equal(t, "dirty a", string(stored.Body()[:7]))

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Evictions)
	assert.Equal(t, int64(1), stats.WriteBacks)
}

func TestCache_CleanEvictionDoesNotWrite(t *testing.T) {
	c, inner, cl := newTestCache(t, 1)

	a, err := c.GetNewPage(cl)
	require.NoError(t, err)
	b, err := c.GetNewPage(cl)
	require.NoError(t, err)

	for range 5 {
		_, err := c.GetPage(cl, a.ID())
		require.NoError(t, err)
		_, err = c.GetPage(cl, b.ID())
		require.NoError(t, err)
	}

	_, writes := inner.counts()
	assert.Zero(t, writes)
	assert.Equal(t, 1, c.Stats().Resident)
}

func TestCache_EvictionFailureKeepsVictim(t *testing.T) {
	c, inner, cl := newTestCache(t, 1)

	a, err := c.GetNewPage(cl)
	require.NoError(t, err)
	b, err := c.GetNewPage(cl)
	require.NoError(t, err)

	copy(a.Body(), "must survive")
	require.NoError(t, c.WritePage(cl, a))
	require.True(t, c.IsDirty(cl, a.ID()))

	inner.setFailWrites(true)
	_, err = c.GetPage(cl, b.ID())
	require.ErrorIs(t, err, errInjected)

	assert.True(t, c.Contains(cl, a.ID()))
	assert.True(t, c.IsDirty(cl, a.ID()))
	assert.False(t, c.Contains(cl, b.ID()))

	got, err := c.GetPage(cl, a.ID())
	require.NoError(t, err)
	assert.Equal(t, "must survive", string(got.Body()[:12]))

	inner.setFailWrites(false)
	_, err = c.GetPage(cl, b.ID())
	require.NoError(t, err)

	stored, err := inner.Store.GetPage(cl, a.ID())
	require.NoError(t, err)
	assert.Equal(t, "must survive", string(stored.Body()[:12]))
}

func TestCache_FlushAndInvalidate(t *testing.T) {
	c, inner, cl := newTestCache(t, 8)

	var pages []*page.Page
	for i := range 3 {
		p, err := c.GetNewPage(cl)
		require.NoError(t, err)
		p.Body()[0] = byte(i + 1)
		require.NoError(t, c.WritePage(cl, p))
		pages = append(pages, p)
	}
	assert.Equal(t, 3, c.Stats().Dirty)

	require.NoError(t, c.Flush(cl))
	_, writes := inner.counts()
	assert.Equal(t, 3, writes)
	assert.Equal(t, 0, c.Stats().Dirty)
	assert.Equal(t, 3, c.Stats().Resident)

	// Flushing clean entries writes nothing.
	require.NoError(t, c.FlushAll())
	_, writes = inner.counts()
	assert.Equal(t, 3, writes)

	pages[1].Body()[0] = 9
	require.NoError(t, c.WritePage(cl, pages[1]))
	require.NoError(t, c.Invalidate(cl))
	assert.Equal(t, 0, c.Stats().Resident)

	stored, err := inner.Store.GetPage(cl, pages[1].ID())
	require.NoError(t, err)
	assert.Equal(t, byte(9), stored.Body()[0])
}

func TestCache_InvalidateKeepsFailedEntries(t *testing.T) {
	c, inner, cl := newTestCache(t, 8)

	p, err := c.GetNewPage(cl)
	require.NoError(t, err)
	require.NoError(t, c.WritePage(cl, p))

	inner.setFailWrites(true)
	assert.ErrorIs(t, c.Invalidate(cl), errInjected)
	assert.True(t, c.IsDirty(cl, p.ID()))

	inner.setFailWrites(false)
	require.NoError(t, c.Purge())
	assert.Equal(t, 0, c.Stats().Resident)
}

func TestCache_DisposeDropsWithoutWriteBack(t *testing.T) {
	c, inner, cl := newTestCache(t, 4)

	p, err := c.GetNewPage(cl)
	require.NoError(t, err)
	require.NoError(t, c.WritePage(cl, p))

	require.NoError(t, c.DisposePage(cl, p))
	assert.False(t, c.Contains(cl, p.ID()))
	_, writes := inner.counts()
	assert.Zero(t, writes)

	assert.ErrorIs(t, c.DisposePage(cl, p), pagestore.ErrDoubleFree)
	_, err = c.GetPage(cl, p.ID())
	assert.ErrorIs(t, err, pagestore.ErrNotFound)
}

func TestCache_WriteValidation(t *testing.T) {
	c, _, cl := newTestCache(t, 4)

	p, err := c.GetNewPage(cl)
	require.NoError(t, err)

	forged := p.Clone()
	forged.SetOwner(cl + 1)
	assert.ErrorIs(t, c.WritePage(cl, forged), pagestore.ErrOwnershipMismatch)
	assert.ErrorIs(t, c.ReleasePage(cl, forged), pagestore.ErrOwnershipMismatch)
	assert.NoError(t, c.ReleasePage(cl, p))

	stray := page.New(99, 128)
	stray.SetOwner(cl)
	assert.ErrorIs(t, c.WritePage(cl, stray), pagestore.ErrNotFound)

	big := page.New(p.ID(), 256)
	big.SetOwner(cl)
	assert.ErrorIs(t, c.WritePage(cl, big), pagestore.ErrInvalidPageSize)

	_, err = c.GetPage(cl+1, p.ID())
	assert.ErrorIs(t, err, pagestore.ErrUnknownClient)
}

func TestCache_MemoryBudget(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 2 * 128})
	c, _, cl := newTestCache(t, 10, func(o *Options) { o.Resource = rc })

	for range 3 {
		_, err := c.GetNewPage(cl)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, c.Stats().Resident)
	assert.Equal(t, int64(256), rc.MemoryUsage())

	// A second cache sharing the exhausted budget reads through.
	other := New(c.Inner(), func(o *Options) { o.Resource = rc })
	p, err := other.GetPage(cl, 1)
	require.NoError(t, err)
	assert.Equal(t, page.PageID(1), p.ID())
	assert.False(t, other.Contains(cl, 1))

	require.NoError(t, c.Purge())
	assert.Zero(t, rc.MemoryUsage())
}

// Reads through the cache always observe the latest write, and the inner
// store matches after a flush.
func TestCache_Coherence(t *testing.T) {
	c, inner, cl := newTestCache(t, 4)
	rng := rand.New(rand.NewPCG(7, 11))

	var ids []page.PageID
	model := make(map[page.PageID]byte)
	for range 16 {
		p, err := c.GetNewPage(cl)
		require.NoError(t, err)
		ids = append(ids, p.ID())
		model[p.ID()] = 0
	}

	for range 1000 {
		id := ids[rng.IntN(len(ids))]
		p, err := c.GetPage(cl, id)
		require.NoError(t, err)
		require.Equal(t, model[id], p.Body()[0], "page %d", id)

		if rng.IntN(2) == 0 {
			v := byte(rng.IntN(256))
			p.Body()[0] = v
			require.NoError(t, c.WritePage(cl, p))
			model[id] = v
		}
	}

	require.NoError(t, c.FlushAll())
	for id, want := range model {
		p, err := inner.Store.GetPage(cl, id)
		require.NoError(t, err)
		assert.Equal(t, want, p.Body()[0], "page %d", id)
	}
}

func TestCache_OverDiskStore(t *testing.T) {
	s := pagestore.NewDiskStore(filepath.Join(t.TempDir(), "cache.pages"), func(o *pagestore.Options) {
		o.PageSize = 256
	})
	require.NoError(t, s.Create())
	require.NoError(t, s.Open())

	id, err := s.CreateClient()
	require.NoError(t, err)
	handle, err := s.OpenClient(id)
	require.NoError(t, err)

	c := New(s, func(o *Options) { o.Capacity = 2 })
	client := handle.Via(c)

	var pages []*page.Page
	for i := range 5 {
		p, err := client.GetNewPage()
		require.NoError(t, err)
		p.Body()[0] = byte(10 + i)
		require.NoError(t, client.WritePage(p))
		pages = append(pages, p)
	}
	require.NoError(t, c.FlushAll())
	require.NoError(t, client.Close())
	require.NoError(t, s.Close())

	s2 := pagestore.NewDiskStore(s.Path(), func(o *pagestore.Options) { o.PageSize = 256 })
	require.NoError(t, s2.Open())
	defer s2.Close()

	for i, p := range pages {
		got, err := s2.GetPage(id, p.ID())
		require.NoError(t, err)
		assert.Equal(t, byte(10+i), got.Body()[0])
	}
}
