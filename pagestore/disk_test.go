package pagestore

import (
	"bytes"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/mamstore/internal/fs"
	"github.com/hupe1980/mamstore/page"
)

func newTestStore(t *testing.T, pageSize uint32, optFns ...func(*Options)) *DiskStore {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.pages")
	fns := append([]func(*Options){func(o *Options) { o.PageSize = pageSize }}, optFns...)
	s := NewDiskStore(path, fns...)
	require.NoError(t, s.Create())
	require.NoError(t, s.Open())
	t.Cleanup(func() {
		if s.State() == StateOpen {
			_ = s.Close()
		}
	})
	return s
}

// reopen closes s and opens a fresh store on the same file.
func reopen(t *testing.T, s *DiskStore, optFns ...func(*Options)) *DiskStore {
	t.Helper()

	require.NoError(t, s.Close())
	fns := append([]func(*Options){func(o *Options) { o.PageSize = s.PageSize() }}, optFns...)
	s2 := NewDiskStore(s.Path(), fns...)
	require.NoError(t, s2.Open())
	t.Cleanup(func() {
		if s2.State() == StateOpen {
			_ = s2.Close()
		}
	})
	return s2
}

// crash drops the file handle without running Close.
func crash(s *DiskStore) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.file.Close()
	s.file = nil
	s.sessions = nil
	s.state = StateClosed
}

func TestDiskStore_AllocationScenario(t *testing.T) {
	s := newTestStore(t, 256)

	c, err := s.CreateClient()
	require.NoError(t, err)
	assert.Equal(t, page.ClientID(1), c)

	hp, err := s.HeaderPageID(c)
	require.NoError(t, err)
	assert.Equal(t, page.PageID(1), hp)

	p2, err := s.GetNewPage(c)
	require.NoError(t, err)
	p3, err := s.GetNewPage(c)
	require.NoError(t, err)
	assert.Equal(t, page.PageID(2), p2.ID())
	assert.Equal(t, page.PageID(3), p3.ID())
	assert.Equal(t, c, p2.Owner())

	require.NoError(t, s.DisposePage(c, p2))

	again, err := s.GetNewPage(c)
	require.NoError(t, err)
	assert.Equal(t, page.PageID(2), again.ID())

	n, err := s.PageCount(c)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), n)

	report, err := s.Verify()
	require.NoError(t, err)
	assert.True(t, report.OK(), report.Problems)
	assert.Equal(t, 0, report.Free)
	assert.Equal(t, 3, report.Owned[c])
}

func TestDiskStore_NewPageIsZeroed(t *testing.T) {
	s := newTestStore(t, 128)
	c, err := s.CreateClient()
	require.NoError(t, err)

	p, err := s.GetNewPage(c)
	require.NoError(t, err)
	for i := range p.Body() {
		p.Body()[i] = 0xFF
	}
	require.NoError(t, s.WritePage(c, p))
	require.NoError(t, s.DisposePage(c, p))

	q, err := s.GetNewPage(c)
	require.NoError(t, err)
	require.Equal(t, p.ID(), q.ID())
	assert.Equal(t, make([]byte, 128-page.TagSize), q.Body())
}

func TestDiskStore_HighWaterMark(t *testing.T) {
	s := newTestStore(t, 128)
	c, err := s.CreateClient()
	require.NoError(t, err)

	const n = 20
	pages := make([]*page.Page, 0, n)
	for range n {
		p, err := s.GetNewPage(c)
		require.NoError(t, err)
		pages = append(pages, p)
	}
	hw, err := s.PageCount(c)
	require.NoError(t, err)

	for _, p := range pages {
		require.NoError(t, s.DisposePage(c, p))
	}
	for range n {
		_, err := s.GetNewPage(c)
		require.NoError(t, err)
	}

	got, err := s.PageCount(c)
	require.NoError(t, err)
	assert.Equal(t, hw, got)
	assert.Equal(t, 0, s.Stats().FreePages)
}

func TestDiskStore_PersistsAcrossReopen(t *testing.T) {
	s := newTestStore(t, 256)
	c, err := s.CreateClient()
	require.NoError(t, err)

	p, err := s.GetNewPage(c)
	require.NoError(t, err)
	copy(p.Body(), "persisted payload")
	require.NoError(t, s.WritePage(c, p))

	q, err := s.GetNewPage(c)
	require.NoError(t, err)
	require.NoError(t, s.DisposePage(c, q))

	s = reopen(t, s)
	assert.False(t, s.UncleanOpen())
	assert.Equal(t, []page.ClientID{c}, s.Clients())

	got, err := s.GetPage(c, p.ID())
	require.NoError(t, err)
	assert.Equal(t, "persisted payload", string(got.Body()[:17]))

	// The disposed page is still at the free list head.
	r, err := s.GetNewPage(c)
	require.NoError(t, err)
	assert.Equal(t, q.ID(), r.ID())
}

func TestDiskStore_ErrorTaxonomy(t *testing.T) {
	s := newTestStore(t, 256)
	c1, err := s.CreateClient()
	require.NoError(t, err)
	c2, err := s.CreateClient()
	require.NoError(t, err)

	p, err := s.GetNewPage(c1)
	require.NoError(t, err)

	t.Run("unknown client", func(t *testing.T) {
		_, err := s.GetPage(99, p.ID())
		assert.ErrorIs(t, err, ErrUnknownClient)
		_, err = s.GetNewPage(99)
		assert.ErrorIs(t, err, ErrUnknownClient)
		_, err = s.HeaderPageID(99)
		assert.ErrorIs(t, err, ErrUnknownClient)
		_, err = s.OpenClient(99)
		assert.ErrorIs(t, err, ErrUnknownClient)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := s.GetPage(c1, 1000)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.GetPage(c1, page.NoPage)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.GetPage(c2, p.ID())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ownership mismatch", func(t *testing.T) {
		assert.ErrorIs(t, s.WritePage(c2, p), ErrOwnershipMismatch)
		assert.ErrorIs(t, s.DisposePage(c2, p), ErrOwnershipMismatch)

		copy(p.Body(), "mine")
		require.NoError(t, s.WritePage(c1, p))

		forged := p.Clone()
		forged.SetOwner(c2)
		copy(forged.Body(), "stolen")
		assert.ErrorIs(t, s.WritePage(c2, forged), ErrOwnershipMismatch)
		assert.ErrorIs(t, s.DisposePage(c2, forged), ErrOwnershipMismatch)

		// The forged write left the page with its owner.
		got, err := s.GetPage(c1, p.ID())
		require.NoError(t, err)
		assert.Equal(t, c1, got.Owner())
		assert.Equal(t, p.Body(), got.Body())
		require.NoError(t, s.ReleasePage(c1, got))

		hp, err := s.HeaderPageID(c1)
		require.NoError(t, err)
		header, err := s.GetPage(c1, hp)
		require.NoError(t, err)
		assert.ErrorIs(t, s.DisposePage(c1, header), ErrOwnershipMismatch)
	})

	t.Run("double free", func(t *testing.T) {
		q, err := s.GetNewPage(c1)
		require.NoError(t, err)
		require.NoError(t, s.DisposePage(c1, q))
		assert.ErrorIs(t, s.DisposePage(c1, q), ErrDoubleFree)
	})

	t.Run("page error carries context", func(t *testing.T) {
		_, err := s.GetPage(c2, p.ID())
		var pe *PageError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "get page", pe.Op)
		assert.Equal(t, c2, pe.Client)
		assert.Equal(t, p.ID(), pe.Page)
	})

	report, err := s.Verify()
	require.NoError(t, err)
	assert.True(t, report.OK(), report.Problems)
}

func TestDiskStore_ReleasePageDoesNoIO(t *testing.T) {
	ffs := fs.NewFaultyFS(nil)
	s := newTestStore(t, 128, func(o *Options) { o.FileSystem = ffs })
	c, err := s.CreateClient()
	require.NoError(t, err)

	p, err := s.GetNewPage(c)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Handles(c))

	writes, reads := ffs.Writes(), ffs.Reads()
	require.NoError(t, s.ReleasePage(c, p))
	assert.Equal(t, writes, ffs.Writes())
	assert.Equal(t, reads, ffs.Reads())
	assert.Equal(t, 0, s.Handles(c))

	assert.ErrorIs(t, s.ReleasePage(c+1, p), ErrUnknownClient)
}

func TestDiskStore_ExtensionHeaders(t *testing.T) {
	s := newTestStore(t, 128)

	// 13 entries fit in page 0 and 15 per extension page.
	const n = 13 + 15 + 2
	headers := make(map[page.ClientID]page.PageID, n)
	for i := range n {
		c, err := s.CreateClient()
		require.NoError(t, err)
		assert.Equal(t, page.ClientID(i+1), c)
		hp, err := s.HeaderPageID(c)
		require.NoError(t, err)
		headers[c] = hp
	}

	stats := s.Stats()
	assert.Equal(t, 3, stats.SystemPages)
	assert.Equal(t, n, stats.Clients)

	s = reopen(t, s)
	require.Len(t, s.Clients(), n)
	for c, want := range headers {
		got, err := s.HeaderPageID(c)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	// Extension header pages are not client pages.
	for id := page.PageID(1); uint32(id) < s.Stats().PageCount; id++ {
		if s.system.Contains(id) {
			_, err := s.GetPage(1, id)
			assert.ErrorIs(t, err, ErrNotFound)
		}
	}

	report, err := s.Verify()
	require.NoError(t, err)
	assert.True(t, report.OK(), report.Problems)
	assert.Equal(t, 3, report.System)
	assert.Len(t, report.Owned, n)

	next, err := s.CreateClient()
	require.NoError(t, err)
	assert.Equal(t, page.ClientID(n+1), next)
}

func TestDiskStore_UncleanOpen(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	s := newTestStore(t, 256)
	c, err := s.CreateClient()
	require.NoError(t, err)
	_, err = s.GetNewPage(c)
	require.NoError(t, err)
	crash(s)

	s2 := NewDiskStore(s.Path(), func(o *Options) {
		o.PageSize = 256
		o.Logger = logger
	})
	require.NoError(t, s2.Open())
	defer s2.Close()

	assert.True(t, s2.UncleanOpen())
	assert.Contains(t, logs.String(), "level=WARN")
	assert.Contains(t, logs.String(), "not closed cleanly")

	report, err := s2.Verify()
	require.NoError(t, err)
	assert.True(t, report.OK(), report.Problems)
}

func TestDiskStore_CorruptHeader(t *testing.T) {
	t.Run("bad magic", func(t *testing.T) {
		s := newTestStore(t, 128)
		require.NoError(t, s.Close())

		f, err := os.OpenFile(s.Path(), os.O_RDWR, 0o644)
		require.NoError(t, err)
		_, err = f.WriteAt([]byte("XXXX"), 0)
		require.NoError(t, err)
		require.NoError(t, f.Close())

		err = s.Open()
		assert.ErrorIs(t, err, ErrCorruptHeader)
		assert.Equal(t, StateClosed, s.State())
	})

	t.Run("partial trailing page", func(t *testing.T) {
		s := newTestStore(t, 128)
		require.NoError(t, s.Close())

		f, err := os.OpenFile(s.Path(), os.O_RDWR|os.O_APPEND, 0o644)
		require.NoError(t, err)
		_, err = f.Write([]byte("tail"))
		require.NoError(t, err)
		require.NoError(t, f.Close())

		assert.ErrorIs(t, s.Open(), ErrCorruptHeader)
	})

	t.Run("free list cycle", func(t *testing.T) {
		s := newTestStore(t, 128)
		c, err := s.CreateClient()
		require.NoError(t, err)
		p2, err := s.GetNewPage(c)
		require.NoError(t, err)
		p3, err := s.GetNewPage(c)
		require.NoError(t, err)
		require.NoError(t, s.DisposePage(c, p2))
		require.NoError(t, s.DisposePage(c, p3))
		require.NoError(t, s.Close())

		// free list is 3 -> 2 -> end; point 2 back at 3.
		f, err := os.OpenFile(s.Path(), os.O_RDWR, 0o644)
		require.NoError(t, err)
		_, err = f.WriteAt([]byte{3, 0, 0, 0}, int64(p2.ID())*128)
		require.NoError(t, err)
		require.NoError(t, f.Close())

		assert.ErrorIs(t, s.Open(), ErrCorruptHeader)
	})

	t.Run("page size mismatch", func(t *testing.T) {
		s := newTestStore(t, 256)
		require.NoError(t, s.Close())

		other := NewDiskStore(s.Path(), func(o *Options) { o.PageSize = 4096 })
		assert.ErrorIs(t, other.Open(), ErrCorruptHeader)
	})
}

func TestDiskStore_Lifecycle(t *testing.T) {
	s := newTestStore(t, 128)
	assert.Equal(t, StateOpen, s.State())
	assert.ErrorIs(t, s.Open(), ErrInvalidState)
	assert.ErrorIs(t, s.Create(), ErrInvalidState)

	id, err := s.CreateClient()
	require.NoError(t, err)
	c, err := s.OpenClient(id)
	require.NoError(t, err)

	assert.ErrorIs(t, s.Close(), ErrClientsOpen)
	assert.Equal(t, StateOpen, s.State())

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, StateClosed, s.State())

	_, err = s.GetPage(id, 1)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Close(), ErrInvalidState)

	bad := NewDiskStore(filepath.Join(t.TempDir(), "bad"), func(o *Options) { o.PageSize = 100 })
	assert.ErrorIs(t, bad.Create(), ErrInvalidPageSize)
}

func TestDiskStore_ClientHandle(t *testing.T) {
	s := newTestStore(t, 256)
	id, err := s.CreateClient()
	require.NoError(t, err)

	c, err := s.OpenClient(id)
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, id, c.ID())
	assert.Equal(t, uint32(256), c.PageSize())

	p, err := c.GetNewPage()
	require.NoError(t, err)
	copy(p.Body(), "via handle")
	require.NoError(t, c.WritePage(p))

	got, err := c.GetPage(p.ID())
	require.NoError(t, err)
	assert.Equal(t, p.Data(), got.Data())
	require.NoError(t, c.ReleasePage(got))

	hp, err := c.HeaderPageID()
	require.NoError(t, err)
	assert.Equal(t, page.PageID(1), hp)

	n, err := c.PageCount()
	require.NoError(t, err)
	assert.Equal(t, uint32(3), n)
}

func TestDiskStore_IOFailure(t *testing.T) {
	ffs := fs.NewFaultyFS(nil)
	s := newTestStore(t, 128, func(o *Options) { o.FileSystem = ffs })
	c, err := s.CreateClient()
	require.NoError(t, err)
	p, err := s.GetNewPage(c)
	require.NoError(t, err)

	ffs.AddRule("test.pages", fs.Fault{FailWrites: true})

	_, err = s.GetNewPage(c)
	assert.ErrorIs(t, err, ErrIOFailure)
	assert.ErrorIs(t, err, fs.ErrInjected)
	assert.ErrorIs(t, s.DisposePage(c, p), ErrIOFailure)
	assert.ErrorIs(t, s.WritePage(c, p), ErrIOFailure)
	_, err = s.CreateClient()
	assert.ErrorIs(t, err, ErrIOFailure)

	ffs.ClearRules()

	// Failed calls left no trace.
	n, err := s.PageCount(c)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), n)

	q, err := s.GetNewPage(c)
	require.NoError(t, err)
	assert.Equal(t, page.PageID(3), q.ID())
	assert.Equal(t, []page.ClientID{c}, s.Clients())

	report, err := s.Verify()
	require.NoError(t, err)
	assert.True(t, report.OK(), report.Problems)
}

func TestDiskStore_DisposeRollbackFailureIsLogged(t *testing.T) {
	var logs bytes.Buffer
	ffs := fs.NewFaultyFS(nil)
	s := newTestStore(t, 128, func(o *Options) {
		o.FileSystem = ffs
		o.Logger = slog.New(slog.NewTextHandler(&logs, nil))
	})
	c, err := s.CreateClient()
	require.NoError(t, err)
	p, err := s.GetNewPage(c)
	require.NoError(t, err)

	// The free link write goes through, the header write and the owner
	// restore fail.
	ffs.AddRule("test.pages", fs.Fault{FailAfterBytes: -1, FailAfterWrites: 1})
	assert.ErrorIs(t, s.DisposePage(c, p), ErrIOFailure)
	ffs.ClearRules()

	assert.Contains(t, logs.String(), "level=ERROR")
	assert.Contains(t, logs.String(), "restore owner tag failed")

	n, err := s.PageCount(c)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), n)
	assert.Equal(t, 0, s.Stats().FreePages)
}

func TestDiskStore_TruncateOnClose(t *testing.T) {
	s := newTestStore(t, 128, func(o *Options) { o.TruncateOnClose = true })
	c, err := s.CreateClient()
	require.NoError(t, err)

	var pages []*page.Page
	for range 4 {
		p, err := s.GetNewPage(c)
		require.NoError(t, err)
		pages = append(pages, p)
	}
	// pages 2..5; free 3, 4, 5 leaves 2 and the header page.
	require.NoError(t, s.DisposePage(c, pages[1]))
	require.NoError(t, s.DisposePage(c, pages[3]))
	require.NoError(t, s.DisposePage(c, pages[2]))

	s = reopen(t, s)

	info, err := os.Stat(s.Path())
	require.NoError(t, err)
	assert.Equal(t, int64(3*128), info.Size())

	stats := s.Stats()
	assert.Equal(t, uint32(3), stats.PageCount)
	assert.Equal(t, 0, stats.FreePages)

	got, err := s.GetPage(c, pages[0].ID())
	require.NoError(t, err)
	assert.Equal(t, c, got.Owner())
}

func TestDiskStore_TruncateKeepsInteriorFreePages(t *testing.T) {
	s := newTestStore(t, 128, func(o *Options) { o.TruncateOnClose = true })
	c, err := s.CreateClient()
	require.NoError(t, err)

	var pages []*page.Page
	for range 4 {
		p, err := s.GetNewPage(c)
		require.NoError(t, err)
		pages = append(pages, p)
	}
	require.NoError(t, s.DisposePage(c, pages[0]))
	require.NoError(t, s.DisposePage(c, pages[2]))
	require.NoError(t, s.DisposePage(c, pages[3]))

	s = reopen(t, s)

	stats := s.Stats()
	assert.Equal(t, uint32(4), stats.PageCount)
	assert.Equal(t, 1, stats.FreePages)

	report, err := s.Verify()
	require.NoError(t, err)
	assert.True(t, report.OK(), report.Problems)
}

// Random alloc/dispose traffic from several clients must keep every page
// reachable from exactly one place.
func TestDiskStore_Reachability(t *testing.T) {
	s := newTestStore(t, 128)
	rng := rand.New(rand.NewPCG(1, 2))

	const clients = 4
	owned := make(map[page.ClientID][]*page.Page)
	var ids []page.ClientID
	for range clients {
		c, err := s.CreateClient()
		require.NoError(t, err)
		ids = append(ids, c)
	}

	for range 500 {
		c := ids[rng.IntN(len(ids))]
		if len(owned[c]) > 0 && rng.IntN(3) == 0 {
			i := rng.IntN(len(owned[c]))
			p := owned[c][i]
			require.NoError(t, s.DisposePage(c, p))
			owned[c] = append(owned[c][:i], owned[c][i+1:]...)
			continue
		}
		p, err := s.GetNewPage(c)
		require.NoError(t, err)
		owned[c] = append(owned[c], p)
	}

	check := func(s *DiskStore) {
		report, err := s.Verify()
		require.NoError(t, err)
		require.True(t, report.OK(), report.Problems)

		total := report.System + report.Free
		for _, c := range ids {
			assert.Equal(t, len(owned[c])+1, report.Owned[c], "client %d", c)
			total += report.Owned[c]
		}
		assert.Equal(t, int(report.PageCount), total)
	}

	check(s)
	check(reopen(t, s))
}

func TestMemoryStore(t *testing.T) {
	m, err := NewMemoryStore(128)
	require.NoError(t, err)

	c, err := m.CreateClient()
	require.NoError(t, err)
	hp, err := m.HeaderPageID(c)
	require.NoError(t, err)
	assert.Equal(t, page.PageID(1), hp)

	p, err := m.GetNewPage(c)
	require.NoError(t, err)
	assert.Equal(t, page.PageID(2), p.ID())

	copy(p.Body(), "mem")
	require.NoError(t, m.WritePage(c, p))
	got, err := m.GetPage(c, p.ID())
	require.NoError(t, err)
	assert.Equal(t, "mem", string(got.Body()[:3]))

	require.NoError(t, m.DisposePage(c, p))
	assert.ErrorIs(t, m.DisposePage(c, p), ErrDoubleFree)
	_, err = m.GetPage(c, p.ID())
	assert.ErrorIs(t, err, ErrNotFound)

	q, err := m.GetNewPage(c)
	require.NoError(t, err)
	assert.Equal(t, p.ID(), q.ID())
	assert.Equal(t, make([]byte, 128-page.TagSize), q.Body())

	n, err := m.PageCount(c)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), n)

	_, err = m.GetNewPage(7)
	assert.ErrorIs(t, err, ErrUnknownClient)

	_, err = NewMemoryStore(100)
	assert.ErrorIs(t, err, ErrInvalidPageSize)
}
