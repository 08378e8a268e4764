package pagestore

import (
	"fmt"
	"sync"

	"github.com/hupe1980/mamstore/page"
)

// MemoryStore is a Store held entirely in memory. Page 0 is reserved, free
// pages are reused LIFO and every page carries an owner tag, like DiskStore.
type MemoryStore struct {
	mu       sync.Mutex
	pageSize uint32
	pages    [][]byte // index = PageID; nil for page 0
	free     []page.PageID
	isFree   map[page.PageID]bool
	clients  map[page.ClientID]page.PageID
	headers  map[page.PageID]page.ClientID
	next     page.ClientID
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store with the given page size.
func NewMemoryStore(pageSize uint32) (*MemoryStore, error) {
	if !page.ValidSize(pageSize) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPageSize, pageSize)
	}
	return &MemoryStore{
		pageSize: pageSize,
		pages:    [][]byte{nil},
		isFree:   make(map[page.PageID]bool),
		clients:  make(map[page.ClientID]page.PageID),
		headers:  make(map[page.PageID]page.ClientID),
		next:     1,
	}, nil
}

// CreateClient registers a client with a fresh header page.
func (m *MemoryStore) CreateClient() (page.ClientID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.next
	m.next++
	id := m.allocLocked(c)
	m.clients[c] = id
	m.headers[id] = c
	return c, nil
}

func (m *MemoryStore) allocLocked(c page.ClientID) page.PageID {
	var id page.PageID
	if n := len(m.free); n > 0 {
		id = m.free[n-1]
		m.free = m.free[:n-1]
		delete(m.isFree, id)
		clear(m.pages[id])
	} else {
		id = page.PageID(len(m.pages))
		m.pages = append(m.pages, make([]byte, m.pageSize))
	}
	page.FromBytes(id, m.pages[id]).SetOwner(c)
	return id
}

func (m *MemoryStore) checkLocked(op string, c page.ClientID, id page.PageID) error {
	if _, ok := m.clients[c]; !ok {
		return pageErr(op, c, id, ErrUnknownClient)
	}
	return nil
}

func (m *MemoryStore) allocatedLocked(id page.PageID) bool {
	return id != page.NoPage && int(id) < len(m.pages) && !m.isFree[id]
}

func (m *MemoryStore) GetPage(c page.ClientID, id page.PageID) (*page.Page, error) {
	const op = "get page"

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked(op, c, id); err != nil {
		return nil, err
	}
	if !m.allocatedLocked(id) {
		return nil, pageErr(op, c, id, ErrNotFound)
	}
	p := page.FromBytes(id, m.pages[id]).Clone()
	if owner := p.Owner(); owner != c {
		return nil, pageErr(op, c, id, fmt.Errorf("%w: owned by client %d", ErrNotFound, owner))
	}
	return p, nil
}

func (m *MemoryStore) GetNewPage(c page.ClientID) (*page.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked("get new page", c, page.NoPage); err != nil {
		return nil, err
	}
	id := m.allocLocked(c)
	return page.FromBytes(id, m.pages[id]).Clone(), nil
}

func (m *MemoryStore) WritePage(c page.ClientID, p *page.Page) error {
	const op = "write page"

	m.mu.Lock()
	defer m.mu.Unlock()

	id := p.ID()
	if err := m.checkLocked(op, c, id); err != nil {
		return err
	}
	if p.Size() != m.pageSize {
		return pageErr(op, c, id, fmt.Errorf("%w: got %d, want %d", ErrInvalidPageSize, p.Size(), m.pageSize))
	}
	if p.Owner() != c {
		return pageErr(op, c, id, ErrOwnershipMismatch)
	}
	if !m.allocatedLocked(id) {
		return pageErr(op, c, id, ErrNotFound)
	}
	if owner := page.FromBytes(id, m.pages[id]).Owner(); owner != c {
		return pageErr(op, c, id, fmt.Errorf("%w: owned by client %d", ErrOwnershipMismatch, owner))
	}
	copy(m.pages[id], p.Data())
	return nil
}

func (m *MemoryStore) DisposePage(c page.ClientID, p *page.Page) error {
	const op = "dispose page"

	m.mu.Lock()
	defer m.mu.Unlock()

	id := p.ID()
	if err := m.checkLocked(op, c, id); err != nil {
		return err
	}
	if m.isFree[id] {
		return pageErr(op, c, id, ErrDoubleFree)
	}
	if !m.allocatedLocked(id) {
		return pageErr(op, c, id, ErrNotFound)
	}
	if _, ok := m.headers[id]; ok {
		return pageErr(op, c, id, fmt.Errorf("%w: header page", ErrOwnershipMismatch))
	}
	if owner := page.FromBytes(id, m.pages[id]).Owner(); owner != c || p.Owner() != c {
		return pageErr(op, c, id, ErrOwnershipMismatch)
	}

	m.free = append(m.free, id)
	m.isFree[id] = true
	return nil
}

func (m *MemoryStore) ReleasePage(c page.ClientID, p *page.Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked("release page", c, p.ID()); err != nil {
		return err
	}
	if p.Owner() != c {
		return pageErr("release page", c, p.ID(), ErrOwnershipMismatch)
	}
	return nil
}

func (m *MemoryStore) HeaderPageID(c page.ClientID) (page.PageID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked("header page", c, page.NoPage); err != nil {
		return page.NoPage, err
	}
	return m.clients[c], nil
}

func (m *MemoryStore) PageCount(c page.ClientID) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked("page count", c, page.NoPage); err != nil {
		return 0, err
	}
	return uint32(len(m.pages)), nil
}

func (m *MemoryStore) PageSize() uint32 { return m.pageSize }

// FreePages returns the number of pages on the free list.
func (m *MemoryStore) FreePages() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.free)
}
