package pagestore

import (
	"fmt"

	"github.com/hupe1980/mamstore/page"
)

// allocation records where a page came from so a failed operation can put
// it back.
type allocation struct {
	id       page.PageID
	fromFree bool
	link     page.PageID
}

// allocLocked pops the free list head, or grows the store by one page.
func (s *DiskStore) allocLocked() (allocation, error) {
	if head := s.hdr.firstFree; head != page.NoPage {
		next, err := s.readLinkLocked(head)
		if err != nil {
			return allocation{}, err
		}
		s.hdr.firstFree = next
		s.free.Remove(head)
		return allocation{id: head, fromFree: true, link: next}, nil
	}

	if s.hdr.pageCount == ^uint32(0) {
		return allocation{}, fmt.Errorf("%w: page id space exhausted", ErrIOFailure)
	}
	id := page.PageID(s.hdr.pageCount)
	s.hdr.pageCount++
	return allocation{id: id}, nil
}

// undoLocked reverses allocLocked. Allocations must be undone in reverse
// order.
func (s *DiskStore) undoLocked(a allocation) {
	if !a.fromFree {
		s.hdr.pageCount--
		return
	}
	// The page content may have been overwritten; restore the link.
	if err := s.writeLinkLocked(a.id, a.link); err != nil {
		s.log.Error("failed to restore free list link", "page", a.id, "error", err)
	}
	s.hdr.firstFree = a.id
	s.free.Add(a.id)
}

func (s *DiskStore) checkClientLocked(op string, c page.ClientID, id page.PageID) error {
	if s.state != StateOpen {
		return pageErr(op, c, id, ErrClosed)
	}
	if _, ok := s.clients[c]; !ok {
		return pageErr(op, c, id, ErrUnknownClient)
	}
	return nil
}

// checkAllocatedLocked rejects ids that are out of range, free or reserved
// by the store itself.
func (s *DiskStore) checkAllocatedLocked(op string, c page.ClientID, id page.PageID) error {
	switch {
	case !s.inRangeLocked(id):
		return pageErr(op, c, id, fmt.Errorf("%w: out of range (page count %d)", ErrNotFound, s.hdr.pageCount))
	case s.free.Contains(id):
		return pageErr(op, c, id, fmt.Errorf("%w: page is free", ErrNotFound))
	case s.system.Contains(id):
		return pageErr(op, c, id, fmt.Errorf("%w: page is reserved by the store", ErrNotFound))
	}
	return nil
}

func (s *DiskStore) GetPage(c page.ClientID, id page.PageID) (*page.Page, error) {
	const op = "get page"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkClientLocked(op, c, id); err != nil {
		return nil, err
	}
	if err := s.checkAllocatedLocked(op, c, id); err != nil {
		return nil, err
	}

	p := page.New(id, s.opts.PageSize)
	if err := s.readAt(p.Data(), id, 0); err != nil {
		return nil, pageErr(op, c, id, err)
	}
	if owner := p.Owner(); owner != c {
		return nil, pageErr(op, c, id, fmt.Errorf("%w: owned by client %d", ErrNotFound, owner))
	}

	s.handles[c]++
	return p, nil
}

func (s *DiskStore) GetNewPage(c page.ClientID) (*page.Page, error) {
	const op = "get new page"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkClientLocked(op, c, page.NoPage); err != nil {
		return nil, err
	}

	a, err := s.allocLocked()
	if err != nil {
		return nil, pageErr(op, c, page.NoPage, err)
	}

	p := page.New(a.id, s.opts.PageSize)
	p.SetOwner(c)
	if err := s.writeAt(p.Data(), a.id, 0); err != nil {
		s.undoLocked(a)
		return nil, pageErr(op, c, a.id, err)
	}
	if err := s.writeHeaderLocked(); err != nil {
		s.undoLocked(a)
		return nil, pageErr(op, c, a.id, err)
	}

	s.handles[c]++
	s.log.Debug("page allocated", "client", c, "page", a.id, "reused", a.fromFree)
	return p, nil
}

// WritePage persists p. The tag in p is trusted; the on-disk owner is not
// re-read.
func (s *DiskStore) WritePage(c page.ClientID, p *page.Page) error {
	const op = "write page"

	s.mu.Lock()
	defer s.mu.Unlock()

	id := p.ID()
	if err := s.checkClientLocked(op, c, id); err != nil {
		return err
	}
	if p.Size() != s.opts.PageSize {
		return pageErr(op, c, id, fmt.Errorf("%w: got %d, want %d", ErrInvalidPageSize, p.Size(), s.opts.PageSize))
	}
	if owner := p.Owner(); owner != c {
		return pageErr(op, c, id, fmt.Errorf("%w: page tagged with client %d", ErrOwnershipMismatch, owner))
	}
	if err := s.checkAllocatedLocked(op, c, id); err != nil {
		return err
	}
	if hc, ok := s.headers[id]; ok && hc != c {
		return pageErr(op, c, id, fmt.Errorf("%w: header page of client %d", ErrOwnershipMismatch, hc))
	}
	owner, err := s.readOwnerLocked(id)
	if err != nil {
		return pageErr(op, c, id, err)
	}
	if owner != c {
		return pageErr(op, c, id, fmt.Errorf("%w: owned by client %d", ErrOwnershipMismatch, owner))
	}

	if err := s.writeAt(p.Data(), id, 0); err != nil {
		return pageErr(op, c, id, err)
	}
	return nil
}

// DisposePage pushes p on the free list. Only the 4-byte link is written;
// the rest of the page is left as is.
func (s *DiskStore) DisposePage(c page.ClientID, p *page.Page) error {
	const op = "dispose page"

	s.mu.Lock()
	defer s.mu.Unlock()

	id := p.ID()
	if err := s.checkClientLocked(op, c, id); err != nil {
		return err
	}

	switch {
	case !s.inRangeLocked(id):
		return pageErr(op, c, id, fmt.Errorf("%w: out of range (page count %d)", ErrNotFound, s.hdr.pageCount))
	case s.free.Contains(id):
		return pageErr(op, c, id, ErrDoubleFree)
	case s.system.Contains(id):
		return pageErr(op, c, id, fmt.Errorf("%w: page is reserved by the store", ErrOwnershipMismatch))
	}
	if hc, ok := s.headers[id]; ok {
		return pageErr(op, c, id, fmt.Errorf("%w: header page of client %d", ErrOwnershipMismatch, hc))
	}
	if owner := p.Owner(); owner != c {
		return pageErr(op, c, id, fmt.Errorf("%w: page tagged with client %d", ErrOwnershipMismatch, owner))
	}

	owner, err := s.readOwnerLocked(id)
	if err != nil {
		return pageErr(op, c, id, err)
	}
	if owner != c {
		return pageErr(op, c, id, fmt.Errorf("%w: owned by client %d", ErrOwnershipMismatch, owner))
	}

	prev := s.hdr.firstFree
	if err := s.writeLinkLocked(id, prev); err != nil {
		return pageErr(op, c, id, err)
	}
	s.hdr.firstFree = id
	s.free.Add(id)

	if err := s.writeHeaderLocked(); err != nil {
		s.hdr.firstFree = prev
		s.free.Remove(id)
		// Put the owner back where the link was written.
		if rerr := s.writeLinkLocked(id, page.PageID(owner)); rerr != nil {
			s.log.Error("restore owner tag failed", "client", c, "page", id, "error", rerr)
		}
		return pageErr(op, c, id, err)
	}

	if s.handles[c] > 0 {
		s.handles[c]--
	}
	s.log.Debug("page disposed", "client", c, "page", id)
	return nil
}

// ReleasePage drops a handle. It never performs I/O.
func (s *DiskStore) ReleasePage(c page.ClientID, p *page.Page) error {
	const op = "release page"

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkClientLocked(op, c, p.ID()); err != nil {
		return err
	}
	if owner := p.Owner(); owner != c {
		return pageErr(op, c, p.ID(), fmt.Errorf("%w: page tagged with client %d", ErrOwnershipMismatch, owner))
	}

	if s.handles[c] > 0 {
		s.handles[c]--
	}
	return nil
}

func (s *DiskStore) HeaderPageID(c page.ClientID) (page.PageID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkClientLocked("header page", c, page.NoPage); err != nil {
		return page.NoPage, err
	}
	return s.clients[c], nil
}

// PageCount returns the store-wide page count, header page included.
func (s *DiskStore) PageCount(c page.ClientID) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkClientLocked("page count", c, page.NoPage); err != nil {
		return 0, err
	}
	return s.hdr.pageCount, nil
}

// Handles returns the number of page handles c currently holds.
func (s *DiskStore) Handles(c page.ClientID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles[c]
}
