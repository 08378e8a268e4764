package pagestore

import (
	"fmt"
	"slices"

	"github.com/hupe1980/mamstore/internal/pageset"
	"github.com/hupe1980/mamstore/page"
)

// Report is the result of DiskStore.Verify.
type Report struct {
	PageCount uint32
	// Free is the number of pages on the free list.
	Free int
	// System counts page 0 and the extension header pages.
	System int
	// Owned counts allocated pages per client, header pages included.
	Owned    map[page.ClientID]int
	Problems []string
}

// OK reports whether no problems were found.
func (r *Report) OK() bool { return len(r.Problems) == 0 }

func (r *Report) problemf(format string, args ...any) {
	r.Problems = append(r.Problems, fmt.Sprintf(format, args...))
}

// Verify checks that every page id in [1, pageCount) is exactly one of:
// free, an extension header, or owned by a registered client. It also
// walks the on-disk free chain and compares it with the in-memory free set.
//
// Problems are reported, not returned as errors; the error result is only
// set when the file cannot be read.
func (s *DiskStore) Verify() (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateOpen {
		return nil, ErrClosed
	}

	r := &Report{
		PageCount: s.hdr.pageCount,
		Free:      s.free.Len(),
		System:    s.system.Len() + 1,
		Owned:     make(map[page.ClientID]int, len(s.clients)),
	}

	onDisk := pageset.New()
	for id := s.hdr.firstFree; id != page.NoPage; {
		if !s.inRangeLocked(id) {
			r.problemf("free chain leaves the store at page %d", id)
			break
		}
		if !onDisk.Add(id) {
			r.problemf("free chain cycles at page %d", id)
			break
		}
		next, err := s.readLinkLocked(id)
		if err != nil {
			return nil, err
		}
		id = next
	}
	for id := range s.free.All() {
		if !onDisk.Contains(id) {
			r.problemf("free page %d is not on the on-disk free chain", id)
		}
	}
	for id := range onDisk.All() {
		if !s.free.Contains(id) {
			r.problemf("page %d is on the on-disk free chain but not in the free set", id)
		}
	}
	if s.free.Intersects(s.system) {
		r.problemf("free set overlaps extension header pages")
	}

	for i := uint32(1); i < s.hdr.pageCount; i++ {
		id := page.PageID(i)
		if s.free.Contains(id) || s.system.Contains(id) {
			continue
		}
		owner, err := s.readOwnerLocked(id)
		if err != nil {
			return nil, err
		}
		if _, ok := s.clients[owner]; !ok {
			r.problemf("page %d is owned by unregistered client %d", id, owner)
			continue
		}
		if hc, ok := s.headers[id]; ok && hc != owner {
			r.problemf("header page %d of client %d is tagged with client %d", id, hc, owner)
		}
		r.Owned[owner]++
	}

	clients := make([]page.ClientID, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	slices.Sort(clients)
	for _, c := range clients {
		if r.Owned[c] == 0 {
			r.problemf("client %d owns no pages, header page %d missing", c, s.clients[c])
		}
	}

	if !r.OK() {
		s.log.Warn("store verification found problems", "problems", len(r.Problems))
	}
	return r, nil
}
