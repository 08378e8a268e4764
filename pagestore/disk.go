package pagestore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"sync"

	"github.com/hupe1980/mamstore/internal/fs"
	"github.com/hupe1980/mamstore/internal/pageset"
	"github.com/hupe1980/mamstore/page"
)

// State is the lifecycle state of a DiskStore.
type State int32

const (
	StateClosed State = iota
	StateOpening
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// DiskStore is a file-backed Store. Page 0 holds the store header and the
// first client entries; further entries spill into a chain of extension
// header pages. Unallocated pages form a LIFO free list rooted in the header.
//
// All header mutations (allocation, disposal, client registration) are
// serialized on a single mutex.
type DiskStore struct {
	mu   sync.Mutex
	path string
	opts Options
	log  *slog.Logger

	state State
	file  fs.File

	hdr       storeHeader
	entries   []clientEntry // chain order: primary entries first
	extPages  []page.PageID
	clients   map[page.ClientID]page.PageID
	headers   map[page.PageID]page.ClientID
	maxClient page.ClientID
	free      *pageset.Set
	system    *pageset.Set

	sessions map[page.ClientID]int
	handles  map[page.ClientID]int
	unclean  bool
}

var _ Store = (*DiskStore)(nil)

// NewDiskStore returns a closed store for the file at path. Call Create to
// initialize a fresh file, then Open.
func NewDiskStore(path string, optFns ...func(*Options)) *DiskStore {
	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.PageSize == 0 {
		opts.PageSize = page.DefaultSize
	}
	if opts.FileSystem == nil {
		opts.FileSystem = fs.Default
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	return &DiskStore{
		path:  path,
		opts:  opts,
		log:   opts.Logger.With("store", path),
		state: StateClosed,
	}
}

// Path returns the backing file path.
func (s *DiskStore) Path() string { return s.path }

// PageSize returns the fixed page size.
func (s *DiskStore) PageSize() uint32 { return s.opts.PageSize }

// State returns the lifecycle state.
func (s *DiskStore) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UncleanOpen reports whether the last Open found the in-use flag set,
// meaning the previous session ended without Close.
func (s *DiskStore) UncleanOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unclean
}

// Create initializes a fresh backing file, replacing any existing content.
// The store stays closed.
func (s *DiskStore) Create() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateClosed {
		return fmt.Errorf("%w: create in state %s", ErrInvalidState, s.state)
	}
	if !page.ValidSize(s.opts.PageSize) {
		return fmt.Errorf("%w: %d", ErrInvalidPageSize, s.opts.PageSize)
	}

	f, err := s.opts.FileSystem.OpenFile(s.path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return ioErr("create", err)
	}

	hdr := storeHeader{magic: Magic, pageCount: 1, firstFree: page.NoPage}
	buf := make([]byte, s.opts.PageSize)
	encodeStoreHeader(buf, &hdr, nil)

	if _, err := f.WriteAt(buf, 0); err != nil {
		_ = f.Close()
		return ioErr("write header", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return ioErr("sync", err)
	}
	if err := f.Close(); err != nil {
		return ioErr("close", err)
	}

	s.log.Info("store created", "page_size", s.opts.PageSize)
	return nil
}

// Open validates the header, loads the client chain and the free list and
// marks the file in use.
func (s *DiskStore) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateClosed {
		return fmt.Errorf("%w: open in state %s", ErrInvalidState, s.state)
	}
	if !page.ValidSize(s.opts.PageSize) {
		return fmt.Errorf("%w: %d", ErrInvalidPageSize, s.opts.PageSize)
	}

	s.state = StateOpening
	if err := s.openLocked(); err != nil {
		if s.file != nil {
			_ = s.file.Close()
			s.file = nil
		}
		s.state = StateClosed
		return err
	}
	s.state = StateOpen
	return nil
}

func (s *DiskStore) openLocked() error {
	f, err := s.opts.FileSystem.OpenFile(s.path, os.O_RDWR, 0o644)
	if err != nil {
		return ioErr("open", err)
	}
	s.file = f

	info, err := f.Stat()
	if err != nil {
		return ioErr("stat", err)
	}

	ps := int64(s.opts.PageSize)
	size := info.Size()
	if size < ps || size%ps != 0 {
		return corrupt("file size %d is not a multiple of page size %d", size, ps)
	}

	buf := make([]byte, ps)
	if err := s.readAt(buf, 0, 0); err != nil {
		return err
	}

	hdr := decodeStoreHeader(buf)
	if hdr.magic != Magic {
		return corrupt("bad magic %q", hdr.magic[:])
	}
	if hdr.pageCount < 1 || int64(hdr.pageCount)*ps > size {
		return corrupt("page count %d does not fit a file of %d bytes", hdr.pageCount, size)
	}
	if int64(hdr.pageCount)*ps < size {
		s.log.Debug("ignoring bytes past the last page", "page_count", hdr.pageCount, "file_size", size)
	}

	s.hdr = hdr
	s.entries = nil
	s.extPages = nil
	s.clients = make(map[page.ClientID]page.PageID)
	s.headers = make(map[page.PageID]page.ClientID)
	s.maxClient = page.NoClient
	s.free = pageset.New()
	s.system = pageset.New()
	s.sessions = make(map[page.ClientID]int)
	s.handles = make(map[page.ClientID]int)
	s.unclean = false

	if err := s.loadClientsLocked(buf); err != nil {
		return err
	}
	if err := s.loadFreeListLocked(); err != nil {
		return err
	}

	if hdr.inUse {
		s.unclean = true
		s.log.Warn("store was not closed cleanly; it may contain dangling allocations",
			"page_count", hdr.pageCount,
			"free", s.free.Len(),
		)
	}

	s.hdr.inUse = true
	if err := s.writeHeaderLocked(); err != nil {
		return err
	}
	if err := s.file.Sync(); err != nil {
		return ioErr("sync", err)
	}

	s.log.Info("store opened",
		"page_size", s.opts.PageSize,
		"page_count", s.hdr.pageCount,
		"clients", len(s.entries),
		"free", s.free.Len(),
	)
	return nil
}

func (s *DiskStore) loadClientsLocked(hdrPage []byte) error {
	ps := s.opts.PageSize
	total := int(s.hdr.clientCount)
	pcap, ecap := primaryCapacity(ps), extCapacity(ps)

	entries := decodeEntries(hdrPage[storeHeaderSize:], min(total, pcap))
	next := s.hdr.extNext
	if total <= pcap && next != page.NoPage {
		return corrupt("unexpected extension header %d for %d clients", next, total)
	}

	buf := make([]byte, ps)
	for next != page.NoPage {
		if !s.inRangeLocked(next) {
			return corrupt("extension header %d out of range", next)
		}
		if !s.system.Add(next) {
			return corrupt("extension header chain cycles at page %d", next)
		}
		s.extPages = append(s.extPages, next)

		if err := s.readAt(buf, next, 0); err != nil {
			return err
		}
		count, nxt := decodeExtHeader(buf)
		remaining := total - len(entries)
		if count == 0 || int(count) > ecap || int(count) > remaining {
			return corrupt("extension header %d holds %d entries", next, count)
		}
		if nxt != page.NoPage && int(count) != ecap {
			return corrupt("extension header %d is not full but has a successor", next)
		}
		entries = append(entries, decodeEntries(buf[extHeaderSize:], int(count))...)
		next = nxt
	}

	if len(entries) != total {
		return corrupt("header lists %d clients, chain holds %d", total, len(entries))
	}

	for _, e := range entries {
		if e.client == page.NoClient {
			return corrupt("client entry with reserved id 0")
		}
		if _, dup := s.clients[e.client]; dup {
			return corrupt("client %d registered twice", e.client)
		}
		if !s.inRangeLocked(e.header) || s.system.Contains(e.header) {
			return corrupt("client %d has invalid header page %d", e.client, e.header)
		}
		if other, dup := s.headers[e.header]; dup {
			return corrupt("clients %d and %d share header page %d", other, e.client, e.header)
		}
		s.clients[e.client] = e.header
		s.headers[e.header] = e.client
		s.maxClient = max(s.maxClient, e.client)
	}
	s.entries = entries
	return nil
}

func (s *DiskStore) loadFreeListLocked() error {
	id := s.hdr.firstFree
	for id != page.NoPage {
		if !s.inRangeLocked(id) {
			return corrupt("free list points outside the store: %d", id)
		}
		if _, ok := s.headers[id]; ok || s.system.Contains(id) {
			return corrupt("free list contains reserved page %d", id)
		}
		if !s.free.Add(id) {
			return corrupt("free list cycles at page %d", id)
		}
		next, err := s.readLinkLocked(id)
		if err != nil {
			return err
		}
		id = next
	}
	return nil
}

// Close flushes the header, clears the in-use flag and closes the file.
// All client sessions must be closed first.
func (s *DiskStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateOpen {
		return fmt.Errorf("%w: close in state %s", ErrInvalidState, s.state)
	}
	if n := len(s.sessions); n > 0 {
		return fmt.Errorf("%w: %d", ErrClientsOpen, n)
	}

	s.state = StateClosing

	var errs []error
	if s.opts.TruncateOnClose {
		if err := s.trimLocked(); err != nil {
			errs = append(errs, err)
		}
	}

	s.hdr.inUse = false
	if err := s.writeHeaderLocked(); err != nil {
		errs = append(errs, err)
	}
	if err := s.file.Sync(); err != nil {
		errs = append(errs, ioErr("sync", err))
	}
	if err := s.file.Close(); err != nil {
		errs = append(errs, ioErr("close", err))
	}
	s.file = nil
	s.state = StateClosed

	s.log.Info("store closed", "page_count", s.hdr.pageCount, "free", s.free.Len())
	return errors.Join(errs...)
}

// trimLocked drops free pages at the end of the file and relinks the rest.
func (s *DiskStore) trimLocked() error {
	trimmed := 0
	for s.hdr.pageCount > 1 && s.free.Contains(page.PageID(s.hdr.pageCount-1)) {
		s.free.Remove(page.PageID(s.hdr.pageCount - 1))
		s.hdr.pageCount--
		trimmed++
	}
	if trimmed == 0 {
		return nil
	}

	if err := s.relinkFreeListLocked(); err != nil {
		return err
	}
	if err := s.writeHeaderLocked(); err != nil {
		return err
	}
	if err := s.file.Truncate(int64(s.hdr.pageCount) * int64(s.opts.PageSize)); err != nil {
		return ioErr("truncate", err)
	}

	s.log.Info("trimmed trailing free pages", "trimmed", trimmed, "page_count", s.hdr.pageCount)
	return nil
}

// relinkFreeListLocked rewrites the free list in ascending id order.
func (s *DiskStore) relinkFreeListLocked() error {
	ids := slices.Collect(s.free.All())
	for i, id := range ids {
		next := page.NoPage
		if i+1 < len(ids) {
			next = ids[i+1]
		}
		if err := s.writeLinkLocked(id, next); err != nil {
			return err
		}
	}
	s.hdr.firstFree = page.NoPage
	if len(ids) > 0 {
		s.hdr.firstFree = ids[0]
	}
	return nil
}

// CreateClient registers a new client with a fresh header page and returns
// its id. Ids are assigned in increasing order starting at 1.
func (s *DiskStore) CreateClient() (page.ClientID, error) {
	const op = "create client"

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateOpen {
		return page.NoClient, pageErr(op, page.NoClient, page.NoPage, ErrClosed)
	}

	id := s.maxClient + 1
	ps := s.opts.PageSize

	hp, err := s.allocLocked()
	if err != nil {
		return page.NoClient, pageErr(op, id, page.NoPage, err)
	}
	allocs := []allocation{hp}
	undo := func() {
		for i := len(allocs) - 1; i >= 0; i-- {
			s.undoLocked(allocs[i])
		}
	}

	p := page.New(hp.id, ps)
	p.SetOwner(id)
	if err := s.writeAt(p.Data(), hp.id, 0); err != nil {
		undo()
		return page.NoClient, pageErr(op, id, hp.id, err)
	}

	idx := len(s.entries)
	s.entries = append(s.entries, clientEntry{client: id, header: hp.id})
	prevExtNext := s.hdr.extNext

	if pcap := primaryCapacity(ps); idx >= pcap {
		k := (idx - pcap) / extCapacity(ps)
		if k == len(s.extPages) {
			ep, err := s.allocLocked()
			if err != nil {
				s.entries = s.entries[:idx]
				undo()
				return page.NoClient, pageErr(op, id, hp.id, err)
			}
			allocs = append(allocs, ep)
			s.extPages = append(s.extPages, ep.id)
			s.system.Add(ep.id)
			if k == 0 {
				s.hdr.extNext = ep.id
			} else if err := s.writeExtLocked(k - 1); err != nil {
				s.rollbackExtLocked(idx, k, prevExtNext)
				undo()
				return page.NoClient, pageErr(op, id, ep.id, err)
			}
		}
		if err := s.writeExtLocked(k); err != nil {
			s.rollbackExtLocked(idx, k, prevExtNext)
			undo()
			return page.NoClient, pageErr(op, id, hp.id, err)
		}
	}

	if err := s.writeHeaderLocked(); err != nil {
		s.rollbackExtLocked(idx, len(s.extPages)-1, prevExtNext)
		undo()
		return page.NoClient, pageErr(op, id, hp.id, err)
	}

	s.clients[id] = hp.id
	s.headers[hp.id] = id
	s.maxClient = id

	s.log.Debug("client created", "client", id, "header_page", hp.id)
	return id, nil
}

// rollbackExtLocked forgets the entry at idx and, if it opened extension
// page k, that page as well.
func (s *DiskStore) rollbackExtLocked(idx, k int, prevExtNext page.PageID) {
	s.entries = s.entries[:idx]
	pcap, ecap := primaryCapacity(s.opts.PageSize), extCapacity(s.opts.PageSize)
	if k >= 0 && k < len(s.extPages) && idx == pcap+k*ecap {
		s.system.Remove(s.extPages[k])
		s.extPages = s.extPages[:k]
		s.hdr.extNext = prevExtNext
	}
}

// OpenClient starts a session for a registered client.
func (s *DiskStore) OpenClient(id page.ClientID) (*Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateOpen {
		return nil, pageErr("open client", id, page.NoPage, ErrClosed)
	}
	if _, ok := s.clients[id]; !ok {
		return nil, pageErr("open client", id, page.NoPage, ErrUnknownClient)
	}

	s.sessions[id]++
	s.log.Debug("client opened", "client", id, "sessions", s.sessions[id])

	return &Client{
		id:      id,
		store:   s,
		session: &session{close: func() error { return s.closeClient(id) }},
	}, nil
}

func (s *DiskStore) closeClient(id page.ClientID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sessions[id] > 1 {
		s.sessions[id]--
		return nil
	}
	delete(s.sessions, id)

	if n := s.handles[id]; n > 0 {
		s.log.Warn("client closed with outstanding page handles", "client", id, "handles", n)
	}
	delete(s.handles, id)
	s.log.Debug("client closed", "client", id)
	return nil
}

// Clients returns the registered client ids in ascending order.
func (s *DiskStore) Clients() []page.ClientID {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]page.ClientID, 0, len(s.entries))
	for _, e := range s.entries {
		ids = append(ids, e.client)
	}
	slices.Sort(ids)
	return ids
}

// DiskStats is a point-in-time view of the store.
type DiskStats struct {
	PageCount   uint32
	FreePages   int
	SystemPages int
	Clients     int
	Sessions    int
}

// Stats returns counters for an open store.
func (s *DiskStore) Stats() DiskStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateOpen {
		return DiskStats{}
	}
	return DiskStats{
		PageCount:   s.hdr.pageCount,
		FreePages:   s.free.Len(),
		SystemPages: s.system.Len() + 1,
		Clients:     len(s.entries),
		Sessions:    len(s.sessions),
	}
}

// Sync flushes the backing file.
func (s *DiskStore) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateOpen {
		return ErrClosed
	}
	if err := s.file.Sync(); err != nil {
		return ioErr("sync", err)
	}
	return nil
}

// ForEachPage calls fn with the raw bytes of every page, header included,
// in id order. Page 0 is presented as it would be after a clean Close, so a
// copy of the pages opens without a dirty-shutdown warning. The buffer is
// reused between calls. The store stays locked until ForEachPage returns;
// fn must not call back into it.
func (s *DiskStore) ForEachPage(fn func(id page.PageID, data []byte) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateOpen {
		return ErrClosed
	}

	buf := make([]byte, s.opts.PageSize)
	for i := uint32(0); i < s.hdr.pageCount; i++ {
		id := page.PageID(i)
		if err := s.readAt(buf, id, 0); err != nil {
			return err
		}
		if id == 0 {
			buf[offInUse] = 0
		}
		if err := fn(id, buf); err != nil {
			return err
		}
	}
	return nil
}

// Low-level helpers. Callers hold s.mu.

func (s *DiskStore) inRangeLocked(id page.PageID) bool {
	return id != page.NoPage && uint32(id) < s.hdr.pageCount
}

func (s *DiskStore) offset(id page.PageID, off int) int64 {
	return int64(id)*int64(s.opts.PageSize) + int64(off)
}

func (s *DiskStore) readAt(buf []byte, id page.PageID, off int) error {
	n, err := s.file.ReadAt(buf, s.offset(id, off))
	if err != nil && !(errors.Is(err, io.EOF) && n == len(buf)) {
		return ioErr(fmt.Sprintf("read page %d", id), err)
	}
	return nil
}

func (s *DiskStore) writeAt(buf []byte, id page.PageID, off int) error {
	if _, err := s.file.WriteAt(buf, s.offset(id, off)); err != nil {
		return ioErr(fmt.Sprintf("write page %d", id), err)
	}
	return nil
}

func (s *DiskStore) readLinkLocked(id page.PageID) (page.PageID, error) {
	var b [freeLinkSize]byte
	if err := s.readAt(b[:], id, 0); err != nil {
		return page.NoPage, err
	}
	return page.PageID(binary.LittleEndian.Uint32(b[:])), nil
}

func (s *DiskStore) writeLinkLocked(id, next page.PageID) error {
	var b [freeLinkSize]byte
	binary.LittleEndian.PutUint32(b[:], uint32(next))
	return s.writeAt(b[:], id, 0)
}

func (s *DiskStore) readOwnerLocked(id page.PageID) (page.ClientID, error) {
	var b [4]byte
	if err := s.readAt(b[:], id, 0); err != nil {
		return page.NoClient, err
	}
	return page.ClientID(binary.LittleEndian.Uint32(b[:])), nil
}

func (s *DiskStore) writeHeaderLocked() error {
	buf := make([]byte, s.opts.PageSize)
	n := min(len(s.entries), primaryCapacity(s.opts.PageSize))
	s.hdr.clientCount = uint32(len(s.entries))
	encodeStoreHeader(buf, &s.hdr, s.entries[:n])
	return s.writeAt(buf, 0, 0)
}

func (s *DiskStore) writeExtLocked(k int) error {
	ps := s.opts.PageSize
	start := primaryCapacity(ps) + k*extCapacity(ps)
	end := min(len(s.entries), start+extCapacity(ps))

	next := page.NoPage
	if k+1 < len(s.extPages) {
		next = s.extPages[k+1]
	}

	buf := make([]byte, ps)
	encodeExtHeader(buf, next, s.entries[start:end])
	return s.writeAt(buf, s.extPages[k], 0)
}
