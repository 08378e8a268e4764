package page

import (
	"encoding/binary"
	"fmt"
)

// PageID identifies a page inside one backing store.
type PageID uint32

// NoPage is the sentinel for "no page": end of a chain, an empty free list,
// or an unallocated slot.
const NoPage PageID = 0

// ClientID identifies a logical tenant sharing a backing store.
type ClientID uint32

// NoClient is never assigned to a registered client.
const NoClient ClientID = 0

const (
	// TagSize is the size of the owner tag stored at the start of every
	// allocated page: owner (4 bytes) followed by chainNext (4 bytes).
	TagSize = 8

	tagOwnerOffset = 0
	tagNextOffset  = 4
)

const (
	// MinSize is the smallest supported page size.
	MinSize = 128
	// MaxSize is the largest supported page size.
	MaxSize = 1 << 16
	// DefaultSize is used when no page size is configured.
	DefaultSize = 4096
)

// ValidSize reports whether size is a supported page size.
func ValidSize(size uint32) bool {
	return size >= MinSize && size <= MaxSize && size&(size-1) == 0
}

// Page is a fixed-size raw byte buffer, the unit of I/O.
//
// A Page has exactly one owner at a time: the store that produced it, a cache
// entry, or the caller holding it. Stores and caches hand out copies.
type Page struct {
	id   PageID
	data []byte
}

// New returns a zeroed page of the given size.
func New(id PageID, size uint32) *Page {
	return &Page{id: id, data: make([]byte, size)}
}

// FromBytes wraps data as a page without copying.
func FromBytes(id PageID, data []byte) *Page {
	return &Page{id: id, data: data}
}

// ID returns the page id.
func (p *Page) ID() PageID { return p.id }

// Size returns the page size in bytes.
func (p *Page) Size() uint32 { return uint32(len(p.data)) }

// Data returns the raw page bytes, including the owner tag.
func (p *Page) Data() []byte { return p.data }

// Body returns the bytes following the owner tag.
func (p *Page) Body() []byte { return p.data[TagSize:] }

// Owner returns the client recorded in the page tag.
func (p *Page) Owner() ClientID {
	return ClientID(binary.LittleEndian.Uint32(p.data[tagOwnerOffset:]))
}

// SetOwner records c as the owning client.
func (p *Page) SetOwner(c ClientID) {
	binary.LittleEndian.PutUint32(p.data[tagOwnerOffset:], uint32(c))
}

// ChainNext returns the chained successor page, or NoPage.
func (p *Page) ChainNext() PageID {
	return PageID(binary.LittleEndian.Uint32(p.data[tagNextOffset:]))
}

// SetChainNext links the page to next.
func (p *Page) SetChainNext(next PageID) {
	binary.LittleEndian.PutUint32(p.data[tagNextOffset:], uint32(next))
}

// Clear zeroes the body. The owner tag is kept.
func (p *Page) Clear() {
	clear(p.data[TagSize:])
}

// Clone returns a deep copy of the page.
func (p *Page) Clone() *Page {
	data := make([]byte, len(p.data))
	copy(data, p.data)
	return &Page{id: p.id, data: data}
}

// CopyFrom overwrites the page content with src. Sizes must match.
func (p *Page) CopyFrom(src *Page) error {
	if len(src.data) != len(p.data) {
		return fmt.Errorf("page size mismatch: %d != %d", len(src.data), len(p.data))
	}
	copy(p.data, src.data)
	return nil
}

func (p *Page) String() string {
	return fmt.Sprintf("page(%d, owner=%d, next=%d)", p.id, p.Owner(), p.ChainNext())
}
