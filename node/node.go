package node

import (
	"encoding/binary"
	"errors"
	"fmt"
	"iter"

	"github.com/hupe1980/mamstore/page"
)

// SlotSize is the size of one directory entry (a payload offset).
const SlotSize = 4

// MinHeaderSize covers the fixed node fields: count and payloadStart.
const MinHeaderSize = 8

const (
	offCount        = 0
	offPayloadStart = 4
)

var (
	// ErrHeaderSize is returned for a header that does not fit the buffer
	// or is smaller than MinHeaderSize.
	ErrHeaderSize = errors.New("invalid node header size")

	// ErrCorrupt is returned by Open when the node fields are inconsistent.
	ErrCorrupt = errors.New("corrupt node")

	// ErrIndexOutOfRange is returned by Object for an index >= Len.
	ErrIndexOutOfRange = errors.New("entry index out of range")
)

// Node is a slotted layout over a byte buffer. The directory of payload
// offsets grows up from the header, payloads grow down from the end:
//
//	[count u32][payloadStart u32][metadata ...][dir 0][dir 1]...  free  ...[payload 1][payload 0]
//	0          4                 8             headerSize                  payloadStart    len(buf)
//
// Entries are append-only; to delete, rebuild the node.
type Node struct {
	buf        []byte
	headerSize int
}

// New formats buf as an empty node.
func New(buf []byte, headerSize int) (*Node, error) {
	if err := checkHeader(len(buf), headerSize); err != nil {
		return nil, err
	}
	n := &Node{buf: buf, headerSize: headerSize}
	n.Reset()
	return n, nil
}

// Open attaches to a node previously formatted with New.
func Open(buf []byte, headerSize int) (*Node, error) {
	if err := checkHeader(len(buf), headerSize); err != nil {
		return nil, err
	}
	n := &Node{buf: buf, headerSize: headerSize}

	count := n.count()
	start := int(n.payloadStart())
	dirEnd := headerSize + count*SlotSize
	if start < dirEnd || start > len(buf) {
		return nil, fmt.Errorf("%w: payload start %d, directory end %d, size %d", ErrCorrupt, start, dirEnd, len(buf))
	}

	prev := len(buf)
	for i := range count {
		off := n.slot(i)
		if off < start || off > prev {
			return nil, fmt.Errorf("%w: entry %d at offset %d", ErrCorrupt, i, off)
		}
		prev = off
	}
	if prev != start {
		return nil, fmt.Errorf("%w: last entry ends at %d, payload start %d", ErrCorrupt, prev, start)
	}
	return n, nil
}

// FromPage attaches to the node stored in the page body. A page that was
// never formatted (all node fields zero) is formatted on the fly.
func FromPage(p *page.Page, headerSize int) (*Node, error) {
	body := p.Body()
	if len(body) >= MinHeaderSize &&
		binary.LittleEndian.Uint32(body[offCount:]) == 0 &&
		binary.LittleEndian.Uint32(body[offPayloadStart:]) == 0 {
		return New(body, headerSize)
	}
	return Open(body, headerSize)
}

func checkHeader(size, headerSize int) error {
	if headerSize < MinHeaderSize || headerSize > size {
		return fmt.Errorf("%w: %d for buffer of %d bytes", ErrHeaderSize, headerSize, size)
	}
	return nil
}

// MaxPayload is the largest payload an empty node of the given sizes
// accepts.
func MaxPayload(bufSize, headerSize int) int {
	return max(bufSize-headerSize-SlotSize, 0)
}

// Reset empties the node. Metadata is kept.
func (n *Node) Reset() {
	n.setCount(0)
	n.setPayloadStart(uint32(len(n.buf)))
}

// Len returns the number of entries.
func (n *Node) Len() int { return n.count() }

// HeaderSize returns the size of the node header, metadata included.
func (n *Node) HeaderSize() int { return n.headerSize }

// Metadata returns the caller-owned header bytes after the node fields.
func (n *Node) Metadata() []byte { return n.buf[MinHeaderSize:n.headerSize] }

// Bytes returns the underlying buffer.
func (n *Node) Bytes() []byte { return n.buf }

// FreeSpace returns payloadStart - directoryEnd.
func (n *Node) FreeSpace() uint32 {
	return n.payloadStart() - uint32(n.directoryEnd())
}

// Fits reports whether a payload of size bytes can be added.
func (n *Node) Fits(size int) bool {
	return uint64(SlotSize)+uint64(size) <= uint64(n.FreeSpace())
}

// AddEntry appends payload. It reports false, leaving the node untouched,
// if the payload and its directory slot do not fit.
func (n *Node) AddEntry(payload []byte) bool {
	if !n.Fits(len(payload)) {
		return false
	}

	count := n.count()
	start := int(n.payloadStart()) - len(payload)
	copy(n.buf[start:], payload)
	binary.LittleEndian.PutUint32(n.buf[n.headerSize+count*SlotSize:], uint32(start))
	n.setPayloadStart(uint32(start))
	n.setCount(count + 1)
	return true
}

// Object returns entry i. The slice aliases the node buffer.
func (n *Node) Object(i int) ([]byte, error) {
	if i < 0 || i >= n.count() {
		return nil, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, i, n.count())
	}
	end := len(n.buf)
	if i > 0 {
		end = n.slot(i - 1)
	}
	return n.buf[n.slot(i):end], nil
}

// All iterates the entries in insertion order.
func (n *Node) All() iter.Seq2[int, []byte] {
	return func(yield func(int, []byte) bool) {
		end := len(n.buf)
		for i := range n.count() {
			start := n.slot(i)
			if !yield(i, n.buf[start:end]) {
				return
			}
			end = start
		}
	}
}

func (n *Node) count() int {
	return int(binary.LittleEndian.Uint32(n.buf[offCount:]))
}

func (n *Node) setCount(c int) {
	binary.LittleEndian.PutUint32(n.buf[offCount:], uint32(c))
}

func (n *Node) payloadStart() uint32 {
	return binary.LittleEndian.Uint32(n.buf[offPayloadStart:])
}

func (n *Node) setPayloadStart(v uint32) {
	binary.LittleEndian.PutUint32(n.buf[offPayloadStart:], v)
}

func (n *Node) directoryEnd() int {
	return n.headerSize + n.count()*SlotSize
}

func (n *Node) slot(i int) int {
	return int(binary.LittleEndian.Uint32(n.buf[n.headerSize+i*SlotSize:]))
}
