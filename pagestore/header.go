package pagestore

import (
	"encoding/binary"

	"github.com/hupe1980/mamstore/page"
)

// On-disk layout of page 0:
//
//	magic[4] inUse[1] pageCount[4] firstFree[4] clientCount[4] extHeaderNext[4]
//	clientEntry{clientID[4] headerPageID[4]} ...
//
// Extension header pages:
//
//	clientCount[4] next[4] clientEntry ...
//
// Free pages carry the next free PageID in bytes 0..4.
const (
	storeHeaderSize = 21
	extHeaderSize   = 8
	clientEntrySize = 8
	freeLinkSize    = 4

	offMagic       = 0
	offInUse       = 4
	offPageCount   = 5
	offFirstFree   = 9
	offClientCount = 13
	offExtNext     = 17

	offExtCount = 0
	offExtNextX = 4
)

// Magic identifies a page file.
var Magic = [4]byte{'M', 'A', 'M', 'S'}

type storeHeader struct {
	magic       [4]byte
	inUse       bool
	pageCount   uint32
	firstFree   page.PageID
	clientCount uint32
	extNext     page.PageID
}

type clientEntry struct {
	client page.ClientID
	header page.PageID
}

// primaryCapacity is the number of client entries that fit in page 0.
func primaryCapacity(pageSize uint32) int {
	return int(pageSize-storeHeaderSize) / clientEntrySize
}

// extCapacity is the number of client entries per extension header page.
func extCapacity(pageSize uint32) int {
	return int(pageSize-extHeaderSize) / clientEntrySize
}

func encodeStoreHeader(buf []byte, h *storeHeader, entries []clientEntry) {
	clear(buf)
	copy(buf[offMagic:], h.magic[:])
	if h.inUse {
		buf[offInUse] = 1
	}
	binary.LittleEndian.PutUint32(buf[offPageCount:], h.pageCount)
	binary.LittleEndian.PutUint32(buf[offFirstFree:], uint32(h.firstFree))
	binary.LittleEndian.PutUint32(buf[offClientCount:], h.clientCount)
	binary.LittleEndian.PutUint32(buf[offExtNext:], uint32(h.extNext))
	encodeEntries(buf[storeHeaderSize:], entries)
}

func decodeStoreHeader(buf []byte) storeHeader {
	var h storeHeader
	copy(h.magic[:], buf[offMagic:offMagic+4])
	h.inUse = buf[offInUse] != 0
	h.pageCount = binary.LittleEndian.Uint32(buf[offPageCount:])
	h.firstFree = page.PageID(binary.LittleEndian.Uint32(buf[offFirstFree:]))
	h.clientCount = binary.LittleEndian.Uint32(buf[offClientCount:])
	h.extNext = page.PageID(binary.LittleEndian.Uint32(buf[offExtNext:]))
	return h
}

func encodeExtHeader(buf []byte, next page.PageID, entries []clientEntry) {
	clear(buf)
	binary.LittleEndian.PutUint32(buf[offExtCount:], uint32(len(entries)))
	binary.LittleEndian.PutUint32(buf[offExtNextX:], uint32(next))
	encodeEntries(buf[extHeaderSize:], entries)
}

func decodeExtHeader(buf []byte) (count uint32, next page.PageID) {
	count = binary.LittleEndian.Uint32(buf[offExtCount:])
	next = page.PageID(binary.LittleEndian.Uint32(buf[offExtNextX:]))
	return count, next
}

func encodeEntries(buf []byte, entries []clientEntry) {
	for i, e := range entries {
		off := i * clientEntrySize
		binary.LittleEndian.PutUint32(buf[off:], uint32(e.client))
		binary.LittleEndian.PutUint32(buf[off+4:], uint32(e.header))
	}
}

func decodeEntries(buf []byte, n int) []clientEntry {
	entries := make([]clientEntry, n)
	for i := range entries {
		off := i * clientEntrySize
		entries[i] = clientEntry{
			client: page.ClientID(binary.LittleEndian.Uint32(buf[off:])),
			header: page.PageID(binary.LittleEndian.Uint32(buf[off+4:])),
		}
	}
	return entries
}
