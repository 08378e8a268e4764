package snapshot

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/hupe1980/mamstore/internal/compress"
	"github.com/hupe1980/mamstore/internal/hash"
)

const (
	manifestMagic   = "MAMX"
	manifestVersion = 1
	manifestHeader  = 16
	manifestName    = "MANIFEST"
)

var (
	// ErrCorrupt is returned for manifests or chunks that fail validation.
	ErrCorrupt = errors.New("snapshot: corrupt")
	// ErrExists is returned when a snapshot with the same name is complete.
	ErrExists = errors.New("snapshot: already exists")
	// ErrNoSnapshot is returned when CURRENT names nothing.
	ErrNoSnapshot = errors.New("snapshot: no committed snapshot")
)

// Manifest describes a complete snapshot.
type Manifest struct {
	Name      string
	CreatedAt time.Time
	PageSize  uint32
	PageCount uint32
	Codec     compress.Codec
	Chunks    []ChunkInfo
}

// ChunkInfo locates one chunk.
type ChunkInfo struct {
	Name      string // blob name relative to the store root
	FirstPage uint32
	Pages     uint32
	Stored    uint64 // encoded block size
	CRC       uint32 // CRC32C of the encoded block
}

// StoredBytes returns the total encoded size of all chunks.
func (m *Manifest) StoredBytes() uint64 {
	var n uint64
	for _, c := range m.Chunks {
		n += c.Stored
	}
	return n
}

// RawBytes returns the size of the page file the snapshot restores.
func (m *Manifest) RawBytes() uint64 {
	return uint64(m.PageSize) * uint64(m.PageCount)
}

func manifestPath(name string) string { return path.Join(name, manifestName) }

func chunkPath(name string, i int) string {
	return path.Join(name, fmt.Sprintf("chunk-%06d", i))
}

// MarshalBinary encodes the manifest:
//
//	Magic "MAMX" (4) | Version (4) | CRC32C of payload (4) | PayloadLength (4)
//	Payload:
//	  Name (string) | CreatedAt UnixNano (8) | PageSize (4) | PageCount (4)
//	  Codec (1) | NumChunks (4)
//	  Chunks: Name (string) | FirstPage (4) | Pages (4) | Stored (8) | CRC (4)
//
// Strings are a u16 length followed by the bytes. Integers are little endian.
func (m *Manifest) MarshalBinary() ([]byte, error) {
	pb := &payloadBuffer{buf: make([]byte, 0, 64+len(m.Chunks)*48)}

	pb.writeString(m.Name)
	pb.writeUint64(uint64(m.CreatedAt.UnixNano()))
	pb.writeUint32(m.PageSize)
	pb.writeUint32(m.PageCount)
	pb.writeUint8(uint8(m.Codec))
	pb.writeUint32(uint32(len(m.Chunks)))
	for _, c := range m.Chunks {
		pb.writeString(c.Name)
		pb.writeUint32(c.FirstPage)
		pb.writeUint32(c.Pages)
		pb.writeUint64(c.Stored)
		pb.writeUint32(c.CRC)
	}
	if pb.err != nil {
		return nil, pb.err
	}

	out := make([]byte, manifestHeader, manifestHeader+len(pb.buf))
	copy(out[0:4], manifestMagic)
	binary.LittleEndian.PutUint32(out[4:8], manifestVersion)
	binary.LittleEndian.PutUint32(out[8:12], hash.CRC32C(pb.buf))
	binary.LittleEndian.PutUint32(out[12:16], uint32(len(pb.buf)))
	return append(out, pb.buf...), nil
}

// UnmarshalBinary decodes and validates a manifest.
func (m *Manifest) UnmarshalBinary(data []byte) error {
	if len(data) < manifestHeader {
		return fmt.Errorf("%w: manifest too short (%d bytes)", ErrCorrupt, len(data))
	}
	if string(data[0:4]) != manifestMagic {
		return fmt.Errorf("%w: bad manifest magic %q", ErrCorrupt, data[0:4])
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != manifestVersion {
		return fmt.Errorf("%w: unsupported manifest version %d", ErrCorrupt, v)
	}
	sum := binary.LittleEndian.Uint32(data[8:12])
	length := binary.LittleEndian.Uint32(data[12:16])
	payload := data[manifestHeader:]
	if uint64(len(payload)) != uint64(length) {
		return fmt.Errorf("%w: manifest payload is %d bytes, header says %d", ErrCorrupt, len(payload), length)
	}
	if hash.CRC32C(payload) != sum {
		return fmt.Errorf("%w: manifest checksum mismatch", ErrCorrupt)
	}

	pb := &payloadBuffer{buf: payload}
	m.Name = pb.readString()
	m.CreatedAt = time.Unix(0, int64(pb.readUint64())).UTC()
	m.PageSize = pb.readUint32()
	m.PageCount = pb.readUint32()
	m.Codec = compress.Codec(pb.readUint8())

	n := pb.readUint32()
	if pb.err == nil && uint64(n)*22 > uint64(len(payload)) {
		return fmt.Errorf("%w: manifest claims %d chunks", ErrCorrupt, n)
	}
	m.Chunks = make([]ChunkInfo, n)
	for i := range m.Chunks {
		c := &m.Chunks[i]
		c.Name = pb.readString()
		c.FirstPage = pb.readUint32()
		c.Pages = pb.readUint32()
		c.Stored = pb.readUint64()
		c.CRC = pb.readUint32()
	}
	if pb.err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, pb.err)
	}
	if pb.pos != len(payload) {
		return fmt.Errorf("%w: %d trailing manifest bytes", ErrCorrupt, len(payload)-pb.pos)
	}
	return m.validate()
}

// validate checks that the chunks tile [0, PageCount) in order.
func (m *Manifest) validate() error {
	var next uint32
	for i, c := range m.Chunks {
		if c.FirstPage != next || c.Pages == 0 {
			return fmt.Errorf("%w: chunk %d covers pages [%d, %d), want start %d", ErrCorrupt, i, c.FirstPage, c.FirstPage+c.Pages, next)
		}
		next += c.Pages
	}
	if next != m.PageCount {
		return fmt.Errorf("%w: chunks cover %d pages, manifest says %d", ErrCorrupt, next, m.PageCount)
	}
	return nil
}

type payloadBuffer struct {
	buf []byte
	pos int
	err error
}

func (p *payloadBuffer) writeUint8(v uint8) {
	if p.err == nil {
		p.buf = append(p.buf, v)
	}
}

func (p *payloadBuffer) writeUint32(v uint32) {
	if p.err == nil {
		p.buf = binary.LittleEndian.AppendUint32(p.buf, v)
	}
}

func (p *payloadBuffer) writeUint64(v uint64) {
	if p.err == nil {
		p.buf = binary.LittleEndian.AppendUint64(p.buf, v)
	}
}

func (p *payloadBuffer) writeString(s string) {
	if p.err != nil {
		return
	}
	if len(s) > 65535 {
		p.err = fmt.Errorf("string too long: %d", len(s))
		return
	}
	p.buf = binary.LittleEndian.AppendUint16(p.buf, uint16(len(s)))
	p.buf = append(p.buf, s...)
}

func (p *payloadBuffer) take(n int) []byte {
	if p.err != nil {
		return nil
	}
	if p.pos+n > len(p.buf) {
		p.err = io.ErrUnexpectedEOF
		return nil
	}
	b := p.buf[p.pos : p.pos+n]
	p.pos += n
	return b
}

func (p *payloadBuffer) readUint8() uint8 {
	if b := p.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (p *payloadBuffer) readUint32() uint32 {
	if b := p.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (p *payloadBuffer) readUint64() uint64 {
	if b := p.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (p *payloadBuffer) readString() string {
	b := p.take(2)
	if b == nil {
		return ""
	}
	return string(p.take(int(binary.LittleEndian.Uint16(b))))
}
