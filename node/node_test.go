package node

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/mamstore/page"
	"github.com/hupe1980/mamstore/pagestore"
	"github.com/hupe1980/mamstore/testutil"
)

func fill(n int, b byte) []byte {
	return bytes.Repeat([]byte{b}, n)
}

func TestNode_BoundaryArithmetic(t *testing.T) {
	n, err := New(make([]byte, 256), 16)
	require.NoError(t, err)
	assert.Equal(t, uint32(240), n.FreeSpace())

	require.True(t, n.AddEntry(fill(60, 'a')))
	assert.Equal(t, uint32(256-16-4-60), n.FreeSpace())

	require.True(t, n.AddEntry(fill(60, 'b')))
	assert.Equal(t, uint32(256-16-8-120), n.FreeSpace()) // 112

	// 112 >= 4+60, so a third 60-byte entry still fits.
	require.True(t, n.AddEntry(fill(60, 'c')))
	assert.Equal(t, uint32(256-16-12-180), n.FreeSpace()) // 48

	before := bytes.Clone(n.Bytes())
	assert.False(t, n.AddEntry(fill(60, 'd')))
	assert.Equal(t, before, n.Bytes())
	assert.Equal(t, 3, n.Len())

	// Exactly filling the node is allowed.
	assert.True(t, n.AddEntry(fill(44, 'e')))
	assert.Equal(t, uint32(0), n.FreeSpace())
	assert.False(t, n.AddEntry(nil))

	for i, want := range []byte{'a', 'b', 'c'} {
		obj, err := n.Object(i)
		require.NoError(t, err)
		assert.Equal(t, fill(60, want), obj)
	}
	obj, err := n.Object(3)
	require.NoError(t, err)
	assert.Equal(t, fill(44, 'e'), obj)
}

// Entries before the first rejection are all retrievable and the rejected
// call leaves the node as it was.
func TestNode_PackingIsAllOrNothing(t *testing.T) {
	for _, size := range []int{1, 7, 33, 100} {
		t.Run(fmt.Sprintf("size=%d", size), func(t *testing.T) {
			n, err := New(make([]byte, 512), 24)
			require.NoError(t, err)

			var added [][]byte
			for i := 0; ; i++ {
				payload := fill(size, byte(i))
				before := bytes.Clone(n.Bytes())
				free := n.FreeSpace()

				if !n.AddEntry(payload) {
					assert.Less(t, free, uint32(SlotSize+size))
					assert.Equal(t, before, n.Bytes())
					break
				}
				added = append(added, payload)
			}

			require.Equal(t, len(added), n.Len())
			for i, obj := range n.All() {
				assert.Equal(t, added[i], obj)
			}
		})
	}
}

func TestNode_VariableSizes(t *testing.T) {
	n, err := New(make([]byte, 128), MinHeaderSize)
	require.NoError(t, err)

	payloads := [][]byte{[]byte("x"), {}, []byte("hello"), fill(20, 'z')}
	for _, p := range payloads {
		require.True(t, n.AddEntry(p))
	}
	for i, want := range payloads {
		got, err := n.Object(i)
		require.NoError(t, err)
		assert.Equal(t, want, got, "entry %d", i)
	}

	_, err = n.Object(len(payloads))
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = n.Object(-1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestNode_OpenAndMetadata(t *testing.T) {
	buf := make([]byte, 256)
	n, err := New(buf, 16)
	require.NoError(t, err)
	copy(n.Metadata(), "level=2")
	require.True(t, n.AddEntry([]byte("first")))
	require.True(t, n.AddEntry([]byte("second")))

	m, err := Open(buf, 16)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, "level=2", string(m.Metadata()[:7]))
	obj, err := m.Object(1)
	require.NoError(t, err)
	assert.Equal(t, "second", string(obj))

	m.Reset()
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, uint32(240), m.FreeSpace())
	assert.Equal(t, "level=2", string(m.Metadata()[:7]))
}

func TestNode_OpenRejectsCorruption(t *testing.T) {
	buf := make([]byte, 128)
	n, err := New(buf, 8)
	require.NoError(t, err)
	require.True(t, n.AddEntry([]byte("abc")))

	bad := bytes.Clone(buf)
	bad[0] = 200 // count
	_, err = Open(bad, 8)
	assert.ErrorIs(t, err, ErrCorrupt)

	bad = bytes.Clone(buf)
	bad[4], bad[5] = 0xFF, 0xFF // payloadStart past the end
	_, err = Open(bad, 8)
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = New(buf, 4)
	assert.ErrorIs(t, err, ErrHeaderSize)
	_, err = New(buf, 129)
	assert.ErrorIs(t, err, ErrHeaderSize)
}

func TestNode_FromPage(t *testing.T) {
	p := page.New(3, 128)
	p.SetOwner(1)

	n, err := FromPage(p, 16)
	require.NoError(t, err)
	assert.Equal(t, uint32(128-page.TagSize-16), n.FreeSpace())
	require.True(t, n.AddEntry([]byte("tagged")))

	// The tag is untouched and the node survives a round trip.
	assert.Equal(t, page.ClientID(1), p.Owner())
	m, err := FromPage(p.Clone(), 16)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())
}

func newTestClient(t *testing.T, pageSize uint32) *pagestore.Client {
	t.Helper()
	mem, err := pagestore.NewMemoryStore(pageSize)
	require.NoError(t, err)
	id, err := mem.CreateClient()
	require.NoError(t, err)
	return pagestore.NewClient(mem, id)
}

func TestChain_RoundTrip(t *testing.T) {
	c := newTestClient(t, 128)

	var payloads [][]byte
	for i := range 40 {
		payloads = append(payloads, fill(1+i%17, byte(i)))
	}

	head, err := WriteChain(c, 16, payloads)
	require.NoError(t, err)

	length, err := ChainLength(c, head)
	require.NoError(t, err)
	assert.Greater(t, length, 1)

	got, err := ReadChain(c, head, 16)
	require.NoError(t, err)
	assert.Equal(t, payloads, got)

	before, err := c.PageCount()
	require.NoError(t, err)
	require.NoError(t, FreeChain(c, head))

	// Freed pages are reused before the store grows.
	head2, err := WriteChain(c, 16, payloads)
	require.NoError(t, err)
	after, err := c.PageCount()
	require.NoError(t, err)
	assert.Equal(t, before, after)

	got, err = ReadChain(c, head2, 16)
	require.NoError(t, err)
	assert.Equal(t, payloads, got)
}

func TestChain_Empty(t *testing.T) {
	c := newTestClient(t, 128)

	head, err := WriteChain(c, 8, nil)
	require.NoError(t, err)
	assert.NotEqual(t, page.NoPage, head)

	got, err := ReadChain(c, head, 8)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestChain_PayloadTooLarge(t *testing.T) {
	c := newTestClient(t, 128)
	before, err := c.PageCount()
	require.NoError(t, err)

	limit := MaxPayload(128-page.TagSize, 16)
	_, err = WriteChain(c, 16, [][]byte{fill(10, 1), fill(limit+1, 2)})
	assert.ErrorIs(t, err, ErrPayloadTooLarge)

	// Allocated pages were returned; the next allocation reuses them.
	p, err := c.GetNewPage()
	require.NoError(t, err)
	assert.Less(t, uint32(p.ID()), before+2)
}

func TestChain_Cycle(t *testing.T) {
	c := newTestClient(t, 128)

	head, err := WriteChain(c, 8, [][]byte{[]byte("loop")})
	require.NoError(t, err)

	p, err := c.GetPage(head)
	require.NoError(t, err)
	p.SetChainNext(head)
	require.NoError(t, c.WritePage(p))

	_, err = ReadChain(c, head, 8)
	assert.ErrorIs(t, err, ErrChainCycle)
}

func TestNode_VectorEntries(t *testing.T) {
	const dim = 6
	n, err := New(make([]byte, 512), 16)
	require.NoError(t, err)

	vecs := testutil.NewRNG(42).UniformVectors(64, dim)
	added := 0
	for _, v := range vecs {
		if !n.AddEntry(testutil.EncodeVector(v)) {
			break
		}
		added++
	}

	// 496 usable bytes, 24 bytes of payload plus a 4 byte slot per entry.
	assert.Equal(t, 496/(4*dim+SlotSize), added)
	assert.Equal(t, added, n.Len())
	for i, e := range n.All() {
		assert.Equal(t, vecs[i], testutil.DecodeVector(e))
	}
}

func TestChain_RandomPayloads(t *testing.T) {
	c := newTestClient(t, 256)
	payloads := testutil.NewRNG(7).Payloads(100, 0, MaxPayload(256-page.TagSize, 16))

	head, err := WriteChain(c, 16, payloads)
	require.NoError(t, err)

	got, err := ReadChain(c, head, 16)
	require.NoError(t, err)
	require.Len(t, got, len(payloads))
	for i := range payloads {
		assert.True(t, bytes.Equal(payloads[i], got[i]), "payload %d", i)
	}
}
