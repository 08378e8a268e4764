// Package compress implements the block codecs used for snapshot chunks.
//
// Block format:
//
//	[rawSize u32][storedSize u32][data ...]
//
// storedSize == 0 means data is stored raw, which is also the fallback when
// a codec does not shrink the input by at least 10%. Zeroed pages are common
// in a page file, so chunks usually compress well.
package compress

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec selects the compression algorithm.
type Codec uint8

const (
	None Codec = 0
	// LZ4 is fast with a moderate ratio.
	LZ4 Codec = 1
	// ZSTD has the better ratio.
	ZSTD Codec = 2
)

func (c Codec) String() string {
	switch c {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case ZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("Codec(%d)", uint8(c))
	}
}

// ParseCodec is the inverse of String.
func ParseCodec(s string) (Codec, error) {
	for _, c := range []Codec{None, LZ4, ZSTD} {
		if c.String() == s {
			return c, nil
		}
	}
	return None, fmt.Errorf("unknown codec %q", s)
}

// ErrCorrupt is returned for blocks that cannot be decoded.
var ErrCorrupt = errors.New("corrupt compressed block")

const headerSize = 8

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Encode compresses data into a self-describing block.
func Encode(data []byte, c Codec) ([]byte, error) {
	var packed []byte

	switch c {
	case None:
	case LZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4: %w", err)
		}
		packed = buf[:n] // n == 0: incompressible
	case ZSTD:
		enc := getZstdEncoder()
		packed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, fmt.Errorf("unsupported codec %v", c)
	}

	if len(packed) == 0 || float64(len(packed)) > float64(len(data))*0.9 {
		packed = nil
	}

	stored := data
	if packed != nil {
		stored = packed
	}
	out := make([]byte, headerSize+len(stored))
	binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
	binary.LittleEndian.PutUint32(out[4:], uint32(len(packed)))
	copy(out[headerSize:], stored)
	return out, nil
}

// Decode reverses Encode. c must be the codec the block was written with.
func Decode(block []byte, c Codec) ([]byte, error) {
	if len(block) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrCorrupt, len(block))
	}
	raw := binary.LittleEndian.Uint32(block[0:])
	stored := binary.LittleEndian.Uint32(block[4:])
	data := block[headerSize:]

	if stored == 0 {
		if uint32(len(data)) != raw {
			return nil, fmt.Errorf("%w: raw block holds %d bytes, header says %d", ErrCorrupt, len(data), raw)
		}
		return data, nil
	}
	if uint32(len(data)) != stored {
		return nil, fmt.Errorf("%w: block holds %d bytes, header says %d", ErrCorrupt, len(data), stored)
	}

	out := make([]byte, raw)
	switch c {
	case LZ4:
		n, err := lz4.UncompressBlock(data, out)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %w", ErrCorrupt, err)
		}
		if uint32(n) != raw {
			return nil, fmt.Errorf("%w: decompressed %d bytes, want %d", ErrCorrupt, n, raw)
		}
		return out, nil
	case ZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		decoded, err := dec.DecodeAll(data, out[:0])
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %w", ErrCorrupt, err)
		}
		if uint32(len(decoded)) != raw {
			return nil, fmt.Errorf("%w: decompressed %d bytes, want %d", ErrCorrupt, len(decoded), raw)
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("%w: compressed block with codec %v", ErrCorrupt, c)
	}
}
