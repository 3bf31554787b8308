package archivefile

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies how a frame payload is stored. The values are
// written to disk and must not change.
type Compression uint8

const (
	CompressNone Compression = 0
	// CompressLZ4 is LZ4 block compression: fast, modest ratio.
	CompressLZ4 Compression = 1
	// CompressZstd is zstd at the default level: better ratio for the
	// string-heavy blocks archives usually carry.
	CompressZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressNone:
		return "none"
	case CompressLZ4:
		return "lz4"
	case CompressZstd:
		return "zstd"
	}
	return fmt.Sprintf("unknown(%d)", uint8(c))
}

// ParseCompression parses "none", "lz4" or "zstd".
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "none", "":
		return CompressNone, nil
	case "lz4":
		return CompressLZ4, nil
	case "zstd":
		return CompressZstd, nil
	}
	return 0, fmt.Errorf("unknown compression %q", s)
}

// errIncompressible means the compressed form is not smaller than the
// input; the frame is then stored raw.
var errIncompressible = errors.New("archivefile: incompressible")

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("archivefile: zstd encoder: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("archivefile: zstd decoder: " + err.Error())
	}
}

// compress returns the stored form of data and the compression actually
// used, falling back to CompressNone when c does not shrink the payload.
func compress(data []byte, c Compression) ([]byte, Compression, error) {
	var out []byte
	var err error
	switch c {
	case CompressNone:
		return data, CompressNone, nil
	case CompressLZ4:
		out, err = compressLZ4(data)
	case CompressZstd:
		out, err = compressZstd(data)
	default:
		return nil, 0, fmt.Errorf("archivefile: unsupported compression %s", c)
	}
	if errors.Is(err, errIncompressible) {
		return data, CompressNone, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return out, c, nil
}

func compressLZ4(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if n == 0 || n >= len(data) {
		return nil, errIncompressible
	}
	return dst[:n], nil
}

func compressZstd(data []byte) ([]byte, error) {
	out := zstdEncoder.EncodeAll(data, nil)
	if len(out) >= len(data) {
		return nil, errIncompressible
	}
	return out, nil
}

// decompress expands stored into dst, which must be exactly the raw size.
func decompress(dst, stored []byte, c Compression) error {
	switch c {
	case CompressNone:
		if len(stored) != len(dst) {
			return fmt.Errorf("%w: raw frame is %d bytes, want %d", ErrCorrupt, len(stored), len(dst))
		}
		copy(dst, stored)
	case CompressLZ4:
		n, err := lz4.UncompressBlock(stored, dst)
		if err != nil {
			return fmt.Errorf("%w: lz4: %v", ErrCorrupt, err)
		}
		if n != len(dst) {
			return fmt.Errorf("%w: lz4 produced %d bytes, want %d", ErrCorrupt, n, len(dst))
		}
	case CompressZstd:
		out, err := zstdDecoder.DecodeAll(stored, dst[:0])
		if err != nil {
			return fmt.Errorf("%w: zstd: %v", ErrCorrupt, err)
		}
		if len(out) != len(dst) {
			return fmt.Errorf("%w: zstd produced %d bytes, want %d", ErrCorrupt, len(out), len(dst))
		}
		if len(out) > 0 && &out[0] != &dst[0] {
			copy(dst, out)
		}
	default:
		return fmt.Errorf("%w: unknown compression %d", ErrCorrupt, uint8(c))
	}
	return nil
}
