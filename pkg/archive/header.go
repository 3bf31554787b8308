package archive

import (
	"encoding/binary"

	"github.com/rawbytedev/zcarchive/pkg/schema"
)

const (
	// HeaderSize is the fixed size of the archive header. The value graph
	// starts right after it.
	HeaderSize = 48
	// FormatVersion is the only version this package reads and writes.
	FormatVersion = 1

	// FlagBatch marks an archive whose root is Seq(Ref(document)).
	FlagBatch uint16 = 1 << 2

	flagWidthMask uint16 = 0x3
	knownFlags           = flagWidthMask | FlagBatch
)

// Magic marks the start of every archive.
const Magic = "ZCA\x01"

// Header layout:
//
//	0  magic      [4]byte
//	4  version    uint16
//	6  flags      uint16 (bits 0-1 offset width, bit 2 batch)
//	8  identity   [32]byte
//	40 root       uint64 (absolute position)
const (
	offVersion  = 4
	offFlags    = 6
	offIdentity = 8
	offRoot     = 40
)

// Header is the decoded fixed archive header.
type Header struct {
	Version  uint16
	Flags    uint16
	Identity [32]byte
	Root     uint64
}

// Width returns the offset width recorded in the flags.
func (h Header) Width() schema.Width { return schema.Width(h.Flags & flagWidthMask) }

// IsBatch reports whether the batch flag is set.
func (h Header) IsBatch() bool { return h.Flags&FlagBatch != 0 }

func headerFlags(w schema.Width, batch bool) uint16 {
	f := uint16(w) & flagWidthMask
	if batch {
		f |= FlagBatch
	}
	return f
}

// encodeHeader writes h into buf[:HeaderSize].
func encodeHeader(buf []byte, h Header) {
	copy(buf[0:], Magic)
	binary.LittleEndian.PutUint16(buf[offVersion:], h.Version)
	binary.LittleEndian.PutUint16(buf[offFlags:], h.Flags)
	copy(buf[offIdentity:offRoot], h.Identity[:])
	binary.LittleEndian.PutUint64(buf[offRoot:], h.Root)
}

// ParseHeader decodes and sanity checks the header of buf. It does not
// check the schema identity or the root offset; Validate does.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, &ValidationError{Offset: 0, Kind: OutOfBounds}
	}
	if string(buf[:len(Magic)]) != Magic {
		return Header{}, &ValidationError{Offset: 0, Kind: InvalidHeader}
	}
	h := Header{
		Version: binary.LittleEndian.Uint16(buf[offVersion:]),
		Flags:   binary.LittleEndian.Uint16(buf[offFlags:]),
		Root:    binary.LittleEndian.Uint64(buf[offRoot:]),
	}
	copy(h.Identity[:], buf[offIdentity:offRoot])
	if h.Version != FormatVersion {
		return Header{}, &ValidationError{Offset: offVersion, Kind: InvalidHeader}
	}
	if h.Flags&^knownFlags != 0 || !h.Width().Valid() {
		return Header{}, &ValidationError{Offset: offFlags, Kind: InvalidHeader}
	}
	return h, nil
}
