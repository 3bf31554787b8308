// Package archivefile stores archives on disk. A file is a short header
// followed by length-framed, checksummed and optionally compressed frames
// carrying a schema description or archive buffers. Archives read back are
// placed in 8-byte aligned memory so their views can alias scalars.
//
// The package sits outside the archive core: it moves bytes and checks
// their integrity, and leaves interpretation to archive.Validate.
package archivefile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/zeebo/blake3"

	"github.com/rawbytedev/zcarchive/internal/common"
	"github.com/rawbytedev/zcarchive/pkg/schema"
)

const (
	// FileMagic starts every framed file.
	FileMagic = "ZCAF"
	// FileVersion is the framing version written and accepted.
	FileVersion = 1

	fileHeaderSize = 8

	// Frame header layout:
	//
	//	0  kind        uint8
	//	1  compression uint8
	//	2  reserved    [6]byte
	//	8  stored      uint64 (payload bytes on disk)
	//	16 raw         uint64 (payload bytes after decompression)
	//	24 checksum    [32]byte (BLAKE3 of the raw payload)
	frameHeaderSize = 56

	// DefaultMaxFrameSize bounds the raw size a Reader allocates for one
	// frame.
	DefaultMaxFrameSize = 1 << 30
)

// FrameKind tells what a frame carries.
type FrameKind uint8

const (
	FrameSchema  FrameKind = 1
	FrameArchive FrameKind = 2
)

func (k FrameKind) String() string {
	switch k {
	case FrameSchema:
		return "schema"
	case FrameArchive:
		return "archive"
	}
	return fmt.Sprintf("unknown(%d)", uint8(k))
}

var (
	ErrBadMagic   = errors.New("archivefile: not a framed archive file")
	ErrVersion    = errors.New("archivefile: unsupported file version")
	ErrChecksum   = errors.New("archivefile: checksum mismatch")
	ErrCorrupt    = errors.New("archivefile: corrupt frame")
	ErrFrameLimit = errors.New("archivefile: frame exceeds size limit")
)

// Frame is one decoded frame. Data is owned by the caller; archive frames
// are 8-byte aligned.
type Frame struct {
	Kind        FrameKind
	Compression Compression
	Stored      int
	Data        []byte
}

// Schema decodes a schema frame.
func (f Frame) Schema() (*schema.Schema, error) {
	if f.Kind != FrameSchema {
		return nil, fmt.Errorf("archivefile: %s frame is not a schema", f.Kind)
	}
	return schema.Unmarshal(f.Data)
}

// WriterOptions configure a Writer.
type WriterOptions struct {
	Compression Compression
	Logger      *zerolog.Logger
}

// Writer appends frames to an io.Writer. It does not buffer; wrap slow
// writers in a bufio.Writer.
type Writer struct {
	w       io.Writer
	opts    WriterOptions
	log     zerolog.Logger
	started bool
	head    [frameHeaderSize]byte
}

func NewWriter(w io.Writer, opts WriterOptions) *Writer {
	log := zerolog.Nop()
	if opts.Logger != nil {
		log = *opts.Logger
	}
	return &Writer{w: w, opts: opts, log: log}
}

// WriteSchema writes the deterministic description of s.
func (w *Writer) WriteSchema(s *schema.Schema) error {
	data, err := schema.Marshal(s)
	if err != nil {
		return err
	}
	return w.writeFrame(FrameSchema, data)
}

// WriteArchive writes one finalized archive buffer.
func (w *Writer) WriteArchive(buf []byte) error {
	return w.writeFrame(FrameArchive, buf)
}

func (w *Writer) writeFrame(kind FrameKind, raw []byte) error {
	if !w.started {
		var head [fileHeaderSize]byte
		copy(head[:], FileMagic)
		binary.LittleEndian.PutUint16(head[4:], FileVersion)
		if _, err := w.w.Write(head[:]); err != nil {
			return fmt.Errorf("archivefile: write header: %w", err)
		}
		w.started = true
	}
	stored, c, err := compress(raw, w.opts.Compression)
	if err != nil {
		return err
	}
	clear(w.head[:])
	w.head[0] = byte(kind)
	w.head[1] = byte(c)
	binary.LittleEndian.PutUint64(w.head[8:], uint64(len(stored)))
	binary.LittleEndian.PutUint64(w.head[16:], uint64(len(raw)))
	sum := blake3.Sum256(raw)
	copy(w.head[24:], sum[:])
	if _, err := w.w.Write(w.head[:]); err != nil {
		return fmt.Errorf("archivefile: write frame: %w", err)
	}
	if _, err := w.w.Write(stored); err != nil {
		return fmt.Errorf("archivefile: write frame: %w", err)
	}
	w.log.Debug().
		Str("kind", kind.String()).
		Str("compression", c.String()).
		Int("raw", len(raw)).
		Int("stored", len(stored)).
		Msg("frame written")
	return nil
}

// ReaderOptions configure a Reader.
type ReaderOptions struct {
	// MaxFrameSize caps the raw and stored size of a frame. Zero means
	// DefaultMaxFrameSize.
	MaxFrameSize int64
}

// Reader decodes frames written by a Writer.
type Reader struct {
	r       io.Reader
	max     uint64
	started bool
	head    [frameHeaderSize]byte
	stored  []byte
}

func NewReader(r io.Reader, opts ReaderOptions) *Reader {
	limit := opts.MaxFrameSize
	if limit <= 0 {
		limit = DefaultMaxFrameSize
	}
	return &Reader{r: r, max: uint64(limit)}
}

// Next returns the next frame, or io.EOF after the last one. A file cut
// short inside a frame reports io.ErrUnexpectedEOF.
func (r *Reader) Next() (Frame, error) {
	if !r.started {
		var head [fileHeaderSize]byte
		if _, err := io.ReadFull(r.r, head[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return Frame{}, ErrBadMagic
			}
			return Frame{}, err
		}
		if string(head[:4]) != FileMagic {
			return Frame{}, ErrBadMagic
		}
		if v := binary.LittleEndian.Uint16(head[4:]); v != FileVersion {
			return Frame{}, fmt.Errorf("%w: %d", ErrVersion, v)
		}
		r.started = true
	}
	if _, err := io.ReadFull(r.r, r.head[:]); err != nil {
		return Frame{}, err
	}
	kind := FrameKind(r.head[0])
	c := Compression(r.head[1])
	storedLen := binary.LittleEndian.Uint64(r.head[8:])
	rawLen := binary.LittleEndian.Uint64(r.head[16:])
	if kind != FrameSchema && kind != FrameArchive {
		return Frame{}, fmt.Errorf("%w: unknown frame kind %d", ErrCorrupt, uint8(kind))
	}
	if storedLen > r.max || rawLen > r.max {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrFrameLimit, max(storedLen, rawLen))
	}
	if c == CompressNone && storedLen != rawLen {
		return Frame{}, fmt.Errorf("%w: raw frame lengths differ", ErrCorrupt)
	}

	data := common.AlignedBytes(int(rawLen))
	if c == CompressNone {
		if _, err := io.ReadFull(r.r, data); err != nil {
			return Frame{}, unexpected(err)
		}
	} else {
		if uint64(cap(r.stored)) < storedLen {
			r.stored = make([]byte, storedLen)
		}
		stored := r.stored[:storedLen]
		if _, err := io.ReadFull(r.r, stored); err != nil {
			return Frame{}, unexpected(err)
		}
		if err := decompress(data, stored, c); err != nil {
			return Frame{}, err
		}
	}
	if sum := blake3.Sum256(data); string(sum[:]) != string(r.head[24:]) {
		return Frame{}, ErrChecksum
	}
	return Frame{Kind: kind, Compression: c, Stored: int(storedLen), Data: data}, nil
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// ReadAll reads a whole file: the schema frame, if any, and every archive.
// When the file carries more than one schema frame the last one wins.
func ReadAll(r io.Reader, opts ReaderOptions) (*schema.Schema, [][]byte, error) {
	fr := NewReader(r, opts)
	var s *schema.Schema
	var archives [][]byte
	for {
		f, err := fr.Next()
		if errors.Is(err, io.EOF) {
			return s, archives, nil
		}
		if err != nil {
			return nil, nil, err
		}
		switch f.Kind {
		case FrameSchema:
			if s, err = f.Schema(); err != nil {
				return nil, nil, err
			}
		case FrameArchive:
			archives = append(archives, f.Data)
		}
	}
}
