package archive

import (
	"github.com/rs/zerolog"

	"github.com/rawbytedev/zcarchive/pkg/schema"
)

// Dedup selects how far the resolver remembers written content.
type Dedup uint8

const (
	// DedupOff writes every value physically.
	DedupOff Dedup = iota
	// DedupDocument shares equal content within one Write.
	DedupDocument
	// DedupBatch shares equal content across every Write of a session,
	// and therefore across the documents of a batch archive.
	DedupBatch
)

func (d Dedup) String() string {
	switch d {
	case DedupOff:
		return "off"
	case DedupDocument:
		return "document"
	case DedupBatch:
		return "batch"
	}
	return "unknown"
}

// ParseDedup parses "off", "document" or "batch".
func ParseDedup(s string) (Dedup, bool) {
	switch s {
	case "off", "none", "":
		return DedupOff, true
	case "document", "doc":
		return DedupDocument, true
	case "batch":
		return DedupBatch, true
	}
	return 0, false
}

// Options configure a Builder. The zero value builds with 32-bit offsets and
// no deduplication.
type Options struct {
	Width schema.Width
	Dedup Dedup
	// InitialCapacity preallocates the output buffer.
	InitialCapacity int
	// Logger receives build summaries at debug level. Nil disables logging.
	Logger *zerolog.Logger
}

// DefaultMaxDepth bounds the number of pointer hops the validator follows
// from the root.
const DefaultMaxDepth = 1024

// ValidateOptions configure a Validator.
type ValidateOptions struct {
	// MaxDepth caps pointer hops from the root. Zero means DefaultMaxDepth.
	MaxDepth int
	// Logger receives rejections at debug level. Nil disables logging.
	Logger *zerolog.Logger
}

func loggerOrNop(l *zerolog.Logger) zerolog.Logger {
	if l == nil {
		return zerolog.Nop()
	}
	return *l
}
