package schema

import "fmt"

// Kind classifies a Type.
type Kind uint8

const (
	Invalid Kind = iota
	Unit
	Bool
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float32
	Float64
	String
	Bytes
	Seq
	Map
	Record
	Optional
	Ref
	Union
	// Named is a construction-time placeholder resolved by New. Compiled
	// schemas never contain it.
	Named
)

var kindNames = [...]string{
	Invalid:  "invalid",
	Unit:     "unit",
	Bool:     "bool",
	Int8:     "int8",
	Int16:    "int16",
	Int32:    "int32",
	Int64:    "int64",
	Uint8:    "uint8",
	Uint16:   "uint16",
	Uint32:   "uint32",
	Uint64:   "uint64",
	Float32:  "float32",
	Float64:  "float64",
	String:   "string",
	Bytes:    "bytes",
	Seq:      "seq",
	Map:      "map",
	Record:   "record",
	Optional: "optional",
	Ref:      "ref",
	Union:    "union",
	Named:    "named",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// kindByName maps scalar names as they appear in YAML and CBOR descriptions.
var kindByName = map[string]Kind{
	"unit":    Unit,
	"bool":    Bool,
	"int8":    Int8,
	"int16":   Int16,
	"int32":   Int32,
	"int64":   Int64,
	"uint8":   Uint8,
	"uint16":  Uint16,
	"uint32":  Uint32,
	"uint64":  Uint64,
	"float32": Float32,
	"float64": Float64,
	"string":  String,
	"bytes":   Bytes,
}

// IsScalar reports whether k is a fixed-width numeric or boolean kind.
func (k Kind) IsScalar() bool {
	return k >= Bool && k <= Float64
}

// IsSigned reports whether k is a signed integer kind.
func (k Kind) IsSigned() bool {
	return k >= Int8 && k <= Int64
}

// IsUnsigned reports whether k is an unsigned integer kind.
func (k Kind) IsUnsigned() bool {
	return k >= Uint8 && k <= Uint64
}

// IsFloat reports whether k is a floating point kind.
func (k Kind) IsFloat() bool {
	return k == Float32 || k == Float64
}

// IsIndirect reports whether the inline form of k is a relative pointer
// header referring to an out-of-line block.
func (k Kind) IsIndirect() bool {
	switch k {
	case String, Bytes, Seq, Map, Ref:
		return true
	}
	return false
}

// scalarSize is the byte width of a scalar kind.
func scalarSize(k Kind) int {
	switch k {
	case Bool, Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	}
	return 0
}

// Width selects the byte width of relative offsets and lengths in an
// archive. The zero value is the 32-bit default.
type Width uint8

const (
	Width32 Width = iota
	Width16
	Width64
	numWidths
)

// Bytes returns the width in bytes.
func (w Width) Bytes() int {
	switch w {
	case Width16:
		return 2
	case Width64:
		return 8
	default:
		return 4
	}
}

// Valid reports whether w is a known width code.
func (w Width) Valid() bool {
	return w < numWidths
}

func (w Width) String() string {
	return fmt.Sprintf("%d-bit", w.Bytes()*8)
}

// ParseWidth parses "16", "32" or "64".
func ParseWidth(s string) (Width, error) {
	switch s {
	case "16":
		return Width16, nil
	case "32", "":
		return Width32, nil
	case "64":
		return Width64, nil
	}
	return 0, fmt.Errorf("unknown offset width %q", s)
}
