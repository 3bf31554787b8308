package archive

import (
	"github.com/rawbytedev/zcarchive/internal/common"
	"github.com/rawbytedev/zcarchive/pkg/schema"
)

// Scalar is the set of element types a sequence block can be aliased as.
type Scalar interface {
	int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 | float32 | float64
}

func kindOf[T Scalar]() schema.Kind {
	var zero T
	switch any(zero).(type) {
	case int8:
		return schema.Int8
	case int16:
		return schema.Int16
	case int32:
		return schema.Int32
	case int64:
		return schema.Int64
	case uint8:
		return schema.Uint8
	case uint16:
		return schema.Uint16
	case uint32:
		return schema.Uint32
	case uint64:
		return schema.Uint64
	case float32:
		return schema.Float32
	}
	return schema.Float64
}

// Scalars returns the elements of a Seq of fixed-width numbers as a slice
// that aliases the archive. It reports false when the element kind is not
// T, when the host is big-endian or when the block is not aligned in
// memory for T; callers then fall back to Index. A Uint8 sequence or Bytes
// value is also accepted as []uint8.
func Scalars[T Scalar](v View) ([]T, bool) {
	v = v.Deref()
	if v.a == nil || !common.NativeLittleEndian {
		return nil, false
	}
	want := kindOf[T]()
	size := 1
	switch v.t.Kind() {
	case schema.Seq:
		if v.t.Elem().Kind() != want {
			return nil, false
		}
		size = v.t.Elem().Size(v.a.w)
	case schema.Bytes:
		if want != schema.Uint8 {
			return nil, false
		}
	default:
		return nil, false
	}
	n := v.count()
	if n == 0 {
		return []T{}, true
	}
	block := v.a.buf[v.pos+v.rel():]
	block = block[: n*size : n*size]
	if !common.IsAligned(block, size) {
		return nil, false
	}
	return common.Alias[T](block, n), true
}
