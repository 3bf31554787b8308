package common

import (
	"encoding/binary"
	"reflect"
	"unsafe"
)

// zeroPadding backs Pad; no type aligns to more than 8 bytes.
var zeroPadding [8]byte

// IsFixedKind reports whether k is a fixed-size primitive kind.
func IsFixedKind(k reflect.Kind) bool {
	switch k {
	case reflect.Bool,
		reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

// Align rounds n up to the next multiple of a. a must be a power of two.
func Align(n, a int) int {
	return (n + a - 1) &^ (a - 1)
}

// Pad appends zero bytes to buf until len(buf) is a multiple of a.
func Pad(buf []byte, a int) []byte {
	pad := Align(len(buf), a) - len(buf)
	for pad > len(zeroPadding) {
		buf = append(buf, zeroPadding[:]...)
		pad -= len(zeroPadding)
	}
	return append(buf, zeroPadding[:pad]...)
}

// Grow appends n zero bytes to buf.
func Grow(buf []byte, n int) []byte {
	if cap(buf)-len(buf) >= n {
		buf = buf[:len(buf)+n]
		clear(buf[len(buf)-n:])
		return buf
	}
	return append(buf, make([]byte, n)...)
}

// PutUint writes the low w bytes of x little-endian at b[0:w].
func PutUint(b []byte, w int, x uint64) {
	switch w {
	case 1:
		b[0] = byte(x)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(x))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(x))
	case 8:
		binary.LittleEndian.PutUint64(b, x)
	default:
		panic("common: unsupported width")
	}
}

// Uint reads a w-byte little-endian unsigned integer from b.
func Uint(b []byte, w int) uint64 {
	switch w {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	case 8:
		return binary.LittleEndian.Uint64(b)
	default:
		panic("common: unsupported width")
	}
}

// Int reads a w-byte little-endian two's complement integer from b and
// sign-extends it.
func Int(b []byte, w int) int64 {
	switch w {
	case 1:
		return int64(int8(b[0]))
	case 2:
		return int64(int16(binary.LittleEndian.Uint16(b)))
	case 4:
		return int64(int32(binary.LittleEndian.Uint32(b)))
	case 8:
		return int64(binary.LittleEndian.Uint64(b))
	default:
		panic("common: unsupported width")
	}
}

// FitsInt reports whether x is representable as a signed w-byte integer.
func FitsInt(x int64, w int) bool {
	if w >= 8 {
		return true
	}
	bits := uint(w * 8)
	lo := -(int64(1) << (bits - 1))
	hi := int64(1)<<(bits-1) - 1
	return x >= lo && x <= hi
}

// MaxUint returns the largest unsigned value of a w-byte integer.
func MaxUint(w int) uint64 {
	if w >= 8 {
		return ^uint64(0)
	}
	return uint64(1)<<(uint(w)*8) - 1
}

// AlignedBytes allocates n zeroed bytes whose first byte sits on an
// 8-byte boundary in memory.
func AlignedBytes(n int) []byte {
	if n == 0 {
		return []byte{}
	}
	words := make([]uint64, (n+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), n)
}

// IsAligned reports whether the first byte of b sits on an a-byte boundary.
func IsAligned(b []byte, a int) bool {
	if len(b) == 0 {
		return true
	}
	return uintptr(unsafe.Pointer(&b[0]))%uintptr(a) == 0
}

// NativeLittleEndian is true when the host stores integers little-endian,
// which is the precondition for aliasing archived scalars in place.
var NativeLittleEndian = func() bool {
	x := uint16(1)
	return *(*byte)(unsafe.Pointer(&x)) == 1
}()

// Alias reinterprets b as n values of T without copying. The caller
// guarantees len(b) >= n*sizeof(T), alignment, and that b outlives the result.
func Alias[T any](b []byte, n int) []T {
	if n == 0 {
		return []T{}
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&b[0])), n)
}
