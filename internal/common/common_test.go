package common

import (
	"reflect"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/require"
)

func TestAlign(t *testing.T) {
	require.Equal(t, 0, Align(0, 8))
	require.Equal(t, 8, Align(1, 8))
	require.Equal(t, 8, Align(8, 8))
	require.Equal(t, 50, Align(49, 2))
	require.Equal(t, 49, Align(49, 1))
}

func TestPad(t *testing.T) {
	buf := []byte{1, 2, 3}
	buf = Pad(buf, 8)
	require.Len(t, buf, 8)
	require.Equal(t, []byte{1, 2, 3, 0, 0, 0, 0, 0}, buf)
	buf = Pad(buf, 8)
	require.Len(t, buf, 8)
}

func TestGrowZeroesReusedCapacity(t *testing.T) {
	buf := make([]byte, 4, 16)
	for i := range buf[:cap(buf)] {
		buf[:cap(buf)][i] = 0xFF
	}
	buf = Grow(buf, 4)
	require.Len(t, buf, 8)
	require.Equal(t, []byte{0, 0, 0, 0}, buf[4:])
}

func TestIntRoundTrip(t *testing.T) {
	for _, w := range []int{1, 2, 4, 8} {
		check := func(x int64) bool {
			if !FitsInt(x, w) {
				return true
			}
			b := make([]byte, 8)
			PutUint(b, w, uint64(x))
			return Int(b, w) == x
		}
		require.NoError(t, quick.Check(check, nil), "width %d", w)
	}
}

func TestFitsInt(t *testing.T) {
	require.True(t, FitsInt(32767, 2))
	require.False(t, FitsInt(32768, 2))
	require.True(t, FitsInt(-32768, 2))
	require.False(t, FitsInt(-32769, 2))
	require.True(t, FitsInt(-1<<63, 8))
	require.Equal(t, uint64(65535), MaxUint(2))
	require.Equal(t, ^uint64(0), MaxUint(8))
}

func TestAlignedBytes(t *testing.T) {
	for _, n := range []int{1, 7, 8, 9, 1000} {
		b := AlignedBytes(n)
		require.Len(t, b, n)
		require.True(t, IsAligned(b, 8))
	}
	require.Empty(t, AlignedBytes(0))
}

func TestAlias(t *testing.T) {
	if !NativeLittleEndian {
		t.Skip("aliasing requires a little-endian host")
	}
	b := AlignedBytes(16)
	PutUint(b, 8, 7)
	PutUint(b[8:], 8, 9)
	got := Alias[uint64](b, 2)
	require.Equal(t, []uint64{7, 9}, got)
}

func TestIsFixedKind(t *testing.T) {
	require.True(t, IsFixedKind(reflect.Uint16))
	require.False(t, IsFixedKind(reflect.Slice))
}
