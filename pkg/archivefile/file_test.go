package archivefile

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rawbytedev/zcarchive/internal/common"
	"github.com/rawbytedev/zcarchive/pkg/archive"
	"github.com/rawbytedev/zcarchive/pkg/document"
	"github.com/rawbytedev/zcarchive/pkg/schema"
)

func testSchema() *schema.Schema {
	return schema.MustNew(schema.RecordOf(
		schema.F("name", schema.Of(schema.String)),
		schema.F("nums", schema.SeqOf(schema.Of(schema.Int64))),
	))
}

func testArchive(t *testing.T, s *schema.Schema, name string, n int) []byte {
	t.Helper()
	nums := make([]document.Value, n)
	for i := range nums {
		nums[i] = document.Int(int64(i % 7))
	}
	b := archive.NewBuilder(s, archive.Options{})
	_, err := b.Write(document.Record(
		document.F("name", document.String(name)),
		document.F("nums", document.Seq(nums...)),
	))
	require.NoError(t, err)
	buf, _, err := b.Finalize()
	require.NoError(t, err)
	return buf
}

func TestFramesRoundTrip(t *testing.T) {
	s := testSchema()
	bufs := [][]byte{
		testArchive(t, s, strings.Repeat("compressible ", 50), 500),
		testArchive(t, s, "small", 1),
	}
	for _, c := range []Compression{CompressNone, CompressLZ4, CompressZstd} {
		t.Run(c.String(), func(t *testing.T) {
			var file bytes.Buffer
			w := NewWriter(&file, WriterOptions{Compression: c})
			require.NoError(t, w.WriteSchema(s))
			for _, buf := range bufs {
				require.NoError(t, w.WriteArchive(buf))
			}

			r := NewReader(bytes.NewReader(file.Bytes()), ReaderOptions{})
			f, err := r.Next()
			require.NoError(t, err)
			require.Equal(t, FrameSchema, f.Kind)
			got, err := f.Schema()
			require.NoError(t, err)
			require.Equal(t, s.Identity(), got.Identity())

			f, err = r.Next()
			require.NoError(t, err)
			require.Equal(t, FrameArchive, f.Kind)
			require.Equal(t, c, f.Compression)
			require.Equal(t, bufs[0], f.Data)
			require.True(t, common.IsAligned(f.Data, 8))
			if c != CompressNone {
				require.Less(t, f.Stored, len(bufs[0]))
			}

			f, err = r.Next()
			require.NoError(t, err)
			require.Equal(t, bufs[1], f.Data)

			_, err = r.Next()
			require.ErrorIs(t, err, io.EOF)
		})
	}
}

func TestIncompressibleStoredRaw(t *testing.T) {
	noise := make([]byte, 4096)
	_, err := rand.Read(noise)
	require.NoError(t, err)
	for _, c := range []Compression{CompressLZ4, CompressZstd} {
		var file bytes.Buffer
		require.NoError(t, NewWriter(&file, WriterOptions{Compression: c}).WriteArchive(noise))
		f, err := NewReader(&file, ReaderOptions{}).Next()
		require.NoError(t, err)
		assert.Equal(t, CompressNone, f.Compression)
		assert.Equal(t, noise, f.Data)
	}
}

func TestReaderRejectsDamage(t *testing.T) {
	s := testSchema()
	var file bytes.Buffer
	require.NoError(t, NewWriter(&file, WriterOptions{Compression: CompressZstd}).WriteArchive(testArchive(t, s, "x", 100)))
	good := file.Bytes()

	read := func(b []byte, opts ReaderOptions) error {
		_, err := NewReader(bytes.NewReader(b), opts).Next()
		return err
	}

	require.ErrorIs(t, read(nil, ReaderOptions{}), ErrBadMagic)
	require.ErrorIs(t, read([]byte("ZCAX\x01\x00\x00\x00"), ReaderOptions{}), ErrBadMagic)
	require.ErrorIs(t, read([]byte("ZCAF\x09\x00\x00\x00"), ReaderOptions{}), ErrVersion)
	require.ErrorIs(t, read(good[:len(good)-3], ReaderOptions{}), io.ErrUnexpectedEOF)
	require.ErrorIs(t, read(good[:fileHeaderSize+10], ReaderOptions{}), io.ErrUnexpectedEOF)
	require.ErrorIs(t, read(good, ReaderOptions{MaxFrameSize: 16}), ErrFrameLimit)

	sum := append([]byte{}, good...)
	sum[fileHeaderSize+24] ^= 1
	require.ErrorIs(t, read(sum, ReaderOptions{}), ErrChecksum)

	payload := append([]byte{}, good...)
	payload[len(payload)-1] ^= 0xff
	err := read(payload, ReaderOptions{})
	require.True(t, errors.Is(err, ErrCorrupt) || errors.Is(err, ErrChecksum), "got %v", err)

	kind := append([]byte{}, good...)
	kind[fileHeaderSize] = 9
	require.ErrorIs(t, read(kind, ReaderOptions{}), ErrCorrupt)
}

func TestReadAll(t *testing.T) {
	s := testSchema()
	var file bytes.Buffer
	w := NewWriter(&file, WriterOptions{Compression: CompressLZ4})
	require.NoError(t, w.WriteSchema(s))
	for i := range 3 {
		require.NoError(t, w.WriteArchive(testArchive(t, s, "doc", i*10)))
	}
	got, bufs, err := ReadAll(&file, ReaderOptions{})
	require.NoError(t, err)
	require.Len(t, bufs, 3)

	archives, err := ValidateAll(context.Background(), bufs, got, archive.ValidateOptions{}, 2)
	require.NoError(t, err)
	for i, a := range archives {
		require.Equal(t, i*10, a.Root().Field("nums").Len())
		nums, ok := archive.Scalars[int64](a.Root().Field("nums"))
		require.True(t, ok)
		require.Len(t, nums, i*10)
	}
}

func TestValidateAllReportsIndex(t *testing.T) {
	s := testSchema()
	bufs := [][]byte{testArchive(t, s, "a", 1), testArchive(t, s, "b", 1), []byte("junk")}
	_, err := ValidateAll(context.Background(), bufs, s, archive.ValidateOptions{}, 0)
	require.ErrorIs(t, err, archive.OutOfBounds)
	require.Contains(t, err.Error(), "archive 2")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ValidateAll(ctx, bufs[:2], s, archive.ValidateOptions{}, 1)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRawMapped(t *testing.T) {
	s := testSchema()
	buf := testArchive(t, s, "mapped", 64)
	path := filepath.Join(t.TempDir(), "doc.zca")
	require.NoError(t, WriteRaw(path, buf))

	m, err := OpenMapped(path)
	require.NoError(t, err)
	require.Equal(t, buf, m.Bytes())
	a, err := archive.Validate(m.Bytes(), s)
	require.NoError(t, err)
	require.Equal(t, "mapped", a.Root().Field("name").Str())
	_, ok := archive.Scalars[int64](a.Root().Field("nums"))
	require.True(t, ok)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	empty := filepath.Join(t.TempDir(), "empty.zca")
	require.NoError(t, WriteRaw(empty, nil))
	m, err = OpenMapped(empty)
	require.NoError(t, err)
	require.Empty(t, m.Bytes())
	require.NoError(t, m.Close())

	_, err = OpenMapped(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestParseCompression(t *testing.T) {
	for _, c := range []Compression{CompressNone, CompressLZ4, CompressZstd} {
		got, err := ParseCompression(c.String())
		require.NoError(t, err)
		require.Equal(t, c, got)
	}
	_, err := ParseCompression("brotli")
	require.Error(t, err)
}
