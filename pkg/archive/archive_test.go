package archive

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rawbytedev/zcarchive/internal/common"
	"github.com/rawbytedev/zcarchive/pkg/document"
	"github.com/rawbytedev/zcarchive/pkg/schema"
)

func personSchema() *schema.Schema {
	return schema.MustNew(schema.RecordOf(
		schema.F("name", schema.Of(schema.String)),
		schema.F("tags", schema.SeqOf(schema.Of(schema.String))),
	))
}

func person(name string, tags ...string) document.Value {
	items := make([]document.Value, len(tags))
	for i, tag := range tags {
		items[i] = document.String(tag)
	}
	return document.Record(
		document.F("name", document.String(name)),
		document.F("tags", document.Seq(items...)),
	)
}

func build(t testing.TB, s *schema.Schema, opts Options, docs ...document.Value) []byte {
	t.Helper()
	b := NewBuilder(s, opts)
	for _, d := range docs {
		_, err := b.Write(d)
		require.NoError(t, err)
	}
	buf, _, err := b.Finalize()
	require.NoError(t, err)
	return buf
}

func TestBuildAndRead(t *testing.T) {
	s := personSchema()
	buf := build(t, s, Options{}, person("abc", "x", "y"))

	a, err := Validate(buf, s)
	require.NoError(t, err)
	root := a.Root()
	require.Equal(t, "abc", root.Field("name").Str())
	require.Equal(t, 2, root.Field("tags").Len())
	require.Equal(t, "y", root.Field("tags").Index(1).Str())

	assert.False(t, root.Field("missing").Exists())
	assert.False(t, root.Field("tags").Index(2).Exists())
	assert.False(t, root.Field("tags").Index(-1).Exists())
	assert.Equal(t, "", root.Field("name").Index(0).Str())
	assert.Equal(t, int64(0), root.Field("name").Int())
	assert.Equal(t, schema.Invalid, root.Field("nope").Kind())
	assert.Equal(t, "name", root.FieldName(0))
	assert.Equal(t, 2, root.Len())
	assert.Equal(t, 1, a.Len())
	assert.False(t, a.IsBatch())
	assert.Equal(t, schema.Width32, a.Width())
}

func TestDedupSharesEqualStrings(t *testing.T) {
	s := schema.MustNew(schema.RecordOf(
		schema.F("a", schema.Of(schema.String)),
		schema.F("b", schema.Of(schema.String)),
	))
	doc := document.Record(
		document.F("a", document.String("hello")),
		document.F("b", document.String("hello")),
	)
	for _, tc := range []struct {
		dedup  Dedup
		shared bool
	}{
		{DedupOff, false},
		{DedupDocument, true},
		{DedupBatch, true},
	} {
		t.Run(tc.dedup.String(), func(t *testing.T) {
			buf := build(t, s, Options{Dedup: tc.dedup}, doc)
			a, err := Validate(buf, s)
			require.NoError(t, err)
			fa, fb := a.Root().Field("a"), a.Root().Field("b")
			ta, ok := fa.Target()
			require.True(t, ok)
			tb, ok := fb.Target()
			require.True(t, ok)
			require.Equal(t, tc.shared, ta == tb)
			require.Equal(t, "hello", fa.Str())
			require.Equal(t, "hello", fb.Str())
			require.Empty(t, cmp.Diff(doc, Decode(a.Root())))
		})
	}
}

func TestDedupScope(t *testing.T) {
	s := personSchema()
	doc := person("same", "t")
	read := func(d Dedup) (int, int) {
		b := NewBuilder(s, Options{Dedup: d})
		_, err := b.Write(doc)
		require.NoError(t, err)
		_, err = b.Write(doc)
		require.NoError(t, err)
		buf, _, err := b.FinalizeBatch()
		require.NoError(t, err)
		a, err := Validate(buf, s)
		require.NoError(t, err)
		x, _ := a.Document(0).Field("name").Target()
		y, _ := a.Document(1).Field("name").Target()
		return x, y
	}
	x, y := read(DedupBatch)
	require.Equal(t, x, y)
	x, y = read(DedupDocument)
	require.NotEqual(t, x, y)
}

func TestRootOffsetPastEnd(t *testing.T) {
	s := personSchema()
	buf := build(t, s, Options{}, person("abc", "x", "y"))
	binary.LittleEndian.PutUint64(buf[offRoot:], uint64(len(buf)+64))

	_, err := Validate(buf, s)
	require.Error(t, err)
	require.ErrorIs(t, err, OutOfBounds)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	require.Equal(t, offRoot, ve.Offset)
}

func TestWidthsRoundTrip(t *testing.T) {
	s := personSchema()
	doc := person("width", "a", "bb", "ccc")
	for _, w := range []schema.Width{schema.Width16, schema.Width32, schema.Width64} {
		t.Run(w.String(), func(t *testing.T) {
			buf := build(t, s, Options{Width: w, Dedup: DedupDocument}, doc)
			a, err := Validate(buf, s)
			require.NoError(t, err)
			require.Equal(t, w, a.Width())
			require.Empty(t, cmp.Diff(doc, Decode(a.Root())))
		})
	}
}

func TestBatch(t *testing.T) {
	s := personSchema()
	b := NewBuilder(s, Options{Dedup: DedupBatch})
	docs := []document.Value{person("a", "x"), person("b"), person("c", "x", "y")}
	for _, d := range docs {
		_, err := b.Write(d)
		require.NoError(t, err)
	}
	buf, _, err := b.FinalizeBatch()
	require.NoError(t, err)

	_, _, err = b.FinalizeBatch()
	require.ErrorIs(t, err, ErrFinalized)

	a, err := Validate(buf, s)
	require.NoError(t, err)
	require.True(t, a.IsBatch())
	require.Equal(t, len(docs), a.Len())
	for i, d := range a.Documents() {
		require.Empty(t, cmp.Diff(docs[i], Decode(d)))
	}
	require.False(t, a.Document(3).Exists())

	// A batch archive is not a single document archive of the same schema.
	single := build(t, s, Options{}, docs[0])
	h, err := ParseHeader(single)
	require.NoError(t, err)
	require.NotEqual(t, h.Identity, a.Header().Identity)
}

func documentSchema() *schema.Schema {
	return schema.MustNew(schema.Name("Node"),
		schema.Define("Node", schema.RecordOf(
			schema.F("name", schema.Of(schema.String)),
			schema.F("prev", schema.OptionalOf(schema.RefOf(schema.Name("Node")))),
		)),
	)
}

func TestPositionReferences(t *testing.T) {
	s := documentSchema()
	b := NewBuilder(s, Options{})
	first, err := b.Write(document.Record(
		document.F("name", document.String("first")),
		document.F("prev", document.None()),
	))
	require.NoError(t, err)
	_, err = b.Write(document.Record(
		document.F("name", document.String("second")),
		document.F("prev", document.Some(document.Pos(first))),
	))
	require.NoError(t, err)
	buf, _, err := b.Finalize()
	require.NoError(t, err)

	a, err := Validate(buf, s)
	require.NoError(t, err)
	prev := a.Root().Field("prev")
	require.True(t, prev.Present())
	require.Equal(t, first, prev.Some().Position())
	require.Equal(t, "first", prev.Some().Field("name").Str())
	require.False(t, prev.Some().Field("prev").Present())
}

func TestPositionMustBeEarlierDocument(t *testing.T) {
	s := documentSchema()
	b := NewBuilder(s, Options{})
	_, err := b.Write(document.Record(
		document.F("name", document.String("x")),
		document.F("prev", document.Some(document.Pos(HeaderSize))),
	))
	require.ErrorIs(t, err, ErrSchemaMismatch)
	var be *BuildError
	require.True(t, errors.As(err, &be))
	require.Equal(t, "$.prev?", be.Path)
}

func TestMapLookups(t *testing.T) {
	s := schema.MustNew(schema.RecordOf(
		schema.F("byName", schema.MapOf(schema.Of(schema.String), schema.Of(schema.Int32))),
		schema.F("byID", schema.MapOf(schema.Of(schema.Int64), schema.Of(schema.String))),
		schema.F("byCode", schema.MapOf(schema.Of(schema.Uint16), schema.Of(schema.Bool))),
	))
	doc := document.Record(
		document.F("byName", document.Map(
			document.E(document.String("zeta"), document.Int(26)),
			document.E(document.String("alpha"), document.Int(1)),
			document.E(document.String("mid"), document.Int(13)),
		)),
		document.F("byID", document.Map(
			document.E(document.Int(-5), document.String("neg")),
			document.E(document.Int(7), document.String("pos")),
		)),
		document.F("byCode", document.Map(
			document.E(document.Uint(404), document.Bool(false)),
			document.E(document.Uint(200), document.Bool(true)),
		)),
	)
	buf := build(t, s, Options{}, doc)
	a, err := Validate(buf, s)
	require.NoError(t, err)
	root := a.Root()

	byName := root.Field("byName")
	require.Equal(t, int64(1), byName.GetString("alpha").Int())
	require.Equal(t, int64(26), byName.Field("zeta").Int())
	require.False(t, byName.GetString("omega").Exists())
	require.Equal(t, int64(13), byName.GetBytes([]byte("mid")).Int())
	require.False(t, byName.GetInt(1).Exists())

	var keys []string
	for k := range byName.Entries() {
		keys = append(keys, k.Str())
	}
	require.Equal(t, []string{"alpha", "mid", "zeta"}, keys)

	require.Equal(t, "neg", root.Field("byID").GetInt(-5).Str())
	require.False(t, root.Field("byID").GetInt(0).Exists())
	require.True(t, root.Field("byCode").GetUint(200).Bool())
	require.True(t, root.Field("byCode").GetUint(404).Exists())
	k, v := root.Field("byCode").Entry(0)
	require.Equal(t, uint64(200), k.Uint())
	require.True(t, v.Bool())
	k, _ = root.Field("byCode").Entry(2)
	require.False(t, k.Exists())
}

func TestDuplicateMapKeys(t *testing.T) {
	s := schema.MustNew(schema.MapOf(schema.Of(schema.String), schema.Of(schema.Int8)))
	b := NewBuilder(s, Options{})
	_, err := b.Write(document.Map(
		document.E(document.String("k"), document.Int(1)),
		document.E(document.String("k"), document.Int(2)),
	))
	require.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestMapKeyKindsCheckedFirst(t *testing.T) {
	s := schema.MustNew(schema.MapOf(schema.Of(schema.String), schema.Of(schema.Int8)))
	b := NewBuilder(s, Options{})
	_, err := b.Write(document.Map(
		document.E(document.Int(1), document.Int(1)),
		document.E(document.Int(2), document.Int(2)),
	))
	require.ErrorIs(t, err, ErrSchemaMismatch)
	require.ErrorContains(t, err, "want string, got")
	require.NotContains(t, err.Error(), "duplicate")
	var be *BuildError
	require.True(t, errors.As(err, &be))
	require.Equal(t, "$[1]", be.Path)

	s = schema.MustNew(schema.MapOf(schema.Of(schema.Uint8), schema.Of(schema.Bool)))
	b = NewBuilder(s, Options{})
	_, err = b.Write(document.Map(
		document.E(document.Uint(300), document.Bool(true)),
		document.E(document.Uint(44), document.Bool(false)),
	))
	require.ErrorIs(t, err, ErrSchemaMismatch)
	require.ErrorContains(t, err, "does not fit")
}

func TestUnionsAndOptionals(t *testing.T) {
	shape := schema.UnionOf(
		schema.V(0, "circle", schema.Of(schema.Float64)),
		schema.V(7, "label", schema.Of(schema.String)),
		schema.V(9, "none", schema.Of(schema.Unit)),
	)
	s := schema.MustNew(schema.RecordOf(
		schema.F("shapes", schema.SeqOf(shape)),
		schema.F("maybe", schema.OptionalOf(schema.Of(schema.Int16))),
		schema.F("empty", schema.OptionalOf(schema.Of(schema.String))),
		schema.F("ratio", schema.Of(schema.Float32)),
	))
	doc := document.Record(
		document.F("shapes", document.Seq(
			document.Variant("circle", document.Float(2.5)),
			document.Variant("label", document.String("hi")),
			document.Variant("none", document.Null()),
		)),
		document.F("maybe", document.Some(document.Int(-12))),
		document.F("empty", document.None()),
		document.F("ratio", document.Float(0.25)),
	)
	buf := build(t, s, Options{}, doc)
	a, err := Validate(buf, s)
	require.NoError(t, err)
	root := a.Root()

	shapes := root.Field("shapes")
	require.Equal(t, uint16(7), shapes.Index(1).Tag())
	require.Equal(t, "label", shapes.Index(1).Variant())
	require.Equal(t, "hi", shapes.Index(1).Payload().Str())
	require.Equal(t, 2.5, shapes.Index(0).Payload().Float())
	require.Equal(t, int64(-12), root.Field("maybe").Some().Int())
	require.False(t, root.Field("empty").Present())
	require.False(t, root.Field("empty").Some().Exists())
	require.Equal(t, 0.25, root.Field("ratio").Float())
	require.Empty(t, cmp.Diff(doc, Decode(root)))

	b := NewBuilder(s, Options{})
	_, err = b.Write(document.Record(
		document.F("shapes", document.Seq(document.Variant("square", document.Float(1)))),
		document.F("maybe", document.None()),
		document.F("empty", document.None()),
		document.F("ratio", document.Float(0)),
	))
	var be *BuildError
	require.ErrorAs(t, err, &be)
	require.Equal(t, "$.shapes[0]", be.Path)
}

func TestScalars(t *testing.T) {
	s := schema.MustNew(schema.RecordOf(
		schema.F("xs", schema.SeqOf(schema.Of(schema.Int32))),
		schema.F("fs", schema.SeqOf(schema.Of(schema.Float64))),
		schema.F("raw", schema.Of(schema.Bytes)),
		schema.F("none", schema.SeqOf(schema.Of(schema.Uint16))),
	))
	doc := document.Record(
		document.F("xs", document.Seq(document.Int(1), document.Int(-2), document.Int(3))),
		document.F("fs", document.Seq(document.Float(0.5), document.Float(1.5))),
		document.F("raw", document.Bytes([]byte{9, 8, 7})),
		document.F("none", document.Seq()),
	)
	out := build(t, s, Options{Width: schema.Width64}, doc)
	buf := common.AlignedBytes(len(out))
	copy(buf, out)

	a, err := Validate(buf, s)
	require.NoError(t, err)
	root := a.Root()

	xs, ok := Scalars[int32](root.Field("xs"))
	require.True(t, ok)
	require.Equal(t, []int32{1, -2, 3}, xs)
	fs, ok := Scalars[float64](root.Field("fs"))
	require.True(t, ok)
	require.Equal(t, []float64{0.5, 1.5}, fs)
	raw, ok := Scalars[uint8](root.Field("raw"))
	require.True(t, ok)
	require.Equal(t, []byte{9, 8, 7}, raw)
	none, ok := Scalars[uint16](root.Field("none"))
	require.True(t, ok)
	require.Empty(t, none)

	_, ok = Scalars[int64](root.Field("xs"))
	require.False(t, ok)
	_, ok = Scalars[int32](root.Field("raw"))
	require.False(t, ok)
	_, ok = Scalars[int32](View{})
	require.False(t, ok)
}

func TestDynamicDocuments(t *testing.T) {
	s := schema.DynamicSchema()
	src := `{"name": "abc", "tags": ["x", "y"], "n": -4, "big": 18446744073709551615,
		"nested": {"ok": true, "nil": null, "mixed": [1, "two", 3.5]}, "empty": []}`
	doc, err := document.FromJSON([]byte(src))
	require.NoError(t, err)

	buf := build(t, s, Options{Dedup: DedupDocument}, doc)
	a, err := Validate(buf, s)
	require.NoError(t, err)
	root := a.Root()
	require.Equal(t, "object", root.Variant())
	obj := root.Payload()
	require.Equal(t, "abc", obj.Field("name").Payload().Str())
	require.Equal(t, "strings", obj.Field("tags").Variant())
	require.Equal(t, int64(-4), obj.Field("n").Payload().Int())
	require.Equal(t, uint64(18446744073709551615), obj.Field("big").Payload().Uint())
	nested := obj.Field("nested").Payload()
	require.True(t, nested.Field("ok").Payload().Bool())
	require.Equal(t, "null", nested.Field("nil").Variant())
	require.Equal(t, "two", nested.Field("mixed").Payload().Index(1).Payload().Str())

	got := Decode(root)
	require.Empty(t, cmp.Diff(doc, got))
	js, err := got.MarshalJSON()
	require.NoError(t, err)
	again, err := document.FromJSON(js)
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(doc, again))
}

func TestBuilderLogsSummary(t *testing.T) {
	var out bytes.Buffer
	log := zerolog.New(&out).Level(zerolog.DebugLevel)
	s := personSchema()
	build(t, s, Options{Logger: &log, Dedup: DedupDocument}, person("x", "x"))
	require.Contains(t, out.String(), "archive finalized")
	require.Contains(t, out.String(), `"dedup_hits":1`)

	out.Reset()
	_, err := ValidateWith([]byte("short"), s, ValidateOptions{Logger: &log})
	require.Error(t, err)
	require.True(t, strings.Contains(out.String(), "archive rejected"))
}

func TestViewIsTotal(t *testing.T) {
	var v View
	require.False(t, v.Exists())
	require.Equal(t, schema.Invalid, v.Kind())
	require.Nil(t, v.Type())
	require.Equal(t, 0, v.Len())
	require.False(t, v.Bool())
	require.Equal(t, "", v.Str())
	require.Nil(t, v.Bytes())
	require.False(t, v.Index(0).Exists())
	require.False(t, v.Field("x").Exists())
	require.False(t, v.GetString("x").Exists())
	require.False(t, v.Present())
	require.Equal(t, "", v.Variant())
	_, ok := v.Target()
	require.False(t, ok)
	for range v.Elements() {
		t.Fatal("zero view has no elements")
	}
	for range v.Entries() {
		t.Fatal("zero view has no entries")
	}
	require.Equal(t, document.Null(), Decode(v))
}
