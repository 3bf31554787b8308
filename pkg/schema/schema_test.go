package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func personSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := New(Name("Person"),
		Define("Person", RecordOf(
			F("name", Of(String)),
			F("tags", SeqOf(Of(String))),
			F("friend", OptionalOf(RefOf(Name("Person")))),
		)),
	)
	require.NoError(t, err)
	return s
}

func TestRecordLayout(t *testing.T) {
	s, err := New(RecordOf(
		F("a", Of(Bool)),
		F("b", Of(Int32)),
		F("c", Of(Int16)),
	))
	require.NoError(t, err)
	r := s.Root()
	require.Equal(t, 0, r.Field(0).Offset(Width32))
	require.Equal(t, 4, r.Field(1).Offset(Width32))
	require.Equal(t, 8, r.Field(2).Offset(Width32))
	require.Equal(t, 12, r.Size(Width32))
	require.Equal(t, 4, r.Align(Width32))
	require.False(t, r.Plain())
}

func TestIndirectLayoutPerWidth(t *testing.T) {
	s, err := New(RecordOf(F("name", Of(String)), F("tags", SeqOf(Of(String)))))
	require.NoError(t, err)
	r := s.Root()
	for _, tc := range []struct {
		w          Width
		size, algn int
	}{
		{Width16, 8, 2},
		{Width32, 16, 4},
		{Width64, 32, 8},
	} {
		assert.Equal(t, tc.size, r.Size(tc.w), tc.w.String())
		assert.Equal(t, tc.algn, r.Align(tc.w), tc.w.String())
		assert.Equal(t, tc.size/2, r.Field(1).Offset(tc.w), tc.w.String())
	}
}

func TestOptionalAndUnionLayout(t *testing.T) {
	s, err := New(RecordOf(
		F("opt", OptionalOf(Of(Int64))),
		F("u", UnionOf(V(0, "small", Of(Uint8)), V(7, "big", Of(Float64)))),
		F("none", OptionalOf(Of(Unit))),
	))
	require.NoError(t, err)
	opt := s.Root().Field(0).Type
	require.Equal(t, 8, opt.InnerOffset(Width32))
	require.Equal(t, 16, opt.Size(Width32))
	require.Equal(t, 8, opt.Align(Width32))

	u := s.Root().Field(1).Type
	require.Equal(t, 8, u.InnerOffset(Width32))
	require.Equal(t, 16, u.Size(Width32))
	v, ok := u.VariantByTag(7)
	require.True(t, ok)
	require.Equal(t, "big", v.Name)
	_, ok = u.VariantByTag(1)
	require.False(t, ok)

	none := s.Root().Field(2).Type
	require.Equal(t, 1, none.Size(Width32))
	require.Equal(t, 1, none.InnerOffset(Width32))
}

func TestPlain(t *testing.T) {
	s, err := New(RecordOf(F("x", Of(Int32)), F("y", Of(Float64)), F("u", Of(Unit))))
	require.NoError(t, err)
	require.True(t, s.Root().Plain())
	require.False(t, personSchema(t).Root().Plain())
}

func TestCyclicWithoutRef(t *testing.T) {
	_, err := New(Name("Node"), Define("Node", RecordOf(
		F("value", Of(Int64)),
		F("next", OptionalOf(Name("Node"))),
	)))
	require.ErrorIs(t, err, ErrCyclic)
	require.Contains(t, err.Error(), "Node")

	_, err = New(Name("A"), Define("A", Name("B")), Define("B", Name("A")))
	require.ErrorIs(t, err, ErrCyclic)

	_, err = New(Name("List"), Define("List", SeqOf(Name("List"))))
	require.ErrorIs(t, err, ErrCyclic)
}

func TestCycleThroughRef(t *testing.T) {
	s := personSchema(t)
	p := s.Root()
	require.Equal(t, "Person", p.Name())
	friend := p.Field(2).Type.Elem()
	require.Equal(t, Ref, friend.Kind())
	require.Same(t, p, friend.Elem())
	require.Equal(t, 4, friend.Size(Width32))
}

func TestInvalidSchemas(t *testing.T) {
	cases := map[string]func() (*Schema, error){
		"undefined": func() (*Schema, error) { return New(Name("Missing")) },
		"duplicate definition": func() (*Schema, error) {
			return New(Name("A"), Define("A", Of(Bool)), Define("A", Of(Int8)))
		},
		"duplicate field": func() (*Schema, error) {
			return New(RecordOf(F("x", Of(Bool)), F("x", Of(Bool))))
		},
		"empty field name": func() (*Schema, error) { return New(RecordOf(F("", Of(Bool)))) },
		"empty union":      func() (*Schema, error) { return New(UnionOf()) },
		"duplicate tag": func() (*Schema, error) {
			return New(UnionOf(V(1, "a", Of(Bool)), V(1, "b", Of(Bool))))
		},
		"duplicate variant": func() (*Schema, error) {
			return New(UnionOf(V(1, "a", Of(Bool)), V(2, "a", Of(Bool))))
		},
		"float key": func() (*Schema, error) { return New(MapOf(Of(Float64), Of(Bool))) },
		"record key": func() (*Schema, error) {
			return New(MapOf(RecordOf(), Of(Bool)))
		},
		"nil": func() (*Schema, error) { return New(nil) },
	}
	for name, build := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := build()
			require.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestMapEntry(t *testing.T) {
	s, err := New(MapOf(Of(String), Of(Uint16)))
	require.NoError(t, err)
	e := s.Root().Entry()
	require.NotNil(t, e)
	require.Equal(t, 2, e.NumFields())
	require.Equal(t, 8, e.Field(1).Offset(Width32))
	require.Equal(t, 12, e.Size(Width32))
}

func TestIdentity(t *testing.T) {
	a, b := personSchema(t), personSchema(t)
	require.Equal(t, a.Identity(), b.Identity())
	require.NotEqual(t, a.Identity(), a.BatchIdentity())

	renamed, err := New(Name("Person"), Define("Person", RecordOf(
		F("name", Of(String)),
		F("labels", SeqOf(Of(String))),
		F("friend", OptionalOf(RefOf(Name("Person")))),
	)))
	require.NoError(t, err)
	require.NotEqual(t, a.Identity(), renamed.Identity())

	require.Equal(t, Seq, a.Batch().Kind())
	require.Same(t, a.Root(), a.Batch().Elem().Elem())
}

func TestDigestSharedAcrossEqualShapes(t *testing.T) {
	s, err := New(RecordOf(F("a", SeqOf(Of(Int32))), F("b", SeqOf(Of(Int32))), F("c", SeqOf(Of(Int64)))))
	require.NoError(t, err)
	r := s.Root()
	require.Equal(t, r.Field(0).Type.Digest(), r.Field(1).Type.Digest())
	require.NotEqual(t, r.Field(0).Type.Digest(), r.Field(2).Type.Digest())
}

func TestMarshalRoundTrip(t *testing.T) {
	for name, s := range map[string]*Schema{
		"person":  personSchema(t),
		"dynamic": DynamicSchema(),
	} {
		t.Run(name, func(t *testing.T) {
			data, err := Marshal(s)
			require.NoError(t, err)
			back, err := Unmarshal(data)
			require.NoError(t, err)
			require.Equal(t, s.Identity(), back.Identity())
			require.Equal(t, s.Names(), back.Names())
		})
	}

	_, err := Unmarshal([]byte{0xff, 0x00})
	require.ErrorIs(t, err, ErrInvalid)
}

func TestParseYAML(t *testing.T) {
	s, err := ParseYAML([]byte(`
root: Person
types:
  Person:
    record:
      - {name: name, type: string}
      - {name: tags, type: {seq: string}}
      - {name: friend, type: {optional: {ref: Person}}}
`))
	require.NoError(t, err)
	require.Equal(t, personSchema(t).Identity(), s.Identity())

	s, err = ParseYAML([]byte(`
root: {map: {key: uint32, value: Shape}}
types:
  Shape:
    union:
      - {tag: 0, name: circle, type: float64}
      - {tag: 1, name: square, type: {record: [{name: side, type: float64}]}}
`))
	require.NoError(t, err)
	require.Equal(t, Map, s.Root().Kind())
	shape, ok := s.Lookup("Shape")
	require.True(t, ok)
	v, ok := shape.VariantByName("square")
	require.True(t, ok)
	require.Equal(t, uint16(1), v.Tag)
}

func TestParseYAMLErrors(t *testing.T) {
	for _, doc := range []string{
		``,
		`root: [1, 2]`,
		`types: {A: bool}`,
		`root: {seq: string, map: string}`,
		`root: {tuple: string}`,
		`root: {union: [{tag: x, name: a, type: bool}]}`,
		`root: A
types: {A: {optional: A}}`,
		`root: bool
extra: 1`,
	} {
		_, err := ParseYAML([]byte(doc))
		require.Error(t, err, doc)
	}
}

func TestDynamic(t *testing.T) {
	s := DynamicSchema()
	require.Same(t, s, DynamicSchema())
	r := s.Root()
	require.Equal(t, Union, r.Kind())
	require.Equal(t, DynamicName, r.Name())
	require.Equal(t, 14, r.NumVariants())
	v, ok := r.VariantByTag(DynObject)
	require.True(t, ok)
	require.Equal(t, "object", v.Name)
	require.Same(t, r, v.Type.Elem().Elem())
}

func TestParseWidth(t *testing.T) {
	w, err := ParseWidth("16")
	require.NoError(t, err)
	require.Equal(t, 2, w.Bytes())
	w, err = ParseWidth("")
	require.NoError(t, err)
	require.Equal(t, Width32, w)
	_, err = ParseWidth("24")
	require.Error(t, err)
	require.False(t, Width(3).Valid())
}
