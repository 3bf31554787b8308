package schema

import "errors"

var (
	// ErrCyclic is returned when a type contains itself without passing
	// through a Ref indirection, which would require an infinite inline size.
	ErrCyclic = errors.New("schema: cyclic type without ref indirection")
	// ErrInvalid is returned for malformed type definitions.
	ErrInvalid = errors.New("schema: invalid type")
)

type layout struct {
	size  int
	align int
	// inner is the offset of the element of an Optional or the payload of
	// a Union inside the inline representation.
	inner int
}

// Type describes the archived shape of a value. Types built with the
// constructors in this package are construction trees; New compiles them
// into an immutable graph whose nodes carry sizes, alignments and offsets.
type Type struct {
	kind     Kind
	name     string
	elem     *Type
	key      *Type
	fields   []Field
	variants []Variant

	compiled bool
	layouts  [numWidths]layout
	entry    *Type
	plain    bool
	digest   [32]byte
	byName   map[string]int
	byTag    map[uint16]int
}

// Field is a named member of a Record.
type Field struct {
	Name    string
	Type    *Type
	offsets [numWidths]int
}

// Offset returns the byte offset of the field inside its record.
func (f Field) Offset(w Width) int { return f.offsets[w] }

// Variant is a member of a Union, identified on disk by Tag.
type Variant struct {
	Tag  uint16
	Name string
	Type *Type
}

// Definition binds a name that Name placeholders can refer to.
type Definition struct {
	Name string
	Type *Type
}

// Define returns a Definition of name as t.
func Define(name string, t *Type) Definition {
	return Definition{Name: name, Type: t}
}

// Of returns a leaf type of kind k (Unit, a scalar, String or Bytes).
func Of(k Kind) *Type { return &Type{kind: k} }

// SeqOf returns a sequence of elem.
func SeqOf(elem *Type) *Type { return &Type{kind: Seq, elem: elem} }

// MapOf returns a map from key to value. Keys must be Bool, integer,
// String or Bytes.
func MapOf(key, value *Type) *Type { return &Type{kind: Map, key: key, elem: value} }

// RecordOf returns a record with the given fields in declaration order.
func RecordOf(fields ...Field) *Type { return &Type{kind: Record, fields: fields} }

// F is shorthand for a record field.
func F(name string, t *Type) Field { return Field{Name: name, Type: t} }

// OptionalOf returns a present/absent wrapper around elem.
func OptionalOf(elem *Type) *Type { return &Type{kind: Optional, elem: elem} }

// RefOf returns a relative pointer to an out-of-line elem. Ref is the
// only indirection that may close a cycle.
func RefOf(elem *Type) *Type { return &Type{kind: Ref, elem: elem} }

// UnionOf returns a closed tagged union of the given variants.
func UnionOf(variants ...Variant) *Type { return &Type{kind: Union, variants: variants} }

// V is shorthand for a union variant.
func V(tag uint16, name string, t *Type) Variant { return Variant{Tag: tag, Name: name, Type: t} }

// Name returns a placeholder that New resolves to the definition of name.
func Name(name string) *Type { return &Type{kind: Named, name: name} }

// Kind returns the kind of t.
func (t *Type) Kind() Kind { return t.kind }

// Name returns the definition name of t, or "" for anonymous types.
func (t *Type) Name() string { return t.name }

// Elem returns the element type of a Seq, Optional or Ref, or the value
// type of a Map.
func (t *Type) Elem() *Type { return t.elem }

// Key returns the key type of a Map.
func (t *Type) Key() *Type { return t.key }

// Entry returns the inline record {key, value} that a Map stores per entry.
func (t *Type) Entry() *Type { return t.entry }

// NumFields returns the number of record fields.
func (t *Type) NumFields() int { return len(t.fields) }

// Field returns the i-th record field.
func (t *Type) Field(i int) Field { return t.fields[i] }

// FieldIndex returns the index of the field called name.
func (t *Type) FieldIndex(name string) (int, bool) {
	i, ok := t.byName[name]
	return i, ok
}

// NumVariants returns the number of union variants.
func (t *Type) NumVariants() int { return len(t.variants) }

// Variant returns the i-th union variant.
func (t *Type) Variant(i int) Variant { return t.variants[i] }

// VariantByTag looks up a union variant by its on-disk tag.
func (t *Type) VariantByTag(tag uint16) (Variant, bool) {
	i, ok := t.byTag[tag]
	if !ok {
		return Variant{}, false
	}
	return t.variants[i], true
}

// VariantByName looks up a union variant by name.
func (t *Type) VariantByName(name string) (Variant, bool) {
	i, ok := t.byName[name]
	if !ok {
		return Variant{}, false
	}
	return t.variants[i], true
}

// Size returns the inline size of t for offset width w.
func (t *Type) Size(w Width) int { return t.layouts[w].size }

// Align returns the alignment of t for offset width w.
func (t *Type) Align(w Width) int { return t.layouts[w].align }

// InnerOffset returns the offset of an Optional's element or a Union's
// payload inside the inline representation.
func (t *Type) InnerOffset(w Width) int { return t.layouts[w].inner }

// Plain reports whether every byte pattern of the inline representation is
// valid: no pointers, no tags, no booleans. Runs of plain values need no
// per-element validation.
func (t *Type) Plain() bool { return t.plain }

// Digest returns a structural digest of t. Named children contribute by name.
func (t *Type) Digest() [32]byte { return t.digest }

// Compiled reports whether t belongs to a schema built by New.
func (t *Type) Compiled() bool { return t.compiled }

func (t *Type) String() string {
	if t == nil {
		return "<nil>"
	}
	if t.name != "" {
		return t.name
	}
	switch t.kind {
	case Seq:
		return "seq<" + t.elem.String() + ">"
	case Map:
		return "map<" + t.key.String() + "," + t.elem.String() + ">"
	case Optional:
		return "optional<" + t.elem.String() + ">"
	case Ref:
		return "ref<" + t.elem.String() + ">"
	}
	return t.kind.String()
}
