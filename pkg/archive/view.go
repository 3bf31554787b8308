package archive

import (
	"bytes"
	"iter"
	"math"
	"sort"
	"unsafe"

	"github.com/rawbytedev/zcarchive/internal/common"
	"github.com/rawbytedev/zcarchive/pkg/schema"
)

// View is a typed position inside a validated archive. Views are small
// values; creating and reading them does not allocate. Every accessor is
// total: asking for something the value does not have returns the zero
// View or a zero result. Ref values are followed transparently.
type View struct {
	a   *Archive
	pos int
	t   *schema.Type
}

// Exists reports whether v refers to a value. Missing fields, indexes out
// of range and absent optionals yield views that do not exist.
func (v View) Exists() bool { return v.a != nil }

// Deref follows Ref indirections until a non-Ref value.
func (v View) Deref() View {
	for v.a != nil && v.t.Kind() == schema.Ref {
		v = View{a: v.a, pos: v.pos + v.rel(), t: v.t.Elem()}
	}
	return v
}

// Kind returns the kind of the value after following Refs.
func (v View) Kind() schema.Kind {
	v = v.Deref()
	if v.a == nil {
		return schema.Invalid
	}
	return v.t.Kind()
}

// Type returns the type of the value after following Refs.
func (v View) Type() *schema.Type { return v.Deref().t }

// Position returns where the value starts after following Refs.
func (v View) Position() int { return v.Deref().pos }

// Target returns the position a pointer-bearing value refers to: the
// target of a Ref, or the block of a non-empty String, Bytes, Seq or Map.
// Refs are not followed first.
func (v View) Target() (int, bool) {
	if v.a == nil {
		return 0, false
	}
	switch v.t.Kind() {
	case schema.Ref:
		return v.pos + v.rel(), true
	case schema.String, schema.Bytes, schema.Seq, schema.Map:
		if v.count() == 0 {
			return 0, false
		}
		return v.pos + v.rel(), true
	}
	return 0, false
}

func (v View) pw() int { return v.a.w.Bytes() }

func (v View) rel() int { return int(common.Int(v.a.buf[v.pos:], v.pw())) }

func (v View) count() int {
	pw := v.pw()
	return int(common.Uint(v.a.buf[v.pos+pw:], pw))
}

// Bool returns the value of a Bool.
func (v View) Bool() bool {
	v = v.Deref()
	return v.a != nil && v.t.Kind() == schema.Bool && v.a.buf[v.pos] == 1
}

// Int returns the value of a signed integer.
func (v View) Int() int64 {
	v = v.Deref()
	if v.a == nil || !v.t.Kind().IsSigned() {
		return 0
	}
	return common.Int(v.a.buf[v.pos:], v.t.Size(v.a.w))
}

// Uint returns the value of an unsigned integer.
func (v View) Uint() uint64 {
	v = v.Deref()
	if v.a == nil || !v.t.Kind().IsUnsigned() {
		return 0
	}
	return common.Uint(v.a.buf[v.pos:], v.t.Size(v.a.w))
}

// Float returns the value of a Float32 or Float64.
func (v View) Float() float64 {
	v = v.Deref()
	if v.a == nil {
		return 0
	}
	switch v.t.Kind() {
	case schema.Float32:
		return float64(math.Float32frombits(uint32(common.Uint(v.a.buf[v.pos:], 4))))
	case schema.Float64:
		return math.Float64frombits(common.Uint(v.a.buf[v.pos:], 8))
	}
	return 0
}

// Bytes returns the payload of a String or Bytes without copying. The
// result aliases the archive and must not be modified.
func (v View) Bytes() []byte {
	v = v.Deref()
	if v.a == nil {
		return nil
	}
	if k := v.t.Kind(); k != schema.String && k != schema.Bytes {
		return nil
	}
	return payloadAt(v.a.buf, v.pw(), v.pos)
}

// Str returns the payload of a String without copying. The string aliases
// the archive, so the buffer must outlive it and stay unmodified.
func (v View) Str() string {
	v = v.Deref()
	if v.a == nil || v.t.Kind() != schema.String {
		return ""
	}
	b := payloadAt(v.a.buf, v.pw(), v.pos)
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}

// Len returns the length of a String, Bytes, Seq or Map, or the number of
// fields of a Record.
func (v View) Len() int {
	v = v.Deref()
	if v.a == nil {
		return 0
	}
	switch v.t.Kind() {
	case schema.String, schema.Bytes, schema.Seq, schema.Map:
		return v.count()
	case schema.Record:
		return v.t.NumFields()
	}
	return 0
}

// Index returns element i of a Seq.
func (v View) Index(i int) View {
	v = v.Deref()
	if v.a == nil || v.t.Kind() != schema.Seq || i < 0 || i >= v.count() {
		return View{}
	}
	elem := v.t.Elem()
	return View{a: v.a, pos: v.pos + v.rel() + i*elem.Size(v.a.w), t: elem}
}

// Field returns the record field called name. On a Map with String keys it
// looks the key up instead.
func (v View) Field(name string) View {
	v = v.Deref()
	if v.a == nil {
		return View{}
	}
	switch v.t.Kind() {
	case schema.Record:
		i, ok := v.t.FieldIndex(name)
		if !ok {
			return View{}
		}
		return v.FieldAt(i)
	case schema.Map:
		return v.GetString(name)
	}
	return View{}
}

// FieldAt returns record field i.
func (v View) FieldAt(i int) View {
	v = v.Deref()
	if v.a == nil || v.t.Kind() != schema.Record || i < 0 || i >= v.t.NumFields() {
		return View{}
	}
	f := v.t.Field(i)
	return View{a: v.a, pos: v.pos + f.Offset(v.a.w), t: f.Type}
}

// FieldName returns the name of record field i.
func (v View) FieldName(i int) string {
	v = v.Deref()
	if v.a == nil || v.t.Kind() != schema.Record || i < 0 || i >= v.t.NumFields() {
		return ""
	}
	return v.t.Field(i).Name
}

// Entry returns the key and value of map entry i. Entries are sorted by key.
func (v View) Entry(i int) (key, value View) {
	v = v.Deref()
	if v.a == nil || v.t.Kind() != schema.Map || i < 0 || i >= v.count() {
		return View{}, View{}
	}
	return v.entryAt(i)
}

func (v View) entryAt(i int) (key, value View) {
	entry := v.t.Entry()
	at := v.pos + v.rel() + i*entry.Size(v.a.w)
	kf, vf := entry.Field(0), entry.Field(1)
	return View{a: v.a, pos: at + kf.Offset(v.a.w), t: kf.Type},
		View{a: v.a, pos: at + vf.Offset(v.a.w), t: vf.Type}
}

// search binary searches a map for the entry whose key compares equal.
// cmpKey returns the order of the searched key relative to the entry key.
func (v View) search(accept func(schema.Kind) bool, cmpKey func(key View) int) View {
	v = v.Deref()
	if v.a == nil || v.t.Kind() != schema.Map || !accept(v.t.Key().Kind()) {
		return View{}
	}
	n := v.count()
	i := sort.Search(n, func(i int) bool {
		k, _ := v.entryAt(i)
		return cmpKey(k) <= 0
	})
	if i == n {
		return View{}
	}
	k, val := v.entryAt(i)
	if cmpKey(k) != 0 {
		return View{}
	}
	return val
}

func isText(k schema.Kind) bool { return k == schema.String || k == schema.Bytes }

// GetString looks up a String or Bytes key.
func (v View) GetString(key string) View {
	return v.search(isText, func(k View) int {
		return bytes.Compare(unsafe.Slice(unsafe.StringData(key), len(key)), k.Bytes())
	})
}

// GetBytes looks up a String or Bytes key.
func (v View) GetBytes(key []byte) View {
	return v.search(isText, func(k View) int { return bytes.Compare(key, k.Bytes()) })
}

// GetInt looks up a signed integer key.
func (v View) GetInt(key int64) View {
	return v.search(schema.Kind.IsSigned, func(k View) int { return cmpOrder(key, k.Int()) })
}

// GetUint looks up an unsigned integer key.
func (v View) GetUint(key uint64) View {
	return v.search(schema.Kind.IsUnsigned, func(k View) int { return cmpOrder(key, k.Uint()) })
}

// GetBool looks up a Bool key.
func (v View) GetBool(key bool) View {
	return v.search(func(k schema.Kind) bool { return k == schema.Bool }, func(k View) int {
		return cmpOrder(boolInt(key), boolInt(k.Bool()))
	})
}

func cmpOrder[T int | int64 | uint64](x, y T) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

// Present reports whether an Optional holds a value.
func (v View) Present() bool {
	v = v.Deref()
	return v.a != nil && v.t.Kind() == schema.Optional && v.a.buf[v.pos] == 1
}

// Some returns the value inside a present Optional.
func (v View) Some() View {
	v = v.Deref()
	if !v.Present() {
		return View{}
	}
	return View{a: v.a, pos: v.pos + v.t.InnerOffset(v.a.w), t: v.t.Elem()}
}

// Tag returns the tag of a Union.
func (v View) Tag() uint16 {
	v = v.Deref()
	if v.a == nil || v.t.Kind() != schema.Union {
		return 0
	}
	return uint16(common.Uint(v.a.buf[v.pos:], 2))
}

// Variant returns the name of the selected union member.
func (v View) Variant() string {
	v = v.Deref()
	if v.a == nil || v.t.Kind() != schema.Union {
		return ""
	}
	variant, _ := v.t.VariantByTag(v.Tag())
	return variant.Name
}

// Payload returns the value of the selected union member.
func (v View) Payload() View {
	v = v.Deref()
	if v.a == nil || v.t.Kind() != schema.Union {
		return View{}
	}
	variant, ok := v.t.VariantByTag(v.Tag())
	if !ok {
		return View{}
	}
	return View{a: v.a, pos: v.pos + v.t.InnerOffset(v.a.w), t: variant.Type}
}

// Elements iterates over the elements of a Seq.
func (v View) Elements() iter.Seq2[int, View] {
	v = v.Deref()
	return func(yield func(int, View) bool) {
		for i := range v.Len() {
			if !yield(i, v.Index(i)) {
				return
			}
		}
	}
}

// Entries iterates over the entries of a Map in key order.
func (v View) Entries() iter.Seq2[View, View] {
	v = v.Deref()
	return func(yield func(View, View) bool) {
		if v.a == nil || v.t.Kind() != schema.Map {
			return
		}
		for i := range v.count() {
			if !yield(v.entryAt(i)) {
				return
			}
		}
	}
}
