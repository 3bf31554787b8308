// Package document is the mutable, logical form of a document: what the
// builder consumes and what decoding an archive produces.
package document

import (
	"bytes"
	"fmt"
	"math"
	"strings"
)

// Kind classifies a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindUint
	KindFloat
	KindString
	KindBytes
	KindSeq
	KindMap
	KindRecord
	KindOptional
	KindVariant
	// KindPos refers to a document already written in the same build session.
	KindPos
)

var kindNames = [...]string{"null", "bool", "int", "uint", "float", "string", "bytes",
	"seq", "map", "record", "optional", "variant", "pos"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value is a closed tagged union over everything an archive can hold. The
// zero Value is Null.
type Value struct {
	kind    Kind
	num     uint64
	str     string
	raw     []byte
	items   []Value
	entries []Entry
	fields  []Field
}

// Entry is one key/value pair of a Map.
type Entry struct {
	Key   Value
	Value Value
}

// Field is one named member of a Record.
type Field struct {
	Name  string
	Value Value
}

func Null() Value { return Value{} }
func Int(i int64) Value { return Value{kind: KindInt, num: uint64(i)} }
func Uint(u uint64) Value { return Value{kind: KindUint, num: u} }
func Float(f float64) Value { return Value{kind: KindFloat, num: math.Float64bits(f)} }
func String(s string) Value { return Value{kind: KindString, str: s} }
func Bytes(b []byte) Value { return Value{kind: KindBytes, raw: b} }
func Seq(items ...Value) Value { return Value{kind: KindSeq, items: items} }

func Bool(b bool) Value {
	v := Value{kind: KindBool}
	if b {
		v.num = 1
	}
	return v
}

// Map returns a map value. Entry order is irrelevant; archives store maps
// sorted by key.
func Map(entries ...Entry) Value { return Value{kind: KindMap, entries: entries} }

// E is shorthand for a map entry.
func E(k, v Value) Entry { return Entry{Key: k, Value: v} }

// Record returns a record whose fields must match the schema in order.
func Record(fields ...Field) Value { return Value{kind: KindRecord, fields: fields} }

// F is shorthand for a record field.
func F(name string, v Value) Field { return Field{Name: name, Value: v} }

// Some wraps a present optional value.
func Some(v Value) Value { return Value{kind: KindOptional, items: []Value{v}} }

// None is the absent optional value.
func None() Value { return Value{kind: KindOptional} }

// Variant selects the union member called name.
func Variant(name string, payload Value) Value {
	return Value{kind: KindVariant, str: name, items: []Value{payload}}
}

// Pos refers to the document returned by an earlier Builder.Write. It is
// only meaningful in a Ref slot.
func Pos(p int) Value { return Value{kind: KindPos, num: uint64(p)} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) Bool() bool { return v.kind == KindBool && v.num != 0 }
func (v Value) Int() int64 { return int64(v.num) }
func (v Value) Uint() uint64 { return v.num }
func (v Value) Float() float64 { return math.Float64frombits(v.num) }
func (v Value) Str() string { return v.str }
func (v Value) Bytes() []byte { return v.raw }
func (v Value) Pos() int { return int(v.num) }

// Items returns the elements of a Seq.
func (v Value) Items() []Value {
	if v.kind != KindSeq {
		return nil
	}
	return v.items
}

func (v Value) Entries() []Entry { return v.entries }
func (v Value) Fields() []Field { return v.fields }
func (v Value) IsSome() bool { return v.kind == KindOptional && len(v.items) == 1 }
func (v Value) VariantName() string { return v.str }

// Elem returns the payload of a Some or a Variant, or Null.
func (v Value) Elem() Value {
	if (v.kind == KindOptional || v.kind == KindVariant) && len(v.items) == 1 {
		return v.items[0]
	}
	return Value{}
}

// Len returns the number of elements, entries, fields or bytes.
func (v Value) Len() int {
	switch v.kind {
	case KindSeq:
		return len(v.items)
	case KindMap:
		return len(v.entries)
	case KindRecord:
		return len(v.fields)
	case KindString:
		return len(v.str)
	case KindBytes:
		return len(v.raw)
	}
	return 0
}

// Field returns the record field called name.
func (v Value) Field(name string) (Value, bool) {
	for _, f := range v.fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Lookup returns the map value whose key equals k.
func (v Value) Lookup(k Value) (Value, bool) {
	for _, e := range v.entries {
		if e.Key.Equal(k) {
			return e.Value, true
		}
	}
	return Value{}, false
}

// Equal reports deep equality. Maps compare as unordered sets of entries and
// NaN equals NaN so decoded documents compare equal to their source.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool, KindInt, KindUint, KindPos:
		return v.num == o.num
	case KindFloat:
		a, b := v.Float(), o.Float()
		return a == b || (a != a && b != b)
	case KindString:
		return v.str == o.str
	case KindBytes:
		return bytes.Equal(v.raw, o.raw)
	case KindSeq, KindOptional:
		return equalItems(v.items, o.items)
	case KindVariant:
		return v.str == o.str && equalItems(v.items, o.items)
	case KindRecord:
		if len(v.fields) != len(o.fields) {
			return false
		}
		for i := range v.fields {
			if v.fields[i].Name != o.fields[i].Name || !v.fields[i].Value.Equal(o.fields[i].Value) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.entries) != len(o.entries) {
			return false
		}
		for _, e := range v.entries {
			ov, ok := o.Lookup(e.Key)
			if !ok || !e.Value.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

func equalItems(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

func (v Value) String() string {
	var sb strings.Builder
	v.format(&sb)
	return sb.String()
}

func (v Value) format(sb *strings.Builder) {
	switch v.kind {
	case KindNull:
		sb.WriteString("null")
	case KindBool:
		fmt.Fprint(sb, v.Bool())
	case KindInt:
		fmt.Fprint(sb, v.Int())
	case KindUint:
		fmt.Fprintf(sb, "%du", v.num)
	case KindFloat:
		fmt.Fprint(sb, v.Float())
	case KindString:
		fmt.Fprintf(sb, "%q", v.str)
	case KindBytes:
		fmt.Fprintf(sb, "0x%x", v.raw)
	case KindPos:
		fmt.Fprintf(sb, "@%d", v.num)
	case KindSeq:
		sb.WriteByte('[')
		for i, it := range v.items {
			if i > 0 {
				sb.WriteString(", ")
			}
			it.format(sb)
		}
		sb.WriteByte(']')
	case KindMap:
		sb.WriteString("map{")
		for i, e := range v.entries {
			if i > 0 {
				sb.WriteString(", ")
			}
			e.Key.format(sb)
			sb.WriteString(": ")
			e.Value.format(sb)
		}
		sb.WriteByte('}')
	case KindRecord:
		sb.WriteByte('{')
		for i, f := range v.fields {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(f.Name)
			sb.WriteString(": ")
			f.Value.format(sb)
		}
		sb.WriteByte('}')
	case KindOptional:
		if !v.IsSome() {
			sb.WriteString("none")
			return
		}
		sb.WriteString("some(")
		v.items[0].format(sb)
		sb.WriteByte(')')
	case KindVariant:
		sb.WriteString(v.str)
		sb.WriteByte('(')
		v.Elem().format(sb)
		sb.WriteByte(')')
	}
}
