package archive

import (
	"strings"

	"github.com/rawbytedev/zcarchive/pkg/document"
	"github.com/rawbytedev/zcarchive/pkg/schema"
)

// Decode copies the value v refers to into an owned document. Refs are
// followed, so shared content is expanded once per reference. A View that
// does not exist decodes to Null.
func Decode(v View) document.Value {
	v = v.Deref()
	if v.a == nil {
		return document.Null()
	}
	k := v.t.Kind()
	switch {
	case k == schema.Unit:
		return document.Null()
	case k == schema.Bool:
		return document.Bool(v.Bool())
	case k.IsSigned():
		return document.Int(v.Int())
	case k.IsUnsigned():
		return document.Uint(v.Uint())
	case k.IsFloat():
		return document.Float(v.Float())
	case k == schema.String:
		return document.String(strings.Clone(v.Str()))
	case k == schema.Bytes:
		return document.Bytes(append([]byte{}, v.Bytes()...))
	case k == schema.Seq:
		items := make([]document.Value, 0, v.Len())
		for _, e := range v.Elements() {
			items = append(items, Decode(e))
		}
		return document.Seq(items...)
	case k == schema.Map:
		entries := make([]document.Entry, 0, v.Len())
		for key, val := range v.Entries() {
			entries = append(entries, document.E(Decode(key), Decode(val)))
		}
		return document.Map(entries...)
	case k == schema.Record:
		fields := make([]document.Field, v.t.NumFields())
		for i := range fields {
			fields[i] = document.F(v.FieldName(i), Decode(v.FieldAt(i)))
		}
		return document.Record(fields...)
	case k == schema.Optional:
		if !v.Present() {
			return document.None()
		}
		return document.Some(Decode(v.Some()))
	case k == schema.Union:
		return document.Variant(v.Variant(), Decode(v.Payload()))
	}
	return document.Null()
}
