// Package zcarchive maps Go structs onto zero-copy archives. It derives a
// schema from a struct type, marshals values through the archive builder
// and unmarshals validated archives back into structs.
//
// Reading through archive.View directly avoids the decode pass entirely;
// Unmarshal is for callers that want plain Go values.
package zcarchive

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/rawbytedev/zcarchive/internal/common"
	"github.com/rawbytedev/zcarchive/pkg/archive"
	"github.com/rawbytedev/zcarchive/pkg/document"
	"github.com/rawbytedev/zcarchive/pkg/schema"
)

var (
	ErrNotStruct    = errors.New("zcarchive: expected struct")
	ErrNotStructPtr = errors.New("zcarchive: expected pointer to struct")
	ErrUnsupported  = errors.New("zcarchive: unsupported type")
)

// SafeOptions trade safety for speed when unmarshaling.
type SafeOptions struct {
	// UnsafeStrings makes decoded strings alias the archive buffer, which
	// must then outlive them and never change.
	UnsafeStrings bool
	// UnsafePrimitives makes decoded []byte and numeric slices alias the
	// archive buffer when its memory is suitably aligned.
	UnsafePrimitives bool
}

// Codec caches one schema plan per struct type. It is safe for concurrent
// use.
type Codec struct {
	Opts  SafeOptions
	Build archive.Options

	mu    sync.RWMutex
	plans map[reflect.Type]*plan
}

func NewCodec(opts SafeOptions, build archive.Options) *Codec {
	return &Codec{
		Opts:  opts,
		Build: build,
		plans: make(map[reflect.Type]*plan),
	}
}

var std = NewCodec(SafeOptions{}, archive.Options{})

// Marshal builds a single document archive of v with default options.
func Marshal(v any) ([]byte, error) { return std.Marshal(v) }

// Unmarshal validates buf and decodes it into out with default options.
func Unmarshal(buf []byte, out any) error { return std.Unmarshal(buf, out) }

// SchemaOf returns the schema derived from the struct type of v.
func SchemaOf(v any) (*schema.Schema, error) { return std.SchemaOf(v) }

// fieldPlan maps one archived record field to a Go struct field.
type fieldPlan struct {
	idx  int
	name string
}

type plan struct {
	s       *schema.Schema
	structs map[reflect.Type][]fieldPlan
}

func (c *Codec) getPlan(t reflect.Type) (*plan, error) {
	c.mu.RLock()
	if p, ok := c.plans[t]; ok {
		c.mu.RUnlock()
		return p, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.plans[t]; ok {
		return p, nil
	}
	pl := &planner{
		structs: make(map[reflect.Type][]fieldPlan),
		names:   make(map[reflect.Type]string),
		taken:   make(map[string]bool),
	}
	root, err := pl.typeOf(t)
	if err != nil {
		return nil, err
	}
	s, err := schema.New(root, pl.defs...)
	if err != nil {
		return nil, fmt.Errorf("zcarchive: %s: %w", t, err)
	}
	p := &plan{s: s, structs: pl.structs}
	c.plans[t] = p
	return p, nil
}

func structType(v any) (reflect.Value, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return reflect.Value{}, ErrNotStruct
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return reflect.Value{}, ErrNotStruct
	}
	return rv, nil
}

// SchemaOf returns the schema derived from the struct type of v.
func (c *Codec) SchemaOf(v any) (*schema.Schema, error) {
	rv, err := structType(v)
	if err != nil {
		return nil, err
	}
	return c.SchemaFor(rv.Type())
}

// SchemaFor returns the schema derived from struct type t.
func (c *Codec) SchemaFor(t reflect.Type) (*schema.Schema, error) {
	if t.Kind() != reflect.Struct {
		return nil, ErrNotStruct
	}
	p, err := c.getPlan(t)
	if err != nil {
		return nil, err
	}
	return p.s, nil
}

// Marshal builds a single document archive of v.
func (c *Codec) Marshal(v any) ([]byte, error) {
	rv, err := structType(v)
	if err != nil {
		return nil, err
	}
	p, err := c.getPlan(rv.Type())
	if err != nil {
		return nil, err
	}
	b := archive.NewBuilder(p.s, c.Build)
	if _, err := b.Write(p.encode(rv, p.s.Root())); err != nil {
		return nil, err
	}
	buf, _, err := b.Finalize()
	return buf, err
}

// MarshalBatch builds one batch archive holding every element of items.
func MarshalBatch[T any](c *Codec, items []T) ([]byte, error) {
	t := reflect.TypeFor[T]()
	if t.Kind() != reflect.Struct {
		return nil, ErrNotStruct
	}
	p, err := c.getPlan(t)
	if err != nil {
		return nil, err
	}
	b := archive.NewBuilder(p.s, c.Build)
	for i := range items {
		if _, err := b.Write(p.encode(reflect.ValueOf(&items[i]).Elem(), p.s.Root())); err != nil {
			return nil, err
		}
	}
	buf, _, err := b.FinalizeBatch()
	return buf, err
}

// Open validates buf as an archive of the struct type of sample.
func (c *Codec) Open(buf []byte, sample any) (*archive.Archive, error) {
	s, err := c.SchemaOf(sample)
	if err != nil {
		return nil, err
	}
	return archive.Validate(buf, s)
}

// Unmarshal validates buf against the schema of *out and decodes the root
// document into it.
func (c *Codec) Unmarshal(buf []byte, out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return ErrNotStructPtr
	}
	p, err := c.getPlan(rv.Elem().Type())
	if err != nil {
		return err
	}
	a, err := archive.Validate(buf, p.s)
	if err != nil {
		return err
	}
	return c.decode(p, a.Document(0), rv.Elem())
}

// DecodeView decodes a view of a validated archive into *out. The view's
// type must be the schema root derived from *out, such as a document of a
// batch archive opened with Open.
func (c *Codec) DecodeView(v archive.View, out any) error {
	rv := reflect.ValueOf(out)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return ErrNotStructPtr
	}
	p, err := c.getPlan(rv.Elem().Type())
	if err != nil {
		return err
	}
	if v.Type() != p.s.Root() {
		return fmt.Errorf("%w: view is %s, want %s", archive.ErrSchemaMismatch, v.Type(), p.s.Root())
	}
	return c.decode(p, v, rv.Elem())
}

// planner derives schema types from Go types. Named struct types become
// definitions so pointers can refer back to them.
type planner struct {
	defs    []schema.Definition
	structs map[reflect.Type][]fieldPlan
	names   map[reflect.Type]string
	taken   map[string]bool
}

func (pl *planner) typeOf(t reflect.Type) (*schema.Type, error) {
	switch t.Kind() {
	case reflect.Bool:
		return schema.Of(schema.Bool), nil
	case reflect.Int8:
		return schema.Of(schema.Int8), nil
	case reflect.Int16:
		return schema.Of(schema.Int16), nil
	case reflect.Int32:
		return schema.Of(schema.Int32), nil
	case reflect.Int64, reflect.Int:
		return schema.Of(schema.Int64), nil
	case reflect.Uint8:
		return schema.Of(schema.Uint8), nil
	case reflect.Uint16:
		return schema.Of(schema.Uint16), nil
	case reflect.Uint32:
		return schema.Of(schema.Uint32), nil
	case reflect.Uint64, reflect.Uint:
		return schema.Of(schema.Uint64), nil
	case reflect.Float32:
		return schema.Of(schema.Float32), nil
	case reflect.Float64:
		return schema.Of(schema.Float64), nil
	case reflect.String:
		return schema.Of(schema.String), nil
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return schema.Of(schema.Bytes), nil
		}
		elem, err := pl.typeOf(t.Elem())
		if err != nil {
			return nil, err
		}
		return schema.SeqOf(elem), nil
	case reflect.Map:
		key, err := pl.typeOf(t.Key())
		if err != nil {
			return nil, err
		}
		val, err := pl.typeOf(t.Elem())
		if err != nil {
			return nil, err
		}
		return schema.MapOf(key, val), nil
	case reflect.Pointer:
		elem, err := pl.typeOf(t.Elem())
		if err != nil {
			return nil, err
		}
		if t.Elem().Kind() == reflect.Struct {
			return schema.OptionalOf(schema.RefOf(elem)), nil
		}
		return schema.OptionalOf(elem), nil
	case reflect.Struct:
		return pl.record(t)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, t)
}

func (pl *planner) record(t reflect.Type) (*schema.Type, error) {
	if name, ok := pl.names[t]; ok {
		return schema.Name(name), nil
	}
	var name string
	if t.Name() != "" {
		name = t.Name()
		for i := 2; pl.taken[name]; i++ {
			name = fmt.Sprintf("%s#%d", t.Name(), i)
		}
		pl.taken[name] = true
		pl.names[t] = name
	}

	var fields []schema.Field
	var plans []fieldPlan
	for i := range t.NumField() {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		fname := sf.Name
		if tag, ok := sf.Tag.Lookup("zca"); ok {
			tag, _, _ = strings.Cut(tag, ",")
			if tag == "-" {
				continue
			}
			if tag != "" {
				fname = tag
			}
		}
		ft, err := pl.typeOf(sf.Type)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", t, sf.Name, err)
		}
		fields = append(fields, schema.F(fname, ft))
		plans = append(plans, fieldPlan{idx: i, name: fname})
	}
	pl.structs[t] = plans
	rec := schema.RecordOf(fields...)
	if name == "" {
		return rec, nil
	}
	pl.defs = append(pl.defs, schema.Define(name, rec))
	return schema.Name(name), nil
}

// encode converts a Go value into the document shape of st.
func (p *plan) encode(v reflect.Value, st *schema.Type) document.Value {
	switch st.Kind() {
	case schema.Ref:
		return p.encode(v, st.Elem())
	case schema.Optional:
		if v.IsNil() {
			return document.None()
		}
		return document.Some(p.encode(v.Elem(), st.Elem()))
	case schema.Record:
		plans := p.structs[v.Type()]
		fields := make([]document.Field, len(plans))
		for i, fp := range plans {
			fields[i] = document.F(fp.name, p.encode(v.Field(fp.idx), st.Field(i).Type))
		}
		return document.Record(fields...)
	case schema.Seq:
		items := make([]document.Value, v.Len())
		for i := range items {
			items[i] = p.encode(v.Index(i), st.Elem())
		}
		return document.Seq(items...)
	case schema.Map:
		entries := make([]document.Entry, 0, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			entries = append(entries, document.E(p.encode(iter.Key(), st.Key()), p.encode(iter.Value(), st.Elem())))
		}
		return document.Map(entries...)
	case schema.Bytes:
		return document.Bytes(v.Bytes())
	case schema.String:
		return document.String(v.String())
	case schema.Bool:
		return document.Bool(v.Bool())
	}
	k := st.Kind()
	switch {
	case k.IsSigned():
		return document.Int(v.Int())
	case k.IsUnsigned():
		return document.Uint(v.Uint())
	case k.IsFloat():
		return document.Float(v.Float())
	}
	return document.Null()
}

func (c *Codec) decode(p *plan, view archive.View, v reflect.Value) error {
	switch v.Kind() {
	case reflect.Pointer:
		if !view.Present() {
			v.SetZero()
			return nil
		}
		n := reflect.New(v.Type().Elem())
		if err := c.decode(p, view.Some(), n.Elem()); err != nil {
			return err
		}
		v.Set(n)
	case reflect.Struct:
		for i, fp := range p.structs[v.Type()] {
			if err := c.decode(p, view.FieldAt(i), v.Field(fp.idx)); err != nil {
				return err
			}
		}
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			b := view.Bytes()
			if !c.Opts.UnsafePrimitives {
				b = append([]byte(nil), b...)
			}
			v.SetBytes(b)
			return nil
		}
		if c.Opts.UnsafePrimitives && common.IsFixedKind(v.Type().Elem().Kind()) && aliasScalars(view, v) {
			return nil
		}
		n := view.Len()
		s := reflect.MakeSlice(v.Type(), n, n)
		for i := range n {
			if err := c.decode(p, view.Index(i), s.Index(i)); err != nil {
				return err
			}
		}
		v.Set(s)
	case reflect.Map:
		m := reflect.MakeMapWithSize(v.Type(), view.Len())
		kt, vt := v.Type().Key(), v.Type().Elem()
		for key, val := range view.Entries() {
			kv, vv := reflect.New(kt).Elem(), reflect.New(vt).Elem()
			if err := c.decode(p, key, kv); err != nil {
				return err
			}
			if err := c.decode(p, val, vv); err != nil {
				return err
			}
			m.SetMapIndex(kv, vv)
		}
		v.Set(m)
	case reflect.String:
		s := view.Str()
		if !c.Opts.UnsafeStrings {
			s = strings.Clone(s)
		}
		v.SetString(s)
	case reflect.Bool:
		v.SetBool(view.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v.SetInt(view.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		v.SetUint(view.Uint())
	case reflect.Float32, reflect.Float64:
		v.SetFloat(view.Float())
	default:
		return fmt.Errorf("%w: %s", ErrUnsupported, v.Type())
	}
	return nil
}

// aliasScalars points v at the archived elements of view when v is a
// slice of a predeclared numeric type and the block is aligned for it.
func aliasScalars(view archive.View, v reflect.Value) bool {
	var out any
	var ok bool
	switch v.Type().Elem() {
	case reflect.TypeFor[int16]():
		out, ok = archive.Scalars[int16](view)
	case reflect.TypeFor[int32]():
		out, ok = archive.Scalars[int32](view)
	case reflect.TypeFor[int64]():
		out, ok = archive.Scalars[int64](view)
	case reflect.TypeFor[int8]():
		out, ok = archive.Scalars[int8](view)
	case reflect.TypeFor[uint16]():
		out, ok = archive.Scalars[uint16](view)
	case reflect.TypeFor[uint32]():
		out, ok = archive.Scalars[uint32](view)
	case reflect.TypeFor[uint64]():
		out, ok = archive.Scalars[uint64](view)
	case reflect.TypeFor[float32]():
		out, ok = archive.Scalars[float32](view)
	case reflect.TypeFor[float64]():
		out, ok = archive.Scalars[float64](view)
	}
	if !ok || reflect.TypeOf(out) != v.Type() {
		return false
	}
	v.Set(reflect.ValueOf(out))
	return true
}
