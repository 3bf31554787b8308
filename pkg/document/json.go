package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"time"
)

// ErrUnsupported is returned when generic data has no document form.
var ErrUnsupported = errors.New("document: unsupported value")

// FromJSON parses a JSON document into the shape of schema.Dynamic.
func FromJSON(data []byte) (Value, error) {
	x, err := ParseJSON(data)
	if err != nil {
		return Value{}, err
	}
	return FromAny(x)
}

// ParseJSON decodes exactly one JSON value into generic data with numbers
// kept as json.Number, ready for FromAny or Conform.
func ParseJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var x any
	if err := dec.Decode(&x); err != nil {
		return nil, fmt.Errorf("document: parsing json: %w", err)
	}
	if dec.More() {
		return nil, errors.New("document: trailing data after json value")
	}
	return x, nil
}

// class is the dynamic variant a scalar falls into.
type class uint8

const (
	classOther class = iota
	classBool
	classInt
	classUint
	classFloat
	classString
)

var arrayVariant = [...]string{
	classBool:   "bools",
	classInt:    "ints",
	classUint:   "uints",
	classFloat:  "floats",
	classString: "strings",
}

// FromAny converts decoded JSON or CBOR data (nil, bool, numbers, string,
// []byte, []any, map[string]any) into the shape of schema.Dynamic. Arrays
// whose elements are all scalars of one class become typed arrays.
func FromAny(x any) (Value, error) {
	v, _, err := fromAny(x)
	return v, err
}

func fromAny(x any) (Value, class, error) {
	switch x := x.(type) {
	case nil:
		return Variant("null", Null()), classOther, nil
	case bool:
		return Variant("bool", Bool(x)), classBool, nil
	case string:
		return Variant("string", String(x)), classString, nil
	case []byte:
		return Variant("bytes", Bytes(x)), classOther, nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return Variant("int", Int(i)), classInt, nil
		}
		if u, err := strconv.ParseUint(x.String(), 10, 64); err == nil {
			return Variant("uint", Uint(u)), classUint, nil
		}
		f, err := x.Float64()
		if err != nil {
			return Value{}, classOther, fmt.Errorf("%w: number %s", ErrUnsupported, x)
		}
		return Variant("float", Float(f)), classFloat, nil
	case time.Time:
		return Variant("string", String(x.Format(time.RFC3339Nano))), classString, nil
	case []any:
		return fromArray(x)
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		entries := make([]Entry, len(keys))
		for i, k := range keys {
			ev, _, err := fromAny(x[k])
			if err != nil {
				return Value{}, classOther, fmt.Errorf("%s: %w", k, err)
			}
			entries[i] = E(String(k), ev)
		}
		return Variant("object", Map(entries...)), classOther, nil
	}

	rv := reflect.ValueOf(x)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Variant("int", Int(rv.Int())), classInt, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u <= math.MaxInt64 {
			return Variant("int", Int(int64(u))), classInt, nil
		}
		return Variant("uint", Uint(u)), classUint, nil
	case reflect.Float32, reflect.Float64:
		return Variant("float", Float(rv.Float())), classFloat, nil
	}
	return Value{}, classOther, fmt.Errorf("%w: %T", ErrUnsupported, x)
}

func fromArray(xs []any) (Value, class, error) {
	items := make([]Value, len(xs))
	common := classOther
	for i, x := range xs {
		v, c, err := fromAny(x)
		if err != nil {
			return Value{}, classOther, fmt.Errorf("[%d]: %w", i, err)
		}
		items[i] = v
		switch {
		case i == 0:
			common = c
		case c != common:
			common = classOther
		}
	}
	if len(items) == 0 || common == classOther {
		return Variant("array", Seq(items...)), classOther, nil
	}
	for i := range items {
		items[i] = items[i].Elem()
	}
	return Variant(arrayVariant[common], Seq(items...)), classOther, nil
}

// MarshalJSON renders v as JSON. Variants render as their payload, so a
// dynamic document renders as the JSON it was built from. Maps with
// non-string keys render their keys as strings.
func (v Value) MarshalJSON() ([]byte, error) {
	return v.appendJSON(nil)
}

func (v Value) appendJSON(b []byte) ([]byte, error) {
	switch v.kind {
	case KindNull:
		return append(b, "null"...), nil
	case KindBool:
		return strconv.AppendBool(b, v.Bool()), nil
	case KindInt:
		return strconv.AppendInt(b, v.Int(), 10), nil
	case KindUint, KindPos:
		return strconv.AppendUint(b, v.num, 10), nil
	case KindFloat:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: %v has no json form", ErrUnsupported, f)
		}
		return strconv.AppendFloat(b, f, 'g', -1, 64), nil
	case KindString:
		return appendJSONString(b, v.str)
	case KindBytes:
		s, err := json.Marshal(v.raw)
		if err != nil {
			return nil, err
		}
		return append(b, s...), nil
	case KindSeq:
		b = append(b, '[')
		for i, it := range v.items {
			if i > 0 {
				b = append(b, ',')
			}
			var err error
			if b, err = it.appendJSON(b); err != nil {
				return nil, err
			}
		}
		return append(b, ']'), nil
	case KindMap:
		b = append(b, '{')
		for i, e := range v.entries {
			if i > 0 {
				b = append(b, ',')
			}
			var err error
			if b, err = appendJSONString(b, keyString(e.Key)); err != nil {
				return nil, err
			}
			b = append(b, ':')
			if b, err = e.Value.appendJSON(b); err != nil {
				return nil, err
			}
		}
		return append(b, '}'), nil
	case KindRecord:
		b = append(b, '{')
		for i, f := range v.fields {
			if i > 0 {
				b = append(b, ',')
			}
			var err error
			if b, err = appendJSONString(b, f.Name); err != nil {
				return nil, err
			}
			b = append(b, ':')
			if b, err = f.Value.appendJSON(b); err != nil {
				return nil, err
			}
		}
		return append(b, '}'), nil
	case KindOptional, KindVariant:
		return v.Elem().appendJSON(b)
	}
	return nil, fmt.Errorf("%w: kind %s", ErrUnsupported, v.kind)
}

func appendJSONString(b []byte, s string) ([]byte, error) {
	q, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return append(b, q...), nil
}

func keyString(k Value) string {
	switch k.kind {
	case KindString:
		return k.str
	case KindBytes:
		return string(k.raw)
	case KindBool:
		return strconv.FormatBool(k.Bool())
	case KindInt:
		return strconv.FormatInt(k.Int(), 10)
	case KindUint:
		return strconv.FormatUint(k.num, 10)
	}
	return k.String()
}
