package document

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"

	"github.com/rawbytedev/zcarchive/pkg/schema"
)

// ErrConform is returned when generic data cannot take the shape of a type.
var ErrConform = errors.New("document: value does not conform to type")

// Conform converts generic data, as produced by encoding/json (with or
// without UseNumber) or by a CBOR decoder, into a Value shaped like t.
//
// Records and maps come from map[string]any; missing record fields are only
// accepted when optional. Unions come from a single-key map naming the
// variant, except the Dynamic type which accepts any data. Bytes accept
// []byte or a base64 string.
func Conform(x any, t *schema.Type) (Value, error) {
	return conform(x, t, "$")
}

func conformErr(path string, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrConform, path, fmt.Sprintf(format, args...))
}

func conform(x any, t *schema.Type, path string) (Value, error) {
	k := t.Kind()
	switch {
	case k == schema.Ref:
		return conform(x, t.Elem(), path)
	case k == schema.Union && t.Name() == schema.DynamicName:
		v, err := FromAny(x)
		if err != nil {
			return Value{}, conformErr(path, "%v", err)
		}
		return v, nil
	case k == schema.Unit:
		if x != nil {
			return Value{}, conformErr(path, "want null, got %T", x)
		}
		return Null(), nil
	case k == schema.Bool:
		b, ok := x.(bool)
		if !ok {
			return Value{}, conformErr(path, "want bool, got %T", x)
		}
		return Bool(b), nil
	case k.IsSigned():
		i, err := asInt(x)
		if err != nil {
			return Value{}, conformErr(path, "%v", err)
		}
		return Int(i), nil
	case k.IsUnsigned():
		u, err := asUint(x)
		if err != nil {
			return Value{}, conformErr(path, "%v", err)
		}
		return Uint(u), nil
	case k.IsFloat():
		f, err := asFloat(x)
		if err != nil {
			return Value{}, conformErr(path, "%v", err)
		}
		return Float(f), nil
	case k == schema.String:
		s, ok := x.(string)
		if !ok {
			return Value{}, conformErr(path, "want string, got %T", x)
		}
		return String(s), nil
	case k == schema.Bytes:
		switch b := x.(type) {
		case []byte:
			return Bytes(b), nil
		case string:
			raw, err := base64.StdEncoding.DecodeString(b)
			if err != nil {
				return Value{}, conformErr(path, "bad base64: %v", err)
			}
			return Bytes(raw), nil
		}
		return Value{}, conformErr(path, "want bytes, got %T", x)
	case k == schema.Seq:
		xs, ok := x.([]any)
		if !ok {
			return Value{}, conformErr(path, "want array, got %T", x)
		}
		items := make([]Value, len(xs))
		for i, e := range xs {
			v, err := conform(e, t.Elem(), path+"["+strconv.Itoa(i)+"]")
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return Seq(items...), nil
	case k == schema.Map:
		m, ok := x.(map[string]any)
		if !ok {
			return Value{}, conformErr(path, "want object, got %T", x)
		}
		keys := sortedKeys(m)
		entries := make([]Entry, len(keys))
		for i, key := range keys {
			kv, err := conformKey(key, t.Key(), path)
			if err != nil {
				return Value{}, err
			}
			vv, err := conform(m[key], t.Elem(), path+"."+key)
			if err != nil {
				return Value{}, err
			}
			entries[i] = E(kv, vv)
		}
		return Map(entries...), nil
	case k == schema.Record:
		m, ok := x.(map[string]any)
		if !ok {
			return Value{}, conformErr(path, "want object, got %T", x)
		}
		fields := make([]Field, t.NumFields())
		for i := range fields {
			f := t.Field(i)
			raw, present := m[f.Name]
			if !present && f.Type.Kind() != schema.Optional {
				return Value{}, conformErr(path, "missing field %q", f.Name)
			}
			v, err := conform(raw, f.Type, path+"."+f.Name)
			if err != nil {
				return Value{}, err
			}
			fields[i] = F(f.Name, v)
		}
		for name := range m {
			if _, ok := t.FieldIndex(name); !ok {
				return Value{}, conformErr(path, "unknown field %q", name)
			}
		}
		return Record(fields...), nil
	case k == schema.Optional:
		if x == nil {
			return None(), nil
		}
		v, err := conform(x, t.Elem(), path)
		if err != nil {
			return Value{}, err
		}
		return Some(v), nil
	case k == schema.Union:
		m, ok := x.(map[string]any)
		if !ok || len(m) != 1 {
			return Value{}, conformErr(path, "want a single-key object naming a variant")
		}
		for name, payload := range m {
			variant, ok := t.VariantByName(name)
			if !ok {
				return Value{}, conformErr(path, "unknown variant %q", name)
			}
			v, err := conform(payload, variant.Type, path+"."+name)
			if err != nil {
				return Value{}, err
			}
			return Variant(name, v), nil
		}
	}
	return Value{}, conformErr(path, "unsupported type %s", t)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func conformKey(key string, t *schema.Type, path string) (Value, error) {
	k := t.Kind()
	switch {
	case k == schema.String:
		return String(key), nil
	case k == schema.Bytes:
		return Bytes([]byte(key)), nil
	case k == schema.Bool:
		b, err := strconv.ParseBool(key)
		if err != nil {
			return Value{}, conformErr(path, "bad bool key %q", key)
		}
		return Bool(b), nil
	case k.IsSigned():
		i, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return Value{}, conformErr(path, "bad integer key %q", key)
		}
		return Int(i), nil
	case k.IsUnsigned():
		u, err := strconv.ParseUint(key, 10, 64)
		if err != nil {
			return Value{}, conformErr(path, "bad integer key %q", key)
		}
		return Uint(u), nil
	}
	return Value{}, conformErr(path, "unsupported key type %s", t)
}

func asInt(x any) (int64, error) {
	switch n := x.(type) {
	case json.Number:
		return n.Int64()
	case float64:
		if n != math.Trunc(n) || n < math.MinInt64 || n >= math.MaxInt64 {
			return 0, fmt.Errorf("%v is not an int64", n)
		}
		return int64(n), nil
	}
	rv := reflect.ValueOf(x)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if rv.Uint() > math.MaxInt64 {
			return 0, fmt.Errorf("%d overflows int64", rv.Uint())
		}
		return int64(rv.Uint()), nil
	}
	return 0, fmt.Errorf("want integer, got %T", x)
}

func asUint(x any) (uint64, error) {
	switch n := x.(type) {
	case json.Number:
		return strconv.ParseUint(n.String(), 10, 64)
	case float64:
		if n != math.Trunc(n) || n < 0 || n >= math.MaxUint64 {
			return 0, fmt.Errorf("%v is not a uint64", n)
		}
		return uint64(n), nil
	}
	rv := reflect.ValueOf(x)
	switch rv.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if rv.Int() < 0 {
			return 0, fmt.Errorf("%d is negative", rv.Int())
		}
		return uint64(rv.Int()), nil
	}
	return 0, fmt.Errorf("want unsigned integer, got %T", x)
}

func asFloat(x any) (float64, error) {
	switch n := x.(type) {
	case json.Number:
		return n.Float64()
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	}
	rv := reflect.ValueOf(x)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	}
	return 0, fmt.Errorf("want number, got %T", x)
}
