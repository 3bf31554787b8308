package schema

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

// descVersion is bumped whenever the description encoding changes, which
// changes every schema identity.
const descVersion = 1

// typeDesc is the deterministic, serializable description of a type. Named
// children are described by name only so recursive schemas stay finite.
type typeDesc struct {
	Kind     string        `cbor:"1,keyasint"`
	Name     string        `cbor:"2,keyasint,omitempty"`
	Elem     *typeDesc     `cbor:"3,keyasint,omitempty"`
	Key      *typeDesc     `cbor:"4,keyasint,omitempty"`
	Fields   []fieldDesc   `cbor:"5,keyasint,omitempty"`
	Variants []variantDesc `cbor:"6,keyasint,omitempty"`
}

type fieldDesc struct {
	Name string   `cbor:"1,keyasint"`
	Type typeDesc `cbor:"2,keyasint"`
}

type variantDesc struct {
	Tag  uint16   `cbor:"1,keyasint"`
	Name string   `cbor:"2,keyasint"`
	Type typeDesc `cbor:"3,keyasint"`
}

type defDesc struct {
	Name string   `cbor:"1,keyasint"`
	Type typeDesc `cbor:"2,keyasint"`
}

type schemaDesc struct {
	Version int       `cbor:"1,keyasint"`
	Root    typeDesc  `cbor:"2,keyasint"`
	Defs    []defDesc `cbor:"3,keyasint,omitempty"`
	Batch   bool      `cbor:"4,keyasint,omitempty"`
}

// encMode uses Core Deterministic Encoding so equal descriptions always
// produce identical bytes and therefore identical digests.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("schema: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{MaxNestedLevels: 256}.DecMode()
	if err != nil {
		panic("schema: CBOR decoder initialization failed: " + err.Error())
	}
}

func describe(t *Type, top bool) typeDesc {
	if t.name != "" && !top {
		return typeDesc{Kind: Named.String(), Name: t.name}
	}
	d := typeDesc{Kind: t.kind.String()}
	switch t.kind {
	case Seq, Optional, Ref:
		e := describe(t.elem, false)
		d.Elem = &e
	case Map:
		k, v := describe(t.key, false), describe(t.elem, false)
		d.Key, d.Elem = &k, &v
	case Record:
		d.Fields = make([]fieldDesc, len(t.fields))
		for i, f := range t.fields {
			d.Fields[i] = fieldDesc{Name: f.Name, Type: describe(f.Type, false)}
		}
	case Union:
		d.Variants = make([]variantDesc, len(t.variants))
		for i, v := range t.variants {
			d.Variants[i] = variantDesc{Tag: v.Tag, Name: v.Name, Type: describe(v.Type, false)}
		}
	}
	return d
}

func digestOf(t *Type) [32]byte {
	data, err := encMode.Marshal(describe(t, true))
	if err != nil {
		// typeDesc contains only strings, integers and nested structs.
		panic("schema: describing type: " + err.Error())
	}
	return blake3.Sum256(data)
}

func describeSchema(s *Schema) schemaDesc {
	d := schemaDesc{Version: descVersion, Root: describe(s.root, false)}
	for _, name := range s.names {
		d.Defs = append(d.Defs, defDesc{Name: name, Type: describe(s.defs[name], true)})
	}
	return d
}

func identityOf(s *Schema, batch bool) ([32]byte, error) {
	d := describeSchema(s)
	d.Batch = batch
	data, err := encMode.Marshal(d)
	if err != nil {
		return [32]byte{}, fmt.Errorf("schema: encoding description: %w", err)
	}
	return blake3.Sum256(data), nil
}

// Marshal encodes s as deterministic CBOR. Unmarshal of the result yields a
// schema with the same Identity.
func Marshal(s *Schema) ([]byte, error) {
	data, err := encMode.Marshal(describeSchema(s))
	if err != nil {
		return nil, fmt.Errorf("schema: marshal: %w", err)
	}
	return data, nil
}

// Unmarshal decodes and compiles a schema written by Marshal.
func Unmarshal(data []byte) (*Schema, error) {
	var d schemaDesc
	if err := decMode.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: decoding description: %v", ErrInvalid, err)
	}
	if d.Version != descVersion {
		return nil, fmt.Errorf("%w: unsupported description version %d", ErrInvalid, d.Version)
	}
	root, err := fromDesc(&d.Root)
	if err != nil {
		return nil, err
	}
	defs := make([]Definition, 0, len(d.Defs))
	for i := range d.Defs {
		t, err := fromDesc(&d.Defs[i].Type)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.Defs[i].Name, err)
		}
		defs = append(defs, Define(d.Defs[i].Name, t))
	}
	return New(root, defs...)
}

var errMissingChild = errors.New("missing child type")

func fromDesc(d *typeDesc) (*Type, error) {
	switch d.Kind {
	case "named":
		if d.Name == "" {
			return nil, fmt.Errorf("%w: named type without a name", ErrInvalid)
		}
		return Name(d.Name), nil
	case "seq", "optional", "ref":
		if d.Elem == nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, d.Kind, errMissingChild)
		}
		e, err := fromDesc(d.Elem)
		if err != nil {
			return nil, err
		}
		switch d.Kind {
		case "seq":
			return SeqOf(e), nil
		case "optional":
			return OptionalOf(e), nil
		}
		return RefOf(e), nil
	case "map":
		if d.Key == nil || d.Elem == nil {
			return nil, fmt.Errorf("%w: map: %v", ErrInvalid, errMissingChild)
		}
		k, err := fromDesc(d.Key)
		if err != nil {
			return nil, err
		}
		v, err := fromDesc(d.Elem)
		if err != nil {
			return nil, err
		}
		return MapOf(k, v), nil
	case "record":
		fields := make([]Field, len(d.Fields))
		for i := range d.Fields {
			ft, err := fromDesc(&d.Fields[i].Type)
			if err != nil {
				return nil, err
			}
			fields[i] = F(d.Fields[i].Name, ft)
		}
		return RecordOf(fields...), nil
	case "union":
		variants := make([]Variant, len(d.Variants))
		for i := range d.Variants {
			vt, err := fromDesc(&d.Variants[i].Type)
			if err != nil {
				return nil, err
			}
			variants[i] = V(d.Variants[i].Tag, d.Variants[i].Name, vt)
		}
		return UnionOf(variants...), nil
	}
	if k, ok := kindByName[d.Kind]; ok {
		return Of(k), nil
	}
	return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalid, d.Kind)
}
