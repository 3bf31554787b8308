package schema

import (
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ParseYAML compiles a schema from a YAML document of the form
//
//	root: Person
//	types:
//	  Person:
//	    record:
//	      - {name: name, type: string}
//	      - {name: tags, type: {seq: string}}
//	      - {name: friend, type: {optional: {ref: Person}}}
//	  Shape:
//	    union:
//	      - {tag: 0, name: circle, type: float64}
//	      - {tag: 1, name: square, type: {record: [{name: side, type: float64}]}}
//
// A type expression is either a scalar name (unit, bool, int8 ... float64,
// string, bytes), the name of an entry under types, or a single-key mapping
// with one of the keys seq, map, record, optional, ref or union.
func ParseYAML(data []byte) (*Schema, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 {
		return nil, fmt.Errorf("%w: empty schema document", ErrInvalid)
	}
	top := doc.Content[0]
	if top.Kind != yaml.MappingNode {
		return nil, yamlErr(top, "schema document must be a mapping")
	}
	var (
		root *Type
		defs []Definition
	)
	for i := 0; i+1 < len(top.Content); i += 2 {
		k, v := top.Content[i], top.Content[i+1]
		switch k.Value {
		case "root":
			t, err := yamlType(v)
			if err != nil {
				return nil, err
			}
			root = t
		case "types":
			if v.Kind != yaml.MappingNode {
				return nil, yamlErr(v, "types must be a mapping")
			}
			for j := 0; j+1 < len(v.Content); j += 2 {
				t, err := yamlType(v.Content[j+1])
				if err != nil {
					return nil, err
				}
				defs = append(defs, Define(v.Content[j].Value, t))
			}
		default:
			return nil, yamlErr(k, "unknown key %q", k.Value)
		}
	}
	if root == nil {
		return nil, fmt.Errorf("%w: missing root", ErrInvalid)
	}
	return New(root, defs...)
}

func yamlErr(n *yaml.Node, format string, args ...any) error {
	return fmt.Errorf("%w: line %d: %s", ErrInvalid, n.Line, fmt.Sprintf(format, args...))
}

func yamlType(n *yaml.Node) (*Type, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		if k, ok := kindByName[n.Value]; ok {
			return Of(k), nil
		}
		if n.Value == "" {
			return nil, yamlErr(n, "empty type name")
		}
		return Name(n.Value), nil
	case yaml.MappingNode:
	default:
		return nil, yamlErr(n, "type must be a name or a mapping")
	}
	if len(n.Content) != 2 {
		return nil, yamlErr(n, "type mapping must have exactly one key")
	}
	key, body := n.Content[0], n.Content[1]
	switch key.Value {
	case "seq", "optional", "ref":
		e, err := yamlType(body)
		if err != nil {
			return nil, err
		}
		switch key.Value {
		case "seq":
			return SeqOf(e), nil
		case "optional":
			return OptionalOf(e), nil
		}
		return RefOf(e), nil
	case "map":
		attrs, err := yamlAttrs(body)
		if err != nil {
			return nil, err
		}
		if attrs["key"] == nil || attrs["value"] == nil {
			return nil, yamlErr(body, "map needs key and value")
		}
		k, err := yamlType(attrs["key"])
		if err != nil {
			return nil, err
		}
		v, err := yamlType(attrs["value"])
		if err != nil {
			return nil, err
		}
		return MapOf(k, v), nil
	case "record":
		if body.Kind != yaml.SequenceNode {
			return nil, yamlErr(body, "record must list its fields")
		}
		fields := make([]Field, 0, len(body.Content))
		for _, item := range body.Content {
			attrs, err := yamlAttrs(item)
			if err != nil {
				return nil, err
			}
			if attrs["name"] == nil || attrs["type"] == nil {
				return nil, yamlErr(item, "field needs name and type")
			}
			t, err := yamlType(attrs["type"])
			if err != nil {
				return nil, err
			}
			fields = append(fields, F(attrs["name"].Value, t))
		}
		return RecordOf(fields...), nil
	case "union":
		if body.Kind != yaml.SequenceNode {
			return nil, yamlErr(body, "union must list its variants")
		}
		variants := make([]Variant, 0, len(body.Content))
		for _, item := range body.Content {
			attrs, err := yamlAttrs(item)
			if err != nil {
				return nil, err
			}
			if attrs["tag"] == nil || attrs["name"] == nil || attrs["type"] == nil {
				return nil, yamlErr(item, "variant needs tag, name and type")
			}
			tag, err := strconv.ParseUint(attrs["tag"].Value, 10, 16)
			if err != nil {
				return nil, yamlErr(attrs["tag"], "bad tag %q", attrs["tag"].Value)
			}
			t, err := yamlType(attrs["type"])
			if err != nil {
				return nil, err
			}
			variants = append(variants, V(uint16(tag), attrs["name"].Value, t))
		}
		return UnionOf(variants...), nil
	}
	return nil, yamlErr(key, "unknown type constructor %q", key.Value)
}

func yamlAttrs(n *yaml.Node) (map[string]*yaml.Node, error) {
	if n.Kind != yaml.MappingNode {
		return nil, yamlErr(n, "expected a mapping")
	}
	out := make(map[string]*yaml.Node, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		out[n.Content[i].Value] = n.Content[i+1]
	}
	return out, nil
}
