package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rawbytedev/zcarchive/internal/common"
)

// Schema is an immutable, compiled set of types with a distinguished root.
// It is safe for concurrent use and is meant to be built once and shared
// across many builds and validations.
type Schema struct {
	root     *Type
	defs     map[string]*Type
	names    []string
	identity [32]byte

	batch         *Type
	batchIdentity [32]byte
}

// Root returns the document type.
func (s *Schema) Root() *Type { return s.root }

// Lookup returns the compiled definition called name.
func (s *Schema) Lookup(name string) (*Type, bool) {
	t, ok := s.defs[name]
	return t, ok
}

// Names returns the definition names in sorted order.
func (s *Schema) Names() []string {
	return append([]string(nil), s.names...)
}

// Identity returns the BLAKE3 digest stamped into archive headers.
func (s *Schema) Identity() [32]byte { return s.identity }

// Batch returns Seq(Ref(root)), the root type of batch archives.
func (s *Schema) Batch() *Type { return s.batch }

// BatchIdentity returns the identity stamped into batch archive headers.
func (s *Schema) BatchIdentity() [32]byte { return s.batchIdentity }

// MustNew is like New but panics on error. Intended for package-level
// schema variables.
func MustNew(root *Type, defs ...Definition) *Schema {
	s, err := New(root, defs...)
	if err != nil {
		panic(err)
	}
	return s
}

// New compiles root and defs into a Schema. The construction trees are not
// modified; the result shares no nodes with them.
func New(root *Type, defs ...Definition) (*Schema, error) {
	c := &compiler{
		src: make(map[string]*Type, len(defs)),
		out: make(map[string]*Type, len(defs)),
	}
	for _, d := range defs {
		if d.Name == "" {
			return nil, fmt.Errorf("%w: definition without a name", ErrInvalid)
		}
		if d.Type == nil {
			return nil, fmt.Errorf("%w: definition %q has no type", ErrInvalid, d.Name)
		}
		if _, dup := c.src[d.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate definition %q", ErrInvalid, d.Name)
		}
		c.src[d.Name] = d.Type
	}
	r, err := c.compile(root, "root")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(c.src))
	for name := range c.src {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := c.compile(Name(name), name); err != nil {
			return nil, err
		}
	}
	if err := c.checkKeys(); err != nil {
		return nil, err
	}
	if err := c.checkCycles(); err != nil {
		return nil, err
	}
	batch := &Type{kind: Seq, elem: &Type{kind: Ref, elem: r}}
	c.all = append(c.all, batch, batch.elem)
	c.finish()

	s := &Schema{root: r, defs: c.out, names: names, batch: batch}
	s.identity, err = identityOf(s, false)
	if err != nil {
		return nil, err
	}
	s.batchIdentity, err = identityOf(s, true)
	if err != nil {
		return nil, err
	}
	return s, nil
}

type compiler struct {
	src map[string]*Type
	out map[string]*Type
	all []*Type
}

func (c *compiler) compile(n *Type, path string) (*Type, error) {
	if n == nil {
		return nil, fmt.Errorf("%w: %s: nil type", ErrInvalid, path)
	}
	if n.kind != Named {
		t := &Type{}
		c.all = append(c.all, t)
		return t, c.fill(t, n, path)
	}
	if t, ok := c.out[n.name]; ok {
		return t, nil
	}
	// Follow alias chains (A = B, B = record{...}) to the first concrete body.
	body, seen := n, map[string]bool{}
	for body.kind == Named {
		if seen[body.name] {
			return nil, fmt.Errorf("%w: alias loop through %q", ErrCyclic, body.name)
		}
		seen[body.name] = true
		next, ok := c.src[body.name]
		if !ok {
			return nil, fmt.Errorf("%w: %s: undefined type %q", ErrInvalid, path, body.name)
		}
		if next == nil {
			return nil, fmt.Errorf("%w: %s: definition %q has no type", ErrInvalid, path, body.name)
		}
		body = next
	}
	t := &Type{name: n.name}
	c.out[n.name] = t
	c.all = append(c.all, t)
	return t, c.fill(t, body, n.name)
}

func (c *compiler) fill(t *Type, n *Type, path string) error {
	t.kind = n.kind
	var err error
	switch n.kind {
	case Unit, Bool, Int8, Int16, Int32, Int64, Uint8, Uint16, Uint32, Uint64,
		Float32, Float64, String, Bytes:
	case Seq, Optional, Ref:
		t.elem, err = c.compile(n.elem, path+"."+n.kind.String())
	case Map:
		if t.key, err = c.compile(n.key, path+".key"); err != nil {
			return err
		}
		t.elem, err = c.compile(n.elem, path+".value")
	case Record:
		t.fields = make([]Field, len(n.fields))
		t.byName = make(map[string]int, len(n.fields))
		for i, f := range n.fields {
			if f.Name == "" {
				return fmt.Errorf("%w: %s: field %d has no name", ErrInvalid, path, i)
			}
			if _, dup := t.byName[f.Name]; dup {
				return fmt.Errorf("%w: %s: duplicate field %q", ErrInvalid, path, f.Name)
			}
			t.byName[f.Name] = i
			ft, err := c.compile(f.Type, path+"."+f.Name)
			if err != nil {
				return err
			}
			t.fields[i] = Field{Name: f.Name, Type: ft}
		}
	case Union:
		if len(n.variants) == 0 {
			return fmt.Errorf("%w: %s: union without variants", ErrInvalid, path)
		}
		t.variants = make([]Variant, len(n.variants))
		t.byName = make(map[string]int, len(n.variants))
		t.byTag = make(map[uint16]int, len(n.variants))
		for i, v := range n.variants {
			if v.Name == "" {
				return fmt.Errorf("%w: %s: variant %d has no name", ErrInvalid, path, v.Tag)
			}
			if _, dup := t.byName[v.Name]; dup {
				return fmt.Errorf("%w: %s: duplicate variant %q", ErrInvalid, path, v.Name)
			}
			if _, dup := t.byTag[v.Tag]; dup {
				return fmt.Errorf("%w: %s: duplicate tag %d", ErrInvalid, path, v.Tag)
			}
			t.byName[v.Name] = i
			t.byTag[v.Tag] = i
			vt, err := c.compile(v.Type, path+"."+v.Name)
			if err != nil {
				return err
			}
			t.variants[i] = Variant{Tag: v.Tag, Name: v.Name, Type: vt}
		}
	default:
		return fmt.Errorf("%w: %s: unknown kind %s", ErrInvalid, path, n.kind)
	}
	return err
}

func (c *compiler) checkKeys() error {
	for _, t := range c.all {
		if t.kind != Map {
			continue
		}
		k := t.key.kind
		if k == Bool || k.IsSigned() || k.IsUnsigned() || k == String || k == Bytes {
			continue
		}
		return fmt.Errorf("%w: map key must be bool, integer, string or bytes, got %s", ErrInvalid, t.key)
	}
	return nil
}

// inlineEdges returns the children a cycle may not pass through. Only Ref
// breaks a cycle, so Seq and Map elements count as edges too.
func inlineEdges(t *Type) []*Type {
	switch t.kind {
	case Seq, Optional:
		return []*Type{t.elem}
	case Map:
		return []*Type{t.key, t.elem}
	case Record:
		out := make([]*Type, len(t.fields))
		for i, f := range t.fields {
			out[i] = f.Type
		}
		return out
	case Union:
		out := make([]*Type, len(t.variants))
		for i, v := range t.variants {
			out[i] = v.Type
		}
		return out
	}
	return nil
}

func (c *compiler) checkCycles() error {
	const (
		white = iota
		grey
		black
	)
	color := make(map[*Type]int, len(c.all))
	var stack []*Type
	var visit func(t *Type) error
	visit = func(t *Type) error {
		switch color[t] {
		case grey:
			return fmt.Errorf("%w: %s", ErrCyclic, cyclePath(stack, t))
		case black:
			return nil
		}
		color[t] = grey
		stack = append(stack, t)
		for _, e := range inlineEdges(t) {
			if err := visit(e); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		color[t] = black
		return nil
	}
	for _, t := range c.all {
		if err := visit(t); err != nil {
			return err
		}
	}
	return nil
}

func cyclePath(stack []*Type, back *Type) string {
	start := 0
	for i, t := range stack {
		if t == back {
			start = i
			break
		}
	}
	parts := make([]string, 0, len(stack)-start+1)
	for _, t := range stack[start:] {
		parts = append(parts, t.String())
	}
	parts = append(parts, back.String())
	return strings.Join(parts, " -> ")
}

// finish computes layouts, plain flags, map entries and digests. Inline
// edges are acyclic at this point so the recursion terminates.
func (c *compiler) finish() {
	done := make(map[*Type]bool, len(c.all))
	var lay func(t *Type)
	lay = func(t *Type) {
		if done[t] {
			return
		}
		done[t] = true
		for _, e := range inlineEdges(t) {
			lay(e)
		}
		if t.kind == Map {
			t.entry = &Type{kind: Record, fields: []Field{{Name: "key", Type: t.key}, {Name: "value", Type: t.elem}}}
			t.entry.byName = map[string]int{"key": 0, "value": 1}
			lay(t.entry)
		}
		for w := Width(0); w < numWidths; w++ {
			t.layouts[w] = computeLayout(t, w)
		}
		t.plain = computePlain(t)
		t.compiled = true
	}
	for _, t := range c.all {
		lay(t)
	}
	for _, t := range c.all {
		t.digest = digestOf(t)
		if t.entry != nil {
			t.entry.digest = digestOf(t.entry)
		}
	}
}

func computeLayout(t *Type, w Width) layout {
	pw := w.Bytes()
	switch t.kind {
	case Unit:
		return layout{size: 0, align: 1}
	case String, Bytes, Seq, Map:
		return layout{size: 2 * pw, align: pw}
	case Ref:
		return layout{size: pw, align: pw}
	case Optional:
		ea := t.elem.layouts[w].align
		inner := common.Align(1, ea)
		align := max(1, ea)
		return layout{size: common.Align(inner+t.elem.layouts[w].size, align), align: align, inner: inner}
	case Record:
		off, align := 0, 1
		for i := range t.fields {
			fl := t.fields[i].Type.layouts[w]
			off = common.Align(off, fl.align)
			t.fields[i].offsets[w] = off
			off += fl.size
			align = max(align, fl.align)
		}
		return layout{size: common.Align(off, align), align: align}
	case Union:
		size, align := 0, 2
		for _, v := range t.variants {
			vl := v.Type.layouts[w]
			size = max(size, vl.size)
			align = max(align, vl.align)
		}
		inner := common.Align(2, align)
		return layout{size: common.Align(inner+size, align), align: align, inner: inner}
	}
	n := scalarSize(t.kind)
	return layout{size: n, align: n}
}

func computePlain(t *Type) bool {
	switch t.kind {
	case Unit, Int8, Int16, Int32, Int64, Uint8, Uint16, Uint32, Uint64, Float32, Float64:
		return true
	case Record:
		for _, f := range t.fields {
			if !f.Type.plain {
				return false
			}
		}
		return true
	}
	return false
}
