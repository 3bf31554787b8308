package archive

import (
	"bytes"
	"cmp"
	"context"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/rawbytedev/zcarchive/internal/common"
	"github.com/rawbytedev/zcarchive/pkg/schema"
)

// Validate certifies that buf is a well-formed archive of s and returns the
// handle views are read through. It is the only way to obtain an *Archive.
func Validate(buf []byte, s *schema.Schema) (*Archive, error) {
	return ValidateWith(buf, s, ValidateOptions{})
}

// ValidateWith is Validate with options.
func ValidateWith(buf []byte, s *schema.Schema, opts ValidateOptions) (*Archive, error) {
	v := NewValidator(buf, s, opts)
	for {
		done, err := v.Step(1 << 30)
		if err != nil {
			return nil, err
		}
		if done {
			return v.Archive(), nil
		}
	}
}

// contextChunk is the number of values validated between context checks.
const contextChunk = 4096

// ValidateContext validates in chunks and gives up with ctx.Err() once ctx
// is done.
func ValidateContext(ctx context.Context, buf []byte, s *schema.Schema, opts ValidateOptions) (*Archive, error) {
	v := NewValidator(buf, s, opts)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		done, err := v.Step(contextChunk)
		if err != nil {
			return nil, err
		}
		if done {
			return v.Archive(), nil
		}
	}
}

type frameKind uint8

const (
	// frameNode checks the inline value of t at pos.
	frameNode frameKind = iota
	// frameElems visits elements i..n of a block one per step.
	frameElems
	// frameOrder checks that the keys of a map block ascend, one pair per
	// step. It sits below the frameElems of the same block so keys are
	// validated before they are compared.
	frameOrder
)

type frame struct {
	kind  frameKind
	pos   int
	t     *schema.Type
	depth int
	n     int
	i     int
}

// seenKey names a scheduled value. Node keys (a Ref target) and block keys
// (the elements behind a header) are kept apart: a block of n values of t
// does not certify the header of type t stored at the same position.
type seenKey struct {
	pos   int
	n     int
	t     *schema.Type
	block bool
}

// Validator walks an untrusted buffer with an explicit stack, so the work
// can be split into steps that each end on a value boundary.
type Validator struct {
	buf      []byte
	s        *schema.Schema
	w        schema.Width
	pw       int
	maxDepth int
	log      zerolog.Logger

	started bool
	header  Header
	root    *schema.Type
	stack   []frame
	seen    map[seenKey]struct{}
	err     error
	archive *Archive
}

// NewValidator prepares a validation of buf against s. No work happens
// until Step is called.
func NewValidator(buf []byte, s *schema.Schema, opts ValidateOptions) *Validator {
	depth := opts.MaxDepth
	if depth <= 0 {
		depth = DefaultMaxDepth
	}
	return &Validator{buf: buf, s: s, maxDepth: depth, log: loggerOrNop(opts.Logger)}
}

// Step processes at most budget values. It returns true once the whole
// archive is certified, after which Archive returns the handle. Errors are
// sticky.
func (v *Validator) Step(budget int) (bool, error) {
	if v.err != nil {
		return false, v.err
	}
	if v.archive != nil {
		return true, nil
	}
	if !v.started {
		v.started = true
		if err := v.start(); err != nil {
			return false, v.reject(err)
		}
	}
	for ; budget > 0 && len(v.stack) > 0; budget-- {
		if err := v.next(); err != nil {
			return false, v.reject(err)
		}
	}
	if len(v.stack) > 0 {
		return false, nil
	}
	v.archive = &Archive{
		buf:    v.buf,
		s:      v.s,
		header: v.header,
		w:      v.w,
		root:   int(v.header.Root),
		t:      v.root,
	}
	v.stack, v.seen = nil, nil
	return true, nil
}

// Archive returns the certified archive, or nil before Step reported done.
func (v *Validator) Archive() *Archive { return v.archive }

func (v *Validator) reject(err error) error {
	v.err = err
	v.stack, v.seen = nil, nil
	if ve, ok := err.(*ValidationError); ok {
		v.log.Debug().Int("offset", ve.Offset).Str("kind", ve.Kind.name).Int("size", len(v.buf)).Msg("archive rejected")
	}
	return err
}

func (v *Validator) start() error {
	h, err := ParseHeader(v.buf)
	if err != nil {
		return err
	}
	v.header = h
	v.w = h.Width()
	v.pw = v.w.Bytes()
	v.root = v.s.Root()
	identity := v.s.Identity()
	if h.IsBatch() {
		v.root = v.s.Batch()
		identity = v.s.BatchIdentity()
	}
	if h.Identity != identity {
		return invalid(offIdentity, SchemaIdentity)
	}
	size := uint64(v.root.Size(v.w))
	if h.Root < HeaderSize || h.Root > uint64(len(v.buf)) || uint64(len(v.buf))-h.Root < size {
		return invalid(offRoot, OutOfBounds)
	}
	if h.Root%uint64(v.root.Align(v.w)) != 0 {
		return invalid(offRoot, Misaligned)
	}
	v.stack = append(v.stack, frame{kind: frameNode, pos: int(h.Root), t: v.root})
	return nil
}

func (v *Validator) push(f frame) { v.stack = append(v.stack, f) }

// markSeen records a value and reports whether it was already scheduled.
func (v *Validator) markSeen(k seenKey) bool {
	if v.seen == nil {
		v.seen = make(map[seenKey]struct{})
	}
	if _, ok := v.seen[k]; ok {
		return true
	}
	v.seen[k] = struct{}{}
	return false
}

func (v *Validator) next() error {
	top := &v.stack[len(v.stack)-1]
	switch top.kind {
	case frameElems:
		if top.i == top.n {
			v.stack = v.stack[:len(v.stack)-1]
			return nil
		}
		pos := top.pos + top.i*top.t.Size(v.w)
		top.i++
		v.push(frame{kind: frameNode, pos: pos, t: top.t, depth: top.depth})
		return nil
	case frameOrder:
		if top.i >= top.n {
			v.stack = v.stack[:len(v.stack)-1]
			return nil
		}
		entry := top.t.Entry()
		stride, key := entry.Size(v.w), entry.Field(0).Offset(v.w)
		prev := top.pos + (top.i-1)*stride
		cur := prev + stride
		if v.compareKeys(prev+key, cur+key, top.t.Key()) >= 0 {
			return invalid(cur, UnorderedKeys)
		}
		top.i++
		return nil
	}
	f := *top
	v.stack = v.stack[:len(v.stack)-1]
	return v.node(f.pos, f.t, f.depth)
}

// node checks the inline value of t at pos. The caller guarantees that
// pos is aligned and that t.Size bytes at pos are in bounds.
func (v *Validator) node(pos int, t *schema.Type, depth int) error {
	buf := v.buf
	switch t.Kind() {
	case schema.Bool:
		if buf[pos] > 1 {
			return invalid(pos, InvalidTag)
		}
	case schema.String, schema.Bytes, schema.Seq, schema.Map:
		return v.block(pos, t, depth)
	case schema.Ref:
		rel := common.Int(buf[pos:], v.pw)
		elem := t.Elem()
		target, ok := v.target(pos, rel, elem.Size(v.w))
		if !ok {
			return invalid(pos, OutOfBounds)
		}
		if target%elem.Align(v.w) != 0 {
			return invalid(pos, Misaligned)
		}
		if v.markSeen(seenKey{pos: target, n: 1, t: elem}) {
			return nil
		}
		if depth+1 > v.maxDepth {
			return invalid(pos, DepthExceeded)
		}
		v.push(frame{kind: frameNode, pos: target, t: elem, depth: depth + 1})
	case schema.Optional:
		switch buf[pos] {
		case 0:
		case 1:
			v.push(frame{kind: frameNode, pos: pos + t.InnerOffset(v.w), t: t.Elem(), depth: depth})
		default:
			return invalid(pos, InvalidTag)
		}
	case schema.Record:
		if t.Plain() {
			return nil
		}
		for i := t.NumFields() - 1; i >= 0; i-- {
			f := t.Field(i)
			if f.Type.Plain() {
				continue
			}
			v.push(frame{kind: frameNode, pos: pos + f.Offset(v.w), t: f.Type, depth: depth})
		}
	case schema.Union:
		tag := uint16(common.Uint(buf[pos:], 2))
		variant, ok := t.VariantByTag(tag)
		if !ok {
			return invalid(pos, InvalidTag)
		}
		if !variant.Type.Plain() {
			v.push(frame{kind: frameNode, pos: pos + t.InnerOffset(v.w), t: variant.Type, depth: depth})
		}
	}
	return nil
}

// target resolves a backward pointer at pos whose block spans size bytes.
// The block must lie in the data region and end at or before pos.
func (v *Validator) target(pos int, rel int64, size int) (int, bool) {
	if rel > 0 || rel < -int64(pos-HeaderSize) {
		return 0, false
	}
	target := pos + int(rel)
	if size > pos-target {
		return 0, false
	}
	return target, true
}

// block checks a {rel, len} header and schedules its block.
func (v *Validator) block(pos int, t *schema.Type, depth int) error {
	buf := v.buf
	n64 := common.Uint(buf[pos+v.pw:], v.pw)
	if n64 == 0 {
		return nil
	}
	rel := common.Int(buf[pos:], v.pw)
	var elem *schema.Type
	stride, align := 1, 1
	switch t.Kind() {
	case schema.Seq:
		elem = t.Elem()
	case schema.Map:
		elem = t.Entry()
	}
	if elem != nil {
		stride, align = elem.Size(v.w), elem.Align(v.w)
	}
	target, ok := v.target(pos, rel, 0)
	if !ok {
		return invalid(pos, OutOfBounds)
	}
	room := uint64(pos - target)
	if stride > 0 && n64 > room/uint64(stride) {
		return invalid(pos+v.pw, LengthOverflow)
	}
	if stride == 0 && n64 > uint64(len(buf)) {
		// Zero-sized elements occupy no bytes; bound the count by the
		// buffer so it always fits an int.
		return invalid(pos+v.pw, LengthOverflow)
	}
	n := int(n64)
	if target%align != 0 {
		return invalid(pos, Misaligned)
	}
	switch t.Kind() {
	case schema.Bytes:
		return nil
	case schema.String:
		if v.markSeen(seenKey{pos: target, n: n, t: t, block: true}) {
			return nil
		}
		if !utf8.Valid(buf[target : target+n]) {
			return invalid(target, InvalidUTF8)
		}
		return nil
	}
	if depth+1 > v.maxDepth {
		return invalid(pos, DepthExceeded)
	}
	if t.Kind() == schema.Map {
		if v.markSeen(seenKey{pos: target, n: n, t: t, block: true}) {
			return nil
		}
		if n > 1 {
			v.push(frame{kind: frameOrder, pos: target, t: t, n: n, i: 1})
		}
		if !elem.Plain() {
			v.push(frame{kind: frameElems, pos: target, t: elem, n: n, depth: depth + 1})
		}
		return nil
	}
	if elem.Plain() || v.markSeen(seenKey{pos: target, n: n, t: t, block: true}) {
		return nil
	}
	v.push(frame{kind: frameElems, pos: target, t: elem, n: n, depth: depth + 1})
	return nil
}

// compareKeys compares the keys of two validated map entries.
func (v *Validator) compareKeys(a, b int, key *schema.Type) int {
	return compareArchivedKeys(v.buf, v.pw, a, b, key)
}

func compareArchivedKeys(buf []byte, pw int, a, b int, key *schema.Type) int {
	k := key.Kind()
	switch {
	case k == schema.String || k == schema.Bytes:
		return bytes.Compare(payloadAt(buf, pw, a), payloadAt(buf, pw, b))
	case k.IsSigned():
		size := key.Size(schema.Width32)
		x, y := common.Int(buf[a:], size), common.Int(buf[b:], size)
		return cmp.Compare(x, y)
	default:
		size := key.Size(schema.Width32)
		x, y := common.Uint(buf[a:], size), common.Uint(buf[b:], size)
		return cmp.Compare(x, y)
	}
}

// payloadAt returns the bytes a validated String or Bytes header at pos
// refers to.
func payloadAt(buf []byte, pw int, pos int) []byte {
	n := int(common.Uint(buf[pos+pw:], pw))
	if n == 0 {
		return nil
	}
	target := pos + int(common.Int(buf[pos:], pw))
	return buf[target : target+n : target+n]
}
