package archive

import (
	"bytes"
	"cmp"
	"fmt"
	"math"
	"slices"
	"strconv"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/rawbytedev/zcarchive/internal/common"
	"github.com/rawbytedev/zcarchive/pkg/document"
	"github.com/rawbytedev/zcarchive/pkg/resolver"
	"github.com/rawbytedev/zcarchive/pkg/schema"
)

// Stats summarizes a build session.
type Stats struct {
	Documents   int
	Bytes       int
	Patches     int
	DedupHits   int
	DedupMisses int
}

// Builder serializes documents into one archive buffer. Children are
// written before their parents so every pointer refers to bytes that
// already exist. A Builder is not safe for concurrent use.
//
// The first error poisons the session: every later call returns it and no
// buffer is ever produced.
type Builder struct {
	s    *schema.Schema
	w    schema.Width
	pw   int
	opts Options
	log  zerolog.Logger

	buf     []byte
	patches patchList

	res    *resolver.Resolver
	hasher *resolver.Hasher

	docs    []int
	docSums map[int]resolver.Sum

	err  error
	done bool
}

// slot is the prepared inline form of one value: everything out of line
// has been written, only the fixed-size bytes remain to be placed.
type slot struct {
	num     uint64
	target  int
	length  int
	tag     uint16
	present bool
	kids    []slot
	sum     resolver.Sum
}

// NewBuilder starts a build session for documents of s.
func NewBuilder(s *schema.Schema, opts Options) *Builder {
	b := &Builder{
		s:       s,
		w:       opts.Width,
		pw:      opts.Width.Bytes(),
		opts:    opts,
		log:     loggerOrNop(opts.Logger),
		docSums: make(map[int]resolver.Sum),
	}
	if !opts.Width.Valid() {
		b.err = fmt.Errorf("archive: unknown offset width %d", opts.Width)
	}
	b.buf = make([]byte, HeaderSize, max(HeaderSize, opts.InitialCapacity))
	b.patches.width = b.pw
	if opts.Dedup != DedupOff {
		b.res = resolver.New()
		b.hasher = resolver.NewHasher()
	}
	return b
}

// Write appends one document and returns its position. The last document
// written becomes the root of the archive.
func (b *Builder) Write(v document.Value) (int, error) {
	if b.done {
		return 0, ErrFinalized
	}
	if b.err != nil {
		return 0, b.err
	}
	if b.opts.Dedup == DedupDocument {
		b.res.Reset()
	}
	root := b.s.Root()
	sl, err := b.prepare(v, root)
	if err == nil {
		var pos int
		pos, err = b.placeBlock(sl, root)
		if err == nil {
			b.docs = append(b.docs, pos)
			b.docSums[pos] = sl.sum
			return pos, nil
		}
	}
	b.err = within(err, "$")
	b.buf = nil
	b.log.Debug().Err(b.err).Msg("archive build aborted")
	return 0, b.err
}

// Finalize resolves all pending pointers, writes the header and returns
// the buffer and the root position.
func (b *Builder) Finalize() ([]byte, int, error) {
	if err := b.check(); err != nil {
		return nil, 0, err
	}
	return b.finish(b.docs[len(b.docs)-1], b.s.Identity(), false)
}

// FinalizeBatch appends Seq(Ref(document)) over every document written and
// makes it the root, so all of them are reachable from the header.
func (b *Builder) FinalizeBatch() ([]byte, int, error) {
	if err := b.check(); err != nil {
		return nil, 0, err
	}
	if err := b.checkLen(len(b.docs)); err != nil {
		return nil, 0, b.fail(err)
	}
	seq := slot{length: len(b.docs), kids: make([]slot, len(b.docs))}
	for i, pos := range b.docs {
		seq.kids[i] = slot{target: pos}
	}
	seq.target = b.alignedGrow(b.pw, len(b.docs)*b.pw)
	ref := b.s.Batch().Elem()
	for i := range seq.kids {
		if err := b.place(seq.kids[i], ref, seq.target+i*b.pw); err != nil {
			return nil, 0, b.fail(err)
		}
	}
	root, err := b.placeBlock(seq, b.s.Batch())
	if err != nil {
		return nil, 0, b.fail(err)
	}
	return b.finish(root, b.s.BatchIdentity(), true)
}

// Stats reports the session so far.
func (b *Builder) Stats() Stats {
	st := Stats{Documents: len(b.docs), Bytes: len(b.buf), Patches: b.patches.len()}
	if b.res != nil {
		rs := b.res.Stats()
		st.DedupHits, st.DedupMisses = rs.Hits, rs.Misses
	}
	return st
}

func (b *Builder) check() error {
	if b.done {
		return ErrFinalized
	}
	if b.err != nil {
		return b.err
	}
	if len(b.docs) == 0 {
		return ErrEmpty
	}
	return nil
}

func (b *Builder) fail(err error) error {
	b.err = within(err, "$")
	b.buf = nil
	return b.err
}

func (b *Builder) finish(root int, identity [32]byte, batch bool) ([]byte, int, error) {
	if err := b.patches.apply(b.buf); err != nil {
		return nil, 0, b.fail(err)
	}
	encodeHeader(b.buf, Header{
		Version:  FormatVersion,
		Flags:    headerFlags(b.w, batch),
		Identity: identity,
		Root:     uint64(root),
	})
	st := b.Stats()
	b.log.Debug().
		Int("documents", st.Documents).
		Int("bytes", st.Bytes).
		Int("patches", st.Patches).
		Int("dedup_hits", st.DedupHits).
		Str("width", b.w.String()).
		Bool("batch", batch).
		Msg("archive finalized")
	out := b.buf
	b.buf = nil
	b.done = true
	return out, root, nil
}

// alignedGrow pads the buffer to align, appends n zero bytes and returns
// where they start.
func (b *Builder) alignedGrow(align, n int) int {
	b.buf = common.Pad(b.buf, align)
	at := len(b.buf)
	b.buf = common.Grow(b.buf, n)
	return at
}

// placeBlock writes the inline form of a prepared value as a new block.
func (b *Builder) placeBlock(sl slot, t *schema.Type) (int, error) {
	at := b.alignedGrow(t.Align(b.w), t.Size(b.w))
	return at, b.place(sl, t, at)
}

// lookup returns the position of an earlier block with the same sum.
func (b *Builder) lookup(sum resolver.Sum) (int, bool) {
	if b.res == nil {
		return 0, false
	}
	return b.res.Intern(sum)
}

func (b *Builder) remember(sum resolver.Sum, pos int) {
	if b.res != nil {
		b.res.Record(sum, pos)
	}
}

func (b *Builder) checkLen(n int) error {
	if uint64(n) > common.MaxUint(b.pw) {
		return overflow("length %d does not fit %d bytes", n, b.pw)
	}
	return nil
}

// prepare writes every out-of-line block v needs and returns its slot.
func (b *Builder) prepare(v document.Value, t *schema.Type) (slot, error) {
	k := t.Kind()
	var sl slot
	switch {
	case k == schema.Unit:
		if v.Kind() != document.KindNull {
			return sl, mismatch("want unit, got %s", v.Kind())
		}
	case k == schema.Bool:
		if v.Kind() != document.KindBool {
			return sl, mismatch("want bool, got %s", v.Kind())
		}
		if v.Bool() {
			sl.num = 1
		}
	case k.IsSigned():
		x, ok := signedOf(v)
		if !ok || !common.FitsInt(x, t.Size(b.w)) {
			return sl, mismatch("%s does not fit %s", v, k)
		}
		sl.num = uint64(x)
	case k.IsUnsigned():
		x, ok := unsignedOf(v)
		if !ok || x > common.MaxUint(t.Size(b.w)) {
			return sl, mismatch("%s does not fit %s", v, k)
		}
		sl.num = x
	case k.IsFloat():
		f, ok := floatOf(v)
		if !ok {
			return sl, mismatch("want float, got %s", v.Kind())
		}
		if k == schema.Float32 {
			sl.num = uint64(math.Float32bits(float32(f)))
		} else {
			sl.num = math.Float64bits(f)
		}
	case k == schema.String:
		if v.Kind() != document.KindString {
			return sl, mismatch("want string, got %s", v.Kind())
		}
		if !utf8.ValidString(v.Str()) {
			return sl, mismatch("string is not valid utf-8")
		}
		return b.payload(t, []byte(v.Str()))
	case k == schema.Bytes:
		if v.Kind() != document.KindBytes {
			return sl, mismatch("want bytes, got %s", v.Kind())
		}
		return b.payload(t, v.Bytes())
	case k == schema.Seq:
		if v.Kind() != document.KindSeq {
			return sl, mismatch("want seq, got %s", v.Kind())
		}
		return b.seq(v.Items(), t)
	case k == schema.Map:
		if v.Kind() != document.KindMap {
			return sl, mismatch("want map, got %s", v.Kind())
		}
		return b.mapping(v.Entries(), t)
	case k == schema.Record:
		if v.Kind() != document.KindRecord {
			return sl, mismatch("want record, got %s", v.Kind())
		}
		fields := v.Fields()
		if len(fields) != t.NumFields() {
			return sl, mismatch("want %d fields, got %d", t.NumFields(), len(fields))
		}
		sl.kids = make([]slot, len(fields))
		for i, f := range fields {
			tf := t.Field(i)
			if f.Name != tf.Name {
				return sl, mismatch("field %d is %q, want %q", i, f.Name, tf.Name)
			}
			kid, err := b.prepare(f.Value, tf.Type)
			if err != nil {
				return sl, within(err, "."+tf.Name)
			}
			sl.kids[i] = kid
		}
	case k == schema.Optional:
		if v.Kind() != document.KindOptional {
			return sl, mismatch("want optional, got %s", v.Kind())
		}
		if v.IsSome() {
			kid, err := b.prepare(v.Elem(), t.Elem())
			if err != nil {
				return sl, within(err, "?")
			}
			sl.present = true
			sl.kids = []slot{kid}
		}
	case k == schema.Union:
		if v.Kind() != document.KindVariant {
			return sl, mismatch("want variant, got %s", v.Kind())
		}
		variant, ok := t.VariantByName(v.VariantName())
		if !ok {
			return sl, mismatch("unknown variant %q of %s", v.VariantName(), t)
		}
		kid, err := b.prepare(v.Elem(), variant.Type)
		if err != nil {
			return sl, within(err, "<"+variant.Name+">")
		}
		sl.tag = variant.Tag
		sl.kids = []slot{kid}
	case k == schema.Ref:
		return b.ref(v, t)
	default:
		return sl, mismatch("unsupported type %s", t)
	}
	if b.hasher != nil {
		sl.sum = b.sumOf(sl, t)
	}
	return sl, nil
}

// sumOf hashes a slot whose children already carry their sums.
func (b *Builder) sumOf(sl slot, t *schema.Type) resolver.Sum {
	h := b.hasher
	h.Begin(t.Digest())
	switch t.Kind() {
	case schema.Optional:
		if !sl.present {
			h.WriteUint64(0)
			break
		}
		h.WriteUint64(1)
		h.WriteSum(sl.kids[0].sum)
	case schema.Union:
		h.WriteUint64(uint64(sl.tag))
		h.WriteSum(sl.kids[0].sum)
	case schema.Record:
		for _, kid := range sl.kids {
			h.WriteSum(kid.sum)
		}
	default:
		h.WriteUint64(sl.num)
	}
	return h.Sum()
}

func (b *Builder) payload(t *schema.Type, data []byte) (slot, error) {
	sl := slot{length: len(data)}
	if len(data) == 0 {
		return sl, nil
	}
	if err := b.checkLen(len(data)); err != nil {
		return sl, err
	}
	if b.hasher != nil {
		b.hasher.Begin(t.Digest())
		b.hasher.WriteBytes(data)
		sl.sum = b.hasher.Sum()
		if pos, ok := b.lookup(sl.sum); ok {
			sl.target = pos
			return sl, nil
		}
	}
	sl.target = len(b.buf)
	b.buf = append(b.buf, data...)
	b.remember(sl.sum, sl.target)
	return sl, nil
}

func (b *Builder) seq(items []document.Value, t *schema.Type) (slot, error) {
	sl := slot{length: len(items)}
	if err := b.checkLen(len(items)); err != nil {
		return sl, err
	}
	elem := t.Elem()
	sl.kids = make([]slot, len(items))
	for i, it := range items {
		kid, err := b.prepare(it, elem)
		if err != nil {
			return sl, within(err, "["+strconv.Itoa(i)+"]")
		}
		sl.kids[i] = kid
	}
	if b.hasher != nil {
		b.hasher.Begin(t.Digest())
		b.hasher.WriteUint64(uint64(len(items)))
		for _, kid := range sl.kids {
			b.hasher.WriteSum(kid.sum)
		}
		sl.sum = b.hasher.Sum()
	}
	if len(items) == 0 {
		sl.kids = nil
		return sl, nil
	}
	if pos, ok := b.lookup(sl.sum); ok {
		sl.target = pos
		sl.kids = nil
		return sl, nil
	}
	stride := elem.Size(b.w)
	sl.target = b.alignedGrow(elem.Align(b.w), len(items)*stride)
	for i, kid := range sl.kids {
		if err := b.place(kid, elem, sl.target+i*stride); err != nil {
			return sl, within(err, "["+strconv.Itoa(i)+"]")
		}
	}
	sl.kids = nil
	b.remember(sl.sum, sl.target)
	return sl, nil
}

func (b *Builder) mapping(entries []document.Entry, t *schema.Type) (slot, error) {
	sl := slot{length: len(entries)}
	if err := b.checkLen(len(entries)); err != nil {
		return sl, err
	}
	for _, e := range entries {
		if err := b.checkKey(e.Key, t.Key()); err != nil {
			return sl, within(err, "["+e.Key.String()+"]")
		}
	}
	keyKind := t.Key().Kind()
	sorted := slices.Clone(entries)
	slices.SortStableFunc(sorted, func(x, y document.Entry) int {
		return compareKeys(x.Key, y.Key, keyKind)
	})
	for i := 1; i < len(sorted); i++ {
		if compareKeys(sorted[i-1].Key, sorted[i].Key, keyKind) == 0 {
			return sl, mismatch("duplicate map key %s", sorted[i].Key)
		}
	}
	entry := t.Entry()
	sl.kids = make([]slot, len(sorted))
	for i, e := range sorted {
		seg := "[" + e.Key.String() + "]"
		k, err := b.prepare(e.Key, t.Key())
		if err != nil {
			return sl, within(err, seg)
		}
		v, err := b.prepare(e.Value, t.Elem())
		if err != nil {
			return sl, within(err, seg)
		}
		sl.kids[i] = slot{kids: []slot{k, v}}
		if b.hasher != nil {
			sl.kids[i].sum = b.sumOf(sl.kids[i], entry)
		}
	}
	if b.hasher != nil {
		b.hasher.Begin(t.Digest())
		b.hasher.WriteUint64(uint64(len(sorted)))
		for _, kid := range sl.kids {
			b.hasher.WriteSum(kid.sum)
		}
		sl.sum = b.hasher.Sum()
	}
	if len(sorted) == 0 {
		sl.kids = nil
		return sl, nil
	}
	if pos, ok := b.lookup(sl.sum); ok {
		sl.target = pos
		sl.kids = nil
		return sl, nil
	}
	stride := entry.Size(b.w)
	sl.target = b.alignedGrow(entry.Align(b.w), len(sorted)*stride)
	for i, kid := range sl.kids {
		if err := b.place(kid, entry, sl.target+i*stride); err != nil {
			return sl, err
		}
	}
	sl.kids = nil
	b.remember(sl.sum, sl.target)
	return sl, nil
}

func (b *Builder) ref(v document.Value, t *schema.Type) (slot, error) {
	var sl slot
	if v.Kind() == document.KindPos {
		pos := v.Pos()
		docSum, ok := b.docSums[pos]
		if !ok {
			return sl, mismatch("position %d is not an earlier document", pos)
		}
		if t.Elem() != b.s.Root() {
			return sl, mismatch("position %d refers to a document, slot wants %s", pos, t.Elem())
		}
		sl.target = pos
		if b.hasher != nil {
			b.hasher.Begin(t.Digest())
			b.hasher.WriteSum(docSum)
			sl.sum = b.hasher.Sum()
		}
		return sl, nil
	}
	kid, err := b.prepare(v, t.Elem())
	if err != nil {
		return sl, within(err, "*")
	}
	if b.hasher != nil {
		b.hasher.Begin(t.Digest())
		b.hasher.WriteSum(kid.sum)
		sl.sum = b.hasher.Sum()
		if pos, ok := b.lookup(sl.sum); ok {
			sl.target = pos
			return sl, nil
		}
	}
	sl.target, err = b.placeBlock(kid, t.Elem())
	if err != nil {
		return sl, within(err, "*")
	}
	b.remember(sl.sum, sl.target)
	return sl, nil
}

// place writes the inline bytes of sl at buf[at:]. The bytes are already
// zero, so absent optionals and empty headers need no writes.
func (b *Builder) place(sl slot, t *schema.Type, at int) error {
	switch t.Kind() {
	case schema.Unit:
	case schema.String, schema.Bytes, schema.Seq, schema.Map:
		if sl.length == 0 {
			return nil
		}
		if err := b.patches.add(at, sl.target); err != nil {
			return err
		}
		common.PutUint(b.buf[at+b.pw:], b.pw, uint64(sl.length))
	case schema.Ref:
		return b.patches.add(at, sl.target)
	case schema.Optional:
		if !sl.present {
			return nil
		}
		b.buf[at] = 1
		return b.place(sl.kids[0], t.Elem(), at+t.InnerOffset(b.w))
	case schema.Record:
		for i, kid := range sl.kids {
			f := t.Field(i)
			if err := b.place(kid, f.Type, at+f.Offset(b.w)); err != nil {
				return within(err, "."+f.Name)
			}
		}
	case schema.Union:
		common.PutUint(b.buf[at:], 2, uint64(sl.tag))
		variant, _ := t.VariantByTag(sl.tag)
		return b.place(sl.kids[0], variant.Type, at+t.InnerOffset(b.w))
	default:
		common.PutUint(b.buf[at:], t.Size(b.w), sl.num)
	}
	return nil
}

func signedOf(v document.Value) (int64, bool) {
	switch v.Kind() {
	case document.KindInt:
		return v.Int(), true
	case document.KindUint:
		if v.Uint() <= math.MaxInt64 {
			return int64(v.Uint()), true
		}
	}
	return 0, false
}

func unsignedOf(v document.Value) (uint64, bool) {
	switch v.Kind() {
	case document.KindUint:
		return v.Uint(), true
	case document.KindInt:
		if v.Int() >= 0 {
			return uint64(v.Int()), true
		}
	}
	return 0, false
}

func floatOf(v document.Value) (float64, bool) {
	switch v.Kind() {
	case document.KindFloat:
		return v.Float(), true
	case document.KindInt:
		return float64(v.Int()), true
	case document.KindUint:
		return float64(v.Uint()), true
	}
	return 0, false
}

// compareKeys orders document keys the way archived map blocks are sorted.
func compareKeys(x, y document.Value, k schema.Kind) int {
	switch {
	case k == schema.String:
		return cmp.Compare(x.Str(), y.Str())
	case k == schema.Bytes:
		return bytes.Compare(x.Bytes(), y.Bytes())
	case k == schema.Bool:
		return cmp.Compare(boolInt(x.Bool()), boolInt(y.Bool()))
	case k.IsSigned():
		a, _ := signedOf(x)
		c, _ := signedOf(y)
		return cmp.Compare(a, c)
	case k.IsUnsigned():
		a, _ := unsignedOf(x)
		c, _ := unsignedOf(y)
		return cmp.Compare(a, c)
	}
	return 0
}

// checkKey reports whether v can be written as a key of type t. It runs
// before the entries are sorted.
func (b *Builder) checkKey(v document.Value, t *schema.Type) error {
	k := t.Kind()
	switch {
	case k == schema.String:
		if v.Kind() != document.KindString {
			return mismatch("want string, got %s", v.Kind())
		}
	case k == schema.Bytes:
		if v.Kind() != document.KindBytes {
			return mismatch("want bytes, got %s", v.Kind())
		}
	case k == schema.Bool:
		if v.Kind() != document.KindBool {
			return mismatch("want bool, got %s", v.Kind())
		}
	case k.IsSigned():
		if x, ok := signedOf(v); !ok || !common.FitsInt(x, t.Size(b.w)) {
			return mismatch("%s does not fit %s", v, k)
		}
	case k.IsUnsigned():
		if x, ok := unsignedOf(v); !ok || x > common.MaxUint(t.Size(b.w)) {
			return mismatch("%s does not fit %s", v, k)
		}
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
