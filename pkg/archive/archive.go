// Package archive lays documents out in a relocatable binary form that is
// read in place.
//
// A Builder writes documents postorder: every out-of-line block (string
// payloads, sequence and map blocks, Ref targets) is written before the
// fixed-size header that points at it, so every relative offset points
// backward. Validate certifies an untrusted buffer once; the resulting
// Archive hands out Views whose accessors read the bytes directly and
// never fail.
package archive

import (
	"iter"

	"github.com/rawbytedev/zcarchive/pkg/schema"
)

// Archive is a validated buffer. It is immutable and safe for concurrent
// readers. The buffer must not be modified while the Archive is in use.
type Archive struct {
	buf    []byte
	s      *schema.Schema
	header Header
	w      schema.Width
	root   int
	t      *schema.Type
}

// Root returns a view of the root value: the last document written, or the
// sequence of documents of a batch archive.
func (a *Archive) Root() View { return View{a: a, pos: a.root, t: a.t} }

// Bytes returns the underlying buffer.
func (a *Archive) Bytes() []byte { return a.buf }

// Schema returns the schema the archive was validated against.
func (a *Archive) Schema() *schema.Schema { return a.s }

// Header returns the parsed archive header.
func (a *Archive) Header() Header { return a.header }

// Width returns the offset width recorded in the header.
func (a *Archive) Width() schema.Width { return a.w }

// IsBatch reports whether the root is a sequence of documents.
func (a *Archive) IsBatch() bool { return a.header.IsBatch() }

// Len returns the number of documents: the batch length, or 1.
func (a *Archive) Len() int {
	if a.IsBatch() {
		return a.Root().Len()
	}
	return 1
}

// Document returns the i-th document of a batch archive. For a single
// document archive Document(0) is the root.
func (a *Archive) Document(i int) View {
	if a.IsBatch() {
		return a.Root().Index(i).Deref()
	}
	if i == 0 {
		return a.Root()
	}
	return View{}
}

// Documents iterates over every document in the archive.
func (a *Archive) Documents() iter.Seq2[int, View] {
	return func(yield func(int, View) bool) {
		for i := range a.Len() {
			if !yield(i, a.Document(i)) {
				return
			}
		}
	}
}
