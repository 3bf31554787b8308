package resolver

import (
	"encoding/binary"

	"github.com/zeebo/blake3"
)

// Hasher computes content sums. One Hasher is reused for every block of a
// build; Begin resets it.
type Hasher struct {
	h       *blake3.Hasher
	scratch [8]byte
	out     [32]byte
}

func NewHasher() *Hasher {
	return &Hasher{h: blake3.New()}
}

// Begin starts a new sum for a block of the type with the given digest.
func (h *Hasher) Begin(typeDigest [32]byte) {
	h.h.Reset()
	h.h.Write(typeDigest[:])
}

func (h *Hasher) WriteUint64(x uint64) {
	binary.LittleEndian.PutUint64(h.scratch[:], x)
	h.h.Write(h.scratch[:])
}

// WriteBytes hashes b prefixed with its length so adjacent byte strings
// cannot run into each other.
func (h *Hasher) WriteBytes(b []byte) {
	h.WriteUint64(uint64(len(b)))
	h.h.Write(b)
}

// WriteString is WriteBytes for strings.
func (h *Hasher) WriteString(s string) {
	h.WriteUint64(uint64(len(s)))
	h.h.WriteString(s)
}

// WriteSum hashes the sum of a child.
func (h *Hasher) WriteSum(s Sum) {
	h.h.Write(s[:])
}

// Sum returns the sum of everything written since Begin.
func (h *Hasher) Sum() Sum {
	h.h.Sum(h.out[:0])
	return Sum(h.out)
}
