// Package resolver remembers where equal immutable content was first written
// during a build so later occurrences can point at it instead of being
// written again.
package resolver

// Sum identifies a block by its type and content.
type Sum [32]byte

// Stats counts lookups since the resolver was created. Reset does not clear
// them, so they cover a whole build session.
type Stats struct {
	Hits    int
	Misses  int
	Entries int
}

// Resolver maps content sums to the position of their first occurrence.
// It is not safe for concurrent use; a build session owns one exclusively.
type Resolver struct {
	seen   map[Sum]int
	hits   int
	misses int
}

// New returns an empty Resolver.
func New() *Resolver {
	return &Resolver{seen: make(map[Sum]int)}
}

// Intern returns the position recorded for sum, if any.
func (r *Resolver) Intern(sum Sum) (int, bool) {
	pos, ok := r.seen[sum]
	if ok {
		r.hits++
	} else {
		r.misses++
	}
	return pos, ok
}

// Record stores pos for sum. The first occurrence wins: recording a sum that
// is already known keeps the earlier position.
func (r *Resolver) Record(sum Sum, pos int) {
	if _, ok := r.seen[sum]; !ok {
		r.seen[sum] = pos
	}
}

// Reset forgets every recorded position.
func (r *Resolver) Reset() {
	clear(r.seen)
}

// Len returns the number of recorded sums.
func (r *Resolver) Len() int { return len(r.seen) }

func (r *Resolver) Stats() Stats {
	return Stats{Hits: r.hits, Misses: r.misses, Entries: len(r.seen)}
}
