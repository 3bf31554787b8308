package archive

import "github.com/rawbytedev/zcarchive/internal/common"

// patch is a pointer slot at position at that must hold the relative
// offset of target once the buffer is final.
type patch struct {
	at     int
	target int
}

// patchList collects pointer slots during a build and writes them at
// finalize. Every pointer is known to point backward when it is added.
type patchList struct {
	width int
	items []patch
}

func (l *patchList) add(at, target int) error {
	if target > at {
		return overflow("forward pointer at %d to %d", at, target)
	}
	if !common.FitsInt(int64(target-at), l.width) {
		return overflow("offset %d does not fit %d bytes", target-at, l.width)
	}
	l.items = append(l.items, patch{at: at, target: target})
	return nil
}

func (l *patchList) len() int { return len(l.items) }

// apply writes every pending offset into buf.
func (l *patchList) apply(buf []byte) error {
	for _, p := range l.items {
		rel := int64(p.target - p.at)
		if p.at < 0 || p.at+l.width > len(buf) || p.target > p.at || !common.FitsInt(rel, l.width) {
			return overflow("cannot patch %d -> %d", p.at, p.target)
		}
		common.PutUint(buf[p.at:], l.width, uint64(rel))
	}
	return nil
}
