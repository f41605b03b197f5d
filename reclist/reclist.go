// Package reclist holds re-aligned records in coordinate order until the
// pipeline's sliding window has moved far enough past them that they can
// never be touched by a later re-alignment, at which point they drain out
// for writing.
package reclist

import (
	"github.com/biogo/hts/sam"
	"github.com/biogo/store/llrb"
)

// unmappedCoord sorts after every mapped coordinate, so unmapped records
// only drain on a final Drain call. Mirrors the unmapped sentinel in
// cmd/bio-bam-sort/sorter/sort.go's recCoord scheme, which this package's
// ordering is grounded on.
const unmappedCoord = 0x7ffffffffffffffe

// List is an ordered, insertion-order-stable collection of pending output
// records. Records are re-aligned (and so repositioned) out of coordinate
// order as the pipeline's worker pool finishes them, but must be written
// back out in coordinate order; List tracks that order with an llrb tree,
// the same ordered-merge structure the teacher's sort package uses to
// N-way-merge sorted shards, rather than the original C implementation's
// hand-rolled doubly linked insertion list.
type List struct {
	tree llrb.Tree
	seq  uint64
}

// NewList returns an empty List.
func NewList() *List {
	return &List{}
}

// entry is the llrb.Comparable stored in the tree: a packed coordinate key
// (so two records at the same position compare by arrival order, keeping
// the drain stable) together with the record itself.
type entry struct {
	coord uint64
	seq   uint64
	rec   *sam.Record
}

func (e *entry) Compare(other llrb.Comparable) int {
	o := other.(*entry)
	switch {
	case e.coord < o.coord:
		return -1
	case e.coord > o.coord:
		return 1
	case e.seq < o.seq:
		return -1
	case e.seq > o.seq:
		return 1
	default:
		return 0
	}
}

func packCoord(refID, pos int) uint64 {
	if refID < 0 {
		return unmappedCoord
	}
	return (uint64(uint32(refID)) << 33) | (uint64(uint32(pos)) << 1)
}

// Insert adds r to the list, ordered at (refID, r.Pos). refID is taken as
// an explicit parameter, rather than read from r.Ref.ID(), since the
// pipeline driving this list already tracks each record's resolved
// reference index itself and that index is only valid once a record's Ref
// has actually been registered against a header. The list takes no
// ownership beyond holding the pointer; the caller must not mutate r.Pos
// after inserting it.
func (l *List) Insert(refID int, r *sam.Record) {
	l.seq++
	l.tree.Insert(&entry{coord: packCoord(refID, r.Pos), seq: l.seq, rec: r})
}

// Len reports the number of records currently held.
func (l *List) Len() int {
	return l.tree.Len()
}

// peekMin returns the lowest-ordered entry without removing it, or nil if
// the list is empty. llrb.Tree has no dedicated Min accessor; an in-order
// walk that stops after its first callback is the same trick
// internalMergeShards uses to read a merge leaf's smallest child.
func (l *List) peekMin() *entry {
	var found *entry
	l.tree.Do(func(c llrb.Comparable) bool {
		found = c.(*entry)
		return false
	})
	return found
}

// PopBefore removes and returns, in ascending coordinate order, every
// record strictly before (refID, pos) — the leading edge of the graph's
// current window, past which no further re-alignment can move a record
// earlier. Records on a different, already-passed reference sort before
// any (refID, pos) on the current one; unmapped records never pop here.
func (l *List) PopBefore(refID, pos int) []*sam.Record {
	boundary := packCoord(refID, pos)
	var out []*sam.Record
	for {
		e := l.peekMin()
		if e == nil || e.coord >= boundary {
			return out
		}
		l.tree.DeleteMin()
		out = append(out, e.rec)
	}
}

// Drain removes and returns every remaining record, in ascending
// coordinate order. Called once at end of input to flush whatever PopBefore
// never reached, including unmapped records.
func (l *List) Drain() []*sam.Record {
	out := make([]*sam.Record, 0, l.tree.Len())
	l.tree.Do(func(c llrb.Comparable) bool {
		out = append(out, c.(*entry).rec)
		return true
	})
	l.tree = llrb.Tree{}
	return out
}
