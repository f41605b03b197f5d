// Package search implements the graph-guided dynamic-programming search
// used to re-align one read against the variation graph: an index-addressed
// pool of pseudo-cells (one DP state per graph node visited) and a sorted
// priority queue over that pool driving a best-first expansion.
package search

import "github.com/grailbio/srma/graph"

// HeapType selects whether a Heap orders cells by minimum or maximum
// genomic coordinate; the re-aligner uses a MinHeap for a forward-strand
// record and a MaxHeap for a reverse-strand one.
type HeapType int

const (
	MinHeap HeapType = iota
	MaxHeap
)

// Space distinguishes ordinary nucleotide-space reads from color-space
// reads, which score each call relative to the previous one via XOR.
type Space int

const (
	SpaceNT Space = iota
	SpaceCS
)

// Cell is one pseudo-cell of the search: the graph node reached, how many
// read bases have been consumed to reach it, the alignment score and total
// coverage so far, and the index of the cell it was extended from so a
// completed search can be traced back into a CIGAR.
//
// Ported from sw_node_t. CurIndex and PrevIndex are positions within a
// Pool's arena rather than pointers, since the search keeps many cells
// alive at once and needs to reconstruct the backtrace purely from indices
// after the fact.
type Cell struct {
	Node          *graph.Node
	ReadOffset    int32
	Score         int32
	CoverageSum   int32
	StartPosition int32
	CurIndex      int32
	PrevIndex     int32
}

// Pool is an append-only, index-addressed arena of Cells. Unlike the graph
// package's nodes (plain *Node, safe under Go's GC because nothing needs a
// stable integer handle to them), search cells are addressed by index
// throughout a search so that a completed path can be walked backward via
// PrevIndex after the queue that produced it has moved on — the same
// reason the original C implementation used an arena instead of individual
// allocations.
type Pool struct {
	cells []Cell
	next  int32
}

// NewPool returns a pool pre-sized to hold size cells without regrowing.
func NewPool(size int32) *Pool {
	return &Pool{cells: make([]Cell, size)}
}

// Get allocates a fresh, zeroed cell and returns its index.
func (p *Pool) Get() int32 {
	if int32(len(p.cells)) < p.next+1 {
		grown := make([]Cell, p.next+1)
		copy(grown, p.cells)
		p.cells = grown
	}
	idx := p.next
	p.cells[idx] = Cell{CurIndex: idx, PrevIndex: -1}
	p.next++
	return idx
}

// At returns a pointer to the cell at index i. A Get that grows the pool
// moves the cells to a new backing array, after which earlier pointers no
// longer refer to the pool's cells; indices stay valid until the next Reset.
func (p *Pool) At(i int32) *Cell {
	return &p.cells[i]
}

// Reset releases every cell in the pool for reuse by the next search,
// without shrinking the backing array.
func (p *Pool) Reset() {
	p.next = 0
}

// CharToQual converts a Phred+33 ASCII quality character to an integer
// quality: a negative result maps to 1, one above 255 maps to 255, and '!'
// gives 0. Ported from srma_char2qual.
func CharToQual(qual byte) int32 {
	q := int32(qual) - 33
	switch {
	case q < 0:
		return 1
	case q > 255:
		return 255
	default:
		return q
	}
}

// Init extends prev (or starts a new alignment, if prev is nil) by one read
// base, landing on curNode, and scores the extension. Ported from
// sw_node_init.
//
// In color space, the emitted color is the XOR of the previous node's base
// and this call's raw base; the node matches only when that derived color
// equals curNode's base by construction of how color-space reads are
// decomposed upstream, so no special-casing is needed here beyond the XOR
// itself.
func Init(cur, prev *Cell, curNode *graph.Node, coverage int32, base graph.Base, qual byte, useQualities bool, space Space) {
	cur.Node = curNode

	var b graph.Base
	if prev == nil {
		cur.ReadOffset = 0
		cur.Score = 0
		cur.StartPosition = curNode.Position
		cur.PrevIndex = -1
		cur.CoverageSum = coverage
		b = base
	} else {
		cur.ReadOffset = prev.ReadOffset + 1
		cur.Score = prev.Score
		cur.StartPosition = prev.StartPosition
		cur.PrevIndex = prev.CurIndex
		cur.CoverageSum = prev.CoverageSum + coverage
		if space == SpaceCS {
			b = graph.Base(byte(prev.Node.Base) ^ byte(base))
		} else {
			b = base
		}
	}

	if b == curNode.Base {
		return
	}
	if useQualities {
		cur.Score -= CharToQual(qual)
	} else {
		cur.Score--
	}
}

// Compare orders two cells by (genomic coordinate, read offset, node type,
// node base, score); the coordinate comparison is flipped for a MaxHeap, so
// a MinHeap search expands the lowest-position frontier first and a MaxHeap
// search expands the highest. Ported from sw_node_compare.
func Compare(n1, n2 *Cell, heapType HeapType) int {
	if c := compareCoordinate(n1, n2, heapType); c != 0 {
		return c
	}
	switch {
	case n1.ReadOffset < n2.ReadOffset:
		return -1
	case n1.ReadOffset > n2.ReadOffset:
		return 1
	}
	switch {
	case n1.Node.Type < n2.Node.Type:
		return -1
	case n1.Node.Type > n2.Node.Type:
		return 1
	}
	switch {
	case n1.Node.Base < n2.Node.Base:
		return -1
	case n1.Node.Base > n2.Node.Base:
		return 1
	}
	switch {
	case n1.Score < n2.Score:
		return -1
	case n1.Score > n2.Score:
		return 1
	}
	return 0
}

func compareCoordinate(n1, n2 *Cell, heapType HeapType) int {
	sign := 1
	if heapType == MaxHeap {
		sign = -1
	}
	switch {
	case n1.Node.Contig < n2.Node.Contig:
		return -sign
	case n1.Node.Contig > n2.Node.Contig:
		return sign
	}
	switch {
	case n1.Node.Position < n2.Node.Position:
		return -sign
	case n1.Node.Position > n2.Node.Position:
		return sign
	}
	return 0
}
</content>
