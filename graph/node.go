// Package graph implements the sliding variation graph at the core of the
// re-aligner: typed nodes keyed by genomic position, sorted edge lists
// carrying per-edge coverage, and the position-indexed window that the
// pipeline builds and prunes as records stream past.
package graph

import "sort"

// Base is a single nucleotide, encoded as a small dense integer so it can
// participate in the node ordering and in color-space XOR arithmetic.
type Base uint8

// The five bases the graph can represent. N stands in for any ambiguous call.
const (
	BaseA Base = iota
	BaseC
	BaseG
	BaseT
	BaseN
)

var baseToByte = [...]byte{'A', 'C', 'G', 'T', 'N'}

var byteToBase = func() (m [256]Base) {
	for i := range m {
		m[i] = BaseN
	}
	m['A'], m['a'] = BaseA, BaseA
	m['C'], m['c'] = BaseC, BaseC
	m['G'], m['g'] = BaseG, BaseG
	m['T'], m['t'] = BaseT, BaseT
	return m
}()

// Byte returns the ASCII nucleotide character for b.
func (b Base) Byte() byte { return baseToByte[b] }

// BaseFromByte maps an ASCII nucleotide character to a Base, mapping any
// unrecognized character to BaseN.
func BaseFromByte(c byte) Base { return byteToBase[c] }

// Type classifies how a node's base relates to the reference at its position.
type Type uint8

// Node types, ordered to match the tie-break order used by node comparison
// and by the search heap: MATCH sorts before MISMATCH before INSERTION
// before DELETION.
const (
	Match Type = iota
	Mismatch
	Insertion
	Deletion
)

// Edge is one entry of a node's adjacency list: a neighboring node together
// with the number of read traversals that used this particular edge.
type Edge struct {
	To       *Node
	Coverage int32
}

// Node is a single typed base at a genomic coordinate. Nodes are allocated
// individually (Go's garbage collector, unlike the hand-managed C arena this
// is ported from, has no trouble with the resulting reference cycles between
// a node and its neighbors' edge lists), and are addressed directly by
// pointer rather than by arena index.
type Node struct {
	Contig   int32
	Position int32
	// Offset is 0 for all non-insertion nodes, and the 1-based ordinal of an
	// inserted base beyond its anchor position for insertion nodes.
	Offset int32
	Type   Type
	Base   Base
	// Coverage is the number of reads that pass through this exact node.
	Coverage int32

	// Next and Prev are sorted edge lists, ordered by the neighbor's
	// (Contig, Position, Offset, Type, Base) tuple.
	Next []Edge
	Prev []Edge
}

// compareTuple orders two nodes by the full 5-tuple
// (contig, position, offset, type, base).
func compareTuple(a, b *Node) int {
	switch {
	case a.Contig != b.Contig:
		return int(a.Contig) - int(b.Contig)
	case a.Position != b.Position:
		return int(a.Position) - int(b.Position)
	}
	return compareWithinPosition(a, b)
}

// compareWithinPosition orders two nodes known to share (contig, position)
// by (offset, type, base). This is the node_compare2 half of the original
// comparator, used once a bucket lookup has already proved the first two
// fields equal.
func compareWithinPosition(a, b *Node) int {
	switch {
	case a.Offset != b.Offset:
		return int(a.Offset) - int(b.Offset)
	case a.Type != b.Type:
		return int(a.Type) - int(b.Type)
	case a.Base != b.Base:
		return int(a.Base) - int(b.Base)
	}
	return 0
}

// Equivalent reports whether a and b represent the same graph position:
// adding an "equivalent" node increments coverage instead of allocating.
func Equivalent(a, b *Node) bool {
	return compareTuple(a, b) == 0
}

// findEdge returns the index of the edge to "to" within a sorted edge list,
// and whether it was found. When not found, idx is the position at which an
// edge to "to" should be inserted to keep the list sorted.
func findEdge(edges []Edge, to *Node) (idx int, found bool) {
	idx = sort.Search(len(edges), func(i int) bool {
		return compareTuple(edges[i].To, to) >= 0
	})
	found = idx < len(edges) && compareTuple(edges[idx].To, to) == 0
	return idx, found
}

// addEdge inserts an edge to "to" into a sorted edge list, or increments its
// coverage by one if already present.
func addEdge(edges []Edge, to *Node) []Edge {
	idx, found := findEdge(edges, to)
	if found {
		edges[idx].Coverage++
		return edges
	}
	edges = append(edges, Edge{})
	copy(edges[idx+1:], edges[idx:])
	edges[idx] = Edge{To: to, Coverage: 1}
	return edges
}

// removeEdge drops the edge to "to" from a sorted edge list entirely. It is
// used only when a node is being freed outright, so there is no partial
// decrement-and-keep case: the whole slot goes away along with the node.
func removeEdge(edges []Edge, to *Node) []Edge {
	idx, found := findEdge(edges, to)
	if !found {
		return edges
	}
	return append(edges[:idx], edges[idx+1:]...)
}

// AddNext links prev -> cur, updating both sides' edge lists symmetrically.
func AddNext(prev, cur *Node) {
	prev.Next = addEdge(prev.Next, cur)
	cur.Prev = addEdge(cur.Prev, prev)
}

// unlink removes n from every neighbor's opposite edge list. This preserves
// the invariant that edges are symmetric (u in v.Next iff v in u.Prev) when a
// node is dropped from the graph, e.g. during a prune.
func (n *Node) unlink() {
	for _, e := range n.Next {
		e.To.Prev = removeEdge(e.To.Prev, n)
	}
	for _, e := range n.Prev {
		e.To.Next = removeEdge(e.To.Next, n)
	}
}
</content>
