package graph

import "sort"

// Graph is a sliding window of typed nodes and edges spanning a contiguous
// run of positions on one contig. Ported from original_source/c-code/
// src/graph.c's graph_t: buckets[i] holds every node at position
// PositionStart+i, and coverage[i] is the read depth at that position
// (insertion nodes, whose Offset is always 1 or more, do not count toward
// coverage there).
//
// Positions are 1-based, matching SAM/BAM's reported alignment position
// convention (core.pos+1 in the original).
type Graph struct {
	Contig        int32
	PositionStart int32
	PositionEnd   int32
	IsEmpty       bool

	buckets  [][]*Node
	coverage []int32
}

// NewGraph returns an empty graph ready to receive its first record.
func NewGraph() *Graph {
	return &Graph{
		Contig:        1,
		PositionStart: 1,
		PositionEnd:   1,
		IsEmpty:       true,
		buckets:       make([][]*Node, 1),
		coverage:      make([]int32, 1),
	}
}

func (g *Graph) ensureCapacity(size int32) {
	if int32(len(g.buckets)) >= size {
		return
	}
	grownBuckets := make([][]*Node, size)
	copy(grownBuckets, g.buckets)
	g.buckets = grownBuckets

	grownCoverage := make([]int32, size)
	copy(grownCoverage, g.coverage)
	g.coverage = grownCoverage
}

// AddRecord adds one record's decomposed alignment to the graph and returns
// the node that should anchor this record for later graph-guided
// re-alignment: the first node on the forward strand, or the last node on
// the reverse strand (matching graph_add_sam's ret_node selection, which
// hands the re-aligner the node nearest the read's 5' end).
//
// contigIndex0 is the record's 0-based reference ID (core.tid); alnStart1 is
// its 1-based alignment start (core.pos+1).
func (g *Graph) AddRecord(contigIndex0 int32, alnStart1 int32, aln *Alignment, reverseStrand bool) *Node {
	if alnStart1 < g.PositionStart {
		diff := g.PositionStart - alnStart1
		g.ensureCapacity(g.PositionEnd - alnStart1 + 1)
		for i := g.PositionEnd - g.PositionStart; i >= 0; i-- {
			g.buckets[i+diff], g.buckets[i] = g.buckets[i], g.buckets[i+diff]
			g.coverage[i+diff], g.coverage[i] = g.coverage[i], g.coverage[i+diff]
		}
		g.PositionStart = alnStart1
	}

	if g.IsEmpty {
		n := g.PositionEnd - g.PositionStart + 1
		for i := int32(0); i < n; i++ {
			g.buckets[i] = nil
			g.coverage[i] = 0
		}
		g.PositionStart = alnStart1
		if len(aln.Ref) > 0 && aln.Ref[0] == Gap {
			g.PositionStart--
		}
		g.PositionEnd = g.PositionStart
		g.Contig = contigIndex0 + 1
		g.IsEmpty = false
	}

	var prev, cur *Node
	var ret *Node
	refIndex := int32(-1)
	for alnIdx := 0; alnIdx < len(aln.Read); alnIdx++ {
		for alnIdx < len(aln.Read) && aln.Read[alnIdx] == Gap {
			alnIdx++
			refIndex++
		}
		if alnIdx >= len(aln.Read) {
			break
		}

		var t Type
		switch {
		case aln.Read[alnIdx] == aln.Ref[alnIdx]:
			t = Match
		case aln.Ref[alnIdx] == Gap:
			t = Insertion
		default:
			t = Mismatch
		}
		if prev == nil || prev.Type != Insertion {
			refIndex++
		}

		node := &Node{
			Contig:   g.Contig,
			Position: alnStart1 + refIndex,
			Type:     t,
			Base:     BaseFromByte(aln.Read[alnIdx]),
			Coverage: 1,
		}
		if node.Type == Insertion {
			node.Offset = 1
			if prev != nil && prev.Type == Insertion {
				node.Offset = prev.Offset + 1
			}
		}

		cur = g.addNode(node, prev)

		if prev == nil && !reverseStrand {
			ret = cur
		}
		prev = cur
	}
	if reverseStrand {
		ret = cur
	}
	return ret
}

// addNode merges node into the graph, coalescing it with an existing
// equivalent node if one is already present at that position, and links it
// to prev (if any).
func (g *Graph) addNode(node *Node, prev *Node) *Node {
	cur := g.contains(node)
	if cur == nil {
		g.ensureCapacity(node.Position - g.PositionStart + 1)
		idx := node.Position - g.PositionStart
		g.buckets[idx] = insertSorted(g.buckets[idx], node)
		if node.Type != Insertion || node.Offset == 0 {
			g.coverage[idx] += node.Coverage
		}
		if g.PositionEnd < node.Position {
			g.PositionEnd = node.Position
		}
		cur = node
		g.IsEmpty = false
	} else {
		cur.Coverage++
		idx := cur.Position - g.PositionStart
		if cur.Type != Insertion || cur.Offset == 0 {
			g.coverage[idx]++
		}
	}

	if prev != nil {
		AddNext(prev, cur)
	}
	return cur
}

func (g *Graph) contains(node *Node) *Node {
	list := g.nodeListAt(node.Position)
	idx := sort.Search(len(list), func(i int) bool {
		return compareWithinPosition(list[i], node) >= 0
	})
	if idx < len(list) && compareWithinPosition(list[idx], node) == 0 {
		return list[idx]
	}
	return nil
}

func insertSorted(list []*Node, n *Node) []*Node {
	idx := sort.Search(len(list), func(i int) bool {
		return compareWithinPosition(list[i], n) >= 0
	})
	list = append(list, nil)
	copy(list[idx+1:], list[idx:])
	list[idx] = n
	return list
}

func (g *Graph) nodeListAt(position int32) []*Node {
	if position < g.PositionStart || g.PositionEnd < position {
		return nil
	}
	return g.buckets[position-g.PositionStart]
}

// NodeListAt returns every node at position, or nil if position is outside
// the current window.
func (g *Graph) NodeListAt(position int32) []*Node {
	return g.nodeListAt(position)
}

// NodeListIndexAtOrAfter returns the smallest position >= position that has
// at least one node, or 0 if none exists in [position, PositionEnd].
func (g *Graph) NodeListIndexAtOrAfter(position int32) int32 {
	if position < g.PositionStart {
		return g.PositionStart
	}
	for position <= g.PositionEnd {
		if len(g.nodeListAt(position)) > 0 {
			return position
		}
		position++
	}
	return 0
}

// NodeListIndexAtOrBefore returns the largest position <= position that has
// at least one node, or 0 if none exists in [PositionStart, position].
func (g *Graph) NodeListIndexAtOrBefore(position int32) int32 {
	if g.PositionEnd < position {
		return g.PositionEnd
	}
	for g.PositionStart <= position {
		if len(g.nodeListAt(position)) > 0 {
			return position
		}
		position--
	}
	return 0
}

// Coverage returns the read depth at position, or 0 if position is outside
// the current window.
func (g *Graph) Coverage(position int32) int32 {
	if position < g.PositionStart || g.PositionEnd < position {
		return 0
	}
	return g.coverage[position-g.PositionStart]
}

// Prune drops every node that can no longer be reached by a record starting
// at or after alignmentStart1 (adjusted by offset, how far a re-alignment
// may move a record's start), or clears the graph outright if
// contigIndex0 has moved on or the whole window has fallen behind.
func (g *Graph) Prune(contigIndex0 int32, alignmentStart1 int32, offset int32) {
	clear := false
	switch {
	case g.Contig != contigIndex0+1:
		clear = true
	case g.PositionStart < alignmentStart1-offset:
		if g.PositionEnd < alignmentStart1-offset {
			clear = true
		} else {
			diff := alignmentStart1 - offset - g.PositionStart
			limit := g.PositionEnd - (alignmentStart1 - offset) + 1
			var i int32
			for i = 0; i < limit; i++ {
				g.unlinkBucket(i)
				g.buckets[i], g.buckets[i+diff] = g.buckets[i+diff], g.buckets[i]
				g.coverage[i], g.coverage[i+diff] = g.coverage[i+diff], 0
			}
			for ; i < g.PositionEnd-g.PositionStart+1; i++ {
				g.unlinkBucket(i)
			}
			g.PositionStart = alignmentStart1 - offset
		}
	}
	if clear {
		n := g.PositionEnd - g.PositionStart + 1
		for i := int32(0); i < n; i++ {
			g.unlinkBucket(i)
			g.coverage[i] = 0
		}
		g.Contig = contigIndex0 + 1
		g.PositionStart = alignmentStart1
		g.PositionEnd = alignmentStart1
		g.IsEmpty = true
	}
}

func (g *Graph) unlinkBucket(i int32) {
	for _, n := range g.buckets[i] {
		n.unlink()
	}
	g.buckets[i] = nil
}
</content>
