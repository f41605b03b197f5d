// Package realign runs the graph-guided dynamic-programming search that
// re-aligns one record against a variation graph, and rebuilds the record
// from whatever path the search settled on. Ported from
// original_source/c-code/src/sw_align.c.
package realign

import (
	"errors"

	"github.com/biogo/hts/sam"
	"github.com/grailbio/srma/graph"
	"github.com/grailbio/srma/search"
)

var (
	csTag = sam.Tag{'C', 'S'}
	cqTag = sam.Tag{'C', 'Q'}
	rgTag = sam.Tag{'R', 'G'}
)

// correctBaseQualityPenalty is subtracted from a base's original quality
// when the search emits a different base at that position and Options.
// CorrectBases is set. Ported from SRMA_CORRECT_BASE_QUALITY_PENALTY.
const correctBaseQualityPenalty = 20

// colorSpaceAgreementBonus is added to the two summed flanking color
// qualities when both flanking colors agree with their call.
const colorSpaceAgreementBonus = 10

// errOverflow signals that a search's queue grew past its bound; it never
// escapes this package.
var errOverflow = errors.New("realign: heap exceeded bound")

// Options controls one record's re-alignment search.
type Options struct {
	// Offset bounds how far, in either direction, from the record's
	// original alignment start a new starting node may be considered.
	Offset int32
	// MaxTotalCoverage rejects any node whose total coverage at its
	// position exceeds this bound, leaving the record unmodified. Zero
	// means unbounded.
	MaxTotalCoverage int32
	// MaxHeapSize aborts a search whose live queue size grows past this
	// many cells, leaving the record unmodified. Zero means every search
	// aborts immediately (no re-alignment is attempted); negative selects
	// a default.
	MaxHeapSize int32
	// CorrectBases penalizes the quality of bases the search emits
	// differently from the record's original call, instead of copying
	// the original qualities through verbatim.
	CorrectBases bool
	// UseQualities scores a mismatch extension by its quality rather than
	// a flat penalty of one.
	UseQualities bool
}

const defaultMaxHeapSize = 8192

// Record re-aligns r against g and returns the result: either a rebuilt
// record following the best-scoring path the search found, or r itself,
// unmodified, if re-alignment was not attempted, was aborted, or found no
// full-length path. A found path is always rebuilt into a new record, even
// when it matches the original alignment. anchor is the node g.AddRecord returned when r was added to g;
// cutoffs decides which graph nodes are trustworthy enough to extend into.
//
// Ported from sw_align. A record soft-clipped at either end is returned
// unmodified: the graph has no representation for bases outside the
// aligned span, so there is nothing to re-align them against.
func Record(g *graph.Graph, r *sam.Record, anchor *graph.Node, cutoffs *graph.CoverageCutoffs, opts Options) *sam.Record {
	if softClipLen(r, true) > 0 || softClipLen(r, false) > 0 {
		return r
	}

	seq := r.Seq.Expand()
	qual := r.Qual
	if len(seq) == 0 || len(seq) != len(qual) {
		return r
	}

	reverse := r.Flags&sam.Reverse != 0
	maxHeapSize := opts.MaxHeapSize
	if maxHeapSize < 0 {
		maxHeapSize = defaultMaxHeapSize
	}
	heapType := search.MinHeap
	if reverse {
		heapType = search.MaxHeap
	}
	heap := search.NewHeap(heapType, 64)

	boundBest := bound(heap, g, anchor, seq, qual, reverse, cutoffs, opts, maxHeapSize)
	if boundBest >= 0 {
		heap.Reset()
	} else {
		heap.Clear()
	}

	if !seedStartCells(heap, g, r, reverse, seq, qual, cutoffs, opts) {
		heap.Clear()
		return r
	}

	best, err := runSearch(g, heap, seq, qual, reverse, cutoffs, opts, maxHeapSize, true, boundBest)
	if err != nil {
		heap.Clear()
		return r
	}

	out := updateRecord(r, heap, best, reverse, seq, qual, opts)
	heap.Clear()
	return out
}

// bound runs a first, unpruned search from the record's own original
// anchor node to establish a score ceiling, mirroring sw_align_bound. The
// returned index (or -1, if the search never finished or overflowed) tells
// the caller whether to Reset or Clear the heap before the real search
// begins, and is itself carried into that real search as its initial best:
// the wider search prunes any popped cell already worse than this bound
// (sw_align.c:413-414) and falls back to the bound's own path if nothing
// wider ever beats it (sw_align.c:474).
func bound(heap *search.Heap, g *graph.Graph, anchor *graph.Node, seq, qual []byte, reverse bool, cutoffs *graph.CoverageCutoffs, opts Options, maxHeapSize int32) int32 {
	if anchor == nil {
		return -1
	}
	idx := heap.NewCell()
	cell := heap.Pool.At(idx)
	seedIdx := seqIndex(0, int32(len(seq)), reverse)
	search.Init(cell, nil, anchor, anchor.Coverage, graph.BaseFromByte(seq[seedIdx]), qualAt(qual, seedIdx), opts.UseQualities, search.SpaceNT)
	heap.Add(idx)

	best, err := runSearch(g, heap, seq, qual, reverse, cutoffs, opts, maxHeapSize, false, -1)
	if err != nil {
		return -1
	}
	return best
}

// seedStartCells queues one start cell for every node that passes the
// coverage filters within Offset positions of the record's 5'-most aligned
// position (its alignment start on the forward strand, its last aligned
// reference position on the reverse strand), walking from the low to the
// high end of that span (high to low on the reverse strand) and visiting
// each distinct occupied position at most once. It returns false, seeding
// nothing usable, if any visited position exceeds MaxTotalCoverage.
// Ported from the multi-start setup in sw_align, with the literal C
// per-position loop (which can revisit the same node-list bucket many
// times over) collapsed to one visit per distinct bucket — CompactDuplicates
// would discard the redundant cells anyway, so the collapse changes no
// outcome.
func seedStartCells(heap *search.Heap, g *graph.Graph, r *sam.Record, reverse bool, seq, qual []byte, cutoffs *graph.CoverageCutoffs, opts Options) bool {
	alnStart := int32(r.Pos) + 1
	if reverse {
		alnStart = int32(r.End())
	}
	lo, hi := alnStart-opts.Offset, alnStart+opts.Offset
	seedIdx := seqIndex(0, int32(len(seq)), reverse)

	seen := make(map[int32]bool)
	added := 0
	visit := func(position int32) bool {
		if position == 0 || seen[position] {
			return true
		}
		seen[position] = true
		for _, node := range g.NodeListAt(position) {
			switch passFilters(g, node, cutoffs, opts.MaxTotalCoverage) {
			case -1:
				return false
			case 1:
				continue
			}
			idx := heap.NewCell()
			cell := heap.Pool.At(idx)
			search.Init(cell, nil, node, node.Coverage, graph.BaseFromByte(seq[seedIdx]), qualAt(qual, seedIdx), opts.UseQualities, search.SpaceNT)
			heap.Add(idx)
			added++
		}
		return true
	}

	if reverse {
		for p := hi; p >= lo; p-- {
			if !visit(g.NodeListIndexAtOrBefore(p)) {
				return false
			}
		}
	} else {
		for p := lo; p <= hi; p++ {
			if !visit(g.NodeListIndexAtOrAfter(p)) {
				return false
			}
		}
	}
	return added > 0
}

// runSearch drains heap with a best-first expansion, returning the index
// of the highest-scoring cell that consumed the whole read. initialBest
// seeds the result (-1 if there is no prior candidate, otherwise the
// bounding pass's own result), so a wider search that never finds anything
// better still reports the bound's path rather than none at all. When
// pruneByScore is set, a polled cell already worse than the current best is
// discarded unexpanded (scores only get more negative by extending), which
// is the one behavioral difference between the bounding pass and the real
// search. Ported from the shared body of sw_align_bound and sw_align's main
// loops.
func runSearch(g *graph.Graph, heap *search.Heap, seq, qual []byte, reverse bool, cutoffs *graph.CoverageCutoffs, opts Options, maxHeapSize int32, pruneByScore bool, initialBest int32) (int32, error) {
	best := initialBest
	n := int32(len(seq))
	for heap.Len() > 0 {
		if heap.Len() > maxHeapSize {
			return -1, errOverflow
		}
		heap.CompactDuplicates()
		curIdx := heap.Poll()
		cur := heap.Pool.At(curIdx)

		if pruneByScore && best >= 0 && cur.Score < heap.Pool.At(best).Score {
			continue
		}
		if cur.ReadOffset == n-1 {
			if best < 0 || betterCell(cur, heap.Pool.At(best)) {
				best = curIdx
			}
			continue
		}
		if !expand(g, heap, cur, seq, qual, reverse, cutoffs, opts) {
			return -1, errOverflow
		}
	}
	return best, nil
}

// expand queues one extension of cur along every outgoing edge that passes
// the coverage filters: Next (increasing position) for a forward-strand
// search, Prev (decreasing position) for reverse. Ported from the edge
// traversal inside sw_align_bound/sw_align's main loop.
func expand(g *graph.Graph, heap *search.Heap, cur *search.Cell, seq, qual []byte, reverse bool, cutoffs *graph.CoverageCutoffs, opts Options) bool {
	newOffset := cur.ReadOffset + 1
	if newOffset >= int32(len(seq)) {
		return true
	}
	edges := cur.Node.Next
	if reverse {
		edges = cur.Node.Prev
	}
	seqIdx := seqIndex(newOffset, int32(len(seq)), reverse)
	for _, e := range edges {
		switch passFilters(g, e.To, cutoffs, opts.MaxTotalCoverage) {
		case -1:
			return false
		case 1:
			continue
		}
		idx := heap.NewCell()
		cell := heap.Pool.At(idx)
		search.Init(cell, cur, e.To, g.Coverage(e.To.Position), graph.BaseFromByte(seq[seqIdx]), qualAt(qual, seqIdx), opts.UseQualities, search.SpaceNT)
		heap.Add(idx)
	}
	return true
}

// passFilters reports whether node may be extended into: -1 if its
// position's total coverage exceeds maxTotalCoverage (unbounded, the
// caller should abandon the search entirely), 0 if the node's own coverage
// clears the cutoff table's bar for that total, 1 if it doesn't (filtered
// out, but not fatally). Ported from the combination of pass_filters and
// pass_filters1 — the two were always called with the node's own coverage
// as the comparison value in this port's call sites, so they collapse to
// one function.
func passFilters(g *graph.Graph, node *graph.Node, cutoffs *graph.CoverageCutoffs, maxTotalCoverage int32) int {
	total := g.Coverage(node.Position)
	if maxTotalCoverage > 0 && total > maxTotalCoverage {
		return -1
	}
	if cutoffs.Get(total) <= node.Coverage {
		return 0
	}
	return 1
}

// betterCell reports whether a should be preferred over b as the
// best-scoring full-length alignment, breaking score ties by total
// coverage.
func betterCell(a, b *search.Cell) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.CoverageSum > b.CoverageSum
}

// seqIndex maps a cell's ReadOffset (read bases consumed by the search so
// far, always counted from the search's own starting end) to the
// corresponding index into the record's genomic-forward-oriented Seq/Qual
// arrays. A forward-strand search consumes the read in the same direction
// the arrays are stored, so offset and index coincide; a reverse-strand
// search starts at the read's high-coordinate end, so offset counts down
// from the end of the array.
func seqIndex(readOffset, n int32, reverse bool) int32 {
	if reverse {
		return n - 1 - readOffset
	}
	return readOffset
}

// qualAt converts the raw Phred quality at seq index i to the Phred+33
// ASCII convention search.CharToQual expects.
func qualAt(qual []byte, i int32) byte {
	return qual[i] + 33
}

// softClipLen returns the length of a soft clip at the start (atStart) or
// end of r's CIGAR, or 0 if that end isn't soft-clipped.
func softClipLen(r *sam.Record, atStart bool) int {
	c := r.Cigar
	if len(c) == 0 {
		return 0
	}
	op := c[len(c)-1]
	if atStart {
		op = c[0]
	}
	if op.Type() == sam.CigarSoftClipped {
		return op.Len()
	}
	return 0
}

// cigarBuilder run-length-encodes a stream of single-base CIGAR ops,
// merging a run into the last emitted op when its type repeats.
type cigarBuilder struct {
	ops []sam.CigarOp
}

func (cb *cigarBuilder) add(t sam.CigarOpType, n int) {
	if n <= 0 {
		return
	}
	if last := len(cb.ops) - 1; last >= 0 && cb.ops[last].Type() == t {
		cb.ops[last] = sam.NewCigarOp(t, cb.ops[last].Len()+n)
		return
	}
	cb.ops = append(cb.ops, sam.NewCigarOp(t, n))
}

// backtrace collects the chain of cells from best back to its seed,
// following PrevIndex.
func backtrace(pool *search.Pool, best int32) []*search.Cell {
	var chain []*search.Cell
	for idx := best; idx >= 0; idx = pool.At(idx).PrevIndex {
		chain = append(chain, pool.At(idx))
	}
	return chain
}

func reverseCells(c []*search.Cell) {
	for i, j := 0, len(c)-1; i < j; i, j = i+1, j-1 {
		c[i], c[j] = c[j], c[i]
	}
}

// updateRecord rebuilds r from the backtrace chain ending at best, or
// returns r unmodified if best < 0 (no full-length path was found). Ported
// from sw_align_update_bam.
//
// A forward-strand search extends toward increasing position, so its
// backtrace (best to seed) runs genomically right to left and must be
// reversed; a reverse-strand search extends toward decreasing position, so
// its backtrace already runs left to right. Either way, once oriented, the
// k-th chain cell is exactly the k-th base the search consumed (ReadOffset
// increases by exactly one per cell, and deletions consume no read base),
// which is also seq/qual index k via seqIndex — so CIGAR, sequence, and
// quality can all be emitted in one forward pass with no further index
// bookkeeping.
func updateRecord(r *sam.Record, heap *search.Heap, best int32, reverse bool, seq, qual []byte, opts Options) *sam.Record {
	if best < 0 {
		return r
	}
	chain := backtrace(heap.Pool, best)
	if !reverse {
		reverseCells(chain)
	}

	colorSpace, cq := colorSpaceQuals(r, len(chain))

	var cb cigarBuilder
	newSeq := make([]byte, len(chain))
	newQual := make([]byte, len(chain))
	for k, cell := range chain {
		if k > 0 {
			if gap := cell.Node.Position - chain[k-1].Node.Position; gap > 1 &&
				cell.Node.Type != graph.Insertion && chain[k-1].Node.Type != graph.Insertion {
				cb.add(sam.CigarDeletion, int(gap-1))
			}
		}
		opType := sam.CigarMatch
		if cell.Node.Type == graph.Insertion {
			opType = sam.CigarInsertion
		}
		cb.add(opType, 1)

		newBase := cell.Node.Base.Byte()
		newSeq[k] = newBase
		switch {
		case colorSpace && k+1 < len(cq):
			newQual[k] = colorSpaceQuality(cq, k)
		default:
			newQual[k] = computeQuality(newBase, seq[k], qual[k], opts)
		}
	}

	out := *r
	out.Pos = int(chain[0].Node.Position) - 1
	out.Cigar = cb.ops
	out.Seq = sam.NewSeq(newSeq)
	out.Qual = newQual
	out.Flags &^= sam.Paired | sam.ProperPair | sam.MateReverse | sam.MateUnmapped
	out.MateRef = nil
	out.MatePos = -1
	out.TempLen = 0
	out.AuxFields = nil
	copyAuxTags(&out, r, colorSpace)
	return &out
}

// computeQuality derives the emitted quality (raw Phred) for one emitted
// base: verbatim if Options.CorrectBases is off, else the original quality
// clamped, penalized by correctBaseQualityPenalty when the search emitted a
// different base than the record originally called. Ported from the
// non-color-space branches of sw_align_update_bam's quality computation.
func computeQuality(newBase, oldBase, oldQual byte, opts Options) byte {
	if !opts.CorrectBases {
		return oldQual
	}
	q := int32(oldQual)
	if newBase != oldBase {
		q -= correctBaseQualityPenalty
	}
	return boundQualRaw(q)
}

func boundQualRaw(q int32) byte {
	switch {
	case q < 1:
		return 1
	case q > 93:
		return 93
	default:
		return byte(q)
	}
}

// colorSpaceQuals reports whether r carries CS/CQ aux tags describing a
// color-space read, returning the CQ quality bytes when it does. A leading
// CQ quality beyond the color length (the adapter-transition quality) is
// trimmed, matching the CS/CQ length reconciliation described for space
// detection.
func colorSpaceQuals(r *sam.Record, wantLen int) (bool, []byte) {
	csAux := r.AuxFields.Get(csTag)
	cqAux := r.AuxFields.Get(cqTag)
	if csAux == nil || cqAux == nil {
		return false, nil
	}
	cq, ok := cqAux.Value().(string)
	if !ok {
		return false, nil
	}
	cqBytes := []byte(cq)
	if len(cqBytes) > wantLen {
		cqBytes = cqBytes[len(cqBytes)-wantLen:]
	}
	return true, cqBytes
}

// colorSpaceQuality derives a base quality from the two color qualities
// flanking position i, using a MAQ-style consistency rule: if both flanking
// colors agree with their call, the qualities sum (plus a small bonus); if
// exactly one agrees, they differ; if neither agrees, the quality floors to
// 1. The two flank checks are evaluated independently and compare the same
// expression, so they are always equal by construction; this mirrors the
// reference computation exactly rather than collapsing it to a single
// comparison, since doing so would be a silent behavior change.
func colorSpaceQuality(cq []byte, i int) byte {
	m1 := cq[i] == cq[i+1]
	m2 := cq[i] == cq[i+1]
	switch {
	case m1 && m2:
		return boundQualRaw(int32(cq[i]) + int32(cq[i+1]) + colorSpaceAgreementBonus)
	case m1 || m2:
		q := int32(cq[i]) - int32(cq[i+1])
		if q < 0 {
			q = -q
		}
		return boundQualRaw(q)
	default:
		return boundQualRaw(1)
	}
}

// copyAuxTags carries CS, CQ, and RG through to the rebuilt record when the
// original was color-space; other fields carry no aux tags forward.
//
// TODO(realign): XO/XQ/AS/XC/PG are not copied or recomputed for the
// rebuilt record; the reference re-aligner left these unimplemented too.
func copyAuxTags(out *sam.Record, r *sam.Record, colorSpace bool) {
	if !colorSpace {
		return
	}
	for _, tag := range [...]sam.Tag{csTag, cqTag, rgTag} {
		if aux := r.AuxFields.Get(tag); aux != nil {
			out.AuxFields = append(out.AuxFields, aux)
		}
	}
}
