package graph

import (
	"fmt"

	"github.com/biogo/hts/sam"
)

// Gap is the sentinel byte used in Alignment.Read/Ref for a column with no
// base on that side (a deletion has no read base; an insertion has no ref
// base).
const Gap byte = '-'

// Alignment is the decomposed form of one record's CIGAR: parallel read and
// reference arrays of equal length, with Gap marking columns where one side
// has no base. This is the scratch structure the graph builder and the
// re-aligner both consume; it is thrown away once a record has been added to
// the graph or re-aligned.
type Alignment struct {
	Read []byte
	Ref  []byte
	// Positions[k] is the reference column (0-based, relative to the first
	// ref base consumed by this alignment) of the k-th non-deletion read
	// base; PositionsIndex[k] is that base's index into Read/Ref.
	Positions      []int32
	PositionsIndex []int32
}

// Decompose walks cigar against seq (the record's expanded, ASCII sequence)
// and ref (the reference bases starting at the record's alignment start, one
// byte per position) to build the parallel Read/Ref arrays, then
// left-justifies any indels and computes Positions/PositionsIndex.
//
// Soft-clip operations consume read bases but emit no alignment column;
// hard-clips consume neither.
func Decompose(cigar []sam.CigarOp, seq []byte, ref []byte) (*Alignment, error) {
	length := 0
	hasIndel := false
	for _, co := range cigar {
		switch co.Type() {
		case sam.CigarMatch, sam.CigarInsertion, sam.CigarDeletion:
			length += co.Len()
		}
		switch co.Type() {
		case sam.CigarInsertion, sam.CigarDeletion:
			hasIndel = true
		}
	}

	read := make([]byte, length)
	refOut := make([]byte, length)
	alnIdx, readIdx, refIdx := 0, 0, 0
	for _, co := range cigar {
		l := co.Len()
		switch co.Type() {
		case sam.CigarMatch:
			for j := 0; j < l; j++ {
				if refIdx >= len(ref) || readIdx >= len(seq) {
					return nil, fmt.Errorf("graph: cigar run exceeds supplied ref/read bases")
				}
				refOut[alnIdx] = ref[refIdx]
				read[alnIdx] = seq[readIdx]
				refIdx++
				readIdx++
				alnIdx++
			}
		case sam.CigarInsertion:
			for j := 0; j < l; j++ {
				if readIdx >= len(seq) {
					return nil, fmt.Errorf("graph: cigar run exceeds supplied read bases")
				}
				refOut[alnIdx] = Gap
				read[alnIdx] = seq[readIdx]
				readIdx++
				alnIdx++
			}
		case sam.CigarDeletion:
			for j := 0; j < l; j++ {
				if refIdx >= len(ref) {
					return nil, fmt.Errorf("graph: cigar run exceeds supplied ref bases")
				}
				refOut[alnIdx] = ref[refIdx]
				read[alnIdx] = Gap
				refIdx++
				alnIdx++
			}
		case sam.CigarSoftClipped:
			readIdx += l
		case sam.CigarHardClipped:
			// Consumes neither read nor ref.
		default:
			return nil, fmt.Errorf("graph: unsupported cigar operation %v", co.Type())
		}
	}

	aln := &Alignment{Read: read, Ref: refOut}
	if hasIndel {
		aln.leftJustify()
	}
	aln.computePositions()
	return aln, nil
}

// leftJustify shifts each indel run as far toward the 5' end as possible
// while the shifted columns remain ref/read-identical, canonicalizing
// equivalent representations of the same alignment. Ported directly from
// bam_aln_left_justify: walk left to right, and upon leaving an indel run,
// slide its gap backward one column at a time while the base being crossed
// matches the base at the run's trailing edge.
func (a *Alignment) leftJustify() {
	read, ref := a.Read, a.Ref
	n := len(read)
	prevDel, prevIns := false, false
	startDel, endDel := -1, -1
	startIns, endIns := -1, -1

	i := 0
	for i < n {
		switch {
		case read[i] == Gap:
			if !prevDel {
				startDel = i
			}
			prevDel = true
			endDel = i
			prevIns = false
			startIns, endIns = -1, -1
			i++
		case ref[i] == Gap:
			if !prevIns {
				startIns = i
			}
			prevIns = true
			endIns = i
			prevDel = false
			startDel, endDel = -1, -1
			i++
		default:
			switch {
			case prevDel:
				startDel--
				for startDel >= 0 &&
					read[startDel] != Gap &&
					ref[startDel] != Gap &&
					ref[startDel] == ref[endDel] {
					read[endDel] = read[startDel]
					read[startDel] = Gap
					startDel--
					endDel--
				}
				endDel++
				i = endDel
			case prevIns:
				startIns--
				for startIns >= 0 &&
					read[startIns] != Gap &&
					ref[startIns] != Gap &&
					read[startIns] == read[endIns] {
					ref[endIns] = ref[startIns]
					ref[startIns] = Gap
					startIns--
					endIns--
				}
				endIns++
				i = endIns
			default:
				i++
			}
			prevDel, prevIns = false, false
			startDel, endDel = -1, -1
			startIns, endIns = -1, -1
		}
	}
}

// computePositions fills Positions/PositionsIndex in one left-to-right pass,
// skipping deletion columns and not advancing the reference column across an
// insertion run.
func (a *Alignment) computePositions() {
	n := len(a.Read)
	a.Positions = make([]int32, 0, n)
	a.PositionsIndex = make([]int32, 0, n)
	refIdx := -1
	for alnIdx := 0; alnIdx < n; alnIdx++ {
		if alnIdx == 0 || a.Ref[alnIdx-1] != Gap {
			refIdx++
		}
		if a.Read[alnIdx] != Gap {
			a.Positions = append(a.Positions, int32(refIdx))
			a.PositionsIndex = append(a.PositionsIndex, int32(alnIdx))
		}
	}
}

// CIGAR rebuilds the run-length-encoded CIGAR operations implied by the
// Read/Ref arrays: MATCH/MISMATCH columns collapse to M, a Ref gap run to I,
// a Read gap run to D.
func (a *Alignment) CIGAR() []sam.CigarOp {
	var ops []sam.CigarOp
	n := len(a.Read)
	i := 0
	for i < n {
		var t sam.CigarOpType
		switch {
		case a.Read[i] == Gap:
			t = sam.CigarDeletion
		case a.Ref[i] == Gap:
			t = sam.CigarInsertion
		default:
			t = sam.CigarMatch
		}
		j := i
		for j < n && cigarClass(a.Read[j], a.Ref[j]) == t {
			j++
		}
		ops = append(ops, sam.NewCigarOp(t, j-i))
		i = j
	}
	return ops
}

func cigarClass(read, ref byte) sam.CigarOpType {
	switch {
	case read == Gap:
		return sam.CigarDeletion
	case ref == Gap:
		return sam.CigarInsertion
	default:
		return sam.CigarMatch
	}
}
</content>
