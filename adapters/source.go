// Package adapters wires the re-aligner core to the bamprovider record
// sources and bam.Writer sinks and fasta reference readers used elsewhere in
// this codebase, and to the genomic ranges requested on the command line.
package adapters

import (
	"container/heap"

	"github.com/biogo/hts/sam"
	gbam "github.com/grailbio/srma/encoding/bam"
	"github.com/grailbio/srma/encoding/bamprovider"
	"github.com/grailbio/srma/errkind"
	"github.com/grailbio/srma/rangeset"
)

// Envelope is a record read from one of a Source's inputs, tagged with which
// input it came from so a Sink can route it back to the matching output.
type Envelope struct {
	Record    *sam.Record
	SourceIdx int
}

type sourceHeapItem struct {
	rec *sam.Record
	idx int
}

type sourceHeap []sourceHeapItem

func (h sourceHeap) Len() int { return len(h) }
func (h sourceHeap) Less(i, j int) bool {
	ri, rj := h[i].rec, h[j].rec
	ci, cj := gbam.CoordFromSAMRecord(ri, 0), gbam.CoordFromSAMRecord(rj, 0)
	return ci.LT(cj)
}
func (h sourceHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *sourceHeap) Push(x interface{}) { *h = append(*h, x.(sourceHeapItem)) }
func (h *sourceHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Source multiplexes one or more bamprovider.Provider inputs, each scoped to
// the current genomic range, into a single coordinate-ordered stream. At
// most one record per input is buffered at a time, the same bound the
// original implementation places on its per-source lookahead.
type Source struct {
	providers []bamprovider.Provider
	headers   []*sam.Header
	iters     []bamprovider.Iterator
	pending   sourceHeap
}

// NewSource reads each provider's header; no iterator is open until
// ChangeRange selects a range, so call ChangeRange before the first Next.
func NewSource(providers []bamprovider.Provider) (*Source, error) {
	s := &Source{providers: providers}
	s.headers = make([]*sam.Header, len(providers))
	for i, p := range providers {
		h, err := p.GetHeader()
		if err != nil {
			return nil, errkind.Wrap(errkind.OpenFileError, err, "input", i)
		}
		s.headers[i] = h
	}
	return s, nil
}

// Headers returns the header of each input, in input order.
func (s *Source) Headers() []*sam.Header { return s.headers }

// ChangeRange closes the current iterators, if any, and reopens each input
// scoped to [begin,end) (0-based, half-open) on contig. A negative contigIdx
// selects the unmapped reads only, ignoring begin and end.
func (s *Source) ChangeRange(contigIdx, begin, end int) error {
	if err := s.closeIters(); err != nil {
		return err
	}
	s.iters = make([]bamprovider.Iterator, len(s.providers))
	s.pending = s.pending[:0]
	heap.Init(&s.pending)
	for i, p := range s.providers {
		shard, err := shardForRange(s.headers[i], contigIdx, begin, end)
		if err != nil {
			return err
		}
		iter := p.NewIterator(shard)
		s.iters[i] = iter
		if err := s.fill(i); err != nil {
			return err
		}
	}
	return nil
}

func shardForRange(header *sam.Header, contigIdx, begin, end int) (gbam.Shard, error) {
	refs := header.Refs()
	if contigIdx < 0 {
		return gbam.Shard{StartRef: nil, EndRef: nil, Start: 0, End: 1}, nil
	}
	if contigIdx >= len(refs) {
		return gbam.Shard{}, errkind.New(errkind.OutOfRange, "reference index out of range:", contigIdx)
	}
	ref := refs[contigIdx]
	limit := end
	var endRef *sam.Reference
	if limit >= ref.Len() {
		// Extend into the next reference's start, matching Shard's
		// half-open "extends to start of next ref" convention.
		if contigIdx+1 < len(refs) {
			endRef = refs[contigIdx+1]
			limit = 0
		} else {
			endRef = nil
			limit = 0
		}
	} else {
		endRef = ref
	}
	return gbam.Shard{StartRef: ref, EndRef: endRef, Start: begin, End: limit}, nil
}

func (s *Source) fill(i int) error {
	iter := s.iters[i]
	if iter == nil {
		return nil
	}
	if iter.Scan() {
		heap.Push(&s.pending, sourceHeapItem{rec: iter.Record(), idx: i})
		return nil
	}
	if err := iter.Err(); err != nil {
		return errkind.Wrap(errkind.ReadFileError, err, "input", i)
	}
	return nil
}

// Next returns the next record in ascending coordinate order across all
// inputs, or ok==false once every input is exhausted.
func (s *Source) Next() (env Envelope, ok bool, err error) {
	if s.pending.Len() == 0 {
		return Envelope{}, false, nil
	}
	top := heap.Pop(&s.pending).(sourceHeapItem)
	if ferr := s.fill(top.idx); ferr != nil {
		return Envelope{}, false, ferr
	}
	return Envelope{Record: top.rec, SourceIdx: top.idx}, true, nil
}

func (s *Source) closeIters() error {
	for i, it := range s.iters {
		if it == nil {
			continue
		}
		if err := it.Close(); err != nil {
			return errkind.Wrap(errkind.ReadFileError, err, "input", i)
		}
	}
	s.iters = nil
	return nil
}

// Close releases all iterators held by the source. The providers themselves
// are owned by the caller.
func (s *Source) Close() error {
	return s.closeIters()
}

// RangeBounds converts a parsed range into 0-based half-open
// [begin,end) bounds against the given reference's length, applying no
// expansion of its own; callers expand with rangeset.Range.Expand first.
func RangeBounds(r rangeset.Range, refLen int) (begin, end int) {
	begin = r.Begin - 1
	if begin < 0 {
		begin = 0
	}
	end = r.End
	if end == 0 || end > refLen {
		end = refLen
	}
	return begin, end
}
