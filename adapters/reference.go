package adapters

import (
	"github.com/grailbio/srma/encoding/fasta"
	"github.com/grailbio/srma/errkind"
)

// refWindowPad is how far past a requested span the window adapter
// over-fetches, so that a handful of neighboring requests that creep past
// the previous span by a few bases don't each trigger their own re-fetch.
const refWindowPad = 500

// RefWindow caches the most recently fetched slice of a single contig's
// reference sequence, re-fetching from the underlying fasta.Fasta only when
// a request falls outside the cached [begin,end) window, the same
// mutable-window-with-refetch strategy the original implementation uses to
// avoid re-reading the whole contig on every query.
type RefWindow struct {
	fa fasta.Fasta

	contig     string
	begin, end uint64
	seq        []byte
}

// NewRefWindow wraps fa with an empty window.
func NewRefWindow(fa fasta.Fasta) *RefWindow {
	return &RefWindow{fa: fa}
}

// Fetch returns the reference bases on contig over [begin,end) (0-based,
// half-open), re-fetching the cached window if the request falls outside it.
func (w *RefWindow) Fetch(contig string, begin, end int) ([]byte, error) {
	b, e := uint64(begin), uint64(end)
	if contig != w.contig || b < w.begin || e > w.end {
		if err := w.refetch(contig, b, e); err != nil {
			return nil, err
		}
	}
	return w.seq[b-w.begin : e-w.begin], nil
}

func (w *RefWindow) refetch(contig string, begin, end uint64) error {
	length, err := w.fa.Len(contig)
	if err != nil {
		return errkind.Wrap(errkind.ReadFileError, err, "reference contig:", contig)
	}
	newBegin := uint64(0)
	if begin > refWindowPad {
		newBegin = begin - refWindowPad
	}
	newEnd := end + refWindowPad
	if newEnd > length {
		newEnd = length
	}
	seq, err := w.fa.Get(contig, newBegin, newEnd)
	if err != nil {
		return errkind.Wrap(errkind.ReadFileError, err, "reference contig:", contig)
	}
	w.contig = contig
	w.begin = newBegin
	w.end = newEnd
	w.seq = []byte(seq)
	return nil
}
