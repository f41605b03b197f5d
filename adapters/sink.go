package adapters

import (
	"compress/gzip"
	"io"

	"github.com/biogo/hts/bam"
	"github.com/biogo/hts/sam"
	"github.com/grailbio/srma/errkind"
)

// Sink writes re-aligned records back out, either one writer per input
// (1:1 pairing, selected by the record's source index) or a single merged
// writer shared by every input when a header template collapses them.
type Sink struct {
	writers []*bam.Writer
	merged  bool
}

// NewSink creates one *bam.Writer per (output, header) pair. When merged is
// true, every record is written to writers[0] regardless of source index;
// this mirrors the -b flag, which lets multiple inputs share one output.
func NewSink(outputs []io.Writer, headers []*sam.Header, merged bool, parallelism int) (*Sink, error) {
	if len(outputs) != len(headers) {
		return nil, errkind.New(errkind.CommandLineArgument, "output/header count mismatch")
	}
	s := &Sink{merged: merged}
	for i, out := range outputs {
		w, err := bam.NewWriterLevel(out, headers[i], gzip.DefaultCompression, parallelism)
		if err != nil {
			return nil, errkind.Wrap(errkind.OpenFileError, err, "output", i)
		}
		s.writers = append(s.writers, w)
	}
	return s, nil
}

// Write routes r to the writer selected by sourceIdx (or the single merged
// writer, if merged).
func (s *Sink) Write(r *sam.Record, sourceIdx int) error {
	w := s.writers[0]
	if !s.merged {
		w = s.writers[sourceIdx]
	}
	if err := w.Write(r); err != nil {
		return errkind.Wrap(errkind.WriteFileError, err, "source", sourceIdx)
	}
	return nil
}

// Close closes every writer, returning the first error encountered.
func (s *Sink) Close() error {
	var first error
	for i, w := range s.writers {
		if err := w.Close(); err != nil && first == nil {
			first = errkind.Wrap(errkind.WriteFileError, err, "output", i)
		}
	}
	return first
}
