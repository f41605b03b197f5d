// Package pipeline drives the re-aligner end to end: for each requested
// genomic range it streams records from the inputs, threads them through a
// variation graph and the graph-guided re-aligner with a fixed worker pool,
// and emits them back out in coordinate order. Ported from
// original_source/c-code/src/srma.c's main loop.
package pipeline

import (
	"sync"

	"github.com/biogo/hts/sam"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/srma/adapters"
	"github.com/grailbio/srma/errkind"
	"github.com/grailbio/srma/graph"
	"github.com/grailbio/srma/progress"
	"github.com/grailbio/srma/rangeset"
	"github.com/grailbio/srma/realign"
	"github.com/grailbio/srma/reclist"
)

// Block is the number of records a worker claims from a shared list at a
// time, the same batching the original implementation uses to amortize its
// list mutex over many records instead of taking it once per record.
const Block = 256

// Config holds the tunables exposed on the command line.
type Config struct {
	Offset       int32
	MinMapQ      int
	NumThreads   int
	MaxQueueSize int

	MinAlleleCoverage int32
	MinAlleleProb     float64

	Realign realign.Options
}

// Reference fetches reference bases for a contig span, 0-based half-open.
type Reference interface {
	Fetch(contig string, begin, end int) ([]byte, error)
}

// Source supplies records in ascending coordinate order, scoped to whatever
// range ChangeRange last selected. adapters.Source implements this.
type Source interface {
	ChangeRange(contigIdx, begin, end int) error
	Next() (adapters.Envelope, bool, error)
}

// Sink writes a re-aligned record back out, routed by the source index it
// originally came from. adapters.Sink implements this.
type Sink interface {
	Write(rec *sam.Record, sourceIdx int) error
}

type graphTask struct {
	rec       *sam.Record
	sourceIdx int
	skip      bool // unmapped, low mapq, or otherwise ineligible for the graph
}

type alignTask struct {
	rec       *sam.Record
	sourceIdx int
	anchor    *graph.Node
}

// Pipeline is the per-run driver: one instance processes every requested
// range against one set of inputs and outputs.
type Pipeline struct {
	src     Source
	sink    Sink
	ref     Reference
	cfg     Config
	cutoffs *graph.CoverageCutoffs
	metrics *progress.Counters

	g *graph.Graph

	graphListMu sync.Mutex
	toGraph     []graphTask

	alignListMu sync.Mutex
	toAlign     []alignTask

	graphMu sync.Mutex

	outMu     sync.Mutex
	out       *reclist.List
	outSource map[*sam.Record]int

	lastContig int32
	lastPos    int32
}

// New creates a Pipeline. contigIndex is resolved per-range by the caller
// via header lookups, so New takes no contig information itself.
func New(src Source, sink Sink, ref Reference, cfg Config, metrics *progress.Counters) *Pipeline {
	return &Pipeline{
		src:        src,
		sink:       sink,
		ref:        ref,
		cfg:        cfg,
		cutoffs:    graph.NewCoverageCutoffs(cfg.MinAlleleCoverage, cfg.MinAlleleProb),
		metrics:    metrics,
		out:        reclist.NewList(),
		outSource:  make(map[*sam.Record]int),
		lastContig: -1,
	}
}

// contigResolver maps a contig name to its 0-based index and length, the
// same lookup each input's header already performs internally.
type contigResolver func(name string) (idx, length int, ok bool)

// Run processes every range in order against resolve, which must resolve a
// contig name against the (shared) output header.
func (p *Pipeline) Run(ranges []rangeset.Range, resolve contigResolver) error {
	for _, r := range ranges {
		idx, length, ok := resolve(r.Contig)
		if !ok {
			return errkind.New(errkind.OutOfRange, "unknown contig:", r.Contig)
		}
		if err := p.processRange(int32(idx), r, length); err != nil {
			return err
		}
	}
	return p.finish()
}

func (p *Pipeline) processRange(contigIdx int32, r rangeset.Range, contigLen int) error {
	input := r.Expand(int(p.cfg.Offset))
	begin, end := adapters.RangeBounds(input, contigLen)
	if err := p.src.ChangeRange(int(contigIdx), begin, end); err != nil {
		return err
	}
	p.g = graph.NewGraph()
	p.toGraph = nil
	p.toAlign = nil

	for {
		env, ok, err := p.src.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		rec := env.Record
		p.metrics.Seen()

		coord := recCoordKey(rec)
		if coord < p.lastKey() {
			return errkind.New(errkind.OutOfRange, "unsorted input at", rec.Name)
		}
		p.setLastKey(rec)

		skip := rec.Ref == nil || rec.Flags&sam.Unmapped != 0
		if skip {
			p.metrics.SkippedUnmapped()
		} else if rec.MapQ < byte(p.cfg.MinMapQ) {
			skip = true
			p.metrics.SkippedLowMapQ()
		}

		p.graphListMu.Lock()
		p.toGraph = append(p.toGraph, graphTask{rec: rec, sourceIdx: env.SourceIdx, skip: skip})
		full := len(p.toGraph) >= p.cfg.MaxQueueSize
		p.graphListMu.Unlock()

		if full {
			if err := p.drainToGraph(contigIdx); err != nil {
				return err
			}
			if err := p.maybeDrainToAlign(); err != nil {
				return err
			}
		}
	}

	if err := p.drainToGraph(contigIdx); err != nil {
		return err
	}
	if err := p.drainToAlign(); err != nil {
		return err
	}
	return p.emit(false)
}

func (p *Pipeline) maybeDrainToAlign() error {
	p.alignListMu.Lock()
	full := len(p.toAlign) >= p.cfg.MaxQueueSize
	p.alignListMu.Unlock()
	if full {
		return p.drainToAlign()
	}
	return nil
}

// drainToGraph takes ownership of every record currently queued, adds the
// eligible ones to the graph under the worker pool, and appends the
// resulting anchors to the to-align list. Ineligible (skipped) records are
// written straight to the output list.
func (p *Pipeline) drainToGraph(contigIdx int32) error {
	p.graphListMu.Lock()
	items := p.toGraph
	p.toGraph = nil
	p.graphListMu.Unlock()
	if len(items) == 0 {
		return nil
	}
	log.Debug.Printf("draining %d records to graph", len(items))

	var cursor int
	var cursorMu sync.Mutex
	claim := func() []graphTask {
		cursorMu.Lock()
		defer cursorMu.Unlock()
		if cursor >= len(items) {
			return nil
		}
		end := cursor + Block
		if end > len(items) {
			end = len(items)
		}
		block := items[cursor:end]
		cursor = end
		return block
	}

	var wg sync.WaitGroup
	errOnce := errors.Once{}
	workers := p.cfg.NumThreads
	if workers < 1 {
		workers = 1
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				block := claim()
				if block == nil {
					return
				}
				for _, task := range block {
					if err := p.addToGraph(contigIdx, task); err != nil {
						errOnce.Set(err)
						return
					}
				}
			}
		}()
	}
	wg.Wait()
	return errOnce.Err()
}

func (p *Pipeline) addToGraph(contigIdx int32, task graphTask) error {
	if task.skip {
		p.insertOutput(task.rec, task.sourceIdx)
		return nil
	}

	seq := task.rec.Seq.Expand()
	refBases, err := p.ref.Fetch(task.rec.Ref.Name(), task.rec.Start(), task.rec.End())
	if err != nil {
		return errkind.Wrap(errkind.ReadFileError, err, "reference fetch for", task.rec.Name)
	}
	aln, err := graph.Decompose(task.rec.Cigar, seq, refBases)
	if err != nil {
		// Can't be placed in the graph (e.g. fully soft-clipped); pass it
		// through unmodified, same as an ineligible record.
		p.insertOutput(task.rec, task.sourceIdx)
		return nil
	}

	reverse := task.rec.Flags&sam.Reverse != 0
	p.graphMu.Lock()
	anchor := p.g.AddRecord(contigIdx, int32(task.rec.Pos)+1, aln, reverse)
	p.graphMu.Unlock()

	p.alignListMu.Lock()
	p.toAlign = append(p.toAlign, alignTask{rec: task.rec, sourceIdx: task.sourceIdx, anchor: anchor})
	p.alignListMu.Unlock()
	return nil
}

// drainToAlign takes ownership of every record currently queued for
// re-alignment, runs the search under the worker pool, and pushes the
// results (whether changed or not) to the output list. It then prunes the
// graph back to the farthest position just processed.
func (p *Pipeline) drainToAlign() error {
	p.alignListMu.Lock()
	items := p.toAlign
	p.toAlign = nil
	p.alignListMu.Unlock()
	if len(items) == 0 {
		return nil
	}
	log.Debug.Printf("draining %d records to align", len(items))

	var cursor int
	var cursorMu sync.Mutex
	claim := func() []alignTask {
		cursorMu.Lock()
		defer cursorMu.Unlock()
		if cursor >= len(items) {
			return nil
		}
		end := cursor + Block
		if end > len(items) {
			end = len(items)
		}
		block := items[cursor:end]
		cursor = end
		return block
	}

	var wg sync.WaitGroup
	workers := p.cfg.NumThreads
	if workers < 1 {
		workers = 1
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				block := claim()
				if block == nil {
					return
				}
				for _, task := range block {
					out := realign.Record(p.g, task.rec, task.anchor, p.cutoffs, p.cfg.Realign)
					if out != task.rec {
						p.metrics.Realigned()
					}
					p.insertOutput(out, task.sourceIdx)
				}
			}
		}()
	}
	wg.Wait()

	var maxPos int32 = -1
	for _, t := range items {
		if pos := int32(t.rec.Pos) + 1; pos > maxPos {
			maxPos = pos
		}
	}
	if maxPos >= 0 {
		p.graphMu.Lock()
		p.g.Prune(p.g.Contig-1, maxPos, p.cfg.Offset)
		p.graphMu.Unlock()
	}
	return nil
}

func (p *Pipeline) insertOutput(rec *sam.Record, sourceIdx int) {
	refID := -1
	if rec.Ref != nil {
		refID = rec.Ref.ID()
	}
	p.outMu.Lock()
	p.outSource[rec] = sourceIdx
	p.out.Insert(refID, rec)
	p.outMu.Unlock()
}

// emit writes out every buffered output record that can no longer be
// touched by a future re-alignment: records strictly before the graph's
// current leading edge on the graph's contig, or on any earlier contig.
// When flush is true (end of input), everything still buffered is written.
func (p *Pipeline) emit(flush bool) error {
	p.outMu.Lock()
	var records []*sam.Record
	if flush || p.g == nil || p.g.IsEmpty {
		records = p.out.Drain()
	} else {
		records = p.out.PopBefore(int(p.g.Contig-1), int(p.g.PositionStart-1))
	}
	sources := make([]int, len(records))
	for i, rec := range records {
		sources[i] = p.outSource[rec]
		delete(p.outSource, rec)
	}
	p.outMu.Unlock()

	for i, rec := range records {
		if err := p.sink.Write(rec, sources[i]); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) finish() error {
	return p.emit(true)
}

func (p *Pipeline) lastKey() int64 {
	return packKey(p.lastContig, p.lastPos)
}

func (p *Pipeline) setLastKey(rec *sam.Record) {
	if rec.Ref == nil {
		return
	}
	p.lastContig = int32(rec.Ref.ID())
	p.lastPos = int32(rec.Pos)
}

func recCoordKey(rec *sam.Record) int64 {
	if rec.Ref == nil {
		return packKey(1<<30, 0)
	}
	return packKey(int32(rec.Ref.ID()), int32(rec.Pos))
}

func packKey(contig, pos int32) int64 {
	return int64(contig)<<32 | int64(uint32(pos))
}
