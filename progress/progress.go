// Package progress tracks re-alignment pipeline counters and periodically
// logs them, the way markduplicates logs shard progress via log.Debug.
package progress

import (
	"fmt"
	"sync/atomic"

	"github.com/grailbio/base/log"
)

// logInterval is how often, in records seen, a progress line is emitted.
const logInterval = 100000

// Counters accumulates per-record outcomes across the whole run. All fields
// are updated with atomic adds since pipeline workers touch it concurrently.
type Counters struct {
	seen            int64
	skippedUnmapped int64
	skippedLowMapQ  int64
	softClipPassed  int64
	realigned       int64
	abortedHeap     int64
	abortedCoverage int64
}

// New returns a zeroed Counters.
func New() *Counters {
	return &Counters{}
}

// Seen records one record having passed through the pipeline, logging a
// progress line every logInterval records.
func (c *Counters) Seen() {
	n := atomic.AddInt64(&c.seen, 1)
	if n%logInterval == 0 {
		log.Debug.Printf("srma-realign: progress %s", c.String())
	}
}

// SkippedUnmapped records a record skipped for being unmapped.
func (c *Counters) SkippedUnmapped() { atomic.AddInt64(&c.skippedUnmapped, 1) }

// SkippedLowMapQ records a record skipped for having mapq below the minimum.
func (c *Counters) SkippedLowMapQ() { atomic.AddInt64(&c.skippedLowMapQ, 1) }

// SoftClipPassed records a record left untouched because it was soft-clipped.
func (c *Counters) SoftClipPassed() { atomic.AddInt64(&c.softClipPassed, 1) }

// Realigned records a record that the re-aligner rebuilt from a completed
// search; the rebuilt alignment may or may not differ from the original.
func (c *Counters) Realigned() { atomic.AddInt64(&c.realigned, 1) }

// AbortedHeap records a search that exceeded the heap size bound.
func (c *Counters) AbortedHeap() { atomic.AddInt64(&c.abortedHeap, 1) }

// AbortedCoverage records a search that exceeded the coverage bound.
func (c *Counters) AbortedCoverage() { atomic.AddInt64(&c.abortedCoverage, 1) }

// String renders a one-line snapshot of the counters.
func (c *Counters) String() string {
	return fmt.Sprintf(
		"seen=%d skipped_unmapped=%d skipped_low_mapq=%d soft_clip_passthrough=%d realigned=%d aborted_heap=%d aborted_coverage=%d",
		atomic.LoadInt64(&c.seen),
		atomic.LoadInt64(&c.skippedUnmapped),
		atomic.LoadInt64(&c.skippedLowMapQ),
		atomic.LoadInt64(&c.softClipPassed),
		atomic.LoadInt64(&c.realigned),
		atomic.LoadInt64(&c.abortedHeap),
		atomic.LoadInt64(&c.abortedCoverage),
	)
}
