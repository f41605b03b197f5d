package search

import (
	"sort"

	"github.com/grailbio/srma/graph"
)

// Heap is a sorted priority queue of cell-pool indices, ordered by Compare.
// It plays the role of sw_heap_t: the queue and the cell arena it draws
// from share a lifetime, so a cell can be queued, dequeued, and referenced
// again later (via another cell's PrevIndex) without being copied or freed
// out from under the backtrace.
type Heap struct {
	Type HeapType
	Pool *Pool

	queue []int32
}

// NewHeap returns an empty heap of the given type, with its cell pool
// pre-sized to size.
func NewHeap(heapType HeapType, size int32) *Heap {
	return &Heap{Type: heapType, Pool: NewPool(size), queue: make([]int32, 0, size)}
}

// NewCell allocates a fresh cell from the heap's pool and returns its
// index; it is not queued until a subsequent call to Add.
func (h *Heap) NewCell() int32 {
	return h.Pool.Get()
}

// Add inserts the cell at index idx into the queue, maintaining sort order
// under Compare.
func (h *Heap) Add(idx int32) {
	cell := h.Pool.At(idx)
	i := sort.Search(len(h.queue), func(i int) bool {
		return Compare(h.Pool.At(h.queue[i]), cell, h.Type) >= 0
	})
	h.queue = append(h.queue, 0)
	copy(h.queue[i+1:], h.queue[i:])
	h.queue[i] = idx
}

// Poll removes and returns the index of the lowest-ordered queued cell, or
// -1 if the queue is empty.
func (h *Heap) Poll() int32 {
	if len(h.queue) == 0 {
		return -1
	}
	idx := h.queue[0]
	h.queue = h.queue[1:]
	return idx
}

// Peek returns the index of the lowest-ordered queued cell without removing
// it, or -1 if the queue is empty.
func (h *Heap) Peek() int32 {
	if len(h.queue) == 0 {
		return -1
	}
	return h.queue[0]
}

// Len reports the number of cells currently queued.
func (h *Heap) Len() int32 {
	return int32(len(h.queue))
}

// Reset empties the queue without releasing previously allocated cells, so
// earlier cells remain addressable (e.g. for a backtrace already in
// progress) until Clear is called. Ported from sw_heap_reset.
func (h *Heap) Reset() {
	h.queue = h.queue[:0]
}

// Clear empties the queue and releases the whole cell pool, readying the
// heap for the next record. Ported from sw_heap_clear.
func (h *Heap) Clear() {
	h.queue = h.queue[:0]
	h.Pool.Reset()
}

// CompactDuplicates drops the worse-scoring of any two adjacent queued
// cells that reached the same graph node after consuming the same amount
// of read; insertion nodes are exempt, since two distinct insertion paths
// through the same position are not interchangeable. Ties are broken by
// CoverageSum, keeping the higher one, matching sw_align's (score,
// coverage_sum) lexicographic comparison. The queue's sort order under
// Compare guarantees such cells are adjacent, so one linear pass suffices.
// Ported from the per-iteration column merge in sw_align_bound and
// sw_align.
func (h *Heap) CompactDuplicates() {
	i := 0
	for i < len(h.queue)-1 {
		a := h.Pool.At(h.queue[i])
		b := h.Pool.At(h.queue[i+1])
		if a.Node == b.Node && a.ReadOffset == b.ReadOffset && a.Node.Type != graph.Insertion {
			drop := i + 1
			if b.Score > a.Score || (b.Score == a.Score && b.CoverageSum > a.CoverageSum) {
				drop = i
			}
			h.queue = append(h.queue[:drop], h.queue[drop+1:]...)
			continue
		}
		i++
	}
}
</content>
