// Package topk provides a bounded collector for the k best (closest)
// candidates of a scan. Ordering is by ascending distance with ties broken
// by ascending ID, so repeated identical queries return identical results.
package topk

import "container/heap"

// Candidate is a scored entry under consideration.
type Candidate struct {
	ID       string
	Distance float32
}

// Less reports whether c ranks strictly better (closer) than other.
func (c Candidate) Less(other Candidate) bool {
	if c.Distance != other.Distance {
		return c.Distance < other.Distance
	}
	return c.ID < other.ID
}

// Collector accumulates the k best candidates seen so far.
// It is not safe for concurrent use; use one Collector per scan and
// merge results afterwards.
type Collector struct {
	k     int
	items maxHeap
}

// NewCollector creates a collector retaining the k best candidates.
// k must be positive.
func NewCollector(k int) *Collector {
	return &Collector{
		k:     k,
		items: make(maxHeap, 0, k),
	}
}

// Push offers a candidate to the collector.
func (c *Collector) Push(id string, dist float32) {
	cand := Candidate{ID: id, Distance: dist}
	if len(c.items) < c.k {
		heap.Push(&c.items, cand)
		return
	}
	// Full: replace the current worst if the candidate beats it.
	if cand.Less(c.items[0]) {
		c.items[0] = cand
		heap.Fix(&c.items, 0)
	}
}

// Worst returns the current worst retained candidate and whether the
// collector is full. Useful for pruning scans early.
func (c *Collector) Worst() (Candidate, bool) {
	if len(c.items) < c.k {
		return Candidate{}, false
	}
	return c.items[0], true
}

// Len returns the number of retained candidates.
func (c *Collector) Len() int { return len(c.items) }

// Results drains the collector and returns candidates ordered by ascending
// distance, ties by ascending ID. The collector is empty afterwards.
func (c *Collector) Results() []Candidate {
	out := make([]Candidate, len(c.items))
	for i := len(c.items) - 1; i >= 0; i-- {
		out[i] = heap.Pop(&c.items).(Candidate)
	}
	return out
}

// maxHeap keeps the worst candidate at the root so it can be evicted in
// O(log k) when a better one arrives.
type maxHeap []Candidate

func (h maxHeap) Len() int           { return len(h) }
func (h maxHeap) Less(i, j int) bool { return h[j].Less(h[i]) }
func (h maxHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *maxHeap) Push(x any) {
	*h = append(*h, x.(Candidate))
}

func (h *maxHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
