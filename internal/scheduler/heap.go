package scheduler

import "container/heap"

// entry is one slot in the dispatcher's min-heap, ordered by FireAt.
type entry struct {
	job   Job
	index int
}

// jobHeap is a container/heap.Interface over pending entries, the
// dispatcher's sole in-memory view of not-yet-due jobs.
type jobHeap []*entry

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	return h[i].job.FireAt.Before(h[j].job.FireAt)
}
func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}

func (h *jobHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

var _ heap.Interface = (*jobHeap)(nil)
