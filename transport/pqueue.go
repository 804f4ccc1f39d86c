// Outbound parcel priority queue, spec §4.2: a min-heap ordered by
// (channel-rank, priority-rank, object-id, sequence-number). Header
// parcels (seqno 0) sort before their own data parcels; ties across
// different objects of the same class break by send order, which falls
// out naturally from sequentially assigned object-ids.
/*
 * Copyright (c) 2018-2023, NVIDIA CORPORATION. All rights reserved.
 */
package transport

import "container/heap"

type pqItem struct {
	p   *parcel
	idx int
}

type parcelHeap []*pqItem

func (h parcelHeap) Len() int { return len(h) }

func (h parcelHeap) Less(i, j int) bool {
	a, b := h[i].p, h[j].p
	if ra, rb := channelRank(a.Channel), channelRank(b.Channel); ra != rb {
		return ra < rb
	}
	if ra, rb := priorityRank(a.Priority), priorityRank(b.Priority); ra != rb {
		return ra < rb
	}
	if a.ObjectID != b.ObjectID {
		return a.ObjectID < b.ObjectID
	}
	return a.SeqNo < b.SeqNo
}

func (h parcelHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].idx, h[j].idx = i, j
}

func (h *parcelHeap) Push(x any) {
	it := x.(*pqItem)
	it.idx = len(*h)
	*h = append(*h, it)
}

func (h *parcelHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// pqueue is the bounded, thread-safe parcel queue feeding Stage B of the
// send scheduler (spec §4.2 "parcel-queue-capacity"). push reports false
// when full rather than blocking; send.go's pushParcelBlocking then
// drains parcels itself until room opens, which is the backpressure
// Stage A sees.
type pqueue struct {
	cap  int
	sig  chan struct{} // buffered 1; signals "something to pop"
	mu   chan struct{} // binary mutex-as-channel so signals can interrupt
	heap parcelHeap

	full chan struct{} // used to park pushers when at capacity
}

func newPQueue(capacity int) *pqueue {
	q := &pqueue{
		cap:  capacity,
		sig:  make(chan struct{}, 1),
		mu:   make(chan struct{}, 1),
		full: make(chan struct{}),
	}
	q.mu <- struct{}{}
	heap.Init(&q.heap)
	return q
}

func (q *pqueue) lock()   { <-q.mu }
func (q *pqueue) unlock() { q.mu <- struct{}{} }

func (q *pqueue) notify() {
	select {
	case q.sig <- struct{}{}:
	default:
	}
}

// push enqueues p, reporting false if the queue was at capacity.
// pushParcelBlocking (send.go) is the caller of record: Stage A and
// Stage B share one goroutine, so it can't simply wait here for Stage B
// to free room - instead it retries this call interleaved with draining
// a parcel itself.
func (q *pqueue) push(p *parcel) bool {
	q.lock()
	defer q.unlock()
	if len(q.heap) >= q.cap {
		return false
	}
	heap.Push(&q.heap, &pqItem{p: p})
	q.notify()
	return true
}

// pushSignal bypasses capacity checks entirely: signals always get in
// (spec §4.2, "Signals bypass the input queue ... pushed directly").
func (q *pqueue) pushSignal(p *parcel) {
	q.lock()
	heap.Push(&q.heap, &pqItem{p: p})
	q.notify()
	q.unlock()
}

func (q *pqueue) tryPop() (*parcel, bool) {
	q.lock()
	defer q.unlock()
	if len(q.heap) == 0 {
		return nil, false
	}
	it := heap.Pop(&q.heap).(*pqItem)
	return it.p, true
}

func (q *pqueue) len() int {
	q.lock()
	defer q.unlock()
	return len(q.heap)
}

// wait blocks until the queue is non-empty or stop fires.
func (q *pqueue) wait(stop <-chan struct{}) {
	if q.len() > 0 {
		return
	}
	select {
	case <-q.sig:
	case <-stop:
	}
}
