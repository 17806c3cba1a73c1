package queue

import (
	"container/heap"
	"sync"
)

// Item is a single entry of the queue.
type Item[T any] struct {
	Value    T
	Priority int
	seq      uint64
	index    int
}

type itemHeap[T any] []*Item[T]

func (h itemHeap[T]) Len() int {
	return len(h)
}

// Less orders by priority (lower first), then by arrival so that items of
// equal priority come out in the order they went in.
func (h itemHeap[T]) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h itemHeap[T]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap[T]) Push(x any) {
	item := x.(*Item[T])
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *itemHeap[T]) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// Queue is a thread-safe priority queue that is FIFO within a priority.
// With a constant priority it behaves as a plain FIFO.
type Queue[T any] struct {
	heap itemHeap[T]
	next uint64
	mu   sync.Mutex
}

func New[T any]() *Queue[T] {
	q := &Queue[T]{
		heap: make(itemHeap[T], 0),
	}
	heap.Init(&q.heap)
	return q
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.heap.Len()
}

// Push appends value at the back of the FIFO.
func (q *Queue[T]) Push(value T) {
	q.Enqueue(value, 0)
}

// Enqueue adds value with the given priority.
func (q *Queue[T]) Enqueue(value T, priority int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.next++
	heap.Push(&q.heap, &Item[T]{
		Value:    value,
		Priority: priority,
		seq:      q.next,
	})
}

// Peek returns the head without removing it.
func (q *Queue[T]) Peek() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.heap.Len() == 0 {
		var zero T
		return zero, false
	}
	return q.heap[0].Value, true
}

// Dequeue removes and returns the head.
func (q *Queue[T]) Dequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.heap.Len() == 0 {
		var zero T
		return zero, false
	}

	item := heap.Pop(&q.heap).(*Item[T])
	return item.Value, true
}

// DequeueAll drains the queue in order.
func (q *Queue[T]) DequeueAll() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := make([]T, 0, q.heap.Len())
	for q.heap.Len() > 0 {
		item := heap.Pop(&q.heap).(*Item[T])
		items = append(items, item.Value)
	}
	return items
}

// Clear drops every queued item.
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.heap = q.heap[:0]
}
