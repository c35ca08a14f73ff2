// Package waitqueue provides an ordered sequence of waiters supporting
// O(1) push-tail, shift-head and removal-by-handle. It is a thin generic
// wrapper over container/list.
package waitqueue

import "container/list"

// Queue is an ordered FIFO sequence of waiters of type T. The zero value is
// not usable; construct with New.
type Queue[T any] struct {
	l *list.List
}

// Node is a handle to a single element pushed onto a Queue. A Node
// remembers nothing about which Queue it came from beyond the underlying
// list element, so Remove is only safe to call against the Queue that
// produced the Node.
type Node[T any] struct {
	elem *list.Element
}

// New creates an empty Queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{l: list.New()}
}

// PushBack appends v to the tail of the queue and returns its handle.
func (q *Queue[T]) PushBack(v T) *Node[T] {
	return &Node[T]{elem: q.l.PushBack(v)}
}

// ShiftFront removes and returns the head of the queue. ok is false if the
// queue is empty.
func (q *Queue[T]) ShiftFront() (v T, ok bool) {
	front := q.l.Front()
	if front == nil {
		return v, false
	}
	q.l.Remove(front)
	return front.Value.(T), true
}

// Remove deletes the element identified by n from the queue, if it is
// still present. Calling Remove twice for the same node, or after the node
// has already left the queue through ShiftFront or RemoveMatching, is a
// safe no-op: Remove clears the Node's element after the first call, and
// container/list ignores an element that is no longer in the list.
// Cancellation races with delivery are resolved by the caller's own
// mutex, not here.
func (q *Queue[T]) Remove(n *Node[T]) {
	if n == nil || n.elem == nil {
		return
	}
	q.l.Remove(n.elem)
	n.elem = nil
}

// Len reports the number of waiters currently queued.
func (q *Queue[T]) Len() int {
	return q.l.Len()
}

// Clear empties the queue without visiting its elements.
func (q *Queue[T]) Clear() {
	q.l.Init()
}

// ForEach invokes f for every waiter in FIFO order. f must not mutate the
// queue; drain with ShiftFront/Remove for mutation instead.
func (q *Queue[T]) ForEach(f func(v T)) {
	for e := q.l.Front(); e != nil; e = e.Next() {
		f(e.Value.(T))
	}
}

// RemoveMatching deletes every element for which pred returns true and
// returns the removed values in FIFO order.
func (q *Queue[T]) RemoveMatching(pred func(v T) bool) []T {
	var removed []T
	for e := q.l.Front(); e != nil; {
		next := e.Next()
		if v := e.Value.(T); pred(v) {
			removed = append(removed, v)
			q.l.Remove(e)
		}
		e = next
	}
	return removed
}
