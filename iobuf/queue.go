// File: iobuf/queue.go
// Author: momentics <momentics@gmail.com>
//
// Outbound FIFO of records with push-back-to-front for partial sends.

package iobuf

import "github.com/eapache/queue"

// Queue never holds an empty record. Not safe for concurrent use.
type Queue struct {
	front []*Record // stack; last element is the head
	ring  *queue.Queue
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{ring: queue.New()}
}

// PushBack appends r. Empty records are dropped.
func (q *Queue) PushBack(r *Record) {
	if r.Empty() {
		return
	}
	q.ring.Add(r)
}

// PushFront puts r at the head. Empty records are dropped.
func (q *Queue) PushFront(r *Record) {
	if r.Empty() {
		return
	}
	q.front = append(q.front, r)
}

// PopFront removes the head. An empty queue yields an empty record.
func (q *Queue) PopFront() *Record {
	if n := len(q.front); n > 0 {
		r := q.front[n-1]
		q.front[n-1] = nil
		q.front = q.front[:n-1]
		return r
	}
	if q.ring.Length() == 0 {
		return NewRecord(nil)
	}
	return q.ring.Remove().(*Record)
}

// Len is the number of queued records.
func (q *Queue) Len() int { return len(q.front) + q.ring.Length() }

// Empty reports Len() == 0.
func (q *Queue) Empty() bool { return q.Len() == 0 }

// Bytes sums the unconsumed bytes of all queued records.
func (q *Queue) Bytes() int {
	n := 0
	for _, r := range q.front {
		n += r.Size()
	}
	for i := 0; i < q.ring.Length(); i++ {
		n += q.ring.Get(i).(*Record).Size()
	}
	return n
}
