// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package kernel

// queue is the per-session FIFO of requests awaiting transmission.
// It is owned by the session run loop and not safe for concurrent
// use.
type queue struct {
	items []*request
	// limit caps the queue length; zero or negative means unbounded.
	limit int
}

func newQueue(limit int) *queue {
	return &queue{limit: limit}
}

func (q *queue) push(r *request) error {
	if q.limit > 0 && len(q.items) >= q.limit {
		return ErrQueueFull
	}
	q.items = append(q.items, r)
	return nil
}

// pop removes and returns the head, or nil when empty.
func (q *queue) pop() *request {
	if len(q.items) == 0 {
		return nil
	}
	head := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return head
}

// remove takes the request with the given message ID out of the queue,
// returning nil if it is not queued.
func (q *queue) remove(id string) *request {
	for i, r := range q.items {
		if r.msg.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return r
		}
	}
	return nil
}

// drain empties the queue, returning the removed requests in order.
func (q *queue) drain() []*request {
	drained := q.items
	q.items = nil
	return drained
}

func (q *queue) len() int {
	return len(q.items)
}
