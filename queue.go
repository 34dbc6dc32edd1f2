// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package jrpc2

// A queue holds a FIFO sequence of inbound request batches waiting to be
// dispatched by a Server. Each element is a whole batch (a single request
// decodes to a batch of length 1), so that the server's serve loop can pop
// one unit of work at a time without splitting a batch across goroutines.
//
// A queue is not safe for concurrent use; the server serializes access to it
// under its own mutex.
type queue struct {
	batches []jmessages
}

func newQueue() *queue { return new(queue) }

func (q *queue) isEmpty() bool { return len(q.batches) == 0 }

func (q *queue) size() int { return len(q.batches) }

// push appends batch to the end of the queue.
func (q *queue) push(batch jmessages) { q.batches = append(q.batches, batch) }

// pop removes and returns the batch at the front of the queue.
// The caller must ensure the queue is not empty.
func (q *queue) pop() jmessages {
	next := q.batches[0]
	q.batches[0] = nil // drop the reference before shrinking
	q.batches = q.batches[1:]
	return next
}

// each calls f for each batch currently in the queue, in order, without
// removing them.
func (q *queue) each(f func(jmessages)) {
	for _, batch := range q.batches {
		f(batch)
	}
}

// reset discards all batches in the queue.
func (q *queue) reset() { q.batches = nil }
