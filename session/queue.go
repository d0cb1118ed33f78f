package session

import (
	"encoding/json"
	"sync"
)

// Queue is the ordered outbound queue of user-originated payloads awaiting
// delivery to whichever transport is active. Enqueue never blocks and never
// drops; Drain removes a payload only after the sink accepts it, so a
// mid-drain failure leaves the undelivered tail queued in original order.
type Queue struct {
	mu    sync.Mutex
	drain sync.Mutex // serializes drainers; enqueue is never blocked by a sink
	items []json.RawMessage
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends a payload to the queue.
func (q *Queue) Enqueue(payload json.RawMessage) {
	q.mu.Lock()
	q.items = append(q.items, payload)
	q.mu.Unlock()
}

// Len returns the number of queued payloads.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain delivers all currently queued payloads, in order, to sink. Each
// payload is removed only after sink returns nil for it. If sink fails, the
// failed payload and everything behind it stay queued and the error is
// returned. Payloads enqueued while the sink is running are delivered too.
func (q *Queue) Drain(sink func(json.RawMessage) error) error {
	q.drain.Lock()
	defer q.drain.Unlock()

	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			return nil
		}
		head := q.items[0]
		q.mu.Unlock()

		if err := sink(head); err != nil {
			return err
		}

		q.mu.Lock()
		// Only a drainer removes items, and drainers are serialized, so the
		// head is still the payload just delivered.
		q.items = q.items[1:]
		q.mu.Unlock()
	}
}
