package telemetry

import "sync"

// Queue is an unbounded multi-producer FIFO. Put never blocks and never
// fails; consumers poll with TryGet or Drain. This mirrors the queue
// semantics the worker-supervisor boundary requires: producers must not
// stall the training loop, and a concurrent Clear must never trip a
// producer on a stale emptiness check.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
}

func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{}
}

// Put appends an item. Non-blocking by construction.
func (q *Queue[T]) Put(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
}

// TryGet pops the oldest item, reporting false when the queue is empty.
func (q *Queue[T]) TryGet() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return item, false
	}
	item = q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Drain pops every queued item in FIFO order. Returns nil when empty.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	drained := q.items
	q.items = nil
	return drained
}

// Len reports the current queue depth.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear discards all queued items. Idempotent, safe against concurrent
// producers.
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
}

// Channel is the telemetry pair connecting one worker to its supervisor:
// metrics flow out of the worker, commands flow in. Both directions are
// owned by the coordinator and reset at the start of every session so no
// stale messages from a previous worker leak into a new one.
type Channel struct {
	Metrics  *Queue[Message]
	Commands *Queue[Command]
}

func NewChannel() *Channel {
	return &Channel{
		Metrics:  NewQueue[Message](),
		Commands: NewQueue[Command](),
	}
}

// Reset discards any queued traffic in both directions.
func (c *Channel) Reset() {
	c.Metrics.Clear()
	c.Commands.Clear()
}
