package server

import (
	"log"
	"sync"
)

// Sender is the broadcaster's view of a client handle: one serialized
// JSON write that either lands or permanently fails.
type Sender interface {
	WriteJSON(v interface{}) error
}

// Broadcaster fans telemetry out to the live client set. Send failures
// are contained per client: a dead peer is marked during the pass and
// pruned after it, never mid-iteration, and never disturbs delivery to
// its neighbors.
type Broadcaster struct {
	mu      sync.Mutex
	clients map[Sender]struct{}
}

// NewBroadcaster returns an empty client set.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{clients: make(map[Sender]struct{})}
}

// Register adds a client handle to the live set.
func (b *Broadcaster) Register(c Sender) {
	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.mu.Unlock()
}

// Unregister removes a client handle. Idempotent.
func (b *Broadcaster) Unregister(c Sender) {
	b.mu.Lock()
	delete(b.clients, c)
	b.mu.Unlock()
}

// Count reports the live client count.
func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Broadcast attempts delivery to every live client. Per-client order is
// FIFO because each call completes its pass before the next message is
// drained; no ordering holds across distinct clients.
func (b *Broadcaster) Broadcast(msg interface{}) {
	b.mu.Lock()
	snapshot := make([]Sender, 0, len(b.clients))
	for c := range b.clients {
		snapshot = append(snapshot, c)
	}
	b.mu.Unlock()

	var dead []Sender
	for _, c := range snapshot {
		if err := c.WriteJSON(msg); err != nil {
			dead = append(dead, c)
		}
	}

	if len(dead) > 0 {
		b.mu.Lock()
		for _, c := range dead {
			delete(b.clients, c)
		}
		b.mu.Unlock()
		log.Printf("broadcast: pruned %d dead client(s), %d remain", len(dead), b.Count())
	}
}

// SendTo unicasts to one client, pruning it on failure.
func (b *Broadcaster) SendTo(c Sender, msg interface{}) {
	if err := c.WriteJSON(msg); err != nil {
		b.Unregister(c)
	}
}
