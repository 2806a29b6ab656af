package notify

import (
	"context"
	"encoding/json"
	"sync"

	incidentapp "safety-cloud/internal/incidents/application"
)

const clientBuffer = 16

// Message is one encoded event for a subscriber.
type Message struct {
	Event string
	Data  []byte
}

// SSEBroker fans out incident events to connected dashboard clients.
// Slow clients drop events rather than block the publisher.
type SSEBroker struct {
	mu      sync.Mutex
	clients map[chan Message]struct{}
	closed  bool
}

// NewSSEBroker constructs a broker.
func NewSSEBroker() *SSEBroker {
	return &SSEBroker{clients: make(map[chan Message]struct{})}
}

// Notify implements IncidentNotifier.
func (b *SSEBroker) Notify(_ context.Context, event incidentapp.IncidentEvent) {
	if b == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	b.broadcast(Message{Event: "incident." + event.Type, Data: payload})
}

// Subscribe registers a new client channel.
func (b *SSEBroker) Subscribe() chan Message {
	if b == nil {
		return nil
	}
	ch := make(chan Message, clientBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.clients[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a client channel.
func (b *SSEBroker) Unsubscribe(ch chan Message) {
	if b == nil || ch == nil {
		return
	}
	b.mu.Lock()
	if _, ok := b.clients[ch]; ok {
		delete(b.clients, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Close disconnects every client and refuses new subscriptions. Stream
// handlers return once their channel is closed.
func (b *SSEBroker) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.clients {
		delete(b.clients, ch)
		close(ch)
	}
}

// Clients returns the number of connected clients.
func (b *SSEBroker) Clients() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// broadcast holds the lock while sending so Unsubscribe cannot close a
// channel mid-send.
func (b *SSEBroker) broadcast(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}
