// Package events implements the event bus (C8): appends structured events
// into a project's document (capped ring, via internal/store) and fans
// each one out to live subscribers (the gateway's WebSocket change
// stream). The subscriber registry follows the conventional gorilla/
// websocket hub shape: a mutex-guarded set of buffered channels, one per
// connection, dropped silently on send-would-block.
package events

import (
	"sync"
	"time"

	"github.com/agentkanban/orchestrator/internal/idgen"
	"github.com/agentkanban/orchestrator/internal/types"
)

// Envelope is the change-stream message shape broadcast to subscribers.
type Envelope struct {
	Type      string        `json:"type"`
	ProjectID string        `json:"project_id,omitempty"`
	Task      *types.Task   `json:"task,omitempty"`
	Event     *types.Event  `json:"event,omitempty"`
	Worker    *types.Worker `json:"worker,omitempty"`
}

// subscriberBuffer is how many pending envelopes a slow subscriber may
// accumulate before being dropped.
const subscriberBuffer = 64

// Bus is the in-process pub/sub hub. It holds no durable state itself —
// callers persist an event with Append inside a store.Store mutation and
// then hand it to Broadcast.
type Bus struct {
	mu   sync.Mutex
	subs map[chan Envelope]struct{}
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[chan Envelope]struct{})}
}

// Subscribe registers a new subscriber channel. Callers must range over
// the returned channel until Unsubscribe is called (e.g. on connection
// close) to avoid leaking the goroutine reading from it.
func (b *Bus) Subscribe() chan Envelope {
	ch := make(chan Envelope, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (b *Bus) Unsubscribe(ch chan Envelope) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Broadcast delivers env to every current subscriber. A subscriber whose
// buffer is full has the envelope dropped for it rather than blocking the
// publisher — connection loss (or a stalled reader) silently drops
// updates for that one subscriber only.
func (b *Bus) Broadcast(env Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- env:
		default:
		}
	}
}

// NewEvent constructs an Event record ready to append to a project
// document; it does not persist or broadcast — callers combine this with
// store.Store.MutateTasks and Bus.Broadcast (internal/kernel does this).
func NewEvent(eventType string, level types.EventLevel, taskID, workerID, message string, meta map[string]any) types.Event {
	return types.Event{
		ID:        idgen.NewEventID(),
		Type:      eventType,
		Level:     level,
		TaskID:    taskID,
		WorkerID:  workerID,
		Message:   message,
		Meta:      meta,
		CreatedAt: time.Now().UTC(),
	}
}

// Append adds ev to doc's event ring. The ring's cap is enforced by
// store.Store on write (normalizeDocument); Append here just keeps the
// in-memory document consistent between mutate and write.
func Append(doc *types.Document, ev types.Event) {
	doc.Events = append(doc.Events, ev)
}

// Acknowledge marks the named event acknowledged by who, returning false
// if no such event exists in doc.
func Acknowledge(doc *types.Document, eventID, who string) bool {
	for i := range doc.Events {
		if doc.Events[i].ID == eventID {
			now := time.Now().UTC()
			doc.Events[i].Acknowledged = true
			doc.Events[i].AcknowledgedAt = &now
			doc.Events[i].AcknowledgedBy = who
			return true
		}
	}
	return false
}
