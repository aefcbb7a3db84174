// Package events provides a publish/subscribe event bus connecting the
// live data feeds (state watch, MQTT subscriber) to their consumers
// (live-state window, activity recorder, watch-mode logging) and
// carrying assembly lifecycle events for observers. The bus is
// nil-safe: calling Publish on a nil *Bus is a no-op, so components do
// not need guard checks.
package events

import (
	"sync"
	"time"
)

// Source constants identify which component published an event.
const (
	// SourceStateWatch identifies events from the websocket state watch.
	SourceStateWatch = "statewatch"
	// SourceMQTT identifies events from the MQTT subscriber.
	SourceMQTT = "mqtt"
	// SourceAssembler identifies events from the prompt assembler.
	SourceAssembler = "assembler"
	// SourceConnWatch identifies events from the connection watcher.
	SourceConnWatch = "connwatch"
)

// Kind constants describe the type of event within a source.
const (
	// KindStateChanged signals an entity state transition.
	// Data: entity_id, old_state, new_state, area.
	KindStateChanged = "state_changed"
	// KindActivity signals device activity observed on a feed.
	// Data: entity_id, topic, payload_size.
	KindActivity = "activity"

	// KindAssemblyStart signals the beginning of a prompt assembly.
	// Data: conversation_id, utterance_len.
	KindAssemblyStart = "assembly_start"
	// KindAssemblyComplete signals a finished prompt assembly.
	// Data: conversation_id, input_tokens, dropped_messages,
	// over_budget, degraded_fragments, elapsed_ms.
	KindAssemblyComplete = "assembly_complete"
	// KindFragmentDegraded signals a fragment provider fell back to
	// its placeholder. Data: key.
	KindFragmentDegraded = "fragment_degraded"

	// KindEndpointDown signals a watched endpoint stopped responding.
	// Data: name, error.
	KindEndpointDown = "endpoint_down"
	// KindEndpointReady signals a watched endpoint became reachable.
	// Data: name, downtime_ms.
	KindEndpointReady = "endpoint_ready"
)

// Event represents a single operational event published by a component.
type Event struct {
	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"ts"`
	// Source identifies the component that published the event.
	Source string `json:"source"`
	// Kind describes the type of event within the source.
	Kind string `json:"kind"`
	// Data holds event-specific key/value pairs.
	Data map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel returned by Subscribe
	// back to the bidirectional channel stored in subs. This allows
	// Unsubscribe to accept <-chan Event (the caller's view) without
	// an illegal type conversion.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. Non-blocking: if a
// subscriber's channel is full, the event is dropped for that
// subscriber. Safe to call on a nil receiver (no-op).
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is full, drop the event rather than block.
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe to avoid resource leaks.
// bufSize controls the channel buffer; 64 is a reasonable default for
// feed consumers.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Safe to
// call with a channel that is already unsubscribed (no-op).
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
