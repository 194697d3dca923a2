// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package reconciler

import (
	"fmt"
	"sync"
)

// EventKind identifies what triggered a reconciliation pass.
type EventKind string

const (
	// EventStarted is queued once when the worker starts.
	EventStarted EventKind = "started"
	// EventResourceChanged is queued when a resource binding changes state.
	EventResourceChanged EventKind = "resource-changed"
	// EventRelationChanged is queued when a relation instance is created,
	// changes state or receives remote settings.
	EventRelationChanged EventKind = "relation-changed"
	// EventConfigChanged is queued when the charm settings change.
	EventConfigChanged EventKind = "config-changed"
	// EventTimer is queued by the periodic resync timer.
	EventTimer EventKind = "timer"
	// EventForced is queued by an explicit reconcile request.
	EventForced EventKind = "forced"
)

// Event is a single trigger for reconciliation.
type Event struct {
	Kind EventKind
	// Subject optionally names what changed, eg. the resource name.
	Subject string
}

func (e Event) String() string {
	if e.Subject == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s(%s)", e.Kind, e.Subject)
}

// EventQueue funnels events from any number of producers to the single
// reconciliation consumer. Producers never block. Events queued before the
// consumer drains are collapsed into one batch.
type EventQueue struct {
	mu      sync.Mutex
	pending []Event
	seen    map[Event]bool
	ready   chan struct{}
}

// NewEventQueue returns an empty EventQueue.
func NewEventQueue() *EventQueue {
	return &EventQueue{
		seen:  make(map[Event]bool),
		ready: make(chan struct{}, 1),
	}
}

// Push queues an event. Duplicates of an event that is already pending are
// dropped.
func (q *EventQueue) Push(e Event) {
	q.mu.Lock()
	if !q.seen[e] {
		q.seen[e] = true
		q.pending = append(q.pending, e)
	}
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Ready returns a channel that receives a value when events are pending.
func (q *EventQueue) Ready() <-chan struct{} {
	return q.ready
}

// Drain removes and returns every pending event in arrival order.
func (q *EventQueue) Drain() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	events := q.pending
	q.pending = nil
	q.seen = make(map[Event]bool)
	return events
}

// Len returns the number of pending events.
func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
