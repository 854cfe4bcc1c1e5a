// Package events carries state-change notifications out of the core so an
// external broadcaster can relay them without touching internal structures.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies what happened.
type Kind string

const (
	MemoryEncoded      Kind = "memory_encoded"
	MemoryCompressed   Kind = "memory_compressed"
	MemoriesPruned     Kind = "memories_pruned"
	AssociationCreated Kind = "association_created"
	FastBatch          Kind = "fast_batch"
	SlowCompleted      Kind = "slow_completed"
	FusionCompleted    Kind = "fusion_completed"
)

// Event is an immutable notification. Payload holds a copy of the value the
// event is about (a model.MemoryItem, model.FusionRecord, and so on).
type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	IDs       []string  `json:"ids,omitempty"`
	Count     int       `json:"count,omitempty"`
	Payload   any       `json:"payload,omitempty"`
}

// New stamps an event with a fresh id and the given time.
func New(kind Kind, at time.Time) Event {
	return Event{ID: uuid.NewString(), Kind: kind, Timestamp: at}
}

// Sink receives events. Components call it outside their locks, so a sink
// may call back into the component that emitted the event.
type Sink func(Event)

// Emit calls s when it is set.
func (s Sink) Emit(e Event) {
	if s != nil {
		s(e)
	}
}

// Discard drops every event.
func Discard(Event) {}
