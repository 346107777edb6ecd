package pipeline

import (
	"time"

	"github.com/swdee/go-peoplecount/counter"
	"github.com/swdee/go-peoplecount/tracker"
)

// EventType is the type of an informational pipeline event
type EventType string

// Lifecycle events mirror the tracker's event types
const (
	EventRegistered   = EventType(tracker.EventRegistered)
	EventDeregistered = EventType(tracker.EventDeregistered)
	EventPromoted     = EventType(tracker.EventPromoted)
	EventDissolved    = EventType(tracker.EventDissolved)
)

// Crossing events
const (
	EventEnter EventType = "enter"
	EventExit  EventType = "exit"
)

// Event is an informational event raised while processing a frame, either
// an entity lifecycle change or a counted crossing
type Event struct {
	ID         string            `json:"id"`
	Type       EventType         `json:"type"`
	Frame      uint64            `json:"frame"`
	Time       time.Time         `json:"time"`
	EntityID   int64             `json:"entity_id"`
	Kind       tracker.Kind      `json:"kind"`
	Centroid   tracker.Point     `json:"centroid"`
	Components []int64           `json:"components,omitempty"`
	Direction  counter.Direction `json:"direction,omitempty"`
	Stats      *counter.Stats    `json:"stats,omitempty"`
}

// IsCrossing reports whether the event is a counted crossing
func (e Event) IsCrossing() bool {
	return e.Type == EventEnter || e.Type == EventExit
}

// crossingType maps a crossing direction to its event type
func crossingType(d counter.Direction) EventType {
	if d == counter.Exit {
		return EventExit
	}
	return EventEnter
}
