package counter

import (
	"log/slog"

	"github.com/swdee/go-peoplecount/tracker"
	"gonum.org/v1/gonum/stat"
)

// Direction of a counted crossing
type Direction string

const (
	// Enter is a crossing downward into the lower half of the frame
	Enter Direction = "ENTER"
	// Exit is a crossing upward into the upper half of the frame
	Exit Direction = "EXIT"
)

// Stats are the running crossing counters
type Stats struct {
	// Delta is the net change since the last report
	Delta int `json:"delta"`
	// Total is TotalDown minus TotalUp
	Total int `json:"total"`
	// TotalDown is the number of enter events
	TotalDown int `json:"total_down"`
	// TotalUp is the number of exit events
	TotalUp int `json:"total_up"`
}

// Event describes a single counted crossing
type Event struct {
	Direction Direction     `json:"direction"`
	EntityID  int64         `json:"entity_id"`
	Kind      tracker.Kind  `json:"kind"`
	Centroid  tracker.Point `json:"centroid"`
	// Movement is the vertical movement relative to the smoothed history,
	// negative is upward
	Movement float64 `json:"movement"`
	Stats    Stats   `json:"stats"`
}

// Counter counts entities crossing the horizontal midline of the frame
// within a vertical corridor.  Each entity carries a half plane flag so it is
// only counted again after it has been seen in the opposite half
type Counter struct {
	// Left and Right are the inclusive x bounds of the counting corridor
	Left  int
	Right int
	// CountComposites counts composite entities as well as persons
	CountComposites bool
	// Verbose adds movement detail to crossing log messages
	Verbose bool

	stats      Stats
	onCrossing func(Event)
	log        *slog.Logger
}

// New returns a Counter with the given corridor bounds
func New(left, right int) *Counter {

	c := &Counter{
		CountComposites: true,
		log:             slog.Default().With("component", "counter"),
	}

	c.SetCorridor(left, right)

	return c
}

// SetLogger sets the logger
func (c *Counter) SetLogger(l *slog.Logger) {
	c.log = l.With("component", "counter")
}

// SetCorridor sets the x bounds of the counting corridor, swapping them if
// given in the wrong order
func (c *Counter) SetCorridor(left, right int) {

	if right < left {
		left, right = right, left
	}

	c.Left = left
	c.Right = right
}

// OnCrossing sets a callback run for every counted crossing
func (c *Counter) OnCrossing(fn func(Event)) {
	c.onCrossing = fn
}

// Stats returns the current counters
func (c *Counter) Stats() Stats {
	return c.stats
}

// ResetDelta zeroes the delta after it has been reported
func (c *Counter) ResetDelta() {
	c.stats.Delta = 0
}

// AckDelta subtracts a reported delta so crossings counted while the report
// was in flight are kept for the next one
func (c *Counter) AckDelta(n int) {
	c.stats.Delta -= n
}

// Reset zeroes all counters
func (c *Counter) Reset() {
	c.stats = Stats{}
	c.log.Info("counter statistics reset")
}

// Counts reports whether entities of the given kind are counted
func (c *Counter) Counts(kind tracker.Kind) bool {
	switch kind {
	case tracker.Person:
		return true
	case tracker.Composite:
		return c.CountComposites
	default:
		return false
	}
}

// Update evaluates every countable entity against the corridor and returns
// the counters afterwards.  Returned events are in entity order
func (c *Counter) Update(entities []*tracker.Entity, frameHeight int) (Stats, []Event) {

	var events []Event

	for _, e := range entities {

		if !c.Counts(e.Kind) {
			continue
		}

		if ev, ok := c.evaluate(e, frameHeight); ok {
			events = append(events, ev)
		}
	}

	c.stats.Total = c.stats.TotalDown - c.stats.TotalUp

	return c.stats, events
}

// evaluate advances the crossing state of a single entity
func (c *Counter) evaluate(e *tracker.Entity, frameHeight int) (Event, bool) {

	if e.Crossing == nil {
		e.Crossing = tracker.NewCrossingState(e.Centroid, frameHeight)
		return Event{}, false
	}

	cs := e.Crossing
	movement := float64(e.Centroid.Y) - stat.Mean(cs.History.Ys(), nil)
	cs.History.Add(e.Centroid)

	mid := frameHeight / 2
	inside := e.Centroid.X >= c.Left && e.Centroid.X <= c.Right
	upper := e.Centroid.Y < mid
	lower := e.Centroid.Y > mid
	wasUp := cs.InitialPositionUp

	var dir Direction

	switch {
	case movement < 0 && upper && !wasUp:
		cs.InitialPositionUp = true

		if inside {
			dir = Exit
			c.stats.TotalUp++
			c.stats.Delta--
		}

	case movement > 0 && lower && wasUp:
		cs.InitialPositionUp = false

		if inside {
			dir = Enter
			c.stats.TotalDown++
			c.stats.Delta++
		}
	}

	if dir == "" {
		return Event{}, false
	}

	c.stats.Total = c.stats.TotalDown - c.stats.TotalUp

	ev := Event{
		Direction: dir,
		EntityID:  e.ID,
		Kind:      e.Kind,
		Centroid:  e.Centroid,
		Movement:  movement,
		Stats:     c.stats,
	}

	c.logCrossing(ev, frameHeight, wasUp)

	if c.onCrossing != nil {
		c.onCrossing(ev)
	}

	return ev, true
}

// logCrossing writes a counted crossing to the log
func (c *Counter) logCrossing(ev Event, frameHeight int, wasUp bool) {

	count := ev.Stats.TotalDown
	if ev.Direction == Exit {
		count = ev.Stats.TotalUp
	}

	attrs := []any{
		"event", string(ev.Direction),
		"kind", ev.Kind.String(),
		"id", ev.EntityID,
		"count", count,
		"delta", ev.Stats.Delta,
	}

	if c.Verbose {
		attrs = append(attrs,
			"direction", ev.Movement,
			"height", frameHeight,
			"centroid", ev.Centroid,
			"initial_pos_up", wasUp,
		)
	}

	c.log.Info("crossing", attrs...)
}
