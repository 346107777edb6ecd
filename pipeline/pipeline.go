package pipeline

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/swdee/go-peoplecount/counter"
	"github.com/swdee/go-peoplecount/postprocess"
	"github.com/swdee/go-peoplecount/tracker"
)

// Frame is the input of a single pipeline pass
type Frame struct {
	// Seq is the source's frame number
	Seq uint64 `json:"seq"`
	// Time the frame was captured
	Time time.Time `json:"time"`
	// Width and Height of the frame in pixels
	Width  int `json:"width"`
	Height int `json:"height"`
	// Detections made by the object detector on the frame
	Detections []postprocess.DetectResult `json:"detections"`
}

// Result is the output of a single pipeline pass.  All entity data is copied
// so a Result may be handed to other goroutines
type Result struct {
	// Frame is the pipeline's frame sequence number
	Frame  uint64    `json:"frame"`
	Time   time.Time `json:"time"`
	Width  int       `json:"width"`
	Height int       `json:"height"`

	Persons      []tracker.EntitySnapshot `json:"persons"`
	Umbrellas    []tracker.EntitySnapshot `json:"umbrellas"`
	Composites   []tracker.EntitySnapshot `json:"composites"`
	Correlations []tracker.Correlation    `json:"correlations"`

	Stats  counter.Stats `json:"stats"`
	Events []Event       `json:"events"`

	// Corridor bounds in effect for the frame
	CorridorLeft  int `json:"corridor_left"`
	CorridorRight int `json:"corridor_right"`
}

// Statistics summarise the live tracking state
type Statistics struct {
	counter.Stats
	Persons    int    `json:"persons"`
	Umbrellas  int    `json:"umbrellas"`
	Composites int    `json:"composites"`
	Objects    int    `json:"total_objects"`
	NextID     int64  `json:"next_object_id"`
	Frames     uint64 `json:"frames"`
}

// Pipeline owns all tracking, correlation and counting state for a single
// video stream.  It is not safe for concurrent use, one Process call must
// complete before the next
type Pipeline struct {
	settings   Settings
	registry   *tracker.Registry
	correlator *tracker.Correlator
	composites *tracker.CompositeManager
	counter    *counter.Counter
	log        *slog.Logger
}

// New returns a Pipeline configured with the given settings
func New(s Settings) *Pipeline {

	reg := tracker.NewRegistry(s.MaxDisappeared, s.MaxDistance)

	p := &Pipeline{
		registry:   reg,
		correlator: tracker.NewCorrelator(s.AngleLimit, s.DistanceLimit),
		composites: tracker.NewCompositeManager(reg, s.CompositeScoreThreshold,
			s.CompositeStableFrames, s.CompositeMaxDistance),
		counter: counter.New(s.CorridorLeft, s.CorridorRight),
		log:     slog.Default().With("component", "pipeline"),
	}

	p.Apply(s)

	return p
}

// SetLogger sets the logger of the pipeline and all of its components
func (p *Pipeline) SetLogger(l *slog.Logger) {
	p.log = l.With("component", "pipeline")
	p.registry.SetLogger(l)
	p.correlator.SetLogger(l)
	p.composites.SetLogger(l)
	p.counter.SetLogger(l)
}

// Settings returns the settings in effect
func (p *Pipeline) Settings() Settings {
	return p.settings
}

// Apply changes the settings without losing tracking state
func (p *Pipeline) Apply(s Settings) {

	p.settings = s

	p.registry.MaxDisappeared = s.MaxDisappeared
	p.registry.MaxDistance = s.MaxDistance

	p.correlator.Params = tracker.CorrelationParams{
		AngleLimit:    s.AngleLimit,
		DistanceLimit: s.DistanceLimit,
		MinScore:      s.MinCorrelationScore,
	}

	p.composites.ScoreThreshold = s.CompositeScoreThreshold
	p.composites.StableFrames = s.CompositeStableFrames
	p.composites.MaxDistance = s.CompositeMaxDistance

	p.counter.SetCorridor(s.CorridorLeft, s.CorridorRight)
	p.counter.CountComposites = s.CountComposites
	p.counter.Verbose = s.Verbose

	p.log.Info("settings applied",
		"max_disappeared", s.MaxDisappeared,
		"max_distance", s.MaxDistance,
		"angle_limit", s.AngleLimit,
		"distance_limit", s.DistanceLimit,
		"composites", s.EnableComposites,
		"corridor_left", p.counter.Left,
		"corridor_right", p.counter.Right,
	)
}

// Reset clears all tracked entities and counters
func (p *Pipeline) Reset() {
	p.registry.Reset()
	p.composites.Reset()
	p.counter.Reset()
	p.log.Info("pipeline reset")
}

// ResetDelta zeroes the counter delta
func (p *Pipeline) ResetDelta() {
	p.counter.ResetDelta()
}

// AckDelta subtracts a delta that has been reported
func (p *Pipeline) AckDelta(n int) {
	p.counter.AckDelta(n)
}

// Stats returns the current crossing counters
func (p *Pipeline) Stats() counter.Stats {
	return p.counter.Stats()
}

// Statistics returns counts of the live entities along with the crossing
// counters
func (p *Pipeline) Statistics() Statistics {
	return Statistics{
		Stats:      p.counter.Stats(),
		Persons:    p.registry.CountKind(tracker.Person),
		Umbrellas:  p.registry.CountKind(tracker.Umbrella),
		Composites: p.registry.CountKind(tracker.Composite),
		Objects:    p.registry.Len(),
		NextID:     p.registry.NextID(),
		Frames:     p.registry.Frame(),
	}
}

// Entity returns a snapshot of a live entity
func (p *Pipeline) Entity(id int64) (tracker.EntitySnapshot, bool) {

	e, ok := p.registry.Get(id)

	if !ok {
		return tracker.EntitySnapshot{}, false
	}

	return e.Snapshot(), true
}

// Process runs one frame of detections through filtering, tracking,
// correlation, the composite lifecycle and crossing counting
func (p *Pipeline) Process(f Frame) Result {

	s := p.settings
	seq := p.registry.BeginFrame()

	if f.Height <= 0 {
		f.Height = s.FrameHeight
	}

	if f.Width <= 0 {
		f.Width = s.FrameWidth
	}

	if f.Time.IsZero() {
		f.Time = time.Now()
	}

	personBoxes := tracker.DetectionsToBoxes(s.Filter.Apply(f.Detections, s.PersonClass))
	umbrellaBoxes := tracker.DetectionsToBoxes(s.Filter.Apply(f.Detections, s.UmbrellaClass))

	persons, umbrellas := personBoxes, umbrellaBoxes

	if s.EnableComposites {
		usedP, usedU := p.composites.UpdateComposites(personBoxes, umbrellaBoxes)
		persons = tracker.RemoveIndices(personBoxes, usedP)
		umbrellas = tracker.RemoveIndices(umbrellaBoxes, usedU)
	}

	livePersons := p.registry.Update(tracker.Person, persons)
	liveUmbrellas := p.registry.Update(tracker.Umbrella, umbrellas)

	pairs := p.correlator.Correlate(livePersons, liveUmbrellas)

	if s.EnableComposites {
		p.composites.UpdateStableCorrelations(pairs)
		p.composites.CheckDissolution(len(umbrellaBoxes) > 0)
	}

	stats, crossings := p.counter.Update(p.registry.All(), f.Height)

	res := Result{
		Frame:         seq,
		Time:          f.Time,
		Width:         f.Width,
		Height:        f.Height,
		Persons:       snapshots(p.registry.FilterByKind(tracker.Person)),
		Umbrellas:     snapshots(p.registry.FilterByKind(tracker.Umbrella)),
		Composites:    snapshots(p.registry.FilterByKind(tracker.Composite)),
		Correlations:  p.liveCorrelations(pairs),
		Stats:         stats,
		CorridorLeft:  p.counter.Left,
		CorridorRight: p.counter.Right,
	}

	res.Events = p.collectEvents(f.Time, p.registry.DrainEvents(), crossings)

	return res
}

// liveCorrelations drops pairs whose entities were promoted this frame
func (p *Pipeline) liveCorrelations(pairs []tracker.Correlation) []tracker.Correlation {

	out := make([]tracker.Correlation, 0, len(pairs))

	for _, pair := range pairs {

		_, okP := p.registry.Get(pair.PersonID)
		_, okU := p.registry.Get(pair.UmbrellaID)

		if okP && okU {
			out = append(out, pair)
		}
	}

	return out
}

// snapshots copies the entities
func snapshots(entities []*tracker.Entity) []tracker.EntitySnapshot {

	out := make([]tracker.EntitySnapshot, len(entities))

	for i, e := range entities {
		out[i] = e.Snapshot()
	}

	return out
}

// collectEvents converts the lifecycle and crossing events raised during a
// frame into pipeline events and logs them
func (p *Pipeline) collectEvents(at time.Time, lifecycle []tracker.Event,
	crossings []counter.Event) []Event {

	events := make([]Event, 0, len(lifecycle)+len(crossings))

	for _, ev := range lifecycle {

		e := Event{
			ID:         uuid.NewString(),
			Type:       EventType(ev.Type),
			Frame:      ev.Frame,
			Time:       at,
			EntityID:   ev.EntityID,
			Kind:       ev.Kind,
			Centroid:   ev.Centroid,
			Components: ev.Components,
		}

		p.logEvent(e)
		events = append(events, e)
	}

	for _, ev := range crossings {

		stats := ev.Stats

		events = append(events, Event{
			ID:        uuid.NewString(),
			Type:      crossingType(ev.Direction),
			Frame:     p.registry.Frame(),
			Time:      at,
			EntityID:  ev.EntityID,
			Kind:      ev.Kind,
			Centroid:  ev.Centroid,
			Direction: ev.Direction,
			Stats:     &stats,
		})
	}

	return events
}

// logEvent logs lifecycle events, registration churn only in verbose mode
func (p *Pipeline) logEvent(e Event) {

	switch e.Type {
	case EventPromoted, EventDissolved:
		p.log.Info(string(e.Type), "id", e.EntityID, "kind", e.Kind.String(),
			"centroid", e.Centroid, "components", e.Components)

	default:
		if p.settings.Verbose {
			p.log.Info(string(e.Type), "id", e.EntityID, "kind", e.Kind.String(),
				"centroid", e.Centroid)
		}
	}
}
