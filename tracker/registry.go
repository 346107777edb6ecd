package tracker

import (
	"log/slog"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// EventType is the type of lifecycle event raised by the tracker
type EventType string

const (
	// EventRegistered is raised when a new entity is registered
	EventRegistered EventType = "registered"
	// EventDeregistered is raised when an entity is removed
	EventDeregistered EventType = "deregistered"
	// EventPromoted is raised when a person and umbrella are merged into a
	// composite entity
	EventPromoted EventType = "promoted"
	// EventDissolved is raised when a composite entity is split back into a
	// person
	EventDissolved EventType = "dissolved"
)

// Event is an informational lifecycle event suitable for logging
type Event struct {
	Type       EventType `json:"type"`
	Frame      uint64    `json:"frame"`
	EntityID   int64     `json:"entity_id"`
	Kind       Kind      `json:"kind"`
	Centroid   Point     `json:"centroid"`
	Components []int64   `json:"components,omitempty"`
}

// Registry owns all live tracked entities and performs the per frame
// association of existing entities with new detections
type Registry struct {
	// MaxDisappeared is the number of consecutive frames an entity may go
	// unmatched before it is deregistered
	MaxDisappeared int
	// MaxDistance is the maximum centroid distance for a detection to match
	// an existing entity
	MaxDistance float64
	// entities by ID
	entities map[int64]*Entity
	// order of registration, ids are monotonic so this is also id order
	order []int64
	// nextID is the ID assigned to the next registered entity
	nextID int64
	// frame is the current frame sequence number
	frame uint64
	// events raised since the last call to DrainEvents
	events []Event
	log    *slog.Logger
}

// NewRegistry returns a new Registry with the given thresholds
func NewRegistry(maxDisappeared int, maxDistance float64) *Registry {
	return &Registry{
		MaxDisappeared: maxDisappeared,
		MaxDistance:    maxDistance,
		entities:       make(map[int64]*Entity),
		log:            slog.Default().With("component", "registry"),
	}
}

// SetLogger sets the logger used for lifecycle messages
func (r *Registry) SetLogger(l *slog.Logger) {
	r.log = l.With("component", "registry")
}

// Reset clears all tracked entities and restarts id assignment
func (r *Registry) Reset() {
	r.entities = make(map[int64]*Entity)
	r.order = nil
	r.nextID = 0
	r.frame = 0
	r.events = nil
}

// BeginFrame advances the frame sequence.  It must be called once per frame
// before any Update so an unmatched entity's disappeared count is only
// incremented once per frame
func (r *Registry) BeginFrame() uint64 {
	r.frame++
	return r.frame
}

// Frame returns the current frame sequence number
func (r *Registry) Frame() uint64 {
	return r.frame
}

// NextID returns the ID the next registered entity will receive
func (r *Registry) NextID() int64 {
	return r.nextID
}

// Len returns the number of live entities of all kinds
func (r *Registry) Len() int {
	return len(r.order)
}

// Get returns the live entity with the given ID
func (r *Registry) Get(id int64) (*Entity, bool) {
	e, ok := r.entities[id]
	return e, ok
}

// All returns all live entities in registration order
func (r *Registry) All() []*Entity {

	out := make([]*Entity, 0, len(r.order))

	for _, id := range r.order {
		out = append(out, r.entities[id])
	}

	return out
}

// FilterByKind returns the live entities of the given kind in registration
// order
func (r *Registry) FilterByKind(kind Kind) []*Entity {

	out := make([]*Entity, 0)

	for _, id := range r.order {
		if e := r.entities[id]; e.Kind == kind {
			out = append(out, e)
		}
	}

	return out
}

// CountKind returns the number of live entities of the given kind
func (r *Registry) CountKind(kind Kind) int {

	n := 0

	for _, e := range r.entities {
		if e.Kind == kind {
			n++
		}
	}

	return n
}

// DrainEvents returns the events raised since the last call and clears them
func (r *Registry) DrainEvents() []Event {
	ev := r.events
	r.events = nil
	return ev
}

// Register creates a new entity of the given kind from a bounding box
func (r *Registry) Register(kind Kind, box Box) *Entity {
	return r.register(kind, box, nil)
}

// RegisterComposite creates a new composite entity built from the given
// person and umbrella IDs
func (r *Registry) RegisterComposite(box Box, personID, umbrellaID int64) *Entity {
	return r.register(Composite, box, []int64{personID, umbrellaID})
}

// register creates and stores a new entity
func (r *Registry) register(kind Kind, box Box, components []int64) *Entity {

	e := newEntity(r.nextID, kind, box, r.frame)
	e.Components = components
	r.nextID++

	r.entities[e.ID] = e
	r.order = append(r.order, e.ID)

	r.emit(EventRegistered, e)
	r.log.Debug("registered entity", "id", e.ID, "kind", kind.String(),
		"centroid", e.Centroid)

	return e
}

// Deregister removes an entity and purges its ID from the correlation
// scores of every other entity.  Returns false if the ID was not live
func (r *Registry) Deregister(id int64) bool {

	e, ok := r.entities[id]

	if !ok {
		r.log.Debug("deregister of unknown entity ignored", "id", id)
		return false
	}

	delete(r.entities, id)

	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	for _, other := range r.entities {
		delete(other.Correlations, id)
	}

	r.emit(EventDeregistered, e)
	r.log.Debug("deregistered entity", "id", id, "kind", e.Kind.String(),
		"disappeared", e.Disappeared)

	return true
}

// Update associates the detections of a single kind with the live entities
// of that kind and returns the live entities of the kind afterwards
func (r *Registry) Update(kind Kind, boxes []Box) []*Entity {

	// no detections so every entity is missing this frame
	if len(boxes) == 0 {
		for _, e := range r.All() {
			r.markMissing(e)
		}

		return r.FilterByKind(kind)
	}

	live := r.FilterByKind(kind)

	// nothing tracked yet so everything is new
	if len(live) == 0 {
		for _, box := range boxes {
			r.Register(kind, box)
		}

		return r.FilterByKind(kind)
	}

	centroids := make([]Point, len(live))
	for i, e := range live {
		centroids[i] = e.Centroid
	}

	matches, unusedRows, unusedCols := greedyMatch(centroids, boxCentroids(boxes), r.MaxDistance)

	for _, m := range matches {
		live[m[0]].observe(boxes[m[1]], r.frame)
	}

	for _, row := range unusedRows {
		r.markMissing(live[row])
	}

	// excess detections become new entities, excess entities are only
	// treated as missing
	if len(unusedRows) < len(unusedCols) {
		for _, col := range unusedCols {
			r.Register(kind, boxes[col])
		}
	}

	return r.FilterByKind(kind)
}

// markMissing increments the disappeared count of an entity at most once per
// frame and deregisters it once over the threshold.  Composites are left for
// the CompositeManager to dissolve.  Returns true if the entity was
// deregistered
func (r *Registry) markMissing(e *Entity) bool {

	if r.frame > 0 && (e.missedFrame == r.frame || e.LastSeen == r.frame) {
		// already counted this frame or seen this frame
		return false
	}

	e.Disappeared++
	e.missedFrame = r.frame

	if e.Kind != Composite && e.Disappeared > r.MaxDisappeared {
		return r.Deregister(e.ID)
	}

	return false
}

// emit records a lifecycle event
func (r *Registry) emit(t EventType, e *Entity) {

	ev := Event{
		Type:     t,
		Frame:    r.frame,
		EntityID: e.ID,
		Kind:     e.Kind,
		Centroid: e.Centroid,
	}

	if len(e.Components) > 0 {
		ev.Components = append([]int64(nil), e.Components...)
	}

	r.events = append(r.events, ev)
}

// boxCentroids returns the centroid of each box
func boxCentroids(boxes []Box) []Point {

	out := make([]Point, len(boxes))

	for i, b := range boxes {
		out[i] = b.Centroid()
	}

	return out
}

// greedyMatch performs greedy nearest available matching between existing
// points (rows) and new points (cols).  Rows are processed in ascending order
// of their minimum distance and each row takes its closest column, skipping
// rows or columns already consumed and pairs further apart than maxDistance.
// This is deterministic and O(M*N) but not globally optimal
func greedyMatch(rows, cols []Point, maxDistance float64) (matches [][2]int,
	unusedRows, unusedCols []int) {

	if len(rows) == 0 || len(cols) == 0 {
		for i := range rows {
			unusedRows = append(unusedRows, i)
		}
		for j := range cols {
			unusedCols = append(unusedCols, j)
		}
		return
	}

	dist := mat.NewDense(len(rows), len(cols), nil)

	for i, a := range rows {
		for j, b := range cols {
			dist.Set(i, j, Distance(a, b))
		}
	}

	// order rows by their minimum distance
	rowMin := make([]float64, len(rows))
	rowOrder := make([]int, len(rows))

	for i := range rows {
		rowMin[i] = floats.Min(dist.RawRowView(i))
		rowOrder[i] = i
	}

	sort.SliceStable(rowOrder, func(a, b int) bool {
		return rowMin[rowOrder[a]] < rowMin[rowOrder[b]]
	})

	usedRows := make([]bool, len(rows))
	usedCols := make([]bool, len(cols))

	for _, row := range rowOrder {

		col := floats.MinIdx(dist.RawRowView(row))

		if usedRows[row] || usedCols[col] {
			continue
		}

		if dist.At(row, col) > maxDistance {
			continue
		}

		usedRows[row] = true
		usedCols[col] = true
		matches = append(matches, [2]int{row, col})
	}

	for i, used := range usedRows {
		if !used {
			unusedRows = append(unusedRows, i)
		}
	}

	for j, used := range usedCols {
		if !used {
			unusedCols = append(unusedCols, j)
		}
	}

	return
}
