package tracker

import "fmt"

// Kind is the class partition of a tracked entity
type Kind int

const (
	// Person is a tracked person
	Person Kind = iota
	// Umbrella is a tracked umbrella
	Umbrella
	// Composite is a person carrying an umbrella tracked as a single entity
	Composite
)

// String returns the name of the kind
func (k Kind) String() string {
	switch k {
	case Person:
		return "person"
	case Umbrella:
		return "umbrella"
	case Composite:
		return "person-with-umbrella"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind returns the Kind for the given name
func ParseKind(name string) (Kind, error) {
	switch name {
	case "person":
		return Person, nil
	case "umbrella":
		return Umbrella, nil
	case "person-with-umbrella", "composite":
		return Composite, nil
	default:
		return 0, fmt.Errorf("unknown kind %q", name)
	}
}

// MarshalText implements encoding.TextMarshaler so kinds serialise by name
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// CrossingState is the per entity state kept by the crossing counter.  It is
// created the first time the entity is evaluated for counting
type CrossingState struct {
	// InitialPositionUp is true when the entity was last considered to be
	// in the upper half of the frame
	InitialPositionUp bool
	// History of centroids used to smooth the direction of travel
	History *History
}

// NewCrossingState returns a crossing state seeded with the given centroid
func NewCrossingState(centroid Point, frameHeight int) *CrossingState {

	cs := &CrossingState{
		InitialPositionUp: centroid.Y < frameHeight/2,
		History:           NewHistory(HistorySize),
	}

	cs.History.Add(centroid)

	return cs
}

// Entity represents a single tracked object with an identity that persists
// across frames
type Entity struct {
	// ID is the unique identity assigned by the Registry
	ID int64
	// Kind of object tracked
	Kind Kind
	// Centroid is the current center point
	Centroid Point
	// Box is the current bounding box
	Box Box
	// Trail of the most recent centroids
	Trail *History
	// Boxes is the history of the most recent bounding boxes
	Boxes *BoxHistory
	// Disappeared is the number of consecutive frames without a matching
	// detection
	Disappeared int
	// Correlations maps the ID of another entity to the affinity score
	// between them.  Only used for person and umbrella entities
	Correlations map[int64]float64
	// Crossing is the crossing counter state, nil until first evaluated
	Crossing *CrossingState
	// Components are the person and umbrella IDs a composite entity was
	// built from
	Components []int64
	// FirstSeen is the frame sequence the entity was registered on
	FirstSeen uint64
	// LastSeen is the frame sequence the entity last matched a detection
	LastSeen uint64

	// missedFrame is the frame sequence the disappeared count was last
	// incremented on
	missedFrame uint64
}

// newEntity creates a new Entity for the given bounding box
func newEntity(id int64, kind Kind, box Box, frame uint64) *Entity {

	e := &Entity{
		ID:           id,
		Kind:         kind,
		Trail:        NewHistory(HistorySize),
		Boxes:        NewBoxHistory(HistorySize),
		Correlations: make(map[int64]float64),
		FirstSeen:    frame,
	}

	e.observe(box, frame)

	return e
}

// observe updates the entity with a matched bounding box
func (e *Entity) observe(box Box, frame uint64) {
	e.Box = box
	e.Centroid = box.Centroid()
	e.Trail.Add(e.Centroid)
	e.Boxes.Add(box)
	e.Disappeared = 0
	e.LastSeen = frame
}

// Score returns the correlation score held against another entity
func (e *Entity) Score(other int64) float64 {
	return e.Correlations[other]
}

// EntitySnapshot is a value copy of an Entity safe to hand to other
// goroutines for rendering, reporting or serving over the API
type EntitySnapshot struct {
	ID                int64             `json:"id"`
	Kind              Kind              `json:"kind"`
	Centroid          Point             `json:"centroid"`
	Box               Box               `json:"box"`
	Trail             []Point           `json:"trail"`
	Disappeared       int               `json:"disappeared"`
	Correlations      map[int64]float64 `json:"correlations,omitempty"`
	InitialPositionUp *bool             `json:"initial_position_up,omitempty"`
	Components        []int64           `json:"components,omitempty"`
	FirstSeen         uint64            `json:"first_seen"`
	LastSeen          uint64            `json:"last_seen"`
}

// Snapshot returns a deep copy of the entity
func (e *Entity) Snapshot() EntitySnapshot {

	s := EntitySnapshot{
		ID:          e.ID,
		Kind:        e.Kind,
		Centroid:    e.Centroid,
		Box:         e.Box,
		Trail:       e.Trail.Points(),
		Disappeared: e.Disappeared,
		FirstSeen:   e.FirstSeen,
		LastSeen:    e.LastSeen,
	}

	if len(e.Correlations) > 0 {
		s.Correlations = make(map[int64]float64, len(e.Correlations))
		for k, v := range e.Correlations {
			s.Correlations[k] = v
		}
	}

	if e.Crossing != nil {
		up := e.Crossing.InitialPositionUp
		s.InitialPositionUp = &up
	}

	if len(e.Components) > 0 {
		s.Components = append([]int64(nil), e.Components...)
	}

	return s
}
