package tracker

import (
	"log/slog"
	"math"
	"sort"
)

// Reasons a composite entity is dissolved
const (
	// DissolveUndetected means the composite went unmatched for too long
	DissolveUndetected = "undetected"
	// DissolveNoUmbrella means no umbrella is visible anywhere in the scene
	DissolveNoUmbrella = "no-umbrella"
)

// pairKey identifies a person and umbrella pair
type pairKey struct {
	person   int64
	umbrella int64
}

// Promotion describes a person and umbrella merged into a composite
type Promotion struct {
	CompositeID int64 `json:"composite_id"`
	PersonID    int64 `json:"person_id"`
	UmbrellaID  int64 `json:"umbrella_id"`
	Box         Box   `json:"box"`
}

// Dissolution describes a composite split back into a person
type Dissolution struct {
	CompositeID int64  `json:"composite_id"`
	PersonID    int64  `json:"person_id"`
	Reason      string `json:"reason"`
}

// CompositeManager promotes stably correlated person and umbrella pairs into
// a single composite entity and dissolves composites back into a person once
// the evidence for them disappears
type CompositeManager struct {
	// ScoreThreshold is the score both sides of a pair must hold for the
	// frame to count towards stability
	ScoreThreshold float64
	// StableFrames is the number of consecutive qualifying frames needed to
	// promote a pair
	StableFrames int
	// MaxDistance is the maximum centroid distance for a detection to match
	// a composite
	MaxDistance float64

	reg    *Registry
	stable map[pairKey]int
	log    *slog.Logger
}

// NewCompositeManager returns a CompositeManager operating on the registry
func NewCompositeManager(reg *Registry, scoreThreshold float64,
	stableFrames int, maxDistance float64) *CompositeManager {

	return &CompositeManager{
		ScoreThreshold: scoreThreshold,
		StableFrames:   stableFrames,
		MaxDistance:    maxDistance,
		reg:            reg,
		stable:         make(map[pairKey]int),
		log:            slog.Default().With("component", "composite"),
	}
}

// SetLogger sets the logger
func (m *CompositeManager) SetLogger(l *slog.Logger) {
	m.log = l.With("component", "composite")
}

// Reset forgets all pair stability counters
func (m *CompositeManager) Reset() {
	m.stable = make(map[pairKey]int)
}

// Stability returns the current stability counter of a pair
func (m *CompositeManager) Stability(personID, umbrellaID int64) int {
	return m.stable[pairKey{personID, umbrellaID}]
}

// UpdateStableCorrelations advances the stability counter of every accepted
// pair whose scores both meet the threshold, promoting pairs that reach
// StableFrames.  Pairs that do not qualify this frame decay and are forgotten
// at zero
func (m *CompositeManager) UpdateStableCorrelations(pairs []Correlation) []Promotion {

	var promoted []Promotion
	seen := make(map[pairKey]bool)

	for _, pair := range pairs {

		if pair.PersonScore < m.ScoreThreshold || pair.UmbrellaScore < m.ScoreThreshold {
			continue
		}

		key := pairKey{pair.PersonID, pair.UmbrellaID}
		m.stable[key]++
		seen[key] = true

		if m.stable[key] >= m.StableFrames {
			if p, ok := m.promote(key); ok {
				promoted = append(promoted, p)
			}
		}
	}

	for key := range m.stable {
		if seen[key] {
			continue
		}

		m.stable[key]--

		if m.stable[key] <= 0 {
			delete(m.stable, key)
		}
	}

	return promoted
}

// promote merges the pair into a composite entity
func (m *CompositeManager) promote(key pairKey) (Promotion, bool) {

	m.purge(key.person, key.umbrella)

	person, okP := m.reg.Get(key.person)
	umbrella, okU := m.reg.Get(key.umbrella)

	if !okP || !okU || person.Kind != Person || umbrella.Kind != Umbrella {
		m.log.Debug("promotion of vanished pair ignored",
			"person", key.person, "umbrella", key.umbrella)
		return Promotion{}, false
	}

	box := person.Box.Union(umbrella.Box)
	comp := m.reg.RegisterComposite(box, person.ID, umbrella.ID)

	m.reg.Deregister(person.ID)
	m.reg.Deregister(umbrella.ID)
	m.reg.emit(EventPromoted, comp)

	m.log.Info("composite promoted", "id", comp.ID, "person", person.ID,
		"umbrella", umbrella.ID, "centroid", comp.Centroid)

	return Promotion{
		CompositeID: comp.ID,
		PersonID:    person.ID,
		UmbrellaID:  umbrella.ID,
		Box:         box,
	}, true
}

// purge forgets every stability counter involving either ID
func (m *CompositeManager) purge(personID, umbrellaID int64) {
	for key := range m.stable {
		if key.person == personID || key.umbrella == umbrellaID {
			delete(m.stable, key)
		}
	}
}

// CheckDissolution dissolves composites that have been undetected for more
// than half of StableFrames, or all composites when no umbrella is visible.
// umbrellaVisible reports whether the detector saw any umbrella this frame;
// live umbrella entities also count as visible
func (m *CompositeManager) CheckDissolution(umbrellaVisible bool) []Dissolution {

	visible := umbrellaVisible || m.reg.CountKind(Umbrella) > 0

	var out []Dissolution

	for _, comp := range m.reg.FilterByKind(Composite) {

		reason := ""

		switch {
		case comp.Disappeared > m.StableFrames/2:
			reason = DissolveUndetected
		case !visible:
			reason = DissolveNoUmbrella
		default:
			continue
		}

		if d, ok := m.Dissolve(comp.ID, reason); ok {
			out = append(out, d)
		}
	}

	return out
}

// Dissolve splits a composite entity back into a newly tracked person.
// Dissolving an ID that is not a live composite is a no-op
func (m *CompositeManager) Dissolve(id int64, reason string) (Dissolution, bool) {

	comp, ok := m.reg.Get(id)

	if !ok || comp.Kind != Composite {
		m.log.Debug("dissolve of non composite ignored", "id", id)
		return Dissolution{}, false
	}

	m.reg.emit(EventDissolved, comp)
	m.reg.Deregister(comp.ID)
	person := m.reg.Register(Person, PersonBoxFromComposite(comp.Box))

	m.log.Info("composite dissolved", "id", comp.ID, "person", person.ID,
		"reason", reason, "disappeared", comp.Disappeared)

	return Dissolution{
		CompositeID: comp.ID,
		PersonID:    person.ID,
		Reason:      reason,
	}, true
}

// PersonBoxFromComposite estimates the bounding box of the person inside a
// composite box.  The person is assumed to occupy the lower 80% of the box
// and be a few pixels narrower than it
func PersonBoxFromComposite(box Box) Box {

	const (
		heightShare = 0.8
		narrowBy    = 3
	)

	top := box.Bottom - int(float64(box.Height())*heightShare)
	left := box.Left + narrowBy
	right := box.Right - narrowBy

	if right < left {
		mid := (box.Left + box.Right) / 2
		left, right = mid, mid
	}

	return NewBox(left, top, right, box.Bottom)
}

// UpdateComposites matches live composites against the combined pool of this
// frame's person and umbrella detections before ordinary per kind tracking
// runs.  It returns the indices of the person and umbrella detections that
// were consumed, which the caller must remove before updating the person and
// umbrella trackers
func (m *CompositeManager) UpdateComposites(persons, umbrellas []Box) (usedPersons, usedUmbrellas []int) {

	composites := m.reg.FilterByKind(Composite)

	if len(composites) == 0 {
		return nil, nil
	}

	pool := make([]Box, 0, len(persons)+len(umbrellas))
	pool = append(pool, persons...)
	pool = append(pool, umbrellas...)

	centroids := make([]Point, len(composites))
	for i, c := range composites {
		centroids[i] = c.Centroid
	}

	matches, unusedRows, _ := greedyMatch(centroids, boxCentroids(pool), m.MaxDistance)

	used := make([]bool, len(pool))
	for _, match := range matches {
		used[match[1]] = true
	}

	for _, match := range matches {

		comp := composites[match[0]]
		col := match[1]
		box := pool[col]

		// also claim the nearest overlapping detection of the other class
		// so it does not spawn a standalone entity
		lo, hi := len(persons), len(pool)
		if col >= len(persons) {
			lo, hi = 0, len(persons)
		}

		if other := m.nearestOverlapping(comp, pool, used, lo, hi); other >= 0 {
			used[other] = true
			box = box.Union(pool[other])
		}

		comp.observe(box, m.reg.frame)
	}

	for _, row := range unusedRows {
		m.reg.markMissing(composites[row])
	}

	for i, u := range used {
		if !u {
			continue
		}

		if i < len(persons) {
			usedPersons = append(usedPersons, i)
		} else {
			usedUmbrellas = append(usedUmbrellas, i-len(persons))
		}
	}

	sort.Ints(usedPersons)
	sort.Ints(usedUmbrellas)

	return usedPersons, usedUmbrellas
}

// nearestOverlapping returns the index within pool[lo:hi] of the unused
// detection closest to the composite that overlaps its box, or -1
func (m *CompositeManager) nearestOverlapping(comp *Entity, pool []Box,
	used []bool, lo, hi int) int {

	best := -1
	bestDist := math.Inf(1)

	for i := lo; i < hi; i++ {

		if used[i] || !pool[i].Overlaps(comp.Box) {
			continue
		}

		if d := Distance(comp.Centroid, pool[i].Centroid()); d <= bestDist {
			best = i
			bestDist = d
		}
	}

	return best
}
