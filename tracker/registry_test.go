package tracker

import (
	"testing"
)

// boxAt returns a 40x100 box centred on the given point
func boxAt(x, y int) Box {
	return NewBox(x-20, y-50, x+20, y+50)
}

func TestRegistryRegistersDistinctIDs(t *testing.T) {

	reg := NewRegistry(50, 50)
	reg.BeginFrame()

	got := reg.Update(Person, []Box{boxAt(100, 100), boxAt(300, 100), boxAt(500, 100)})

	if len(got) != 3 {
		t.Fatalf("Expected 3 entities, got %d", len(got))
	}

	seen := make(map[int64]bool)

	for i, e := range got {
		if seen[e.ID] {
			t.Errorf("Duplicate ID %d", e.ID)
		}
		seen[e.ID] = true

		if e.ID != int64(i) {
			t.Errorf("Expected ID %d in registration order, got %d", i, e.ID)
		}

		if e.Kind != Person {
			t.Errorf("Expected kind person, got %s", e.Kind)
		}
	}

	if reg.NextID() != 3 {
		t.Errorf("Expected next ID 3, got %d", reg.NextID())
	}
}

func TestRegistryMatchResetsDisappeared(t *testing.T) {

	reg := NewRegistry(50, 50)

	reg.BeginFrame()
	reg.Update(Person, []Box{boxAt(100, 100)})

	reg.BeginFrame()
	reg.Update(Person, nil)

	e, ok := reg.Get(0)
	if !ok {
		t.Fatalf("Entity 0 missing")
	}

	if e.Disappeared != 1 {
		t.Errorf("Expected disappeared 1, got %d", e.Disappeared)
	}

	reg.BeginFrame()
	got := reg.Update(Person, []Box{boxAt(110, 105)})

	if len(got) != 1 || got[0].ID != 0 {
		t.Fatalf("Expected entity 0 to be matched, got %+v", got)
	}

	if e.Disappeared != 0 {
		t.Errorf("Expected disappeared reset to 0, got %d", e.Disappeared)
	}

	if e.Centroid != (Point{110, 105}) {
		t.Errorf("Expected centroid {110 105}, got %+v", e.Centroid)
	}

	if e.Trail.Len() != 2 {
		t.Errorf("Expected 2 trail points, got %d", e.Trail.Len())
	}
}

func TestRegistryDeregistersOnThirdMissedFrame(t *testing.T) {

	reg := NewRegistry(2, 50)

	reg.BeginFrame()
	reg.Update(Person, []Box{boxAt(100, 100)})
	reg.DrainEvents()

	for frame := 1; frame <= 3; frame++ {

		reg.BeginFrame()
		reg.Update(Person, nil)

		_, live := reg.Get(0)

		if frame < 3 && !live {
			t.Fatalf("Entity deregistered early on missed frame %d", frame)
		}

		if frame < 3 {
			e, _ := reg.Get(0)
			if e.Disappeared != frame {
				t.Errorf("Expected disappeared %d, got %d", frame, e.Disappeared)
			}
		}

		if frame == 3 && live {
			t.Fatalf("Entity still live after third missed frame")
		}
	}

	events := reg.DrainEvents()

	if len(events) != 1 || events[0].Type != EventDeregistered || events[0].EntityID != 0 {
		t.Errorf("Expected a single deregistered event for entity 0, got %+v", events)
	}
}

func TestRegistryMissingCountedOncePerFrame(t *testing.T) {

	reg := NewRegistry(50, 50)

	reg.BeginFrame()
	reg.Update(Person, []Box{boxAt(100, 100)})

	// both kinds report no detections in the same frame
	reg.BeginFrame()
	reg.Update(Person, nil)
	reg.Update(Umbrella, nil)

	e, _ := reg.Get(0)

	if e.Disappeared != 1 {
		t.Errorf("Expected disappeared 1 after one frame, got %d", e.Disappeared)
	}
}

func TestRegistryEmptyKindMarksAllKinds(t *testing.T) {

	reg := NewRegistry(50, 50)

	reg.BeginFrame()
	reg.Update(Person, []Box{boxAt(100, 100)})
	reg.Update(Umbrella, []Box{boxAt(100, 20)})

	reg.BeginFrame()
	reg.Update(Person, []Box{boxAt(102, 100)})
	reg.Update(Umbrella, nil)

	person, _ := reg.Get(0)
	umbrella, _ := reg.Get(1)

	if person.Disappeared != 0 {
		t.Errorf("Matched person should not be missing, got %d", person.Disappeared)
	}

	if umbrella.Disappeared != 1 {
		t.Errorf("Expected umbrella disappeared 1, got %d", umbrella.Disappeared)
	}
}

func TestRegistryGreedyKeepsIdentity(t *testing.T) {

	reg := NewRegistry(50, 50)

	reg.BeginFrame()
	reg.Update(Person, []Box{boxAt(100, 100), boxAt(200, 100)})

	// detections arrive in reverse order
	reg.BeginFrame()
	got := reg.Update(Person, []Box{boxAt(195, 102), boxAt(106, 98)})

	if len(got) != 2 {
		t.Fatalf("Expected 2 entities, got %d", len(got))
	}

	if got[0].ID != 0 || got[0].Centroid != (Point{106, 98}) {
		t.Errorf("Entity 0 mismatched: %+v", got[0].Centroid)
	}

	if got[1].ID != 1 || got[1].Centroid != (Point{195, 102}) {
		t.Errorf("Entity 1 mismatched: %+v", got[1].Centroid)
	}
}

func TestRegistryFarDetection(t *testing.T) {

	reg := NewRegistry(50, 50)

	reg.BeginFrame()
	reg.Update(Person, []Box{boxAt(100, 100)})

	// one unmatched entity and one unmatched detection, the detection is
	// not registered
	reg.BeginFrame()
	got := reg.Update(Person, []Box{boxAt(400, 300)})

	if len(got) != 1 {
		t.Fatalf("Expected 1 entity, got %d", len(got))
	}

	if got[0].Disappeared != 1 {
		t.Errorf("Expected disappeared 1, got %d", got[0].Disappeared)
	}

	// a near and a far detection, the far one is new
	reg.BeginFrame()
	got = reg.Update(Person, []Box{boxAt(105, 100), boxAt(400, 300)})

	if len(got) != 2 {
		t.Fatalf("Expected 2 entities, got %d", len(got))
	}

	if got[0].ID != 0 || got[0].Disappeared != 0 {
		t.Errorf("Expected entity 0 matched, got id %d disappeared %d",
			got[0].ID, got[0].Disappeared)
	}

	if got[1].ID != 1 || got[1].Centroid != (Point{400, 300}) {
		t.Errorf("Expected new entity 1 at {400 300}, got id %d at %+v",
			got[1].ID, got[1].Centroid)
	}
}

func TestRegistryDeregisterPurgesCorrelations(t *testing.T) {

	reg := NewRegistry(50, 50)

	reg.BeginFrame()
	p := reg.Register(Person, boxAt(100, 100))
	u := reg.Register(Umbrella, boxAt(100, 20))

	p.Correlations[u.ID] = 0.5
	u.Correlations[p.ID] = 0.5

	if !reg.Deregister(u.ID) {
		t.Fatalf("Expected deregister to succeed")
	}

	if _, ok := p.Correlations[u.ID]; ok {
		t.Errorf("Correlation to deregistered umbrella not purged")
	}

	if reg.Deregister(u.ID) {
		t.Errorf("Expected deregister of unknown id to report false")
	}
}

func TestRegistryFilterByKind(t *testing.T) {

	reg := NewRegistry(50, 50)

	reg.BeginFrame()
	reg.Register(Person, boxAt(100, 100))
	reg.Register(Umbrella, boxAt(100, 20))
	reg.Register(Person, boxAt(300, 100))

	persons := reg.FilterByKind(Person)

	if len(persons) != 2 || persons[0].ID != 0 || persons[1].ID != 2 {
		t.Errorf("Unexpected persons %+v", persons)
	}

	if reg.CountKind(Umbrella) != 1 {
		t.Errorf("Expected 1 umbrella, got %d", reg.CountKind(Umbrella))
	}

	if len(reg.FilterByKind(Composite)) != 0 {
		t.Errorf("Expected no composites")
	}
}

func TestGreedyMatchRespectsMaxDistance(t *testing.T) {

	rows := []Point{{0, 0}, {100, 0}}
	cols := []Point{{5, 0}, {300, 0}}

	matches, unusedRows, unusedCols := greedyMatch(rows, cols, 50)

	if len(matches) != 1 || matches[0] != [2]int{0, 0} {
		t.Errorf("Unexpected matches %v", matches)
	}

	if len(unusedRows) != 1 || unusedRows[0] != 1 {
		t.Errorf("Unexpected unused rows %v", unusedRows)
	}

	if len(unusedCols) != 1 || unusedCols[0] != 1 {
		t.Errorf("Unexpected unused cols %v", unusedCols)
	}
}
