package tracker

import (
	"testing"
)

// frameRunner drives the registry, correlator and composite manager through
// the per frame sequence used by the pipeline
type frameRunner struct {
	reg  *Registry
	corr *Correlator
	cm   *CompositeManager
}

func newFrameRunner() *frameRunner {

	reg := NewRegistry(50, 50)

	return &frameRunner{
		reg:  reg,
		corr: NewCorrelator(45, 80),
		cm:   NewCompositeManager(reg, 0.7, 10, 50),
	}
}

func (f *frameRunner) step(persons, umbrellas []Box) ([]Promotion, []Dissolution) {

	f.reg.BeginFrame()

	usedP, usedU := f.cm.UpdateComposites(persons, umbrellas)

	p := f.reg.Update(Person, RemoveIndices(persons, usedP))
	u := f.reg.Update(Umbrella, RemoveIndices(umbrellas, usedU))

	pairs := f.corr.Correlate(p, u)
	promoted := f.cm.UpdateStableCorrelations(pairs)
	dissolved := f.cm.CheckDissolution(len(umbrellas) > 0)

	return promoted, dissolved
}

var (
	personA   = NewBox(100, 100, 140, 200)
	personB   = NewBox(400, 100, 440, 200)
	umbrellaA = NewBox(100, 60, 140, 90)
)

// promoteScenario runs person A under an umbrella next to person B until the
// pair is promoted and returns the composite
func promoteScenario(t *testing.T, f *frameRunner) *Entity {

	t.Helper()

	persons := []Box{personA, personB}
	umbrellas := []Box{umbrellaA}

	f.step(persons, umbrellas)

	a, _ := f.reg.Get(0)
	u, _ := f.reg.Get(2)

	if a.Kind != Person || u.Kind != Umbrella {
		t.Fatalf("Unexpected registration order")
	}

	// start from a confident pair so it qualifies every frame
	a.Correlations[u.ID] = 0.7
	u.Correlations[a.ID] = 0.7

	for frame := 1; frame < 10; frame++ {
		if promoted, _ := f.step(persons, umbrellas); len(promoted) != 0 {
			t.Fatalf("Promoted early on qualifying frame %d", frame)
		}
	}

	if s := f.cm.Stability(0, 2); s != 9 {
		t.Fatalf("Expected stability 9, got %d", s)
	}

	promoted, _ := f.step(persons, umbrellas)

	if len(promoted) != 1 {
		t.Fatalf("Expected exactly one promotion, got %d", len(promoted))
	}

	comp, ok := f.reg.Get(promoted[0].CompositeID)
	if !ok {
		t.Fatalf("Composite %d not live", promoted[0].CompositeID)
	}

	return comp
}

func TestCompositePromotion(t *testing.T) {

	f := newFrameRunner()
	comp := promoteScenario(t, f)

	if comp.Kind != Composite {
		t.Errorf("Expected composite kind, got %s", comp.Kind)
	}

	if len(comp.Components) != 2 || comp.Components[0] != 0 || comp.Components[1] != 2 {
		t.Errorf("Expected components [0 2], got %v", comp.Components)
	}

	if want := personA.Union(umbrellaA); comp.Box != want {
		t.Errorf("Expected union box %+v, got %+v", want, comp.Box)
	}

	if _, ok := f.reg.Get(0); ok {
		t.Errorf("Person A still live after promotion")
	}

	if _, ok := f.reg.Get(2); ok {
		t.Errorf("Umbrella still live after promotion")
	}

	b, ok := f.reg.Get(1)
	if !ok || b.Kind != Person || b.Disappeared != 0 {
		t.Errorf("Person B affected by promotion: %+v", b)
	}

	if f.cm.Stability(0, 2) != 0 {
		t.Errorf("Stability entry not purged")
	}

	promotedEvents := 0
	for _, ev := range f.reg.DrainEvents() {
		if ev.Type == EventPromoted {
			promotedEvents++
		}
	}

	if promotedEvents != 1 {
		t.Errorf("Expected one promoted event, got %d", promotedEvents)
	}

	// the composite keeps absorbing both detections without new entities
	for i := 0; i < 5; i++ {

		promoted, dissolved := f.step([]Box{personA, personB}, []Box{umbrellaA})

		if len(promoted) != 0 || len(dissolved) != 0 {
			t.Fatalf("Unexpected lifecycle change on frame %d", i)
		}
	}

	if f.reg.Len() != 2 {
		t.Errorf("Expected composite and person B only, got %d entities", f.reg.Len())
	}

	if comp.Disappeared != 0 {
		t.Errorf("Expected composite to stay matched, disappeared %d", comp.Disappeared)
	}
}

func TestCompositeDissolvesWithoutUmbrella(t *testing.T) {

	f := newFrameRunner()
	comp := promoteScenario(t, f)

	_, dissolved := f.step([]Box{personA, personB}, nil)

	if len(dissolved) != 1 {
		t.Fatalf("Expected one dissolution, got %d", len(dissolved))
	}

	if dissolved[0].CompositeID != comp.ID || dissolved[0].Reason != DissolveNoUmbrella {
		t.Errorf("Unexpected dissolution %+v", dissolved[0])
	}

	if len(f.reg.FilterByKind(Composite)) != 0 {
		t.Errorf("Composite still live")
	}

	persons := f.reg.FilterByKind(Person)

	if len(persons) != 2 {
		t.Fatalf("Expected person B and the dissolved person, got %d", len(persons))
	}

	p, _ := f.reg.Get(dissolved[0].PersonID)

	if want := PersonBoxFromComposite(personA); p.Box != want {
		t.Errorf("Expected person box %+v, got %+v", want, p.Box)
	}
}

func TestCompositeDissolvesWhenUndetected(t *testing.T) {

	f := newFrameRunner()
	comp := promoteScenario(t, f)

	// an unrelated umbrella keeps one visible in the scene
	farUmbrella := NewBox(600, 10, 640, 40)

	for frame := 1; frame <= 5; frame++ {

		_, dissolved := f.step([]Box{personB}, []Box{farUmbrella})

		if len(dissolved) != 0 {
			t.Fatalf("Dissolved early on missed frame %d", frame)
		}

		if comp.Disappeared != frame {
			t.Fatalf("Expected disappeared %d, got %d", frame, comp.Disappeared)
		}
	}

	_, dissolved := f.step([]Box{personB}, []Box{farUmbrella})

	if len(dissolved) != 1 || dissolved[0].Reason != DissolveUndetected {
		t.Fatalf("Expected one undetected dissolution, got %+v", dissolved)
	}

	if _, ok := f.reg.Get(comp.ID); ok {
		t.Errorf("Composite still live")
	}

	if got := len(f.reg.FilterByKind(Person)); got != 2 {
		t.Errorf("Expected 2 persons after dissolution, got %d", got)
	}
}

func TestCompositeLifecycleNoOps(t *testing.T) {

	reg := NewRegistry(50, 50)
	cm := NewCompositeManager(reg, 0.7, 1, 50)

	reg.BeginFrame()
	p := reg.Register(Person, personA)

	// pair refers to an umbrella that does not exist
	promoted := cm.UpdateStableCorrelations([]Correlation{
		{PersonID: p.ID, PersonScore: 0.9, UmbrellaID: 42, UmbrellaScore: 0.9},
	})

	if len(promoted) != 0 {
		t.Errorf("Expected no promotion of a vanished pair")
	}

	if _, ok := cm.Dissolve(p.ID, DissolveUndetected); ok {
		t.Errorf("Expected dissolve of a person to be a no-op")
	}

	if _, ok := reg.Get(p.ID); !ok {
		t.Errorf("Person removed by no-op dissolve")
	}
}

func TestStabilityDecays(t *testing.T) {

	reg := NewRegistry(50, 50)
	cm := NewCompositeManager(reg, 0.7, 10, 50)

	pair := Correlation{PersonID: 0, PersonScore: 0.8, UmbrellaID: 1, UmbrellaScore: 0.8}

	cm.UpdateStableCorrelations([]Correlation{pair})
	cm.UpdateStableCorrelations([]Correlation{pair})

	if s := cm.Stability(0, 1); s != 2 {
		t.Fatalf("Expected stability 2, got %d", s)
	}

	low := pair
	low.UmbrellaScore = 0.5

	cm.UpdateStableCorrelations([]Correlation{low})

	if s := cm.Stability(0, 1); s != 1 {
		t.Errorf("Expected stability 1 after decay, got %d", s)
	}

	cm.UpdateStableCorrelations(nil)

	if s := cm.Stability(0, 1); s != 0 {
		t.Errorf("Expected stability forgotten, got %d", s)
	}
}

func TestPersonBoxFromComposite(t *testing.T) {

	got := PersonBoxFromComposite(NewBox(100, 100, 140, 200))
	want := Box{Left: 103, Top: 120, Right: 137, Bottom: 200}

	if got != want {
		t.Errorf("Expected %+v, got %+v", want, got)
	}

	narrow := PersonBoxFromComposite(NewBox(10, 0, 14, 10))

	if narrow.Left > narrow.Right {
		t.Errorf("Narrow box inverted: %+v", narrow)
	}
}
