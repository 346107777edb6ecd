package tracker

import (
	"testing"
)

func TestScoreDelta(t *testing.T) {

	p := CorrelationParams{AngleLimit: 45, DistanceLimit: 80, MinScore: DefaultMinScore}

	tests := []struct {
		name     string
		distance float64
		angle    float64
		iou      float64
		want     float64
	}{
		{"aligned and touching", 0, 0, 0, 0.05},
		{"half distance", 40, 0, 0, 0.03},
		{"half distance half angle", 40, 22.5, 0, 0.02},
		{"full iou bonus", 0, 0, 0.5, 0.11},
		{"partial iou bonus", 0, 0, 0.125, 0.08},
		{"angle fails", 40, 60, 0, -0.02},
		{"angle fails with overlap", 40, 60, 0.2, 0.01},
		{"too far", 100, 0, 0, -0.01},
		{"too far with overlap", 100, 0, 0.2, 0.01},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ScoreDelta(tc.distance, tc.angle, tc.iou, p)
			if !almostEqual(got, tc.want, 1e-9) {
				t.Errorf("Expected delta %v, got %v", tc.want, got)
			}
		})
	}
}

func TestCorrelateScoresStayBounded(t *testing.T) {

	reg := NewRegistry(50, 50)
	reg.BeginFrame()

	// umbrella directly above the person
	person := reg.Register(Person, NewBox(100, 100, 140, 200))
	umbrella := reg.Register(Umbrella, NewBox(100, 60, 140, 90))
	// a far umbrella that only decays
	far := reg.Register(Umbrella, NewBox(500, 300, 540, 330))

	corr := NewCorrelator(45, 80)

	persons := []*Entity{person}
	umbrellas := []*Entity{umbrella, far}

	for i := 0; i < 200; i++ {

		corr.Correlate(persons, umbrellas)

		for _, e := range []*Entity{person, umbrella, far} {
			for id, s := range e.Correlations {
				if s < 0 || s > 1 {
					t.Fatalf("Score %v for %d->%d outside [0,1]", s, e.ID, id)
				}
			}
		}

		if person.Score(umbrella.ID) != umbrella.Score(person.ID) {
			t.Fatalf("Pair scores differ: %v != %v",
				person.Score(umbrella.ID), umbrella.Score(person.ID))
		}
	}

	if person.Score(umbrella.ID) != 1 {
		t.Errorf("Expected saturated score 1, got %v", person.Score(umbrella.ID))
	}

	if person.Score(far.ID) != 0 {
		t.Errorf("Expected far score 0, got %v", person.Score(far.ID))
	}
}

func TestCorrelateAcceptsAfterMinScore(t *testing.T) {

	reg := NewRegistry(50, 50)
	reg.BeginFrame()

	// centroids (120,150) and (120,110) are 40 apart
	person := reg.Register(Person, NewBox(100, 100, 140, 200))
	umbrella := reg.Register(Umbrella, NewBox(100, 100, 140, 120))

	corr := NewCorrelator(45, 80)

	persons := []*Entity{person}
	umbrellas := []*Entity{umbrella}

	accepted := 0

	for frame := 1; frame <= 6; frame++ {

		pairs := corr.Correlate(persons, umbrellas)

		if len(pairs) > 0 {
			accepted = frame
			break
		}
	}

	// overlap of 800 over union 4000 gives iou 0.2 and the full bonus, each
	// frame adds 0.09 so the score passes 0.1 on the second frame
	if accepted != 2 {
		t.Errorf("Expected pair accepted on frame 2, got %d", accepted)
	}
}

func TestCorrelationMatchIsOneToOne(t *testing.T) {

	reg := NewRegistry(50, 50)
	reg.BeginFrame()

	p0 := reg.Register(Person, boxAt(100, 100))
	p1 := reg.Register(Person, boxAt(300, 100))
	u0 := reg.Register(Umbrella, boxAt(100, 20))
	u1 := reg.Register(Umbrella, boxAt(300, 20))

	set := func(p, u *Entity, s float64) {
		p.Correlations[u.ID] = s
		u.Correlations[p.ID] = s
	}

	set(p0, u0, 0.8)
	set(p0, u1, 0.7)
	set(p1, u0, 0.75)
	set(p1, u1, 0.05)

	corr := NewCorrelator(45, 80)
	pairs := corr.match([]*Entity{p0, p1}, []*Entity{u0, u1})

	if len(pairs) != 2 {
		t.Fatalf("Expected 2 pairs, got %+v", pairs)
	}

	want := map[int64]int64{p0.ID: u1.ID, p1.ID: u0.ID}

	for _, pair := range pairs {
		if want[pair.PersonID] != pair.UmbrellaID {
			t.Errorf("Person %d paired with umbrella %d, expected %d",
				pair.PersonID, pair.UmbrellaID, want[pair.PersonID])
		}
	}
}

func TestCorrelationMatchDiscardsLowScores(t *testing.T) {

	reg := NewRegistry(50, 50)
	reg.BeginFrame()

	p := reg.Register(Person, boxAt(100, 100))
	u := reg.Register(Umbrella, boxAt(100, 20))

	p.Correlations[u.ID] = 0.05
	u.Correlations[p.ID] = 0.05

	corr := NewCorrelator(45, 80)

	if pairs := corr.match([]*Entity{p}, []*Entity{u}); len(pairs) != 0 {
		t.Errorf("Expected no pairs, got %+v", pairs)
	}

	if pairs := corr.Correlate(nil, []*Entity{u}); len(pairs) != 0 {
		t.Errorf("Expected no pairs for empty persons, got %+v", pairs)
	}
}

func TestCorrelateCoincidentCentroids(t *testing.T) {

	reg := NewRegistry(50, 50)
	reg.BeginFrame()

	// all boxes share the centroid (120,150)
	person := reg.Register(Person, NewBox(100, 100, 140, 200))
	small := reg.Register(Umbrella, NewBox(110, 140, 130, 160))
	large := reg.Register(Umbrella, NewBox(100, 130, 140, 170))

	corr := NewCorrelator(45, 80)
	corr.Correlate([]*Entity{person}, []*Entity{small, large})

	// iou 0.1 is not enough to outweigh the undefined angle
	if s := person.Score(small.ID); s != 0 {
		t.Errorf("Expected coincident pair without overlap override to score 0, got %v", s)
	}

	// iou 0.4 overrides the failed angle test
	if s := person.Score(large.ID); !almostEqual(s, overrideReward, 1e-9) {
		t.Errorf("Expected override reward %v, got %v", overrideReward, s)
	}
}
