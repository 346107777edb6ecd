package tracker

import (
	"log/slog"
	"math"
)

// Score increments and penalties applied by the correlation engine
const (
	// scoreBase is the minimum increment for a pair within both limits
	scoreBase = 0.01
	// scoreSpread is added to scoreBase scaled by how close and how
	// vertical the pair is
	scoreSpread = 0.04
	// iouBonusMax is the largest overlap bonus
	iouBonusMax = 0.06
	// iouBonusFrom is the IoU above which an overlap bonus is awarded
	iouBonusFrom = 0.05
	// iouBonusFull is the IoU at which the overlap bonus saturates
	iouBonusFull = 0.2
	// iouOverride is the IoU above which overlap outweighs a failed angle or
	// distance test
	iouOverride = 0.1
	// overrideReward is the increment awarded by an IoU override
	overrideReward = 0.01
	// anglePenalty is applied when the pair is close but not vertical
	anglePenalty = 0.02
	// distanceDecay is applied when the pair is too far apart
	distanceDecay = 0.01

	// DefaultMinScore is the minimum score for a pair to be considered by
	// the optimal matching step
	DefaultMinScore = 0.1
)

// CorrelationParams are the limits used to score person and umbrella pairs
type CorrelationParams struct {
	// AngleLimit is the maximum deviation from vertical in degrees
	AngleLimit float64
	// DistanceLimit is the maximum centroid distance in pixels
	DistanceLimit float64
	// MinScore is the minimum score for a pair to be matched
	MinScore float64
}

// Correlation is an accepted person and umbrella pairing for a frame along
// with the score each side holds for the other
type Correlation struct {
	PersonID      int64   `json:"person_id"`
	PersonScore   float64 `json:"person_score"`
	UmbrellaID    int64   `json:"umbrella_id"`
	UmbrellaScore float64 `json:"umbrella_score"`
}

// Correlator maintains the affinity scores between persons and umbrellas and
// derives an optimal one to one pairing each frame
type Correlator struct {
	Params CorrelationParams
	log    *slog.Logger
}

// NewCorrelator returns a new Correlator with the given limits
func NewCorrelator(angleLimit, distanceLimit float64) *Correlator {
	return &Correlator{
		Params: CorrelationParams{
			AngleLimit:    angleLimit,
			DistanceLimit: distanceLimit,
			MinScore:      DefaultMinScore,
		},
		log: slog.Default().With("component", "correlator"),
	}
}

// SetLogger sets the logger
func (c *Correlator) SetLogger(l *slog.Logger) {
	c.log = l.With("component", "correlator")
}

// Correlate updates the persistent score of every person and umbrella pair
// and returns the pairs accepted by optimal one to one matching
func (c *Correlator) Correlate(persons, umbrellas []*Entity) []Correlation {

	for _, p := range persons {
		for _, u := range umbrellas {
			c.updateScore(p, u)
		}
	}

	return c.match(persons, umbrellas)
}

// updateScore applies one frame of evidence to the pair's score
func (c *Correlator) updateScore(person, umbrella *Entity) {

	d := Distance(person.Centroid, umbrella.Centroid)
	angle := VerticalAngle(umbrella.Centroid, person.Centroid)

	iou := 0.0
	if !person.Box.Empty() && !umbrella.Box.Empty() {
		iou = person.Box.IoU(umbrella.Box)
	}

	score := person.Correlations[umbrella.ID] + ScoreDelta(d, angle, iou, c.Params)
	score = clampScore(score)

	person.Correlations[umbrella.ID] = score
	umbrella.Correlations[person.ID] = score
}

// ScoreDelta returns the change in correlation score for a single frame given
// the centroid distance, deviation from vertical and bounding box IoU of a
// pair
func ScoreDelta(distance, angle, iou float64, p CorrelationParams) float64 {

	withinDistance := p.DistanceLimit > 0 && distance < p.DistanceLimit

	if !withinDistance {
		if iou > iouOverride {
			return overrideReward
		}
		return -distanceDecay
	}

	if angle > p.AngleLimit {
		if iou > iouOverride {
			return overrideReward
		}
		return -anglePenalty
	}

	angleFactor := 1.0
	if p.AngleLimit > 0 {
		angleFactor = 1 - angle/p.AngleLimit
	}

	delta := scoreBase + scoreSpread*(1-distance/p.DistanceLimit)*angleFactor

	if iou > iouBonusFrom {
		delta += iouBonusMax * math.Min(1, (iou-iouBonusFrom)/(iouBonusFull-iouBonusFrom))
	}

	return delta
}

// clampScore restricts a score to [0,1]
func clampScore(s float64) float64 {

	if math.IsNaN(s) || s < 0 {
		return 0
	}

	if s > 1 {
		return 1
	}

	return s
}

// match solves the optimal assignment of persons to umbrellas on the cost
// 1-score and discards pairs the solver was forced to make
func (c *Correlator) match(persons, umbrellas []*Entity) []Correlation {

	out := make([]Correlation, 0)

	if len(persons) == 0 || len(umbrellas) == 0 {
		return out
	}

	cost := make([][]float64, len(persons))

	for i, p := range persons {
		cost[i] = make([]float64, len(umbrellas))

		for j, u := range umbrellas {
			cost[i][j] = 1.0

			if s := p.Correlations[u.ID]; s >= c.Params.MinScore {
				cost[i][j] = 1 - s
			}
		}
	}

	rowsol, _, err := linearAssignment(cost)

	if err != nil {
		c.log.Warn("correlation matching failed", "error", err,
			"persons", len(persons), "umbrellas", len(umbrellas))
		return out
	}

	limit := 1 - c.Params.MinScore

	for i, j := range rowsol {
		if j < 0 || cost[i][j] >= limit {
			continue
		}

		p, u := persons[i], umbrellas[j]

		out = append(out, Correlation{
			PersonID:      p.ID,
			PersonScore:   p.Correlations[u.ID],
			UmbrellaID:    u.ID,
			UmbrellaScore: u.Correlations[p.ID],
		})
	}

	return out
}
