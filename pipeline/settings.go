package pipeline

import (
	"github.com/swdee/go-peoplecount/postprocess"
	"github.com/swdee/go-peoplecount/tracker"
)

// Settings are the tunables of the tracking pipeline.  They may be changed
// between frames with Pipeline.Apply
type Settings struct {
	// MaxDisappeared is the number of consecutive missed frames before an
	// entity is deregistered
	MaxDisappeared int `json:"max_disappeared"`
	// MaxDistance is the maximum centroid distance to match a detection to
	// an existing entity
	MaxDistance float64 `json:"max_distance"`

	// AngleLimit is the maximum deviation from vertical in degrees for a
	// person and umbrella to correlate
	AngleLimit float64 `json:"angle_limit"`
	// DistanceLimit is the maximum centroid distance for a person and
	// umbrella to correlate
	DistanceLimit float64 `json:"distance_limit"`
	// MinCorrelationScore is the lowest score considered for matching
	MinCorrelationScore float64 `json:"min_correlation_score"`

	// EnableComposites turns on promotion of person and umbrella pairs into
	// composite entities
	EnableComposites        bool    `json:"enable_composites"`
	CompositeScoreThreshold float64 `json:"composite_score_threshold"`
	CompositeStableFrames   int     `json:"composite_stable_frames"`
	CompositeMaxDistance    float64 `json:"composite_max_distance"`

	// CorridorLeft and CorridorRight are the inclusive x bounds of the
	// counting corridor
	CorridorLeft  int `json:"corridor_left"`
	CorridorRight int `json:"corridor_right"`
	// CountComposites counts composite entities crossing as well as persons
	CountComposites bool `json:"count_composites"`

	// PersonClass and UmbrellaClass are the detector class ids
	PersonClass   int `json:"person_class"`
	UmbrellaClass int `json:"umbrella_class"`
	// Filter holds the detection filter thresholds
	Filter postprocess.Filter `json:"filter"`

	// FrameWidth and FrameHeight are used when a frame does not carry its
	// own dimensions
	FrameWidth  int `json:"frame_width"`
	FrameHeight int `json:"frame_height"`

	// Verbose logs every lifecycle event and extra crossing detail
	Verbose bool `json:"verbose"`
}

// DefaultSettings returns the default pipeline settings
func DefaultSettings() Settings {
	return Settings{
		MaxDisappeared:          50,
		MaxDistance:             50,
		AngleLimit:              45,
		DistanceLimit:           80,
		MinCorrelationScore:     tracker.DefaultMinScore,
		EnableComposites:        true,
		CompositeScoreThreshold: 0.7,
		CompositeStableFrames:   10,
		CompositeMaxDistance:    50,
		CorridorLeft:            0,
		CorridorRight:           640,
		CountComposites:         true,
		PersonClass:             postprocess.ClassPerson,
		UmbrellaClass:           postprocess.ClassUmbrella,
		Filter:                  postprocess.DefaultFilter(),
		FrameWidth:              640,
		FrameHeight:             360,
	}
}
