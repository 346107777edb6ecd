package postprocess

// COCO class ids of the objects tracked
const (
	ClassPerson   = 0
	ClassUmbrella = 25
)

// Filter holds the thresholds used to clean up raw detections before they
// reach the tracker
type Filter struct {
	// MinConfidence is the minimum probability a detection must have
	MinConfidence float32
	// MinArea and MaxArea bound the bounding box area in pixels
	MinArea int
	MaxArea int
	// MinAspect and MaxAspect bound the width/height ratio
	MinAspect float64
	MaxAspect float64
	// NMSThreshold is the IoU used for per class Non-Maximum Suppression,
	// 0 disables
	NMSThreshold float32
}

// DefaultFilter returns the default detection filter thresholds
func DefaultFilter() Filter {
	return Filter{
		MinConfidence: 0.4,
		MinArea:       100,
		MaxArea:       50000,
		MinAspect:     0.2,
		MaxAspect:     5.0,
		NMSThreshold:  0.4,
	}
}

// Apply returns the detections of the given class that pass the confidence,
// area and aspect ratio filters.  NMS runs within the class so a person is
// never suppressed by the umbrella they hold
func (f Filter) Apply(dets []DetectResult, class int) []DetectResult {

	out := FilterByClass(dets, class, f.MinConfidence)
	out = FilterByArea(out, f.MinArea, f.MaxArea)
	out = FilterByAspectRatio(out, f.MinAspect, f.MaxAspect)

	if f.NMSThreshold > 0 && len(out) > 1 {
		out = NMS(out, f.NMSThreshold)
	}

	return out
}

// FilterByClass returns the detections of the given class with a probability
// of at least minConfidence
func FilterByClass(dets []DetectResult, class int, minConfidence float32) []DetectResult {

	out := make([]DetectResult, 0, len(dets))

	for _, det := range dets {
		if det.Class == class && det.Probability >= minConfidence {
			out = append(out, det)
		}
	}

	return out
}

// FilterByArea returns the detections whose box area lies within
// [minArea, maxArea].  A maxArea of 0 disables the upper bound
func FilterByArea(dets []DetectResult, minArea, maxArea int) []DetectResult {

	out := make([]DetectResult, 0, len(dets))

	for _, det := range dets {

		area := det.Box.Width() * det.Box.Height()

		if area < minArea || (maxArea > 0 && area > maxArea) {
			continue
		}

		out = append(out, det)
	}

	return out
}

// FilterByAspectRatio returns the detections whose width/height ratio lies
// within [minRatio, maxRatio].  Boxes without height are dropped
func FilterByAspectRatio(dets []DetectResult, minRatio, maxRatio float64) []DetectResult {

	out := make([]DetectResult, 0, len(dets))

	for _, det := range dets {

		h := det.Box.Height()

		if h <= 0 {
			continue
		}

		ratio := float64(det.Box.Width()) / float64(h)

		if ratio < minRatio || (maxRatio > 0 && ratio > maxRatio) {
			continue
		}

		out = append(out, det)
	}

	return out
}
