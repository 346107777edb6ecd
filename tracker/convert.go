package tracker

import "github.com/swdee/go-peoplecount/postprocess"

// DetectionToBox converts the bounding box of a detection result into a
// tracker Box
func DetectionToBox(det postprocess.DetectResult) Box {
	return NewBox(det.Box.Left, det.Box.Top, det.Box.Right, det.Box.Bottom)
}

// DetectionsToBoxes takes postprocess object detection results and converts
// them into tracker boxes in the same order
func DetectionsToBoxes(dets []postprocess.DetectResult) []Box {

	boxes := make([]Box, 0, len(dets))

	for _, det := range dets {
		boxes = append(boxes, DetectionToBox(det))
	}

	return boxes
}

// RemoveIndices returns the boxes whose index is not listed in used.  used
// must be sorted in ascending order
func RemoveIndices(boxes []Box, used []int) []Box {

	if len(used) == 0 {
		return boxes
	}

	out := make([]Box, 0, len(boxes))
	u := 0

	for i, b := range boxes {
		if u < len(used) && used[u] == i {
			u++
			continue
		}
		out = append(out, b)
	}

	return out
}
