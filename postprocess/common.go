package postprocess

import (
	"math"
)

// quickSortIndiceInverse is a quick sort algorithm that sorts the probability
// slice in descending order and synchronously updates the indices slice to
// track the reordering of elements
func quickSortIndiceInverse(input []float32, left int, right int, indices []int) int {

	var key float32
	var keyIndex int

	low := left
	high := right

	if left < right {
		keyIndex = indices[left]
		key = input[left]

		for low < high {
			for low < high && input[high] <= key {
				high--
			}

			input[low] = input[high]
			indices[low] = indices[high]

			for low < high && input[low] >= key {
				low++
			}

			input[high] = input[low]
			indices[high] = indices[low]
		}

		input[low] = key
		indices[low] = keyIndex

		quickSortIndiceInverse(input, left, low-1, indices)
		quickSortIndiceInverse(input, low+1, right, indices)
	}

	return low
}

// NMS implements a greedy class agnostic Non-Maximum Suppression.  Detections
// are visited in order of descending probability and any later detection
// whose IoU with a kept detection is at or above threshold is dropped
func NMS(dets []DetectResult, threshold float32) []DetectResult {

	n := len(dets)

	if n == 0 {
		return nil
	}

	probs := make([]float32, n)
	order := make([]int, n)

	for i, det := range dets {
		probs[i] = det.Probability
		order[i] = i
	}

	quickSortIndiceInverse(probs, 0, n-1, order)

	keep := make([]DetectResult, 0, n)

	for i := 0; i < n; i++ {

		if order[i] == -1 {
			continue
		}

		kept := dets[order[i]]
		keep = append(keep, kept)

		for j := i + 1; j < n; j++ {

			if order[j] == -1 {
				continue
			}

			if calculateOverlap(kept.Box, dets[order[j]].Box) >= threshold {
				order[j] = -1
			}
		}
	}

	return keep
}

// calculateOverlap works out the Intersection over Union (IoU) value of two
// boxes
func calculateOverlap(a, b BoxRect) float32 {

	w := math.Min(float64(a.Right), float64(b.Right)) - math.Max(float64(a.Left), float64(b.Left))
	h := math.Min(float64(a.Bottom), float64(b.Bottom)) - math.Max(float64(a.Top), float64(b.Top))

	if w <= 0 || h <= 0 {
		return 0.0
	}

	intersection := w * h

	area0 := float64(a.Width() * a.Height())
	area1 := float64(b.Width() * b.Height())

	union := area0 + area1 - intersection

	if union <= 0 {
		return 0.0
	}

	return float32(intersection / union)
}
