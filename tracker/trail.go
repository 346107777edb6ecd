package tracker

// HistorySize is the number of most recent centroids and bounding boxes kept
// for each tracked entity
const HistorySize = 10

// History keeps the most recent points of a tracked entity, used for
// drawing a trail and smoothing the direction of travel
type History struct {
	// size is the maximum number of most recent points to keep in history
	size int
	// points in order of oldest to newest
	points []Point
}

// NewHistory returns a new point history holding at most size points
func NewHistory(size int) *History {

	if size < 1 {
		size = 1
	}

	return &History{
		size:   size,
		points: make([]Point, 0, size),
	}
}

// Add appends a point to the history dropping the oldest point once the
// history size is exceeded
func (h *History) Add(p Point) {

	h.points = append(h.points, p)

	// check if history is exceeded and drop oldest point
	if len(h.points) > h.size {
		h.points = h.points[1:]
	}
}

// Points returns a copy of the point history
func (h *History) Points() []Point {
	out := make([]Point, len(h.points))
	copy(out, h.points)
	return out
}

// Len returns the number of points in history
func (h *History) Len() int {
	return len(h.points)
}

// Ys returns the y coordinates of the point history
func (h *History) Ys() []float64 {

	ys := make([]float64, len(h.points))

	for i, p := range h.points {
		ys[i] = float64(p.Y)
	}

	return ys
}

// Last returns the newest point in history
func (h *History) Last() (Point, bool) {

	if len(h.points) == 0 {
		return Point{}, false
	}

	return h.points[len(h.points)-1], true
}

// BoxHistory keeps the most recent bounding boxes of a tracked entity
type BoxHistory struct {
	size  int
	boxes []Box
}

// NewBoxHistory returns a new bounding box history holding at most size boxes
func NewBoxHistory(size int) *BoxHistory {

	if size < 1 {
		size = 1
	}

	return &BoxHistory{
		size:  size,
		boxes: make([]Box, 0, size),
	}
}

// Add appends a box to the history dropping the oldest once full
func (h *BoxHistory) Add(b Box) {

	h.boxes = append(h.boxes, b)

	if len(h.boxes) > h.size {
		h.boxes = h.boxes[1:]
	}
}

// Boxes returns a copy of the box history
func (h *BoxHistory) Boxes() []Box {
	out := make([]Box, len(h.boxes))
	copy(out, h.boxes)
	return out
}

// Len returns the number of boxes in history
func (h *BoxHistory) Len() int {
	return len(h.boxes)
}
