package tracker

import (
	"math"
)

// Point represents the x,y coordinates of the center of a tracked object's
// bounding box
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Box represents a bounding box in Tlbr (left, top, right, bottom) pixel
// coordinates as produced by the object detector
type Box struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

// NewBox creates a new Box from the given corner coordinates.  Inverted
// coordinates are swapped so Left <= Right and Top <= Bottom always holds
func NewBox(x1, y1, x2, y2 int) Box {

	if x2 < x1 {
		x1, x2 = x2, x1
	}

	if y2 < y1 {
		y1, y2 = y2, y1
	}

	return Box{
		Left:   x1,
		Top:    y1,
		Right:  x2,
		Bottom: y2,
	}
}

// Width returns the width of the box
func (b Box) Width() int {
	return b.Right - b.Left
}

// Height returns the height of the box
func (b Box) Height() int {
	return b.Bottom - b.Top
}

// Area returns the area of the box
func (b Box) Area() int {
	return b.Width() * b.Height()
}

// Empty reports whether the box has zero area
func (b Box) Empty() bool {
	return b.Width() <= 0 || b.Height() <= 0
}

// Centroid returns the center point of the box.  A zero area box yields its
// own corner
func (b Box) Centroid() Point {
	return Point{
		X: int(float64(b.Left+b.Right) / 2.0),
		Y: int(float64(b.Top+b.Bottom) / 2.0),
	}
}

// Union returns the smallest box containing both boxes
func (b Box) Union(other Box) Box {
	return Box{
		Left:   min(b.Left, other.Left),
		Top:    min(b.Top, other.Top),
		Right:  max(b.Right, other.Right),
		Bottom: max(b.Bottom, other.Bottom),
	}
}

// IoU calculates the Intersection over Union with another box.  Boxes that
// do not overlap, or whose union has no area, return 0
func (b Box) IoU(other Box) float64 {

	iw := min(b.Right, other.Right) - max(b.Left, other.Left)
	ih := min(b.Bottom, other.Bottom) - max(b.Top, other.Top)

	if iw <= 0 || ih <= 0 {
		return 0
	}

	inter := float64(iw * ih)
	union := float64(b.Area()+other.Area()) - inter

	if union <= 0 {
		return 0
	}

	return inter / union
}

// Overlaps reports whether the two boxes share any area
func (b Box) Overlaps(other Box) bool {
	return min(b.Right, other.Right) > max(b.Left, other.Left) &&
		min(b.Bottom, other.Bottom) > max(b.Top, other.Top)
}

// Distance returns the Euclidean distance between two points
func Distance(a, b Point) float64 {
	return math.Hypot(float64(a.X-b.X), float64(a.Y-b.Y))
}

// VerticalAngle returns the deviation in degrees from vertical of the segment
// running from point "from" to point "to".  A value of 0 means "to" lies
// directly below "from", 90 is horizontal and 180 directly above.  The angle
// is mirror symmetric so left and right deviations are equal.  Coincident
// points have no direction and return 180 so they never pass an angle limit
func VerticalAngle(from, to Point) float64 {

	dx := math.Abs(float64(to.X - from.X))
	dy := float64(to.Y - from.Y)

	if dx == 0 && dy == 0 {
		return 180
	}

	return math.Atan2(dx, dy) * 180 / math.Pi
}
