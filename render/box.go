package render

import (
	"fmt"
	"image"
	"image/color"

	"github.com/swdee/go-peoplecount/postprocess"
	"github.com/swdee/go-peoplecount/tracker"
	"gocv.io/x/gocv"
)

// kindPrefix is the label prefix of each entity kind
var kindPrefix = map[tracker.Kind]string{
	tracker.Person:    "P",
	tracker.Umbrella:  "U",
	tracker.Composite: "PU",
}

// boxLabel defines where the object label should be rendered on the source
// image
type boxLabel struct {
	rect    image.Rectangle
	clr     color.RGBA
	text    string
	textPos image.Point
}

// Label returns the text drawn next to an entity, eg "P3" or "PU7"
func Label(e tracker.EntitySnapshot) string {
	return fmt.Sprintf("%s%d", kindPrefix[e.Kind], e.ID)
}

// placeLabel calculates where the label text of a box is drawn
func placeLabel(box tracker.Box, text string, clr color.RGBA, font Font,
	lineThickness int) boxLabel {

	textSize := gocv.GetTextSize(text, font.Face, font.Scale, font.Thickness)

	// Calculate the alignment of text label
	var centerX int

	switch font.Alignment {
	case Center:
		centerX = (box.Left + box.Right) / 2

	case Right:
		centerX = box.Right - (textSize.X / 2) - font.RightPad + (lineThickness / 2)

	case Left:
		fallthrough
	default:
		centerX = box.Left + (textSize.X / 2) + font.LeftPad - (lineThickness / 2)
	}

	// Adjust the label position so the text is centered horizontally
	labelPosition := image.Pt(centerX-textSize.X/2, box.Top-font.BottomPad)

	// create box for placing text on
	bRect := image.Rect(centerX-textSize.X/2-font.LeftPad,
		box.Top-textSize.Y-font.TopPad-font.BottomPad,
		centerX+textSize.X/2+font.RightPad, box.Top)

	return boxLabel{
		rect:    bRect,
		clr:     clr,
		text:    text,
		textPos: labelPosition,
	}
}

// drawLabels draws the labels as the top most layer so they are not
// overlapped by boxes or trails
func drawLabels(img *gocv.Mat, labels []boxLabel, font Font) {
	for _, box := range labels {
		// draw box text gets written on
		gocv.Rectangle(img, box.rect, box.clr, -1)

		// Draw the label over box
		gocv.PutTextWithParams(img, box.text, box.textPos,
			font.Face, font.Scale, font.Color, font.Thickness,
			font.LineType, false)
	}
}

// DetectionBoxes renders the raw detector boxes in a thin white outline
func DetectionBoxes(img *gocv.Mat, detectResults []postprocess.DetectResult,
	lineThickness int) {

	for _, detResult := range detectResults {
		rect := image.Rect(detResult.Box.Left, detResult.Box.Top, detResult.Box.Right,
			detResult.Box.Bottom)
		gocv.Rectangle(img, rect, White, lineThickness)
	}
}

// EntityBoxes renders the bounding box, centroid and label of each tracked
// entity in its kind's color
func EntityBoxes(img *gocv.Mat, entities []tracker.EntitySnapshot, font Font,
	lineThickness int) {

	// keep a record of all box labels for later rendering
	boxLabels := make([]boxLabel, 0, len(entities))

	for _, e := range entities {

		useClr := KindColor(e.Kind)

		// entities carried over a missed frame keep their last box, drawn
		// thinner
		thickness := lineThickness
		if e.Disappeared > 0 {
			thickness = max(1, lineThickness/2)
		}

		rect := image.Rect(e.Box.Left, e.Box.Top, e.Box.Right, e.Box.Bottom)
		gocv.Rectangle(img, rect, useClr, thickness)

		gocv.Circle(img, image.Pt(e.Centroid.X, e.Centroid.Y), 4, useClr, -1)

		boxLabels = append(boxLabels, placeLabel(e.Box, Label(e), useClr, font, lineThickness))
	}

	drawLabels(img, boxLabels, font)
}
