package render

import (
	"fmt"
	"image"

	"github.com/swdee/go-peoplecount/counter"
	"github.com/swdee/go-peoplecount/pipeline"
	"github.com/swdee/go-peoplecount/postprocess"
	"github.com/swdee/go-peoplecount/tracker"
	"gocv.io/x/gocv"
)

// Options select what Frame draws
type Options struct {
	Font          Font
	InfoFont      Font
	Trail         TrailStyle
	LineThickness int
	// Detections draws the raw detector boxes
	Detections bool
	// Trails draws the centroid history
	Trails bool
}

// DefaultOptions returns the default drawing options
func DefaultOptions() Options {
	return Options{
		Font:          DefaultFont(),
		InfoFont:      InfoFont(),
		Trail:         DefaultTrailStyle(),
		LineThickness: 2,
		Trails:        true,
	}
}

// Corridor draws the counting corridor bounds and the midline the crossings
// are counted on
func Corridor(img *gocv.Mat, left, right, width, height int) {

	mid := height / 2

	gocv.Line(img, image.Pt(0, mid), image.Pt(width, mid), Red, 1)

	if left > 0 {
		gocv.Line(img, image.Pt(left, 0), image.Pt(left, height), Cyan, 1)
	}

	if right < width {
		gocv.Line(img, image.Pt(right, 0), image.Pt(right, height), Cyan, 1)
	}

	// highlight the counted section of the midline
	gocv.Line(img, image.Pt(max(left, 0), mid), image.Pt(min(right, width), mid), Red, 2)
}

// Correlations draws a line between each correlated person and umbrella
func Correlations(img *gocv.Mat, res pipeline.Result) {

	persons := make(map[int64]tracker.Point, len(res.Persons))
	for _, p := range res.Persons {
		persons[p.ID] = p.Centroid
	}

	umbrellas := make(map[int64]tracker.Point, len(res.Umbrellas))
	for _, u := range res.Umbrellas {
		umbrellas[u.ID] = u.Centroid
	}

	for _, c := range res.Correlations {

		p, okP := persons[c.PersonID]
		u, okU := umbrellas[c.UmbrellaID]

		if !okP || !okU {
			continue
		}

		gocv.Line(img, image.Pt(p.X, p.Y), image.Pt(u.X, u.Y), Blue, 2)
	}
}

// InfoLines returns the counter panel text, bottom line first
func InfoLines(s counter.Stats) []string {
	return []string{
		fmt.Sprintf("Exit: %d", s.TotalUp),
		fmt.Sprintf("Enter: %d", s.TotalDown),
		fmt.Sprintf("Delta: %d", s.Delta),
		fmt.Sprintf("Total: %d", s.Total),
	}
}

// Info draws the counter panel in the bottom left corner
func Info(img *gocv.Mat, s counter.Stats, height int, font Font) {

	for i, text := range InfoLines(s) {

		pos := image.Pt(font.LeftPad, height-(i*font.BottomPad+font.BottomPad))

		// outline so the text reads on light and dark scenes
		gocv.PutTextWithParams(img, text, pos, font.Face, font.Scale, Black,
			font.Thickness+2, font.LineType, false)
		gocv.PutTextWithParams(img, text, pos, font.Face, font.Scale, font.Color,
			font.Thickness, font.LineType, false)
	}
}

// Frame draws a full pipeline result onto the image
func Frame(img *gocv.Mat, res pipeline.Result, detections []postprocess.DetectResult,
	opts Options) {

	Corridor(img, res.CorridorLeft, res.CorridorRight, res.Width, res.Height)

	if opts.Detections {
		DetectionBoxes(img, detections, 1)
	}

	all := make([]tracker.EntitySnapshot, 0,
		len(res.Persons)+len(res.Umbrellas)+len(res.Composites))
	all = append(all, res.Persons...)
	all = append(all, res.Umbrellas...)
	all = append(all, res.Composites...)

	if opts.Trails {
		Trail(img, all, opts.Trail)
	}

	Correlations(img, res)
	EntityBoxes(img, all, opts.Font, opts.LineThickness)
	Info(img, res.Stats, res.Height, opts.InfoFont)
}
