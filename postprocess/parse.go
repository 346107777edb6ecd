package postprocess

import (
	"errors"
	"fmt"

	"github.com/swdee/go-peoplecount/postprocess/result"
)

// RowLen is the number of values in a raw detection row
// [x1, y1, x2, y2, confidence, class_id]
const RowLen = 6

// ErrShortRow is returned when a raw detection row has too few values
var ErrShortRow = errors.New("detection row too short")

// ParseRow converts a raw detector row [x1, y1, x2, y2, confidence, class_id]
// into a DetectResult.  Coordinates are truncated to whole pixels and
// inverted corners are swapped
func ParseRow(row []float64) (DetectResult, error) {

	if len(row) < RowLen {
		return DetectResult{}, fmt.Errorf("%w: got %d values, need %d",
			ErrShortRow, len(row), RowLen)
	}

	x1, y1 := int(row[0]), int(row[1])
	x2, y2 := int(row[2]), int(row[3])

	if x2 < x1 {
		x1, x2 = x2, x1
	}

	if y2 < y1 {
		y1, y2 = y2, y1
	}

	return DetectResult{
		Class: int(row[5]),
		Box: BoxRect{
			Left:   x1,
			Top:    y1,
			Right:  x2,
			Bottom: y2,
		},
		Probability: float32(row[4]),
	}, nil
}

// ParseRows converts raw detector rows into DetectResults, assigning each an
// ID from the generator when one is given.  Malformed rows are skipped and
// returned joined in the error
func ParseRows(rows [][]float64, ids *result.IDGenerator) ([]DetectResult, error) {

	dets := make([]DetectResult, 0, len(rows))
	var errs []error

	for i, row := range rows {

		det, err := ParseRow(row)

		if err != nil {
			errs = append(errs, fmt.Errorf("row %d: %w", i, err))
			continue
		}

		if ids != nil {
			det.ID = ids.GetNext()
		}

		dets = append(dets, det)
	}

	return dets, errors.Join(errs...)
}
