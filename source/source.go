// Package source supplies frames of detections to the pipeline, either
// replayed from a JSON lines file or received from an external detector over
// NATS
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/swdee/go-peoplecount/pipeline"
	"github.com/swdee/go-peoplecount/postprocess"
	"github.com/swdee/go-peoplecount/postprocess/result"
)

// ErrEndOfStream is returned by Next when no more frames are available
var ErrEndOfStream = errors.New("end of stream")

// Source is a supplier of frames
type Source interface {
	// Next blocks until the next frame is available
	Next(ctx context.Context) (pipeline.Frame, error)
	// Close releases the source
	Close() error
}

// Record is the wire format of a single frame of detections, each row is
// [x1, y1, x2, y2, confidence, class_id]
type Record struct {
	Seq        uint64      `json:"seq,omitempty"`
	Time       time.Time   `json:"time,omitempty"`
	Width      int         `json:"width,omitempty"`
	Height     int         `json:"height,omitempty"`
	Detections [][]float64 `json:"detections"`
}

// NewRecord builds a record from a frame
func NewRecord(f pipeline.Frame) Record {

	rows := make([][]float64, len(f.Detections))

	for i, d := range f.Detections {
		rows[i] = []float64{
			float64(d.Box.Left), float64(d.Box.Top),
			float64(d.Box.Right), float64(d.Box.Bottom),
			float64(d.Probability), float64(d.Class),
		}
	}

	return Record{
		Seq:        f.Seq,
		Time:       f.Time,
		Width:      f.Width,
		Height:     f.Height,
		Detections: rows,
	}
}

// decoder converts records into frames
type decoder struct {
	ids  *result.IDGenerator
	seq  uint64
	log  *slog.Logger
	name string
}

func newDecoder(name string) *decoder {
	return &decoder{
		ids:  result.NewIDGenerator(),
		log:  slog.Default().With("component", "source", "source", name),
		name: name,
	}
}

// decode parses a JSON record.  Malformed rows are skipped with a warning,
// a malformed record is an error
func (d *decoder) decode(data []byte) (pipeline.Frame, error) {

	var rec Record

	if err := json.Unmarshal(data, &rec); err != nil {
		return pipeline.Frame{}, fmt.Errorf("failed to decode record: %w", err)
	}

	d.seq++

	if rec.Seq == 0 {
		rec.Seq = d.seq
	}

	dets, err := postprocess.ParseRows(rec.Detections, d.ids)

	if err != nil {
		d.log.Warn("Skipped malformed detection rows", "seq", rec.Seq, "error", err)
	}

	return pipeline.Frame{
		Seq:        rec.Seq,
		Time:       rec.Time,
		Width:      rec.Width,
		Height:     rec.Height,
		Detections: dets,
	}, nil
}
