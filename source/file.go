package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/swdee/go-peoplecount/pipeline"
)

// maxLineSize is the longest record line accepted
const maxLineSize = 4 * 1024 * 1024

// FileSource replays frames from a JSON lines stream, one Record per line
type FileSource struct {
	scanner *bufio.Scanner
	closer  io.Closer
	dec     *decoder
	line    int
}

// NewFileSource returns a source reading records from r
func NewFileSource(r io.Reader) *FileSource {

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	fs := &FileSource{
		scanner: scanner,
		dec:     newDecoder("file"),
	}

	if c, ok := r.(io.Closer); ok {
		fs.closer = c
	}

	return fs
}

// OpenFile opens a JSON lines detections file
func OpenFile(path string) (*FileSource, error) {

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open detections file: %w", err)
	}

	return NewFileSource(f), nil
}

// Next returns the next frame.  Blank lines are skipped, a malformed line
// returns an error and the following call continues with the next line
func (s *FileSource) Next(ctx context.Context) (pipeline.Frame, error) {

	for {
		if err := ctx.Err(); err != nil {
			return pipeline.Frame{}, err
		}

		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return pipeline.Frame{}, fmt.Errorf("failed to read line %d: %w", s.line+1, err)
			}
			return pipeline.Frame{}, ErrEndOfStream
		}

		s.line++

		data := bytes.TrimSpace(s.scanner.Bytes())
		if len(data) == 0 {
			continue
		}

		f, err := s.dec.decode(data)
		if err != nil {
			return pipeline.Frame{}, fmt.Errorf("line %d: %w", s.line, err)
		}

		return f, nil
	}
}

// Close closes the underlying reader
func (s *FileSource) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// Writer records frames as JSON lines readable by FileSource
type Writer struct {
	enc *json.Encoder
}

// NewWriter returns a Writer encoding to w
func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: json.NewEncoder(w)}
}

// Write appends a frame
func (w *Writer) Write(f pipeline.Frame) error {
	if err := w.enc.Encode(NewRecord(f)); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}
