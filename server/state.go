package server

import (
	"sync"
	"time"

	"github.com/swdee/go-peoplecount/pipeline"
)

// maxEvents is the number of recent events kept in memory
const maxEvents = 500

// state is the latest published pipeline output
type state struct {
	mu       sync.RWMutex
	result   pipeline.Result
	stats    pipeline.Statistics
	events   []pipeline.Event
	updated  time.Time
	jpeg     []byte
	jpegSeq  uint64
	received bool
}

// publish replaces the latest result and appends its events
func (s *state) publish(res pipeline.Result, st pipeline.Statistics) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.result = res
	s.stats = st
	s.updated = time.Now()
	s.received = true

	s.events = append(s.events, res.Events...)

	if over := len(s.events) - maxEvents; over > 0 {
		s.events = append([]pipeline.Event(nil), s.events[over:]...)
	}
}

// snapshot returns the latest result and statistics
func (s *state) snapshot() (pipeline.Result, pipeline.Statistics, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result, s.stats, s.updated, s.received
}

// recent returns up to limit of the newest events, newest first
func (s *state) recent(limit int, crossingsOnly bool) []pipeline.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]pipeline.Event, 0, min(limit, len(s.events)))

	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		if crossingsOnly && !s.events[i].IsCrossing() {
			continue
		}
		out = append(out, s.events[i])
	}

	return out
}

// setFrame stores the latest encoded frame
func (s *state) setFrame(jpeg []byte) {
	s.mu.Lock()
	s.jpeg = jpeg
	s.jpegSeq++
	s.mu.Unlock()
}

// frame returns the latest encoded frame and its sequence
func (s *state) frame() ([]byte, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jpeg, s.jpegSeq
}
