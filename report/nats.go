package report

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/swdee/go-peoplecount/pipeline"
)

// Message is a report published on NATS
type Message struct {
	ID   string    `json:"id"`
	Time time.Time `json:"time"`
	Payload
}

// NATSSink publishes reports, and optionally pipeline events, on NATS
// subjects
type NATSSink struct {
	conn         *nats.Conn
	subject      string
	eventSubject string
}

// NewNATSSink returns a sink publishing reports on subject.  Events are only
// published when eventSubject is set
func NewNATSSink(conn *nats.Conn, subject, eventSubject string) *NATSSink {
	return &NATSSink{
		conn:         conn,
		subject:      subject,
		eventSubject: eventSubject,
	}
}

// Name returns the sink name
func (s *NATSSink) Name() string {
	return "nats"
}

// Send publishes the payload and waits for the server to process it
func (s *NATSSink) Send(ctx context.Context, p Payload) error {

	msg := Message{
		ID:      uuid.NewString(),
		Time:    time.Now(),
		Payload: p,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := s.conn.Publish(s.subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", s.subject, err)
	}

	if err := s.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	return nil
}

// PublishEvents publishes each pipeline event on the event subject
func (s *NATSSink) PublishEvents(events []pipeline.Event) error {

	if s.eventSubject == "" {
		return nil
	}

	for _, e := range events {

		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal event %s: %w", e.ID, err)
		}

		if err := s.conn.Publish(s.eventSubject, data); err != nil {
			return fmt.Errorf("failed to publish event %s: %w", e.ID, err)
		}
	}

	return nil
}
