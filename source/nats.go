package source

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/swdee/go-peoplecount/pipeline"
)

// natsBuffer is the number of messages buffered before NATS reports a slow
// consumer
const natsBuffer = 256

// NATSSource receives frames published by an external detector on a NATS
// subject
type NATSSource struct {
	sub  *nats.Subscription
	msgs chan *nats.Msg
	done chan struct{}
	once sync.Once
	dec  *decoder
}

// NewNATSSource subscribes to subject on the connection
func NewNATSSource(conn *nats.Conn, subject string) (*NATSSource, error) {

	msgs := make(chan *nats.Msg, natsBuffer)

	sub, err := conn.ChanSubscribe(subject, msgs)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	return &NATSSource{
		sub:  sub,
		msgs: msgs,
		done: make(chan struct{}),
		dec:  newDecoder("nats"),
	}, nil
}

// Next blocks until a frame is received, the context is done or the source
// is closed
func (s *NATSSource) Next(ctx context.Context) (pipeline.Frame, error) {

	select {
	case <-ctx.Done():
		return pipeline.Frame{}, ctx.Err()

	case <-s.done:
		return pipeline.Frame{}, ErrEndOfStream

	case msg := <-s.msgs:
		return s.dec.decode(msg.Data)
	}
}

// Close unsubscribes.  Pending frames are discarded
func (s *NATSSource) Close() error {

	var err error

	s.once.Do(func() {
		close(s.done)
		err = s.sub.Unsubscribe()
	})

	return err
}
