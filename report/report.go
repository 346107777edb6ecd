// Package report periodically sends the crossing counters to one or more
// sinks, an HTTP endpoint and/or a NATS subject
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/swdee/go-peoplecount/counter"
)

const (
	// testSuffix is appended to the device name by TestConnection
	testSuffix = "_test"
	// defaultTimeout is the per sink send timeout
	defaultTimeout = 30 * time.Second
)

// Payload is the body sent to the counting API
type Payload struct {
	Device string `json:"apparaat"`
	Enter  int    `json:"binnen"`
	Exit   int    `json:"buiten"`
	Delta  int    `json:"delta"`
	Total  int    `json:"totaal"`
}

// NewPayload builds a payload from the counter stats
func NewPayload(device string, s counter.Stats) Payload {
	return Payload{
		Device: device,
		Enter:  s.TotalDown,
		Exit:   s.TotalUp,
		Delta:  s.Delta,
		Total:  s.Total,
	}
}

// Sink is a destination for counter reports
type Sink interface {
	// Name identifies the sink in logs and status
	Name() string
	// Send delivers the payload, returning an error if it was not accepted
	Send(ctx context.Context, p Payload) error
}

// Status describes the state of the reporter
type Status struct {
	Device    string        `json:"device"`
	Interval  time.Duration `json:"interval"`
	Sinks     []string      `json:"sinks"`
	Sent      int           `json:"sent"`
	Failed    int           `json:"failed"`
	LastSent  time.Time     `json:"last_sent,omitempty"`
	LastError string        `json:"last_error,omitempty"`
}

// Reporter sends the latest counter stats to its sinks on a fixed interval
// from its own goroutine.  The frame loop hands over stats with Update and
// collects acknowledged deltas with TakeAck, so the delta is only reduced
// once a report has been delivered
type Reporter struct {
	device   string
	interval time.Duration
	timeout  time.Duration
	sinks    []Sink

	mu     sync.Mutex
	latest counter.Stats
	acked  int
	status Status

	log *slog.Logger
}

// New returns a Reporter for the device sending to the given sinks
func New(device string, interval, timeout time.Duration, sinks ...Sink) *Reporter {

	if timeout <= 0 {
		timeout = defaultTimeout
	}

	names := make([]string, len(sinks))
	for i, s := range sinks {
		names[i] = s.Name()
	}

	return &Reporter{
		device:   device,
		interval: interval,
		timeout:  timeout,
		sinks:    sinks,
		status: Status{
			Device:   device,
			Interval: interval,
			Sinks:    names,
		},
		log: slog.Default().With("component", "reporter"),
	}
}

// SetLogger sets the logger
func (r *Reporter) SetLogger(l *slog.Logger) {
	r.log = l.With("component", "reporter")
}

// Update hands the latest counter stats to the reporter.  Deltas delivered
// but not yet collected with TakeAck are still part of s, so they are
// deducted here
func (r *Reporter) Update(s counter.Stats) {
	r.mu.Lock()
	s.Delta -= r.acked
	r.latest = s
	r.mu.Unlock()
}

// TakeAck returns the sum of the deltas delivered since the last call.  The
// caller subtracts it from its counter
func (r *Reporter) TakeAck() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.acked
	r.acked = 0

	return n
}

// Status returns the reporter status
func (r *Reporter) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.status
	s.Sinks = append([]string(nil), r.status.Sinks...)

	return s
}

// Run reports on every interval until the context is cancelled, then sends
// one final report
func (r *Reporter) Run(ctx context.Context) error {

	if r.interval <= 0 {
		return fmt.Errorf("invalid report interval %s", r.interval)
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.log.Info("Reporter started", "device", r.device, "interval", r.interval,
		"sinks", r.status.Sinks)

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), r.timeout)
			if err := r.Flush(final); err != nil {
				r.log.Warn("Final report failed", "error", err)
			}
			cancel()
			return ctx.Err()

		case <-ticker.C:
			if err := r.Flush(ctx); err != nil {
				r.log.Error("Report failed", "error", err)
			}
		}
	}
}

// Flush sends the latest stats to every sink now.  The delta is acknowledged
// only when every sink accepted the report
func (r *Reporter) Flush(ctx context.Context) error {

	r.mu.Lock()
	stats := r.latest
	r.mu.Unlock()

	p := NewPayload(r.device, stats)

	r.log.Info("Posting counters", "total", p.Total, "down", p.Enter,
		"up", p.Exit, "delta", p.Delta)

	err := r.send(ctx, p)

	r.mu.Lock()
	defer r.mu.Unlock()

	if err != nil {
		r.status.Failed++
		r.status.LastError = err.Error()
		return err
	}

	r.status.Sent++
	r.status.LastSent = time.Now()
	r.status.LastError = ""

	// the frame loop may not have subtracted the ack yet
	r.acked += stats.Delta
	r.latest.Delta -= stats.Delta

	return nil
}

// TestConnection sends a zero valued payload for the test device to every
// sink
func (r *Reporter) TestConnection(ctx context.Context) error {

	if len(r.sinks) == 0 {
		return errors.New("no report sinks configured")
	}

	if err := r.send(ctx, Payload{Device: r.device + testSuffix}); err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}

	r.log.Info("Connection test successful", "sinks", r.status.Sinks)

	return nil
}

// send delivers the payload to all sinks, each with its own timeout
func (r *Reporter) send(ctx context.Context, p Payload) error {

	var errs []error

	for _, sink := range r.sinks {

		sctx, cancel := context.WithTimeout(ctx, r.timeout)
		err := sink.Send(sctx, p)
		cancel()

		if err != nil {
			errs = append(errs, fmt.Errorf("sink %s: %w", sink.Name(), err))
		}
	}

	return errors.Join(errs...)
}
