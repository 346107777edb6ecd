// Package bus provides the NATS messaging used to receive detections from an
// external detector and to publish counters and events.  It either connects
// to an existing NATS server or runs one embedded in the process
package bus

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// Subjects used by the people counter
const (
	SubjectDetections = "peoplecount.detections"
	SubjectCounts     = "peoplecount.counts"
	SubjectEvents     = "peoplecount.events"
)

// Config configures the bus
type Config struct {
	// URL of an existing NATS server, when empty an embedded server is run
	URL string
	// Host for the embedded server (default: 127.0.0.1)
	Host string
	// Port for the embedded server, -1 picks a random port
	Port int
}

// Bus is a NATS connection, optionally backed by an embedded server
type Bus struct {
	server *server.Server
	conn   *nats.Conn
	logger *slog.Logger

	subs   []*nats.Subscription
	subsMu sync.Mutex
}

// New connects to the configured NATS server or starts an embedded one
func New(cfg Config, logger *slog.Logger) (*Bus, error) {
	if logger == nil {
		logger = slog.Default()
	}

	b := &Bus{
		logger: logger.With("component", "bus"),
	}

	url := cfg.URL

	if url == "" {
		ns, err := startEmbedded(cfg)
		if err != nil {
			return nil, err
		}
		b.server = ns
		url = ns.ClientURL()
	}

	nc, err := nats.Connect(url, nats.Name("peoplecount"))
	if err != nil {
		if b.server != nil {
			b.server.Shutdown()
		}
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}

	b.conn = nc

	b.logger.Info("Bus connected", "url", url, "embedded", b.server != nil)

	return b, nil
}

// startEmbedded runs an in process NATS server
func startEmbedded(cfg Config) (*server.Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = server.DEFAULT_PORT
	}

	opts := &server.Options{
		Host:   cfg.Host,
		Port:   cfg.Port,
		NoSigs: true,
		NoLog:  true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(2 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready after 2 seconds (port %d)", cfg.Port)
	}

	return ns, nil
}

// Conn returns the NATS connection for direct use
func (b *Bus) Conn() *nats.Conn {
	return b.conn
}

// ClientURL returns the URL clients use to reach the bus
func (b *Bus) ClientURL() string {
	if b.server != nil {
		return b.server.ClientURL()
	}
	return b.conn.ConnectedUrl()
}

// Publish publishes a JSON encoded message to a subject
func (b *Bus) Publish(subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}
	return b.conn.Publish(subject, payload)
}

// Subscribe subscribes to a subject, the subscription is removed on Close
func (b *Bus) Subscribe(subject string, handler func(*nats.Msg)) (*nats.Subscription, error) {
	sub, err := b.conn.Subscribe(subject, handler)
	if err != nil {
		return nil, err
	}

	b.subsMu.Lock()
	b.subs = append(b.subs, sub)
	b.subsMu.Unlock()

	return sub, nil
}

// Close drains the connection and stops the embedded server
func (b *Bus) Close() {
	b.subsMu.Lock()
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil
	b.subsMu.Unlock()

	_ = b.conn.Drain()

	if b.server != nil {
		b.server.Shutdown()
	}

	b.logger.Info("Bus closed")
}
