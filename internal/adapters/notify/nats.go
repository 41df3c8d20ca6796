package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/okian/duel/internal/adapters/mq/queue"
)

// DefaultSubject is where rating changes are published.
const DefaultSubject = "duel.rating.changed"

// NATSPublisher publishes events as JSON on one subject.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

// NewNATSPublisher wraps an existing connection.
func NewNATSPublisher(conn *nats.Conn, subject string) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSPublisher{conn: conn, subject: subject}
}

// ConnectNATS dials url and returns a publisher owning the connection.
func ConnectNATS(url, subject string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("duel"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return NewNATSPublisher(conn, subject), nil
}

// Subject returns the subject events are published on.
func (p *NATSPublisher) Subject() string { return p.subject }

// Publish implements Publisher.
func (p *NATSPublisher) Publish(_ context.Context, e queue.Event) error { //nolint:gocritic // hugeParam: events travel by value
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal rating change: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
