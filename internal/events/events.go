// Package events publishes pipeline progress for observers outside the run.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/vinayprograms/agentkit/logging"
)

// Event types.
const (
	TypeNodeEntered    = "node_entered"
	TypeRouted         = "routed"
	TypeStageCompleted = "stage_completed"
	TypeStageFailed    = "stage_failed"
	TypePaused         = "paused"
	TypeResumed        = "resumed"
	TypeFinished       = "finished"
)

// Event is one step of a run as seen from outside.
type Event struct {
	SessionID string    `json:"session_id"`
	Seq       uint64    `json:"seq"`
	Type      string    `json:"type"`
	Node      string    `json:"node,omitempty"`
	Stage     string    `json:"stage,omitempty"`
	Content   string    `json:"content,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher delivers events. Failures are reported, never fatal to a run.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Conn is the part of *nats.Conn the NATS publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATSPublisher publishes each event as JSON on <prefix>.<session id>.
type NATSPublisher struct {
	conn   Conn
	prefix string
}

// NewNATSPublisher wraps an existing connection.
func NewNATSPublisher(conn Conn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = "hackmate.pipeline"
	}
	return &NATSPublisher{conn: conn, prefix: prefix}
}

// DialNATS connects to url and returns a publisher on prefix.
func DialNATS(url, prefix string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("hackmate"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}
	return NewNATSPublisher(nc, prefix), nil
}

// Subject returns the subject events for sessionID are published on.
func (p *NATSPublisher) Subject(sessionID string) string {
	return p.prefix + "." + sessionID
}

func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return p.conn.Publish(p.Subject(e.SessionID), data)
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

// LogPublisher writes events to the structured log.
type LogPublisher struct {
	logger *logging.Logger
}

// NewLogPublisher creates a publisher that logs at debug level.
func NewLogPublisher() *LogPublisher {
	return &LogPublisher{logger: logging.New().WithComponent("events")}
}

func (p *LogPublisher) Publish(_ context.Context, e Event) error {
	p.logger.Debug("pipeline event", map[string]interface{}{
		"session": e.SessionID,
		"seq":     e.Seq,
		"type":    e.Type,
		"node":    e.Node,
		"stage":   e.Stage,
	})
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// Multi fans an event out to every publisher.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Noop discards events.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }
