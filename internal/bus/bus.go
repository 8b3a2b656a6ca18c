// Package bus publishes orchestrator events to NATS so other processes can
// follow scans and installs without polling the API.
//
// Each event is JSON encoded and published on <subject>.<event type>, for
// example mpifleet.events.machine_updated.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"mpifleet/internal/service"
)

// conn is the subset of *nats.Conn the publisher needs
type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
	Close()
}

// Publisher forwards events to a NATS subject tree
type Publisher struct {
	conn    conn
	subject string
	log     zerolog.Logger
}

// Connect dials url and returns a publisher rooted at subject
func Connect(url, subject string, log zerolog.Logger, opts ...nats.Option) (*Publisher, error) {
	log = log.With().Str("component", "nats").Logger()
	opts = append([]nats.Option{
		nats.Name("mpifleet"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}, opts...)

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats %s: %w", url, err)
	}
	return newPublisher(nc, subject, log), nil
}

func newPublisher(c conn, subject string, log zerolog.Logger) *Publisher {
	return &Publisher{conn: c, subject: subject, log: log}
}

// Subject returns the subject an event is published on
func (p *Publisher) Subject(ev service.Event) string {
	return p.subject + "." + string(ev.Type)
}

// Publish encodes ev as JSON and publishes it
func (p *Publisher) Publish(ev service.Event) error {
	if p == nil || p.conn == nil {
		return errors.New("nil publisher")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	if err := p.conn.Publish(p.Subject(ev), data); err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Type, err)
	}
	return nil
}

// Run publishes events until ctx is done. Failed publishes are logged and
// skipped.
func (p *Publisher) Run(ctx context.Context, events <-chan service.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := p.Publish(ev); err != nil {
				p.log.Warn().Err(err).Msg("Event not published")
			}
		}
	}
}

// Close flushes pending messages and closes the connection
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}
