package messagebus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/example/agentcoach/internal/events"
)

// DefaultSubjectPrefix is used when Config.SubjectPrefix is empty
const DefaultSubjectPrefix = "agentcoach.events"

// Config holds NATS configuration
type Config struct {
	URL           string        // NATS server URL (e.g., "nats://localhost:4222")
	SubjectPrefix string        // Events go to <prefix>.<event type>
	Timeout       time.Duration // Connection timeout
}

// conn is the part of *nats.Conn the publisher uses
type conn interface {
	Publish(subj string, data []byte) error
}

// Publisher forwards training events to NATS as JSON
type Publisher struct {
	conn   conn
	nc     *nats.Conn
	prefix string
	logger zerolog.Logger
}

// Connect dials NATS and returns a publisher
func Connect(cfg Config, logger zerolog.Logger) (*Publisher, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	logger = logger.With().Str("component", "messagebus").Logger()

	nc, err := nats.Connect(cfg.URL,
		nats.Name("agentcoach"),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	p := newPublisher(nc, cfg.SubjectPrefix, logger)
	p.nc = nc
	logger.Info().Str("url", cfg.URL).Str("prefix", p.prefix).Msg("Connected to NATS")
	return p, nil
}

func newPublisher(c conn, prefix string, logger zerolog.Logger) *Publisher {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Publisher{conn: c, prefix: prefix, logger: logger}
}

// Subject returns the subject events of type t are published on
func (p *Publisher) Subject(t events.EventType) string {
	return p.prefix + "." + string(t)
}

// HandleEvent publishes the event
func (p *Publisher) HandleEvent(ctx context.Context, event events.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event.ID, err)
	}
	subject := p.Subject(event.Type)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	p.logger.Debug().Str("subject", subject).Str("event_id", event.ID).Msg("Published event")
	return nil
}

// Close drains the connection
func (p *Publisher) Close() error {
	if p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}
