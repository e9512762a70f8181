package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Publisher is the subset of *nats.Conn used to publish events.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSConfig holds configuration for the NATS event publisher
type NATSConfig struct {
	URL           string
	Subject       string // prefix, e.g. "auction.events"
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSConfig returns default NATS publisher configuration
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Subject:       "auction.events",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// NATSPublisher publishes every observer notification as a JSON AuctionEvent
// on "<subject>.<EventType>".
type NATSPublisher struct {
	Sink

	conn    Publisher
	subject string
}

// NewNATSPublisher creates a publisher on an existing connection
func NewNATSPublisher(conn Publisher, subject string) *NATSPublisher {
	p := &NATSPublisher{conn: conn, subject: subject}
	p.Sink = p.publish
	return p
}

// ConnectNATS dials NATS with reconnect handling and logging hooks
func ConnectNATS(config NATSConfig) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("gavel-coordinator"),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// Subject returns the subject an event of the given type is published on
func (p *NATSPublisher) Subject(eventType EventType) string {
	return fmt.Sprintf("%s.%s", p.subject, eventType)
}

func (p *NATSPublisher) publish(event AuctionEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(event.Type)).Msg("failed to marshal event")
		return
	}

	// nats.Conn.Publish only buffers, so this does not block on the network.
	if err := p.conn.Publish(p.Subject(event.Type), data); err != nil {
		log.Warn().
			Err(err).
			Str("event_id", event.ID).
			Str("event_type", string(event.Type)).
			Msg("failed to publish event to NATS")
	}
}
