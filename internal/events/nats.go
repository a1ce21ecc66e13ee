package events

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSPublisher implements Publisher using NATS
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	logger  zerolog.Logger
}

// NewNATSPublisher connects to natsURL and publishes under subject.
func NewNATSPublisher(natsURL, subject string, logger zerolog.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(natsURL, nats.Name("otactor"))
	if err != nil {
		return nil, err
	}

	return &NATSPublisher{
		conn:    conn,
		subject: subject,
		logger:  logger,
	}, nil
}

// Close closes the NATS connection
func (n *NATSPublisher) Close() error {
	if n.conn != nil {
		n.conn.Close()
	}
	return nil
}

// PublishEpisode publishes to <subject>.episodes and additionally to an
// alerting subject for discarded or unconverged episodes.
func (n *NATSPublisher) PublishEpisode(ctx context.Context, event EpisodeEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	subject := n.subject + ".episodes"
	if err := n.conn.Publish(subject, data); err != nil {
		n.logger.Error().Err(err).Str("subject", subject).Msg("Failed to publish episode event")
		return err
	}

	if key := episodeRoutingKey(event); key != "" {
		routed := subject + "." + key
		if err := n.conn.Publish(routed, data); err != nil {
			n.logger.Error().Err(err).Str("routing_key", routed).Msg("Failed to publish to routing key")
		}
	}

	n.logger.Debug().
		Str("outcome", event.Outcome).
		Int("steps", event.Steps).
		Str("subject", subject).
		Msg("Published episode event")
	return nil
}

// PublishSync publishes to <subject>.sync.
func (n *NATSPublisher) PublishSync(ctx context.Context, event SyncEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	subject := n.subject + ".sync"
	if err := n.conn.Publish(subject, data); err != nil {
		n.logger.Error().Err(err).Str("subject", subject).Msg("Failed to publish sync event")
		return err
	}
	return nil
}
