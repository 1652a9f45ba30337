// Package notify publishes a message to Pub/Sub after every written snapshot.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/breatheroute/sensorbridge/internal/worker"
)

// EventType is the type attribute of snapshot notifications.
const EventType = "sensorbridge.snapshot.written"

// Config holds configuration for the Publisher.
type Config struct {
	ProjectID string
	Topic     string
	Logger    zerolog.Logger
}

// Publisher sends snapshot notifications to a topic.
type Publisher struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	topic     string
	logger    zerolog.Logger
}

// NewPublisher creates a Publisher for cfg.Topic.
func NewPublisher(ctx context.Context, cfg Config) (*Publisher, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	return &Publisher{
		client:    client,
		publisher: client.Publisher(cfg.Topic),
		topic:     cfg.Topic,
		logger:    cfg.Logger,
	}, nil
}

// SnapshotWritten publishes event and waits for the server to accept it.
func (p *Publisher) SnapshotWritten(ctx context.Context, event worker.SnapshotEvent) error {
	msg, err := EncodeEvent(event)
	if err != nil {
		return err
	}

	id, err := p.publisher.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", p.topic, err)
	}

	p.logger.Debug().
		Str("message_id", id).
		Str("cycle_id", event.CycleID).
		Msg("snapshot notification published")
	return nil
}

// Close flushes pending messages and closes the client.
func (p *Publisher) Close() error {
	p.publisher.Stop()
	return p.client.Close()
}

// EncodeEvent builds the Pub/Sub message for event.
func EncodeEvent(event worker.SnapshotEvent) (*pubsub.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot event: %w", err)
	}

	return &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"type":            EventType,
			"cycle_id":        event.CycleID,
			"collection_path": event.CollectionPath,
			"rows":            strconv.Itoa(event.Rows),
		},
	}, nil
}
