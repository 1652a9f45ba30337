package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
)

// Job types accepted on the trigger subscription.
const (
	JobSyncNow     = "sync_now"
	JobHealthCheck = "health_check"
)

// PubSubHandler runs sync cycles on demand from Pub/Sub messages.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	job              *SyncJob
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	Job              *SyncJob
	Logger           zerolog.Logger
}

// TriggerMessage is a sync trigger job message.
type TriggerMessage struct {
	JobType string `json:"job_type"`
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)

	// Triggers are coalesced, so a handful outstanding is plenty.
	subscriber.ReceiveSettings.MaxOutstandingMessages = 4
	subscriber.ReceiveSettings.MaxExtension = time.Minute

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		job:              cfg.Job,
		logger:           cfg.Logger,
	}, nil
}

// Start begins processing Pub/Sub messages. It blocks until ctx is done.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting pubsub trigger handler")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		logger := h.logger.With().
			Str("message_id", msg.ID).
			Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
			Logger()

		if HandleTrigger(h.job, msg.Data, logger) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

// HandleTrigger acts on one trigger message and reports whether it should
// be acknowledged. Unknown job types are acknowledged so they are not
// redelivered; unparseable messages are not.
func HandleTrigger(job *SyncJob, data []byte, logger zerolog.Logger) bool {
	var msg TriggerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.Error().Err(err).Msg("failed to parse trigger message")
		return false
	}

	switch msg.JobType {
	case JobSyncNow:
		job.Trigger()
		logger.Info().Msg("sync cycle triggered")
	case JobHealthCheck:
		logger.Info().
			Fields(job.MetricsSnapshot()).
			Bool("ready", job.Ready()).
			Msg("health check")
	default:
		logger.Warn().Str("job_type", msg.JobType).Msg("unknown job type")
	}
	return true
}
