package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
)

// Decision is how a message is settled.
type Decision int

// Message settlements.
const (
	Ack Decision = iota
	Nack
)

func (d Decision) String() string {
	if d == Ack {
		return "ack"
	}
	return "nack"
}

// Dispatcher routes decoded job messages to the extraction job.
type Dispatcher struct {
	job    *ExtractJob
	logger zerolog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(job *ExtractJob, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{job: job, logger: logger}
}

// Handle processes one message body. Malformed and unknown messages are
// acked so they are not redelivered; transient failures are nacked.
func (d *Dispatcher) Handle(ctx context.Context, data []byte) Decision {
	var msg JobMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		d.logger.Error().Err(err).Msg("failed to parse message")
		return Ack
	}

	var err error
	switch msg.JobType {
	case JobTypeExtract:
		if msg.RunID == "" {
			d.logger.Warn().Msg("extract job without run_id")
			return Ack
		}
		_, err = d.job.Run(ctx, msg.RunID)
	case JobTypeHealthCheck:
		err = d.job.HealthCheck(ctx)
	default:
		d.logger.Warn().Str("job_type", msg.JobType).Msg("unknown job type")
		return Ack
	}

	switch {
	case err == nil:
		return Ack
	case errors.Is(err, ErrDiscard):
		d.logger.Warn().Err(err).Str("run_id", msg.RunID).Msg("job discarded")
		return Ack
	default:
		d.logger.Error().Err(err).Str("job_type", msg.JobType).Msg("job failed")
		return Nack
	}
}

// PubSubHandler handles Pub/Sub messages for the worker.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	dispatcher       *Dispatcher
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	Dispatcher       *Dispatcher
	Logger           zerolog.Logger

	// MaxOutstandingMessages caps concurrent extractions. Default: 1
	MaxOutstandingMessages int
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)

	// Extractions are CPU bound and already parallel internally.
	outstanding := cfg.MaxOutstandingMessages
	if outstanding <= 0 {
		outstanding = 1
	}
	subscriber.ReceiveSettings.MaxOutstandingMessages = outstanding
	subscriber.ReceiveSettings.MaxExtension = 2 * time.Hour

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		dispatcher:       cfg.Dispatcher,
		logger:           cfg.Logger,
	}, nil
}

// Start begins processing Pub/Sub messages. It blocks until ctx is done.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting pubsub handler")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		h.handleMessage(ctx, msg)
	})
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

func (h *PubSubHandler) handleMessage(ctx context.Context, msg *pubsub.Message) {
	startTime := time.Now()

	logger := h.logger.With().
		Str("message_id", msg.ID).
		Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
		Logger()

	logger.Debug().Msg("received pubsub message")

	decision := h.dispatcher.Handle(ctx, msg.Data)
	if decision == Nack {
		msg.Nack()
		return
	}

	logger.Info().
		Dur("duration", time.Since(startTime)).
		Msg("message handled")
	msg.Ack()
}

// Publisher enqueues extraction jobs.
type Publisher struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
}

// NewPublisher creates a publisher for topic.
func NewPublisher(ctx context.Context, projectID, topic string) (*Publisher, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	return &Publisher{client: client, publisher: client.Publisher(topic)}, nil
}

// PublishExtract enqueues the run and waits for the server to accept it.
func (p *Publisher) PublishExtract(ctx context.Context, runID string) error {
	data, err := json.Marshal(JobMessage{JobType: JobTypeExtract, RunID: runID})
	if err != nil {
		return err
	}
	res := p.publisher.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"job_type": JobTypeExtract},
	})
	if _, err := res.Get(ctx); err != nil {
		return fmt.Errorf("publish extract job: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the client.
func (p *Publisher) Close() error {
	p.publisher.Stop()
	return p.client.Close()
}
