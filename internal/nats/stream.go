package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/lukeocodes/mod-gpt/internal/model"
)

const (
	// StreamName is the name of the platform events stream.
	StreamName = "PLATFORM_EVENTS"

	// SubjectPrefix is the prefix for all platform event subjects.
	SubjectPrefix = "platform"

	// ConsumerName is the durable consumer the moderation service
	// reads events through.
	ConsumerName = "modgpt"
)

// StreamManager handles JetStream stream operations.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream ensures the platform events stream exists with proper
// configuration. The gateway publishes into it; this service consumes.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	// Check if stream exists
	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil // Stream already exists
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      72 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024, // 10GB
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Inbound platform events from the gateway",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	return nil
}

// EnsureConsumer creates or updates the service's durable consumer.
// Explicit acks plus redelivery give at-least-once processing; the
// Redis dedupe layer absorbs the duplicates.
func (m *StreamManager) EnsureConsumer(ctx context.Context) (jetstream.Consumer, error) {
	consumer, err := m.client.JetStream().CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       ConsumerName,
		FilterSubject: fmt.Sprintf("%s.>", SubjectPrefix),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverNewPolicy,
		Description:   "Moderation pipeline consumer",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}
	return consumer, nil
}

// EventSubject returns the subject an event is published under.
func EventSubject(guildID string, eventType model.EventType) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, guildID, eventType)
}

// PublishEvent publishes a platform event. The gateway normally does
// this; the service itself publishes only in tests and tooling.
func (m *StreamManager) PublishEvent(ctx context.Context, evt *model.Event) (uint64, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	ack, err := m.client.JetStream().Publish(ctx, EventSubject(evt.GuildID, evt.Type), data)
	if err != nil {
		return 0, fmt.Errorf("failed to publish event: %w", err)
	}
	return ack.Sequence, nil
}
