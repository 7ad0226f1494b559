package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub"
)

// PubSubSink publishes events to a Google Cloud Pub/Sub topic for
// downstream consumers. Publish failures are logged and swallowed; the
// realtime path never depends on delivery.
type PubSubSink struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSubSink connects to the topic, creating it if absent.
func NewPubSubSink(projectID, topicID string) (*PubSubSink, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub.NewClient: %w", err)
	}

	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("topic.Exists: %w", err)
	}
	if !exists {
		topic, err = client.CreateTopic(ctx, topicID)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("CreateTopic: %w", err)
		}
		slog.Info("created pub/sub topic", "topic_id", topicID)
	}

	return &PubSubSink{client: client, topic: topic}, nil
}

// Deliver implements Sink.
func (s *PubSubSink) Deliver(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("analytics event marshal failed", "type", ev.Type, "error", err)
		return
	}

	res := s.topic.Publish(ctx, &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"type":    ev.Type,
			"airport": ev.Airport,
		},
	})

	// Resolve off the delivery loop; a slow broker must not back up the
	// emitter's single worker.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := res.Get(ctx); err != nil {
			slog.Warn("analytics publish failed", "type", ev.Type, "error", err)
		}
	}()
}

// Close implements Sink.
func (s *PubSubSink) Close() error {
	s.topic.Stop()
	return s.client.Close()
}
