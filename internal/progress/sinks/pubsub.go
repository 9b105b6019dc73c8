package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/newswire-ingest/internal/progress"
)

// topicPublisher is the slice of *pubsub.Topic the sink relies on.
type topicPublisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
	Stop()
}

// PubSubSink publishes job completion events to a Google Cloud Pub/Sub topic
// so downstream consumers can react to finished ingestion runs. Fetch-level
// events are intentionally not forwarded; they are too chatty for a broker.
type PubSubSink struct {
	topic topicPublisher
}

// jobCompletionMessage is the wire payload for a completed job.
type jobCompletionMessage struct {
	RunID      string    `json:"run_id"`
	Job        string    `json:"job"`
	Stage      string    `json:"stage"`
	RuntimeMS  int64     `json:"runtime_ms"`
	Note       string    `json:"note,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// NewPubSubSink wraps a Pub/Sub topic as a progress sink.
func NewPubSubSink(topic *pubsub.Topic) (*PubSubSink, error) {
	if topic == nil {
		return nil, fmt.Errorf("pubsub topic is required")
	}
	return &PubSubSink{topic: topic}, nil
}

// Consume publishes one message per job completion event in the batch.
func (s *PubSubSink) Consume(ctx context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		if evt.Stage != progress.StageJobDone && evt.Stage != progress.StageJobError {
			continue
		}
		payload := jobCompletionMessage{
			RunID:      evt.RunUUID().String(),
			Job:        evt.Job,
			Stage:      string(evt.Stage),
			RuntimeMS:  evt.Dur.Milliseconds(),
			Note:       evt.Note,
			FinishedAt: evt.TS,
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal job completion: %w", err)
		}
		result := s.topic.Publish(ctx, &pubsub.Message{Data: data})
		if _, err := result.Get(ctx); err != nil {
			return fmt.Errorf("publish job completion: %w", err)
		}
	}
	return nil
}

// Close stops the topic's publish goroutines.
func (s *PubSubSink) Close(context.Context) error {
	s.topic.Stop()
	return nil
}
