// Package pubsub publishes newly stored race results to a Google Cloud Pub/Sub
// topic, one message per record.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/hkjc-results-crawler/internal/crawler"
)

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

type topic interface {
	Publish(ctx context.Context, msg *pubsub.Message) publishResult
}

type topicAdapter struct {
	topic *pubsub.Topic
}

func (a topicAdapter) Publish(ctx context.Context, msg *pubsub.Message) publishResult {
	return a.topic.Publish(ctx, msg)
}

// Publisher implements crawler.Publisher on a Pub/Sub topic.
type Publisher struct {
	topic topic
}

var _ crawler.Publisher = (*Publisher)(nil)

// New wraps a topic handle. The caller owns the topic and stops it on shutdown.
func New(t *pubsub.Topic) (*Publisher, error) {
	if t == nil {
		return nil, fmt.Errorf("pubsub topic is required")
	}
	return newWithTopic(topicAdapter{topic: t}), nil
}

func newWithTopic(t topic) *Publisher {
	return &Publisher{topic: t}
}

// Publish sends every record as a JSON message carrying date and race_no
// attributes, then waits for the server acks in order. It returns how many
// records were acknowledged before the first failure.
func (p *Publisher) Publish(ctx context.Context, records []crawler.RaceRecord) (int, error) {
	results := make([]publishResult, 0, len(records))
	var marshalErr error
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			marshalErr = fmt.Errorf("marshal race record: %w", err)
			break
		}
		results = append(results, p.topic.Publish(ctx, &pubsub.Message{
			Data: data,
			Attributes: map[string]string{
				"date":    rec.Date.String(),
				"race_no": strconv.Itoa(rec.RaceNo),
			},
		}))
	}
	for i, res := range results {
		if _, err := res.Get(ctx); err != nil {
			return i, fmt.Errorf("publish message: %w", err)
		}
	}
	if marshalErr != nil {
		return len(results), marshalErr
	}
	return len(records), nil
}
