// Package queue publishes registry events to Pub/Sub and receives the
// download-permission jobs consumed by the worker.
package queue

import (
	"context"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub/v2"
	"github.com/dmitrijs2005/trialregistry/internal/logging"
	"github.com/dmitrijs2005/trialregistry/internal/server/metrics"
	"google.golang.org/api/option"
)

// Publisher sends one message and returns once the broker acknowledged it.
type Publisher interface {
	Publish(ctx context.Context, topic string, data []byte) error
}

var newPubSubClient = func(ctx context.Context, project string, opts ...option.ClientOption) (*pubsub.Client, error) {
	return pubsub.NewClient(ctx, project, opts...)
}

// PubSubPublisher keeps one pubsub.Publisher per topic.
type PubSubPublisher struct {
	client  *pubsub.Client
	logger  logging.Logger
	metrics *metrics.Metrics

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

func NewPubSubPublisher(ctx context.Context, project string, logger logging.Logger, m *metrics.Metrics, opts ...option.ClientOption) (*PubSubPublisher, error) {
	client, err := newPubSubClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	return &PubSubPublisher{
		client:     client,
		logger:     logger.With("module", "queue"),
		metrics:    m,
		publishers: map[string]*pubsub.Publisher{},
	}, nil
}

func (p *PubSubPublisher) publisher(topic string) *pubsub.Publisher {
	p.mu.Lock()
	defer p.mu.Unlock()
	pub, ok := p.publishers[topic]
	if !ok {
		pub = p.client.Publisher(topic)
		p.publishers[topic] = pub
	}
	return pub
}

// Publish blocks until the message is stored by Pub/Sub.
func (p *PubSubPublisher) Publish(ctx context.Context, topic string, data []byte) error {
	res := p.publisher(topic).Publish(ctx, &pubsub.Message{Data: data})
	id, err := res.Get(ctx)
	p.metrics.Publish(topic, err)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	p.logger.Debug(ctx, "message published", "topic", topic, "message_id", id)
	return nil
}

// Close flushes pending messages and releases the client.
func (p *PubSubPublisher) Close() error {
	p.mu.Lock()
	for _, pub := range p.publishers {
		pub.Stop()
	}
	p.publishers = map[string]*pubsub.Publisher{}
	p.mu.Unlock()
	return p.client.Close()
}
