package queue

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub/v2"
	"github.com/dmitrijs2005/trialregistry/internal/logging"
	"google.golang.org/api/option"
)

// Handler processes one message body. A nil return acks the message, an
// error nacks it for redelivery.
type Handler func(ctx context.Context, data []byte) error

// Receiver delivers messages to h until ctx is done.
type Receiver interface {
	Receive(ctx context.Context, h Handler) error
}

type PubSubSubscriber struct {
	client *pubsub.Client
	sub    *pubsub.Subscriber
	logger logging.Logger
}

func NewPubSubSubscriber(ctx context.Context, project, subscription string, logger logging.Logger, opts ...option.ClientOption) (*PubSubSubscriber, error) {
	client, err := newPubSubClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	return &PubSubSubscriber{
		client: client,
		sub:    client.Subscriber(subscription),
		logger: logger.With("module", "queue", "subscription", subscription),
	}, nil
}

func (s *PubSubSubscriber) Receive(ctx context.Context, h Handler) error {
	return s.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if err := h(ctx, msg.Data); err != nil {
			s.logger.Error(ctx, "message handling failed", "message_id", msg.ID, "error", err)
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

func (s *PubSubSubscriber) Close() error {
	return s.client.Close()
}
