// Package broker is the event gateway shared by the services. Delivery is
// at-least-once: a message is acknowledged only when its handler returns nil.
//
// Queue names equal routing keys on every transport: an SQS queue subscribed
// to a topic with a routing_key filter, a Kafka topic read by a consumer
// group, or an in-process channel.
package broker

import (
	"context"
	"fmt"

	"github.com/ticketchief/backend/pkg/events"
)

// Message is one outbound event.
type Message struct {
	Topic      string
	RoutingKey string
	// Key orders messages of one aggregate where the transport supports it.
	Key     string
	Payload []byte
}

// Handler processes one delivered message body.
type Handler func(ctx context.Context, body []byte) error

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

type Subscriber interface {
	// Subscribe blocks, delivering messages of queue to h until ctx is done.
	Subscribe(ctx context.Context, queue string, h Handler) error
}

type Broker interface {
	Publisher
	Subscriber
	Close() error
}

// NewMessage encodes evt into a Message keyed by key.
func NewMessage(evt events.Event, key string) (Message, error) {
	payload, err := events.Encode(evt)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Topic:      evt.Topic(),
		RoutingKey: evt.RoutingKey(),
		Key:        key,
		Payload:    payload,
	}, nil
}

// PublishEvent encodes and publishes evt directly, bypassing any outbox.
func PublishEvent(ctx context.Context, p Publisher, evt events.Event, key string) error {
	msg, err := NewMessage(evt, key)
	if err != nil {
		return err
	}
	if err := p.Publish(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", msg.RoutingKey, err)
	}
	return nil
}
