package services

import (
	"context"
	"errors"

	aws_pkg "github.com/ticketchief/backend/pkg/aws"
	"github.com/ticketchief/backend/pkg/broker"
	"github.com/ticketchief/backend/pkg/events"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SagaEvents is the part of the saga driven by broker deliveries.
type SagaEvents interface {
	OnPaymentProcessed(ctx context.Context, evt events.PaymentProcessed) error
	OnTicketCreated(ctx context.Context, evt events.TicketCreated) error
}

// SagaConsumer feeds payment.processed and ticket.created deliveries into the
// order saga.
type SagaConsumer struct {
	subscriber broker.Subscriber
	saga       SagaEvents
	metrics    *aws_pkg.MetricsClient
	logger     *zap.Logger
}

func NewSagaConsumer(subscriber broker.Subscriber, saga SagaEvents, metrics *aws_pkg.MetricsClient, logger *zap.Logger) *SagaConsumer {
	return &SagaConsumer{
		subscriber: subscriber,
		saga:       saga,
		metrics:    metrics,
		logger:     logger,
	}
}

// Start subscribes to both queues and blocks until ctx is cancelled or one
// subscription fails.
func (c *SagaConsumer) Start(ctx context.Context) error {
	c.logger.Info("Starting SagaConsumer",
		zap.Strings("queues", []string{events.RoutingPaymentProcessed, events.RoutingTicketCreated}),
	)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.subscribe(ctx, events.RoutingPaymentProcessed, c.HandlePaymentProcessed) })
	g.Go(func() error { return c.subscribe(ctx, events.RoutingTicketCreated, c.HandleTicketCreated) })
	return g.Wait()
}

func (c *SagaConsumer) subscribe(ctx context.Context, queue string, h broker.Handler) error {
	err := c.subscriber.Subscribe(ctx, queue, h)
	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Error("Subscription stopped", zap.String("queue", queue), zap.Error(err))
		return err
	}
	return nil
}

func (c *SagaConsumer) HandlePaymentProcessed(ctx context.Context, body []byte) error {
	var evt events.PaymentProcessed
	if !c.decode(ctx, events.RoutingPaymentProcessed, body, &evt) {
		return nil
	}
	return c.result(ctx, events.RoutingPaymentProcessed, c.saga.OnPaymentProcessed(ctx, evt))
}

func (c *SagaConsumer) HandleTicketCreated(ctx context.Context, body []byte) error {
	var evt events.TicketCreated
	if !c.decode(ctx, events.RoutingTicketCreated, body, &evt) {
		return nil
	}
	return c.result(ctx, events.RoutingTicketCreated, c.saga.OnTicketCreated(ctx, evt))
}

// decode reports whether body is a valid payload. Malformed payloads are
// logged and acknowledged.
func (c *SagaConsumer) decode(ctx context.Context, queue string, body []byte, v any) bool {
	if err := events.Decode(body, v); err != nil {
		c.logger.Warn("Dropping malformed event", zap.String("queue", queue), zap.Error(err))
		c.metrics.RecordCount(ctx, aws_pkg.MetricMessagesRejected, dims(queue))
		return false
	}
	return true
}

func (c *SagaConsumer) result(ctx context.Context, queue string, err error) error {
	if err != nil {
		c.logger.Error("Event handling failed, will be redelivered", zap.String("queue", queue), zap.Error(err))
		return err
	}
	c.metrics.RecordCount(ctx, aws_pkg.MetricMessagesHandled, dims(queue))
	return nil
}

func dims(queue string) map[string]string {
	return map[string]string{"Service": "order-service", "Queue": queue}
}
