package services

import (
	"context"
	"errors"

	aws_pkg "github.com/ticketchief/backend/pkg/aws"
	"github.com/ticketchief/backend/pkg/broker"
	"github.com/ticketchief/backend/pkg/events"
	"go.uber.org/zap"
)

type SessionOpener interface {
	Process(ctx context.Context, req events.PaymentRequested) error
}

// PaymentRequestConsumer opens a payment session for every payment.requested
// event delivered on its queue.
type PaymentRequestConsumer struct {
	subscriber broker.Subscriber
	opener     SessionOpener
	metrics    *aws_pkg.MetricsClient
	logger     *zap.Logger
}

func NewPaymentRequestConsumer(subscriber broker.Subscriber, opener SessionOpener, metrics *aws_pkg.MetricsClient, logger *zap.Logger) *PaymentRequestConsumer {
	return &PaymentRequestConsumer{
		subscriber: subscriber,
		opener:     opener,
		metrics:    metrics,
		logger:     logger,
	}
}

// Start blocks until ctx is cancelled or the subscription fails.
func (c *PaymentRequestConsumer) Start(ctx context.Context) error {
	c.logger.Info("Starting PaymentRequestConsumer", zap.String("queue", events.RoutingPaymentRequested))
	err := c.subscriber.Subscribe(ctx, events.RoutingPaymentRequested, c.Handle)
	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Error("Payment request subscription stopped", zap.Error(err))
		return err
	}
	return nil
}

// Handle processes one delivery. Malformed payloads are acknowledged and
// dropped; any other failure is returned so the message is redelivered.
func (c *PaymentRequestConsumer) Handle(ctx context.Context, body []byte) error {
	dims := map[string]string{"Service": "payment-service", "Queue": events.RoutingPaymentRequested}

	var req events.PaymentRequested
	if err := events.Decode(body, &req); err != nil {
		c.logger.Warn("Dropping malformed payment request", zap.Error(err))
		c.metrics.RecordCount(ctx, aws_pkg.MetricMessagesRejected, dims)
		return nil
	}

	if err := c.opener.Process(ctx, req); err != nil {
		c.logger.Error("Failed to open payment session",
			zap.String("correlation_id", req.CorrelationID),
			zap.Int64("order_id", req.OrderID),
			zap.Error(err),
		)
		return err
	}
	c.metrics.RecordCount(ctx, aws_pkg.MetricMessagesHandled, dims)
	return nil
}
