package services

import (
	"context"
	"errors"
	"fmt"

	aws_pkg "github.com/ticketchief/backend/pkg/aws"
	"github.com/ticketchief/backend/pkg/broker"
	"github.com/ticketchief/backend/pkg/events"
	apperr "github.com/ticketchief/backend/services/common/errors"
	"go.uber.org/zap"
)

// Releaser frees a seat reservation held by the event-ticket service.
type Releaser interface {
	ReleaseReservation(ctx context.Context, reservationID string) (bool, error)
}

// ReleaseConsumer turns reservation.release events into calls on the
// event-ticket service. A refused release is redelivered.
type ReleaseConsumer struct {
	subscriber broker.Subscriber
	releaser   Releaser
	metrics    *aws_pkg.MetricsClient
	logger     *zap.Logger
}

func NewReleaseConsumer(subscriber broker.Subscriber, releaser Releaser, metrics *aws_pkg.MetricsClient, logger *zap.Logger) *ReleaseConsumer {
	return &ReleaseConsumer{
		subscriber: subscriber,
		releaser:   releaser,
		metrics:    metrics,
		logger:     logger,
	}
}

func (c *ReleaseConsumer) Start(ctx context.Context) error {
	c.logger.Info("Starting ReleaseConsumer", zap.String("queue", events.RoutingReservationRelease))
	err := c.subscriber.Subscribe(ctx, events.RoutingReservationRelease, c.Handle)
	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Error("Reservation release subscription stopped", zap.Error(err))
		return err
	}
	return nil
}

func (c *ReleaseConsumer) Handle(ctx context.Context, body []byte) error {
	var evt events.ReservationReleaseRequested
	if err := events.Decode(body, &evt); err != nil {
		c.logger.Warn("Dropping malformed release request", zap.Error(err))
		c.metrics.RecordCount(ctx, aws_pkg.MetricMessagesRejected, dims(events.RoutingReservationRelease))
		return nil
	}

	log := c.logger.With(zap.String("reservation_id", evt.ReservationID), zap.Int64("order_id", evt.OrderID))
	released, err := c.releaser.ReleaseReservation(ctx, evt.ReservationID)
	if err != nil {
		log.Warn("Reservation release failed", zap.Error(err))
		return err
	}
	if !released {
		log.Warn("Reservation release refused")
		return fmt.Errorf("release reservation %s: %w", evt.ReservationID, apperr.ErrTransient)
	}

	c.metrics.RecordCount(ctx, aws_pkg.MetricReservationsRelease, dims(events.RoutingReservationRelease))
	return nil
}
