package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	aws_pkg "github.com/ticketchief/backend/pkg/aws"
	"github.com/ticketchief/backend/pkg/events"
	"github.com/ticketchief/backend/pkg/lock"
	"github.com/ticketchief/backend/pkg/outbox"
	apperr "github.com/ticketchief/backend/services/common/errors"
	"github.com/ticketchief/backend/services/order-service/models"
	repositories "github.com/ticketchief/backend/services/order-service/repository"
	"go.uber.org/zap"
)

const (
	invoiceEmailSubject = "Your Invoice"
	invoiceEmailBody    = "Thank you for your purchase. Your tickets are attached as QR codes."
)

// InvoiceRenderer renders and stores the invoice of a fully ticketed order.
type InvoiceRenderer interface {
	GenerateInvoice(ctx context.Context, order *models.Order) (models.Invoice, error)
}

// Notifier is told when new outbox rows have been committed.
type Notifier interface {
	Notify()
}

type noopNotifier struct{}

func (noopNotifier) Notify() {}

// OrderSaga owns every write to an order: cart commands from the API and the
// payment and ticket events that move a finalized order to completion. Work on
// one order is serialized through the locker.
type OrderSaga struct {
	repo     repositories.OrderRepository
	locker   lock.Locker
	invoices InvoiceRenderer
	notifier Notifier
	taxRate  decimal.Decimal
	metrics  *aws_pkg.MetricsClient
	logger   *zap.Logger
}

type SagaOption func(*OrderSaga)

func WithTaxRate(rate decimal.Decimal) SagaOption {
	return func(s *OrderSaga) { s.taxRate = rate }
}

func WithNotifier(n Notifier) SagaOption {
	return func(s *OrderSaga) { s.notifier = n }
}

func WithMetrics(m *aws_pkg.MetricsClient) SagaOption {
	return func(s *OrderSaga) { s.metrics = m }
}

func NewOrderSaga(repo repositories.OrderRepository, locker lock.Locker, invoices InvoiceRenderer, logger *zap.Logger, opts ...SagaOption) *OrderSaga {
	s := &OrderSaga{
		repo:     repo,
		locker:   locker,
		invoices: invoices,
		notifier: noopNotifier{},
		taxRate:  DefaultTaxRate,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func orderKey(id int64) string {
	return fmt.Sprintf("order:%d", id)
}

// withOrder runs fn while holding the lock of order id.
func (s *OrderSaga) withOrder(ctx context.Context, id int64, fn func() error) error {
	unlock, err := s.locker.Lock(ctx, orderKey(id))
	if err != nil {
		return fmt.Errorf("lock order %d: %w: %v", id, apperr.ErrTransient, err)
	}
	defer unlock()
	return fn()
}

func validateItem(item models.CartItem) error {
	switch {
	case item.EventID == "":
		return fmt.Errorf("eventId is required: %w", apperr.ErrValidation)
	case item.SeatID == "":
		return fmt.Errorf("seatId is required: %w", apperr.ErrValidation)
	case item.UnitPriceCents < 0:
		return fmt.Errorf("unitPriceCents must not be negative: %w", apperr.ErrValidation)
	}
	return nil
}

// CreateOrder opens a cart for userID. The email is captured now and used for
// the invoice mail later.
func (s *OrderSaga) CreateOrder(ctx context.Context, userID, userEmail string, items []models.CartItem) (*models.Order, error) {
	if userID == "" {
		return nil, fmt.Errorf("userId is required: %w", apperr.ErrValidation)
	}
	order := models.NewOrder(userID, userEmail)
	for _, item := range items {
		if err := validateItem(item); err != nil {
			return nil, err
		}
		item.ID = 0
		if err := order.AddItem(item); err != nil {
			return nil, err
		}
	}
	if err := s.repo.Create(ctx, order); err != nil {
		return nil, err
	}

	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("user_id", userID),
		zap.Int("items", len(order.Items)),
	)
	s.count(ctx, aws_pkg.MetricOrdersCreated)
	return order, nil
}

func (s *OrderSaga) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *OrderSaga) AddItem(ctx context.Context, id int64, item models.CartItem) (*models.Order, error) {
	if err := validateItem(item); err != nil {
		return nil, err
	}
	var order *models.Order
	err := s.withOrder(ctx, id, func() error {
		var err error
		if order, err = s.repo.FindByID(ctx, id); err != nil {
			return err
		}
		item.ID = 0
		if err := order.AddItem(item); err != nil {
			return err
		}
		return s.repo.Save(ctx, order)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *OrderSaga) RemoveItem(ctx context.Context, id, itemID int64) (*models.Order, error) {
	var order *models.Order
	err := s.withOrder(ctx, id, func() error {
		var err error
		if order, err = s.repo.FindByID(ctx, id); err != nil {
			return err
		}
		if err := order.DeleteItem(itemID); err != nil {
			return err
		}
		return s.repo.Save(ctx, order)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// CancelOrder drops a cart that was never finalized and asks for its
// reservations to be released.
func (s *OrderSaga) CancelOrder(ctx context.Context, id int64) error {
	return s.withOrder(ctx, id, func() error {
		order, err := s.repo.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if order.Status != models.StatusInCart {
			return fmt.Errorf("order %d is %s and cannot be cancelled: %w", id, order.Status, apperr.ErrInvalidState)
		}
		if err := s.dropOrder(ctx, order); err != nil {
			return err
		}
		s.logger.Info("Order cancelled", zap.Int64("order_id", id))
		return nil
	})
}

// GetInvoice returns the stored invoice location of order id.
func (s *OrderSaga) GetInvoice(ctx context.Context, id int64) (string, error) {
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return "", err
	}
	if order.InvoiceURL == nil || *order.InvoiceURL == "" {
		return "", fmt.Errorf("invoice for order %d: %w", id, apperr.ErrNotFound)
	}
	return *order.InvoiceURL, nil
}

// FinalizeOrder freezes the cart, computes the taxed total and requests a
// payment session. It returns the correlation id the client pays against.
func (s *OrderSaga) FinalizeOrder(ctx context.Context, id int64) (string, error) {
	var correlationID string
	err := s.withOrder(ctx, id, func() error {
		order, err := s.repo.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if order.Status != models.StatusInCart {
			return fmt.Errorf("order %d is already %s: %w", id, order.Status, apperr.ErrInvalidState)
		}
		if len(order.Items) == 0 {
			return fmt.Errorf("order %d has no items: %w", id, apperr.ErrInvalidState)
		}

		subtotal := order.SubtotalCents()
		order.TaxAmountCents = TaxCents(subtotal, s.taxRate)
		order.TotalAmountCents = subtotal + order.TaxAmountCents
		if err := order.SetStatus(models.StatusPaymentPending); err != nil {
			return err
		}
		cid := uuid.NewString()
		order.CorrelationID = &cid

		msg, err := outbox.New(events.PaymentRequested{
			OrderID:       order.ID,
			CorrelationID: cid,
			AmountCents:   order.TotalAmountCents,
			UserID:        order.UserID,
		}, orderPartitionKey(order.ID))
		if err != nil {
			return err
		}
		if err := s.repo.Save(ctx, order, msg); err != nil {
			return err
		}

		correlationID = cid
		s.logger.Info("Order finalized",
			zap.Int64("order_id", order.ID),
			zap.String("correlation_id", cid),
			zap.Int64("subtotal_cents", subtotal),
			zap.Int64("total_amount_cents", order.TotalAmountCents),
		)
		return nil
	})
	if err != nil {
		return "", err
	}
	s.notifier.Notify()
	s.count(ctx, aws_pkg.MetricOrdersFinalized)
	return correlationID, nil
}

// OnPaymentProcessed applies the terminal outcome of a payment session.
// Duplicate, stale and out-of-order deliveries are logged and ignored.
func (s *OrderSaga) OnPaymentProcessed(ctx context.Context, evt events.PaymentProcessed) error {
	log := s.logger.With(
		zap.Int64("order_id", evt.OrderID),
		zap.String("correlation_id", evt.CorrelationID),
		zap.String("status", evt.Status),
	)

	err := s.withOrder(ctx, evt.OrderID, func() error {
		order, err := s.repo.FindByID(ctx, evt.OrderID)
		if errors.Is(err, apperr.ErrNotFound) {
			log.Info("Ignoring payment outcome for unknown order")
			s.ignored(ctx, "order_missing")
			return nil
		}
		if err != nil {
			return err
		}

		if order.Status == models.StatusPaid {
			log.Info("Ignoring payment outcome for paid order")
			s.ignored(ctx, "already_paid")
			return nil
		}

		stale := order.CorrelationID == nil || *order.CorrelationID != evt.CorrelationID

		if evt.Status == events.PaymentFailed {
			if order.CorrelationID != nil && stale {
				log.Info("Ignoring payment failure from stale session")
				s.ignored(ctx, "stale_session")
				return nil
			}
			return s.compensate(ctx, log, order)
		}

		if order.Status != models.StatusPaymentPending {
			log.Info("Ignoring payment success for order not awaiting payment", zap.String("order_status", string(order.Status)))
			s.ignored(ctx, "out_of_order")
			return nil
		}
		if stale {
			log.Info("Ignoring payment success from stale session")
			s.ignored(ctx, "stale_session")
			return nil
		}
		return s.markPaid(ctx, log, order)
	})
	if err != nil {
		return err
	}
	s.notifier.Notify()
	return nil
}

func (s *OrderSaga) markPaid(ctx context.Context, log *zap.Logger, order *models.Order) error {
	if err := order.MarkPaid(); err != nil {
		return err
	}

	groups := order.ItemsByEvent()
	msgs := make([]outbox.Message, 0, len(groups))
	orderID := strconv.FormatInt(order.ID, 10)
	for _, g := range groups {
		msg, err := outbox.New(events.PaymentValidated{
			OrderID:       orderID,
			EventID:       g.EventID,
			Seats:         g.Seats(),
			UserID:        order.UserID,
			ReservationID: g.ReservationID(),
		}, orderPartitionKey(order.ID))
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	if err := s.repo.Save(ctx, order, msgs...); err != nil {
		return err
	}

	log.Info("Order paid", zap.Int("events", len(groups)))
	s.count(ctx, aws_pkg.MetricOrdersPaid)
	return nil
}

func (s *OrderSaga) compensate(ctx context.Context, log *zap.Logger, order *models.Order) error {
	if err := s.dropOrder(ctx, order); err != nil {
		return err
	}
	log.Info("Order failed and removed", zap.Strings("released_reservations", order.ReservationIDs()))
	s.count(ctx, aws_pkg.MetricOrdersCompensated)
	return nil
}

// dropOrder deletes order and, in the same transaction, enqueues one release
// request per distinct reservation it held.
func (s *OrderSaga) dropOrder(ctx context.Context, order *models.Order) error {
	ids := order.ReservationIDs()
	msgs := make([]outbox.Message, 0, len(ids))
	for _, rid := range ids {
		msg, err := outbox.New(events.ReservationReleaseRequested{ReservationID: rid, OrderID: order.ID}, orderPartitionKey(order.ID))
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	return s.repo.Delete(ctx, order.ID, msgs...)
}

// OnTicketCreated records an issued ticket. Once every seat is ticketed the
// invoice is produced and mailed.
func (s *OrderSaga) OnTicketCreated(ctx context.Context, evt events.TicketCreated) error {
	log := s.logger.With(
		zap.String("order_id", evt.OrderID),
		zap.String("ticket_id", evt.TicketID),
		zap.String("event_id", evt.EventID),
		zap.String("seat", evt.Seat),
	)

	orderID, err := strconv.ParseInt(evt.OrderID, 10, 64)
	if err != nil {
		log.Warn("Ignoring ticket with non-numeric order id")
		s.ignored(ctx, "bad_order_id")
		return nil
	}

	err = s.withOrder(ctx, orderID, func() error {
		order, err := s.repo.FindByID(ctx, orderID)
		if errors.Is(err, apperr.ErrNotFound) {
			log.Info("Ignoring ticket for unknown order")
			s.ignored(ctx, "order_missing")
			return nil
		}
		if err != nil {
			return err
		}

		if !order.AssignTicket(evt.EventID, evt.Seat, evt.TicketID, evt.QR) {
			log.Info("Ticket already recorded or seat not in order")
			s.ignored(ctx, "ticket_unchanged")
			return nil
		}
		// The last ticket commits together with the invoice fields and the
		// email row, so a failed save leaves the ticket unassigned and the
		// redelivery completes the order.
		var msgs []outbox.Message
		complete := order.HasAllTicketsIssued()
		if complete {
			msgs = s.completeOrder(ctx, log, order)
		}
		if err := s.repo.Save(ctx, order, msgs...); err != nil {
			return err
		}
		log.Info("Ticket assigned")
		s.count(ctx, aws_pkg.MetricTicketsAssigned)
		if complete && order.InvoiceID != nil {
			s.count(ctx, aws_pkg.MetricInvoicesGenerated)
			log.Info("Invoice issued",
				zap.String("invoice_id", *order.InvoiceID),
				zap.String("invoice_url", *order.InvoiceURL),
				zap.Int("emails_queued", len(msgs)),
			)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.notifier.Notify()
	return nil
}

// completeOrder renders the invoice onto order and builds the customer email.
// An invoice failure is logged and leaves order untouched; the ticket is still
// saved.
func (s *OrderSaga) completeOrder(ctx context.Context, log *zap.Logger, order *models.Order) []outbox.Message {
	inv, err := s.invoices.GenerateInvoice(ctx, order)
	if err != nil {
		log.Error("Invoice generation failed", zap.Error(err))
		return nil
	}
	order.InvoiceID = &inv.ID
	order.InvoiceURL = &inv.URL

	if order.UserEmail == "" {
		log.Warn("Order has no email, invoice mail skipped")
		return nil
	}
	var cid string
	if order.CorrelationID != nil {
		cid = *order.CorrelationID
	}
	msg, err := outbox.New(events.EmailRequested{
		CorrelationID:    cid,
		ToEmail:          order.UserEmail,
		Subject:          invoiceEmailSubject,
		BodyText:         invoiceEmailBody,
		InvoiceURLOrPath: inv.URL,
	}, orderPartitionKey(order.ID))
	if err != nil {
		log.Error("Invoice email could not be encoded", zap.Error(err))
		return nil
	}
	return []outbox.Message{msg}
}

func orderPartitionKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

func (s *OrderSaga) count(ctx context.Context, metric string) {
	s.metrics.RecordCount(ctx, metric, map[string]string{"Service": "order-service"})
}

func (s *OrderSaga) ignored(ctx context.Context, reason string) {
	s.metrics.RecordCount(ctx, aws_pkg.MetricSagaEventsIgnored, map[string]string{"Service": "order-service", "Reason": reason})
}
