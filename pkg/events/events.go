// Package events holds the canonical payload of every event exchanged by the
// order and payment services, together with the topic and routing key each one
// is published under.
package events

// Logical topics. Transports map them to SNS topic ARNs or Kafka topic names.
const (
	TopicPayments     = "payments"
	TopicTickets      = "tickets"
	TopicReservations = "reservations"
	TopicEmail        = "email"
)

// Routing keys, one per event type.
const (
	RoutingPaymentRequested   = "payment.requested"
	RoutingPaymentProcessed   = "payment.processed"
	RoutingPaymentValidated   = "payment.validated"
	RoutingTicketCreated      = "ticket.created"
	RoutingEmailRequested     = "email.send"
	RoutingReservationRelease = "reservation.release"
)

// Terminal payment outcomes carried by PaymentProcessed.
const (
	PaymentSuccess = "SUCCESS"
	PaymentFailed  = "FAILED"
)

// Event is implemented by every payload in this package.
type Event interface {
	Topic() string
	RoutingKey() string
}

// PaymentRequested asks the payment service to open a session for an order.
type PaymentRequested struct {
	OrderID       int64  `json:"orderId" validate:"required,gt=0"`
	CorrelationID string `json:"correlationId" validate:"required"`
	AmountCents   int64  `json:"amountCents" validate:"gte=0"`
	UserID        string `json:"userId,omitempty"`
}

func (PaymentRequested) Topic() string      { return TopicPayments }
func (PaymentRequested) RoutingKey() string { return RoutingPaymentRequested }

// PaymentProcessed is the single terminal outcome of a payment session.
type PaymentProcessed struct {
	CorrelationID string `json:"correlationId" validate:"required"`
	OrderID       int64  `json:"orderId" validate:"required,gt=0"`
	Status        string `json:"status" validate:"required,oneof=SUCCESS FAILED"`
	Reason        string `json:"reason,omitempty"`
}

func (PaymentProcessed) Topic() string      { return TopicPayments }
func (PaymentProcessed) RoutingKey() string { return RoutingPaymentProcessed }

// PaymentValidated tells the ticketing side that the seats of one event are paid for.
type PaymentValidated struct {
	OrderID       string   `json:"orderId" validate:"required"`
	EventID       string   `json:"eventId" validate:"required"`
	Seats         []string `json:"seats" validate:"required,min=1,dive,required"`
	UserID        string   `json:"userId"`
	ReservationID *string  `json:"reservationId,omitempty"`
}

func (PaymentValidated) Topic() string      { return TopicPayments }
func (PaymentValidated) RoutingKey() string { return RoutingPaymentValidated }

// TicketCreated reports one issued ticket. OrderID is textual on the wire.
type TicketCreated struct {
	TicketID string `json:"ticketId" validate:"required"`
	OrderID  string `json:"orderId" validate:"required"`
	EventID  string `json:"eventId" validate:"required"`
	Seat     string `json:"seat" validate:"required"`
	QR       string `json:"qr" validate:"required"`
}

func (TicketCreated) Topic() string      { return TopicTickets }
func (TicketCreated) RoutingKey() string { return RoutingTicketCreated }

// EmailRequested asks the mailer to send the invoice to the customer.
type EmailRequested struct {
	CorrelationID    string `json:"correlationId"`
	ToEmail          string `json:"toEmail" validate:"required,email"`
	Subject          string `json:"subject" validate:"required"`
	BodyText         string `json:"bodyText"`
	InvoiceURLOrPath string `json:"invoiceUrlOrPath"`
}

func (EmailRequested) Topic() string      { return TopicEmail }
func (EmailRequested) RoutingKey() string { return RoutingEmailRequested }

// ReservationReleaseRequested compensates a seat reservation of a failed order.
type ReservationReleaseRequested struct {
	ReservationID string `json:"reservationId" validate:"required"`
	OrderID       int64  `json:"orderId"`
}

func (ReservationReleaseRequested) Topic() string      { return TopicReservations }
func (ReservationReleaseRequested) RoutingKey() string { return RoutingReservationRelease }
