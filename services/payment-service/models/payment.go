package models

import (
	"time"

	"github.com/google/uuid"
)

type SessionStatus string

const (
	SessionPending SessionStatus = "PENDING"
	SessionSuccess SessionStatus = "SUCCESS"
	SessionFailed  SessionStatus = "FAILED"
)

// IsFinal reports whether the session can no longer accept attempts.
func (s SessionStatus) IsFinal() bool { return s != SessionPending }

type AttemptStatus string

const (
	AttemptSuccess AttemptStatus = "SUCCESS"
	AttemptFailed  AttemptStatus = "FAILED"
)

// PaymentSession is the per-correlation-id state of one order's payment.
// AttemptCount always equals the number of Attempt rows for the session.
type PaymentSession struct {
	CorrelationID string        `gorm:"type:varchar(64);primaryKey" json:"correlationId"`
	OrderID       int64         `gorm:"not null;index" json:"orderId"`
	UserID        *string       `gorm:"type:varchar(64)" json:"userId,omitempty"`
	AmountCents   int64         `gorm:"not null" json:"amountCents"`
	Status        SessionStatus `gorm:"type:varchar(16);not null" json:"status"`
	AttemptCount  int           `gorm:"not null" json:"attemptCount"`
	CreatedAt     time.Time     `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt     time.Time     `gorm:"autoUpdateTime" json:"updatedAt"`
}

// Attempt is one append-only charge attempt against a session.
type Attempt struct {
	ID              uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	CorrelationID   string        `gorm:"type:varchar(64);not null;index" json:"correlationId"`
	OrderID         int64         `gorm:"not null" json:"orderId"`
	UserID          *string       `gorm:"type:varchar(64)" json:"userId,omitempty"`
	AmountCents     int64         `gorm:"not null" json:"amountCents"`
	Status          AttemptStatus `gorm:"type:varchar(16);not null" json:"status"`
	GatewayResponse string        `gorm:"type:text" json:"gatewayResponse,omitempty"`
	CardLast4       string        `gorm:"type:varchar(4)" json:"cardLast4,omitempty"`
	CreatedAt       time.Time     `gorm:"autoCreateTime" json:"createdAt"`
}

func (Attempt) TableName() string { return "payment_attempts" }
