// Package outbox stores outbound events in the same database transaction as the
// state change that implies them, and relays them to the broker afterwards.
package outbox

import (
	"time"

	"github.com/google/uuid"
	"github.com/ticketchief/backend/pkg/broker"
	"github.com/ticketchief/backend/pkg/events"
	"gorm.io/gorm"
)

// Message is one pending or published outbox row.
type Message struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Topic       string    `gorm:"type:varchar(64);not null"`
	RoutingKey  string    `gorm:"type:varchar(64);not null;index"`
	Key         string    `gorm:"type:varchar(128)"`
	Payload     string    `gorm:"type:jsonb;not null"`
	Attempts    int       `gorm:"not null"`
	LastError   string    `gorm:"type:text"`
	PublishedAt *time.Time
	FailedAt    *time.Time `gorm:"index"`
	CreatedAt   time.Time `gorm:"not null;index"`
}

func (Message) TableName() string { return "outbox_messages" }

// New encodes evt as a pending outbox row keyed by key.
func New(evt events.Event, key string) (Message, error) {
	msg, err := broker.NewMessage(evt, key)
	if err != nil {
		return Message{}, err
	}
	return Message{
		ID:         uuid.New(),
		Topic:      msg.Topic,
		RoutingKey: msg.RoutingKey,
		Key:        msg.Key,
		Payload:    string(msg.Payload),
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// Enqueue inserts msgs using tx, which must be the caller's open transaction.
func Enqueue(tx *gorm.DB, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return tx.Create(&msgs).Error
}

func (m Message) brokerMessage() broker.Message {
	return broker.Message{
		Topic:      m.Topic,
		RoutingKey: m.RoutingKey,
		Key:        m.Key,
		Payload:    []byte(m.Payload),
	}
}
