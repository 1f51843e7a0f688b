package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ticketchief/backend/pkg/outbox"
	apperr "github.com/ticketchief/backend/services/common/errors"
	"github.com/ticketchief/backend/services/order-service/models"
	"gorm.io/gorm"
)

// OrderRepository defines the interface for order data access. Save and
// Delete commit the given outbox messages in the same transaction as the
// state change.
type OrderRepository interface {
	FindByID(ctx context.Context, id int64) (*models.Order, error)
	Create(ctx context.Context, order *models.Order) error
	Save(ctx context.Context, order *models.Order, msgs ...outbox.Message) error
	Delete(ctx context.Context, id int64, msgs ...outbox.Message) error
}

// GormOrderRepository implements OrderRepository using GORM
type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) OrderRepository {
	return &GormOrderRepository{db: db}
}

// FindByID loads an order with its items in insertion order.
func (r *GormOrderRepository) FindByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		First(&order, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("order %d: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load order %d: %w", id, err)
	}
	return &order, nil
}

// Create inserts a new order; the database assigns its id.
func (r *GormOrderRepository) Create(ctx context.Context, order *models.Order) error {
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

// Save writes order, its items and msgs in one transaction. The row is only
// updated if its version still matches the one order was loaded with; a
// mismatch means another writer saved first and is reported as transient, so
// the message is redelivered against fresh state.
func (r *GormOrderRepository) Save(ctx context.Context, order *models.Order, msgs ...outbox.Message) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Order{}).
			Where("id = ? AND version = ?", order.ID, order.Version).
			Updates(map[string]interface{}{
				"user_email":         order.UserEmail,
				"status":             order.Status,
				"total_amount_cents": order.TotalAmountCents,
				"tax_amount_cents":   order.TaxAmountCents,
				"currency":           order.Currency,
				"correlation_id":     order.CorrelationID,
				"invoice_id":         order.InvoiceID,
				"invoice_url":        order.InvoiceURL,
				"version":            order.Version + 1,
				"updated_at":         time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("order changed concurrently at version %d: %w", order.Version, apperr.ErrTransient)
		}

		if removed := order.RemovedItems(); len(removed) > 0 {
			if err := tx.Where("order_id = ? AND id IN ?", order.ID, removed).Delete(&models.CartItem{}).Error; err != nil {
				return err
			}
		}
		for i := range order.Items {
			item := &order.Items[i]
			item.OrderID = order.ID
			write := tx.Save
			if item.ID == 0 {
				write = tx.Create
			}
			if err := write(item).Error; err != nil {
				return err
			}
		}
		return outbox.Enqueue(tx, msgs...)
	})
	if err != nil {
		return fmt.Errorf("save order %d: %w", order.ID, err)
	}
	order.Version++
	return nil
}

func (r *GormOrderRepository) Delete(ctx context.Context, id int64, msgs ...outbox.Message) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("order_id = ?", id).Delete(&models.CartItem{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.Order{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("order %d: %w", id, apperr.ErrNotFound)
		}
		return outbox.Enqueue(tx, msgs...)
	})
	if err != nil {
		return fmt.Errorf("delete order %d: %w", id, err)
	}
	return nil
}
