package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/ticketchief/backend/pkg/outbox"
	apperr "github.com/ticketchief/backend/services/common/errors"
	"github.com/ticketchief/backend/services/payment-service/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PaymentRepository is the ledger of payment sessions and their attempts.
type PaymentRepository interface {
	// InsertSession creates s as given. created is false when a session with
	// the same correlation id already exists; the stored row is left untouched.
	InsertSession(ctx context.Context, s *models.PaymentSession) (created bool, err error)
	FindByCorrelationID(ctx context.Context, correlationID string) (*models.PaymentSession, error)
	UpdateStatus(ctx context.Context, correlationID string, status models.SessionStatus) error
	CountAttempts(ctx context.Context, correlationID string) (int64, error)
	InsertAttempt(ctx context.Context, a *models.Attempt) (int, error)

	// WithSessionLock runs fn in one transaction holding a row lock on the
	// session. Returning an error from fn rolls everything back.
	WithSessionLock(ctx context.Context, correlationID string, fn func(tx SessionTx) error) error
}

// SessionTx is the view of a locked session inside WithSessionLock.
type SessionTx interface {
	Session() *models.PaymentSession
	// AppendAttempt inserts a and bumps the session's attempt counter,
	// returning the new count.
	AppendAttempt(a *models.Attempt) (int, error)
	UpdateStatus(status models.SessionStatus) error
	Enqueue(msgs ...outbox.Message) error
}

type gormPaymentRepo struct {
	db *gorm.DB
}

func NewGormPaymentRepo(db *gorm.DB) PaymentRepository {
	return &gormPaymentRepo{db: db}
}

func (r *gormPaymentRepo) InsertSession(ctx context.Context, s *models.PaymentSession) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(s)
	if res.Error != nil {
		return false, fmt.Errorf("insert session %s: %w", s.CorrelationID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *gormPaymentRepo) FindByCorrelationID(ctx context.Context, correlationID string) (*models.PaymentSession, error) {
	var s models.PaymentSession
	if err := r.db.WithContext(ctx).Where("correlation_id = ?", correlationID).First(&s).Error; err != nil {
		return nil, sessionErr(correlationID, err)
	}
	return &s, nil
}

func (r *gormPaymentRepo) UpdateStatus(ctx context.Context, correlationID string, status models.SessionStatus) error {
	return updateStatus(r.db.WithContext(ctx), correlationID, status)
}

func (r *gormPaymentRepo) CountAttempts(ctx context.Context, correlationID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Attempt{}).Where("correlation_id = ?", correlationID).Count(&n).Error
	return n, err
}

func (r *gormPaymentRepo) InsertAttempt(ctx context.Context, a *models.Attempt) (int, error) {
	var count int
	err := r.WithSessionLock(ctx, a.CorrelationID, func(tx SessionTx) error {
		var err error
		count, err = tx.AppendAttempt(a)
		return err
	})
	return count, err
}

func (r *gormPaymentRepo) WithSessionLock(ctx context.Context, correlationID string, fn func(tx SessionTx) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var s models.PaymentSession
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("correlation_id = ?", correlationID).
			First(&s).Error
		if err != nil {
			return sessionErr(correlationID, err)
		}
		return fn(&sessionTx{tx: tx, session: &s})
	})
}

type sessionTx struct {
	tx      *gorm.DB
	session *models.PaymentSession
}

func (t *sessionTx) Session() *models.PaymentSession { return t.session }

func (t *sessionTx) AppendAttempt(a *models.Attempt) (int, error) {
	if err := t.tx.Create(a).Error; err != nil {
		return 0, fmt.Errorf("insert attempt: %w", err)
	}
	err := t.tx.Model(&models.PaymentSession{}).
		Where("correlation_id = ?", t.session.CorrelationID).
		Updates(map[string]interface{}{"attempt_count": gorm.Expr("attempt_count + 1")}).Error
	if err != nil {
		return 0, fmt.Errorf("bump attempt count: %w", err)
	}
	t.session.AttemptCount++
	return t.session.AttemptCount, nil
}

func (t *sessionTx) UpdateStatus(status models.SessionStatus) error {
	if err := updateStatus(t.tx, t.session.CorrelationID, status); err != nil {
		return err
	}
	t.session.Status = status
	return nil
}

func (t *sessionTx) Enqueue(msgs ...outbox.Message) error {
	return outbox.Enqueue(t.tx, msgs...)
}

func updateStatus(db *gorm.DB, correlationID string, status models.SessionStatus) error {
	res := db.Model(&models.PaymentSession{}).
		Where("correlation_id = ?", correlationID).
		Updates(map[string]interface{}{"status": status})
	if res.Error != nil {
		return fmt.Errorf("update session %s: %w", correlationID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("session %s: %w", correlationID, apperr.ErrNotFound)
	}
	return nil
}

func sessionErr(correlationID string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("session %s: %w", correlationID, apperr.ErrNotFound)
	}
	return fmt.Errorf("load session %s: %w", correlationID, err)
}
