package outbox

import (
	"context"
	"errors"
	"time"

	aws_pkg "github.com/ticketchief/backend/pkg/aws"
	"github.com/ticketchief/backend/pkg/broker"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultBatchSize   = 50
	defaultInterval    = time.Second
	defaultMaxAttempts = 10
)

// Relay publishes pending outbox rows in creation order. Rows are claimed with
// FOR UPDATE SKIP LOCKED so several replicas can relay the same table.
// Ordering is kept per key: a failed row holds back later rows of its key only.
// A row that fails maxAttempts times is dead-lettered (failed_at set) and no
// longer relayed.
type Relay struct {
	db          *gorm.DB
	publisher   broker.Publisher
	metrics     *aws_pkg.MetricsClient
	logger      *zap.Logger
	batchSize   int
	maxAttempts int
	interval    time.Duration
	notify      chan struct{}
}

type Option func(*Relay)

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithMaxAttempts sets how many failed publishes dead-letter a row.
func WithMaxAttempts(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.maxAttempts = n
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithMetrics(m *aws_pkg.MetricsClient) Option {
	return func(r *Relay) { r.metrics = m }
}

func NewRelay(db *gorm.DB, publisher broker.Publisher, logger *zap.Logger, opts ...Option) *Relay {
	r := &Relay{
		db:          db,
		publisher:   publisher,
		logger:      logger,
		batchSize:   defaultBatchSize,
		maxAttempts: defaultMaxAttempts,
		interval:    defaultInterval,
		notify:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Notify asks a running relay to flush now instead of waiting for the next tick.
func (r *Relay) Notify() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Run flushes on every tick or notification until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("Outbox relay started", zap.Duration("interval", r.interval), zap.Int("batch_size", r.batchSize))
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Outbox relay stopped")
			return nil
		case <-ticker.C:
		case <-r.notify:
		}

		for {
			n, err := r.Flush(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					r.logger.Error("Outbox flush failed", zap.Error(err))
				}
				break
			}
			if n < r.batchSize {
				break
			}
		}
	}
}

// Flush publishes one batch and returns how many rows were published. After a
// publish failure the remaining rows of the same key are skipped for this batch;
// rows of other keys are still published.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	published := 0
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var batch []Message
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("published_at IS NULL AND failed_at IS NULL").
			Order("created_at").
			Limit(r.batchSize).
			Find(&batch).Error; err != nil {
			return err
		}

		blocked := make(map[string]bool)
		for i := range batch {
			m := &batch[i]
			if m.Key != "" && blocked[m.Key] {
				continue
			}
			if err := r.publisher.Publish(ctx, m.brokerMessage()); err != nil {
				if m.Key != "" {
					blocked[m.Key] = true
				}
				if err := r.recordFailure(ctx, tx, m, err); err != nil {
					return err
				}
				continue
			}

			if err := tx.Model(m).Update("published_at", time.Now().UTC()).Error; err != nil {
				return err
			}
			published++
			r.metrics.RecordCount(ctx, aws_pkg.MetricOutboxPublished, map[string]string{"RoutingKey": m.RoutingKey})
		}
		return nil
	})
	return published, err
}

func (r *Relay) recordFailure(ctx context.Context, tx *gorm.DB, m *Message, cause error) error {
	attempts := m.Attempts + 1
	log := r.logger.With(
		zap.String("message_id", m.ID.String()),
		zap.String("routing_key", m.RoutingKey),
		zap.String("key", m.Key),
		zap.Int("attempts", attempts),
		zap.Error(cause),
	)
	updates := map[string]interface{}{
		"attempts":   gorm.Expr("attempts + 1"),
		"last_error": cause.Error(),
	}
	if attempts >= r.maxAttempts {
		updates["failed_at"] = time.Now().UTC()
		log.Error("Outbox message dead-lettered")
		r.metrics.RecordCount(ctx, aws_pkg.MetricOutboxDeadLetter, map[string]string{"RoutingKey": m.RoutingKey})
	} else {
		log.Warn("Outbox publish failed")
	}
	r.metrics.RecordCount(ctx, aws_pkg.MetricOutboxFailures, map[string]string{"RoutingKey": m.RoutingKey})
	return tx.Model(m).Updates(updates).Error
}
