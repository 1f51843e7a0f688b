package services

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	aws_pkg "github.com/ticketchief/backend/pkg/aws"
	"github.com/ticketchief/backend/pkg/events"
	"github.com/ticketchief/backend/pkg/outbox"
	apperr "github.com/ticketchief/backend/services/common/errors"
	"github.com/ticketchief/backend/services/payment-service/models"
	"github.com/ticketchief/backend/services/payment-service/repository"
	"go.uber.org/zap"
)

// Gateway responses recorded on failed attempts.
const (
	ReasonDeclinedByRule   = "declined-by-rule"
	ReasonSimulatedDecline = "simulated-decline"
	responseApproved       = "approved"
)

// EngineConfig tunes the simulated gateway.
type EngineConfig struct {
	MaxAttempts int
	SuccessRate float64
	Delay       time.Duration
	// DeclineCard always fails, without delay or randomness.
	DeclineCard string
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxAttempts: 3,
		SuccessRate: 0.95,
		Delay:       500 * time.Millisecond,
		DeclineCard: "666",
	}
}

// Random is the source of the success draw. Implementations must be safe for
// concurrent use.
type Random interface {
	Float64() float64
}

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func NewRandom(seed int64) Random {
	return &lockedRand{r: rand.New(rand.NewSource(seed))}
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

// Notifier is told when new outbox rows have been committed.
type Notifier interface {
	Notify()
}

type AttemptRequest struct {
	CorrelationID string
	CardNumber    string
	CardCVV       string
	CardHolder    string
}

type AttemptResult struct {
	Status            models.AttemptStatus `json:"status"`
	Reason            string               `json:"reason,omitempty"`
	AttemptsRemaining int                  `json:"attemptsRemaining"`
	IsFinal           bool                 `json:"isFinal"`
}

type SessionView struct {
	CorrelationID     string               `json:"correlationId"`
	OrderID           int64                `json:"orderId"`
	AmountCents       int64                `json:"amountCents"`
	Status            models.SessionStatus `json:"status"`
	AttemptsRemaining int                  `json:"attemptsRemaining"`
}

// Engine drives each payment session from PENDING to SUCCESS or FAILED.
type Engine struct {
	repo     repository.PaymentRepository
	cfg      EngineConfig
	random   Random
	notifier Notifier
	metrics  *aws_pkg.MetricsClient
	logger   *zap.Logger
}

type EngineOption func(*Engine)

func WithRandom(r Random) EngineOption {
	return func(e *Engine) { e.random = r }
}

func WithNotifier(n Notifier) EngineOption {
	return func(e *Engine) { e.notifier = n }
}

func WithMetrics(m *aws_pkg.MetricsClient) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

func NewEngine(repo repository.PaymentRepository, cfg EngineConfig, logger *zap.Logger, opts ...EngineOption) *Engine {
	def := DefaultEngineConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.DeclineCard == "" {
		cfg.DeclineCard = def.DeclineCard
	}
	e := &Engine{
		repo:   repo,
		cfg:    cfg,
		random: NewRandom(time.Now().UnixNano()),
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Process opens the PENDING session for a payment request. Redeliveries of the
// same request find the session already there and change nothing.
func (e *Engine) Process(ctx context.Context, req events.PaymentRequested) error {
	s := &models.PaymentSession{
		CorrelationID: req.CorrelationID,
		OrderID:       req.OrderID,
		AmountCents:   req.AmountCents,
		Status:        models.SessionPending,
	}
	if req.UserID != "" {
		uid := req.UserID
		s.UserID = &uid
	}

	created, err := e.repo.InsertSession(ctx, s)
	if err != nil {
		return err
	}
	if !created {
		e.logger.Info("Payment session already exists, ignoring duplicate request",
			zap.String("correlation_id", req.CorrelationID),
			zap.Int64("order_id", req.OrderID),
		)
		return nil
	}
	e.logger.Info("Payment session opened",
		zap.String("correlation_id", req.CorrelationID),
		zap.Int64("order_id", req.OrderID),
		zap.Int64("amount_cents", req.AmountCents),
	)
	return nil
}

func (e *Engine) GetSession(ctx context.Context, correlationID string) (*SessionView, error) {
	s, err := e.repo.FindByCorrelationID(ctx, correlationID)
	if err != nil {
		return nil, err
	}
	return &SessionView{
		CorrelationID:     s.CorrelationID,
		OrderID:           s.OrderID,
		AmountCents:       s.AmountCents,
		Status:            s.Status,
		AttemptsRemaining: e.remaining(s.AttemptCount),
	}, nil
}

// Attempt charges the card once against a PENDING session. The terminal
// payment.processed event is enqueued in the same transaction that closes the
// session, so it is produced at most once per correlation id.
func (e *Engine) Attempt(ctx context.Context, req AttemptRequest) (*AttemptResult, error) {
	if req.CardNumber == "" {
		return nil, fmt.Errorf("card number is required: %w", apperr.ErrValidation)
	}

	s, err := e.repo.FindByCorrelationID(ctx, req.CorrelationID)
	if err != nil {
		return nil, err
	}
	if s.Status.IsFinal() {
		return nil, fmt.Errorf("session %s is %s: %w", s.CorrelationID, s.Status, apperr.ErrInvalidState)
	}

	start := time.Now()
	status, reason := models.AttemptFailed, ReasonDeclinedByRule
	byRule := req.CardNumber == e.cfg.DeclineCard
	if !byRule {
		if err := e.wait(ctx); err != nil {
			return nil, err
		}
		if e.random.Float64() < e.cfg.SuccessRate {
			status, reason = models.AttemptSuccess, ""
		} else {
			reason = ReasonSimulatedDecline
		}
	}

	var result AttemptResult
	err = e.repo.WithSessionLock(ctx, req.CorrelationID, func(tx repository.SessionTx) error {
		locked := tx.Session()
		// Another attempt may have closed the session while this one waited.
		if locked.Status.IsFinal() {
			return fmt.Errorf("session %s is %s: %w", locked.CorrelationID, locked.Status, apperr.ErrInvalidState)
		}

		gatewayResponse := responseApproved
		if reason != "" {
			gatewayResponse = reason
		}
		attempts, err := tx.AppendAttempt(&models.Attempt{
			ID:              uuid.New(),
			CorrelationID:   locked.CorrelationID,
			OrderID:         locked.OrderID,
			UserID:          locked.UserID,
			AmountCents:     locked.AmountCents,
			Status:          status,
			GatewayResponse: gatewayResponse,
			CardLast4:       last4(req.CardNumber),
		})
		if err != nil {
			return err
		}

		var terminal models.SessionStatus
		switch {
		case status == models.AttemptSuccess:
			terminal = models.SessionSuccess
		case byRule || attempts >= e.cfg.MaxAttempts:
			terminal = models.SessionFailed
		}
		if terminal != "" {
			if err := e.close(tx, terminal, reason); err != nil {
				return err
			}
		}

		result = AttemptResult{
			Status:            status,
			Reason:            reason,
			AttemptsRemaining: e.remaining(attempts),
			IsFinal:           locked.Status.IsFinal(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.IsFinal && e.notifier != nil {
		e.notifier.Notify()
	}
	e.record(ctx, result, time.Since(start))
	e.logger.Info("Payment attempt recorded",
		zap.String("correlation_id", req.CorrelationID),
		zap.String("status", string(result.Status)),
		zap.String("reason", result.Reason),
		zap.Int("attempts_remaining", result.AttemptsRemaining),
		zap.Bool("final", result.IsFinal),
	)
	return &result, nil
}

func (e *Engine) close(tx repository.SessionTx, status models.SessionStatus, reason string) error {
	if err := tx.UpdateStatus(status); err != nil {
		return err
	}
	s := tx.Session()
	evt := events.PaymentProcessed{
		CorrelationID: s.CorrelationID,
		OrderID:       s.OrderID,
		Status:        events.PaymentSuccess,
	}
	if status == models.SessionFailed {
		evt.Status = events.PaymentFailed
		evt.Reason = reason
	}
	msg, err := outbox.New(evt, fmt.Sprint(s.OrderID))
	if err != nil {
		return err
	}
	return tx.Enqueue(msg)
}

func (e *Engine) wait(ctx context.Context) error {
	if e.cfg.Delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(e.cfg.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (e *Engine) remaining(attempts int) int {
	if r := e.cfg.MaxAttempts - attempts; r > 0 {
		return r
	}
	return 0
}

func (e *Engine) record(ctx context.Context, r AttemptResult, latency time.Duration) {
	if !e.metrics.IsEnabled() {
		return
	}
	dims := map[string]string{"Service": "payment-service"}
	e.metrics.RecordCount(ctx, aws_pkg.MetricPaymentAttempts, dims)
	e.metrics.RecordLatency(ctx, aws_pkg.MetricPaymentLatency, latency, dims)
	if !r.IsFinal {
		return
	}
	if r.Status == models.AttemptSuccess {
		e.metrics.RecordCount(ctx, aws_pkg.MetricPaymentSucceeded, dims)
	} else {
		e.metrics.RecordCount(ctx, aws_pkg.MetricPaymentFailed, dims)
	}
}

func last4(card string) string {
	if len(card) <= 4 {
		return card
	}
	return card[len(card)-4:]
}
