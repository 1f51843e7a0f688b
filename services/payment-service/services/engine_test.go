package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ticketchief/backend/pkg/events"
	"github.com/ticketchief/backend/pkg/outbox"
	apperr "github.com/ticketchief/backend/services/common/errors"
	"github.com/ticketchief/backend/services/payment-service/models"
	"github.com/ticketchief/backend/services/payment-service/repository"
	"go.uber.org/zap"
)

// fakeLedger is an in-memory PaymentRepository. WithSessionLock serializes on
// one mutex, standing in for the row lock.
type fakeLedger struct {
	mu       sync.Mutex
	lockMu   sync.Mutex
	sessions map[string]*models.PaymentSession
	attempts []models.Attempt
	outbox   []outbox.Message
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{sessions: map[string]*models.PaymentSession{}}
}

func (f *fakeLedger) InsertSession(_ context.Context, s *models.PaymentSession) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[s.CorrelationID]; ok {
		return false, nil
	}
	cp := *s
	f.sessions[s.CorrelationID] = &cp
	return true, nil
}

func (f *fakeLedger) FindByCorrelationID(_ context.Context, id string) (*models.PaymentSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeLedger) UpdateStatus(_ context.Context, id string, status models.SessionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return apperr.ErrNotFound
	}
	s.Status = status
	return nil
}

func (f *fakeLedger) CountAttempts(_ context.Context, id string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, a := range f.attempts {
		if a.CorrelationID == id {
			n++
		}
	}
	return n, nil
}

func (f *fakeLedger) InsertAttempt(ctx context.Context, a *models.Attempt) (int, error) {
	var n int
	err := f.WithSessionLock(ctx, a.CorrelationID, func(tx repository.SessionTx) error {
		var err error
		n, err = tx.AppendAttempt(a)
		return err
	})
	return n, err
}

func (f *fakeLedger) WithSessionLock(ctx context.Context, id string, fn func(repository.SessionTx) error) error {
	f.lockMu.Lock()
	defer f.lockMu.Unlock()

	s, err := f.FindByCorrelationID(ctx, id)
	if err != nil {
		return err
	}
	tx := &fakeTx{session: s}
	if err := fn(tx); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[id] = tx.session
	f.attempts = append(f.attempts, tx.attempts...)
	f.outbox = append(f.outbox, tx.outbox...)
	return nil
}

func (f *fakeLedger) published(t *testing.T) []events.PaymentProcessed {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]events.PaymentProcessed, 0, len(f.outbox))
	for _, m := range f.outbox {
		var evt events.PaymentProcessed
		require.NoError(t, events.Decode([]byte(m.Payload), &evt))
		out = append(out, evt)
	}
	return out
}

type fakeTx struct {
	session  *models.PaymentSession
	attempts []models.Attempt
	outbox   []outbox.Message
}

func (t *fakeTx) Session() *models.PaymentSession { return t.session }

func (t *fakeTx) AppendAttempt(a *models.Attempt) (int, error) {
	t.attempts = append(t.attempts, *a)
	t.session.AttemptCount++
	return t.session.AttemptCount, nil
}

func (t *fakeTx) UpdateStatus(status models.SessionStatus) error {
	t.session.Status = status
	return nil
}

func (t *fakeTx) Enqueue(msgs ...outbox.Message) error {
	t.outbox = append(t.outbox, msgs...)
	return nil
}

type fixedRandom float64

func (r fixedRandom) Float64() float64 { return float64(r) }

type countingNotifier struct {
	mu sync.Mutex
	n  int
}

func (c *countingNotifier) Notify() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func newTestEngine(ledger *fakeLedger, successRate float64, draw float64) *Engine {
	return NewEngine(ledger, EngineConfig{
		MaxAttempts: 3,
		SuccessRate: successRate,
		DeclineCard: "666",
	}, zap.NewNop(), WithRandom(fixedRandom(draw)))
}

func openSession(t *testing.T, e *Engine, id string) {
	t.Helper()
	require.NoError(t, e.Process(context.Background(), events.PaymentRequested{
		OrderID: 42, CorrelationID: id, AmountCents: 9120, UserID: "u-1",
	}))
}

func TestProcess_IsIdempotent(t *testing.T) {
	ledger := newFakeLedger()
	e := newTestEngine(ledger, 1, 0.5)

	openSession(t, e, "c-1")
	require.NoError(t, e.Process(context.Background(), events.PaymentRequested{
		OrderID: 42, CorrelationID: "c-1", AmountCents: 1,
	}))

	view, err := e.GetSession(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Equal(t, &SessionView{
		CorrelationID: "c-1", OrderID: 42, AmountCents: 9120,
		Status: models.SessionPending, AttemptsRemaining: 3,
	}, view)
	assert.Empty(t, ledger.attempts)
	assert.Empty(t, ledger.outbox)
}

func TestAttempt_SuccessWithCertainProbability(t *testing.T) {
	ledger := newFakeLedger()
	notifier := &countingNotifier{}
	e := NewEngine(ledger, EngineConfig{SuccessRate: 1.0}, zap.NewNop(),
		WithRandom(fixedRandom(0.999)), WithNotifier(notifier))
	openSession(t, e, "c-1")

	res, err := e.Attempt(context.Background(), AttemptRequest{CorrelationID: "c-1", CardNumber: "4242424242424242"})
	require.NoError(t, err)
	assert.Equal(t, &AttemptResult{Status: models.AttemptSuccess, AttemptsRemaining: 2, IsFinal: true}, res)

	evts := ledger.published(t)
	require.Len(t, evts, 1)
	assert.Equal(t, events.PaymentProcessed{CorrelationID: "c-1", OrderID: 42, Status: events.PaymentSuccess}, evts[0])
	assert.Equal(t, "4242", ledger.attempts[0].CardLast4)
	assert.Equal(t, 1, notifier.n)
}

func TestAttempt_ExhaustsAfterThreeFailures(t *testing.T) {
	ledger := newFakeLedger()
	e := newTestEngine(ledger, 0.0, 0.0)
	openSession(t, e, "c-1")
	ctx := context.Background()

	for i, wantRemaining := range []int{2, 1} {
		res, err := e.Attempt(ctx, AttemptRequest{CorrelationID: "c-1", CardNumber: "4000"})
		require.NoError(t, err, "attempt %d", i+1)
		assert.Equal(t, &AttemptResult{
			Status: models.AttemptFailed, Reason: ReasonSimulatedDecline, AttemptsRemaining: wantRemaining,
		}, res)
		assert.Empty(t, ledger.published(t))
	}

	res, err := e.Attempt(ctx, AttemptRequest{CorrelationID: "c-1", CardNumber: "4000"})
	require.NoError(t, err)
	assert.Equal(t, &AttemptResult{
		Status: models.AttemptFailed, Reason: ReasonSimulatedDecline, AttemptsRemaining: 0, IsFinal: true,
	}, res)

	_, err = e.Attempt(ctx, AttemptRequest{CorrelationID: "c-1", CardNumber: "4000"})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	evts := ledger.published(t)
	require.Len(t, evts, 1)
	assert.Equal(t, events.PaymentFailed, evts[0].Status)
	assert.Equal(t, ReasonSimulatedDecline, evts[0].Reason)

	n, _ := ledger.CountAttempts(ctx, "c-1")
	assert.Equal(t, int64(3), n)
	s, _ := ledger.FindByCorrelationID(ctx, "c-1")
	assert.Equal(t, models.SessionFailed, s.Status)
	assert.Equal(t, 3, s.AttemptCount)
}

func TestAttempt_SentinelCardDeclinesImmediately(t *testing.T) {
	ledger := newFakeLedger()
	e := NewEngine(ledger, EngineConfig{SuccessRate: 1.0, Delay: time.Hour}, zap.NewNop(),
		WithRandom(fixedRandom(0)))
	openSession(t, e, "c-1")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res, err := e.Attempt(ctx, AttemptRequest{CorrelationID: "c-1", CardNumber: "666", CardCVV: "123", CardHolder: "X"})
	require.NoError(t, err)
	assert.Equal(t, &AttemptResult{
		Status: models.AttemptFailed, Reason: ReasonDeclinedByRule, AttemptsRemaining: 2, IsFinal: true,
	}, res)

	evts := ledger.published(t)
	require.Len(t, evts, 1)
	assert.Equal(t, events.PaymentProcessed{
		CorrelationID: "c-1", OrderID: 42, Status: events.PaymentFailed, Reason: ReasonDeclinedByRule,
	}, evts[0])
	assert.Equal(t, ReasonDeclinedByRule, ledger.attempts[0].GatewayResponse)
}

func TestAttempt_SentinelAfterPriorFailuresPublishesOnce(t *testing.T) {
	ledger := newFakeLedger()
	e := newTestEngine(ledger, 0.0, 0.0)
	openSession(t, e, "c-1")

	_, err := e.Attempt(context.Background(), AttemptRequest{CorrelationID: "c-1", CardNumber: "4000"})
	require.NoError(t, err)
	_, err = e.Attempt(context.Background(), AttemptRequest{CorrelationID: "c-1", CardNumber: "666"})
	require.NoError(t, err)
	_, err = e.Attempt(context.Background(), AttemptRequest{CorrelationID: "c-1", CardNumber: "666"})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	assert.Len(t, ledger.published(t), 1)
}

func TestAttempt_UnknownSession(t *testing.T) {
	e := newTestEngine(newFakeLedger(), 1, 0)
	_, err := e.Attempt(context.Background(), AttemptRequest{CorrelationID: "nope", CardNumber: "4242"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAttempt_RequiresCardNumber(t *testing.T) {
	e := newTestEngine(newFakeLedger(), 1, 0)
	_, err := e.Attempt(context.Background(), AttemptRequest{CorrelationID: "c-1"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestAttempt_CancelledDuringDelayRecordsNothing(t *testing.T) {
	ledger := newFakeLedger()
	e := NewEngine(ledger, EngineConfig{SuccessRate: 1, Delay: time.Hour}, zap.NewNop())
	openSession(t, e, "c-1")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := e.Attempt(ctx, AttemptRequest{CorrelationID: "c-1", CardNumber: "4242"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, ledger.attempts)
}

func TestAttempt_ConcurrentAttemptsCloseSessionOnce(t *testing.T) {
	ledger := newFakeLedger()
	e := newTestEngine(ledger, 0.0, 0.0)
	openSession(t, e, "c-1")

	var wg sync.WaitGroup
	var mu sync.Mutex
	var rejected int
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Attempt(context.Background(), AttemptRequest{CorrelationID: "c-1", CardNumber: "4000"})
			if err != nil {
				assert.ErrorIs(t, err, apperr.ErrInvalidState)
				mu.Lock()
				rejected++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, ledger.published(t), 1)
	assert.Len(t, ledger.attempts, 3)
	assert.Equal(t, 7, rejected)
}

func TestNewRandom_IsConcurrencySafe(t *testing.T) {
	r := NewRandom(1)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				v := r.Float64()
				assert.True(t, v >= 0 && v < 1)
			}
		}()
	}
	wg.Wait()
}
