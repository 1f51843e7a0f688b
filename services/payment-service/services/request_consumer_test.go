package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ticketchief/backend/pkg/broker"
	"github.com/ticketchief/backend/pkg/events"
	"github.com/ticketchief/backend/services/payment-service/models"
	"go.uber.org/zap"
)

type stubOpener struct {
	err  error
	reqs []events.PaymentRequested
}

func (s *stubOpener) Process(_ context.Context, req events.PaymentRequested) error {
	s.reqs = append(s.reqs, req)
	return s.err
}

func TestHandle_OpensSession(t *testing.T) {
	opener := &stubOpener{}
	c := NewPaymentRequestConsumer(nil, opener, nil, zap.NewNop())

	err := c.Handle(context.Background(), []byte(`{"orderId":42,"correlationId":"c-1","amountCents":9120}`))
	require.NoError(t, err)
	require.Len(t, opener.reqs, 1)
	assert.Equal(t, events.PaymentRequested{OrderID: 42, CorrelationID: "c-1", AmountCents: 9120}, opener.reqs[0])
}

func TestHandle_AcksMalformed(t *testing.T) {
	opener := &stubOpener{}
	c := NewPaymentRequestConsumer(nil, opener, nil, zap.NewNop())

	for _, body := range []string{`not json`, `{"orderId":"42","correlationId":"c-1"}`, `{"correlationId":"c-1"}`} {
		assert.NoError(t, c.Handle(context.Background(), []byte(body)), body)
	}
	assert.Empty(t, opener.reqs)
}

func TestHandle_ReturnsPersistenceErrors(t *testing.T) {
	boom := errors.New("db down")
	c := NewPaymentRequestConsumer(nil, &stubOpener{err: boom}, nil, zap.NewNop())

	err := c.Handle(context.Background(), []byte(`{"orderId":42,"correlationId":"c-1","amountCents":1}`))
	assert.ErrorIs(t, err, boom)
}

func TestPaymentRequestConsumer_EndToEndOverMemoryBroker(t *testing.T) {
	ledger := newFakeLedger()
	engine := newTestEngine(ledger, 1, 0)
	mem := broker.NewMemory(2, zap.NewNop())
	c := NewPaymentRequestConsumer(mem, engine, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	evt := events.PaymentRequested{OrderID: 7, CorrelationID: "c-7", AmountCents: 100}
	require.NoError(t, broker.PublishEvent(ctx, mem, evt, "7"))
	require.NoError(t, broker.PublishEvent(ctx, mem, evt, "7"))

	require.Eventually(t, func() bool {
		s, err := ledger.FindByCorrelationID(ctx, "c-7")
		return err == nil && s.Status == models.SessionPending
	}, time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
