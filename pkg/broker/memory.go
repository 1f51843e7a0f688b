package broker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const memoryQueueSize = 1024

type delivery struct {
	body    []byte
	attempt int
}

// Memory is an in-process broker for local runs and tests. Each routing key is
// a buffered queue; a failed delivery is requeued until MaxRedeliveries.
type Memory struct {
	MaxRedeliveries int
	RedeliveryDelay time.Duration

	mu          sync.Mutex
	queues      map[string]chan delivery
	published   []Message
	concurrency int
	logger      *zap.Logger
}

func NewMemory(concurrency int, logger *zap.Logger) *Memory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Memory{
		MaxRedeliveries: 5,
		RedeliveryDelay: 50 * time.Millisecond,
		queues:          make(map[string]chan delivery),
		concurrency:     concurrency,
		logger:          logger,
	}
}

func (m *Memory) queue(name string) chan delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[name]
	if !ok {
		q = make(chan delivery, memoryQueueSize)
		m.queues[name] = q
	}
	return q
}

func (m *Memory) Publish(ctx context.Context, msg Message) error {
	q := m.queue(msg.RoutingKey)

	m.mu.Lock()
	m.published = append(m.published, msg)
	m.mu.Unlock()

	select {
	case q <- delivery{body: msg.Payload}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Published returns every message accepted by Publish, in order.
func (m *Memory) Published() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.published))
	copy(out, m.published)
	return out
}

func (m *Memory) Subscribe(ctx context.Context, queue string, h Handler) error {
	q := m.queue(queue)
	p := newPool(m.concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d := <-q:
			if err := p.acquire(ctx); err != nil {
				return err
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer p.release()
				if err := h(ctx, d.body); err != nil {
					m.redeliver(queue, q, d, err)
				}
			}()
		}
	}
}

func (m *Memory) redeliver(name string, q chan delivery, d delivery, cause error) {
	d.attempt++
	if d.attempt > m.MaxRedeliveries {
		m.logger.Error("Dropping message after redeliveries", zap.String("queue", name), zap.Int("attempts", d.attempt), zap.Error(cause))
		return
	}
	m.logger.Warn("Handler failed, requeueing message", zap.String("queue", name), zap.Int("attempt", d.attempt), zap.Error(cause))
	time.AfterFunc(m.RedeliveryDelay, func() {
		select {
		case q <- d:
		default:
			m.logger.Error("Queue full, dropping redelivery", zap.String("queue", name))
		}
	})
}

func (m *Memory) Close() error { return nil }
