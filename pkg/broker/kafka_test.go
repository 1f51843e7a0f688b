package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeKafkaReader struct {
	msgs chan kafka.Message

	mu      sync.Mutex
	commits []kafka.Message
}

func newFakeKafkaReader(msgs ...kafka.Message) *fakeKafkaReader {
	r := &fakeKafkaReader{msgs: make(chan kafka.Message, len(msgs))}
	for _, m := range msgs {
		r.msgs <- m
	}
	return r
}

func (r *fakeKafkaReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-r.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeKafkaReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commits = append(r.commits, msgs...)
	return nil
}

func (r *fakeKafkaReader) committed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.commits))
	for _, m := range r.commits {
		out = append(out, string(m.Value))
	}
	return out
}

func consumeInBackground(t *testing.T, r kafkaReader, h Handler) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	k := &Kafka{logger: zap.NewNop()}
	done := make(chan error, 1)
	go func() { done <- k.consume(ctx, zap.NewNop(), r, h) }()
	t.Cleanup(cancel)
	return cancel, done
}

func TestKafkaConsume_PartitionsRunConcurrently(t *testing.T) {
	r := newFakeKafkaReader(
		kafka.Message{Partition: 0, Offset: 1, Value: []byte("slow")},
		kafka.Message{Partition: 1, Offset: 1, Value: []byte("fast")},
	)
	fastDone := make(chan struct{})
	h := func(ctx context.Context, body []byte) error {
		if string(body) == "fast" {
			close(fastDone)
			return nil
		}
		select {
		case <-fastDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	cancel, done := consumeInBackground(t, r, h)

	require.Eventually(t, func() bool { return len(r.committed()) == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"fast", "slow"}, r.committed())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestKafkaConsume_RetriesInPlaceWithinPartition(t *testing.T) {
	r := newFakeKafkaReader(
		kafka.Message{Partition: 0, Offset: 1, Value: []byte("a")},
		kafka.Message{Partition: 0, Offset: 2, Value: []byte("b")},
	)
	var (
		mu      sync.Mutex
		handled []string
		failed  bool
	)
	h := func(_ context.Context, body []byte) error {
		mu.Lock()
		defer mu.Unlock()
		handled = append(handled, string(body))
		if string(body) == "a" && !failed {
			failed = true
			return errors.New("db down")
		}
		return nil
	}

	cancel, done := consumeInBackground(t, r, h)

	require.Eventually(t, func() bool { return len(r.committed()) == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, r.committed())
	mu.Lock()
	assert.Equal(t, []string{"a", "a", "b"}, handled)
	mu.Unlock()

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
