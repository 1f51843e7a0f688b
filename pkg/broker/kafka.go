package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	kafkaRetryBase = 500 * time.Millisecond
	kafkaRetryMax  = 30 * time.Second

	// messages fetched ahead per partition
	kafkaLaneBuffer = 64
)

// Kafka publishes every routing key to a Kafka topic of the same name and
// consumes through a consumer group. Partitions are handled concurrently.
// Offsets are committed only after the handler succeeds; a failing message is
// retried in place so later offsets of its partition are never committed past
// it.
type Kafka struct {
	brokers []string
	groupID string
	writer  *kafka.Writer
	logger  *zap.Logger
}

func NewKafka(brokers []string, groupID string, logger *zap.Logger) *Kafka {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
	}
	logger.Info("Kafka broker initialized", zap.Strings("brokers", brokers), zap.String("group_id", groupID))
	return &Kafka{brokers: brokers, groupID: groupID, writer: w, logger: logger}
}

func (k *Kafka) Publish(ctx context.Context, msg Message) error {
	err := k.writer.WriteMessages(ctx, kafka.Message{
		Topic: msg.RoutingKey,
		Key:   []byte(msg.Key),
		Value: msg.Payload,
		Headers: []kafka.Header{
			{Key: "topic", Value: []byte(msg.Topic)},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka publish %s: %w", msg.RoutingKey, err)
	}
	return nil
}

func (k *Kafka) Subscribe(ctx context.Context, queue string, h Handler) error {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  k.brokers,
		GroupID:  k.groupID,
		Topic:    queue,
		MinBytes: 1e3, // 1KB
		MaxBytes: 1e6, // 1MB
	})
	defer r.Close()

	log := k.logger.With(zap.String("queue", queue))
	log.Info("Kafka consumer started")
	err := k.consume(ctx, log, r, h)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		log.Info("Kafka consumer stopped")
	}
	return err
}

type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// consume fans fetched messages out to one goroutine per partition. Each
// partition is handled and committed in offset order; a message retrying on
// one partition does not hold up the others until its lane buffer fills.
func (k *Kafka) consume(ctx context.Context, log *zap.Logger, r kafkaReader, h Handler) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lanes := make(map[int]chan kafka.Message)
		defer func() {
			for _, lane := range lanes {
				close(lane)
			}
		}()

		for {
			m, err := r.FetchMessage(gctx)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				return fmt.Errorf("kafka fetch: %w", err)
			}

			lane, ok := lanes[m.Partition]
			if !ok {
				lane = make(chan kafka.Message, kafkaLaneBuffer)
				lanes[m.Partition] = lane
				g.Go(func() error { return k.drain(gctx, log, r, lane, h) })
			}
			select {
			case lane <- m:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})
	return g.Wait()
}

func (k *Kafka) drain(ctx context.Context, log *zap.Logger, r kafkaReader, lane <-chan kafka.Message, h Handler) error {
	for m := range lane {
		if err := k.handleWithRetry(ctx, log, m, h); err != nil {
			return err
		}
		if err := r.CommitMessages(ctx, m); err != nil {
			log.Error("Failed to commit offset",
				zap.Int("partition", m.Partition),
				zap.Int64("offset", m.Offset),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (k *Kafka) handleWithRetry(ctx context.Context, log *zap.Logger, m kafka.Message, h Handler) error {
	delay := kafkaRetryBase
	for attempt := 1; ; attempt++ {
		err := h(ctx, m.Value)
		if err == nil {
			return nil
		}
		log.Warn("Handler failed, retrying message",
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if err := sleepOrDone(ctx, delay); err != nil {
			return err
		}
		if delay *= 2; delay > kafkaRetryMax {
			delay = kafkaRetryMax
		}
	}
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}

// sleepOrDone waits for d or returns early on context cancellation.
func sleepOrDone(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
