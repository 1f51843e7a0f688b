package aws

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

// SQSConsumer long-polls an SQS queue. A message is deleted only after its
// handler returns nil, so failed messages reappear after the visibility timeout.
type SQSConsumer struct {
	client      *sqs.Client
	queueURL    string
	concurrency int
	logger      *zap.Logger
}

// NewSQSConsumer creates a new SQS consumer for the given queue URL.
// concurrency bounds how many messages of one batch are handled at once.
func NewSQSConsumer(cfg aws.Config, queueURL string, concurrency int, logger *zap.Logger) *SQSConsumer {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQSConsumer{
		client:      sqs.NewFromConfig(cfg),
		queueURL:    queueURL,
		concurrency: concurrency,
		logger:      logger,
	}
}

// MessageHandler is a function that processes an SQS message
type MessageHandler func(ctx context.Context, body string) error

// StartPolling polls SQS for messages and processes them with the handler
// until ctx is cancelled.
func (c *SQSConsumer) StartPolling(ctx context.Context, handler MessageHandler) error {
	c.logger.Info("Starting SQS polling", zap.String("queue_url", c.queueURL))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("SQS polling stopped", zap.String("queue_url", c.queueURL))
			return ctx.Err()
		default:
			if err := c.pollOnce(ctx, handler); err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Error("Error polling SQS", zap.String("queue_url", c.queueURL), zap.Error(err))
			}
		}
	}
}

func (c *SQSConsumer) pollOnce(ctx context.Context, handler MessageHandler) error {
	result, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            &c.queueURL,
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     20, // Long polling
		VisibilityTimeout:   30,
	})
	if err != nil {
		return fmt.Errorf("failed to receive messages: %w", err)
	}

	sem := make(chan struct{}, c.concurrency)
	var wg sync.WaitGroup
	for _, msg := range result.Messages {
		if msg.Body == nil {
			continue
		}
		body, receipt := *msg.Body, msg.ReceiptHandle

		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			if err := handler(ctx, body); err != nil {
				c.logger.Warn("Failed to process message, leaving it for redelivery",
					zap.String("queue_url", c.queueURL), zap.Error(err))
				return
			}
			if _, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
				QueueUrl:      &c.queueURL,
				ReceiptHandle: receipt,
			}); err != nil {
				c.logger.Error("Failed to delete message", zap.String("queue_url", c.queueURL), zap.Error(err))
			}
		}()
	}
	wg.Wait()

	return nil
}

// GetQueueURL retrieves the URL for a queue name
func GetQueueURL(ctx context.Context, cfg aws.Config, queueName string) (string, error) {
	client := sqs.NewFromConfig(cfg)
	result, err := client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{
		QueueName: &queueName,
	})
	if err != nil {
		return "", fmt.Errorf("failed to get queue URL: %w", err)
	}
	return *result.QueueUrl, nil
}
