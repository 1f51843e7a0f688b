package broker

import (
	"context"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	aws_pkg "github.com/ticketchief/backend/pkg/aws"
	"go.uber.org/zap"
)

// SNSSQS publishes to SNS topics and consumes from SQS queues subscribed to them.
type SNSSQS struct {
	sns         aws_pkg.SNSPublisher
	awsCfg      sdkaws.Config
	topicARNs   map[string]string
	queueURLs   map[string]string
	concurrency int
	logger      *zap.Logger
}

// NewSNSSQS maps logical topics to SNS topic ARNs and queue names (routing keys)
// to SQS queue URLs.
func NewSNSSQS(awsCfg sdkaws.Config, sns aws_pkg.SNSPublisher, topicARNs, queueURLs map[string]string, concurrency int, logger *zap.Logger) *SNSSQS {
	return &SNSSQS{
		sns:         sns,
		awsCfg:      awsCfg,
		topicARNs:   topicARNs,
		queueURLs:   queueURLs,
		concurrency: concurrency,
		logger:      logger,
	}
}

func (b *SNSSQS) Publish(ctx context.Context, msg Message) error {
	arn, ok := b.topicARNs[msg.Topic]
	if !ok || arn == "" {
		return fmt.Errorf("no SNS topic configured for %q", msg.Topic)
	}
	return b.sns.PublishWithRoutingKey(ctx, arn, msg.RoutingKey, msg.Payload)
}

func (b *SNSSQS) Subscribe(ctx context.Context, queue string, h Handler) error {
	url, ok := b.queueURLs[queue]
	if !ok || url == "" {
		return fmt.Errorf("no SQS queue configured for %q", queue)
	}
	consumer := aws_pkg.NewSQSConsumer(b.awsCfg, url, b.concurrency, b.logger.With(zap.String("queue", queue)))
	return consumer.StartPolling(ctx, func(ctx context.Context, body string) error {
		return h(ctx, []byte(body))
	})
}

func (b *SNSSQS) Close() error { return nil }
