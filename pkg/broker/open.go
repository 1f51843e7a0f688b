package broker

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	aws_pkg "github.com/ticketchief/backend/pkg/aws"
	"github.com/ticketchief/backend/pkg/events"
	"go.uber.org/zap"
)

// Transport kinds accepted in BROKER.
const (
	KindSQS    = "sqs"
	KindKafka  = "kafka"
	KindMemory = "memory"
)

// Config selects and configures a transport.
type Config struct {
	Kind        string
	Concurrency int

	KafkaBrokers []string
	KafkaGroupID string

	// TopicARNs maps logical topics to SNS topic ARNs.
	TopicARNs map[string]string
	// QueueURLs maps queue names (routing keys) to SQS queue URLs. Missing
	// entries are resolved by name as QueuePrefix + routing key with dots
	// replaced by dashes.
	QueueURLs   map[string]string
	QueuePrefix string
}

// ConfigFromEnv reads the transport settings shared by every service.
// groupID names the Kafka consumer group.
func ConfigFromEnv(groupID string, queues ...string) Config {
	cfg := Config{
		Kind:         strings.ToLower(getEnv("BROKER", KindSQS)),
		Concurrency:  atoi(os.Getenv("CONSUMER_CONCURRENCY"), 8),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", groupID),
		TopicARNs:    map[string]string{},
		QueueURLs:    map[string]string{},
		QueuePrefix:  getEnv("SQS_QUEUE_PREFIX", "ticketchief-"),
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}
	for _, topic := range []string{events.TopicPayments, events.TopicTickets, events.TopicReservations, events.TopicEmail} {
		if arn := os.Getenv("SNS_TOPIC_ARN_" + envSuffix(topic)); arn != "" {
			cfg.TopicARNs[topic] = arn
		}
	}
	for _, q := range queues {
		if url := os.Getenv("SQS_QUEUE_URL_" + envSuffix(q)); url != "" {
			cfg.QueueURLs[q] = url
		}
	}
	return cfg
}

// Open builds the configured transport. queues lists the queues the caller
// will subscribe to; their SQS URLs are resolved up front.
func Open(ctx context.Context, cfg Config, logger *zap.Logger, queues ...string) (Broker, error) {
	switch cfg.Kind {
	case KindMemory:
		return NewMemory(cfg.Concurrency, logger), nil

	case KindKafka:
		if len(cfg.KafkaBrokers) == 0 {
			return nil, fmt.Errorf("KAFKA_BROKERS is required for the kafka broker")
		}
		return NewKafka(cfg.KafkaBrokers, cfg.KafkaGroupID, logger), nil

	case KindSQS, "":
		awsCfg, err := aws_pkg.LoadAWSConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		urls := make(map[string]string, len(queues))
		for _, q := range queues {
			if url := cfg.QueueURLs[q]; url != "" {
				urls[q] = url
				continue
			}
			url, err := aws_pkg.GetQueueURL(ctx, awsCfg, QueueName(cfg.QueuePrefix, q))
			if err != nil {
				return nil, err
			}
			urls[q] = url
		}
		return NewSNSSQS(awsCfg, aws_pkg.NewSNSClient(awsCfg), cfg.TopicARNs, urls, cfg.Concurrency, logger), nil

	default:
		return nil, fmt.Errorf("unknown broker %q", cfg.Kind)
	}
}

// QueueName is the SQS queue name for a routing key.
func QueueName(prefix, routingKey string) string {
	return prefix + strings.ReplaceAll(routingKey, ".", "-")
}

func envSuffix(name string) string {
	return strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(name))
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func atoi(s string, fallback int) int {
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return fallback
}
