package aws

import (
	"context"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// RoutingKeyAttribute is the SNS message attribute carrying the event routing key.
// Subscriptions filter on it to fan a topic out to several queues.
const RoutingKeyAttribute = "routing_key"

// SNSPublisher is a minimal interface for publishing messages to SNS.
type SNSPublisher interface {
	Publish(ctx context.Context, topicArn string, message []byte) error
	PublishWithRoutingKey(ctx context.Context, topicArn, routingKey string, message []byte) error
}

type SNSClient struct {
	client *sns.Client
}

func NewSNSClient(cfg sdkaws.Config) *SNSClient {
	return &SNSClient{client: sns.NewFromConfig(cfg)}
}

// Publish publishes a raw message to the given SNS topic ARN.
func (s *SNSClient) Publish(ctx context.Context, topicArn string, message []byte) error {
	return s.PublishWithRoutingKey(ctx, topicArn, "", message)
}

// PublishWithRoutingKey publishes a message and tags it with the routing key attribute.
func (s *SNSClient) PublishWithRoutingKey(ctx context.Context, topicArn, routingKey string, message []byte) error {
	if topicArn == "" {
		return fmt.Errorf("empty topicArn")
	}
	input := &sns.PublishInput{
		TopicArn: sdkaws.String(topicArn),
		Message:  sdkaws.String(string(message)),
	}
	if routingKey != "" {
		input.MessageAttributes = map[string]types.MessageAttributeValue{
			RoutingKeyAttribute: {
				DataType:    sdkaws.String("String"),
				StringValue: sdkaws.String(routingKey),
			},
		}
	}
	if _, err := s.client.Publish(ctx, input); err != nil {
		return fmt.Errorf("sns publish failed for topic %s: %w", topicArn, err)
	}
	return nil
}
