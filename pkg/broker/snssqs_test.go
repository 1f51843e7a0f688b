package broker

import (
	"context"
	"errors"
	"testing"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockSNS struct {
	publishErr error
	topicArn   string
	routingKey string
	message    []byte
}

func (m *mockSNS) Publish(ctx context.Context, topicArn string, message []byte) error {
	return m.PublishWithRoutingKey(ctx, topicArn, "", message)
}

func (m *mockSNS) PublishWithRoutingKey(_ context.Context, topicArn, routingKey string, message []byte) error {
	m.topicArn, m.routingKey, m.message = topicArn, routingKey, message
	return m.publishErr
}

func TestSNSSQS_PublishResolvesTopicARN(t *testing.T) {
	sns := &mockSNS{}
	b := NewSNSSQS(sdkaws.Config{}, sns, map[string]string{"payments": "arn:aws:sns:us-east-1:000000000000:payments"}, nil, 1, zap.NewNop())

	err := b.Publish(context.Background(), Message{Topic: "payments", RoutingKey: "payment.requested", Payload: []byte(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, "arn:aws:sns:us-east-1:000000000000:payments", sns.topicArn)
	assert.Equal(t, "payment.requested", sns.routingKey)
	assert.Equal(t, []byte(`{}`), sns.message)
}

func TestSNSSQS_PublishUnknownTopic(t *testing.T) {
	b := NewSNSSQS(sdkaws.Config{}, &mockSNS{}, map[string]string{}, nil, 1, zap.NewNop())
	err := b.Publish(context.Background(), Message{Topic: "tickets", RoutingKey: "ticket.created"})
	assert.Error(t, err)
}

func TestSNSSQS_PublishPropagatesSNSError(t *testing.T) {
	sns := &mockSNS{publishErr: errors.New("throttled")}
	b := NewSNSSQS(sdkaws.Config{}, sns, map[string]string{"email": "arn:email"}, nil, 1, zap.NewNop())
	err := b.Publish(context.Background(), Message{Topic: "email", RoutingKey: "email.send"})
	assert.ErrorContains(t, err, "throttled")
}

func TestSNSSQS_SubscribeUnknownQueue(t *testing.T) {
	b := NewSNSSQS(sdkaws.Config{}, &mockSNS{}, nil, map[string]string{}, 1, zap.NewNop())
	err := b.Subscribe(context.Background(), "payment.processed", func(context.Context, []byte) error { return nil })
	assert.Error(t, err)
}
