package aws

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

const (
	metricsFlushInterval = 10 * time.Second
	// PutMetricData accepts at most 1000 datums per call.
	metricsMaxBatch = 1000
)

type metricsAPI interface {
	PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, opts ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// MetricsClient queues CloudWatch datums and ships them in the background.
// Recording never blocks on the network. A nil *MetricsClient is valid and
// drops everything, which is what callers get when metrics are disabled.
type MetricsClient struct {
	api       metricsAPI
	namespace string

	mu      sync.Mutex
	pending []types.MetricDatum
	sendMu  sync.Mutex

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewMetricsClient returns nil when CLOUDWATCH_ENABLED is not "true".
func NewMetricsClient(ctx context.Context) (*MetricsClient, error) {
	if os.Getenv("CLOUDWATCH_ENABLED") != "true" {
		return nil, nil
	}

	cfg, err := LoadAWSConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	namespace := os.Getenv("CLOUDWATCH_NAMESPACE")
	if namespace == "" {
		namespace = "TicketChief"
	}
	return newMetricsClient(cloudwatch.NewFromConfig(cfg), namespace, metricsFlushInterval), nil
}

func newMetricsClient(api metricsAPI, namespace string, interval time.Duration) *MetricsClient {
	m := &MetricsClient{
		api:       api,
		namespace: namespace,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go m.loop(interval)
	return m
}

// RecordCount adds one to metricName.
func (m *MetricsClient) RecordCount(_ context.Context, metricName string, dimensions map[string]string) {
	m.record(metricName, 1, types.StandardUnitCount, dimensions)
}

// RecordLatency records duration in milliseconds.
func (m *MetricsClient) RecordLatency(_ context.Context, metricName string, duration time.Duration, dimensions map[string]string) {
	m.record(metricName, float64(duration.Milliseconds()), types.StandardUnitMilliseconds, dimensions)
}

func (m *MetricsClient) IsEnabled() bool {
	return m != nil
}

// Flush ships everything recorded so far.
func (m *MetricsClient) Flush(ctx context.Context) error {
	if m == nil {
		return nil
	}
	m.sendMu.Lock()
	defer m.sendMu.Unlock()

	m.mu.Lock()
	batch := m.pending
	m.pending = nil
	m.mu.Unlock()

	for len(batch) > 0 {
		n := min(len(batch), metricsMaxBatch)
		if _, err := m.api.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(m.namespace),
			MetricData: batch[:n],
		}); err != nil {
			return fmt.Errorf("failed to put %d metrics: %w", len(batch), err)
		}
		batch = batch[n:]
	}
	return nil
}

// Close stops the background flusher and ships what is left.
func (m *MetricsClient) Close() error {
	if m == nil {
		return nil
	}
	m.closeOnce.Do(func() {
		close(m.stop)
		<-m.done
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.Flush(ctx)
}

func (m *MetricsClient) record(name string, value float64, unit types.StandardUnit, dimensions map[string]string) {
	if m == nil {
		return
	}

	keys := make([]string, 0, len(dimensions))
	for k := range dimensions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	dims := make([]types.Dimension, 0, len(keys))
	for _, k := range keys {
		dims = append(dims, types.Dimension{Name: aws.String(k), Value: aws.String(dimensions[k])})
	}

	m.mu.Lock()
	m.pending = append(m.pending, types.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       unit,
		Timestamp:  aws.Time(time.Now()),
		Dimensions: dims,
	})
	m.mu.Unlock()
}

func (m *MetricsClient) loop(interval time.Duration) {
	defer close(m.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := m.Flush(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "CloudWatch metrics error: %v\n", err)
			}
			cancel()
		}
	}
}

// Metric names shared by the services.
const (
	// HTTP metrics
	MetricHTTPRequests = "HTTPRequests"
	MetricHTTPErrors   = "HTTPErrors"
	MetricHTTPLatency  = "HTTPLatency"
	MetricHTTP4xx      = "HTTP4xxErrors"
	MetricHTTP5xx      = "HTTP5xxErrors"

	// Saga metrics
	MetricOrdersCreated       = "OrdersCreated"
	MetricOrdersFinalized     = "OrdersFinalized"
	MetricOrdersPaid          = "OrdersPaid"
	MetricOrdersCompensated   = "OrdersCompensated"
	MetricSagaEventsIgnored   = "SagaEventsIgnored"
	MetricTicketsAssigned     = "TicketsAssigned"
	MetricInvoicesGenerated   = "InvoicesGenerated"
	MetricReservationsRelease = "ReservationsReleased"

	// Payment metrics
	MetricPaymentAttempts  = "PaymentAttempts"
	MetricPaymentSucceeded = "PaymentSucceeded"
	MetricPaymentFailed    = "PaymentFailed"
	MetricPaymentLatency   = "PaymentGatewayLatency"

	// Messaging metrics
	MetricMessagesHandled  = "MessagesHandled"
	MetricMessagesRejected = "MessagesRejected"
	MetricOutboxPublished  = "OutboxPublished"
	MetricOutboxFailures   = "OutboxPublishFailures"
	MetricOutboxDeadLetter = "OutboxDeadLettered"
)
