package aws

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
)

const (
	defaultLogGroup      = "/ticketchief/services"
	defaultRetentionDays = 30
	logFlushInterval     = 2 * time.Second
	logMaxBatch          = 500
)

type logsAPI interface {
	CreateLogGroup(ctx context.Context, in *cloudwatchlogs.CreateLogGroupInput, opts ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogGroupOutput, error)
	PutRetentionPolicy(ctx context.Context, in *cloudwatchlogs.PutRetentionPolicyInput, opts ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutRetentionPolicyOutput, error)
	CreateLogStream(ctx context.Context, in *cloudwatchlogs.CreateLogStreamInput, opts ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogStreamOutput, error)
	PutLogEvents(ctx context.Context, in *cloudwatchlogs.PutLogEventsInput, opts ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error)
}

// LogShipper buffers log lines and ships them in batches to one CloudWatch
// Logs stream. It satisfies zapcore.WriteSyncer, so logger.Sync drains it.
type LogShipper struct {
	api    logsAPI
	group  string
	stream string

	mu      sync.Mutex
	pending []types.InputLogEvent
	sendMu  sync.Mutex

	wake      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewLogShipper creates the log group (if missing) and a stream named after
// the service and host, then starts the background flusher.
func NewLogShipper(ctx context.Context, serviceName string) (*LogShipper, error) {
	cfg, err := LoadAWSConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	group := os.Getenv("CLOUDWATCH_LOG_GROUP")
	if group == "" {
		group = defaultLogGroup
	}
	retention := defaultRetentionDays
	if v := os.Getenv("CLOUDWATCH_RETENTION_DAYS"); v != "" {
		if retention, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("invalid CLOUDWATCH_RETENTION_DAYS %q: %w", v, err)
		}
	}
	host, _ := os.Hostname()
	stream := fmt.Sprintf("%s/%s-%d", serviceName, host, time.Now().Unix())

	return newLogShipper(ctx, cloudwatchlogs.NewFromConfig(cfg), group, stream, int32(retention), logFlushInterval)
}

func newLogShipper(ctx context.Context, api logsAPI, group, stream string, retentionDays int32, interval time.Duration) (*LogShipper, error) {
	s := &LogShipper{
		api:    api,
		group:  group,
		stream: stream,
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if err := s.ensureLogGroup(ctx, retentionDays); err != nil {
		return nil, fmt.Errorf("failed to ensure log group: %w", err)
	}
	if _, err := api.CreateLogStream(ctx, &cloudwatchlogs.CreateLogStreamInput{
		LogGroupName:  aws.String(group),
		LogStreamName: aws.String(stream),
	}); err != nil {
		return nil, fmt.Errorf("failed to create log stream: %w", err)
	}

	go s.loop(interval)
	return s, nil
}

func (s *LogShipper) ensureLogGroup(ctx context.Context, retentionDays int32) error {
	_, err := s.api.CreateLogGroup(ctx, &cloudwatchlogs.CreateLogGroupInput{
		LogGroupName: aws.String(s.group),
	})
	if err != nil {
		var exists *types.ResourceAlreadyExistsException
		if !errors.As(err, &exists) {
			return err
		}
	}

	_, err = s.api.PutRetentionPolicy(ctx, &cloudwatchlogs.PutRetentionPolicyInput{
		LogGroupName:    aws.String(s.group),
		RetentionInDays: aws.Int32(retentionDays),
	})
	if err != nil {
		return fmt.Errorf("failed to set retention policy: %w", err)
	}
	return nil
}

// Write queues one encoded log entry. It never fails; shipping errors are
// reported on stderr when the batch is sent.
func (s *LogShipper) Write(p []byte) (int, error) {
	msg := strings.TrimRight(string(p), "\n")
	if msg == "" {
		return len(p), nil
	}

	s.mu.Lock()
	s.pending = append(s.pending, types.InputLogEvent{
		Message:   aws.String(msg),
		Timestamp: aws.Int64(time.Now().UnixMilli()),
	})
	full := len(s.pending) >= logMaxBatch
	s.mu.Unlock()

	if full {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
	return len(p), nil
}

// Sync ships everything queued so far.
func (s *LogShipper) Sync() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.flush(ctx)
}

// Close stops the background flusher after a final flush.
func (s *LogShipper) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.done
	})
	return s.Sync()
}

func (s *LogShipper) loop(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		case <-s.wake:
		}
		if err := s.Sync(); err != nil {
			fmt.Fprintf(os.Stderr, "CloudWatch write error: %v\n", err)
		}
	}
}

func (s *LogShipper) flush(ctx context.Context) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	for len(batch) > 0 {
		n := min(len(batch), logMaxBatch)
		if _, err := s.api.PutLogEvents(ctx, &cloudwatchlogs.PutLogEventsInput{
			LogGroupName:  aws.String(s.group),
			LogStreamName: aws.String(s.stream),
			LogEvents:     batch[:n],
		}); err != nil {
			return fmt.Errorf("failed to put %d log events: %w", len(batch), err)
		}
		batch = batch[n:]
	}
	return nil
}
