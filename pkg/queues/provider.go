package queues

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

type Provider interface {
	NewConsumer(ctx context.Context, queueName string) (Consumer, error)
	NewPublisher(ctx context.Context, queueName string) (Publisher, error)
	// RetryFailedMessages re-enqueues failed messages whose backoff has elapsed.
	// Messages that exhausted the retry budget are dropped and reported to handler
	// with retryCount == -1.
	RetryFailedMessages(ctx context.Context, queueName string, config RetryConfig, handler RetryHandler) (int, error)
	// ProcessScheduledMessages moves due delayed messages onto the stream.
	ProcessScheduledMessages(ctx context.Context, queueName string) (int, error)
	// CheckHealth verifies the provider is operational (e.g. Redis PING).
	CheckHealth(ctx context.Context) error
	Stop()
	Wait()
}

type ConsumeHandler func(ctx context.Context, payload []byte, entryID string, consumer Consumer, log logrus.FieldLogger) error

// RetryHandler observes a message being retried or permanently dropped. It may be
// nil, in which case due messages are silently republished.
type RetryHandler func(body []byte, retryCount int)

type Consumer interface {
	Consume(ctx context.Context, handler ConsumeHandler) error
	// Complete acknowledges the message. A non-nil processingErr schedules the
	// message for retry with exponential backoff.
	Complete(ctx context.Context, entryID string, body []byte, processingErr error) error
	Close()
}

type Publisher interface {
	Publish(ctx context.Context, payload []byte) error
	// PublishAfter enqueues the payload for delivery no earlier than now+delay.
	PublishAfter(ctx context.Context, payload []byte, delay time.Duration) error
	Close()
}

type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  60 * time.Second,
		MaxDelay:   30 * time.Minute,
	}
}
