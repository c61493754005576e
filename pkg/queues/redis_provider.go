package queues

// Redis streams queue with consumer groups.
//
// Data structures:
//   - Stream <queue_name>: incoming messages, fields "body" and "retries".
//   - Consumer group <queue_name>:workers tracks pending deliveries.
//   - Sorted set failed:<queue_name>: member base64(body)|retryCount, score is
//     the retry-not-before timestamp. Populated by Complete on handler failure.
//   - Sorted set scheduled:<queue_name>: member base64(body)|uuid, score is the
//     deliver-not-before timestamp. Populated by PublishAfter.
//
// A periodic maintenance thread calls RetryFailedMessages and
// ProcessScheduledMessages to move due members back onto the stream.

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/skylinezone/skyctl/pkg/reqid"

	skylog "github.com/skylinezone/skyctl/pkg/log"
)

const (
	consumerGroupName     = "workers"
	failedSetPrefix       = "failed"
	scheduledSetPrefix    = "scheduled"
	readBlockInterval     = 5 * time.Second
	retryDrainBatchSize   = 100
	permanentlyFailedMark = -1
)

type redisProvider struct {
	client      *redis.Client
	log         logrus.FieldLogger
	wg          *sync.WaitGroup
	consumers   []*redisConsumer
	publishers  []*redisPublisher
	stopped     atomic.Bool
	mu          sync.Mutex
	processID   string
	retryConfig RetryConfig
}

func NewRedisProvider(ctx context.Context, log logrus.FieldLogger, processID string, hostname string, port uint, password string, retryConfig RetryConfig) (Provider, error) {
	if processID == "" {
		return nil, errors.New("processID cannot be empty")
	}
	if strings.Contains(processID, "|") {
		return nil, errors.New("processID cannot contain pipe character")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", hostname, port),
		Password:     password,
		DB:           0,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		DialTimeout:  5 * time.Second,
	})

	timeoutCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := client.Ping(timeoutCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis queue: %w", err)
	}
	log.Info("successfully connected to the Redis queue")

	return &redisProvider{
		client:      client,
		log:         log,
		wg:          &sync.WaitGroup{},
		processID:   processID,
		retryConfig: retryConfig,
	}, nil
}

func (r *redisProvider) NewConsumer(ctx context.Context, queueName string) (Consumer, error) {
	if r.stopped.Load() {
		return nil, errors.New("provider is stopped")
	}
	err := r.client.XGroupCreateMkStream(ctx, queueName, groupFor(queueName), "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}
	c := &redisConsumer{
		provider:      r,
		name:          fmt.Sprintf("%s-%s", r.processID, uuid.NewString()[:8]),
		queueName:     queueName,
		inFlightTries: make(map[string]int),
	}
	r.mu.Lock()
	r.consumers = append(r.consumers, c)
	r.mu.Unlock()
	return c, nil
}

func (r *redisProvider) NewPublisher(ctx context.Context, queueName string) (Publisher, error) {
	if r.stopped.Load() {
		return nil, errors.New("provider is stopped")
	}
	p := &redisPublisher{provider: r, queueName: queueName}
	r.mu.Lock()
	r.publishers = append(r.publishers, p)
	r.mu.Unlock()
	return p, nil
}

func (r *redisProvider) CheckHealth(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *redisProvider) Stop() {
	if r.stopped.Swap(true) {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.consumers {
		c.closed.Store(true)
	}
}

func (r *redisProvider) Wait() {
	r.wg.Wait()
	_ = r.client.Close()
}

func (r *redisProvider) RetryFailedMessages(ctx context.Context, queueName string, config RetryConfig, handler RetryHandler) (int, error) {
	setKey := fmt.Sprintf("%s:%s", failedSetPrefix, queueName)
	now := float64(time.Now().UnixMilli())
	members, err := r.client.ZRangeByScore(ctx, setKey, &redis.ZRangeBy{
		Min: "-inf", Max: strconv.FormatFloat(now, 'f', -1, 64), Count: retryDrainBatchSize,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed listing due failed messages: %w", err)
	}

	requeued := 0
	for _, member := range members {
		body, retryCount, perr := parseFailedMember(member)
		if perr != nil {
			r.log.WithError(perr).Warnf("dropping malformed failed-queue member on %s", queueName)
			r.client.ZRem(ctx, setKey, member)
			continue
		}
		if retryCount > config.MaxRetries {
			r.log.Warnf("message on %s exhausted retry budget (%d), dropping", queueName, config.MaxRetries)
			if handler != nil {
				handler(body, permanentlyFailedMark)
			}
			r.client.ZRem(ctx, setKey, member)
			continue
		}
		if err := r.addToStream(ctx, queueName, body, retryCount); err != nil {
			return requeued, err
		}
		r.client.ZRem(ctx, setKey, member)
		if handler != nil {
			handler(body, retryCount)
		}
		requeued++
	}
	return requeued, nil
}

func (r *redisProvider) ProcessScheduledMessages(ctx context.Context, queueName string) (int, error) {
	setKey := fmt.Sprintf("%s:%s", scheduledSetPrefix, queueName)
	now := float64(time.Now().UnixMilli())
	members, err := r.client.ZRangeByScore(ctx, setKey, &redis.ZRangeBy{
		Min: "-inf", Max: strconv.FormatFloat(now, 'f', -1, 64), Count: retryDrainBatchSize,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed listing due scheduled messages: %w", err)
	}

	moved := 0
	for _, member := range members {
		parts := strings.SplitN(member, "|", 2)
		body, derr := base64.StdEncoding.DecodeString(parts[0])
		if derr != nil {
			r.log.WithError(derr).Warnf("dropping malformed scheduled member on %s", queueName)
			r.client.ZRem(ctx, setKey, member)
			continue
		}
		if err := r.addToStream(ctx, queueName, body, 0); err != nil {
			return moved, err
		}
		r.client.ZRem(ctx, setKey, member)
		moved++
	}
	return moved, nil
}

func (r *redisProvider) addToStream(ctx context.Context, queueName string, body []byte, retries int) error {
	return r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: queueName,
		Values: map[string]interface{}{"body": string(body), "retries": retries},
	}).Err()
}

func groupFor(queueName string) string {
	return fmt.Sprintf("%s:%s", queueName, consumerGroupName)
}

func parseFailedMember(member string) ([]byte, int, error) {
	parts := strings.SplitN(member, "|", 2)
	if len(parts) != 2 {
		return nil, 0, fmt.Errorf("expected 2 fields, got %d", len(parts))
	}
	body, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, 0, err
	}
	count, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, 0, err
	}
	return body, count, nil
}

// backoffDelay returns base * 2^(n-1) with up to 20% jitter, capped at max.
func backoffDelay(config RetryConfig, retryCount int) time.Duration {
	d := time.Duration(float64(config.BaseDelay) * math.Pow(2, float64(retryCount-1)))
	if d > config.MaxDelay {
		d = config.MaxDelay
	}
	jitter := 1 + 0.2*(rand.Float64()*2-1)
	return time.Duration(float64(d) * jitter)
}

type redisConsumer struct {
	provider  *redisProvider
	name      string
	queueName string
	closed    atomic.Bool

	mu            sync.Mutex
	inFlightTries map[string]int
}

func (c *redisConsumer) Consume(ctx context.Context, handler ConsumeHandler) error {
	if c.closed.Load() {
		return errors.New("consumer is closed")
	}
	c.provider.wg.Add(1)
	go c.loop(ctx, handler)
	return nil
}

func (c *redisConsumer) loop(ctx context.Context, handler ConsumeHandler) {
	defer c.provider.wg.Done()
	for {
		if c.closed.Load() || ctx.Err() != nil {
			return
		}
		streams, err := c.provider.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    groupFor(c.queueName),
			Consumer: c.name,
			Streams:  []string{c.queueName, ">"},
			Count:    1,
			Block:    readBlockInterval,
		}).Result()
		if err != nil {
			if err == redis.Nil || errors.Is(err, context.Canceled) {
				continue
			}
			if c.closed.Load() || ctx.Err() != nil {
				return
			}
			c.provider.log.WithError(err).Error("failed reading from queue")
			time.Sleep(time.Second)
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				c.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (c *redisConsumer) handleMessage(ctx context.Context, msg redis.XMessage, handler ConsumeHandler) {
	body, _ := msg.Values["body"].(string)
	retries := 0
	if rv, ok := msg.Values["retries"].(string); ok {
		retries, _ = strconv.Atoi(rv)
	}
	c.mu.Lock()
	c.inFlightTries[msg.ID] = retries
	c.mu.Unlock()

	log := skylog.WithReqID(reqid.NextRequestID(), c.provider.log)
	if err := handler(ctx, []byte(body), msg.ID, c, log); err != nil {
		log.WithError(err).Errorf("failed handling message %s on %s", msg.ID, c.queueName)
	}
}

// Complete acknowledges the message. Failed messages are parked in the failed
// sorted set with exponential backoff; the message is always removed from the
// stream so redelivery happens only through the retry path.
func (c *redisConsumer) Complete(ctx context.Context, entryID string, body []byte, processingErr error) error {
	c.mu.Lock()
	retries := c.inFlightTries[entryID]
	delete(c.inFlightTries, entryID)
	c.mu.Unlock()

	if processingErr != nil {
		nextTry := retries + 1
		delay := backoffDelay(c.provider.retryConfig, nextTry)
		member := fmt.Sprintf("%s|%d", base64.StdEncoding.EncodeToString(body), nextTry)
		setKey := fmt.Sprintf("%s:%s", failedSetPrefix, c.queueName)
		if err := c.provider.client.ZAdd(ctx, setKey, redis.Z{
			Score:  float64(time.Now().Add(delay).UnixMilli()),
			Member: member,
		}).Err(); err != nil {
			return fmt.Errorf("failed parking message for retry: %w", err)
		}
	}

	if err := c.provider.client.XAck(ctx, c.queueName, groupFor(c.queueName), entryID).Err(); err != nil {
		return fmt.Errorf("failed acking message: %w", err)
	}
	return c.provider.client.XDel(ctx, c.queueName, entryID).Err()
}

func (c *redisConsumer) Close() {
	c.closed.Store(true)
}

type redisPublisher struct {
	provider  *redisProvider
	queueName string
	closed    atomic.Bool
}

func (p *redisPublisher) Publish(ctx context.Context, payload []byte) error {
	if p.closed.Load() {
		return errors.New("publisher is closed")
	}
	return p.provider.addToStream(ctx, p.queueName, payload, 0)
}

func (p *redisPublisher) PublishAfter(ctx context.Context, payload []byte, delay time.Duration) error {
	if p.closed.Load() {
		return errors.New("publisher is closed")
	}
	if delay <= 0 {
		return p.Publish(ctx, payload)
	}
	setKey := fmt.Sprintf("%s:%s", scheduledSetPrefix, p.queueName)
	member := fmt.Sprintf("%s|%s", base64.StdEncoding.EncodeToString(payload), uuid.NewString())
	return p.provider.client.ZAdd(ctx, setKey, redis.Z{
		Score:  float64(time.Now().Add(delay).UnixMilli()),
		Member: member,
	}).Err()
}

func (p *redisPublisher) Close() {
	p.closed.Store(true)
}
