// Package worker_client enqueues background tasks for the worker process.
package worker_client

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/skylinezone/skyctl/internal/tasks"
	"github.com/skylinezone/skyctl/pkg/queues"
)

type Client struct {
	publisher queues.Publisher
	log       logrus.FieldLogger
}

func New(ctx context.Context, provider queues.Provider, log logrus.FieldLogger) (*Client, error) {
	publisher, err := provider.NewPublisher(ctx, tasks.QueueName)
	if err != nil {
		return nil, err
	}
	return &Client{publisher: publisher, log: log}, nil
}

// NewWithPublisher wires the client to an already created publisher.
func NewWithPublisher(publisher queues.Publisher, log logrus.FieldLogger) *Client {
	return &Client{publisher: publisher, log: log}
}

func (c *Client) Close() {
	c.publisher.Close()
}

func (c *Client) CompileIndex(ctx context.Context, scope string) error {
	return c.publish(ctx, &tasks.Payload{
		TaskName: tasks.TaskCompileIndex,
		Scope:    scope,
	}, 0)
}

func (c *Client) SendBulkNotification(ctx context.Context, alertID, ruleID uuid.UUID, delay time.Duration) error {
	return c.publish(ctx, &tasks.Payload{
		TaskName: tasks.TaskSendBulkNotification,
		AlertID:  alertID,
		RuleID:   ruleID,
	}, delay)
}

func (c *Client) PlaylistSync(ctx context.Context, deviceID, playlistID uuid.UUID, version int64) error {
	return c.publish(ctx, &tasks.Payload{
		TaskName:   tasks.TaskPlaylistSync,
		DeviceID:   deviceID,
		PlaylistID: playlistID,
		Version:    version,
	}, 0)
}

func (c *Client) publish(ctx context.Context, payload *tasks.Payload, delay time.Duration) error {
	body, err := payload.Marshal()
	if err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{
		"task":  payload.TaskName,
		"delay": delay.String(),
	}).Debug("enqueueing task")
	if delay > 0 {
		return c.publisher.PublishAfter(ctx, body, delay)
	}
	return c.publisher.Publish(ctx, body)
}
