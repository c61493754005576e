// Package worker_server consumes the task queue and runs background work:
// index compilation, playlist delivery, and scheduled notifications.
package worker_server

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/skylinezone/skyctl/internal/config"
	"github.com/skylinezone/skyctl/internal/service"
	"github.com/skylinezone/skyctl/internal/tasks"
	"github.com/skylinezone/skyctl/pkg/queues"
	"github.com/skylinezone/skyctl/pkg/thread"
)

const (
	queueMaintenanceInterval = 30 * time.Second

	// taskTimeout is the hard deadline for delivery and notification tasks.
	// Compiles get a longer budget with a warning at the soft limit.
	taskTimeout      = 2 * time.Minute
	compileSoftLimit = 55 * time.Minute
	compileHardLimit = time.Hour
)

type Server struct {
	cfg      *config.Config
	log      logrus.FieldLogger
	svc      *service.ServiceHandler
	provider queues.Provider
}

func New(cfg *config.Config, log logrus.FieldLogger, svc *service.ServiceHandler, provider queues.Provider) *Server {
	return &Server{
		cfg:      cfg,
		log:      log,
		svc:      svc,
		provider: provider,
	}
}

// Run consumes tasks until the context is canceled. It also owns the queue
// maintenance thread (retry backoff and scheduled-message promotion) and the
// device liveness sweep.
func (s *Server) Run(ctx context.Context) error {
	consumer, err := s.provider.NewConsumer(ctx, tasks.QueueName)
	if err != nil {
		return fmt.Errorf("creating task consumer: %w", err)
	}
	defer consumer.Close()

	maintenance := thread.New(ctx, s.log, "Queue maintenance", queueMaintenanceInterval, s.maintainQueue)
	maintenance.Start()
	defer maintenance.Stop()

	liveness := thread.New(ctx, s.log, "Device liveness sweep", time.Minute, s.svc.SweepOfflineDevices)
	liveness.Start()
	defer liveness.Stop()

	if err := consumer.Consume(ctx, s.handleMessage); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func (s *Server) handleMessage(ctx context.Context, payload []byte, entryID string, consumer queues.Consumer, log logrus.FieldLogger) error {
	taskErr := s.dispatch(ctx, payload, log)
	if err := consumer.Complete(ctx, entryID, payload, taskErr); err != nil {
		log.WithError(err).Error("completing task message")
	}
	return taskErr
}

func (s *Server) dispatch(ctx context.Context, payload []byte, log logrus.FieldLogger) error {
	task, err := tasks.Unmarshal(payload)
	if err != nil {
		// malformed payloads can never succeed; drop instead of retrying
		log.WithError(err).Error("dropping malformed task payload")
		return nil
	}
	log = log.WithField("task", task.TaskName)
	log.Debug("processing task")

	timeout := taskTimeout
	if task.TaskName == tasks.TaskCompileIndex {
		timeout = compileHardLimit
		softTimer := time.AfterFunc(compileSoftLimit, func() {
			log.Warn("compile task exceeded its soft time limit")
		})
		defer softTimer.Stop()
	}
	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch task.TaskName {
	case tasks.TaskCompileIndex:
		return s.svc.RunCompile(taskCtx, task.Scope)
	case tasks.TaskSendBulkNotification:
		return s.svc.DeliverBulkNotification(taskCtx, task.AlertID, task.RuleID)
	case tasks.TaskPlaylistSync:
		return s.svc.DeliverPlaylistSync(taskCtx, task.DeviceID, task.PlaylistID, task.Version)
	default:
		log.Error("dropping task with unknown name")
		return nil
	}
}

func (s *Server) maintainQueue(ctx context.Context) {
	retryConfig := queues.RetryConfig{
		MaxRetries: s.cfg.Notifications.MaxRetries,
		BaseDelay:  s.cfg.Notifications.RetryBackoffBase,
		MaxDelay:   30 * time.Minute,
	}
	retried, err := s.provider.RetryFailedMessages(ctx, tasks.QueueName, retryConfig, func(body []byte, retryCount int) {
		if retryCount >= 0 {
			return
		}
		task, err := tasks.Unmarshal(body)
		if err != nil {
			s.log.WithError(err).Error("decoding abandoned task")
			return
		}
		s.log.WithField("task", task.TaskName).Error("task exhausted its retry budget")
		s.svc.AbandonTask(ctx, task, "retry budget exhausted")
	})
	if err != nil {
		s.log.WithError(err).Error("retrying failed tasks")
	} else if retried > 0 {
		s.log.WithField("count", retried).Info("re-enqueued failed tasks")
	}

	promoted, err := s.provider.ProcessScheduledMessages(ctx, tasks.QueueName)
	if err != nil {
		s.log.WithError(err).Error("promoting scheduled tasks")
	} else if promoted > 0 {
		s.log.WithField("count", promoted).Info("promoted scheduled tasks")
	}
}
