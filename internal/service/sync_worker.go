package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/skylinezone/skyctl/internal/instrumentation"
	"github.com/skylinezone/skyctl/internal/skzerrors"
	"github.com/skylinezone/skyctl/internal/tasks"

	api "github.com/skylinezone/skyctl/internal/api/v1"
)

// DeliverPlaylistSync is the worker-side handler for one queued sync task: it
// composes the playlist, pushes it to the device agent, and records the
// outcome on the sync row. A returned error sends the task through the
// queue's retry backoff.
func (h *ServiceHandler) DeliverPlaylistSync(ctx context.Context, deviceID, playlistID uuid.UUID, version int64) error {
	log := h.log.WithFields(logrus.Fields{
		"device_id":   deviceID,
		"playlist_id": playlistID,
		"version":     version,
	})

	playlist, err := h.store.Playlist().Get(ctx, playlistID)
	if errors.Is(err, skzerrors.ErrNotFound) {
		log.Info("playlist deleted before sync, dropping task")
		return nil
	}
	if err != nil {
		return err
	}
	if playlist.Version > version {
		// a newer version was queued behind this task; deliver current content
		version = playlist.Version
	}

	if err := h.store.Sync().MarkSyncing(ctx, deviceID, playlistID); err != nil {
		return err
	}
	device, err := h.store.Device().Get(ctx, deviceID)
	if err != nil {
		return err
	}
	composed, err := h.composePlaylist(ctx, playlistID)
	if err != nil {
		return err
	}

	if err := h.proxy.PushPlaylist(ctx, device.IP, composed); err != nil {
		if markErr := h.store.Sync().MarkFailed(ctx, deviceID, playlistID, err.Error()); markErr != nil {
			log.WithError(markErr).Error("recording sync failure")
		}
		instrumentation.SyncPushes.WithLabelValues("failed").Inc()
		return err
	}

	if err := h.store.Sync().MarkSynced(ctx, deviceID, playlistID, version); err != nil {
		return err
	}
	instrumentation.SyncPushes.WithLabelValues("synced").Inc()
	log.Info("playlist delivered to device")

	return h.refreshPlaylistAggregate(ctx, playlistID, version)
}

// refreshPlaylistAggregate recomputes the playlist's summary sync status after
// a device outcome lands.
func (h *ServiceHandler) refreshPlaylistAggregate(ctx context.Context, playlistID uuid.UUID, version int64) error {
	rows, err := h.store.Sync().ListByPlaylist(ctx, playlistID)
	if err != nil {
		return err
	}
	allSynced := len(rows) > 0
	anyFailed := false
	for i := range rows {
		if rows[i].State == string(api.SyncStateFailed) {
			anyFailed = true
		}
		if rows[i].State != string(api.SyncStateSynced) ||
			rows[i].SyncedVersion == nil || *rows[i].SyncedVersion < version {
			allSynced = false
		}
	}
	switch {
	case anyFailed:
		return h.store.Playlist().UpdateSyncStatus(ctx, playlistID, api.PlaylistSyncError)
	case allSynced:
		return h.store.Playlist().UpdateSyncStatus(ctx, playlistID, api.PlaylistInSync)
	default:
		return nil
	}
}

// AbandonTask records a terminal failure for a task whose retry budget is
// exhausted, so no sync row or alert log is left in a transient state.
func (h *ServiceHandler) AbandonTask(ctx context.Context, task *tasks.Payload, reason string) {
	log := h.log.WithField("task", task.TaskName)
	switch task.TaskName {
	case tasks.TaskPlaylistSync:
		err := h.store.Sync().MarkFailed(ctx, task.DeviceID, task.PlaylistID, reason)
		if errors.Is(err, skzerrors.ErrNotFound) {
			return
		}
		if err != nil {
			log.WithError(err).Error("recording abandoned sync task")
			return
		}
		instrumentation.SyncPushes.WithLabelValues("failed").Inc()
		if err := h.refreshPlaylistAggregate(ctx, task.PlaylistID, task.Version); err != nil {
			log.WithError(err).Error("refreshing playlist sync status")
		}
	case tasks.TaskSendBulkNotification:
		h.abandonBulkNotification(ctx, task, reason, log)
	case tasks.TaskCompileIndex:
		instrumentation.CompilesRun.WithLabelValues("failed").Inc()
		log.WithField("scope", task.Scope).Error("compile task abandoned")
	}
}

// abandonBulkNotification writes a failed audit row for every recipient the
// scheduled rule never reached.
func (h *ServiceHandler) abandonBulkNotification(ctx context.Context, task *tasks.Payload, reason string, log logrus.FieldLogger) {
	ruleRow, err := h.store.Notification().GetRule(ctx, task.RuleID)
	if errors.Is(err, skzerrors.ErrNotFound) {
		return
	}
	if err != nil {
		log.WithError(err).Error("loading rule for abandoned notification task")
		return
	}
	rule, err := ruleRow.ToAPI()
	if err != nil {
		log.WithError(err).Error("decoding rule for abandoned notification task")
		return
	}
	for _, recipient := range rule.Recipients.ForChannel(rule.Channel) {
		already, err := h.store.Notification().SentExists(ctx, task.AlertID, rule.Channel, recipient)
		if err != nil || already {
			continue
		}
		h.appendLog(ctx, task.AlertID, rule.Channel, recipient, api.DeliveryStatusFailed, reason, nil)
		instrumentation.NotificationsSent.WithLabelValues(string(rule.Channel), "failed").Inc()
	}
}

// RunCompile is the worker-side handler for a queued compile. An empty scope
// is terminal, not retryable.
func (h *ServiceHandler) RunCompile(ctx context.Context, scope string) error {
	_, err := h.compiler.Compile(ctx, scope)
	if errors.Is(err, skzerrors.ErrEmptyScope) {
		instrumentation.CompilesRun.WithLabelValues("empty").Inc()
		h.log.WithField("scope", scope).Warn("compile requested for empty scope")
		return nil
	}
	if err != nil {
		instrumentation.CompilesRun.WithLabelValues("failed").Inc()
		return err
	}
	instrumentation.CompilesRun.WithLabelValues("compiled").Inc()
	return nil
}
