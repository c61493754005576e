package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/skylinezone/skyctl/internal/instrumentation"
	"github.com/skylinezone/skyctl/internal/skzerrors"
	"github.com/skylinezone/skyctl/internal/store/model"

	api "github.com/skylinezone/skyctl/internal/api/v1"
)

var loopModes = map[api.LoopMode]bool{
	api.LoopModeContinuous: true,
	api.LoopModePlayOnce:   true,
	api.LoopModeScheduled:  true,
}

var playlistTriggerTypes = map[api.PlaylistTriggerType]bool{
	api.PlaylistTriggerTime:   true,
	api.PlaylistTriggerEvent:  true,
	api.PlaylistTriggerManual: true,
}

func (h *ServiceHandler) CreatePlaylist(ctx context.Context, p api.Playlist) (*api.Playlist, error) {
	if p.Name == "" {
		return nil, skzerrors.InvalidInputf("playlist name is required")
	}
	if !loopModes[p.LoopMode] {
		return nil, skzerrors.InvalidInputf("unknown loop mode %q", p.LoopMode)
	}
	if !playlistTriggerTypes[p.TriggerType] {
		return nil, skzerrors.InvalidInputf("unknown playlist trigger type %q", p.TriggerType)
	}
	if _, err := h.store.Tenant().Get(ctx, p.TenantID); err != nil {
		return nil, err
	}

	playlist, err := h.store.Playlist().Create(ctx, &model.Playlist{
		TenantID:    p.TenantID,
		Name:        p.Name,
		Description: p.Description,
		TriggerType: string(p.TriggerType),
		LoopMode:    string(p.LoopMode),
		Priority:    p.Priority,
		StartAt:     p.StartAt,
		EndAt:       p.EndAt,
		IsActive:    p.IsActive,
	})
	if err != nil {
		return nil, err
	}
	out := playlist.ToAPI()
	return &out, nil
}

func (h *ServiceHandler) GetPlaylist(ctx context.Context, id uuid.UUID) (*api.Playlist, error) {
	playlist, err := h.store.Playlist().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	out := playlist.ToAPI()
	return &out, nil
}

func (h *ServiceHandler) ListPlaylists(ctx context.Context, tenantID uuid.UUID) ([]api.Playlist, error) {
	playlists, err := h.store.Playlist().List(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]api.Playlist, 0, len(playlists))
	for i := range playlists {
		out = append(out, playlists[i].ToAPI())
	}
	return out, nil
}

// --- items ---

func (h *ServiceHandler) ListPlaylistItems(ctx context.Context, playlistID uuid.UUID) ([]api.PlaylistItem, error) {
	if _, err := h.store.Playlist().Get(ctx, playlistID); err != nil {
		return nil, err
	}
	items, err := h.store.Playlist().ListItems(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	out := make([]api.PlaylistItem, 0, len(items))
	for i := range items {
		out = append(out, items[i].ToAPI())
	}
	return out, nil
}

func (h *ServiceHandler) AddPlaylistItem(ctx context.Context, playlistID uuid.UUID, ref api.ContentRef, durationOverride *int) (*api.PlaylistItem, error) {
	if err := ref.Validate(); err != nil {
		return nil, skzerrors.InvalidInputf("%s", err.Error())
	}
	if durationOverride != nil && *durationOverride <= 0 {
		return nil, skzerrors.InvalidInputf("duration override must be positive")
	}
	if _, err := h.store.Playlist().Get(ctx, playlistID); err != nil {
		return nil, err
	}
	if ref.Kind == api.ContentRefLocal {
		if _, err := h.store.Playlist().GetContent(ctx, ref.ID); err != nil {
			return nil, err
		}
	}

	item, err := h.store.Playlist().AddItem(ctx, &model.PlaylistItem{
		PlaylistID:       playlistID,
		ContentKind:      string(ref.Kind),
		ContentID:        ref.ID,
		DurationOverride: durationOverride,
	})
	if err != nil {
		return nil, err
	}
	if err := h.notifyAssignedDevices(ctx, playlistID); err != nil {
		return nil, err
	}
	out := item.ToAPI()
	return &out, nil
}

func (h *ServiceHandler) RemovePlaylistItem(ctx context.Context, playlistID, itemID uuid.UUID) error {
	if err := h.store.Playlist().RemoveItem(ctx, playlistID, itemID); err != nil {
		return err
	}
	return h.notifyAssignedDevices(ctx, playlistID)
}

func (h *ServiceHandler) ReorderPlaylistItems(ctx context.Context, playlistID uuid.UUID, orderedItemIDs []uuid.UUID) error {
	if err := h.store.Playlist().ReorderItems(ctx, playlistID, orderedItemIDs); err != nil {
		return err
	}
	return h.notifyAssignedDevices(ctx, playlistID)
}

func (h *ServiceHandler) UpdatePlaylistItemDuration(ctx context.Context, playlistID, itemID uuid.UUID, durationSec *int) error {
	if durationSec != nil && *durationSec <= 0 {
		return skzerrors.InvalidInputf("duration override must be positive")
	}
	if err := h.store.Playlist().UpdateItemDuration(ctx, playlistID, itemID, durationSec); err != nil {
		return err
	}
	return h.notifyAssignedDevices(ctx, playlistID)
}

// notifyAssignedDevices bumps every assigned device's pending sync version so
// their next poll picks up the mutation.
func (h *ServiceHandler) notifyAssignedDevices(ctx context.Context, playlistID uuid.UUID) error {
	assignments, err := h.store.Playlist().ListAssignmentsByPlaylist(ctx, playlistID)
	if err != nil {
		return err
	}
	deviceIDs := lo.Uniq(lo.Map(assignments, func(a model.DevicePlaylistAssignment, _ int) uuid.UUID {
		return a.DeviceID
	}))
	for _, deviceID := range deviceIDs {
		if err := h.store.Device().BumpPendingSyncVersion(ctx, deviceID); err != nil {
			return err
		}
	}
	return nil
}

// --- sync dispatch ---

// PushPlaylist enqueues delivery of the playlist's current version to every
// assigned device that is not already on it. Devices already current are
// counted, not re-sent.
func (h *ServiceHandler) PushPlaylist(ctx context.Context, playlistID uuid.UUID) (*api.PushResponse, error) {
	playlist, err := h.store.Playlist().Get(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	assignments, err := h.store.Playlist().ListAssignmentsByPlaylist(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	deviceIDs := lo.Uniq(lo.Map(assignments, func(a model.DevicePlaylistAssignment, _ int) uuid.UUID {
		return a.DeviceID
	}))

	resp := &api.PushResponse{DeviceCount: len(deviceIDs), Version: playlist.Version}
	enqueued := 0
	for _, deviceID := range deviceIDs {
		row, err := h.store.Sync().Upsert(ctx, deviceID, playlistID)
		if err != nil {
			return nil, err
		}
		if row.State == string(api.SyncStateSynced) &&
			row.SyncedVersion != nil && *row.SyncedVersion >= playlist.Version {
			resp.Synced++
			continue
		}
		if err := h.worker.PlaylistSync(ctx, deviceID, playlistID, playlist.Version); err != nil {
			return nil, err
		}
		enqueued++
	}

	if enqueued > 0 {
		if err := h.store.Playlist().UpdateSyncStatus(ctx, playlistID, api.PlaylistSyncing); err != nil {
			return nil, err
		}
	} else if len(deviceIDs) > 0 && resp.Synced == len(deviceIDs) {
		if err := h.store.Playlist().UpdateSyncStatus(ctx, playlistID, api.PlaylistInSync); err != nil {
			return nil, err
		}
	}
	instrumentation.SyncPushes.WithLabelValues("enqueued").Add(float64(enqueued))
	return resp, nil
}

// PlaylistSyncStatus aggregates per-device sync state for the playlist's
// current version. A device counts as synced only when its state is synced
// AND its synced version has reached the playlist version; untracked devices
// count as pending.
func (h *ServiceHandler) PlaylistSyncStatus(ctx context.Context, playlistID uuid.UUID) (*api.SyncStatusResponse, error) {
	playlist, err := h.store.Playlist().Get(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	assignments, err := h.store.Playlist().ListAssignmentsByPlaylist(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	deviceIDs := lo.Uniq(lo.Map(assignments, func(a model.DevicePlaylistAssignment, _ int) uuid.UUID {
		return a.DeviceID
	}))
	rows, err := h.store.Sync().ListByPlaylist(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	byDevice := lo.KeyBy(rows, func(r model.DevicePlaylistSync) uuid.UUID { return r.DeviceID })

	resp := &api.SyncStatusResponse{
		Version:     playlist.Version,
		DeviceCount: len(deviceIDs),
	}
	var lastSynced *time.Time
	syncing := false
	for _, deviceID := range deviceIDs {
		row, tracked := byDevice[deviceID]
		if !tracked {
			resp.PendingCount++
			resp.Devices = append(resp.Devices, api.DeviceSyncInfo{
				DeviceID: deviceID,
				State:    api.SyncStatePending,
			})
			continue
		}
		info := row.ToAPI()
		resp.Devices = append(resp.Devices, info)
		switch {
		case row.State == string(api.SyncStateSynced) &&
			row.SyncedVersion != nil && *row.SyncedVersion >= playlist.Version:
			resp.SyncedCount++
			if row.LastSuccess != nil && (lastSynced == nil || row.LastSuccess.After(*lastSynced)) {
				lastSynced = row.LastSuccess
			}
		case row.State == string(api.SyncStateFailed):
			resp.FailedCount++
		case row.State == string(api.SyncStateSyncing) || row.State == string(api.SyncStateQueued):
			syncing = true
			resp.PendingCount++
		default:
			resp.PendingCount++
		}
	}
	resp.LastSyncedAt = lastSynced

	switch {
	case resp.FailedCount > 0:
		resp.AggregateStatus = api.PlaylistSyncError
	case resp.DeviceCount > 0 && resp.SyncedCount == resp.DeviceCount:
		resp.AggregateStatus = api.PlaylistInSync
	case syncing:
		resp.AggregateStatus = api.PlaylistSyncing
	default:
		resp.AggregateStatus = api.PlaylistSyncPending
	}
	return resp, nil
}
