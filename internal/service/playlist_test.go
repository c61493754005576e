package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylinezone/skyctl/internal/skzerrors"
	"github.com/skylinezone/skyctl/internal/tasks"

	api "github.com/skylinezone/skyctl/internal/api/v1"
)

func (h *testHarness) createPlaylist(t *testing.T, tenantID uuid.UUID, name string) *api.Playlist {
	t.Helper()
	playlist, err := h.svc.CreatePlaylist(context.Background(), api.Playlist{
		TenantID:    tenantID,
		Name:        name,
		TriggerType: api.PlaylistTriggerManual,
		LoopMode:    api.LoopModeContinuous,
		IsActive:    true,
	})
	require.NoError(t, err)
	return playlist
}

func (h *testHarness) assignDefault(t *testing.T, deviceID, playlistID uuid.UUID) *api.PlaylistAssignment {
	t.Helper()
	assignment, err := h.svc.AssignPlaylist(context.Background(), deviceID, api.AssignPlaylistRequest{
		PlaylistID:  playlistID,
		TriggerType: api.TriggerDefault,
	})
	require.NoError(t, err)
	return assignment
}

func TestCreatePlaylistValidation(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	tenant := h.createTenant(t, "acme")

	_, err := h.svc.CreatePlaylist(ctx, api.Playlist{TenantID: tenant.ID, LoopMode: api.LoopModeContinuous, TriggerType: api.PlaylistTriggerManual})
	assert.ErrorIs(t, err, skzerrors.ErrInvalidInput)

	_, err = h.svc.CreatePlaylist(ctx, api.Playlist{TenantID: tenant.ID, Name: "p", LoopMode: "bounce", TriggerType: api.PlaylistTriggerManual})
	assert.ErrorIs(t, err, skzerrors.ErrInvalidInput)

	_, err = h.svc.CreatePlaylist(ctx, api.Playlist{TenantID: tenant.ID, Name: "p", LoopMode: api.LoopModeContinuous, TriggerType: "motion"})
	assert.ErrorIs(t, err, skzerrors.ErrInvalidInput)

	_, err = h.svc.CreatePlaylist(ctx, api.Playlist{TenantID: uuid.New(), Name: "p", LoopMode: api.LoopModeContinuous, TriggerType: api.PlaylistTriggerManual})
	assert.ErrorIs(t, err, skzerrors.ErrNotFound)

	playlist := h.createPlaylist(t, tenant.ID, "promos")
	assert.EqualValues(t, 1, playlist.Version)
	assert.Equal(t, api.PlaylistSyncPending, playlist.SyncStatus)
}

func TestAssignPlaylistEnablement(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	tenant := h.createTenant(t, "acme")
	playlist := h.createPlaylist(t, tenant.ID, "promos")
	device := h.registerDirectDevice(t, "hw-tv-1")

	_, err := h.svc.AssignPlaylist(ctx, device.ID, api.AssignPlaylistRequest{
		PlaylistID:  playlist.ID,
		TriggerType: "motion_detected",
	})
	assert.ErrorIs(t, err, skzerrors.ErrInvalidInput)

	byDefault := h.assignDefault(t, device.ID, playlist.ID)
	assert.True(t, byDefault.IsEnabled)

	// audience triggers start disabled until switched on
	loyalty, err := h.svc.AssignPlaylist(ctx, device.ID, api.AssignPlaylistRequest{
		PlaylistID:  playlist.ID,
		TriggerType: api.TriggerLoyaltyRecognized,
	})
	require.NoError(t, err)
	assert.False(t, loyalty.IsEnabled)

	toggled, err := h.svc.ToggleAssignment(ctx, loyalty.ID)
	require.NoError(t, err)
	assert.True(t, toggled.IsEnabled)

	assignments, err := h.svc.ListDeviceAssignments(ctx, device.ID)
	require.NoError(t, err)
	assert.Len(t, assignments, 2)
}

func TestItemMutationsBumpVersionAndNotifyDevices(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	tenant := h.createTenant(t, "acme")
	playlist := h.createPlaylist(t, tenant.ID, "promos")
	device := h.registerDirectDevice(t, "hw-tv-1")
	h.assignDefault(t, device.ID, playlist.ID)

	before, err := h.svc.GetDevice(ctx, device.ID)
	require.NoError(t, err)

	item, err := h.svc.AddPlaylistItem(ctx, playlist.ID,
		api.ContentRef{Kind: api.ContentRefCatalog, ID: uuid.New()}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, item.Position)

	updated, err := h.svc.GetPlaylist(ctx, playlist.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, updated.Version)
	assert.Equal(t, api.PlaylistSyncPending, updated.SyncStatus)

	after, err := h.svc.GetDevice(ctx, device.ID)
	require.NoError(t, err)
	assert.Greater(t, after.PendingSyncVersion, before.PendingSyncVersion)

	second, err := h.svc.AddPlaylistItem(ctx, playlist.ID,
		api.ContentRef{Kind: api.ContentRefCatalog, ID: uuid.New()}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Position)

	require.NoError(t, h.svc.ReorderPlaylistItems(ctx, playlist.ID, []uuid.UUID{second.ID, item.ID}))
	items, err := h.svc.ListPlaylistItems(ctx, playlist.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, second.ID, items[0].ID)
	assert.Equal(t, item.ID, items[1].ID)

	// removing closes the position gap
	require.NoError(t, h.svc.RemovePlaylistItem(ctx, playlist.ID, second.ID))
	items, err = h.svc.ListPlaylistItems(ctx, playlist.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 0, items[0].Position)

	final, err := h.svc.GetPlaylist(ctx, playlist.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 5, final.Version)
}

func TestAddPlaylistItemValidation(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	tenant := h.createTenant(t, "acme")
	playlist := h.createPlaylist(t, tenant.ID, "promos")

	_, err := h.svc.AddPlaylistItem(ctx, playlist.ID, api.ContentRef{Kind: "remote", ID: uuid.New()}, nil)
	assert.ErrorIs(t, err, skzerrors.ErrInvalidInput)

	zero := 0
	_, err = h.svc.AddPlaylistItem(ctx, playlist.ID, api.ContentRef{Kind: api.ContentRefCatalog, ID: uuid.New()}, &zero)
	assert.ErrorIs(t, err, skzerrors.ErrInvalidInput)

	// local refs must resolve to stored content
	_, err = h.svc.AddPlaylistItem(ctx, playlist.ID, api.ContentRef{Kind: api.ContentRefLocal, ID: uuid.New()}, nil)
	assert.ErrorIs(t, err, skzerrors.ErrNotFound)
}

func TestPushPlaylistEnqueuesSyncTasks(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	tenant := h.createTenant(t, "acme")
	playlist := h.createPlaylist(t, tenant.ID, "promos")
	first := h.registerDirectDevice(t, "hw-tv-1")
	second := h.registerDirectDevice(t, "hw-tv-2")
	h.assignDefault(t, first.ID, playlist.ID)
	h.assignDefault(t, second.ID, playlist.ID)

	resp, err := h.svc.PushPlaylist(ctx, playlist.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, resp.DeviceCount)
	assert.Equal(t, 0, resp.Synced)
	assert.EqualValues(t, 1, resp.Version)

	published := h.publisher.tasks()
	require.Len(t, published, 2)
	for _, task := range published {
		assert.Equal(t, tasks.TaskPlaylistSync, task.payload.TaskName)
		assert.Equal(t, playlist.ID, task.payload.PlaylistID)
		assert.EqualValues(t, 1, task.payload.Version)
	}

	current, err := h.svc.GetPlaylist(ctx, playlist.ID)
	require.NoError(t, err)
	assert.Equal(t, api.PlaylistSyncing, current.SyncStatus)
}

func TestPushPlaylistSkipsDevicesAlreadyCurrent(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	tenant := h.createTenant(t, "acme")
	playlist := h.createPlaylist(t, tenant.ID, "promos")
	first := h.registerDirectDevice(t, "hw-tv-1")
	second := h.registerDirectDevice(t, "hw-tv-2")
	h.assignDefault(t, first.ID, playlist.ID)
	h.assignDefault(t, second.ID, playlist.ID)

	require.NoError(t, h.store.Sync().MarkSynced(ctx, first.ID, playlist.ID, 1))

	resp, err := h.svc.PushPlaylist(ctx, playlist.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, resp.DeviceCount)
	assert.Equal(t, 1, resp.Synced)
	assert.Len(t, h.publisher.tasks(), 1)

	// once everyone is current a push is a no-op and settles the aggregate
	require.NoError(t, h.store.Sync().MarkSynced(ctx, second.ID, playlist.ID, 1))
	resp, err = h.svc.PushPlaylist(ctx, playlist.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Synced)
	assert.Len(t, h.publisher.tasks(), 1)

	current, err := h.svc.GetPlaylist(ctx, playlist.ID)
	require.NoError(t, err)
	assert.Equal(t, api.PlaylistInSync, current.SyncStatus)
}

func TestPlaylistSyncStatusAggregation(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	tenant := h.createTenant(t, "acme")
	playlist := h.createPlaylist(t, tenant.ID, "promos")
	first := h.registerDirectDevice(t, "hw-tv-1")
	second := h.registerDirectDevice(t, "hw-tv-2")
	third := h.registerDirectDevice(t, "hw-tv-3")
	h.assignDefault(t, first.ID, playlist.ID)
	h.assignDefault(t, second.ID, playlist.ID)
	h.assignDefault(t, third.ID, playlist.ID)

	status, err := h.svc.PlaylistSyncStatus(ctx, playlist.ID)
	require.NoError(t, err)
	assert.Equal(t, api.PlaylistSyncPending, status.AggregateStatus)
	assert.Equal(t, 3, status.DeviceCount)
	assert.Equal(t, 3, status.PendingCount)

	require.NoError(t, h.store.Sync().MarkSynced(ctx, first.ID, playlist.ID, 1))
	require.NoError(t, h.store.Sync().MarkSyncing(ctx, second.ID, playlist.ID))

	status, err = h.svc.PlaylistSyncStatus(ctx, playlist.ID)
	require.NoError(t, err)
	assert.Equal(t, api.PlaylistSyncing, status.AggregateStatus)
	assert.Equal(t, 1, status.SyncedCount)
	assert.Equal(t, 2, status.PendingCount)
	assert.NotNil(t, status.LastSyncedAt)

	// one failure dominates the aggregate
	require.NoError(t, h.store.Sync().MarkFailed(ctx, second.ID, playlist.ID, "agent unreachable"))
	status, err = h.svc.PlaylistSyncStatus(ctx, playlist.ID)
	require.NoError(t, err)
	assert.Equal(t, api.PlaylistSyncError, status.AggregateStatus)
	assert.Equal(t, 1, status.FailedCount)

	// all synced at the current version
	require.NoError(t, h.store.Sync().MarkSynced(ctx, second.ID, playlist.ID, 1))
	require.NoError(t, h.store.Sync().MarkSynced(ctx, third.ID, playlist.ID, 1))
	status, err = h.svc.PlaylistSyncStatus(ctx, playlist.ID)
	require.NoError(t, err)
	assert.Equal(t, api.PlaylistInSync, status.AggregateStatus)
	assert.Equal(t, 3, status.SyncedCount)
}

func TestPlaylistSyncStatusStaleVersionCountsPending(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	tenant := h.createTenant(t, "acme")
	playlist := h.createPlaylist(t, tenant.ID, "promos")
	device := h.registerDirectDevice(t, "hw-tv-1")
	h.assignDefault(t, device.ID, playlist.ID)

	require.NoError(t, h.store.Sync().MarkSynced(ctx, device.ID, playlist.ID, 1))

	// bumping the playlist leaves the device on the old version
	_, err := h.svc.AddPlaylistItem(ctx, playlist.ID,
		api.ContentRef{Kind: api.ContentRefCatalog, ID: uuid.New()}, nil)
	require.NoError(t, err)

	status, err := h.svc.PlaylistSyncStatus(ctx, playlist.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, status.Version)
	assert.Equal(t, 0, status.SyncedCount)
	assert.Equal(t, 1, status.PendingCount)
	assert.Equal(t, api.PlaylistSyncPending, status.AggregateStatus)
}

func TestDeliverPlaylistSyncRecordsFailure(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	tenant := h.createTenant(t, "acme")
	playlist := h.createPlaylist(t, tenant.ID, "promos")
	device := h.registerDirectDevice(t, "hw-tv-1")
	h.assignDefault(t, device.ID, playlist.ID)

	// the device has no reachable agent address, delivery must fail and
	// be recorded so the queue retries it
	err := h.svc.DeliverPlaylistSync(ctx, device.ID, playlist.ID, 1)
	require.ErrorIs(t, err, skzerrors.ErrUpstreamUnreachable)

	row, err := h.store.Sync().Get(ctx, device.ID, playlist.ID)
	require.NoError(t, err)
	assert.Equal(t, string(api.SyncStateFailed), row.State)
	require.NotNil(t, row.Error)
	assert.NotNil(t, row.LastAttempt)
}

func TestAbandonedSyncTaskMarksRowFailed(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	tenant := h.createTenant(t, "acme")
	playlist := h.createPlaylist(t, tenant.ID, "promos")
	device := h.registerDirectDevice(t, "hw-tv-1")
	h.assignDefault(t, device.ID, playlist.ID)

	_, err := h.svc.PushPlaylist(ctx, playlist.ID)
	require.NoError(t, err)

	// the queue gave up on the delivery task; the row must end terminal
	h.svc.AbandonTask(ctx, &tasks.Payload{
		TaskName:   tasks.TaskPlaylistSync,
		DeviceID:   device.ID,
		PlaylistID: playlist.ID,
		Version:    playlist.Version,
	}, "retry budget exhausted")

	rows, err := h.store.Sync().ListByPlaylist(ctx, playlist.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, string(api.SyncStateFailed), rows[0].State)
	require.NotNil(t, rows[0].Error)
	assert.Equal(t, "retry budget exhausted", *rows[0].Error)

	status, err := h.svc.PlaylistSyncStatus(ctx, playlist.ID)
	require.NoError(t, err)
	assert.Equal(t, api.PlaylistSyncError, status.AggregateStatus)

	// a task for a row that no longer exists is dropped silently
	h.svc.AbandonTask(ctx, &tasks.Payload{
		TaskName:   tasks.TaskPlaylistSync,
		DeviceID:   uuid.New(),
		PlaylistID: playlist.ID,
	}, "late")
}

func TestDeliverPlaylistSyncDropsDeletedPlaylist(t *testing.T) {
	h := newTestHarness(t)
	device := h.registerDirectDevice(t, "hw-tv-1")

	err := h.svc.DeliverPlaylistSync(context.Background(), device.ID, uuid.New(), 1)
	assert.NoError(t, err)
}
