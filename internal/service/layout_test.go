package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylinezone/skyctl/internal/skzerrors"
	"github.com/skylinezone/skyctl/internal/store/model"

	api "github.com/skylinezone/skyctl/internal/api/v1"
)

func intPtr(i int) *int    { return &i }
func boolPtr(b bool) *bool { return &b }

func (h *testHarness) createLayout(t *testing.T, tenantID uuid.UUID, name string) *api.Layout {
	t.Helper()
	layout, err := h.svc.CreateLayout(context.Background(), api.CreateLayoutRequest{
		TenantID:    tenantID,
		Name:        name,
		CanvasW:     1920,
		CanvasH:     1080,
		Orientation: api.OrientationLandscape,
	})
	require.NoError(t, err)
	return layout
}

func (h *testHarness) createContent(t *testing.T, tenantID uuid.UUID, durationSec *int) *model.Content {
	t.Helper()
	content := &model.Content{
		TenantID:    tenantID,
		Name:        "clip",
		Path:        "/media/clip.mp4",
		MimeType:    "video/mp4",
		DurationSec: durationSec,
	}
	require.NoError(t, h.db.Create(content).Error)
	return content
}

func TestCreateLayoutValidation(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	tenant := h.createTenant(t, "acme")

	_, err := h.svc.CreateLayout(ctx, api.CreateLayoutRequest{TenantID: tenant.ID, CanvasW: 1920, CanvasH: 1080, Orientation: api.OrientationLandscape})
	assert.ErrorIs(t, err, skzerrors.ErrInvalidInput)

	_, err = h.svc.CreateLayout(ctx, api.CreateLayoutRequest{TenantID: tenant.ID, Name: "l", CanvasW: 0, CanvasH: 1080, Orientation: api.OrientationLandscape})
	assert.ErrorIs(t, err, skzerrors.ErrInvalidInput)

	_, err = h.svc.CreateLayout(ctx, api.CreateLayoutRequest{TenantID: tenant.ID, Name: "l", CanvasW: 1920, CanvasH: 1080, Orientation: "square"})
	assert.ErrorIs(t, err, skzerrors.ErrInvalidInput)

	_, err = h.svc.CreateLayout(ctx, api.CreateLayoutRequest{TenantID: uuid.New(), Name: "l", CanvasW: 1920, CanvasH: 1080, Orientation: api.OrientationLandscape})
	assert.ErrorIs(t, err, skzerrors.ErrNotFound)
}

func TestCreateLayoutCanvasBounds(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	tenant := h.createTenant(t, "acme")

	_, err := h.svc.CreateLayout(ctx, api.CreateLayoutRequest{TenantID: tenant.ID, Name: "tiny", CanvasW: 10, CanvasH: 1080, Orientation: api.OrientationLandscape})
	assert.ErrorIs(t, err, skzerrors.ErrInvalidInput)

	_, err = h.svc.CreateLayout(ctx, api.CreateLayoutRequest{TenantID: tenant.ID, Name: "huge", CanvasW: 1920, CanvasH: 10001, Orientation: api.OrientationLandscape})
	assert.ErrorIs(t, err, skzerrors.ErrInvalidInput)

	layout, err := h.svc.CreateLayout(ctx, api.CreateLayoutRequest{TenantID: tenant.ID, Name: "edge", CanvasW: 20, CanvasH: 10000, Orientation: api.OrientationPortrait})
	require.NoError(t, err)
	assert.Equal(t, 20, layout.CanvasW)
}

func TestCreateLayerGeometryRules(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	tenant := h.createTenant(t, "acme")
	layout := h.createLayout(t, tenant.ID, "main")

	// below the minimum dimension
	_, err := h.svc.CreateLayer(ctx, layout.ID, api.CreateLayerRequest{
		Name: "sliver", LayerType: "zone", W: 10, H: 1080, Z: 1, ContentSource: api.ContentSourceNone,
	})
	assert.ErrorIs(t, err, skzerrors.ErrInvalidInput)

	// out-of-canvas geometry is clamped, not rejected
	layer, err := h.svc.CreateLayer(ctx, layout.ID, api.CreateLayerRequest{
		Name: "overflow", LayerType: "zone", X: 1800, Y: -50, W: 400, H: 2000, Z: 1,
		ContentSource: api.ContentSourceNone,
	})
	require.NoError(t, err)
	var stored model.Layer
	require.NoError(t, h.db.First(&stored, "id = ?", layer.ID).Error)
	assert.Equal(t, 1520, stored.X)
	assert.Equal(t, 0, stored.Y)
	assert.Equal(t, 400, stored.W)
	assert.Equal(t, 1080, stored.H)

	// z positions are unique within a layout
	_, err = h.svc.CreateLayer(ctx, layout.ID, api.CreateLayerRequest{
		Name: "dup", LayerType: "zone", W: 100, H: 100, Z: 1, ContentSource: api.ContentSourceNone,
	})
	assert.ErrorIs(t, err, skzerrors.ErrDuplicateKey)

	// the same z in a different layout is fine
	other := h.createLayout(t, tenant.ID, "other")
	_, err = h.svc.CreateLayer(ctx, other.ID, api.CreateLayerRequest{
		Name: "ok", LayerType: "zone", W: 100, H: 100, Z: 1, ContentSource: api.ContentSourceNone,
	})
	require.NoError(t, err)
}

func TestComposeLayoutWithoutLayout(t *testing.T) {
	h := newTestHarness(t)
	device := h.registerDirectDevice(t, "hw-tv-1")

	resp, err := h.svc.ComposeLayout(context.Background(), device.ID)
	require.NoError(t, err)
	assert.Nil(t, resp.Layout)
	assert.Equal(t, api.DeviceStatusPending, resp.DeviceStatus)
}

func TestComposeLayoutResolvesLayersAndDurations(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	tenant := h.createTenant(t, "acme")
	device := h.registerDirectDevice(t, "hw-tv-1")
	layout := h.createLayout(t, tenant.ID, "main")
	playlist := h.createPlaylist(t, tenant.ID, "promos")

	// three items exercising the duration precedence: override beats content
	// duration beats the default
	video := h.createContent(t, tenant.ID, intPtr(30))
	_, err := h.svc.AddPlaylistItem(ctx, playlist.ID,
		api.ContentRef{Kind: api.ContentRefLocal, ID: video.ID}, nil)
	require.NoError(t, err)
	_, err = h.svc.AddPlaylistItem(ctx, playlist.ID,
		api.ContentRef{Kind: api.ContentRefLocal, ID: video.ID}, intPtr(5))
	require.NoError(t, err)
	_, err = h.svc.AddPlaylistItem(ctx, playlist.ID,
		api.ContentRef{Kind: api.ContentRefCatalog, ID: uuid.New()}, nil)
	require.NoError(t, err)

	layer, err := h.svc.CreateLayer(ctx, layout.ID, api.CreateLayerRequest{
		Name:          "main-zone",
		LayerType:     "zone",
		W:             1920,
		H:             1080,
		Z:             1,
		ContentSource: api.ContentSourcePlaylist,
		PlaylistID:    &playlist.ID,
	})
	require.NoError(t, err)

	// invisible layers never reach the device
	_, err = h.svc.CreateLayer(ctx, layout.ID, api.CreateLayerRequest{
		Name:          "hidden",
		LayerType:     "zone",
		W:             320,
		H:             240,
		Z:             2,
		ContentSource: api.ContentSourceNone,
		IsVisible:     boolPtr(false),
	})
	require.NoError(t, err)

	require.NoError(t, h.svc.AssignLayout(ctx, device.ID, api.AssignLayoutRequest{LayoutID: layout.ID}))

	resp, err := h.svc.ComposeLayout(ctx, device.ID)
	require.NoError(t, err)
	require.NotNil(t, resp.Layout)
	require.NotNil(t, resp.Layout.Canvas)
	assert.Equal(t, 1920, resp.Layout.Canvas.W)
	require.Len(t, resp.Layout.Layers, 1)

	got := resp.Layout.Layers[0]
	assert.Equal(t, layer.ID, got.ID)
	require.NotNil(t, got.Playlist)
	require.Len(t, got.Playlist.Items, 3)
	assert.Equal(t, 30, got.Playlist.Items[0].DurationSec)
	assert.Equal(t, "/media/clip.mp4", got.Playlist.Items[0].URL)
	assert.Equal(t, 5, got.Playlist.Items[1].DurationSec)
	assert.Equal(t, defaultItemDurationSec, got.Playlist.Items[2].DurationSec)
}

func TestComposeLayoutPinnedBeatsAssignment(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	tenant := h.createTenant(t, "acme")
	device := h.registerDirectDevice(t, "hw-tv-1")
	assigned := h.createLayout(t, tenant.ID, "assigned")
	pinned := h.createLayout(t, tenant.ID, "pinned")

	require.NoError(t, h.svc.AssignLayout(ctx, device.ID, api.AssignLayoutRequest{LayoutID: assigned.ID}))
	require.NoError(t, h.svc.SetDeviceLayout(ctx, device.ID, &pinned.ID))

	resp, err := h.svc.ComposeLayout(ctx, device.ID)
	require.NoError(t, err)
	require.NotNil(t, resp.Layout)
	require.NotNil(t, resp.Layout.LayoutID)
	assert.Equal(t, pinned.ID, *resp.Layout.LayoutID)

	// unpinning falls back to the assignment
	require.NoError(t, h.svc.SetDeviceLayout(ctx, device.ID, nil))
	resp, err = h.svc.ComposeLayout(ctx, device.ID)
	require.NoError(t, err)
	require.NotNil(t, resp.Layout)
	assert.Equal(t, assigned.ID, *resp.Layout.LayoutID)
}

func TestComposeLayoutSkipsExpiredAssignments(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	tenant := h.createTenant(t, "acme")
	device := h.registerDirectDevice(t, "hw-tv-1")
	layout := h.createLayout(t, tenant.ID, "campaign")

	past := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, h.svc.AssignLayout(ctx, device.ID, api.AssignLayoutRequest{
		LayoutID: layout.ID,
		EndAt:    &past,
	}))

	resp, err := h.svc.ComposeLayout(ctx, device.ID)
	require.NoError(t, err)
	assert.Nil(t, resp.Layout)
}

func TestStaticLayerOverride(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	tenant := h.createTenant(t, "acme")
	device := h.registerDirectDevice(t, "hw-tv-1")
	layout := h.createLayout(t, tenant.ID, "main")

	layer, err := h.svc.CreateLayer(ctx, layout.ID, api.CreateLayerRequest{
		Name:          "ticker",
		LayerType:     "zone",
		W:             1920,
		H:             60,
		Z:             1,
		ContentSource: api.ContentSourceStatic,
	})
	require.NoError(t, err)
	require.NoError(t, h.svc.AssignLayout(ctx, device.ID, api.AssignLayoutRequest{LayoutID: layout.ID}))

	// without an override the static layer composes empty
	resp, err := h.svc.ComposeLayout(ctx, device.ID)
	require.NoError(t, err)
	require.Len(t, resp.Layout.Layers, 1)
	assert.Nil(t, resp.Layout.Layers[0].Override)

	require.NoError(t, h.svc.UpsertLayerOverride(ctx, device.ID, layer.ID, api.LayerOverrideRequest{
		ContentMode:     api.ContentModeTicker,
		TickerItems:     []string{"store closes at 9", "sale ends friday"},
		TickerSpeed:     40,
		TickerDirection: "left",
	}))

	resp, err = h.svc.ComposeLayout(ctx, device.ID)
	require.NoError(t, err)
	require.Len(t, resp.Layout.Layers, 1)
	override := resp.Layout.Layers[0].Override
	require.NotNil(t, override)
	assert.Equal(t, api.ContentModeTicker, override.ContentMode)
	assert.Equal(t, []string{"store closes at 9", "sale ends friday"}, override.TickerItems)
	assert.Equal(t, 40, override.TickerSpeed)
}

func TestLayerTriggersCompose(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	tenant := h.createTenant(t, "acme")
	device := h.registerDirectDevice(t, "hw-tv-1")
	layout := h.createLayout(t, tenant.ID, "main")
	base := h.createPlaylist(t, tenant.ID, "base")
	kids := h.createPlaylist(t, tenant.ID, "kids")

	layer, err := h.svc.CreateLayer(ctx, layout.ID, api.CreateLayerRequest{
		Name:          "main-zone",
		LayerType:     "zone",
		W:             1920,
		H:             1080,
		Z:             1,
		ContentSource: api.ContentSourcePlaylist,
		PlaylistID:    &base.ID,
	})
	require.NoError(t, err)

	err = h.svc.CreateLayerTrigger(ctx, device.ID, layer.ID, api.CreateLayerTriggerRequest{
		PlaylistID:  kids.ID,
		TriggerType: "wave_detected",
		Priority:    5,
	})
	assert.ErrorIs(t, err, skzerrors.ErrInvalidInput)

	require.NoError(t, h.svc.CreateLayerTrigger(ctx, device.ID, layer.ID, api.CreateLayerTriggerRequest{
		PlaylistID:  kids.ID,
		TriggerType: api.TriggerAgeChild,
		Priority:    5,
	}))
	require.NoError(t, h.svc.AssignLayout(ctx, device.ID, api.AssignLayoutRequest{LayoutID: layout.ID}))

	resp, err := h.svc.ComposeLayout(ctx, device.ID)
	require.NoError(t, err)
	require.Len(t, resp.Layout.Layers, 1)
	got := resp.Layout.Layers[0]
	require.NotNil(t, got.Playlist)
	assert.Equal(t, base.ID, got.Playlist.PlaylistID)
	require.Len(t, got.Triggers, 1)
	assert.Equal(t, api.TriggerAgeChild, got.Triggers[0].TriggerType)
	require.NotNil(t, got.Triggers[0].Playlist)
	assert.Equal(t, kids.ID, got.Triggers[0].Playlist.PlaylistID)
}

func TestSetDeviceLayoutUnknownLayout(t *testing.T) {
	h := newTestHarness(t)
	device := h.registerDirectDevice(t, "hw-tv-1")
	bogus := uuid.New()
	err := h.svc.SetDeviceLayout(context.Background(), device.ID, &bogus)
	assert.ErrorIs(t, err, skzerrors.ErrNotFound)
}
