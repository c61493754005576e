package service

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/skylinezone/skyctl/internal/skzerrors"
	"github.com/skylinezone/skyctl/internal/store/model"

	api "github.com/skylinezone/skyctl/internal/api/v1"
)

const (
	// canvas and layer geometry bounds
	minCanvasDim = 20
	maxCanvasDim = 10000
	minLayerDim  = 20
)

func layoutToAPI(l *model.Layout) api.Layout {
	return api.Layout{
		ID:          l.ID,
		TenantID:    l.TenantID,
		Name:        l.Name,
		CanvasW:     l.CanvasW,
		CanvasH:     l.CanvasH,
		Orientation: api.Orientation(l.Orientation),
	}
}

func layerToAPI(l *model.Layer) api.Layer {
	return api.Layer{
		ID:            l.ID,
		LayoutID:      l.LayoutID,
		Name:          l.Name,
		Z:             l.Z,
		ContentSource: api.ContentSource(l.ContentSource),
		IsVisible:     l.IsVisible,
	}
}

func (h *ServiceHandler) CreateLayout(ctx context.Context, req api.CreateLayoutRequest) (*api.Layout, error) {
	if req.Name == "" {
		return nil, skzerrors.InvalidInputf("layout name is required")
	}
	if req.CanvasW < minCanvasDim || req.CanvasW > maxCanvasDim ||
		req.CanvasH < minCanvasDim || req.CanvasH > maxCanvasDim {
		return nil, skzerrors.InvalidInputf("canvas dimensions must be within [%d, %d]", minCanvasDim, maxCanvasDim)
	}
	if req.Orientation != api.OrientationLandscape && req.Orientation != api.OrientationPortrait {
		return nil, skzerrors.InvalidInputf("unknown orientation %q", req.Orientation)
	}
	if _, err := h.store.Tenant().Get(ctx, req.TenantID); err != nil {
		return nil, err
	}

	layout, err := h.store.Layout().Create(ctx, &model.Layout{
		TenantID:          req.TenantID,
		Name:              req.Name,
		CanvasW:           req.CanvasW,
		CanvasH:           req.CanvasH,
		Orientation:       string(req.Orientation),
		BackgroundType:    req.BackgroundType,
		BackgroundColor:   req.BackgroundColor,
		BackgroundOpacity: req.BackgroundOpacity,
	})
	if err != nil {
		return nil, err
	}
	out := layoutToAPI(layout)
	return &out, nil
}

func (h *ServiceHandler) ListLayouts(ctx context.Context, tenantID uuid.UUID) ([]api.Layout, error) {
	layouts, err := h.store.Layout().List(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]api.Layout, 0, len(layouts))
	for i := range layouts {
		out = append(out, layoutToAPI(&layouts[i]))
	}
	return out, nil
}

// CreateLayer adds a layer at a z position that must be unique in the layout.
// Geometry outside the canvas is clamped into it, not rejected.
func (h *ServiceHandler) CreateLayer(ctx context.Context, layoutID uuid.UUID, req api.CreateLayerRequest) (*api.Layer, error) {
	if req.Name == "" {
		return nil, skzerrors.InvalidInputf("layer name is required")
	}
	if req.W < minLayerDim || req.H < minLayerDim {
		return nil, skzerrors.InvalidInputf("layer dimensions must be at least %d", minLayerDim)
	}
	layout, err := h.store.Layout().Get(ctx, layoutID)
	if err != nil {
		return nil, err
	}
	if req.ContentSource == api.ContentSourcePlaylist && req.PlaylistID != nil {
		if _, err := h.store.Playlist().Get(ctx, *req.PlaylistID); err != nil {
			return nil, err
		}
	}

	opacity := 1.0
	if req.Opacity != nil {
		opacity = *req.Opacity
	}
	visible := true
	if req.IsVisible != nil {
		visible = *req.IsVisible
	}
	x, y, w, ht := clampLayerBounds(req.X, req.Y, req.W, req.H, layout.CanvasW, layout.CanvasH)
	layer, err := h.store.Layout().CreateLayer(ctx, &model.Layer{
		LayoutID:      layoutID,
		Name:          req.Name,
		LayerType:     req.LayerType,
		X:             x,
		Y:             y,
		W:             w,
		H:             ht,
		Z:             req.Z,
		Opacity:       opacity,
		ContentSource: string(req.ContentSource),
		PlaylistID:    req.PlaylistID,
		IsVisible:     visible,
	})
	if err != nil {
		return nil, err
	}
	out := layerToAPI(layer)
	return &out, nil
}

// clampLayerBounds constrains a layer's bounding box to the canvas. Oversized
// layers shrink to the canvas; out-of-range positions slide back inside.
func clampLayerBounds(x, y, w, h, canvasW, canvasH int) (int, int, int, int) {
	if w > canvasW {
		w = canvasW
	}
	if h > canvasH {
		h = canvasH
	}
	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}
	if x+w > canvasW {
		x = canvasW - w
	}
	if y+h > canvasH {
		y = canvasH - h
	}
	return x, y, w, h
}

func (h *ServiceHandler) ListLayers(ctx context.Context, layoutID uuid.UUID) ([]api.Layer, error) {
	layers, err := h.store.Layout().ListLayers(ctx, layoutID)
	if err != nil {
		return nil, err
	}
	out := make([]api.Layer, 0, len(layers))
	for i := range layers {
		out = append(out, layerToAPI(&layers[i]))
	}
	return out, nil
}

// UpsertLayerOverride replaces the device's per-layer content override and
// nudges the device to re-poll.
func (h *ServiceHandler) UpsertLayerOverride(ctx context.Context, deviceID, layerID uuid.UUID, req api.LayerOverrideRequest) error {
	if _, err := h.store.Device().Get(ctx, deviceID); err != nil {
		return err
	}
	if _, err := h.store.Layout().GetLayer(ctx, layerID); err != nil {
		return err
	}

	override := &model.DeviceLayerOverride{
		DeviceID:        deviceID,
		LayerID:         layerID,
		ContentMode:     string(req.ContentMode),
		StaticFileID:    req.StaticFileID,
		StaticFileURL:   req.StaticFileURL,
		PDFPageDuration: req.PDFPageDuration,
		TickerSpeed:     req.TickerSpeed,
		TickerDirection: req.TickerDirection,
	}
	if len(req.TickerItems) > 0 {
		raw, err := json.Marshal(req.TickerItems)
		if err != nil {
			return err
		}
		encoded := string(raw)
		override.TickerItems = &encoded
	}
	if _, err := h.store.Layout().UpsertOverride(ctx, override); err != nil {
		return err
	}
	return h.store.Device().BumpPendingSyncVersion(ctx, deviceID)
}

func (h *ServiceHandler) CreateLayerTrigger(ctx context.Context, deviceID, layerID uuid.UUID, req api.CreateLayerTriggerRequest) error {
	if !req.TriggerType.Valid() {
		return skzerrors.InvalidInputf("unknown trigger type %q", req.TriggerType)
	}
	if _, err := h.store.Device().Get(ctx, deviceID); err != nil {
		return err
	}
	if _, err := h.store.Layout().GetLayer(ctx, layerID); err != nil {
		return err
	}
	if _, err := h.store.Playlist().Get(ctx, req.PlaylistID); err != nil {
		return err
	}

	if _, err := h.store.Layout().CreateTrigger(ctx, &model.LayerPlaylistTrigger{
		DeviceID:    deviceID,
		LayerID:     layerID,
		PlaylistID:  req.PlaylistID,
		TriggerType: string(req.TriggerType),
		Priority:    req.Priority,
	}); err != nil {
		return err
	}
	return h.store.Device().BumpPendingSyncVersion(ctx, deviceID)
}

func (h *ServiceHandler) DeleteLayerTrigger(ctx context.Context, deviceID, triggerID uuid.UUID) error {
	if err := h.store.Layout().DeleteTrigger(ctx, triggerID); err != nil {
		return err
	}
	return h.store.Device().BumpPendingSyncVersion(ctx, deviceID)
}

// AssignLayout schedules a layout onto a device; it only takes effect when the
// device has no pinned layout.
func (h *ServiceHandler) AssignLayout(ctx context.Context, deviceID uuid.UUID, req api.AssignLayoutRequest) error {
	if _, err := h.store.Device().Get(ctx, deviceID); err != nil {
		return err
	}
	if _, err := h.store.Layout().Get(ctx, req.LayoutID); err != nil {
		return err
	}
	if _, err := h.store.Layout().CreateDeviceAssignment(ctx, &model.DeviceLayoutAssignment{
		DeviceID:  deviceID,
		LayoutID:  req.LayoutID,
		Priority:  req.Priority,
		IsEnabled: true,
		StartAt:   req.StartAt,
		EndAt:     req.EndAt,
	}); err != nil {
		return err
	}
	return h.store.Device().BumpPendingSyncVersion(ctx, deviceID)
}
