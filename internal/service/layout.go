package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/skylinezone/skyctl/internal/skzerrors"
	"github.com/skylinezone/skyctl/internal/store/model"

	api "github.com/skylinezone/skyctl/internal/api/v1"
)

// defaultItemDurationSec applies when neither the playlist item nor its
// content specifies a duration.
const defaultItemDurationSec = 10

// ComposeLayout resolves everything a device needs to render: the effective
// layout, its visible layers in z order, per-device overrides, and fully
// expanded playlists with effective durations. Devices poll this after seeing
// their pending sync version move.
func (h *ServiceHandler) ComposeLayout(ctx context.Context, deviceID uuid.UUID) (*api.ComposedLayoutResponse, error) {
	device, err := h.store.Device().Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	resp := &api.ComposedLayoutResponse{
		DeviceStatus:       api.DeviceStatus(device.Status),
		PendingSyncVersion: device.PendingSyncVersion,
	}

	layout, err := h.effectiveLayout(ctx, device)
	if err != nil {
		return nil, err
	}
	if layout == nil {
		// no pinned layout and no schedule-valid assignment: the device renders
		// nothing until one arrives
		return resp, nil
	}

	composed := &api.ComposedLayout{
		LayoutID: &layout.ID,
		Canvas: &api.ComposedCanvas{
			W:                 layout.CanvasW,
			H:                 layout.CanvasH,
			Orientation:       api.Orientation(layout.Orientation),
			BackgroundType:    layout.BackgroundType,
			BackgroundColor:   layout.BackgroundColor,
			BackgroundOpacity: layout.BackgroundOpacity,
		},
	}

	layers, err := h.store.Layout().ListLayers(ctx, layout.ID)
	if err != nil {
		return nil, err
	}
	for i := range layers {
		if !layers[i].IsVisible {
			continue
		}
		composedLayer, err := h.composeLayer(ctx, device.ID, &layers[i])
		if err != nil {
			return nil, err
		}
		composed.Layers = append(composed.Layers, *composedLayer)
	}

	resp.Layout = composed
	return resp, nil
}

// effectiveLayout prefers the device's pinned layout; otherwise the highest
// priority enabled assignment whose schedule window covers now.
func (h *ServiceHandler) effectiveLayout(ctx context.Context, device *model.Device) (*model.Layout, error) {
	if device.LayoutID != nil {
		layout, err := h.store.Layout().Get(ctx, *device.LayoutID)
		if errors.Is(err, skzerrors.ErrNotFound) {
			// pinned layout was deleted; fall through to assignments
		} else if err != nil {
			return nil, err
		} else {
			return layout, nil
		}
	}

	assignments, err := h.store.Layout().ListDeviceAssignments(ctx, device.ID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	for i := range assignments {
		if !scheduleCovers(assignments[i].StartAt, assignments[i].EndAt, now) {
			continue
		}
		layout, err := h.store.Layout().Get(ctx, assignments[i].LayoutID)
		if errors.Is(err, skzerrors.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return layout, nil
	}
	return nil, nil
}

func scheduleCovers(start, end *time.Time, now time.Time) bool {
	if start != nil && now.Before(*start) {
		return false
	}
	if end != nil && now.After(*end) {
		return false
	}
	return true
}

func (h *ServiceHandler) composeLayer(ctx context.Context, deviceID uuid.UUID, layer *model.Layer) (*api.ComposedLayer, error) {
	out := &api.ComposedLayer{
		ID:            layer.ID,
		Name:          layer.Name,
		LayerType:     layer.LayerType,
		X:             layer.X,
		Y:             layer.Y,
		W:             layer.W,
		H:             layer.H,
		Z:             layer.Z,
		Opacity:       layer.Opacity,
		ContentSource: api.ContentSource(layer.ContentSource),
	}
	if layer.ContentConfig != nil {
		out.ContentConfig = json.RawMessage(*layer.ContentConfig)
	}

	switch api.ContentSource(layer.ContentSource) {
	case api.ContentSourcePlaylist:
		if layer.PlaylistID != nil {
			playlist, err := h.composePlaylist(ctx, *layer.PlaylistID)
			if err != nil && !errors.Is(err, skzerrors.ErrNotFound) {
				return nil, err
			}
			out.Playlist = playlist
		}
		triggers, err := h.composeTriggers(ctx, deviceID, layer.ID)
		if err != nil {
			return nil, err
		}
		out.Triggers = triggers

	case api.ContentSourceStatic:
		override, err := h.store.Layout().GetOverride(ctx, deviceID, layer.ID)
		if errors.Is(err, skzerrors.ErrNotFound) {
			// static layer with no per-device override renders nothing
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out.Override = composeOverride(override)
	}
	return out, nil
}

func composeOverride(override *model.DeviceLayerOverride) *api.ComposedOverride {
	out := &api.ComposedOverride{
		ContentMode:     api.ContentMode(override.ContentMode),
		StaticFileID:    override.StaticFileID,
		StaticFileURL:   override.StaticFileURL,
		PDFPageDuration: override.PDFPageDuration,
		TickerSpeed:     override.TickerSpeed,
		TickerDirection: override.TickerDirection,
	}
	if override.TickerItems != nil {
		// stored as a JSON string array; a decode failure leaves the ticker empty
		_ = json.Unmarshal([]byte(*override.TickerItems), &out.TickerItems)
	}
	return out
}

func (h *ServiceHandler) composeTriggers(ctx context.Context, deviceID, layerID uuid.UUID) ([]api.ComposedTrigger, error) {
	triggers, err := h.store.Layout().ListTriggers(ctx, deviceID, layerID)
	if err != nil {
		return nil, err
	}
	out := make([]api.ComposedTrigger, 0, len(triggers))
	for i := range triggers {
		composed := api.ComposedTrigger{
			TriggerType: api.TriggerType(triggers[i].TriggerType),
			Priority:    triggers[i].Priority,
		}
		playlist, err := h.composePlaylist(ctx, triggers[i].PlaylistID)
		if err != nil && !errors.Is(err, skzerrors.ErrNotFound) {
			return nil, err
		}
		composed.Playlist = playlist
		out = append(out, composed)
	}
	return out, nil
}

// composePlaylist expands a playlist with effective item durations: the item
// override wins, then the content's natural duration, then the default.
func (h *ServiceHandler) composePlaylist(ctx context.Context, playlistID uuid.UUID) (*api.ComposedPlaylist, error) {
	playlist, err := h.store.Playlist().Get(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	items, err := h.store.Playlist().ListItems(ctx, playlistID)
	if err != nil {
		return nil, err
	}

	composed := &api.ComposedPlaylist{
		PlaylistID: playlist.ID,
		Name:       playlist.Name,
		Version:    playlist.Version,
		LoopMode:   api.LoopMode(playlist.LoopMode),
		Items:      make([]api.ComposedItem, 0, len(items)),
	}
	for i := range items {
		item := api.ComposedItem{
			ContentID:   items[i].ContentID,
			Position:    items[i].Position,
			DurationSec: defaultItemDurationSec,
		}
		if items[i].ContentKind == string(api.ContentRefLocal) {
			content, err := h.store.Playlist().GetContent(ctx, items[i].ContentID)
			if err == nil {
				item.URL = content.Path
				item.MimeType = content.MimeType
				if content.DurationSec != nil {
					item.DurationSec = *content.DurationSec
				}
			} else if !errors.Is(err, skzerrors.ErrNotFound) {
				return nil, err
			}
		}
		if items[i].DurationOverride != nil {
			item.DurationSec = *items[i].DurationOverride
		}
		composed.Items = append(composed.Items, item)
	}
	return composed, nil
}
