package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/skylinezone/skyctl/internal/skzerrors"
	"github.com/skylinezone/skyctl/internal/store/model"

	api "github.com/skylinezone/skyctl/internal/api/v1"
)

// AssignPlaylist binds a playlist to a device under an audience trigger. Only
// the default trigger starts enabled; audience triggers have to be switched on
// explicitly after review.
func (h *ServiceHandler) AssignPlaylist(ctx context.Context, deviceID uuid.UUID, req api.AssignPlaylistRequest) (*api.PlaylistAssignment, error) {
	if !req.TriggerType.Valid() {
		return nil, skzerrors.InvalidInputf("unknown trigger type %q", req.TriggerType)
	}
	device, err := h.store.Device().Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	playlist, err := h.store.Playlist().Get(ctx, req.PlaylistID)
	if err != nil {
		return nil, err
	}

	assignment, err := h.store.Playlist().CreateAssignment(ctx, &model.DevicePlaylistAssignment{
		DeviceID:    device.ID,
		PlaylistID:  playlist.ID,
		TriggerType: string(req.TriggerType),
		Priority:    req.Priority,
		IsEnabled:   req.TriggerType == api.TriggerDefault,
	})
	if err != nil {
		return nil, err
	}

	// start tracking sync for the pair and tell the device something changed
	if _, err := h.store.Sync().Upsert(ctx, device.ID, playlist.ID); err != nil {
		return nil, err
	}
	if err := h.store.Device().BumpPendingSyncVersion(ctx, device.ID); err != nil {
		return nil, err
	}

	out := assignment.ToAPI()
	return &out, nil
}

func (h *ServiceHandler) ListDeviceAssignments(ctx context.Context, deviceID uuid.UUID) ([]api.PlaylistAssignment, error) {
	assignments, err := h.store.Playlist().ListAssignmentsByDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	out := make([]api.PlaylistAssignment, 0, len(assignments))
	for i := range assignments {
		out = append(out, assignments[i].ToAPI())
	}
	return out, nil
}

func (h *ServiceHandler) ToggleAssignment(ctx context.Context, id uuid.UUID) (*api.ToggleResponse, error) {
	assignment, err := h.store.Playlist().GetAssignment(ctx, id)
	if err != nil {
		return nil, err
	}
	enabled, err := h.store.Playlist().ToggleAssignment(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := h.store.Device().BumpPendingSyncVersion(ctx, assignment.DeviceID); err != nil {
		return nil, err
	}
	return &api.ToggleResponse{IsEnabled: enabled}, nil
}

func (h *ServiceHandler) DeleteAssignment(ctx context.Context, id uuid.UUID) error {
	assignment, err := h.store.Playlist().GetAssignment(ctx, id)
	if err != nil {
		return err
	}
	if err := h.store.Playlist().DeleteAssignment(ctx, id); err != nil {
		return err
	}
	return h.store.Device().BumpPendingSyncVersion(ctx, assignment.DeviceID)
}
