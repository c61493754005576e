package service

import (
	"context"
	"fmt"
	"time"

	"github.com/skylinezone/skyctl/internal/instrumentation"
	"github.com/skylinezone/skyctl/internal/skzerrors"
	"github.com/skylinezone/skyctl/internal/store"
	"github.com/skylinezone/skyctl/internal/store/model"

	api "github.com/skylinezone/skyctl/internal/api/v1"
)

var heartbeatStatuses = map[api.DeviceStatus]bool{
	api.DeviceStatusActive:  true,
	api.DeviceStatusOffline: true,
	api.DeviceStatusError:   true,
}

// ProcessHeartbeatBatch validates every item, then applies the valid ones and
// the hub's heartbeat stamp in a single transaction. Invalid items are
// reported per-item and never block the rest of the batch.
func (h *ServiceHandler) ProcessHeartbeatBatch(ctx context.Context, hub *model.Hub, batch api.HeartbeatBatch) (*api.HeartbeatBatchResponse, error) {
	if len(batch.Heartbeats) == 0 {
		return nil, skzerrors.InvalidInputf("heartbeat batch is empty")
	}

	now := time.Now().UTC()
	applies := make([]store.HeartbeatApply, 0, len(batch.Heartbeats))
	var itemErrors []api.HeartbeatError

	for _, hb := range batch.Heartbeats {
		apply, err := h.validateHeartbeat(ctx, hub, hb, now)
		if err != nil {
			itemErrors = append(itemErrors, api.HeartbeatError{
				DeviceExternalID: hb.DeviceExternalID,
				Error:            err.Error(),
			})
			continue
		}
		applies = append(applies, *apply)
	}

	if len(applies) > 0 {
		if err := h.store.Device().ApplyHeartbeats(ctx, hub.ID, applies); err != nil {
			return nil, err
		}
	} else if err := h.store.Hub().StampHeartbeat(ctx, hub.ID, now); err != nil {
		return nil, err
	}
	instrumentation.HeartbeatsApplied.Add(float64(len(applies)))

	return &api.HeartbeatBatchResponse{
		Processed:        len(applies),
		Errors:           itemErrors,
		HubLastHeartbeat: now,
	}, nil
}

func (h *ServiceHandler) validateHeartbeat(ctx context.Context, hub *model.Hub, hb api.Heartbeat, now time.Time) (*store.HeartbeatApply, error) {
	if hb.DeviceExternalID == "" {
		return nil, fmt.Errorf("device_external_id is required")
	}
	device, err := h.store.Device().GetByExternalID(ctx, hb.DeviceExternalID)
	if err != nil {
		return nil, fmt.Errorf("unknown device")
	}
	if device.HubID == nil || *device.HubID != hub.ID {
		return nil, fmt.Errorf("device does not belong to this hub")
	}

	apply := store.HeartbeatApply{DeviceID: device.ID, Timestamp: now}
	if hb.Status != nil {
		status := api.DeviceStatus(*hb.Status)
		if !heartbeatStatuses[status] {
			return nil, fmt.Errorf("invalid status %q", *hb.Status)
		}
		apply.Status = &status
	}
	if hb.Timestamp != nil {
		ts, err := time.Parse(time.RFC3339, *hb.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp %q", *hb.Timestamp)
		}
		apply.Timestamp = ts.UTC()
	}
	return &apply, nil
}
