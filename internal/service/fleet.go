package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/skylinezone/skyctl/internal/instrumentation"
	"github.com/skylinezone/skyctl/internal/pairing"
	"github.com/skylinezone/skyctl/internal/skzerrors"
	"github.com/skylinezone/skyctl/internal/store/model"

	api "github.com/skylinezone/skyctl/internal/api/v1"
)

// --- tenants ---

func (h *ServiceHandler) CreateTenant(ctx context.Context, req api.CreateTenantRequest) (*api.Tenant, error) {
	if req.Slug == "" || req.Name == "" {
		return nil, skzerrors.InvalidInputf("slug and name are required")
	}
	tenant, err := h.store.Tenant().Create(ctx, req.Slug, req.Name)
	if err != nil {
		return nil, err
	}
	out := tenant.ToAPI()
	return &out, nil
}

func (h *ServiceHandler) ListTenants(ctx context.Context) ([]api.Tenant, error) {
	tenants, err := h.store.Tenant().List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]api.Tenant, 0, len(tenants))
	for i := range tenants {
		out = append(out, tenants[i].ToAPI())
	}
	return out, nil
}

func (h *ServiceHandler) GetTenant(ctx context.Context, id uuid.UUID) (*api.Tenant, error) {
	tenant, err := h.store.Tenant().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	out := tenant.ToAPI()
	return &out, nil
}

// --- hubs ---

func (h *ServiceHandler) CreateHub(ctx context.Context, req api.CreateHubRequest) (*api.Hub, error) {
	if req.Name == "" {
		return nil, skzerrors.InvalidInputf("hub name is required")
	}
	if _, err := h.store.Tenant().Get(ctx, req.TenantID); err != nil {
		return nil, err
	}
	token, err := newAPIToken()
	if err != nil {
		return nil, err
	}
	hub, err := h.store.Hub().Create(ctx, &model.Hub{
		Code:     req.Code,
		Name:     req.Name,
		TenantID: req.TenantID,
		Status:   string(api.HubStatusPending),
		APIToken: token,
	})
	if err != nil {
		return nil, err
	}
	out := hub.ToAPI()
	// the token is shown exactly once, in this response
	out.APIToken = token
	return &out, nil
}

func (h *ServiceHandler) ListHubs(ctx context.Context, tenantID uuid.UUID) ([]api.Hub, error) {
	hubs, err := h.store.Hub().List(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]api.Hub, 0, len(hubs))
	for i := range hubs {
		out = append(out, hubs[i].ToAPI())
	}
	return out, nil
}

// AuthenticateHub resolves a bearer token to its hub, activating pending hubs
// on first contact.
func (h *ServiceHandler) AuthenticateHub(ctx context.Context, token string) (*model.Hub, error) {
	if token == "" {
		return nil, skzerrors.ErrUnauthorized
	}
	hub, err := h.store.Hub().GetByToken(ctx, token)
	if errors.Is(err, skzerrors.ErrNotFound) {
		return nil, skzerrors.ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if hub.Status == string(api.HubStatusPending) {
		if err := h.store.Hub().UpdateStatus(ctx, hub.ID, api.HubStatusActive); err != nil {
			return nil, err
		}
		hub.Status = string(api.HubStatusActive)
	}
	return hub, nil
}

func newAPIToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("minting hub token: %w", err)
	}
	return "skz_" + hex.EncodeToString(raw), nil
}

// --- device registration ---

// RegisterDevice is idempotent on hardware id: re-registration refreshes the
// device's address and last-seen stamp but keeps its identity and pairing.
func (h *ServiceHandler) RegisterDevice(ctx context.Context, req api.RegisterDeviceRequest) (*api.Device, error) {
	if req.HardwareID == "" {
		return nil, skzerrors.InvalidInputf("hardware_id is required")
	}
	if req.Mode != api.DeviceModeDirect && req.Mode != api.DeviceModeHub {
		return nil, skzerrors.InvalidInputf("mode must be direct or hub")
	}

	existing, err := h.store.Device().GetByHardwareID(ctx, req.HardwareID)
	if err == nil {
		if err := h.store.Device().TouchRegistration(ctx, existing.ID, req.IP); err != nil {
			return nil, err
		}
		existing, err = h.store.Device().Get(ctx, existing.ID)
		if err != nil {
			return nil, err
		}
		out := existing.ToAPI()
		return &out, nil
	}
	if !errors.Is(err, skzerrors.ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	device, err := h.store.Device().Create(ctx, &model.Device{
		HardwareID: req.HardwareID,
		HubID:      req.HubID,
		Mode:       string(req.Mode),
		Status:     string(api.DeviceStatusPending),
		IP:         req.IP,
		LastSeen:   &now,
	})
	if err != nil {
		return nil, err
	}
	h.log.WithField("external_id", device.ExternalID).Info("registered new device")
	out := device.ToAPI()
	return &out, nil
}

func (h *ServiceHandler) GetDevice(ctx context.Context, id uuid.UUID) (*api.Device, error) {
	device, err := h.store.Device().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	out := device.ToAPI()
	return &out, nil
}

func (h *ServiceHandler) ListDevices(ctx context.Context, tenantID uuid.UUID) ([]api.Device, error) {
	devices, err := h.store.Device().List(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return model.DeviceListToAPI(devices), nil
}

func (h *ServiceHandler) SetDeviceLayout(ctx context.Context, deviceID uuid.UUID, layoutID *uuid.UUID) error {
	if layoutID != nil {
		if _, err := h.store.Layout().Get(ctx, *layoutID); err != nil {
			return err
		}
	}
	return h.store.Device().SetLayout(ctx, deviceID, layoutID)
}

// --- pairing ---

// RequestPairingCode registers the device if needed and mints a short-lived
// single-use code for it.
func (h *ServiceHandler) RequestPairingCode(ctx context.Context, req api.PairingRequest) (*api.PairingCodeResponse, error) {
	device, err := h.RegisterDevice(ctx, api.RegisterDeviceRequest{
		HardwareID: req.HardwareID,
		Mode:       api.DeviceModeDirect,
		IP:         req.IP,
	})
	if err != nil {
		return nil, err
	}
	code, err := h.pairing.Put(ctx, pairing.Session{DeviceID: device.ID})
	if err != nil {
		return nil, err
	}
	return &api.PairingCodeResponse{
		PairingCode: code,
		ExpiresIn:   int(h.cfg.Pairing.CodeTTL.Seconds()),
	}, nil
}

// PairingStatus is polled by the device while its code is on screen.
func (h *ServiceHandler) PairingStatus(ctx context.Context, hardwareID string) (*api.PairingStatusResponse, error) {
	device, err := h.store.Device().GetByHardwareID(ctx, hardwareID)
	if err != nil {
		return nil, err
	}
	return &api.PairingStatusResponse{
		Paired:     device.TenantID != nil,
		ExternalID: device.ExternalID,
		TenantID:   device.TenantID,
		Status:     api.DeviceStatus(device.Status),
	}, nil
}

// VerifyPairing consumes the code and claims the device for the tenant. Store
// metadata is mandatory; a claim without it is rejected before the code is
// consumed.
func (h *ServiceHandler) VerifyPairing(ctx context.Context, req api.PairingVerifyRequest) (*api.PairingVerifyResponse, error) {
	if req.StoreName == "" || req.StoreAddress == "" {
		return nil, skzerrors.InvalidInputf("store_name and store_address are required")
	}
	tenant, err := h.store.Tenant().Get(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}

	session, err := h.pairing.Take(ctx, req.PairingCode)
	if err != nil {
		return nil, err
	}
	device, err := h.store.Device().Pair(ctx, session.DeviceID, tenant.ID)
	if err != nil {
		return nil, err
	}
	h.log.WithFields(map[string]interface{}{
		"external_id": device.ExternalID,
		"tenant":      tenant.Slug,
		"store_name":  req.StoreName,
	}).Info("device paired")

	return &api.PairingVerifyResponse{
		Device: device.ToAPI(),
		Tenant: tenant.ToAPI(),
	}, nil
}

// --- remote commands ---

func (h *ServiceHandler) SendRemoteCommand(ctx context.Context, deviceID uuid.UUID, req api.RemoteCommandRequest) (json.RawMessage, error) {
	device, err := h.store.Device().Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return h.proxy.SendCommand(ctx, device.IP, req.Command)
}

// --- liveness ---

// SweepOfflineDevices is run periodically; it flips active devices that have
// gone quiet to offline.
func (h *ServiceHandler) SweepOfflineDevices(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-OfflineAfter)
	flipped, err := h.store.Device().MarkOfflineSince(ctx, cutoff)
	if err != nil {
		h.log.WithError(err).Error("device liveness sweep failed")
		return
	}
	if flipped > 0 {
		instrumentation.DevicesMarkedOffline.Add(float64(flipped))
		h.log.WithField("count", flipped).Info("marked unresponsive devices offline")
	}
}
