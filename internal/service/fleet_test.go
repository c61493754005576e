package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylinezone/skyctl/internal/skzerrors"
	"github.com/skylinezone/skyctl/internal/store/model"

	api "github.com/skylinezone/skyctl/internal/api/v1"
)

func TestCreateTenantRequiresSlugAndName(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	_, err := h.svc.CreateTenant(ctx, api.CreateTenantRequest{Slug: "acme"})
	assert.ErrorIs(t, err, skzerrors.ErrInvalidInput)
	_, err = h.svc.CreateTenant(ctx, api.CreateTenantRequest{Name: "Acme"})
	assert.ErrorIs(t, err, skzerrors.ErrInvalidInput)

	tenant, err := h.svc.CreateTenant(ctx, api.CreateTenantRequest{Slug: "acme", Name: "Acme"})
	require.NoError(t, err)
	assert.Equal(t, "acme", tenant.Slug)
}

func TestCreateHubShowsTokenOnce(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	tenant := h.createTenant(t, "acme")

	hub, err := h.svc.CreateHub(ctx, api.CreateHubRequest{
		Code:     "STORE1",
		Name:     "Store 1",
		TenantID: tenant.ID,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hub.APIToken, "skz_"))
	assert.Equal(t, api.HubStatusPending, hub.Status)

	// list responses never carry the token
	hubs, err := h.svc.ListHubs(ctx, tenant.ID)
	require.NoError(t, err)
	require.Len(t, hubs, 1)
	assert.Empty(t, hubs[0].APIToken)
}

func TestCreateHubUnknownTenant(t *testing.T) {
	h := newTestHarness(t)
	_, err := h.svc.CreateHub(context.Background(), api.CreateHubRequest{
		Code:     "STORE1",
		Name:     "Store 1",
		TenantID: uuid.New(),
	})
	assert.ErrorIs(t, err, skzerrors.ErrNotFound)
}

func TestAuthenticateHubActivatesOnFirstContact(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	tenant := h.createTenant(t, "acme")
	created := h.createHub(t, tenant.ID, "STORE1")

	_, err := h.svc.AuthenticateHub(ctx, "")
	assert.ErrorIs(t, err, skzerrors.ErrUnauthorized)
	_, err = h.svc.AuthenticateHub(ctx, "skz_bogus")
	assert.ErrorIs(t, err, skzerrors.ErrUnauthorized)

	hub, err := h.svc.AuthenticateHub(ctx, created.APIToken)
	require.NoError(t, err)
	assert.Equal(t, string(api.HubStatusActive), hub.Status)

	// activation sticks
	stored, err := h.store.Hub().Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, string(api.HubStatusActive), stored.Status)
}

func TestRegisterDeviceMintsSequentialExternalIDs(t *testing.T) {
	h := newTestHarness(t)

	first := h.registerDirectDevice(t, "hw-0001")
	second := h.registerDirectDevice(t, "hw-0002")

	assert.Equal(t, "SKZ-D-0001", first.ExternalID)
	assert.Equal(t, "SKZ-D-0002", second.ExternalID)
	assert.Equal(t, api.DeviceStatusPending, first.Status)
	assert.NotNil(t, first.LastSeen)
}

func TestRegisterDeviceIsIdempotent(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	first := h.registerDirectDevice(t, "hw-0001")

	again, err := h.svc.RegisterDevice(ctx, api.RegisterDeviceRequest{
		HardwareID: "hw-0001",
		Mode:       api.DeviceModeDirect,
		IP:         "10.0.0.5",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, first.ExternalID, again.ExternalID)
	assert.Equal(t, "10.0.0.5", again.IP)
}

func TestRegisterDeviceValidation(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	_, err := h.svc.RegisterDevice(ctx, api.RegisterDeviceRequest{Mode: api.DeviceModeDirect})
	assert.ErrorIs(t, err, skzerrors.ErrInvalidInput)

	_, err = h.svc.RegisterDevice(ctx, api.RegisterDeviceRequest{HardwareID: "hw-1", Mode: "kiosk"})
	assert.ErrorIs(t, err, skzerrors.ErrInvalidInput)

	// hub mode without a hub
	_, err = h.svc.RegisterDevice(ctx, api.RegisterDeviceRequest{HardwareID: "hw-1", Mode: api.DeviceModeHub})
	assert.ErrorIs(t, err, skzerrors.ErrInvalidInput)
}

func TestRegisterHubDeviceUsesHubScopedIDs(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	tenant := h.createTenant(t, "acme")
	hub := h.createHub(t, tenant.ID, "STORE1")

	device, err := h.svc.RegisterDevice(ctx, api.RegisterDeviceRequest{
		HardwareID: "hw-hub-1",
		Mode:       api.DeviceModeHub,
		HubID:      &hub.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, "SKZ-H-STORE1-0001", device.ExternalID)

	// hub and direct counters are independent
	direct := h.registerDirectDevice(t, "hw-direct-1")
	assert.Equal(t, "SKZ-D-0001", direct.ExternalID)
}

func TestPairingFlow(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	tenant := h.createTenant(t, "acme")

	code, err := h.svc.RequestPairingCode(ctx, api.PairingRequest{HardwareID: "hw-tv-1"})
	require.NoError(t, err)
	assert.Len(t, code.PairingCode, 6)
	assert.Equal(t, int(h.cfg.Pairing.CodeTTL.Seconds()), code.ExpiresIn)

	status, err := h.svc.PairingStatus(ctx, "hw-tv-1")
	require.NoError(t, err)
	assert.False(t, status.Paired)
	assert.Equal(t, api.DeviceStatusPending, status.Status)

	// store metadata is mandatory and checked before the code is consumed
	_, err = h.svc.VerifyPairing(ctx, api.PairingVerifyRequest{
		PairingCode: code.PairingCode,
		TenantID:    tenant.ID,
	})
	assert.ErrorIs(t, err, skzerrors.ErrInvalidInput)

	verified, err := h.svc.VerifyPairing(ctx, api.PairingVerifyRequest{
		PairingCode:  code.PairingCode,
		TenantID:     tenant.ID,
		StoreName:    "Downtown",
		StoreAddress: "1 Main St",
	})
	require.NoError(t, err)
	assert.Equal(t, api.DeviceStatusActive, verified.Device.Status)
	require.NotNil(t, verified.Device.TenantID)
	assert.Equal(t, tenant.ID, *verified.Device.TenantID)
	assert.Equal(t, "acme", verified.Tenant.Slug)

	status, err = h.svc.PairingStatus(ctx, "hw-tv-1")
	require.NoError(t, err)
	assert.True(t, status.Paired)
	assert.Equal(t, api.DeviceStatusActive, status.Status)

	// the code is single use
	_, err = h.svc.VerifyPairing(ctx, api.PairingVerifyRequest{
		PairingCode:  code.PairingCode,
		TenantID:     tenant.ID,
		StoreName:    "Downtown",
		StoreAddress: "1 Main St",
	})
	assert.ErrorIs(t, err, skzerrors.ErrPairingCodeInvalid)
}

func TestVerifyPairingUnknownTenant(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	code, err := h.svc.RequestPairingCode(ctx, api.PairingRequest{HardwareID: "hw-tv-2"})
	require.NoError(t, err)

	_, err = h.svc.VerifyPairing(ctx, api.PairingVerifyRequest{
		PairingCode:  code.PairingCode,
		TenantID:     uuid.New(),
		StoreName:    "Downtown",
		StoreAddress: "1 Main St",
	})
	assert.ErrorIs(t, err, skzerrors.ErrNotFound)

	// the failed claim did not consume the code
	tenant := h.createTenant(t, "acme")
	_, err = h.svc.VerifyPairing(ctx, api.PairingVerifyRequest{
		PairingCode:  code.PairingCode,
		TenantID:     tenant.ID,
		StoreName:    "Downtown",
		StoreAddress: "1 Main St",
	})
	assert.NoError(t, err)
}

func TestSweepOfflineDevices(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	device := h.registerDirectDevice(t, "hw-quiet")
	require.NoError(t, h.store.Device().UpdateStatus(ctx, device.ID, api.DeviceStatusActive))

	// freshly registered: LastSeen is recent, the sweep leaves it alone
	h.svc.SweepOfflineDevices(ctx)
	got, err := h.svc.GetDevice(ctx, device.ID)
	require.NoError(t, err)
	assert.Equal(t, api.DeviceStatusActive, got.Status)

	stale := time.Now().UTC().Add(-2 * OfflineAfter)
	require.NoError(t, h.db.Model(&model.Device{}).Where("id = ?", device.ID).
		Update("last_seen", stale).Error)

	h.svc.SweepOfflineDevices(ctx)
	got, err = h.svc.GetDevice(ctx, device.ID)
	require.NoError(t, err)
	assert.Equal(t, api.DeviceStatusOffline, got.Status)
}
