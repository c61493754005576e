package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	api "github.com/skylinezone/skyctl/internal/api/v1"
)

type Tenant struct {
	Base
	Slug string `gorm:"uniqueIndex"`
	Name string
}

func (t *Tenant) ToAPI() api.Tenant {
	return api.Tenant{ID: t.ID, Slug: t.Slug, Name: t.Name}
}

type Hub struct {
	Base
	Code          string `gorm:"uniqueIndex"`
	Name          string
	TenantID      uuid.UUID `gorm:"type:uuid;index"`
	Status        string
	IP            string
	MAC           string
	Hostname      string
	LastHeartbeat *time.Time
	// Opaque bearer token minted at creation. Never logged.
	APIToken string `gorm:"index"`
}

func (h *Hub) ToAPI() api.Hub {
	return api.Hub{
		ID:            h.ID,
		Code:          h.Code,
		Name:          h.Name,
		TenantID:      h.TenantID,
		Status:        api.HubStatus(h.Status),
		IP:            h.IP,
		MAC:           h.MAC,
		Hostname:      h.Hostname,
		LastHeartbeat: h.LastHeartbeat,
	}
}

type Device struct {
	Base
	ExternalID string `gorm:"uniqueIndex"`
	HardwareID string `gorm:"uniqueIndex"`
	TenantID   *uuid.UUID `gorm:"type:uuid;index"`
	HubID      *uuid.UUID `gorm:"type:uuid;index"`
	Mode       string
	Status     string `gorm:"index"`
	IP         string
	LastSeen   *time.Time
	LayoutID   *uuid.UUID `gorm:"type:uuid"`
	// Monotonic counter the edge polls until it has observed the current value.
	PendingSyncVersion int64
}

func (d *Device) ToAPI() api.Device {
	return api.Device{
		ID:                 d.ID,
		ExternalID:         d.ExternalID,
		HardwareID:         d.HardwareID,
		TenantID:           d.TenantID,
		HubID:              d.HubID,
		Mode:               api.DeviceMode(d.Mode),
		Status:             api.DeviceStatus(d.Status),
		IP:                 d.IP,
		LastSeen:           d.LastSeen,
		LayoutID:           d.LayoutID,
		PendingSyncVersion: d.PendingSyncVersion,
	}
}

// ExternalIDCounter backs the transactional reserve-or-increment used when
// minting SKZ-D-NNNN / SKZ-H-<code>-NNNN external ids. Scope is "direct" or the
// hub code.
type ExternalIDCounter struct {
	Scope string `gorm:"primaryKey"`
	Next  int64
}

func DeviceListToAPI(devices []Device) []api.Device {
	return lo.Map(devices, func(d Device, _ int) api.Device { return d.ToAPI() })
}
