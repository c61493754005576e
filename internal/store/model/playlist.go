package model

import (
	"time"

	"github.com/google/uuid"

	api "github.com/skylinezone/skyctl/internal/api/v1"
)

type Content struct {
	Base
	TenantID uuid.UUID `gorm:"type:uuid;index"`
	Name     string
	Path     string
	MimeType string
	// DurationSec is the natural play duration for video content; nil for images.
	DurationSec *int
}

type Playlist struct {
	Base
	TenantID      uuid.UUID `gorm:"type:uuid;index"`
	Name          string
	Description   *string
	TriggerType   string
	TriggerConfig *string
	LoopMode      string
	Priority      int
	StartAt       *time.Time
	EndAt         *time.Time
	IsActive      bool
	// Version increments on any content-affecting mutation; device sync state is
	// keyed to it.
	Version    int64
	SyncStatus string
}

func (p *Playlist) ToAPI() api.Playlist {
	return api.Playlist{
		ID:          p.ID,
		TenantID:    p.TenantID,
		Name:        p.Name,
		Description: p.Description,
		TriggerType: api.PlaylistTriggerType(p.TriggerType),
		LoopMode:    api.LoopMode(p.LoopMode),
		Priority:    p.Priority,
		StartAt:     p.StartAt,
		EndAt:       p.EndAt,
		IsActive:    p.IsActive,
		Version:     p.Version,
		SyncStatus:  api.PlaylistSyncStatus(p.SyncStatus),
	}
}

type PlaylistItem struct {
	Base
	PlaylistID uuid.UUID `gorm:"type:uuid;index"`
	// ContentKind tags ContentID as local or synced-catalog content.
	ContentKind      string
	ContentID        uuid.UUID `gorm:"type:uuid"`
	Position         int
	DurationOverride *int
}

func (i *PlaylistItem) ToAPI() api.PlaylistItem {
	return api.PlaylistItem{
		ID:         i.ID,
		PlaylistID: i.PlaylistID,
		Content: api.ContentRef{
			Kind: api.ContentRefKind(i.ContentKind),
			ID:   i.ContentID,
		},
		Position:         i.Position,
		DurationOverride: i.DurationOverride,
	}
}

type DevicePlaylistAssignment struct {
	Base
	DeviceID    uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_assignment_device_trigger"`
	PlaylistID  uuid.UUID `gorm:"type:uuid;index"`
	TriggerType string    `gorm:"uniqueIndex:idx_assignment_device_trigger"`
	Priority    int
	IsEnabled   bool
	StartAt     *time.Time
	EndAt       *time.Time
}

func (a *DevicePlaylistAssignment) ToAPI() api.PlaylistAssignment {
	return api.PlaylistAssignment{
		ID:          a.ID,
		DeviceID:    a.DeviceID,
		PlaylistID:  a.PlaylistID,
		TriggerType: api.TriggerType(a.TriggerType),
		Priority:    a.Priority,
		IsEnabled:   a.IsEnabled,
		StartAt:     a.StartAt,
		EndAt:       a.EndAt,
	}
}

type DevicePlaylistSync struct {
	Base
	DeviceID      uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_sync_device_playlist"`
	PlaylistID    uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_sync_device_playlist;index"`
	SyncedVersion *int64
	State         string
	LastAttempt   *time.Time
	LastSuccess   *time.Time
	Error         *string
}

func (s *DevicePlaylistSync) ToAPI() api.DeviceSyncInfo {
	return api.DeviceSyncInfo{
		DeviceID:      s.DeviceID,
		State:         api.SyncState(s.State),
		SyncedVersion: s.SyncedVersion,
		LastAttempt:   s.LastAttempt,
		LastSuccess:   s.LastSuccess,
		Error:         s.Error,
	}
}
