package model

import (
	"time"

	"github.com/google/uuid"
)

type Layout struct {
	Base
	TenantID          uuid.UUID `gorm:"type:uuid;index"`
	Name              string
	CanvasW           int
	CanvasH           int
	Orientation       string
	BackgroundType    string
	BackgroundColor   string
	BackgroundOpacity float64
	BackgroundContent *uuid.UUID `gorm:"type:uuid"`
	IsTemplate        bool
}

// DeviceLayoutAssignment schedules a layout onto a device. It is consulted only
// when the device has no directly pinned layout.
type DeviceLayoutAssignment struct {
	Base
	DeviceID  uuid.UUID `gorm:"type:uuid;index"`
	LayoutID  uuid.UUID `gorm:"type:uuid"`
	Priority  int
	IsEnabled bool
	StartAt   *time.Time
	EndAt     *time.Time
}

type Layer struct {
	Base
	LayoutID  uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_layer_layout_z"`
	Name      string
	LayerType string
	X         int
	Y         int
	W         int
	H         int
	// Z stacking order is unique within a layout.
	Z               int `gorm:"uniqueIndex:idx_layer_layout_z"`
	Opacity         float64
	BackgroundType  string
	BackgroundColor *string
	IsVisible       bool
	IsLocked        bool
	ContentSource   string
	PlaylistID      *uuid.UUID `gorm:"type:uuid"`
	ContentID       *uuid.UUID `gorm:"type:uuid"`
	IsPrimary       bool
	ContentConfig   *string
}

type DeviceLayerOverride struct {
	Base
	DeviceID        uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_override_device_layer"`
	LayerID         uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_override_device_layer"`
	ContentMode     string
	StaticFileID    *uuid.UUID `gorm:"type:uuid"`
	StaticFileURL   *string
	PDFPageDuration int
	// TickerItems is a JSON-encoded string array.
	TickerItems     *string
	TickerSpeed     int
	TickerDirection string
}

type LayerPlaylistTrigger struct {
	Base
	DeviceID    uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_trigger_device_layer_playlist"`
	LayerID     uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_trigger_device_layer_playlist"`
	PlaylistID  uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_trigger_device_layer_playlist"`
	TriggerType string
	Priority    int
}
