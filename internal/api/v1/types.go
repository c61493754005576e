// Package v1 holds the wire types of the skyctl control-plane API.
package v1

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type DeviceMode string

const (
	DeviceModeDirect DeviceMode = "direct"
	DeviceModeHub    DeviceMode = "hub"
)

type DeviceStatus string

const (
	DeviceStatusPending DeviceStatus = "pending"
	DeviceStatusActive  DeviceStatus = "active"
	DeviceStatusOffline DeviceStatus = "offline"
	DeviceStatusError   DeviceStatus = "error"
)

type HubStatus string

const (
	HubStatusPending  HubStatus = "pending"
	HubStatusActive   HubStatus = "active"
	HubStatusInactive HubStatus = "inactive"
)

type AlertType string

const (
	AlertTypeMissingPersonMatch AlertType = "missing_person_match"
	AlertTypeLoyaltyMatch       AlertType = "loyalty_match"
)

type AlertStatus string

const (
	AlertStatusNew           AlertStatus = "new"
	AlertStatusReviewed      AlertStatus = "reviewed"
	AlertStatusEscalated     AlertStatus = "escalated"
	AlertStatusResolved      AlertStatus = "resolved"
	AlertStatusFalsePositive AlertStatus = "false_positive"
)

type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelSMS     Channel = "sms"
	ChannelWebhook Channel = "webhook"
)

type DeliveryStatus string

const (
	DeliveryStatusSent   DeliveryStatus = "sent"
	DeliveryStatusFailed DeliveryStatus = "failed"
)

// TriggerType is the closed set of audience signals that select which playlist
// plays at runtime.
type TriggerType string

const (
	TriggerDefault           TriggerType = "default"
	TriggerFaceDetected      TriggerType = "face_detected"
	TriggerAgeChild          TriggerType = "age_child"
	TriggerAgeTeen           TriggerType = "age_teen"
	TriggerAgeAdult          TriggerType = "age_adult"
	TriggerAgeSenior         TriggerType = "age_senior"
	TriggerGenderMale        TriggerType = "gender_male"
	TriggerGenderFemale      TriggerType = "gender_female"
	TriggerLoyaltyRecognized TriggerType = "loyalty_recognized"
	TriggerNcmecAlert        TriggerType = "ncmec_alert"
)

var TriggerTypes = []TriggerType{
	TriggerDefault, TriggerFaceDetected,
	TriggerAgeChild, TriggerAgeTeen, TriggerAgeAdult, TriggerAgeSenior,
	TriggerGenderMale, TriggerGenderFemale,
	TriggerLoyaltyRecognized, TriggerNcmecAlert,
}

func (t TriggerType) Valid() bool {
	for _, known := range TriggerTypes {
		if t == known {
			return true
		}
	}
	return false
}

type PlaylistTriggerType string

const (
	PlaylistTriggerTime   PlaylistTriggerType = "time"
	PlaylistTriggerEvent  PlaylistTriggerType = "event"
	PlaylistTriggerManual PlaylistTriggerType = "manual"
)

type LoopMode string

const (
	LoopModeContinuous LoopMode = "continuous"
	LoopModePlayOnce   LoopMode = "play_once"
	LoopModeScheduled  LoopMode = "scheduled"
)

type SyncState string

const (
	SyncStatePending SyncState = "pending"
	SyncStateQueued  SyncState = "queued"
	SyncStateSyncing SyncState = "syncing"
	SyncStateSynced  SyncState = "synced"
	SyncStateFailed  SyncState = "failed"
)

type PlaylistSyncStatus string

const (
	PlaylistInSync      PlaylistSyncStatus = "in_sync"
	PlaylistSyncPending PlaylistSyncStatus = "pending"
	PlaylistSyncing     PlaylistSyncStatus = "syncing"
	PlaylistSyncError   PlaylistSyncStatus = "error"
)

type Orientation string

const (
	OrientationLandscape Orientation = "landscape"
	OrientationPortrait  Orientation = "portrait"
)

type ContentSource string

const (
	ContentSourceNone     ContentSource = "none"
	ContentSourcePlaylist ContentSource = "playlist"
	ContentSourceStatic   ContentSource = "static"
	ContentSourceWidget   ContentSource = "widget"
)

type ContentMode string

const (
	ContentModeStatic   ContentMode = "static"
	ContentModePlaylist ContentMode = "playlist"
	ContentModeTicker   ContentMode = "ticker"
)

type MissingPersonStatus string

const (
	MissingPersonActive   MissingPersonStatus = "active"
	MissingPersonResolved MissingPersonStatus = "resolved"
)

// ContentRefKind tags a playlist item's content reference.
type ContentRefKind string

const (
	ContentRefLocal   ContentRefKind = "local"
	ContentRefCatalog ContentRefKind = "catalog"
)

// ContentRef is a tagged reference to either tenant-local content or content
// from the synced catalog.
type ContentRef struct {
	Kind ContentRefKind `json:"kind"`
	ID   uuid.UUID      `json:"id"`
}

func (c ContentRef) Validate() error {
	if c.Kind != ContentRefLocal && c.Kind != ContentRefCatalog {
		return fmt.Errorf("unknown content ref kind %q", c.Kind)
	}
	if c.ID == uuid.Nil {
		return fmt.Errorf("content ref id is required")
	}
	return nil
}

// RuleRecipients is the channel-matched recipient list of a notification rule.
// Exactly one field is populated, matching the rule's channel.
type RuleRecipients struct {
	Emails []string `json:"emails,omitempty"`
	Phones []string `json:"phones,omitempty"`
	URLs   []string `json:"urls,omitempty"`
}

// ForChannel returns the recipient list matching the channel.
func (r RuleRecipients) ForChannel(ch Channel) []string {
	switch ch {
	case ChannelEmail:
		return r.Emails
	case ChannelSMS:
		return r.Phones
	case ChannelWebhook:
		return r.URLs
	}
	return nil
}

// --- fleet ---

type RegisterDeviceRequest struct {
	HardwareID string     `json:"hardware_id"`
	Mode       DeviceMode `json:"mode"`
	HubID      *uuid.UUID `json:"hub_id,omitempty"`
	IP         string     `json:"ip,omitempty"`
}

type Device struct {
	ID                 uuid.UUID    `json:"id"`
	ExternalID         string       `json:"external_id"`
	HardwareID         string       `json:"hardware_id"`
	TenantID           *uuid.UUID   `json:"tenant_id,omitempty"`
	HubID              *uuid.UUID   `json:"hub_id,omitempty"`
	Mode               DeviceMode   `json:"mode"`
	Status             DeviceStatus `json:"status"`
	IP                 string       `json:"ip,omitempty"`
	LastSeen           *time.Time   `json:"last_seen,omitempty"`
	LayoutID           *uuid.UUID   `json:"layout_id,omitempty"`
	PendingSyncVersion int64        `json:"pending_sync_version"`
}

type PairingRequest struct {
	HardwareID string `json:"hardware_id"`
	IP         string `json:"ip,omitempty"`
}

type PairingCodeResponse struct {
	PairingCode string `json:"pairing_code"`
	ExpiresIn   int    `json:"expires_in"`
}

type PairingStatusResponse struct {
	Paired     bool         `json:"paired"`
	ExternalID string       `json:"external_id"`
	TenantID   *uuid.UUID   `json:"tenant_id,omitempty"`
	Status     DeviceStatus `json:"status"`
}

type PairingVerifyRequest struct {
	PairingCode  string    `json:"pairing_code"`
	TenantID     uuid.UUID `json:"tenant_id"`
	StoreName    string    `json:"store_name"`
	StoreAddress string    `json:"store_address"`
}

type PairingVerifyResponse struct {
	Device Device `json:"device"`
	Tenant Tenant `json:"tenant"`
}

type Tenant struct {
	ID   uuid.UUID `json:"id"`
	Slug string    `json:"slug"`
	Name string    `json:"name"`
}

type CreateTenantRequest struct {
	Slug string `json:"slug"`
	Name string `json:"name"`
}

type Hub struct {
	ID            uuid.UUID  `json:"id"`
	Code          string     `json:"code"`
	Name          string     `json:"name"`
	TenantID      uuid.UUID  `json:"tenant_id"`
	Status        HubStatus  `json:"status"`
	IP            string     `json:"ip,omitempty"`
	MAC           string     `json:"mac,omitempty"`
	Hostname      string     `json:"hostname,omitempty"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
	// APIToken is only populated in the create response; it is never logged.
	APIToken string `json:"api_token,omitempty"`
}

type CreateHubRequest struct {
	Code     string    `json:"code"`
	Name     string    `json:"name"`
	TenantID uuid.UUID `json:"tenant_id"`
}

type Heartbeat struct {
	DeviceExternalID string  `json:"device_external_id"`
	Status           *string `json:"status,omitempty"`
	Timestamp        *string `json:"timestamp,omitempty"`
}

type HeartbeatBatch struct {
	Heartbeats []Heartbeat `json:"heartbeats"`
}

type HeartbeatError struct {
	DeviceExternalID string `json:"device_external_id"`
	Error            string `json:"error"`
}

type HeartbeatBatchResponse struct {
	Processed        int              `json:"processed"`
	Errors           []HeartbeatError `json:"errors"`
	HubLastHeartbeat time.Time        `json:"hub_last_heartbeat"`
}

type RemoteCommandRequest struct {
	Command string `json:"command"`
}

// --- assignments ---

type AssignPlaylistRequest struct {
	PlaylistID  uuid.UUID   `json:"playlist_id"`
	TriggerType TriggerType `json:"trigger_type"`
	Priority    int         `json:"priority,omitempty"`
}

type PlaylistAssignment struct {
	ID          uuid.UUID   `json:"id"`
	DeviceID    uuid.UUID   `json:"device_id"`
	PlaylistID  uuid.UUID   `json:"playlist_id"`
	TriggerType TriggerType `json:"trigger_type"`
	Priority    int         `json:"priority"`
	IsEnabled   bool        `json:"is_enabled"`
	StartAt     *time.Time  `json:"start,omitempty"`
	EndAt       *time.Time  `json:"end,omitempty"`
}

type ToggleResponse struct {
	IsEnabled bool `json:"is_enabled"`
}

// --- encodings ---

type MissingPerson struct {
	ID                 uuid.UUID           `json:"id"`
	CaseID             string              `json:"case_id"`
	Name               string              `json:"name"`
	AgeAtDisappearance *int                `json:"age_at_disappearance,omitempty"`
	DisappearanceDate  *time.Time          `json:"disappearance_date,omitempty"`
	LastKnownLocation  *string             `json:"last_known_location,omitempty"`
	Status             MissingPersonStatus `json:"status"`
	PhotoPath          *string             `json:"photo_path,omitempty"`
	PendingPhoto       bool                `json:"pending_photo"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

type LoyaltyMember struct {
	ID                 uuid.UUID  `json:"id"`
	TenantID           uuid.UUID  `json:"tenant_id"`
	MemberCode         string     `json:"member_code"`
	Name               string     `json:"name"`
	Email              *string    `json:"email,omitempty"`
	Phone              *string    `json:"phone,omitempty"`
	AssignedPlaylistID *uuid.UUID `json:"assigned_playlist_id,omitempty"`
	LastSeenAt         *time.Time `json:"last_seen_at,omitempty"`
	LastSeenStore      *string    `json:"last_seen_store,omitempty"`
	PhotoPath          *string    `json:"photo_path,omitempty"`
	PendingPhoto       bool       `json:"pending_photo"`
}

type ImportError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

type ImportResult struct {
	Imported      int           `json:"imported"`
	Updated       int           `json:"updated"`
	Skipped       int           `json:"skipped"`
	ErrorsTotal   int           `json:"errors_total"`
	ErrorsPreview []ImportError `json:"errors_preview,omitempty"`
}

// --- index artifacts ---

type IndexArtifact struct {
	ID          uuid.UUID `json:"id"`
	Scope       string    `json:"scope"`
	Version     int64     `json:"version"`
	RecordCount int       `json:"record_count"`
	Hash        string    `json:"hash"`
	Path        string    `json:"path"`
	CreatedAt   time.Time `json:"created_at"`
}

// SidecarRecord maps an index row back to a display record.
type SidecarRecord struct {
	Idx     int            `json:"idx"`
	ID      uuid.UUID      `json:"id"`
	Display map[string]any `json:"display,omitempty"`
}

type Sidecar struct {
	Version     int64           `json:"version"`
	Scope       string          `json:"scope"`
	RecordCount int             `json:"record_count"`
	Hash        string          `json:"hash"`
	CompiledAt  time.Time       `json:"compiled_at"`
	Records     []SidecarRecord `json:"records"`
}

type CompileAccepted struct {
	TaskID string `json:"task_id"`
}

// --- alerts ---

type CreateAlertRequest struct {
	AlertType         string     `json:"alert_type"`
	TenantID          *uuid.UUID `json:"tenant_id,omitempty"`
	HubID             *uuid.UUID `json:"hub_id,omitempty"`
	DeviceID          *uuid.UUID `json:"device_id,omitempty"`
	CaseRef           *string    `json:"case_ref,omitempty"`
	MemberRef         *string    `json:"member_ref,omitempty"`
	Confidence        *float64   `json:"confidence"`
	DetectedAt        string     `json:"detected_at"`
	CapturedImagePath *string    `json:"captured_image_path,omitempty"`
}

// AlertSubject is the tagged "who" of an alert.
type AlertSubject struct {
	Type      AlertType `json:"type"`
	CaseRef   string    `json:"case_ref,omitempty"`
	MemberRef string    `json:"member_ref,omitempty"`
}

type Alert struct {
	ID                uuid.UUID    `json:"id"`
	TenantID          *uuid.UUID   `json:"tenant_id,omitempty"`
	HubID             *uuid.UUID   `json:"hub_id,omitempty"`
	DeviceID          *uuid.UUID   `json:"device_id,omitempty"`
	AlertType         AlertType    `json:"alert_type"`
	Subject           AlertSubject `json:"subject"`
	Confidence        float64      `json:"confidence"`
	CapturedImagePath *string      `json:"captured_image_path,omitempty"`
	DetectedAt        time.Time    `json:"detected_at"`
	ReceivedAt        time.Time    `json:"received_at"`
	Status            AlertStatus  `json:"status"`
	Reviewer          *string      `json:"reviewer,omitempty"`
	ReviewedAt        *time.Time   `json:"reviewed_at,omitempty"`
	Notes             *string      `json:"notes,omitempty"`
}

type DispatchCounts struct {
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Scheduled int `json:"scheduled"`
}

type CreateAlertResponse struct {
	Alert         Alert          `json:"alert"`
	Notifications DispatchCounts `json:"notifications"`
}

type ReviewAlertRequest struct {
	Status   AlertStatus `json:"status"`
	Reviewer string      `json:"reviewer"`
	Notes    *string     `json:"notes,omitempty"`
}

type RetryCounts struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

type RetryResponse struct {
	Retried RetryCounts `json:"retried"`
}

type AlertList struct {
	Items   []Alert `json:"items"`
	Total   int64   `json:"total"`
	Page    int     `json:"page"`
	PerPage int     `json:"per_page"`
}

// --- notification rules ---

type NotificationRule struct {
	ID           uuid.UUID      `json:"id"`
	Name         string         `json:"name"`
	Channel      Channel        `json:"channel"`
	Recipients   RuleRecipients `json:"recipients"`
	DelayMinutes int            `json:"delay_minutes"`
	Enabled      bool           `json:"enabled"`
	Description  *string        `json:"description,omitempty"`
}

// --- playlists & sync ---

type Playlist struct {
	ID          uuid.UUID           `json:"id"`
	TenantID    uuid.UUID           `json:"tenant_id"`
	Name        string              `json:"name"`
	Description *string             `json:"description,omitempty"`
	TriggerType PlaylistTriggerType `json:"trigger_type"`
	LoopMode    LoopMode            `json:"loop_mode"`
	Priority    int                 `json:"priority"`
	StartAt     *time.Time          `json:"start,omitempty"`
	EndAt       *time.Time          `json:"end,omitempty"`
	IsActive    bool                `json:"is_active"`
	Version     int64               `json:"version"`
	SyncStatus  PlaylistSyncStatus  `json:"sync_status"`
}

type PlaylistItem struct {
	ID               uuid.UUID  `json:"id"`
	PlaylistID       uuid.UUID  `json:"playlist_id"`
	Content          ContentRef `json:"content"`
	Position         int        `json:"position"`
	DurationOverride *int       `json:"duration_override,omitempty"`
}

type PushResponse struct {
	DeviceCount int   `json:"device_count"`
	Synced      int   `json:"synced"`
	Version     int64 `json:"version"`
}

type DeviceSyncInfo struct {
	DeviceID      uuid.UUID  `json:"device_id"`
	State         SyncState  `json:"state"`
	SyncedVersion *int64     `json:"synced_version,omitempty"`
	LastAttempt   *time.Time `json:"last_attempt,omitempty"`
	LastSuccess   *time.Time `json:"last_success,omitempty"`
	Error         *string    `json:"error,omitempty"`
}

type SyncStatusResponse struct {
	Version         int64              `json:"version"`
	AggregateStatus PlaylistSyncStatus `json:"aggregate_status"`
	DeviceCount     int                `json:"device_count"`
	SyncedCount     int                `json:"synced_count"`
	PendingCount    int                `json:"pending_count"`
	FailedCount     int                `json:"failed_count"`
	LastSyncedAt    *time.Time         `json:"last_synced_at,omitempty"`
	Devices         []DeviceSyncInfo   `json:"devices,omitempty"`
}

// --- composed layout ---

type ComposedItem struct {
	ContentID   uuid.UUID `json:"content_id"`
	URL         string    `json:"url"`
	MimeType    string    `json:"mime_type,omitempty"`
	DurationSec int       `json:"duration_sec"`
	Position    int       `json:"position"`
}

type ComposedPlaylist struct {
	PlaylistID uuid.UUID      `json:"playlist_id"`
	Name       string         `json:"name"`
	Version    int64          `json:"version"`
	LoopMode   LoopMode       `json:"loop_mode"`
	Items      []ComposedItem `json:"items"`
}

type ComposedOverride struct {
	ContentMode     ContentMode `json:"content_mode"`
	StaticFileID    *uuid.UUID  `json:"static_file_id,omitempty"`
	StaticFileURL   *string     `json:"static_file_url,omitempty"`
	PDFPageDuration int         `json:"pdf_page_duration,omitempty"`
	TickerItems     []string    `json:"ticker_items,omitempty"`
	TickerSpeed     int         `json:"ticker_speed,omitempty"`
	TickerDirection string      `json:"ticker_direction,omitempty"`
}

type ComposedTrigger struct {
	TriggerType TriggerType       `json:"trigger_type"`
	Priority    int               `json:"priority"`
	Playlist    *ComposedPlaylist `json:"playlist,omitempty"`
}

type ComposedLayer struct {
	ID            uuid.UUID         `json:"id"`
	Name          string            `json:"name"`
	LayerType     string            `json:"layer_type"`
	X             int               `json:"x"`
	Y             int               `json:"y"`
	W             int               `json:"w"`
	H             int               `json:"h"`
	Z             int               `json:"z"`
	Opacity       float64           `json:"opacity"`
	ContentSource ContentSource     `json:"content_source"`
	Playlist      *ComposedPlaylist `json:"playlist,omitempty"`
	Override      *ComposedOverride `json:"override,omitempty"`
	Triggers      []ComposedTrigger `json:"triggers,omitempty"`
	ContentConfig json.RawMessage   `json:"content_config,omitempty"`
}

type ComposedCanvas struct {
	W                 int         `json:"w"`
	H                 int         `json:"h"`
	Orientation       Orientation `json:"orientation"`
	BackgroundType    string      `json:"background_type"`
	BackgroundColor   string      `json:"background_color,omitempty"`
	BackgroundOpacity float64     `json:"background_opacity"`
}

type ComposedLayout struct {
	LayoutID *uuid.UUID      `json:"layout_id,omitempty"`
	Canvas   *ComposedCanvas `json:"canvas,omitempty"`
	Layers   []ComposedLayer `json:"layers,omitempty"`
}

type ComposedLayoutResponse struct {
	Layout             *ComposedLayout `json:"layout"`
	DeviceStatus       DeviceStatus    `json:"device_status"`
	PendingSyncVersion int64           `json:"pending_sync_version"`
}

// --- layout administration ---

type CreateLayoutRequest struct {
	TenantID          uuid.UUID   `json:"tenant_id"`
	Name              string      `json:"name"`
	CanvasW           int         `json:"canvas_w"`
	CanvasH           int         `json:"canvas_h"`
	Orientation       Orientation `json:"orientation"`
	BackgroundType    string      `json:"background_type,omitempty"`
	BackgroundColor   string      `json:"background_color,omitempty"`
	BackgroundOpacity float64     `json:"background_opacity,omitempty"`
}

type Layout struct {
	ID          uuid.UUID   `json:"id"`
	TenantID    uuid.UUID   `json:"tenant_id"`
	Name        string      `json:"name"`
	CanvasW     int         `json:"canvas_w"`
	CanvasH     int         `json:"canvas_h"`
	Orientation Orientation `json:"orientation"`
}

type CreateLayerRequest struct {
	Name          string        `json:"name"`
	LayerType     string        `json:"layer_type"`
	X             int           `json:"x"`
	Y             int           `json:"y"`
	W             int           `json:"w"`
	H             int           `json:"h"`
	Z             int           `json:"z"`
	Opacity       *float64      `json:"opacity,omitempty"`
	ContentSource ContentSource `json:"content_source"`
	PlaylistID    *uuid.UUID    `json:"playlist_id,omitempty"`
	IsVisible     *bool         `json:"is_visible,omitempty"`
}

type Layer struct {
	ID            uuid.UUID     `json:"id"`
	LayoutID      uuid.UUID     `json:"layout_id"`
	Name          string        `json:"name"`
	Z             int           `json:"z"`
	ContentSource ContentSource `json:"content_source"`
	IsVisible     bool          `json:"is_visible"`
}

type LayerOverrideRequest struct {
	ContentMode     ContentMode `json:"content_mode"`
	StaticFileID    *uuid.UUID  `json:"static_file_id,omitempty"`
	StaticFileURL   *string     `json:"static_file_url,omitempty"`
	PDFPageDuration int         `json:"pdf_page_duration,omitempty"`
	TickerItems     []string    `json:"ticker_items,omitempty"`
	TickerSpeed     int         `json:"ticker_speed,omitempty"`
	TickerDirection string      `json:"ticker_direction,omitempty"`
}

type CreateLayerTriggerRequest struct {
	PlaylistID  uuid.UUID   `json:"playlist_id"`
	TriggerType TriggerType `json:"trigger_type"`
	Priority    int         `json:"priority"`
}

type AssignLayoutRequest struct {
	LayoutID uuid.UUID  `json:"layout_id"`
	Priority int        `json:"priority,omitempty"`
	StartAt  *time.Time `json:"start,omitempty"`
	EndAt    *time.Time `json:"end,omitempty"`
}

// Error is the wire shape of all API errors.
type Error struct {
	Error string `json:"error"`
}
