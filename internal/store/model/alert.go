package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	api "github.com/skylinezone/skyctl/internal/api/v1"
)

type Alert struct {
	Base
	TenantID          *uuid.UUID `gorm:"type:uuid;index"`
	HubID             *uuid.UUID `gorm:"type:uuid"`
	DeviceID          *uuid.UUID `gorm:"type:uuid"`
	AlertType         string     `gorm:"index"`
	CaseRef           *string
	MemberRef         *string
	Confidence        float64
	CapturedImagePath *string
	DetectedAt        time.Time
	ReceivedAt        time.Time
	Status            string `gorm:"index"`
	Reviewer          *string
	ReviewedAt        *time.Time
	Notes             *string

	NotificationLogs []NotificationLog `gorm:"constraint:OnDelete:CASCADE"`
}

func (a *Alert) ToAPI() api.Alert {
	subject := api.AlertSubject{Type: api.AlertType(a.AlertType)}
	if a.CaseRef != nil {
		subject.CaseRef = *a.CaseRef
	}
	if a.MemberRef != nil {
		subject.MemberRef = *a.MemberRef
	}
	return api.Alert{
		ID:                a.ID,
		TenantID:          a.TenantID,
		HubID:             a.HubID,
		DeviceID:          a.DeviceID,
		AlertType:         api.AlertType(a.AlertType),
		Subject:           subject,
		Confidence:        a.Confidence,
		CapturedImagePath: a.CapturedImagePath,
		DetectedAt:        a.DetectedAt,
		ReceivedAt:        a.ReceivedAt,
		Status:            api.AlertStatus(a.Status),
		Reviewer:          a.Reviewer,
		ReviewedAt:        a.ReviewedAt,
		Notes:             a.Notes,
	}
}

type NotificationRule struct {
	Base
	Name    string `gorm:"index"`
	Channel string
	// Recipients is the JSON-encoded api.RuleRecipients for the channel.
	Recipients   string
	DelayMinutes int
	Enabled      bool
	Description  *string
}

func (r *NotificationRule) ToAPI() (api.NotificationRule, error) {
	var recipients api.RuleRecipients
	if err := json.Unmarshal([]byte(r.Recipients), &recipients); err != nil {
		return api.NotificationRule{}, err
	}
	return api.NotificationRule{
		ID:           r.ID,
		Name:         r.Name,
		Channel:      api.Channel(r.Channel),
		Recipients:   recipients,
		DelayMinutes: r.DelayMinutes,
		Enabled:      r.Enabled,
		Description:  r.Description,
	}, nil
}

// NotificationLog is the append-only audit of delivery attempts. The partial
// unique index on (alert_id, channel, recipient) where status='sent' enforces
// at-most-once delivery per recipient.
type NotificationLog struct {
	Base
	AlertID           uuid.UUID `gorm:"type:uuid;index"`
	Channel           string
	Recipient         string
	SentAt            time.Time
	Status            string
	Error             *string
	ProviderMessageID *string
}
