package model

import (
	"time"

	"github.com/google/uuid"

	api "github.com/skylinezone/skyctl/internal/api/v1"
)

// MissingPerson is a global catalog record; it has no tenant owner.
type MissingPerson struct {
	Base
	CaseID             string `gorm:"uniqueIndex"`
	Name               string
	AgeAtDisappearance *int
	DisappearanceDate  *time.Time
	LastKnownLocation  *string
	Status             string `gorm:"index"`
	// FeatureVector is exactly D*4 bytes of little-endian float32s. An all-zero
	// vector with PendingPhoto set means the record was imported without a photo.
	FeatureVector []byte
	PendingPhoto  bool
	PhotoPath     *string
}

func (m *MissingPerson) ToAPI() api.MissingPerson {
	return api.MissingPerson{
		ID:                 m.ID,
		CaseID:             m.CaseID,
		Name:               m.Name,
		AgeAtDisappearance: m.AgeAtDisappearance,
		DisappearanceDate:  m.DisappearanceDate,
		LastKnownLocation:  m.LastKnownLocation,
		Status:             api.MissingPersonStatus(m.Status),
		PhotoPath:          m.PhotoPath,
		PendingPhoto:       m.PendingPhoto,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

type LoyaltyMember struct {
	Base
	TenantID           uuid.UUID `gorm:"type:uuid;uniqueIndex:idx_member_tenant_code"`
	MemberCode         string    `gorm:"uniqueIndex:idx_member_tenant_code"`
	Name               string
	Email              *string
	Phone              *string
	AssignedPlaylistID *uuid.UUID `gorm:"type:uuid"`
	LastSeenAt         *time.Time
	LastSeenStore      *string
	FeatureVector      []byte
	PendingPhoto       bool
	PhotoPath          *string
}

func (m *LoyaltyMember) ToAPI() api.LoyaltyMember {
	return api.LoyaltyMember{
		ID:                 m.ID,
		TenantID:           m.TenantID,
		MemberCode:         m.MemberCode,
		Name:               m.Name,
		Email:              m.Email,
		Phone:              m.Phone,
		AssignedPlaylistID: m.AssignedPlaylistID,
		LastSeenAt:         m.LastSeenAt,
		LastSeenStore:      m.LastSeenStore,
		PhotoPath:          m.PhotoPath,
		PendingPhoto:       m.PendingPhoto,
	}
}

// IndexVersionCounter backs the atomic per-scope version acquisition of the
// compiler (step 1 of the compile algorithm).
type IndexVersionCounter struct {
	Scope string `gorm:"primaryKey"`
	Next  int64
}

// IndexArtifact records a compiled, hash-sealed index version. The file and its
// JSON sidecar at Path are owned by this row.
type IndexArtifact struct {
	Base
	Scope       string `gorm:"uniqueIndex:idx_artifact_scope_version"`
	Version     int64  `gorm:"uniqueIndex:idx_artifact_scope_version"`
	RecordCount int
	Hash        string
	Path        string
}

func (a *IndexArtifact) ToAPI() api.IndexArtifact {
	return api.IndexArtifact{
		ID:          a.ID,
		Scope:       a.Scope,
		Version:     a.Version,
		RecordCount: a.RecordCount,
		Hash:        a.Hash,
		Path:        a.Path,
		CreatedAt:   a.CreatedAt,
	}
}
