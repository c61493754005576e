package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	api "github.com/skylinezone/skyctl/internal/api/v1"
	"github.com/skylinezone/skyctl/internal/skzerrors"
	"github.com/skylinezone/skyctl/internal/store/model"
)

const (
	directCounterScope = "direct"
)

// HeartbeatApply is one validated item of a hub heartbeat batch.
type HeartbeatApply struct {
	DeviceID  uuid.UUID
	Status    *api.DeviceStatus
	Timestamp time.Time
}

type Device interface {
	Create(ctx context.Context, device *model.Device) (*model.Device, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Device, error)
	GetByHardwareID(ctx context.Context, hardwareID string) (*model.Device, error)
	GetByExternalID(ctx context.Context, externalID string) (*model.Device, error)
	List(ctx context.Context, tenantID uuid.UUID) ([]model.Device, error)
	TouchRegistration(ctx context.Context, id uuid.UUID, ip string) error
	Pair(ctx context.Context, id, tenantID uuid.UUID) (*model.Device, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status api.DeviceStatus) error
	SetLayout(ctx context.Context, id uuid.UUID, layoutID *uuid.UUID) error
	BumpPendingSyncVersion(ctx context.Context, id uuid.UUID) error
	// ApplyHeartbeats applies a validated batch atomically and stamps the hub.
	ApplyHeartbeats(ctx context.Context, hubID uuid.UUID, applies []HeartbeatApply) error
	// MarkOfflineSince flips active devices not seen since cutoff to offline.
	MarkOfflineSince(ctx context.Context, cutoff time.Time) (int64, error)
	InitialMigration() error
}

type DeviceStore struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

// Make sure we conform to Device interface
var _ Device = (*DeviceStore)(nil)

func NewDevice(db *gorm.DB, log logrus.FieldLogger) Device {
	return &DeviceStore{db: db, log: log}
}

func (s *DeviceStore) InitialMigration() error {
	if err := s.db.AutoMigrate(&model.Device{}); err != nil {
		return err
	}
	return s.db.AutoMigrate(&model.ExternalIDCounter{})
}

// Create mints the device's external id inside the same transaction that
// inserts the row, using a per-scope reserve-or-increment counter so that
// concurrent registrations cannot collide.
func (s *DeviceStore) Create(ctx context.Context, device *model.Device) (*model.Device, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		scope := directCounterScope
		prefix := "SKZ-D"
		if device.Mode == string(api.DeviceModeHub) {
			if device.HubID == nil {
				return skzerrors.InvalidInputf("hub_id is required for hub mode")
			}
			var hub model.Hub
			if err := tx.First(&hub, "id = ?", *device.HubID).Error; err != nil {
				return skzerrors.ErrorFromGormError(err)
			}
			scope = hub.Code
			prefix = fmt.Sprintf("SKZ-H-%s", hub.Code)
		}

		next, err := reserveExternalID(tx, scope)
		if err != nil {
			return err
		}
		device.ExternalID = fmt.Sprintf("%s-%04d", prefix, next)
		return skzerrors.ErrorFromGormError(tx.Create(device).Error)
	})
	if err != nil {
		return nil, err
	}
	return device, nil
}

// reserveExternalID increments the per-scope counter with a single UPDATE so
// concurrent transactions serialize on the row without dialect-specific
// locking clauses.
func reserveExternalID(tx *gorm.DB, scope string) (int64, error) {
	result := tx.Model(&model.ExternalIDCounter{}).Where("scope = ?", scope).
		Update("next", gorm.Expr("next + 1"))
	if result.Error != nil {
		return 0, skzerrors.ErrorFromGormError(result.Error)
	}
	if result.RowsAffected == 0 {
		counter := model.ExternalIDCounter{Scope: scope, Next: 1}
		if err := tx.Create(&counter).Error; err != nil {
			return 0, skzerrors.ErrorFromGormError(err)
		}
		return counter.Next, nil
	}
	var counter model.ExternalIDCounter
	if err := tx.First(&counter, "scope = ?", scope).Error; err != nil {
		return 0, skzerrors.ErrorFromGormError(err)
	}
	return counter.Next, nil
}

func (s *DeviceStore) Get(ctx context.Context, id uuid.UUID) (*model.Device, error) {
	var device model.Device
	result := s.db.WithContext(ctx).First(&device, "id = ?", id)
	if result.Error != nil {
		return nil, skzerrors.ErrorFromGormError(result.Error)
	}
	return &device, nil
}

func (s *DeviceStore) GetByHardwareID(ctx context.Context, hardwareID string) (*model.Device, error) {
	var device model.Device
	result := s.db.WithContext(ctx).First(&device, "hardware_id = ?", hardwareID)
	if result.Error != nil {
		return nil, skzerrors.ErrorFromGormError(result.Error)
	}
	return &device, nil
}

func (s *DeviceStore) GetByExternalID(ctx context.Context, externalID string) (*model.Device, error) {
	var device model.Device
	result := s.db.WithContext(ctx).First(&device, "external_id = ?", externalID)
	if result.Error != nil {
		return nil, skzerrors.ErrorFromGormError(result.Error)
	}
	return &device, nil
}

func (s *DeviceStore) List(ctx context.Context, tenantID uuid.UUID) ([]model.Device, error) {
	var devices []model.Device
	result := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("external_id").Find(&devices)
	return devices, skzerrors.ErrorFromGormError(result.Error)
}

func (s *DeviceStore) TouchRegistration(ctx context.Context, id uuid.UUID, ip string) error {
	updates := map[string]interface{}{"last_seen": time.Now().UTC()}
	if ip != "" {
		updates["ip"] = ip
	}
	result := s.db.WithContext(ctx).Model(&model.Device{}).Where("id = ?", id).Updates(updates)
	return skzerrors.ErrorFromGormError(result.Error)
}

func (s *DeviceStore) Pair(ctx context.Context, id, tenantID uuid.UUID) (*model.Device, error) {
	var device model.Device
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&device, "id = ?", id).Error; err != nil {
			return skzerrors.ErrorFromGormError(err)
		}
		device.TenantID = &tenantID
		device.Status = string(api.DeviceStatusActive)
		return skzerrors.ErrorFromGormError(tx.Save(&device).Error)
	})
	if err != nil {
		return nil, err
	}
	return &device, nil
}

func (s *DeviceStore) UpdateStatus(ctx context.Context, id uuid.UUID, status api.DeviceStatus) error {
	result := s.db.WithContext(ctx).Model(&model.Device{}).Where("id = ?", id).
		Update("status", string(status))
	if result.Error != nil {
		return skzerrors.ErrorFromGormError(result.Error)
	}
	if result.RowsAffected == 0 {
		return skzerrors.ErrNotFound
	}
	return nil
}

func (s *DeviceStore) SetLayout(ctx context.Context, id uuid.UUID, layoutID *uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&model.Device{}).Where("id = ?", id).Update("layout_id", layoutID)
		if result.Error != nil {
			return skzerrors.ErrorFromGormError(result.Error)
		}
		if result.RowsAffected == 0 {
			return skzerrors.ErrNotFound
		}
		return bumpPendingSync(tx, id)
	})
}

func (s *DeviceStore) BumpPendingSyncVersion(ctx context.Context, id uuid.UUID) error {
	return bumpPendingSync(s.db.WithContext(ctx), id)
}

func bumpPendingSync(tx *gorm.DB, id uuid.UUID) error {
	result := tx.Model(&model.Device{}).Where("id = ?", id).
		Update("pending_sync_version", gorm.Expr("pending_sync_version + 1"))
	return skzerrors.ErrorFromGormError(result.Error)
}

// ApplyHeartbeats applies all items and the hub stamp in one transaction:
// either every validated item applies or none.
func (s *DeviceStore) ApplyHeartbeats(ctx context.Context, hubID uuid.UUID, applies []HeartbeatApply) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, apply := range applies {
			updates := map[string]interface{}{"last_seen": apply.Timestamp}
			if apply.Status != nil {
				updates["status"] = string(*apply.Status)
			}
			if err := tx.Model(&model.Device{}).Where("id = ?", apply.DeviceID).
				Updates(updates).Error; err != nil {
				return skzerrors.ErrorFromGormError(err)
			}
		}
		result := tx.Model(&model.Hub{}).Where("id = ?", hubID).Update("last_heartbeat", now)
		if result.Error != nil {
			return skzerrors.ErrorFromGormError(result.Error)
		}
		if result.RowsAffected == 0 {
			return skzerrors.ErrNotFound
		}
		return nil
	})
}

func (s *DeviceStore) MarkOfflineSince(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Model(&model.Device{}).
		Where("status = ? AND (last_seen IS NULL OR last_seen < ?)", string(api.DeviceStatusActive), cutoff).
		Update("status", string(api.DeviceStatusOffline))
	return result.RowsAffected, skzerrors.ErrorFromGormError(result.Error)
}
