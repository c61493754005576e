package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/skylinezone/skyctl/internal/skzerrors"
	"github.com/skylinezone/skyctl/internal/store/model"
)

type Layout interface {
	Create(ctx context.Context, layout *model.Layout) (*model.Layout, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Layout, error)
	List(ctx context.Context, tenantID uuid.UUID) ([]model.Layout, error)

	CreateLayer(ctx context.Context, layer *model.Layer) (*model.Layer, error)
	GetLayer(ctx context.Context, id uuid.UUID) (*model.Layer, error)
	// ListLayers returns the layout's layers in ascending z order.
	ListLayers(ctx context.Context, layoutID uuid.UUID) ([]model.Layer, error)
	UpdateLayer(ctx context.Context, layer *model.Layer) error

	GetOverride(ctx context.Context, deviceID, layerID uuid.UUID) (*model.DeviceLayerOverride, error)
	UpsertOverride(ctx context.Context, override *model.DeviceLayerOverride) (*model.DeviceLayerOverride, error)

	ListTriggers(ctx context.Context, deviceID, layerID uuid.UUID) ([]model.LayerPlaylistTrigger, error)
	CreateTrigger(ctx context.Context, trigger *model.LayerPlaylistTrigger) (*model.LayerPlaylistTrigger, error)
	DeleteTrigger(ctx context.Context, id uuid.UUID) error

	ListDeviceAssignments(ctx context.Context, deviceID uuid.UUID) ([]model.DeviceLayoutAssignment, error)
	CreateDeviceAssignment(ctx context.Context, assignment *model.DeviceLayoutAssignment) (*model.DeviceLayoutAssignment, error)

	InitialMigration() error
}

type LayoutStore struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

// Make sure we conform to Layout interface
var _ Layout = (*LayoutStore)(nil)

func NewLayout(db *gorm.DB, log logrus.FieldLogger) Layout {
	return &LayoutStore{db: db, log: log}
}

func (s *LayoutStore) InitialMigration() error {
	return s.db.AutoMigrate(
		&model.Layout{},
		&model.Layer{},
		&model.DeviceLayerOverride{},
		&model.LayerPlaylistTrigger{},
		&model.DeviceLayoutAssignment{},
	)
}

func (s *LayoutStore) Create(ctx context.Context, layout *model.Layout) (*model.Layout, error) {
	result := s.db.WithContext(ctx).Create(layout)
	if result.Error != nil {
		return nil, skzerrors.ErrorFromGormError(result.Error)
	}
	return layout, nil
}

func (s *LayoutStore) Get(ctx context.Context, id uuid.UUID) (*model.Layout, error) {
	var layout model.Layout
	result := s.db.WithContext(ctx).First(&layout, "id = ?", id)
	if result.Error != nil {
		return nil, skzerrors.ErrorFromGormError(result.Error)
	}
	return &layout, nil
}

func (s *LayoutStore) List(ctx context.Context, tenantID uuid.UUID) ([]model.Layout, error) {
	var layouts []model.Layout
	result := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("name").Find(&layouts)
	return layouts, skzerrors.ErrorFromGormError(result.Error)
}

func (s *LayoutStore) CreateLayer(ctx context.Context, layer *model.Layer) (*model.Layer, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.Layer{}).
			Where("layout_id = ? AND z = ?", layer.LayoutID, layer.Z).
			Count(&count).Error; err != nil {
			return skzerrors.ErrorFromGormError(err)
		}
		if count > 0 {
			return skzerrors.ErrDuplicateKey
		}
		return skzerrors.ErrorFromGormError(tx.Create(layer).Error)
	})
	if err != nil {
		return nil, err
	}
	return layer, nil
}

func (s *LayoutStore) GetLayer(ctx context.Context, id uuid.UUID) (*model.Layer, error) {
	var layer model.Layer
	result := s.db.WithContext(ctx).First(&layer, "id = ?", id)
	if result.Error != nil {
		return nil, skzerrors.ErrorFromGormError(result.Error)
	}
	return &layer, nil
}

func (s *LayoutStore) ListLayers(ctx context.Context, layoutID uuid.UUID) ([]model.Layer, error) {
	var layers []model.Layer
	result := s.db.WithContext(ctx).Where("layout_id = ?", layoutID).Order("z").Find(&layers)
	return layers, skzerrors.ErrorFromGormError(result.Error)
}

func (s *LayoutStore) UpdateLayer(ctx context.Context, layer *model.Layer) error {
	result := s.db.WithContext(ctx).Save(layer)
	return skzerrors.ErrorFromGormError(result.Error)
}

func (s *LayoutStore) GetOverride(ctx context.Context, deviceID, layerID uuid.UUID) (*model.DeviceLayerOverride, error) {
	var override model.DeviceLayerOverride
	result := s.db.WithContext(ctx).
		First(&override, "device_id = ? AND layer_id = ?", deviceID, layerID)
	if result.Error != nil {
		return nil, skzerrors.ErrorFromGormError(result.Error)
	}
	return &override, nil
}

func (s *LayoutStore) UpsertOverride(ctx context.Context, override *model.DeviceLayerOverride) (*model.DeviceLayerOverride, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.DeviceLayerOverride
		err := tx.First(&existing, "device_id = ? AND layer_id = ?", override.DeviceID, override.LayerID).Error
		if err == gorm.ErrRecordNotFound {
			return skzerrors.ErrorFromGormError(tx.Create(override).Error)
		}
		if err != nil {
			return skzerrors.ErrorFromGormError(err)
		}
		override.ID = existing.ID
		override.CreatedAt = existing.CreatedAt
		return skzerrors.ErrorFromGormError(tx.Save(override).Error)
	})
	if err != nil {
		return nil, err
	}
	return override, nil
}

func (s *LayoutStore) ListTriggers(ctx context.Context, deviceID, layerID uuid.UUID) ([]model.LayerPlaylistTrigger, error) {
	var triggers []model.LayerPlaylistTrigger
	result := s.db.WithContext(ctx).
		Where("device_id = ? AND layer_id = ?", deviceID, layerID).
		Order("priority DESC").Find(&triggers)
	return triggers, skzerrors.ErrorFromGormError(result.Error)
}

func (s *LayoutStore) CreateTrigger(ctx context.Context, trigger *model.LayerPlaylistTrigger) (*model.LayerPlaylistTrigger, error) {
	result := s.db.WithContext(ctx).Create(trigger)
	if result.Error != nil {
		return nil, skzerrors.ErrorFromGormError(result.Error)
	}
	return trigger, nil
}

func (s *LayoutStore) DeleteTrigger(ctx context.Context, id uuid.UUID) error {
	result := s.db.WithContext(ctx).Delete(&model.LayerPlaylistTrigger{}, "id = ?", id)
	if result.Error != nil {
		return skzerrors.ErrorFromGormError(result.Error)
	}
	if result.RowsAffected == 0 {
		return skzerrors.ErrNotFound
	}
	return nil
}

func (s *LayoutStore) ListDeviceAssignments(ctx context.Context, deviceID uuid.UUID) ([]model.DeviceLayoutAssignment, error) {
	var assignments []model.DeviceLayoutAssignment
	result := s.db.WithContext(ctx).
		Where("device_id = ? AND is_enabled = ?", deviceID, true).
		Order("priority DESC").Find(&assignments)
	return assignments, skzerrors.ErrorFromGormError(result.Error)
}

func (s *LayoutStore) CreateDeviceAssignment(ctx context.Context, assignment *model.DeviceLayoutAssignment) (*model.DeviceLayoutAssignment, error) {
	result := s.db.WithContext(ctx).Create(assignment)
	if result.Error != nil {
		return nil, skzerrors.ErrorFromGormError(result.Error)
	}
	return assignment, nil
}
