package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	api "github.com/skylinezone/skyctl/internal/api/v1"
	"github.com/skylinezone/skyctl/internal/skzerrors"
	"github.com/skylinezone/skyctl/internal/store/model"
)

// AlertListParams filters the paginated alert list.
type AlertListParams struct {
	Status   *api.AlertStatus
	Type     *api.AlertType
	Since    *time.Time
	TenantID *uuid.UUID
	Page     int
	PerPage  int
}

type Alert interface {
	Create(ctx context.Context, alert *model.Alert) (*model.Alert, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Alert, error)
	List(ctx context.Context, params AlertListParams) ([]model.Alert, int64, error)
	UpdateReview(ctx context.Context, id uuid.UUID, status api.AlertStatus, reviewer string, notes *string) (*model.Alert, error)
	SetCapturedImagePath(ctx context.Context, id uuid.UUID, path string) (*model.Alert, error)
	Delete(ctx context.Context, id uuid.UUID) error
	InitialMigration() error
}

type AlertStore struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

// Make sure we conform to Alert interface
var _ Alert = (*AlertStore)(nil)

func NewAlert(db *gorm.DB, log logrus.FieldLogger) Alert {
	return &AlertStore{db: db, log: log}
}

func (s *AlertStore) InitialMigration() error {
	return s.db.AutoMigrate(&model.Alert{})
}

func (s *AlertStore) Create(ctx context.Context, alert *model.Alert) (*model.Alert, error) {
	result := s.db.WithContext(ctx).Create(alert)
	if result.Error != nil {
		return nil, skzerrors.ErrorFromGormError(result.Error)
	}
	return alert, nil
}

func (s *AlertStore) Get(ctx context.Context, id uuid.UUID) (*model.Alert, error) {
	var alert model.Alert
	result := s.db.WithContext(ctx).First(&alert, "id = ?", id)
	if result.Error != nil {
		return nil, skzerrors.ErrorFromGormError(result.Error)
	}
	return &alert, nil
}

func (s *AlertStore) List(ctx context.Context, params AlertListParams) ([]model.Alert, int64, error) {
	query := s.db.WithContext(ctx).Model(&model.Alert{})
	if params.Status != nil {
		query = query.Where("status = ?", string(*params.Status))
	}
	if params.Type != nil {
		query = query.Where("alert_type = ?", string(*params.Type))
	}
	if params.Since != nil {
		query = query.Where("received_at >= ?", *params.Since)
	}
	if params.TenantID != nil {
		query = query.Where("tenant_id = ?", *params.TenantID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, skzerrors.ErrorFromGormError(err)
	}

	page := params.Page
	if page < 1 {
		page = 1
	}
	perPage := params.PerPage
	if perPage < 1 || perPage > 200 {
		perPage = 50
	}

	var alerts []model.Alert
	result := query.Order("received_at DESC").
		Limit(perPage).Offset((page - 1) * perPage).Find(&alerts)
	return alerts, total, skzerrors.ErrorFromGormError(result.Error)
}

func (s *AlertStore) UpdateReview(ctx context.Context, id uuid.UUID, status api.AlertStatus, reviewer string, notes *string) (*model.Alert, error) {
	var alert model.Alert
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&alert, "id = ?", id).Error; err != nil {
			return skzerrors.ErrorFromGormError(err)
		}
		now := time.Now().UTC()
		alert.Status = string(status)
		alert.Reviewer = &reviewer
		alert.ReviewedAt = &now
		if notes != nil {
			alert.Notes = notes
		}
		return skzerrors.ErrorFromGormError(tx.Save(&alert).Error)
	})
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

func (s *AlertStore) SetCapturedImagePath(ctx context.Context, id uuid.UUID, path string) (*model.Alert, error) {
	result := s.db.WithContext(ctx).Model(&model.Alert{}).
		Where("id = ?", id).Update("captured_image_path", path)
	if result.Error != nil {
		return nil, skzerrors.ErrorFromGormError(result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, skzerrors.ErrNotFound
	}
	return s.Get(ctx, id)
}

func (s *AlertStore) Delete(ctx context.Context, id uuid.UUID) error {
	// notification logs cascade with the alert
	result := s.db.WithContext(ctx).Select("NotificationLogs").Delete(&model.Alert{Base: model.Base{ID: id}})
	if result.Error != nil {
		return skzerrors.ErrorFromGormError(result.Error)
	}
	if result.RowsAffected == 0 {
		return skzerrors.ErrNotFound
	}
	return nil
}
