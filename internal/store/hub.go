package store

import (
	"context"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	api "github.com/skylinezone/skyctl/internal/api/v1"
	"github.com/skylinezone/skyctl/internal/skzerrors"
	"github.com/skylinezone/skyctl/internal/store/model"
)

var hubCodePattern = regexp.MustCompile(`^[A-Z]{2,4}$`)

type Hub interface {
	Create(ctx context.Context, hub *model.Hub) (*model.Hub, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Hub, error)
	GetByToken(ctx context.Context, token string) (*model.Hub, error)
	GetByCode(ctx context.Context, code string) (*model.Hub, error)
	List(ctx context.Context, tenantID uuid.UUID) ([]model.Hub, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status api.HubStatus) error
	UpdateNetworkInfo(ctx context.Context, id uuid.UUID, ip, mac, hostname string) error
	StampHeartbeat(ctx context.Context, id uuid.UUID, at time.Time) error
	InitialMigration() error
}

type HubStore struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

// Make sure we conform to Hub interface
var _ Hub = (*HubStore)(nil)

func NewHub(db *gorm.DB, log logrus.FieldLogger) Hub {
	return &HubStore{db: db, log: log}
}

func (s *HubStore) InitialMigration() error {
	return s.db.AutoMigrate(&model.Hub{})
}

func (s *HubStore) Create(ctx context.Context, hub *model.Hub) (*model.Hub, error) {
	if !hubCodePattern.MatchString(hub.Code) {
		return nil, skzerrors.InvalidInputf("hub code must be 2-4 uppercase letters")
	}
	result := s.db.WithContext(ctx).Create(hub)
	if result.Error != nil {
		return nil, skzerrors.ErrorFromGormError(result.Error)
	}
	return hub, nil
}

func (s *HubStore) Get(ctx context.Context, id uuid.UUID) (*model.Hub, error) {
	var hub model.Hub
	result := s.db.WithContext(ctx).First(&hub, "id = ?", id)
	if result.Error != nil {
		return nil, skzerrors.ErrorFromGormError(result.Error)
	}
	return &hub, nil
}

func (s *HubStore) GetByToken(ctx context.Context, token string) (*model.Hub, error) {
	var hub model.Hub
	result := s.db.WithContext(ctx).First(&hub, "api_token = ?", token)
	if result.Error != nil {
		return nil, skzerrors.ErrorFromGormError(result.Error)
	}
	return &hub, nil
}

func (s *HubStore) GetByCode(ctx context.Context, code string) (*model.Hub, error) {
	var hub model.Hub
	result := s.db.WithContext(ctx).First(&hub, "code = ?", code)
	if result.Error != nil {
		return nil, skzerrors.ErrorFromGormError(result.Error)
	}
	return &hub, nil
}

func (s *HubStore) List(ctx context.Context, tenantID uuid.UUID) ([]model.Hub, error) {
	var hubs []model.Hub
	result := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("code").Find(&hubs)
	return hubs, skzerrors.ErrorFromGormError(result.Error)
}

func (s *HubStore) UpdateStatus(ctx context.Context, id uuid.UUID, status api.HubStatus) error {
	result := s.db.WithContext(ctx).Model(&model.Hub{}).Where("id = ?", id).
		Update("status", string(status))
	if result.Error != nil {
		return skzerrors.ErrorFromGormError(result.Error)
	}
	if result.RowsAffected == 0 {
		return skzerrors.ErrNotFound
	}
	return nil
}

func (s *HubStore) UpdateNetworkInfo(ctx context.Context, id uuid.UUID, ip, mac, hostname string) error {
	result := s.db.WithContext(ctx).Model(&model.Hub{}).Where("id = ?", id).
		Updates(map[string]interface{}{"ip": ip, "mac": mac, "hostname": hostname})
	return skzerrors.ErrorFromGormError(result.Error)
}

func (s *HubStore) StampHeartbeat(ctx context.Context, id uuid.UUID, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&model.Hub{}).Where("id = ?", id).
		Update("last_heartbeat", at)
	return skzerrors.ErrorFromGormError(result.Error)
}
