package store

import (
	"context"
	"regexp"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/skylinezone/skyctl/internal/skzerrors"
	"github.com/skylinezone/skyctl/internal/store/model"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

type Tenant interface {
	Create(ctx context.Context, slug, name string) (*model.Tenant, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*model.Tenant, error)
	List(ctx context.Context) ([]model.Tenant, error)
	InitialMigration() error
}

type TenantStore struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

// Make sure we conform to Tenant interface
var _ Tenant = (*TenantStore)(nil)

func NewTenant(db *gorm.DB, log logrus.FieldLogger) Tenant {
	return &TenantStore{db: db, log: log}
}

func (s *TenantStore) InitialMigration() error {
	return s.db.AutoMigrate(&model.Tenant{})
}

func (s *TenantStore) Create(ctx context.Context, slug, name string) (*model.Tenant, error) {
	if !slugPattern.MatchString(slug) {
		return nil, skzerrors.InvalidInputf("slug must match [a-z0-9-]+")
	}
	tenant := model.Tenant{Slug: slug, Name: name}
	result := s.db.WithContext(ctx).Create(&tenant)
	if result.Error != nil {
		return nil, skzerrors.ErrorFromGormError(result.Error)
	}
	return &tenant, nil
}

func (s *TenantStore) Get(ctx context.Context, id uuid.UUID) (*model.Tenant, error) {
	var tenant model.Tenant
	result := s.db.WithContext(ctx).First(&tenant, "id = ?", id)
	if result.Error != nil {
		return nil, skzerrors.ErrorFromGormError(result.Error)
	}
	return &tenant, nil
}

func (s *TenantStore) GetBySlug(ctx context.Context, slug string) (*model.Tenant, error) {
	var tenant model.Tenant
	result := s.db.WithContext(ctx).First(&tenant, "slug = ?", slug)
	if result.Error != nil {
		return nil, skzerrors.ErrorFromGormError(result.Error)
	}
	return &tenant, nil
}

func (s *TenantStore) List(ctx context.Context) ([]model.Tenant, error) {
	var tenants []model.Tenant
	result := s.db.WithContext(ctx).Order("slug").Find(&tenants)
	return tenants, skzerrors.ErrorFromGormError(result.Error)
}
