package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	api "github.com/skylinezone/skyctl/internal/api/v1"
	"github.com/skylinezone/skyctl/internal/skzerrors"
	"github.com/skylinezone/skyctl/internal/store/model"
)

type Encoding interface {
	CreateMissingPerson(ctx context.Context, record *model.MissingPerson) (*model.MissingPerson, error)
	// UpsertMissingPersonByCase updates the existing row in place when the
	// case id already exists (bulk import semantics).
	UpsertMissingPersonByCase(ctx context.Context, record *model.MissingPerson) (created bool, err error)
	GetMissingPerson(ctx context.Context, id uuid.UUID) (*model.MissingPerson, error)
	GetMissingPersonByCase(ctx context.Context, caseID string) (*model.MissingPerson, error)
	ListMissingPersons(ctx context.Context) ([]model.MissingPerson, error)
	// ListEligibleMissingPersons returns active records with a usable vector,
	// ordered by case id so compilation is deterministic.
	ListEligibleMissingPersons(ctx context.Context) ([]model.MissingPerson, error)
	UpdateMissingPersonVector(ctx context.Context, id uuid.UUID, vector []byte, photoPath *string) error
	SetMissingPersonStatus(ctx context.Context, id uuid.UUID, status api.MissingPersonStatus) error
	DeleteMissingPerson(ctx context.Context, id uuid.UUID) error

	CreateLoyaltyMember(ctx context.Context, record *model.LoyaltyMember) (*model.LoyaltyMember, error)
	UpsertLoyaltyMemberByCode(ctx context.Context, record *model.LoyaltyMember) (created bool, err error)
	GetLoyaltyMember(ctx context.Context, id uuid.UUID) (*model.LoyaltyMember, error)
	ListLoyaltyMembers(ctx context.Context, tenantID uuid.UUID) ([]model.LoyaltyMember, error)
	ListEligibleLoyaltyMembers(ctx context.Context, tenantID uuid.UUID) ([]model.LoyaltyMember, error)
	UpdateLoyaltyMemberVector(ctx context.Context, id uuid.UUID, vector []byte, photoPath *string) error
	DeleteLoyaltyMember(ctx context.Context, id uuid.UUID) error

	InitialMigration() error
}

type EncodingStore struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

// Make sure we conform to Encoding interface
var _ Encoding = (*EncodingStore)(nil)

func NewEncoding(db *gorm.DB, log logrus.FieldLogger) Encoding {
	return &EncodingStore{db: db, log: log}
}

func (s *EncodingStore) InitialMigration() error {
	return s.db.AutoMigrate(&model.MissingPerson{}, &model.LoyaltyMember{})
}

func (s *EncodingStore) CreateMissingPerson(ctx context.Context, record *model.MissingPerson) (*model.MissingPerson, error) {
	result := s.db.WithContext(ctx).Create(record)
	if result.Error != nil {
		return nil, skzerrors.ErrorFromGormError(result.Error)
	}
	return record, nil
}

func (s *EncodingStore) UpsertMissingPersonByCase(ctx context.Context, record *model.MissingPerson) (bool, error) {
	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.MissingPerson
		err := tx.First(&existing, "case_id = ?", record.CaseID).Error
		if err == gorm.ErrRecordNotFound {
			created = true
			return skzerrors.ErrorFromGormError(tx.Create(record).Error)
		}
		if err != nil {
			return skzerrors.ErrorFromGormError(err)
		}
		record.ID = existing.ID
		record.CreatedAt = existing.CreatedAt
		// keep an existing vector when the import row has no photo
		if record.PendingPhoto && !existing.PendingPhoto {
			record.FeatureVector = existing.FeatureVector
			record.PendingPhoto = false
			record.PhotoPath = existing.PhotoPath
		}
		return skzerrors.ErrorFromGormError(tx.Save(record).Error)
	})
	return created, err
}

func (s *EncodingStore) GetMissingPerson(ctx context.Context, id uuid.UUID) (*model.MissingPerson, error) {
	var record model.MissingPerson
	result := s.db.WithContext(ctx).First(&record, "id = ?", id)
	if result.Error != nil {
		return nil, skzerrors.ErrorFromGormError(result.Error)
	}
	return &record, nil
}

func (s *EncodingStore) GetMissingPersonByCase(ctx context.Context, caseID string) (*model.MissingPerson, error) {
	var record model.MissingPerson
	result := s.db.WithContext(ctx).First(&record, "case_id = ?", caseID)
	if result.Error != nil {
		return nil, skzerrors.ErrorFromGormError(result.Error)
	}
	return &record, nil
}

func (s *EncodingStore) ListMissingPersons(ctx context.Context) ([]model.MissingPerson, error) {
	var records []model.MissingPerson
	result := s.db.WithContext(ctx).Order("case_id").Find(&records)
	return records, skzerrors.ErrorFromGormError(result.Error)
}

func (s *EncodingStore) ListEligibleMissingPersons(ctx context.Context) ([]model.MissingPerson, error) {
	var records []model.MissingPerson
	result := s.db.WithContext(ctx).
		Where("status = ? AND pending_photo = ?", string(api.MissingPersonActive), false).
		Order("case_id").Find(&records)
	return records, skzerrors.ErrorFromGormError(result.Error)
}

func (s *EncodingStore) UpdateMissingPersonVector(ctx context.Context, id uuid.UUID, vector []byte, photoPath *string) error {
	result := s.db.WithContext(ctx).Model(&model.MissingPerson{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"feature_vector": vector,
			"pending_photo":  false,
			"photo_path":     photoPath,
		})
	if result.Error != nil {
		return skzerrors.ErrorFromGormError(result.Error)
	}
	if result.RowsAffected == 0 {
		return skzerrors.ErrNotFound
	}
	return nil
}

func (s *EncodingStore) SetMissingPersonStatus(ctx context.Context, id uuid.UUID, status api.MissingPersonStatus) error {
	result := s.db.WithContext(ctx).Model(&model.MissingPerson{}).Where("id = ?", id).
		Update("status", string(status))
	if result.Error != nil {
		return skzerrors.ErrorFromGormError(result.Error)
	}
	if result.RowsAffected == 0 {
		return skzerrors.ErrNotFound
	}
	return nil
}

func (s *EncodingStore) DeleteMissingPerson(ctx context.Context, id uuid.UUID) error {
	result := s.db.WithContext(ctx).Delete(&model.MissingPerson{}, "id = ?", id)
	return skzerrors.ErrorFromGormError(result.Error)
}

func (s *EncodingStore) CreateLoyaltyMember(ctx context.Context, record *model.LoyaltyMember) (*model.LoyaltyMember, error) {
	result := s.db.WithContext(ctx).Create(record)
	if result.Error != nil {
		return nil, skzerrors.ErrorFromGormError(result.Error)
	}
	return record, nil
}

func (s *EncodingStore) UpsertLoyaltyMemberByCode(ctx context.Context, record *model.LoyaltyMember) (bool, error) {
	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.LoyaltyMember
		err := tx.First(&existing, "tenant_id = ? AND member_code = ?", record.TenantID, record.MemberCode).Error
		if err == gorm.ErrRecordNotFound {
			created = true
			return skzerrors.ErrorFromGormError(tx.Create(record).Error)
		}
		if err != nil {
			return skzerrors.ErrorFromGormError(err)
		}
		record.ID = existing.ID
		record.CreatedAt = existing.CreatedAt
		if record.PendingPhoto && !existing.PendingPhoto {
			record.FeatureVector = existing.FeatureVector
			record.PendingPhoto = false
			record.PhotoPath = existing.PhotoPath
		}
		return skzerrors.ErrorFromGormError(tx.Save(record).Error)
	})
	return created, err
}

func (s *EncodingStore) GetLoyaltyMember(ctx context.Context, id uuid.UUID) (*model.LoyaltyMember, error) {
	var record model.LoyaltyMember
	result := s.db.WithContext(ctx).First(&record, "id = ?", id)
	if result.Error != nil {
		return nil, skzerrors.ErrorFromGormError(result.Error)
	}
	return &record, nil
}

func (s *EncodingStore) ListLoyaltyMembers(ctx context.Context, tenantID uuid.UUID) ([]model.LoyaltyMember, error) {
	var records []model.LoyaltyMember
	result := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("member_code").Find(&records)
	return records, skzerrors.ErrorFromGormError(result.Error)
}

func (s *EncodingStore) ListEligibleLoyaltyMembers(ctx context.Context, tenantID uuid.UUID) ([]model.LoyaltyMember, error) {
	var records []model.LoyaltyMember
	result := s.db.WithContext(ctx).
		Where("tenant_id = ? AND pending_photo = ?", tenantID, false).
		Order("member_code").Find(&records)
	return records, skzerrors.ErrorFromGormError(result.Error)
}

func (s *EncodingStore) UpdateLoyaltyMemberVector(ctx context.Context, id uuid.UUID, vector []byte, photoPath *string) error {
	result := s.db.WithContext(ctx).Model(&model.LoyaltyMember{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"feature_vector": vector,
			"pending_photo":  false,
			"photo_path":     photoPath,
		})
	if result.Error != nil {
		return skzerrors.ErrorFromGormError(result.Error)
	}
	if result.RowsAffected == 0 {
		return skzerrors.ErrNotFound
	}
	return nil
}

func (s *EncodingStore) DeleteLoyaltyMember(ctx context.Context, id uuid.UUID) error {
	result := s.db.WithContext(ctx).Delete(&model.LoyaltyMember{}, "id = ?", id)
	return skzerrors.ErrorFromGormError(result.Error)
}
