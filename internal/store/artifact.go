package store

import (
	"context"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/skylinezone/skyctl/internal/skzerrors"
	"github.com/skylinezone/skyctl/internal/store/model"
)

type Artifact interface {
	// NextVersion atomically reserves the next per-scope version number.
	NextVersion(ctx context.Context, scope string) (int64, error)
	Create(ctx context.Context, artifact *model.IndexArtifact) (*model.IndexArtifact, error)
	Latest(ctx context.Context, scope string) (*model.IndexArtifact, error)
	ByVersion(ctx context.Context, scope string, version int64) (*model.IndexArtifact, error)
	List(ctx context.Context, scope string) ([]model.IndexArtifact, error)
	// PruneBeyond deletes registry rows beyond the keep newest and returns the
	// removed rows so the caller can unlink their files.
	PruneBeyond(ctx context.Context, scope string, keep int) ([]model.IndexArtifact, error)
	InitialMigration() error
}

type ArtifactStore struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

// Make sure we conform to Artifact interface
var _ Artifact = (*ArtifactStore)(nil)

func NewArtifact(db *gorm.DB, log logrus.FieldLogger) Artifact {
	return &ArtifactStore{db: db, log: log}
}

func (s *ArtifactStore) InitialMigration() error {
	return s.db.AutoMigrate(&model.IndexArtifact{}, &model.IndexVersionCounter{})
}

func (s *ArtifactStore) NextVersion(ctx context.Context, scope string) (int64, error) {
	var reserved int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// single-UPDATE increment serializes concurrent compiles on the row
		result := tx.Model(&model.IndexVersionCounter{}).Where("scope = ?", scope).
			Update("next", gorm.Expr("next + 1"))
		if result.Error != nil {
			return skzerrors.ErrorFromGormError(result.Error)
		}
		if result.RowsAffected == 0 {
			counter := model.IndexVersionCounter{Scope: scope, Next: 1}
			if err := tx.Create(&counter).Error; err != nil {
				return skzerrors.ErrorFromGormError(err)
			}
			reserved = counter.Next
			return nil
		}
		var counter model.IndexVersionCounter
		if err := tx.First(&counter, "scope = ?", scope).Error; err != nil {
			return skzerrors.ErrorFromGormError(err)
		}
		reserved = counter.Next
		return nil
	})
	return reserved, err
}

func (s *ArtifactStore) Create(ctx context.Context, artifact *model.IndexArtifact) (*model.IndexArtifact, error) {
	result := s.db.WithContext(ctx).Create(artifact)
	if result.Error != nil {
		return nil, skzerrors.ErrorFromGormError(result.Error)
	}
	return artifact, nil
}

func (s *ArtifactStore) Latest(ctx context.Context, scope string) (*model.IndexArtifact, error) {
	var artifact model.IndexArtifact
	result := s.db.WithContext(ctx).Where("scope = ?", scope).
		Order("version DESC").First(&artifact)
	if result.Error != nil {
		return nil, skzerrors.ErrorFromGormError(result.Error)
	}
	return &artifact, nil
}

func (s *ArtifactStore) ByVersion(ctx context.Context, scope string, version int64) (*model.IndexArtifact, error) {
	var artifact model.IndexArtifact
	result := s.db.WithContext(ctx).First(&artifact, "scope = ? AND version = ?", scope, version)
	if result.Error != nil {
		return nil, skzerrors.ErrorFromGormError(result.Error)
	}
	return &artifact, nil
}

func (s *ArtifactStore) List(ctx context.Context, scope string) ([]model.IndexArtifact, error) {
	var artifacts []model.IndexArtifact
	result := s.db.WithContext(ctx).Where("scope = ?", scope).
		Order("version DESC").Find(&artifacts)
	return artifacts, skzerrors.ErrorFromGormError(result.Error)
}

func (s *ArtifactStore) PruneBeyond(ctx context.Context, scope string, keep int) ([]model.IndexArtifact, error) {
	var pruned []model.IndexArtifact
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("scope = ?", scope).
			Order("version DESC").Limit(1000).Offset(keep).Find(&pruned).Error; err != nil {
			return skzerrors.ErrorFromGormError(err)
		}
		for i := range pruned {
			if err := tx.Delete(&model.IndexArtifact{}, "id = ?", pruned[i].ID).Error; err != nil {
				return skzerrors.ErrorFromGormError(err)
			}
		}
		return nil
	})
	return pruned, err
}
