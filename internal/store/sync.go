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

type Sync interface {
	Get(ctx context.Context, deviceID, playlistID uuid.UUID) (*model.DevicePlaylistSync, error)
	// Upsert ensures a sync row exists for the pair, creating it in pending.
	Upsert(ctx context.Context, deviceID, playlistID uuid.UUID) (*model.DevicePlaylistSync, error)
	ListByPlaylist(ctx context.Context, playlistID uuid.UUID) ([]model.DevicePlaylistSync, error)
	MarkSyncing(ctx context.Context, deviceID, playlistID uuid.UUID) error
	MarkSynced(ctx context.Context, deviceID, playlistID uuid.UUID, version int64) error
	MarkFailed(ctx context.Context, deviceID, playlistID uuid.UUID, errMsg string) error
	InitialMigration() error
}

type SyncStore struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

// Make sure we conform to Sync interface
var _ Sync = (*SyncStore)(nil)

func NewSync(db *gorm.DB, log logrus.FieldLogger) Sync {
	return &SyncStore{db: db, log: log}
}

func (s *SyncStore) InitialMigration() error {
	return s.db.AutoMigrate(&model.DevicePlaylistSync{})
}

func (s *SyncStore) Get(ctx context.Context, deviceID, playlistID uuid.UUID) (*model.DevicePlaylistSync, error) {
	var row model.DevicePlaylistSync
	result := s.db.WithContext(ctx).
		First(&row, "device_id = ? AND playlist_id = ?", deviceID, playlistID)
	if result.Error != nil {
		return nil, skzerrors.ErrorFromGormError(result.Error)
	}
	return &row, nil
}

func (s *SyncStore) Upsert(ctx context.Context, deviceID, playlistID uuid.UUID) (*model.DevicePlaylistSync, error) {
	var row model.DevicePlaylistSync
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.First(&row, "device_id = ? AND playlist_id = ?", deviceID, playlistID).Error
		if err == gorm.ErrRecordNotFound {
			row = model.DevicePlaylistSync{
				DeviceID:   deviceID,
				PlaylistID: playlistID,
				State:      string(api.SyncStatePending),
			}
			return skzerrors.ErrorFromGormError(tx.Create(&row).Error)
		}
		return skzerrors.ErrorFromGormError(err)
	})
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *SyncStore) ListByPlaylist(ctx context.Context, playlistID uuid.UUID) ([]model.DevicePlaylistSync, error) {
	var rows []model.DevicePlaylistSync
	result := s.db.WithContext(ctx).Where("playlist_id = ?", playlistID).Find(&rows)
	return rows, skzerrors.ErrorFromGormError(result.Error)
}

func (s *SyncStore) MarkSyncing(ctx context.Context, deviceID, playlistID uuid.UUID) error {
	return s.update(ctx, deviceID, playlistID, map[string]interface{}{
		"state":        string(api.SyncStateSyncing),
		"last_attempt": time.Now().UTC(),
		"error":        nil,
	})
}

func (s *SyncStore) MarkSynced(ctx context.Context, deviceID, playlistID uuid.UUID, version int64) error {
	return s.update(ctx, deviceID, playlistID, map[string]interface{}{
		"state":          string(api.SyncStateSynced),
		"synced_version": version,
		"last_success":   time.Now().UTC(),
		"error":          nil,
	})
}

func (s *SyncStore) MarkFailed(ctx context.Context, deviceID, playlistID uuid.UUID, errMsg string) error {
	return s.update(ctx, deviceID, playlistID, map[string]interface{}{
		"state": string(api.SyncStateFailed),
		"error": errMsg,
	})
}

func (s *SyncStore) update(ctx context.Context, deviceID, playlistID uuid.UUID, updates map[string]interface{}) error {
	result := s.db.WithContext(ctx).Model(&model.DevicePlaylistSync{}).
		Where("device_id = ? AND playlist_id = ?", deviceID, playlistID).
		Updates(updates)
	if result.Error != nil {
		return skzerrors.ErrorFromGormError(result.Error)
	}
	if result.RowsAffected == 0 {
		return skzerrors.ErrNotFound
	}
	return nil
}
