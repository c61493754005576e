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

type Playlist interface {
	Create(ctx context.Context, playlist *model.Playlist) (*model.Playlist, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Playlist, error)
	List(ctx context.Context, tenantID uuid.UUID) ([]model.Playlist, error)
	UpdateSyncStatus(ctx context.Context, id uuid.UUID, status api.PlaylistSyncStatus) error

	ListItems(ctx context.Context, playlistID uuid.UUID) ([]model.PlaylistItem, error)
	// AddItem appends the item at the next dense position and bumps the
	// playlist version, marking all assigned devices pending, atomically.
	AddItem(ctx context.Context, item *model.PlaylistItem) (*model.PlaylistItem, error)
	// RemoveItem deletes the item, closes the position gap, and bumps the
	// playlist version atomically.
	RemoveItem(ctx context.Context, playlistID, itemID uuid.UUID) error
	// ReorderItems rewrites positions per the given dense ordering of item ids
	// and bumps the playlist version atomically.
	ReorderItems(ctx context.Context, playlistID uuid.UUID, orderedItemIDs []uuid.UUID) error
	UpdateItemDuration(ctx context.Context, playlistID, itemID uuid.UUID, durationSec *int) error
	// BumpVersion marks the playlist and all of its device sync rows pending.
	BumpVersion(ctx context.Context, playlistID uuid.UUID) error

	CreateAssignment(ctx context.Context, assignment *model.DevicePlaylistAssignment) (*model.DevicePlaylistAssignment, error)
	GetAssignment(ctx context.Context, id uuid.UUID) (*model.DevicePlaylistAssignment, error)
	ToggleAssignment(ctx context.Context, id uuid.UUID) (bool, error)
	DeleteAssignment(ctx context.Context, id uuid.UUID) error
	ListAssignmentsByDevice(ctx context.Context, deviceID uuid.UUID) ([]model.DevicePlaylistAssignment, error)
	ListAssignmentsByPlaylist(ctx context.Context, playlistID uuid.UUID) ([]model.DevicePlaylistAssignment, error)

	CreateContent(ctx context.Context, content *model.Content) (*model.Content, error)
	GetContent(ctx context.Context, id uuid.UUID) (*model.Content, error)

	InitialMigration() error
}

type PlaylistStore struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

// Make sure we conform to Playlist interface
var _ Playlist = (*PlaylistStore)(nil)

func NewPlaylist(db *gorm.DB, log logrus.FieldLogger) Playlist {
	return &PlaylistStore{db: db, log: log}
}

func (s *PlaylistStore) InitialMigration() error {
	return s.db.AutoMigrate(
		&model.Playlist{},
		&model.PlaylistItem{},
		&model.DevicePlaylistAssignment{},
		&model.Content{},
	)
}

func (s *PlaylistStore) Create(ctx context.Context, playlist *model.Playlist) (*model.Playlist, error) {
	if playlist.StartAt != nil && playlist.EndAt != nil && playlist.EndAt.Before(*playlist.StartAt) {
		return nil, skzerrors.InvalidInputf("schedule start must not be after end")
	}
	playlist.Version = 1
	playlist.SyncStatus = string(api.PlaylistSyncPending)
	result := s.db.WithContext(ctx).Create(playlist)
	if result.Error != nil {
		return nil, skzerrors.ErrorFromGormError(result.Error)
	}
	return playlist, nil
}

func (s *PlaylistStore) Get(ctx context.Context, id uuid.UUID) (*model.Playlist, error) {
	var playlist model.Playlist
	result := s.db.WithContext(ctx).First(&playlist, "id = ?", id)
	if result.Error != nil {
		return nil, skzerrors.ErrorFromGormError(result.Error)
	}
	return &playlist, nil
}

func (s *PlaylistStore) List(ctx context.Context, tenantID uuid.UUID) ([]model.Playlist, error) {
	var playlists []model.Playlist
	result := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("name").Find(&playlists)
	return playlists, skzerrors.ErrorFromGormError(result.Error)
}

func (s *PlaylistStore) UpdateSyncStatus(ctx context.Context, id uuid.UUID, status api.PlaylistSyncStatus) error {
	result := s.db.WithContext(ctx).Model(&model.Playlist{}).Where("id = ?", id).
		Update("sync_status", string(status))
	return skzerrors.ErrorFromGormError(result.Error)
}

func (s *PlaylistStore) ListItems(ctx context.Context, playlistID uuid.UUID) ([]model.PlaylistItem, error) {
	var items []model.PlaylistItem
	result := s.db.WithContext(ctx).Where("playlist_id = ?", playlistID).
		Order("position").Find(&items)
	return items, skzerrors.ErrorFromGormError(result.Error)
}

func (s *PlaylistStore) AddItem(ctx context.Context, item *model.PlaylistItem) (*model.PlaylistItem, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.PlaylistItem{}).
			Where("playlist_id = ?", item.PlaylistID).Count(&count).Error; err != nil {
			return skzerrors.ErrorFromGormError(err)
		}
		item.Position = int(count)
		if err := tx.Create(item).Error; err != nil {
			return skzerrors.ErrorFromGormError(err)
		}
		return bumpPlaylistVersion(tx, item.PlaylistID)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *PlaylistStore) RemoveItem(ctx context.Context, playlistID, itemID uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item model.PlaylistItem
		if err := tx.First(&item, "id = ? AND playlist_id = ?", itemID, playlistID).Error; err != nil {
			return skzerrors.ErrorFromGormError(err)
		}
		if err := tx.Delete(&item).Error; err != nil {
			return skzerrors.ErrorFromGormError(err)
		}
		// close the position gap
		if err := tx.Model(&model.PlaylistItem{}).
			Where("playlist_id = ? AND position > ?", playlistID, item.Position).
			Update("position", gorm.Expr("position - 1")).Error; err != nil {
			return skzerrors.ErrorFromGormError(err)
		}
		return bumpPlaylistVersion(tx, playlistID)
	})
}

func (s *PlaylistStore) ReorderItems(ctx context.Context, playlistID uuid.UUID, orderedItemIDs []uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.PlaylistItem{}).
			Where("playlist_id = ?", playlistID).Count(&count).Error; err != nil {
			return skzerrors.ErrorFromGormError(err)
		}
		if int(count) != len(orderedItemIDs) {
			return skzerrors.InvalidInputf("ordering must name all %d items", count)
		}
		for position, itemID := range orderedItemIDs {
			result := tx.Model(&model.PlaylistItem{}).
				Where("id = ? AND playlist_id = ?", itemID, playlistID).
				Update("position", position)
			if result.Error != nil {
				return skzerrors.ErrorFromGormError(result.Error)
			}
			if result.RowsAffected == 0 {
				return skzerrors.ErrNotFound
			}
		}
		return bumpPlaylistVersion(tx, playlistID)
	})
}

func (s *PlaylistStore) UpdateItemDuration(ctx context.Context, playlistID, itemID uuid.UUID, durationSec *int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&model.PlaylistItem{}).
			Where("id = ? AND playlist_id = ?", itemID, playlistID).
			Update("duration_override", durationSec)
		if result.Error != nil {
			return skzerrors.ErrorFromGormError(result.Error)
		}
		if result.RowsAffected == 0 {
			return skzerrors.ErrNotFound
		}
		return bumpPlaylistVersion(tx, playlistID)
	})
}

func (s *PlaylistStore) BumpVersion(ctx context.Context, playlistID uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return bumpPlaylistVersion(tx, playlistID)
	})
}

// bumpPlaylistVersion increments the playlist version, flips its sync status to
// pending, and marks every tracked device sync row pending. Runs inside the
// caller's transaction so version bump and derived state move together.
func bumpPlaylistVersion(tx *gorm.DB, playlistID uuid.UUID) error {
	result := tx.Model(&model.Playlist{}).Where("id = ?", playlistID).
		Updates(map[string]interface{}{
			"version":     gorm.Expr("version + 1"),
			"sync_status": string(api.PlaylistSyncPending),
		})
	if result.Error != nil {
		return skzerrors.ErrorFromGormError(result.Error)
	}
	if result.RowsAffected == 0 {
		return skzerrors.ErrNotFound
	}
	err := tx.Model(&model.DevicePlaylistSync{}).
		Where("playlist_id = ?", playlistID).
		Update("state", string(api.SyncStatePending)).Error
	return skzerrors.ErrorFromGormError(err)
}

func (s *PlaylistStore) CreateAssignment(ctx context.Context, assignment *model.DevicePlaylistAssignment) (*model.DevicePlaylistAssignment, error) {
	result := s.db.WithContext(ctx).Create(assignment)
	if result.Error != nil {
		return nil, skzerrors.ErrorFromGormError(result.Error)
	}
	return assignment, nil
}

func (s *PlaylistStore) GetAssignment(ctx context.Context, id uuid.UUID) (*model.DevicePlaylistAssignment, error) {
	var assignment model.DevicePlaylistAssignment
	result := s.db.WithContext(ctx).First(&assignment, "id = ?", id)
	if result.Error != nil {
		return nil, skzerrors.ErrorFromGormError(result.Error)
	}
	return &assignment, nil
}

func (s *PlaylistStore) ToggleAssignment(ctx context.Context, id uuid.UUID) (bool, error) {
	var enabled bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var assignment model.DevicePlaylistAssignment
		if err := tx.First(&assignment, "id = ?", id).Error; err != nil {
			return skzerrors.ErrorFromGormError(err)
		}
		assignment.IsEnabled = !assignment.IsEnabled
		enabled = assignment.IsEnabled
		return skzerrors.ErrorFromGormError(tx.Save(&assignment).Error)
	})
	return enabled, err
}

func (s *PlaylistStore) DeleteAssignment(ctx context.Context, id uuid.UUID) error {
	result := s.db.WithContext(ctx).Delete(&model.DevicePlaylistAssignment{}, "id = ?", id)
	if result.Error != nil {
		return skzerrors.ErrorFromGormError(result.Error)
	}
	if result.RowsAffected == 0 {
		return skzerrors.ErrNotFound
	}
	return nil
}

func (s *PlaylistStore) ListAssignmentsByDevice(ctx context.Context, deviceID uuid.UUID) ([]model.DevicePlaylistAssignment, error) {
	var assignments []model.DevicePlaylistAssignment
	result := s.db.WithContext(ctx).Where("device_id = ?", deviceID).
		Order("priority DESC").Find(&assignments)
	return assignments, skzerrors.ErrorFromGormError(result.Error)
}

func (s *PlaylistStore) ListAssignmentsByPlaylist(ctx context.Context, playlistID uuid.UUID) ([]model.DevicePlaylistAssignment, error) {
	var assignments []model.DevicePlaylistAssignment
	result := s.db.WithContext(ctx).Where("playlist_id = ?", playlistID).Find(&assignments)
	return assignments, skzerrors.ErrorFromGormError(result.Error)
}

func (s *PlaylistStore) CreateContent(ctx context.Context, content *model.Content) (*model.Content, error) {
	result := s.db.WithContext(ctx).Create(content)
	if result.Error != nil {
		return nil, skzerrors.ErrorFromGormError(result.Error)
	}
	return content, nil
}

func (s *PlaylistStore) GetContent(ctx context.Context, id uuid.UUID) (*model.Content, error) {
	var content model.Content
	result := s.db.WithContext(ctx).First(&content, "id = ?", id)
	if result.Error != nil {
		return nil, skzerrors.ErrorFromGormError(result.Error)
	}
	return &content, nil
}
