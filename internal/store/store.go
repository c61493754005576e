package store

import (
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type Store interface {
	Tenant() Tenant
	Hub() Hub
	Device() Device
	Encoding() Encoding
	Artifact() Artifact
	Playlist() Playlist
	Sync() Sync
	Layout() Layout
	Alert() Alert
	Notification() Notification
	InitialMigration() error
	Close() error
}

type DataStore struct {
	tenant       Tenant
	hub          Hub
	device       Device
	encoding     Encoding
	artifact     Artifact
	playlist     Playlist
	sync         Sync
	layout       Layout
	alert        Alert
	notification Notification

	db *gorm.DB
}

func NewStore(db *gorm.DB, log logrus.FieldLogger) Store {
	return &DataStore{
		tenant:       NewTenant(db, log),
		hub:          NewHub(db, log),
		device:       NewDevice(db, log),
		encoding:     NewEncoding(db, log),
		artifact:     NewArtifact(db, log),
		playlist:     NewPlaylist(db, log),
		sync:         NewSync(db, log),
		layout:       NewLayout(db, log),
		alert:        NewAlert(db, log),
		notification: NewNotification(db, log),
		db:           db,
	}
}

func (s *DataStore) Tenant() Tenant             { return s.tenant }
func (s *DataStore) Hub() Hub                   { return s.hub }
func (s *DataStore) Device() Device             { return s.device }
func (s *DataStore) Encoding() Encoding         { return s.encoding }
func (s *DataStore) Artifact() Artifact         { return s.artifact }
func (s *DataStore) Playlist() Playlist         { return s.playlist }
func (s *DataStore) Sync() Sync                 { return s.sync }
func (s *DataStore) Layout() Layout             { return s.layout }
func (s *DataStore) Alert() Alert               { return s.alert }
func (s *DataStore) Notification() Notification { return s.notification }

func (s *DataStore) InitialMigration() error {
	for _, m := range []interface{ InitialMigration() error }{
		s.tenant, s.hub, s.device, s.encoding, s.artifact,
		s.playlist, s.sync, s.layout, s.alert, s.notification,
	} {
		if err := m.InitialMigration(); err != nil {
			return err
		}
	}
	return nil
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
