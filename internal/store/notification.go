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

type Notification interface {
	CreateRule(ctx context.Context, rule *model.NotificationRule) (*model.NotificationRule, error)
	GetRule(ctx context.Context, id uuid.UUID) (*model.NotificationRule, error)
	// EnabledRulesByNames returns the enabled rules whose name is in the set.
	EnabledRulesByNames(ctx context.Context, names []string) ([]model.NotificationRule, error)
	ListRules(ctx context.Context) ([]model.NotificationRule, error)

	// AppendLog appends an audit row. A sent row violating the at-most-once
	// partial unique index surfaces as ErrDuplicateKey.
	AppendLog(ctx context.Context, log *model.NotificationLog) error
	// SentExists reports whether a sent row already exists for the triple.
	SentExists(ctx context.Context, alertID uuid.UUID, channel api.Channel, recipient string) (bool, error)
	FailedLogs(ctx context.Context, alertID uuid.UUID) ([]model.NotificationLog, error)
	LogsByAlert(ctx context.Context, alertID uuid.UUID) ([]model.NotificationLog, error)

	InitialMigration() error
}

type NotificationStore struct {
	db  *gorm.DB
	log logrus.FieldLogger
}

// Make sure we conform to Notification interface
var _ Notification = (*NotificationStore)(nil)

func NewNotification(db *gorm.DB, log logrus.FieldLogger) Notification {
	return &NotificationStore{db: db, log: log}
}

func (s *NotificationStore) InitialMigration() error {
	if err := s.db.AutoMigrate(&model.NotificationRule{}, &model.NotificationLog{}); err != nil {
		return err
	}
	// At-most-once per (alert, channel, recipient): enforced by the database,
	// not by a query-then-insert check.
	return s.db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_notification_sent_once
		 ON notification_logs (alert_id, channel, recipient) WHERE status = 'sent'`,
	).Error
}

func (s *NotificationStore) CreateRule(ctx context.Context, rule *model.NotificationRule) (*model.NotificationRule, error) {
	result := s.db.WithContext(ctx).Create(rule)
	if result.Error != nil {
		return nil, skzerrors.ErrorFromGormError(result.Error)
	}
	return rule, nil
}

func (s *NotificationStore) GetRule(ctx context.Context, id uuid.UUID) (*model.NotificationRule, error) {
	var rule model.NotificationRule
	result := s.db.WithContext(ctx).First(&rule, "id = ?", id)
	if result.Error != nil {
		return nil, skzerrors.ErrorFromGormError(result.Error)
	}
	return &rule, nil
}

func (s *NotificationStore) EnabledRulesByNames(ctx context.Context, names []string) ([]model.NotificationRule, error) {
	var rules []model.NotificationRule
	result := s.db.WithContext(ctx).
		Where("enabled = ? AND name IN ?", true, names).Find(&rules)
	return rules, skzerrors.ErrorFromGormError(result.Error)
}

func (s *NotificationStore) ListRules(ctx context.Context) ([]model.NotificationRule, error) {
	var rules []model.NotificationRule
	result := s.db.WithContext(ctx).Order("name").Find(&rules)
	return rules, skzerrors.ErrorFromGormError(result.Error)
}

func (s *NotificationStore) AppendLog(ctx context.Context, log *model.NotificationLog) error {
	return skzerrors.ErrorFromGormError(s.db.WithContext(ctx).Create(log).Error)
}

func (s *NotificationStore) SentExists(ctx context.Context, alertID uuid.UUID, channel api.Channel, recipient string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.NotificationLog{}).
		Where("alert_id = ? AND channel = ? AND recipient = ? AND status = ?",
			alertID, string(channel), recipient, string(api.DeliveryStatusSent)).
		Count(&count).Error
	return count > 0, skzerrors.ErrorFromGormError(err)
}

func (s *NotificationStore) FailedLogs(ctx context.Context, alertID uuid.UUID) ([]model.NotificationLog, error) {
	var logs []model.NotificationLog
	result := s.db.WithContext(ctx).
		Where("alert_id = ? AND status = ?", alertID, string(api.DeliveryStatusFailed)).
		Order("sent_at").Find(&logs)
	return logs, skzerrors.ErrorFromGormError(result.Error)
}

func (s *NotificationStore) LogsByAlert(ctx context.Context, alertID uuid.UUID) ([]model.NotificationLog, error) {
	var logs []model.NotificationLog
	result := s.db.WithContext(ctx).Where("alert_id = ?", alertID).Order("sent_at").Find(&logs)
	return logs, skzerrors.ErrorFromGormError(result.Error)
}
