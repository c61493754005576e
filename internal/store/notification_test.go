package store

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylinezone/skyctl/internal/config"
	"github.com/skylinezone/skyctl/internal/skzerrors"
	"github.com/skylinezone/skyctl/internal/store/model"

	api "github.com/skylinezone/skyctl/internal/api/v1"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := config.NewDefault()
	cfg.Database.Type = "sqlite"
	cfg.Database.Name = filepath.Join(t.TempDir(), "store-test.db")

	db, err := InitDB(cfg, logger)
	require.NoError(t, err)
	st := NewStore(db, logger)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.InitialMigration())
	return st
}

func sentLog(alertID uuid.UUID, channel, recipient string) *model.NotificationLog {
	return &model.NotificationLog{
		AlertID:   alertID,
		Channel:   channel,
		Recipient: recipient,
		SentAt:    time.Now().UTC(),
		Status:    string(api.DeliveryStatusSent),
	}
}

func TestSentUniqueIndexAllowsOneSentRow(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	alertID := uuid.New()

	require.NoError(t, st.Notification().AppendLog(ctx, sentLog(alertID, "email", "ops@example.com")))

	// a second sent row for the same triple hits the partial unique index
	err := st.Notification().AppendLog(ctx, sentLog(alertID, "email", "ops@example.com"))
	assert.ErrorIs(t, err, skzerrors.ErrDuplicateKey)

	// different recipient, channel, or alert is fine
	require.NoError(t, st.Notification().AppendLog(ctx, sentLog(alertID, "email", "security@example.com")))
	require.NoError(t, st.Notification().AppendLog(ctx, sentLog(alertID, "sms", "ops@example.com")))
	require.NoError(t, st.Notification().AppendLog(ctx, sentLog(uuid.New(), "email", "ops@example.com")))
}

func TestFailedRowsAreUnrestricted(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	alertID := uuid.New()

	msg := "provider down"
	for i := 0; i < 3; i++ {
		require.NoError(t, st.Notification().AppendLog(ctx, &model.NotificationLog{
			AlertID:   alertID,
			Channel:   "email",
			Recipient: "ops@example.com",
			SentAt:    time.Now().UTC(),
			Status:    string(api.DeliveryStatusFailed),
			Error:     &msg,
		}))
	}

	// a sent row may land after any number of failures
	require.NoError(t, st.Notification().AppendLog(ctx, sentLog(alertID, "email", "ops@example.com")))

	exists, err := st.Notification().SentExists(ctx, alertID, api.ChannelEmail, "ops@example.com")
	require.NoError(t, err)
	assert.True(t, exists)

	failed, err := st.Notification().FailedLogs(ctx, alertID)
	require.NoError(t, err)
	assert.Len(t, failed, 3)
}

func TestExternalIDCountersArePerScope(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for i, want := range []string{"SKZ-D-0001", "SKZ-D-0002", "SKZ-D-0003"} {
		device, err := st.Device().Create(ctx, &model.Device{
			HardwareID: "hw-" + want,
			Mode:       string(api.DeviceModeDirect),
			Status:     string(api.DeviceStatusPending),
		})
		require.NoError(t, err, i)
		assert.Equal(t, want, device.ExternalID)
	}
}
