package service

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylinezone/skyctl/internal/skzerrors"
	"github.com/skylinezone/skyctl/internal/store"
	"github.com/skylinezone/skyctl/internal/tasks"

	api "github.com/skylinezone/skyctl/internal/api/v1"
)

func alertListAll() store.AlertListParams {
	return store.AlertListParams{Page: 1, PerPage: 50}
}

func TestCreateAlertDispatchesMatchingRules(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	h.createRule(t, "ncmec_alert", api.ChannelEmail,
		api.RuleRecipients{Emails: []string{"ops@example.com", "security@example.com"}}, 0)
	h.createRule(t, "loyalty_match", api.ChannelEmail,
		api.RuleRecipients{Emails: []string{"marketing@example.com"}}, 0)

	resp, err := h.svc.CreateAlert(ctx, missingPersonAlert(0.92, "MP-2024-001"))
	require.NoError(t, err)

	assert.Equal(t, 2, resp.Notifications.Sent)
	assert.Equal(t, 0, resp.Notifications.Failed)
	assert.Equal(t, 0, resp.Notifications.Scheduled)
	assert.Equal(t, api.AlertStatusNew, resp.Alert.Status)
	assert.Equal(t, "MP-2024-001", resp.Alert.Subject.CaseRef)

	logs, err := h.store.Notification().LogsByAlert(ctx, resp.Alert.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	for _, entry := range logs {
		assert.Equal(t, string(api.DeliveryStatusSent), entry.Status)
	}
}

func TestCreateAlertSchedulesDelayedRule(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	rule := h.createRule(t, "loyalty_alert", api.ChannelEmail,
		api.RuleRecipients{Emails: []string{"marketing@example.com"}}, 15)

	member := "LM-42"
	resp, err := h.svc.CreateAlert(ctx, api.CreateAlertRequest{
		AlertType:  string(api.AlertTypeLoyaltyMatch),
		MemberRef:  &member,
		Confidence: floatPtr(0.85),
		DetectedAt: time.Now().UTC().Format(time.RFC3339),
	})
	require.NoError(t, err)

	assert.Equal(t, 0, resp.Notifications.Sent)
	assert.Equal(t, 1, resp.Notifications.Scheduled)

	published := h.publisher.tasks()
	require.Len(t, published, 1)
	assert.Equal(t, tasks.TaskSendBulkNotification, published[0].payload.TaskName)
	assert.Equal(t, resp.Alert.ID, published[0].payload.AlertID)
	assert.Equal(t, rule.ID, published[0].payload.RuleID)
	assert.Equal(t, 15*time.Minute, published[0].delay)
}

func TestAbandonedBulkNotificationLogsFailure(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	rule := h.createRule(t, "loyalty_alert", api.ChannelEmail,
		api.RuleRecipients{Emails: []string{"vip@example.com"}}, 15)

	member := "LM-7"
	resp, err := h.svc.CreateAlert(ctx, api.CreateAlertRequest{
		AlertType:  string(api.AlertTypeLoyaltyMatch),
		MemberRef:  &member,
		Confidence: floatPtr(0.8),
		DetectedAt: time.Now().UTC().Format(time.RFC3339),
	})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Notifications.Scheduled)

	// the queue exhausted its retries on the scheduled task; the audit log
	// must end with a terminal failed row, not silence
	h.svc.AbandonTask(ctx, &tasks.Payload{
		TaskName: tasks.TaskSendBulkNotification,
		AlertID:  resp.Alert.ID,
		RuleID:   rule.ID,
	}, "retry budget exhausted")

	logs, err := h.store.Notification().LogsByAlert(ctx, resp.Alert.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, string(api.DeliveryStatusFailed), logs[0].Status)
	require.NotNil(t, logs[0].Error)
	assert.Equal(t, "retry budget exhausted", *logs[0].Error)
}

func TestMissingPersonAlertBypassesDelay(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	h.createRule(t, "ncmec_alert", api.ChannelEmail,
		api.RuleRecipients{Emails: []string{"ops@example.com"}}, 30)

	resp, err := h.svc.CreateAlert(ctx, missingPersonAlert(0.95, "MP-2024-002"))
	require.NoError(t, err)

	assert.Equal(t, 1, resp.Notifications.Sent)
	assert.Equal(t, 0, resp.Notifications.Scheduled)
	assert.Empty(t, h.publisher.tasks())
}

func TestCreateAlertCountsProviderFailures(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	h.createRule(t, "ncmec_alert", api.ChannelEmail,
		api.RuleRecipients{Emails: []string{"ops@example.com"}}, 0)
	h.senders[api.ChannelEmail] = &failingSender{err: errors.New("smtp timeout")}

	resp, err := h.svc.CreateAlert(ctx, missingPersonAlert(0.9, "MP-2024-003"))
	require.NoError(t, err)
	assert.Equal(t, 0, resp.Notifications.Sent)
	assert.Equal(t, 1, resp.Notifications.Failed)

	logs, err := h.store.Notification().LogsByAlert(ctx, resp.Alert.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, string(api.DeliveryStatusFailed), logs[0].Status)
	require.NotNil(t, logs[0].Error)
	assert.Contains(t, *logs[0].Error, "smtp timeout")
}

func TestRetryFailedNotificationsIsAtMostOnce(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	h.createRule(t, "ncmec_alert", api.ChannelEmail,
		api.RuleRecipients{Emails: []string{"ops@example.com"}}, 0)

	failing := &failingSender{err: errors.New("provider down")}
	working := h.senders[api.ChannelEmail]
	h.senders[api.ChannelEmail] = failing

	resp, err := h.svc.CreateAlert(ctx, missingPersonAlert(0.9, "MP-2024-004"))
	require.NoError(t, err)
	require.Equal(t, 1, resp.Notifications.Failed)

	// provider recovers; the retry delivers exactly once
	h.senders[api.ChannelEmail] = working
	retry, err := h.svc.RetryFailedNotifications(ctx, resp.Alert.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, retry.Retried.Sent)
	assert.Equal(t, 0, retry.Retried.Failed)

	// a second retry finds the sent row and skips
	retry, err = h.svc.RetryFailedNotifications(ctx, resp.Alert.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, retry.Retried.Sent)
	assert.Equal(t, 0, retry.Retried.Failed)

	logs, err := h.store.Notification().LogsByAlert(ctx, resp.Alert.ID)
	require.NoError(t, err)
	var sent int
	for _, entry := range logs {
		if entry.Status == string(api.DeliveryStatusSent) {
			sent++
		}
	}
	assert.Equal(t, 1, sent)
}

func TestDeliverBulkNotificationSkipsAlreadySent(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	rule := h.createRule(t, "ncmec_alert", api.ChannelEmail,
		api.RuleRecipients{Emails: []string{"ops@example.com"}}, 0)

	resp, err := h.svc.CreateAlert(ctx, missingPersonAlert(0.9, "MP-2024-005"))
	require.NoError(t, err)
	require.Equal(t, 1, resp.Notifications.Sent)

	// replaying the worker task must not produce a second copy
	require.NoError(t, h.svc.DeliverBulkNotification(ctx, resp.Alert.ID, rule.ID))

	logs, err := h.store.Notification().LogsByAlert(ctx, resp.Alert.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestDeliverBulkNotificationDropsFalsePositive(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	rule := h.createRule(t, "loyalty_alert", api.ChannelEmail,
		api.RuleRecipients{Emails: []string{"marketing@example.com"}}, 15)

	member := "LM-7"
	resp, err := h.svc.CreateAlert(ctx, api.CreateAlertRequest{
		AlertType:  string(api.AlertTypeLoyaltyMatch),
		MemberRef:  &member,
		Confidence: floatPtr(0.8),
		DetectedAt: time.Now().UTC().Format(time.RFC3339),
	})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Notifications.Scheduled)

	_, err = h.svc.ReviewAlert(ctx, resp.Alert.ID, api.ReviewAlertRequest{
		Status:   api.AlertStatusFalsePositive,
		Reviewer: "analyst",
	})
	require.NoError(t, err)

	require.NoError(t, h.svc.DeliverBulkNotification(ctx, resp.Alert.ID, rule.ID))

	logs, err := h.store.Notification().LogsByAlert(ctx, resp.Alert.ID)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestCreateAlertValidation(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	now := time.Now().UTC().Format(time.RFC3339)
	caseRef := "MP-1"

	cases := []struct {
		name string
		req  api.CreateAlertRequest
	}{
		{"unknown type", api.CreateAlertRequest{AlertType: "intruder", Confidence: floatPtr(0.5), DetectedAt: now}},
		{"missing confidence", api.CreateAlertRequest{AlertType: string(api.AlertTypeMissingPersonMatch), CaseRef: &caseRef, DetectedAt: now}},
		{"confidence above one", api.CreateAlertRequest{AlertType: string(api.AlertTypeMissingPersonMatch), CaseRef: &caseRef, Confidence: floatPtr(1.2), DetectedAt: now}},
		{"negative confidence", api.CreateAlertRequest{AlertType: string(api.AlertTypeMissingPersonMatch), CaseRef: &caseRef, Confidence: floatPtr(-0.1), DetectedAt: now}},
		{"bad detected_at", api.CreateAlertRequest{AlertType: string(api.AlertTypeMissingPersonMatch), CaseRef: &caseRef, Confidence: floatPtr(0.5), DetectedAt: "yesterday"}},
		{"missing case_ref", api.CreateAlertRequest{AlertType: string(api.AlertTypeMissingPersonMatch), Confidence: floatPtr(0.5), DetectedAt: now}},
		{"missing member_ref", api.CreateAlertRequest{AlertType: string(api.AlertTypeLoyaltyMatch), Confidence: floatPtr(0.5), DetectedAt: now}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.CreateAlert(ctx, tc.req)
			assert.ErrorIs(t, err, skzerrors.ErrInvalidAlert)
		})
	}
}

func TestReviewAlertTransitions(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	resp, err := h.svc.CreateAlert(ctx, missingPersonAlert(0.9, "MP-2024-006"))
	require.NoError(t, err)
	id := resp.Alert.ID

	// reviewer is required
	_, err = h.svc.ReviewAlert(ctx, id, api.ReviewAlertRequest{Status: api.AlertStatusReviewed})
	assert.ErrorIs(t, err, skzerrors.ErrInvalidInput)

	// re-asserting the current status is a no-op
	alert, err := h.svc.ReviewAlert(ctx, id, api.ReviewAlertRequest{Status: api.AlertStatusNew, Reviewer: "analyst"})
	require.NoError(t, err)
	assert.Equal(t, api.AlertStatusNew, alert.Status)
	assert.Nil(t, alert.Reviewer)

	alert, err = h.svc.ReviewAlert(ctx, id, api.ReviewAlertRequest{Status: api.AlertStatusReviewed, Reviewer: "analyst"})
	require.NoError(t, err)
	assert.Equal(t, api.AlertStatusReviewed, alert.Status)
	require.NotNil(t, alert.Reviewer)
	assert.Equal(t, "analyst", *alert.Reviewer)
	assert.NotNil(t, alert.ReviewedAt)

	alert, err = h.svc.ReviewAlert(ctx, id, api.ReviewAlertRequest{Status: api.AlertStatusEscalated, Reviewer: "analyst"})
	require.NoError(t, err)
	assert.Equal(t, api.AlertStatusEscalated, alert.Status)

	alert, err = h.svc.ReviewAlert(ctx, id, api.ReviewAlertRequest{Status: api.AlertStatusResolved, Reviewer: "analyst"})
	require.NoError(t, err)
	assert.Equal(t, api.AlertStatusResolved, alert.Status)

	// resolved is terminal
	_, err = h.svc.ReviewAlert(ctx, id, api.ReviewAlertRequest{Status: api.AlertStatusEscalated, Reviewer: "analyst"})
	assert.ErrorIs(t, err, skzerrors.ErrInvalidTransition)

	// backwards transitions are rejected too
	_, err = h.svc.ReviewAlert(ctx, id, api.ReviewAlertRequest{Status: api.AlertStatusNew, Reviewer: "analyst"})
	assert.ErrorIs(t, err, skzerrors.ErrInvalidTransition)
}

func TestListAlertsFiltersAndPaginates(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		caseRef := "MP-LIST"
		_, err := h.svc.CreateAlert(ctx, api.CreateAlertRequest{
			AlertType:  string(api.AlertTypeMissingPersonMatch),
			CaseRef:    &caseRef,
			Confidence: floatPtr(0.9),
			DetectedAt: time.Now().UTC().Format(time.RFC3339),
		})
		require.NoError(t, err)
	}
	member := "LM-LIST"
	_, err := h.svc.CreateAlert(ctx, api.CreateAlertRequest{
		AlertType:  string(api.AlertTypeLoyaltyMatch),
		MemberRef:  &member,
		Confidence: floatPtr(0.7),
		DetectedAt: time.Now().UTC().Format(time.RFC3339),
	})
	require.NoError(t, err)

	all, err := h.svc.ListAlerts(ctx, alertListAll())
	require.NoError(t, err)
	assert.EqualValues(t, 4, all.Total)

	loyalty := api.AlertTypeLoyaltyMatch
	params := alertListAll()
	params.Type = &loyalty
	filtered, err := h.svc.ListAlerts(ctx, params)
	require.NoError(t, err)
	assert.EqualValues(t, 1, filtered.Total)
	require.Len(t, filtered.Items, 1)
	assert.Equal(t, api.AlertTypeLoyaltyMatch, filtered.Items[0].AlertType)

	paged := alertListAll()
	paged.Page = 1
	paged.PerPage = 2
	page, err := h.svc.ListAlerts(ctx, paged)
	require.NoError(t, err)
	assert.EqualValues(t, 4, page.Total)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, 2, page.PerPage)
}

func TestAlertCaptureUploadAndStream(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	resp, err := h.svc.CreateAlert(ctx, missingPersonAlert(0.9, "MP-1"))
	require.NoError(t, err)
	alertID := resp.Alert.ID

	_, err = h.svc.OpenAlertImage(ctx, alertID)
	assert.ErrorIs(t, err, skzerrors.ErrNotFound)

	_, err = h.svc.UploadAlertImage(ctx, alertID, "frame.gif", []byte("gif-bytes"))
	assert.ErrorIs(t, err, skzerrors.ErrUnsupportedImage)

	updated, err := h.svc.UploadAlertImage(ctx, alertID, "frame.jpg", []byte("jpeg-bytes"))
	require.NoError(t, err)
	require.NotNil(t, updated.CapturedImagePath)
	assert.Equal(t, filepath.Join(h.cfg.Service.CapturesDir, alertID.String()+".jpg"), *updated.CapturedImagePath)

	file, err := h.svc.OpenAlertImage(ctx, alertID)
	require.NoError(t, err)
	defer file.Close()
	data, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), data)

	_, err = h.svc.UploadAlertImage(ctx, uuid.New(), "frame.jpg", []byte("x"))
	assert.ErrorIs(t, err, skzerrors.ErrNotFound)
}

func TestCreateNotificationRuleValidation(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	cases := []struct {
		name string
		rule api.NotificationRule
	}{
		{"missing name", api.NotificationRule{Channel: api.ChannelEmail, Recipients: api.RuleRecipients{Emails: []string{"a@b.co"}}}},
		{"unknown channel", api.NotificationRule{Name: "r", Channel: "pager", Recipients: api.RuleRecipients{Emails: []string{"a@b.co"}}}},
		{"negative delay", api.NotificationRule{Name: "r", Channel: api.ChannelEmail, DelayMinutes: -1, Recipients: api.RuleRecipients{Emails: []string{"a@b.co"}}}},
		{"no recipients for channel", api.NotificationRule{Name: "r", Channel: api.ChannelEmail, Recipients: api.RuleRecipients{Phones: []string{"+15555550100"}}}},
		{"bad recipient", api.NotificationRule{Name: "r", Channel: api.ChannelEmail, Recipients: api.RuleRecipients{Emails: []string{"not-an-email"}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.CreateNotificationRule(ctx, tc.rule)
			assert.ErrorIs(t, err, skzerrors.ErrInvalidInput)
		})
	}

	rule, err := h.svc.CreateNotificationRule(ctx, api.NotificationRule{
		Name:       "webhook_rule",
		Channel:    api.ChannelWebhook,
		Recipients: api.RuleRecipients{URLs: []string{"https://hooks.example.com/skyctl"}},
		Enabled:    true,
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, rule.ID)

	rules, err := h.svc.ListNotificationRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "webhook_rule", rules[0].Name)
}

func floatPtr(f float64) *float64 { return &f }
