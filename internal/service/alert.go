package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/skylinezone/skyctl/internal/encoder"
	"github.com/skylinezone/skyctl/internal/instrumentation"
	"github.com/skylinezone/skyctl/internal/notify"
	"github.com/skylinezone/skyctl/internal/skzerrors"
	"github.com/skylinezone/skyctl/internal/store"
	"github.com/skylinezone/skyctl/internal/store/model"

	api "github.com/skylinezone/skyctl/internal/api/v1"
)

// alertRuleNames maps an alert type to the notification rule names it fires.
var alertRuleNames = map[api.AlertType][]string{
	api.AlertTypeMissingPersonMatch: {"ncmec_alert", "ncmec_match", "critical_alert"},
	api.AlertTypeLoyaltyMatch:       {"loyalty_alert", "loyalty_match"},
}

// allowedTransitions is the review state machine. Re-asserting the current
// status is a no-op, not an error.
var allowedTransitions = map[api.AlertStatus][]api.AlertStatus{
	api.AlertStatusNew:       {api.AlertStatusReviewed, api.AlertStatusEscalated, api.AlertStatusResolved, api.AlertStatusFalsePositive},
	api.AlertStatusReviewed:  {api.AlertStatusEscalated, api.AlertStatusResolved, api.AlertStatusFalsePositive},
	api.AlertStatusEscalated: {api.AlertStatusResolved, api.AlertStatusFalsePositive},
}

// CreateAlert validates, persists, and dispatches an incoming match alert.
// Immediate notifications are sent synchronously so the response carries real
// delivery counts; delayed rules are scheduled on the queue.
func (h *ServiceHandler) CreateAlert(ctx context.Context, req api.CreateAlertRequest) (*api.CreateAlertResponse, error) {
	alert, err := h.validateAlert(req)
	if err != nil {
		return nil, err
	}
	alert, err = h.store.Alert().Create(ctx, alert)
	if err != nil {
		return nil, err
	}
	instrumentation.AlertsReceived.WithLabelValues(alert.AlertType).Inc()

	counts, err := h.dispatchNotifications(ctx, alert)
	if err != nil {
		// the alert row is already durable; report dispatch trouble, don't lose it
		h.log.WithError(err).WithField("alert_id", alert.ID).Error("notification dispatch failed")
	}

	return &api.CreateAlertResponse{
		Alert:         alert.ToAPI(),
		Notifications: counts,
	}, nil
}

func (h *ServiceHandler) validateAlert(req api.CreateAlertRequest) (*model.Alert, error) {
	alertType := api.AlertType(req.AlertType)
	if _, known := alertRuleNames[alertType]; !known {
		return nil, skzerrors.InvalidAlertf("unknown alert type %q", req.AlertType)
	}
	if req.Confidence == nil {
		return nil, skzerrors.InvalidAlertf("confidence is required")
	}
	if *req.Confidence < 0 || *req.Confidence > 1 {
		return nil, skzerrors.InvalidAlertf("confidence %v is outside [0, 1]", *req.Confidence)
	}
	detectedAt, err := time.Parse(time.RFC3339, req.DetectedAt)
	if err != nil {
		return nil, skzerrors.InvalidAlertf("invalid detected_at %q", req.DetectedAt)
	}

	switch alertType {
	case api.AlertTypeMissingPersonMatch:
		if req.CaseRef == nil || *req.CaseRef == "" {
			return nil, skzerrors.InvalidAlertf("case_ref is required for %s", alertType)
		}
	case api.AlertTypeLoyaltyMatch:
		if req.MemberRef == nil || *req.MemberRef == "" {
			return nil, skzerrors.InvalidAlertf("member_ref is required for %s", alertType)
		}
	}

	return &model.Alert{
		TenantID:          req.TenantID,
		HubID:             req.HubID,
		DeviceID:          req.DeviceID,
		AlertType:         string(alertType),
		CaseRef:           req.CaseRef,
		MemberRef:         req.MemberRef,
		Confidence:        *req.Confidence,
		CapturedImagePath: req.CapturedImagePath,
		DetectedAt:        detectedAt.UTC(),
		ReceivedAt:        time.Now().UTC(),
		Status:            string(api.AlertStatusNew),
	}, nil
}

// dispatchNotifications fans the alert out to its matching enabled rules.
// Missing-person alerts are always delivered immediately, whatever the rule's
// delay; other delayed rules are scheduled on the queue.
func (h *ServiceHandler) dispatchNotifications(ctx context.Context, alert *model.Alert) (api.DispatchCounts, error) {
	var counts api.DispatchCounts
	alertType := api.AlertType(alert.AlertType)

	rules, err := h.store.Notification().EnabledRulesByNames(ctx, alertRuleNames[alertType])
	if err != nil {
		return counts, err
	}
	msg := buildAlertMessage(alert)

	for i := range rules {
		rule, err := rules[i].ToAPI()
		if err != nil {
			h.log.WithError(err).WithField("rule", rules[i].Name).Error("skipping rule with bad recipients")
			continue
		}
		recipients := rule.Recipients.ForChannel(rule.Channel)
		if len(recipients) == 0 {
			continue
		}

		if rule.DelayMinutes > 0 && alertType != api.AlertTypeMissingPersonMatch {
			delay := time.Duration(rule.DelayMinutes) * time.Minute
			if err := h.worker.SendBulkNotification(ctx, alert.ID, rule.ID, delay); err != nil {
				return counts, err
			}
			counts.Scheduled += len(recipients)
			continue
		}

		for _, recipient := range recipients {
			switch h.sendOne(ctx, alert, rule.Channel, recipient, msg) {
			case deliverySent:
				counts.Sent++
			case deliveryFailed:
				counts.Failed++
			}
		}
	}
	return counts, nil
}

type deliveryOutcome int

const (
	deliverySkipped deliveryOutcome = iota
	deliverySent
	deliveryFailed
)

// sendOne delivers to a single recipient with at-most-once semantics: a prior
// sent row short-circuits, and the partial unique index catches the race where
// two dispatchers pass that check together.
func (h *ServiceHandler) sendOne(ctx context.Context, alert *model.Alert, channel api.Channel, recipient string, msg notify.Message) deliveryOutcome {
	log := h.log.WithFields(logrus.Fields{
		"alert_id":  alert.ID,
		"channel":   channel,
		"recipient": recipient,
	})

	if err := notify.ValidateRecipient(channel, recipient); err != nil {
		// permanently bad recipient: audit and never retry
		h.appendLog(ctx, alert.ID, channel, recipient, api.DeliveryStatusFailed, err.Error(), nil)
		instrumentation.NotificationsSent.WithLabelValues(string(channel), "failed").Inc()
		log.WithError(err).Warn("notification recipient rejected")
		return deliveryFailed
	}

	already, err := h.store.Notification().SentExists(ctx, alert.ID, channel, recipient)
	if err != nil {
		log.WithError(err).Error("checking delivery history")
		return deliveryFailed
	}
	if already {
		return deliverySkipped
	}

	sender, err := h.senders.For(channel)
	if err != nil {
		h.appendLog(ctx, alert.ID, channel, recipient, api.DeliveryStatusFailed, err.Error(), nil)
		instrumentation.NotificationsSent.WithLabelValues(string(channel), "failed").Inc()
		return deliveryFailed
	}

	providerID, sendErr := sender.Send(ctx, recipient, msg)
	if sendErr != nil {
		h.appendLog(ctx, alert.ID, channel, recipient, api.DeliveryStatusFailed, sendErr.Error(), nil)
		instrumentation.NotificationsSent.WithLabelValues(string(channel), "failed").Inc()
		log.WithError(sendErr).Warn("notification delivery failed")
		return deliveryFailed
	}

	var providerRef *string
	if providerID != "" {
		providerRef = &providerID
	}
	if err := h.store.Notification().AppendLog(ctx, &model.NotificationLog{
		AlertID:           alert.ID,
		Channel:           string(channel),
		Recipient:         recipient,
		SentAt:            time.Now().UTC(),
		Status:            string(api.DeliveryStatusSent),
		ProviderMessageID: providerRef,
	}); err != nil {
		if errors.Is(err, skzerrors.ErrDuplicateKey) {
			// lost the race to a concurrent dispatcher; the recipient got one copy
			return deliverySkipped
		}
		log.WithError(err).Error("recording sent notification")
	}
	instrumentation.NotificationsSent.WithLabelValues(string(channel), "sent").Inc()
	return deliverySent
}

func (h *ServiceHandler) appendLog(ctx context.Context, alertID uuid.UUID, channel api.Channel, recipient string, status api.DeliveryStatus, errMsg string, providerID *string) {
	entry := &model.NotificationLog{
		AlertID:           alertID,
		Channel:           string(channel),
		Recipient:         recipient,
		SentAt:            time.Now().UTC(),
		Status:            string(status),
		ProviderMessageID: providerID,
	}
	if errMsg != "" {
		entry.Error = &errMsg
	}
	if err := h.store.Notification().AppendLog(ctx, entry); err != nil {
		h.log.WithError(err).WithField("alert_id", alertID).Error("recording notification outcome")
	}
}

func buildAlertMessage(alert *model.Alert) notify.Message {
	var subject, who string
	switch api.AlertType(alert.AlertType) {
	case api.AlertTypeMissingPersonMatch:
		subject = "URGENT: possible missing person match"
		if alert.CaseRef != nil {
			who = fmt.Sprintf("case %s", *alert.CaseRef)
		}
	case api.AlertTypeLoyaltyMatch:
		subject = "Loyalty member recognized"
		if alert.MemberRef != nil {
			who = fmt.Sprintf("member %s", *alert.MemberRef)
		}
	}
	body := fmt.Sprintf("%s\nConfidence: %.1f%%\nDetected: %s",
		who, alert.Confidence*100, alert.DetectedAt.Format(time.RFC3339))
	if alert.CapturedImagePath != nil {
		body += "\nCapture: " + *alert.CapturedImagePath
	}
	return notify.Message{Subject: subject, Body: body}
}

// DeliverBulkNotification is the worker-side handler for a scheduled rule.
// Alerts marked false positive in the meantime are dropped silently.
func (h *ServiceHandler) DeliverBulkNotification(ctx context.Context, alertID, ruleID uuid.UUID) error {
	alert, err := h.store.Alert().Get(ctx, alertID)
	if errors.Is(err, skzerrors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if alert.Status == string(api.AlertStatusFalsePositive) {
		h.log.WithField("alert_id", alertID).Info("skipping scheduled notifications for false positive")
		return nil
	}
	ruleRow, err := h.store.Notification().GetRule(ctx, ruleID)
	if errors.Is(err, skzerrors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	rule, err := ruleRow.ToAPI()
	if err != nil {
		return err
	}

	msg := buildAlertMessage(alert)
	for _, recipient := range rule.Recipients.ForChannel(rule.Channel) {
		h.sendOne(ctx, alert, rule.Channel, recipient, msg)
	}
	return nil
}

// RetryFailedNotifications re-attempts each distinct failed delivery once.
// Recipients that have since received a copy are skipped by the at-most-once
// check inside sendOne.
func (h *ServiceHandler) RetryFailedNotifications(ctx context.Context, alertID uuid.UUID) (*api.RetryResponse, error) {
	alert, err := h.store.Alert().Get(ctx, alertID)
	if err != nil {
		return nil, err
	}
	failed, err := h.store.Notification().FailedLogs(ctx, alertID)
	if err != nil {
		return nil, err
	}

	msg := buildAlertMessage(alert)
	seen := map[string]bool{}
	var resp api.RetryResponse
	for i := range failed {
		key := failed[i].Channel + "\x00" + failed[i].Recipient
		if seen[key] {
			continue
		}
		seen[key] = true
		switch h.sendOne(ctx, alert, api.Channel(failed[i].Channel), failed[i].Recipient, msg) {
		case deliverySent:
			resp.Retried.Sent++
		case deliveryFailed:
			resp.Retried.Failed++
		}
	}
	return &resp, nil
}

// --- queries and review ---

func (h *ServiceHandler) GetAlert(ctx context.Context, id uuid.UUID) (*api.Alert, error) {
	alert, err := h.store.Alert().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	out := alert.ToAPI()
	return &out, nil
}

func (h *ServiceHandler) ListAlerts(ctx context.Context, params store.AlertListParams) (*api.AlertList, error) {
	alerts, total, err := h.store.Alert().List(ctx, params)
	if err != nil {
		return nil, err
	}
	page := params.Page
	if page < 1 {
		page = 1
	}
	perPage := params.PerPage
	if perPage < 1 || perPage > 200 {
		perPage = 50
	}
	list := &api.AlertList{Total: total, Page: page, PerPage: perPage, Items: make([]api.Alert, 0, len(alerts))}
	for i := range alerts {
		list.Items = append(list.Items, alerts[i].ToAPI())
	}
	return list, nil
}

// ReviewAlert applies the review state machine. Re-asserting the current
// status succeeds without touching the record.
func (h *ServiceHandler) ReviewAlert(ctx context.Context, id uuid.UUID, req api.ReviewAlertRequest) (*api.Alert, error) {
	if req.Reviewer == "" {
		return nil, skzerrors.InvalidInputf("reviewer is required")
	}
	alert, err := h.store.Alert().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	current := api.AlertStatus(alert.Status)
	if current == req.Status {
		out := alert.ToAPI()
		return &out, nil
	}
	if !transitionAllowed(current, req.Status) {
		return nil, fmt.Errorf("%s -> %s: %w", current, req.Status, skzerrors.ErrInvalidTransition)
	}

	updated, err := h.store.Alert().UpdateReview(ctx, id, req.Status, req.Reviewer, req.Notes)
	if err != nil {
		return nil, err
	}
	out := updated.ToAPI()
	return &out, nil
}

func transitionAllowed(from, to api.AlertStatus) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (h *ServiceHandler) DeleteAlert(ctx context.Context, id uuid.UUID) error {
	return h.store.Alert().Delete(ctx, id)
}

// --- captured images ---

// UploadAlertImage stores the capture frame under the captures directory as
// <alert_id>.<ext> and records the path on the alert.
func (h *ServiceHandler) UploadAlertImage(ctx context.Context, id uuid.UUID, filename string, data []byte) (*api.Alert, error) {
	if _, err := h.store.Alert().Get(ctx, id); err != nil {
		return nil, err
	}
	if err := encoder.CheckImageFilename(filename); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(h.cfg.Service.CapturesDir, 0755); err != nil {
		return nil, fmt.Errorf("creating captures directory: %w", err)
	}
	path := filepath.Join(h.cfg.Service.CapturesDir, id.String()+strings.ToLower(filepath.Ext(filename)))
	if err := renameio.WriteFile(path, data, 0644); err != nil {
		return nil, fmt.Errorf("writing capture: %w", err)
	}
	updated, err := h.store.Alert().SetCapturedImagePath(ctx, id, path)
	if err != nil {
		os.Remove(path)
		return nil, err
	}
	out := updated.ToAPI()
	return &out, nil
}

// OpenAlertImage opens the alert's capture for streaming. Alerts created with
// only a path reference fall back to the captures directory layout.
func (h *ServiceHandler) OpenAlertImage(ctx context.Context, id uuid.UUID) (*os.File, error) {
	alert, err := h.store.Alert().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	var path string
	if alert.CapturedImagePath != nil && *alert.CapturedImagePath != "" {
		path = *alert.CapturedImagePath
	} else {
		matches, _ := filepath.Glob(filepath.Join(h.cfg.Service.CapturesDir, id.String()+".*"))
		if len(matches) > 0 {
			path = matches[0]
		}
	}
	if path == "" {
		return nil, fmt.Errorf("alert %s has no captured image: %w", id, skzerrors.ErrNotFound)
	}
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("capture %s: %w", path, skzerrors.ErrNotFound)
	}
	return file, err
}

// --- notification rules ---

func (h *ServiceHandler) CreateNotificationRule(ctx context.Context, rule api.NotificationRule) (*api.NotificationRule, error) {
	if rule.Name == "" {
		return nil, skzerrors.InvalidInputf("rule name is required")
	}
	if rule.Channel != api.ChannelEmail && rule.Channel != api.ChannelSMS && rule.Channel != api.ChannelWebhook {
		return nil, skzerrors.InvalidInputf("unknown channel %q", rule.Channel)
	}
	if rule.DelayMinutes < 0 {
		return nil, skzerrors.InvalidInputf("delay_minutes must not be negative")
	}
	recipients := rule.Recipients.ForChannel(rule.Channel)
	if len(recipients) == 0 {
		return nil, skzerrors.InvalidInputf("rule has no recipients for channel %s", rule.Channel)
	}
	for _, recipient := range recipients {
		if err := notify.ValidateRecipient(rule.Channel, recipient); err != nil {
			return nil, skzerrors.InvalidInputf("%s", err.Error())
		}
	}

	encoded, err := encodeRecipients(rule.Recipients)
	if err != nil {
		return nil, err
	}
	row, err := h.store.Notification().CreateRule(ctx, &model.NotificationRule{
		Name:         rule.Name,
		Channel:      string(rule.Channel),
		Recipients:   encoded,
		DelayMinutes: rule.DelayMinutes,
		Enabled:      rule.Enabled,
		Description:  rule.Description,
	})
	if err != nil {
		return nil, err
	}
	out, err := row.ToAPI()
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func encodeRecipients(recipients api.RuleRecipients) (string, error) {
	raw, err := json.Marshal(recipients)
	if err != nil {
		return "", fmt.Errorf("encoding rule recipients: %w", err)
	}
	return string(raw), nil
}

func (h *ServiceHandler) ListNotificationRules(ctx context.Context) ([]api.NotificationRule, error) {
	rows, err := h.store.Notification().ListRules(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]api.NotificationRule, 0, len(rows))
	for i := range rows {
		rule, err := rows[i].ToAPI()
		if err != nil {
			h.log.WithError(err).WithField("rule", rows[i].Name).Error("skipping rule with bad recipients")
			continue
		}
		out = append(out, rule)
	}
	return out, nil
}
