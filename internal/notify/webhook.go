package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// WebhookSender posts the message as JSON to the recipient URL. Any 2xx
// response counts as delivered.
type WebhookSender struct {
	client *http.Client
	log    logrus.FieldLogger
}

func NewWebhookSender(log logrus.FieldLogger) *WebhookSender {
	return &WebhookSender{
		client: &http.Client{Timeout: sendTimeout},
		log:    log,
	}
}

func (s *WebhookSender) Stub() bool { return false }

func (s *WebhookSender) Send(ctx context.Context, recipient string, msg Message) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"subject": msg.Subject,
		"body":    msg.Body,
		"sent_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, recipient, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return "", nil
}
