package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const defaultEmailEndpoint = "https://api.sendgrid.com/v3/mail/send"

// EmailSender posts through the transactional mail provider's HTTP API. With
// no provider key configured it degrades to a stub that logs and fabricates a
// message id, so alert processing never blocks on mail credentials.
type EmailSender struct {
	apiKey   string
	from     string
	endpoint string
	client   *http.Client
	log      logrus.FieldLogger
}

func NewEmailSender(apiKey, from string, log logrus.FieldLogger) *EmailSender {
	return &EmailSender{
		apiKey:   apiKey,
		from:     from,
		endpoint: defaultEmailEndpoint,
		client:   &http.Client{Timeout: sendTimeout},
		log:      log,
	}
}

func (s *EmailSender) Stub() bool { return s.apiKey == "" }

func (s *EmailSender) Send(ctx context.Context, recipient string, msg Message) (string, error) {
	if s.Stub() {
		id := "stub-" + uuid.NewString()
		s.log.WithFields(logrus.Fields{
			"recipient":  recipient,
			"subject":    msg.Subject,
			"message_id": id,
		}).Info("email provider not configured, stubbing delivery")
		return id, nil
	}

	payload := map[string]any{
		"personalizations": []map[string]any{
			{"to": []map[string]string{{"email": recipient}}},
		},
		"from":    map[string]string{"email": s.from},
		"subject": msg.Subject,
		"content": []map[string]string{
			{"type": "text/plain", "value": msg.Body},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("email provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("email provider returned %d", resp.StatusCode)
	}
	return resp.Header.Get("X-Message-Id"), nil
}
