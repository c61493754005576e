package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// smsBodyLimit is the provider's hard cap on concatenated message length.
const smsBodyLimit = 1600

// SMSSender posts through the SMS provider's REST API, stubbing delivery when
// credentials are absent.
type SMSSender struct {
	accountSID string
	authToken  string
	from       string
	client     *http.Client
	log        logrus.FieldLogger
}

func NewSMSSender(accountSID, authToken, from string, log logrus.FieldLogger) *SMSSender {
	return &SMSSender{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		client:     &http.Client{Timeout: sendTimeout},
		log:        log,
	}
}

func (s *SMSSender) Stub() bool { return s.accountSID == "" || s.authToken == "" }

// TruncateBody enforces the provider length cap, marking cut bodies with a
// trailing ellipsis. The cut never splits a UTF-8 sequence.
func TruncateBody(body string) string {
	if len(body) <= smsBodyLimit {
		return body
	}
	cut := smsBodyLimit - 3
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return body[:cut] + "..."
}

func (s *SMSSender) Send(ctx context.Context, recipient string, msg Message) (string, error) {
	body := TruncateBody(msg.Body)

	if s.Stub() {
		id := "stub-" + uuid.NewString()
		s.log.WithFields(logrus.Fields{
			"recipient":  recipient,
			"message_id": id,
		}).Info("sms provider not configured, stubbing delivery")
		return id, nil
	}

	endpoint := fmt.Sprintf("https://api.twilio.com/2010-04-01/Accounts/%s/Messages.json", s.accountSID)
	form := url.Values{
		"To":   {recipient},
		"From": {s.from},
		"Body": {body},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(s.accountSID, s.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("sms provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("sms provider returned %d", resp.StatusCode)
	}
	var decoded struct {
		SID string `json:"sid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decoding sms response: %w", err)
	}
	return decoded.SID, nil
}
