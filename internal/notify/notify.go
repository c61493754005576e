// Package notify delivers alert notifications over the supported channels.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	api "github.com/skylinezone/skyctl/internal/api/v1"
	"github.com/skylinezone/skyctl/internal/skzerrors"
)

const sendTimeout = 10 * time.Second

// Message is the channel-independent payload of one notification.
type Message struct {
	Subject string
	Body    string
}

// Sender delivers one message to one recipient. The returned id is the
// provider's message id when the provider supplies one.
type Sender interface {
	Send(ctx context.Context, recipient string, msg Message) (providerMessageID string, err error)
	// Stub reports whether this sender only simulates delivery.
	Stub() bool
}

// Registry maps channels to their configured senders.
type Registry map[api.Channel]Sender

func (r Registry) For(channel api.Channel) (Sender, error) {
	sender, ok := r[channel]
	if !ok {
		return nil, fmt.Errorf("channel %q: %w", channel, skzerrors.ErrInvalidInput)
	}
	return sender, nil
}

// ValidateRecipient checks recipient shape per channel before any provider
// call. Failures are permanent; the dispatcher must not retry them.
func ValidateRecipient(channel api.Channel, recipient string) error {
	switch channel {
	case api.ChannelEmail:
		return validateEmail(recipient)
	case api.ChannelSMS:
		return validatePhone(recipient)
	case api.ChannelWebhook:
		if !strings.HasPrefix(recipient, "http://") && !strings.HasPrefix(recipient, "https://") {
			return fmt.Errorf("webhook url %q: %w", recipient, skzerrors.ErrInvalidRecipient)
		}
		return nil
	default:
		return fmt.Errorf("channel %q: %w", channel, skzerrors.ErrInvalidInput)
	}
}

func validateEmail(address string) error {
	at := strings.Count(address, "@")
	if at != 1 {
		return fmt.Errorf("email %q: %w", address, skzerrors.ErrInvalidRecipient)
	}
	local, domain, _ := strings.Cut(address, "@")
	if local == "" || !strings.Contains(domain, ".") || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return fmt.Errorf("email %q: %w", address, skzerrors.ErrInvalidRecipient)
	}
	return nil
}

func validatePhone(number string) error {
	digits := 0
	for _, r := range number {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' || r == '-' || r == '(' || r == ')' || r == ' ':
			// formatting characters are ignored
		default:
			return fmt.Errorf("phone %q: %w", number, skzerrors.ErrInvalidRecipient)
		}
	}
	if digits < 10 || digits > 15 {
		return fmt.Errorf("phone %q: %w", number, skzerrors.ErrInvalidRecipient)
	}
	return nil
}
