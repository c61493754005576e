// Package agentproxy relays control commands from the API to the on-device
// agent over the hub-local network.
package agentproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/skylinezone/skyctl/internal/skzerrors"
)

const (
	agentPort      = 8700
	commandTimeout = 10 * time.Second
)

// Commands the agent accepts.
const (
	CommandMinimize     = "minimize"
	CommandMaximize     = "maximize"
	CommandRestart      = "restart"
	CommandReboot       = "reboot"
	CommandShowPairing  = "show_pairing"
	CommandResetPairing = "reset_pairing"
)

var knownCommands = map[string]bool{
	CommandMinimize:     true,
	CommandMaximize:     true,
	CommandRestart:      true,
	CommandReboot:       true,
	CommandShowPairing:  true,
	CommandResetPairing: true,
}

// ValidateCommand rejects anything outside the agent's command set.
func ValidateCommand(command string) error {
	if !knownCommands[command] {
		return fmt.Errorf("command %q: %w", command, skzerrors.ErrInvalidInput)
	}
	return nil
}

type Proxy struct {
	client *http.Client
	log    logrus.FieldLogger
}

func New(log logrus.FieldLogger) *Proxy {
	return &Proxy{
		client: &http.Client{Timeout: commandTimeout},
		log:    log,
	}
}

// SendCommand posts the command to the agent at the device's last reported
// address. An unreachable agent surfaces as ErrUpstreamUnreachable so the
// transport can answer 502.
func (p *Proxy) SendCommand(ctx context.Context, deviceIP, command string) (json.RawMessage, error) {
	if err := ValidateCommand(command); err != nil {
		return nil, err
	}
	if deviceIP == "" {
		return nil, fmt.Errorf("device has no known address: %w", skzerrors.ErrUpstreamUnreachable)
	}

	payload, err := json.Marshal(map[string]string{"command": command})
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("http://%s:%d/command", deviceIP, agentPort)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		p.log.WithError(err).WithField("device_ip", deviceIP).Warn("agent unreachable")
		return nil, fmt.Errorf("agent at %s: %w", deviceIP, skzerrors.ErrUpstreamUnreachable)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("reading agent response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("agent returned %d: %w", resp.StatusCode, skzerrors.ErrUpstreamUnreachable)
	}
	if len(body) == 0 {
		return json.RawMessage(`{}`), nil
	}
	return json.RawMessage(body), nil
}

// PushPlaylist delivers a composed playlist document to the agent. The agent
// persists it locally and acks; playback cutover happens on its side.
func (p *Proxy) PushPlaylist(ctx context.Context, deviceIP string, payload any) error {
	if deviceIP == "" {
		return fmt.Errorf("device has no known address: %w", skzerrors.ErrUpstreamUnreachable)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("http://%s:%d/playlist", deviceIP, agentPort)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("agent at %s: %w", deviceIP, skzerrors.ErrUpstreamUnreachable)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("agent returned %d: %w", resp.StatusCode, skzerrors.ErrUpstreamUnreachable)
	}
	return nil
}
