// Package tasks defines the payloads that travel over the work queue between
// the API and the worker.
package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// QueueName is the single stream both binaries agree on.
const QueueName = "skyctl-tasks"

const (
	TaskCompileIndex         = "compile_index"
	TaskSendBulkNotification = "send_bulk_notification"
	TaskPlaylistSync         = "playlist_sync"
)

// Payload is the envelope of one queued task. Only the fields relevant to
// TaskName are populated.
type Payload struct {
	TaskName string `json:"task_name"`

	// compile_index
	Scope string `json:"scope,omitempty"`

	// send_bulk_notification
	AlertID uuid.UUID `json:"alert_id,omitempty"`
	RuleID  uuid.UUID `json:"rule_id,omitempty"`

	// playlist_sync
	DeviceID   uuid.UUID `json:"device_id,omitempty"`
	PlaylistID uuid.UUID `json:"playlist_id,omitempty"`
	Version    int64     `json:"version,omitempty"`
}

func (p *Payload) Marshal() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s task: %w", p.TaskName, err)
	}
	return data, nil
}

func Unmarshal(data []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshaling task payload: %w", err)
	}
	if p.TaskName == "" {
		return nil, fmt.Errorf("task payload has no task name")
	}
	return &p, nil
}
