package tasks

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadRoundTrip(t *testing.T) {
	original := &Payload{
		TaskName:   TaskPlaylistSync,
		DeviceID:   uuid.New(),
		PlaylistID: uuid.New(),
		Version:    7,
	}
	data, err := original.Marshal()
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, original, got)
}

func TestUnmarshalRejectsMissingTaskName(t *testing.T) {
	_, err := Unmarshal([]byte(`{"scope":"missing_persons"}`))
	assert.ErrorContains(t, err, "no task name")
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	_, err := Unmarshal([]byte("not json"))
	assert.Error(t, err)
}
