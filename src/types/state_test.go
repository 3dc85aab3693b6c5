package types

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserStateClone(t *testing.T) {
	var nilState *UserState
	assert.Nil(t, nilState.Clone())

	orig := &UserState{
		UserID:          "u1",
		ParticipantList: []string{"a", "b"},
		RoomSettings:    RoomSettings{RoomSettingRecordingActive: true},
	}
	cp := orig.Clone()
	cp.ParticipantList[0] = "z"
	cp.RoomSettings[RoomSettingRecordingActive] = false

	assert.Equal(t, "a", orig.ParticipantList[0])
	assert.True(t, orig.RoomSettings.RecordingActive())
	assert.False(t, cp.RoomSettings.RecordingActive())
}

func TestRecordingActive(t *testing.T) {
	assert.False(t, RoomSettings(nil).RecordingActive())
	assert.False(t, RoomSettings{RoomSettingRecordingActive: "yes"}.RecordingActive())
	assert.True(t, RoomSettings{RoomSettingRecordingActive: true}.RecordingActive())
}

func TestConnectionStateJSON(t *testing.T) {
	st := ConnectionState{
		Status:            StatusConnected,
		ConnectionQuality: QualityGood,
		RoundTripTime:     150 * time.Millisecond,
		PacketLoss:        0.02,
	}
	raw, err := json.Marshal(st)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "connected", out["status"])
	assert.Equal(t, "good", out["connection_quality"])
	assert.Equal(t, 150.0, out["round_trip_time_ms"])
	assert.NotContains(t, out, "last_connected")
}

func TestEventFields(t *testing.T) {
	ev := Event{
		Name:        EventReconnectionAttempt,
		Attempt:     2,
		MaxAttempts: 10,
		Delay:       2 * time.Second,
		Err:         errors.New("drop"),
	}
	f := ev.Fields()
	assert.Equal(t, "reconnection-attempt", f["name"])
	assert.Equal(t, 2, f["attempt"])
	assert.Equal(t, int64(2000), f["delay_ms"])
	assert.Equal(t, "drop", f["error"])
	assert.NotContains(t, f, "quality")
}

func TestQualityRank(t *testing.T) {
	assert.Greater(t, QualityExcellent.Rank(), QualityGood.Rank())
	assert.Greater(t, QualityGood.Rank(), QualityPoor.Rank())
	assert.Greater(t, QualityPoor.Rank(), QualityCritical.Rank())
}
