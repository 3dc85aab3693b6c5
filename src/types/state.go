package types

import (
	"encoding/json"
	"maps"
	"slices"
	"time"
)

// Status is the lifecycle status of a live session connection.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusFailed       Status = "failed"
)

// Quality is the coarse connection quality derived from RTT and packet loss.
type Quality string

const (
	QualityExcellent Quality = "excellent"
	QualityGood      Quality = "good"
	QualityPoor      Quality = "poor"
	QualityCritical  Quality = "critical"
)

// Rank orders qualities from critical (0) to excellent (3).
func (q Quality) Rank() int {
	switch q {
	case QualityExcellent:
		return 3
	case QualityGood:
		return 2
	case QualityPoor:
		return 1
	default:
		return 0
	}
}

// ConnectionState is a snapshot of the controller's connection lifecycle.
// Values are copies; mutating one never affects the controller.
type ConnectionState struct {
	Status            Status        `json:"status"`
	AttemptCount      int           `json:"attempt_count"`
	LastConnected     time.Time     `json:"last_connected,omitzero"`
	ConnectionQuality Quality       `json:"connection_quality"`
	RoundTripTime     time.Duration `json:"-"`
	PacketLoss        float64       `json:"packet_loss"`
}

// MarshalJSON renders the round trip time in milliseconds.
func (s ConnectionState) MarshalJSON() ([]byte, error) {
	type alias ConnectionState
	return json.Marshal(struct {
		alias
		RoundTripTimeMs float64 `json:"round_trip_time_ms"`
	}{
		alias:           alias(s),
		RoundTripTimeMs: float64(s.RoundTripTime) / float64(time.Millisecond),
	})
}

// RoomSettingRecordingActive is the RoomSettings key holding the
// recording-active flag.
const RoomSettingRecordingActive = "recordingActive"

// RoomSettings is an opaque configuration bag owned by the room service.
type RoomSettings map[string]any

// RecordingActive reports whether the room was recording.
func (r RoomSettings) RecordingActive() bool {
	v, ok := r[RoomSettingRecordingActive].(bool)
	return ok && v
}

// MediaState describes the local media tracks.
type MediaState struct {
	VideoEnabled  bool `json:"videoEnabled"`
	AudioEnabled  bool `json:"audioEnabled"`
	ScreenSharing bool `json:"screenSharing"`
}

// UserState is the caller-supplied session snapshot persisted across drops.
type UserState struct {
	UserID          string       `json:"userId"`
	RoomID          string       `json:"roomId"`
	DisplayName     string       `json:"displayName"`
	Role            string       `json:"role"`
	MediaState      MediaState   `json:"mediaState"`
	ParticipantList []string     `json:"participantList"`
	RoomSettings    RoomSettings `json:"roomSettings"`
}

// Clone returns a copy that shares no slices or maps with u.
func (u *UserState) Clone() *UserState {
	if u == nil {
		return nil
	}
	cp := *u
	cp.ParticipantList = slices.Clone(u.ParticipantList)
	cp.RoomSettings = maps.Clone(u.RoomSettings)
	return &cp
}
