package types

import "time"

// EventName identifies a controller lifecycle event.
type EventName string

const (
	EventConnectionEstablished EventName = "connection-established"
	EventConnectionFailed      EventName = "connection-failed"
	EventReconnectionAttempt   EventName = "reconnection-attempt"
	EventReconnectionSuccess   EventName = "reconnection-success"
	EventReconnectionFailed    EventName = "reconnection-failed"
	EventQualityUpdate         EventName = "connection-quality-update"
	EventStateRestoring        EventName = "state-restoring"
	EventMediaRestoring        EventName = "media-restoring"
	EventPeersRestoring        EventName = "peers-restoring"
	EventParticipantsSyncing   EventName = "participants-syncing"
	EventRecordingResuming     EventName = "recording-resuming"
)

// AllEvents lists every event the controller emits.
var AllEvents = []EventName{
	EventConnectionEstablished,
	EventConnectionFailed,
	EventReconnectionAttempt,
	EventReconnectionSuccess,
	EventReconnectionFailed,
	EventQualityUpdate,
	EventStateRestoring,
	EventMediaRestoring,
	EventPeersRestoring,
	EventParticipantsSyncing,
	EventRecordingResuming,
}

// Event is the payload delivered to listeners. Only the fields relevant to
// Name are set.
type Event struct {
	Name      EventName `json:"name"`
	Timestamp time.Time `json:"timestamp"`

	Attempt     int           `json:"attempt,omitempty"`
	MaxAttempts int           `json:"max_attempts,omitempty"`
	Delay       time.Duration `json:"delay,omitempty"`
	Err         error         `json:"-"`

	Quality    Quality       `json:"quality,omitempty"`
	RTT        time.Duration `json:"rtt,omitempty"`
	PacketLoss float64       `json:"packet_loss,omitempty"`

	// UserState is a private copy for the listener.
	UserState *UserState `json:"user_state,omitempty"`
}

// Fields flattens the event into a map suitable for a Message payload.
func (e Event) Fields() map[string]any {
	m := map[string]any{"name": string(e.Name)}
	if e.Attempt > 0 {
		m["attempt"] = e.Attempt
	}
	if e.MaxAttempts > 0 {
		m["max_attempts"] = e.MaxAttempts
	}
	if e.Delay > 0 {
		m["delay_ms"] = e.Delay.Milliseconds()
	}
	if e.Err != nil {
		m["error"] = e.Err.Error()
	}
	if e.Quality != "" {
		m["quality"] = string(e.Quality)
		m["rtt_ms"] = float64(e.RTT) / float64(time.Millisecond)
		m["packet_loss"] = e.PacketLoss
	}
	if e.UserState != nil {
		m["user_id"] = e.UserState.UserID
		m["room_id"] = e.UserState.RoomID
	}
	return m
}
