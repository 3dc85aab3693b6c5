package types

import (
	"context"
	"time"
)

// JoinConfig identifies the room membership to establish.
type JoinConfig struct {
	RoomID      string `json:"roomId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
}

// Stream is an opaque handle to a published media stream.
type Stream struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

// Transport performs the actual video session calls. A nil enabled pointer
// toggles the current value.
type Transport interface {
	Join(ctx context.Context, cfg JoinConfig) error
	Leave(ctx context.Context) error
	ToggleVideo(ctx context.Context, enabled *bool) (bool, error)
	ToggleAudio(ctx context.Context, enabled *bool) (bool, error)
	StartScreenShare(ctx context.Context) (Stream, error)
}

// Stats are the transport's connection statistics.
type Stats struct {
	RTT        time.Duration `json:"rtt"`
	PacketLoss float64       `json:"packetLoss"`
}

// StatsProvider is implemented by transports that expose statistics.
type StatsProvider interface {
	ConnectionStats(ctx context.Context) (Stats, error)
}

// Prober measures a single round trip to the remote end.
type Prober interface {
	Probe(ctx context.Context) (time.Duration, error)
}
