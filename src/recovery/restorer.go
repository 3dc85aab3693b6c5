package recovery

import (
	"context"
	"fmt"

	"github.com/orchestra-mcp/liveconn/src/types"
	"github.com/rs/zerolog"
)

// Restorer rejoins the room and reapplies media state through a Transport
// when the controller announces the matching restoration steps.
type Restorer struct {
	transport types.Transport
	logger    zerolog.Logger
}

// NewRestorer creates a restorer for t.
func NewRestorer(t types.Transport, logger zerolog.Logger) *Restorer {
	return &Restorer{
		transport: t,
		logger:    logger.With().Str("component", "restorer").Logger(),
	}
}

// Attach subscribes the restorer to c and returns a function that detaches it.
func (r *Restorer) Attach(c *Controller) func() {
	offState := c.On(types.EventStateRestoring, r.rejoin)
	offMedia := c.On(types.EventMediaRestoring, r.restoreMedia)
	return func() {
		offState()
		offMedia()
	}
}

func (r *Restorer) rejoin(ctx context.Context, ev types.Event) error {
	us := ev.UserState
	if us == nil {
		return nil
	}
	err := r.transport.Join(ctx, types.JoinConfig{
		RoomID:      us.RoomID,
		UserID:      us.UserID,
		DisplayName: us.DisplayName,
		Role:        us.Role,
	})
	if err != nil {
		return fmt.Errorf("rejoin room %s: %w", us.RoomID, err)
	}
	r.logger.Info().Str("room_id", us.RoomID).Str("user_id", us.UserID).Msg("rejoined room")
	return nil
}

func (r *Restorer) restoreMedia(ctx context.Context, ev types.Event) error {
	us := ev.UserState
	if us == nil {
		return nil
	}
	media := us.MediaState
	if _, err := r.transport.ToggleVideo(ctx, &media.VideoEnabled); err != nil {
		return fmt.Errorf("restore video: %w", err)
	}
	if _, err := r.transport.ToggleAudio(ctx, &media.AudioEnabled); err != nil {
		return fmt.Errorf("restore audio: %w", err)
	}
	if media.ScreenSharing {
		if _, err := r.transport.StartScreenShare(ctx); err != nil {
			return fmt.Errorf("restore screen share: %w", err)
		}
	}
	r.logger.Debug().
		Bool("video", media.VideoEnabled).
		Bool("audio", media.AudioEnabled).
		Bool("screen", media.ScreenSharing).
		Msg("media restored")
	return nil
}
