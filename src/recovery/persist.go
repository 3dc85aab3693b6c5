package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/orchestra-mcp/liveconn/src/store"
	"github.com/orchestra-mcp/liveconn/src/types"
)

// UserStateKey is the store key holding the serialized user state snapshot.
const UserStateKey = "video_call_user_state"

const persistTimeout = 5 * time.Second

// Snapshot is the persisted form of a UserState.
type Snapshot struct {
	UserState *types.UserState `json:"userState"`
	// Timestamp is the capture time in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// persistAsync writes s to the store in the background. Writes are
// serialized and a write older than one already stored is dropped.
func (c *Controller) persistAsync(s *types.UserState) {
	if s == nil {
		return
	}
	seq := c.persistSeq.Add(1)
	go func() {
		c.persistMu.Lock()
		defer c.persistMu.Unlock()
		if seq <= c.persistWritten {
			return
		}
		c.persistWritten = seq
		c.persistUserState(s)
	}()
}

// persistUserState writes s to the store. Failures are logged and swallowed.
func (c *Controller) persistUserState(s *types.UserState) {
	if s == nil {
		return
	}
	data, err := json.Marshal(Snapshot{UserState: s, Timestamp: c.clock.Now().UnixMilli()})
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to encode user state")
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, persistTimeout)
	defer cancel()
	if err := c.store.Set(ctx, UserStateKey, data); err != nil {
		c.logger.Error().Err(err).Msg("failed to persist user state")
		return
	}
	c.logger.Debug().Str("user_id", s.UserID).Str("room_id", s.RoomID).Msg("user state persisted")
}

// RestoreUserState reads the last persisted snapshot. It returns
// store.ErrNotFound when nothing has been persisted yet.
func (c *Controller) RestoreUserState(ctx context.Context) (*Snapshot, error) {
	data, err := c.store.Get(ctx, UserStateKey)
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode user state snapshot: %w", err)
	}
	return &snap, nil
}

// loadSnapshot returns the persisted user state, or nil when the store is
// empty or unreadable. It is used only when no state was ever set on this
// controller, e.g. after a process restart.
func (c *Controller) loadSnapshot(ctx context.Context) *types.UserState {
	snap, err := c.RestoreUserState(ctx)
	switch {
	case err == nil:
		return snap.UserState
	case !errors.Is(err, store.ErrNotFound):
		c.logger.Warn().Err(err).Msg("failed to read persisted user state")
	}
	return nil
}
