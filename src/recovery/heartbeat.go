package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/orchestra-mcp/liveconn/src/types"
)

func (c *Controller) heartbeatLoop(ctx context.Context, t *clock.Ticker) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.beat(ctx)
		}
	}
}

// beat takes one quality sample while connected. A probe failure is handled
// like a transport failure.
func (c *Controller) beat(ctx context.Context) {
	c.mu.Lock()
	connected := !c.destroyed && c.state.Status == types.StatusConnected
	gen := c.generation
	rtt, loss := c.state.RoundTripTime, c.state.PacketLoss
	c.mu.Unlock()
	if !connected {
		return
	}
	if c.prober == nil {
		c.UpdateQuality(rtt, loss)
		return
	}

	pctx, cancel := c.clock.WithTimeout(ctx, c.cfg.HeartbeatInterval)
	defer cancel()

	rtt, err := c.prober.Probe(pctx)
	if err != nil {
		c.mu.Lock()
		stale := c.destroyed || gen != c.generation
		c.mu.Unlock()
		if stale {
			return
		}
		c.HandleConnectionFailure(fmt.Errorf("%w: %w", ErrProbeFailed, err))
		return
	}

	loss = 0
	if c.stats != nil {
		if st, err := c.stats.ConnectionStats(pctx); err == nil {
			loss = st.PacketLoss
		} else {
			c.logger.Debug().Err(err).Msg("connection stats unavailable")
		}
	}
	c.UpdateQuality(rtt, loss)
}

// UpdateQuality records a quality sample and emits connection-quality-update.
// Loss is clamped to [0, 1].
func (c *Controller) UpdateQuality(rtt time.Duration, packetLoss float64) {
	rtt = max(rtt, 0)
	packetLoss = min(max(packetLoss, 0), 1)
	quality := ClassifyQuality(rtt, packetLoss)

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.state.RoundTripTime = rtt
	c.state.PacketLoss = packetLoss
	c.state.ConnectionQuality = quality
	c.mu.Unlock()

	c.emit(types.Event{
		Name:       types.EventQualityUpdate,
		Quality:    quality,
		RTT:        rtt,
		PacketLoss: packetLoss,
	})
}
