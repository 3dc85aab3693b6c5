package recovery

import (
	"time"

	"github.com/orchestra-mcp/liveconn/config"
)

// Backoff returns the delay before reconnection attempt number attempt
// (1-based). With exponential backoff the delay doubles per attempt starting
// at InitialReconnectDelay and is capped at MaxReconnectDelay; otherwise it
// is always InitialReconnectDelay.
func Backoff(cfg config.RecoveryConfig, attempt int) time.Duration {
	initial := cfg.InitialReconnectDelay
	if !cfg.ExponentialBackoff() {
		return initial
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		if delay >= cfg.MaxReconnectDelay {
			break
		}
		delay *= 2
	}
	return min(delay, cfg.MaxReconnectDelay)
}
