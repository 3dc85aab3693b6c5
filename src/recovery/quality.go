package recovery

import (
	"time"

	"github.com/orchestra-mcp/liveconn/src/types"
)

// ClassifyQuality maps a round trip time and packet loss ratio to a quality
// tier. Thresholds are strict upper bounds.
func ClassifyQuality(rtt time.Duration, packetLoss float64) types.Quality {
	switch {
	case rtt < 100*time.Millisecond && packetLoss < 0.01:
		return types.QualityExcellent
	case rtt < 200*time.Millisecond && packetLoss < 0.03:
		return types.QualityGood
	case rtt < 400*time.Millisecond && packetLoss < 0.07:
		return types.QualityPoor
	default:
		return types.QualityCritical
	}
}
