package birdeye

import (
	"strings"
	"time"
)

const (
	ListingTTL = 60 * time.Second
	PriceTTL   = 15 * time.Second
	OHLCVTTL   = 120 * time.Second
	DefaultTTL = 30 * time.Second
)

// TTLFor picks the cache lifetime for an endpoint.
// Checked in order: trending/meme listings, prices, candles, everything else.
func TTLFor(endpoint string) time.Duration {
	switch {
	case strings.Contains(endpoint, "trending"), strings.Contains(endpoint, "meme"):
		return ListingTTL
	case strings.Contains(endpoint, "price"):
		return PriceTTL
	case strings.Contains(endpoint, "ohlcv"):
		return OHLCVTTL
	default:
		return DefaultTTL
	}
}
