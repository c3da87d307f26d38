// Package tcp carries the exchange protocol between two leader ranks over a
// TCP connection.
package tcp

import (
	"math"
	"time"

	"github.com/sarchlab/gridexchange/comm/wire"
)

// BackoffConfig defines how dialing retries while the listener is not up.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// Config defines connection behavior.
type Config struct {
	Limits           wire.Limits
	HandshakeTimeout time.Duration
	Backoff          BackoffConfig
}

// DefaultConfig returns the defaults used by the CLI.
func DefaultConfig() Config {
	return Config{
		Limits:           wire.DefaultLimits(),
		HandshakeTimeout: 10 * time.Second,
		Backoff: BackoffConfig{
			InitialDelay: 100 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     2 * time.Second,
		},
	}
}

// nextBackoffDelay returns the retry delay for attempt N (1-based).
func nextBackoffDelay(cfg BackoffConfig, attempt int) time.Duration {
	if attempt <= 1 || cfg.InitialDelay <= 0 {
		return cfg.InitialDelay
	}

	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}

	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	return time.Duration(delay)
}
