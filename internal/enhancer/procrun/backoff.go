package procrun

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// BackoffConfig describes the delay between attempts.
type BackoffConfig struct {
	InitialDelayMS int     `json:"initial_delay_ms" yaml:"initial_delay_ms"`
	BackoffFactor  float64 `json:"backoff_factor" yaml:"backoff_factor"`
	MaxDelayMS     int     `json:"max_delay_ms" yaml:"max_delay_ms"`
	Jitter         bool    `json:"jitter" yaml:"jitter"`
}

// DefaultBackoffConfig is a fixed two second pause between attempts.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelayMS: 2000,
		BackoffFactor:  1.0,
		MaxDelayMS:     2000,
	}
}

// Sanitized clamps negative delays and a non-positive factor.
func (c BackoffConfig) Sanitized() BackoffConfig {
	if c.InitialDelayMS < 0 {
		c.InitialDelayMS = 0
	}
	if c.MaxDelayMS < 0 {
		c.MaxDelayMS = 0
	}
	if c.BackoffFactor <= 0 {
		c.BackoffFactor = 1.0
	}
	return c
}

// DelayForAttempt returns the wait before retry number attempt (1-based).
// With jitter the delay is scaled into [0.5, 1.5] deterministically from
// jitterSeed.
func DelayForAttempt(attempt int, cfg BackoffConfig, jitterSeed string) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	cfg = cfg.Sanitized()
	if cfg.InitialDelayMS == 0 {
		return 0
	}
	ms := float64(cfg.InitialDelayMS) * math.Pow(cfg.BackoffFactor, float64(attempt-1))
	if cfg.MaxDelayMS > 0 {
		ms = math.Min(ms, float64(cfg.MaxDelayMS))
	}
	if cfg.Jitter {
		ms *= 0.5 + jitterUnit(jitterSeed)
	}
	return time.Duration(ms * float64(time.Millisecond))
}

func jitterUnit(seed string) float64 {
	sum := sha256.Sum256([]byte(seed))
	return float64(binary.BigEndian.Uint64(sum[:8])) / float64(^uint64(0))
}

// schedule adapts BackoffConfig to backoff.BackOff.
type schedule struct {
	cfg     BackoffConfig
	seed    string
	attempt int
}

func (s *schedule) NextBackOff() time.Duration {
	s.attempt++
	return DelayForAttempt(s.attempt, s.cfg, fmt.Sprintf("%s:%d", s.seed, s.attempt))
}

func (s *schedule) Reset() { s.attempt = 0 }
