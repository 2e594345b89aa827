package panel

import (
	"math"
	"math/rand"
	"time"
)

// BackoffSchedule computes reconnect delays: exponential with jitter,
// capped, per spec.md's "base 1s, factor 2, cap 60s, jitter ±25%".
type BackoffSchedule struct {
	Base   time.Duration
	Factor float64
	Max    time.Duration
	Jitter float64 // fraction of the computed delay, e.g. 0.25 for ±25%

	// rand is overridable in tests for deterministic jitter.
	rand *rand.Rand
}

// DefaultBackoffSchedule returns the reconnect schedule PanelLink uses:
// 1s base, ×2 factor, 60s cap, ±25% jitter.
func DefaultBackoffSchedule() BackoffSchedule {
	return BackoffSchedule{
		Base:   time.Second,
		Factor: 2,
		Max:    60 * time.Second,
		Jitter: 0.25,
	}
}

// Next returns the delay before reconnect attempt number attempt
// (0-based: attempt 0 is the first retry after an initial failure).
func (s BackoffSchedule) Next(attempt int) time.Duration {
	base := float64(s.Base) * math.Pow(s.Factor, float64(attempt))
	if base > float64(s.Max) {
		base = float64(s.Max)
	}

	r := s.rand
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec // jitter, not security-sensitive
	}
	jitterRange := base * s.Jitter
	delta := (r.Float64()*2 - 1) * jitterRange
	d := base + delta
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}
