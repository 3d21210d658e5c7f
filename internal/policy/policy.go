// Package policy derives the numeric thresholds and layer ordering that
// drive the coordinated security engine. Everything here is a pure function
// of configuration and input; missing configuration falls back to
// conservative defaults rather than failing.
package policy

import (
	"time"
)

// Layer identifies one enforcement layer in the coordination chain.
type Layer string

const (
	LayerAccountLockout Layer = "account-lockout"
	LayerBruteForce     Layer = "brute-force-delay"
	LayerRateLimit      Layer = "rate-limit"
	LayerIPBlock        Layer = "ip-block"
	LayerMonitoring     Layer = "monitoring"
	LayerErrorFallback  Layer = "error-fallback"
)

// Action is the engine's terminal decision for a request.
type Action string

const (
	ActionAllow     Action = "allow"
	ActionDelay     Action = "delay"
	ActionLockout   Action = "lockout"
	ActionRateLimit Action = "rate-limit"
	ActionBlock     Action = "block"
)

// Decision is one security verdict for an inbound request.
type Decision struct {
	Action         Action
	Layer          Layer
	EffectiveCount int
	Delay          time.Duration // nonzero only for ActionDelay
	RetryAfter     time.Duration // hint for lockout/rate-limit responses
	Monitor        bool          // allow, but flag for audit logging
}

// Allowed reports whether the request may proceed (possibly after Delay).
func (d Decision) Allowed() bool {
	return d.Action == ActionAllow || d.Action == ActionDelay
}

// Thresholds are the derived attempt-count trip points, strictly increasing:
// Warning < Critical < Lockout < RateLimit. The ordering is validated at
// configuration load.
type Thresholds struct {
	Warning   int
	Critical  int
	Lockout   int
	RateLimit int
}

const (
	defaultBaseAttempts = 5

	maxDelayExponent = 10
	delayCap         = 30 * time.Second
)

// Defaults are the conservative thresholds used when configuration is absent.
var Defaults = Derive(defaultBaseAttempts, 40, 60, 100, 200)

// Derive computes thresholds as percentages of a base attempt count, each
// floored at 1. Callers are expected to have validated the ordering.
func Derive(base, warningPct, criticalPct, lockoutPct, rateLimitPct int) Thresholds {
	if base < 1 {
		base = defaultBaseAttempts
	}
	return Thresholds{
		Warning:   pctOf(base, warningPct),
		Critical:  pctOf(base, criticalPct),
		Lockout:   pctOf(base, lockoutPct),
		RateLimit: pctOf(base, rateLimitPct),
	}
}

func pctOf(base, pct int) int {
	t := base * pct / 100
	if t < 1 {
		t = 1
	}
	return t
}

// ProgressiveDelay returns the artificial latency imposed on an attempt.
// Zero below the warning threshold, then exponential with the attempt count,
// capped at 30 seconds. Monotonically non-decreasing in attempts.
func (t Thresholds) ProgressiveDelay(attempts int) time.Duration {
	if attempts < t.Warning {
		return 0
	}

	exp := attempts - t.Warning + 1
	if exp > maxDelayExponent {
		exp = maxDelayExponent
	}

	delay := time.Duration(1<<(exp-1)) * time.Second
	if delay > delayCap {
		delay = delayCap
	}
	return delay
}

// LayerPriority is the ordered list of enforcement layers. The engine walks
// it front to back and returns the first layer whose condition fires, so
// earlier layers win when multiple thresholds are crossed at once.
func LayerPriority() []Layer {
	return []Layer{
		LayerAccountLockout,
		LayerBruteForce,
		LayerRateLimit,
		LayerIPBlock,
	}
}
