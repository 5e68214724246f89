// Package quota models the execute wrapper's single-retry sleep
// decision as a small policy object: two inputs (status, retry_after),
// one output (sleep duration or none), bounded by a configured maximum.
package quota

import (
	"time"

	"github.com/anima/anima/internal/kernel"
)

// Policy computes sleep durations for quota-limited execute results.
type Policy struct {
	RateLimitedDefault time.Duration
	ExhaustedDefault   time.Duration
	Max                time.Duration
}

// NewPolicy builds a Policy from the configured limits.
func NewPolicy(rateLimitedDefault, exhaustedDefault, max time.Duration) Policy {
	return Policy{
		RateLimitedDefault: rateLimitedDefault,
		ExhaustedDefault:   exhaustedDefault,
		Max:                max,
	}
}

// SleepFor returns the duration the execute wrapper should sleep before
// its single retry, or zero if state is nil or ok (no retry warranted).
func (p Policy) SleepFor(state *kernel.QuotaState) time.Duration {
	if state == nil || state.Status == kernel.QuotaOK {
		return 0
	}

	var d time.Duration
	if state.RetryAfterSeconds != nil {
		d = time.Duration(*state.RetryAfterSeconds) * time.Second
	} else {
		switch state.Status {
		case kernel.QuotaRateLimited:
			d = p.RateLimitedDefault
		case kernel.QuotaExhausted:
			d = p.ExhaustedDefault
		}
	}

	if d > p.Max {
		d = p.Max
	}
	if d < 0 {
		d = 0
	}
	return d
}
