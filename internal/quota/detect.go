package quota

import (
	"encoding/json"
	"strings"

	"github.com/anima/anima/internal/kernel"
)

var exhaustedPatterns = []string{
	"quota exceeded",
	"quota exhausted",
	"billing",
	"spending limit",
	"usage limit",
	"out of usage",
	"out of extra usage",
}

var rateLimitedPatterns = []string{
	"rate limit",
	"rate_limit",
	"429",
	"too many requests",
	"overloaded",
}

const defaultRateLimitRetrySeconds = 60

// DetectFromText scans combined stdout+stderr for literal quota/rate
// limit patterns, returning nil when neither appears.
// Exhaustion takes priority over rate-limiting when both are present.
func DetectFromText(combinedOutput string) *kernel.QuotaState {
	lower := strings.ToLower(combinedOutput)

	for _, p := range exhaustedPatterns {
		if strings.Contains(lower, p) {
			return &kernel.QuotaState{
				Status:  kernel.QuotaExhausted,
				Message: "agent output indicates quota exhaustion",
			}
		}
	}

	for _, p := range rateLimitedPatterns {
		if strings.Contains(lower, p) {
			retryAfter := defaultRateLimitRetrySeconds
			return &kernel.QuotaState{
				Status:            kernel.QuotaRateLimited,
				RetryAfterSeconds: &retryAfter,
				Message:           "agent output indicates rate limiting",
			}
		}
	}

	return nil
}

// structuredEvent is the shape of a quota event an agent backend may
// stream as a single JSON payload instead of (or alongside) free text.
type structuredEvent struct {
	Status         string `json:"status"`
	RateLimitType  string `json:"rateLimitType"`
	ResetsAt       *int64 `json:"resetsAt"`
	OverageStatus  string `json:"overageStatus"`
}

// DetectFromStructuredEvent parses a structured quota event payload: a
// "rejected" status with a "disabled" or "rejected" overageStatus means
// quota_exhausted with retry_after = max(0,
// resetsAt - now); any other rateLimitType/status combination means
// rate_limited. Returns nil if payload does not parse as a quota event.
func DetectFromStructuredEvent(payload []byte, nowUnix int64) *kernel.QuotaState {
	var evt structuredEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil
	}
	if evt.Status == "" && evt.RateLimitType == "" {
		return nil
	}

	if evt.Status == "rejected" && (evt.OverageStatus == "disabled" || evt.OverageStatus == "rejected") {
		retryAfter := 0
		if evt.ResetsAt != nil {
			delta := int(*evt.ResetsAt - nowUnix)
			if delta > 0 {
				retryAfter = delta
			}
		}
		return &kernel.QuotaState{
			Status:            kernel.QuotaExhausted,
			RetryAfterSeconds: &retryAfter,
			Message:           "structured quota event: exhausted",
		}
	}

	retryAfter := defaultRateLimitRetrySeconds
	if evt.ResetsAt != nil {
		delta := int(*evt.ResetsAt - nowUnix)
		if delta > 0 {
			retryAfter = delta
		}
	}
	return &kernel.QuotaState{
		Status:            kernel.QuotaRateLimited,
		RetryAfterSeconds: &retryAfter,
		Message:           "structured quota event: rate limited",
	}
}
