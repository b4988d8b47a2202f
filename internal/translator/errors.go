package translator

import (
	"errors"
	"strings"

	"github.com/felipepmaragno/puter-gateway/internal/domain"
)

var rateLimitMarkers = []string{
	"rate limit",
	"usage limit",
	"usage-limited",
	"quota",
	"exceeded",
	"too many requests",
	"permission denied",
	"429",
}

var dailyMarkers = []string{
	"usage-limited",
	"usage limit",
	"permission denied",
}

// Classification tags an upstream error message. Daily implies RateLimited.
type Classification struct {
	RateLimited bool
	Daily       bool
}

// Classify matches msg case-insensitively against the rate-limit markers.
func Classify(msg string) Classification {
	lower := strings.ToLower(msg)

	var c Classification
	for _, m := range rateLimitMarkers {
		if strings.Contains(lower, m) {
			c.RateLimited = true
			break
		}
	}
	if !c.RateLimited {
		return c
	}
	for _, m := range dailyMarkers {
		if strings.Contains(lower, m) {
			c.Daily = true
			break
		}
	}
	return c
}

// ClassifyError classifies upstream errors. Timeouts, cancellations and
// transport failures are never rate-limit tagged.
func ClassifyError(err error) Classification {
	var upErr *domain.UpstreamError
	if errors.As(err, &upErr) {
		c := Classify(upErr.Message)
		if upErr.StatusCode == 429 {
			c.RateLimited = true
		}
		return c
	}
	return Classification{}
}
