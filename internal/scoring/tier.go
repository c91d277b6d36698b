package scoring

import (
	"math"
	"strings"
)

// Risk tiers reported by the scoring service.
const (
	TierHigh    = "HIGH"
	TierMedium  = "MEDIUM"
	TierLow     = "LOW"
	TierUnknown = "UNKNOWN"
)

// Tier thresholds on the dropout probability.
const (
	highThreshold   = 0.7
	mediumThreshold = 0.4
)

// TierFor derives the risk tier for a dropout probability.
func TierFor(p *float64) string {
	if p == nil {
		return TierUnknown
	}
	switch {
	case *p >= highThreshold:
		return TierHigh
	case *p >= mediumThreshold:
		return TierMedium
	default:
		return TierLow
	}
}

// NormalizeTier upper-cases a reported tier, returning "" when it is not one we know.
func NormalizeTier(tier string) string {
	switch t := strings.ToUpper(strings.TrimSpace(tier)); t {
	case TierHigh, TierMedium, TierLow:
		return t
	}
	return ""
}

// Deservingness mirrors the service formula: (1 - p) * 100, two decimals.
func Deservingness(p float64) float64 {
	return math.Round((1-p)*100*100) / 100
}
