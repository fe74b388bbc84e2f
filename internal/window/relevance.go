package window

import (
	"math"
	"time"
)

// DecayConfig controls relevance scoring. The caps and divisors are tunable
// heuristics, not business rules.
type DecayConfig struct {
	RecentWindow    time.Duration // events younger than this count as recent
	ActivityDivisor float64       // activity boost = 1 + recent/divisor
	ActivityCap     float64
	InsightDivisor  float64 // insight boost = 1 + insights/divisor
	InsightCap      float64
}

// DefaultDecayConfig returns the stock relevance knobs.
func DefaultDecayConfig() DecayConfig {
	return DecayConfig{
		RecentWindow:    5 * time.Minute,
		ActivityDivisor: 10,
		ActivityCap:     2.0,
		InsightDivisor:  10,
		InsightCap:      1.5,
	}
}

// Relevance computes ageDecay * activityBoost * insightBoost and clamps the
// result into [floor, 1].
//
// age is the time since the previous update, maxAge the decay time constant.
func Relevance(age, maxAge time.Duration, recentEvents, insights int, floor float64, cfg DecayConfig) float64 {
	decay := 1.0
	if maxAge > 0 {
		decay = math.Exp(-float64(age) / float64(maxAge))
	}
	activity := math.Min(cfg.ActivityCap, 1+float64(recentEvents)/cfg.ActivityDivisor)
	insight := math.Min(cfg.InsightCap, 1+float64(insights)/cfg.InsightDivisor)
	return clamp(decay*activity*insight, floor, 1)
}

func clamp(v, lo, hi float64) float64 {
	if lo > hi {
		lo = hi
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
