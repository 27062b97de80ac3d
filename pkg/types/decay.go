package types

import (
	"math"
	"time"
)

// DecayHalfLifeDays (H) controls how quickly recency decays towards zero.
const DecayHalfLifeDays = 180.0

// AccessBoostFactor (k_a) scales the logarithmic access-count boost.
const AccessBoostFactor = 0.1

// Recency returns exp(-age_days/H) for a memory whose updated_at is as
// given, evaluated at now. It is a pure function of its inputs.
func Recency(updatedAt, now time.Time) float64 {
	ageDays := now.Sub(updatedAt).Hours() / 24.0
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-ageDays / DecayHalfLifeDays)
}

// DecayedImportance computes the decayed-importance score:
//
//	decayed(m) = importance(m) * recency(m) * type_weight(m) *
//	             (1 + ln(1 + access_count(m)) * k_a)
//
// It is pure: the same inputs always yield the same output, and it never
// mutates m. The result is never negative.
func DecayedImportance(m *MemoryNote, now time.Time) float64 {
	recency := Recency(m.UpdatedAt, now)
	boost := 1 + math.Log(1+float64(m.AccessCount))*AccessBoostFactor
	score := float64(m.Importance) * recency * m.MemoryType.TypeWeight() * boost
	if score < 0 {
		return 0
	}
	return score
}
