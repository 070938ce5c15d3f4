package stats

import (
	"strings"
	"time"
)

const (
	// LiveWindow is how recently a validator must have attested to count as live.
	LiveWindow = 24 * time.Hour
	// HealthyMissThreshold is the miss percentage at or above which a validator is unhealthy.
	HealthyMissThreshold = 10.0
)

// ValidatorStats holds the liveness counters of one validator for one epoch.
type ValidatorStats struct {
	Address            string
	Epoch              uint64
	TotalSlots         uint64
	MissedAttestations uint64
	MissedProposals    uint64
	LastAttestationAt  time.Time
	LastProposalAt     time.Time
}

// Snapshot is the immutable set of stats fetched for one epoch, keyed by
// normalised address.
type Snapshot struct {
	Epoch      uint64
	Validators map[string]ValidatorStats
}

// NormalizeAddress lowercases and trims an address for map lookups.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// IsLive reports whether the validator attested within LiveWindow of now.
func IsLive(s ValidatorStats, now time.Time) bool {
	if s.LastAttestationAt.IsZero() {
		return false
	}
	return now.Sub(s.LastAttestationAt) <= LiveWindow
}

// MissPercentage returns missed attestations as a percentage of total slots.
func MissPercentage(s ValidatorStats) float64 {
	if s.TotalSlots == 0 {
		return 0
	}
	return float64(s.MissedAttestations) / float64(s.TotalSlots) * 100
}

// Healthy reports whether the miss percentage is below HealthyMissThreshold.
func Healthy(s ValidatorStats) bool {
	return MissPercentage(s) < HealthyMissThreshold
}
