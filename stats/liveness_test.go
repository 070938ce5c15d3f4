package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMissPercentage(t *testing.T) {
	require.Equal(t, 0.0, MissPercentage(ValidatorStats{}))
	require.InDelta(t, 12.5, MissPercentage(ValidatorStats{TotalSlots: 80, MissedAttestations: 10}), 1e-9)
}

func TestHealthyThreshold(t *testing.T) {
	require.True(t, Healthy(ValidatorStats{TotalSlots: 100, MissedAttestations: 9}))
	require.False(t, Healthy(ValidatorStats{TotalSlots: 100, MissedAttestations: 10}))
	require.True(t, Healthy(ValidatorStats{}))
}

func TestIsLive(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	require.False(t, IsLive(ValidatorStats{}, now))
	require.True(t, IsLive(ValidatorStats{LastAttestationAt: now.Add(-23 * time.Hour)}, now))
	require.True(t, IsLive(ValidatorStats{LastAttestationAt: now.Add(-LiveWindow)}, now))
	require.False(t, IsLive(ValidatorStats{LastAttestationAt: now.Add(-LiveWindow - time.Second)}, now))
}
