package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDecayedHeatHalvesAfterOneHalfLife(t *testing.T) {
	now := time.Now()
	e := Entity{Heat: 1.0, HeatUpdatedAt: now.Add(-24 * time.Hour)}
	require.InDelta(t, 0.5, e.DecayedHeat(now, 24*time.Hour), 0.0001)
}

func TestDecayedHeatUnchangedWithoutElapsedTime(t *testing.T) {
	now := time.Now()
	e := Entity{Heat: 1.0, HeatUpdatedAt: now}
	require.Equal(t, 1.0, e.DecayedHeat(now, 24*time.Hour))
}

func TestDecayedHeatZeroStaysZero(t *testing.T) {
	now := time.Now()
	e := Entity{Heat: 0, HeatUpdatedAt: now.Add(-48 * time.Hour)}
	require.Equal(t, 0.0, e.DecayedHeat(now, 24*time.Hour))
}

func TestDecayedHeatUsesDefaultHalfLifeWhenUnset(t *testing.T) {
	now := time.Now()
	e := Entity{Heat: 1.0, HeatUpdatedAt: now.Add(-heatHalfLifeDefault)}
	require.InDelta(t, 0.5, e.DecayedHeat(now, 0), 0.0001)
}
