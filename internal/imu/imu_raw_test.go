package imu

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCountsToMS2(t *testing.T) {
	require.InDelta(t, StandardGravity, CountsToMS2(16384, 0), 1e-9)
	require.InDelta(t, StandardGravity, CountsToMS2(8192, 1), 1e-9)
	require.InDelta(t, 2*StandardGravity, CountsToMS2(8192, 2), 1e-9)
	require.InDelta(t, -StandardGravity, CountsToMS2(-2048, 3), 1e-9)
	require.InDelta(t, StandardGravity, CountsToMS2(16384, 9), 1e-9, "unknown range falls back to ±2g")
}

func TestIMURawToAccel(t *testing.T) {
	now := time.Unix(1700000000, 0)
	s := IMURaw{Source: "left", Ax: 0, Ay: -4096, Az: 8192}.ToAccel(1, now)
	require.Equal(t, "left", s.Source)
	require.Equal(t, now, s.Time)
	require.Zero(t, s.X)
	require.InDelta(t, -StandardGravity/2, s.Y, 1e-9)
	require.InDelta(t, StandardGravity, s.Z, 1e-9)
}
