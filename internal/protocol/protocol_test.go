package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimingMatches(t *testing.T) {
	// Thursday 1970-01-01 00:04 UTC: epoch Thursday, hour 0, minute 4.
	at := time.Date(1970, 1, 1, 0, 4, 0, 0, time.UTC)
	require.Equal(t, time.Thursday, at.Weekday())

	timing := Timing{
		Minutes:    1 << 4, // minute 4 only
		Hours:      1 << 0, // hour 0 only
		DaysOfWeek: 1 << 4, // Thursday only (bit 4)
	}
	assert.True(t, timing.Matches(at))

	assert.False(t, timing.Matches(at.Add(time.Minute))) // minute 5 doesn't match
	assert.False(t, timing.Matches(at.Add(time.Hour)))   // hour 1 doesn't match
	assert.False(t, timing.Matches(at.Add(24*time.Hour))) // Friday doesn't match
}

func TestTimingEmptyDimensionNeverMatches(t *testing.T) {
	timing := Timing{Minutes: 0, Hours: 0, DaysOfWeek: 0}
	at := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 60; i++ {
		assert.False(t, timing.Matches(at.Add(time.Duration(i)*time.Minute)))
	}
}

func TestExitCodeEncoding(t *testing.T) {
	assert.Equal(t, uint16(7), EncodeNormalExit(7))
	assert.Equal(t, uint16(0), EncodeNormalExit(256)) // masked to one byte

	sig := EncodeSignaled(9) // SIGKILL
	assert.NotEqual(t, uint16(0), sig&0x8000)
	assert.Equal(t, uint16(9), (sig>>8)&0x7F)
}
