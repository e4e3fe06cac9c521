package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInterval_Known(t *testing.T) {
	expected := map[string]int{
		"1m":  1440,
		"5m":  288,
		"15m": 96,
		"30m": 48,
		"1h":  24,
		"4h":  6,
		"1d":  1,
	}

	for label, periods := range expected {
		iv, err := ParseInterval(label)
		require.NoError(t, err, "interval %s should parse", label)
		assert.Equal(t, periods, iv.PeriodsPerDay(), "periods per day for %s", label)
	}
}

func TestParseInterval_Unknown(t *testing.T) {
	_, err := ParseInterval("2h")
	assert.Error(t, err)

	_, err = ParseInterval("")
	assert.Error(t, err)
}

func TestInterval_Duration(t *testing.T) {
	assert.Equal(t, time.Minute, Interval1m.Duration())
	assert.Equal(t, 4*time.Hour, Interval4h.Duration())
	assert.Equal(t, 24*time.Hour, Interval1d.Duration())
}

func TestInterval_DurationMatchesPeriodsPerDay(t *testing.T) {
	// Duration * PeriodsPerDay must always cover exactly one day
	for _, iv := range []Interval{Interval1m, Interval5m, Interval15m, Interval30m, Interval1h, Interval4h, Interval1d} {
		total := iv.Duration() * time.Duration(iv.PeriodsPerDay())
		assert.Equal(t, 24*time.Hour, total, "interval %s", iv)
	}
}

func TestParseMode_RoundTrip(t *testing.T) {
	for _, name := range []string{"fixed", "online_adaptive", "rule_adaptive", "auto_optimize"} {
		m, err := ParseMode(name)
		require.NoError(t, err)
		assert.Equal(t, name, m.String())
	}
}

func TestParseMode_Unknown(t *testing.T) {
	_, err := ParseMode("adaptive")
	assert.Error(t, err, "legacy string modes are not recognized")
}

func TestMode_JSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(ModeOnlineAdaptive)
	require.NoError(t, err)
	assert.Equal(t, `"online_adaptive"`, string(data))

	var m Mode
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, ModeOnlineAdaptive, m)
}

func TestGammaState_Clamp(t *testing.T) {
	g := GammaState{Current: 1.0, LowerBound: 0.1, UpperBound: 10.0}

	assert.Equal(t, 0.1, g.Clamp(-5.0))
	assert.Equal(t, 10.0, g.Clamp(42.0))
	assert.Equal(t, 1.5, g.Clamp(1.5))
}

func TestRefreshSchedule_Due(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	s := RefreshSchedule{Interval: time.Minute, LastUpdate: now}

	assert.False(t, s.Due(now), "no time elapsed")
	assert.False(t, s.Due(now.Add(59*time.Second)), "interval not reached")
	assert.True(t, s.Due(now.Add(time.Minute)), "exactly one interval elapsed")
	assert.True(t, s.Due(now.Add(2*time.Minute)))
}

func TestRefreshSchedule_DueFromZero(t *testing.T) {
	// A schedule that never published is always due
	s := RefreshSchedule{Interval: time.Hour}
	assert.True(t, s.Due(time.Now()))
}
