package duration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_StandardUnits(t *testing.T) {
	d, err := Parse("90s")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	d, err = Parse("1h30m")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, d)
}

func TestParse_ExtendedUnits(t *testing.T) {
	d, err := Parse("2d")
	require.NoError(t, err)
	assert.Equal(t, 48*time.Hour, d)

	d, err = Parse("1w")
	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, d)
}

func TestParse_Unlimited(t *testing.T) {
	d, err := Parse("unlimited")
	require.NoError(t, err)
	assert.Equal(t, Unlimited, d)

	d, err = Parse("UNLIMITED")
	require.NoError(t, err)
	assert.Equal(t, Unlimited, d)
}

func TestParse_Year(t *testing.T) {
	d, err := Parse("1y")
	require.NoError(t, err)
	// Calendar-relative: between 365 and 366 days depending on leap years.
	assert.Greater(t, d, 364*24*time.Hour)
	assert.Less(t, d, 367*24*time.Hour)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse("")
	assert.Error(t, err)

	_, err = Parse("nope")
	assert.Error(t, err)
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("unlimited")))
	assert.True(t, d.IsUnlimited())
	assert.Equal(t, "unlimited", d.String())

	require.NoError(t, d.UnmarshalText([]byte("5m")))
	assert.False(t, d.IsUnlimited())
	assert.Equal(t, 5*time.Minute, d.Duration())
}
