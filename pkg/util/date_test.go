package util

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	require.True(t, ok)
	assert.Equal(t, s, got.UTC().Format(time.RFC3339))
}

func TestParseTimeUnix(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)

	got, ok := ParseTime(strconv.FormatInt(ts.Unix(), 10))
	require.True(t, ok)
	assert.True(t, got.Equal(ts))

	got, ok = ParseTime(strconv.FormatInt(ts.UnixMilli()+250, 10))
	require.True(t, ok)
	assert.True(t, got.Equal(ts.Add(250*time.Millisecond)))
}

func TestParseTimeRejectsGarbage(t *testing.T) {
	_, ok := ParseTime("yesterday")
	assert.False(t, ok)
	_, ok = ParseTime("-5")
	assert.False(t, ok)
}

func TestParseTimeDefault(t *testing.T) {
	def := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	assert.True(t, ParseTimeDefault("", def).Equal(def))
}

func TestAlignFromTo(t *testing.T) {
	from := time.Date(2024, 1, 1, 9, 17, 42, 0, time.UTC)
	to := from.Add(3 * time.Minute)

	f, e := AlignFromTo(from, to, "1m")
	assert.Equal(t, time.Date(2024, 1, 1, 9, 17, 0, 0, time.UTC), f)
	assert.Equal(t, time.Date(2024, 1, 1, 9, 20, 0, 0, time.UTC), e)

	f, _ = AlignFromTo(from, to, "5m")
	assert.Equal(t, time.Date(2024, 1, 1, 9, 15, 0, 0, time.UTC), f)
}
