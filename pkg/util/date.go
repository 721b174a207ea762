package util

import (
	"strconv"
	"time"
)

// epochMillisCutoff separates unix seconds from unix milliseconds.
const epochMillisCutoff = 1e11

// ParseTime tries RFC3339, RFC3339Nano, and unix seconds or milliseconds. Returns (t, true) if any worked.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return FromEpoch(ts), true
	}
	return time.Time{}, false
}

// FromEpoch converts unix seconds or milliseconds to UTC time.
func FromEpoch(ts int64) time.Time {
	if ts > epochMillisCutoff {
		return time.UnixMilli(ts).UTC()
	}
	return time.Unix(ts, 0).UTC()
}

// ParseTimeDefault parses time or returns default if empty/invalid.
func ParseTimeDefault(s string, def time.Time) time.Time {
	if t, ok := ParseTime(s); ok {
		return t
	}
	return def
}

// AlignFromTo rounds the time range down to boundaries for the timeframe.
func AlignFromTo(from, to time.Time, tf string) (time.Time, time.Time) {
	d := time.Minute
	switch tf {
	case "1s":
		d = time.Second
	case "5m":
		d = 5 * time.Minute
	}
	return from.Truncate(d), to.Truncate(d)
}
