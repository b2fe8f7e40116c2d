package services

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	year2000Seconds int64 = 946684800
	year2000Millis  int64 = year2000Seconds * 1000
)

var year2000 = time.Unix(year2000Seconds, 0).UTC()

var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp interprets raw as epoch seconds, epoch milliseconds or an
// ISO-8601 string. It reports false for anything that is absent, unparseable
// or earlier than 2000-01-01.
func ParseTimestamp(raw any) (time.Time, bool) {
	switch v := raw.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return plausible(v)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return fromEpoch(i)
		}
		f, err := v.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return fromEpochFloat(f)
	case float64:
		return fromEpochFloat(v)
	case int64:
		return fromEpoch(v)
	case int:
		return fromEpoch(int64(v))
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return time.Time{}, false
		}
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return fromEpoch(i)
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromEpochFloat(f)
		}
		for _, layout := range isoLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return plausible(t)
			}
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

// NormalizeTimestamp is ParseTimestamp with now substituted for anything
// missing or implausible.
func NormalizeTimestamp(raw any, now time.Time) time.Time {
	if t, ok := ParseTimestamp(raw); ok {
		return t
	}
	return now.UTC()
}

func fromEpoch(v int64) (time.Time, bool) {
	switch {
	case v < year2000Seconds:
		return time.Time{}, false
	case v >= year2000Millis:
		return plausible(time.UnixMilli(v))
	default:
		return plausible(time.Unix(v, 0))
	}
}

func fromEpochFloat(v float64) (time.Time, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v > math.MaxInt64/2 {
		return time.Time{}, false
	}
	if v >= float64(year2000Millis) {
		return plausible(time.UnixMilli(int64(v)))
	}
	if v < float64(year2000Seconds) {
		return time.Time{}, false
	}
	sec, frac := math.Modf(v)
	return plausible(time.Unix(int64(sec), int64(frac*1e9)))
}

func plausible(t time.Time) (time.Time, bool) {
	if t.IsZero() || t.Before(year2000) {
		return time.Time{}, false
	}
	return t.UTC(), true
}
