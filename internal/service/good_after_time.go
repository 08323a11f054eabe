package service

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// BrokerTimeLayout is the order time format the broker accepts.
const BrokerTimeLayout = "20060102 15:04:05 MST"

var relativeExpr = regexp.MustCompile(`^(?:in\s+)?(\d+)\s*(s|sec|secs|seconds?|m|min|mins|minutes?|h|hr|hrs|hours?|d|days?)(?:\s+from\s+now)?$`)

var absoluteLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"20060102 15:04:05",
	"20060102-15:04:05",
}

// ParseGoodAfterTime turns an absolute timestamp, a time of day, a relative
// offset ("in 10 minutes", "2h", "90m") or "now" into broker format in UTC.
// A bare time of day already past today rolls to tomorrow.
func ParseGoodAfterTime(expr string, now time.Time) (string, error) {
	t, err := resolveTime(strings.ToLower(strings.TrimSpace(expr)), now.UTC())
	if err != nil {
		return "", err
	}
	return t.UTC().Format(BrokerTimeLayout), nil
}

func resolveTime(expr string, now time.Time) (time.Time, error) {
	if expr == "" {
		return time.Time{}, fmt.Errorf("goodAfterTime is empty")
	}
	if expr == "now" {
		return now, nil
	}
	if m := relativeExpr.FindStringSubmatch(expr); m != nil {
		n, _ := strconv.Atoi(m[1])
		var unit time.Duration
		switch m[2][0] {
		case 's':
			unit = time.Second
		case 'm':
			unit = time.Minute
		case 'h':
			unit = time.Hour
		case 'd':
			unit = 24 * time.Hour
		}
		return now.Add(time.Duration(n) * unit), nil
	}
	if d, err := time.ParseDuration(strings.TrimPrefix(expr, "in ")); err == nil {
		return now.Add(d), nil
	}
	for _, layout := range absoluteLayouts {
		if t, err := time.Parse(layout, strings.ToUpper(expr)); err == nil {
			return t, nil
		}
	}
	for _, layout := range []string{"15:04:05", "15:04"} {
		if tod, err := time.Parse(layout, expr); err == nil {
			t := time.Date(now.Year(), now.Month(), now.Day(), tod.Hour(), tod.Minute(), tod.Second(), 0, time.UTC)
			if !t.After(now) {
				t = t.AddDate(0, 0, 1)
			}
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse goodAfterTime %q", expr)
}
