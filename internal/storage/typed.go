package storage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FormatInstant renders t the way lastPostAt is stored.
func FormatInstant(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseInstant accepts RFC 3339 timestamps and epoch milliseconds.
func ParseInstant(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty instant")
	}
	if isDigits(s) {
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("instant %q: %w", raw, err)
		}
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("instant %q: %w", raw, err)
	}
	return t.UTC(), nil
}

// FormatDuration renders d as whole milliseconds.
func FormatDuration(d time.Duration) string {
	return strconv.FormatInt(d.Milliseconds(), 10)
}

// ParseDuration parses a positive integer count of milliseconds.
func ParseDuration(raw string) (time.Duration, error) {
	ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("duration %q: %w", raw, err)
	}
	if ms <= 0 {
		return 0, fmt.Errorf("duration %q: must be positive", raw)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// GetInstant reads key as an instant. A missing key is ok=false with no error.
func GetInstant(ctx context.Context, s SettingsStore, key string) (time.Time, bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	t, err := ParseInstant(raw)
	if err != nil {
		return time.Time{}, true, err
	}
	return t, true, nil
}

// GetDuration reads key as a millisecond duration.
func GetDuration(ctx context.Context, s SettingsStore, key string) (time.Duration, bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return 0, false, err
	}
	d, err := ParseDuration(raw)
	if err != nil {
		return 0, true, err
	}
	return d, true, nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
