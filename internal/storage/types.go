package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	ErrDisabled      = errors.New("storage disabled")
	ErrClosed        = errors.New("storage closed")
	ErrUnknownDriver = errors.New("unknown storage driver")
	ErrEmptyKey      = errors.New("setting key is empty")
)

// Reserved setting keys.
const (
	KeyLastPostAt     = "lastPostAt"
	KeyPostIntervalMs = "postIntervalMs"
)

// DefaultRecentLogs is the page size used when RecentLogs gets limit <= 0.
const DefaultRecentLogs = 20

// Config configures storage.
//
// Driver values:
//   - "memory": process-local maps (tests, ephemeral runs)
//   - "file": JSON settings document + JSON Lines log, flock guarded
//   - "sqlite": SQLite database file
//   - "postgres": shared PostgreSQL database (DSN)
//
// Empty or "none" is rejected with ErrDisabled.
type Config struct {
	Driver       string
	Path         string
	DSN          string
	BusyTimeout  time.Duration // sqlite only; 0 means default
	MaxOpenConns int           // postgres only; 0 means driver default

	// Clock overrides time.Now for updated_at and log timestamps.
	Clock func() time.Time
}

func (c Config) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now()
}

// Setting is one row of the settings table.
type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

func (d Direction) Valid() bool { return d == Inbound || d == Outbound }

// LogEntry is one message in the bot history.
type LogEntry struct {
	ID        int64     `json:"id"`
	Message   string    `json:"message"`
	Direction Direction `json:"direction"`
	Timestamp time.Time `json:"timestamp"`
}

// Expect is the precondition of a CompareAndSet: either the key is absent,
// or it is present with an exact value.
type Expect struct {
	present bool
	value   string
}

// Absent expects the key to have no row.
func Absent() Expect { return Expect{} }

// Value expects the key to currently hold v.
func Value(v string) Expect { return Expect{present: true, value: v} }

func (e Expect) Present() bool { return e.present }

func (e Expect) Value() string { return e.value }

// Matches reports whether a current read satisfies the expectation.
func (e Expect) Matches(current string, ok bool) bool {
	if !e.present {
		return !ok
	}
	return ok && current == e.value
}

func (e Expect) String() string {
	if !e.present {
		return "<absent>"
	}
	return strconv.Quote(e.value)
}

// SettingsStore is a durable key/value map with an atomic compare-and-set.
type SettingsStore interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	GetSetting(ctx context.Context, key string) (Setting, bool, error)
	Set(ctx context.Context, key, value string) error
	// CompareAndSet writes value only if the key currently matches expected.
	// It reports whether this call performed the write.
	CompareAndSet(ctx context.Context, key string, expected Expect, value string) (bool, error)
	ListSettings(ctx context.Context) ([]Setting, error)
}

// LogSink is the append-only message history.
type LogSink interface {
	AppendLog(ctx context.Context, e LogEntry) (LogEntry, error)
	// RecentLogs returns the newest entries first.
	RecentLogs(ctx context.Context, limit int) ([]LogEntry, error)
	// PruneLogs deletes everything but the newest keep entries.
	PruneLogs(ctx context.Context, keep int) (int64, error)
}

// Store is what the drivers implement.
type Store interface {
	SettingsStore
	LogSink
	Close() error
}

// laterOf keeps updated_at non-decreasing when clocks disagree.
func laterOf(prev, now time.Time) time.Time {
	if now.Before(prev) {
		return prev
	}
	return now
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultRecentLogs
	}
	return limit
}

func validateEntry(e LogEntry) error {
	if !e.Direction.Valid() {
		return fmt.Errorf("invalid log direction %q", e.Direction)
	}
	return nil
}
