package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// memoryStore keeps everything in process memory. CAS runs under the mutex.
type memoryStore struct {
	cfg Config

	mu       sync.Mutex
	closed   bool
	settings map[string]Setting
	logs     []LogEntry
	nextID   int64
}

func newMemory(cfg Config) *memoryStore {
	return &memoryStore{cfg: cfg, settings: map[string]Setting{}, nextID: 1}
}

// NewMemory returns an in-process store.
func NewMemory() Store { return newMemory(Config{Driver: "memory"}) }

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	st, ok, err := s.GetSetting(ctx, key)
	return st.Value, ok, err
}

func (s *memoryStore) GetSetting(ctx context.Context, key string) (Setting, bool, error) {
	if err := ctx.Err(); err != nil {
		return Setting{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Setting{}, false, ErrClosed
	}
	st, ok := s.settings[key]
	return st, ok, nil
}

func (s *memoryStore) Set(ctx context.Context, key, value string) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.putLocked(key, value)
	return nil
}

func (s *memoryStore) CompareAndSet(ctx context.Context, key string, expected Expect, value string) (bool, error) {
	if strings.TrimSpace(key) == "" {
		return false, ErrEmptyKey
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	cur, ok := s.settings[key]
	if !expected.Matches(cur.Value, ok) {
		return false, nil
	}
	s.putLocked(key, value)
	return true, nil
}

func (s *memoryStore) putLocked(key, value string) {
	prev := s.settings[key]
	s.settings[key] = Setting{Key: key, Value: value, UpdatedAt: laterOf(prev.UpdatedAt, s.cfg.now())}
}

func (s *memoryStore) ListSettings(ctx context.Context) ([]Setting, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]Setting, 0, len(s.settings))
	for _, st := range s.settings {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *memoryStore) AppendLog(ctx context.Context, e LogEntry) (LogEntry, error) {
	if err := ctx.Err(); err != nil {
		return LogEntry{}, err
	}
	if err := validateEntry(e); err != nil {
		return LogEntry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return LogEntry{}, ErrClosed
	}
	e.ID = s.nextID
	s.nextID++
	if e.Timestamp.IsZero() {
		e.Timestamp = s.cfg.now()
	}
	s.logs = append(s.logs, e)
	return e, nil
}

func (s *memoryStore) RecentLogs(ctx context.Context, limit int) ([]LogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return newestFirst(s.logs, normalizeLimit(limit)), nil
}

func (s *memoryStore) PruneLogs(ctx context.Context, keep int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	kept, removed := keepNewest(s.logs, keep)
	s.logs = kept
	return removed, nil
}

// newestFirst returns up to limit entries ordered by timestamp then id, descending.
func newestFirst(logs []LogEntry, limit int) []LogEntry {
	cp := append([]LogEntry(nil), logs...)
	sortNewestFirst(cp)
	if len(cp) > limit {
		cp = cp[:limit]
	}
	return cp
}

func sortNewestFirst(logs []LogEntry) {
	sort.SliceStable(logs, func(i, j int) bool {
		if !logs[i].Timestamp.Equal(logs[j].Timestamp) {
			return logs[i].Timestamp.After(logs[j].Timestamp)
		}
		return logs[i].ID > logs[j].ID
	})
}

// keepNewest drops all but the newest keep entries, preserving insertion order.
// keep <= 0 disables pruning.
func keepNewest(logs []LogEntry, keep int) ([]LogEntry, int64) {
	if keep <= 0 || len(logs) <= keep {
		return logs, 0
	}
	survivors := map[int64]struct{}{}
	for _, e := range newestFirst(logs, keep) {
		survivors[e.ID] = struct{}{}
	}
	out := make([]LogEntry, 0, keep)
	for _, e := range logs {
		if _, ok := survivors[e.ID]; ok {
			out = append(out, e)
		}
	}
	return out, int64(len(logs) - len(out))
}
