package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	logx "github.com/Saddammed/Saddam48/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.settings.json (settings document, replaced via tmp + rename)
//   - <prefix>.logs.jsonl    (append-only JSON Lines)
//   - <prefix>.lock          (flock target)
//
// Every operation re-reads the settings document under the lock, so separate
// processes sharing the directory observe each other's writes.
type fileStore struct {
	cfg Config
	log logx.Logger

	mu     sync.Mutex
	closed bool

	settingsPath string
	logsPath     string
	lock         *fileLock
}

type fileDoc struct {
	NextLogID int64                  `json:"next_log_id"`
	Settings  map[string]fileSetting `json:"settings"`
}

type fileSetting struct {
	Value     string `json:"value"`
	UpdatedAt int64  `json:"updated_at"` // unix milli
}

type fileLogRecord struct {
	ID        int64     `json:"id"`
	Message   string    `json:"message"`
	Direction Direction `json:"direction"`
	At        int64     `json:"at"` // unix milli
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		cfg:          cfg,
		log:          log,
		settingsPath: prefix + ".settings.json",
		logsPath:     prefix + ".logs.jsonl",
		lock:         newFileLock(prefix + ".lock"),
	}
	// Fail early on unreadable state rather than on the first wake.
	if err := s.withLock(func() error {
		_, err := s.loadDocLocked()
		return err
	}); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// withLock serializes fn within the process (mutex) and across processes (flock).
func (s *fileStore) withLock(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", s.lock.path, err)
	}
	defer func() {
		if err := s.lock.Unlock(); err != nil {
			s.log.Warn("file store unlock failed", logx.Err(err))
		}
	}()
	return fn()
}

func (s *fileStore) loadDocLocked() (fileDoc, error) {
	doc := fileDoc{NextLogID: 1, Settings: map[string]fileSetting{}}
	b, err := os.ReadFile(s.settingsPath)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return doc, err
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(b, &doc); err != nil {
		return doc, fmt.Errorf("decode %s: %w", s.settingsPath, err)
	}
	if doc.Settings == nil {
		doc.Settings = map[string]fileSetting{}
	}
	if doc.NextLogID <= 0 {
		doc.NextLogID = 1
	}
	return doc, nil
}

func (s *fileStore) saveDocLocked(doc fileDoc) error {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.settingsPath, append(b, '\n'))
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *fileStore) Get(ctx context.Context, key string) (string, bool, error) {
	st, ok, err := s.GetSetting(ctx, key)
	return st.Value, ok, err
}

func (s *fileStore) GetSetting(ctx context.Context, key string) (Setting, bool, error) {
	if err := ctx.Err(); err != nil {
		return Setting{}, false, err
	}
	var (
		out Setting
		ok  bool
	)
	err := s.withLock(func() error {
		doc, err := s.loadDocLocked()
		if err != nil {
			return err
		}
		fs, found := doc.Settings[key]
		if found {
			out, ok = Setting{Key: key, Value: fs.Value, UpdatedAt: time.UnixMilli(fs.UpdatedAt)}, true
		}
		return nil
	})
	return out, ok, err
}

func (s *fileStore) Set(ctx context.Context, key, value string) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.withLock(func() error {
		doc, err := s.loadDocLocked()
		if err != nil {
			return err
		}
		s.putLocked(&doc, key, value)
		return s.saveDocLocked(doc)
	})
}

func (s *fileStore) CompareAndSet(ctx context.Context, key string, expected Expect, value string) (bool, error) {
	if strings.TrimSpace(key) == "" {
		return false, ErrEmptyKey
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var swapped bool
	err := s.withLock(func() error {
		doc, err := s.loadDocLocked()
		if err != nil {
			return err
		}
		cur, ok := doc.Settings[key]
		if !expected.Matches(cur.Value, ok) {
			return nil
		}
		s.putLocked(&doc, key, value)
		if err := s.saveDocLocked(doc); err != nil {
			return err
		}
		swapped = true
		return nil
	})
	return swapped, err
}

func (s *fileStore) putLocked(doc *fileDoc, key, value string) {
	prev := doc.Settings[key]
	at := laterOf(time.UnixMilli(prev.UpdatedAt), s.cfg.now())
	doc.Settings[key] = fileSetting{Value: value, UpdatedAt: at.UnixMilli()}
}

func (s *fileStore) ListSettings(ctx context.Context) ([]Setting, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Setting
	err := s.withLock(func() error {
		doc, err := s.loadDocLocked()
		if err != nil {
			return err
		}
		for k, v := range doc.Settings {
			out = append(out, Setting{Key: k, Value: v.Value, UpdatedAt: time.UnixMilli(v.UpdatedAt)})
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, err
}

func (s *fileStore) AppendLog(ctx context.Context, e LogEntry) (LogEntry, error) {
	if err := ctx.Err(); err != nil {
		return LogEntry{}, err
	}
	if err := validateEntry(e); err != nil {
		return LogEntry{}, err
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.cfg.now()
	}
	err := s.withLock(func() error {
		doc, err := s.loadDocLocked()
		if err != nil {
			return err
		}
		e.ID = doc.NextLogID
		doc.NextLogID++
		if err := s.saveDocLocked(doc); err != nil {
			return err
		}

		f, err := os.OpenFile(s.logsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return err
		}
		rec := fileLogRecord{ID: e.ID, Message: e.Message, Direction: e.Direction, At: e.Timestamp.UnixMilli()}
		if err := json.NewEncoder(f).Encode(rec); err != nil {
			_ = f.Close()
			return err
		}
		return f.Close()
	})
	if err != nil {
		return LogEntry{}, err
	}
	e.Timestamp = time.UnixMilli(e.Timestamp.UnixMilli())
	return e, nil
}

func (s *fileStore) RecentLogs(ctx context.Context, limit int) ([]LogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []LogEntry
	err := s.withLock(func() error {
		all, err := s.readLogsLocked()
		if err != nil {
			return err
		}
		out = newestFirst(all, normalizeLimit(limit))
		return nil
	})
	return out, err
}

func (s *fileStore) PruneLogs(ctx context.Context, keep int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var removed int64
	err := s.withLock(func() error {
		all, err := s.readLogsLocked()
		if err != nil {
			return err
		}
		kept, n := keepNewest(all, keep)
		if n == 0 {
			return nil
		}
		var b strings.Builder
		enc := json.NewEncoder(&b)
		for _, e := range kept {
			if err := enc.Encode(fileLogRecord{ID: e.ID, Message: e.Message, Direction: e.Direction, At: e.Timestamp.UnixMilli()}); err != nil {
				return err
			}
		}
		if err := writeFileAtomic(s.logsPath, []byte(b.String())); err != nil {
			return err
		}
		removed = n
		return nil
	})
	return removed, err
}

func (s *fileStore) readLogsLocked() ([]LogEntry, error) {
	f, err := os.Open(s.logsPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []LogEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var r fileLogRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			s.log.Debug("skipping malformed log line", logx.Err(err))
			continue
		}
		out = append(out, LogEntry{ID: r.ID, Message: r.Message, Direction: r.Direction, Timestamp: time.UnixMilli(r.At)})
	}
	return out, sc.Err()
}
