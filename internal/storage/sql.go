package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	logx "github.com/Saddammed/Saddam48/pkg/logx"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// sqlStore implements Store over database/sql for sqlite and postgres.
// Statements are written with '?' placeholders and rebound for postgres.
type sqlStore struct {
	db       *sql.DB
	log      logx.Logger
	cfg      Config
	dollarPH bool
}

func (s *sqlStore) migrate(ctx context.Context, name string) error {
	b, err := schemaFS.ReadFile("schema/" + name)
	if err != nil {
		return err
	}
	for _, stmt := range strings.Split(string(b), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", name, err)
		}
	}
	return nil
}

func (s *sqlStore) q(query string) string {
	if !s.dollarPH {
		return query
	}
	return rebind(query)
}

// rebind rewrites '?' placeholders into $1..$n.
func rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) Get(ctx context.Context, key string) (string, bool, error) {
	st, ok, err := s.GetSetting(ctx, key)
	return st.Value, ok, err
}

func (s *sqlStore) GetSetting(ctx context.Context, key string) (Setting, bool, error) {
	var (
		value string
		ms    int64
	)
	err := s.db.QueryRowContext(ctx, s.q(`SELECT value, updated_at FROM bot_settings WHERE key = ?`), key).Scan(&value, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return Setting{}, false, nil
	}
	if err != nil {
		return Setting{}, false, err
	}
	return Setting{Key: key, Value: value, UpdatedAt: time.UnixMilli(ms)}, true, nil
}

func (s *sqlStore) Set(ctx context.Context, key, value string) error {
	if strings.TrimSpace(key) == "" {
		return ErrEmptyKey
	}
	now := s.cfg.now().UnixMilli()
	_, err := s.db.ExecContext(ctx, s.q(
		`INSERT INTO bot_settings(key, value, updated_at) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET
		   value = excluded.value,
		   updated_at = CASE WHEN bot_settings.updated_at < excluded.updated_at
		                     THEN excluded.updated_at ELSE bot_settings.updated_at END`),
		key, value, now,
	)
	return err
}

// CompareAndSet is a single conditional statement; the row count decides
// which caller won.
func (s *sqlStore) CompareAndSet(ctx context.Context, key string, expected Expect, value string) (bool, error) {
	if strings.TrimSpace(key) == "" {
		return false, ErrEmptyKey
	}
	now := s.cfg.now().UnixMilli()

	var (
		res sql.Result
		err error
	)
	if expected.Present() {
		res, err = s.db.ExecContext(ctx, s.q(
			`UPDATE bot_settings
			 SET value = ?, updated_at = CASE WHEN updated_at < ? THEN ? ELSE updated_at END
			 WHERE key = ? AND value = ?`),
			value, now, now, key, expected.Value(),
		)
	} else {
		res, err = s.db.ExecContext(ctx, s.q(
			`INSERT INTO bot_settings(key, value, updated_at) VALUES(?,?,?)
			 ON CONFLICT(key) DO NOTHING`),
			key, value, now,
		)
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *sqlStore) ListSettings(ctx context.Context) ([]Setting, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value, updated_at FROM bot_settings ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Setting
	for rows.Next() {
		var (
			st Setting
			ms int64
		)
		if err := rows.Scan(&st.Key, &st.Value, &ms); err != nil {
			return nil, err
		}
		st.UpdatedAt = time.UnixMilli(ms)
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *sqlStore) AppendLog(ctx context.Context, e LogEntry) (LogEntry, error) {
	if err := validateEntry(e); err != nil {
		return LogEntry{}, err
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.cfg.now()
	}
	ms := e.Timestamp.UnixMilli()
	err := s.db.QueryRowContext(ctx, s.q(
		`INSERT INTO bot_logs(message, direction, ts) VALUES(?,?,?) RETURNING id`),
		e.Message, string(e.Direction), ms,
	).Scan(&e.ID)
	if err != nil {
		return LogEntry{}, err
	}
	e.Timestamp = time.UnixMilli(ms)
	return e, nil
}

func (s *sqlStore) RecentLogs(ctx context.Context, limit int) ([]LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT id, message, direction, ts FROM bot_logs ORDER BY ts DESC, id DESC LIMIT ?`),
		normalizeLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]LogEntry, 0, normalizeLimit(limit))
	for rows.Next() {
		var (
			e   LogEntry
			dir string
			ms  int64
		)
		if err := rows.Scan(&e.ID, &e.Message, &dir, &ms); err != nil {
			return nil, err
		}
		e.Direction = Direction(dir)
		e.Timestamp = time.UnixMilli(ms)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqlStore) PruneLogs(ctx context.Context, keep int) (int64, error) {
	if keep <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, s.q(
		`DELETE FROM bot_logs WHERE id NOT IN (
		   SELECT id FROM bot_logs ORDER BY ts DESC, id DESC LIMIT ?
		 )`),
		keep,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
