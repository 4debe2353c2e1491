package staging

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"remindd/pkg/logx"
)

type sqliteStore struct {
	db    *sql.DB
	table string
	log   logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, table: cfg.Table, log: log}
	if err := st.EnsureExists(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) EnsureExists(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	// Called at every entry point; costless once the table exists.
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %[1]s (
			row_id     TEXT PRIMARY KEY,
			entity_key TEXT NOT NULL,
			stamped_at INTEGER NOT NULL,
			payload    BLOB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_key ON %[1]s(entity_key);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_stamp ON %[1]s(stamped_at);`, s.table))
	return err
}

func (s *sqliteStore) Insert(ctx context.Context, rec StagedEvent) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s(row_id, entity_key, stamped_at, payload) VALUES(?,?,?,?)`, s.table),
		rec.RowID, rec.Key, rec.StampedAt.UTC().UnixMilli(), rec.Payload,
	)
	return err
}

func (s *sqliteStore) Delete(ctx context.Context, key, rowID string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE entity_key = ? AND row_id = ?`, s.table),
		key, rowID,
	)
	return err
}

func (s *sqliteStore) DeleteAllForKey(ctx context.Context, key string) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE entity_key = ?`, s.table), key)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		// Delete succeeded; only the count is unknown.
		s.log.Warn("rows affected unavailable", logx.String("key", key), logx.Err(err))
		return 0, nil
	}
	return int(n), nil
}

func (s *sqliteStore) ForEachPage(ctx context.Context, f Filter, fn func(rows []StagedEvent) error) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}

	where, args := sqliteWhere(f)
	last := ""
	for {
		// Keyset pagination on row_id: stable even when the callback
		// deletes rows it has already seen.
		q := fmt.Sprintf(`SELECT row_id, entity_key, stamped_at, payload FROM %s WHERE row_id > ?%s ORDER BY row_id LIMIT %d`,
			s.table, where, defaultPageSize)
		rows, err := s.db.QueryContext(ctx, q, append([]any{last}, args...)...)
		if err != nil {
			return err
		}
		page, err := scanStaged(rows)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		last = page[len(page)-1].RowID
		if err := fn(page); err != nil {
			return err
		}
		if len(page) < defaultPageSize {
			return nil
		}
	}
}

func sqliteWhere(f Filter) (string, []any) {
	var (
		b    strings.Builder
		args []any
	)
	if f.Key != "" {
		b.WriteString(" AND entity_key = ?")
		args = append(args, f.Key)
	}
	if !f.Before.IsZero() {
		b.WriteString(" AND stamped_at < ?")
		args = append(args, f.Before.UTC().UnixMilli())
	}
	if !f.From.IsZero() {
		b.WriteString(" AND stamped_at >= ?")
		args = append(args, f.From.UTC().UnixMilli())
	}
	if !f.To.IsZero() {
		b.WriteString(" AND stamped_at <= ?")
		args = append(args, f.To.UTC().UnixMilli())
	}
	return b.String(), args
}

func scanStaged(rows *sql.Rows) ([]StagedEvent, error) {
	defer rows.Close()
	var out []StagedEvent
	for rows.Next() {
		var (
			rec StagedEvent
			ms  int64
		)
		if err := rows.Scan(&rec.RowID, &rec.Key, &ms, &rec.Payload); err != nil {
			return nil, err
		}
		rec.StampedAt = time.UnixMilli(ms).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
