package staging

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"remindd/pkg/logx"
)

const postgresOperationTimeout = 5 * time.Second

type postgresStore struct {
	db    *sql.DB
	table string
	log   logx.Logger
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	st := &postgresStore{db: db, table: cfg.Table, log: log}
	if err := st.EnsureExists(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *postgresStore) EnsureExists(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			row_id     TEXT PRIMARY KEY,
			entity_key TEXT NOT NULL,
			stamped_at TIMESTAMPTZ NOT NULL,
			payload    BYTEA NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_key ON %[1]s(entity_key);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_stamp ON %[1]s(stamped_at);`, s.table))
	return err
}

func (s *postgresStore) Insert(ctx context.Context, rec StagedEvent) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s(row_id, entity_key, stamped_at, payload) VALUES($1,$2,$3,$4)`, s.table),
		rec.RowID, rec.Key, rec.StampedAt.UTC(), rec.Payload,
	)
	return err
}

func (s *postgresStore) Delete(ctx context.Context, key, rowID string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE entity_key = $1 AND row_id = $2`, s.table),
		key, rowID,
	)
	return err
}

func (s *postgresStore) DeleteAllForKey(ctx context.Context, key string) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE entity_key = $1`, s.table), key)
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

func (s *postgresStore) ForEachPage(ctx context.Context, f Filter, fn func(rows []StagedEvent) error) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}

	where, args := postgresWhere(f)
	last := ""
	for {
		q := fmt.Sprintf(`SELECT row_id, entity_key, stamped_at, payload FROM %s WHERE row_id > $1%s ORDER BY row_id LIMIT %d`,
			s.table, where, defaultPageSize)
		qctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
		rows, err := s.db.QueryContext(qctx, q, append([]any{last}, args...)...)
		if err != nil {
			cancel()
			return err
		}
		page, err := scanStagedPG(rows)
		cancel()
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

func postgresWhere(f Filter) (string, []any) {
	var (
		b    strings.Builder
		args []any
	)
	n := 1
	add := func(cond string, v any) {
		n++
		fmt.Fprintf(&b, " AND %s $%d", cond, n)
		args = append(args, v)
	}
	if f.Key != "" {
		add("entity_key =", f.Key)
	}
	if !f.Before.IsZero() {
		add("stamped_at <", f.Before.UTC())
	}
	if !f.From.IsZero() {
		add("stamped_at >=", f.From.UTC())
	}
	if !f.To.IsZero() {
		add("stamped_at <=", f.To.UTC())
	}
	return b.String(), args
}

func scanStagedPG(rows *sql.Rows) ([]StagedEvent, error) {
	defer rows.Close()
	var out []StagedEvent
	for rows.Next() {
		var rec StagedEvent
		if err := rows.Scan(&rec.RowID, &rec.Key, &rec.StampedAt, &rec.Payload); err != nil {
			return nil, err
		}
		rec.StampedAt = rec.StampedAt.UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *postgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
