// Package staging holds provisional reminder records between the moment a
// qualifying signal arrives and the moment the reminder is either
// cancelled or promoted to the dispatch queue.
package staging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"remindd/pkg/logx"
)

var ErrDisabled = errors.New("staging store disabled")

// StagedEvent is one provisional reminder.
//
// Key is the business entity identifier (chat channel URL, consultation
// id). It is not unique in the store: the delete-then-insert sequence in
// the recorder keeps at most one live row per key, but that is a soft
// invariant, not a constraint.
type StagedEvent struct {
	Key       string
	RowID     string
	StampedAt time.Time
	Payload   []byte
}

// New builds a StagedEvent with a fresh row id.
func New(key string, stampedAt time.Time, payload []byte) StagedEvent {
	return StagedEvent{
		Key:       key,
		RowID:     uuid.NewString(),
		StampedAt: stampedAt.UTC(),
		Payload:   payload,
	}
}

// Filter selects staged rows. Zero fields are ignored.
type Filter struct {
	Key    string    // exact entity key
	Before time.Time // StampedAt strictly before
	From   time.Time // StampedAt >= From (window scan)
	To     time.Time // StampedAt <= To (window scan)
}

// Store is the keyed staging record store.
//
// Insert failures are infrastructure errors, never business rejections.
// DeleteAllForKey tolerates zero matches. ForEachPage iterates the current
// snapshot in implementation-defined order and page size; deleting already
// visited rows from inside the callback is safe.
type Store interface {
	EnsureExists(ctx context.Context) error
	Insert(ctx context.Context, rec StagedEvent) error
	Delete(ctx context.Context, key, rowID string) error
	DeleteAllForKey(ctx context.Context, key string) (int, error)
	ForEachPage(ctx context.Context, f Filter, fn func(rows []StagedEvent) error) error
	Close() error
}

// Config configures a staging store.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "postgres": shared postgres database (lib/pq DSN)
//
// Table scopes one reminder type's records; each pipeline gets its own.
type Config struct {
	Driver      string
	Path        string // sqlite file path
	DSN         string // postgres connection string
	Table       string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

const defaultPageSize = 100

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := validTable(cfg.Table); err != nil {
		return nil, err
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "postgres", "pq":
		return openPostgres(cfg, log)
	default:
		return nil, errors.New("unknown staging driver: " + driver)
	}
}

func validTable(name string) error {
	if name == "" {
		return errors.New("staging table name is required")
	}
	for _, r := range name {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' {
			continue
		}
		return fmt.Errorf("invalid staging table name %q", name)
	}
	return nil
}
