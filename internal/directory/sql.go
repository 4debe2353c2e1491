package directory

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"remindd/internal/event"
	"remindd/pkg/logx"
)

const queryTimeout = 5 * time.Second

// Config configures the business database connection.
//
// Driver is "postgres" in production; tests open "sqlite" against an
// in-memory database with the same schema.
type Config struct {
	Driver string
	DSN    string
}

// DB implements Lookup and Ledger over the business database.
type DB struct {
	db  *sql.DB
	log logx.Logger
}

func Open(cfg Config, log logx.Logger) (*DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("directory dsn is required")
	}
	driver := strings.TrimSpace(cfg.Driver)
	if driver == "" {
		driver = "postgres"
	}
	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		db.SetMaxOpenConns(1)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &DB{db: db, log: log}, nil
}

// WrapDB builds a DB around an already open handle. Tests only.
func WrapDB(db *sql.DB, log logx.Logger) *DB {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &DB{db: db, log: log}
}

func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *DB) GetUser(ctx context.Context, id string) (*User, error) {
	if strings.TrimSpace(id) == "" {
		d.log.Warn("user lookup with empty id")
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var u User
	err := d.db.QueryRowContext(ctx, `
		SELECT id, first_name, last_name, email
		FROM users
		WHERE id = $1 AND is_deleted = FALSE`, id).
		Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (d *DB) GetHospital(ctx context.Context, id string) (*Hospital, error) {
	if strings.TrimSpace(id) == "" {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var h Hospital
	err := d.db.QueryRowContext(ctx, `
		SELECT id, name, logo, website_url
		FROM hospitals
		WHERE id = $1 AND is_deleted = FALSE`, id).
		Scan(&h.ID, &h.Name, &h.Logo, &h.WebsiteURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (d *DB) GetConsultation(ctx context.Context, id string) (*event.Consultation, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var (
		c      event.Consultation
		status int
		ctype  int
	)
	err := d.db.QueryRowContext(ctx, `
		SELECT c.id, c.patient_id, c.consultation_type, c.status, c.is_open,
		       c.confirmed_date_start, c.hospital_id, h.name, h.website_url
		FROM consultations c
		JOIN hospitals h ON c.hospital_id = h.id
		WHERE c.id = $1 AND c.is_deleted = FALSE`, id).
		Scan(&c.ID, &c.PatientID, &ctype, &status, &c.IsOpen,
			&c.ConfirmedDateStart, &c.HospitalID, &c.HospitalName, &c.HospitalWebsiteURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.ConsultationType = event.ConsultationType(ctype)
	c.Status = event.ConsultationStatus(status)
	return &c, nil
}

func (d *DB) GetManagers(ctx context.Context, hospitalScoped bool, hospitalID string) ([]User, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var (
		rows *sql.Rows
		err  error
	)
	if hospitalScoped {
		rows, err = d.db.QueryContext(ctx, `
			SELECT u.id, u.first_name, u.last_name, '' AS email
			FROM users u
			JOIN manager_affiliations a ON a.manager_id = u.id
			WHERE u.user_type = 4 AND u.is_deleted = FALSE AND a.hospital_id = $1`, hospitalID)
	} else {
		rows, err = d.db.QueryContext(ctx, `
			SELECT u.id, u.first_name, u.last_name, '' AS email
			FROM users u
			WHERE u.user_type = 5 AND u.is_deleted = FALSE`)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (d *DB) GetDevices(ctx context.Context, userID string) ([]Device, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := d.db.QueryContext(ctx, `
		SELECT user_id, platform, push_address
		FROM devices
		WHERE user_id = $1 AND is_deleted = FALSE`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Device
	for rows.Next() {
		var dev Device
		if err := rows.Scan(&dev.UserID, &dev.Platform, &dev.PushAddress); err != nil {
			return nil, err
		}
		out = append(out, dev)
	}
	return out, rows.Err()
}

func (d *DB) Exists(ctx context.Context, code event.NotificationCode, targetID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var n int
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM notifications
		WHERE notification_code = $1 AND notification_target_id = $2`,
		int(code), targetID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *DB) Record(ctx context.Context, e LedgerEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := d.db.ExecContext(ctx, `
		INSERT INTO notifications
			(id, notification_code, notification_target_id, sender_id, receiver_id, message, created_at, is_checked, is_deleted)
		VALUES ($1,$2,$3,$4,$5,$6,$7,FALSE,FALSE)`,
		e.ID, int(e.Code), e.TargetID, nullStr(e.SenderID), nullStr(e.ReceiverID), e.Message, e.CreatedAt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil {
		d.log.Debug("ledger entry recorded", logx.String("id", e.ID), logx.Int64("affected", n))
	}
	return nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

// Schema is the subset of the business schema this service touches.
// Production owns the real schema; this is applied by tests and by local
// sqlite runs.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	first_name TEXT NOT NULL DEFAULT '',
	last_name  TEXT NOT NULL DEFAULT '',
	email      TEXT NOT NULL DEFAULT '',
	user_type  INTEGER NOT NULL DEFAULT 0,
	is_deleted BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE TABLE IF NOT EXISTS hospitals (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL DEFAULT '',
	logo        TEXT NOT NULL DEFAULT '',
	website_url TEXT NOT NULL DEFAULT '',
	is_deleted  BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE TABLE IF NOT EXISTS manager_affiliations (
	manager_id  TEXT NOT NULL,
	hospital_id TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS consultations (
	id                   TEXT PRIMARY KEY,
	patient_id           TEXT NOT NULL,
	consultation_type    INTEGER NOT NULL DEFAULT 0,
	status               INTEGER NOT NULL DEFAULT 0,
	is_open              BOOLEAN NOT NULL DEFAULT FALSE,
	confirmed_date_start TIMESTAMP NOT NULL,
	hospital_id          TEXT NOT NULL,
	is_deleted           BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE TABLE IF NOT EXISTS devices (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	platform     TEXT NOT NULL DEFAULT '',
	push_address TEXT NOT NULL DEFAULT '',
	is_deleted   BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE TABLE IF NOT EXISTS notifications (
	id                     TEXT PRIMARY KEY,
	notification_code      INTEGER NOT NULL,
	notification_target_id TEXT NOT NULL,
	sender_id              TEXT,
	receiver_id            TEXT,
	message                TEXT NOT NULL DEFAULT '',
	created_at             TIMESTAMP NOT NULL,
	is_checked             BOOLEAN NOT NULL DEFAULT FALSE,
	is_deleted             BOOLEAN NOT NULL DEFAULT FALSE
);
`

// EnsureSchema applies Schema. Safe to call repeatedly.
func (d *DB) EnsureSchema(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, Schema)
	return err
}
