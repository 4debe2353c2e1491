package directory

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"remindd/internal/event"
	"remindd/pkg/logx"
)

func openTestDB(t *testing.T) (*DB, *sql.DB) {
	t.Helper()
	raw, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	raw.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = raw.Close() })

	d := WrapDB(raw, logx.Nop())
	if err := d.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return d, raw
}

func seed(t *testing.T, raw *sql.DB, query string, args ...any) {
	t.Helper()
	if _, err := raw.Exec(query, args...); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestGetUser(t *testing.T) {
	d, raw := openTestDB(t)
	ctx := context.Background()
	seed(t, raw, `INSERT INTO users(id, first_name, last_name, email) VALUES('u1','Ada','Lovelace','ada@example.com')`)
	seed(t, raw, `INSERT INTO users(id, first_name, is_deleted) VALUES('gone','Ghost',TRUE)`)

	u, err := d.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u == nil || u.FullName() != "Ada Lovelace" || u.Email != "ada@example.com" {
		t.Fatalf("user %+v", u)
	}

	if u, err := d.GetUser(ctx, "missing"); err != nil || u != nil {
		t.Fatalf("missing user should be (nil, nil), got %+v, %v", u, err)
	}
	if u, err := d.GetUser(ctx, "gone"); err != nil || u != nil {
		t.Fatalf("soft-deleted user should be (nil, nil), got %+v, %v", u, err)
	}
	if u, err := d.GetUser(ctx, " "); err != nil || u != nil {
		t.Fatalf("blank id should be (nil, nil), got %+v, %v", u, err)
	}
}

func TestGetHospital(t *testing.T) {
	d, raw := openTestDB(t)
	ctx := context.Background()
	seed(t, raw, `INSERT INTO hospitals(id, name, logo, website_url) VALUES('h1','General','logo.png','https://general.example')`)

	h, err := d.GetHospital(ctx, "h1")
	if err != nil {
		t.Fatalf("GetHospital: %v", err)
	}
	if h == nil || h.Name != "General" || h.WebsiteURL != "https://general.example" {
		t.Fatalf("hospital %+v", h)
	}
	if h, err := d.GetHospital(ctx, "missing"); err != nil || h != nil {
		t.Fatalf("missing hospital should be (nil, nil), got %+v, %v", h, err)
	}
}

func TestGetConsultation(t *testing.T) {
	d, raw := openTestDB(t)
	ctx := context.Background()
	start := time.Date(2025, time.March, 7, 15, 0, 0, 0, time.UTC)
	seed(t, raw, `INSERT INTO hospitals(id, name, website_url) VALUES('h1','General','https://general.example')`)
	seed(t, raw, `INSERT INTO consultations(id, patient_id, consultation_type, status, is_open, confirmed_date_start, hospital_id)
		VALUES('c1','p1',$1,$2,TRUE,$3,'h1')`, int(event.ConsultationDoctor), int(event.StatusPaid), start)

	c, err := d.GetConsultation(ctx, "c1")
	if err != nil {
		t.Fatalf("GetConsultation: %v", err)
	}
	if c == nil {
		t.Fatal("consultation not found")
	}
	if c.PatientID != "p1" || c.ConsultationType != event.ConsultationDoctor || c.Status != event.StatusPaid || !c.IsOpen {
		t.Fatalf("consultation %+v", c)
	}
	if !c.ConfirmedDateStart.Equal(start) {
		t.Fatalf("start %v, want %v", c.ConfirmedDateStart, start)
	}
	// Hospital fields come from the join.
	if c.HospitalName != "General" || c.HospitalWebsiteURL != "https://general.example" {
		t.Fatalf("hospital join %+v", c)
	}

	if c, err := d.GetConsultation(ctx, "missing"); err != nil || c != nil {
		t.Fatalf("missing consultation should be (nil, nil), got %+v, %v", c, err)
	}
}

func TestGetManagers(t *testing.T) {
	d, raw := openTestDB(t)
	ctx := context.Background()
	// user_type 4 = hospital manager, 5 = channel manager.
	seed(t, raw, `INSERT INTO users(id, first_name, user_type) VALUES('m1','Hosp',4)`)
	seed(t, raw, `INSERT INTO users(id, first_name, user_type) VALUES('m2','Other',4)`)
	seed(t, raw, `INSERT INTO users(id, first_name, user_type) VALUES('ch1','Chan',5)`)
	seed(t, raw, `INSERT INTO users(id, first_name, user_type) VALUES('p1','Pat',0)`)
	seed(t, raw, `INSERT INTO manager_affiliations(manager_id, hospital_id) VALUES('m1','h1')`)
	seed(t, raw, `INSERT INTO manager_affiliations(manager_id, hospital_id) VALUES('m2','h2')`)

	scoped, err := d.GetManagers(ctx, true, "h1")
	if err != nil {
		t.Fatalf("GetManagers scoped: %v", err)
	}
	if len(scoped) != 1 || scoped[0].ID != "m1" {
		t.Fatalf("scoped managers %+v", scoped)
	}

	global, err := d.GetManagers(ctx, false, "")
	if err != nil {
		t.Fatalf("GetManagers global: %v", err)
	}
	if len(global) != 1 || global[0].ID != "ch1" {
		t.Fatalf("global managers %+v", global)
	}
}

func TestGetDevices(t *testing.T) {
	d, raw := openTestDB(t)
	ctx := context.Background()
	seed(t, raw, `INSERT INTO devices(id, user_id, platform, push_address) VALUES('d1','u1','android','111')`)
	seed(t, raw, `INSERT INTO devices(id, user_id, platform, push_address) VALUES('d2','u1','ios','222')`)
	seed(t, raw, `INSERT INTO devices(id, user_id, push_address, is_deleted) VALUES('d3','u1','333',TRUE)`)

	devices, err := d.GetDevices(ctx, "u1")
	if err != nil {
		t.Fatalf("GetDevices: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("expected 2 live devices, got %+v", devices)
	}
	if devices, err := d.GetDevices(ctx, "nobody"); err != nil || len(devices) != 0 {
		t.Fatalf("unknown user should have no devices, got %+v, %v", devices, err)
	}
}

func TestLedgerRoundTrip(t *testing.T) {
	d, _ := openTestDB(t)
	ctx := context.Background()

	exists, err := d.Exists(ctx, event.CodeConsultationReady, "c1")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Fatal("empty ledger reports no sends")
	}

	err = d.Record(ctx, LedgerEntry{
		Code:       event.CodeConsultationReady,
		TargetID:   "c1",
		ReceiverID: "p1",
		Message:    "Consultation start now.",
	})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	exists, err = d.Exists(ctx, event.CodeConsultationReady, "c1")
	if err != nil {
		t.Fatalf("Exists after record: %v", err)
	}
	if !exists {
		t.Fatal("recorded entry must be visible to Exists")
	}

	// Same target under a different code stays unsent.
	if exists, err := d.Exists(ctx, event.CodeConsultationPaid, "c1"); err != nil || exists {
		t.Fatalf("code is part of the ledger key, got %v, %v", exists, err)
	}
	if exists, err := d.Exists(ctx, event.CodeConsultationReady, "c2"); err != nil || exists {
		t.Fatalf("target is part of the ledger key, got %v, %v", exists, err)
	}
}

func TestRecordDefaultsAndNulls(t *testing.T) {
	d, raw := openTestDB(t)
	ctx := context.Background()

	if err := d.Record(ctx, LedgerEntry{Code: event.CodeConsultationReady, TargetID: "c9"}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	var (
		id       string
		sender   sql.NullString
		receiver sql.NullString
	)
	err := raw.QueryRow(`SELECT id, sender_id, receiver_id FROM notifications WHERE notification_target_id = 'c9'`).
		Scan(&id, &sender, &receiver)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if id == "" {
		t.Fatal("entry id must be generated when unset")
	}
	if sender.Valid || receiver.Valid {
		t.Fatalf("blank sender/receiver must store NULL, got %+v / %+v", sender, receiver)
	}
}
