package event

import (
	"encoding/json"
	"testing"
	"time"
)

func TestMillisUnmarshal(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		in   string
		want time.Time
	}{
		{"epoch millis", "1741359840000", time.UnixMilli(1741359840000).UTC()},
		{"fractional millis", "1741359840123.5", time.UnixMilli(1741359840123).UTC()},
		{"rfc3339 string", `"2025-03-07T15:04:00Z"`, time.Date(2025, time.March, 7, 15, 4, 0, 0, time.UTC)},
		{"null", "null", time.Time{}},
		{"empty string", `""`, time.Time{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var m Millis
			if err := json.Unmarshal([]byte(tc.in), &m); err != nil {
				t.Fatalf("unmarshal %s: %v", tc.in, err)
			}
			if !m.Time().Equal(tc.want) {
				t.Fatalf("got %v, want %v", m.Time(), tc.want)
			}
		})
	}

	var m Millis
	if err := json.Unmarshal([]byte(`"not a time"`), &m); err == nil {
		t.Fatal("expected error for garbage timestamp")
	}
}

func TestMillisMarshalRoundTrip(t *testing.T) {
	t.Parallel()
	in := Millis(time.Date(2025, time.March, 7, 15, 4, 5, 0, time.UTC))
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Millis
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !out.Time().Equal(in.Time()) {
		t.Fatalf("round trip lost precision: %v != %v", out.Time(), in.Time())
	}

	if b, err := json.Marshal(Millis(time.Time{})); err != nil || string(b) != "null" {
		t.Fatalf("zero time should marshal as null, got %s (%v)", b, err)
	}
}

func TestParseRole(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want Role
	}{
		{"Manager", RoleManager},
		{"manager", RoleManager},
		{"MANAGER", RoleManager},
		{"CHManager", RoleChannelManager},
		{"chmanager", RoleChannelManager},
		{"Patient", RolePatient},
		{"", RolePatient},
		{"something else", RolePatient},
	}
	for _, tc := range cases {
		if got := ParseRole(tc.in); got != tc.want {
			t.Errorf("ParseRole(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestRoleIsManager(t *testing.T) {
	t.Parallel()
	if RolePatient.IsManager() {
		t.Fatal("patient is not staff")
	}
	if !RoleManager.IsManager() || !RoleChannelManager.IsManager() {
		t.Fatal("both manager roles are staff")
	}
}

func TestUserRoleWithoutMetadata(t *testing.T) {
	t.Parallel()
	if got := (User{UserID: "u"}).Role(); got != RolePatient {
		t.Fatalf("no metadata should default to patient, got %v", got)
	}
}

func TestReadByOther(t *testing.T) {
	t.Parallel()
	ev := MessageReadEvent{ReadUpdates: []ReadUpdate{{UserID: "sender"}}}
	if ev.ReadByOther("sender") {
		t.Fatal("a self-read does not resolve the reminder")
	}

	ev.ReadUpdates = append(ev.ReadUpdates, ReadUpdate{UserID: "recipient"})
	if !ev.ReadByOther("sender") {
		t.Fatal("a foreign read resolves the reminder")
	}

	if (MessageReadEvent{}).ReadByOther("sender") {
		t.Fatal("no read updates, no resolution")
	}
}
