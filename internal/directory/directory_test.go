package directory

import "testing"

func TestFullName(t *testing.T) {
	t.Parallel()
	cases := []struct {
		first, last, want string
	}{
		{"Ada", "Lovelace", "Ada Lovelace"},
		{"Ada", "", "Ada"},
		{"", "Lovelace", "Lovelace"},
		{"", "", ""},
	}
	for _, tc := range cases {
		u := User{FirstName: tc.first, LastName: tc.last}
		if got := u.FullName(); got != tc.want {
			t.Errorf("FullName(%q, %q) = %q, want %q", tc.first, tc.last, got, tc.want)
		}
	}
}

func TestNullStr(t *testing.T) {
	t.Parallel()
	if got := nullStr(""); got != nil {
		t.Fatalf("empty string should bind NULL, got %v", got)
	}
	if got := nullStr("   "); got != nil {
		t.Fatalf("blank string should bind NULL, got %v", got)
	}
	if got := nullStr("u-1"); got != "u-1" {
		t.Fatalf("got %v", got)
	}
}
