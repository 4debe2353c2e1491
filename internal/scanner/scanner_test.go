package scanner

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"remindd/internal/queue"
	"remindd/internal/staging"
	"remindd/pkg/logx"
)

func openTestStore(t *testing.T) staging.Store {
	t.Helper()
	st, err := staging.Open(staging.Config{Driver: "sqlite", Path: ":memory:", Table: "scanner_test"}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func countKey(t *testing.T, st staging.Store, key string) int {
	t.Helper()
	n := 0
	err := st.ForEachPage(context.Background(), staging.Filter{Key: key}, func(rows []staging.StagedEvent) error {
		n += len(rows)
		return nil
	})
	if err != nil {
		t.Fatalf("ForEachPage: %v", err)
	}
	return n
}

func decodeJSON(b []byte) error {
	var v map[string]any
	return json.Unmarshal(b, &v)
}

func quietScanner(st staging.Store, q *queue.Queue, delay time.Duration, at time.Time) *Scanner {
	s := New(Config{Mode: QuietPeriod, Delay: delay}, st, q, queue.KindUnreadMessage, decodeJSON, logx.Nop())
	s.SetClock(func() time.Time { return at })
	return s
}

func TestEmptyStoreScansClean(t *testing.T) {
	st := openTestStore(t)
	q := queue.New()

	n, err := quietScanner(st, q, 5*time.Minute, time.Now().UTC()).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 0 || q.Len() != 0 {
		t.Fatalf("empty store promoted %d (queue %d)", n, q.Len())
	}
}

func TestQuietPeriodBoundary(t *testing.T) {
	const delay = 5 * time.Minute
	base := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	ctx := context.Background()

	st := openTestStore(t)
	q := queue.New()
	if err := st.Insert(ctx, staging.New("chan-p3", base, []byte(`{"message":"hi"}`))); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Just shy of the quiet period: nothing promotes.
	n, err := quietScanner(st, q, delay, base.Add(delay-time.Second)).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 0 {
		t.Fatalf("early scan promoted %d", n)
	}

	// Past it: exactly one promotion, the row is gone.
	n, err = quietScanner(st, q, delay, base.Add(delay+time.Second)).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 promotion, got %d", n)
	}
	if countKey(t, st, "chan-p3") != 0 {
		t.Fatal("promoted row must be deleted")
	}

	env, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	var body map[string]string
	if err := json.Unmarshal(env.Body, &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["message"] != "hi" {
		t.Fatalf("payload altered in flight: %v", body)
	}
}

func TestCancelledKeyPromotesNothing(t *testing.T) {
	base := time.Now().UTC().Add(-10 * time.Minute)
	ctx := context.Background()

	st := openTestStore(t)
	q := queue.New()
	if err := st.Insert(ctx, staging.New("chan-1", base, []byte("{}"))); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := st.DeleteAllForKey(ctx, "chan-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	n, err := quietScanner(st, q, 5*time.Minute, base.Add(10*time.Minute)).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 0 {
		t.Fatalf("cancelled key promoted %d", n)
	}
}

func TestCorruptPayloadStaysInStore(t *testing.T) {
	base := time.Now().UTC().Add(-time.Hour)
	ctx := context.Background()

	st := openTestStore(t)
	q := queue.New()
	if err := st.Insert(ctx, staging.New("chan-bad", base, []byte(`{nope`))); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := st.Insert(ctx, staging.New("chan-good", base, []byte(`{"ok":1}`))); err != nil {
		t.Fatalf("insert: %v", err)
	}

	n, err := quietScanner(st, q, 5*time.Minute, time.Now().UTC()).Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected only the good row promoted, got %d", n)
	}
	if countKey(t, st, "chan-bad") != 1 {
		t.Fatal("corrupt row must remain for inspection")
	}
	if countKey(t, st, "chan-good") != 0 {
		t.Fatal("good row should be promoted and deleted")
	}
}

func TestWindowModePromotesAroundTheStamp(t *testing.T) {
	const basis = 30 * time.Minute
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	st := openTestStore(t)
	q := queue.New()

	inWindowPast := staging.New("con-a", now.Add(-10*time.Minute), []byte(`{"id":"con-a"}`))
	inWindowFuture := staging.New("con-b", now.Add(20*time.Minute), []byte(`{"id":"con-b"}`))
	tooOld := staging.New("con-c", now.Add(-40*time.Minute), []byte(`{"id":"con-c"}`))
	tooFar := staging.New("con-d", now.Add(45*time.Minute), []byte(`{"id":"con-d"}`))
	for _, r := range []staging.StagedEvent{inWindowPast, inWindowFuture, tooOld, tooFar} {
		if err := st.Insert(ctx, r); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	s := New(Config{Mode: Window, Delay: basis}, st, q, queue.KindCalling, decodeJSON, logx.Nop())
	s.SetClock(func() time.Time { return now })

	n, err := s.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 promotions inside the window, got %d", n)
	}
	if countKey(t, st, "con-c") != 1 || countKey(t, st, "con-d") != 1 {
		t.Fatal("rows outside the window must stay staged")
	}
}

func TestDelayDefaultsWhenUnset(t *testing.T) {
	s := New(Config{Mode: QuietPeriod}, nil, nil, queue.KindUnreadMessage, nil, logx.Nop())
	if got := s.delay(); got != 5*time.Minute {
		t.Fatalf("default delay: want 5m got %v", got)
	}
	s = New(Config{Mode: Window, DefaultDelay: 30 * time.Minute}, nil, nil, queue.KindCalling, nil, logx.Nop())
	if got := s.delay(); got != 30*time.Minute {
		t.Fatalf("default basis: want 30m got %v", got)
	}
}
