package recorder

import (
	"context"
	"errors"
	"testing"
	"time"

	"remindd/internal/staging"
	"remindd/pkg/logx"
)

func openTestStore(t *testing.T) staging.Store {
	t.Helper()
	st, err := staging.Open(staging.Config{Driver: "sqlite", Path: ":memory:", Table: "recorder_test"}, logx.Nop())
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

func TestRecordKeepsOneLiveRecordPerKey(t *testing.T) {
	st := openTestStore(t)
	rec := NewRecorder(st, logx.Nop())
	ctx := context.Background()
	base := time.Now().UTC()

	if err := rec.Record(ctx, "chan-3", base, []byte(`{"n":1}`), nil); err != nil {
		t.Fatalf("first record: %v", err)
	}
	if err := rec.Record(ctx, "chan-3", base.Add(time.Minute), []byte(`{"n":2}`), nil); err != nil {
		t.Fatalf("second record: %v", err)
	}

	if n := countKey(t, st, "chan-3"); n != 1 {
		t.Fatalf("expected exactly one live record, got %d", n)
	}
	err := st.ForEachPage(ctx, staging.Filter{Key: "chan-3"}, func(rows []staging.StagedEvent) error {
		if string(rows[0].Payload) != `{"n":2}` {
			t.Fatalf("surviving record is not the newest: %s", rows[0].Payload)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ForEachPage: %v", err)
	}
}

func TestRecordPredicateFalseClearsKey(t *testing.T) {
	st := openTestStore(t)
	rec := NewRecorder(st, logx.Nop())
	ctx := context.Background()
	now := time.Now().UTC()

	if err := rec.Record(ctx, "k", now, []byte("{}"), nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := rec.Record(ctx, "k", now, []byte("{}"), func() (bool, error) { return false, nil }); err != nil {
		t.Fatalf("record with false predicate: %v", err)
	}
	if n := countKey(t, st, "k"); n != 0 {
		t.Fatalf("false predicate should leave no staged record, got %d", n)
	}
}

func TestRecordPredicateErrorDoesNotStage(t *testing.T) {
	st := openTestStore(t)
	rec := NewRecorder(st, logx.Nop())
	ctx := context.Background()

	err := rec.Record(ctx, "k", time.Now().UTC(), []byte("{}"), func() (bool, error) {
		return true, errors.New("membership service down")
	})
	if err != nil {
		t.Fatalf("predicate errors are swallowed, got %v", err)
	}
	if n := countKey(t, st, "k"); n != 0 {
		t.Fatalf("predicate error must not stage, got %d rows", n)
	}
}

func TestObserverCancel(t *testing.T) {
	st := openTestStore(t)
	rec := NewRecorder(st, logx.Nop())
	obs := NewObserver(st, logx.Nop())
	ctx := context.Background()

	if err := rec.Record(ctx, "chan-1", time.Now().UTC(), []byte("{}"), nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	n, err := obs.Cancel(ctx, "chan-1")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 cancelled, got %d", n)
	}

	// Cancelling with nothing pending is a normal zero.
	if n, err = obs.Cancel(ctx, "chan-1"); err != nil || n != 0 {
		t.Fatalf("empty cancel: n=%d err=%v", n, err)
	}
}

func TestCancelMatchingLeavesUnjudgeableRows(t *testing.T) {
	st := openTestStore(t)
	obs := NewObserver(st, logx.Nop())
	ctx := context.Background()
	now := time.Now().UTC()

	good := staging.New("k", now, []byte(`{"ok":true}`))
	bad := staging.New("k", now, []byte(`{corrupt`))
	for _, r := range []staging.StagedEvent{good, bad} {
		if err := st.Insert(ctx, r); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	n, err := obs.CancelMatching(ctx, "k", func(rec staging.StagedEvent) (bool, error) {
		if rec.RowID == bad.RowID {
			return false, errors.New("cannot parse")
		}
		return true, nil
	})
	if err != nil {
		t.Fatalf("CancelMatching: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 removed, got %d", n)
	}
	if left := countKey(t, st, "k"); left != 1 {
		t.Fatalf("unjudgeable row must stay, %d rows left", left)
	}
}
