// Package recorder reacts to inbound webhook signals: state changes stage
// a provisional reminder, resolving signals cancel it.
package recorder

import (
	"context"
	"time"

	"remindd/internal/staging"
	"remindd/pkg/logx"
)

// Recorder stages reminders. For every state-change signal it clears any
// previously staged record for the entity key, then inserts a fresh one if
// the signal still warrants a future reminder.
//
// The delete-then-insert sequence is what keeps "at most one live record
// per key" true. Two near-simultaneous signals for the same key can race;
// that window is accepted and documented rather than locked away.
type Recorder struct {
	store staging.Store
	log   logx.Logger
}

func NewRecorder(store staging.Store, log logx.Logger) *Recorder {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Recorder{store: store, log: log}
}

// Record runs the staging sequence for one signal.
//
// shouldStage is evaluated after the stale records are cleared: a false
// result (or an evaluation error, which is logged and treated as false)
// leaves the key with no staged record at all.
func (r *Recorder) Record(ctx context.Context, key string, stampedAt time.Time, payload []byte, shouldStage func() (bool, error)) error {
	if err := r.store.EnsureExists(ctx); err != nil {
		return err
	}

	n, err := r.store.DeleteAllForKey(ctx, key)
	if err != nil {
		return err
	}
	if n > 0 {
		r.log.Debug("cleared stale staged records", logx.String("key", key), logx.Int("removed", n))
	}

	stage := true
	if shouldStage != nil {
		ok, err := shouldStage()
		if err != nil {
			r.log.Warn("stage predicate failed; not staging", logx.String("key", key), logx.Err(err))
			return nil
		}
		stage = ok
	}
	if !stage {
		r.log.Info("signal does not warrant a reminder; not staging", logx.String("key", key))
		return nil
	}

	rec := staging.New(key, stampedAt, payload)
	if err := r.store.Insert(ctx, rec); err != nil {
		return err
	}
	r.log.Debug("staged reminder", logx.String("key", key), logx.String("row", rec.RowID), logx.Time("stamped_at", rec.StampedAt))
	return nil
}

// Observer cancels staged reminders when a resolving signal arrives.
type Observer struct {
	store staging.Store
	log   logx.Logger
}

func NewObserver(store staging.Store, log logx.Logger) *Observer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Observer{store: store, log: log}
}

// Cancel removes every staged record under the key. Zero removals is a
// normal outcome (the resolving signal arrived with nothing pending).
func (o *Observer) Cancel(ctx context.Context, key string) (int, error) {
	if err := o.store.EnsureExists(ctx); err != nil {
		return 0, err
	}
	n, err := o.store.DeleteAllForKey(ctx, key)
	if err != nil {
		return 0, err
	}
	o.log.Info("cancelled staged reminders", logx.String("key", key), logx.Int("removed", n))
	return n, nil
}

// CancelMatching removes only the staged records under the key for which
// match returns true. Rows whose payload cannot be judged are left in
// place with a warning; they will surface again on the next signal or at
// promotion time.
func (o *Observer) CancelMatching(ctx context.Context, key string, match func(rec staging.StagedEvent) (bool, error)) (int, error) {
	if err := o.store.EnsureExists(ctx); err != nil {
		return 0, err
	}

	removed := 0
	err := o.store.ForEachPage(ctx, staging.Filter{Key: key}, func(rows []staging.StagedEvent) error {
		for _, rec := range rows {
			ok, err := match(rec)
			if err != nil {
				o.log.Warn("cancellation match failed; leaving staged record",
					logx.String("key", rec.Key), logx.String("row", rec.RowID), logx.Err(err))
				continue
			}
			if !ok {
				continue
			}
			if err := o.store.Delete(ctx, rec.Key, rec.RowID); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return removed, err
	}
	o.log.Info("cancelled staged reminders", logx.String("key", key), logx.Int("removed", removed))
	return removed, nil
}
