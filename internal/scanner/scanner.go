// Package scanner promotes staged reminders whose delay has elapsed into
// the dispatch queue.
package scanner

import (
	"context"
	"time"

	"remindd/internal/queue"
	"remindd/internal/staging"
	"remindd/pkg/logx"
)

// Mode selects how the eligibility window is computed.
type Mode int

const (
	// QuietPeriod promotes records whose stamp is older than the delay:
	// "the message has sat unread for N minutes".
	QuietPeriod Mode = iota
	// Window promotes records whose stamp falls inside [now-basis, now+basis]:
	// "the appointment is about to start".
	Window
)

// Config tunes one scanner instance. Delay is the quiet period (or the
// window basis). Zero or negative values fall back to the default.
type Config struct {
	Mode         Mode
	Delay        time.Duration
	DefaultDelay time.Duration
}

// Scanner moves eligible rows from one staging store to the dispatch
// queue. It owns no schedule of its own; the cron service calls Run.
type Scanner struct {
	cfg   Config
	store staging.Store
	q     *queue.Queue
	kind  queue.Kind
	log   logx.Logger

	// decode validates a staged payload before promotion. A decode error
	// leaves the row in place so the event is not silently lost.
	decode func([]byte) error

	now func() time.Time
}

func New(cfg Config, store staging.Store, q *queue.Queue, kind queue.Kind, decode func([]byte) error, log logx.Logger) *Scanner {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.DefaultDelay <= 0 {
		cfg.DefaultDelay = 5 * time.Minute
	}
	return &Scanner{
		cfg:    cfg,
		store:  store,
		q:      q,
		kind:   kind,
		decode: decode,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the scanner's clock. Tests only.
func (s *Scanner) SetClock(now func() time.Time) { s.now = now }

func (s *Scanner) delay() time.Duration {
	if s.cfg.Delay > 0 {
		return s.cfg.Delay
	}
	return s.cfg.DefaultDelay
}

// Run executes one scan. It returns the number of promoted records; an
// empty store or an empty result set is a normal zero, not an error.
func (s *Scanner) Run(ctx context.Context) (int, error) {
	if err := s.store.EnsureExists(ctx); err != nil {
		return 0, err
	}

	now := s.now()
	var f staging.Filter
	switch s.cfg.Mode {
	case Window:
		f.From = now.Add(-s.delay())
		f.To = now.Add(s.delay())
	default:
		f.Before = now.Add(-s.delay())
	}

	promoted := 0
	err := s.store.ForEachPage(ctx, f, func(rows []staging.StagedEvent) error {
		for _, rec := range rows {
			if s.decode != nil {
				if err := s.decode(rec.Payload); err != nil {
					// Leave the row so an operator can inspect it instead
					// of losing the event.
					s.log.Warn("staged payload does not deserialize; leaving row",
						logx.String("key", rec.Key), logx.String("row", rec.RowID), logx.Err(err))
					continue
				}
			}

			if err := s.q.Enqueue(queue.Envelope{Kind: s.kind, Body: rec.Payload}); err != nil {
				return err
			}
			promoted++

			// Enqueue happened; a failed delete must not resurrect the
			// promotion, so it is logged and left to the next scan's
			// dispatcher-side idempotency.
			if err := s.store.Delete(ctx, rec.Key, rec.RowID); err != nil {
				s.log.Error("failed deleting promoted row",
					logx.String("key", rec.Key), logx.String("row", rec.RowID), logx.Err(err))
			}
		}
		return nil
	})
	if err != nil {
		return promoted, err
	}

	if promoted > 0 {
		s.log.Info("promotion scan finished", logx.String("queue", string(s.kind)), logx.Int("promoted", promoted))
	} else {
		s.log.Debug("promotion scan finished (nothing due)", logx.String("queue", string(s.kind)))
	}
	return promoted, nil
}
