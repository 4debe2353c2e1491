package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"remindd/internal/directory"
	"remindd/internal/event"
	"remindd/internal/push"
	"remindd/internal/queue"
	"remindd/pkg/logx"
)

const callingTitle = "Consultation start now"

// Calling turns a promoted consultation into push notifications for the
// patient and the responsible managers.
type Calling struct {
	lookup directory.Lookup
	ledger directory.Ledger
	pusher push.Pusher
	log    logx.Logger
	now    func() time.Time
}

func NewCalling(lookup directory.Lookup, ledger directory.Ledger, pusher push.Pusher, log logx.Logger) (*Calling, error) {
	if lookup == nil || ledger == nil {
		return nil, errors.New("calling reminder needs directory access")
	}
	if pusher == nil {
		return nil, errors.New("calling reminder push channel is not configured")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Calling{lookup: lookup, ledger: ledger, pusher: pusher, log: log, now: time.Now}, nil
}

func (c *Calling) Kind() queue.Kind { return queue.KindCalling }

func (c *Calling) Handle(ctx context.Context, body json.RawMessage) error {
	var staged event.Consultation
	if err := json.Unmarshal(body, &staged); err != nil {
		return fmt.Errorf("decode consultation envelope: %w", err)
	}

	log := c.log.With(logx.String("consultation", staged.ID))
	log.Info("calling reminder dequeued")

	// Time passed between staging and promotion; the consultation may
	// have been closed or refunded meanwhile.
	con, err := c.lookup.GetConsultation(ctx, staged.ID)
	if err != nil {
		return fmt.Errorf("re-validate consultation: %w", err)
	}
	switch {
	case con == nil:
		log.Info("reminder skipped: consultation missing")
		return nil
	case !con.IsOpen:
		log.Info("reminder skipped: consultation closed")
		return nil
	case con.Status != event.StatusPaid:
		log.Info("reminder skipped: consultation not paid",
			logx.Int("status", int(con.Status)))
		return nil
	}

	exists, err := c.ledger.Exists(ctx, event.CodeConsultationReady, con.ID)
	if err != nil {
		// Fail closed: a broken ledger must not cause duplicate sends.
		log.Warn("ledger check failed, treating reminder as already sent", logx.Err(err))
		return nil
	}
	if exists {
		log.Info("reminder skipped: already sent")
		return nil
	}

	hospitalScoped := con.HospitalWebsiteURL != ""
	managers, err := c.lookup.GetManagers(ctx, hospitalScoped, con.HospitalID)
	if err != nil {
		log.Warn("manager lookup failed", logx.Err(err))
	}

	patientMsg := fmt.Sprintf("Check your scheduled %s consultation from %s",
		con.ConsultationType, con.HospitalName)
	c.notify(ctx, log, directory.LedgerEntry{
		Code:       event.CodeConsultationReady,
		TargetID:   con.ID,
		ReceiverID: con.PatientID,
		Message:    patientMsg,
		CreatedAt:  c.now().UTC(),
	})

	for _, m := range managers {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.notify(ctx, log, directory.LedgerEntry{
			Code:       event.CodeConsultationReady,
			TargetID:   con.ID,
			ReceiverID: m.ID,
			Message:    "Consultation start now.",
			CreatedAt:  c.now().UTC(),
		})
	}
	return nil
}

// notify records the ledger entry first, then pushes to the receiver's
// devices. A receiver whose entry cannot be recorded gets no push; a
// failing push does not undo the entry. Either failure is isolated to
// this receiver.
func (c *Calling) notify(ctx context.Context, log logx.Logger, entry directory.LedgerEntry) {
	if err := c.ledger.Record(ctx, entry); err != nil {
		log.Warn("ledger record failed",
			logx.String("receiver", entry.ReceiverID),
			logx.Err(err))
		return
	}
	devices, err := c.lookup.GetDevices(ctx, entry.ReceiverID)
	if err != nil {
		log.Warn("device lookup failed",
			logx.String("receiver", entry.ReceiverID),
			logx.Err(err))
		return
	}
	if len(devices) == 0 {
		log.Debug("receiver has no devices", logx.String("receiver", entry.ReceiverID))
		return
	}
	n := push.Notification{Title: callingTitle, Body: entry.Message}
	if err := c.pusher.Push(ctx, devices, n); err != nil {
		log.Warn("push delivery failed",
			logx.String("receiver", entry.ReceiverID),
			logx.Err(err))
		return
	}
	log.Debug("reminder pushed",
		logx.String("receiver", entry.ReceiverID),
		logx.Int("devices", len(devices)))
}
