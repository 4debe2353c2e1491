package recorder

import (
	"context"
	"encoding/json"
	"time"

	"remindd/internal/event"
	"remindd/internal/staging"
)

// ChatRecorder binds the staging primitive to the chat webhook signals.
type ChatRecorder struct {
	rec *Recorder
	obs *Observer
}

func NewChatRecorder(rec *Recorder, obs *Observer) *ChatRecorder {
	return &ChatRecorder{rec: rec, obs: obs}
}

// MessageSent stages an unread-message reminder for the channel. The raw
// webhook payload is stored verbatim so the dispatcher can re-hydrate the
// full event later.
func (c *ChatRecorder) MessageSent(ctx context.Context, ev event.MessageSendEvent, raw []byte) error {
	key := ev.Channel.ChannelURL
	return c.rec.Record(ctx, key, time.Now().UTC(), raw, func() (bool, error) {
		return messageWarrantsReminder(ev), nil
	})
}

// messageWarrantsReminder decides whether an unread message should ever
// produce a reminder. Messages from a patient addressed at a hospital
// manager are handled inside the hospital's own tooling and are skipped;
// everything a manager sends, and patient messages watched only by CH
// managers, stay eligible.
func messageWarrantsReminder(ev event.MessageSendEvent) bool {
	if ev.Sender.Role() != event.RolePatient {
		return true
	}
	for _, m := range ev.Members {
		if m.Role() == event.RoleManager {
			return false
		}
	}
	return true
}

// MessageRead cancels pending reminders for the channel, but only the
// staged rows whose original sender differs from the reader: a sender
// re-reading their own message does not resolve anything.
func (c *ChatRecorder) MessageRead(ctx context.Context, ev event.MessageReadEvent) (int, error) {
	key := ev.Channel.ChannelURL
	return c.obs.CancelMatching(ctx, key, func(rec staging.StagedEvent) (bool, error) {
		var staged event.MessageSendEvent
		if err := json.Unmarshal(rec.Payload, &staged); err != nil {
			return false, err
		}
		return ev.ReadByOther(staged.Sender.UserID), nil
	})
}

// ConsultationRecorder binds the staging primitive to consultation-updated
// webhooks. An update is both the cancellation of whatever was staged and,
// while the consultation is still open, a fresh staging keyed on the
// confirmed start time.
type ConsultationRecorder struct {
	rec *Recorder
}

func NewConsultationRecorder(rec *Recorder) *ConsultationRecorder {
	return &ConsultationRecorder{rec: rec}
}

func (c *ConsultationRecorder) Updated(ctx context.Context, con event.Consultation, raw []byte) error {
	return c.rec.Record(ctx, con.ID, con.ConfirmedDateStart, raw, func() (bool, error) {
		return con.IsOpen, nil
	})
}
