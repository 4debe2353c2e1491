package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"remindd/internal/chatapi"
	"remindd/internal/directory"
	"remindd/internal/event"
	"remindd/internal/mailer"
	"remindd/internal/queue"
	"remindd/pkg/logx"
)

const defaultUnreadMessage = "You have unread chat message. Please check your message our application."

// createdFormat matches the timestamp style the reminder template renders.
const createdFormat = "02-Jan-06 03:04pm"

type UnreadConfig struct {
	// TemplateID is the transactional template for the reminder e-mail.
	TemplateID string `json:"template_id"`
	// BaseURL is the public site; reminder links point at its chat page.
	BaseURL string `json:"base_url"`
	// LogoURL is the platform logo used for channel-manager recipients.
	LogoURL string `json:"logo_url"`
}

func (c UnreadConfig) Validate() error {
	if strings.TrimSpace(c.TemplateID) == "" {
		return errors.New("unread reminder template id is not set")
	}
	return nil
}

// Unread turns a promoted message_send event into reminder e-mails for
// every channel member except the sender.
type Unread struct {
	cfg      UnreadConfig
	lookup   directory.Lookup
	mail     mailer.Sender
	channels chatapi.Channels
	log      logx.Logger

	templates map[event.Role]templateFunc
}

type templateFunc func(cfg UnreadConfig, to directory.User, ev event.MessageSendEvent, h directory.Hospital) map[string]string

func NewUnread(cfg UnreadConfig, lookup directory.Lookup, mail mailer.Sender, channels chatapi.Channels, log logx.Logger) (*Unread, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if mail == nil {
		return nil, errors.New("unread reminder mail sender is not configured")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Unread{
		cfg:      cfg,
		lookup:   lookup,
		mail:     mail,
		channels: channels,
		log:      log,
		templates: map[event.Role]templateFunc{
			event.RoleChannelManager: channelManagerTemplate,
			event.RoleManager:        managerTemplate,
		},
	}, nil
}

func (u *Unread) Kind() queue.Kind { return queue.KindUnreadMessage }

func (u *Unread) Handle(ctx context.Context, body json.RawMessage) error {
	var ev event.MessageSendEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("decode message_send envelope: %w", err)
	}

	log := u.log.With(
		logx.String("channel", ev.Channel.ChannelURL),
		logx.Int64("message_id", ev.Payload.MessageID))
	log.Info("unread reminder dequeued")

	senderID := ev.Sender.UserID
	sent := 0
	for _, member := range ev.Members {
		if member.UserID == senderID {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if u.remind(ctx, log, ev, member) {
			sent++
		}
	}
	if sent == 0 {
		log.Info("no reminder recipients in channel")
		return nil
	}

	// Managers do not linger in the conversation once their message has
	// been relayed; patients keep their managers around.
	if ev.Sender.Role().IsManager() {
		u.removeManagers(ctx, log, ev)
	}
	return nil
}

// remind sends one reminder e-mail. Failures are logged here so one
// recipient cannot block the rest; the return value only feeds the
// post-send bookkeeping.
func (u *Unread) remind(ctx context.Context, log logx.Logger, ev event.MessageSendEvent, member event.Member) bool {
	role := templateRole(member, ev.Sender)
	tmpl, ok := u.templates[role]
	if !ok {
		log.Info("recipient role has no reminder template",
			logx.String("user", member.UserID),
			logx.String("role", role.String()))
		return false
	}

	user, err := u.lookup.GetUser(ctx, member.UserID)
	if err != nil {
		log.Warn("user lookup failed", logx.String("user", member.UserID), logx.Err(err))
		return false
	}
	if user == nil {
		log.Warn("reminder recipient not found", logx.String("user", member.UserID))
		return false
	}
	hospital, err := u.lookup.GetHospital(ctx, ev.Channel.CustomType)
	if err != nil {
		log.Warn("hospital lookup failed", logx.String("hospital", ev.Channel.CustomType), logx.Err(err))
		return false
	}
	if hospital == nil {
		log.Warn("channel has no hospital", logx.String("hospital", ev.Channel.CustomType))
		return false
	}

	msg := mailer.Message{
		ToAddress:  user.Email,
		ToName:     user.FullName(),
		TemplateID: u.cfg.TemplateID,
		Data:       tmpl(u.cfg, *user, ev, *hospital),
	}
	if err := u.mail.Send(ctx, msg); err != nil {
		log.Warn("reminder e-mail failed",
			logx.String("user", member.UserID),
			logx.Err(err))
		return false
	}
	log.Debug("reminder e-mail sent",
		logx.String("user", member.UserID),
		logx.String("role", role.String()))
	return true
}

func (u *Unread) removeManagers(ctx context.Context, log logx.Logger, ev event.MessageSendEvent) {
	if u.channels == nil {
		return
	}
	var ids []string
	for _, m := range ev.Members {
		if m.Role().IsManager() {
			ids = append(ids, m.UserID)
		}
	}
	if len(ids) == 0 {
		return
	}
	if err := u.channels.Leave(ctx, ev.Channel.ChannelURL, ids); err != nil {
		log.Warn("manager channel removal failed",
			logx.Int("managers", len(ids)),
			logx.Err(err))
		return
	}
	log.Info("managers left channel", logx.Int("managers", len(ids)))
}

// templateRole picks the role driving template selection. Members that
// carry no user_type metadata inherit the sender's role; that keeps
// patient recipients on the hospital-branded template when a manager
// wrote to them.
func templateRole(member event.Member, sender event.User) event.Role {
	if member.Metadata == nil || strings.TrimSpace(member.Metadata.UserType) == "" {
		return sender.Role()
	}
	return member.Role()
}

func reminderText(ev event.MessageSendEvent) string {
	if strings.TrimSpace(ev.Payload.Message) != "" {
		return ev.Payload.Message
	}
	return defaultUnreadMessage
}

func targetPage(cfg UnreadConfig) string {
	return strings.TrimRight(cfg.BaseURL, "/") + "/?chat=true"
}

func channelManagerTemplate(cfg UnreadConfig, to directory.User, ev event.MessageSendEvent, h directory.Hospital) map[string]string {
	return map[string]string{
		"Logo":         cfg.LogoURL,
		"WebsiteUrl":   cfg.BaseURL,
		"HospitalName": h.Name,
		"To":           to.FullName(),
		"From":         ev.Sender.Nickname,
		"Message":      reminderText(ev),
		"Created":      ev.Payload.CreatedAt.Time().Format(createdFormat),
		"TargetPage":   targetPage(cfg),
	}
}

func managerTemplate(cfg UnreadConfig, to directory.User, ev event.MessageSendEvent, h directory.Hospital) map[string]string {
	return map[string]string{
		"Logo":         h.Logo,
		"WebsiteUrl":   h.WebsiteURL,
		"HospitalName": h.Name,
		"To":           to.FullName(),
		"From":         ev.Sender.Nickname,
		"Message":      reminderText(ev),
		"Created":      ev.Payload.CreatedAt.Time().Format(createdFormat),
		"TargetPage":   targetPage(cfg),
	}
}
