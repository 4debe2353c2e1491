package event

import (
	"encoding/json"
	"strconv"
	"time"
)

// Chat webhook event categories (group channels only; everything else is
// rejected with 406 by the webhook surface).
const (
	CategoryMessageSend = "group_channel:message_send"
	CategoryMessageRead = "group_channel:message_read"
)

// Header is the minimal envelope decoded first to route a chat webhook
// payload to its concrete event type.
type Header struct {
	Category string `json:"category"`
}

// Millis decodes the chat platform's created_at field, which arrives as a
// javascript epoch-milliseconds number. String timestamps (RFC 3339) are
// accepted too; they show up in older replayed payloads.
type Millis time.Time

func (m Millis) Time() time.Time { return time.Time(m) }

func (m Millis) MarshalJSON() ([]byte, error) {
	t := time.Time(m)
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(t.UnixMilli(), 10)), nil
}

func (m *Millis) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*m = Millis(time.Time{})
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*m = Millis(time.Time{})
			return nil
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return err
		}
		*m = Millis(t.UTC())
		return nil
	}
	// Javascript dates are doubles; fractional milliseconds show up and
	// are truncated.
	var ms float64
	if err := json.Unmarshal(b, &ms); err != nil {
		return err
	}
	*m = Millis(time.UnixMilli(int64(ms)).UTC())
	return nil
}

// Metadata carries the loosely-typed per-user attributes the chat platform
// attaches to members. Only user_type matters here.
type Metadata struct {
	UserType string `json:"user_type,omitempty"`
}

type User struct {
	UserID     string    `json:"user_id"`
	Nickname   string    `json:"nickname"`
	ProfileURL string    `json:"profile_url,omitempty"`
	Metadata   *Metadata `json:"metadata,omitempty"`
}

// Role reports the recipient role derived from the user_type metadata.
func (u User) Role() Role {
	if u.Metadata == nil {
		return RolePatient
	}
	return ParseRole(u.Metadata.UserType)
}

type Member struct {
	User
	IsActive           bool   `json:"is_active"`
	IsOnline           bool   `json:"is_online"`
	State              string `json:"state,omitempty"`
	UnreadMessageCount int    `json:"unread_message_count"`
	PushEnabled        bool   `json:"push_enabled"`
}

type Channel struct {
	Name       string `json:"name"`
	ChannelURL string `json:"channel_url"`
	// CustomType carries the hospital id the channel belongs to.
	CustomType string `json:"custom_type,omitempty"`
	IsDistinct bool   `json:"is_distinct"`
	Data       string `json:"data,omitempty"`
}

type MessagePayload struct {
	MessageID  int64  `json:"message_id"`
	CustomType string `json:"custom_type,omitempty"`
	Message    string `json:"message"`
	CreatedAt  Millis `json:"created_at"`
	Data       string `json:"data,omitempty"`
}

// MessageSendEvent is the group_channel:message_send webhook payload.
type MessageSendEvent struct {
	Category string         `json:"category"`
	Sender   User           `json:"sender"`
	Silent   bool           `json:"silent"`
	Type     string         `json:"type,omitempty"`
	Members  []Member       `json:"members"`
	Payload  MessagePayload `json:"payload"`
	Channel  Channel        `json:"channel"`
	AppID    string         `json:"app_id,omitempty"`
}

type ReadUpdate struct {
	UserID             string `json:"user_id"`
	ChannelUnreadCount int    `json:"channel_unread_message_count"`
}

// MessageReadEvent is the group_channel:message_read webhook payload.
type MessageReadEvent struct {
	Category    string       `json:"category"`
	Members     []Member     `json:"members"`
	Channel     Channel      `json:"channel"`
	ReadUpdates []ReadUpdate `json:"read_updates"`
}

// ReadByOther reports whether anyone other than the message sender
// acknowledged the read. A read by the sender alone does not resolve the
// pending reminder.
func (e MessageReadEvent) ReadByOther(senderID string) bool {
	for _, u := range e.ReadUpdates {
		if u.UserID != senderID {
			return true
		}
	}
	return false
}
