// Package directory provides read-only business data lookups and the
// notification ledger used for dispatch idempotency.
package directory

import (
	"context"
	"strings"
	"time"

	"remindd/internal/event"
)

type User struct {
	ID        string
	FirstName string
	LastName  string
	Email     string
}

func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

type Hospital struct {
	ID         string
	Name       string
	Logo       string
	WebsiteURL string
}

// Device is one push delivery endpoint registered by a user.
type Device struct {
	UserID      string
	Platform    string
	PushAddress string
}

// LedgerEntry records that a notification was sent for a business event.
// Existence of a (Code, TargetID) pair means the reminder already went out
// and must not be repeated.
type LedgerEntry struct {
	ID         string
	Code       event.NotificationCode
	TargetID   string
	SenderID   string
	ReceiverID string
	Message    string
	CreatedAt  time.Time
}

// Lookup is the read side. Missing records return (nil, nil).
type Lookup interface {
	GetUser(ctx context.Context, id string) (*User, error)
	GetHospital(ctx context.Context, id string) (*Hospital, error)
	GetConsultation(ctx context.Context, id string) (*event.Consultation, error)
	// GetManagers returns hospital-affiliated managers when hospitalScoped
	// is true, otherwise the global channel managers.
	GetManagers(ctx context.Context, hospitalScoped bool, hospitalID string) ([]User, error)
	GetDevices(ctx context.Context, userID string) ([]Device, error)
}

// Ledger is the idempotency record store.
type Ledger interface {
	Exists(ctx context.Context, code event.NotificationCode, targetID string) (bool, error)
	Record(ctx context.Context, e LedgerEntry) error
}
