package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	HTTP     HTTPConfig     `json:"http"`
	Logging  LoggingConfig  `json:"logging"`
	Staging  StagingConfig  `json:"staging"`
	Database DatabaseConfig `json:"database"`
	Unread   UnreadConfig   `json:"unread"`
	Calling  CallingConfig  `json:"calling"`
	Email    EmailConfig    `json:"email"`
	Chat     ChatConfig     `json:"chat"`
	Push     PushConfig     `json:"push"`
	Dispatch DispatchConfig `json:"dispatch"`

	// Debug widens the log level to debug regardless of logging.level.
	Debug bool `json:"debug,omitempty"`
}

type HTTPConfig struct {
	Address      string `json:"address"`
	SignatureKey string `json:"signature_key"`
	// BypassSignature disables webhook signature checks. Tests only.
	BypassSignature bool `json:"bypass_signature,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StagingConfig selects the staged-event store backend.
//
// Example:
//
//	"staging": { "driver": "sqlite", "path": "./remindd.db" }
type StagingConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path,omitempty"`
	DSN    string `json:"dsn,omitempty"`
	// BusyTimeout is a Go duration string (sqlite).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// DatabaseConfig points at the business database (users, hospitals,
// consultations, notifications).
type DatabaseConfig struct {
	Driver string `json:"driver,omitempty"`
	DSN    string `json:"dsn"`
}

// UnreadConfig tunes the unread-message reminder pipeline.
//
// DelayMinutes and Schedule fall back to defaults when unset; the
// template id does not.
type UnreadConfig struct {
	DelayMinutes int    `json:"delay_minutes,omitempty"`
	Schedule     string `json:"schedule,omitempty"`
	Table        string `json:"table,omitempty"`
	TemplateID   string `json:"template_id"`
	BaseURL      string `json:"base_url"`
	LogoURL      string `json:"logo_url"`
}

// CallingConfig tunes the consultation calling-reminder pipeline.
type CallingConfig struct {
	BasisMinutes int    `json:"basis_minutes,omitempty"`
	Schedule     string `json:"schedule,omitempty"`
	Table        string `json:"table,omitempty"`
}

type EmailConfig struct {
	APIKey      string `json:"api_key"`
	Endpoint    string `json:"endpoint,omitempty"`
	FromAddress string `json:"from_address"`
	FromName    string `json:"from_name,omitempty"`
	Sandbox     bool   `json:"sandbox,omitempty"`
}

type ChatConfig struct {
	BaseURL  string `json:"base_url"`
	APIToken string `json:"api_token"`
}

type PushConfig struct {
	Token    string `json:"token"`
	Disabled bool   `json:"disabled,omitempty"`
}

// DispatchConfig tunes the queue worker pool. Durations are Go duration
// strings (e.g. "10s").
type DispatchConfig struct {
	Workers       int     `json:"workers,omitempty"`
	SendTimeout   string  `json:"send_timeout,omitempty"`
	RatePerSecond float64 `json:"rate_per_second,omitempty"`
	Burst         int     `json:"burst,omitempty"`
}

// Validate rejects configs that cannot run. Tunables (delays, schedules,
// tables) are defaulted downstream; secrets and endpoints are not.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return errors.New("database.dsn is required")
	}
	if strings.TrimSpace(c.Staging.Driver) == "" {
		return errors.New("staging.driver is required")
	}
	if strings.TrimSpace(c.Unread.TemplateID) == "" {
		return errors.New("unread.template_id is required")
	}
	if strings.TrimSpace(c.Email.APIKey) == "" {
		return errors.New("email.api_key is required")
	}
	if strings.TrimSpace(c.Email.FromAddress) == "" {
		return errors.New("email.from_address is required")
	}
	if !c.HTTP.BypassSignature && strings.TrimSpace(c.HTTP.SignatureKey) == "" {
		return errors.New("http.signature_key is required unless http.bypass_signature is set")
	}
	if !c.Push.Disabled && strings.TrimSpace(c.Push.Token) == "" {
		return errors.New("push.token is required unless push.disabled is set")
	}
	if c.Unread.DelayMinutes < 0 {
		return fmt.Errorf("unread.delay_minutes must be >= 0, got %d", c.Unread.DelayMinutes)
	}
	if c.Calling.BasisMinutes < 0 {
		return fmt.Errorf("calling.basis_minutes must be >= 0, got %d", c.Calling.BasisMinutes)
	}
	return nil
}

// Duration parses a duration-valued field. Unset fields parse to zero
// so callers can apply their own defaults.
func Duration(path, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %w", path, err)
	case d < 0:
		return 0, fmt.Errorf("%s: %s is negative", path, d)
	}
	return d, nil
}

// DurationOrDefault substitutes def when the field is unset.
func DurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := Duration(path, raw)
	if err == nil && d <= 0 {
		d = def
	}
	return d, err
}
