// Package mailer delivers templated transactional email through a
// SendGrid-compatible HTTP API.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"remindd/pkg/logx"
)

const defaultEndpoint = "https://api.sendgrid.com/v3/mail/send"

// Sender delivers one templated message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Message is a single dynamic-template email.
type Message struct {
	ToAddress  string
	ToName     string
	TemplateID string
	// Data is substituted into the template by the provider.
	Data map[string]string
}

type Config struct {
	APIKey      string `json:"api_key"`
	Endpoint    string `json:"endpoint"`
	FromAddress string `json:"from_address"`
	FromName    string `json:"from_name"`
	// Sandbox asks the provider to validate without delivering.
	Sandbox bool `json:"sandbox"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return errors.New("email: api_key is required")
	}
	if strings.TrimSpace(c.FromAddress) == "" {
		return errors.New("email: from_address is required")
	}
	return nil
}

type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 8 * time.Second},
		log:  log,
	}, nil
}

type address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type personalization struct {
	To   []address         `json:"to"`
	Data map[string]string `json:"dynamic_template_data,omitempty"`
}

type sendPayload struct {
	From             address           `json:"from"`
	Personalizations []personalization `json:"personalizations"`
	TemplateID       string            `json:"template_id"`
	MailSettings     *mailSettings     `json:"mail_settings,omitempty"`
}

type mailSettings struct {
	Sandbox sandboxMode `json:"sandbox_mode"`
}

type sandboxMode struct {
	Enable bool `json:"enable"`
}

func (c *Client) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.ToAddress) == "" {
		return errors.New("mailer: recipient address is empty")
	}
	if strings.TrimSpace(msg.TemplateID) == "" {
		return errors.New("mailer: template id is empty")
	}

	payload := sendPayload{
		From:             address{Email: c.cfg.FromAddress, Name: c.cfg.FromName},
		Personalizations: []personalization{{To: []address{{Email: msg.ToAddress, Name: msg.ToName}}, Data: msg.Data}},
		TemplateID:       msg.TemplateID,
	}
	if c.cfg.Sandbox {
		payload.MailSettings = &mailSettings{Sandbox: sandboxMode{Enable: true}}
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(c.cfg.APIKey))

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("mailer: send failed: http=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	c.log.Debug("email accepted",
		logx.String("to", msg.ToAddress),
		logx.String("template", msg.TemplateID))
	return nil
}
